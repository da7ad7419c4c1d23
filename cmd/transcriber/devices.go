package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lexiqai/live-transcriber/internal/audio"
)

func runDevices(cmd *cobra.Command, args []string) error {
	devices, err := audio.ListInputDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No input devices found.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Default", "Name", "Host API", "Channels", "Sample Rate"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, d := range devices {
		def := ""
		if d.Default {
			def = "*"
		}
		table.Append([]string{
			def,
			d.Name,
			d.HostAPI,
			fmt.Sprintf("%d", d.MaxInputChannels),
			fmt.Sprintf("%.0f Hz", d.DefaultSampleRate),
		})
	}

	table.Render()
	return nil
}
