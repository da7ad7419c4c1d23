package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexiqai/live-transcriber/internal/config"
	"github.com/lexiqai/live-transcriber/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:   "transcriber",
	Short: "Live microphone transcription",
	Long:  `Captures microphone audio and streams it to a speech recognition service, aggregating the transcript as results arrive.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control API",
	Long:  `Serve session control, transcript, health and metrics endpoints. Sessions are started and stopped over HTTP.`,
	RunE:  runServe,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Transcribe from the microphone until interrupted",
	RunE:  runListen,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	RunE:  runDevices,
}

func init() {
	serveCmd.Flags().String("port", "", "HTTP port (overrides PORT)")
	serveCmd.Flags().String("grpc-health-port", "", "gRPC health port (overrides GRPC_HEALTH_PORT)")

	listenCmd.Flags().String("language", "", "Language code (overrides LANGUAGE_CODE)")
	listenCmd.Flags().String("device", "", "Input device name (overrides INPUT_DEVICE)")
	listenCmd.Flags().Bool("partials", true, "Print partial results while speaking")

	rootCmd.PersistentFlags().String("log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(devicesCmd)
}

// loadConfig reads the environment and applies command line overrides
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
