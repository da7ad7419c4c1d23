package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexiqai/live-transcriber/internal/observability"
	"github.com/lexiqai/live-transcriber/internal/session"
)

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if language, _ := cmd.Flags().GetString("language"); language != "" {
		cfg.LanguageCode = language
	}
	if device, _ := cmd.Flags().GetString("device"); device != "" {
		cfg.InputDevice = device
	}
	showPartials, _ := cmd.Flags().GetBool("partials")

	logger := observability.GetLogger()

	failed := make(chan error, 1)
	controller, err := newController(cfg, logger, session.WithStateListener(func(state session.State, err error) {
		if state == session.StateFailed {
			select {
			case failed <- err:
			default:
			}
		}
	}))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := controller.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	fmt.Fprintln(os.Stderr, "Listening. Press Ctrl+C to stop.")

	printer := newTranscriptPrinter(os.Stdout, showPartials)
	var sessionErr error

loop:
	for {
		changed := controller.Changed()
		printer.update(controller.Transcript())

		select {
		case <-changed:
		case <-ctx.Done():
			break loop
		case sessionErr = <-failed:
			break loop
		}
	}

	if err := controller.Stop(); err != nil {
		logger.Warn().Err(err).Msg("Session stopped with error")
	}
	printer.update(controller.Transcript())
	printer.finish()

	final := controller.Transcript()
	fmt.Fprintln(os.Stdout)
	fmt.Fprintln(os.Stdout, "Transcript:")
	fmt.Fprintln(os.Stdout, final.Finalized)

	if sessionErr != nil {
		return fmt.Errorf("session failed (%s): %w", session.ErrorKind(sessionErr), sessionErr)
	}
	return nil
}
