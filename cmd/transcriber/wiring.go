package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/live-transcriber/internal/audio"
	"github.com/lexiqai/live-transcriber/internal/config"
	"github.com/lexiqai/live-transcriber/internal/resilience"
	"github.com/lexiqai/live-transcriber/internal/session"
	"github.com/lexiqai/live-transcriber/internal/stt"
)

func newRecognizer(cfg *config.Config, logger zerolog.Logger) (stt.Recognizer, error) {
	switch cfg.RecognizerProvider {
	case config.ProviderDeepgram:
		rec := stt.NewDeepgramRecognizer(cfg.DeepgramAPIKey, cfg.DeepgramModel, logger)
		rec.SetConnectRetry(cfg.DeepgramRetryConnect)
		return rec, nil
	case config.ProviderWebSocket:
		return stt.NewWebSocketRecognizer(cfg.RecognizerWSURL, cfg.RecognizerAPIKey, logger), nil
	default:
		return nil, fmt.Errorf("unknown recognizer provider %q", cfg.RecognizerProvider)
	}
}

func controllerConfig(cfg *config.Config) (session.ControllerConfig, error) {
	policy, err := audio.ParseOverflowPolicy(cfg.ChunkOverflowPolicy)
	if err != nil {
		return session.ControllerConfig{}, err
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	return session.ControllerConfig{
		Capture: audio.CaptureConfig{
			SampleRate: cfg.SampleRate,
			Channels:   cfg.AudioChannels,
			BlockSize:  cfg.BlockSize,
			DeviceName: cfg.InputDevice,
		},
		Stream: stt.StreamConfig{
			Language:       cfg.LanguageCode,
			SampleRate:     cfg.SampleRate,
			Encoding:       stt.EncodingLinear16,
			Channels:       cfg.AudioChannels,
			InterimResults: cfg.InterimResults,
		},
		Channel: audio.ChannelConfig{
			Capacity: cfg.ChunkChannelCapacity,
			Policy:   policy,
		},
		StartTimeout: cfg.StartTimeoutDuration(),
		StopTimeout:  cfg.StopTimeoutDuration(),
		Separator:    cfg.TranscriptSeparator,
		VAD: &audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
		},
		Retry: retry,
	}, nil
}

// newController builds a controller on the default PortAudio device
func newController(cfg *config.Config, logger zerolog.Logger, opts ...session.ControllerOption) (*session.Controller, error) {
	recognizer, err := newRecognizer(cfg, logger)
	if err != nil {
		return nil, err
	}
	ccfg, err := controllerConfig(cfg)
	if err != nil {
		return nil, err
	}

	breaker := resilience.NewCircuitBreaker(
		recognizer.Name(),
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	opts = append([]session.ControllerOption{
		session.WithLogger(logger),
		session.WithCircuitBreaker(breaker),
	}, opts...)
	return session.NewController(ccfg, audio.NewPortAudioDevice(), recognizer, opts...), nil
}
