package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Recognizer providers
const (
	ProviderDeepgram  = "deepgram"
	ProviderWebSocket = "websocket"
)

// Config holds all configuration for the live transcriber
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:"9090"` // Empty disables the gRPC health server

	// Recognizer selection
	RecognizerProvider string `envconfig:"RECOGNIZER_PROVIDER" default:"deepgram"` // deepgram, websocket

	// Deepgram STT API configuration
	DeepgramAPIKey string `envconfig:"DEEPGRAM_API_KEY"`
	DeepgramModel  string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base

	// The SDK retries dials itself; set to also retry them per RETRY_* settings
	DeepgramRetryConnect bool `envconfig:"DEEPGRAM_RETRY_CONNECT" default:"false"`

	// Generic websocket recognizer
	RecognizerWSURL  string `envconfig:"RECOGNIZER_WS_URL"`
	RecognizerAPIKey string `envconfig:"RECOGNIZER_API_KEY"`

	// Stream parameters, fixed per session
	LanguageCode   string `envconfig:"LANGUAGE_CODE" default:"en-US"`
	InterimResults bool   `envconfig:"INTERIM_RESULTS" default:"true"`

	// Audio capture configuration
	SampleRate    int    `envconfig:"SAMPLE_RATE" default:"16000"`
	AudioChannels int    `envconfig:"AUDIO_CHANNELS" default:"1"`
	BlockSize     int    `envconfig:"BLOCK_SIZE" default:"2048"` // Samples per device callback (~128ms at 16kHz)
	InputDevice   string `envconfig:"INPUT_DEVICE" default:""`   // Empty selects the system default

	// Chunk channel between the device callback and the sender
	ChunkChannelCapacity int    `envconfig:"CHUNK_CHANNEL_CAPACITY" default:"0"`           // 0 = unbounded, never drops audio
	ChunkOverflowPolicy  string `envconfig:"CHUNK_OVERFLOW_POLICY" default:"drop-oldest"` // drop-oldest, drop-newest

	// Session lifecycle
	StartTimeout        int    `envconfig:"START_TIMEOUT" default:"10"` // Seconds allowed for device + connection
	StopTimeout         int    `envconfig:"STOP_TIMEOUT" default:"5"`   // Seconds allowed for a graceful drain
	TranscriptSeparator string `envconfig:"TRANSCRIPT_SEPARATOR" default:" "`

	// Voice activity detection
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"4"`       // Frames of silence to mark speech end

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum connect attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"250"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements envconfig cannot express
func (c *Config) Validate() error {
	switch c.RecognizerProvider {
	case ProviderDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required")
		}
	case ProviderWebSocket:
		if c.RecognizerWSURL == "" {
			return fmt.Errorf("RECOGNIZER_WS_URL is required")
		}
	default:
		return fmt.Errorf("unknown RECOGNIZER_PROVIDER %q", c.RecognizerProvider)
	}

	if c.SampleRate <= 0 {
		return fmt.Errorf("SAMPLE_RATE must be positive")
	}
	if c.AudioChannels <= 0 {
		return fmt.Errorf("AUDIO_CHANNELS must be positive")
	}
	if c.BlockSize <= 0 {
		return fmt.Errorf("BLOCK_SIZE must be positive")
	}
	if c.ChunkChannelCapacity < 0 {
		return fmt.Errorf("CHUNK_CHANNEL_CAPACITY must not be negative")
	}
	if c.ChunkOverflowPolicy != "drop-oldest" && c.ChunkOverflowPolicy != "drop-newest" {
		return fmt.Errorf("CHUNK_OVERFLOW_POLICY must be drop-oldest or drop-newest, got %q", c.ChunkOverflowPolicy)
	}
	if c.StartTimeout <= 0 {
		return fmt.Errorf("START_TIMEOUT must be positive")
	}
	return nil
}

// StartTimeoutDuration returns the start timeout as a duration
func (c *Config) StartTimeoutDuration() time.Duration {
	return time.Duration(c.StartTimeout) * time.Second
}

// StopTimeoutDuration returns the graceful stop timeout as a duration
func (c *Config) StopTimeoutDuration() time.Duration {
	return time.Duration(c.StopTimeout) * time.Second
}
