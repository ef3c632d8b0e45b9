// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Configuration holds all service configuration.
type Configuration struct {
	Service       ServiceConfig
	ASR           ASRConfig
	Finalize      FinalizeConfig
	Sessions      SessionConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds core service settings.
type ServiceConfig struct {
	Name     string
	HTTPPort string
}

// ASRConfig holds upstream realtime transcription settings.
type ASRConfig struct {
	Provider           string // "openai" or "mock"
	APIKey             string
	RealtimeURL        string
	TranscriptionModel string
	VADThreshold       float64
	PrefixPaddingMs    int
	SilenceDurationMs  int
}

// FinalizeConfig holds dictation cleanup settings.
type FinalizeConfig struct {
	Model string
}

// SessionConfig holds session store settings.
type SessionConfig struct {
	MaxAge        time.Duration
	SweepInterval time.Duration
}

// KafkaConfig holds transcript event publishing settings.
type KafkaConfig struct {
	Enabled        bool
	Brokers        []string
	TopicFinal     string
	TopicFinalized string
	Principal      string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	MetricsPort string
	Debug       bool
}

// Load reads configuration from the environment, applying defaults for
// anything unset or unparseable.
func Load() *Configuration {
	apiKey := os.Getenv("OPENAI_API_KEY")

	// Without a key the real provider cannot authenticate, so fall back
	// to the mock provider unless one was explicitly requested.
	defaultProvider := "openai"
	if apiKey == "" {
		defaultProvider = "mock"
	}

	return &Configuration{
		Service: ServiceConfig{
			Name:     envOrDefault("SERVICE_NAME", "3cko-end-dictation"),
			HTTPPort: envOrDefault("PORT", "9000"),
		},
		ASR: ASRConfig{
			Provider:           envOrDefault("ASR_PROVIDER", defaultProvider),
			APIKey:             apiKey,
			RealtimeURL:        envOrDefault("ASR_REALTIME_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"),
			TranscriptionModel: envOrDefault("ASR_TRANSCRIPTION_MODEL", "whisper-1"),
			VADThreshold:       envOrDefaultFloat("ASR_VAD_THRESHOLD", 0.5),
			PrefixPaddingMs:    envOrDefaultInt("ASR_PREFIX_PADDING_MS", 300),
			SilenceDurationMs:  envOrDefaultInt("ASR_SILENCE_DURATION_MS", 500),
		},
		Finalize: FinalizeConfig{
			Model: envOrDefault("CLEANUP_MODEL", "gpt-4o-mini"),
		},
		Sessions: SessionConfig{
			MaxAge:        envOrDefaultDuration("SESSION_MAX_AGE", 30*time.Minute),
			SweepInterval: envOrDefaultDuration("SESSION_SWEEP_INTERVAL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:        envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:        envOrDefaultList("KAFKA_BROKERS", nil),
			TopicFinal:     envOrDefault("KAFKA_TOPIC_FINAL", "dictation.transcript.final"),
			TopicFinalized: envOrDefault("KAFKA_TOPIC_FINALIZED", "dictation.session.finalized"),
			Principal:      envOrDefault("KAFKA_PRINCIPAL", envOrDefault("SERVICE_NAME", "3cko-end-dictation")),
		},
		Observability: ObservabilityConfig{
			LogLevel:    envOrDefault("LOG_LEVEL", "info"),
			MetricsPort: envOrDefault("METRICS_PORT", "9091"),
			Debug:       envOrDefaultBool("DEBUG", false),
		},
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envOrDefaultBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return def
	}
	return b
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
