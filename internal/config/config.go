package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the advisor booking service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	SessionInactivityTimeout time.Duration
	RedisURL                 string

	ExtractorMode        string
	GroqAPIKey           string
	GroqBaseURL          string
	GroqModel            string
	GroqSTTModel         string
	ExtractorTimeout     time.Duration
	ExtractorMinScore    float64
	ExtractorMaxFailures int

	CalendarMode          string
	GoogleCredentialsFile string
	GoogleCalendarID      string
	GoogleSheetID         string
	CalendarTimeout       time.Duration
	MaxOfferedSlots       int
	DefaultSlotDuration   time.Duration

	DatabaseURL        string
	BookingCodeRetries int
	BookingCodePrefix  string

	VoiceProvider     string
	ElevenLabsAPIKey  string
	ElevenLabsBaseURL string
	ElevenLabsVoiceID string
	ElevenLabsModelID string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":3000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "concierge"),
		AllowAnyOrigin:   false,

		RedisURL: stringsTrimSpace("REDIS_URL"),

		ExtractorMode: envOrDefault("EXTRACTOR_MODE", "auto"),
		GroqAPIKey:    stringsTrimSpace("GROQ_API_KEY"),
		GroqBaseURL:   envOrDefault("GROQ_BASE_URL", "https://api.groq.com/openai"),
		GroqModel:     envOrDefault("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GroqSTTModel:  envOrDefault("GROQ_STT_MODEL", "whisper-large-v3"),

		CalendarMode:          envOrDefault("CALENDAR_MODE", "auto"),
		GoogleCredentialsFile: stringsTrimSpace("GOOGLE_SERVICE_ACCOUNT_KEY_PATH"),
		GoogleCalendarID:      stringsTrimSpace("GOOGLE_CALENDAR_ID"),
		GoogleSheetID:         stringsTrimSpace("GOOGLE_SHEET_ID"),

		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		BookingCodePrefix: envOrDefault("BOOKING_CODE_PREFIX", "BK"),

		VoiceProvider:     envOrDefault("VOICE_PROVIDER", "auto"),
		ElevenLabsAPIKey:  stringsTrimSpace("ELEVEN_LABS_API_KEY"),
		ElevenLabsBaseURL: envOrDefault("ELEVEN_LABS_BASE_URL", "https://api.elevenlabs.io"),
		// Default to the same premade voice as the original advisor demo.
		ElevenLabsVoiceID: envOrDefault("ELEVEN_LABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		ElevenLabsModelID: envOrDefault("ELEVEN_LABS_MODEL", "eleven_turbo_v2"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 10 * time.Minute,
		ExtractorTimeout:         8 * time.Second,
		ExtractorMinScore:        0.5,
		ExtractorMaxFailures:     3,
		CalendarTimeout:          10 * time.Second,
		MaxOfferedSlots:          3,
		DefaultSlotDuration:      30 * time.Minute,
		BookingCodeRetries:       5,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ExtractorTimeout, err = durationFromEnv("EXTRACTOR_TIMEOUT", cfg.ExtractorTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CalendarTimeout, err = durationFromEnv("CALENDAR_TIMEOUT", cfg.CalendarTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultSlotDuration, err = durationFromEnv("DEFAULT_SLOT_DURATION", cfg.DefaultSlotDuration)
	if err != nil {
		return Config{}, err
	}
	cfg.ExtractorMinScore, err = floatFromEnv("EXTRACTOR_MIN_SCORE", cfg.ExtractorMinScore)
	if err != nil {
		return Config{}, err
	}
	cfg.ExtractorMaxFailures, err = intFromEnv("EXTRACTOR_MAX_FAILURES", cfg.ExtractorMaxFailures)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxOfferedSlots, err = intFromEnv("MAX_OFFERED_SLOTS", cfg.MaxOfferedSlots)
	if err != nil {
		return Config{}, err
	}
	cfg.BookingCodeRetries, err = intFromEnv("BOOKING_CODE_RETRIES", cfg.BookingCodeRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ExtractorMinScore < 0 || cfg.ExtractorMinScore > 1 {
		return Config{}, fmt.Errorf("EXTRACTOR_MIN_SCORE must be in [0, 1]")
	}
	if cfg.ExtractorMaxFailures <= 0 {
		return Config{}, fmt.Errorf("EXTRACTOR_MAX_FAILURES must be positive")
	}
	if cfg.MaxOfferedSlots <= 0 {
		return Config{}, fmt.Errorf("MAX_OFFERED_SLOTS must be positive")
	}
	if cfg.DefaultSlotDuration < time.Minute {
		return Config{}, fmt.Errorf("DEFAULT_SLOT_DURATION must be at least 1m")
	}
	if cfg.BookingCodeRetries <= 0 {
		return Config{}, fmt.Errorf("BOOKING_CODE_RETRIES must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
