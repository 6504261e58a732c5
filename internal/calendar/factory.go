package calendar

import (
	"context"
	"fmt"
	"strings"
)

// Config controls adapter construction.
type Config struct {
	Mode            string
	CredentialsFile string
	CalendarID      string
}

// NewAdapter picks Google Calendar when credentials are configured, otherwise
// the in-memory fake.
func NewAdapter(ctx context.Context, cfg Config) (Adapter, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.CredentialsFile) != "" && strings.TrimSpace(cfg.CalendarID) != "" {
			return NewGoogleAdapter(ctx, cfg.CredentialsFile, cfg.CalendarID)
		}
		return NewFakeAdapter(), nil
	case "google":
		if strings.TrimSpace(cfg.CredentialsFile) == "" || strings.TrimSpace(cfg.CalendarID) == "" {
			return nil, fmt.Errorf("CALENDAR_MODE=google requires GOOGLE_SERVICE_ACCOUNT_KEY_PATH and GOOGLE_CALENDAR_ID")
		}
		return NewGoogleAdapter(ctx, cfg.CredentialsFile, cfg.CalendarID)
	case "fake":
		return NewFakeAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported calendar mode %q", cfg.Mode)
	}
}
