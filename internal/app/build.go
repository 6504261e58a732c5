package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mbellini/concierge/internal/booking"
	"github.com/mbellini/concierge/internal/calendar"
	"github.com/mbellini/concierge/internal/config"
	"github.com/mbellini/concierge/internal/engine"
	"github.com/mbellini/concierge/internal/httpapi"
	"github.com/mbellini/concierge/internal/intent"
	"github.com/mbellini/concierge/internal/observability"
	"github.com/mbellini/concierge/internal/session"
	"github.com/mbellini/concierge/internal/voice"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions session.Store
	Engine   *engine.Engine
	Metrics  *observability.Metrics

	// StartJanitor begins expiring idle sessions; only the in-memory store
	// needs it, redis expires keys natively.
	StartJanitor func(ctx context.Context)

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	sessions, err := session.NewStore(ctx, cfg.RedisURL, cfg.SessionInactivityTimeout)
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}

	bookings, err := booking.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		_ = sessions.Close()
		return nil, fmt.Errorf("booking store init failed: %w", err)
	}

	extractor, err := intent.NewExtractor(intent.Config{
		Mode:     cfg.ExtractorMode,
		APIKey:   cfg.GroqAPIKey,
		BaseURL:  cfg.GroqBaseURL,
		Model:    cfg.GroqModel,
		MinScore: cfg.ExtractorMinScore,
	})
	if err != nil {
		_ = bookings.Close()
		_ = sessions.Close()
		return nil, fmt.Errorf("extractor init failed: %w", err)
	}

	cal, err := calendar.NewAdapter(ctx, calendar.Config{
		Mode:            cfg.CalendarMode,
		CredentialsFile: cfg.GoogleCredentialsFile,
		CalendarID:      cfg.GoogleCalendarID,
	})
	if err != nil {
		_ = bookings.Close()
		_ = sessions.Close()
		return nil, fmt.Errorf("calendar adapter init failed: %w", err)
	}

	voiceCfg := voice.Config{
		Provider:          cfg.VoiceProvider,
		ElevenLabsAPIKey:  cfg.ElevenLabsAPIKey,
		ElevenLabsBaseURL: cfg.ElevenLabsBaseURL,
		ElevenLabsVoiceID: cfg.ElevenLabsVoiceID,
		ElevenLabsModelID: cfg.ElevenLabsModelID,
		GroqAPIKey:        cfg.GroqAPIKey,
		GroqBaseURL:       cfg.GroqBaseURL,
		GroqSTTModel:      cfg.GroqSTTModel,
	}
	synthesizer, err := voice.NewSynthesizer(voiceCfg)
	if err != nil {
		_ = bookings.Close()
		_ = sessions.Close()
		return nil, fmt.Errorf("voice synthesizer init failed: %w", err)
	}
	transcriber, err := voice.NewTranscriber(voiceCfg)
	if err != nil {
		_ = bookings.Close()
		_ = sessions.Close()
		return nil, fmt.Errorf("voice transcriber init failed: %w", err)
	}

	eng := engine.New(sessions, extractor, cal, bookings,
		booking.NewCodeGenerator(cfg.BookingCodePrefix), metrics, engine.Options{
			MaxOfferedSlots:     cfg.MaxOfferedSlots,
			DefaultSlotDuration: cfg.DefaultSlotDuration,
			ExtractorTimeout:    cfg.ExtractorTimeout,
			CalendarTimeout:     cfg.CalendarTimeout,
			MaxExtractFailures:  cfg.ExtractorMaxFailures,
			CodeRetries:         cfg.BookingCodeRetries,
		})

	if strings.TrimSpace(cfg.GoogleSheetID) != "" && strings.TrimSpace(cfg.GoogleCredentialsFile) != "" {
		audit, aErr := booking.NewAuditLog(ctx, cfg.GoogleCredentialsFile, cfg.GoogleSheetID)
		if aErr != nil {
			log.Printf("sheets audit log disabled: %v", aErr)
		} else {
			eng.SetAuditor(audit)
		}
	}

	startJanitor := func(context.Context) {}
	if mem, ok := sessions.(*session.MemoryStore); ok {
		mem.SetExpireHook(func(*session.Session) {
			metrics.SessionEvents.WithLabelValues("expired").Inc()
			metrics.ActiveSessions.Set(float64(mem.ActiveCount()))
		})
		startJanitor = func(jctx context.Context) {
			mem.StartJanitor(jctx, cfg.SessionInactivityTimeout/4)
		}
	}

	api := httpapi.New(cfg, sessions, eng, bookings, synthesizer, transcriber, metrics)

	cleanup := func() error {
		var errs []string
		if err := bookings.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := sessions.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Sessions:     sessions,
		Engine:       eng,
		Metrics:      metrics,
		StartJanitor: startJanitor,
		Cleanup:      cleanup,
	}, nil
}
