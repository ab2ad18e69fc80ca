package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/callscreen/internal/calendar"
	"github.com/tjfontaine/callscreen/internal/config"
	"github.com/tjfontaine/callscreen/internal/decision"
	"github.com/tjfontaine/callscreen/internal/dispatch"
	"github.com/tjfontaine/callscreen/internal/domain"
	"github.com/tjfontaine/callscreen/internal/interpret"
	"github.com/tjfontaine/callscreen/internal/oracle"
	"github.com/tjfontaine/callscreen/internal/server"
	"github.com/tjfontaine/callscreen/internal/session"
	"github.com/tjfontaine/callscreen/internal/speech/realtime"
	"github.com/tjfontaine/callscreen/internal/storage/sqlite"
	"github.com/tjfontaine/callscreen/internal/telemetry"
	"github.com/tjfontaine/callscreen/internal/telephony/twilio"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdown, err := telemetry.InitTracer("callscreen", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	store, err := sqlite.New(sqlite.Config{
		DSN:             cfg.Storage.DSN,
		MaxConns:        cfg.Storage.MaxConns,
		CheckoutTimeout: cfg.Storage.CheckoutTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	telephony, err := twilio.NewClient(twilio.Config{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		BaseURL:    cfg.Twilio.BaseURL,
	})
	if err != nil {
		log.Fatalf("Failed to create telephony client: %v", err)
	}

	var cal domain.CalendarClient
	if cfg.Calendar.BaseURL != "" {
		cal, err = calendar.New(calendar.Config{
			BaseURL: cfg.Calendar.BaseURL,
			APIKey:  cfg.Calendar.APIKey,
		})
		if err != nil {
			log.Fatalf("Failed to create calendar client: %v", err)
		}
	} else {
		logger.Warn("no calendar configured, availability will be unknown")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := session.NewRegistry(cfg.Screening.MaxSessions)
	registry.StartSweeper(ctx, cfg.Screening.SweepInterval, cfg.Screening.IdleTimeout, logger)

	engineCfg := decision.Config{
		SpamThreshold:        cfg.Decision.SpamThreshold,
		TransferThreshold:    cfg.Decision.TransferThreshold,
		ScheduleThreshold:    cfg.Decision.ScheduleThreshold,
		MaxScreeningDuration: cfg.Screening.MaxDuration,
	}
	sessionCfg := session.Config{
		SetupTimeout:         cfg.Screening.SetupTimeout,
		MaxScreeningDuration: cfg.Screening.MaxDuration,
		RelayQueueDepth:      cfg.Screening.RelayQueueDepth,
		RelayWriteTimeout:    cfg.Screening.RelayWriteTimeout,
	}
	dispatchCfg := dispatch.Config{
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		BaseBackoff: cfg.Dispatch.BaseBackoff,
	}
	speechCfg := realtime.Config{
		URL:         cfg.Speech.URL,
		APIKey:      cfg.Speech.APIKey,
		Voice:       cfg.Speech.Voice,
		Temperature: cfg.Speech.Temperature,
	}

	srv := server.New(server.Config{
		Port:         cfg.Server.Port,
		StreamURL:    cfg.Twilio.StreamURL,
		SetupTimeout: cfg.Screening.SetupTimeout,
	}, server.Deps{
		Registry: registry,
		Profiles: store,
		NewSession: func(callID, callerNumber string, profile domain.UserProfile) *session.Session {
			var avail *oracle.Oracle
			if cal != nil {
				avail = oracle.New(cal, profile.ID, cfg.Calendar.Window, cfg.Screening.AvailabilityTTL)
			}
			return session.New(callID, callerNumber, profile, sessionCfg, session.Deps{
				Engine:      decision.New(engineCfg),
				Oracle:      avail,
				Dispatcher:  dispatch.New(telephony, dispatchCfg, logger),
				Interpreter: interpret.New(),
				Telephony:   telephony,
				Audit:       store,
				Logger:      logger.With(slog.String("call_id", callID)),
			})
		},
		DialModel: func(ctx context.Context, instructions string) (session.ModelConn, error) {
			return realtime.Dial(ctx, speechCfg, instructions)
		},
		Logger: logger,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.String("error", err.Error()))
			cancel()
		}
	}()

	logger.Info("call screening service started", slog.Int("port", cfg.Server.Port))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Give live calls their closing actions before the audit store goes away.
	registry.Range(func(sess *session.Session) bool {
		sess.Close(domain.OutcomeIdleTimeout)
		return true
	})

	logger.Info("shutdown complete")
}
