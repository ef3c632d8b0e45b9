package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"dictation-relay-service/internal/app"
	"dictation-relay-service/internal/asr"
	"dictation-relay-service/internal/asr/mock"
	"dictation-relay-service/internal/asr/openairt"
	"dictation-relay-service/internal/config"
	"dictation-relay-service/internal/events"
	"dictation-relay-service/internal/finalize"
	"dictation-relay-service/internal/httpapi"
	"dictation-relay-service/internal/observability"
	"dictation-relay-service/internal/session"
)

func main() {
	cfg := config.Load()

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		application.Logger.Fatal().Err(err).Msg("Application startup failed")
	}
	logger := application.Logger

	store := session.NewStore(cfg.Sessions.MaxAge, cfg.Sessions.SweepInterval, logger)
	store.Start()

	publisher := events.New(&events.Config{
		Enabled:        cfg.Kafka.Enabled,
		Brokers:        cfg.Kafka.Brokers,
		TopicFinal:     cfg.Kafka.TopicFinal,
		TopicFinalized: cfg.Kafka.TopicFinalized,
		Principal:      cfg.Kafka.Principal,
	})

	var dialer asr.Dialer
	switch cfg.ASR.Provider {
	case "mock":
		logger.Warn().Msg("Using mock transcription provider")
		dialer = mock.NewDialer()
	default:
		dialer = openairt.NewDialer(openairt.Config{
			URL:                cfg.ASR.RealtimeURL,
			APIKey:             cfg.ASR.APIKey,
			TranscriptionModel: cfg.ASR.TranscriptionModel,
			VADThreshold:       cfg.ASR.VADThreshold,
			PrefixPaddingMs:    cfg.ASR.PrefixPaddingMs,
			SilenceDurationMs:  cfg.ASR.SilenceDurationMs,
		}, logger)
	}

	finalizer := finalize.New(
		openai.NewClient(cfg.ASR.APIKey),
		cfg.Finalize.Model,
		store,
		publisher,
		logger,
	)

	router := httpapi.NewRouter(httpapi.Deps{
		ServiceName: cfg.Service.Name,
		Store:       store,
		Finalizer:   finalizer,
		Dialer:      dialer,
		Publisher:   publisher,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:        ":" + cfg.Service.HTTPPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
		// No WriteTimeout: WebSocket connections stay open indefinitely.
	}

	obs := observability.NewServer(":" + cfg.Observability.MetricsPort)
	obs.Start()

	go func() {
		logger.Info().
			Str("port", cfg.Service.HTTPPort).
			Str("provider", cfg.ASR.Provider).
			Msg("Dictation relay listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	store.Stop()
	if err := publisher.Close(); err != nil {
		logger.Error().Err(err).Msg("Publisher close failed")
	}
	if err := obs.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Observability server shutdown failed")
	}
	application.Shutdown()
}
