package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadiek/medibot/internal/archive"
	"github.com/chadiek/medibot/internal/config"
	"github.com/chadiek/medibot/internal/conversation"
	"github.com/chadiek/medibot/internal/doctors"
	"github.com/chadiek/medibot/internal/httpserver"
	"github.com/chadiek/medibot/internal/llm"
	"github.com/chadiek/medibot/internal/logging"
	"github.com/chadiek/medibot/internal/notify"
	"github.com/chadiek/medibot/internal/rtc"
	"github.com/chadiek/medibot/internal/tts"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	for _, w := range cfg.Warnings() {
		logger.Warn().Msg(w)
	}

	synth, err := tts.New(tts.Config{
		Provider:          cfg.TTSProvider,
		DeepgramKey:       cfg.DeepgramKey,
		DeepgramModel:     cfg.DeepgramModel,
		ElevenLabsKey:     cfg.ElevenLabsKey,
		ElevenLabsVoiceID: cfg.ElevenLabsVoiceID,
	}, logger.With().Str("component", "tts").Logger())
	if err != nil {
		logger.Fatal().Err(err).Msg("tts setup")
	}

	notifiers := []notify.Notifier{notify.NewLogNotifier(logger)}
	if cfg.TwilioEnabled() {
		sms, err := notify.NewSMSNotifier(notify.TwilioConfig{
			AccountSID:     cfg.TwilioAccountSID,
			AuthToken:      cfg.TwilioAuthToken,
			From:           cfg.TwilioFromNumber,
			To:             cfg.EmergencyNotifyNumber,
			StatusCallback: cfg.SMSStatusCallback(),
		})
		if err != nil {
			logger.Error().Err(err).Msg("twilio notifier disabled")
		} else {
			notifiers = append(notifiers, sms)
		}
	}

	var archiver conversation.Archiver
	if cfg.ArchiveEnabled() {
		store, err := archive.New(archive.Config{
			URL:            cfg.SupabaseURL,
			ServiceRoleKey: cfg.SupabaseServiceRoleKey,
			Bucket:         cfg.SupabaseBucket,
		}, logger.With().Str("component", "archive").Logger())
		if err != nil {
			logger.Error().Err(err).Msg("archive disabled")
		} else {
			archiver = store
		}
	}

	registry := conversation.NewRegistry(conversation.RegistryConfig{
		Boundary:    llm.NewCerebrasClient(cfg.CerebrasKey, cfg.CerebrasModelID),
		Notifier:    notify.NewMultiNotifier(logger, notifiers...),
		Synthesizer: synth,
		Archiver:    archiver,
		Timeout:     cfg.LLMTimeout,
		Logger:      logger,
	})

	dir, err := doctors.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("load doctor directory")
	}

	voice := rtc.NewHandler(rtc.Config{
		AssemblyAIKey:   cfg.AssemblyAIKey,
		ICEServersJSON:  cfg.ICEServersJSON,
		DefaultLanguage: cfg.DefaultLanguage,
	}, logger.With().Str("component", "voice").Logger())

	srv := httpserver.New(httpserver.Deps{
		Registry:        registry,
		Doctors:         dir,
		Voice:           voice,
		AuthPassword:    cfg.AuthPassword,
		TwilioAuthToken: cfg.TwilioAuthToken,
		PublicBaseURL:   cfg.PublicBaseURL,
		Logger:          logger,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress).Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
	registry.CloseAll(ctx)
	logger.Info().Msg("stopped")
}
