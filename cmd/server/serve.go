package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chadiek/voice-bridge/internal/agent"
	"github.com/chadiek/voice-bridge/internal/audio"
	"github.com/chadiek/voice-bridge/internal/calls"
	"github.com/chadiek/voice-bridge/internal/httpserver"
	"github.com/chadiek/voice-bridge/internal/llm"
	"github.com/chadiek/voice-bridge/internal/logging"
	"github.com/chadiek/voice-bridge/internal/mediastream"
	"github.com/chadiek/voice-bridge/internal/metrics"
	"github.com/chadiek/voice-bridge/internal/transcript"
	"github.com/chadiek/voice-bridge/internal/tts"
	"github.com/chadiek/voice-bridge/internal/twilio"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and media stream server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	m := metrics.New()

	synth, err := tts.New(cfg.TTS)
	if err != nil {
		return fmt.Errorf("speech synthesis: %w", err)
	}
	transcoder, err := audio.NewTranscoder(cfg.Audio.Transcoder, cfg.Audio.FFmpegPath)
	if err != nil {
		return fmt.Errorf("transcoder: %w", err)
	}
	stt := cfg.STT
	registry := calls.NewRegistry(calls.Providers{
		Recognizer: func(ctx context.Context, l *logging.Logger) (agent.Recognizer, error) {
			rec, err := transcript.Dial(ctx, stt, l.Sub("stt"))
			if err != nil {
				return nil, err
			}
			return rec, nil
		},
		Generator:   llm.NewClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, llm.ParamsFromConfig(cfg.LLM)),
		Synthesizer: synth,
		Transcoder:  transcoder,
	}, agent.OptionsFromConfig(cfg.Session), mediastream.SenderOptions{
		ChunkSize: cfg.Audio.ChunkSize,
		Pace:      cfg.Audio.PaceOutbound,
	}, m, log)

	var caller twilio.Caller
	client, err := twilio.NewClient(cfg.Twilio, cfg.PublicHost, log.Sub("twilio"))
	switch {
	case err == nil:
		caller = client
	case errors.Is(err, twilio.ErrNotConfigured):
		log.Warn().Msg("Twilio credentials missing, /outbound disabled")
	default:
		return err
	}

	doc, err := twilio.LoadTwiML(cfg.Twilio.TemplatePath, cfg.PublicHostname())
	if err != nil {
		return err
	}

	srv := httpserver.New(httpserver.Deps{
		Config:  cfg,
		Streams: registry,
		Caller:  caller,
		TwiML:   doc,
		Metrics: m,
		Log:     log,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.HTTPAddress).
			Str("public_host", cfg.PublicHostname()).
			Str("stt", cfg.STT.Provider).
			Str("tts", cfg.TTS.Provider).
			Str("transcoder", cfg.Audio.Transcoder).
			Msg("server listening")
		serverErrors <- server.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = server.Close()
	}
	// Media streams are hijacked connections; Shutdown does not wait for them.
	registry.CloseAll()
	log.Info().Msg("server stopped")
	return nil
}
