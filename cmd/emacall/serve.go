package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	orchestration "github.com/koscakluka/ema-call/core"
	"github.com/koscakluka/ema-call/core/latency"
	"github.com/koscakluka/ema-call/core/llms"
	"github.com/koscakluka/ema-call/core/requests"
	"github.com/koscakluka/ema-call/core/spans"
	"github.com/koscakluka/ema-call/core/synthesis"
	"github.com/koscakluka/ema-call/core/texttospeech"
	"github.com/koscakluka/ema-call/internal/bus"
	"github.com/koscakluka/ema-call/internal/config"
	"github.com/koscakluka/ema-call/internal/telemetry"
	"github.com/koscakluka/ema-call/internal/transport"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket call server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	log := telemetry.NewLogger(os.Stderr, cfg.Telemetry.LogLevel)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()

	for _, provider := range cfg.MissingCredentials() {
		log.Warn("provider has no API key configured", slog.String("provider", provider))
	}

	sessionOpts, closeProviders, err := newSessionOptions(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeProviders()

	server := transport.NewServer(
		func(sessionID string, correlator *requests.Correlator) *orchestration.Orchestrator {
			opts := append(slices.Clone(sessionOpts), orchestration.WithRequestCorrelator(correlator))
			return orchestration.NewOrchestrator(sessionID, opts...)
		},
		transport.WithMetricsHandler(tel.MetricsHandler),
		transport.WithTargetLatency(time.Duration(cfg.Session.TargetLatencyMS)*time.Millisecond),
		transport.WithServices(cfg.HTTP.Port, map[string]string{
			"llm": cfg.LLM.Provider,
			"tts": cfg.TTS.Provider,
			"stt": cfg.STT.Provider,
		}),
		transport.WithMaxUtteranceSize(cfg.HTTP.MaxUtteranceBytes),
		transport.WithLogger(log),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening",
			slog.String("addr", httpServer.Addr),
			slog.Int("target_latency_ms", cfg.Session.TargetLatencyMS),
			slog.String("llm", cfg.LLM.Provider),
			slog.String("tts", cfg.TTS.Provider),
			slog.String("stt", cfg.STT.Provider),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return errors.Join(
		server.Shutdown(shutdownCtx),
		httpServer.Shutdown(shutdownCtx),
	)
}

// newSessionOptions builds the providers shared by every session. The
// returned func releases them.
func newSessionOptions(ctx context.Context, cfg config.Config, log *slog.Logger) ([]orchestration.OrchestratorOption, func(), error) {
	llm, err := newLLM(ctx, cfg.LLM)
	if err != nil {
		return nil, nil, err
	}

	opts := []orchestration.OrchestratorOption{
		orchestration.WithStreamingLLM(llm),
		orchestration.WithLatencyTracker(latency.Default()),
		orchestration.WithPromptOptions(
			llms.WithMaxTokens(cfg.LLM.MaxTokens),
			llms.WithTemperature(cfg.LLM.Temperature),
		),
		orchestration.WithHistoryLimit(cfg.Session.HistoryLimit),
		orchestration.WithMinTranscriptLength(cfg.Session.MinTranscriptLength),
		orchestration.WithLLMTimeout(cfg.Session.LLMTimeout()),
		orchestration.WithFallbackMessage(cfg.Session.FallbackMessage),
		orchestration.WithIntensity(texttospeech.ParseIntensity(cfg.Session.Intensity)),
		orchestration.WithSpanPolicy(spans.Policy{
			MinTokens:         cfg.Spans.MinTokens,
			Terminators:       cfg.Spans.Terminators,
			FlushOnWhitespace: cfg.Spans.FlushOnWhitespace,
		}),
	}
	if cfg.Session.SystemPrompt != "" {
		opts = append(opts, orchestration.WithSystemPrompt(cfg.Session.SystemPrompt))
	}

	synthesizer, synthesisOpts, err := newSynthesizer(cfg.TTS)
	if err != nil {
		return nil, nil, err
	}
	if synthesizer != nil {
		queue := synthesis.Shared(cfg.TTS.Provider, synthesizer,
			synthesis.WithConcurrency(cfg.Synthesis.Concurrency),
			synthesis.WithMinInterval(cfg.Synthesis.MinInterval()),
			synthesis.WithMaxRetries(cfg.Synthesis.MaxRetries),
			synthesis.WithRetryBackoff(cfg.Synthesis.RetryBackoff()),
			synthesis.WithCallTimeout(cfg.Synthesis.CallTimeout()),
			synthesis.WithSynthesisOptions(synthesisOpts...),
		)
		opts = append(opts, orchestration.WithSynthesisQueue(queue))
	}

	transcriber, transcriptionOpts, err := newTranscriber(cfg.STT)
	if err != nil {
		return nil, nil, err
	}
	if transcriber != nil {
		opts = append(opts, orchestration.WithSpeechToText(transcriber, transcriptionOpts...))
	}

	var publisher *bus.TurnPublisher
	if cfg.Bus.Enabled {
		publisher, err = bus.Connect(cfg.Bus, log)
		if err != nil {
			log.Warn("continuing without turn publishing", slog.String("error", err.Error()))
		} else {
			opts = append(opts, orchestration.WithTurnCompletedHook(publisher.Hook))
		}
	}

	release := func() {
		synthesis.CloseShared()
		publisher.Close()
	}
	return opts, release, nil
}
