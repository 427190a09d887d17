// Command orderdial runs the call orchestration engine: the REST surface for
// placing calls, the vendor webhook endpoints, and the duplex audio stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orderdial/orderdial/internal/dotenv"
	"github.com/orderdial/orderdial/internal/objstore"
	"github.com/orderdial/orderdial/internal/store"
	"github.com/orderdial/orderdial/pkg/collab"
	"github.com/orderdial/orderdial/pkg/core/call"
	"github.com/orderdial/orderdial/pkg/core/synth"
	"github.com/orderdial/orderdial/pkg/core/tasks"
	"github.com/orderdial/orderdial/pkg/gateway/config"
	"github.com/orderdial/orderdial/pkg/gateway/handlers"
	"github.com/orderdial/orderdial/pkg/gateway/lifecycle"
	"github.com/orderdial/orderdial/pkg/gateway/server"
	"github.com/orderdial/orderdial/pkg/gateway/stream/session"
	"github.com/orderdial/orderdial/pkg/gateway/stream/sessions"
	"github.com/orderdial/orderdial/pkg/telephony"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := dotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "orderdial: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "orderdial: %v\n", err)
		os.Exit(1)
	}

	if err := run(context.Background(), cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "orderdial: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := tasks.NewSupervisor(logger)

	// Terminal reports fan out to the order-management backend and, when
	// configured, the CDR store.
	sinks := multiSink{collab.NewHTTPReporter(cfg.ReportURL, cfg.CollaboratorTimeout, logger)}
	var cdrs *store.Store
	if cfg.PostgresDSN != "" {
		var err error
		cdrs, err = store.Open(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return fmt.Errorf("open cdr store: %w", err)
		}
		defer cdrs.Close()
		sinks = append(sinks, cdrs)
	}

	registry := call.NewRegistry(call.RegistryConfig{
		MaxSessions: cfg.MaxSessions,
		RemoveAfter: cfg.SessionRemoveAfter,
	}, sinks, sup, logger)

	transcriber, err := buildTranscriber(cfg, logger)
	if err != nil {
		return err
	}
	synthesizer, err := buildSynthesizer(cfg, logger)
	if err != nil {
		return err
	}
	cache := synth.NewCache(synthesizer, logger)

	var vad collab.VAD
	if cfg.VADURL != "" {
		vad = collab.NewHTTPVAD(cfg.VADURL, cfg.CollaboratorTimeout)
	} else {
		logger.Info("no vad server configured, using energy gate")
		vad = &collab.EnergyVAD{}
	}

	reasoner := buildReasoner(ctx, cfg, logger)

	var placer handlers.CallPlacer
	if cfg.TelephonyBaseURL != "" {
		client, err := telephony.New(telephony.Config{
			BaseURL:           cfg.TelephonyBaseURL,
			AccountSID:        cfg.TelephonyAccountSID,
			AuthToken:         cfg.TelephonyAuthToken,
			CallerID:          cfg.TelephonyCallerID,
			AppletURL:         cfg.GatherCallbackURL,
			StatusCallbackURL: cfg.StatusCallbackURL,
			TimeLimit:         cfg.CallTimeLimit,
			RingTimeout:       cfg.CallRingTimeout,
		}, &http.Client{Timeout: 30 * time.Second}, logger)
		if err != nil {
			return fmt.Errorf("telephony client: %w", err)
		}
		placer = client
	} else {
		logger.Warn("telephony not configured, call initiation runs dry")
	}

	var exporter session.UtteranceExporter
	if cfg.MinioEndpoint != "" {
		objStore, err := objstore.New(objstore.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, logger)
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		if err := objStore.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("object store bucket: %w", err)
		}
		exp := objstore.NewExporter(objStore, sup, logger)
		cache.ExportTo(exp)
		exporter = exp
	}

	tracker := sessions.NewTracker()
	lc := &lifecycle.Lifecycle{}

	srv := server.New(server.Dependencies{
		Config:      cfg,
		Registry:    registry,
		Cache:       cache,
		Transcriber: transcriber,
		Reasoner:    reasoner,
		VAD:         vad,
		Placer:      placer,
		Exporter:    exporter,
		Tracker:     tracker,
		Lifecycle:   lc,
		Logger:      logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}

	logger.Info("starting orderdial", "addr", cfg.Addr, "auth_mode", cfg.AuthMode,
		"max_sessions", cfg.MaxSessions)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	// Drain: stop accepting work, let live calls finish politely, then
	// report whatever is left.
	lc.SetDraining(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	if n := tracker.HangupAll("shutdown"); n > 0 {
		logger.Info("hanging up live streams", "count", n)
	}
	waitCtx, cancelWait := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancelWait()
	if !tracker.Wait(waitCtx) {
		logger.Warn("drain timed out, canceling remaining streams", "count", tracker.Count())
		tracker.CancelAll()
	}

	registry.Close(context.Background())

	supCtx, cancelSup := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancelSup()
	if err := sup.Shutdown(supCtx); err != nil {
		logger.Warn("background tasks did not finish", "error", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("orderdial stopped")
	return nil
}

func buildTranscriber(cfg config.Config, logger *slog.Logger) (collab.Transcriber, error) {
	var backends []collab.Attemptable[collab.Transcriber]
	if cfg.TranscriberURL != "" {
		backends = append(backends, collab.Attemptable[collab.Transcriber]{
			Name:    "asr-primary",
			Backend: collab.NewHTTPTranscriber(cfg.TranscriberURL, cfg.CollaboratorTimeout),
		})
	}
	if cfg.TranscriberSecondaryURL != "" {
		backends = append(backends, collab.Attemptable[collab.Transcriber]{
			Name:    "asr-secondary",
			Backend: collab.NewHTTPTranscriber(cfg.TranscriberSecondaryURL, cfg.CollaboratorTimeout),
		})
	}
	if len(backends) == 0 {
		return nil, errors.New("no transcriber configured, set ORDERDIAL_TRANSCRIBER_URL")
	}
	return &collab.FallbackTranscriber{Backends: backends, Timeout: cfg.CollaboratorTimeout, Logger: logger}, nil
}

func buildSynthesizer(cfg config.Config, logger *slog.Logger) (collab.Synthesizer, error) {
	var backends []collab.Attemptable[collab.Synthesizer]
	if cfg.SynthesizerURL != "" {
		backends = append(backends, collab.Attemptable[collab.Synthesizer]{
			Name:    "tts-primary",
			Backend: collab.NewHTTPSynthesizer(cfg.SynthesizerURL, cfg.CollaboratorTimeout),
		})
	}
	if cfg.SynthesizerSecondaryURL != "" {
		backends = append(backends, collab.Attemptable[collab.Synthesizer]{
			Name:    "tts-secondary",
			Backend: collab.NewHTTPSynthesizer(cfg.SynthesizerSecondaryURL, cfg.CollaboratorTimeout),
		})
	}
	if len(backends) == 0 {
		return nil, errors.New("no synthesizer configured, set ORDERDIAL_SYNTHESIZER_URL")
	}
	return &collab.FallbackSynthesizer{Backends: backends, Timeout: cfg.CollaboratorTimeout, Logger: logger}, nil
}

// buildReasoner assembles the optional intent-normalization chain: on-prem
// HTTP first, Gemini as the cloud fallback. Returns nil when neither is
// configured; the stream falls back to keyword matching.
func buildReasoner(ctx context.Context, cfg config.Config, logger *slog.Logger) collab.Reasoner {
	var backends []collab.Attemptable[collab.Reasoner]
	if cfg.ReasonerURL != "" {
		backends = append(backends, collab.Attemptable[collab.Reasoner]{
			Name:    "nlu-onprem",
			Backend: collab.NewHTTPReasoner(cfg.ReasonerURL, cfg.CollaboratorTimeout),
		})
	}
	if cfg.GeminiAPIKey != "" {
		gem, err := collab.NewGeminiReasoner(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("gemini reasoner unavailable", "error", err)
		} else {
			backends = append(backends, collab.Attemptable[collab.Reasoner]{
				Name:    "nlu-gemini",
				Backend: gem,
			})
		}
	}
	if len(backends) == 0 {
		return nil
	}
	return &collab.FallbackReasoner{Backends: backends, Timeout: cfg.CollaboratorTimeout, Logger: logger}
}

// multiSink fans one terminal report out to every configured sink.
type multiSink []call.ReportSink

func (m multiSink) Report(ctx context.Context, rep call.Report) error {
	var errs []error
	for _, s := range m {
		if err := s.Report(ctx, rep); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
