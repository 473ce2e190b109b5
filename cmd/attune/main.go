// Command attune is the main entry point for the Attune sound classification
// and adaptive playback server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/attune/internal/classify"
	"github.com/MrWong99/attune/internal/cluster"
	"github.com/MrWong99/attune/internal/config"
	"github.com/MrWong99/attune/internal/health"
	"github.com/MrWong99/attune/internal/labeling"
	"github.com/MrWong99/attune/internal/observe"
	"github.com/MrWong99/attune/internal/resilience"
	"github.com/MrWong99/attune/internal/server"
	"github.com/MrWong99/attune/internal/session"
	"github.com/MrWong99/attune/pkg/audio"
	"github.com/MrWong99/attune/pkg/history"
	"github.com/MrWong99/attune/pkg/history/memstore"
	"github.com/MrWong99/attune/pkg/history/postgres"
	"github.com/MrWong99/attune/pkg/provider/acoustic"
	"github.com/MrWong99/attune/pkg/provider/acoustic/external"
	"github.com/MrWong99/attune/pkg/provider/stt"
	sttopenai "github.com/MrWong99/attune/pkg/provider/stt/openai"
	"github.com/MrWong99/attune/pkg/provider/stt/whisper"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "attune: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "attune: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("attune starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "attune",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sc, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sc); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	sttProvider, err := buildSTT(cfg, reg)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	backend, err := buildAcoustic(cfg, reg)
	if err != nil {
		slog.Error("failed to build acoustic backend", "err", err)
		return 1
	}
	defer backend.Close()

	// ── Detection history ─────────────────────────────────────────────────────
	store, err := buildHistory(ctx, cfg)
	if err != nil {
		slog.Error("failed to open detection history", "err", err)
		return 1
	}
	defer store.Close()

	// ── Hot-reloadable configuration ──────────────────────────────────────────
	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	watcher, err := config.NewWatcher(*configPath, func(next *config.Config, diff config.ConfigDiff) {
		current.Store(next)
		if diff.LogLevelChanged {
			logLevel.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level updated", "level", diff.NewLogLevel)
		}
		if diff.EngineChanged || diff.LabelingChanged {
			slog.Info("engine settings updated, applied to new detection sessions")
		}
	})
	if err != nil {
		slog.Warn("config hot-reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	srv, err := server.New(server.Config{
		NewSession: func() (*session.Session, error) {
			return newDetectionSession(current.Load(), sttProvider, backend, store, metrics)
		},
		History: store,
		Metrics: metrics,
	})
	if err != nil {
		slog.Error("failed to build server", "err", err)
		return 1
	}

	mux := http.NewServeMux()
	srv.Routes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(healthCheckers(cfg, store, backend, sttProvider)...).Register(mux)

	httpSrv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var serveErr error
		if tls := cfg.Server.TLS; tls != nil {
			serveErr = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			serveErr = httpSrv.ListenAndServe()
		}
		if !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	select {
	case err := <-errCh:
		slog.Error("server error", "err", err)
		return 1
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		return sttopenai.New(entry.APIKey, entry.Model, opts...)
	})

	// ── Acoustic event classifier ─────────────────────────────────────────────

	reg.RegisterAcoustic("external", func(entry config.ProviderEntry) (acoustic.Backend, error) {
		return external.New(entry.BaseURL)
	})
}

// buildSTT creates the configured STT provider wrapped in a circuit-breaking
// fallback group. Returns nil when no provider is configured.
func buildSTT(cfg *config.Config, reg *config.Registry) (stt.Provider, error) {
	name := cfg.Providers.STT.Name
	if name == "" {
		slog.Info("no stt provider configured, transcription disabled")
		return nil, nil
	}
	p, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", name)
	return resilience.NewSTTFallback(p, name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "stt/" + name},
	}), nil
}

// buildAcoustic creates the configured acoustic backend, or the Unavailable
// placeholder when none is configured.
func buildAcoustic(cfg *config.Config, reg *config.Registry) (acoustic.Backend, error) {
	name := cfg.Providers.Acoustic.Name
	if name == "" {
		slog.Info("no acoustic backend configured, using built-in estimators")
		return &acoustic.Unavailable{Reason: "not configured"}, nil
	}
	b, err := reg.CreateAcoustic(cfg.Providers.Acoustic)
	if err != nil {
		return nil, fmt.Errorf("create acoustic backend %q: %w", name, err)
	}
	slog.Info("provider created", "kind", "acoustic", "name", name)
	return resilience.NewAcousticFallback(b, name, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: "acoustic/" + name},
	}), nil
}

// buildHistory opens the Postgres-backed store when a DSN is configured,
// otherwise the in-memory store.
func buildHistory(ctx context.Context, cfg *config.Config) (history.Store, error) {
	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return nil, err
		}
		slog.Info("detection history backed by postgres")
		return store, nil
	}
	slog.Info("detection history backed by memory, events are lost on restart")
	return memstore.New(), nil
}

// newDetectionSession builds one per-connection detection session from the
// current configuration.
func newDetectionSession(cfg *config.Config, sttProvider stt.Provider, backend acoustic.Backend, store history.Store, metrics *observe.Metrics) (*session.Session, error) {
	eng := cfg.Engine

	clusterOpts := []cluster.Option{}
	if eng.Clustering.Strategy != "" {
		clusterOpts = append(clusterOpts, cluster.WithStrategy(eng.Clustering.Strategy))
	}
	if eng.Clustering.SimilarityThreshold > 0 {
		clusterOpts = append(clusterOpts, cluster.WithSimilarityThreshold(eng.Clustering.SimilarityThreshold))
	}
	if eng.Clustering.SampleCap > 0 {
		clusterOpts = append(clusterOpts, cluster.WithSampleCap(eng.Clustering.SampleCap))
	}

	classifierOpts := []classify.Option{
		classify.WithAcousticBackend(backend),
		classify.WithClusterOptions(clusterOpts...),
	}
	if eng.VoiceThreshold > 0 {
		classifierOpts = append(classifierOpts, classify.WithVoiceThreshold(eng.VoiceThreshold))
	}
	if eng.LabelFloor > 0 {
		classifierOpts = append(classifierOpts, classify.WithLabelFloor(eng.LabelFloor))
	}
	if eng.PatternCapacity > 0 {
		classifierOpts = append(classifierOpts, classify.WithPatternCapacity(eng.PatternCapacity))
	}

	variant := eng.InversionVariant
	if variant == "" {
		variant = audio.InvertSimple
	}

	resolverOpts := []labeling.Option{}
	if cfg.Labeling.PhoneticThreshold > 0 {
		resolverOpts = append(resolverOpts, labeling.WithPhoneticThreshold(cfg.Labeling.PhoneticThreshold))
	}
	if cfg.Labeling.FuzzyThreshold > 0 {
		resolverOpts = append(resolverOpts, labeling.WithFuzzyThreshold(cfg.Labeling.FuzzyThreshold))
	}

	return session.New(session.Config{
		Classifier:  classify.New(classifierOpts...),
		Transformer: audio.NewTransformer(variant),
		Resolver:    labeling.NewResolver(resolverOpts...),
		History:     store,
		STT:         sttProvider,
		Metrics:     metrics,
	})
}

// healthCheckers assembles the readiness checks for the configured backends.
func healthCheckers(cfg *config.Config, store history.Store, backend acoustic.Backend, sttProvider stt.Provider) []health.Checker {
	checkers := []health.Checker{
		{
			Name: "history",
			Check: func(ctx context.Context) error {
				_, err := store.Recent(ctx, history.QueryOpts{Limit: 1})
				return err
			},
		},
	}
	if cfg.Providers.Acoustic.Name != "" {
		checkers = append(checkers, health.Checker{
			Name: "acoustic",
			Check: func(context.Context) error {
				if !backend.Available() {
					return errors.New("acoustic backend unavailable")
				}
				return nil
			},
		})
	}
	if cfg.Providers.STT.Name != "" {
		checkers = append(checkers, health.Checker{
			Name: "stt",
			Check: func(context.Context) error {
				if sttProvider == nil {
					return errors.New("stt provider not built")
				}
				return nil
			},
		})
	}
	return checkers
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
