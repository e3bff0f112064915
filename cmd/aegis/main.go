package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"aegis/internal/api"
	"aegis/internal/ca"
	"aegis/internal/classify"
	"aegis/internal/config"
	"aegis/internal/extract"
	"aegis/internal/profile"
	"aegis/internal/proxy"
	"aegis/internal/registry"
	"aegis/internal/rules"
	"aegis/internal/store"
	"aegis/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "configs/aegis.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var level slog.LevelVar
	level.Set(logLevel(cfg.Logging.Level))
	logger := slog.New(slog.NewJSONHandler(logWriter(cfg.Logging), &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("starting Aegis",
		"version", "0.1.0",
		"proxy_listen", cfg.Proxy.ListenAddr,
		"api_listen", cfg.API.ListenAddr,
		"data_dir", cfg.DataDir,
		"fail_mode", cfg.FailMode,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		slog.Error("failed to create data directory", "error", err, "path", cfg.DataDir)
		os.Exit(1)
	}

	authority, err := ca.Load(cfg.DataDir)
	if err != nil {
		slog.Error("failed to load certificate authority", "error", err)
		os.Exit(1)
	}

	db, err := store.Open(filepath.Join(cfg.DataDir, "aegis.db"))
	if err != nil {
		slog.Error("failed to open state store", "error", err)
		os.Exit(1)
	}
	db.SetSessionTTL(cfg.Session.TTL)

	// Redis is optional: it speeds up cross-process state-change wakeups
	// and shares the login rate limiter's counters across multiple Aegis
	// processes, but nothing in the core request path depends on it. A
	// configured-but-unreachable Redis degrades to local-only behavior
	// rather than failing startup.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		candidate := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := candidate.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			slog.Warn("redis configured but unreachable, continuing without it", "addr", cfg.Redis.Addr, "error", err)
			candidate.Close()
		} else {
			slog.Info("redis connected", "addr", cfg.Redis.Addr)
			redisClient = candidate
			db.SetNotifier(store.NewRedisNotifier(redisClient))
		}
	}

	settings, err := config.NewSettingsStore(cfg.DataDir, config.Settings{
		FailMode:    &cfg.FailMode,
		CaptureMode: &cfg.Proxy.CaptureMode,
		LogLevel:    &cfg.Logging.Level,
	})
	if err != nil {
		slog.Error("failed to open local settings overlay", "error", err)
		os.Exit(1)
	}
	merged := settings.GetMerged()
	if merged.FailMode != nil {
		cfg.FailMode = *merged.FailMode
	}
	if merged.CaptureMode != nil {
		cfg.Proxy.CaptureMode = *merged.CaptureMode
	}
	if merged.LogLevel != nil {
		cfg.Logging.Level = *merged.LogLevel
		level.Set(logLevel(cfg.Logging.Level))
	}

	siteEntries, err := db.Sites()
	if err != nil {
		slog.Error("failed to load site registry entries", "error", err)
		os.Exit(1)
	}
	reg, err := registry.New(append(registry.BundledDefaults(), siteEntries...))
	if err != nil {
		slog.Error("failed to build site registry", "error", err)
		os.Exit(1)
	}
	slog.Info("site registry loaded", "bundled", len(registry.BundledDefaults()), "custom", len(siteEntries))

	extractor := extract.NewRegistry()

	// Tier-2 ML classification has no wiring in this build: no pack
	// dependency ships an ONNX runtime, so classify.ModelPath is read but
	// unused and the pipeline runs Tier 1 (keyword) and Tier 3
	// (sentiment) only.
	if cfg.Classify.ModelPath != "" {
		slog.Warn("classify.model_path is set but ML classification is not wired in this build; ignoring", "path", cfg.Classify.ModelPath)
	}
	classifier := classify.New(classify.DefaultKeywordPatterns(), nil, classify.NewSentimentLexicon(nil))

	// No platform session-change watcher (WTS/NSWorkspace/logind) ships
	// in this core; the Profile Manager resolves the current profile once
	// here and Current() keeps returning it until the process restarts.
	profiles, err := profile.New(db, nil)
	if err != nil {
		slog.Error("failed to initialize profile manager", "error", err)
		os.Exit(1)
	}

	guardrail := rules.NewVolumeGuardrail(rules.DefaultGuardrailThresholds())

	var changeSubscriber *store.ChangeSubscriber
	if redisClient != nil {
		changeSubscriber = store.NewChangeSubscriber(redisClient)
	}
	stateCache, err := proxy.NewStateCache(db, cfg.PollInterval, changeSubscriber)
	if err != nil {
		slog.Error("failed to initialize state cache", "error", err)
		os.Exit(1)
	}

	var tracerProvider *telemetry.Provider
	if cfg.Telemetry.Enabled {
		tracerProvider, err = telemetry.NewProvider(cfg.Telemetry)
		if err != nil {
			slog.Warn("telemetry initialization failed, continuing without tracing", "error", err)
			tracerProvider = nil
		} else {
			slog.Info("telemetry enabled", "exporter", cfg.Telemetry.Exporter, "endpoint", cfg.Telemetry.Endpoint)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stateCache.Run(ctx)

	proxyCfg := proxy.Config{
		ListenAddr:          cfg.Proxy.ListenAddr,
		PayloadMaxBytes:     cfg.Proxy.PayloadMaxBytes,
		StreamBufSize:       cfg.Proxy.StreamBufSize,
		StreamOverlapSize:   cfg.Proxy.StreamOverlapSize,
		StreamCheckInterval: cfg.Proxy.StreamCheckInterval,
		BodyReadTimeout:     cfg.Proxy.BodyReadTimeout,
		CaptureMode:         cfg.Proxy.CaptureMode,
	}
	proxyHandler := proxy.New(proxyCfg, authority, reg, extractor, classifier, profiles, guardrail, stateCache, db, tracerProvider)

	loginLimiter := api.NewLoginRateLimiter(redisClient)
	apiCfg := api.Config{
		ListenAddr:      cfg.API.ListenAddr,
		ExtensionOrigin: cfg.API.ExtensionOrigin,
		RequestTimeout:  cfg.API.RequestTimeout,
		StatsWindow:     cfg.API.StatsWindow,
	}
	apiHandler, err := api.New(apiCfg, db, classifier, profiles, loginLimiter)
	if err != nil {
		slog.Error("failed to initialize decision API", "error", err)
		os.Exit(1)
	}

	apiServer := &http.Server{
		Addr:         cfg.API.ListenAddr,
		Handler:      apiHandler,
		ReadTimeout:  cfg.API.RequestTimeout,
		WriteTimeout: cfg.API.RequestTimeout + 5*time.Second,
	}

	errChan := make(chan error, 2)

	go func() {
		slog.Info("proxy starting", "addr", cfg.Proxy.ListenAddr)
		if err := proxyHandler.ListenAndServe(ctx); err != nil {
			errChan <- fmt.Errorf("proxy server error: %w", err)
		}
	}()

	go func() {
		slog.Info("decision API starting", "addr", cfg.API.ListenAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("decision API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		slog.Error("server error", "error", err)
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	}

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("decision API shutdown error", "error", err)
	}

	if err := db.Close(); err != nil {
		slog.Error("state store close error", "error", err)
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.Error("redis client close error", "error", err)
		}
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("telemetry shutdown error", "error", err)
		}
	}

	slog.Info("Aegis stopped")
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// logWriter routes logs to a rotated file when cfg.File is set, mirroring
// spec.md §6's log-rotation-size knob; otherwise it writes to stdout.
func logWriter(cfg config.LoggingConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.RotateMaxSizeMB,
		MaxBackups: cfg.RotateMaxBackups,
		MaxAge:     cfg.RotateMaxAgeDays,
	}
}
