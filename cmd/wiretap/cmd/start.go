package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wiretap-mcp/wiretap/internal/adapter/inbound/admin"
	"github.com/wiretap-mcp/wiretap/internal/adapter/inbound/sse"
	"github.com/wiretap-mcp/wiretap/internal/adapter/inbound/stdio"
	"github.com/wiretap-mcp/wiretap/internal/adapter/outbound/celrules"
	"github.com/wiretap-mcp/wiretap/internal/adapter/outbound/capturestore"
	mcpclient "github.com/wiretap-mcp/wiretap/internal/adapter/outbound/mcp"
	"github.com/wiretap-mcp/wiretap/internal/adapter/outbound/memory"
	"github.com/wiretap-mcp/wiretap/internal/adapter/outbound/sqlite"
	"github.com/wiretap-mcp/wiretap/internal/adapter/outbound/state"
	"github.com/wiretap-mcp/wiretap/internal/config"
	"github.com/wiretap-mcp/wiretap/internal/domain/capture"
	"github.com/wiretap-mcp/wiretap/internal/domain/proxy"
	"github.com/wiretap-mcp/wiretap/internal/domain/ratelimit"
	"github.com/wiretap-mcp/wiretap/internal/observability"
	"github.com/wiretap-mcp/wiretap/internal/port/outbound"
	"github.com/wiretap-mcp/wiretap/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start [-- command [args...]]",
	Short: "Start the proxy",
	Long: `Start wiretap between an MCP client and the upstream server it proxies to.

The upstream server is reached one of two ways:

1. HTTP: configure transport.upstream.http in your config file.
2. Subprocess: configure transport.upstream.command, or pass the command
   after --.

The client-facing side is controlled by transport.kind: "stdio" talks to
the client over wiretap's own stdin/stdout; "sse" and "streamable_http"
listen for client connections on transport.listen_addr.

Examples:
  # Start with config file settings
  wiretap start

  # Proxy to a specific MCP server command over stdio
  wiretap start -- npx @modelcontextprotocol/server-filesystem /tmp

  # Start with a specific config file
  wiretap --config /path/to/config.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode (verbose logging, relaxed validation)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if devMode {
		cfg.DevMode = true
	}

	// An explicit "-- command [args]" always wins over the configured
	// upstream command, decoupled from Viper's own merge so a trailing
	// CLI command can't be shadowed by a stale config value.
	if len(args) > 0 {
		cfg.Transport.Upstream.Command = args[0]
		if len(args) > 1 {
			cfg.Transport.Upstream.Args = args[1:]
		} else {
			cfg.Transport.Upstream.Args = nil
		}
	}

	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	statePath := adminStatePath
	if statePath == "" {
		statePath = os.Getenv("WIRETAP_STATE_PATH")
	}
	if statePath == "" {
		statePath = cfg.Admin.StatePath
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop() // restore default signal handling: a second Ctrl+C is a hard kill
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, statePath, logger); err != nil {
		return err
	}

	logger.Info("wiretap stopped")
	return nil
}

// run wires every component together and blocks until the pipeline
// exits. It implements the boot sequence: BOOT-01 through BOOT-07.
func run(ctx context.Context, cfg *config.Config, statePath string, logger *slog.Logger) error {
	startTime := time.Now().UTC()
	sessionID := uuid.New()

	// ===== BOOT-01: operator state and capture stores =====
	stateStore := state.NewFileStateStore(statePath, logger)
	operatorService := service.NewOperatorService(stateStore, logger)
	if err := operatorService.Init(); err != nil {
		return fmt.Errorf("init operator state: %w", err)
	}

	captureStore, cleanupCapture, err := buildCaptureStore(ctx, cfg, sessionID, logger)
	if err != nil {
		return fmt.Errorf("build capture store: %w", err)
	}
	defer cleanupCapture()
	defer func() {
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := captureStore.End(endCtx); err != nil {
			logger.Warn("failed to stamp session end time", "error", err)
		}
	}()

	// ===== BOOT-02: intercept engine and CEL auto-rules =====
	rules, err := buildCELRules(cfg)
	if err != nil {
		return fmt.Errorf("build cel rules: %w", err)
	}
	engine := proxy.NewEngine(rules...)

	// ===== BOOT-03: rate limiting =====
	var limiter ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		cleanupInterval := parseDurationOrDefault(cfg.RateLimit.CleanupInterval, 5*time.Minute)
		maxTTL := parseDurationOrDefault(cfg.RateLimit.MaxTTL, time.Hour)
		limiter = memory.NewRateLimiterWithConfig(cleanupInterval, maxTTL)
	}
	replayRateConfig := ratelimit.RateLimitConfig{Rate: cfg.RateLimit.ReplayRate, Burst: cfg.RateLimit.ReplayRate, Period: time.Minute}
	adminRateConfig := ratelimit.RateLimitConfig{Rate: cfg.RateLimit.AdminAPIRate, Burst: cfg.RateLimit.AdminAPIRate, Period: time.Minute}

	// ===== BOOT-04: observability =====
	statsService := service.NewStatsService()
	observers := []proxy.Observer{service.StatsObserver{Stats: statsService}}

	var metricsServer *http.Server
	var tracerShutdown func(context.Context) error
	if cfg.Observability.MetricsEnabled {
		registry := prometheus.NewRegistry()
		metrics := observability.NewMetrics(registry)
		observability.RegisterHeldGauge(registry, func() int { return len(engine.Held()) })

		tracer := trace.Tracer(noop.NewTracerProvider().Tracer("wiretap"))
		if cfg.Observability.TracingEnabled {
			tp, err := observability.NewTracerProvider(ctx, "wiretap")
			if err != nil {
				return fmt.Errorf("build tracer provider: %w", err)
			}
			tracer = observability.Tracer("wiretap/pipeline")
			tracerShutdown = tp.Shutdown
		}
		observers = append(observers, observability.NewPipelineObserver(metrics, tracer))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{Addr: cfg.Observability.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer shutdownHTTPServer(metricsServer, logger, "metrics")
	}
	if tracerShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerShutdown(shutdownCtx); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	// ===== BOOT-05: transport adapters =====
	clientAdapter, clientCleanup, err := buildClientAdapter(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build client transport: %w", err)
	}
	defer clientCleanup()

	serverAdapter, err := buildServerAdapter(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build server transport: %w", err)
	}

	// ===== BOOT-06: pipeline, replay engine, admin surface =====
	pipeline := proxy.NewPipeline(clientAdapter, serverAdapter, engine, captureStore,
		proxy.CompositeObserver{Observers: observers}, proxy.Transport(cfg.Transport.Kind), logger)

	replayTimeout := parseDurationOrDefault("", 30*time.Second)
	replayEngine := proxy.NewReplayEngine(serverAdapter, pipeline, limiter, replayRateConfig, replayTimeout)
	pipeline.SetReplay(replayEngine)

	adminHandler := admin.NewAdminAPIHandler(
		admin.WithEngine(engine),
		admin.WithReplayEngine(replayEngine),
		admin.WithCaptureStore(captureStore),
		admin.WithOperatorService(operatorService),
		admin.WithStatsService(statsService),
		admin.WithRateLimiter(limiter, adminRateConfig),
		admin.WithSessionID(sessionID),
		admin.WithBuildInfo(&admin.BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}),
		admin.WithStartTime(startTime),
		admin.WithLogger(logger),
	)
	adminServer := &http.Server{Addr: cfg.Server.AdminAddr, Handler: adminHandler.Routes()}
	go func() {
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server failed", "error", err)
		}
	}()
	defer shutdownHTTPServer(adminServer, logger, "admin")

	// ===== BOOT-07: run the pipeline until shutdown =====
	printBanner(Version, cfg.Server.AdminAddr, cfg.Transport.Kind, cfg.DevMode, sessionID)

	proxyService := service.NewProxyService(pipeline, logger)
	if err := proxyService.Start(ctx); err != nil && !isShutdownErr(err) {
		return fmt.Errorf("proxy stopped: %w", err)
	}
	return nil
}

func isShutdownErr(err error) bool {
	return err == context.Canceled || err == context.DeadlineExceeded
}

func shutdownHTTPServer(srv *http.Server, logger *slog.Logger, name string) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", "server", name, "error", err)
	}
}

// buildCaptureStore selects the live capture.Store backing the pipeline.
// "sqlite" persists every envelope durably as it is appended; anything
// else keeps the default in-memory store, periodically flushed to a
// snapshot file when Backend is "file" so FlushInterval has a purpose
// even without a query-capable durable store.
func buildCaptureStore(ctx context.Context, cfg *config.Config, sessionID uuid.UUID, logger *slog.Logger) (capture.Store, func(), error) {
	meta := captureMeta(cfg)

	if cfg.Capture.Backend == "sqlite" {
		if err := os.MkdirAll(cfg.Capture.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create capture dir: %w", err)
		}
		store, err := sqlite.Open(filepath.Join(cfg.Capture.Dir, "wiretap.db"), sessionID, meta)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite capture store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}

	store := capture.NewInMemoryStore(sessionID, meta)
	if cfg.Capture.Backend != "file" {
		return store, func() {}, nil
	}

	if err := os.MkdirAll(cfg.Capture.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create capture dir: %w", err)
	}
	interval := parseDurationOrDefault(cfg.Capture.FlushInterval, 5*time.Second)
	snapshotPath := filepath.Join(cfg.Capture.Dir, sessionID.String()+".json")
	flushCtx, cancel := context.WithCancel(ctx)
	go runCaptureFlushLoop(flushCtx, store, snapshotPath, interval, logger)
	return store, cancel, nil
}

// captureMeta derives the session-level tags stamped into a capture
// store at creation time from the resolved transport configuration.
func captureMeta(cfg *config.Config) capture.SessionMeta {
	meta := capture.SessionMeta{Transport: cfg.Transport.Kind}
	up := cfg.Transport.Upstream
	if up.Command != "" {
		cmd := up.Command
		if len(up.Args) > 0 {
			cmd = cmd + " " + strings.Join(up.Args, " ")
		}
		meta.ServerCommand = cmd
	}
	if up.HTTP != "" {
		meta.ServerURL = up.HTTP
	}
	return meta
}

func runCaptureFlushLoop(ctx context.Context, store capture.Store, path string, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	flush := capturestore.NewFileCapture(path, logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := store.Snapshot(ctx)
			if err != nil {
				logger.Warn("capture snapshot failed", "error", err)
				continue
			}
			if err := flush.Save(snapshot); err != nil {
				logger.Warn("capture flush failed", "path", path, "error", err)
			}
		}
	}
}

func buildCELRules(cfg *config.Config) ([]proxy.Rule, error) {
	rules := make([]proxy.Rule, 0, len(cfg.CEL.Rules))
	for _, r := range cfg.CEL.Rules {
		rule, err := celrules.NewRule(r.Name, r.Expression, proxy.Action(r.Action))
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// buildClientAdapter constructs the adapter the pipeline reads the
// client's messages from. "stdio" speaks newline-delimited JSON-RPC
// over wiretap's own stdin/stdout; "sse" and "streamable_http" both
// listen on listen_addr and share the POST/SSE-GET adapter, since a
// fully spec-accurate single-endpoint streamable HTTP transport is not
// built by this proxy.
func buildClientAdapter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (outbound.TransportAdapter, func(), error) {
	switch cfg.Transport.Kind {
	case "stdio":
		adapter := stdio.NewClientAdapter(os.Stdin, os.Stdout)
		return adapter, func() { _ = adapter.Close() }, nil
	case "sse", "streamable_http":
		adapter := sse.NewAdapter(cfg.Transport.ListenAddr, logger)
		go func() {
			if err := adapter.Serve(ctx); err != nil && !isShutdownErr(err) {
				logger.Error("client listener failed", "error", err)
			}
		}()
		return adapter, func() { _ = adapter.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported transport.kind %q", cfg.Transport.Kind)
	}
}

// buildServerAdapter constructs the adapter the pipeline writes the
// client's messages to and reads the upstream server's messages from.
func buildServerAdapter(ctx context.Context, cfg *config.Config) (outbound.TransportAdapter, error) {
	up := cfg.Transport.Upstream
	if up.Command != "" {
		adapter := mcpclient.NewStdioServerAdapter(up.Command, up.Args...)
		if err := adapter.Start(ctx); err != nil {
			return nil, fmt.Errorf("start upstream command: %w", err)
		}
		return adapter, nil
	}
	if up.HTTP != "" {
		timeout := parseDurationOrDefault(up.HTTPTimeout, 30*time.Second)
		return mcpclient.NewHTTPServerAdapter(up.HTTP, mcpclient.WithTimeout(timeout)), nil
	}
	return nil, fmt.Errorf("transport.upstream requires either command or http")
}

func parseDurationOrDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr with version,
// addresses, mode, and the running session id. Printed to stderr so it
// never corrupts a stdio transport's stdout stream.
func printBanner(version, adminAddr, transportKind string, devMode bool, sessionID uuid.UUID) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	adminURL := fmt.Sprintf("http://localhost%s", adminAddr)
	if !strings.HasPrefix(adminAddr, ":") {
		adminURL = fmt.Sprintf("http://%s", adminAddr)
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%swiretap %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", "Admin API:", adminURL)
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", "Transport:", transportKind)
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-12s %s\n", "Session:", sessionID)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// pidFilePath returns the standard location for wiretap's PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".wiretap", "wiretap.pid")
	}
	return filepath.Join(os.TempDir(), "wiretap.pid")
}

// writePIDFile writes the current process PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}
