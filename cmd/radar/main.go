package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memecoin-radar-go/internal/config"
	"memecoin-radar-go/internal/discovery"
	"memecoin-radar-go/internal/health"
	"memecoin-radar-go/internal/logger"
	"memecoin-radar-go/internal/ratelimit"
	"memecoin-radar-go/internal/solana"
	"memecoin-radar-go/internal/state"
	"memecoin-radar-go/internal/store"
)

const version = "1.0.0"

func main() {
	var (
		configPath     = flag.String("config", "", "Path to configuration file")
		envPath        = flag.String("env", "", "Path to .env file")
		logLevel       = flag.String("log-level", "", "Override log level")
		backfill       = flag.Bool("backfill", false, "Run one backfill pass on startup")
		backfillWindow = flag.Int("backfill-window", 0, "Override backfill lookback in minutes")
		poll           = flag.Bool("poll", false, "Enable periodic backfill polling")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("memecoin-radar %s\n", version)
		return
	}

	cfg, err := config.LoadConfig(*configPath, *envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *backfillWindow > 0 {
		cfg.Discovery.BackfillLookbackMin = *backfillWindow
	}
	if *poll {
		cfg.Discovery.PollingEnabled = true
	}

	log, err := logger.NewLogger(logger.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		LogToFile:   cfg.Logging.LogToFile,
		LogFilePath: cfg.Logging.LogFilePath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.LogStartup(version, cfg.Network, cfg.RPCUrl)

	if err := run(cfg, log, *backfill); err != nil {
		log.WithError(err).Error("❌ Radar terminated with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger, runBackfill bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.LogShutdown(fmt.Sprintf("panic: %v", r))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ledger access is a hard requirement; startup aborts when the
	// bounded retry is exhausted
	rpc := solana.NewClient(solana.ClientConfig{
		Endpoint:   cfg.RPCUrl,
		APIKey:     cfg.RPCAPIKey,
		Commitment: cfg.Commitment,
	}, log.Logger)
	if err := rpc.ConnectWithRetry(ctx, cfg.Discovery.ConnectMaxAttempts, cfg.ConnectRetryDelay()); err != nil {
		return fmt.Errorf("ledger unreachable: %w", err)
	}

	ws := solana.NewWSClient(cfg.WSUrl, log.Logger)
	if err := connectWS(ctx, ws, cfg, log); err != nil {
		return fmt.Errorf("event stream unreachable: %w", err)
	}
	defer ws.Disconnect()

	// The shared cache is optional; a missing Redis degrades dedup to
	// per-process but never blocks startup
	var primary state.Store
	if redisStore, err := state.NewRedisStore(ctx, state.RedisConfig{
		Addr:     cfg.Storage.RedisAddr,
		Password: cfg.Storage.RedisPassword,
		DB:       cfg.Storage.RedisDB,
	}); err != nil {
		log.WithError(err).Warn("⚠️ Shared cache unavailable, starting degraded")
	} else {
		primary = redisStore
	}
	stateStore := state.NewFallbackStore(primary, log.Logger)
	defer stateStore.Close()

	tokens, err := store.NewMongoTokenStore(ctx, store.MongoConfig{
		URI:        cfg.Storage.MongoURI,
		Database:   cfg.Storage.MongoDatabase,
		Collection: cfg.Storage.MongoCollection,
	})
	if err != nil {
		return fmt.Errorf("token store unreachable: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tokens.Close(closeCtx)
	}()

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		MaxRequestsPerSecond: cfg.Discovery.MaxRequestsPerSecond,
		Cooldown:             cfg.ThrottleCooldown(),
	}, log.Logger)
	defer limiter.Close()

	processor := discovery.NewProcessor(rpc, limiter, stateStore, tokens, cfg, log)

	monitor := health.NewMonitor(cfg, log)
	monitor.AddProbe("ledger", func(ctx context.Context) error {
		return rpc.GetHealth(ctx)
	})
	monitor.AddProbe("state", stateStore.Ping)
	monitor.AddProbe("token_store", tokens.Ping)
	if cfg.Health.DownstreamURL != "" {
		monitor.AddProbe("downstream", health.DownstreamProbe(cfg.Health.DownstreamURL))
	}
	processor.SetMetricsHooks(monitor.RecordRequest, monitor.RecordError)
	monitor.Start(ctx)
	defer monitor.Stop()
	go watchHealth(ctx, monitor, ws, log)

	if cursor, err := stateStore.GetCursor(ctx); err == nil && cursor != "" {
		log.WithField("cursor", cursor).Info("📍 Resuming from persisted cursor")
	}

	tokenListener := discovery.NewTokenListener(ws, processor, stateStore, cfg, log)
	tokenListener.Start(ctx)
	defer tokenListener.Stop()

	liquidityListener := discovery.NewLiquidityListener(ws, processor, cfg, log)
	liquidityListener.Start(ctx)
	defer liquidityListener.Stop()

	metadataListener := discovery.NewMetadataListener(ws, processor, cfg, log)
	metadataListener.Start(ctx)
	defer metadataListener.Stop()

	backfiller := discovery.NewBackfiller(rpc, limiter, tokens, stateStore, tokenListener, cfg, log)
	if runBackfill {
		if err := backfiller.Run(ctx); err != nil {
			log.WithError(err).Warn("Backfill pass failed")
		}
	}
	if cfg.Discovery.PollingEnabled {
		go pollBackfill(ctx, backfiller, cfg, log)
	}

	log.Info("👀 Radar is watching for new tokens")

	<-ctx.Done()
	log.LogShutdown("signal received")

	// The deferred stops tear the pipeline down in reverse order; the
	// enrichment passes get a chance to finish first
	processor.WaitForEnrichment()
	return nil
}

// connectWS dials the event stream with the same bounded retry policy
// as the RPC client
func connectWS(ctx context.Context, ws *solana.WSClient, cfg *config.Config, log *logger.Logger) error {
	var lastErr error
	for attempt := 1; attempt <= cfg.Discovery.ConnectMaxAttempts; attempt++ {
		if lastErr = ws.Connect(); lastErr == nil {
			return nil
		}
		log.WithError(lastErr).WithField("attempt", attempt).Warn("WebSocket connection attempt failed")

		if attempt == cfg.Discovery.ConnectMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.ConnectRetryDelay()):
		}
	}
	return fmt.Errorf("after %d attempts: %w", cfg.Discovery.ConnectMaxAttempts, lastErr)
}

// watchHealth attaches stream diagnostics to unhealthy check cycles
func watchHealth(ctx context.Context, monitor *health.Monitor, ws *solana.WSClient, log *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case snapshot, ok := <-monitor.Events():
			if !ok {
				return
			}
			if !snapshot.Healthy {
				log.WithField("ws", ws.GetConnectionStats()).
					Warn("⚠️ Degraded cycle, stream diagnostics attached")
			}
		}
	}
}

// pollBackfill runs periodic backfill passes as a safety net under
// the live stream
func pollBackfill(ctx context.Context, backfiller *discovery.Backfiller, cfg *config.Config, log *logger.Logger) {
	ticker := time.NewTicker(cfg.PollingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := backfiller.Run(ctx); err != nil {
				log.WithError(err).Warn("Periodic backfill pass failed")
			}
		}
	}
}
