package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	osignal "os/signal"
	"syscall"

	"github.com/hightrade/hightrade/config"
	"github.com/hightrade/hightrade/internal/alert"
	"github.com/hightrade/hightrade/internal/domain"
	"github.com/hightrade/hightrade/internal/exitstrategy"
	"github.com/hightrade/hightrade/internal/ipc"
	"github.com/hightrade/hightrade/internal/ledger"
	"github.com/hightrade/hightrade/internal/market"
	"github.com/hightrade/hightrade/internal/news"
	"github.com/hightrade/hightrade/internal/news/sources"
	"github.com/hightrade/hightrade/internal/orchestrator"
	"github.com/hightrade/hightrade/internal/ports"
	"github.com/hightrade/hightrade/internal/ratelimit"
	"github.com/hightrade/hightrade/internal/signal"
	"github.com/hightrade/hightrade/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("hightrade starting",
		"config", *configPath,
		"interval", cfg.CycleInterval(),
		"broker_mode", cfg.Orchestrator.BrokerMode,
		"symbols", cfg.Orchestrator.Symbols,
	)

	ctx, cancel := osignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := store.Open(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.ApplySchema(ctx); err != nil {
		slog.Error("failed to apply schema", "err", err)
		os.Exit(1)
	}

	queue, err := ipc.Open(cfg.Orchestrator.IPCDir)
	if err != nil {
		slog.Error("failed to open command queue", "err", err, "dir", cfg.Orchestrator.IPCDir)
		os.Exit(1)
	}
	defer queue.Close()

	limiter := ratelimit.New(rateLimitConfigs(cfg))

	newsSources := buildNewsSources(cfg)
	aggregator := news.New(news.Config{
		Dedup:   news.DefaultDedupConfig,
		Lexicon: news.Lexicon{},
		Sources: newsSourceConfigs(cfg),
	}, newsSources, limiter, db)

	upstream := marketUpstream(cfg)
	marketClient := market.New(upstream, limiter)

	brokerMode := domain.BrokerMode(cfg.Orchestrator.BrokerMode)
	ldg := ledger.New(db, brokerMode)

	console := alert.NewConsole()
	router := alert.New(alert.Fanout{console, ipc.ResponseTransport{Queue: queue}}, console)

	weights := signal.Weights{
		News:     cfg.Defcon.Weights.News,
		VIX:      cfg.Defcon.Weights.VIX,
		Yield:    cfg.Defcon.Weights.Yield,
		Drawdown: cfg.Defcon.Weights.Drawdown,
		Breaking: cfg.Defcon.Weights.Breaking,
	}
	thresholds := exitstrategy.Thresholds{
		ProfitTarget:   cfg.Exit.ProfitTarget,
		StopLoss:       cfg.Exit.StopLoss,
		TrailingStop:   cfg.Exit.TrailingStop,
		MaxHoldHours:   cfg.Exit.MaxHoldHours,
		MinHoldMinutes: cfg.Exit.MinHoldMinutes,
	}

	orch := orchestrator.New(aggregator, marketClient, ldg, db, ports.AlertRouter(router), queue, orchestrator.Config{
		Symbols:            cfg.Orchestrator.Symbols,
		DefaultIntervalSec: cfg.Orchestrator.CycleIntervalSec,
		DefaultBrokerMode:  brokerMode,
		Weights:            weights,
		ExitThresholds:     thresholds,
	})

	if err := orch.Run(ctx); err != nil {
		slog.Error("orchestrator exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("hightrade stopped cleanly")
}

func buildNewsSources(cfg *config.Config) []ports.NewsSource {
	var out []ports.NewsSource
	for name, spec := range cfg.Sources {
		if !spec.Enabled {
			continue
		}
		switch name {
		case "alpha_vantage_news":
			out = append(out, sources.NewAlphaVantageSource(spec.Endpoint, spec.APIKey))
		default:
			out = append(out, sources.NewRSSSource(name, spec.Endpoint))
		}
	}
	return out
}

func newsSourceConfigs(cfg *config.Config) map[string]news.SourceConfig {
	out := make(map[string]news.SourceConfig, len(cfg.Sources))
	for name, spec := range cfg.Sources {
		out[name] = news.SourceConfig{Enabled: spec.Enabled, RateLimiterKey: name}
	}
	return out
}

func rateLimitConfigs(cfg *config.Config) map[string]ratelimit.SourceConfig {
	out := make(map[string]ratelimit.SourceConfig, len(cfg.RateLimits))
	for name, rl := range cfg.RateLimits {
		out[name] = ratelimit.SourceConfig{RPM: rl.RPM, MinIntervalMS: rl.MinMS}
	}
	return out
}

func marketUpstream(cfg *config.Config) market.UpstreamQuoteClient {
	spec, ok := cfg.Sources["market_data"]
	if !ok || !spec.Enabled {
		slog.Warn("no market_data source configured; quotes will rely entirely on synthetic fallback")
		return market.NewHTTPQuoteClient("", "")
	}
	return market.NewHTTPQuoteClient(spec.Endpoint, spec.APIKey)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
