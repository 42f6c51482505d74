// Package agent wires configuration, delegates, sinks and metrics into a
// running SIP agent and drives its cycles.
package agent

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"sip-agent/config"
	"sip-agent/internal/api"
	"sip-agent/internal/delegate"
	"sip-agent/internal/execution"
	"sip-agent/internal/metrics"
	"sip-agent/internal/model"
	"sip-agent/internal/notification"
	"sip-agent/internal/orchestrator"
	"sip-agent/internal/paywall"
	redisstore "sip-agent/internal/store/redis"
	sqlitestore "sip-agent/internal/store/sqlite"
)

// Service owns every long-lived dependency of the agent.
type Service struct {
	cfg *config.Config
	out io.Writer // cycle reports, one JSON line each

	orch       *orchestrator.Orchestrator
	prom       *metrics.Metrics
	health     *metrics.HealthStatus
	metricsSrv *metrics.Server
	journal    *sqlitestore.Journal
	rdb        *goredis.Client
	publisher  *redisstore.BufferedPublisher
}

// New builds the service. Optional sinks that fail to open are logged and
// left out; only configuration problems are returned.
func New(ctx context.Context, cfg *config.Config, out io.Writer) (*Service, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("agent: no symbols configured")
	}

	svc := &Service{
		cfg:    cfg,
		out:    out,
		prom:   metrics.NewMetrics(),
		health: metrics.NewHealthStatus(),
	}

	// ---- Open SQLite journal ----
	if cfg.SQLitePath != "" {
		j, err := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
		if err != nil {
			slog.Warn("journal disabled", "path", cfg.SQLitePath, "error", err)
		} else {
			svc.journal = j
		}
	}

	// ---- Connect to Redis ----
	if cfg.RedisAddr != "" {
		rdb, err := redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			slog.Warn("redis publisher disabled", "addr", cfg.RedisAddr, "error", err)
		} else {
			svc.rdb = rdb
			pub := redisstore.NewPublisher(rdb, redisstore.Config{})
			svc.publisher = redisstore.NewBufferedPublisher(pub, redisstore.NewCircuitBreaker(3, 30*time.Second), svc.prom, 0)
		}
	}

	// ---- Delegates ----
	httpClient := delegate.NewHTTPClient(cfg.DelegateRPS, int(math.Ceil(2*cfg.DelegateRPS)))
	opts := []delegate.Option{
		delegate.WithHTTPClient(httpClient),
		delegate.WithTimeout(cfg.HTTPTimeout),
		delegate.WithMetrics(svc.prom),
	}
	runner := delegate.NewRunner(cfg.RunnerURL, cfg.USDCMint, opts...)
	merchant := delegate.NewMerchant(cfg.MerchantURL, opts...)

	payOpts := []paywall.Option{
		paywall.WithMint(cfg.USDCMint),
		paywall.WithTimeout(cfg.HTTPTimeout),
		paywall.WithMetrics(svc.prom),
	}
	if svc.journal != nil {
		payOpts = append(payOpts, paywall.WithSettlementHook(svc.journal.SettlementHook()))
	}
	fetcher := paywall.NewClient(httpClient, runner, merchant, payOpts...)
	source := delegate.NewDataSource(cfg.DataURL, fetcher, cfg.CandleTF, cfg.CandleLimit, opts...)

	var swapper model.Swapper = runner
	if cfg.DryRun {
		swapper = execution.NewPaperSwapper(cfg.PaperSlipBps)
		slog.Info("dry run: swaps are simulated", "slippage_bps", cfg.PaperSlipBps)
	}

	// ---- Sinks ----
	orchOpts := []orchestrator.Option{
		orchestrator.WithMetrics(svc.prom),
		orchestrator.WithHealth(svc.health),
	}
	if svc.journal != nil {
		orchOpts = append(orchOpts, orchestrator.WithSink("sqlite", svc.journal))
	}
	if svc.publisher != nil {
		orchOpts = append(orchOpts, orchestrator.WithSink("redis", svc.publisher))
	}
	orchOpts = append(orchOpts, orchestrator.WithSink("alerts", notification.NewCycleSink(notifiers(cfg))))

	svc.orch = orchestrator.New(orchestrator.Config{
		Assets:         cfg.Symbols,
		Budget:         cfg.BudgetUSDC,
		Trigger:        cfg.Trigger,
		MaxSlippageBps: cfg.MaxSlippageBps,
		ForceExecute:   cfg.NearDeadline,
		MaxConcurrency: cfg.MaxConcurrency,
	}, source, swapper, orchOpts...)

	return svc, nil
}

// notifiers always logs alerts and adds every configured remote backend.
func notifiers(cfg *config.Config) notification.Notifier {
	all := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		all = append(all, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		all = append(all, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	return all
}

// Run executes one cycle, or one per CycleInterval until ctx is cancelled.
func (svc *Service) Run(ctx context.Context) error {
	cfg := svc.cfg

	if cfg.MetricsAddr != "" {
		svc.metricsSrv = metrics.NewServer(cfg.MetricsAddr, svc.prom, svc.health)
		if svc.journal != nil {
			svc.metricsSrv.Handle("/api/v1/", api.NewRouter(svc.journal))
		}
		svc.metricsSrv.Start()
	}
	if svc.rdb != nil || svc.journal != nil {
		var db *sql.DB
		if svc.journal != nil {
			db = svc.journal.DB()
		}
		svc.health.StartLivenessChecker(ctx, svc.rdb, db, 15*time.Second)
	}

	slog.Info("agent started",
		"symbols", cfg.Symbols,
		"budget_usdc", cfg.BudgetUSDC,
		"dry_run", cfg.DryRun,
		"near_deadline", cfg.NearDeadline,
		"interval", cfg.CycleInterval.String(),
	)

	if err := svc.runOnce(ctx); err != nil || cfg.CycleInterval <= 0 {
		return err
	}

	ticker := time.NewTicker(cfg.CycleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("agent stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if err := svc.runOnce(ctx); err != nil {
				return err
			}
		}
	}
}

// runOnce runs a cycle and writes its report. Only a failure to write the
// report is an error.
func (svc *Service) runOnce(ctx context.Context) error {
	cycle := svc.orch.Run(ctx)

	line, err := json.Marshal(cycle.Report())
	if err != nil {
		return fmt.Errorf("agent: encode report: %w", err)
	}
	if _, err := svc.out.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("agent: write report: %w", err)
	}

	if svc.cfg.PushgatewayURL != "" {
		pushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.prom.Push(pushCtx, svc.cfg.PushgatewayURL, "sip_agent"); err != nil {
			slog.Warn("metrics push failed", "url", svc.cfg.PushgatewayURL, "error", err)
		}
	}
	return nil
}

// Close shuts down the metrics server and closes the stores.
func (svc *Service) Close() {
	if svc.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		svc.metricsSrv.Stop(ctx)
	}
	if svc.publisher != nil && svc.publisher.PendingCount() > 0 {
		slog.Warn("redis cycles not published", "pending", svc.publisher.PendingCount())
	}
	if svc.rdb != nil {
		svc.rdb.Close()
	}
	if svc.journal != nil {
		if err := svc.journal.Close(); err != nil {
			slog.Warn("journal close", "error", err)
		}
	}
	slog.Info("agent shutdown complete")
}
