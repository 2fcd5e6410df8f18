// Command syncqueued is the daemon entrypoint: it wires every durable
// component (PQ, DLQ, CB, RL, RS, OH) and the sync worker's drain loop
// into one process and blocks until a shutdown signal arrives. Apart
// from a Prometheus /metrics endpoint it has no long-running API of its
// own; operator commands are served by cmd/syncqueuectl instead.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/syncqueue/internal/breaker"
	"github.com/yungbote/syncqueue/internal/config"
	"github.com/yungbote/syncqueue/internal/dlq"
	"github.com/yungbote/syncqueue/internal/health"
	"github.com/yungbote/syncqueue/internal/httpsync"
	"github.com/yungbote/syncqueue/internal/metrics"
	"github.com/yungbote/syncqueue/internal/outage"
	"github.com/yungbote/syncqueue/internal/platform/envutil"
	"github.com/yungbote/syncqueue/internal/platform/logger"
	"github.com/yungbote/syncqueue/internal/queue"
	"github.com/yungbote/syncqueue/internal/ratelimit"
	"github.com/yungbote/syncqueue/internal/recovery"
	"github.com/yungbote/syncqueue/internal/status"
	"github.com/yungbote/syncqueue/internal/syncclient"
	"github.com/yungbote/syncqueue/internal/syncworker"
)

func main() {
	logMode := envutil.String("LOG_MODE", "production")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	cfg, err := config.Load(envutil.String("SYNCQUEUE_CONFIG_FILE", ""))
	if err != nil {
		log.Fatal("failed to load config", "error", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal("failed to create data dir", "error", err, "data_dir", cfg.DataDir)
	}

	pq, err := queue.Open(cfg.QueueDBPath(), log)
	if err != nil {
		log.Fatal("failed to open queue", "error", err)
	}
	defer pq.Close()

	dlqStore, err := dlq.Open(cfg.QueueDBPath())
	if err != nil {
		log.Fatal("failed to open dead-letter store", "error", err)
	}
	defer dlqStore.Close()

	cb, err := breaker.Open(cfg.CircuitBreakerPath(), breaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		RecoveryTimeout:  time.Duration(cfg.RecoveryTimeoutSeconds * float64(time.Second)),
	}, log)
	if err != nil {
		log.Fatal("failed to open circuit breaker state", "error", err)
	}

	rl, err := ratelimit.Open(cfg.RateLimiterStatePath(), ratelimit.Config{
		InitialRate:        cfg.RLInitialRate,
		TargetRate:         cfg.RLTargetRate,
		RampDuration:       time.Duration(cfg.RLRampDurationSeconds * float64(time.Second)),
		BucketCapacity:     1.0,
		ErrorWindow:        time.Duration(cfg.RLErrorWindowSeconds * float64(time.Second)),
		ErrorRateHigh:      cfg.RLErrorThreshold,
		ErrorRateLow:       cfg.RLErrorThreshold / 3,
		DegradedBackoff:    60 * time.Second,
		DegradedMultiplier: 0.5,
	})
	if err != nil {
		log.Fatal("failed to open rate limiter state", "error", err)
	}

	rs, err := recovery.Open(cfg.RecoveryStatePath(), cfg.RecoveryLockPath(), rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		log.Fatal("failed to open recovery scheduler state", "error", err)
	}

	oh, err := outage.Open(cfg.OutageHistoryPath(), cfg.OutageHistoryCapacity)
	if err != nil {
		log.Fatal("failed to open outage history", "error", err)
	}

	adapter := httpsync.New(httpsync.Config{
		BaseURL: envutil.String("SYNCQUEUE_DOWNSTREAM_URL", ""),
		APIKey:  envutil.String("SYNCQUEUE_DOWNSTREAM_API_KEY", ""),
	})
	classifier := syncclient.New(syncclient.NotFoundRetry, httpsync.Classify)
	healthChecker := health.New(adapter, time.Duration(cfg.ProbeTimeoutSeconds*float64(time.Second)), log)

	worker := syncworker.New(
		syncworker.Config{
			PullTimeout: 2 * time.Second,
			IdleSleep:   time.Duration(cfg.ProbeBaseSeconds * float64(time.Second)),
			RetryBase:   1 * time.Second,
			RetryCap:    30 * time.Second,
		},
		pq, dlqStore, cb, rl, rs, oh, healthChecker, adapter, classifier, log,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go serveMetrics(log)

	if redisAddr := envutil.String("SYNCQUEUE_REDIS_ADDR", ""); redisAddr != "" {
		reporter := status.New(pq, dlqStore, cb, rs, oh)
		channel := envutil.String("SYNCQUEUE_REDIS_STATUS_CHANNEL", "syncqueue:status")
		publisher, err := status.NewPublisher(redisAddr, channel, log)
		if err != nil {
			log.Warn("status publisher disabled: redis unreachable", "error", err, "addr", redisAddr)
		} else {
			defer publisher.Close()
			interval := time.Duration(cfg.ProbeBaseSeconds * float64(time.Second))
			go publishStatusLoop(ctx, reporter, publisher, interval, log)
		}
	}

	log.Info("syncqueued starting", "data_dir", cfg.DataDir)
	worker.Run(ctx)
	log.Info("syncqueued shut down cleanly")
}

// publishStatusLoop periodically assembles a status snapshot and
// broadcasts it over the configured Redis channel until ctx is
// cancelled.
func publishStatusLoop(ctx context.Context, reporter *status.Reporter, publisher *status.Publisher, interval time.Duration, log *logger.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := reporter.Snapshot()
			if err != nil {
				log.Warn("status snapshot failed", "error", err)
				continue
			}
			publisher.Publish(ctx, snap)
		}
	}
}

// serveMetrics exposes internal/metrics.Registry on a private registry
// HTTP endpoint; it never shares the default Prometheus registry, so an
// embedding deployment opts in explicitly by scraping this port.
func serveMetrics(log *logger.Logger) {
	addr := envutil.String("SYNCQUEUE_METRICS_ADDR", ":9090")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	log.Info("metrics server listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Warn("metrics server exited", "error", err)
	}
}
