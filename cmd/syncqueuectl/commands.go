package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/syncqueue/internal/breaker"
	"github.com/yungbote/syncqueue/internal/config"
	"github.com/yungbote/syncqueue/internal/dlq"
	"github.com/yungbote/syncqueue/internal/dlqrecovery"
	"github.com/yungbote/syncqueue/internal/health"
	"github.com/yungbote/syncqueue/internal/httpsync"
	"github.com/yungbote/syncqueue/internal/outage"
	"github.com/yungbote/syncqueue/internal/platform/logger"
	"github.com/yungbote/syncqueue/internal/queue"
	"github.com/yungbote/syncqueue/internal/ratelimit"
	"github.com/yungbote/syncqueue/internal/recovery"
	"github.com/yungbote/syncqueue/internal/status"
	"github.com/yungbote/syncqueue/internal/syncclient"
)

// openState holds every durable component a subcommand might need. All
// of them are opened with the same read-write handles the daemon uses;
// only health-check mutates state (recovery's lock-guarded check, the
// breaker through it, and the rate limiter's ramp).
type openState struct {
	cfg config.Config
	log *logger.Logger
	pq  *queue.PQ
	dlq *dlq.Store
	cb  *breaker.Breaker
	rl  *ratelimit.Limiter
	rs  *recovery.Scheduler
	oh  *outage.History
}

func openAll() (*openState, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New("production")
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	pq, err := queue.Open(cfg.QueueDBPath(), log)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	dlqStore, err := dlq.Open(cfg.QueueDBPath())
	if err != nil {
		return nil, fmt.Errorf("open dead-letter store: %w", err)
	}
	cb, err := breaker.Open(cfg.CircuitBreakerPath(), breaker.Config{
		FailureThreshold: cfg.FailureThreshold,
		SuccessThreshold: cfg.SuccessThreshold,
		RecoveryTimeout:  time.Duration(cfg.RecoveryTimeoutSeconds * float64(time.Second)),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open circuit breaker: %w", err)
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
		return nil, fmt.Errorf("open rate limiter: %w", err)
	}
	rs, err := recovery.Open(cfg.RecoveryStatePath(), cfg.RecoveryLockPath(), rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return nil, fmt.Errorf("open recovery scheduler: %w", err)
	}
	oh, err := outage.Open(cfg.OutageHistoryPath(), cfg.OutageHistoryCapacity)
	if err != nil {
		return nil, fmt.Errorf("open outage history: %w", err)
	}

	return &openState{cfg: cfg, log: log, pq: pq, dlq: dlqStore, cb: cb, rl: rl, rs: rs, oh: oh}, nil
}

func (s *openState) close() {
	s.pq.Close()
	s.dlq.Close()
	s.log.Sync()
}

func (s *openState) adapter() *httpsync.Adapter {
	return httpsync.New(httpsync.Config{
		BaseURL: os.Getenv("SYNCQUEUE_DOWNSTREAM_URL"),
		APIKey:  os.Getenv("SYNCQUEUE_DOWNSTREAM_API_KEY"),
	})
}

func newStatusCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a point-in-time snapshot of queue, DLQ, breaker, and outage state",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openAll()
			if err != nil {
				return err
			}
			defer s.close()

			reporter := status.New(s.pq, s.dlq, s.cb, s.rs, s.oh)
			snap, err := reporter.Snapshot()
			if err != nil {
				return err
			}

			if redisAddr := os.Getenv("SYNCQUEUE_REDIS_ADDR"); redisAddr != "" {
				channel := os.Getenv("SYNCQUEUE_REDIS_STATUS_CHANNEL")
				if channel == "" {
					channel = "syncqueue:status"
				}
				publisher, err := status.NewPublisher(redisAddr, channel, s.log)
				if err != nil {
					s.log.Warn("status publish skipped: redis unreachable", "error", err, "addr", redisAddr)
				} else {
					publisher.Publish(context.Background(), snap)
					publisher.Close()
				}
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(snap)
			}
			printStatus(cmd, snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, snap status.Snapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "queue_size:        %d\n", snap.QueueSize)
	fmt.Fprintf(out, "dlq_size:          %d\n", snap.DLQSize)
	if snap.CircuitBreaker.AgeSeconds > 0 {
		fmt.Fprintf(out, "circuit_breaker:   %s (open %.0fs)\n", snap.CircuitBreaker.State, snap.CircuitBreaker.AgeSeconds)
	} else {
		fmt.Fprintf(out, "circuit_breaker:   %s\n", snap.CircuitBreaker.State)
	}
	fmt.Fprintf(out, "last_probe:        %s ok=%t latency=%.1fms\n", snap.Probe.LastProbeTime.Format(time.RFC3339), snap.Probe.LastProbeOK, snap.Probe.LastLatencyMS)
	fmt.Fprintf(out, "last_recovery:     %s (count=%d)\n", formatTimeOrDash(snap.Recovery.LastRecoveryTime), snap.Recovery.RecoveryCount)
	fmt.Fprintf(out, "mttr:              %.1fs\n", snap.MTTRSeconds)
	fmt.Fprintf(out, "mtbf:              %.1fs\n", snap.MTBFSeconds)
	fmt.Fprintf(out, "availability:      %.2f%%\n", snap.Availability)
	fmt.Fprintf(out, "recent_outages (%d):\n", len(snap.RecentOutages))
	for _, o := range snap.RecentOutages {
		end := "ongoing"
		if o.Duration != "" {
			end = o.Duration
		}
		fmt.Fprintf(out, "  - started=%s duration=%s jobs_affected=%d\n", o.StartedAt.Format(time.RFC3339), end, o.JobsAffected)
	}
}

func formatTimeOrDash(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func newHealthCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health-check",
		Short: "Issue a deep health probe against downstream and record the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openAll()
			if err != nil {
				return err
			}
			defer s.close()

			checker := health.New(s.adapter(), time.Duration(s.cfg.ProbeTimeoutSeconds*float64(time.Second)), s.log)
			result := checker.Check(context.Background())

			now := time.Now()
			stateBefore := s.cb.State()
			recorded := s.rs.ForceRecordCheck(result.Healthy, time.Duration(result.LatencyMS*float64(time.Millisecond)), now, s.cb)
			if recorded && stateBefore != breaker.StateClosed && s.cb.State() == breaker.StateClosed {
				s.rl.StartRecoveryPeriod(now)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "healthy=%t latency_ms=%.1f recorded=%t breaker_state=%s\n",
				result.Healthy, result.LatencyMS, recorded, s.cb.State())
			if !result.Healthy {
				return fmt.Errorf("downstream health probe failed")
			}
			return nil
		},
	}
	return cmd
}

func newRecoverOutageJobsCmd() *cobra.Command {
	var startStr, endStr string
	var allowListStr []string
	cmd := &cobra.Command{
		Use:   "recover-outage-jobs",
		Short: "Re-queue eligible dead-letter entries from a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := time.Parse(time.RFC3339, startStr)
			if err != nil {
				return fmt.Errorf("--start must be RFC3339: %w", err)
			}
			end, err := time.Parse(time.RFC3339, endStr)
			if err != nil {
				return fmt.Errorf("--end must be RFC3339: %w", err)
			}

			s, err := openAll()
			if err != nil {
				return err
			}
			defer s.close()

			checker := health.New(s.adapter(), time.Duration(s.cfg.ProbeTimeoutSeconds*float64(time.Second)), s.log)
			pipeline := dlqrecovery.New(s.dlq, s.pq, checker, s.adapter(), s.log)

			allowList := make([]syncclient.ErrorKind, 0, len(allowListStr))
			for _, k := range allowListStr {
				allowList = append(allowList, syncclient.ErrorKind(k))
			}

			result, err := pipeline.RecoverOutageJobs(context.Background(), start, end, allowList)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "recovered:               %d\n", result.Recovered)
			fmt.Fprintf(out, "skipped_already_queued:  %d\n", result.SkippedAlreadyQueued)
			fmt.Fprintf(out, "skipped_downstream_down: %d\n", result.SkippedDownstreamDown)
			fmt.Fprintf(out, "skipped_scene_missing:   %d\n", result.SkippedSceneMissing)
			fmt.Fprintf(out, "failed:                  %d\n", result.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&startStr, "start", "", "window start, RFC3339 (required)")
	cmd.Flags().StringVar(&endStr, "end", "", "window end, RFC3339 (required)")
	cmd.Flags().StringSliceVar(&allowListStr, "allow", nil, "error kinds eligible for recovery (default: downstream-down)")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}
