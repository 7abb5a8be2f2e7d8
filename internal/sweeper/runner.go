package sweeper

import (
	"context"
	"time"

	"github.com/klinikgigi/queue-engine/pkg/logging"
)

type RunnerConfig struct {
	Interval        time.Duration
	LateThreshold   int // minutes
	NoShowThreshold int // minutes
	RunTimeout      time.Duration
}

// Runner sweeps on a fixed interval until its context ends.
type Runner struct {
	sweeper *Sweeper
	cfg     RunnerConfig
	logger  *logging.Logger
}

func NewRunner(s *Sweeper, cfg RunnerConfig, logger *logging.Logger) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{sweeper: s, cfg: cfg, logger: logger}
}

func (r *Runner) Run(ctx context.Context) {
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("shutdown signal received, stopping sweeper")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce marks late before no-show so that a long overdue appointment
// passes through late in one run.
func (r *Runner) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, r.cfg.RunTimeout)
	defer cancel()

	start := time.Now()
	late, err := r.sweeper.MarkLate(runCtx, r.cfg.LateThreshold)
	if err != nil {
		r.logger.Error("late sweep error", "error", err)
	}
	noShow, err := r.sweeper.MarkNoShow(runCtx, r.cfg.NoShowThreshold)
	if err != nil {
		r.logger.Error("no-show sweep error", "error", err)
	}
	r.logger.Info("sweep run complete", "late", late, "no_show", noShow, "duration", time.Since(start).String())
}
