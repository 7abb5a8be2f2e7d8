// Package sweeper reclassifies appointments whose scheduled time passed
// without the patient arriving.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klinikgigi/queue-engine/internal/appointment"
	"github.com/klinikgigi/queue-engine/internal/clock"
	"github.com/klinikgigi/queue-engine/internal/lifecycle"
	"github.com/klinikgigi/queue-engine/internal/metrics"
	redisclient "github.com/klinikgigi/queue-engine/internal/redis"
	"github.com/klinikgigi/queue-engine/pkg/logging"
)

type Kind string

const (
	KindLate   Kind = "late"
	KindNoShow Kind = "no_show"
)

const DefaultBatchSize = 200

var sources = map[Kind][]appointment.Status{
	KindLate:   {appointment.StatusBooked, appointment.StatusConfirmed, appointment.StatusCheckedIn},
	KindNoShow: {appointment.StatusBooked, appointment.StatusConfirmed, appointment.StatusCheckedIn, appointment.StatusLate},
}

var targets = map[Kind]appointment.Status{
	KindLate:   appointment.StatusLate,
	KindNoShow: appointment.StatusNoShow,
}

type Sweeper struct {
	machine   *lifecycle.Machine
	clock     clock.Clock
	locker    redisclient.Locker
	batchSize int
	logger    *logging.Logger
	metrics   *metrics.QueueMetrics
}

func New(machine *lifecycle.Machine, clk clock.Clock, logger *logging.Logger) *Sweeper {
	if clk == nil {
		clk = clock.System()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		machine:   machine,
		clock:     clk,
		batchSize: DefaultBatchSize,
		logger:    logger,
	}
}

// WithLocker makes each sweep kind exclusive across instances.
func (s *Sweeper) WithLocker(l redisclient.Locker) *Sweeper {
	s.locker = l
	return s
}

func (s *Sweeper) WithBatchSize(n int) *Sweeper {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

func (s *Sweeper) WithMetrics(m *metrics.QueueMetrics) *Sweeper {
	s.metrics = m
	return s
}

// MarkLate moves booked, confirmed and checked_in appointments scheduled
// more than thresholdMinutes ago to late.
func (s *Sweeper) MarkLate(ctx context.Context, thresholdMinutes int) (int, error) {
	return s.Sweep(ctx, KindLate, thresholdMinutes)
}

// MarkNoShow moves the same states plus late to no_show, vacating their
// queue entries.
func (s *Sweeper) MarkNoShow(ctx context.Context, thresholdMinutes int) (int, error) {
	return s.Sweep(ctx, KindNoShow, thresholdMinutes)
}

// Sweep returns how many appointments it moved. Appointments that another
// actor moved after the scan are skipped, so re-running is harmless.
func (s *Sweeper) Sweep(ctx context.Context, kind Kind, thresholdMinutes int) (int, error) {
	if _, ok := targets[kind]; !ok {
		return 0, fmt.Errorf("unknown sweep kind %q", kind)
	}
	if thresholdMinutes < 0 {
		return 0, fmt.Errorf("%w: threshold must not be negative", appointment.ErrValidation)
	}

	if s.locker == nil {
		return s.run(ctx, kind, thresholdMinutes)
	}

	var moved int
	err := s.locker.WithLock(ctx, "sweeper:"+string(kind), func(ctx context.Context) error {
		var err error
		moved, err = s.run(ctx, kind, thresholdMinutes)
		return err
	})
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.logger.Info("sweep already running elsewhere, skipping", "kind", kind)
		return 0, nil
	case errors.Is(err, redisclient.ErrLockLost):
		// Each move is guarded by its own status check, so an overlap is harmless.
		s.logger.Warn("sweep outlived its lock", "kind", kind, "moved", moved)
		return moved, nil
	}
	return moved, err
}

func (s *Sweeper) run(ctx context.Context, kind Kind, thresholdMinutes int) (int, error) {
	cutoff := s.clock.Now().Add(-time.Duration(thresholdMinutes) * time.Minute)
	from := sources[kind]
	to := targets[kind]

	var candidates []appointment.Appointment
	err := s.machine.Store().View(ctx, func(ctx context.Context, q appointment.Queries) error {
		var err error
		candidates, err = q.ListStaleAppointments(ctx, from, cutoff, s.batchSize)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s candidates: %w", kind, err)
	}

	moved := 0
	var errs []error
	for _, c := range candidates {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		ok, err := s.moveOne(ctx, c, from, to, cutoff, thresholdMinutes)
		if err != nil {
			s.logger.Error("sweep transition failed", "kind", kind, "appointment_id", c.ID, "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			moved++
		}
	}

	s.metrics.ObserveSwept(string(kind), moved)
	if moved > 0 {
		s.logger.Info("sweep complete", "kind", kind, "moved", moved, "scanned", len(candidates))
	}
	return moved, errors.Join(errs...)
}

func (s *Sweeper) moveOne(ctx context.Context, c appointment.Appointment, from []appointment.Status, to appointment.Status, cutoff time.Time, thresholdMinutes int) (bool, error) {
	moved := false
	err := s.machine.Do(ctx, func(ctx context.Context, u *lifecycle.Unit) error {
		moved = false
		current, err := u.Queries().GetAppointmentForUpdate(ctx, c.ID)
		if err != nil {
			return err
		}
		if !contains(from, current.Status) || !current.ScheduledAt.Before(cutoff) {
			return nil
		}
		_, err = u.Transition(ctx, c.ID, to, "sweeper", map[string]any{
			"threshold_minutes": thresholdMinutes,
			"scheduled_at":      current.ScheduledAt,
		})
		if err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}

func contains(list []appointment.Status, s appointment.Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
