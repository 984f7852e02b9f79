package job

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/Dan9191/bankcards/internal/repository"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultSchedule runs the sweep daily at 03:00:00
const DefaultSchedule = "0 0 3 * * *"

// ExpiryListener is told about every card the sweep expired
type ExpiryListener interface {
	NotifyExpired(ctx context.Context, id uuid.UUID) error
}

// SweepResult summarizes one run of the sweep
type SweepResult struct {
	Scanned int
	Expired int
	Failed  int
}

// ExpirySweeper moves cards whose expiration date has passed to EXPIRED
type ExpirySweeper struct {
	cards    repository.CardRepository
	log      *logrus.Logger
	now      func() time.Time
	listener ExpiryListener

	mu   sync.Mutex
	cron *cron.Cron
}

// NewExpirySweeper creates a sweeper. listener may be nil.
func NewExpirySweeper(cards repository.CardRepository, log *logrus.Logger, listener ExpiryListener) *ExpirySweeper {
	return &ExpirySweeper{cards: cards, log: log, now: time.Now, listener: listener}
}

// Run expires every card with an expiration date before today. Each card is
// updated on its own, so a failing row is logged and skipped.
func (s *ExpirySweeper) Run(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	today := models.DateOf(s.now())

	err := s.cards.ForEachIDExpiredBefore(ctx, today, models.CardStatusExpired, func(id uuid.UUID) {
		res.Scanned++
		if err := s.cards.UpdateStatusByID(ctx, id, models.CardStatusExpired); err != nil {
			res.Failed++
			s.log.WithError(err).WithField("card_id", id).Error("Failed to expire card")
			return
		}
		res.Expired++
		s.log.WithField("card_id", id).Debug("Card expired")

		if s.listener != nil {
			if err := s.listener.NotifyExpired(ctx, id); err != nil {
				s.log.WithError(err).WithField("card_id", id).Warn("Failed to notify about expired card")
			}
		}
	})
	if err != nil {
		return res, fmt.Errorf("failed to scan expired cards: %w", err)
	}
	return res, nil
}

func (s *ExpirySweeper) runScheduled() {
	start := s.now()
	res, err := s.Run(context.Background())
	entry := s.log.WithFields(logrus.Fields{
		"scanned":  res.Scanned,
		"expired":  res.Expired,
		"failed":   res.Failed,
		"duration": time.Since(start).String(),
	})
	if err != nil {
		entry.WithError(err).Error("Expiry sweep failed")
		return
	}
	entry.Info("Expiry sweep finished")
}

// Start schedules the sweep with a six-field cron spec (seconds first).
// A run still in progress makes the next tick a no-op.
func (s *ExpirySweeper) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("expiry sweeper already started")
	}

	logger := cron.PrintfLogger(s.log)
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, s.runScheduled); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	s.log.WithField("schedule", spec).Info("Expiry sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running sweep until ctx is done
func (s *ExpirySweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		s.log.Info("Expiry sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
