// Package sched runs the gateway's background maintenance on a cron
// schedule: cache sweeps, emotion history trims, and the daily journal
// digest.
package sched

import (
	"context"
	"log/slog"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/solunalabs/voicegate/internal/cache"
	"github.com/solunalabs/voicegate/internal/journal"
	"github.com/solunalabs/voicegate/internal/speech"
)

const (
	sweepSpec  = "0 */5 * * * *" // every five minutes
	trimSpec   = "0 0 * * * *"   // hourly
	digestSpec = "0 0 3 * * *"   // daily at 03:00

	// Readings older than this are dropped by the hourly trim.
	historyMaxAge = 24 * time.Hour
)

type Service struct {
	cache   *cache.Cache
	history *speech.History
	journal *journal.Journal
	cron    *rcron.Cron
	log     *slog.Logger
}

func New(c *cache.Cache, h *speech.History, j *journal.Journal, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:   c,
		history: h,
		journal: j,
		log:     logger.With("component", "sched"),
	}
}

// Start registers the maintenance jobs and begins running them. Jobs stop
// when ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.cron = rcron.New(rcron.WithSeconds())

	if s.cache != nil {
		if _, err := s.cron.AddFunc(sweepSpec, s.sweepCache); err != nil {
			return err
		}
	}
	if s.history != nil {
		if _, err := s.cron.AddFunc(trimSpec, s.trimHistory); err != nil {
			return err
		}
	}
	if s.journal != nil {
		if _, err := s.cron.AddFunc(digestSpec, func() { s.dailyDigest(ctx) }); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.log.Info("maintenance scheduler started", "jobs", len(s.cron.Entries()))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the scheduler and waits for any running job to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("maintenance scheduler stopped")
}

func (s *Service) sweepCache() {
	if removed := s.cache.SweepExpired(); removed > 0 {
		s.log.Debug("cache sweep", "removed", removed)
	}
}

func (s *Service) trimHistory() {
	if dropped := s.history.Trim(historyMaxAge); dropped > 0 {
		s.log.Debug("emotion history trim", "dropped", dropped)
	}
}

func (s *Service) dailyDigest(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	digest, err := s.journal.DaySummary(runCtx)
	if err != nil {
		s.log.Warn("daily digest failed", "err", err)
		return
	}
	s.log.Info("daily digest", "summary", digest)
	if s.cache != nil {
		s.cache.Set(runCtx, digest, cache.ClassUserContext, 0, "daily_digest")
	}
}
