package worker

import (
	"context"
	"sync"
	"time"

	"github.com/formatninja/transformd/internal/config"
	"github.com/formatninja/transformd/internal/interfaces"
	"github.com/formatninja/transformd/internal/logger"
	"github.com/formatninja/transformd/internal/metrics"
)

// Requeuer re-enqueues the processing task for a pending job.
type Requeuer interface {
	Requeue(ctx context.Context, job *interfaces.Job) error
}

// Sweeper periodically re-enqueues pending jobs whose task was lost
// between record creation and enqueue (crash, queue outage). Requeueing
// a job whose task is still in flight is harmless: the queue dedups on
// job id and processing no-ops on non-pending jobs.
type Sweeper struct {
	store    interfaces.JobStore
	requeuer Requeuer
	cfg      config.SweeperConfig
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func NewSweeper(store interfaces.JobStore, requeuer Requeuer, cfg config.SweeperConfig) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:    store,
		requeuer: requeuer,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the background sweep loop.
func (s *Sweeper) Start() {
	logger.Logger.Info().
		Dur("interval", s.cfg.Interval).
		Dur("stale_after", s.cfg.StaleAfter).
		Msg("Starting orphaned-job sweeper")

	s.wg.Add(1)
	go s.run()
}

// Stop shuts the sweep loop down and waits for it to finish.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	logger.Logger.Info().Msg("Sweeper stopped")
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	stale, err := s.store.ListStalePending(s.ctx, s.cfg.StaleAfter, s.cfg.BatchSize)
	if err != nil {
		logger.Logger.Error().Err(err).Msg("Failed to list stale pending jobs")
		return
	}

	for _, job := range stale {
		log := logger.WithJobID(job.ID)
		if err := s.requeuer.Requeue(s.ctx, job); err != nil {
			log.Error().Err(err).Msg("Failed to requeue stale job")
			continue
		}
		metrics.JobsRequeuedTotal.Inc()
		log.Info().Time("created_at", job.CreatedAt).Msg("Requeued stale pending job")
	}
}
