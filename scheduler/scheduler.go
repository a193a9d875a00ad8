// Package scheduler is the Scheduler (§4.H): a fixed set of concurrent
// periodic workers, each with its own interval, each running single-shot
// per tick while all workers run in parallel.
//
// Grounded on the reference's main.go background-task goroutines (the
// `time.NewTicker` + `for { select { case <-ticker.C: ... } }` loop used
// for its construction-queue processing), generalized from one ad hoc
// ticker into six named workers, one per engine operation (the Army
// Engine has two: movement resolution and starvation).
package scheduler

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"server-backend/armyengine"
	"server-backend/buildingengine"
	"server-backend/marketengine"
	"server-backend/resourceengine"
	"server-backend/store"
	"server-backend/trainingengine"
)

// Scheduler owns the six periodic workers named in §4.H.
type Scheduler struct {
	store     store.Store
	buildings *buildingengine.Engine
	resources *resourceengine.Engine
	training  *trainingengine.Engine
	army      *armyengine.Engine
	market    *marketengine.Engine
	logger    *zap.Logger
}

func New(
	s store.Store,
	buildings *buildingengine.Engine,
	resources *resourceengine.Engine,
	training *trainingengine.Engine,
	army *armyengine.Engine,
	market *marketengine.Engine,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		store: s, buildings: buildings, resources: resources,
		training: training, army: army, market: market, logger: logger,
	}
}

// Run starts all six workers as goroutines and blocks until ctx is
// cancelled. Each worker is independently ticked and sequential within
// itself; a slow or erroring tick never blocks the others.
func (s *Scheduler) Run(ctx context.Context) {
	go s.runWorker(ctx, "building_completion", 10*time.Second, s.tickBuildings)
	go s.runWorker(ctx, "resource_accrual", 5*time.Minute, s.tickResources)
	go s.runWorker(ctx, "army_processing", 5*time.Second, s.tickArmy)
	go s.runWorker(ctx, "training_completion", 10*time.Second, s.tickTraining)
	go s.runWorker(ctx, "starvation", 60*time.Second, s.tickStarvation)
	go s.runWorker(ctx, "order_expiry", 30*time.Second, s.tickOrderExpiry)
}

// runWorker drives one named periodic worker: fire immediately, then on
// every tick of interval, until ctx is done.
func (s *Scheduler) runWorker(ctx context.Context, name string, interval time.Duration, tick func(ctx context.Context, now time.Time) (int, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		start := time.Now()
		now := start.UTC()
		n, err := tick(ctx, now)
		elapsed := time.Since(start)
		if err != nil {
			s.logger.Error("scheduler worker tick failed",
				zap.String("worker", name), zap.Error(err), zap.Duration("elapsed", elapsed))
			return
		}
		if n > 0 {
			s.logger.Info("scheduler worker tick",
				zap.String("worker", name),
				zap.String("processed", humanize.Comma(int64(n))),
				zap.Duration("elapsed", elapsed))
		}
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}

func (s *Scheduler) tickBuildings(ctx context.Context, now time.Time) (int, error) {
	return s.buildings.RunDue(ctx, now)
}

func (s *Scheduler) tickTraining(ctx context.Context, now time.Time) (int, error) {
	return s.training.RunDue(ctx, now)
}

func (s *Scheduler) tickArmy(ctx context.Context, now time.Time) (int, error) {
	return s.army.RunDue(ctx, now)
}

func (s *Scheduler) tickOrderExpiry(ctx context.Context, now time.Time) (int, error) {
	return s.market.RunExpiry(ctx, now)
}

// tickResources applies Resource Engine catch-up to every village whose
// resources_updated_at is more than a minute stale, per §4.H's
// resource-accrual worker.
func (s *Scheduler) tickResources(ctx context.Context, now time.Time) (int, error) {
	staleIDs, err := s.store.ListStaleVillageIDs(ctx, now.Add(-1*time.Minute))
	if err != nil {
		return 0, err
	}
	count := 0
	for _, villageID := range staleIDs {
		if _, err := s.resources.CatchUp(ctx, villageID, now); err != nil {
			s.logger.Error("resource accrual failed", zap.Stringer("village_id", villageID), zap.Error(err))
			continue
		}
		count++
	}
	if count > 0 {
		s.logger.Debug("resource accrual processed villages", zap.String("count", humanize.Comma(int64(count))))
	}
	return count, nil
}

// tickStarvation applies §4.H's starvation worker: every village whose
// crop has reached zero loses one troop of the highest-consumption
// present type.
func (s *Scheduler) tickStarvation(ctx context.Context, now time.Time) (int, error) {
	starving, err := s.store.ListStarvingVillageIDs(ctx)
	if err != nil {
		return 0, err
	}
	if len(starving) == 0 {
		return 0, nil
	}
	return s.army.RunStarvation(ctx, starving)
}
