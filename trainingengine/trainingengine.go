// Package trainingengine is the Training Engine (§4.D): enqueuing a
// training batch with strict per-village FIFO ordering, completing
// batches whose time has come, and cancelling a not-yet-started batch
// with a partial refund.
//
// Grounded on the reference's services/unit_service.go TrainUnits,
// generalized to the spec's FIFO `started_at = max(now, last.ends_at)`
// rule confirmed exactly against original_source's troop_service.rs
// get_last_queue_end_time, and its 75%-floor-rounded cancellation refund.
package trainingengine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"server-backend/apperr"
	"server-backend/eventbus"
	"server-backend/models"
	"server-backend/store"
	"server-backend/troopdef"
)

type Engine struct {
	store  store.Store
	bus    *eventbus.Bus
	logger *zap.Logger
}

func New(s store.Store, bus *eventbus.Bus, logger *zap.Logger) *Engine {
	return &Engine{store: s, bus: bus, logger: logger}
}

// Enqueue implements §4.D's "Enqueue" operation.
func (e *Engine) Enqueue(ctx context.Context, villageID uuid.UUID, troopType string, count int, now time.Time) (*models.TrainingEntry, error) {
	if count <= 0 {
		return nil, apperr.BadRequestf("count must be positive")
	}
	def, ok := troopdef.Get(troopType)
	if !ok {
		return nil, apperr.BadRequestf("unknown troop type %q", troopType)
	}

	var result *models.TrainingEntry
	var ownerID uuid.UUID
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		v, err := tx.GetVillageForUpdate(ctx, villageID)
		if err != nil {
			return err
		}
		ownerID = v.OwnerID

		if def.RequiredBuilding != "" {
			b, err := tx.GetBuilding(ctx, villageID, requiredBuildingSlot(def.RequiredBuilding))
			if err != nil && err != store.ErrNotFound {
				return err
			}
			if err == store.ErrNotFound || b.Level < def.RequiredBuildingLevel {
				return apperr.BadRequestf("%s level %d required to train %s", def.RequiredBuilding, def.RequiredBuildingLevel, troopType)
			}
		}

		cost := def.Cost.ScaleInt(count)
		if v.Wood < cost.Wood || v.Clay < cost.Clay || v.Iron < cost.Iron || v.Crop < cost.Crop {
			return apperr.BadRequestf("insufficient resources")
		}
		v.Wood -= cost.Wood
		v.Clay -= cost.Clay
		v.Iron -= cost.Iron
		v.Crop -= cost.Crop
		v.UpdatedAt = now
		if err := tx.UpdateVillageResources(ctx, v); err != nil {
			return err
		}

		lastEnd, hasLast, err := tx.GetLastTrainingEnd(ctx, villageID)
		if err != nil {
			return err
		}
		startedAt := now
		if hasLast && lastEnd.After(now) {
			startedAt = lastEnd
		}
		totalSeconds := def.TrainingTimeSeconds * count
		entry := &models.TrainingEntry{
			ID:        uuid.New(),
			VillageID: villageID,
			TroopType: troopType,
			Count:     count,
			StartedAt: startedAt,
			EndsAt:    startedAt.Add(time.Duration(totalSeconds) * time.Second),
		}
		if err := tx.InsertTrainingEntry(ctx, entry); err != nil {
			return err
		}
		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.bus.Publish(ownerID, eventbus.Event{Type: eventbus.VillageUpdated, Data: result})
	return result, nil
}

// requiredBuildingSlot resolves the canonical slot a single-instance
// prerequisite building occupies. This repo's town slot layout is
// player-assigned for most buildings, but prerequisite buildings named
// by troopdef (barracks, stable, workshop, residence) are conventionally
// placed at the same fixed slots across all villages so the Training
// Engine can locate them without a lookup table.
func requiredBuildingSlot(buildingType string) int {
	switch buildingType {
	case "barracks":
		return 2
	case "stable":
		return 3
	case "workshop":
		return 4
	case "residence":
		return 5
	}
	return 0
}

// Complete implements §4.D's "Completion" step.
func (e *Engine) Complete(ctx context.Context, entryID uuid.UUID) error {
	var ownerID uuid.UUID
	var villageID uuid.UUID
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		entry, err := tx.GetTrainingEntry(ctx, entryID)
		if err != nil {
			return err
		}
		villageID = entry.VillageID
		v, err := tx.GetVillage(ctx, entry.VillageID)
		if err != nil {
			return err
		}
		ownerID = v.OwnerID
		if err := tx.AddTroops(ctx, entry.VillageID, entry.TroopType, entry.Count); err != nil {
			return err
		}
		return tx.DeleteTrainingEntry(ctx, entryID)
	})
	if err != nil {
		return err
	}
	e.bus.Publish(ownerID, eventbus.Event{Type: eventbus.TroopTrainingComplete, Data: map[string]any{"village_id": villageID, "entry_id": entryID}})
	return nil
}

// Cancel implements §4.D's "Cancellation" step: only while the batch has
// not yet become head-of-queue (started_at > now), refunding 75% of the
// deducted cost, floor-rounded.
func (e *Engine) Cancel(ctx context.Context, entryID uuid.UUID, now time.Time) error {
	var ownerID uuid.UUID
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		entry, err := tx.GetTrainingEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if !entry.StartedAt.After(now) {
			return apperr.BadRequestf("training entry is already head-of-queue")
		}
		def, ok := troopdef.Get(entry.TroopType)
		if !ok {
			return apperr.Internalf(nil, "unknown troop type %q on existing entry", entry.TroopType)
		}
		v, err := tx.GetVillageForUpdate(ctx, entry.VillageID)
		if err != nil {
			return err
		}
		ownerID = v.OwnerID

		cost := def.Cost.ScaleInt(entry.Count)
		refund := refund75(cost)
		v.Wood += refund.Wood
		v.Clay += refund.Clay
		v.Iron += refund.Iron
		v.Crop += refund.Crop
		v.UpdatedAt = now
		if err := tx.UpdateVillageResources(ctx, v); err != nil {
			return err
		}
		return tx.DeleteTrainingEntry(ctx, entryID)
	})
	if err != nil {
		return err
	}
	e.bus.Publish(ownerID, eventbus.Event{Type: eventbus.VillageUpdated, Data: entryID})
	return nil
}

// refund75 returns 75% of cost, floor-rounded per resource, matching
// original_source's `(cost * count * 3) / 4` integer-division formula.
func refund75(cost troopdef.Cost) troopdef.Cost {
	return troopdef.Cost{
		Wood: cost.Wood * 3 / 4,
		Clay: cost.Clay * 3 / 4,
		Iron: cost.Iron * 3 / 4,
		Crop: cost.Crop * 3 / 4,
	}
}

// RunDue is the scheduler worker's tick body: complete every entry whose
// ends_at has passed.
func (e *Engine) RunDue(ctx context.Context, now time.Time) (int, error) {
	due, err := e.store.ListTrainingEntriesDue(ctx, now)
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, entry := range due {
		if err := e.Complete(ctx, entry.ID); err != nil {
			e.logger.Error("training completion failed", zap.Stringer("entry_id", entry.ID), zap.Error(err))
			continue
		}
		completed++
	}
	return completed, nil
}
