// Package buildingengine is the Building Engine (§4.C): starting an
// upgrade at a (village, slot), and completing it — either driven by the
// Scheduler or by a gold-financed "finish now" from the Gold/Shop Engine.
//
// Grounded on the reference's services/construction_service.go
// UpgradeBuilding/CompleteUpgrade, corrected to make the upgrade start
// transactional (the reference updates resources and the building row
// outside any shared transaction) and to actually increment
// building.Level on completion (the reference's CompleteUpgrade/
// CleanupCompletedUpgrades never do).
package buildingengine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"server-backend/apperr"
	"server-backend/buildingtype"
	"server-backend/eventbus"
	"server-backend/models"
	"server-backend/resourceengine"
	"server-backend/store"
)

type Engine struct {
	store     store.Store
	resources *resourceengine.Engine
	bus       *eventbus.Bus
	logger    *zap.Logger
}

func New(s store.Store, resources *resourceengine.Engine, bus *eventbus.Bus, logger *zap.Logger) *Engine {
	return &Engine{store: s, resources: resources, bus: bus, logger: logger}
}

// StartUpgrade implements §4.C's "Build / upgrade" operation. requestedType
// names the building type to construct when slot has no building yet; it
// is required for an empty town slot (1..22), ignored for a field slot
// (101..118), whose type is fixed by buildingtype.FieldSlotResourceType.
func (e *Engine) StartUpgrade(ctx context.Context, villageID uuid.UUID, slot int, requestedType string, now time.Time) (*models.Building, error) {
	if _, err := e.resources.CatchUp(ctx, villageID, now); err != nil {
		return nil, err
	}

	var result *models.Building
	var ownerID uuid.UUID
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		v, err := tx.GetVillageForUpdate(ctx, villageID)
		if err != nil {
			return err
		}
		ownerID = v.OwnerID

		buildingType, err := resolveSlotType(ctx, tx, v.ID, slot, requestedType)
		if err != nil {
			return err
		}
		def, ok := buildingtype.Get(buildingType)
		if !ok {
			return apperr.BadRequestf("unknown building type for slot %d", slot)
		}

		b, err := tx.GetBuilding(ctx, v.ID, slot)
		level := 0
		if err == store.ErrNotFound {
			b = &models.Building{ID: uuid.New(), VillageID: v.ID, Slot: slot, Type: buildingType, Level: 0, CreatedAt: now, UpdatedAt: now}
		} else if err != nil {
			return err
		} else {
			level = b.Level
		}
		if b.IsUpgrading {
			return apperr.BadRequestf("building at slot %d is already upgrading", slot)
		}
		if def.MaxLevel > 0 && level >= def.MaxLevel {
			return apperr.BadRequestf("building at slot %d is already at max level", slot)
		}

		nextLevel := level + 1
		if err := verifyPrerequisites(ctx, tx, v.ID, def); err != nil {
			return err
		}

		cost := def.CostAtLevel(nextLevel)
		buildSeconds := def.BuildTimeSecondsAtLevel(nextLevel)

		if err := deductCost(ctx, tx, v, cost); err != nil {
			return err
		}

		endsAt := now.Add(time.Duration(buildSeconds) * time.Second)
		b.IsUpgrading = true
		b.UpgradeEndsAt = &endsAt
		b.UpdatedAt = now

		if err := tx.UpsertBuildingStart(ctx, b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.bus.Publish(ownerID, eventbus.Event{Type: eventbus.VillageUpdated, Data: result})
	return result, nil
}

// Complete implements §4.C's "Completion" step: level += 1, clear
// upgrade flags, recompute storage/population. Safe to call redundantly
// (e.g. racing the scheduler and a finish-now call): CompleteBuilding is
// a no-op unless is_upgrading is still true.
func (e *Engine) Complete(ctx context.Context, buildingID uuid.UUID, now time.Time) error {
	return e.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.CompleteBuilding(ctx, buildingID)
		if err == store.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		if err := e.recomputeVillage(ctx, tx, b, now); err != nil {
			return err
		}
		e.resources.InvalidateSnapshot(ctx, b.VillageID)
		return nil
	})
}

// FinishNow completes the building immediately regardless of
// upgrade_ends_at, called by the Gold/Shop Engine after it has charged
// gold for the remaining time.
func (e *Engine) FinishNow(ctx context.Context, buildingID uuid.UUID, now time.Time) (*models.Building, error) {
	var result *models.Building
	var ownerID uuid.UUID
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		b, err := tx.CompleteBuilding(ctx, buildingID)
		if err != nil {
			return err
		}
		if err := e.recomputeVillage(ctx, tx, b, now); err != nil {
			return err
		}
		e.resources.InvalidateSnapshot(ctx, b.VillageID)
		v, err := tx.GetVillage(ctx, b.VillageID)
		if err != nil {
			return err
		}
		ownerID = v.OwnerID
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.bus.Publish(ownerID, eventbus.Event{Type: eventbus.BuildingComplete, Data: result})
	return result, nil
}

func (e *Engine) recomputeVillage(ctx context.Context, tx store.Tx, b *models.Building, now time.Time) error {
	buildings, err := tx.ListBuildings(ctx, b.VillageID)
	if err != nil {
		return err
	}
	population := 0
	warehouseCap, granaryCap := 0, 0
	for _, ob := range buildings {
		def, ok := buildingtype.Get(ob.Type)
		if !ok {
			continue
		}
		population += def.PopulationAtLevel(ob.Level)
		if def.AffectsWarehouse {
			if cap := def.StorageCapacity(ob.Level); cap > warehouseCap {
				warehouseCap = cap
			}
		}
		if def.AffectsGranary {
			if cap := def.StorageCapacity(ob.Level); cap > granaryCap {
				granaryCap = cap
			}
		}
	}
	if warehouseCap == 0 {
		warehouseCap = 1000
	}
	if granaryCap == 0 {
		granaryCap = 1000
	}
	return tx.UpdateVillageStorageAndPopulation(ctx, b.VillageID, warehouseCap, granaryCap, population)
}

// RunDue is the scheduler worker's tick body: complete every building
// whose upgrade_ends_at has passed.
func (e *Engine) RunDue(ctx context.Context, now time.Time) (int, error) {
	due, err := e.store.ListBuildingsDue(ctx, now)
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, b := range due {
		if err := e.Complete(ctx, b.ID, now); err != nil {
			e.logger.Error("building completion failed", zap.Stringer("building_id", b.ID), zap.Error(err))
			continue
		}
		completed++
		if v, err := e.store.GetVillage(ctx, b.VillageID); err == nil {
			e.bus.Publish(v.OwnerID, eventbus.Event{Type: eventbus.BuildingComplete, Data: b})
		}
	}
	return completed, nil
}

func resolveSlotType(ctx context.Context, tx store.Tx, villageID uuid.UUID, slot int, requestedType string) (string, error) {
	b, err := tx.GetBuilding(ctx, villageID, slot)
	if err != nil && err != store.ErrNotFound {
		return "", err
	}
	if err == nil {
		return b.Type, nil
	}

	if models.IsFieldSlot(slot) {
		resourceType := buildingtype.FieldSlotResourceType(slot)
		if resourceType == "" {
			return "", apperr.BadRequestf("slot %d is not a recognized field slot", slot)
		}
		return buildingtype.FieldTypeFor(resourceType), nil
	}

	if requestedType == "" {
		return "", apperr.BadRequestf("slot %d is empty; a building type must be specified", slot)
	}
	def, ok := buildingtype.Get(requestedType)
	if !ok || def.IsResourceField {
		return "", apperr.BadRequestf("%q is not a valid town building type", requestedType)
	}
	return requestedType, nil
}

func verifyPrerequisites(ctx context.Context, tx store.Tx, villageID uuid.UUID, def buildingtype.Def) error {
	if len(def.Prerequisites) == 0 {
		return nil
	}
	existing, err := tx.ListBuildings(ctx, villageID)
	if err != nil {
		return err
	}
	byType := make(map[string]int)
	for _, b := range existing {
		if b.Level > byType[b.Type] {
			byType[b.Type] = b.Level
		}
	}
	for _, p := range def.Prerequisites {
		if byType[p.Type] < p.MinLevel {
			return apperr.BadRequestf("prerequisite %s level %d not met", p.Type, p.MinLevel)
		}
	}
	return nil
}

func deductCost(ctx context.Context, tx store.Tx, v *models.Village, cost buildingtype.Cost) error {
	if v.Wood < cost.Wood || v.Clay < cost.Clay || v.Iron < cost.Iron || v.Crop < cost.Crop {
		return apperr.BadRequestf("insufficient resources")
	}
	v.Wood -= cost.Wood
	v.Clay -= cost.Clay
	v.Iron -= cost.Iron
	v.Crop -= cost.Crop
	v.UpdatedAt = time.Now().UTC()
	return tx.UpdateVillageResources(ctx, v)
}
