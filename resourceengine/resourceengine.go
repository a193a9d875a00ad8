// Package resourceengine is the Resource Engine (§4.B): given a village
// and a reference instant, computes production rates under active
// bonuses and crop consumption, applies elapsed-time accrual clamped to
// storage caps, and writes the result back.
//
// Grounded on the reference's services/resource_service.go
// UpdateResources, corrected to drop its premature "at least 6 minutes
// elapsed" gate and its truncating (not flooring) treatment of a
// negative crop rate — both deviate from §4.B's contract.
package resourceengine

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"server-backend/buildingtype"
	"server-backend/cache"
	"server-backend/models"
	"server-backend/store"
	"server-backend/troopdef"
)

// snapshotTTL bounds how long a cached production rate may be served
// before computeRates runs again, short enough that a building
// completion or bonus purchase is never stale for long.
const snapshotTTL = 2 * time.Minute

type Engine struct {
	store  store.Store
	cache  *cache.Cache
	logger *zap.Logger
}

// New builds an Engine. cache may be nil, in which case every rate
// computation reads through to the store.
func New(s store.Store, c *cache.Cache, logger *zap.Logger) *Engine {
	return &Engine{store: s, cache: c, logger: logger}
}

// Rates is the per-resource hourly production/consumption for a village
// at a point in time, before elapsed-time accrual is applied. Kept as
// float64 so a fractional multiplier (e.g. a 1.25x bonus) is only
// floored once, against rate·Δh, per §4.B — not pre-floored here and
// then floored again in floorRate.
type Rates struct {
	Wood float64
	Clay float64
	Iron float64
	Crop float64
}

// CatchUp applies accrual between the village's resources_updated_at and
// now, writes back the four resource amounts and the new timestamp, and
// returns the refreshed village. Runs in one transaction with bounded
// retry on a serialization conflict, delegated to store.WithTx.
func (e *Engine) CatchUp(ctx context.Context, villageID uuid.UUID, now time.Time) (*models.Village, error) {
	var result *models.Village
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		v, err := tx.GetVillageForUpdate(ctx, villageID)
		if err != nil {
			return err
		}

		rates, err := e.ratesFor(ctx, tx, v, now)
		if err != nil {
			return err
		}

		deltaHours := now.Sub(v.ResourcesUpdatedAt).Hours()
		if deltaHours < 0 {
			deltaHours = 0
		}

		v.Wood = clamp(v.Wood+floorRate(rates.Wood, deltaHours), 0, v.WarehouseCapacity)
		v.Clay = clamp(v.Clay+floorRate(rates.Clay, deltaHours), 0, v.WarehouseCapacity)
		v.Iron = clamp(v.Iron+floorRate(rates.Iron, deltaHours), 0, v.WarehouseCapacity)
		v.Crop = clamp(v.Crop+floorRate(rates.Crop, deltaHours), 0, v.GranaryCapacity)
		v.ResourcesUpdatedAt = now

		if err := tx.UpdateVillageResources(ctx, v); err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ratesFor serves a cached Rates snapshot when available, falling back
// to computeRates on a miss and refreshing the cache for snapshotTTL.
func (e *Engine) ratesFor(ctx context.Context, tx store.Tx, v *models.Village, now time.Time) (Rates, error) {
	var rates Rates
	if e.cache.GetProductionSnapshot(ctx, v.ID.String(), &rates) {
		return rates, nil
	}
	rates, err := e.computeRates(ctx, tx, v, now)
	if err != nil {
		return Rates{}, err
	}
	e.cache.SetProductionSnapshot(ctx, v.ID.String(), rates, snapshotTTL)
	return rates, nil
}

// InvalidateSnapshot drops villageID's cached production rates, called by
// the Building Engine when a building upgrade completes. Bonus purchases
// do not call it, so a new bonus reaches the cached rates only once the
// snapshot expires after snapshotTTL.
func (e *Engine) InvalidateSnapshot(ctx context.Context, villageID uuid.UUID) {
	e.cache.InvalidateProductionSnapshot(ctx, villageID.String())
}

// computeRates sums base + field production per resource, applies the
// combined bonus multiplier, and subtracts crop consumption.
func (e *Engine) computeRates(ctx context.Context, tx store.Tx, v *models.Village, now time.Time) (Rates, error) {
	buildings, err := tx.ListBuildings(ctx, v.ID)
	if err != nil {
		return Rates{}, err
	}

	base := map[string]int{"wood": buildingtype.BaseProductionPerHour, "clay": buildingtype.BaseProductionPerHour,
		"iron": buildingtype.BaseProductionPerHour, "crop": buildingtype.BaseProductionPerHour}
	for _, b := range buildings {
		def, ok := buildingtype.Get(b.Type)
		if !ok || !def.IsResourceField {
			continue
		}
		base[def.ProducesResource] += def.ProductionPerHour(b.Level)
	}

	bonuses, err := tx.ListActiveBonuses(ctx, v.OwnerID, v.ID, now)
	if err != nil {
		return Rates{}, err
	}

	holdings, err := tx.ListTroopHoldings(ctx, v.ID)
	if err != nil {
		return Rates{}, err
	}
	counts := make(map[string]int, len(holdings))
	for _, h := range holdings {
		counts[h.TroopType] = h.Count
	}
	cropConsumption := v.Population + troopdef.TotalCropConsumption(counts)

	return Rates{
		Wood: applyMultiplier(base["wood"], resourceMultiplier(bonuses, "wood")),
		Clay: applyMultiplier(base["clay"], resourceMultiplier(bonuses, "clay")),
		Iron: applyMultiplier(base["iron"], resourceMultiplier(bonuses, "iron")),
		Crop: applyMultiplier(base["crop"], resourceMultiplier(bonuses, "crop")) - float64(cropConsumption),
	}, nil
}

// resourceMultiplier implements §4.B's per-resource formula exactly:
// 1 + 0.25·[plus_active] + 0.25·[specific_bonus_active(r)] +
// 1.0·[book_of_wisdom_active], over already-filtered non-expired bonuses.
// plus_subscription and book_of_wisdom apply to every resource;
// production_bonus applies only when its ResourceType matches r.
func resourceMultiplier(bonuses []*models.Bonus, resourceType string) float64 {
	m := 1.0
	for _, b := range bonuses {
		switch b.Type {
		case models.BonusPlusSubscription:
			m += 0.25
		case models.BonusBookOfWisdom:
			m += 1.0
		case models.BonusProductionBonus:
			if b.ResourceType != nil && *b.ResourceType == resourceType {
				m += 0.25
			}
		}
	}
	return m
}

func applyMultiplier(base int, multiplier float64) float64 {
	return float64(base) * multiplier
}

// floorRate applies the flooring rule from §4.B step 2/3 once, to the
// full rate·Δh product, which for a negative crop rate means flooring
// toward negative infinity (e.g. -1.5 → -2), not truncating toward zero.
func floorRate(rate float64, deltaHours float64) int {
	return int(math.Floor(rate * deltaHours))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
