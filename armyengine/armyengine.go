// Package armyengine is the Army Engine (§4.E): dispatching a movement,
// resolving mission-type-specific effects on arrival with exactly-once
// processing, and the periodic starvation-pressure job.
//
// Grounded on the reference's services/battle_service.go dispatch/
// resolution shape, generalized from its Redis-counter attack-rate-limit
// pattern into a plain dispatch operation (dispatch is not rate limited:
// neither this package nor the httpapi dispatch route applies a limiter),
// and its travel-time computation extended to the spec's "slowest troop"
// rule using troopdef.SlowestSpeed.
package armyengine

import (
	"context"
	"math"
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

// MaxRaidReturnFraction is the fraction of the loser's resources the
// winning raid may carry home, bounding the "capped volume of resources"
// §4.E names without fixing an exact combat formula (that formula is
// explicitly out-of-scope, §4.E).
const MaxRaidReturnFraction = 0.25

// Dispatch implements §4.E's movement creation.
func (e *Engine) Dispatch(ctx context.Context, sourceVillageID, destVillageID uuid.UUID, mission models.MissionType, troops map[string]int, now time.Time) (*models.ArmyMovement, error) {
	if len(troops) == 0 {
		return nil, apperr.BadRequestf("at least one troop type must be sent")
	}

	var result *models.ArmyMovement
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		source, err := tx.GetVillageForUpdate(ctx, sourceVillageID)
		if err != nil {
			return err
		}
		dest, err := tx.GetVillage(ctx, destVillageID)
		if err != nil {
			return err
		}

		for troopType, count := range troops {
			if count <= 0 {
				continue
			}
			holding, err := tx.GetTroopHolding(ctx, sourceVillageID, troopType)
			if err != nil {
				return err
			}
			if holding.Count < count {
				return apperr.BadRequestf("insufficient %s garrison", troopType)
			}
		}
		for troopType, count := range troops {
			if count <= 0 {
				continue
			}
			if err := tx.AddTroops(ctx, sourceVillageID, troopType, -count); err != nil {
				return err
			}
		}

		travel := travelTime(source, dest, troops)
		m := &models.ArmyMovement{
			ID:              uuid.New(),
			SourceVillageID: sourceVillageID,
			DestVillageID:   destVillageID,
			OwnerID:         source.OwnerID,
			Mission:         mission,
			Troops:          troops,
			DispatchedAt:    now,
			ArrivesAt:       now.Add(travel),
		}
		if err := tx.InsertArmyMovement(ctx, m); err != nil {
			return err
		}
		result = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func travelTime(source, dest *models.Village, troops map[string]int) time.Duration {
	dx := float64(dest.X - source.X)
	dy := float64(dest.Y - source.Y)
	fields := math.Sqrt(dx*dx + dy*dy)
	speed := float64(troopdef.SlowestSpeed(troops))
	hours := fields / speed
	return time.Duration(hours * float64(time.Hour))
}

// RunDue is the scheduler worker's tick body: resolve every movement
// whose arrives_at has passed. Each movement row is deleted as part of
// resolution, so a movement id is processed at most once even if two
// ticks race (the second tick's DeleteArmyMovement against an already-
// deleted row is a silent no-op).
func (e *Engine) RunDue(ctx context.Context, now time.Time) (int, error) {
	due, err := e.store.ListArmyMovementsDue(ctx, now)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, m := range due {
		if err := e.resolve(ctx, m, now); err != nil {
			e.logger.Error("army movement resolution failed", zap.Stringer("movement_id", m.ID), zap.Error(err))
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (e *Engine) resolve(ctx context.Context, m *models.ArmyMovement, now time.Time) error {
	switch m.Mission {
	case models.MissionReinforce:
		return e.resolveReinforce(ctx, m)
	case models.MissionReturn:
		return e.resolveReturn(ctx, m, now)
	case models.MissionRaid, models.MissionAttack:
		return e.resolveAttack(ctx, m, now)
	default:
		return apperr.Internalf(nil, "unknown mission type %q", m.Mission)
	}
}

func (e *Engine) resolveReinforce(ctx context.Context, m *models.ArmyMovement) error {
	var ownerID uuid.UUID
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		dest, err := tx.GetVillageForUpdate(ctx, m.DestVillageID)
		if err != nil {
			return err
		}
		ownerID = dest.OwnerID
		for troopType, count := range m.Troops {
			if count <= 0 {
				continue
			}
			if err := tx.AddTroops(ctx, m.DestVillageID, troopType, count); err != nil {
				return err
			}
		}
		return tx.DeleteArmyMovement(ctx, m.ID)
	})
	if err != nil {
		return err
	}
	e.bus.Publish(ownerID, eventbus.Event{Type: eventbus.ArmyArrived, Data: m})
	return nil
}

func (e *Engine) resolveReturn(ctx context.Context, m *models.ArmyMovement, now time.Time) error {
	var ownerID uuid.UUID
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		v, err := tx.GetVillageForUpdate(ctx, m.SourceVillageID)
		if err != nil {
			return err
		}
		ownerID = v.OwnerID
		for troopType, count := range m.Troops {
			if count <= 0 {
				continue
			}
			if err := tx.AddTroops(ctx, m.SourceVillageID, troopType, count); err != nil {
				return err
			}
		}
		v.Wood = clamp(v.Wood+m.CarriedWood, 0, v.WarehouseCapacity)
		v.Clay = clamp(v.Clay+m.CarriedClay, 0, v.WarehouseCapacity)
		v.Iron = clamp(v.Iron+m.CarriedIron, 0, v.WarehouseCapacity)
		v.Crop = clamp(v.Crop+m.CarriedCrop, 0, v.GranaryCapacity)
		v.ResourcesUpdatedAt = now
		if err := tx.UpdateVillageResources(ctx, v); err != nil {
			return err
		}
		return tx.DeleteArmyMovement(ctx, m.ID)
	})
	if err != nil {
		return err
	}
	e.bus.Publish(ownerID, eventbus.Event{Type: eventbus.ArmyArrived, Data: m})
	return nil
}

// resolveAttack applies a deterministic, simplified combat resolution
// (the formula itself is explicitly out-of-scope per §4.E): each side
// loses a share of its troops proportional to the other side's total
// strength, and any attacker survivors are dispatched home as a new
// `return` movement, carrying a capped volume of the defender's
// resources when the mission is a raid the attacker won.
func (e *Engine) resolveAttack(ctx context.Context, m *models.ArmyMovement, now time.Time) error {
	var defenderOwnerID, attackerOwnerID uuid.UUID
	err := e.store.WithTx(ctx, func(tx store.Tx) error {
		dest, err := tx.GetVillageForUpdate(ctx, m.DestVillageID)
		if err != nil {
			return err
		}
		defenderOwnerID = dest.OwnerID

		source, err := tx.GetVillage(ctx, m.SourceVillageID)
		if err != nil {
			return err
		}
		attackerOwnerID = source.OwnerID

		defHoldings, err := tx.ListTroopHoldings(ctx, m.DestVillageID)
		if err != nil {
			return err
		}

		attackStrength := 0
		for troopType, count := range m.Troops {
			if d, ok := troopdef.Get(troopType); ok {
				attackStrength += d.Attack * count
			}
		}
		defenseStrength := 0
		for _, h := range defHoldings {
			if d, ok := troopdef.Get(h.TroopType); ok {
				defenseStrength += d.Defense * h.Count
			}
		}
		attackerWins := attackStrength > defenseStrength

		// Each side's loss fraction is the other side's share of combined
		// strength: a stronger attacker inflicts heavier defender losses
		// and takes lighter losses itself, and vice versa.
		total := attackStrength + defenseStrength
		attackerLossFraction, defenderLossFraction := 0.0, 0.0
		if total > 0 {
			attackerLossFraction = float64(defenseStrength) / float64(total)
			defenderLossFraction = float64(attackStrength) / float64(total)
		}

		survivors := make(map[string]int, len(m.Troops))
		for troopType, count := range m.Troops {
			lost := int(math.Round(float64(count) * attackerLossFraction))
			if remaining := count - lost; remaining > 0 {
				survivors[troopType] = remaining
			}
		}
		for _, h := range defHoldings {
			lost := int(math.Round(float64(h.Count) * defenderLossFraction))
			if lost > 0 {
				if err := tx.AddTroops(ctx, m.DestVillageID, h.TroopType, -lost); err != nil {
					return err
				}
			}
		}

		var carriedWood, carriedClay, carriedIron, carriedCrop int
		if m.Mission == models.MissionRaid && attackerWins && len(survivors) > 0 {
			carriedWood = int(float64(dest.Wood) * MaxRaidReturnFraction)
			carriedClay = int(float64(dest.Clay) * MaxRaidReturnFraction)
			carriedIron = int(float64(dest.Iron) * MaxRaidReturnFraction)
			carriedCrop = int(float64(dest.Crop) * MaxRaidReturnFraction)
			dest.Wood -= carriedWood
			dest.Clay -= carriedClay
			dest.Iron -= carriedIron
			dest.Crop -= carriedCrop
			dest.ResourcesUpdatedAt = now
			if err := tx.UpdateVillageResources(ctx, dest); err != nil {
				return err
			}
		}

		if len(survivors) > 0 {
			travel := m.ArrivesAt.Sub(m.DispatchedAt)
			home := &models.ArmyMovement{
				ID:              uuid.New(),
				SourceVillageID: m.SourceVillageID,
				DestVillageID:   m.SourceVillageID,
				OwnerID:         attackerOwnerID,
				Mission:         models.MissionReturn,
				Troops:          survivors,
				CarriedWood:     carriedWood,
				CarriedClay:     carriedClay,
				CarriedIron:     carriedIron,
				CarriedCrop:     carriedCrop,
				DispatchedAt:    now,
				ArrivesAt:       now.Add(travel),
			}
			if err := tx.InsertArmyMovement(ctx, home); err != nil {
				return err
			}
		}

		return tx.DeleteArmyMovement(ctx, m.ID)
	})
	if err != nil {
		return err
	}
	e.bus.Publish(defenderOwnerID, eventbus.Event{Type: eventbus.AttackIncoming, Data: m})
	e.bus.Publish(attackerOwnerID, eventbus.Event{Type: eventbus.ArmyArrived, Data: m})
	return nil
}

// RunStarvation implements §4.E's "Starvation pressure" job.
func (e *Engine) RunStarvation(ctx context.Context, villageIDs []uuid.UUID) (int, error) {
	affected := 0
	for _, villageID := range villageIDs {
		var ownerID uuid.UUID
		var killed string
		err := e.store.WithTx(ctx, func(tx store.Tx) error {
			v, err := tx.GetVillageForUpdate(ctx, villageID)
			if err != nil {
				return err
			}
			if v.Crop > 0 {
				return nil
			}
			ownerID = v.OwnerID
			holdings, err := tx.ListTroopHoldings(ctx, villageID)
			if err != nil {
				return err
			}
			counts := make(map[string]int, len(holdings))
			for _, h := range holdings {
				counts[h.TroopType] = h.Count
			}
			killed = troopdef.HighestConsumptionPresent(counts)
			if killed == "" {
				return nil
			}
			return tx.AddTroops(ctx, villageID, killed, -1)
		})
		if err != nil {
			e.logger.Error("starvation job failed", zap.Stringer("village_id", villageID), zap.Error(err))
			continue
		}
		if killed != "" {
			affected++
			e.bus.Publish(ownerID, eventbus.Event{Type: eventbus.TroopsStarved, Data: map[string]any{"village_id": villageID, "troop_type": killed}})
		}
	}
	return affected, nil
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
