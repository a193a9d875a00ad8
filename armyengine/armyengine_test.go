package armyengine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"server-backend/apperr"
	"server-backend/eventbus"
	"server-backend/models"
	"server-backend/storetest"
)

func newTestEngine() (*Engine, *storetest.Memory) {
	s := storetest.New()
	return New(s, eventbus.New(), zap.NewNop()), s
}

func newTestVillage(t *testing.T, s *storetest.Memory, ownerID uuid.UUID, x, y int) *models.Village {
	t.Helper()
	now := time.Now().UTC()
	v := &models.Village{
		ID: uuid.New(), OwnerID: ownerID, Name: "capital", X: x, Y: y, IsCapital: true,
		Wood: 1000, Clay: 1000, Iron: 1000, Crop: 1000,
		WarehouseCapacity: 1_000_000, GranaryCapacity: 1_000_000,
		ResourcesUpdatedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateVillage(context.Background(), v); err != nil {
		t.Fatalf("seed village: %v", err)
	}
	return v
}

func TestDispatchRejectsEmptyTroops(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	source := newTestVillage(t, s, owner, 0, 0)
	dest := newTestVillage(t, s, uuid.New(), 3, 4)

	_, err := e.Dispatch(context.Background(), source.ID, dest.ID, models.MissionReinforce, map[string]int{}, time.Now().UTC())
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestDispatchRejectsInsufficientGarrison(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	source := newTestVillage(t, s, owner, 0, 0)
	dest := newTestVillage(t, s, uuid.New(), 3, 4)

	_, err := e.Dispatch(context.Background(), source.ID, dest.ID, models.MissionReinforce, map[string]int{"legionnaire": 5}, time.Now().UTC())
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestDispatchDeductsGarrisonAndComputesTravelTimeBySlowestTroop(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	source := newTestVillage(t, s, owner, 0, 0)
	dest := newTestVillage(t, s, uuid.New(), 30, 40)
	if err := s.AddTroops(context.Background(), source.ID, "legionnaire", 10); err != nil {
		t.Fatalf("seed legionnaire: %v", err)
	}
	if err := s.AddTroops(context.Background(), source.ID, "battering_ram", 1); err != nil {
		t.Fatalf("seed battering_ram: %v", err)
	}

	now := time.Now().UTC()
	m, err := e.Dispatch(context.Background(), source.ID, dest.ID, models.MissionAttack, map[string]int{"legionnaire": 10, "battering_ram": 1}, now)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	// distance = sqrt(30^2+40^2) = 50 fields; slowest troop present is the
	// battering_ram at 4 fields/hour, so travel = 50/4 = 12.5 hours.
	wantArrival := now.Add(time.Duration(12.5 * float64(time.Hour)))
	if !m.ArrivesAt.Equal(wantArrival) {
		t.Fatalf("ArrivesAt = %v, want %v", m.ArrivesAt, wantArrival)
	}

	holding, err := s.GetTroopHolding(context.Background(), source.ID, "legionnaire")
	if err != nil {
		t.Fatalf("GetTroopHolding: %v", err)
	}
	if holding.Count != 0 {
		t.Fatalf("legionnaire count = %d, want 0 after dispatch", holding.Count)
	}
}

func TestRunDueResolvesReinforceByAddingTroopsAtDestination(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	source := newTestVillage(t, s, owner, 0, 0)
	dest := newTestVillage(t, s, uuid.New(), 3, 4)
	if err := s.AddTroops(context.Background(), source.ID, "legionnaire", 10); err != nil {
		t.Fatalf("seed legionnaire: %v", err)
	}

	now := time.Now().UTC()
	m, err := e.Dispatch(context.Background(), source.ID, dest.ID, models.MissionReinforce, map[string]int{"legionnaire": 10}, now)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	count, err := e.RunDue(context.Background(), m.ArrivesAt)
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if count != 1 {
		t.Fatalf("resolved = %d, want 1", count)
	}

	holding, err := s.GetTroopHolding(context.Background(), dest.ID, "legionnaire")
	if err != nil {
		t.Fatalf("GetTroopHolding: %v", err)
	}
	if holding.Count != 10 {
		t.Fatalf("dest legionnaire count = %d, want 10", holding.Count)
	}

	due, err := s.ListArmyMovementsDue(context.Background(), m.ArrivesAt)
	if err != nil {
		t.Fatalf("ListArmyMovementsDue: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected the resolved movement to be deleted, still have %d due", len(due))
	}
}

func TestRunDueResolvesReturnByRestoringTroopsAndCarriedResources(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	source := newTestVillage(t, s, owner, 0, 0)
	now := time.Now().UTC()

	m := &models.ArmyMovement{
		ID: uuid.New(), SourceVillageID: source.ID, DestVillageID: source.ID, OwnerID: owner,
		Mission: models.MissionReturn, Troops: map[string]int{"legionnaire": 3},
		CarriedWood: 100, CarriedClay: 50, CarriedIron: 25, CarriedCrop: 10,
		DispatchedAt: now, ArrivesAt: now,
	}
	if err := s.InsertArmyMovement(context.Background(), m); err != nil {
		t.Fatalf("InsertArmyMovement: %v", err)
	}

	count, err := e.RunDue(context.Background(), now)
	if err != nil {
		t.Fatalf("RunDue: %v", err)
	}
	if count != 1 {
		t.Fatalf("resolved = %d, want 1", count)
	}

	holding, err := s.GetTroopHolding(context.Background(), source.ID, "legionnaire")
	if err != nil {
		t.Fatalf("GetTroopHolding: %v", err)
	}
	if holding.Count != 3 {
		t.Fatalf("legionnaire count = %d, want 3", holding.Count)
	}

	got, err := s.GetVillage(context.Background(), source.ID)
	if err != nil {
		t.Fatalf("GetVillage: %v", err)
	}
	if got.Wood != 1100 || got.Clay != 1050 || got.Iron != 1025 || got.Crop != 1010 {
		t.Fatalf("unexpected post-return resources: %+v", got)
	}
}

func TestRunDueResolvesAttackWithAttackerAdvantageSurvivorsReturning(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	source := newTestVillage(t, s, owner, 0, 0)
	dest := newTestVillage(t, s, uuid.New(), 3, 4)
	if err := s.AddTroops(context.Background(), dest.ID, "legionnaire", 1); err != nil {
		t.Fatalf("seed defender: %v", err)
	}
	if err := s.AddTroops(context.Background(), source.ID, "equites_imperatoris", 10); err != nil {
		t.Fatalf("seed attacker: %v", err)
	}

	now := time.Now().UTC()
	m, err := e.Dispatch(context.Background(), source.ID, dest.ID, models.MissionRaid, map[string]int{"equites_imperatoris": 10}, now)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if _, err := e.RunDue(context.Background(), m.ArrivesAt); err != nil {
		t.Fatalf("RunDue: %v", err)
	}

	due, err := s.ListArmyMovementsDue(context.Background(), m.ArrivesAt.Add(365*24*time.Hour))
	if err != nil {
		t.Fatalf("ListArmyMovementsDue: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected exactly one pending return movement, got %d", len(due))
	}
	if due[0].Mission != models.MissionReturn {
		t.Fatalf("mission = %v, want return", due[0].Mission)
	}
	if due[0].CarriedWood <= 0 {
		t.Fatalf("expected the winning raid to carry home resources, got CarriedWood=%d", due[0].CarriedWood)
	}

	defHolding, err := s.GetTroopHolding(context.Background(), dest.ID, "legionnaire")
	if err != nil {
		t.Fatalf("GetTroopHolding: %v", err)
	}
	if defHolding.Count != 0 {
		t.Fatalf("defender legionnaire count = %d, want 0 after an overwhelming loss", defHolding.Count)
	}
}

func TestRunStarvationKillsHighestConsumptionTroopWhenCropIsZero(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner, 0, 0)
	v.Crop = 0
	if err := s.UpdateVillageResources(context.Background(), v); err != nil {
		t.Fatalf("UpdateVillageResources: %v", err)
	}
	if err := s.AddTroops(context.Background(), v.ID, "legionnaire", 5); err != nil {
		t.Fatalf("seed legionnaire: %v", err)
	}
	if err := s.AddTroops(context.Background(), v.ID, "fire_catapult", 1); err != nil {
		t.Fatalf("seed fire_catapult: %v", err)
	}

	affected, err := e.RunStarvation(context.Background(), []uuid.UUID{v.ID})
	if err != nil {
		t.Fatalf("RunStarvation: %v", err)
	}
	if affected != 1 {
		t.Fatalf("affected = %d, want 1", affected)
	}

	// fire_catapult has the highest crop consumption (6) of the two
	// garrisoned types, so it is the one culled.
	catapult, err := s.GetTroopHolding(context.Background(), v.ID, "fire_catapult")
	if err != nil {
		t.Fatalf("GetTroopHolding: %v", err)
	}
	if catapult.Count != 0 {
		t.Fatalf("fire_catapult count = %d, want 0", catapult.Count)
	}
	legionnaire, err := s.GetTroopHolding(context.Background(), v.ID, "legionnaire")
	if err != nil {
		t.Fatalf("GetTroopHolding: %v", err)
	}
	if legionnaire.Count != 5 {
		t.Fatalf("legionnaire count = %d, want untouched at 5", legionnaire.Count)
	}
}

func TestRunStarvationSkipsVillagesWithPositiveCrop(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner, 0, 0)
	if err := s.AddTroops(context.Background(), v.ID, "legionnaire", 5); err != nil {
		t.Fatalf("seed legionnaire: %v", err)
	}

	affected, err := e.RunStarvation(context.Background(), []uuid.UUID{v.ID})
	if err != nil {
		t.Fatalf("RunStarvation: %v", err)
	}
	if affected != 0 {
		t.Fatalf("affected = %d, want 0 when crop is positive", affected)
	}
}
