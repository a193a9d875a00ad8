package buildingengine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"server-backend/apperr"
	"server-backend/eventbus"
	"server-backend/models"
	"server-backend/resourceengine"
	"server-backend/storetest"
)

func newTestEngine() (*Engine, *storetest.Memory) {
	s := storetest.New()
	bus := eventbus.New()
	resources := resourceengine.New(s, nil, zap.NewNop())
	return New(s, resources, bus, zap.NewNop()), s
}

func newTestVillage(t *testing.T, s *storetest.Memory, ownerID uuid.UUID) *models.Village {
	t.Helper()
	now := time.Now().UTC()
	v := &models.Village{
		ID: uuid.New(), OwnerID: ownerID, Name: "capital", X: 0, Y: 0, IsCapital: true,
		Wood: 1000, Clay: 1000, Iron: 1000, Crop: 1000,
		WarehouseCapacity: 1000, GranaryCapacity: 1000,
		ResourcesUpdatedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateVillage(context.Background(), v); err != nil {
		t.Fatalf("seed village: %v", err)
	}
	return v
}

func TestStartUpgradeDeductsCostAndSchedulesCompletion(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)
	now := time.Now().UTC()

	b, err := e.StartUpgrade(context.Background(), v.ID, 1, "cranny", now)
	if err != nil {
		t.Fatalf("StartUpgrade: %v", err)
	}
	if !b.IsUpgrading || b.UpgradeEndsAt == nil {
		t.Fatalf("expected the building to be marked upgrading with an end time, got %+v", b)
	}

	got, err := s.GetVillage(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("GetVillage: %v", err)
	}
	if got.Wood != 1000-40 || got.Clay != 1000-50 || got.Iron != 1000-30 || got.Crop != 1000-10 {
		t.Fatalf("unexpected post-deduction resources: %+v", got)
	}
}

func TestStartUpgradeRejectsInsufficientResources(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)
	v.Wood = 0
	if err := s.UpdateVillageResources(context.Background(), v); err != nil {
		t.Fatalf("UpdateVillageResources: %v", err)
	}

	_, err := e.StartUpgrade(context.Background(), v.ID, 1, "cranny", time.Now().UTC())
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestStartUpgradeRejectsAlreadyUpgrading(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)
	now := time.Now().UTC()

	if _, err := e.StartUpgrade(context.Background(), v.ID, 1, "cranny", now); err != nil {
		t.Fatalf("first StartUpgrade: %v", err)
	}
	_, err := e.StartUpgrade(context.Background(), v.ID, 1, "cranny", now)
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("second StartUpgrade kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestStartUpgradeRequiresRequestedTypeForEmptySlot(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)

	_, err := e.StartUpgrade(context.Background(), v.ID, 2, "", time.Now().UTC())
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestStartUpgradeRejectsUnmetPrerequisite(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)

	// barracks requires main_building level 3; the village has none built.
	_, err := e.StartUpgrade(context.Background(), v.ID, 2, "barracks", time.Now().UTC())
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestCompleteAdvancesLevelAndIsIdempotent(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)
	now := time.Now().UTC()

	b, err := e.StartUpgrade(context.Background(), v.ID, 1, "cranny", now)
	if err != nil {
		t.Fatalf("StartUpgrade: %v", err)
	}

	if err := e.Complete(context.Background(), b.ID, now.Add(time.Hour)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, err := s.GetBuildingByID(context.Background(), b.ID)
	if err != nil {
		t.Fatalf("GetBuildingByID: %v", err)
	}
	if got.Level != 1 || got.IsUpgrading {
		t.Fatalf("expected level 1 and not upgrading after completion, got %+v", got)
	}

	// Second Complete call against the same building must be a no-op
	// instead of erroring, since CompleteBuilding only acts while
	// is_upgrading is still true.
	if err := e.Complete(context.Background(), b.ID, now.Add(2*time.Hour)); err != nil {
		t.Fatalf("redundant Complete: %v", err)
	}
}

func TestFinishNowCompletesRegardlessOfEndTime(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)
	now := time.Now().UTC()

	b, err := e.StartUpgrade(context.Background(), v.ID, 1, "cranny", now)
	if err != nil {
		t.Fatalf("StartUpgrade: %v", err)
	}

	got, err := e.FinishNow(context.Background(), b.ID, now)
	if err != nil {
		t.Fatalf("FinishNow: %v", err)
	}
	if got.Level != 1 || got.IsUpgrading {
		t.Fatalf("expected finished building at level 1, got %+v", got)
	}
}

func TestRunDueCompletesOnlyBuildingsPastTheirEndTime(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)
	now := time.Now().UTC()

	b, err := e.StartUpgrade(context.Background(), v.ID, 1, "cranny", now)
	if err != nil {
		t.Fatalf("StartUpgrade: %v", err)
	}

	count, err := e.RunDue(context.Background(), now)
	if err != nil {
		t.Fatalf("RunDue before end time: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0 before the build timer elapses", count)
	}

	count, err = e.RunDue(context.Background(), *b.UpgradeEndsAt)
	if err != nil {
		t.Fatalf("RunDue at end time: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 once the build timer elapses", count)
	}
}
