package trainingengine

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

// newTestVillage seeds a village with a level-1 barracks at slot 2, the
// fixed slot requiredBuildingSlot assigns it, so legionnaire training is
// unlocked.
func newTestVillage(t *testing.T, s *storetest.Memory, ownerID uuid.UUID) *models.Village {
	t.Helper()
	now := time.Now().UTC()
	v := &models.Village{
		ID: uuid.New(), OwnerID: ownerID, Name: "capital", X: 0, Y: 0, IsCapital: true,
		Wood: 100_000, Clay: 100_000, Iron: 100_000, Crop: 100_000,
		WarehouseCapacity: 1_000_000, GranaryCapacity: 1_000_000,
		ResourcesUpdatedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateVillage(context.Background(), v); err != nil {
		t.Fatalf("seed village: %v", err)
	}
	barracks := &models.Building{ID: uuid.New(), VillageID: v.ID, Slot: 2, Type: "barracks", Level: 1, CreatedAt: now, UpdatedAt: now}
	if err := s.UpsertBuildingStart(context.Background(), barracks); err != nil {
		t.Fatalf("seed barracks: %v", err)
	}
	return v
}

func TestEnqueueDeductsCostAndSchedules(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)
	now := time.Now().UTC()

	entry, err := e.Enqueue(context.Background(), v.ID, "legionnaire", 10, now)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if entry.Count != 10 || !entry.StartedAt.Equal(now) {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	got, err := s.GetVillage(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("GetVillage: %v", err)
	}
	if got.Wood != 100_000-1200 {
		t.Fatalf("wood = %d, want %d", got.Wood, 100_000-1200)
	}
}

func TestEnqueueRejectsMissingPrerequisiteBuilding(t *testing.T) {
	s := storetest.New()
	e := New(s, eventbus.New(), zap.NewNop())
	owner := uuid.New()
	now := time.Now().UTC()
	v := &models.Village{
		ID: uuid.New(), OwnerID: owner, Name: "capital",
		Wood: 100_000, Clay: 100_000, Iron: 100_000, Crop: 100_000,
		WarehouseCapacity: 1_000_000, GranaryCapacity: 1_000_000,
		ResourcesUpdatedAt: now, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.CreateVillage(context.Background(), v); err != nil {
		t.Fatalf("seed village: %v", err)
	}

	_, err := e.Enqueue(context.Background(), v.ID, "legionnaire", 1, now)
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("kind = %v, want BadRequest", apperr.KindOf(err))
	}
}

func TestEnqueueSecondBatchStartsAfterFirstEnds(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)
	now := time.Now().UTC()

	first, err := e.Enqueue(context.Background(), v.ID, "legionnaire", 1, now)
	if err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	second, err := e.Enqueue(context.Background(), v.ID, "legionnaire", 1, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}

	if !second.StartedAt.Equal(first.EndsAt) {
		t.Fatalf("second.StartedAt = %v, want %v (queued behind the first batch)", second.StartedAt, first.EndsAt)
	}
}

func TestCompleteAddsTroopsAndRemovesEntry(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)
	now := time.Now().UTC()

	entry, err := e.Enqueue(context.Background(), v.ID, "legionnaire", 5, now)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := e.Complete(context.Background(), entry.ID); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	holding, err := s.GetTroopHolding(context.Background(), v.ID, "legionnaire")
	if err != nil {
		t.Fatalf("GetTroopHolding: %v", err)
	}
	if holding.Count != 5 {
		t.Fatalf("troop count = %d, want 5", holding.Count)
	}
	if _, err := s.GetTrainingEntry(context.Background(), entry.ID); err == nil {
		t.Fatalf("expected the training entry to be deleted after completion")
	}
}

func TestCancelRefunds75PercentAndRemovesEntry(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)
	now := time.Now().UTC()

	// queue a first long batch so the second is not yet head-of-queue
	if _, err := e.Enqueue(context.Background(), v.ID, "legionnaire", 100, now); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	before, err := s.GetVillage(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("GetVillage: %v", err)
	}
	entry, err := e.Enqueue(context.Background(), v.ID, "legionnaire", 10, now)
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}

	if err := e.Cancel(context.Background(), entry.ID, now); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	after, err := s.GetVillage(context.Background(), v.ID)
	if err != nil {
		t.Fatalf("GetVillage: %v", err)
	}
	// cost of 10 legionnaires = {1200, 1000, 1500, 300}; refund75 floors
	// each at 3/4.
	wantWood := before.Wood - 1200 + (1200 * 3 / 4)
	if after.Wood != wantWood {
		t.Fatalf("wood after cancel = %d, want %d", after.Wood, wantWood)
	}
	if _, err := s.GetTrainingEntry(context.Background(), entry.ID); err == nil {
		t.Fatalf("expected the training entry to be deleted after cancellation")
	}
}

func TestCancelRejectsHeadOfQueueEntry(t *testing.T) {
	e, s := newTestEngine()
	owner := uuid.New()
	v := newTestVillage(t, s, owner)
	now := time.Now().UTC()

	entry, err := e.Enqueue(context.Background(), v.ID, "legionnaire", 1, now)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	err = e.Cancel(context.Background(), entry.ID, now)
	if apperr.KindOf(err) != apperr.BadRequest {
		t.Fatalf("kind = %v, want BadRequest", apperr.KindOf(err))
	}
}
