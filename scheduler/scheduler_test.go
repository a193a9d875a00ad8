package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"server-backend/armyengine"
	"server-backend/eventbus"
	"server-backend/models"
	"server-backend/resourceengine"
	"server-backend/storetest"
)

func newTestScheduler(s *storetest.Memory) *Scheduler {
	bus := eventbus.New()
	resources := resourceengine.New(s, nil, zap.NewNop())
	army := armyengine.New(s, bus, zap.NewNop())
	return New(s, nil, resources, nil, army, nil, zap.NewNop())
}

func newTestVillage(t *testing.T, s *storetest.Memory, ownerID uuid.UUID, crop int, updatedAt time.Time) *models.Village {
	t.Helper()
	v := &models.Village{
		ID: uuid.New(), OwnerID: ownerID, Name: "capital", X: 0, Y: 0, IsCapital: true,
		Wood: 1000, Clay: 1000, Iron: 1000, Crop: crop,
		WarehouseCapacity: 1_000_000, GranaryCapacity: 1_000_000,
		ResourcesUpdatedAt: updatedAt, CreatedAt: updatedAt, UpdatedAt: updatedAt,
	}
	if err := s.CreateVillage(context.Background(), v); err != nil {
		t.Fatalf("seed village: %v", err)
	}
	return v
}

func TestTickResourcesCatchesUpOnlyStaleVillages(t *testing.T) {
	s := storetest.New()
	sch := newTestScheduler(s)
	now := time.Now().UTC()

	fresh := newTestVillage(t, s, uuid.New(), 1000, now)
	stale := newTestVillage(t, s, uuid.New(), 1000, now.Add(-2*time.Minute))

	count, err := sch.tickResources(context.Background(), now)
	if err != nil {
		t.Fatalf("tickResources: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (only the stale village)", count)
	}

	got, err := s.GetVillage(context.Background(), stale.ID)
	if err != nil {
		t.Fatalf("GetVillage(stale): %v", err)
	}
	if !got.ResourcesUpdatedAt.Equal(now) {
		t.Fatalf("stale village resources_updated_at = %v, want caught up to %v", got.ResourcesUpdatedAt, now)
	}

	got, err = s.GetVillage(context.Background(), fresh.ID)
	if err != nil {
		t.Fatalf("GetVillage(fresh): %v", err)
	}
	if !got.ResourcesUpdatedAt.Equal(now) {
		t.Fatalf("fresh village resources_updated_at = %v, want unchanged at %v", got.ResourcesUpdatedAt, now)
	}
}

func TestTickStarvationSkipsWhenNoVillageIsStarving(t *testing.T) {
	s := storetest.New()
	sch := newTestScheduler(s)
	newTestVillage(t, s, uuid.New(), 1000, time.Now().UTC())

	count, err := sch.tickStarvation(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("tickStarvation: %v", err)
	}
	if count != 0 {
		t.Fatalf("count = %d, want 0 when no village has zero crop", count)
	}
}

func TestTickStarvationKillsATroopInAStarvingVillage(t *testing.T) {
	s := storetest.New()
	sch := newTestScheduler(s)
	v := newTestVillage(t, s, uuid.New(), 0, time.Now().UTC())
	if err := s.AddTroops(context.Background(), v.ID, "legionnaire", 3); err != nil {
		t.Fatalf("seed legionnaire: %v", err)
	}

	count, err := sch.tickStarvation(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("tickStarvation: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	holding, err := s.GetTroopHolding(context.Background(), v.ID, "legionnaire")
	if err != nil {
		t.Fatalf("GetTroopHolding: %v", err)
	}
	if holding.Count != 2 {
		t.Fatalf("legionnaire count = %d, want 2 after one starved", holding.Count)
	}
}
