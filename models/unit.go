package models

import (
	"time"

	"github.com/google/uuid"
)

// TroopHolding is the garrison count for (village, troop_type).
type TroopHolding struct {
	VillageID uuid.UUID `json:"village_id" db:"village_id"`
	TroopType string    `json:"troop_type" db:"troop_type"`
	Count     int       `json:"count" db:"count"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TrainingEntry is one training batch. Entries for a village are linearly
// ordered by StartedAt (strict FIFO, enforced at enqueue time).
type TrainingEntry struct {
	ID        uuid.UUID `json:"id" db:"id"`
	VillageID uuid.UUID `json:"village_id" db:"village_id"`
	TroopType string    `json:"troop_type" db:"troop_type"`
	Count     int       `json:"count" db:"count"`
	StartedAt time.Time `json:"started_at" db:"started_at"`
	EndsAt    time.Time `json:"ends_at" db:"ends_at"`
}
