package models

import (
	"time"

	"github.com/google/uuid"
)

// Building belongs to exactly one Village and occupies a unique
// (village_id, slot): slot ∈ [1..22] for town slots, [101..118] for
// resource fields. Resource fields may start at level 0. A town building
// is stored at level 0 while its first construction is in progress and
// reaches level 1 when that construction completes.
type Building struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	VillageID     uuid.UUID  `json:"village_id" db:"village_id"`
	Slot          int        `json:"slot" db:"slot"`
	Type          string     `json:"type" db:"type"`
	Level         int        `json:"level" db:"level"`
	IsUpgrading   bool       `json:"is_upgrading" db:"is_upgrading"`
	UpgradeEndsAt *time.Time `json:"upgrade_ends_at,omitempty" db:"upgrade_ends_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

const (
	TownSlotMin  = 1
	TownSlotMax  = 22
	FieldSlotMin = 101
	FieldSlotMax = 118
)

// IsFieldSlot reports whether slot addresses a resource field rather than
// a town building.
func IsFieldSlot(slot int) bool {
	return slot >= FieldSlotMin && slot <= FieldSlotMax
}
