package models

import (
	"time"

	"github.com/google/uuid"
)

// MissionType is the closed set of army movement missions.
type MissionType string

const (
	MissionAttack   MissionType = "attack"
	MissionRaid     MissionType = "raid"
	MissionReinforce MissionType = "reinforce"
	MissionReturn   MissionType = "return"
)

// ArmyMovement is created on dispatch and destroyed on arrival after
// applying mission-specific effects. Troop counts are keyed by troop type.
type ArmyMovement struct {
	ID              uuid.UUID      `json:"id" db:"id"`
	SourceVillageID uuid.UUID      `json:"source_village_id" db:"source_village_id"`
	DestVillageID   uuid.UUID      `json:"dest_village_id" db:"dest_village_id"`
	OwnerID         uuid.UUID      `json:"owner_id" db:"owner_id"`
	Mission         MissionType    `json:"mission" db:"mission"`
	Troops          map[string]int `json:"troops" db:"-"`
	CarriedWood     int            `json:"carried_wood" db:"carried_wood"`
	CarriedClay     int            `json:"carried_clay" db:"carried_clay"`
	CarriedIron     int            `json:"carried_iron" db:"carried_iron"`
	CarriedCrop     int            `json:"carried_crop" db:"carried_crop"`
	DispatchedAt    time.Time      `json:"dispatched_at" db:"dispatched_at"`
	ArrivesAt       time.Time      `json:"arrives_at" db:"arrives_at"`
}
