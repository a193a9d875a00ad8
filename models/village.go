package models

import (
	"time"

	"github.com/google/uuid"
)

// Village is a player-owned settlement at an integer (x,y) coordinate.
// Exactly one village per owner is the capital, assigned at first creation.
type Village struct {
	ID                 uuid.UUID `json:"id" db:"id"`
	OwnerID            uuid.UUID `json:"owner_id" db:"owner_id"`
	Name               string    `json:"name" db:"name"`
	X                  int       `json:"x" db:"x"`
	Y                  int       `json:"y" db:"y"`
	IsCapital          bool      `json:"is_capital" db:"is_capital"`
	Wood               int       `json:"wood" db:"wood"`
	Clay               int       `json:"clay" db:"clay"`
	Iron               int       `json:"iron" db:"iron"`
	Crop               int       `json:"crop" db:"crop"`
	WarehouseCapacity  int       `json:"warehouse_capacity" db:"warehouse_capacity"`
	GranaryCapacity    int       `json:"granary_capacity" db:"granary_capacity"`
	Population         int       `json:"population" db:"population"`
	ResourcesUpdatedAt time.Time `json:"resources_updated_at" db:"resources_updated_at"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// Get returns the amount for a named resource type ("wood"/"clay"/"iron"/"crop").
func (v *Village) Get(resourceType string) int {
	switch resourceType {
	case "wood":
		return v.Wood
	case "clay":
		return v.Clay
	case "iron":
		return v.Iron
	case "crop":
		return v.Crop
	default:
		return 0
	}
}

// Set writes the amount for a named resource type.
func (v *Village) Set(resourceType string, amount int) {
	switch resourceType {
	case "wood":
		v.Wood = amount
	case "clay":
		v.Clay = amount
	case "iron":
		v.Iron = amount
	case "crop":
		v.Crop = amount
	}
}

// Cap returns the storage cap applicable to resourceType.
func (v *Village) Cap(resourceType string) int {
	if resourceType == "crop" {
		return v.GranaryCapacity
	}
	return v.WarehouseCapacity
}

// IsStorableResource reports whether s names one of the four village resources.
func IsStorableResource(s string) bool {
	switch s {
	case "wood", "clay", "iron", "crop":
		return true
	}
	return false
}

var StorableResources = []string{"wood", "clay", "iron", "crop"}
