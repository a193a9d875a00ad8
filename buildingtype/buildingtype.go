// Package buildingtype holds the fixed building-type table consulted by the
// Building Engine: base costs, base build time, prerequisites and
// population/production/storage curves per level.
//
// Grounded on the reference's models.BuildingTypes static map, generalized
// from a flat per-type cost to the spec's exponential cost/time law and
// from a type-keyed village layout to the spec's slot-addressed one.
package buildingtype

import "math"

// Cost is a bundle of the four storable resources.
type Cost struct {
	Wood int
	Clay int
	Iron int
	Crop int
}

func (c Cost) Scale(f float64) Cost {
	return Cost{
		Wood: int(math.Floor(float64(c.Wood) * f)),
		Clay: int(math.Floor(float64(c.Clay) * f)),
		Iron: int(math.Floor(float64(c.Iron) * f)),
		Crop: int(math.Floor(float64(c.Crop) * f)),
	}
}

func (c Cost) Add(o Cost) Cost {
	return Cost{c.Wood + o.Wood, c.Clay + o.Clay, c.Iron + o.Iron, c.Crop + o.Crop}
}

func (c Cost) ScaleInt(n int) Cost {
	return Cost{c.Wood * n, c.Clay * n, c.Iron * n, c.Crop * n}
}

// Prerequisite requires an existing building of Type at level ≥ MinLevel
// somewhere in the same village.
type Prerequisite struct {
	Type     string
	MinLevel int
}

// Def is one building kind's fixed configuration.
type Def struct {
	Type string
	Name string

	// BaseCost and BaseBuildTimeSeconds are the level-1 cost and build
	// time; cost/time at level L is base · 1.28^(L−1), floored.
	BaseCost            Cost
	BaseBuildTimeSeconds int

	MaxLevel int

	// IsResourceField is true for the four field types that occupy
	// slots 101..118 and may start at level 0.
	IsResourceField bool
	// ProducesResource names which of wood/clay/iron/crop a resource
	// field produces; empty for town buildings.
	ProducesResource string

	Prerequisites []Prerequisite

	// PopulationBase and PopulationPerLevel give population_at_level
	// = PopulationBase + PopulationPerLevel·level.
	PopulationBase    int
	PopulationPerLevel int

	// AffectsWarehouse / AffectsGranary mark the two buildings whose
	// completion recomputes village storage capacity.
	AffectsWarehouse bool
	AffectsGranary   bool
}

// CostAtLevel returns the cost to go from level-1 to level, per §4.C:
// base_cost(type) · 1.28^(level−1), floored per resource.
func (d Def) CostAtLevel(level int) Cost {
	return d.BaseCost.Scale(math.Pow(1.28, float64(level-1)))
}

// BuildTimeSecondsAtLevel returns the analogous floored build time.
func (d Def) BuildTimeSecondsAtLevel(level int) int {
	return int(math.Floor(float64(d.BaseBuildTimeSeconds) * math.Pow(1.28, float64(level-1))))
}

// ProductionPerHour returns the field's hourly production at level; zero
// for non-field buildings. Strictly linear: 6 per level, with no extra
// level bonus. The base-3/hour floor production named in §4.B is not
// included here; the Resource Engine adds BaseProductionPerHour itself.
func (d Def) ProductionPerHour(level int) int {
	if !d.IsResourceField || level <= 0 {
		return 0
	}
	return level * 6
}

// StorageCapacity returns warehouse/granary capacity at level, for the two
// buildings that affect it: 1000 at level 0 plus 500 per level (1500 at
// level 1). The 1000 base matches the reference's
// CalculateInitialResources assumption of a modest starting cap.
func (d Def) StorageCapacity(level int) int {
	if !d.AffectsWarehouse && !d.AffectsGranary {
		return 0
	}
	return 1000 + level*500
}

// PopulationAtLevel is Σ contribution of one building instance to village
// population, per §3 "Population equals the sum of population_at_level".
func (d Def) PopulationAtLevel(level int) int {
	if level <= 0 {
		return 0
	}
	return d.PopulationBase + d.PopulationPerLevel*level
}

// BaseProductionPerHour is the flat per-village production every village
// receives regardless of buildings, per §4.B "Sum base production
// (3/hour) plus production_per_hour(level)".
const BaseProductionPerHour = 3

// Table is the closed, fixed set of building kinds.
var Table = map[string]Def{
	"main_building": {
		Type: "main_building", Name: "Main Building",
		BaseCost: Cost{Wood: 70, Clay: 40, Iron: 60, Crop: 20}, BaseBuildTimeSeconds: 1800,
		MaxLevel: 20, PopulationBase: 0, PopulationPerLevel: 1,
	},
	"warehouse": {
		Type: "warehouse", Name: "Warehouse",
		BaseCost: Cost{Wood: 130, Clay: 160, Iron: 90, Crop: 40}, BaseBuildTimeSeconds: 1200,
		MaxLevel: 20, AffectsWarehouse: true, PopulationPerLevel: 1,
	},
	"granary": {
		Type: "granary", Name: "Granary",
		BaseCost: Cost{Wood: 80, Clay: 100, Iron: 70, Crop: 20}, BaseBuildTimeSeconds: 1200,
		MaxLevel: 20, AffectsGranary: true, PopulationPerLevel: 1,
	},
	"marketplace": {
		Type: "marketplace", Name: "Marketplace",
		BaseCost: Cost{Wood: 80, Clay: 70, Iron: 120, Crop: 70}, BaseBuildTimeSeconds: 1800,
		MaxLevel: 20,
		Prerequisites: []Prerequisite{
			{Type: "warehouse", MinLevel: 1}, {Type: "granary", MinLevel: 1},
		},
		PopulationPerLevel: 3,
	},
	"barracks": {
		Type: "barracks", Name: "Barracks",
		BaseCost: Cost{Wood: 210, Clay: 140, Iron: 260, Crop: 120}, BaseBuildTimeSeconds: 2400,
		MaxLevel: 20,
		Prerequisites: []Prerequisite{
			{Type: "main_building", MinLevel: 3},
		},
		PopulationPerLevel: 2,
	},
	"stable": {
		Type: "stable", Name: "Stable",
		BaseCost: Cost{Wood: 260, Clay: 140, Iron: 220, Crop: 100}, BaseBuildTimeSeconds: 2400,
		MaxLevel: 20,
		Prerequisites: []Prerequisite{
			{Type: "smithy", MinLevel: 3}, {Type: "academy", MinLevel: 5},
		},
		PopulationPerLevel: 2,
	},
	"workshop": {
		Type: "workshop", Name: "Workshop",
		BaseCost: Cost{Wood: 460, Clay: 510, Iron: 600, Crop: 320}, BaseBuildTimeSeconds: 3600,
		MaxLevel: 20,
		Prerequisites: []Prerequisite{
			{Type: "main_building", MinLevel: 5}, {Type: "academy", MinLevel: 10},
		},
		PopulationPerLevel: 2,
	},
	"academy": {
		Type: "academy", Name: "Academy",
		BaseCost: Cost{Wood: 220, Clay: 160, Iron: 90, Crop: 40}, BaseBuildTimeSeconds: 2400,
		MaxLevel: 20,
		Prerequisites: []Prerequisite{
			{Type: "barracks", MinLevel: 3},
		},
		PopulationPerLevel: 2,
	},
	"smithy": {
		Type: "smithy", Name: "Smithy",
		BaseCost: Cost{Wood: 180, Clay: 250, Iron: 500, Crop: 160}, BaseBuildTimeSeconds: 2400,
		MaxLevel: 20,
		Prerequisites: []Prerequisite{
			{Type: "main_building", MinLevel: 3}, {Type: "academy", MinLevel: 1},
		},
		PopulationPerLevel: 2,
	},
	"rally_point": {
		Type: "rally_point", Name: "Rally Point",
		BaseCost: Cost{Wood: 110, Clay: 160, Iron: 90, Crop: 70}, BaseBuildTimeSeconds: 1200,
		MaxLevel: 20, PopulationPerLevel: 1,
	},
	"wall": {
		Type: "wall", Name: "City Wall",
		BaseCost: Cost{Wood: 70, Clay: 90, Iron: 170, Crop: 70}, BaseBuildTimeSeconds: 1800,
		MaxLevel: 20, PopulationPerLevel: 1,
	},
	"residence": {
		Type: "residence", Name: "Residence",
		BaseCost: Cost{Wood: 580, Clay: 460, Iron: 350, Crop: 180}, BaseBuildTimeSeconds: 3600,
		MaxLevel: 20,
		Prerequisites: []Prerequisite{
			{Type: "main_building", MinLevel: 5},
		},
		PopulationPerLevel: 1,
	},
	"embassy": {
		Type: "embassy", Name: "Embassy",
		BaseCost: Cost{Wood: 180, Clay: 130, Iron: 150, Crop: 80}, BaseBuildTimeSeconds: 1800,
		MaxLevel: 20,
		Prerequisites: []Prerequisite{
			{Type: "main_building", MinLevel: 1},
		},
		PopulationPerLevel: 2,
	},
	"trade_office": {
		Type: "trade_office", Name: "Trade Office",
		BaseCost: Cost{Wood: 1400, Clay: 1330, Iron: 1200, Crop: 400}, BaseBuildTimeSeconds: 4800,
		MaxLevel: 20,
		Prerequisites: []Prerequisite{
			{Type: "marketplace", MinLevel: 10}, {Type: "stable", MinLevel: 10},
		},
		PopulationPerLevel: 3,
	},
	"cranny": {
		Type: "cranny", Name: "Cranny",
		BaseCost: Cost{Wood: 40, Clay: 50, Iron: 30, Crop: 10}, BaseBuildTimeSeconds: 600,
		MaxLevel: 10, PopulationPerLevel: 1,
	},
	"woodcutter": {
		Type: "woodcutter", Name: "Woodcutter",
		BaseCost: Cost{Wood: 40, Clay: 100, Iron: 50, Crop: 60}, BaseBuildTimeSeconds: 600,
		MaxLevel: 20, IsResourceField: true, ProducesResource: "wood", PopulationPerLevel: 1,
	},
	"claypit": {
		Type: "claypit", Name: "Clay Pit",
		BaseCost: Cost{Wood: 80, Clay: 40, Iron: 80, Crop: 50}, BaseBuildTimeSeconds: 600,
		MaxLevel: 20, IsResourceField: true, ProducesResource: "clay", PopulationPerLevel: 1,
	},
	"ironmine": {
		Type: "ironmine", Name: "Iron Mine",
		BaseCost: Cost{Wood: 100, Clay: 80, Iron: 30, Crop: 60}, BaseBuildTimeSeconds: 600,
		MaxLevel: 20, IsResourceField: true, ProducesResource: "iron", PopulationPerLevel: 1,
	},
	"cropland": {
		Type: "cropland", Name: "Cropland",
		BaseCost: Cost{Wood: 70, Clay: 90, Iron: 70, Crop: 20}, BaseBuildTimeSeconds: 600,
		MaxLevel: 20, IsResourceField: true, ProducesResource: "crop", PopulationPerLevel: 1,
	},
}

// Get looks up a building type by its closed-enum key.
func Get(t string) (Def, bool) {
	d, ok := Table[t]
	return d, ok
}

// FieldTypeFor returns the field building type that produces resourceType.
func FieldTypeFor(resourceType string) string {
	switch resourceType {
	case "wood":
		return "woodcutter"
	case "clay":
		return "claypit"
	case "iron":
		return "ironmine"
	case "crop":
		return "cropland"
	}
	return ""
}

// fieldRotation is the fixed per-slot resource assignment for the 18
// resource field slots (101..118): a deterministic function of slot
// index rather than a value stored on the village, matching the
// reference's fixed-layout assumption (CalculateInitialResources) without
// needing a seed step at village creation.
var fieldRotation = []string{"wood", "wood", "wood", "wood", "clay", "clay", "clay", "clay",
	"iron", "iron", "iron", "iron", "crop", "crop", "crop", "crop", "crop", "crop"}

// FieldSlotResourceType returns the resource type fixed to field slot
// (101..118), or "" if slot is not a field slot.
func FieldSlotResourceType(slot int) string {
	const fieldSlotMin = 101
	idx := slot - fieldSlotMin
	if idx < 0 || idx >= len(fieldRotation) {
		return ""
	}
	return fieldRotation[idx]
}
