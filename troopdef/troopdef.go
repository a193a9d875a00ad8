// Package troopdef holds the fixed troop-type table consulted by the
// Training Engine and Army Engine: per-unit cost, training time, crop
// consumption, attack/defense and travel speed.
//
// Grounded on the reference's models.UnitTypes static map, generalized to
// the spec's {wood, clay, iron, crop} resource set and its travel_time
// contract for the Army Engine.
package troopdef

// Cost mirrors buildingtype.Cost to avoid a package cycle; both are plain
// four-field resource bundles.
type Cost struct {
	Wood int
	Clay int
	Iron int
	Crop int
}

func (c Cost) ScaleInt(n int) Cost {
	return Cost{c.Wood * n, c.Clay * n, c.Iron * n, c.Crop * n}
}

// Def is one troop kind's fixed configuration.
type Def struct {
	Type          string
	Name          string
	Cost          Cost
	TrainingTimeSeconds int
	CropConsumption     int
	Attack              int
	Defense             int
	// SpeedFieldsPerHour: higher is faster; travel_time uses the
	// slowest troop in a movement per §4.E.
	SpeedFieldsPerHour int
	CarryCapacity      int

	RequiredBuilding      string
	RequiredBuildingLevel int
}

var Table = map[string]Def{
	"legionnaire": {
		Type: "legionnaire", Name: "Legionnaire",
		Cost: Cost{Wood: 120, Clay: 100, Iron: 150, Crop: 30}, TrainingTimeSeconds: 1600,
		CropConsumption: 1, Attack: 40, Defense: 35, SpeedFieldsPerHour: 6, CarryCapacity: 50,
		RequiredBuilding: "barracks", RequiredBuildingLevel: 1,
	},
	"praetorian": {
		Type: "praetorian", Name: "Praetorian",
		Cost: Cost{Wood: 100, Clay: 130, Iron: 160, Crop: 70}, TrainingTimeSeconds: 1700,
		CropConsumption: 1, Attack: 30, Defense: 65, SpeedFieldsPerHour: 5, CarryCapacity: 20,
		RequiredBuilding: "barracks", RequiredBuildingLevel: 1,
	},
	"imperian": {
		Type: "imperian", Name: "Imperian",
		Cost: Cost{Wood: 150, Clay: 160, Iron: 210, Crop: 80}, TrainingTimeSeconds: 1800,
		CropConsumption: 1, Attack: 70, Defense: 40, SpeedFieldsPerHour: 7, CarryCapacity: 50,
		RequiredBuilding: "barracks", RequiredBuildingLevel: 5,
	},
	"equites_legati": {
		Type: "equites_legati", Name: "Scout Cavalry",
		Cost: Cost{Wood: 140, Clay: 160, Iron: 20, Crop: 40}, TrainingTimeSeconds: 1300,
		CropConsumption: 1, Attack: 0, Defense: 20, SpeedFieldsPerHour: 16, CarryCapacity: 0,
		RequiredBuilding: "stable", RequiredBuildingLevel: 1,
	},
	"equites_imperatoris": {
		Type: "equites_imperatoris", Name: "Imperial Horseman",
		Cost: Cost{Wood: 550, Clay: 440, Iron: 320, Crop: 100}, TrainingTimeSeconds: 2600,
		CropConsumption: 3, Attack: 120, Defense: 65, SpeedFieldsPerHour: 14, CarryCapacity: 100,
		RequiredBuilding: "stable", RequiredBuildingLevel: 5,
	},
	"equites_caesaris": {
		Type: "equites_caesaris", Name: "Caesaris Cavalry",
		Cost: Cost{Wood: 550, Clay: 640, Iron: 800, Crop: 180}, TrainingTimeSeconds: 3200,
		CropConsumption: 4, Attack: 180, Defense: 105, SpeedFieldsPerHour: 10, CarryCapacity: 70,
		RequiredBuilding: "stable", RequiredBuildingLevel: 10,
	},
	"battering_ram": {
		Type: "battering_ram", Name: "Battering Ram",
		Cost: Cost{Wood: 900, Clay: 360, Iron: 500, Crop: 70}, TrainingTimeSeconds: 4800,
		CropConsumption: 3, Attack: 60, Defense: 30, SpeedFieldsPerHour: 4, CarryCapacity: 0,
		RequiredBuilding: "workshop", RequiredBuildingLevel: 1,
	},
	"fire_catapult": {
		Type: "fire_catapult", Name: "Fire Catapult",
		Cost: Cost{Wood: 950, Clay: 1350, Iron: 600, Crop: 90}, TrainingTimeSeconds: 5400,
		CropConsumption: 6, Attack: 75, Defense: 60, SpeedFieldsPerHour: 3, CarryCapacity: 0,
		RequiredBuilding: "workshop", RequiredBuildingLevel: 5,
	},
	"senator": {
		Type: "senator", Name: "Senator",
		Cost: Cost{Wood: 30750, Clay: 27200, Iron: 45000, Crop: 37500}, TrainingTimeSeconds: 32500,
		CropConsumption: 5, Attack: 50, Defense: 40, SpeedFieldsPerHour: 4, CarryCapacity: 0,
		RequiredBuilding: "residence", RequiredBuildingLevel: 10,
	},
	"settler": {
		Type: "settler", Name: "Settler",
		Cost: Cost{Wood: 4600, Clay: 4200, Iron: 5800, Crop: 4400}, TrainingTimeSeconds: 17000,
		CropConsumption: 1, Attack: 0, Defense: 20, SpeedFieldsPerHour: 6, CarryCapacity: 3000,
		RequiredBuilding: "residence", RequiredBuildingLevel: 10,
	},
}

// Get looks up a troop type by its closed-enum key.
func Get(t string) (Def, bool) {
	d, ok := Table[t]
	return d, ok
}

// SlowestSpeed returns the fields-per-hour speed of the slowest troop type
// present with a positive count, for travel_time(source, destination,
// slowest troop) per §4.E. Zero count entries are ignored; an empty or
// all-zero composition defaults to 6 fields per hour so a
// movement of zero troops (not expected in practice) never divides by
// zero or blocks forever.
func SlowestSpeed(counts map[string]int) int {
	slowest := 0
	for troopType, count := range counts {
		if count <= 0 {
			continue
		}
		d, ok := Table[troopType]
		if !ok {
			continue
		}
		if slowest == 0 || d.SpeedFieldsPerHour < slowest {
			slowest = d.SpeedFieldsPerHour
		}
	}
	if slowest == 0 {
		slowest = 6
	}
	return slowest
}

// TotalCropConsumption sums crop_consumption over every troop type
// currently garrisoned in a village, for §4.B's net-crop-rate formula.
func TotalCropConsumption(counts map[string]int) int {
	total := 0
	for troopType, count := range counts {
		if d, ok := Table[troopType]; ok {
			total += d.CropConsumption * count
		}
	}
	return total
}

// HighestConsumptionPresent returns the troop type with the highest
// per-unit crop consumption among types with count > 0, for the
// Starvation worker (§4.H). Returns "" if none present.
func HighestConsumptionPresent(counts map[string]int) string {
	best := ""
	bestConsumption := -1
	for troopType, count := range counts {
		if count <= 0 {
			continue
		}
		d, ok := Table[troopType]
		if !ok {
			continue
		}
		if d.CropConsumption > bestConsumption {
			bestConsumption = d.CropConsumption
			best = troopType
		}
	}
	return best
}
