package goods

import "time"

// Region is a trade region disasters and routes refer to by id.
type Region struct {
	ID         string `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Chokepoint bool   `json:"chokepoint" yaml:"chokepoint"` // canal blockages only target chokepoints
	Hurricanes bool   `json:"hurricanes" yaml:"hurricanes"` // inside the seasonal hurricane belt
}

// DefaultRegions returns the compiled-in region table.
func DefaultRegions() []Region {
	return []Region{
		{ID: "north_atlantic", Name: "North Atlantic"},
		{ID: "caribbean", Name: "Caribbean", Hurricanes: true},
		{ID: "mediterranean", Name: "Mediterranean"},
		{ID: "suez", Name: "Suez Canal", Chokepoint: true},
		{ID: "panama", Name: "Panama Canal", Chokepoint: true},
		{ID: "south_china_sea", Name: "South China Sea", Hurricanes: true},
		{ID: "baltic", Name: "Baltic"},
		{ID: "indian_ocean", Name: "Indian Ocean"},
	}
}

// HurricaneSeason reports whether the given sim time falls inside the
// June–November window when hurricane events may roll.
func HurricaneSeason(now time.Time) bool {
	m := now.Month()
	return m >= time.June && m <= time.November
}
