package places

import "backend-shaperun/internal/shared/geo"

type Kind string

const (
	KindLamp   Kind = "lamp"
	KindCCTV   Kind = "cctv"
	KindHazard Kind = "hazard"
)

var tables = map[Kind]string{
	KindLamp:   "street_lamps",
	KindCCTV:   "cctv_cameras",
	KindHazard: "hazards",
}

func (k Kind) Valid() bool {
	_, ok := tables[k]
	return ok
}

type Feature struct {
	ID   int64   `json:"id"`
	Kind Kind    `json:"kind"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	// Label is only stored for hazards.
	Label string `json:"label,omitempty"`
}

type Sidewalk struct {
	ID   int64        `json:"id"`
	Path []geo.LatLng `json:"path"`
}

type Nearby struct {
	Lamps     []Feature  `json:"lamps"`
	CCTV      []Feature  `json:"cctv"`
	Hazards   []Feature  `json:"hazards"`
	Sidewalks []Sidewalk `json:"sidewalks"`
}
