package entities

// SensorPosition is the boot-time identity of a sensor: its hardware channel and
// its fixed coordinates in the field grid.
type SensorPosition struct {
	ID int `json:"id"`
	X  int `json:"x"`
	Y  int `json:"y"`
}

// SensorNode is the live view of one soil-moisture probe. Coordinates and ID never
// change after boot; RawValue, Percentage and IsDry are refreshed on every read.
type SensorNode struct {
	ID         int  `json:"id"`
	X          int  `json:"x"`
	Y          int  `json:"y"`
	RawValue   int  `json:"raw"`
	Percentage int  `json:"pct"` // [0..100]
	IsDry      bool `json:"dry"`
}

// NewSensorNodes builds the fixed sensor array from a layout.
func NewSensorNodes(layout []SensorPosition) []SensorNode {
	out := make([]SensorNode, len(layout))
	for i, p := range layout {
		out[i] = SensorNode{ID: p.ID, X: p.X, Y: p.Y}
	}
	return out
}

// DistanceSquared between two sensors, integer only.
func (s SensorNode) DistanceSquared(o SensorNode) int {
	dx := s.X - o.X
	dy := s.Y - o.Y
	return dx*dx + dy*dy
}
