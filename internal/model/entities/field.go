package entities

// GridLayout returns a cols x rows grid starting at (origin, origin) with the given
// spacing. IDs are assigned row-major.
func GridLayout(cols, rows, origin, spacing int) []SensorPosition {
	out := make([]SensorPosition, 0, cols*rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out = append(out, SensorPosition{
				ID: len(out),
				X:  origin + c*spacing,
				Y:  origin + r*spacing,
			})
		}
	}
	return out
}
