package location

import "math"

const earthRadiusMeters = 6371000.0

// DwellRadius is how far, in meters, a fix may drift from the previous one
// and still count as staying in place.
const DwellRadius = 5.0

// Distance returns the great-circle distance in meters between two
// latitude/longitude points given in degrees.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	p1 := lat1 * math.Pi / 180
	p2 := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(p1)*math.Cos(p2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// batteryPercent converts a 0.0-1.0 sensor level to a whole percent.
func batteryPercent(level float64) int {
	p := int(math.Round(level * 100))
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
