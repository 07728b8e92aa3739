// Package units provides shared constants and conversions for signal
// strength and distance values used throughout the locating pipeline.
package units

import "math"

// Distance unit constants
const (
	Meters = "m"
	Feet   = "ft"
)

// ValidDistanceUnits contains all valid distance unit values.
var ValidDistanceUnits = []string{Meters, Feet}

// IsValidDistanceUnit checks if the given unit is a supported distance unit.
func IsValidDistanceUnit(unit string) bool {
	for _, u := range ValidDistanceUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// ConvertDistance converts a distance from meters to the target units.
// Positions and ranges are stored in meters everywhere internally.
func ConvertDistance(meters float64, targetUnits string) float64 {
	switch targetUnits {
	case Feet:
		return meters * 3.28084
	case Meters:
		return meters
	default:
		return meters // default to meters if unknown unit
	}
}

// PathLossDistance converts a received signal strength (dBm) to an
// estimated radial distance (meters) via the log-distance path-loss model:
//
//	rssi = refRSSI - 10*n*log10(d)
//
// refRSSI is the expected RSSI at 1 m and n is the path-loss exponent
// (indoor environments are typically 2.0–3.5).
func PathLossDistance(rssi, refRSSI, exponent float64) float64 {
	if exponent <= 0 {
		exponent = 2.0
	}
	return math.Pow(10, (refRSSI-rssi)/(10*exponent))
}

// PathLossRSSI is the inverse of PathLossDistance: the modeled RSSI at a
// given distance from a reader. Distances below 10 cm are clamped to avoid
// the singularity at zero.
func PathLossRSSI(distance, refRSSI, exponent float64) float64 {
	if distance < 0.1 {
		distance = 0.1
	}
	return refRSSI - 10*exponent*math.Log10(distance)
}

// SignalPercent maps an RSSI value onto a 0–100 scale for display.
// The range is clamped: floor dBm (or weaker) maps to 0, ceiling dBm
// (or stronger) maps to 100.
func SignalPercent(rssi, floor, ceiling float64) float64 {
	if ceiling <= floor {
		return 0
	}
	pct := (rssi - floor) / (ceiling - floor) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
