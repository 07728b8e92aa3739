package rtls

import (
	"github.com/wareline-data/tagfind/internal/config"
	"github.com/wareline-data/tagfind/internal/units"
)

// Trend classifies whether the seeker is closing on the target.
type Trend string

const (
	TrendCloser  Trend = "closer"
	TrendFarther Trend = "farther"
	TrendStable  Trend = "stable"
)

// trendHysteresisDB is the minimum RSSI swing between the two comparison
// windows before the trend leaves "stable".
const trendHysteresisDB = 1.0

// GeigerReading is one Geiger-mode feedback frame: everything a handheld
// UI needs to drive audio, haptic and visual proximity cues.
type GeigerReading struct {
	StrengthPct    float64 `json:"strength_pct"`    // 0–100
	DistanceMeters float64 `json:"distance_meters"` // path-loss or seeker-relative
	Trend          Trend   `json:"trend"`
	BeepRateHz     float64 `json:"beep_rate_hz"`
	VibrationPct   float64 `json:"vibration_pct"` // 0–100, follows strength
	Color          string  `json:"color"`         // red / yellow / green
	Brightness     float64 `json:"brightness"`    // 0–1, follows strength
}

// geigerParams are the tuning values the Geiger calculation depends on.
type geigerParams struct {
	minBeepHz   float64
	maxBeepHz   float64
	rangeMeters float64 // distance at which feedback bottoms out
	floorDBm    float64
	ceilingDBm  float64
}

func geigerParamsFromTuning(cfg *config.TuningConfig) geigerParams {
	return geigerParams{
		minBeepHz:   cfg.GetMinBeepRateHz(),
		maxBeepHz:   cfg.GetMaxBeepRateHz(),
		rangeMeters: cfg.GetGeigerRangeMeters(),
		floorDBm:    cfg.GetSignalFloorDBm(),
		ceilingDBm:  cfg.GetSignalCeilingDBm(),
	}
}

// geigerReading computes a feedback frame from the latest RSSI, the
// estimated distance to the target and the recent RSSI history.
//
// The beep rate ramps quadratically as distance closes:
//
//	rate = min + (max−min)·(1−d/range)²
//
// so the audible acceleration is gentle at the edge of range and sharp in
// the final meters, mimicking a Geiger counter near a source.
func geigerReading(p geigerParams, latestRSSI, distanceMeters float64, history []float64) GeigerReading {
	strength := units.SignalPercent(latestRSSI, p.floorDBm, p.ceilingDBm)

	norm := distanceMeters / p.rangeMeters
	if norm < 0 {
		norm = 0
	}
	if norm > 1 {
		norm = 1
	}
	closeness := 1 - norm
	beep := p.minBeepHz + (p.maxBeepHz-p.minBeepHz)*closeness*closeness

	return GeigerReading{
		StrengthPct:    strength,
		DistanceMeters: distanceMeters,
		Trend:          rssiTrend(history),
		BeepRateHz:     beep,
		VibrationPct:   strength,
		Color:          strengthColor(strength),
		Brightness:     strength / 100,
	}
}

// rssiTrend compares the mean of the newest three history samples against
// the mean of the three before them. Fewer than six samples, or a swing
// inside the hysteresis band, reads as stable.
func rssiTrend(history []float64) Trend {
	if len(history) < 6 {
		return TrendStable
	}
	recent := mean(history[len(history)-3:])
	prior := mean(history[len(history)-6 : len(history)-3])
	switch {
	case recent-prior > trendHysteresisDB:
		return TrendCloser
	case prior-recent > trendHysteresisDB:
		return TrendFarther
	default:
		return TrendStable
	}
}

func mean(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

// strengthColor maps signal strength to the handheld's indicator LED.
func strengthColor(strengthPct float64) string {
	switch {
	case strengthPct >= 66:
		return "green"
	case strengthPct >= 33:
		return "yellow"
	default:
		return "red"
	}
}
