package rtls

import (
	"fmt"
	"sync"
	"time"

	"github.com/wareline-data/tagfind/internal/config"
)

// ClassifyMovement maps a smoothed speed to a movement state using the
// configured thresholds.
func ClassifyMovement(speedMps, movingMps, fastMps float64) MovementState {
	switch {
	case speedMps >= fastMps:
		return MovementFast
	case speedMps >= movingMps:
		return MovementMoving
	default:
		return MovementStationary
	}
}

// AlertMonitor evaluates per-tag alert conditions each batch cycle.
// Geofence containment is tracked explicitly per tag so a zone-change
// alert fires exactly on the boundary crossing, not on every position
// inside the new zone.
type AlertMonitor struct {
	geofences       []Geofence
	afterHoursStart int
	afterHoursEnd   int

	mu          sync.Mutex
	containment map[string]map[string]bool // tag id → geofence id → inside
}

// NewAlertMonitor creates a monitor over the given geofences.
func NewAlertMonitor(cfg *config.TuningConfig, geofences []Geofence) *AlertMonitor {
	return &AlertMonitor{
		geofences:       geofences,
		afterHoursStart: cfg.GetAfterHoursStart(),
		afterHoursEnd:   cfg.GetAfterHoursEnd(),
		containment:     make(map[string]map[string]bool),
	}
}

// Evaluate returns the alerts raised by this estimate, updating the tag's
// containment state. docket may be nil.
func (a *AlertMonitor) Evaluate(tagID string, est PositionEstimate, movement MovementState, docket *Docket, now time.Time) []Alert {
	var alerts []Alert
	var docketID int64
	if docket != nil {
		docketID = docket.DocketID
	}

	alerts = append(alerts, a.zoneChanges(tagID, docketID, est, now)...)

	if movement != MovementStationary && a.isAfterHours(now) {
		alerts = append(alerts, Alert{
			Type:     AlertAfterHours,
			TagID:    tagID,
			DocketID: docketID,
			Detail:   fmt.Sprintf("movement detected at %s, outside operating hours", now.Format("15:04")),
			RaisedAt: now,
		})
	}

	if docket != nil && docket.HighValue && movement != MovementStationary {
		alerts = append(alerts, Alert{
			Type:     AlertHighValueMoving,
			TagID:    tagID,
			DocketID: docketID,
			Detail:   fmt.Sprintf("high-value docket %s is %s", docket.DocketCode, movement),
			RaisedAt: now,
		})
	}

	return alerts
}

// CurrentZone returns the zone id of the first geofence containing the
// position, or "" when none does.
func (a *AlertMonitor) CurrentZone(p Point3) string {
	for _, g := range a.geofences {
		if g.Contains(p) {
			return g.ZoneID
		}
	}
	return ""
}

// Forget drops the containment state for a tag. Called when a tag is
// marked lost so a reappearance re-establishes containment silently.
func (a *AlertMonitor) Forget(tagID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.containment, tagID)
}

// zoneChanges raises an alert for every geofence boundary the tag crossed
// since its previous estimate. The first evaluation of a tag establishes
// containment without alerting.
func (a *AlertMonitor) zoneChanges(tagID string, docketID int64, est PositionEstimate, now time.Time) []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev, known := a.containment[tagID]
	cur := make(map[string]bool, len(a.geofences))
	var alerts []Alert
	for _, g := range a.geofences {
		inside := g.Contains(est.Position())
		cur[g.ID] = inside
		if !known || prev[g.ID] == inside {
			continue
		}
		verb := "entered"
		if !inside {
			verb = "left"
		}
		alerts = append(alerts, Alert{
			Type:     AlertZoneChange,
			TagID:    tagID,
			DocketID: docketID,
			Detail:   fmt.Sprintf("%s zone %s (%s)", verb, g.ZoneID, g.Name),
			RaisedAt: now,
		})
	}
	a.containment[tagID] = cur
	return alerts
}

// isAfterHours reports whether the local hour falls in the configured
// quiet window, which may wrap past midnight (e.g. 22 → 6).
func (a *AlertMonitor) isAfterHours(now time.Time) bool {
	h := now.Hour()
	if a.afterHoursStart <= a.afterHoursEnd {
		return h >= a.afterHoursStart && h < a.afterHoursEnd
	}
	return h >= a.afterHoursStart || h < a.afterHoursEnd
}
