package rtls

import (
	"testing"
	"time"

	"github.com/wareline-data/tagfind/internal/config"
)

func testGeofences() []Geofence {
	return []Geofence{
		{ID: "gf-floor", Name: "Main Floor", ZoneID: "floor", MinX: 0, MinY: 0, MaxX: 20, MaxY: 20},
		{ID: "gf-dock", Name: "Loading Dock", ZoneID: "dock", MinX: 20, MinY: 0, MaxX: 30, MaxY: 10},
	}
}

func estInZone(p Point3, ts time.Time) PositionEstimate {
	return PositionEstimate{TagID: "tag-1", X: p.X, Y: p.Y, Z: p.Z, Timestamp: ts}
}

func businessHours() time.Time {
	return time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
}

func TestClassifyMovement(t *testing.T) {
	tests := []struct {
		speed float64
		want  MovementState
	}{
		{0, MovementStationary},
		{0.19, MovementStationary},
		{0.2, MovementMoving},
		{1.49, MovementMoving},
		{1.5, MovementFast},
		{5, MovementFast},
	}
	for _, tt := range tests {
		if got := ClassifyMovement(tt.speed, 0.2, 1.5); got != tt.want {
			t.Errorf("ClassifyMovement(%.2f) = %s, want %s", tt.speed, got, tt.want)
		}
	}
}

func TestZoneChangeFiresOnCrossingOnly(t *testing.T) {
	m := NewAlertMonitor(config.EmptyTuningConfig(), testGeofences())
	now := businessHours()

	// First evaluation establishes containment silently.
	alerts := m.Evaluate("tag-1", estInZone(Point3{X: 5, Y: 5}, now), MovementStationary, nil, now)
	if len(alerts) != 0 {
		t.Fatalf("first evaluation raised %d alerts, want 0", len(alerts))
	}

	// Moving inside the same geofence stays quiet.
	alerts = m.Evaluate("tag-1", estInZone(Point3{X: 8, Y: 9}, now), MovementStationary, nil, now)
	if len(alerts) != 0 {
		t.Fatalf("same-zone move raised %d alerts, want 0", len(alerts))
	}

	// Crossing from floor into dock leaves one fence and enters another.
	alerts = m.Evaluate("tag-1", estInZone(Point3{X: 25, Y: 5}, now), MovementStationary, nil, now)
	if len(alerts) != 2 {
		t.Fatalf("boundary crossing raised %d alerts, want 2 (left + entered)", len(alerts))
	}
	for _, a := range alerts {
		if a.Type != AlertZoneChange {
			t.Errorf("alert type = %s, want %s", a.Type, AlertZoneChange)
		}
	}

	// Staying put again stays quiet.
	alerts = m.Evaluate("tag-1", estInZone(Point3{X: 26, Y: 6}, now), MovementStationary, nil, now)
	if len(alerts) != 0 {
		t.Fatalf("post-crossing position raised %d alerts, want 0", len(alerts))
	}
}

func TestZoneChangeAfterForget(t *testing.T) {
	m := NewAlertMonitor(config.EmptyTuningConfig(), testGeofences())
	now := businessHours()

	m.Evaluate("tag-1", estInZone(Point3{X: 5, Y: 5}, now), MovementStationary, nil, now)
	m.Forget("tag-1")

	// Reappearing in a different zone re-establishes containment silently,
	// as if the tag were new.
	alerts := m.Evaluate("tag-1", estInZone(Point3{X: 25, Y: 5}, now), MovementStationary, nil, now)
	if len(alerts) != 0 {
		t.Fatalf("re-established containment raised %d alerts, want 0", len(alerts))
	}
}

func TestCurrentZone(t *testing.T) {
	m := NewAlertMonitor(config.EmptyTuningConfig(), testGeofences())

	if z := m.CurrentZone(Point3{X: 5, Y: 5}); z != "floor" {
		t.Errorf("zone = %q, want floor", z)
	}
	if z := m.CurrentZone(Point3{X: 25, Y: 5}); z != "dock" {
		t.Errorf("zone = %q, want dock", z)
	}
	if z := m.CurrentZone(Point3{X: -5, Y: -5}); z != "" {
		t.Errorf("zone = %q, want empty outside all geofences", z)
	}
}

func TestAfterHoursMovement(t *testing.T) {
	// Default window is 22 → 6, wrapping midnight.
	m := NewAlertMonitor(config.EmptyTuningConfig(), nil)

	night := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)
	alerts := m.Evaluate("tag-1", estInZone(Point3{X: 5, Y: 5}, night), MovementMoving, nil, night)
	if !hasAlert(alerts, AlertAfterHours) {
		t.Error("moving at 23:30 did not raise an after-hours alert")
	}

	early := time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)
	alerts = m.Evaluate("tag-1", estInZone(Point3{X: 5, Y: 5}, early), MovementMoving, nil, early)
	if !hasAlert(alerts, AlertAfterHours) {
		t.Error("moving at 03:00 did not raise an after-hours alert")
	}

	// Stationary tags never trip the after-hours check.
	alerts = m.Evaluate("tag-1", estInZone(Point3{X: 5, Y: 5}, night), MovementStationary, nil, night)
	if hasAlert(alerts, AlertAfterHours) {
		t.Error("stationary tag raised an after-hours alert")
	}

	// Daytime movement is fine.
	noon := businessHours()
	alerts = m.Evaluate("tag-1", estInZone(Point3{X: 5, Y: 5}, noon), MovementFast, nil, noon)
	if hasAlert(alerts, AlertAfterHours) {
		t.Error("daytime movement raised an after-hours alert")
	}
}

func TestHighValueMovementAlert(t *testing.T) {
	m := NewAlertMonitor(config.EmptyTuningConfig(), nil)
	noon := businessHours()
	docket := &Docket{DocketID: 9, DocketCode: "DK-9", HighValue: true}

	alerts := m.Evaluate("tag-1", estInZone(Point3{X: 5, Y: 5}, noon), MovementMoving, docket, noon)
	if !hasAlert(alerts, AlertHighValueMoving) {
		t.Error("moving high-value docket did not raise an alert")
	}
	for _, a := range alerts {
		if a.DocketID != 9 {
			t.Errorf("alert docket id = %d, want 9", a.DocketID)
		}
	}

	alerts = m.Evaluate("tag-1", estInZone(Point3{X: 5, Y: 5}, noon), MovementStationary, docket, noon)
	if hasAlert(alerts, AlertHighValueMoving) {
		t.Error("stationary high-value docket raised an alert")
	}

	plain := &Docket{DocketID: 10, DocketCode: "DK-10"}
	alerts = m.Evaluate("tag-2", estInZone(Point3{X: 5, Y: 5}, noon), MovementFast, plain, noon)
	if hasAlert(alerts, AlertHighValueMoving) {
		t.Error("ordinary docket raised a high-value alert")
	}
}

func hasAlert(alerts []Alert, typ AlertType) bool {
	for _, a := range alerts {
		if a.Type == typ {
			return true
		}
	}
	return false
}
