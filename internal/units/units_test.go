package units

import (
	"math"
	"testing"
)

func TestPathLossDistance(t *testing.T) {
	// At the reference RSSI the distance is exactly 1 m.
	if got := PathLossDistance(-40, -40, 2.7); math.Abs(got-1) > 1e-9 {
		t.Errorf("PathLossDistance(ref) = %v, want 1", got)
	}
	// One decade of distance costs 10*n dB.
	if got := PathLossDistance(-67, -40, 2.7); math.Abs(got-10) > 1e-9 {
		t.Errorf("PathLossDistance(-67) = %v, want 10", got)
	}
	// A non-positive exponent falls back to free space.
	if got := PathLossDistance(-60, -40, 0); math.Abs(got-10) > 1e-9 {
		t.Errorf("PathLossDistance(exponent 0) = %v, want 10", got)
	}
}

func TestPathLossRoundTrip(t *testing.T) {
	for _, d := range []float64{0.5, 1, 2.5, 10, 25} {
		rssi := PathLossRSSI(d, -40, 2.7)
		back := PathLossDistance(rssi, -40, 2.7)
		if math.Abs(back-d) > 1e-9 {
			t.Errorf("round trip %v m -> %v dBm -> %v m", d, rssi, back)
		}
	}
}

func TestPathLossRSSIClampsNearZero(t *testing.T) {
	at10cm := PathLossRSSI(0.1, -40, 2.7)
	if got := PathLossRSSI(0, -40, 2.7); got != at10cm {
		t.Errorf("PathLossRSSI(0) = %v, want clamped to %v", got, at10cm)
	}
	if got := PathLossRSSI(0.01, -40, 2.7); got != at10cm {
		t.Errorf("PathLossRSSI(0.01) = %v, want clamped to %v", got, at10cm)
	}
}

func TestSignalPercent(t *testing.T) {
	tests := []struct {
		rssi, floor, ceiling, want float64
	}{
		{-55, -80, -30, 50},
		{-80, -80, -30, 0},
		{-30, -80, -30, 100},
		{-95, -80, -30, 0},   // below floor clamps
		{-10, -80, -30, 100}, // above ceiling clamps
		{-55, -30, -30, 0},   // degenerate range
		{-55, -30, -80, 0},   // inverted range
	}
	for _, tt := range tests {
		if got := SignalPercent(tt.rssi, tt.floor, tt.ceiling); got != tt.want {
			t.Errorf("SignalPercent(%v, %v, %v) = %v, want %v",
				tt.rssi, tt.floor, tt.ceiling, got, tt.want)
		}
	}
}

func TestConvertDistance(t *testing.T) {
	if got := ConvertDistance(10, Meters); got != 10 {
		t.Errorf("ConvertDistance(m) = %v, want 10", got)
	}
	if got := ConvertDistance(10, Feet); math.Abs(got-32.8084) > 1e-9 {
		t.Errorf("ConvertDistance(ft) = %v, want 32.8084", got)
	}
	if got := ConvertDistance(10, "furlongs"); got != 10 {
		t.Errorf("ConvertDistance(unknown) = %v, want meters passthrough", got)
	}
}

func TestIsValidDistanceUnit(t *testing.T) {
	for _, u := range []string{Meters, Feet} {
		if !IsValidDistanceUnit(u) {
			t.Errorf("IsValidDistanceUnit(%q) = false", u)
		}
	}
	for _, u := range []string{"", "km", "M"} {
		if IsValidDistanceUnit(u) {
			t.Errorf("IsValidDistanceUnit(%q) = true", u)
		}
	}
}
