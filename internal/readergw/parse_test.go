package readergw

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wareline-data/tagfind/internal/rtls"
)

var parseNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func TestClassifyLine(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{"READ,E2000017,-54.5,12.0,3.1,1", LineTypeRead},
		{"  READ,E2000017,-54.5,12.0,3.1,1  ", LineTypeRead},
		{`{"status":"online","battery_pct":80}`, LineTypeStatus},
		{"READER v2.4 boot", LineTypeUnknown},
		{"", LineTypeUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyLine(tt.line); got != tt.want {
			t.Errorf("ClassifyLine(%q) = %s, want %s", tt.line, got, tt.want)
		}
	}
}

func TestParseReadLine(t *testing.T) {
	got, err := ParseReadLine("reader-a", "READ,E2000017221101441890,-54.5,12.0,3.1,2", parseNow)
	if err != nil {
		t.Fatalf("ParseReadLine: %v", err)
	}
	want := rtls.TagReading{
		TagID:     "E2000017221101441890",
		ReaderID:  "reader-a",
		RSSI:      -54.5,
		Phase:     12.0,
		Doppler:   3.1,
		Antenna:   2,
		Timestamp: parseNow,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reading mismatch (-want +got):\n%s", diff)
	}
}

func TestParseReadLineMalformed(t *testing.T) {
	lines := []string{
		"READ,E2000017,-54.5,12.0,3.1",       // missing antenna
		"READ,E2000017,-54.5,12.0,3.1,1,9",   // extra field
		"READ,,-54.5,12.0,3.1,1",             // empty tag id
		"READ,E2000017,strong,12.0,3.1,1",    // bad rssi
		"READ,E2000017,-54.5,north,3.1,1",    // bad phase
		"READ,E2000017,-54.5,12.0,fast,1",    // bad doppler
		"READ,E2000017,-54.5,12.0,3.1,first", // bad antenna
		"PING,E2000017,-54.5,12.0,3.1,1",     // wrong sentinel
	}
	for _, line := range lines {
		if _, err := ParseReadLine("reader-a", line, parseNow); err == nil {
			t.Errorf("ParseReadLine(%q) succeeded, want error", line)
		}
	}
}

func TestParseStatusLine(t *testing.T) {
	got, err := ParseStatusLine("reader-a", `{"status":"online","battery_pct":72.5,"detail":"antenna 2 vswr high"}`, parseNow)
	if err != nil {
		t.Fatalf("ParseStatusLine: %v", err)
	}
	want := ReaderStatusEvent{
		ReaderID:   "reader-a",
		Status:     StatusOnline,
		BatteryPct: 72.5,
		Detail:     "antenna 2 vswr high",
		Timestamp:  parseNow,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestParseStatusLineRejectsUnknownStatus(t *testing.T) {
	if _, err := ParseStatusLine("reader-a", `{"status":"sleepy"}`, parseNow); err == nil {
		t.Error("unknown status accepted")
	}
	if _, err := ParseStatusLine("reader-a", `not json`, parseNow); err == nil {
		t.Error("non-JSON status accepted")
	}
}
