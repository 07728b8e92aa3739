package readergw

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wareline-data/tagfind/internal/rtls"
)

// Line classification tokens for raw reader output.
const (
	LineTypeRead    = "read"
	LineTypeStatus  = "status"
	LineTypeUnknown = "unknown"
)

// ClassifyLine inspects a raw line from a reader and returns a simple type
// token. Read records are CSV with a READ sentinel; status records are
// JSON objects.
func ClassifyLine(line string) string {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, "READ,"):
		return LineTypeRead
	case strings.HasPrefix(trimmed, "{"):
		return LineTypeStatus
	default:
		return LineTypeUnknown
	}
}

// ParseReadLine parses one CSV read record:
//
//	READ,<epc>,<rssi dBm>,<phase deg>,<doppler Hz>,<antenna>
//
// The reader id and timestamp come from the receiving gateway, not the
// wire: readers report relative ticks that drift, so arrival time is the
// canonical observation time.
func ParseReadLine(readerID, line string, now time.Time) (rtls.TagReading, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 6 || fields[0] != "READ" {
		return rtls.TagReading{}, fmt.Errorf("malformed read line %q", line)
	}
	if fields[1] == "" {
		return rtls.TagReading{}, fmt.Errorf("read line missing tag id: %q", line)
	}

	rssi, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return rtls.TagReading{}, fmt.Errorf("bad rssi %q: %w", fields[2], err)
	}
	phase, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return rtls.TagReading{}, fmt.Errorf("bad phase %q: %w", fields[3], err)
	}
	doppler, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return rtls.TagReading{}, fmt.Errorf("bad doppler %q: %w", fields[4], err)
	}
	antenna, err := strconv.Atoi(fields[5])
	if err != nil {
		return rtls.TagReading{}, fmt.Errorf("bad antenna %q: %w", fields[5], err)
	}

	return rtls.TagReading{
		TagID:     fields[1],
		ReaderID:  readerID,
		RSSI:      rssi,
		Phase:     phase,
		Doppler:   doppler,
		Antenna:   antenna,
		Timestamp: now,
	}, nil
}

// statusRecord is the wire shape of a JSON status line.
type statusRecord struct {
	Status     string  `json:"status"`
	BatteryPct float64 `json:"battery_pct"`
	Detail     string  `json:"detail"`
}

// ParseStatusLine parses one JSON status record into a ReaderStatusEvent.
func ParseStatusLine(readerID, line string, now time.Time) (ReaderStatusEvent, error) {
	var rec statusRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &rec); err != nil {
		return ReaderStatusEvent{}, fmt.Errorf("malformed status line %q: %w", line, err)
	}
	status := ReaderStatus(rec.Status)
	switch status {
	case StatusOnline, StatusOffline, StatusError:
	default:
		return ReaderStatusEvent{}, fmt.Errorf("unknown reader status %q", rec.Status)
	}
	return ReaderStatusEvent{
		ReaderID:   readerID,
		Status:     status,
		BatteryPct: rec.BatteryPct,
		Detail:     rec.Detail,
		Timestamp:  now,
	}, nil
}
