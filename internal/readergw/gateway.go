// Package readergw abstracts RFID reader hardware behind a gateway
// interface: raw tag-read and reader-status events flow out on channels,
// and inventory/power commands flow in. A serial-attached implementation
// covers handheld and bench readers; a mock implementation drives
// development and tests without hardware.
package readergw

import (
	"context"
	"time"

	"github.com/wareline-data/tagfind/internal/rtls"
)

// ReadEventType classifies a tag-read event.
type ReadEventType string

const (
	EventRead     ReadEventType = "read"      // periodic inventory observation
	EventGatePass ReadEventType = "gate-pass" // portal/gate antenna crossing
	EventHandheld ReadEventType = "handheld"  // triggered handheld sweep
)

// TagReadEvent is one raw observation delivered by a gateway.
type TagReadEvent struct {
	Reading rtls.TagReading
	Type    ReadEventType
}

// ReaderStatus is the reported health of a reader.
type ReaderStatus string

const (
	StatusOnline  ReaderStatus = "online"
	StatusOffline ReaderStatus = "offline"
	StatusError   ReaderStatus = "error"
)

// ReaderStatusEvent reports a reader's health and battery.
type ReaderStatusEvent struct {
	ReaderID   string       `json:"reader_id"`
	Status     ReaderStatus `json:"status"`
	BatteryPct float64      `json:"battery_pct,omitempty"`
	Detail     string       `json:"detail,omitempty"`
	Timestamp  time.Time    `json:"timestamp"`
}

// Gateway is the hardware abstraction consumed by the tracking
// orchestrator. Implementations deliver events on the channels returned
// by Events and StatusEvents; both channels are closed by Close.
//
// Command methods return promptly; hardware acknowledgement is reported
// asynchronously as a status event.
type Gateway interface {
	// Events returns the tag-read event stream.
	Events() <-chan TagReadEvent

	// StatusEvents returns the reader health stream.
	StatusEvents() <-chan ReaderStatusEvent

	// StartInventory begins continuous inventory rounds on a reader.
	StartInventory(readerID string) error

	// StopInventory halts inventory rounds on a reader.
	StopInventory(readerID string) error

	// SetAntennaPower adjusts a reader's transmit power.
	SetAntennaPower(readerID string, powerDBm float64) error

	// Monitor pumps hardware input into the event channels until the
	// context is cancelled or the underlying transport fails.
	Monitor(ctx context.Context) error

	// Close releases the transport and closes the event channels.
	Close() error
}
