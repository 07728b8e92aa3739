// Package rtls implements the real-time locating core: reader measurement
// buffering, multi-algorithm position estimation with Kalman smoothing,
// finding sessions (including Geiger and navigation feedback), and the
// tracking orchestrator that ties ingestion, estimation, sessions and
// client broadcast together.
package rtls

import (
	"math"
	"time"
)

// ReaderKind identifies the physical form factor of a reader.
type ReaderKind string

const (
	ReaderFixed    ReaderKind = "fixed"
	ReaderHandheld ReaderKind = "handheld"
	ReaderGate     ReaderKind = "gate"
)

// Point3 is a position in the building frame, meters.
type Point3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// DistanceTo returns the Euclidean distance between two points.
func (p Point3) DistanceTo(q Point3) float64 {
	dx := p.X - q.X
	dy := p.Y - q.Y
	dz := p.Z - q.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// ReaderDescriptor describes a registered RFID reader. Created at
// configuration load; mutated only by explicit power/enable commands and
// never deleted while the process runs (disabling sets Enabled=false).
type ReaderDescriptor struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Kind        ReaderKind `json:"kind"`
	Position    Point3     `json:"position"`
	PowerDBm    float64    `json:"power_dbm"`
	RangeMeters float64    `json:"range_meters"`
	ZoneID      string     `json:"zone_id"`
	Enabled     bool       `json:"enabled"`
}

// TagReading is a single raw observation of a tag by one reader.
// Immutable and ephemeral: consumed once by the orchestrator and discarded
// after being folded into a measurement buffer.
type TagReading struct {
	TagID     string    `json:"tag_id"` // EPC-equivalent identifier
	ReaderID  string    `json:"reader_id"`
	RSSI      float64   `json:"rssi"` // dBm
	Phase     float64   `json:"phase"`
	Doppler   float64   `json:"doppler"`
	Antenna   int       `json:"antenna"`
	Timestamp time.Time `json:"timestamp"`
}

// Measurement pairs a TagReading with the emitting reader's known position
// and RF parameters. Used only by the position engine.
type Measurement struct {
	Reading        TagReading
	ReaderPosition Point3
	AntennaGainDBi float64
	FrequencyMHz   float64
}

// Algorithm identifies which estimation tier produced a position.
type Algorithm string

const (
	AlgorithmTrilateration Algorithm = "trilateration"
	AlgorithmFingerprint   Algorithm = "fingerprint"
	AlgorithmKalman        Algorithm = "kalman"
)

// Velocity is the smoothed velocity estimate derived by the Kalman filter.
type Velocity struct {
	VX       float64 `json:"vx"`
	VY       float64 `json:"vy"`
	VZ       float64 `json:"vz"`
	SpeedMps float64 `json:"speed_mps"`
}

// PositionEstimate is one smoothed 3D position fix for a tag.
// Superseded on every new estimate; expired after the tag is unseen beyond
// the staleness threshold.
type PositionEstimate struct {
	TagID      string    `json:"tag_id"`
	X          float64   `json:"x"`
	Y          float64   `json:"y"`
	Z          float64   `json:"z"`
	Accuracy   float64   `json:"accuracy"`   // meters, lower is better
	Confidence float64   `json:"confidence"` // 0..1
	Algorithm  Algorithm `json:"algorithm"`
	Velocity   *Velocity `json:"velocity,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Position returns the estimate's position as a Point3.
func (e PositionEstimate) Position() Point3 {
	return Point3{X: e.X, Y: e.Y, Z: e.Z}
}

// TagStatus is the liveness classification of an actively tracked tag.
type TagStatus string

const (
	TagActive TagStatus = "active"
	TagIdle   TagStatus = "idle" // unseen 30–60 s, retained
	TagLost   TagStatus = "lost" // unseen > 60 s, removed after one tag-lost event
)

// MovementState classifies a tag's motion from its estimated speed.
type MovementState string

const (
	MovementStationary MovementState = "stationary"
	MovementMoving     MovementState = "moving"
	MovementFast       MovementState = "fast"
)

// AlertType identifies the condition that raised an alert.
type AlertType string

const (
	AlertZoneChange      AlertType = "zone-change"
	AlertAfterHours      AlertType = "after-hours"
	AlertHighValueMoving AlertType = "high-value-moving"
)

// Alert is raised by the batch cycle's alert checks and attached to the
// tag's active entry until the next batch supersedes it.
type Alert struct {
	Type     AlertType `json:"type"`
	TagID    string    `json:"tag_id"`
	DocketID int64     `json:"docket_id,omitempty"`
	Detail   string    `json:"detail"`
	RaisedAt time.Time `json:"raised_at"`
}

// Docket is the metadata collaborator's view of a tagged item.
type Docket struct {
	DocketID   int64  `json:"docket_id"`
	DocketCode string `json:"docket_code"`
	ZoneID     string `json:"zone_id"`
	HighValue  bool   `json:"is_high_value"`
}

// ActiveTag is the orchestrator's in-memory record of one currently
// observed tag: latest estimate plus status, movement and alert state.
type ActiveTag struct {
	TagID    string           `json:"tag_id"`
	Estimate PositionEstimate `json:"estimate"`
	Status   TagStatus        `json:"status"`
	Movement MovementState    `json:"movement"`
	Docket   *Docket          `json:"docket,omitempty"`
	ZoneID   string           `json:"zone_id"`
	Alerts   []Alert          `json:"alerts,omitempty"`
	LastSeen time.Time        `json:"last_seen"`
}

// SeekerFix is the operator's own position, sourced from a designated tag
// worn by the seeker. Distance/bearing calculations are skipped when no
// fresh fix is available.
type SeekerFix struct {
	Position  Point3    `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// Geofence is an axis-aligned region used for zone-change detection.
// Containment is tracked explicitly per tag rather than inferred from
// location labels.
type Geofence struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	ZoneID string  `json:"zone_id"`
	MinX   float64 `json:"min_x"`
	MinY   float64 `json:"min_y"`
	MaxX   float64 `json:"max_x"`
	MaxY   float64 `json:"max_y"`
}

// Contains reports whether the point lies inside the geofence (XY plane).
func (g Geofence) Contains(p Point3) bool {
	return p.X >= g.MinX && p.X <= g.MaxX && p.Y >= g.MinY && p.Y <= g.MaxY
}

// FingerprintEntry is one stored RSSI fingerprint at a known location.
type FingerprintEntry struct {
	Label    string             `json:"label"`
	Position Point3             `json:"position"`
	RSSI     map[string]float64 `json:"rssi"` // reader id → dBm
}

// TagEvent is the unit handed to the persistence sink, one per processed
// tag-read. The sink is expected to be idempotent per tag+timestamp so the
// orchestrator's at-least-once batch retry is safe.
type TagEvent struct {
	TagID          string            `json:"tag_id"`
	ReaderID       string            `json:"reader_id"`
	SignalStrength float64           `json:"signal_strength"`
	EventType      string            `json:"event_type"`
	ZoneID         string            `json:"zone_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}
