package rtls

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wareline-data/tagfind/internal/config"
	"github.com/wareline-data/tagfind/internal/timeutil"
	"github.com/wareline-data/tagfind/internal/units"
)

// FindingPhase is the lifecycle phase of a finding session.
type FindingPhase string

const (
	PhaseSearching   FindingPhase = "searching"
	PhaseDetected    FindingPhase = "detected"
	PhaseApproaching FindingPhase = "approaching"
	PhaseFound       FindingPhase = "found"
	PhaseLost        FindingPhase = "lost" // terminal: target unseen past the timeout
)

// phaseOrdinal orders the forward-only phases. Lost is terminal and
// reachable from any non-found phase; found and lost never regress.
var phaseOrdinal = map[FindingPhase]int{
	PhaseSearching:   0,
	PhaseDetected:    1,
	PhaseApproaching: 2,
	PhaseFound:       3,
}

// rssiHistorySize bounds the per-session RSSI ring used for trend
// detection.
const rssiHistorySize = 10

// maxPathPoints caps the accumulated seeker path, bounding memory on long
// searches.
const maxPathPoints = 512

// FindingUpdate is one frame emitted to the seeking client: the current
// phase, a phase-transition event when one fired, and the active feedback
// payloads.
type FindingUpdate struct {
	SessionID  string                 `json:"session_id"`
	TagID      string                 `json:"tag_id"`
	Phase      FindingPhase           `json:"phase"`
	Event      string                 `json:"event,omitempty"` // set only on a phase transition
	Geiger     *GeigerReading         `json:"geiger,omitempty"`
	Navigation *NavigationInstruction `json:"navigation,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// FindingStatus is a point-in-time snapshot of a session for API queries.
// The last-known fields are nil until the first reading (or seeker fix)
// supplies them.
type FindingStatus struct {
	SessionID      string       `json:"session_id"`
	TagID          string       `json:"tag_id"`
	DocketCode     string       `json:"docket_code,omitempty"`
	Phase          FindingPhase `json:"phase"`
	StartedAt      time.Time    `json:"started_at"`
	LastSeen       time.Time    `json:"last_seen,omitempty"`
	ElapsedSeconds float64      `json:"elapsed_seconds"`
	DistanceMeters *float64     `json:"distance_meters,omitempty"`
	SignalPct      *float64     `json:"signal_pct,omitempty"`
	BearingDeg     *float64     `json:"bearing_deg,omitempty"`
	Path           []Point3     `json:"path,omitempty"`
	Stopped        bool         `json:"stopped"`
}

// FindingSession drives one seek-a-tag workflow. Phases only move forward
// (searching → detected → approaching → found); a session whose target
// goes unseen past the timeout transitions to the terminal lost phase.
//
// The session is fed by the orchestrator's batch cycle (HandleReading) and
// by seeker position fixes (UpdateSeeker); both feedback modes are
// computed on every reading so the client can switch between Geiger and
// navigation display freely.
type FindingSession struct {
	id      string
	tagID   string
	docket  *Docket
	clock   timeutil.Clock
	started time.Time

	timeout       time.Duration
	foundMeters   float64
	approachMeter float64
	seekerStale   time.Duration
	refRSSI       float64
	pathExponent  float64
	geiger        geigerParams
	nav           navigationParams

	mu           sync.Mutex
	phase        FindingPhase
	stopped      bool
	lastReading  time.Time
	rssiRing     []float64
	seeker       *SeekerFix
	prevSeeker   *SeekerFix
	target       *PositionEstimate
	lastDistance *float64
	lastSignal   *float64
	lastBearing  *float64
	path         []Point3
}

// NewFindingSession creates a session in the searching phase. docket may
// be nil when the target tag has no associated docket.
func NewFindingSession(cfg *config.TuningConfig, clock timeutil.Clock, tagID string, docket *Docket) *FindingSession {
	return &FindingSession{
		id:      uuid.NewString(),
		tagID:   tagID,
		docket:  docket,
		clock:   clock,
		started: clock.Now(),

		timeout:       cfg.GetFindingTimeout(),
		foundMeters:   cfg.GetFoundProximityMeters(),
		approachMeter: cfg.GetApproachingDistanceMeters(),
		seekerStale:   cfg.GetSeekerStaleAfter(),
		refRSSI:       cfg.GetReferenceRSSI(),
		pathExponent:  cfg.GetPathLossExponent(),
		geiger:        geigerParamsFromTuning(cfg),
		nav: navigationParams{
			turnThresholdDeg: cfg.GetTurnThresholdDeg(),
			waypointCount:    cfg.GetNavigationWaypoints(),
			arriveMeters:     cfg.GetFoundProximityMeters(),
		},

		phase:    PhaseSearching,
		rssiRing: make([]float64, 0, rssiHistorySize),
	}
}

// ID returns the session's unique identifier.
func (s *FindingSession) ID() string { return s.id }

// TagID returns the target tag.
func (s *FindingSession) TagID() string { return s.tagID }

// HandleReading processes one observation of the target tag. estimate may
// be nil when the engine has no position for the tag yet. Returns the
// update frame to broadcast; ok is false when the session is stopped or
// terminal and the reading was discarded.
func (s *FindingSession) HandleReading(reading TagReading, estimate *PositionEstimate) (FindingUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.phase == PhaseLost || s.phase == PhaseFound {
		return FindingUpdate{}, false
	}

	now := s.clock.Now()
	s.lastReading = now
	if estimate != nil {
		est := *estimate
		s.target = &est
	}
	s.rssiRing = append(s.rssiRing, reading.RSSI)
	if len(s.rssiRing) > rssiHistorySize {
		s.rssiRing = s.rssiRing[len(s.rssiRing)-rssiHistorySize:]
	}

	distance, haveFix := s.targetDistance(reading, now)

	event := s.advance(PhaseDetected)
	if haveFix {
		// Distance-based transitions need a real seeker-relative
		// distance; the path-loss fallback only drives Geiger feedback.
		if distance <= s.foundMeters {
			if e := s.advance(PhaseFound); e != "" {
				event = e
			}
		} else if distance < s.approachMeter {
			if e := s.advance(PhaseApproaching); e != "" {
				event = e
			}
		}
	}

	g := geigerReading(s.geiger, reading.RSSI, distance, s.rssiRing)
	d, sig := distance, g.StrengthPct
	s.lastDistance, s.lastSignal = &d, &sig
	update := FindingUpdate{
		SessionID: s.id,
		TagID:     s.tagID,
		Phase:     s.phase,
		Event:     event,
		Geiger:    &g,
		Timestamp: now,
	}
	if instr, ok := s.navigationLocked(now); ok {
		update.Navigation = &instr
		b := instr.BearingDeg
		s.lastBearing = &b
	}
	return update, true
}

// UpdateSeeker records a new seeker position fix. The previous fix is
// retained so navigation can derive the seeker's heading; each fix also
// extends the accumulated search path.
func (s *FindingSession) UpdateSeeker(fix SeekerFix) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prevSeeker = s.seeker
	s.seeker = &fix
	s.path = append(s.path, fix.Position)
	if len(s.path) > maxPathPoints {
		s.path = s.path[len(s.path)-maxPathPoints:]
	}
}

// CheckTimeout transitions the session to lost when the target has gone
// unseen past the finding timeout. Returns the lost update frame and true
// exactly once; later calls return false.
func (s *FindingSession) CheckTimeout() (FindingUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.phase == PhaseLost || s.phase == PhaseFound {
		return FindingUpdate{}, false
	}

	now := s.clock.Now()
	ref := s.lastReading
	if ref.IsZero() {
		ref = s.started
	}
	if now.Sub(ref) < s.timeout {
		return FindingUpdate{}, false
	}

	s.phase = PhaseLost
	return FindingUpdate{
		SessionID: s.id,
		TagID:     s.tagID,
		Phase:     PhaseLost,
		Event:     string(PhaseLost),
		Timestamp: now,
	}, true
}

// Stop ends the session. Idempotent.
func (s *FindingSession) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

// Resolved reports whether the session reached a terminal phase.
func (s *FindingSession) Resolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseFound || s.phase == PhaseLost
}

// Status returns a snapshot of the session.
func (s *FindingSession) Status() FindingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := FindingStatus{
		SessionID:      s.id,
		TagID:          s.tagID,
		Phase:          s.phase,
		StartedAt:      s.started,
		LastSeen:       s.lastReading,
		ElapsedSeconds: s.clock.Now().Sub(s.started).Seconds(),
		DistanceMeters: s.lastDistance,
		SignalPct:      s.lastSignal,
		BearingDeg:     s.lastBearing,
		Path:           append([]Point3(nil), s.path...),
		Stopped:        s.stopped,
	}
	if s.docket != nil {
		st.DocketCode = s.docket.DocketCode
	}
	return st
}

// advance moves the phase forward to target if that is a strictly later
// phase, returning the transition event name, or "" when no transition
// fired. Phases never move backward.
func (s *FindingSession) advance(target FindingPhase) string {
	if phaseOrdinal[target] <= phaseOrdinal[s.phase] {
		return ""
	}
	s.phase = target
	return string(target)
}

// targetDistance returns the best available distance to the target.
// With a fresh seeker fix and a target estimate it is the straight-line
// distance (haveFix=true); otherwise it falls back to the path-loss
// distance modeled from the reading's RSSI (haveFix=false).
func (s *FindingSession) targetDistance(reading TagReading, now time.Time) (float64, bool) {
	if s.seeker != nil && now.Sub(s.seeker.Timestamp) <= s.seekerStale && s.target != nil {
		return s.seeker.Position.DistanceTo(s.target.Position()), true
	}
	d := units.PathLossDistance(reading.RSSI, s.refRSSI, s.pathExponent)
	if d < 0.1 {
		d = 0.1
	}
	return d, false
}

// navigationLocked builds a navigation instruction when a fresh seeker fix
// and a target position both exist. Caller holds s.mu.
func (s *FindingSession) navigationLocked(now time.Time) (NavigationInstruction, bool) {
	if s.seeker == nil || now.Sub(s.seeker.Timestamp) > s.seekerStale || s.target == nil {
		return NavigationInstruction{}, false
	}
	var heading Point3
	if s.prevSeeker != nil {
		heading = Point3{
			X: s.seeker.Position.X - s.prevSeeker.Position.X,
			Y: s.seeker.Position.Y - s.prevSeeker.Position.Y,
		}
	}
	return navigate(s.nav, *s.seeker, heading, s.target.Position()), true
}
