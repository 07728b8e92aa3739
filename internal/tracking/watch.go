package tracking

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wareline-data/tagfind/internal/rtls"
)

// watchBufferSize bounds each tracking session's snapshot channel; a slow
// client misses snapshots rather than stalling the broadcast cycle.
const watchBufferSize = 8

// TrackingSession is an ad hoc watch over a fixed set of tags, distinct
// from a finding session: it carries no search state machine, only a
// filtered feed of position snapshots. Created by StartTracking when a
// client subscribes and destroyed by StopTracking on unsubscribe or
// disconnect.
type TrackingSession struct {
	id       string
	clientID string
	tags     map[string]bool
	ch       chan []rtls.ActiveTag

	mu     sync.Mutex
	active bool
}

func newTrackingSession(clientID string, tagIDs []string) *TrackingSession {
	tags := make(map[string]bool, len(tagIDs))
	for _, id := range tagIDs {
		if id != "" {
			tags[id] = true
		}
	}
	return &TrackingSession{
		id:       uuid.NewString(),
		clientID: clientID,
		tags:     tags,
		ch:       make(chan []rtls.ActiveTag, watchBufferSize),
		active:   true,
	}
}

// ID returns the session id.
func (s *TrackingSession) ID() string { return s.id }

// ClientID returns the subscribing client's identifier.
func (s *TrackingSession) ClientID() string { return s.clientID }

// Updates returns the filtered snapshot channel. Closed when the session
// is stopped.
func (s *TrackingSession) Updates() <-chan []rtls.ActiveTag { return s.ch }

// Watches reports whether the session watches the given tag.
func (s *TrackingSession) Watches(tagID string) bool { return s.tags[tagID] }

// deliver pushes the watched subset of a broadcast snapshot, dropping the
// frame when the client's buffer is full or the session has been stopped.
func (s *TrackingSession) deliver(tags []rtls.ActiveTag) {
	var filtered []rtls.ActiveTag
	for _, t := range tags {
		if s.tags[t.TagID] {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return
	}
	select {
	case s.ch <- filtered:
	default:
	}
}

func (s *TrackingSession) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.active = false
		close(s.ch)
	}
}
