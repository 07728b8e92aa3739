// Package tracking hosts the orchestrator that ties the locating pipeline
// together: it drains raw reads from the reader gateway into a bounded
// queue, runs the periodic batch / broadcast / cleanup cycles, feeds
// finding sessions, and persists tag events through the sink.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wareline-data/tagfind/internal/config"
	"github.com/wareline-data/tagfind/internal/monitoring"
	"github.com/wareline-data/tagfind/internal/readergw"
	"github.com/wareline-data/tagfind/internal/rtls"
	"github.com/wareline-data/tagfind/internal/timeutil"
)

// maxBufferPerTag hard-caps a tag's measurement buffer independent of the
// time window, bounding memory under read storms.
const maxBufferPerTag = 200

// Deps collects the orchestrator's collaborators. All fields are required
// except Alerts, which may be nil when no geofences are configured.
type Deps struct {
	Config   *config.TuningConfig
	Clock    timeutil.Clock
	Gateway  readergw.Gateway
	Registry *rtls.ReaderRegistry
	Engine   *rtls.Engine
	Sink     rtls.EventSink
	Metadata rtls.MetadataLookup
	Hub      *rtls.Hub
	Alerts   *rtls.AlertMonitor

	// SeekerTagID designates the tag worn by the operator; its position
	// estimates feed finding sessions as seeker fixes. Empty disables
	// seeker-relative guidance.
	SeekerTagID string

	// Recorder, when set, receives every ingested reading. Used by survey
	// runs to capture RSSI series for offline plotting.
	Recorder ReadRecorder
}

// ReadRecorder taps the raw reading stream.
type ReadRecorder interface {
	Record(reading rtls.TagReading)
}

// Stats is a point-in-time snapshot of orchestrator counters.
type Stats struct {
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
	ActiveTags       int    `json:"active_tags"`
	FindingSessions  int    `json:"finding_sessions"`
	TrackingSessions int    `json:"tracking_sessions"`
	KalmanFilters    int    `json:"kalman_filters"`
	Subscribers      int    `json:"subscribers"`
	ProcessedReads   uint64 `json:"processed_reads"`
	DroppedReads     uint64 `json:"dropped_reads"`
	DroppedFrames    uint64 `json:"dropped_frames"`
	PersistFailures  uint64 `json:"persist_failures"`
}

// Orchestrator runs the locating pipeline. Create with New, start with
// Run; all other methods are safe for concurrent use while Run is active.
type Orchestrator struct {
	cfg         *config.TuningConfig
	clock       timeutil.Clock
	gateway     readergw.Gateway
	registry    *rtls.ReaderRegistry
	engine      *rtls.Engine
	sink        rtls.EventSink
	meta        rtls.MetadataLookup
	hub         *rtls.Hub
	alerts      *rtls.AlertMonitor
	seekerTagID string
	recorder    ReadRecorder

	mu       sync.Mutex
	queue    []readergw.TagReadEvent
	buffers  map[string][]rtls.Measurement
	active   map[string]*rtls.ActiveTag
	sessions map[string]*rtls.FindingSession
	byTag    map[string]string // target tag id → session id
	watches  map[string]*TrackingSession
	dockets  map[string]*rtls.Docket

	processed       atomic.Uint64
	droppedReads    atomic.Uint64
	persistFailures atomic.Uint64
}

// New creates an orchestrator from its dependencies.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		cfg:         d.Config,
		clock:       d.Clock,
		gateway:     d.Gateway,
		registry:    d.Registry,
		engine:      d.Engine,
		sink:        d.Sink,
		meta:        d.Metadata,
		hub:         d.Hub,
		alerts:      d.Alerts,
		seekerTagID: d.SeekerTagID,
		recorder:    d.Recorder,
		buffers:     make(map[string][]rtls.Measurement),
		active:      make(map[string]*rtls.ActiveTag),
		sessions:    make(map[string]*rtls.FindingSession),
		byTag:       make(map[string]string),
		watches:     make(map[string]*TrackingSession),
		dockets:     make(map[string]*rtls.Docket),
	}
}

// Run starts the ingest loop and the three periodic cycles, blocking until
// the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(4)
	go func() {
		defer wg.Done()
		o.ingestLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		o.tickLoop(ctx, o.cfg.GetBatchInterval(), func() { o.processBatch(ctx) })
	}()
	go func() {
		defer wg.Done()
		o.tickLoop(ctx, o.cfg.GetBroadcastInterval(), o.broadcastOnce)
	}()
	go func() {
		defer wg.Done()
		o.tickLoop(ctx, o.cfg.GetCleanupInterval(), func() { o.cleanupOnce(ctx) })
	}()

	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) tickLoop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := o.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			fn()
		}
	}
}

// ingestLoop drains gateway events into the bounded queue. Reader status
// changes carry no positional information; they are published on the
// reader-status topic and logged.
func (o *Orchestrator) ingestLoop(ctx context.Context) {
	events := o.gateway.Events()
	status := o.gateway.StatusEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if o.recorder != nil {
				o.recorder.Record(ev.Reading)
			}
			o.enqueue(ev)
		case st, ok := <-status:
			if !ok {
				status = nil
				continue
			}
			o.hub.Publish(rtls.BroadcastMessage{Topic: rtls.TopicReaderStatus, Payload: st, Timestamp: o.clock.Now()})
			monitoring.Logf("tracking: reader %s status=%s battery=%.0f%% %s",
				st.ReaderID, st.Status, st.BatteryPct, st.Detail)
		}
	}
}

// enqueue appends a read to the queue, shedding the oldest entry when the
// queue is at capacity. Newest data wins: a stale read is worth less than
// a fresh one.
func (o *Orchestrator) enqueue(ev readergw.TagReadEvent) {
	capacity := o.cfg.GetEventQueueCapacity()
	o.mu.Lock()
	if len(o.queue) >= capacity {
		shed := len(o.queue) - capacity + 1
		o.queue = o.queue[shed:]
		o.droppedReads.Add(uint64(shed))
	}
	o.queue = append(o.queue, ev)
	o.mu.Unlock()
}

// processBatch runs one batch cycle: dequeue up to the batch size, persist
// tag events, fold readings into measurement buffers, estimate positions,
// evaluate alerts, and feed finding sessions. On a persistence failure the
// whole batch is returned to the front of the queue for retry; buffers are
// only touched after the persist succeeds, so a retried batch never folds
// the same reading twice.
func (o *Orchestrator) processBatch(ctx context.Context) {
	batch := o.dequeueBatch()
	if len(batch) == 0 {
		return
	}
	now := o.clock.Now()

	type acceptedRead struct {
		ev   readergw.TagReadEvent
		desc rtls.ReaderDescriptor
	}
	var accepted []acceptedRead
	var events []rtls.TagEvent
	for _, ev := range batch {
		reading := ev.Reading
		desc, err := o.registry.Get(reading.ReaderID)
		if err != nil || !desc.Enabled {
			continue
		}
		accepted = append(accepted, acceptedRead{ev: ev, desc: desc})
		events = append(events, rtls.TagEvent{
			TagID:          reading.TagID,
			ReaderID:       reading.ReaderID,
			SignalStrength: reading.RSSI,
			EventType:      string(ev.Type),
			ZoneID:         desc.ZoneID,
			Timestamp:      reading.Timestamp,
		})
	}

	if len(events) > 0 {
		if err := o.sink.AppendEvents(ctx, events); err != nil {
			o.persistFailures.Add(1)
			monitoring.Logf("tracking: persist batch of %d failed, re-queueing: %v", len(batch), err)
			o.requeueFront(batch)
			return
		}
	}
	o.processed.Add(uint64(len(batch)))

	// Fold readings into buffers, remembering the latest reading per tag.
	latestRead := make(map[string]readergw.TagReadEvent)
	for _, a := range accepted {
		o.appendMeasurement(a.ev.Reading, a.desc, now)
		latestRead[a.ev.Reading.TagID] = a.ev
	}
	for tagID, ev := range latestRead {
		o.updateTag(ctx, tagID, ev, now)
	}
}

// dequeueBatch removes up to the configured batch size from the queue.
func (o *Orchestrator) dequeueBatch() []readergw.TagReadEvent {
	size := o.cfg.GetBatchSize()
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.queue) == 0 {
		return nil
	}
	if size > len(o.queue) {
		size = len(o.queue)
	}
	batch := make([]readergw.TagReadEvent, size)
	copy(batch, o.queue[:size])
	o.queue = o.queue[size:]
	return batch
}

// requeueFront returns a failed batch to the head of the queue, preserving
// order ahead of newer reads.
func (o *Orchestrator) requeueFront(batch []readergw.TagReadEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queue = append(batch, o.queue...)
}

// appendMeasurement folds one reading into the tag's buffer, trimming
// entries outside the measurement window and enforcing the hard cap.
func (o *Orchestrator) appendMeasurement(reading rtls.TagReading, desc rtls.ReaderDescriptor, now time.Time) {
	window := o.cfg.GetMeasurementWindow()
	m := rtls.Measurement{
		Reading:        reading,
		ReaderPosition: desc.Position,
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	buf := append(o.buffers[reading.TagID], m)
	trimmed := buf[:0]
	for _, bm := range buf {
		if now.Sub(bm.Reading.Timestamp) <= window {
			trimmed = append(trimmed, bm)
		}
	}
	if len(trimmed) > maxBufferPerTag {
		trimmed = trimmed[len(trimmed)-maxBufferPerTag:]
	}
	o.buffers[reading.TagID] = trimmed
}

// updateTag estimates the tag's position and propagates the result:
// active-tag record, alert evaluation, docket location, finding sessions,
// seeker fixes.
func (o *Orchestrator) updateTag(ctx context.Context, tagID string, ev readergw.TagReadEvent, now time.Time) {
	o.mu.Lock()
	buf := o.buffers[tagID]
	o.mu.Unlock()

	est, err := o.engine.Estimate(tagID, buf, now)
	if err != nil {
		if !errors.Is(err, rtls.ErrInsufficientData) {
			monitoring.Logf("tracking: estimate %s: %v", tagID, err)
		}
		return
	}

	movement := rtls.MovementStationary
	if est.Velocity != nil {
		movement = rtls.ClassifyMovement(est.Velocity.SpeedMps,
			o.cfg.GetMovingSpeedMps(), o.cfg.GetFastSpeedMps())
	}
	docket := o.lookupDocket(ctx, tagID)

	var zone string
	var raised []rtls.Alert
	if o.alerts != nil {
		zone = o.alerts.CurrentZone(est.Position())
		raised = o.alerts.Evaluate(tagID, est, movement, docket, now)
	}

	o.mu.Lock()
	prev := o.active[tagID]
	tag := &rtls.ActiveTag{
		TagID:    tagID,
		Estimate: est,
		Status:   rtls.TagActive,
		Movement: movement,
		Docket:   docket,
		ZoneID:   zone,
		Alerts:   raised,
		LastSeen: now,
	}
	o.active[tagID] = tag
	sessionID, hasSession := o.byTag[tagID]
	session := o.sessions[sessionID]
	o.mu.Unlock()

	if docket != nil && zone != "" && (prev == nil || prev.ZoneID != zone) {
		if err := o.sink.UpdateDocketLocation(ctx, docket.DocketID, zone, zone); err != nil {
			monitoring.Logf("tracking: update docket %d location: %v", docket.DocketID, err)
		} else if err := o.sink.RecordMovement(ctx, docket.DocketID, zone, zone, "rtls"); err != nil {
			monitoring.Logf("tracking: record docket %d movement: %v", docket.DocketID, err)
		}
	}

	for _, a := range raised {
		o.hub.Publish(rtls.BroadcastMessage{Topic: rtls.TopicAlerts, Payload: a, Timestamp: now})
	}

	if hasSession && session != nil {
		if update, ok := session.HandleReading(ev.Reading, &est); ok {
			o.hub.Publish(rtls.BroadcastMessage{Topic: rtls.TopicFinding, Payload: update, Timestamp: now})
			if update.Phase == rtls.PhaseFound {
				// Found resolves the session: release the tag so a new
				// search can start. The record stays queryable until the
				// next cleanup pass reaps it.
				o.detachSession(session)
				monitoring.Logf("tracking: finding session %s resolved: tag %s found", session.ID(), tagID)
			}
		}
	}

	if o.seekerTagID != "" && tagID == o.seekerTagID {
		fix := rtls.SeekerFix{Position: est.Position(), Timestamp: now}
		o.mu.Lock()
		for _, s := range o.sessions {
			s.UpdateSeeker(fix)
		}
		o.mu.Unlock()
	}
}

// lookupDocket resolves a tag's docket through the metadata collaborator,
// caching both hits and misses for the life of the tag.
func (o *Orchestrator) lookupDocket(ctx context.Context, tagID string) *rtls.Docket {
	o.mu.Lock()
	d, cached := o.dockets[tagID]
	o.mu.Unlock()
	if cached {
		return d
	}

	var entry *rtls.Docket
	docket, err := o.meta.GetDocketByTag(ctx, tagID)
	switch {
	case err == nil:
		entry = &docket
	case errors.Is(err, rtls.ErrTagNotFound):
		// Unassociated tag; cache the miss.
	default:
		monitoring.Logf("tracking: docket lookup %s: %v", tagID, err)
		return nil // transient failure, retry next batch
	}

	o.mu.Lock()
	o.dockets[tagID] = entry
	o.mu.Unlock()
	return entry
}

// broadcastOnce publishes the positions of tags seen within the broadcast
// window.
func (o *Orchestrator) broadcastOnce() {
	now := o.clock.Now()
	window := o.cfg.GetBroadcastWindow()

	o.mu.Lock()
	tags := make([]rtls.ActiveTag, 0, len(o.active))
	for _, t := range o.active {
		if now.Sub(t.LastSeen) <= window {
			tags = append(tags, *t)
		}
	}
	watches := make([]*TrackingSession, 0, len(o.watches))
	for _, w := range o.watches {
		watches = append(watches, w)
	}
	o.mu.Unlock()

	if len(tags) == 0 {
		return
	}
	o.hub.Publish(rtls.BroadcastMessage{Topic: rtls.TopicPositions, Payload: tags, Timestamp: now})
	for _, w := range watches {
		w.deliver(tags)
	}
}

// cleanupOnce reclassifies stale tags and expires finding sessions. A tag
// unseen past the lost threshold emits exactly one tag-lost event, has its
// Kalman and containment state reset, and is removed.
func (o *Orchestrator) cleanupOnce(ctx context.Context) {
	now := o.clock.Now()
	idleAfter := o.cfg.GetTagIdleAfter()
	lostAfter := o.cfg.GetTagLostAfter()

	var lost []*rtls.ActiveTag
	o.mu.Lock()
	for tagID, t := range o.active {
		unseen := now.Sub(t.LastSeen)
		switch {
		case unseen > lostAfter:
			lost = append(lost, t)
			delete(o.active, tagID)
			delete(o.buffers, tagID)
			delete(o.dockets, tagID)
		case unseen > idleAfter:
			t.Status = rtls.TagIdle
		}
	}
	sessions := make([]*rtls.FindingSession, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()

	for _, t := range lost {
		o.engine.ResetTag(t.TagID)
		if o.alerts != nil {
			o.alerts.Forget(t.TagID)
		}
		event := rtls.TagEvent{
			TagID:     t.TagID,
			EventType: "tag-lost",
			ZoneID:    t.ZoneID,
			Timestamp: now,
		}
		if err := o.sink.AppendEvents(ctx, []rtls.TagEvent{event}); err != nil {
			monitoring.Logf("tracking: persist tag-lost for %s: %v", t.TagID, err)
		}
		o.hub.Publish(rtls.BroadcastMessage{Topic: rtls.TopicTagLost, Payload: *t, Timestamp: now})
		monitoring.Logf("tracking: tag %s lost (unseen %.0fs)", t.TagID, now.Sub(t.LastSeen).Seconds())
	}

	for _, s := range sessions {
		// Sessions that resolved before this pass have had one cleanup
		// interval of grace for final status queries; drop them now.
		if s.Resolved() {
			o.reapSession(s)
			continue
		}
		if update, ok := s.CheckTimeout(); ok {
			o.hub.Publish(rtls.BroadcastMessage{Topic: rtls.TopicFinding, Payload: update, Timestamp: now})
			o.detachSession(s)
		}
	}
}

// detachSession releases a session's claim on its target tag so a new
// search for the tag can start. The session itself stays registered.
func (o *Orchestrator) detachSession(s *rtls.FindingSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.byTag[s.TagID()] == s.ID() {
		delete(o.byTag, s.TagID())
	}
}

// reapSession removes a resolved session from the registry entirely.
func (o *Orchestrator) reapSession(s *rtls.FindingSession) {
	o.mu.Lock()
	delete(o.sessions, s.ID())
	if o.byTag[s.TagID()] == s.ID() {
		delete(o.byTag, s.TagID())
	}
	o.mu.Unlock()
	monitoring.Logf("tracking: finding session %s reaped (%s)", s.ID(), s.Status().Phase)
}

// StartFinding opens a finding session for a tag, or for the tag bound to
// a docket code when tagID is empty. One session per target tag: a second
// start for the same tag returns the existing session.
func (o *Orchestrator) StartFinding(ctx context.Context, tagID, docketCode string) (*rtls.FindingSession, error) {
	var docket *rtls.Docket
	if tagID == "" {
		if docketCode == "" {
			return nil, fmt.Errorf("finding requires a tag id or docket code")
		}
		resolved, d, err := o.meta.GetTagForDocket(ctx, docketCode)
		if err != nil {
			return nil, err
		}
		tagID = resolved
		docket = &d
	} else if d := o.lookupDocket(ctx, tagID); d != nil {
		docket = d
	}

	o.mu.Lock()
	if existingID, ok := o.byTag[tagID]; ok {
		if s := o.sessions[existingID]; s != nil {
			o.mu.Unlock()
			return s, nil
		}
	}
	s := rtls.NewFindingSession(o.cfg, o.clock, tagID, docket)
	o.sessions[s.ID()] = s
	o.byTag[tagID] = s.ID()
	o.mu.Unlock()

	o.hub.Publish(rtls.BroadcastMessage{Topic: rtls.TopicFindingStarted, Payload: s.Status(), Timestamp: o.clock.Now()})
	monitoring.Logf("tracking: finding session %s started for tag %s", s.ID(), tagID)
	return s, nil
}

// StopFinding ends a session.
func (o *Orchestrator) StopFinding(sessionID string) error {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	if ok {
		delete(o.sessions, sessionID)
		if o.byTag[s.TagID()] == sessionID {
			delete(o.byTag, s.TagID())
		}
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", rtls.ErrSessionNotFound, sessionID)
	}
	s.Stop()
	monitoring.Logf("tracking: finding session %s stopped", sessionID)
	return nil
}

// StartTracking opens an ad hoc tracking session watching the given tags.
// The caller owns the session's lifetime and must StopTracking it when the
// subscribing client goes away.
func (o *Orchestrator) StartTracking(clientID string, tagIDs []string) *TrackingSession {
	s := newTrackingSession(clientID, tagIDs)
	o.mu.Lock()
	o.watches[s.ID()] = s
	o.mu.Unlock()
	monitoring.Logf("tracking: watch %s started for %s (%d tags)", s.ID(), clientID, len(tagIDs))
	return s
}

// StopTracking ends a tracking session and closes its snapshot channel.
func (o *Orchestrator) StopTracking(sessionID string) error {
	o.mu.Lock()
	s, ok := o.watches[sessionID]
	delete(o.watches, sessionID)
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", rtls.ErrSessionNotFound, sessionID)
	}
	s.close()
	monitoring.Logf("tracking: watch %s stopped", sessionID)
	return nil
}

// GetFinding returns a session's status.
func (o *Orchestrator) GetFinding(sessionID string) (rtls.FindingStatus, error) {
	o.mu.Lock()
	s, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if !ok {
		return rtls.FindingStatus{}, fmt.Errorf("%w: %s", rtls.ErrSessionNotFound, sessionID)
	}
	return s.Status(), nil
}

// ActiveTags returns a snapshot of all currently tracked tags.
func (o *Orchestrator) ActiveTags() []rtls.ActiveTag {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]rtls.ActiveTag, 0, len(o.active))
	for _, t := range o.active {
		out = append(out, *t)
	}
	return out
}

// StartInventory validates the reader and forwards the command.
func (o *Orchestrator) StartInventory(readerID string) error {
	if _, err := o.registry.Get(readerID); err != nil {
		return err
	}
	return o.gateway.StartInventory(readerID)
}

// StopInventory validates the reader and forwards the command.
func (o *Orchestrator) StopInventory(readerID string) error {
	if _, err := o.registry.Get(readerID); err != nil {
		return err
	}
	return o.gateway.StopInventory(readerID)
}

// SetAntennaPower forwards the power change and mirrors it in the
// registry.
func (o *Orchestrator) SetAntennaPower(readerID string, powerDBm float64) error {
	if _, err := o.registry.Get(readerID); err != nil {
		return err
	}
	if err := o.gateway.SetAntennaPower(readerID, powerDBm); err != nil {
		return err
	}
	return o.registry.SetPower(readerID, powerDBm)
}

// Stats returns current pipeline counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	queueDepth := len(o.queue)
	activeTags := len(o.active)
	sessions := len(o.sessions)
	watches := len(o.watches)
	o.mu.Unlock()
	return Stats{
		QueueDepth:       queueDepth,
		QueueCapacity:    o.cfg.GetEventQueueCapacity(),
		ActiveTags:       activeTags,
		FindingSessions:  sessions,
		TrackingSessions: watches,
		KalmanFilters:    o.engine.ActiveFilters(),
		Subscribers:      o.hub.SubscriberCount(),
		ProcessedReads:   o.processed.Load(),
		DroppedReads:     o.droppedReads.Load(),
		DroppedFrames:    o.hub.DroppedCount(),
		PersistFailures:  o.persistFailures.Load(),
	}
}
