package readergw

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/wareline-data/tagfind/internal/rtls"
	"github.com/wareline-data/tagfind/internal/timeutil"
	"github.com/wareline-data/tagfind/internal/units"
)

// mockReadInterval is how often the mock emits one inventory round.
const mockReadInterval = 250 * time.Millisecond

// rssiNoiseSigmaDB is the Gaussian noise added to each synthetic RSSI.
const rssiNoiseSigmaDB = 2.0

// MockGateway simulates a fleet of readers observing a set of tags, for
// development and tests without hardware. Each inventory round emits one
// read per (in-range reader, tag) pair, with RSSI modeled from the
// path-loss curve plus Gaussian noise.
type MockGateway struct {
	clock   timeutil.Clock
	refRSSI float64
	pathExp float64

	events chan TagReadEvent
	status chan ReaderStatusEvent

	mu          sync.Mutex
	readers     []rtls.ReaderDescriptor
	tags        map[string]rtls.Point3
	inventoryOn map[string]bool
	rng         *rand.Rand
	closed      bool
}

// NewMockGateway creates a mock over the given readers. Inventory starts
// enabled on every reader.
func NewMockGateway(readers []rtls.ReaderDescriptor, refRSSI, pathExp float64, clock timeutil.Clock) *MockGateway {
	inventoryOn := make(map[string]bool, len(readers))
	for _, r := range readers {
		inventoryOn[r.ID] = true
	}
	return &MockGateway{
		clock:       clock,
		refRSSI:     refRSSI,
		pathExp:     pathExp,
		events:      make(chan TagReadEvent, eventChanCapacity),
		status:      make(chan ReaderStatusEvent, 16),
		readers:     readers,
		tags:        make(map[string]rtls.Point3),
		inventoryOn: inventoryOn,
		rng:         rand.New(rand.NewSource(1)),
	}
}

// PlaceTag sets (or moves) a simulated tag.
func (g *MockGateway) PlaceTag(tagID string, pos rtls.Point3) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tags[tagID] = pos
}

// RemoveTag deletes a simulated tag, as if it left the building.
func (g *MockGateway) RemoveTag(tagID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.tags, tagID)
}

func (g *MockGateway) Events() <-chan TagReadEvent            { return g.events }
func (g *MockGateway) StatusEvents() <-chan ReaderStatusEvent { return g.status }

func (g *MockGateway) StartInventory(readerID string) error {
	return g.setInventory(readerID, true)
}

func (g *MockGateway) StopInventory(readerID string) error {
	return g.setInventory(readerID, false)
}

func (g *MockGateway) setInventory(readerID string, on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.inventoryOn[readerID]; !ok {
		return fmt.Errorf("%w: %s", rtls.ErrReaderNotFound, readerID)
	}
	g.inventoryOn[readerID] = on
	return nil
}

func (g *MockGateway) SetAntennaPower(readerID string, powerDBm float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.readers {
		if g.readers[i].ID == readerID {
			g.readers[i].PowerDBm = powerDBm
			return nil
		}
	}
	return fmt.Errorf("%w: %s", rtls.ErrReaderNotFound, readerID)
}

// Monitor emits synthetic inventory rounds until the context is cancelled.
func (g *MockGateway) Monitor(ctx context.Context) error {
	ticker := g.clock.NewTicker(mockReadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			g.emitRound()
		}
	}
}

// emitRound delivers one read per in-range (reader, tag) pair.
func (g *MockGateway) emitRound() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	now := g.clock.Now()
	for _, r := range g.readers {
		if !g.inventoryOn[r.ID] {
			continue
		}
		for tagID, pos := range g.tags {
			d := r.Position.DistanceTo(pos)
			if r.RangeMeters > 0 && d > r.RangeMeters {
				continue
			}
			rssi := units.PathLossRSSI(d, g.refRSSI, g.pathExp) + g.rng.NormFloat64()*rssiNoiseSigmaDB
			eventType := EventRead
			if r.Kind == rtls.ReaderGate {
				eventType = EventGatePass
			}
			ev := TagReadEvent{
				Reading: rtls.TagReading{
					TagID:     tagID,
					ReaderID:  r.ID,
					RSSI:      rssi,
					Antenna:   1,
					Timestamp: now,
				},
				Type: eventType,
			}
			select {
			case g.events <- ev:
			default:
				// Orchestrator is behind; shed the synthetic read.
			}
		}
	}
}

// Close closes the event channels. Idempotent.
func (g *MockGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true
	close(g.events)
	close(g.status)
	return nil
}
