package rtls

import (
	"math"
	"sync"
)

// missingReaderPenaltyDB is added (squared) for each reader present in one
// RSSI vector but not the other, so partial overlaps don't look
// artificially close.
const missingReaderPenaltyDB = 20.0

// FingerprintDB holds stored RSSI-vector fingerprints at known locations.
// The engine's fingerprint tier activates only when the database is
// populated; it is typically loaded once from persistence at startup but
// supports concurrent reload.
type FingerprintDB struct {
	mu      sync.RWMutex
	entries []FingerprintEntry
}

// NewFingerprintDB creates a fingerprint database from the given entries.
func NewFingerprintDB(entries []FingerprintEntry) *FingerprintDB {
	return &FingerprintDB{entries: entries}
}

// Replace swaps in a new set of entries (e.g. after a survey reload).
func (f *FingerprintDB) Replace(entries []FingerprintEntry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
}

// Len returns the number of stored fingerprints.
func (f *FingerprintDB) Len() int {
	if f == nil {
		return 0
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.entries)
}

// Match finds the nearest stored fingerprint to the live RSSI vector by
// Euclidean distance across shared readers, penalising readers present in
// only one of the two vectors. Returns ok=false when the database is empty
// or no shared readers exist.
func (f *FingerprintDB) Match(live map[string]float64) (entry FingerprintEntry, distance float64, ok bool) {
	if f == nil {
		return FingerprintEntry{}, 0, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	best := math.Inf(1)
	bestIdx := -1
	for i, e := range f.entries {
		d, shared := vectorDistance(live, e.RSSI)
		if shared == 0 {
			continue
		}
		if d < best {
			best = d
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return FingerprintEntry{}, 0, false
	}
	return f.entries[bestIdx], best, true
}

// vectorDistance computes the RMS dB distance between two RSSI vectors.
// Readers missing from either side contribute missingReaderPenaltyDB.
func vectorDistance(a, b map[string]float64) (float64, int) {
	var sumSq float64
	var n, shared int
	for reader, va := range a {
		if vb, found := b[reader]; found {
			diff := va - vb
			sumSq += diff * diff
			shared++
		} else {
			sumSq += missingReaderPenaltyDB * missingReaderPenaltyDB
		}
		n++
	}
	for reader := range b {
		if _, found := a[reader]; !found {
			sumSq += missingReaderPenaltyDB * missingReaderPenaltyDB
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return math.Sqrt(sumSq / float64(n)), shared
}
