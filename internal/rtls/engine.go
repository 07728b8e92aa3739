package rtls

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/wareline-data/tagfind/internal/config"
	"github.com/wareline-data/tagfind/internal/units"
)

// EngineConfig holds tuning parameters for the position engine.
type EngineConfig struct {
	ReferenceRSSI          float64       // expected RSSI at 1 m (dBm)
	PathLossExponent       float64       // log-distance model exponent
	MeasurementWindow      time.Duration // readings older than this are ignored
	ProcessNoiseAccel      float64       // Kalman acceleration noise σ (m/s²)
	FingerprintMaxDistance float64       // dB; beyond this the fingerprint tier falls back
}

// EngineConfigFromTuning builds an EngineConfig from a loaded TuningConfig.
func EngineConfigFromTuning(cfg *config.TuningConfig) EngineConfig {
	return EngineConfig{
		ReferenceRSSI:          cfg.GetReferenceRSSI(),
		PathLossExponent:       cfg.GetPathLossExponent(),
		MeasurementWindow:      cfg.GetMeasurementWindow(),
		ProcessNoiseAccel:      cfg.GetProcessNoiseAccel(),
		FingerprintMaxDistance: cfg.GetFingerprintMaxDistance(),
	}
}

// Engine estimates tag positions from buffered reader measurements,
// selecting among algorithm tiers by reader availability and smoothing the
// result with a per-tag constant-velocity Kalman filter.
//
// Tiering by count of distinct readers with recent measurements:
//
//	≥4  weighted least-squares trilateration
//	2–3 fingerprint match when the database is populated, else
//	    RSSI-weighted centroid
//	1   proximity placeholder at the path-loss distance, random bearing
//
// A degenerate trilateration system falls back a tier and never surfaces
// to the caller.
type Engine struct {
	cfg          EngineConfig
	fingerprints *FingerprintDB // may be nil

	mu      sync.Mutex
	filters map[string]*kalmanFilter
	rng     *rand.Rand
}

// NewEngine creates a position engine. fingerprints may be nil when no
// survey data exists; the fingerprint tier then never activates.
func NewEngine(cfg EngineConfig, fingerprints *FingerprintDB) *Engine {
	return &Engine{
		cfg:          cfg,
		fingerprints: fingerprints,
		filters:      make(map[string]*kalmanFilter),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Estimate produces a smoothed position estimate for the tag from the
// given measurements. Returns ErrInsufficientData when no measurement
// survives recency filtering; a position must never be produced from zero
// measurements.
//
// The Kalman filter is seeded (not updated) on the first estimate for a
// tag, so the first returned estimate carries the raw tier's algorithm tag
// and no velocity; every later estimate is tagged AlgorithmKalman.
func (e *Engine) Estimate(tagID string, measurements []Measurement, now time.Time) (PositionEstimate, error) {
	recent := e.filterRecent(measurements, now)
	if len(recent) == 0 {
		return PositionEstimate{}, fmt.Errorf("tag %s: %w", tagID, ErrInsufficientData)
	}

	latest := latestPerReader(recent)
	raw := e.rawEstimate(tagID, latest, now)

	e.mu.Lock()
	defer e.mu.Unlock()
	filter, seen := e.filters[tagID]
	if !seen {
		e.filters[tagID] = newKalmanFilter(raw, e.cfg.ProcessNoiseAccel)
		return raw, nil
	}
	return filter.Step(raw), nil
}

// ResetTag drops the Kalman state for a tag. Called when a tag is marked
// lost so a later reappearance starts a fresh position history.
func (e *Engine) ResetTag(tagID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.filters, tagID)
}

// ActiveFilters returns the number of tags with live Kalman state.
func (e *Engine) ActiveFilters() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.filters)
}

func (e *Engine) filterRecent(measurements []Measurement, now time.Time) []Measurement {
	out := make([]Measurement, 0, len(measurements))
	for _, m := range measurements {
		if now.Sub(m.Reading.Timestamp) <= e.cfg.MeasurementWindow {
			out = append(out, m)
		}
	}
	return out
}

// latestPerReader keeps the most recent measurement from each distinct
// reader, sorted by reader id for deterministic linearisation.
func latestPerReader(measurements []Measurement) []Measurement {
	byReader := make(map[string]Measurement)
	for _, m := range measurements {
		prev, ok := byReader[m.Reading.ReaderID]
		if !ok || m.Reading.Timestamp.After(prev.Reading.Timestamp) {
			byReader[m.Reading.ReaderID] = m
		}
	}
	out := make([]Measurement, 0, len(byReader))
	for _, m := range byReader {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Reading.ReaderID < out[j].Reading.ReaderID
	})
	return out
}

// rawEstimate selects the pre-filter algorithm tier.
func (e *Engine) rawEstimate(tagID string, latest []Measurement, now time.Time) PositionEstimate {
	switch {
	case len(latest) == 1:
		return e.proximityEstimate(tagID, latest[0], now)
	case len(latest) >= 4:
		est, err := e.trilaterate(tagID, latest, now)
		if err == nil {
			return est
		}
		// Degenerate geometry: fall back a tier.
		if fp, ok := e.fingerprintEstimate(tagID, latest, now); ok {
			return fp
		}
		return e.weightedCentroid(tagID, latest, now)
	default:
		if fp, ok := e.fingerprintEstimate(tagID, latest, now); ok {
			return fp
		}
		return e.weightedCentroid(tagID, latest, now)
	}
}

// pathLossDistance converts a measurement's RSSI to a modeled radial
// distance, clamped to a 10 cm floor.
func (e *Engine) pathLossDistance(m Measurement) float64 {
	d := units.PathLossDistance(m.Reading.RSSI, e.cfg.ReferenceRSSI, e.cfg.PathLossExponent)
	if d < 0.1 {
		d = 0.1
	}
	return d
}

// trilaterate solves the multilateration system by weighted least squares.
// Each sphere equation |p − r_i|² = d_i² is linearised by subtracting the
// reference sphere (the reader with the strongest signal), and the
// resulting overdetermined system is solved via QR with rows scaled by
// 1/d_i (stronger readings weigh more). Returns ErrDegenerateGeometry when
// the system is singular even after dropping to a 2D solve.
func (e *Engine) trilaterate(tagID string, latest []Measurement, now time.Time) (PositionEstimate, error) {
	dists := make([]float64, len(latest))
	for i, m := range latest {
		dists[i] = e.pathLossDistance(m)
	}

	// Reference sphere: strongest (closest-modeled) reader.
	ref := 0
	for i := range dists {
		if dists[i] < dists[ref] {
			ref = i
		}
	}

	p, err := e.solveMultilateration(latest, dists, ref, false)
	if err != nil {
		p, err = e.solveMultilateration(latest, dists, ref, true)
		if err != nil {
			return PositionEstimate{}, ErrDegenerateGeometry
		}
	}

	// Accuracy: RMS residual between the solved point and each reader's
	// modeled radius.
	var sumSq float64
	for i, m := range latest {
		residual := p.DistanceTo(m.ReaderPosition) - dists[i]
		sumSq += residual * residual
	}
	accuracy := math.Sqrt(sumSq / float64(len(latest)))
	confidence := 1 - accuracy/10
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return PositionEstimate{
		TagID:      tagID,
		X:          p.X,
		Y:          p.Y,
		Z:          p.Z,
		Accuracy:   accuracy,
		Confidence: confidence,
		Algorithm:  AlgorithmTrilateration,
		Timestamp:  now,
	}, nil
}

// solveMultilateration builds and solves the linearised system. In planar
// mode the tag height is pinned to the mean reader height and only x,y are
// solved, used when the full 3D system is rank-deficient (e.g. all
// readers mounted at one ceiling height).
func (e *Engine) solveMultilateration(latest []Measurement, dists []float64, ref int, planar bool) (Point3, error) {
	n := len(latest)
	unknowns := 3
	var meanZ float64
	if planar {
		unknowns = 2
		for _, m := range latest {
			meanZ += m.ReaderPosition.Z
		}
		meanZ /= float64(n)
	}

	r0 := latest[ref].ReaderPosition
	d0 := dists[ref]

	rows := make([]float64, 0, (n-1)*unknowns)
	rhs := make([]float64, 0, n-1)
	for i, m := range latest {
		if i == ref {
			continue
		}
		ri := m.ReaderPosition
		di := dists[i]

		// Row weight: closer-modeled readers are more reliable
		// (w = 1/d², applied as sqrt(w) row scaling).
		w := 1 / (di * di)
		sw := math.Sqrt(w)

		b := (d0*d0 - di*di) +
			(ri.X*ri.X - r0.X*r0.X) +
			(ri.Y*ri.Y - r0.Y*r0.Y)
		if planar {
			rows = append(rows, sw*2*(ri.X-r0.X), sw*2*(ri.Y-r0.Y))
			// With z pinned at meanZ the z cross-terms contribute
			// 2·meanZ·(z_i − z_0) to the right-hand side.
			b += (ri.Z*ri.Z - r0.Z*r0.Z) - 2*meanZ*(ri.Z-r0.Z)
		} else {
			b += ri.Z*ri.Z - r0.Z*r0.Z
			rows = append(rows, sw*2*(ri.X-r0.X), sw*2*(ri.Y-r0.Y), sw*2*(ri.Z-r0.Z))
		}
		rhs = append(rhs, sw*b)
	}

	a := mat.NewDense(n-1, unknowns, rows)
	bv := mat.NewVecDense(n-1, rhs)
	x := mat.NewVecDense(unknowns, nil)
	if err := x.SolveVec(a, bv); err != nil {
		// mat.Condition signals an ill-conditioned but usable solution;
		// anything else means the system is genuinely singular.
		if _, ok := err.(mat.Condition); !ok {
			return Point3{}, ErrDegenerateGeometry
		}
	}

	p := Point3{X: x.AtVec(0), Y: x.AtVec(1)}
	if planar {
		p.Z = meanZ
	} else {
		p.Z = x.AtVec(2)
	}
	for _, v := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Point3{}, ErrDegenerateGeometry
		}
	}
	return p, nil
}

// weightedCentroid places the tag at the RSSI-weighted centroid of the
// observing readers (weight = 1/distance²). Confidence scales with reader
// count: min(1, count/4).
func (e *Engine) weightedCentroid(tagID string, latest []Measurement, now time.Time) PositionEstimate {
	var sumW, sumX, sumY, sumZ, sumD float64
	for _, m := range latest {
		d := e.pathLossDistance(m)
		w := 1 / (d * d)
		sumW += w
		sumX += w * m.ReaderPosition.X
		sumY += w * m.ReaderPosition.Y
		sumZ += w * m.ReaderPosition.Z
		sumD += d
	}
	meanDist := sumD / float64(len(latest))
	confidence := float64(len(latest)) / 4
	if confidence > 1 {
		confidence = 1
	}
	return PositionEstimate{
		TagID:      tagID,
		X:          sumX / sumW,
		Y:          sumY / sumW,
		Z:          sumZ / sumW,
		Accuracy:   meanDist,
		Confidence: confidence,
		Algorithm:  AlgorithmTrilateration,
		Timestamp:  now,
	}
}

// fingerprintEstimate matches the live RSSI vector against the survey
// database. Returns ok=false when the database is empty or the best match
// is farther than the configured limit, in which case the caller falls
// back to the weighted centroid.
func (e *Engine) fingerprintEstimate(tagID string, latest []Measurement, now time.Time) (PositionEstimate, bool) {
	if e.fingerprints.Len() == 0 {
		return PositionEstimate{}, false
	}
	live := make(map[string]float64, len(latest))
	for _, m := range latest {
		live[m.Reading.ReaderID] = m.Reading.RSSI
	}
	entry, dist, ok := e.fingerprints.Match(live)
	if !ok || dist > e.cfg.FingerprintMaxDistance {
		return PositionEstimate{}, false
	}

	confidence := 1 - dist/(2*e.cfg.FingerprintMaxDistance)
	if confidence < 0 {
		confidence = 0
	}
	return PositionEstimate{
		TagID:      tagID,
		X:          entry.Position.X,
		Y:          entry.Position.Y,
		Z:          entry.Position.Z,
		Accuracy:   1 + dist/10,
		Confidence: confidence,
		Algorithm:  AlgorithmFingerprint,
		Timestamp:  now,
	}, true
}

// proximityEstimate places the tag at the path-loss distance from the
// single observing reader at a random bearing. The direction is genuinely
// unknown, so this is a low-confidence placeholder, not a real fix.
// Accuracy equals the estimated distance; confidence is fixed at
// 0.3.
func (e *Engine) proximityEstimate(tagID string, m Measurement, now time.Time) PositionEstimate {
	d := e.pathLossDistance(m)
	e.mu.Lock()
	bearing := e.rng.Float64() * 2 * math.Pi
	e.mu.Unlock()
	return PositionEstimate{
		TagID:      tagID,
		X:          m.ReaderPosition.X + d*math.Cos(bearing),
		Y:          m.ReaderPosition.Y + d*math.Sin(bearing),
		Z:          m.ReaderPosition.Z,
		Accuracy:   d,
		Confidence: 0.3,
		Algorithm:  AlgorithmTrilateration,
		Timestamp:  now,
	}
}
