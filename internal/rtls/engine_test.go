package rtls

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/wareline-data/tagfind/internal/units"
)

var engineTestBase = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func testEngineConfig() EngineConfig {
	return EngineConfig{
		ReferenceRSSI:          -40,
		PathLossExponent:       2.7,
		MeasurementWindow:      2 * time.Second,
		ProcessNoiseAccel:      0.5,
		FingerprintMaxDistance: 12,
	}
}

// measurementAt builds a noise-free measurement: the RSSI is exactly the
// path-loss model's prediction for the true tag position.
func measurementAt(readerID string, readerPos, tagPos Point3, cfg EngineConfig, ts time.Time) Measurement {
	d := readerPos.DistanceTo(tagPos)
	return Measurement{
		Reading: TagReading{
			TagID:     "tag-1",
			ReaderID:  readerID,
			RSSI:      units.PathLossRSSI(d, cfg.ReferenceRSSI, cfg.PathLossExponent),
			Antenna:   1,
			Timestamp: ts,
		},
		ReaderPosition: readerPos,
	}
}

func TestEstimateTrilateration3D(t *testing.T) {
	cfg := testEngineConfig()
	e := NewEngine(cfg, nil)
	now := engineTestBase

	tag := Point3{X: 8, Y: 7, Z: 1}
	readers := []Point3{
		{X: 0, Y: 0, Z: 3},
		{X: 20, Y: 0, Z: 3},
		{X: 0, Y: 20, Z: 3},
		{X: 20, Y: 20, Z: 3},
		{X: 10, Y: 10, Z: 0},
	}
	var ms []Measurement
	for i, rp := range readers {
		ms = append(ms, measurementAt(readerIDFor(i), rp, tag, cfg, now))
	}

	est, err := e.Estimate("tag-1", ms, now)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.Algorithm != AlgorithmTrilateration {
		t.Errorf("algorithm = %s, want %s", est.Algorithm, AlgorithmTrilateration)
	}
	if d := est.Position().DistanceTo(tag); d > 1e-6 {
		t.Errorf("position error %.9f m, want ~0 (got %+v)", d, est.Position())
	}
	if est.Accuracy > 1e-6 {
		t.Errorf("accuracy = %.9f, want ~0 for noise-free input", est.Accuracy)
	}
	if est.Confidence < 0.99 {
		t.Errorf("confidence = %.3f, want near 1", est.Confidence)
	}
	// The modeled radial distances must agree with the solution within the
	// reported accuracy for every reader.
	for i, rp := range readers {
		modeled := units.PathLossDistance(ms[i].Reading.RSSI, cfg.ReferenceRSSI, cfg.PathLossExponent)
		residual := math.Abs(est.Position().DistanceTo(rp) - modeled)
		if residual > est.Accuracy+1e-6 {
			t.Errorf("reader %d residual %.6f exceeds accuracy %.6f", i, residual, est.Accuracy)
		}
	}
}

func TestEstimateTrilaterationPlanarFallback(t *testing.T) {
	// All readers at one ceiling height: the 3D system is rank-deficient in
	// z and the solver must fall back to the planar solve with z pinned.
	cfg := testEngineConfig()
	e := NewEngine(cfg, nil)
	now := engineTestBase

	tag := Point3{X: 8, Y: 7, Z: 3}
	readers := []Point3{
		{X: 0, Y: 0, Z: 3},
		{X: 20, Y: 0, Z: 3},
		{X: 0, Y: 20, Z: 3},
		{X: 20, Y: 20, Z: 3},
	}
	var ms []Measurement
	for i, rp := range readers {
		ms = append(ms, measurementAt(readerIDFor(i), rp, tag, cfg, now))
	}

	est, err := e.Estimate("tag-1", ms, now)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if d := est.Position().DistanceTo(tag); d > 1e-6 {
		t.Errorf("position error %.9f m, want ~0 (got %+v)", d, est.Position())
	}
	if est.Z != 3 {
		t.Errorf("z = %.3f, want pinned to reader height 3", est.Z)
	}
}

func TestEstimateDegenerateGeometryFallsBack(t *testing.T) {
	// Four collinear readers cannot resolve the cross-track coordinate even
	// in the planar solve; the engine must fall back a tier and still
	// return a usable estimate rather than an error.
	cfg := testEngineConfig()
	e := NewEngine(cfg, nil)
	now := engineTestBase

	tag := Point3{X: 8, Y: 5, Z: 3}
	readers := []Point3{
		{X: 0, Y: 0, Z: 3},
		{X: 5, Y: 0, Z: 3},
		{X: 10, Y: 0, Z: 3},
		{X: 15, Y: 0, Z: 3},
	}
	var ms []Measurement
	for i, rp := range readers {
		ms = append(ms, measurementAt(readerIDFor(i), rp, tag, cfg, now))
	}

	est, err := e.Estimate("tag-1", ms, now)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	for _, v := range []float64{est.X, est.Y, est.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("estimate contains non-finite coordinate: %+v", est)
		}
	}
	if est.Confidence < 0 || est.Confidence > 1 {
		t.Errorf("confidence = %.3f, want within [0,1]", est.Confidence)
	}
}

func TestEstimateSingleReaderProximity(t *testing.T) {
	cfg := testEngineConfig()
	e := NewEngine(cfg, nil)
	now := engineTestBase

	reader := Point3{X: 5, Y: 5, Z: 3}
	tag := Point3{X: 8, Y: 5, Z: 3} // 3 m out
	m := measurementAt("reader-a", reader, tag, cfg, now)

	est, err := e.Estimate("tag-1", []Measurement{m}, now)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.Algorithm != AlgorithmTrilateration {
		t.Errorf("algorithm = %s, want %s", est.Algorithm, AlgorithmTrilateration)
	}
	if est.Confidence != 0.3 {
		t.Errorf("confidence = %.3f, want exactly 0.3", est.Confidence)
	}

	// The estimate must sit at the modeled path-loss radius from the
	// reader; the bearing is arbitrary.
	wantDist := units.PathLossDistance(m.Reading.RSSI, cfg.ReferenceRSSI, cfg.PathLossExponent)
	gotDist := math.Hypot(est.X-reader.X, est.Y-reader.Y)
	if math.Abs(gotDist-wantDist) > 1e-6 {
		t.Errorf("radial distance = %.6f, want %.6f", gotDist, wantDist)
	}
	if est.Z != reader.Z {
		t.Errorf("z = %.3f, want reader height %.3f", est.Z, reader.Z)
	}
	if math.Abs(est.Accuracy-wantDist) > 1e-6 {
		t.Errorf("accuracy = %.6f, want the modeled distance %.6f", est.Accuracy, wantDist)
	}
}

func TestEstimateCentroidTier(t *testing.T) {
	// 2–3 readers with no fingerprint database: RSSI-weighted centroid.
	cfg := testEngineConfig()
	e := NewEngine(cfg, nil)
	now := engineTestBase

	tag := Point3{X: 3, Y: 0, Z: 3}
	ms := []Measurement{
		measurementAt("reader-a", Point3{X: 0, Y: 0, Z: 3}, tag, cfg, now),
		measurementAt("reader-b", Point3{X: 10, Y: 0, Z: 3}, tag, cfg, now),
	}

	est, err := e.Estimate("tag-1", ms, now)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if want := 2.0 / 4.0; est.Confidence != want {
		t.Errorf("confidence = %.3f, want %.3f (2 readers / 4)", est.Confidence, want)
	}
	// The centroid is pulled toward the closer reader.
	if est.X >= 5 {
		t.Errorf("x = %.3f, want < 5 (closer to reader-a)", est.X)
	}
	if est.X <= 0 || est.X >= 10 {
		t.Errorf("x = %.3f, want strictly between the readers", est.X)
	}
}

func TestEstimateThreeReaderFloorScenario(t *testing.T) {
	// Three ceiling readers around a tag near (5,3): the centroid tier must
	// land close enough to walk to, with usable confidence.
	cfg := testEngineConfig()
	e := NewEngine(cfg, nil)
	now := engineTestBase

	ms := []Measurement{
		{Reading: TagReading{TagID: "tag-1", ReaderID: "reader-0", RSSI: -45, Timestamp: now}, ReaderPosition: Point3{X: 0, Y: 0}},
		{Reading: TagReading{TagID: "tag-1", ReaderID: "reader-1", RSSI: -50, Timestamp: now}, ReaderPosition: Point3{X: 10, Y: 0}},
		{Reading: TagReading{TagID: "tag-1", ReaderID: "reader-2", RSSI: -48, Timestamp: now}, ReaderPosition: Point3{X: 5, Y: 10}},
	}

	est, err := e.Estimate("tag-1", ms, now)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if d := est.Position().DistanceTo(Point3{X: 5, Y: 3}); d > 5 {
		t.Errorf("estimate %.2f m from (5,3), want within 5 m (got %+v)", d, est.Position())
	}
	if est.Confidence <= 0.5 {
		t.Errorf("confidence = %.3f, want > 0.5", est.Confidence)
	}
}

func TestEstimateInsufficientData(t *testing.T) {
	cfg := testEngineConfig()
	e := NewEngine(cfg, nil)
	now := engineTestBase

	if _, err := e.Estimate("tag-1", nil, now); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("empty measurements: err = %v, want ErrInsufficientData", err)
	}

	stale := measurementAt("reader-a", Point3{}, Point3{X: 2}, cfg, now.Add(-3*time.Second))
	if _, err := e.Estimate("tag-1", []Measurement{stale}, now); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("stale measurements: err = %v, want ErrInsufficientData", err)
	}
	if e.ActiveFilters() != 0 {
		t.Errorf("ActiveFilters = %d, want 0 after failed estimates", e.ActiveFilters())
	}
}

func TestEstimateKalmanSeedThenStep(t *testing.T) {
	cfg := testEngineConfig()
	e := NewEngine(cfg, nil)
	now := engineTestBase

	tag := Point3{X: 8, Y: 7, Z: 3}
	readers := []Point3{
		{X: 0, Y: 0, Z: 3},
		{X: 20, Y: 0, Z: 3},
		{X: 0, Y: 20, Z: 3},
		{X: 20, Y: 20, Z: 3},
	}
	mkMeasurements := func(p Point3, ts time.Time) []Measurement {
		var ms []Measurement
		for i, rp := range readers {
			ms = append(ms, measurementAt(readerIDFor(i), rp, p, cfg, ts))
		}
		return ms
	}

	first, err := e.Estimate("tag-1", mkMeasurements(tag, now), now)
	if err != nil {
		t.Fatalf("first Estimate: %v", err)
	}
	if first.Algorithm == AlgorithmKalman {
		t.Error("first estimate must carry the raw tier's algorithm, not kalman")
	}
	if first.Velocity != nil {
		t.Error("first estimate must not carry a velocity")
	}
	if e.ActiveFilters() != 1 {
		t.Errorf("ActiveFilters = %d, want 1 after seeding", e.ActiveFilters())
	}

	now = now.Add(500 * time.Millisecond)
	second, err := e.Estimate("tag-1", mkMeasurements(tag, now), now)
	if err != nil {
		t.Fatalf("second Estimate: %v", err)
	}
	if second.Algorithm != AlgorithmKalman {
		t.Errorf("second estimate algorithm = %s, want %s", second.Algorithm, AlgorithmKalman)
	}
	if second.Velocity == nil {
		t.Fatal("second estimate must carry a velocity")
	}
	if second.Velocity.SpeedMps > 0.5 {
		t.Errorf("stationary tag speed = %.3f m/s, want near zero", second.Velocity.SpeedMps)
	}

	e.ResetTag("tag-1")
	if e.ActiveFilters() != 0 {
		t.Errorf("ActiveFilters = %d, want 0 after reset", e.ActiveFilters())
	}
	now = now.Add(500 * time.Millisecond)
	reseeded, err := e.Estimate("tag-1", mkMeasurements(tag, now), now)
	if err != nil {
		t.Fatalf("Estimate after reset: %v", err)
	}
	if reseeded.Algorithm == AlgorithmKalman {
		t.Error("estimate after reset must re-seed, not step the old filter")
	}
}

func TestEstimateFingerprintTier(t *testing.T) {
	cfg := testEngineConfig()
	now := engineTestBase

	spot := Point3{X: 4, Y: 6, Z: 1}
	db := NewFingerprintDB([]FingerprintEntry{{
		Label:    "aisle-3",
		Position: spot,
		RSSI:     map[string]float64{"reader-a": -52, "reader-b": -60},
	}})
	e := NewEngine(cfg, db)

	ms := []Measurement{
		{Reading: TagReading{TagID: "tag-1", ReaderID: "reader-a", RSSI: -51, Timestamp: now}, ReaderPosition: Point3{X: 0, Y: 0, Z: 3}},
		{Reading: TagReading{TagID: "tag-1", ReaderID: "reader-b", RSSI: -61, Timestamp: now}, ReaderPosition: Point3{X: 10, Y: 0, Z: 3}},
	}
	est, err := e.Estimate("tag-1", ms, now)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	if est.Algorithm != AlgorithmFingerprint {
		t.Fatalf("algorithm = %s, want %s", est.Algorithm, AlgorithmFingerprint)
	}
	if est.Position() != spot {
		t.Errorf("position = %+v, want fingerprint location %+v", est.Position(), spot)
	}
	if est.Confidence <= 0.5 {
		t.Errorf("confidence = %.3f, want > 0.5 for a 1 dB match", est.Confidence)
	}
}

func TestEstimateUsesLatestPerReader(t *testing.T) {
	cfg := testEngineConfig()
	e := NewEngine(cfg, nil)
	now := engineTestBase

	reader := Point3{X: 0, Y: 0, Z: 3}
	old := measurementAt("reader-a", reader, Point3{X: 1, Y: 0, Z: 3}, cfg, now.Add(-time.Second))
	fresh := measurementAt("reader-a", reader, Point3{X: 6, Y: 0, Z: 3}, cfg, now)

	est, err := e.Estimate("tag-1", []Measurement{old, fresh}, now)
	if err != nil {
		t.Fatalf("Estimate: %v", err)
	}
	wantDist := units.PathLossDistance(fresh.Reading.RSSI, cfg.ReferenceRSSI, cfg.PathLossExponent)
	gotDist := math.Hypot(est.X-reader.X, est.Y-reader.Y)
	if math.Abs(gotDist-wantDist) > 1e-6 {
		t.Errorf("radial distance = %.3f, want %.3f from the newest reading", gotDist, wantDist)
	}
}

func readerIDFor(i int) string {
	return string(rune('a'+i)) + "-reader"
}
