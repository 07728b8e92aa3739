package rtls

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Numerical stability constants for the smoother, not user-tunable.
const (
	// minKalmanDt is the smallest time step accepted by the predict step.
	minKalmanDt = 1e-3
	// maxKalmanDt caps the prediction step so read gaps don't balloon the
	// covariance; Estimate is only invoked for tags with recent readings.
	maxKalmanDt = 2.0
	// minMeasurementSigma floors the per-axis measurement noise so a
	// zero-accuracy raw estimate cannot collapse the covariance.
	minMeasurementSigma = 0.25
)

// kalmanFilter is a per-tag constant-velocity smoother over raw position
// estimates. State is [px py pz vx vy vz]; the filter is seeded, not
// updated, on the first estimate for a tag, and every later raw estimate is
// fused through a standard predict/update cycle. Process noise follows the
// discretised constant-velocity model (dt³/dt⁴ covariance growth).
type kalmanFilter struct {
	x *mat.VecDense // 6-state
	p *mat.Dense    // 6x6 covariance

	accelSigma float64 // process noise: acceleration σ (m/s²)
	lastUpdate time.Time
	updates    int
}

// newKalmanFilter seeds a filter from the first raw estimate. Velocity
// starts at zero with unit variance; position variance comes from the raw
// estimate's accuracy.
func newKalmanFilter(raw PositionEstimate, accelSigma float64) *kalmanFilter {
	sigma := raw.Accuracy
	if sigma < minMeasurementSigma {
		sigma = minMeasurementSigma
	}
	p := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		p.Set(i, i, sigma*sigma)
		p.Set(i+3, i+3, 1.0)
	}
	return &kalmanFilter{
		x:          mat.NewVecDense(6, []float64{raw.X, raw.Y, raw.Z, 0, 0, 0}),
		p:          p,
		accelSigma: accelSigma,
		lastUpdate: raw.Timestamp,
	}
}

// Step runs one predict/update cycle against a new raw estimate and
// returns the smoothed estimate with a derived velocity. The returned
// algorithm tag is always AlgorithmKalman.
func (k *kalmanFilter) Step(raw PositionEstimate) PositionEstimate {
	dt := raw.Timestamp.Sub(k.lastUpdate).Seconds()
	if dt < minKalmanDt {
		dt = minKalmanDt
	}
	if dt > maxKalmanDt {
		dt = maxKalmanDt
	}
	k.lastUpdate = raw.Timestamp

	k.predict(dt)
	k.update(raw)
	k.updates++

	if !k.finite() {
		// Numerical blow-up: reseed from the raw estimate rather than
		// emitting NaN positions.
		*k = *newKalmanFilter(raw, k.accelSigma)
	}

	vx, vy, vz := k.x.AtVec(3), k.x.AtVec(4), k.x.AtVec(5)
	accuracy := math.Sqrt((k.p.At(0, 0) + k.p.At(1, 1) + k.p.At(2, 2)) / 3)
	confidence := 1 - accuracy/10
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return PositionEstimate{
		TagID:      raw.TagID,
		X:          k.x.AtVec(0),
		Y:          k.x.AtVec(1),
		Z:          k.x.AtVec(2),
		Accuracy:   accuracy,
		Confidence: confidence,
		Algorithm:  AlgorithmKalman,
		Velocity: &Velocity{
			VX:       vx,
			VY:       vy,
			VZ:       vz,
			SpeedMps: math.Sqrt(vx*vx + vy*vy + vz*vz),
		},
		Timestamp: raw.Timestamp,
	}
}

// predict applies x' = F·x, P' = F·P·Fᵀ + Q for the constant-velocity
// transition F (position advances by velocity·dt).
func (k *kalmanFilter) predict(dt float64) {
	f := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		f.Set(i, i, 1)
	}
	for i := 0; i < 3; i++ {
		f.Set(i, i+3, dt)
	}

	var fx mat.VecDense
	fx.MulVec(f, k.x)
	k.x.CopyVec(&fx)

	var fp, fpft mat.Dense
	fp.Mul(f, k.p)
	fpft.Mul(&fp, f.T())
	k.p.Copy(&fpft)

	// Discretised CV process noise per axis:
	//   [dt⁴/4  dt³/2]
	//   [dt³/2  dt²  ] · σ²
	q := k.accelSigma * k.accelSigma
	q11 := q * dt * dt * dt * dt / 4
	q12 := q * dt * dt * dt / 2
	q22 := q * dt * dt
	for i := 0; i < 3; i++ {
		k.p.Set(i, i, k.p.At(i, i)+q11)
		k.p.Set(i, i+3, k.p.At(i, i+3)+q12)
		k.p.Set(i+3, i, k.p.At(i+3, i)+q12)
		k.p.Set(i+3, i+3, k.p.At(i+3, i+3)+q22)
	}
}

// update fuses the raw position measurement. Measurement noise is derived
// from the raw estimate's accuracy. A singular innovation covariance skips
// the update and keeps the prediction.
func (k *kalmanFilter) update(raw PositionEstimate) {
	sigma := raw.Accuracy
	if sigma < minMeasurementSigma {
		sigma = minMeasurementSigma
	}
	r := sigma * sigma

	// Innovation y = z − H·x with H = [I₃ 0].
	y := mat.NewVecDense(3, []float64{
		raw.X - k.x.AtVec(0),
		raw.Y - k.x.AtVec(1),
		raw.Z - k.x.AtVec(2),
	})

	// S = H·P·Hᵀ + R is the top-left 3x3 block of P plus R.
	s := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			s.Set(i, j, k.p.At(i, j))
		}
		s.Set(i, i, s.At(i, i)+r)
	}

	var sInv mat.Dense
	if err := sInv.Inverse(s); err != nil {
		return // singular innovation covariance; keep prediction
	}

	// K = P·Hᵀ·S⁻¹; P·Hᵀ is the left 6x3 block of P.
	pht := mat.NewDense(6, 3, nil)
	for i := 0; i < 6; i++ {
		for j := 0; j < 3; j++ {
			pht.Set(i, j, k.p.At(i, j))
		}
	}
	var gain mat.Dense
	gain.Mul(pht, &sInv)

	var ky mat.VecDense
	ky.MulVec(&gain, y)
	k.x.AddVec(k.x, &ky)

	// P = (I − K·H)·P; K·H has K in the left three columns, zero elsewhere.
	kh := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		for j := 0; j < 3; j++ {
			kh.Set(i, j, gain.At(i, j))
		}
	}
	eye := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		eye.Set(i, i, 1)
	}
	var iMinusKH, newP mat.Dense
	iMinusKH.Sub(eye, kh)
	newP.Mul(&iMinusKH, k.p)
	k.p.Copy(&newP)
}

// finite reports whether the state vector and covariance diagonal are free
// of NaN/Inf, guarding against degenerate inputs.
func (k *kalmanFilter) finite() bool {
	for i := 0; i < 6; i++ {
		if v := k.x.AtVec(i); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if v := k.p.At(i, i); math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
