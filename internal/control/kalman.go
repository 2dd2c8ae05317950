package control

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Kalman is a linear Kalman filter with no control input:
//
//	x' = A x,  z = H x + v
//
// Scalar use (A = H = 1) smooths a noisy barometer reading.
type Kalman struct {
	a *mat.Dense // state transition
	h *mat.Dense // observation
	q *mat.Dense // process noise
	r *mat.Dense // measurement noise

	x *mat.VecDense // state estimate
	p *mat.Dense    // estimate covariance

	primed bool
}

// NewScalarKalman returns a one-state filter. The first Step adopts the
// measurement as the initial estimate.
func NewScalarKalman(processNoise, measurementNoise float64) (*Kalman, error) {
	if processNoise < 0 || measurementNoise <= 0 {
		return nil, errors.Errorf("control: kalman noise q=%v r=%v invalid", processNoise, measurementNoise)
	}
	return &Kalman{
		a: mat.NewDense(1, 1, []float64{1}),
		h: mat.NewDense(1, 1, []float64{1}),
		q: mat.NewDense(1, 1, []float64{processNoise}),
		r: mat.NewDense(1, 1, []float64{measurementNoise}),
		x: mat.NewVecDense(1, nil),
		p: mat.NewDense(1, 1, []float64{1}),
	}, nil
}

// Step runs one predict/update cycle and returns the new estimate.
func (k *Kalman) Step(measurement float64) float64 {
	if !k.primed {
		k.x.SetVec(0, measurement)
		k.primed = true
		return measurement
	}

	// Predict.
	var xe mat.VecDense
	xe.MulVec(k.a, k.x)
	var pe mat.Dense
	pe.Product(k.a, k.p, k.a.T())
	pe.Add(&pe, k.q)

	// Innovation.
	z := mat.NewVecDense(1, []float64{measurement})
	var hx mat.VecDense
	hx.MulVec(k.h, &xe)
	var y mat.VecDense
	y.SubVec(z, &hx)

	var s mat.Dense
	s.Product(k.h, &pe, k.h.T())
	s.Add(&s, k.r)
	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		// Singular innovation covariance; keep the prediction.
		k.x.CopyVec(&xe)
		k.p.Copy(&pe)
		return k.x.AtVec(0)
	}

	// Gain and update.
	var gain mat.Dense
	gain.Product(&pe, k.h.T(), &sInv)
	var dx mat.VecDense
	dx.MulVec(&gain, &y)
	k.x.AddVec(&xe, &dx)

	n, _ := k.p.Dims()
	ident := mat.NewDiagDense(n, nil)
	for i := 0; i < n; i++ {
		ident.SetDiag(i, 1)
	}
	var kh mat.Dense
	kh.Mul(&gain, k.h)
	var imkh mat.Dense
	imkh.Sub(ident, &kh)
	k.p.Mul(&imkh, &pe)

	return k.x.AtVec(0)
}
