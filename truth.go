package gvio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/SiChiTong/gvio/quaternion"
)

// BatchGroundTruth computes the error of estimates from a known batch of true states.
type BatchGroundTruth struct {
	states []IMUState
}

// NewBatchGroundTruth initializes a new batch ground truth.
func NewBatchGroundTruth(states []IMUState) *BatchGroundTruth {
	return &BatchGroundTruth{states}
}

// Len returns the number of true states.
func (t *BatchGroundTruth) Len() int {
	return len(t.states)
}

// Error returns the error of est with respect to the k-th true state, expressed in the
// error state [δθ, δb_g, δv, δb_a, δp]. The attitude error is the small angle of
// q_est ⊗ q_true⁻¹. Panics if k is out of range.
func (t *BatchGroundTruth) Error(k int, est IMUEstimate) ErrorEstimate {
	if k < 0 || k >= len(t.states) {
		panic(fmt.Errorf("no ground truth for step %d (have %d)", k, len(t.states)))
	}
	truth := t.states[k]
	s := est.IMU()
	dq := quaternion.Mul(s.QIG, truth.QIG.Conj()).Normalize()
	if dq[3] < 0 {
		dq = quaternion.New(-dq[0], -dq[1], -dq[2], -dq[3])
	}
	dθ := dq.Vec().Mul(2)

	e := mat.NewVecDense(IMUStateSize, nil)
	for i, v := range [][3]float64{
		{dθ.X, dθ.Y, dθ.Z},
		{s.BG.X - truth.BG.X, s.BG.Y - truth.BG.Y, s.BG.Z - truth.BG.Z},
		{s.VG.X - truth.VG.X, s.VG.Y - truth.VG.Y, s.VG.Z - truth.VG.Z},
		{s.BA.X - truth.BA.X, s.BA.Y - truth.BA.Y, s.BA.Z - truth.BA.Z},
		{s.PG.X - truth.PG.X, s.PG.Y - truth.PG.Y, s.PG.Z - truth.PG.Z},
	} {
		for j := range v {
			e.SetVec(3*i+j, v[j])
		}
	}
	return ErrorEstimate{ts: est.Timestamp(), state: e, covar: est.Covariance()}
}

// ErrorEstimate implements the Estimate interface and is used to show the error of an estimate.
type ErrorEstimate struct {
	ts    int64
	state *mat.VecDense
	covar mat.Symmetric
}

// Timestamp implements the Estimate interface.
func (e ErrorEstimate) Timestamp() int64 {
	return e.ts
}

// State implements the Estimate interface.
func (e ErrorEstimate) State() *mat.VecDense {
	return e.state
}

// Covariance implements the Estimate interface.
func (e ErrorEstimate) Covariance() mat.Symmetric {
	return e.covar
}

// IsWithinNσ returns whether every error component is within N standard deviations.
func (e ErrorEstimate) IsWithinNσ(N float64) bool {
	for i := 0; i < e.state.Len(); i++ {
		nσ := N * math.Sqrt(e.covar.At(i, i))
		if v := e.state.AtVec(i); v > nσ || v < -nσ {
			return false
		}
	}
	return true
}

// NEES returns the normalized estimation error squared of the estimate.
func (e ErrorEstimate) NEES() (float64, error) {
	return NEES(e.state, e.covar)
}

func (e ErrorEstimate) String() string {
	return fmt.Sprintf("t=%d δx=%v", e.ts, mat.Formatted(e.state.T(), mat.Prefix("  ")))
}
