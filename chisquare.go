package gvio

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ChiSquareGate rejects measurement blocks whose normalized innovation squared exceeds
// the chi-square quantile at Confidence for the block's degrees of freedom.
type ChiSquareGate struct {
	Confidence float64
	thresholds map[int]float64
}

// NewChiSquareGate returns a gate at the provided confidence in (0, 1].
func NewChiSquareGate(confidence float64) *ChiSquareGate {
	return &ChiSquareGate{Confidence: confidence, thresholds: make(map[int]float64)}
}

// Threshold returns the chi-square quantile for dof degrees of freedom.
func (g *ChiSquareGate) Threshold(dof int) float64 {
	if γ, ok := g.thresholds[dof]; ok {
		return γ
	}
	if g.thresholds == nil {
		g.thresholds = make(map[int]float64)
	}
	γ := distuv.ChiSquared{K: float64(dof)}.Quantile(g.Confidence)
	g.thresholds[dof] = γ
	return γ
}

// Test returns the NIS rᵀ(H·P·Hᵀ + σ²I)⁻¹r of the measurement block and whether it
// passes the gate.
func (g *ChiSquareGate) Test(H mat.Matrix, r mat.Vector, P mat.Symmetric, σ2 float64) (float64, bool, error) {
	nis, err := NIS(H, r, P, σ2)
	if err != nil {
		return nis, false, err
	}
	return nis, nis <= g.Threshold(r.Len()), nil
}

// NIS returns the normalized innovation squared rᵀ(H·P·Hᵀ + σ²I)⁻¹r.
func NIS(H mat.Matrix, r mat.Vector, P mat.Symmetric, σ2 float64) (float64, error) {
	if err := checkMatDims(H, P, "H", "P", cols2rows); err != nil {
		return 0, err
	}
	if err := checkMatDims(H, r, "H", "r", rows2rows); err != nil {
		return 0, err
	}
	S := innovationCovariance(H, P, σ2)
	var chol mat.Cholesky
	if !chol.Factorize(S) {
		return 0, errors.Wrap(ErrSingularInnovation, "innovation covariance is not positive definite")
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, r); err != nil {
		return 0, errors.Wrap(ErrSingularInnovation, err.Error())
	}
	return mat.Dot(r, &x), nil
}

// innovationCovariance returns H·P·Hᵀ + σ²I.
func innovationCovariance(H mat.Matrix, P mat.Symmetric, σ2 float64) *mat.SymDense {
	var HPHt mat.Dense
	HPHt.Product(H, P, H.T())
	S := Symmetrize(&HPHt)
	for i := 0; i < S.SymmetricDim(); i++ {
		S.SetSym(i, i, S.At(i, i)+σ2)
	}
	return S
}

// NEES returns the normalized estimation error squared eᵀP⁻¹e.
func NEES(e mat.Vector, P mat.Symmetric) (float64, error) {
	if err := checkMatDims(e, P, "e", "P", rows2rows); err != nil {
		return 0, err
	}
	var chol mat.Cholesky
	if !chol.Factorize(P) {
		return 0, errors.New("covariance is not positive definite")
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, e); err != nil {
		return 0, err
	}
	return mat.Dot(e, &x), nil
}
