package gvio

import (
	"math"
	"math/cmplx"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// VanLoan computes the discrete transition Φ and process noise Q_d of the continuous
// system ẋ = A·x + Γ·w, E[w·wᵀ] = W, sampled every Δt. Φ and Q_d are always returned;
// the error wraps ErrAliasing when Δt does not fulfill the Nyquist criterion for A.
func VanLoan(A, Γ mat.Matrix, W mat.Symmetric, Δt float64) (*mat.Dense, *mat.SymDense, error) {
	rA, cA := A.Dims()
	if rA != cA {
		return nil, nil, errors.Wrap(ErrDimensionMismatch, "A must be square")
	}
	if err := checkMatDims(A, Γ, "A", "Γ", rows2rows); err != nil {
		return nil, nil, err
	}
	if err := checkMatDims(Γ, W, "Γ", "W", cols2rows); err != nil {
		return nil, nil, err
	}

	var err error
	var λ mat.Eigen
	if λ.Factorize(A, mat.EigenNone) {
		var λmax float64
		for _, v := range λ.Values(nil) {
			λmax = math.Max(λmax, cmplx.Abs(v))
		}
		if 2*λmax*Δt >= math.Pi {
			err = errors.Wrapf(ErrAliasing, "Δt=%f for |λ|max=%f", Δt, λmax)
		}
	}

	var ΓW, ΓWΓ, Ap mat.Dense
	ΓW.Mul(Γ, W)
	ΓWΓ.Mul(&ΓW, Γ.T())
	ΓWΓ.Scale(Δt, &ΓWΓ)
	Ap.Scale(Δt, A)

	// M = [[-A·Δt, Γ·W·Γᵀ·Δt], [0, Aᵀ·Δt]]
	M := mat.NewDense(2*rA, 2*rA, nil)
	var minusAp mat.Dense
	minusAp.Scale(-1, &Ap)
	setBlock(M, 0, 0, &minusAp)
	setBlock(M, 0, rA, &ΓWΓ)
	setBlock(M, rA, rA, Ap.T())

	var expM mat.Dense
	expM.Exp(M)

	// expM = [[., Φ⁻¹·Q_d], [0, Φᵀ]]
	var Φ, Q mat.Dense
	Φ.CloneFrom(expM.Slice(rA, 2*rA, rA, 2*rA).T())
	Q.Mul(&Φ, expM.Slice(0, rA, rA, 2*rA))
	return &Φ, Symmetrize(&Q), err
}

// firstOrder computes Φ = I + F·Δt and Q_d = Φ·G·Q·Gᵀ·Φᵀ·Δt.
func firstOrder(F, G mat.Matrix, Q mat.Symmetric, Δt float64) (*mat.Dense, *mat.SymDense) {
	n, _ := F.Dims()
	var Φ mat.Dense
	Φ.Scale(Δt, F)
	Φ.Add(&Φ, Identity(n))

	var ΦG, Qd mat.Dense
	ΦG.Mul(&Φ, G)
	Qd.Product(&ΦG, Q, ΦG.T())
	Qd.Scale(Δt, &Qd)
	return &Φ, Symmetrize(&Qd)
}

// discretize returns the discrete error transition and process noise over Δt.
func discretize(method Discretization, F, G mat.Matrix, Q mat.Symmetric, Δt float64) (*mat.Dense, *mat.SymDense, error) {
	switch method {
	case VanLoanDiscretization:
		return VanLoan(F, G, Q, Δt)
	case FirstOrder, "":
		Φ, Qd := firstOrder(F, G, Q, Δt)
		return Φ, Qd, nil
	default:
		return nil, nil, errors.Wrapf(ErrInvalidConfig, "unknown discretization %q", method)
	}
}
