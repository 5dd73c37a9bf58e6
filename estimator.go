package gvio

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/SiChiTong/gvio/quaternion"
)

// EstimatorKind selects how a feature position is refined.
type EstimatorKind string

const (
	// GaussNewton refines the inverse depth parameters with plain Gauss-Newton steps.
	GaussNewton EstimatorKind = "gauss-newton"
	// NLLS refines the inverse depth parameters with gonum's Newton minimizer.
	NLLS EstimatorKind = "nlls"
)

// FeatureResult describes how a feature position estimate was obtained.
type FeatureResult struct {
	Iterations int
	Converged  bool
	Cost       float64 // ½‖r‖² at the estimate
}

// FeatureEstimator estimates the global position of a tracked feature from the camera
// states that observed it, ordered as the track's observations.
type FeatureEstimator interface {
	Estimate(track FeatureTrack, camStates []CameraState) (r3.Vector, FeatureResult, error)
}

// NewFeatureEstimator returns the estimator of the provided kind.
func NewFeatureEstimator(kind EstimatorKind, maxIterations int, threshold float64) (FeatureEstimator, error) {
	switch kind {
	case GaussNewton:
		return &GaussNewtonEstimator{MaxIterations: maxIterations, Threshold: threshold}, nil
	case NLLS:
		return &NLLSEstimator{MaxIterations: maxIterations, GradientThreshold: threshold}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown estimator %q", kind)
	}
}

// Triangulate returns the position, in the frame of camera 0, of the feature observed at
// the normalized coordinates p1 in camera 0 and p2 in camera 1. C_C0C1 rotates camera 1
// vectors into camera 0, and t_C0_C0C1 is the position of camera 1 in camera 0.
func Triangulate(p1, p2 r2.Point, C_C0C1 mat.Matrix, t_C0_C0C1 r3.Vector) (r3.Vector, error) {
	// Camera matrices P1 = [I | 0] and P2 = [R | -R·t] with R = C_C0C1ᵀ.
	P1 := mat.NewDense(3, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})
	P2 := mat.NewDense(3, 4, nil)
	R := C_C0C1.T()
	Rt := quaternion.MulVec(R, t_C0_C0C1)
	setBlock(P2, 0, 0, R)
	P2.Set(0, 3, -Rt.X)
	P2.Set(1, 3, -Rt.Y)
	P2.Set(2, 3, -Rt.Z)

	A := mat.NewDense(4, 3, nil)
	b := mat.NewVecDense(4, nil)
	rows := []struct {
		u   float64
		P   *mat.Dense
		row int
	}{{p1.X, P1, 0}, {p1.Y, P1, 1}, {p2.X, P2, 0}, {p2.Y, P2, 1}}
	for i, r := range rows {
		for j := 0; j < 3; j++ {
			A.Set(i, j, r.u*r.P.At(2, j)-r.P.At(r.row, j))
		}
		b.SetVec(i, -(r.u*r.P.At(2, 3) - r.P.At(r.row, 3)))
	}

	var svd mat.SVD
	if !svd.Factorize(A, mat.SVDThin) {
		return r3.Vector{}, errors.Wrap(ErrBadEstimate, "triangulation SVD failed")
	}
	if svd.Rank(1e-12) < 3 {
		return r3.Vector{}, errors.Wrap(ErrBadEstimate, "degenerate triangulation")
	}
	var x mat.VecDense
	svd.SolveVecTo(&x, b, 3)
	return r3.Vector{X: x.AtVec(0), Y: x.AtVec(1), Z: x.AtVec(2)}, nil
}

// CheckEstimate returns ErrBadEstimate when pG is not finite or is not in front of every
// camera.
func CheckEstimate(pG r3.Vector, camStates []CameraState) error {
	if !isFiniteVec(pG) {
		return errors.Wrapf(ErrBadEstimate, "non-finite position %v", pG)
	}
	for _, cs := range camStates {
		if d := cs.Depth(pG); d <= 0 {
			return errors.Wrapf(ErrBadEstimate, "depth %f in frame %d", d, cs.FrameID)
		}
	}
	return nil
}

// inverseDepthProblem is the reprojection error of a feature parametrized by its
// inverse depth (α, β, ρ) = (x/z, y/z, 1/z) in the first observing camera.
type inverseDepthProblem struct {
	z    []r2.Point
	CiC0 []*mat.Dense // rotation from camera 0 to camera i
	t    []r3.Vector  // position of camera 0 in camera i
	C0G  *mat.Dense
	pC0  r3.Vector
}

func newInverseDepthProblem(track FeatureTrack, camStates []CameraState) (*inverseDepthProblem, error) {
	if len(camStates) < 2 {
		return nil, errors.Wrapf(ErrBadEstimate, "track %d needs at least 2 views, got %d", track.TrackID, len(camStates))
	}
	if len(camStates) != track.Len() {
		return nil, errors.Wrapf(ErrDimensionMismatch, "track %d has %d observations for %d camera states", track.TrackID, track.Len(), len(camStates))
	}
	p := &inverseDepthProblem{
		z:    track.Observations,
		CiC0: make([]*mat.Dense, len(camStates)),
		t:    make([]r3.Vector, len(camStates)),
		C0G:  camStates[0].QCG.C(),
		pC0:  camStates[0].PG,
	}
	for i, cs := range camStates {
		CiG := cs.QCG.C()
		var CiC0 mat.Dense
		CiC0.Mul(CiG, p.C0G.T())
		p.CiC0[i] = &CiC0
		p.t[i] = quaternion.MulVec(CiG, p.pC0.Sub(cs.PG))
	}
	return p, nil
}

// initialGuess triangulates the first two observations.
func (p *inverseDepthProblem) initialGuess() ([]float64, error) {
	var C_C0C1 mat.Dense
	C_C0C1.CloneFrom(p.CiC0[1].T())
	// The position of camera 1 in camera 0 is -C_C0C1·t_C1.
	t := quaternion.MulVec(&C_C0C1, p.t[1]).Mul(-1)
	pC0, err := Triangulate(p.z[0], p.z[1], &C_C0C1, t)
	if err != nil {
		return nil, err
	}
	if pC0.Z <= 0 || !isFiniteVec(pC0) {
		return nil, errors.Wrapf(ErrBadEstimate, "triangulated behind camera 0: %v", pC0)
	}
	return []float64{pC0.X / pC0.Z, pC0.Y / pC0.Z, 1 / pC0.Z}, nil
}

func (p *inverseDepthProblem) h(i int, x []float64) r3.Vector {
	return quaternion.MulVec(p.CiC0[i], r3.Vector{X: x[0], Y: x[1], Z: 1}).Add(p.t[i].Mul(x[2]))
}

// residuals fills r with z - h_xy/h_z for every view.
func (p *inverseDepthProblem) residuals(x, r []float64) {
	for i, z := range p.z {
		h := p.h(i, x)
		r[2*i] = z.X - h.X/h.Z
		r[2*i+1] = z.Y - h.Y/h.Z
	}
}

// jacobian fills the 2K×3 Jacobian of the residuals with respect to (α, β, ρ).
func (p *inverseDepthProblem) jacobian(x []float64, J *mat.Dense) {
	for i := range p.z {
		h := p.h(i, x)
		hz2 := h.Z * h.Z
		C, t := p.CiC0[i], p.t[i]
		cols := [3]r3.Vector{
			{X: C.At(0, 0), Y: C.At(1, 0), Z: C.At(2, 0)},
			{X: C.At(0, 1), Y: C.At(1, 1), Z: C.At(2, 1)},
			t,
		}
		for j, dh := range cols {
			J.Set(2*i, j, -dh.X/h.Z+h.X/hz2*dh.Z)
			J.Set(2*i+1, j, -dh.Y/h.Z+h.Y/hz2*dh.Z)
		}
	}
}

func (p *inverseDepthProblem) cost(x []float64) float64 {
	r := make([]float64, 2*len(p.z))
	p.residuals(x, r)
	return 0.5 * floats.Dot(r, r)
}

// toGlobal returns the global position of the inverse depth parameters x.
func (p *inverseDepthProblem) toGlobal(x []float64) r3.Vector {
	return quaternion.MulVec(p.C0G.T(), r3.Vector{X: x[0], Y: x[1], Z: 1}).Mul(1 / x[2]).Add(p.pC0)
}

// GaussNewtonEstimator refines the triangulated inverse depth parameters of a feature
// with Gauss-Newton iterations, stopping once the update norm drops below Threshold.
type GaussNewtonEstimator struct {
	MaxIterations int
	Threshold     float64
}

// Estimate implements the FeatureEstimator interface.
func (e *GaussNewtonEstimator) Estimate(track FeatureTrack, camStates []CameraState) (r3.Vector, FeatureResult, error) {
	var res FeatureResult
	prob, err := newInverseDepthProblem(track, camStates)
	if err != nil {
		return r3.Vector{}, res, err
	}
	x, err := prob.initialGuess()
	if err != nil {
		return r3.Vector{}, res, err
	}

	n := 2 * track.Len()
	r := make([]float64, n)
	J := mat.NewDense(n, 3, nil)
	for k := 0; k < e.MaxIterations; k++ {
		prob.residuals(x, r)
		prob.jacobian(x, J)

		var JtJ mat.Dense
		var Jtr, δ mat.VecDense
		JtJ.Mul(J.T(), J)
		Jtr.MulVec(J.T(), mat.NewVecDense(n, r))
		if err := δ.SolveVec(&JtJ, &Jtr); err != nil {
			return r3.Vector{}, res, errors.Wrapf(ErrBadEstimate, "could not solve normal equations: %s", err)
		}
		floats.Sub(x, δ.RawVector().Data)
		res.Iterations = k + 1
		if floats.Norm(δ.RawVector().Data, 2) < e.Threshold {
			res.Converged = true
			break
		}
	}
	res.Cost = prob.cost(x)

	pG := prob.toGlobal(x)
	return pG, res, CheckEstimate(pG, camStates)
}
