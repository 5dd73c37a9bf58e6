package gvio

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// NLLSEstimator refines the triangulated inverse depth parameters of a feature by
// minimizing ½‖r‖² with a Newton method whose Hessian is the Gauss-Newton
// approximation JᵀJ of the analytical reprojection Jacobian.
type NLLSEstimator struct {
	MaxIterations     int
	GradientThreshold float64
}

// Estimate implements the FeatureEstimator interface.
func (e *NLLSEstimator) Estimate(track FeatureTrack, camStates []CameraState) (r3.Vector, FeatureResult, error) {
	var res FeatureResult
	prob, err := newInverseDepthProblem(track, camStates)
	if err != nil {
		return r3.Vector{}, res, err
	}
	x0, err := prob.initialGuess()
	if err != nil {
		return r3.Vector{}, res, err
	}

	n := 2 * track.Len()
	eval := func(x []float64) ([]float64, *mat.Dense) {
		r := make([]float64, n)
		J := mat.NewDense(n, 3, nil)
		prob.residuals(x, r)
		prob.jacobian(x, J)
		return r, J
	}
	problem := optimize.Problem{
		Func: prob.cost,
		Grad: func(grad, x []float64) {
			r, J := eval(x)
			g := mat.NewVecDense(len(grad), grad)
			g.MulVec(J.T(), mat.NewVecDense(n, r))
		},
		Hess: func(hess *mat.SymDense, x []float64) {
			_, J := eval(x)
			hess.SymOuterK(1, J.T())
		},
	}
	settings := &optimize.Settings{
		GradientThreshold: e.GradientThreshold,
		MajorIterations:   e.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-20,
			Iterations: e.MaxIterations,
		},
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.Newton{})
	if result == nil {
		return r3.Vector{}, res, errors.Wrapf(ErrBadEstimate, "minimization failed: %s", err)
	}
	x := result.X
	if !isFinite(mat.NewVecDense(len(x), x)) {
		return r3.Vector{}, res, errors.Wrapf(ErrBadEstimate, "non-finite inverse depth %v", x)
	}
	res.Iterations = result.MajorIterations
	res.Converged = err == nil && result.Status != optimize.IterationLimit
	res.Cost = prob.cost(x)

	pG := prob.toGlobal(x)
	return pG, res, CheckEstimate(pG, camStates)
}
