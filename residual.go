package gvio

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/SiChiTong/gvio/quaternion"
)

// trackWindow returns the camera states that observed the track along with their
// positions in the window.
func (m *MSCKF) trackWindow(track FeatureTrack) ([]CameraState, []int, error) {
	if err := track.Validate(); err != nil {
		return nil, nil, err
	}
	pos := make(map[FrameID]int, m.N())
	for i, cs := range m.CamStates {
		pos[cs.FrameID] = i
	}
	states := make([]CameraState, 0, track.Len())
	idx := make([]int, 0, track.Len())
	for _, id := range track.FrameIDs() {
		i, ok := pos[id]
		if !ok {
			return nil, nil, errors.Wrapf(ErrTrackNotInWindow, "track %d frame %d", track.TrackID, id)
		}
		states = append(states, m.CamStates[i])
		idx = append(idx, i)
	}
	return states, idx, nil
}

// GetTrackCameraStates returns the window camera states that observed the track, in
// observation order.
func (m *MSCKF) GetTrackCameraStates(track FeatureTrack) ([]CameraState, error) {
	states, _, err := m.trackWindow(track)
	return states, err
}

// H returns the measurement Jacobians of the track with respect to the feature
// position (2K×3) and to the full error state (2K×(15+6N)), linearized at pG.
func (m *MSCKF) H(track FeatureTrack, pG r3.Vector) (Hf, Hx *mat.Dense, err error) {
	states, idx, err := m.trackWindow(track)
	if err != nil {
		return nil, nil, err
	}
	Hf, Hx, _ = m.linearize(track, states, idx, pG)
	return Hf, Hx, nil
}

// linearize returns the feature Jacobian Hf, the state Jacobian Hx and the residual r
// of the track observed by states at window positions idx.
func (m *MSCKF) linearize(track FeatureTrack, states []CameraState, idx []int, pG r3.Vector) (Hf, Hx *mat.Dense, r *mat.VecDense) {
	rows := 2 * track.Len()
	Hf = mat.NewDense(rows, 3, nil)
	Hx = mat.NewDense(rows, IMUStateSize+CameraStateSize*m.N(), nil)
	r = mat.NewVecDense(rows, nil)

	for i, cs := range states {
		CCG := cs.QCG.C()
		pC := quaternion.MulVec(CCG, pG.Sub(cs.PG))
		z := track.Observations[i]
		r.SetVec(2*i, z.X-pC.X/pC.Z)
		r.SetVec(2*i+1, z.Y-pC.Y/pC.Z)

		Ji := mat.NewDense(2, 3, []float64{
			1, 0, -pC.X / pC.Z,
			0, 1, -pC.Y / pC.Z,
		})
		Ji.Scale(1/pC.Z, Ji)

		var JC, Jθ mat.Dense
		JC.Mul(Ji, CCG)
		Jθ.Mul(Ji, quaternion.Skew(pC))
		JC.Scale(-1, &JC)

		col := IMUStateSize + CameraStateSize*idx[i]
		setBlock(Hx, 2*i, col, &Jθ)
		setBlock(Hx, 2*i, col+3, &JC)
		JC.Scale(-1, &JC)
		setBlock(Hf, 2*i, 0, &JC)
	}
	return Hf, Hx, r
}

// ResidualizeTrack estimates the position of the track's feature and returns the
// measurement model of the track with respect to the error state. The feature error is
// projected out when the null space trick is enabled, leaving 2K-3 rows.
func (m *MSCKF) ResidualizeTrack(track FeatureTrack) (*mat.Dense, *mat.VecDense, error) {
	if err := m.checkRunning(); err != nil {
		return nil, nil, err
	}
	if track.Len() < m.cfg.Filter.MinTrackLength {
		return nil, nil, errors.Wrapf(ErrTrackTooShort, "track %d has %d observations, need %d", track.TrackID, track.Len(), m.cfg.Filter.MinTrackLength)
	}
	states, idx, err := m.trackWindow(track)
	if err != nil {
		return nil, nil, err
	}
	pG, res, err := m.estimator.Estimate(track, states)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "track %d", track.TrackID)
	}
	if !res.Converged {
		m.log.Debugw("feature estimate did not converge", "track", track.TrackID, "iterations", res.Iterations, "cost", res.Cost)
	}

	Hf, Hx, r := m.linearize(track, states, idx, pG)
	if !m.cfg.Filter.EnableNSTrick {
		return Hx, r, nil
	}
	Ho, ro, err := nullspaceProject(Hf, Hx, r)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "track %d", track.TrackID)
	}
	return Ho, ro, nil
}

// nullspaceProject left multiplies Hx and r by the transpose of a basis A of the left
// null space of Hf, removing the dependency of the residual on the feature error.
func nullspaceProject(Hf, Hx *mat.Dense, r *mat.VecDense) (*mat.Dense, *mat.VecDense, error) {
	rows, cols := Hf.Dims()
	if rows <= cols {
		return nil, nil, errors.Wrapf(ErrDimensionMismatch, "Hf(%dx%d) has no left null space", rows, cols)
	}
	var svd mat.SVD
	if !svd.Factorize(Hf, mat.SVDFull) {
		return nil, nil, errors.Wrap(ErrBadEstimate, "SVD of the feature Jacobian failed")
	}
	var U mat.Dense
	svd.UTo(&U)
	A := U.Slice(0, rows, cols, rows)

	var Ho mat.Dense
	var ro mat.VecDense
	Ho.Mul(A.T(), Hx)
	ro.MulVec(A.T(), r)
	return &Ho, &ro, nil
}

// compress replaces a tall measurement model H (m×n, m > n) and residual r by the
// equivalent n×n model R₁ and Q₁ᵀ·r of the thin QR decomposition of H. Other models
// are returned as is.
func compress(H *mat.Dense, r *mat.VecDense) (*mat.Dense, *mat.VecDense) {
	rows, cols := H.Dims()
	if rows <= cols {
		return H, r
	}
	var qr mat.QR
	qr.Factorize(H)
	var Q, R mat.Dense
	qr.QTo(&Q)
	qr.RTo(&R)

	var Rn mat.Dense
	Rn.CloneFrom(R.Slice(0, cols, 0, cols))
	var rn mat.VecDense
	rn.MulVec(Q.Slice(0, rows, 0, cols).T(), r)
	return &Rn, &rn
}
