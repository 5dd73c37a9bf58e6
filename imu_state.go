package gvio

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/SiChiTong/gvio/quaternion"
)

const (
	// IMUStateSize is the size of the inertial error state [δθ, δb_g, δv, δb_a, δp].
	IMUStateSize = 15
	// IMUNoiseSize is the size of the inertial noise vector [n_g, n_wg, n_a, n_wa].
	IMUNoiseSize = 12
)

// Offsets of each component in the inertial error state.
const (
	idxTheta = 0
	idxBG    = 3
	idxV     = 6
	idxBA    = 9
	idxP     = 12
)

// IMUState is the nominal inertial state along with the fixed camera extrinsics.
// Its error covariance is the leading block of the filter's joint covariance.
type IMUState struct {
	QIG quaternion.Quaternion // rotation from the global to the IMU frame
	BG  r3.Vector             // gyroscope bias
	VG  r3.Vector             // velocity in the global frame
	BA  r3.Vector             // accelerometer bias
	PG  r3.Vector             // position in the global frame
	G   r3.Vector             // gravity in the global frame

	QCI quaternion.Quaternion // rotation from the IMU to the camera frame
	PIC r3.Vector             // camera position in the IMU frame

	Q *mat.SymDense // continuous process noise, IMUNoiseSize×IMUNoiseSize
}

// NewIMUState returns an IMU state at rest at the origin with the provided gravity,
// extrinsics and process noise.
func NewIMUState(g r3.Vector, qCI quaternion.Quaternion, pIC r3.Vector, Q *mat.SymDense) IMUState {
	return IMUState{
		QIG: quaternion.Identity(),
		G:   g,
		QCI: qCI.Normalize(),
		PIC: pIC,
		Q:   Q,
	}
}

// Correct applies the IMUStateSize error state correction dx. Attitude is corrected
// by a small angle quaternion, every other component additively.
func (s *IMUState) Correct(dx mat.Vector) error {
	if dx.Len() != IMUStateSize {
		return errors.Wrapf(ErrDimensionMismatch, "IMU correction has %d elements, expected %d", dx.Len(), IMUStateSize)
	}
	dq := quaternion.SmallAngle(r3At(dx, idxTheta))
	s.QIG = quaternion.Mul(dq, s.QIG).Normalize()
	s.BG = s.BG.Add(r3At(dx, idxBG))
	s.VG = s.VG.Add(r3At(dx, idxV))
	s.BA = s.BA.Add(r3At(dx, idxBA))
	s.PG = s.PG.Add(r3At(dx, idxP))
	return nil
}

// transition returns the continuous error state dynamics F and noise input G
// linearized at the bias corrected rate w and specific force a.
func (s *IMUState) transition(w, a r3.Vector) (F, G *mat.Dense) {
	CT := s.QIG.C().T()
	var CTa, minusCT mat.Dense
	CTa.Mul(CT, quaternion.Skew(a))
	CTa.Scale(-1, &CTa)
	minusCT.Scale(-1, CT)

	F = mat.NewDense(IMUStateSize, IMUStateSize, nil)
	var wx mat.Dense
	wx.Scale(-1, quaternion.Skew(w))
	setBlock(F, idxTheta, idxTheta, &wx)
	setBlock(F, idxTheta, idxBG, ScaledIdentity(3, -1))
	setBlock(F, idxV, idxTheta, &CTa)
	setBlock(F, idxV, idxBA, &minusCT)
	setBlock(F, idxP, idxV, Identity(3))

	G = mat.NewDense(IMUStateSize, IMUNoiseSize, nil)
	setBlock(G, idxTheta, 0, ScaledIdentity(3, -1))
	setBlock(G, idxBG, 3, Identity(3))
	setBlock(G, idxV, 6, &minusCT)
	setBlock(G, idxBA, 9, Identity(3))
	return F, G
}

// propagate integrates the nominal state over dt with the bias corrected rate w and
// specific force a. Biases follow a random walk and keep their mean.
func (s *IMUState) propagate(w, a r3.Vector, dt float64) {
	aG := s.QIG.InverseRotate(a).Add(s.G)
	s.QIG = quaternion.Integrate(s.QIG, w, dt)
	s.PG = s.PG.Add(s.VG.Mul(dt)).Add(aG.Mul(0.5 * dt * dt))
	s.VG = s.VG.Add(aG.Mul(dt))
}

func (s IMUState) String() string {
	return fmt.Sprintf("IMUState{q_IG=%s b_g=%v v_G=%v b_a=%v p_G=%v}", s.QIG, s.BG, s.VG, s.BA, s.PG)
}
