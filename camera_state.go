package gvio

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/SiChiTong/gvio/quaternion"
)

// CameraStateSize is the size of a camera pose error state [δθ, δp].
const CameraStateSize = 6

// FrameID identifies a camera frame.
type FrameID int64

// NoFrame is the frame id of a camera state that was never assigned one.
const NoFrame FrameID = -1

// CameraState is a cloned camera pose in the sliding window.
type CameraState struct {
	QCG     quaternion.Quaternion // rotation from the global to the camera frame
	PG      r3.Vector             // camera position in the global frame
	FrameID FrameID
}

// NewCameraState returns a camera state without a frame id.
func NewCameraState(pG r3.Vector, qCG quaternion.Quaternion) CameraState {
	return CameraState{QCG: qCG, PG: pG, FrameID: NoFrame}
}

// SetFrameID sets the frame id of the camera state.
func (c *CameraState) SetFrameID(id FrameID) {
	c.FrameID = id
}

// Correct applies the CameraStateSize error state correction dx.
func (c *CameraState) Correct(dx mat.Vector) error {
	if dx.Len() != CameraStateSize {
		return errors.Wrapf(ErrDimensionMismatch, "camera correction has %d elements, expected %d", dx.Len(), CameraStateSize)
	}
	dq := quaternion.SmallAngle(r3At(dx, 0))
	c.QCG = quaternion.Mul(dq, c.QCG).Normalize()
	c.PG = c.PG.Add(r3At(dx, 3))
	return nil
}

// Depth returns the depth of the global point pG in this camera.
func (c CameraState) Depth(pG r3.Vector) float64 {
	return c.QCG.Rotate(pG.Sub(c.PG)).Z
}

func (c CameraState) String() string {
	return fmt.Sprintf("CameraState{frame=%d q_CG=%s p_G=%v}", c.FrameID, c.QCG, c.PG)
}
