package gvio

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// FilterState is the lifecycle state of the filter.
type FilterState uint8

const (
	// Uninitialized filters only accept configuration and Initialize.
	Uninitialized FilterState = iota
	// Running filters accept inertial samples, camera frames and tracks.
	Running
)

func (s FilterState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("FilterState(%d)", uint8(s))
	}
}

// Estimate is a snapshot of an inertial estimate.
type Estimate interface {
	Timestamp() int64          // nanoseconds
	State() *mat.VecDense      // roll, pitch, yaw, b_g, v_G, b_a, p_G
	Covariance() mat.Symmetric // inertial error covariance
	String() string            // Must implement the stringer interface.
}

// IMUEstimate is the Estimate of an IMU state.
type IMUEstimate struct {
	ts    int64
	state IMUState
	P     *mat.SymDense
}

// NewIMUEstimate returns the estimate of s at ts with the inertial covariance P.
func NewIMUEstimate(ts int64, s IMUState, P mat.Symmetric) IMUEstimate {
	cov := mat.NewSymDense(P.SymmetricDim(), nil)
	cov.CopySym(P)
	return IMUEstimate{ts: ts, state: s, P: cov}
}

// Timestamp implements the Estimate interface.
func (e IMUEstimate) Timestamp() int64 {
	return e.ts
}

// IMU returns the nominal inertial state.
func (e IMUEstimate) IMU() IMUState {
	return e.state
}

// State implements the Estimate interface.
func (e IMUEstimate) State() *mat.VecDense {
	x := mat.NewVecDense(IMUStateSize, nil)
	for i, v := range []r3.Vector{e.state.QIG.ToEuler(), e.state.BG, e.state.VG, e.state.BA, e.state.PG} {
		x.SetVec(3*i, v.X)
		x.SetVec(3*i+1, v.Y)
		x.SetVec(3*i+2, v.Z)
	}
	return x
}

// Covariance implements the Estimate interface.
func (e IMUEstimate) Covariance() mat.Symmetric {
	return e.P
}

func (e IMUEstimate) String() string {
	return fmt.Sprintf("t=%d %s\nP=%v", e.ts, e.state, mat.Formatted(e.P, mat.Prefix("  ")))
}
