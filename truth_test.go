package gvio

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/SiChiTong/gvio/quaternion"
)

func TestImplementsErrorEstimate(t *testing.T) {
	implements := func(Estimate) {}
	implements(ErrorEstimate{})
}

func TestBatchError(t *testing.T) {
	base := NewIMUState(r3.Vector{Z: -9.81}, quaternion.Identity(), r3.Vector{}, DefaultConfig().ProcessNoise())
	truth0, truth1 := base, base
	truth1.PG = r3.Vector{X: 1, Y: 1, Z: 1}
	truth := NewBatchGroundTruth([]IMUState{truth0, truth1})
	assert.Equal(t, 2, truth.Len())

	est := base
	est.QIG = quaternion.SmallAngle(r3.Vector{Z: 0.02})
	est.VG = r3.Vector{X: 0.5}
	est.PG = r3.Vector{X: 1, Y: 1, Z: 1}
	snapshot := NewIMUEstimate(7, est, ScaledIdentity(IMUStateSize, 0.01))

	e := truth.Error(1, snapshot)
	assert.Equal(t, int64(7), e.Timestamp())
	exp := mat.NewVecDense(IMUStateSize, nil)
	exp.SetVec(2, 0.02)
	exp.SetVec(6, 0.5)
	assert.True(t, mat.EqualApprox(exp, e.State(), 1e-12), "error\n%v", mat.Formatted(e.State().T()))
	assert.False(t, e.IsWithinNσ(3), "the velocity error is 5σ")
	assert.True(t, e.IsWithinNσ(6))

	nees, err := e.NEES()
	require.NoError(t, err)
	assert.InDelta(t, (0.02*0.02+0.25)/0.01, nees, 1e-9)

	e = truth.Error(0, snapshot)
	assert.InDelta(t, 1, e.State().AtVec(12), 1e-12)

	assertPanic(t, func() {
		truth.Error(2, snapshot)
	})
}
