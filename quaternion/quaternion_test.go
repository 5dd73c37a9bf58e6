package quaternion

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func q4(q Quaternion) *mat.VecDense {
	return mat.NewVecDense(4, []float64{q[0], q[1], q[2], q[3]})
}

func TestNormalize(t *testing.T) {
	q := New(1, 2, 3, 4).Normalize()
	assert.InDelta(t, 1.0, q.Norm(), 1e-12)
	assert.InDelta(t, 4/math.Sqrt(30), q.Scalar(), 1e-12)

	assert.Equal(t, Identity(), Quaternion{}.Normalize(), "zero norm must fall back to identity")
	assert.Equal(t, Identity(), New(1e-14, 0, 0, 0).Normalize())
	assert.Equal(t, Identity(), New(math.NaN(), 0, 0, 1).Normalize())
}

func TestConj(t *testing.T) {
	q := FromEuler(r3.Vector{X: 0.1, Y: -0.2, Z: 0.3})
	assert.True(t, Mul(q, q.Conj()).ApproxEqual(Identity(), 1e-12))
	assert.True(t, Mul(q.Conj(), q).ApproxEqual(Identity(), 1e-12))
}

func TestMulMatchesCompositionMatrices(t *testing.T) {
	p := New(0.1, 0.2, 0.3, 0.9).Normalize()
	q := New(-0.4, 0.1, 0.5, 0.6).Normalize()
	pq := Mul(p, q)

	var left, right mat.VecDense
	left.MulVec(LeftComp(p), q4(q))
	right.MulVec(RightComp(q), q4(p))
	for i := 0; i < 4; i++ {
		assert.InDelta(t, pq[i], left.AtVec(i), 1e-12, "L(p)q mismatch at %d", i)
		assert.InDelta(t, pq[i], right.AtVec(i), 1e-12, "R(q)p mismatch at %d", i)
	}
}

func TestRotationMatrix(t *testing.T) {
	q := New(0.5, -0.5, 0.5, -0.5)
	var A mat.Dense
	A.Mul(RightComp(q).T(), LeftComp(q))
	C := q.C()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			assert.InDelta(t, A.At(i, j), C.At(i, j), 1e-12)
		}
	}

	var CCt mat.Dense
	CCt.Mul(C, C.T())
	assert.True(t, mat.EqualApprox(&CCt, mat.NewDiagDense(3, []float64{1, 1, 1}), 1e-12))
	assert.InDelta(t, 1.0, mat.Det(C), 1e-12)
}

func TestRotationComposition(t *testing.T) {
	p := FromEuler(r3.Vector{X: 0.3, Y: 0.2, Z: -1.1})
	q := FromEuler(r3.Vector{X: -0.7, Y: 0.4, Z: 2.0})
	var CpCq mat.Dense
	CpCq.Mul(p.C(), q.C())
	assert.True(t, mat.EqualApprox(&CpCq, Mul(p, q).C(), 1e-12))
}

func TestYawRotation(t *testing.T) {
	q := FromEuler(r3.Vector{Z: math.Pi / 2})
	v := q.Rotate(r3.Vector{X: 1})
	assert.InDelta(t, 0, v.X, 1e-12)
	assert.InDelta(t, -1, v.Y, 1e-12)
	assert.InDelta(t, 0, v.Z, 1e-12)

	assertVecInDelta(t, r3.Vector{X: 1}, q.InverseRotate(v), 1e-12)
}

func TestEulerRoundTrip(t *testing.T) {
	cases := []r3.Vector{
		{},
		{X: 0.1, Y: 0.2, Z: 0.3},
		{X: -1.2, Y: 0.9, Z: 3.0},
		{X: math.Pi / 4, Y: -math.Pi / 3, Z: -2.5},
	}
	for _, rpy := range cases {
		q := FromEuler(rpy)
		require.InDelta(t, 1.0, q.Norm(), 1e-12)
		got := q.ToEuler()
		assert.InDelta(t, rpy.X, got.X, 1e-9, "roll of %v", rpy)
		assert.InDelta(t, rpy.Y, got.Y, 1e-9, "pitch of %v", rpy)
		assert.InDelta(t, rpy.Z, got.Z, 1e-9, "yaw of %v", rpy)
	}
}

func TestOmega(t *testing.T) {
	w := r3.Vector{X: 0.3, Y: -0.2, Z: 0.9}
	O := Omega(w)
	assert.True(t, mat.Equal(O, LeftComp(Quaternion{w.X, w.Y, w.Z, 0})))
	var sum mat.Dense
	sum.Add(O, O.T())
	assert.True(t, mat.EqualApprox(&sum, mat.NewDense(4, 4, nil), 1e-15), "Ω must be skew symmetric")
}

func TestSmallAngle(t *testing.T) {
	dq := SmallAngle(r3.Vector{X: 1e-3, Y: -2e-3, Z: 5e-4})
	assert.InDelta(t, 1.0, dq.Norm(), 1e-12)
	assert.InDelta(t, 5e-4, dq[0], 1e-12)
	assert.InDelta(t, -1e-3, dq[1], 1e-12)

	big := SmallAngle(r3.Vector{X: 4})
	assert.InDelta(t, 1.0, big.Norm(), 1e-12)
	assert.InDelta(t, 2/math.Sqrt(5), big[0], 1e-12)

	assert.Equal(t, Identity(), SmallAngle(r3.Vector{}))
}

func TestIntegrate(t *testing.T) {
	q := Identity()
	w := r3.Vector{Z: math.Pi / 2}
	steps := 1000
	for k := 0; k < steps; k++ {
		q = Integrate(q, w, 1/float64(steps))
	}
	require.InDelta(t, 1.0, q.Norm(), 1e-12)
	assert.InDelta(t, math.Pi/2, q.ToEuler().Z, 1e-3)
	assert.True(t, q.ApproxEqual(FromEuler(r3.Vector{Z: math.Pi / 2}), 1e-3))
}

func TestSkew(t *testing.T) {
	a := r3.Vector{X: 1, Y: 2, Z: 3}
	b := r3.Vector{X: -4, Y: 0.5, Z: 2}
	assertVecInDelta(t, a.Cross(b), MulVec(Skew(a), b), 1e-12)
}

func assertVecInDelta(t *testing.T, want, got r3.Vector, tol float64) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, tol)
	assert.InDelta(t, want.Y, got.Y, tol)
	assert.InDelta(t, want.Z, got.Z, tol)
}
