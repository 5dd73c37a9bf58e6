// Package quaternion implements attitude algebra for JPL convention quaternions.
//
// A Quaternion is stored as (x, y, z, w) where w is the scalar part. The rotation
// matrix C(q_AB) maps a vector expressed in frame B into frame A, and composition
// follows q_AC = q_AB ⊗ q_BC.
package quaternion

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// minNorm is the smallest norm Normalize accepts before falling back to Identity.
const minNorm = 1e-12

// Quaternion is a JPL quaternion (x, y, z, w).
type Quaternion [4]float64

// Identity returns the quaternion of the null rotation.
func Identity() Quaternion {
	return Quaternion{0, 0, 0, 1}
}

// New returns the quaternion with vector part (x, y, z) and scalar part w.
func New(x, y, z, w float64) Quaternion {
	return Quaternion{x, y, z, w}
}

// Vec returns the vector part of q.
func (q Quaternion) Vec() r3.Vector {
	return r3.Vector{X: q[0], Y: q[1], Z: q[2]}
}

// Scalar returns the scalar part of q.
func (q Quaternion) Scalar() float64 {
	return q[3]
}

// Norm returns the euclidean norm of q.
func (q Quaternion) Norm() float64 {
	return math.Sqrt(q[0]*q[0] + q[1]*q[1] + q[2]*q[2] + q[3]*q[3])
}

// Normalize returns q scaled to unit norm. Quaternions with a norm below 1e-12
// have no usable direction and normalize to Identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n < minNorm || math.IsNaN(n) || math.IsInf(n, 0) {
		return Identity()
	}
	return Quaternion{q[0] / n, q[1] / n, q[2] / n, q[3] / n}
}

// Conj returns the conjugate of q, which is its inverse when q is unit norm.
func (q Quaternion) Conj() Quaternion {
	return Quaternion{-q[0], -q[1], -q[2], q[3]}
}

// IsFinite returns whether every component of q is finite.
func (q Quaternion) IsFinite() bool {
	for _, v := range q {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ApproxEqual returns whether q and p represent the same rotation to within tol,
// accounting for the q = -q ambiguity.
func (q Quaternion) ApproxEqual(p Quaternion, tol float64) bool {
	same, flipped := true, true
	for i := range q {
		if math.Abs(q[i]-p[i]) > tol {
			same = false
		}
		if math.Abs(q[i]+p[i]) > tol {
			flipped = false
		}
	}
	return same || flipped
}

func (q Quaternion) String() string {
	return fmt.Sprintf("[%f %f %f | %f]", q[0], q[1], q[2], q[3])
}

// Mul returns the quaternion product p ⊗ q = L(p)·q.
func Mul(p, q Quaternion) Quaternion {
	pv, qv := p.Vec(), q.Vec()
	v := qv.Mul(p[3]).Sub(pv.Cross(qv)).Add(pv.Mul(q[3]))
	return Quaternion{v.X, v.Y, v.Z, p[3]*q[3] - pv.Dot(qv)}
}

// LeftComp returns the 4×4 matrix L(q) such that q ⊗ p = L(q)·p.
func LeftComp(q Quaternion) *mat.Dense {
	return compMatrix(q, -1)
}

// RightComp returns the 4×4 matrix R(q) such that p ⊗ q = R(q)·p.
func RightComp(q Quaternion) *mat.Dense {
	return compMatrix(q, 1)
}

func compMatrix(q Quaternion, skewSign float64) *mat.Dense {
	A := mat.NewDense(4, 4, nil)
	S := Skew(q.Vec())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			A.Set(i, j, skewSign*S.At(i, j))
		}
		A.Set(i, i, A.At(i, i)+q[3])
		A.Set(i, 3, q[i])
		A.Set(3, i, -q[i])
	}
	A.Set(3, 3, q[3])
	return A
}

// C returns the rotation matrix of q, equal to the top-left 3×3 block of R(q)ᵀ·L(q).
func (q Quaternion) C() *mat.Dense {
	x, y, z, w := q[0], q[1], q[2], q[3]
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y + z*w), 2 * (x*z - y*w),
		2 * (x*y - z*w), 1 - 2*(x*x+z*z), 2 * (y*z + x*w),
		2 * (x*z + y*w), 2 * (y*z - x*w), 1 - 2*(x*x+y*y),
	})
}

// Rotate returns C(q)·v.
func (q Quaternion) Rotate(v r3.Vector) r3.Vector {
	return MulVec(q.C(), v)
}

// InverseRotate returns C(q)ᵀ·v.
func (q Quaternion) InverseRotate(v r3.Vector) r3.Vector {
	return MulVec(q.C().T(), v)
}

// FromEuler returns the quaternion of the roll, pitch, yaw angles (ZYX order) in rpy.
func FromEuler(rpy r3.Vector) Quaternion {
	cr, sr := math.Cos(rpy.X/2), math.Sin(rpy.X/2)
	cp, sp := math.Cos(rpy.Y/2), math.Sin(rpy.Y/2)
	cy, sy := math.Cos(rpy.Z/2), math.Sin(rpy.Z/2)
	return Quaternion{
		cy*sr*cp - sy*cr*sp,
		cy*cr*sp + sy*sr*cp,
		sy*cr*cp - cy*sr*sp,
		cy*cr*cp + sy*sr*sp,
	}.Normalize()
}

// ToEuler returns the roll, pitch and yaw angles (ZYX order) of q.
func (q Quaternion) ToEuler() r3.Vector {
	x, y, z, w := q[0], q[1], q[2], q[3]
	roll := math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
	sinp := math.Max(-1, math.Min(1, 2*(w*y-z*x)))
	pitch := math.Asin(sinp)
	yaw := math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
	return r3.Vector{X: roll, Y: pitch, Z: yaw}
}

// Omega returns the 4×4 kinematic matrix Ω(w) for which q̇ = ½·Ω(w)·q.
func Omega(w r3.Vector) *mat.Dense {
	S := Skew(w)
	O := mat.NewDense(4, 4, nil)
	wv := [3]float64{w.X, w.Y, w.Z}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			O.Set(i, j, -S.At(i, j))
		}
		O.Set(i, 3, wv[i])
		O.Set(3, i, -wv[i])
	}
	return O
}

// SmallAngle returns the unit error quaternion of the rotation vector dθ. When the
// half angle exceeds one radian the quaternion [½dθ, 1] is normalized instead.
func SmallAngle(dθ r3.Vector) Quaternion {
	half := dθ.Mul(0.5)
	n := half.Norm2()
	if n > 1 {
		s := 1 / math.Sqrt(1+n)
		return Quaternion{half.X * s, half.Y * s, half.Z * s, s}
	}
	return Quaternion{half.X, half.Y, half.Z, math.Sqrt(1 - n)}
}

// Integrate propagates q over dt with the body rate w using the first order
// approximation (I + ½·Ω(w)·dt)·q, then normalizes.
func Integrate(q Quaternion, w r3.Vector, dt float64) Quaternion {
	var A mat.Dense
	A.Scale(0.5*dt, Omega(w))
	for i := 0; i < 4; i++ {
		A.Set(i, i, A.At(i, i)+1)
	}
	out := mat.NewVecDense(4, nil)
	out.MulVec(&A, mat.NewVecDense(4, q[:]))
	return Quaternion{out.AtVec(0), out.AtVec(1), out.AtVec(2), out.AtVec(3)}.Normalize()
}

// Skew returns the cross product matrix ⌊v×⌋.
func Skew(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

// MulVec returns M·v for a 3×3 matrix M.
func MulVec(M mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: M.At(0, 0)*v.X + M.At(0, 1)*v.Y + M.At(0, 2)*v.Z,
		Y: M.At(1, 0)*v.X + M.At(1, 1)*v.Y + M.At(1, 2)*v.Z,
		Z: M.At(2, 0)*v.X + M.At(2, 1)*v.Y + M.At(2, 2)*v.Z,
	}
}
