package gvio

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Identity returns an identity matrix of the provided size.
func Identity(n int) *mat.SymDense {
	return ScaledIdentity(n, 1)
}

// ScaledIdentity returns an identity matrix time a scaling factor of the provided size.
func ScaledIdentity(n int, s float64) *mat.SymDense {
	vals := make([]float64, n*n)
	for j := 0; j < n*n; j += n + 1 {
		vals[j] = s
	}
	return mat.NewSymDense(n, vals)
}

// Diagonal returns a symmetric matrix with d on its diagonal.
func Diagonal(d []float64) *mat.SymDense {
	n := len(d)
	S := mat.NewSymDense(n, nil)
	for i, v := range d {
		S.SetSym(i, i, v)
	}
	return S
}

// Symmetrize returns ½(m + mᵀ) for a square m, removing the floating point asymmetry
// accumulated by products such as Φ·P·Φᵀ.
func Symmetrize(m mat.Matrix) *mat.SymDense {
	r, c := m.Dims()
	if r != c {
		panic(mat.ErrSquare)
	}
	S := mat.NewSymDense(r, nil)
	for i := 0; i < r; i++ {
		for j := i; j < c; j++ {
			S.SetSym(i, j, 0.5*(m.At(i, j)+m.At(j, i)))
		}
	}
	return S
}

// setBlock copies src into dst with its top-left corner at (i, j).
func setBlock(dst *mat.Dense, i, j int, src mat.Matrix) {
	r, c := src.Dims()
	for a := 0; a < r; a++ {
		for b := 0; b < c; b++ {
			dst.Set(i+a, j+b, src.At(a, b))
		}
	}
}

// r3At returns the three elements of v starting at i.
func r3At(v mat.Vector, i int) r3.Vector {
	return r3.Vector{X: v.AtVec(i), Y: v.AtVec(i + 1), Z: v.AtVec(i + 2)}
}

func isFiniteVec(v r3.Vector) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}

func isFinite(v mat.Vector) bool {
	for i := 0; i < v.Len(); i++ {
		if x := v.AtVec(i); math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
