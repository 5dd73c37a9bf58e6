package gvio

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Covariance is the joint error covariance of a state made of a fixed leading block
// (the inertial state) followed by a variable number of equally sized trailing blocks
// (the cloned camera poses):
//
//	P = [[P_head, P_cross], [P_crossᵀ, P_tail]]
//
// Blocks are only ever added by InsertBlock and removed by DeleteBlocks, so the
// dimension is always head + n·block. Storage is a mat.SymDense, which keeps P
// symmetric by construction.
type Covariance struct {
	head, block int
	P           *mat.SymDense
}

// NewCovariance returns a covariance made only of the leading block P0.
func NewCovariance(P0 mat.Symmetric, block int) *Covariance {
	n := P0.SymmetricDim()
	P := mat.NewSymDense(n, nil)
	P.CopySym(P0)
	return &Covariance{head: n, block: block, P: P}
}

// Dim returns the dimension of the joint covariance.
func (c *Covariance) Dim() int {
	return c.P.SymmetricDim()
}

// HeadDim returns the dimension of the leading block.
func (c *Covariance) HeadDim() int {
	return c.head
}

// Blocks returns the number of trailing blocks.
func (c *Covariance) Blocks() int {
	return (c.Dim() - c.head) / c.block
}

// Matrix returns the joint covariance. The returned matrix must not be modified.
func (c *Covariance) Matrix() *mat.SymDense {
	return c.P
}

// Head returns a copy of the leading block.
func (c *Covariance) Head() *mat.SymDense {
	return c.sub(0, c.head)
}

// Tail returns a copy of the trailing blocks, or nil when there are none.
func (c *Covariance) Tail() *mat.SymDense {
	if c.Blocks() == 0 {
		return nil
	}
	return c.sub(c.head, c.Dim())
}

// Cross returns a copy of the head-to-tail cross covariance, or nil when there are no
// trailing blocks.
func (c *Covariance) Cross() *mat.Dense {
	n := c.Dim()
	if n == c.head {
		return nil
	}
	cross := mat.NewDense(c.head, n-c.head, nil)
	for i := 0; i < c.head; i++ {
		for j := c.head; j < n; j++ {
			cross.Set(i, j-c.head, c.P.At(i, j))
		}
	}
	return cross
}

func (c *Covariance) sub(from, to int) *mat.SymDense {
	S := mat.NewSymDense(to-from, nil)
	for i := from; i < to; i++ {
		for j := i; j < to; j++ {
			S.SetSym(i-from, j-from, c.P.At(i, j))
		}
	}
	return S
}

// Set replaces the joint covariance. The dimension must not change.
func (c *Covariance) Set(P mat.Symmetric) error {
	if err := checkMatDims(P, c.P, "P", "current P", rowsAndcols); err != nil {
		return err
	}
	c.P.CopySym(P)
	return nil
}

// SetHead replaces the leading block.
func (c *Covariance) SetHead(P mat.Symmetric) error {
	if n := P.SymmetricDim(); n != c.head {
		return errors.Wrapf(ErrDimensionMismatch, "head block is %dx%d, got %dx%d", c.head, c.head, n, n)
	}
	for i := 0; i < c.head; i++ {
		for j := i; j < c.head; j++ {
			c.P.SetSym(i, j, P.At(i, j))
		}
	}
	return nil
}

// SetCross replaces the head-to-tail cross covariance.
func (c *Covariance) SetCross(cross mat.Matrix) error {
	n := c.Dim()
	if r, cols := cross.Dims(); r != c.head || cols != n-c.head {
		return errors.Wrapf(ErrDimensionMismatch, "cross block is %dx%d, got %dx%d", c.head, n-c.head, r, cols)
	}
	for i := 0; i < c.head; i++ {
		for j := c.head; j < n; j++ {
			c.P.SetSym(i, j, cross.At(i, j-c.head))
		}
	}
	return nil
}

// SetTail replaces the trailing blocks.
func (c *Covariance) SetTail(P mat.Symmetric) error {
	n := c.Dim()
	if m := P.SymmetricDim(); m != n-c.head {
		return errors.Wrapf(ErrDimensionMismatch, "tail block is %dx%d, got %dx%d", n-c.head, n-c.head, m, m)
	}
	for i := c.head; i < n; i++ {
		for j := i; j < n; j++ {
			c.P.SetSym(i, j, P.At(i-c.head, j-c.head))
		}
	}
	return nil
}

// InsertBlock appends a trailing block obtained through the block×Dim() Jacobian J
// of the new block with respect to the current state:
//
//	P' = [[P, P·Jᵀ], [J·P, J·P·Jᵀ]]
//
// Every existing entry of P is preserved.
func (c *Covariance) InsertBlock(J mat.Matrix) error {
	n := c.Dim()
	if r, cols := J.Dims(); r != c.block || cols != n {
		return errors.Wrapf(ErrDimensionMismatch, "J must be %dx%d, got %dx%d", c.block, n, r, cols)
	}
	var PJt, JPJt mat.Dense
	PJt.Mul(c.P, J.T())
	JPJt.Mul(J, &PJt)

	grown := c.P.GrowSym(c.block).(*mat.SymDense)
	for i := 0; i < n; i++ {
		for j := 0; j < c.block; j++ {
			grown.SetSym(i, n+j, PJt.At(i, j))
		}
	}
	for i := 0; i < c.block; i++ {
		for j := i; j < c.block; j++ {
			grown.SetSym(n+i, n+j, 0.5*(JPJt.At(i, j)+JPJt.At(j, i)))
		}
	}
	c.P = grown
	return nil
}

// DeleteBlocks removes the trailing blocks at the provided indices (0 being the first
// trailing block) along with their rows and columns. The remaining blocks keep their
// relative order.
func (c *Covariance) DeleteBlocks(idx ...int) error {
	if len(idx) == 0 {
		return nil
	}
	nBlocks := c.Blocks()
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		if i < 0 || i >= nBlocks {
			return errors.Wrapf(ErrDimensionMismatch, "block %d out of range [0, %d)", i, nBlocks)
		}
		drop[i] = true
	}
	keep := make([]int, 0, c.Dim()-len(drop)*c.block)
	for i := 0; i < c.head; i++ {
		keep = append(keep, i)
	}
	for b := 0; b < nBlocks; b++ {
		if drop[b] {
			continue
		}
		for k := 0; k < c.block; k++ {
			keep = append(keep, c.head+b*c.block+k)
		}
	}
	var P mat.SymDense
	P.SubsetSym(c.P, keep)
	c.P = &P
	return nil
}

// PropagateHead applies a transition Φ to the leading block:
//
//	P_head ← Φ·P_head·Φᵀ + Qd,  P_cross ← Φ·P_cross
//
// The trailing blocks are untouched.
func (c *Covariance) PropagateHead(Φ mat.Matrix, Qd mat.Symmetric) error {
	if r, cols := Φ.Dims(); r != c.head || cols != c.head {
		return errors.Wrapf(ErrDimensionMismatch, "Φ must be %dx%d, got %dx%d", c.head, c.head, r, cols)
	}
	if err := checkMatDims(Φ, Qd, "Φ", "Qd", rowsAndcols); err != nil {
		return err
	}
	var ΦP, ΦPΦt mat.Dense
	ΦP.Mul(Φ, c.Head())
	ΦPΦt.Mul(&ΦP, Φ.T())
	ΦPΦt.Add(&ΦPΦt, Qd)
	if err := c.SetHead(Symmetrize(&ΦPΦt)); err != nil {
		return err
	}
	if cross := c.Cross(); cross != nil {
		var Φcross mat.Dense
		Φcross.Mul(Φ, cross)
		return c.SetCross(&Φcross)
	}
	return nil
}

func (c *Covariance) String() string {
	return fmt.Sprintf("P(%d blocks)=%v", c.Blocks(), mat.Formatted(c.P, mat.Prefix("  ")))
}
