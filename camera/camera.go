// Package camera provides the projection models consumed by the estimator and
// the feature tracker.
package camera

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrInvalidIntrinsics is returned when a camera cannot be built from its parameters.
var ErrInvalidIntrinsics = errors.New("camera: invalid intrinsics")

// Model projects points between the world and the image plane.
type Model interface {
	// Project returns the pixel at which the global point X is seen by a camera whose
	// rotation from the global frame is R and whose position is t, along with the
	// depth of X in the camera frame.
	Project(X r3.Vector, R mat.Matrix, t r3.Vector) (r2.Point, float64)
	// PixelToImage converts a pixel to normalized image coordinates.
	PixelToImage(px r2.Point) r2.Point
	// InView returns whether a pixel falls inside the image.
	InView(px r2.Point) bool
}

// Pinhole is an undistorted pinhole camera.
type Pinhole struct {
	ImageWidth, ImageHeight int
	Fx, Fy                  float64
	Cx, Cy                  float64
}

// NewPinhole returns a pinhole camera with the provided intrinsics.
func NewPinhole(width, height int, fx, fy, cx, cy float64) (*Pinhole, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrInvalidIntrinsics, "image size %dx%d", width, height)
	}
	if fx <= 0 || fy <= 0 {
		return nil, errors.Wrapf(ErrInvalidIntrinsics, "focal length (%f, %f)", fx, fy)
	}
	return &Pinhole{width, height, fx, fy, cx, cy}, nil
}

// NewPinholeFromFOV returns a pinhole camera centered on the image whose focal lengths
// are derived from the field of view in degrees.
func NewPinholeFromFOV(width, height int, fov float64) (*Pinhole, error) {
	if fov <= 0 || fov >= 180 {
		return nil, errors.Wrapf(ErrInvalidIntrinsics, "field of view %f", fov)
	}
	return NewPinhole(width, height, FocalLengthX(width, fov), FocalLengthY(height, fov), float64(width)/2, float64(height)/2)
}

// FocalLengthX returns the horizontal focal length of an image of the given width and
// field of view in degrees.
func FocalLengthX(width int, fov float64) float64 {
	return (float64(width) / 2) / math.Tan(deg2rad(fov)/2)
}

// FocalLengthY returns the vertical focal length of an image of the given height and
// field of view in degrees.
func FocalLengthY(height int, fov float64) float64 {
	return FocalLengthX(height, fov)
}

// FocalLength returns both focal lengths.
func FocalLength(width, height int, fov float64) r2.Point {
	return r2.Point{X: FocalLengthX(width, fov), Y: FocalLengthY(height, fov)}
}

func deg2rad(d float64) float64 {
	return d * math.Pi / 180
}

// K returns the intrinsics matrix.
func (c *Pinhole) K() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		c.Fx, 0, c.Cx,
		0, c.Fy, c.Cy,
		0, 0, 1,
	})
}

// P returns the 3×4 projection matrix K·[R | -R·t].
func (c *Pinhole) P(R mat.Matrix, t r3.Vector) *mat.Dense {
	var Rt mat.VecDense
	Rt.MulVec(R, mat.NewVecDense(3, []float64{t.X, t.Y, t.Z}))
	T := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			T.Set(i, j, R.At(i, j))
		}
		T.Set(i, 3, -Rt.AtVec(i))
	}
	var P mat.Dense
	P.Mul(c.K(), T)
	return &P
}

// Project implements the Model interface.
func (c *Pinhole) Project(X r3.Vector, R mat.Matrix, t r3.Vector) (r2.Point, float64) {
	d := X.Sub(t)
	var x mat.VecDense
	x.MulVec(c.K(), mulVec(R, d))
	return r2.Point{X: x.AtVec(0) / x.AtVec(2), Y: x.AtVec(1) / x.AtVec(2)}, x.AtVec(2)
}

// PixelToImage implements the Model interface.
func (c *Pinhole) PixelToImage(px r2.Point) r2.Point {
	return r2.Point{X: (px.X - c.Cx) / c.Fx, Y: (px.Y - c.Cy) / c.Fy}
}

// ImageToPixel is the inverse of PixelToImage.
func (c *Pinhole) ImageToPixel(pt r2.Point) r2.Point {
	return r2.Point{X: pt.X*c.Fx + c.Cx, Y: pt.Y*c.Fy + c.Cy}
}

// InView implements the Model interface.
func (c *Pinhole) InView(px r2.Point) bool {
	return px.X >= 0 && px.X < float64(c.ImageWidth) && px.Y >= 0 && px.Y < float64(c.ImageHeight)
}

// ObservedFeatures projects every landmark and returns the pixels of those in front of
// the camera and inside the image, along with their indices in landmarks.
func ObservedFeatures(m Model, landmarks []r3.Vector, R mat.Matrix, t r3.Vector) ([]r2.Point, []int) {
	var (
		pixels []r2.Point
		mask   []int
	)
	for i, X := range landmarks {
		px, depth := m.Project(X, R, t)
		if depth <= 0 || !m.InView(px) {
			continue
		}
		pixels = append(pixels, px)
		mask = append(mask, i)
	}
	return pixels, mask
}

func (c *Pinhole) String() string {
	return fmt.Sprintf("Pinhole{%dx%d fx=%f fy=%f cx=%f cy=%f}", c.ImageWidth, c.ImageHeight, c.Fx, c.Fy, c.Cx, c.Cy)
}

func mulVec(M mat.Matrix, v r3.Vector) *mat.VecDense {
	var out mat.VecDense
	out.MulVec(M, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return &out
}
