package gvio

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidConfig is returned when a filter cannot be built from its configuration.
	ErrInvalidConfig = errors.New("gvio: invalid configuration")
	// ErrNotInitialized is returned by filter operations called before Initialize.
	ErrNotInitialized = errors.New("gvio: filter not initialized")
	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("gvio: filter already initialized")
	// ErrNonPositiveDt is returned when an inertial sample is not newer than the filter.
	ErrNonPositiveDt = errors.New("gvio: non-positive time step")
	// ErrBadEstimate is returned when a feature position estimate is non-finite or
	// behind one of its observing cameras.
	ErrBadEstimate = errors.New("gvio: bad feature estimate")
	// ErrTrackTooShort is returned for tracks below the configured minimum length.
	ErrTrackTooShort = errors.New("gvio: feature track too short")
	// ErrTrackNotInWindow is returned when a track references a frame that is not in
	// the sliding window.
	ErrTrackNotInWindow = errors.New("gvio: feature track not in window")
	// ErrSingularInnovation is returned when the innovation covariance cannot be
	// factorized even after regularization.
	ErrSingularInnovation = errors.New("gvio: singular innovation covariance")
	// ErrAliasing is returned alongside a usable discretization when the sampling
	// period does not satisfy the Nyquist criterion.
	ErrAliasing = errors.New("gvio: Nyquist sampling criterion not fulfilled")
	// ErrDimensionMismatch is returned when matrix dimensions do not agree.
	ErrDimensionMismatch = errors.New("gvio: dimensions must agree")
)

// DimensionAgreement defines how two matrices' dimensions should agree.
type DimensionAgreement uint8

const (
	rows2cols DimensionAgreement = iota + 1
	cols2rows
	cols2cols
	rows2rows
	rowsAndcols
)

// checkMatDims checks the matrix dimensions match provided a DimensionAgreement. Returns an error if not.
func checkMatDims(m1, m2 mat.Matrix, name1, name2 string, method DimensionAgreement) error {
	r1, c1 := m1.Dims()
	r2, c2 := m2.Dims()
	switch method {
	case rows2cols:
		if r1 != c2 {
			return errors.Wrapf(ErrDimensionMismatch, "%s(%dx...) %s(...x%d)", name1, r1, name2, c2)
		}
	case cols2rows:
		if c1 != r2 {
			return errors.Wrapf(ErrDimensionMismatch, "%s(...x%d) %s(%dx...)", name1, c1, name2, r2)
		}
	case cols2cols:
		if c1 != c2 {
			return errors.Wrapf(ErrDimensionMismatch, "%s(...x%d) %s(...x%d)", name1, c1, name2, c2)
		}
	case rows2rows:
		if r1 != r2 {
			return errors.Wrapf(ErrDimensionMismatch, "%s(%dx...) %s(%dx...)", name1, r1, name2, r2)
		}
	case rowsAndcols:
		if c1 != c2 || r1 != r2 {
			return errors.Wrapf(ErrDimensionMismatch, "%s(%dx%d) %s(%dx%d)", name1, r1, c1, name2, r2, c2)
		}
	}
	return nil
}
