package gvio

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Noise allows to handle the noise of a simulated system.
type Noise interface {
	Process(k int) *mat.VecDense      // Returns the process noise w at step k
	Measurement(k int) *mat.VecDense  // Returns the measurement noise v at step k
	ProcessMatrix() mat.Symmetric     // Returns the process noise matrix Q
	MeasurementMatrix() mat.Symmetric // Returns the measurement noise matrix R
	String() string                   // Stringer interface implementation
}

// Noiseless is noiseless and implements the Noise interface.
type Noiseless struct {
	Q, R                         mat.Symmetric
	processSize, measurementSize int
}

// NewNoiseless creates a new noiseless source with the dimensions of Q and R.
func NewNoiseless(Q, R mat.Symmetric) *Noiseless {
	if Q == nil || R == nil {
		panic("Q and R must be specified")
	}
	return &Noiseless{Q, R, Q.SymmetricDim(), R.SymmetricDim()}
}

// Process returns a vector of the correct size.
func (n Noiseless) Process(k int) *mat.VecDense {
	return mat.NewVecDense(n.processSize, nil)
}

// Measurement returns a vector of the correct size.
func (n Noiseless) Measurement(k int) *mat.VecDense {
	return mat.NewVecDense(n.measurementSize, nil)
}

// ProcessMatrix implements the Noise interface.
func (n Noiseless) ProcessMatrix() mat.Symmetric {
	return n.Q
}

// MeasurementMatrix implements the Noise interface.
func (n Noiseless) MeasurementMatrix() mat.Symmetric {
	return n.R
}

// String implements the Stringer interface.
func (n Noiseless) String() string {
	return fmt.Sprintf("Noiseless{\nQ=%v\nR=%v}\n", mat.Formatted(n.Q, mat.Prefix("  ")), mat.Formatted(n.R, mat.Prefix("  ")))
}

// AWGN implements the Noise interface and generates an additive white Gaussian noise.
type AWGN struct {
	Q, R        mat.Symmetric
	process     *distmv.Normal
	measurement *distmv.Normal
}

// NewAWGN creates new AWGN noise from the provided Q and R. Draws are reproducible for
// a given seed. Q and R must be positive definite.
func NewAWGN(Q, R mat.Symmetric, seed uint64) *AWGN {
	src := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	process, ok := distmv.NewNormal(make([]float64, Q.SymmetricDim()), Q, src)
	if !ok {
		panic("process noise invalid")
	}
	meas, ok := distmv.NewNormal(make([]float64, R.SymmetricDim()), R, src)
	if !ok {
		panic("measurement noise invalid")
	}
	return &AWGN{Q, R, process, meas}
}

// ProcessMatrix implements the Noise interface.
func (n AWGN) ProcessMatrix() mat.Symmetric {
	return n.Q
}

// MeasurementMatrix implements the Noise interface.
func (n AWGN) MeasurementMatrix() mat.Symmetric {
	return n.R
}

// Process implements the Noise interface.
func (n AWGN) Process(k int) *mat.VecDense {
	r := n.process.Rand(nil)
	return mat.NewVecDense(len(r), r)
}

// Measurement implements the Noise interface.
func (n AWGN) Measurement(k int) *mat.VecDense {
	r := n.measurement.Rand(nil)
	return mat.NewVecDense(len(r), r)
}

// String implements the Stringer interface.
func (n AWGN) String() string {
	return fmt.Sprintf("AWGN{\nQ=%v\nR=%v}\n", mat.Formatted(n.Q, mat.Prefix("  ")), mat.Formatted(n.R, mat.Prefix("  ")))
}

// DiscreteIMUNoise returns the per-sample covariances of a simulated IMU sampled every
// dt: walk drives the bias random walks [n_wg, n_wa] and white corrupts the readings
// [n_g, n_a].
func DiscreteIMUNoise(cfg IMUConfig, dt float64) (walk, white *mat.SymDense) {
	repeat := func(a, b float64) *mat.SymDense {
		return Diagonal([]float64{a, a, a, b, b, b})
	}
	walk = repeat(cfg.GyroRandomWalk*cfg.GyroRandomWalk*dt, cfg.AccelRandomWalk*cfg.AccelRandomWalk*dt)
	white = repeat(cfg.GyroNoise*cfg.GyroNoise/dt, cfg.AccelNoise*cfg.AccelNoise/dt)
	return walk, white
}
