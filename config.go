package gvio

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"github.com/SiChiTong/gvio/quaternion"
)

// Discretization selects how the continuous error dynamics are discretized.
type Discretization string

const (
	// FirstOrder uses Φ = I + F·dt and Q_d = Φ·G·Q·Gᵀ·Φᵀ·dt.
	FirstOrder Discretization = "first-order"
	// VanLoanDiscretization uses the matrix exponential of the Van Loan block matrix.
	VanLoanDiscretization Discretization = "vanloan"
)

const maxConfigSize = 1 * 1024 * 1024 // 1MB

// Config is the complete filter configuration.
type Config struct {
	IMU        IMUConfig        `yaml:"imu"`
	Extrinsics ExtrinsicsConfig `yaml:"camera_extrinsics"`
	Filter     FilterConfig     `yaml:"msckf"`
}

// IMUConfig holds the inertial noise model and initial uncertainty.
type IMUConfig struct {
	GyroNoise         float64   `yaml:"gyro_noise"`          // rad/s/√Hz
	GyroRandomWalk    float64   `yaml:"gyro_random_walk"`    // rad/s²/√Hz
	AccelNoise        float64   `yaml:"accel_noise"`         // m/s²/√Hz
	AccelRandomWalk   float64   `yaml:"accel_random_walk"`   // m/s³/√Hz
	InitialCovariance []float64 `yaml:"initial_covariance"` // diagonal of P_imu
	Gravity           []float64 `yaml:"gravity"`
}

// ExtrinsicsConfig is the fixed IMU to camera transform.
type ExtrinsicsConfig struct {
	QCI []float64 `yaml:"q_CI"` // x, y, z, w
	PIC []float64 `yaml:"p_IC"`
}

// FilterConfig holds the sliding window and update settings.
type FilterConfig struct {
	MinTrackLength       int            `yaml:"min_track_length"`
	MaxWindowSize        int            `yaml:"max_window_size"`
	MaxIterations        int            `yaml:"max_iterations"`
	ConvergenceThreshold float64        `yaml:"convergence_threshold"`
	EnableNSTrick        bool           `yaml:"enable_ns_trick"`
	EnableQRTrick        bool           `yaml:"enable_qr_trick"`
	Chi2Confidence       float64        `yaml:"chi2_confidence"`
	ImageNoise           float64        `yaml:"image_noise"` // σ in normalized image coordinates
	Estimator            EstimatorKind  `yaml:"estimator"`
	Discretization       Discretization `yaml:"discretization"`
}

// DefaultConfig returns a configuration for a consumer grade IMU and a camera looking
// along the IMU x axis.
func DefaultConfig() *Config {
	return &Config{
		IMU: IMUConfig{
			GyroNoise:       1e-3,
			GyroRandomWalk:  1e-5,
			AccelNoise:      1e-2,
			AccelRandomWalk: 1e-4,
			InitialCovariance: []float64{
				1e-4, 1e-4, 1e-4,
				1e-6, 1e-6, 1e-6,
				1e-4, 1e-4, 1e-4,
				1e-4, 1e-4, 1e-4,
				1e-6, 1e-6, 1e-6,
			},
			Gravity: []float64{0, 0, -9.81},
		},
		Extrinsics: ExtrinsicsConfig{
			QCI: []float64{0.5, -0.5, 0.5, -0.5},
			PIC: []float64{0, 0, 0},
		},
		Filter: FilterConfig{
			MinTrackLength:       8,
			MaxWindowSize:        30,
			MaxIterations:        30,
			ConvergenceThreshold: 1e-8,
			EnableNSTrick:        true,
			EnableQRTrick:        true,
			Chi2Confidence:       0.95,
			ImageNoise:           2e-3,
			Estimator:            GaussNewton,
			Discretization:       FirstOrder,
		},
	}
}

// LoadConfig loads a YAML configuration. The file must have a .yaml or .yml extension
// and be under 1MB. Fields omitted from the file keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".yaml" && ext != ".yml" {
		return nil, errors.Errorf("config file must have .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat config file")
	}
	if fileInfo.Size() > maxConfigSize {
		return nil, errors.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config YAML")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return errors.Wrapf(ErrInvalidConfig, format, args...)
	}

	for name, v := range map[string]float64{
		"gyro_noise":        c.IMU.GyroNoise,
		"gyro_random_walk":  c.IMU.GyroRandomWalk,
		"accel_noise":       c.IMU.AccelNoise,
		"accel_random_walk": c.IMU.AccelRandomWalk,
	} {
		if v < 0 {
			return invalid("%s must be non-negative, got %f", name, v)
		}
	}
	if len(c.IMU.InitialCovariance) != IMUStateSize {
		return invalid("initial_covariance must have %d elements, got %d", IMUStateSize, len(c.IMU.InitialCovariance))
	}
	for i, v := range c.IMU.InitialCovariance {
		if v < 0 {
			return invalid("initial_covariance[%d] must be non-negative, got %f", i, v)
		}
	}
	if len(c.IMU.Gravity) != 3 {
		return invalid("gravity must have 3 elements, got %d", len(c.IMU.Gravity))
	}
	if len(c.Extrinsics.QCI) != 4 {
		return invalid("q_CI must have 4 elements, got %d", len(c.Extrinsics.QCI))
	}
	if q := c.extrinsicRotation(); q.Norm() < 1e-12 || !q.IsFinite() {
		return invalid("q_CI must be a non-zero finite quaternion, got %v", c.Extrinsics.QCI)
	}
	if len(c.Extrinsics.PIC) != 3 {
		return invalid("p_IC must have 3 elements, got %d", len(c.Extrinsics.PIC))
	}

	f := c.Filter
	if f.MinTrackLength < 2 {
		return invalid("min_track_length must be at least 2, got %d", f.MinTrackLength)
	}
	if f.MaxWindowSize < f.MinTrackLength {
		return invalid("max_window_size (%d) must be at least min_track_length (%d)", f.MaxWindowSize, f.MinTrackLength)
	}
	if f.MaxIterations < 1 {
		return invalid("max_iterations must be positive, got %d", f.MaxIterations)
	}
	if f.ConvergenceThreshold <= 0 {
		return invalid("convergence_threshold must be positive, got %g", f.ConvergenceThreshold)
	}
	if f.Chi2Confidence <= 0 || f.Chi2Confidence > 1 {
		return invalid("chi2_confidence must be in (0, 1], got %f", f.Chi2Confidence)
	}
	if f.ImageNoise <= 0 {
		return invalid("image_noise must be positive, got %g", f.ImageNoise)
	}
	switch f.Estimator {
	case GaussNewton, NLLS:
	default:
		return invalid("unknown estimator %q", f.Estimator)
	}
	switch f.Discretization {
	case FirstOrder, VanLoanDiscretization:
	default:
		return invalid("unknown discretization %q", f.Discretization)
	}
	return nil
}

// ProcessNoise returns the continuous IMU noise covariance diag(σg², σwg², σa², σwa²),
// each repeated over three axes.
func (c *Config) ProcessNoise() *mat.SymDense {
	d := make([]float64, 0, IMUNoiseSize)
	for _, σ := range []float64{c.IMU.GyroNoise, c.IMU.GyroRandomWalk, c.IMU.AccelNoise, c.IMU.AccelRandomWalk} {
		d = append(d, σ*σ, σ*σ, σ*σ)
	}
	return Diagonal(d)
}

// InitialCovariance returns the initial IMU error covariance.
func (c *Config) InitialCovariance() *mat.SymDense {
	return Diagonal(c.IMU.InitialCovariance)
}

func (c *Config) gravity() r3.Vector {
	return r3.Vector{X: c.IMU.Gravity[0], Y: c.IMU.Gravity[1], Z: c.IMU.Gravity[2]}
}

func (c *Config) extrinsicRotation() quaternion.Quaternion {
	q := c.Extrinsics.QCI
	return quaternion.New(q[0], q[1], q[2], q[3])
}

func (c *Config) extrinsicTranslation() r3.Vector {
	p := c.Extrinsics.PIC
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
}
