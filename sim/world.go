// Package sim simulates a rig flying a circle inside a cylinder of landmarks, with an
// IMU and a camera looking along the direction of travel.
package sim

import (
	"math"
	"math/rand/v2"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/SiChiTong/gvio"
	"github.com/SiChiTong/gvio/camera"
	"github.com/SiChiTong/gvio/quaternion"
)

// ErrInvalidConfig is returned when a world cannot be built from its configuration.
var ErrInvalidConfig = errors.New("sim: invalid configuration")

// Config describes the simulated world and sensors.
type Config struct {
	Duration   float64 // s
	IMURate    float64 // Hz
	CameraRate float64 // Hz, must divide IMURate

	Radius      float64 // m, radius of the trajectory
	AngularRate float64 // rad/s around the trajectory center
	Height      float64 // m

	Landmarks      int
	LandmarkRadius float64 // m, radius of the landmark cylinder
	LandmarkHeight float64 // m, landmarks lie within ±LandmarkHeight of the trajectory

	ImageWidth, ImageHeight int
	FOV                     float64 // degrees
	PixelNoise              float64 // pixels, 1σ

	IMUNoise bool // corrupt the IMU with the filter's noise model
	Seed     uint64
}

// DefaultConfig returns a ten second flight around a 5m circle.
func DefaultConfig() Config {
	return Config{
		Duration:       10,
		IMURate:        200,
		CameraRate:     20,
		Radius:         5,
		AngularRate:    0.5,
		Landmarks:      300,
		LandmarkRadius: 10,
		LandmarkHeight: 2,
		ImageWidth:     640,
		ImageHeight:    640,
		FOV:            60,
		PixelNoise:     0.5,
		IMUNoise:       true,
		Seed:           1,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.Duration <= 0:
		return errors.Wrapf(ErrInvalidConfig, "duration must be positive, got %f", c.Duration)
	case c.IMURate <= 0 || c.CameraRate <= 0:
		return errors.Wrapf(ErrInvalidConfig, "rates must be positive, got %f and %f", c.IMURate, c.CameraRate)
	case c.CameraRate > c.IMURate:
		return errors.Wrapf(ErrInvalidConfig, "camera rate %f above IMU rate %f", c.CameraRate, c.IMURate)
	case math.Abs(c.IMURate/c.CameraRate-math.Round(c.IMURate/c.CameraRate)) > 1e-9:
		return errors.Wrapf(ErrInvalidConfig, "camera rate %f does not divide IMU rate %f", c.CameraRate, c.IMURate)
	case c.Landmarks < 1:
		return errors.Wrapf(ErrInvalidConfig, "at least one landmark is required, got %d", c.Landmarks)
	case c.LandmarkRadius <= c.Radius:
		return errors.Wrapf(ErrInvalidConfig, "landmark radius %f must exceed the trajectory radius %f", c.LandmarkRadius, c.Radius)
	case c.PixelNoise < 0:
		return errors.Wrapf(ErrInvalidConfig, "pixel noise must be non-negative, got %f", c.PixelNoise)
	}
	return nil
}

// World is the ground truth of a simulation: trajectory, landmarks and sensor errors.
type World struct {
	cfg       Config
	filterCfg gvio.Config
	camera    *camera.Pinhole
	landmarks []r3.Vector

	imuNoise gvio.Noise // process: bias random walks, measurement: white noise
	bg, ba   r3.Vector  // true biases
}

// NewWorld returns a world whose sensors follow the noise model and extrinsics of the
// filter configuration.
func NewWorld(cfg Config, filterCfg *gvio.Config) (*World, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := filterCfg.Validate(); err != nil {
		return nil, err
	}
	cam, err := camera.NewPinholeFromFOV(cfg.ImageWidth, cfg.ImageHeight, cfg.FOV)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidConfig, err.Error())
	}

	w := &World{cfg: cfg, filterCfg: *filterCfg, camera: cam}
	src := rand.New(rand.NewPCG(cfg.Seed, 0x5eed))
	θ := distuv.Uniform{Min: 0, Max: 2 * math.Pi, Src: src}
	z := distuv.Uniform{Min: cfg.Height - cfg.LandmarkHeight, Max: cfg.Height + cfg.LandmarkHeight, Src: src}
	jitter := distuv.Uniform{Min: -0.5, Max: 0.5, Src: src}
	w.landmarks = make([]r3.Vector, cfg.Landmarks)
	for i := range w.landmarks {
		a := θ.Rand()
		r := cfg.LandmarkRadius + jitter.Rand()
		w.landmarks[i] = r3.Vector{X: r * math.Cos(a), Y: r * math.Sin(a), Z: z.Rand()}
	}

	walk, white := gvio.DiscreteIMUNoise(filterCfg.IMU, 1/cfg.IMURate)
	if cfg.IMUNoise {
		imu := filterCfg.IMU
		if imu.GyroNoise <= 0 || imu.GyroRandomWalk <= 0 || imu.AccelNoise <= 0 || imu.AccelRandomWalk <= 0 {
			return nil, errors.Wrap(ErrInvalidConfig, "a noisy IMU requires positive noise densities")
		}
		w.imuNoise = gvio.NewAWGN(walk, white, cfg.Seed)
	} else {
		w.imuNoise = gvio.NewNoiseless(walk, white)
	}
	return w, nil
}

// Camera returns the camera model.
func (w *World) Camera() *camera.Pinhole {
	return w.camera
}

// Landmarks returns the landmark positions.
func (w *World) Landmarks() []r3.Vector {
	return w.landmarks
}

// kinematics returns the attitude, position and velocity at t.
func (w *World) kinematics(t float64) (quaternion.Quaternion, r3.Vector, r3.Vector) {
	R, ω := w.cfg.Radius, w.cfg.AngularRate
	s, c := math.Sin(ω*t), math.Cos(ω*t)
	q := quaternion.FromEuler(r3.Vector{Z: ω*t + math.Copysign(math.Pi/2, ω)})
	p := r3.Vector{X: R * c, Y: R * s, Z: w.cfg.Height}
	v := r3.Vector{X: -R * ω * s, Y: R * ω * c}
	return q, p, v
}

// Truth returns the true inertial state at t, with the current true biases.
func (w *World) Truth(t float64) gvio.IMUState {
	q, p, v := w.kinematics(t)
	s := gvio.NewIMUState(w.gravity(), w.extrinsicRotation(), w.extrinsicTranslation(), w.filterCfg.ProcessNoise())
	s.QIG, s.PG, s.VG = q, p, v
	s.BG, s.BA = w.bg, w.ba
	return s
}

// CameraPose returns the true rotation from the global to the camera frame and the
// camera position at t.
func (w *World) CameraPose(t float64) (quaternion.Quaternion, r3.Vector) {
	q, p, _ := w.kinematics(t)
	qCG := quaternion.Mul(w.extrinsicRotation(), q).Normalize()
	return qCG, p.Add(q.InverseRotate(w.extrinsicTranslation()))
}

// IMU returns the k-th accelerometer and gyroscope readings, held over [t, t+dt], then
// advances the bias random walks. The specific force is the mean over the interval,
// expressed in the IMU frame at t.
func (w *World) IMU(k int, t, dt float64) (aM, wM r3.Vector) {
	q, _, v0 := w.kinematics(t)
	_, _, v1 := w.kinematics(t + dt)
	a := v1.Sub(v0).Mul(1 / dt)
	white := w.imuNoise.Measurement(k)
	aM = q.Rotate(a.Sub(w.gravity())).Add(w.ba).Add(r3.Vector{X: white.AtVec(3), Y: white.AtVec(4), Z: white.AtVec(5)})
	wM = r3.Vector{Z: w.cfg.AngularRate}.Add(w.bg).Add(r3.Vector{X: white.AtVec(0), Y: white.AtVec(1), Z: white.AtVec(2)})

	walk := w.imuNoise.Process(k)
	w.bg = w.bg.Add(r3.Vector{X: walk.AtVec(0), Y: walk.AtVec(1), Z: walk.AtVec(2)})
	w.ba = w.ba.Add(r3.Vector{X: walk.AtVec(3), Y: walk.AtVec(4), Z: walk.AtVec(5)})
	return aM, wM
}

func (w *World) gravity() r3.Vector {
	g := w.filterCfg.IMU.Gravity
	return r3.Vector{X: g[0], Y: g[1], Z: g[2]}
}

func (w *World) extrinsicRotation() quaternion.Quaternion {
	q := w.filterCfg.Extrinsics.QCI
	return quaternion.New(q[0], q[1], q[2], q[3]).Normalize()
}

func (w *World) extrinsicTranslation() r3.Vector {
	p := w.filterCfg.Extrinsics.PIC
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
}
