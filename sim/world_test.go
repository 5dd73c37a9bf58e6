package sim

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiChiTong/gvio"
)

func assertNear(t *testing.T, exp, act r3.Vector, tol float64) {
	t.Helper()
	assert.True(t, exp.Sub(act).Norm() <= tol, "expected %v got %v", exp, act)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	for name, mutate := range map[string]func(*Config){
		"duration":         func(c *Config) { c.Duration = 0 },
		"imu rate":         func(c *Config) { c.IMURate = -1 },
		"camera too fast":  func(c *Config) { c.CameraRate = 400 },
		"not a divisor":    func(c *Config) { c.CameraRate = 30 },
		"no landmarks":     func(c *Config) { c.Landmarks = 0 },
		"landmarks inside": func(c *Config) { c.LandmarkRadius = 4 },
		"pixel noise":      func(c *Config) { c.PixelNoise = -0.1 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			err := cfg.Validate()
			assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestNewWorldErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FOV = 180
	_, err := NewWorld(cfg, gvio.DefaultConfig())
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	fcfg := gvio.DefaultConfig()
	fcfg.IMU.GyroRandomWalk = 0
	_, err = NewWorld(DefaultConfig(), fcfg)
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	cfg = DefaultConfig()
	cfg.IMUNoise = false
	_, err = NewWorld(cfg, fcfg)
	assert.NoError(t, err)
}

func TestWorldLandmarks(t *testing.T) {
	cfg := DefaultConfig()
	w1, err := NewWorld(cfg, gvio.DefaultConfig())
	require.NoError(t, err)
	w2, err := NewWorld(cfg, gvio.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, w1.Landmarks(), w2.Landmarks(), "same seed, same world")
	require.Len(t, w1.Landmarks(), cfg.Landmarks)

	for i, l := range w1.Landmarks() {
		r := math.Hypot(l.X, l.Y)
		assert.True(t, r >= cfg.LandmarkRadius-0.5 && r <= cfg.LandmarkRadius+0.5, "landmark %d at radius %f", i, r)
		assert.True(t, math.Abs(l.Z-cfg.Height) <= cfg.LandmarkHeight, "landmark %d at height %f", i, l.Z)
	}
}

func TestWorldTrajectory(t *testing.T) {
	cfg := DefaultConfig()
	w, err := NewWorld(cfg, gvio.DefaultConfig())
	require.NoError(t, err)

	for _, tt := range []float64{0, 0.7, 3.1, 9.9} {
		s := w.Truth(tt)
		assert.InDelta(t, cfg.Radius, math.Hypot(s.PG.X, s.PG.Y), 1e-9)
		assert.InDelta(t, cfg.Radius*cfg.AngularRate, s.VG.Norm(), 1e-9)
		assert.InDelta(t, 0, s.PG.Dot(s.VG), 1e-9)

		// The IMU x axis and the camera optical axis point along the velocity.
		heading := s.VG.Normalize()
		assertNear(t, heading, s.QIG.InverseRotate(r3.Vector{X: 1}), 1e-9)
		qCG, pC := w.CameraPose(tt)
		assertNear(t, heading, qCG.InverseRotate(r3.Vector{Z: 1}), 1e-9)
		assertNear(t, s.PG, pC, 1e-12)
	}
}

func TestWorldIMUNoiseless(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IMUNoise = false
	fcfg := gvio.DefaultConfig()
	w, err := NewWorld(cfg, fcfg)
	require.NoError(t, err)

	const dt = 0.005
	g := r3.Vector{Z: -9.81}
	for k, tt := range []float64{0, 1, 2.5} {
		aM, wM := w.IMU(k, tt, dt)
		assert.Equal(t, r3.Vector{Z: cfg.AngularRate}, wM)

		// One step of the filter's integration lands on the true velocity.
		s0, s1 := w.Truth(tt), w.Truth(tt+dt)
		aG := s0.QIG.InverseRotate(aM).Add(g)
		v := s0.VG.Add(aG.Mul(dt))
		assert.InDelta(t, 0, v.Sub(s1.VG).Norm(), 1e-9)
	}
	assert.Equal(t, r3.Vector{}, w.Truth(0).BG)
}

func TestWorldIMUBiasWalk(t *testing.T) {
	cfg := DefaultConfig()
	fcfg := gvio.DefaultConfig()
	fcfg.IMU.GyroRandomWalk = 1e-2
	fcfg.IMU.AccelRandomWalk = 1e-1
	w, err := NewWorld(cfg, fcfg)
	require.NoError(t, err)
	for k := 0; k < 100; k++ {
		w.IMU(k, float64(k)/cfg.IMURate, 1/cfg.IMURate)
	}
	s := w.Truth(0.5)
	assert.NotEqual(t, r3.Vector{}, s.BG)
	assert.NotEqual(t, r3.Vector{}, s.BA)
}
