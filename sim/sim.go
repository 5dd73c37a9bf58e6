package sim

import (
	"math"
	"math/rand/v2"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/SiChiTong/gvio"
	"github.com/SiChiTong/gvio/camera"
)

// ImageNoise returns the pixel noise in normalized image coordinates.
func (c Config) ImageNoise() float64 {
	return c.PixelNoise / camera.FocalLengthX(c.ImageWidth, c.FOV)
}

// Result holds the outcome of a simulation. Estimates and Truth have one entry per
// camera frame.
type Result struct {
	Estimates []gvio.Estimate // gvio.ErrorEstimate of the inertial state
	Truth     []gvio.IMUState
	Reports   []gvio.UpdateReport
	Filter    *gvio.MSCKF
}

// Final returns the error of the last estimate.
func (r *Result) Final() gvio.ErrorEstimate {
	return r.Estimates[len(r.Estimates)-1].(gvio.ErrorEstimate)
}

// WithinNσ returns the fraction of frames whose error is within N standard deviations
// on every component.
func (r *Result) WithinNσ(N float64) float64 {
	within := 0
	for _, e := range r.Estimates {
		if e.(gvio.ErrorEstimate).IsWithinNσ(N) {
			within++
		}
	}
	return float64(within) / float64(len(r.Estimates))
}

// PositionError returns the norm of the position error of the last estimate.
func (r *Result) PositionError() float64 {
	e := r.Final().State()
	return r3.Vector{X: e.AtVec(12), Y: e.AtVec(13), Z: e.AtVec(14)}.Norm()
}

// Option configures a simulation run.
type Option func(*runner)

// WithLogger sets the logger of the run and of its filter.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *runner) {
		r.log = log
	}
}

// WithExporter writes the filter estimate after every camera frame.
func WithExporter(e gvio.Exporter) Option {
	return func(r *runner) {
		r.exporter = e
	}
}

type runner struct {
	log      *zap.SugaredLogger
	exporter gvio.Exporter

	world   *World
	filter  *gvio.MSCKF
	tracker *Tracker
	pixel   distuv.Normal
	result  Result

	estimates []gvio.IMUEstimate
}

// Run flies the filter through the world described by cfg. The filter starts at the
// true state and clones a camera pose at every frame, updating with the tracks that
// complete and pruning the window to its maximum size. Remaining tracks are used in a
// last update at the end of the run.
func Run(cfg Config, filterCfg *gvio.Config, opts ...Option) (*Result, error) {
	r := &runner{log: zap.NewNop().Sugar()}
	for _, opt := range opts {
		opt(r)
	}
	w, err := NewWorld(cfg, filterCfg)
	if err != nil {
		return nil, err
	}
	filter, err := gvio.New(filterCfg, gvio.WithLogger(r.log.Named("msckf")))
	if err != nil {
		return nil, err
	}
	r.world, r.filter = w, filter
	r.tracker = NewTracker(w.Camera(), filterCfg.Filter.MaxWindowSize)
	r.pixel = distuv.Normal{Mu: 0, Sigma: cfg.PixelNoise, Src: rand.New(rand.NewPCG(cfg.Seed, 0xca11))}
	r.result.Filter = filter

	steps := int(math.Round(cfg.Duration * cfg.IMURate))
	every := int(math.Round(cfg.IMURate / cfg.CameraRate))
	timestamp := func(k int) int64 {
		return int64(math.Round(float64(k) * 1e9 / cfg.IMURate))
	}

	truth := w.Truth(0)
	if err := filter.Initialize(0, truth.QIG, truth.VG, truth.PG); err != nil {
		return nil, err
	}
	if err := r.frame(0, false); err != nil {
		return nil, err
	}
	for k := 0; k < steps; k++ {
		aM, wM := w.IMU(k, float64(k)/cfg.IMURate, 1/cfg.IMURate)
		if err := filter.PredictionUpdate(aM, wM, timestamp(k+1)); err != nil {
			return nil, errors.Wrapf(err, "IMU sample %d", k)
		}
		if (k+1)%every != 0 {
			continue
		}
		if err := r.frame(float64(k+1)/cfg.IMURate, k+1 == steps); err != nil {
			return nil, errors.Wrapf(err, "frame %d", filter.FrameID()-1)
		}
	}
	gt := gvio.NewBatchGroundTruth(r.result.Truth)
	r.result.Estimates = make([]gvio.Estimate, len(r.estimates))
	for k, est := range r.estimates {
		r.result.Estimates[k] = gt.Error(k, est)
	}
	r.log.Infow("simulation done", "frames", len(r.result.Estimates), "position_error", r.result.PositionError(), "within_3σ", r.result.WithinNσ(3))
	return &r.result, nil
}

// frame clones the camera pose at t, tracks the landmarks in view and updates the
// filter with the completed tracks. The last frame also uses the live tracks.
func (r *runner) frame(t float64, last bool) error {
	if err := r.filter.AugmentState(); err != nil {
		return err
	}
	id := r.filter.FrameID() - 1
	qCG, pC := r.world.CameraPose(t)
	pixels, ids := camera.ObservedFeatures(r.world.Camera(), r.world.Landmarks(), qCG.C(), pC)
	for i := range pixels {
		pixels[i] = pixels[i].Add(r2.Point{X: r.pixel.Rand(), Y: r.pixel.Rand()})
	}
	done := r.tracker.Track(id, pixels, ids)
	if last {
		done = append(done, r.tracker.Flush()...)
	}

	report, err := r.filter.MeasurementUpdate(done)
	if err != nil && !errors.Is(err, gvio.ErrSingularInnovation) {
		return err
	}
	if _, err := r.filter.PruneCameraStates(); err != nil {
		return err
	}
	r.result.Reports = append(r.result.Reports, report)

	r.result.Truth = append(r.result.Truth, r.world.Truth(t))
	est := r.filter.GetState()
	r.estimates = append(r.estimates, est)
	if r.exporter != nil {
		if err := r.exporter.Write(est); err != nil {
			return errors.Wrap(err, "exporting estimate")
		}
	}
	r.log.Debugw("frame", "id", id, "visible", len(ids), "active", r.tracker.Active(), "update", report.String())
	return nil
}

// MonteCarlo runs the simulation samples times, each with its own seed derived from
// cfg.Seed.
func MonteCarlo(samples int, cfg Config, filterCfg *gvio.Config, opts ...Option) (gvio.MonteCarloRuns, error) {
	return gvio.NewMonteCarloRuns(samples, func(sample int) (gvio.MonteCarloRun, error) {
		c := cfg
		c.Seed = cfg.Seed + uint64(sample)
		res, err := Run(c, filterCfg, opts...)
		if err != nil {
			return gvio.MonteCarloRun{}, err
		}
		return gvio.MonteCarloRun{Estimates: res.Estimates}, nil
	})
}
