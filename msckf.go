package gvio

import (
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/SiChiTong/gvio/quaternion"
)

// MSCKF is a multi-state constraint Kalman filter. It propagates an inertial state
// with IMU samples, clones the camera pose for every frame into a sliding window, and
// corrects the whole window with the feature tracks that complete.
//
// An MSCKF is not safe for concurrent use.
type MSCKF struct {
	cfg       Config
	log       *zap.SugaredLogger
	estimator FeatureEstimator
	gate      *ChiSquareGate

	state          FilterState
	lastUpdated    int64 // nanoseconds
	counterFrameID FrameID

	IMU       IMUState
	CamStates []CameraState
	cov       *Covariance
}

// Option configures an MSCKF.
type Option func(*MSCKF)

// WithLogger sets the logger of the filter.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(m *MSCKF) {
		m.log = log
	}
}

// WithFeatureEstimator overrides the estimator selected by the configuration.
func WithFeatureEstimator(e FeatureEstimator) Option {
	return func(m *MSCKF) {
		m.estimator = e
	}
}

// New returns an uninitialized filter for the provided configuration.
func New(cfg *Config, opts ...Option) (*MSCKF, error) {
	if cfg == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "nil configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &MSCKF{
		cfg:  *cfg,
		log:  zap.NewNop().Sugar(),
		gate: NewChiSquareGate(cfg.Filter.Chi2Confidence),
		IMU:  NewIMUState(cfg.gravity(), cfg.extrinsicRotation(), cfg.extrinsicTranslation(), cfg.ProcessNoise()),
		cov:  NewCovariance(cfg.InitialCovariance(), CameraStateSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.estimator == nil {
		est, err := NewFeatureEstimator(cfg.Filter.Estimator, cfg.Filter.MaxIterations, cfg.Filter.ConvergenceThreshold)
		if err != nil {
			return nil, err
		}
		m.estimator = est
	}
	return m, nil
}

// Config returns a copy of the filter configuration.
func (m *MSCKF) Config() Config {
	return m.cfg
}

// State returns the lifecycle state of the filter.
func (m *MSCKF) State() FilterState {
	return m.state
}

// Initialize sets the timestamp (nanoseconds) and nominal pose of the filter. The
// first camera frame must then be cloned with AugmentState.
func (m *MSCKF) Initialize(ts int64, qIG quaternion.Quaternion, vG, pG r3.Vector) error {
	if m.state != Uninitialized {
		return ErrAlreadyInitialized
	}
	if !qIG.IsFinite() || !isFiniteVec(vG) || !isFiniteVec(pG) {
		return errors.Errorf("non-finite initial pose q=%s v=%v p=%v", qIG, vG, pG)
	}
	m.lastUpdated = ts
	m.IMU.QIG = qIG.Normalize()
	m.IMU.VG = vG
	m.IMU.PG = pG
	m.state = Running
	m.log.Infow("filter initialized", "ts", ts, "q_IG", m.IMU.QIG.String(), "v_G", vG, "p_G", pG)
	return nil
}

func (m *MSCKF) checkRunning() error {
	if m.state != Running {
		return ErrNotInitialized
	}
	return nil
}

// PredictionUpdate propagates the inertial state and its covariance to ts
// (nanoseconds) with the measured specific force aM and angular rate wM.
func (m *MSCKF) PredictionUpdate(aM, wM r3.Vector, ts int64) error {
	if err := m.checkRunning(); err != nil {
		return err
	}
	if ts <= m.lastUpdated {
		return errors.Wrapf(ErrNonPositiveDt, "sample at %d is not after %d", ts, m.lastUpdated)
	}
	dt := float64(ts-m.lastUpdated) * 1e-9

	w := wM.Sub(m.IMU.BG)
	a := aM.Sub(m.IMU.BA)
	F, G := m.IMU.transition(w, a)
	Φ, Qd, err := discretize(m.cfg.Filter.Discretization, F, G, m.IMU.Q, dt)
	if err != nil {
		if !errors.Is(err, ErrAliasing) {
			return err
		}
		m.log.Warnw("discretization", "error", err)
	}
	if err := m.cov.PropagateHead(Φ, Qd); err != nil {
		return err
	}
	m.IMU.propagate(w, a, dt)
	m.lastUpdated = ts
	return nil
}

// J returns the 6×15 Jacobian of a camera pose clone with respect to the inertial
// error state.
func (m *MSCKF) J(qCI quaternion.Quaternion, pIC r3.Vector, qIG quaternion.Quaternion) *mat.Dense {
	J := mat.NewDense(CameraStateSize, IMUStateSize, nil)
	setBlock(J, 0, idxTheta, qCI.C())
	setBlock(J, 3, idxTheta, quaternion.Skew(qIG.InverseRotate(pIC)))
	setBlock(J, 3, idxP, Identity(3))
	return J
}

// AugmentState clones the current camera pose into the sliding window and grows the
// covariance accordingly.
func (m *MSCKF) AugmentState() error {
	if err := m.checkRunning(); err != nil {
		return err
	}
	qCG := quaternion.Mul(m.IMU.QCI, m.IMU.QIG).Normalize()
	pG := m.IMU.PG.Add(m.IMU.QIG.InverseRotate(m.IMU.PIC))
	cs := NewCameraState(pG, qCG)
	cs.SetFrameID(m.counterFrameID)

	Jfull := mat.NewDense(CameraStateSize, m.cov.Dim(), nil)
	setBlock(Jfull, 0, 0, m.J(m.IMU.QCI, m.IMU.PIC, m.IMU.QIG))
	if err := m.cov.InsertBlock(Jfull); err != nil {
		return err
	}
	m.CamStates = append(m.CamStates, cs)
	m.counterFrameID++
	return nil
}

// N returns the number of camera states in the window.
func (m *MSCKF) N() int {
	return len(m.CamStates)
}

// FrameID returns the id the next cloned camera state will get.
func (m *MSCKF) FrameID() FrameID {
	return m.counterFrameID
}

// P returns a copy of the joint covariance.
func (m *MSCKF) P() *mat.SymDense {
	P := mat.NewSymDense(m.cov.Dim(), nil)
	P.CopySym(m.cov.Matrix())
	return P
}

// Covariance returns the joint covariance arena.
func (m *MSCKF) Covariance() *Covariance {
	return m.cov
}

// GetState returns a snapshot of the inertial estimate.
func (m *MSCKF) GetState() IMUEstimate {
	return NewIMUEstimate(m.lastUpdated, m.IMU, m.cov.Head())
}

// CorrectIMUState applies the inertial part of the full error state correction dx.
func (m *MSCKF) CorrectIMUState(dx mat.Vector) error {
	if dx.Len() < IMUStateSize {
		return errors.Wrapf(ErrDimensionMismatch, "correction has %d elements, expected at least %d", dx.Len(), IMUStateSize)
	}
	return m.IMU.Correct(mat.NewVecDense(IMUStateSize, vecData(dx, 0, IMUStateSize)))
}

// CorrectCameraStates applies the camera part of the full error state correction dx.
func (m *MSCKF) CorrectCameraStates(dx mat.Vector) error {
	if exp := IMUStateSize + CameraStateSize*m.N(); dx.Len() != exp {
		return errors.Wrapf(ErrDimensionMismatch, "correction has %d elements, expected %d", dx.Len(), exp)
	}
	for i := range m.CamStates {
		start := IMUStateSize + CameraStateSize*i
		if err := m.CamStates[i].Correct(mat.NewVecDense(CameraStateSize, vecData(dx, start, start+CameraStateSize))); err != nil {
			return err
		}
	}
	return nil
}

func vecData(v mat.Vector, from, to int) []float64 {
	d := make([]float64, to-from)
	for i := range d {
		d[i] = v.AtVec(from + i)
	}
	return d
}

// PruneCameraStates drops the oldest camera states until the window holds at most
// MaxWindowSize of them. It returns the number of states dropped.
func (m *MSCKF) PruneCameraStates() (int, error) {
	excess := m.N() - m.cfg.Filter.MaxWindowSize
	if excess <= 0 {
		return 0, nil
	}
	idx := make([]int, excess)
	for i := range idx {
		idx[i] = i
	}
	return excess, m.removeCameraStates(idx)
}

// PruneCameraStatesByFrame drops the camera states that no live track observed. The
// newest camera state is always kept. It returns the number of states dropped.
func (m *MSCKF) PruneCameraStatesByFrame(live []FeatureTrack) (int, error) {
	referenced := make(map[FrameID]bool)
	for _, t := range live {
		for _, id := range t.FrameIDs() {
			referenced[id] = true
		}
	}
	var idx []int
	for i, cs := range m.CamStates[:max(m.N()-1, 0)] {
		if !referenced[cs.FrameID] {
			idx = append(idx, i)
		}
	}
	return len(idx), m.removeCameraStates(idx)
}

// removeCameraStates drops the camera states at the window positions idx, given in
// ascending order.
func (m *MSCKF) removeCameraStates(idx []int) error {
	if len(idx) == 0 {
		return nil
	}
	if err := m.cov.DeleteBlocks(idx...); err != nil {
		return err
	}
	drop := make(map[int]bool, len(idx))
	for _, i := range idx {
		drop[i] = true
	}
	kept := m.CamStates[:0]
	for i, cs := range m.CamStates {
		if !drop[i] {
			kept = append(kept, cs)
		}
	}
	m.CamStates = kept
	m.log.Debugw("pruned camera states", "dropped", len(idx), "window", m.N())
	return nil
}

func (m *MSCKF) String() string {
	return fmt.Sprintf("MSCKF{%s t=%d window=%d %s}", m.state, m.lastUpdated, m.N(), m.IMU)
}
