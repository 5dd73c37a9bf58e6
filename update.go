package gvio

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// UpdateReport summarizes a MeasurementUpdate.
type UpdateReport struct {
	Tracks           int       // tracks that contributed to the update
	TooShort         int       // tracks below the minimum track length
	RejectedEstimate int       // tracks whose feature could not be estimated or residualized
	RejectedGate     int       // tracks rejected by the chi-square gate
	Rows             int       // rows of the (compressed) measurement model
	NIS              []float64 // NIS of each accepted track
}

// MeanNIS returns the mean NIS of the accepted tracks.
func (r UpdateReport) MeanNIS() float64 {
	if len(r.NIS) == 0 {
		return 0
	}
	return stat.Mean(r.NIS, nil)
}

// StdDevNIS returns the standard deviation of the NIS of the accepted tracks.
func (r UpdateReport) StdDevNIS() float64 {
	if len(r.NIS) < 2 {
		return 0
	}
	return stat.StdDev(r.NIS, nil)
}

func (r UpdateReport) String() string {
	return fmt.Sprintf("tracks=%d short=%d bad=%d gated=%d rows=%d NIS=%.3f±%.3f", r.Tracks, r.TooShort, r.RejectedEstimate, r.RejectedGate, r.Rows, r.MeanNIS(), r.StdDevNIS())
}

// MeasurementUpdate corrects the filter with the completed feature tracks. Tracks that
// are too short, cannot be estimated or fail the chi-square gate are dropped and
// counted in the report. The remaining tracks are stacked into a single update.
func (m *MSCKF) MeasurementUpdate(tracks []FeatureTrack) (UpdateReport, error) {
	var report UpdateReport
	if err := m.checkRunning(); err != nil {
		return report, err
	}
	σ2 := m.cfg.Filter.ImageNoise * m.cfg.Filter.ImageNoise
	P := m.cov.Matrix()

	var Hs []*mat.Dense
	var rs []*mat.VecDense
	for _, track := range tracks {
		Ho, ro, err := m.ResidualizeTrack(track)
		switch {
		case errors.Is(err, ErrTrackTooShort):
			report.TooShort++
			continue
		case err != nil:
			m.log.Debugw("dropping track", "track", track.TrackID, "error", err)
			report.RejectedEstimate++
			continue
		}

		nis, ok, err := m.gate.Test(Ho, ro, P, σ2)
		if err != nil || !ok {
			m.log.Debugw("track failed chi-square gate", "track", track.TrackID, "nis", nis, "dof", ro.Len(), "error", err)
			report.RejectedGate++
			continue
		}
		report.NIS = append(report.NIS, nis)
		Hs = append(Hs, Ho)
		rs = append(rs, ro)
	}
	report.Tracks = len(Hs)
	if len(Hs) == 0 {
		return report, nil
	}

	H, r := stack(Hs, rs)
	if m.cfg.Filter.EnableQRTrick {
		H, r = compress(H, r)
	}
	report.Rows, _ = H.Dims()

	if err := m.update(H, r, σ2); err != nil {
		m.log.Warnw("skipping measurement update", "tracks", report.Tracks, "rows", report.Rows, "error", err)
		return report, err
	}
	m.log.Debugw("measurement update", "report", report.String())
	return report, nil
}

// stack vertically concatenates the measurement blocks.
func stack(Hs []*mat.Dense, rs []*mat.VecDense) (*mat.Dense, *mat.VecDense) {
	rows := 0
	for _, r := range rs {
		rows += r.Len()
	}
	_, cols := Hs[0].Dims()
	H := mat.NewDense(rows, cols, nil)
	r := mat.NewVecDense(rows, nil)
	row := 0
	for i, Hi := range Hs {
		setBlock(H, row, 0, Hi)
		for k := 0; k < rs[i].Len(); k++ {
			r.SetVec(row+k, rs[i].AtVec(k))
		}
		row += rs[i].Len()
	}
	return H, r
}

// update applies the EKF correction of the measurement model r = H·δx + n,
// n ~ N(0, σ²I), to the nominal states and the joint covariance.
func (m *MSCKF) update(H *mat.Dense, r *mat.VecDense, σ2 float64) error {
	P := m.cov.Matrix()
	if err := checkMatDims(H, P, "H", "P", cols2rows); err != nil {
		return err
	}
	rows, n := H.Dims()

	S := innovationCovariance(H, P, σ2)
	var chol mat.Cholesky
	if !chol.Factorize(S) {
		for i := 0; i < rows; i++ {
			S.SetSym(i, i, S.At(i, i)+1e-9)
		}
		if !chol.Factorize(S) {
			return errors.Wrapf(ErrSingularInnovation, "%dx%d innovation covariance", rows, rows)
		}
	}

	// S·Kᵀ = H·P
	var HP, Kt mat.Dense
	HP.Mul(H, P)
	if err := chol.SolveTo(&Kt, &HP); err != nil {
		return errors.Wrap(ErrSingularInnovation, err.Error())
	}
	K := Kt.T()

	var dx mat.VecDense
	dx.MulVec(K, r)
	if !isFinite(&dx) {
		return errors.Wrap(ErrSingularInnovation, "non-finite correction")
	}

	// Joseph form (I - K·H)·P·(I - K·H)ᵀ + σ²·K·Kᵀ
	var IKH, Pnew, KKt mat.Dense
	IKH.Mul(K, H)
	IKH.Sub(Identity(n), &IKH)
	Pnew.Product(&IKH, P, IKH.T())
	KKt.Mul(K, &Kt)
	KKt.Scale(σ2, &KKt)
	Pnew.Add(&Pnew, &KKt)

	if err := m.CorrectIMUState(&dx); err != nil {
		return err
	}
	if err := m.CorrectCameraStates(&dx); err != nil {
		return err
	}
	return m.cov.Set(Symmetrize(&Pnew))
}
