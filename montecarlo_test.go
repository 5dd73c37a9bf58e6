package gvio

import (
	"strings"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/SiChiTong/gvio/quaternion"
)

func TestMCRuns(t *testing.T) {
	base := NewIMUState(r3.Vector{Z: -9.81}, quaternion.Identity(), r3.Vector{}, DefaultConfig().ProcessNoise())
	truth := NewBatchGroundTruth([]IMUState{base, base, base})
	noise := NewAWGN(ScaledIdentity(3, 1), ScaledIdentity(1, 1), 3)

	const steps = 3
	runs, err := NewMonteCarloRuns(5, func(sample int) (MonteCarloRun, error) {
		var run MonteCarloRun
		for k := 0; k < steps; k++ {
			s := base
			w := noise.Process(k)
			s.PG = r3.Vector{X: w.AtVec(0), Y: w.AtVec(1), Z: w.AtVec(2)}
			run.Estimates = append(run.Estimates, truth.Error(k, NewIMUEstimate(int64(k), s, ScaledIdentity(IMUStateSize, 1))))
		}
		return run, nil
	})
	require.NoError(t, err)
	require.Len(t, runs.Runs, 5)
	assert.Equal(t, steps, runs.Steps())
	for r, run := range runs.Runs {
		assert.Len(t, run.Estimates, steps, "sample #%d", r)
	}

	mean, dev := runs.Mean(1), runs.StdDev(1)
	assert.Len(t, mean, IMUStateSize)
	assert.Equal(t, 0.0, mean[0])
	assert.Equal(t, 0.0, dev[6])
	assert.True(t, dev[12] > 0)

	files := runs.AsCSV(StateHeaders)
	require.Len(t, files, IMUStateSize)
	lines := strings.Split(files[12], "\n")
	require.Len(t, lines, steps+1)
	assert.Equal(t, "p_x-0,p_x-1,p_x-2,p_x-3,p_x-4,p_x-mean,p_x-stddev", lines[0])

	nees, err := runs.MeanNEES()
	require.NoError(t, err)
	assert.Len(t, nees, steps)
	for _, v := range nees {
		assert.True(t, v > 0)
	}
}

func TestMCRunsErrors(t *testing.T) {
	_, err := NewMonteCarloRuns(0, nil)
	assert.Error(t, err)

	boom := errors.New("boom")
	_, err = NewMonteCarloRuns(2, func(int) (MonteCarloRun, error) { return MonteCarloRun{}, boom })
	assert.True(t, errors.Is(err, boom))

	_, err = NewMonteCarloRuns(2, func(int) (MonteCarloRun, error) { return MonteCarloRun{}, nil })
	assert.Error(t, err)

	est := NewIMUEstimate(0, IMUState{QIG: quaternion.Identity()}, Identity(IMUStateSize))
	_, err = NewMonteCarloRuns(2, func(sample int) (MonteCarloRun, error) {
		return MonteCarloRun{Estimates: make([]Estimate, sample+1)}, nil
	})
	assert.Error(t, err, "runs of different lengths")

	runs, err := NewMonteCarloRuns(1, func(int) (MonteCarloRun, error) {
		return MonteCarloRun{Estimates: []Estimate{est}}, nil
	})
	require.NoError(t, err)
	_, err = runs.MeanNEES()
	assert.Error(t, err, "NEES requires error estimates")
	assert.True(t, mat.Equal(est.State(), runs.Runs[0].Estimates[0].State()))
}
