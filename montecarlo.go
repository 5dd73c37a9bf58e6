package gvio

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// MonteCarloRuns stores MC runs.
type MonteCarloRuns struct {
	runs, steps int
	Runs        []MonteCarloRun
}

// MonteCarloRun stores the results of an MC run.
type MonteCarloRun struct {
	Estimates []Estimate
}

// NewMonteCarloRuns executes samples runs. Every run must produce the same number of
// estimates.
func NewMonteCarloRuns(samples int, run func(sample int) (MonteCarloRun, error)) (MonteCarloRuns, error) {
	if samples < 1 {
		return MonteCarloRuns{}, errors.New("at least one Monte Carlo sample is required")
	}
	runs := make([]MonteCarloRun, samples)
	for sample := range runs {
		r, err := run(sample)
		if err != nil {
			return MonteCarloRuns{}, errors.Wrapf(err, "Monte Carlo sample %d", sample)
		}
		if len(r.Estimates) == 0 {
			return MonteCarloRuns{}, errors.Errorf("Monte Carlo sample %d has no estimates", sample)
		}
		if sample > 0 && len(r.Estimates) != len(runs[0].Estimates) {
			return MonteCarloRuns{}, errors.Errorf("Monte Carlo sample %d has %d steps instead of %d", sample, len(r.Estimates), len(runs[0].Estimates))
		}
		runs[sample] = r
	}
	return MonteCarloRuns{samples, len(runs[0].Estimates), runs}, nil
}

// Steps returns the number of steps of every run.
func (mc MonteCarloRuns) Steps() int {
	return mc.steps
}

// samples returns the values of every state component at the given step, one slice
// per component.
func (mc MonteCarloRuns) samples(step int) [][]float64 {
	rows := mc.Runs[0].Estimates[0].State().Len()
	states := make([][]float64, rows)
	for i := range states {
		states[i] = make([]float64, len(mc.Runs))
	}
	for r, run := range mc.Runs {
		state := run.Estimates[step].State()
		for i := 0; i < rows; i++ {
			states[i][r] = state.AtVec(i)
		}
	}
	return states
}

// Mean returns the mean of all the samples for the given time step.
func (mc MonteCarloRuns) Mean(step int) []float64 {
	states := mc.samples(step)
	means := make([]float64, len(states))
	for i, s := range states {
		means[i] = stat.Mean(s, nil)
	}
	return means
}

// StdDev returns the standard deviation of all the samples for the given time step.
func (mc MonteCarloRuns) StdDev(step int) []float64 {
	states := mc.samples(step)
	devs := make([]float64, len(states))
	for i, s := range states {
		devs[i] = stat.StdDev(s, nil)
	}
	return devs
}

// MeanNEES returns, for each step, the mean NEES over the runs. Every estimate must be
// an ErrorEstimate.
func (mc MonteCarloRuns) MeanNEES() ([]float64, error) {
	means := make([]float64, mc.steps)
	nees := make([]float64, mc.runs)
	for k := range means {
		for r, run := range mc.Runs {
			e, ok := run.Estimates[k].(ErrorEstimate)
			if !ok {
				return nil, errors.Errorf("run %d step %d is a %T, not an ErrorEstimate", r, k, run.Estimates[k])
			}
			v, err := e.NEES()
			if err != nil {
				return nil, errors.Wrapf(err, "run %d step %d", r, k)
			}
			nees[r] = v
		}
		means[k] = stat.Mean(nees, nil)
	}
	return means, nil
}

// AsCSV is used as a CSV serializer. Does not include the header.
func (mc MonteCarloRuns) AsCSV(headers []string) []string {
	rows := mc.Runs[0].Estimates[0].State().Len()
	rtn := make([]string, rows)

	for i := 0; i < rows; i++ {
		header := headers[i]
		lines := make([]string, mc.steps+1) // One line per step, plus header.
		for rNo := 0; rNo < mc.runs; rNo++ {
			lines[0] += fmt.Sprintf("%s-%d,", header, rNo)
		}
		lines[0] += header + "-mean," + header + "-stddev"

		for k := 0; k < mc.steps; k++ {
			for _, run := range mc.Runs {
				lines[k+1] += fmt.Sprintf("%f,", run.Estimates[k].State().AtVec(i))
			}
			mean := mc.Mean(k)
			stddev := mc.StdDev(k)
			lines[k+1] += fmt.Sprintf("%f,%f", mean[i], stddev[i])
		}
		rtn[i] = strings.Join(lines, "\n")
	}
	return rtn
}
