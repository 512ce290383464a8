// Package stats has running statistics used while training and for summarising sweep results.
package stats

import (
	"fmt"
	"math"

	mstats "github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// EMA is an exponential moving average, the zero value takes the first sample as the average.
type EMA float64

// Add returns the new average after adding val, with n the number of samples in the smoothing window.
func (e EMA) Add(val, n float64) float64 {
	if e == 0 {
		return val
	}
	k := 2.0 / (n + 1.0)
	return val*k + float64(e)*(1-k)
}

// Average is a running mean and sample standard deviation as per http://www.johndcook.com/blog/standard_deviation/
type Average struct {
	Count, Mean float64
	Var, StdDev float64
	oldM, oldV  float64
}

func (s *Average) Add(x float64) {
	s.Count++
	if s.Count == 1 {
		s.oldM, s.Mean = x, x
		s.oldV = 0
		return
	}
	s.Mean = s.oldM + (x-s.oldM)/s.Count
	s.Var = s.oldV + (x-s.oldM)*(x-s.Mean)
	s.oldM, s.oldV = s.Mean, s.Var
	s.StdDev = math.Sqrt(s.Var / (s.Count - 1))
}

func (s *Average) String() string {
	return format(s.Mean, s.StdDev)
}

// Summary of a list of values, e.g. the validation accuracy from each trial.
type Summary struct {
	Count            int
	Mean, StdDev     float64
	Min, Median, Max float64
}

// Summarize computes the summary statistics, StdDev is zero for a single value.
func Summarize(values []float64) (s Summary, err error) {
	data := mstats.LoadRawData(values)
	if s.Mean, err = mstats.Mean(data); err != nil {
		return s, errors.Wrap(err, "summarize")
	}
	s.Count = len(data)
	if s.Count > 1 {
		s.StdDev, _ = mstats.StandardDeviationSample(data)
	}
	s.Min, _ = mstats.Min(data)
	s.Max, _ = mstats.Max(data)
	s.Median, _ = mstats.Median(data)
	return s, nil
}

func (s Summary) String() string {
	return fmt.Sprintf("%s [%.4g - %.4g]", format(s.Mean, s.StdDev), s.Min, s.Max)
}

func format(mean, stddev float64) string {
	if mean > 10 {
		if stddev < 0.1 {
			return fmt.Sprintf("%.1f", mean)
		}
		return fmt.Sprintf("%.1f±%.1f", mean, stddev)
	}
	if stddev < 0.01 {
		return fmt.Sprintf("%.2f", mean)
	}
	return fmt.Sprintf("%.2f±%.2f", mean, stddev)
}
