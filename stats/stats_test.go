package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMA(t *testing.T) {
	var avg float64
	avg = EMA(avg).Add(0.5, 5)
	assert.Equal(t, 0.5, avg)
	avg = EMA(avg).Add(0.8, 5)
	assert.InDelta(t, 0.6, avg, 1e-12)
}

func TestAverage(t *testing.T) {
	s := new(Average)
	for _, x := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		s.Add(x)
	}
	assert.Equal(t, 8.0, s.Count)
	assert.InDelta(t, 5.0, s.Mean, 1e-12)
	assert.InDelta(t, 2.138090, s.StdDev, 1e-6)
	assert.Equal(t, "5.00±2.14", s.String())
}

func TestSummarize(t *testing.T) {
	s, err := Summarize([]float64{0.5, 0.75, 1})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Count)
	assert.InDelta(t, 0.75, s.Mean, 1e-12)
	assert.InDelta(t, 0.25, s.StdDev, 1e-12)
	assert.Equal(t, 0.5, s.Min)
	assert.Equal(t, 0.75, s.Median)
	assert.Equal(t, 1.0, s.Max)
	assert.Equal(t, "0.75±0.25 [0.5 - 1]", s.String())

	s, err = Summarize([]float64{0.9})
	require.NoError(t, err)
	assert.Equal(t, 0.0, s.StdDev)

	_, err = Summarize(nil)
	assert.Error(t, err)
}
