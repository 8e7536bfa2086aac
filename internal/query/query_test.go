package query

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

func TestFiniteScrubsNonFiniteValues(t *testing.T) {
	assert.Equal(t, 12.5, finite(12.5))
	assert.Zero(t, finite(math.NaN()))
	assert.Zero(t, finite(math.Inf(1)))
	assert.Zero(t, finite(math.Inf(-1)))
}

func TestFiniteTrend(t *testing.T) {
	now := time.Now().UTC()
	points := finiteTrend([]timeseries.TrendPoint{
		{Bucket: now, Value: 3.5},
		{Bucket: now.Add(time.Hour), Value: math.NaN()},
		{Bucket: now.Add(2 * time.Hour), Value: math.Inf(1)},
	})

	assert.Equal(t, 3.5, points[0].Value)
	assert.Zero(t, points[1].Value)
	assert.Zero(t, points[2].Value)
}

func TestFiniteNames(t *testing.T) {
	names := finiteNames([]timeseries.NameValue{
		{Name: "compute", Value: 100},
		{Name: "storage", Value: math.NaN()},
	})
	assert.Equal(t, 100.0, names[0].Value)
	assert.Zero(t, names[1].Value)
}

func TestParamsWindowDefaults(t *testing.T) {
	w := Params{}.window()
	assert.InDelta(t, 24*time.Hour, w.Until.Sub(w.Since), float64(time.Second))

	w = Params{Hours: 6}.window()
	assert.InDelta(t, 6*time.Hour, w.Until.Sub(w.Since), float64(time.Second))
}

func TestParamsLimitClamps(t *testing.T) {
	assert.Equal(t, DefaultLimit, Params{}.limit())
	assert.Equal(t, DefaultLimit, Params{Limit: -3}.limit())
	assert.Equal(t, DefaultLimit, Params{Limit: 90000}.limit())
	assert.Equal(t, 50, Params{Limit: 50}.limit())
}
