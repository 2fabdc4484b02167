package weather

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeScenarioList(t *testing.T) {
	c := Context{RainNorm: 3, ScenarioMMPerH: []float64{100, 30, -5, 30, 70, 50}}.Normalize()
	assert.Equal(t, 1.0, c.RainNorm)
	assert.Equal(t, []float64{30, 50, 70}, c.ScenarioMMPerH)
	assert.Equal(t, SourceBaseline, c.Source)

	low := Context{RainNorm: 0.01}.Normalize()
	assert.Equal(t, MinRainNorm, low.RainNorm)
	assert.Equal(t, DefaultScenarios, low.ScenarioMMPerH)
}

func TestStaticIsBaseline(t *testing.T) {
	c, err := Static{}.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BaselineRainNorm, c.RainNorm)
	assert.Equal(t, "constant_baseline", c.Source)
}

func TestAPI14Weights(t *testing.T) {
	assert.Equal(t, 0.0, API14(nil))
	assert.Equal(t, 7.0, API14([]float64{7}))
	// newest weighs 1.0, oldest 0.1
	assert.InDelta(t, 10*0.1+10*1.0, API14([]float64{10, 10}), 1e-9)

	long := make([]float64, 20)
	long[0] = 1000 // older than 14 days, ignored
	assert.Equal(t, 0.0, API14(long))
}

func TestClassifyMoisture(t *testing.T) {
	assert.Equal(t, MoistureDry, ClassifyMoisture(9.99))
	assert.Equal(t, MoistureNormal, ClassifyMoisture(10))
	assert.Equal(t, MoistureNormal, ClassifyMoisture(24.9))
	assert.Equal(t, MoistureWet, ClassifyMoisture(25))
}

func TestSeriesResolve(t *testing.T) {
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	var samples []Sample
	for h := 0; h < 48; h++ {
		samples = append(samples, Sample{Time: start.Add(time.Duration(h) * time.Hour), PrecipMM: 1})
	}

	c, err := Series{Samples: samples}.Resolve(context.Background())
	require.NoError(t, err)
	require.NotNil(t, c.Stats)
	assert.Equal(t, 48, c.Stats.Count)
	assert.Equal(t, 48.0, c.Stats.SumMM)
	assert.Equal(t, []float64{24, 24}, DailySums(samples))
	// 24*0.1 + 24*1.0 = 26.4
	assert.Equal(t, MoistureWet, c.MoistureClass)
	assert.Equal(t, 0.85, c.RainNorm)
	assert.Equal(t, 1.0, c.Stats.QuantilesMM["0.9"])
}
