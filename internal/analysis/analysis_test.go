package analysis

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/config"
	"github.com/hydrowatch/hydrorisk-backend/internal/hotspot"
	"github.com/hydrowatch/hydrorisk-backend/internal/scoring"
	"github.com/hydrowatch/hydrorisk-backend/internal/source"
	"github.com/hydrowatch/hydrorisk-backend/internal/spatial"
	"github.com/hydrowatch/hydrorisk-backend/internal/weather"
)

// Synthetic DEM in UTM 32N around lon 9, lat 50: a valley draining south
// with a 2 m pit east of the valley floor.
const (
	demX0    = 499000.0
	demY0    = 5537500.0
	demCell  = 10.0
	demSize  = 200
	valleyX  = 500005.0
	pitX     = 500205.0
	pitY     = 5538605.0
	pitDepth = 2.0
)

func writeValleyDEM(t *testing.T) string {
	t.Helper()
	var sb strings.Builder
	fmt.Fprintf(&sb, "ncols %d\nnrows %d\nxllcorner %g\nyllcorner %g\ncellsize %g\nNODATA_value -9999\n",
		demSize, demSize, demX0, demY0, demCell)
	top := demY0 + demSize*demCell
	for r := 0; r < demSize; r++ {
		y := top - (float64(r)+0.5)*demCell
		for c := 0; c < demSize; c++ {
			x := demX0 + (float64(c)+0.5)*demCell
			z := 100 + 0.05*(y-demY0) + 0.05*math.Abs(x-valleyX)
			if math.Abs(x-pitX) < 15 && math.Abs(y-pitY) < 15 {
				z -= pitDepth
			}
			if c > 0 {
				sb.WriteByte(' ')
			}
			sb.WriteString(strconv.FormatFloat(z, 'f', 3, 64))
		}
		sb.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "dem.asc")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func testRunner(t *testing.T) *Runner {
	t.Helper()
	builder := &source.Builder{Source: source.NewFileSource(writeValleyDEM(t), ""), CoverageFloor: 0.5}
	r, err := NewRunner(map[string]*source.Builder{config.SourceFile: builder}, source.NewCache(4, nil, nil), nil)
	require.NoError(t, err)
	return r
}

func testRequest(t *testing.T, kind string) Request {
	t.Helper()
	aoi, err := spatial.NewBBoxAOI(8.995, 49.995, 9.005, 50.005)
	require.NoError(t, err)
	p := config.DefaultPipeline()
	p.Kind = kind
	p.SourceMode = config.SourceFile
	p.Resolution = demCell
	p.Threshold = 50
	return Request{JobID: "test", AOI: aoi, Pipeline: p}
}

func TestRunStarkregen(t *testing.T) {
	r := testRunner(t)
	req := testRequest(t, config.KindStarkregen)

	var events []Progress
	res, err := r.Run(context.Background(), req, func(p Progress) { events = append(events, p) })
	require.NoError(t, err)

	assert.Equal(t, "FeatureCollection", res.Type)
	require.NotEmpty(t, res.Features)
	for _, f := range res.Features {
		assert.True(t, f.Geometry.IsLineString())
		assert.GreaterOrEqual(t, len(f.Geometry.LineString), 2)
		score := f.Properties[PropRiskScore].(int)
		assert.GreaterOrEqual(t, score, 0)
		assert.LessOrEqual(t, score, 100)
		assert.Equal(t, scoring.Classify(float64(score)), f.Properties[PropRiskClass])
		assert.Greater(t, f.Properties[PropUpstreamAreaM2].(int64), int64(50*demCell*demCell))
	}

	a := res.Analysis
	assert.Equal(t, config.KindStarkregen, a.Kind)
	assert.Equal(t, scoring.LayerProxy, a.Assumptions.Soil)
	assert.Equal(t, scoring.LayerProxy, a.Assumptions.Impervious)
	assert.Equal(t, "file", a.Assumptions.DEMSource)
	assert.False(t, a.Performance.DownsampleApplied)
	assert.False(t, a.Performance.PartialCoverage)

	total := 0
	for _, n := range a.ClassDistribution {
		total += n
	}
	assert.Greater(t, total, 0)
	assert.InDelta(t, float64(total)*demCell*demCell/1e6, a.Metrics.AOIAreaKM2, 0.001)
	assert.InDelta(t, 0.8, a.Metrics.AOIAreaGeodesicKM2, 0.05)

	require.Len(t, a.Scenarios, 3)
	for k := 1; k < len(a.Scenarios); k++ {
		assert.Less(t, a.Scenarios[k-1].RainMMPerH, a.Scenarios[k].RainMMPerH)
		assert.LessOrEqual(t, a.Scenarios[k-1].MeanScore, a.Scenarios[k].MeanScore)
	}

	require.NotEmpty(t, a.Hotspots)
	sep := req.Pipeline.HotspotSeparation(demCell)
	var ponding []hotspot.Hotspot
	for k, h := range a.Hotspots {
		assert.Equal(t, k+1, h.Rank)
		assert.InDelta(t, 50, h.Lat, 0.01)
		assert.InDelta(t, 9, h.Lon, 0.01)
		assert.NotEmpty(t, h.Measures)
		if h.Type == hotspot.TypePonding {
			ponding = append(ponding, h)
			continue
		}
		for _, o := range a.Hotspots[:k] {
			if o.Type == hotspot.TypeRisk {
				assert.GreaterOrEqual(t, math.Hypot(h.X-o.X, h.Y-o.Y), sep)
			}
		}
	}
	require.NotEmpty(t, ponding)
	assert.InDelta(t, pitX, ponding[0].X, 15)
	assert.InDelta(t, pitY, ponding[0].Y, 15)
	require.NotNil(t, a.Metrics.PondingVolumeM3)
	assert.Greater(t, *a.Metrics.PondingVolumeM3, int64(0))
	assert.LessOrEqual(t, *a.Metrics.PondingMaxDepthM, pitDepth)

	require.Len(t, events, stageCount)
	for k, e := range events {
		assert.Equal(t, k+1, e.Step)
		assert.Equal(t, stageCount, e.Total)
	}
	assert.Equal(t, StageOutput, events[len(events)-1].Stage)
	assert.Equal(t, 100, events[len(events)-1].Percent())
}

func TestSegmentAreaIsTakenAtDownstreamEnd(t *testing.T) {
	r := testRunner(t)
	req := testRequest(t, config.KindStarkregen)

	terrain, err := r.Terrain(context.Background(), req, nil)
	require.NoError(t, err)
	res, err := r.Run(context.Background(), req, nil)
	require.NoError(t, err)
	require.NotEmpty(t, res.Features)

	cellArea := demCell * demCell
	for _, f := range res.Features {
		seg := terrain.Network.Segments[f.Properties[PropSegmentID].(int)]
		last := seg.Cells[len(seg.Cells)-1]
		acc := f.Properties[PropAccCells].(int)
		assert.Equal(t, terrain.Acc[last], acc, "segment %d", seg.ID)
		assert.GreaterOrEqual(t, acc, terrain.Acc[seg.MidCell])
		assert.Equal(t, int64(math.Round(float64(acc)*cellArea)), f.Properties[PropUpstreamAreaM2])
	}
}

func TestRunErosion(t *testing.T) {
	res, err := testRunner(t).Run(context.Background(), testRequest(t, config.KindErosion), nil)
	require.NoError(t, err)

	a := res.Analysis
	assert.Equal(t, config.KindErosion, a.Kind)
	assert.NotNil(t, a.Scenarios)
	assert.Empty(t, a.Scenarios)
	assert.Nil(t, a.Metrics.PondingVolumeM3)
	assert.Equal(t, "erosion-v2-terrain", a.Metrics.ModelVersion)
	for _, h := range a.Hotspots {
		assert.Equal(t, hotspot.TypeRisk, h.Type)
	}
}

func TestRunDownsamplesLargeAOI(t *testing.T) {
	req := testRequest(t, config.KindStarkregen)
	req.Pipeline.MaxAnalysisCells = 2500

	res, err := testRunner(t).Run(context.Background(), req, nil)
	require.NoError(t, err)

	perf := res.Analysis.Performance
	assert.True(t, perf.DownsampleApplied)
	assert.Equal(t, 2, perf.FetchFactor)
	assert.Equal(t, 2*demCell, perf.FetchResolutionM)
	assert.Equal(t, 2, perf.ScaleFactor)
	assert.LessOrEqual(t, perf.InputWidth*perf.InputHeight, req.Pipeline.MaxAnalysisCells)
	assert.Equal(t, perf.InputWidth, perf.WorkWidth)
	assert.Equal(t, 2*demCell, res.Analysis.Metrics.CellSizeM)
	assert.Equal(t, 13, res.Analysis.Metrics.ThresholdCells)
}

func TestRunTruncatesOutput(t *testing.T) {
	req := testRequest(t, config.KindStarkregen)
	req.Pipeline.Threshold = 10
	req.Pipeline.MaxOutputFeatures = 1

	res, err := testRunner(t).Run(context.Background(), req, nil)
	require.NoError(t, err)

	perf := res.Analysis.Performance
	assert.True(t, perf.OutputTruncated)
	assert.Greater(t, perf.FeatureCount, 1)
	assert.Equal(t, 1, perf.OutputCount)
	require.Len(t, res.Features, 1)
	assert.Equal(t, perf.FeatureCount, res.Analysis.Metrics.FeatureCount)
	assert.Contains(t, strings.Join(res.Analysis.Warnings, ";"), "truncated")
}

func TestRunErrors(t *testing.T) {
	r := testRunner(t)

	req := testRequest(t, "hochwasser")
	_, err := r.Run(context.Background(), req, nil)
	assert.True(t, apperr.Is(err, apperr.InvalidRequest))

	req = testRequest(t, config.KindStarkregen)
	req.Pipeline.SourceMode = config.SourceWCS
	_, err = r.Run(context.Background(), req, nil)
	assert.True(t, apperr.Is(err, apperr.InvalidRequest))

	req = testRequest(t, config.KindStarkregen)
	req.AOI, _ = spatial.NewBBoxAOI(10.5, 51.5, 10.51, 51.51)
	_, err = r.Run(context.Background(), req, nil)
	assert.True(t, apperr.Is(err, apperr.CoverageError), "got %v", err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx, testRequest(t, config.KindStarkregen), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{config.KindErosion, config.KindStarkregen}, Kinds())

	a, err := GetAnalyzer(config.KindStarkregen)
	require.NoError(t, err)
	assert.True(t, a.Ponding())
	assert.True(t, a.Scenarios())

	a, err = GetAnalyzer(config.KindErosion)
	require.NoError(t, err)
	assert.False(t, a.Ponding())
	assert.False(t, a.Scenarios())
}

func TestResolveWeatherDefaultsToStatic(t *testing.T) {
	want, err := weather.Static{}.Resolve(context.Background())
	require.NoError(t, err)

	got, err := resolveWeather(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, weather.SourceBaseline, got.Source)

	wet := weather.Fixed{C: weather.Context{RainNorm: 2, ScenarioMMPerH: []float64{100, 30}}}
	got, err = resolveWeather(context.Background(), wet)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.RainNorm)
	assert.Equal(t, []float64{30, 100}, got.ScenarioMMPerH)
}

func TestScaledThreshold(t *testing.T) {
	assert.Equal(t, 200, scaledThreshold(200, 1))
	assert.Equal(t, 50, scaledThreshold(200, 2))
	assert.Equal(t, 1, scaledThreshold(2, 4))
}
