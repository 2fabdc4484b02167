package analysis

import (
	"context"
	"fmt"
	"math"

	geojson "github.com/paulmach/go.geojson"
	"go.uber.org/zap"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/config"
	"github.com/hydrowatch/hydrorisk-backend/internal/hotspot"
	"github.com/hydrowatch/hydrorisk-backend/internal/hydro"
	"github.com/hydrowatch/hydrorisk-backend/internal/perf"
	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
	"github.com/hydrowatch/hydrorisk-backend/internal/scoring"
	"github.com/hydrowatch/hydrorisk-backend/internal/source"
	"github.com/hydrowatch/hydrorisk-backend/internal/spatial"
	"github.com/hydrowatch/hydrorisk-backend/internal/weather"
)

// Runner executes analyses. It is safe for concurrent use; every run owns
// its grids and only the mosaic cache is shared.
type Runner struct {
	Builders   map[string]*source.Builder // keyed by DEM source mode
	Cache      *source.Cache              // optional
	Soil       scoring.AuxLayer           // optional
	Impervious scoring.AuxLayer           // optional
	Catalog    *hotspot.Catalog
	Logger     *zap.Logger
}

// NewRunner creates a runner with the embedded remediation catalog.
func NewRunner(builders map[string]*source.Builder, cache *source.Cache, logger *zap.Logger) (*Runner, error) {
	catalog, err := hotspot.DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{Builders: builders, Cache: cache, Catalog: catalog, Logger: logger}, nil
}

// Request is one analysis or delineation request.
type Request struct {
	JobID    string
	AOI      *spatial.AOI
	Pipeline config.Pipeline
	Weather  weather.Provider // nil means the static baseline
}

// Terrain is the conditioned working grid of one request.
type Terrain struct {
	Pipeline       config.Pipeline
	Projector      *spatial.Projector
	AOI            *spatial.ProjectedAOI
	Mosaic         *source.Mosaic
	DEM            *raster.Grid
	Mask           []bool
	MaskCells      int
	Flow           *hydro.FlowGrid
	Acc            []int
	Slope          []float64
	Network        *hydro.Network
	ThresholdCells int
	Controller     *perf.Controller
	Perf           perf.Report
}

// Terrain runs the stages up to network extraction.
func (r *Runner) Terrain(ctx context.Context, req Request, progress ProgressFunc) (*Terrain, error) {
	return r.terrain(ctx, req, &reporter{fn: progress, total: terrainLastStage})
}

func (r *Runner) terrain(ctx context.Context, req Request, rep *reporter) (*Terrain, error) {
	p := req.Pipeline
	log := r.logger().With(zap.String("component", "pipeline"), zap.String("job_id", req.JobID))

	rep.report(StageValidate, "AOI wird geprüft...")
	if req.AOI == nil {
		return nil, apperr.E(apperr.InvalidGeometry, "AOI is required", nil)
	}
	if !(p.Resolution > 0) {
		return nil, apperr.Ef(apperr.InvalidRequest, "invalid resolution %g", p.Resolution)
	}
	proj, err := spatial.NewProjector(p.WorkCRS)
	if err != nil {
		return nil, apperr.E(apperr.InvalidRequest, "working CRS", err)
	}
	pa, err := proj.Project(req.AOI)
	if err != nil {
		return nil, apperr.E(apperr.InvalidGeometry, "AOI cannot be projected", err)
	}
	t := &Terrain{Pipeline: p, Projector: proj, AOI: pa, Controller: perf.New(p)}
	fetchRes := t.Controller.FetchResolution(pa.BBox, p.Resolution, &t.Perf)
	log.Info("analysis planned",
		zap.String("kind", p.Kind),
		zap.String("dem_source", p.SourceMode),
		zap.Int("estimated_cells", t.Perf.EstimatedCells),
		zap.Int("fetch_factor", t.Perf.FetchFactor),
		zap.Float64("fetch_resolution_m", fetchRes))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rep.report(StageMosaic, "Höhendaten werden geladen...")
	m, err := r.mosaic(ctx, pa.BBox, p.SourceMode, fetchRes)
	if err != nil {
		return nil, err
	}
	t.Mosaic = m
	t.Perf.CoverageRatio = math.Round(m.CoverageRatio*1000) / 1000
	t.Perf.MissingTiles = m.MissingTiles
	t.Perf.PartialCoverage = m.Partial()
	if m.Partial() {
		log.Warn("partial elevation coverage", zap.Int("missing_tiles", m.MissingTiles), zap.Float64("coverage", m.CoverageRatio))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rep.report(StagePrepare, "Arbeitsraster wird vorbereitet...")
	t.DEM = t.Controller.Prepare(m.Grid, &t.Perf)
	t.Mask = pa.Mask(t.DEM)
	for i := range t.Mask {
		t.Mask[i] = t.Mask[i] && t.DEM.Valid(i)
		if t.Mask[i] {
			t.MaskCells++
		}
	}
	if t.MaskCells == 0 {
		return nil, apperr.E(apperr.CoverageError, "no elevation data inside the AOI", nil)
	}
	if t.Perf.DownsampleApplied {
		log.Info("downsample applied",
			zap.Int("input_width", t.Perf.InputWidth), zap.Int("input_height", t.Perf.InputHeight),
			zap.Int("work_width", t.Perf.WorkWidth), zap.Int("work_height", t.Perf.WorkHeight))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rep.report(StageCondition, "Senken werden gefüllt, Fließrichtungen berechnet...")
	if t.Flow, err = hydro.Condition(t.DEM); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rep.report(StageAccumulate, "Fließakkumulation wird berechnet...")
	if t.Acc, err = hydro.Accumulate(t.Flow); err != nil {
		return nil, err
	}
	t.Slope = hydro.Slope(t.DEM)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rep.report(StageExtract, "Abflussbahnen werden extrahiert...")
	t.ThresholdCells = scaledThreshold(p.Threshold, t.Perf.ScaleFactor)
	t.Network = hydro.ExtractNetwork(t.Flow, t.Acc, t.ThresholdCells, t.DEM.Transform.CellSize, t.Slope)
	log.Debug("network extracted", zap.Int("segments", len(t.Network.Segments)), zap.Int("threshold_cells", t.ThresholdCells))
	return t, nil
}

// scaledThreshold keeps the contributing area of the threshold constant when
// the grid was downsampled.
func scaledThreshold(threshold, factor int) int {
	if factor <= 1 {
		return threshold
	}
	return int(math.Max(1, math.Round(float64(threshold)/float64(factor*factor))))
}

func (r *Runner) mosaic(ctx context.Context, b raster.BBox, mode string, res float64) (*source.Mosaic, error) {
	builder, ok := r.Builders[mode]
	if !ok || builder == nil {
		return nil, apperr.Ef(apperr.InvalidRequest, "DEM source %q is not configured", mode)
	}
	build := func(ctx context.Context) (*source.Mosaic, error) {
		return builder.Build(ctx, b, res)
	}
	if r.Cache == nil {
		return build(ctx)
	}
	return r.Cache.Get(ctx, source.Key(builder.Source.Name(), b, res), build)
}

// Run executes the full analysis of req.
func (r *Runner) Run(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	analyzer, err := GetAnalyzer(req.Pipeline.Kind)
	if err != nil {
		return nil, err
	}
	rep := &reporter{fn: progress, total: stageCount}
	t, err := r.terrain(ctx, req, rep)
	if err != nil {
		return nil, err
	}
	p := t.Pipeline
	log := r.logger().With(zap.String("component", "pipeline"), zap.String("job_id", req.JobID))
	model := analyzer.Model()
	cellArea := t.DEM.CellArea()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rep.report(StageScore, "Risiko wird bewertet...")
	bounds := t.DEM.Bounds()
	soil, err := scoring.ResolveLayer(ctx, r.Soil, bounds)
	if err != nil {
		return nil, fmt.Errorf("soil layer: %w", err)
	}
	imp, err := scoring.ResolveLayer(ctx, r.Impervious, bounds)
	if err != nil {
		return nil, fmt.Errorf("impervious layer: %w", err)
	}
	var warnings []string
	wc, err := resolveWeather(ctx, req.Weather)
	if err != nil {
		log.Warn("weather context unavailable, using baseline", zap.Error(err))
		warnings = append(warnings, "weather context unavailable, baseline rain factor used")
	}
	factors := scoring.BuildFactors(t.DEM, t.Acc, t.Slope, t.Mask, soil, imp)
	scores := model.ScoreGrid(factors, wc.RainNorm)
	for i, s := range scores {
		if t.Mask[i] && math.IsNaN(s) {
			return nil, apperr.Ef(apperr.ComputationError, "score is not a number at cell %d", i)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rep.report(StageHotspots, "Hotspots werden ermittelt...")
	hotspots, err := r.hotspots(t, analyzer, factors, scores, model.Weights)
	if err != nil {
		return nil, err
	}

	rep.report(StageScenarios, "Szenarien werden berechnet...")
	scenarios := []scoring.Scenario{}
	if analyzer.Scenarios() {
		scenarios = model.Scenarios(factors, t.Mask, wc.RainNorm, wc.ScenarioMMPerH)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rep.report(StageOutput, "Koordinaten werden transformiert...")
	features, lengthM, err := r.features(t, scores)
	if err != nil {
		return nil, err
	}

	mean, peak := scoring.ScoreSummary(scores, t.Mask)
	metrics := Metrics{
		FeatureCount:       t.Perf.FeatureCount,
		FeatureCountOutput: t.Perf.OutputCount,
		NetworkLengthKM:    math.Round(lengthM/1000*100) / 100,
		AOIAreaKM2:         math.Round(float64(t.MaskCells)*cellArea/1e6*1000) / 1000,
		AOIAreaGeodesicKM2: math.Round(req.AOI.AreaM2()/1e6*1000) / 1000,
		RiskScoreMean:      mean,
		RiskScoreMax:       peak,
		HotspotCount:       len(hotspots),
		Threshold:          p.Threshold,
		ThresholdCells:     t.ThresholdCells,
		CellSizeM:          t.DEM.Transform.CellSize,
		ModelVersion:       model.Version,
	}
	if analyzer.Ponding() {
		pondingMetrics(&metrics, t, cellArea)
	}

	if t.Perf.PartialCoverage {
		warnings = append(warnings, fmt.Sprintf("%s: %d of %d tiles missing", apperr.PartialCoverage, t.Perf.MissingTiles, t.Mosaic.Tiles))
	}
	if t.Perf.OutputTruncated {
		warnings = append(warnings, fmt.Sprintf("output truncated to %d of %d segments", t.Perf.OutputCount, t.Perf.FeatureCount))
	}

	res := &Result{
		Type:     "FeatureCollection",
		Features: features,
		Analysis: Summary{
			Kind:              analyzer.Name(),
			Metrics:           metrics,
			ClassDistribution: scoring.ClassDistribution(scores, t.Mask),
			Hotspots:          hotspots,
			Scenarios:         scenarios,
			Assumptions: Assumptions{
				Soil:           soil.Kind,
				Impervious:     imp.Kind,
				SoilPath:       soil.Path,
				ImperviousPath: imp.Path,
				RainProxy:      math.Round(wc.RainNorm*1000) / 1000,
				Weather:        wc,
				DEMSource:      t.Mosaic.Source,
				ResolutionM:    p.Resolution,
				WorkCRS:        p.WorkCRS,
				FlowModel:      "D8, priority-flood fill",
			},
			Performance: t.Perf,
			Warnings:    warnings,
		},
	}
	log.Info("analysis finished",
		zap.Int("features", metrics.FeatureCountOutput),
		zap.Int("hotspots", metrics.HotspotCount),
		zap.Int("risk_score_mean", mean))
	return res, nil
}

func resolveWeather(ctx context.Context, p weather.Provider) (weather.Context, error) {
	if p == nil {
		p = weather.Static{}
	}
	wc, err := p.Resolve(ctx)
	if err != nil {
		return weather.Baseline(), err
	}
	return wc.Normalize(), nil
}

func (r *Runner) hotspots(t *Terrain, a Analyzer, f *scoring.Factors, scores []float64, w scoring.Weights) ([]hotspot.Hotspot, error) {
	p := t.Pipeline
	cs := t.DEM.Transform.CellSize
	sel := &hotspot.Selector{
		Count:         p.HotspotCount,
		MinSeparation: p.HotspotSeparation(cs),
		ScoreFloor:    p.HotspotScoreFloor,
		Catalog:       r.Catalog,
	}
	out := sel.Select(hotspot.Input{
		Grid:    t.DEM,
		Scores:  scores,
		Acc:     t.Acc,
		Factors: f,
		Weights: w,
		Mask:    t.Mask,
	})
	if a.Ponding() {
		pond := &hotspot.Selector{
			Count:         p.PondingHotspotCount,
			MinSeparation: float64(p.PondingSeparationCells) * cs,
			Catalog:       r.Catalog,
		}
		out = append(out, pond.SelectPonding(t.DEM, t.Flow.Depth, t.Acc, t.Mask)...)
	}
	for k := range out {
		out[k].Rank = k + 1
		pos, err := t.Projector.Path([][2]float64{{out[k].X, out[k].Y}})
		if err != nil {
			return nil, fmt.Errorf("project hotspot: %w", err)
		}
		out[k].Lon, out[k].Lat = pos[0][0], pos[0][1]
	}
	if out == nil {
		out = []hotspot.Hotspot{}
	}
	return out, nil
}

type scoredSegment struct {
	seg   *hydro.Segment
	score float64
}

// features turns the network into WGS84 LineStrings. Segments without a
// vertex inside the AOI are dropped; the rest are truncated by score.
func (r *Runner) features(t *Terrain, scores []float64) ([]*geojson.Feature, float64, error) {
	var segs []scoredSegment
	var lengthM float64
	for _, s := range t.Network.Segments {
		verts := s.Vertices()
		if len(verts) < 2 || math.IsNaN(scores[s.MidCell]) || !anyMasked(verts, t.Mask) {
			continue
		}
		segs = append(segs, scoredSegment{seg: s, score: scores[s.MidCell]})
		lengthM += s.LengthM
	}
	kept := perf.Truncate(t.Controller, segs, func(s scoredSegment) float64 { return s.score }, &t.Perf)

	g := t.DEM
	cellArea := g.CellArea()
	features := make([]*geojson.Feature, 0, len(kept))
	for _, ss := range kept {
		s := ss.seg
		verts := s.Vertices()
		pts := make([][2]float64, len(verts))
		for k, i := range verts {
			x, y := g.Transform.CellCenter(g.RC(i))
			pts[k] = [2]float64{x, y}
		}
		coords, err := t.Projector.Path(t.Controller.ReduceLine(pts))
		if err != nil {
			return nil, 0, fmt.Errorf("project segment %d: %w", s.ID, err)
		}
		acc := s.AccCells
		area := float64(acc) * cellArea
		f := geojson.NewLineStringFeature(coords)
		f.SetProperty(PropSegmentID, s.ID)
		f.SetProperty(PropRiskScore, int(ss.score))
		f.SetProperty(PropRiskClass, scoring.Classify(ss.score))
		f.SetProperty(PropAccCells, acc)
		f.SetProperty(PropUpstreamAreaM2, int64(math.Round(area)))
		f.SetProperty(PropUpstreamAreaKM2, math.Round(area/1e6*1e6)/1e6)
		f.SetProperty(PropSlopeDeg, math.Round(s.SlopeDeg*10)/10)
		f.SetProperty(PropLengthM, math.Round(s.LengthM*10)/10)
		features = append(features, f)
	}
	return features, lengthM, nil
}

func anyMasked(cells []int, mask []bool) bool {
	for _, i := range cells {
		if mask[i] {
			return true
		}
	}
	return false
}

func pondingMetrics(m *Metrics, t *Terrain, cellArea float64) {
	var n int
	var sum, deepest float64
	for i, d := range t.Flow.Depth {
		if !t.Mask[i] || !(d > 0) {
			continue
		}
		n++
		sum += d
		deepest = math.Max(deepest, d)
	}
	area := math.Round(float64(n)*cellArea/1e6*1000) / 1000
	vol := int64(math.Round(sum * cellArea))
	depth := math.Round(deepest*1000) / 1000
	m.PondingAreaKM2, m.PondingVolumeM3, m.PondingMaxDepthM = &area, &vol, &depth
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}
