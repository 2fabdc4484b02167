package analysis

import (
	geojson "github.com/paulmach/go.geojson"

	"github.com/hydrowatch/hydrorisk-backend/internal/hotspot"
	"github.com/hydrowatch/hydrorisk-backend/internal/perf"
	"github.com/hydrowatch/hydrorisk-backend/internal/scoring"
	"github.com/hydrowatch/hydrorisk-backend/internal/weather"
)

// Result is the output of one analysis: a FeatureCollection of risk segments
// in WGS84 with the analysis summary attached.
type Result struct {
	Type     string             `json:"type"`
	Features []*geojson.Feature `json:"features"`
	Analysis Summary            `json:"analysis"`
}

// FeatureCollection returns the segments without the summary.
func (r *Result) FeatureCollection() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = r.Features
	return fc
}

// Summary is the analysis object of a result.
type Summary struct {
	Kind              string             `json:"kind"`
	Metrics           Metrics            `json:"metrics"`
	ClassDistribution map[string]int     `json:"class_distribution"`
	Hotspots          []hotspot.Hotspot  `json:"hotspots"`
	Scenarios         []scoring.Scenario `json:"scenarios"`
	Assumptions       Assumptions        `json:"assumptions"`
	Performance       perf.Report        `json:"performance"`
	Warnings          []string           `json:"warnings,omitempty"`
}

// Metrics are the AOI-level figures of a result.
type Metrics struct {
	FeatureCount       int     `json:"feature_count"`
	FeatureCountOutput int     `json:"feature_count_output"`
	NetworkLengthKM    float64 `json:"network_length_km"`
	AOIAreaKM2         float64 `json:"aoi_area_km2"`
	AOIAreaGeodesicKM2 float64 `json:"aoi_area_geodesic_km2"`
	RiskScoreMean      int     `json:"risk_score_mean"`
	RiskScoreMax       int     `json:"risk_score_max"`
	HotspotCount       int     `json:"hotspot_count"`
	Threshold          int     `json:"threshold"`
	ThresholdCells     int     `json:"threshold_cells"`
	CellSizeM          float64 `json:"cell_size_m"`
	ModelVersion       string  `json:"model_version"`

	PondingAreaKM2   *float64 `json:"ponding_area_km2,omitempty"`
	PondingVolumeM3  *int64   `json:"ponding_volume_m3,omitempty"`
	PondingMaxDepthM *float64 `json:"ponding_max_depth_m,omitempty"`
}

// Assumptions record where each input came from.
type Assumptions struct {
	Soil           scoring.LayerKind `json:"soil"`
	Impervious     scoring.LayerKind `json:"impervious"`
	SoilPath       string            `json:"soil_path,omitempty"`
	ImperviousPath string            `json:"impervious_path,omitempty"`
	RainProxy      float64           `json:"rain_proxy"`
	Weather        weather.Context   `json:"weather"`
	DEMSource      string            `json:"dem_source"`
	ResolutionM    float64           `json:"resolution_m"`
	WorkCRS        string            `json:"work_crs"`
	FlowModel      string            `json:"flow_model"`
}

// Segment property names.
const (
	PropRiskScore       = "risk_score"
	PropRiskClass       = "risk_class"
	PropUpstreamAreaM2  = "upstream_area_m2"
	PropUpstreamAreaKM2 = "upstream_area_km2"
	PropAccCells        = "acc_cells"
	PropSlopeDeg        = "slope_deg"
	PropLengthM         = "length_m"
	PropSegmentID       = "segment_id"
)
