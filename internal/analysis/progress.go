package analysis

import "math"

// Pipeline stages in execution order.
const (
	StageValidate    = "validate"
	StageMosaic      = "mosaic"
	StagePrepare     = "prepare"
	StageCondition   = "condition"
	StageAccumulate  = "accumulate"
	StageExtract     = "extract"
	StageScore       = "score"
	StageHotspots    = "hotspots"
	StageScenarios   = "scenarios"
	StageOutput      = "output"
	stageCount       = 10
	terrainLastStage = 6
)

// Progress represents one step of a running analysis
type Progress struct {
	Stage   string `json:"stage"`
	Step    int    `json:"step"`
	Total   int    `json:"total"`
	Message string `json:"message"`
}

// Percent is the completed share of the run in whole percent.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 0
	}
	return int(math.Round(float64(p.Step) / float64(p.Total) * 100))
}

// ProgressFunc receives progress events. It is called synchronously from
// the pipeline goroutine.
type ProgressFunc func(Progress)

type reporter struct {
	fn    ProgressFunc
	step  int
	total int
}

func (r *reporter) report(stage, msg string) {
	r.step++
	if r.fn != nil {
		r.fn(Progress{Stage: stage, Step: r.step, Total: r.total, Message: msg})
	}
}
