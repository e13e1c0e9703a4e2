package valueobject

import "fmt"

// ProcessingStage is one of the weighted steps of the pipeline.
type ProcessingStage string

// Pipeline stages in execution order.
const (
	StageDownload ProcessingStage = "download"
	StageParse    ProcessingStage = "parse"
	StageChunk    ProcessingStage = "chunk"
	StageEmbed    ProcessingStage = "embed"
)

type stageWeight struct {
	offset float64
	weight float64
}

// Weights sum to 100; offsets are the cumulative weight of earlier stages.
var stageWeights = map[ProcessingStage]stageWeight{
	StageDownload: {offset: 0, weight: 5},
	StageParse:    {offset: 5, weight: 55},
	StageChunk:    {offset: 60, weight: 10},
	StageEmbed:    {offset: 70, weight: 30},
}

// NewProcessingStage creates a new ProcessingStage with validation.
func NewProcessingStage(stage string) (ProcessingStage, error) {
	s := ProcessingStage(stage)
	if _, ok := stageWeights[s]; !ok {
		return "", fmt.Errorf("invalid processing stage: %s", stage)
	}
	return s, nil
}

// String returns the string representation of the stage.
func (s ProcessingStage) String() string {
	return string(s)
}

// Weight returns the share of overall progress this stage accounts for.
func (s ProcessingStage) Weight() float64 {
	return stageWeights[s].weight
}

// Offset returns the overall progress reached when this stage begins.
func (s ProcessingStage) Offset() float64 {
	return stageWeights[s].offset
}

// TotalPercent maps a percentage within the stage onto overall progress.
// stagePercent is clamped to [0, 100].
func (s ProcessingStage) TotalPercent(stagePercent float64) float64 {
	w, ok := stageWeights[s]
	if !ok {
		return 0
	}
	if stagePercent < 0 {
		stagePercent = 0
	}
	if stagePercent > 100 {
		stagePercent = 100
	}
	return w.offset + stagePercent/100*w.weight
}

// AllStages returns the stages in execution order.
func AllStages() []ProcessingStage {
	return []ProcessingStage{StageDownload, StageParse, StageChunk, StageEmbed}
}
