package valueobject

import "time"

// ProgressPayload is the structured progress snapshot persisted on a job.
type ProgressPayload struct {
	Stage        ProcessingStage `json:"stage"`
	StagePercent float64         `json:"stage_percent"`
	TotalPercent float64         `json:"total_percent"`
	ETASeconds   *int            `json:"eta_seconds"`
	Message      string          `json:"message,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Percent returns TotalPercent truncated and clamped to 0..100.
func (p ProgressPayload) Percent() int {
	switch {
	case p.TotalPercent < 0:
		return 0
	case p.TotalPercent > 100:
		return 100
	default:
		return int(p.TotalPercent)
	}
}
