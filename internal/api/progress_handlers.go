package api

import (
	"math"
	"net/http"
	"time"

	"github.com/JakeFAU/dossier-crawler/internal/progress"
)

type progressDTO struct {
	Total                  int       `json:"total"`
	Processed              int       `json:"processed"`
	Successful             int       `json:"successful"`
	Failed                 int       `json:"failed"`
	Remaining              int       `json:"remaining"`
	CurrentItem            string    `json:"current_item,omitempty"`
	StartedAt              time.Time `json:"started_at"`
	ElapsedSeconds         float64   `json:"elapsed_seconds"`
	ItemsPerSecond         float64   `json:"items_per_second"`
	EstimatedRemainingSecs float64   `json:"estimated_remaining_seconds"`
	CompletionPercent      float64   `json:"completion_percent"`
	SuccessRate            float64   `json:"success_rate"`
}

// getProgress handles GET /v1/progress. It returns {"progress": {...}} or 503
// when no tracker is attached.
func (s *Server) getProgress(w http.ResponseWriter, _ *http.Request) {
	if s.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "tracker not attached")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"progress": toProgressDTO(s.progress.Stats())})
}

func toProgressDTO(snap progress.Snapshot) progressDTO {
	remaining := snap.Total - snap.Processed
	if remaining < 0 {
		remaining = 0
	}
	return progressDTO{
		Total:                  snap.Total,
		Processed:              snap.Processed,
		Successful:             snap.Successful,
		Failed:                 snap.Failed,
		Remaining:              remaining,
		CurrentItem:            snap.CurrentItem,
		StartedAt:              snap.StartedAt.UTC(),
		ElapsedSeconds:         round2(snap.Elapsed.Seconds()),
		ItemsPerSecond:         round2(snap.ItemsPerSecond),
		EstimatedRemainingSecs: round2(snap.EstimatedRemaining.Seconds()),
		CompletionPercent:      round2(snap.CompletionPercent),
		SuccessRate:            round2(snap.SuccessRate),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
