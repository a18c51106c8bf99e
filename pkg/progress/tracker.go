// Package progress computes run completion percentages and handles the
// completion transition of a run.
package progress

import (
	"math"
	"time"

	"github.com/opatlas/opatlas/pkg/types"
)

// Compute returns the completion percentage for a checklist given the set
// of checked step ids: round(100 * checked / total) over checkbox items
// only. A checklist with no checkbox items is 0% complete.
func Compute(items []types.ChecklistItem, checkedSteps []string) int {
	checked := make(map[string]struct{}, len(checkedSteps))
	for _, id := range checkedSteps {
		checked[id] = struct{}{}
	}

	total := 0
	done := 0

	for _, item := range items {
		if item.Kind != types.ChecklistCheckbox {
			continue
		}

		total++
		if _, ok := checked[item.ID]; ok {
			done++
		}
	}

	if total == 0 {
		return 0
	}

	return int(math.Round(100 * float64(done) / float64(total)))
}

// CompleteRun transitions run into the completed state. Status and
// Progress are always set; CompletedAt and Duration are set exactly once,
// on the first completion, and never recomputed afterwards. Duration is
// clamped to zero if clock skew would make it negative.
func CompleteRun(run *types.PlaybookRun, now time.Time) {
	run.Status = types.RunStatusCompleted
	run.Progress = 100

	if run.CompletedAt != nil {
		return
	}

	completedAt := now
	run.CompletedAt = &completedAt

	duration := completedAt.Sub(run.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	run.Duration = &duration
}
