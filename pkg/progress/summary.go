package progress

import "github.com/opatlas/opatlas/pkg/types"

// Summary aggregates run outcomes for a workspace.
type Summary struct {
	TotalRuns     int `json:"totalRuns"`
	ActiveRuns    int `json:"activeRuns"`
	CompletedRuns int `json:"completedRuns"`

	// CompletionRate is a 0-100 percentage of runs that completed.
	CompletionRate float64 `json:"completionRate"`

	// AvgDuration is the mean duration in milliseconds across completed
	// runs that recorded one. Nil when no run has a duration.
	AvgDuration *float64 `json:"avgDuration"`
}

// Summarize computes run metrics over a set of runs.
func Summarize(runs []types.PlaybookRun) Summary {
	s := Summary{TotalRuns: len(runs)}

	var durationSum int64
	var durationCount int

	for _, run := range runs {
		switch run.Status {
		case types.RunStatusInProgress:
			s.ActiveRuns++
		case types.RunStatusCompleted:
			s.CompletedRuns++
		}

		if run.Duration != nil {
			durationSum += *run.Duration
			durationCount++
		}
	}

	if s.TotalRuns > 0 {
		s.CompletionRate = 100 * float64(s.CompletedRuns) / float64(s.TotalRuns)
	}

	if durationCount > 0 {
		avg := float64(durationSum) / float64(durationCount)
		s.AvgDuration = &avg
	}

	return s
}
