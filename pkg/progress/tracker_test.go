package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opatlas/opatlas/pkg/types"
)

func checkbox(id string) types.ChecklistItem {
	return types.ChecklistItem{ID: id, Kind: types.ChecklistCheckbox}
}

func heading(id string) types.ChecklistItem {
	return types.ChecklistItem{ID: id, Kind: types.ChecklistHeading}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name    string
		items   []types.ChecklistItem
		checked []string
		want    int
	}{
		{
			name: "no items",
			want: 0,
		},
		{
			name:  "headings only",
			items: []types.ChecklistItem{heading("h-0"), heading("h-1")},
			want:  0,
		},
		{
			name:    "none checked",
			items:   []types.ChecklistItem{checkbox("step-0"), checkbox("step-1")},
			checked: nil,
			want:    0,
		},
		{
			name:    "all checked",
			items:   []types.ChecklistItem{checkbox("step-0"), checkbox("step-1")},
			checked: []string{"step-0", "step-1"},
			want:    100,
		},
		{
			name:    "one of three rounds to 33",
			items:   []types.ChecklistItem{checkbox("step-0"), checkbox("step-1"), checkbox("step-2")},
			checked: []string{"step-0"},
			want:    33,
		},
		{
			name:    "two of three rounds to 67",
			items:   []types.ChecklistItem{checkbox("step-0"), checkbox("step-1"), checkbox("step-2")},
			checked: []string{"step-0", "step-1"},
			want:    67,
		},
		{
			name:    "headings excluded from the denominator",
			items:   []types.ChecklistItem{heading("h-0"), checkbox("step-1"), checkbox("step-2")},
			checked: []string{"step-1"},
			want:    50,
		},
		{
			name:    "stale checked ids ignored",
			items:   []types.ChecklistItem{checkbox("step-0"), checkbox("step-1")},
			checked: []string{"step-0", "step-9"},
			want:    50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Compute(tt.items, tt.checked))
		})
	}
}

func TestCompleteRun(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(45 * time.Minute)

	run := types.PlaybookRun{
		Status:    types.RunStatusInProgress,
		StartedAt: started,
		Progress:  60,
	}

	CompleteRun(&run, completed)

	require.Equal(t, types.RunStatusCompleted, run.Status)
	require.Equal(t, 100, run.Progress)
	require.NotNil(t, run.CompletedAt)
	require.Equal(t, completed, *run.CompletedAt)
	require.NotNil(t, run.Duration)
	require.Equal(t, (45 * time.Minute).Milliseconds(), *run.Duration)
}

func TestCompleteRunIdempotent(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	run := types.PlaybookRun{
		Status:    types.RunStatusInProgress,
		StartedAt: started,
	}

	CompleteRun(&run, started.Add(10*time.Minute))

	firstCompletedAt := *run.CompletedAt
	firstDuration := *run.Duration

	// Completing again later must not move the completion timestamp or
	// recompute the duration.
	CompleteRun(&run, started.Add(2*time.Hour))

	require.Equal(t, firstCompletedAt, *run.CompletedAt)
	require.Equal(t, firstDuration, *run.Duration)
	require.Equal(t, types.RunStatusCompleted, run.Status)
	require.Equal(t, 100, run.Progress)
}

func TestCompleteRunClampsNegativeDuration(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	run := types.PlaybookRun{
		Status:    types.RunStatusInProgress,
		StartedAt: started,
	}

	// Clock skew: completion time before the start time.
	CompleteRun(&run, started.Add(-time.Minute))

	require.NotNil(t, run.Duration)
	require.Equal(t, int64(0), *run.Duration)
}

func TestSummarize(t *testing.T) {
	durationOf := func(d time.Duration) *int64 {
		ms := d.Milliseconds()
		return &ms
	}

	t.Run("empty", func(t *testing.T) {
		s := Summarize(nil)
		require.Equal(t, 0, s.TotalRuns)
		require.Equal(t, float64(0), s.CompletionRate)
		require.Nil(t, s.AvgDuration)
	})

	t.Run("mixed", func(t *testing.T) {
		runs := []types.PlaybookRun{
			{Status: types.RunStatusInProgress},
			{Status: types.RunStatusCompleted, Duration: durationOf(10 * time.Minute)},
			{Status: types.RunStatusCompleted, Duration: durationOf(20 * time.Minute)},
			{Status: types.RunStatusCompleted},
		}

		s := Summarize(runs)
		require.Equal(t, 4, s.TotalRuns)
		require.Equal(t, 1, s.ActiveRuns)
		require.Equal(t, 3, s.CompletedRuns)
		require.Equal(t, float64(75), s.CompletionRate)
		require.NotNil(t, s.AvgDuration)
		require.Equal(t, float64((15*time.Minute).Milliseconds()), *s.AvgDuration)
	})
}
