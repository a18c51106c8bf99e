package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opatlas/opatlas/pkg/types"
)

// testClock is a controllable clock shared by the backend tests.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func strPtr(s string) *string { return &s }

func intPtr(n int) *int { return &n }

func statusPtr(s types.RunStatus) *types.RunStatus { return &s }

func validPlaybook() types.Playbook {
	return types.Playbook{
		WorkspaceID: "1",
		Title:       "Incident Response",
		Description: "What to do when things break",
		ContentMD:   "# Steps\n- [ ] Page on-call",
		Tags:        []string{"engineering"},
		Triggers:    []string{"outage"},
		Author:      types.Author{ID: "1", Name: "Demo User", Email: "demo@opatlas.com"},
	}
}

func validRun(playbookID string) types.PlaybookRun {
	return types.PlaybookRun{
		WorkspaceID:   "1",
		PlaybookID:    playbookID,
		PlaybookTitle: "Incident Response",
		StartedBy:     types.UserRef{ID: "1", Name: "Demo User"},
	}
}

// openFunc opens a fresh store for one scenario. The store reads its clock
// from the given function.
type openFunc func(t *testing.T, clock func() time.Time) Store

// runStoreTests runs the backend-independent contract tests. Both backends
// must behave identically for everything covered here.
func runStoreTests(t *testing.T, open openFunc) {
	ctx := context.Background()

	t.Run("playbook create validation", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		tests := []struct {
			name      string
			mutate    func(*types.Playbook)
			wantField string
		}{
			{"missing workspace", func(pb *types.Playbook) { pb.WorkspaceID = "" }, "workspaceId"},
			{"missing title", func(pb *types.Playbook) { pb.Title = "" }, "title"},
			{"missing content", func(pb *types.Playbook) { pb.ContentMD = "" }, "contentMd"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				pb := validPlaybook()
				tt.mutate(&pb)

				_, err := st.CreatePlaybook(ctx, pb)
				require.Error(t, err)
				require.True(t, IsValidation(err))
				require.EqualError(t, err, tt.wantField+" is required")
			})
		}
	})

	t.Run("playbook crud", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		created, err := st.CreatePlaybook(ctx, validPlaybook())
		require.NoError(t, err)
		require.NotEmpty(t, created.ID)
		require.Equal(t, 0, created.UsageCount)
		require.False(t, created.CreatedAt.IsZero())
		require.True(t, created.CreatedAt.Equal(created.UpdatedAt))

		got, err := st.GetPlaybook(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.Title, got.Title)
		assert.Equal(t, created.Tags, got.Tags)

		_, err = st.GetPlaybook(ctx, "999")
		require.ErrorIs(t, err, ErrNotFound)

		clock.Advance(time.Minute)

		updated, err := st.UpdatePlaybook(ctx, created.ID, PlaybookPatch{
			Title: strPtr("Incident Response v2"),
			Tags:  []string{"engineering", "oncall"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Incident Response v2", updated.Title)
		assert.Equal(t, []string{"engineering", "oncall"}, updated.Tags)
		// Fields absent from the patch keep their prior value.
		assert.Equal(t, created.Description, updated.Description)
		assert.Equal(t, created.ContentMD, updated.ContentMD)
		assert.Equal(t, created.Triggers, updated.Triggers)
		assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

		_, err = st.UpdatePlaybook(ctx, "999", PlaybookPatch{Title: strPtr("x")})
		require.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, st.DeletePlaybook(ctx, created.ID))
		require.ErrorIs(t, st.DeletePlaybook(ctx, created.ID), ErrNotFound)

		_, err = st.GetPlaybook(ctx, created.ID)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("playbook list scoped to workspace in insertion order", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		first := validPlaybook()
		first.Title = "First"
		second := validPlaybook()
		second.Title = "Second"
		other := validPlaybook()
		other.WorkspaceID = "2"
		other.Title = "Other workspace"

		for _, pb := range []types.Playbook{first, second, other} {
			_, err := st.CreatePlaybook(ctx, pb)
			require.NoError(t, err)
		}

		listed, err := st.ListPlaybooks(ctx, "1")
		require.NoError(t, err)
		require.Len(t, listed, 2)
		assert.Equal(t, "First", listed[0].Title)
		assert.Equal(t, "Second", listed[1].Title)

		empty, err := st.ListPlaybooks(ctx, "none")
		require.NoError(t, err)
		require.Empty(t, empty)
	})

	t.Run("playbook usage counter", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		created, err := st.CreatePlaybook(ctx, validPlaybook())
		require.NoError(t, err)

		require.NoError(t, st.IncrementPlaybookUsage(ctx, created.ID))
		require.NoError(t, st.IncrementPlaybookUsage(ctx, created.ID))
		require.ErrorIs(t, st.IncrementPlaybookUsage(ctx, "999"), ErrNotFound)

		got, err := st.GetPlaybook(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.UsageCount)
	})

	t.Run("run create validation", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		tests := []struct {
			name      string
			mutate    func(*types.PlaybookRun)
			wantField string
		}{
			{"missing workspace", func(r *types.PlaybookRun) { r.WorkspaceID = "" }, "workspaceId"},
			{"missing playbook id", func(r *types.PlaybookRun) { r.PlaybookID = "" }, "playbookId"},
			{"missing playbook title", func(r *types.PlaybookRun) { r.PlaybookTitle = "" }, "playbookTitle"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				run := validRun("1")
				tt.mutate(&run)

				_, err := st.CreateRun(ctx, run)
				require.Error(t, err)
				require.True(t, IsValidation(err))
				require.EqualError(t, err, tt.wantField+" is required")
			})
		}
	})

	t.Run("run create resets lifecycle fields", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		completedAt := clock.Now()
		run := validRun("1")
		run.Status = types.RunStatusCompleted
		run.CompletedAt = &completedAt
		run.Progress = 80

		created, err := st.CreateRun(ctx, run)
		require.NoError(t, err)
		assert.Equal(t, types.RunStatusInProgress, created.Status)
		assert.Nil(t, created.CompletedAt)
		assert.Nil(t, created.Duration)
		assert.Equal(t, 0, created.Progress)
		assert.True(t, created.StartedAt.Equal(clock.Now()))
		assert.NotNil(t, created.CheckedSteps)
		assert.NotNil(t, created.StepNotes)
		assert.NotNil(t, created.Comments)
	})

	t.Run("run patch merges fields", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		created, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		_, err = st.UpdateRun(ctx, created.ID, RunPatch{Notes: strPtr("halfway there")})
		require.NoError(t, err)

		// A checked-steps-only patch must not clobber notes.
		updated, err := st.UpdateRun(ctx, created.ID, RunPatch{
			CheckedSteps: []string{"step-1", "step-2"},
			Progress:     intPtr(50),
		})
		require.NoError(t, err)
		assert.Equal(t, "halfway there", updated.Notes)
		assert.Equal(t, []string{"step-1", "step-2"}, updated.CheckedSteps)
		assert.Equal(t, 50, updated.Progress)
	})

	t.Run("run step notes merge additively", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		created, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		_, err = st.UpdateRun(ctx, created.ID, RunPatch{
			StepNotes: map[string]string{"step-1": "first note"},
		})
		require.NoError(t, err)

		updated, err := st.UpdateRun(ctx, created.ID, RunPatch{
			StepNotes: map[string]string{"step-2": "second note", "step-1": "revised"},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"step-1": "revised",
			"step-2": "second note",
		}, updated.StepNotes)
	})

	t.Run("run comments append", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		created, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		_, err = st.UpdateRun(ctx, created.ID, RunPatch{
			Comment: &types.Comment{ID: "comment-a", AuthorID: "1", AuthorName: "Demo User", Text: "first"},
		})
		require.NoError(t, err)

		updated, err := st.UpdateRun(ctx, created.ID, RunPatch{
			Comment: &types.Comment{ID: "comment-b", AuthorID: "1", AuthorName: "Demo User", Text: "second", StepID: "step-1"},
		})
		require.NoError(t, err)
		require.Len(t, updated.Comments, 2)
		assert.Equal(t, "first", updated.Comments[0].Text)
		assert.Equal(t, "second", updated.Comments[1].Text)
		assert.Equal(t, "step-1", updated.Comments[1].StepID)
		// The store stamps CreatedAt when the caller leaves it zero.
		assert.False(t, updated.Comments[0].CreatedAt.IsZero())
	})

	t.Run("run assignee set and clear", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		created, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		updated, err := st.UpdateRun(ctx, created.ID, RunPatch{
			AssignedTo: &types.UserRef{ID: "2", Name: "Sam"},
		})
		require.NoError(t, err)
		require.NotNil(t, updated.AssignedTo)
		assert.Equal(t, "Sam", updated.AssignedTo.Name)

		// A patch with no assignee field leaves the assignee alone.
		updated, err = st.UpdateRun(ctx, created.ID, RunPatch{Notes: strPtr("still assigned")})
		require.NoError(t, err)
		require.NotNil(t, updated.AssignedTo)

		updated, err = st.UpdateRun(ctx, created.ID, RunPatch{ClearAssignedTo: true})
		require.NoError(t, err)
		assert.Nil(t, updated.AssignedTo)
	})

	t.Run("run completion is idempotent", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		created, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		clock.Advance(30 * time.Minute)

		completed, err := st.UpdateRun(ctx, created.ID, RunPatch{
			Status: statusPtr(types.RunStatusCompleted),
		})
		require.NoError(t, err)
		require.NotNil(t, completed.CompletedAt)
		require.NotNil(t, completed.Duration)
		assert.Equal(t, (30 * time.Minute).Milliseconds(), *completed.Duration)
		assert.Equal(t, 100, completed.Progress)

		firstCompletedAt := *completed.CompletedAt

		clock.Advance(2 * time.Hour)

		again, err := st.UpdateRun(ctx, created.ID, RunPatch{
			Status: statusPtr(types.RunStatusCompleted),
		})
		require.NoError(t, err)
		assert.True(t, again.CompletedAt.Equal(firstCompletedAt))
		assert.Equal(t, *completed.Duration, *again.Duration)
	})

	t.Run("completion overrides explicit progress in the same patch", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		created, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		updated, err := st.UpdateRun(ctx, created.ID, RunPatch{
			Status:   statusPtr(types.RunStatusCompleted),
			Progress: intPtr(60),
		})
		require.NoError(t, err)
		assert.Equal(t, 100, updated.Progress)
	})

	t.Run("run abandonment does not record completion", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		created, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		updated, err := st.UpdateRun(ctx, created.ID, RunPatch{
			Status: statusPtr(types.RunStatusAbandoned),
		})
		require.NoError(t, err)
		assert.Equal(t, types.RunStatusAbandoned, updated.Status)
		assert.Nil(t, updated.CompletedAt)
		assert.Nil(t, updated.Duration)
	})

	t.Run("run update of missing id leaves store unchanged", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		created, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		_, err = st.UpdateRun(ctx, "999", RunPatch{Notes: strPtr("lost")})
		require.ErrorIs(t, err, ErrNotFound)

		got, err := st.GetRun(ctx, created.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Notes)
	})

	t.Run("run list ordering and filters", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		first, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		clock.Advance(time.Hour)

		second, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		otherWorkspace := validRun("1")
		otherWorkspace.WorkspaceID = "2"
		_, err = st.CreateRun(ctx, otherWorkspace)
		require.NoError(t, err)

		_, err = st.UpdateRun(ctx, first.ID, RunPatch{Status: statusPtr(types.RunStatusCompleted)})
		require.NoError(t, err)

		all, err := st.ListRuns(ctx, "1", FilterAll)
		require.NoError(t, err)
		require.Len(t, all, 2)
		// Most recent first.
		assert.Equal(t, second.ID, all[0].ID)
		assert.Equal(t, first.ID, all[1].ID)

		active, err := st.ListRuns(ctx, "1", FilterActive)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, second.ID, active[0].ID)

		completed, err := st.ListRuns(ctx, "1", FilterCompleted)
		require.NoError(t, err)
		require.Len(t, completed, 1)
		assert.Equal(t, first.ID, completed[0].ID)
	})

	t.Run("run list ordering with sub-second gaps", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		// Start times like 12:00:00.5 and 12:00:00.55 must still come
		// back newest first.
		clock.Advance(500 * time.Millisecond)
		older, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		clock.Advance(50 * time.Millisecond)
		newer, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		runs, err := st.ListRuns(ctx, "1", FilterAll)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, newer.ID, runs[0].ID)
		assert.Equal(t, older.ID, runs[1].ID)
		assert.True(t, runs[0].StartedAt.After(runs[1].StartedAt))
	})

	t.Run("run list tie-break on equal start times", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		// Eleven runs at the same instant, so the later id wins the
		// tie even once ids reach two digits.
		ids := make([]string, 0, 11)
		for i := 0; i < 11; i++ {
			created, err := st.CreateRun(ctx, validRun("1"))
			require.NoError(t, err)
			ids = append(ids, created.ID)
		}

		runs, err := st.ListRuns(ctx, "1", FilterAll)
		require.NoError(t, err)
		require.Len(t, runs, 11)
		for i, run := range runs {
			assert.Equal(t, ids[len(ids)-1-i], run.ID)
		}
	})

	t.Run("run delete", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		created, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		require.NoError(t, st.DeleteRun(ctx, created.ID))
		require.ErrorIs(t, st.DeleteRun(ctx, created.ID), ErrNotFound)

		_, err = st.GetRun(ctx, created.ID)
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("concurrent patches compose", func(t *testing.T) {
		clock := newTestClock()
		st := open(t, clock.Now)

		created, err := st.CreateRun(ctx, validRun("1"))
		require.NoError(t, err)

		const workers = 16

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()

				stepID := fmt.Sprintf("step-%d", n)
				_, err := st.UpdateRun(ctx, created.ID, RunPatch{
					StepNotes: map[string]string{stepID: "done"},
					Comment:   &types.Comment{ID: fmt.Sprintf("comment-%d", n), Text: "note"},
				})
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := st.GetRun(ctx, created.ID)
		require.NoError(t, err)
		assert.Len(t, got.StepNotes, workers)
		assert.Len(t, got.Comments, workers)
	})
}
