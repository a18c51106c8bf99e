package store

import (
	"time"

	"github.com/opatlas/opatlas/pkg/progress"
	"github.com/opatlas/opatlas/pkg/types"
)

// applyPlaybookPatch merges patch into pb. Fields absent from the patch
// keep their prior value. Shared by both store backends so merge semantics
// cannot drift between them.
func applyPlaybookPatch(pb *types.Playbook, patch PlaybookPatch) {
	if patch.Title != nil {
		pb.Title = *patch.Title
	}
	if patch.Description != nil {
		pb.Description = *patch.Description
	}
	if patch.ContentMD != nil {
		pb.ContentMD = *patch.ContentMD
	}
	if patch.Tags != nil {
		pb.Tags = append([]string{}, patch.Tags...)
	}
	if patch.Triggers != nil {
		pb.Triggers = append([]string{}, patch.Triggers...)
	}
	if patch.RelatedPlaybooks != nil {
		pb.RelatedPlaybooks = append([]string{}, patch.RelatedPlaybooks...)
	}
}

// applyRunPatch merges patch into run. The completion transition is part
// of the merge so that it happens inside the backend's critical section.
func applyRunPatch(run *types.PlaybookRun, patch RunPatch, now time.Time) {
	if patch.CheckedSteps != nil {
		run.CheckedSteps = append([]string{}, patch.CheckedSteps...)
	}

	if patch.StepNotes != nil {
		if run.StepNotes == nil {
			run.StepNotes = map[string]string{}
		}
		for stepID, note := range patch.StepNotes {
			run.StepNotes[stepID] = note
		}
	}

	if patch.Notes != nil {
		run.Notes = *patch.Notes
	}

	if patch.Progress != nil {
		run.Progress = *patch.Progress
	}

	switch {
	case patch.ClearAssignedTo:
		run.AssignedTo = nil
	case patch.AssignedTo != nil:
		assignee := *patch.AssignedTo
		run.AssignedTo = &assignee
	}

	if patch.Comment != nil {
		comment := *patch.Comment
		if comment.CreatedAt.IsZero() {
			comment.CreatedAt = now
		}
		run.Comments = append(run.Comments, comment)
	}

	// Status last: completing forces progress to 100 even when the same
	// patch carried an explicit progress value.
	if patch.Status != nil {
		if *patch.Status == types.RunStatusCompleted {
			progress.CompleteRun(run, now)
		} else {
			run.Status = *patch.Status
		}
	}
}

// clonePlaybook deep-copies a playbook so store internals never leak.
func clonePlaybook(pb *types.Playbook) *types.Playbook {
	clone := *pb
	clone.Tags = append([]string{}, pb.Tags...)
	clone.Triggers = append([]string{}, pb.Triggers...)
	clone.RelatedPlaybooks = append([]string{}, pb.RelatedPlaybooks...)

	return &clone
}

// cloneRun deep-copies a run.
func cloneRun(run *types.PlaybookRun) *types.PlaybookRun {
	clone := *run
	clone.CheckedSteps = append([]string{}, run.CheckedSteps...)
	clone.Comments = append([]types.Comment{}, run.Comments...)

	clone.StepNotes = make(map[string]string, len(run.StepNotes))
	for stepID, note := range run.StepNotes {
		clone.StepNotes[stepID] = note
	}

	if run.CompletedAt != nil {
		completedAt := *run.CompletedAt
		clone.CompletedAt = &completedAt
	}
	if run.Duration != nil {
		duration := *run.Duration
		clone.Duration = &duration
	}
	if run.AssignedTo != nil {
		assignee := *run.AssignedTo
		clone.AssignedTo = &assignee
	}

	return &clone
}
