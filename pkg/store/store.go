// Package store holds playbook and run records and provides the CRUD
// surface the API layer is built on. Two backends implement the same
// contract: an in-memory store for tests and demo deployments, and a
// SQLite-backed store for anything that needs to survive a restart.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/opatlas/opatlas/pkg/types"
)

// ErrNotFound is returned when an operation references a record id that is
// not in the store. Deletes do not silently no-op; they return this too.
var ErrNotFound = errors.New("record not found")

// ValidationError reports a missing or empty required field on create.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StatusFilter narrows a run listing by lifecycle state.
type StatusFilter string

const (
	// FilterAll returns runs in every state.
	FilterAll StatusFilter = ""
	// FilterActive returns only in-progress runs.
	FilterActive StatusFilter = "active"
	// FilterCompleted returns only completed runs.
	FilterCompleted StatusFilter = "completed"
)

// PlaybookPatch is a partial update to a playbook. Nil fields mean
// "no change"; they never clear the prior value. Slice fields replace the
// prior value wholesale when non-nil.
type PlaybookPatch struct {
	Title            *string
	Description      *string
	ContentMD        *string
	Tags             []string
	Triggers         []string
	RelatedPlaybooks []string
}

// RunPatch is a partial update to a run. Nil fields mean "no change".
//
// StepNotes is merged additively into the run's existing notes map.
// Comment, when non-nil, is appended to the run's comment sequence.
// AssignedTo sets the assignee; ClearAssignedTo removes it (the two are
// separate because JSON null and an absent field both decode to nil).
type RunPatch struct {
	Status          *types.RunStatus
	CheckedSteps    []string
	StepNotes       map[string]string
	Notes           *string
	Progress        *int
	AssignedTo      *types.UserRef
	ClearAssignedTo bool
	Comment         *types.Comment
}

// Store is the single mutable shared resource of the service. Every
// read-modify-write cycle on a record is serialized inside the store, so
// concurrent patches to the same run compose instead of clobbering each
// other. Returned records are copies; mutating them does not affect the
// store.
type Store interface {
	// CreatePlaybook assigns the next id, stamps timestamps, and inserts.
	// WorkspaceID, Title, and ContentMD are required.
	CreatePlaybook(ctx context.Context, pb types.Playbook) (types.Playbook, error)

	// GetPlaybook returns the playbook or ErrNotFound.
	GetPlaybook(ctx context.Context, id string) (types.Playbook, error)

	// ListPlaybooks returns the workspace's playbooks in insertion order.
	ListPlaybooks(ctx context.Context, workspaceID string) ([]types.Playbook, error)

	// UpdatePlaybook merges the patch into the playbook and touches
	// UpdatedAt. Returns ErrNotFound if the id is absent.
	UpdatePlaybook(ctx context.Context, id string, patch PlaybookPatch) (types.Playbook, error)

	// DeletePlaybook removes the playbook or returns ErrNotFound.
	DeletePlaybook(ctx context.Context, id string) error

	// IncrementPlaybookUsage bumps the playbook's usage counter by one.
	IncrementPlaybookUsage(ctx context.Context, id string) error

	// CreateRun assigns the next id, sets status to in-progress, stamps
	// StartedAt, and inserts. WorkspaceID, PlaybookID, and PlaybookTitle
	// are required.
	CreateRun(ctx context.Context, run types.PlaybookRun) (types.PlaybookRun, error)

	// GetRun returns the run or ErrNotFound.
	GetRun(ctx context.Context, id string) (types.PlaybookRun, error)

	// ListRuns returns the workspace's runs ordered by descending
	// StartedAt, optionally narrowed by status.
	ListRuns(ctx context.Context, workspaceID string, filter StatusFilter) ([]types.PlaybookRun, error)

	// UpdateRun merges the patch into the run. A status patch to
	// completed runs the completion transition (timestamps, duration,
	// progress) inside the same critical section; completion is
	// idempotent. Returns ErrNotFound if the id is absent, in which case
	// the store is unchanged.
	UpdateRun(ctx context.Context, id string, patch RunPatch) (types.PlaybookRun, error)

	// DeleteRun removes the run or returns ErrNotFound.
	DeleteRun(ctx context.Context, id string) error

	// Close releases backend resources.
	Close() error
}
