package types

import "time"

// RunStatus is the lifecycle state of a playbook run.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in-progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusAbandoned  RunStatus = "abandoned"
)

// Valid reports whether s is one of the known run statuses.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusInProgress, RunStatusCompleted, RunStatusAbandoned:
		return true
	default:
		return false
	}
}

// UserRef is a denormalized id+name reference to a user, captured at the
// time of the referencing event.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Comment is a note attached to a run, optionally scoped to a single
// checklist step. Comments are append-only.
type Comment struct {
	ID         string    `json:"id"`
	StepID     string    `json:"stepId,omitempty"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// PlaybookRun is one tracked execution of a playbook by a team member.
type PlaybookRun struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`

	// PlaybookID is a weak reference: the playbook may be deleted while
	// the run lives on. PlaybookTitle is a snapshot taken at creation.
	PlaybookID    string `json:"playbookId"`
	PlaybookTitle string `json:"playbookTitle"`

	Status RunStatus `json:"status"`

	// StartedAt is set at creation and immutable. CompletedAt is set
	// exactly once, on the first transition into RunStatusCompleted.
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt"`

	StartedBy  UserRef  `json:"startedBy"`
	AssignedTo *UserRef `json:"assignedTo"`

	// CheckedSteps holds checklist step ids the user has ticked off,
	// in the order they were supplied.
	CheckedSteps []string `json:"checkedSteps"`

	// StepNotes maps step id to a free-text note. Updates merge new
	// entries into the existing map rather than replacing it.
	StepNotes map[string]string `json:"stepNotes"`

	// Notes is a single free-text field, last write wins.
	Notes string `json:"notes"`

	Comments []Comment `json:"comments"`

	// Progress is a 0-100 percentage. It is supplied by the caller
	// alongside CheckedSteps and stored as-is; the store does not tie it
	// to the checklist. See the checklist and progress packages.
	Progress int `json:"progress"`

	// Duration is milliseconds from StartedAt to CompletedAt, computed
	// once on completion and immutable thereafter. Nil until completed.
	Duration *int64 `json:"duration"`
}

// Completed reports whether the run has recorded a completion timestamp.
func (r *PlaybookRun) Completed() bool {
	return r.CompletedAt != nil
}
