package types

// ChecklistItemKind distinguishes section headings from actionable steps.
type ChecklistItemKind string

const (
	ChecklistHeading  ChecklistItemKind = "heading"
	ChecklistCheckbox ChecklistItemKind = "checkbox"
)

// ChecklistItem is a derived, per-request unit parsed from a playbook's
// markdown body. Items are never persisted.
//
// Ids are positional ("h-<n>" / "step-<n>" over a counter shared by all
// emitted items) and are only stable while the source markdown is
// unchanged. Editing the playbook reassigns ids of every item after the
// edit point, so callers must not assume id stability across edits.
type ChecklistItem struct {
	ID   string            `json:"id"`
	Text string            `json:"text"`
	Kind ChecklistItemKind `json:"type"`

	// Level is the heading level 1-6; zero for checkbox items.
	Level int `json:"level,omitempty"`

	// Checked is derived by membership in the run's CheckedSteps.
	Checked bool `json:"checked"`
}
