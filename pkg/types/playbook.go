// Package types contains the shared data model for playbooks, runs, and
// derived structures.
package types

import "time"

// Author identifies the user who created a playbook. The fields are a
// snapshot taken at creation time and are never re-resolved against a live
// user record.
type Author struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Playbook is a markdown-authored operational procedure belonging to a
// workspace.
type Playbook struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	Title       string `json:"title"`
	Description string `json:"description"`

	// ContentMD is the markdown body the checklist is derived from.
	ContentMD string `json:"contentMd"`

	// Tags are free-form labels. Insertion order is preserved for display.
	Tags []string `json:"tags"`

	// Triggers describe situations in which the playbook applies
	// (e.g. "churn risk detected"). Used by the recommendation scorer.
	Triggers []string `json:"triggers"`

	// RelatedPlaybooks holds ids of related playbooks. These are weak
	// references: no existence or cycle checks are performed.
	RelatedPlaybooks []string `json:"relatedPlaybooks"`

	// UsageCount is incremented each time a run is started from this
	// playbook.
	UsageCount int `json:"usageCount"`

	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
