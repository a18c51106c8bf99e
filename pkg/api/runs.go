package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opatlas/opatlas/pkg/checklist"
	"github.com/opatlas/opatlas/pkg/observability"
	"github.com/opatlas/opatlas/pkg/progress"
	"github.com/opatlas/opatlas/pkg/store"
	"github.com/opatlas/opatlas/pkg/types"
)

// createRunRequest is the POST /api/runs body. The playbook title is
// snapshotted server-side from the referenced playbook.
type createRunRequest struct {
	WorkspaceID string         `json:"workspaceId"`
	PlaybookID  string         `json:"playbookId"`
	AssignedTo  *types.UserRef `json:"assignedTo"`
}

// commentRequest is the comment payload inside a run patch.
type commentRequest struct {
	StepID string `json:"stepId"`
	Text   string `json:"text"`
}

// updateRunRequest is the PATCH /api/runs/{id} body. Absent fields leave
// the stored value untouched; assignedTo distinguishes explicit null
// (unassign) from absent (no change).
type updateRunRequest struct {
	Status       *types.RunStatus  `json:"status"`
	CheckedSteps []string          `json:"checkedSteps"`
	StepNotes    map[string]string `json:"stepNotes"`
	Notes        *string           `json:"notes"`
	Progress     *int              `json:"progress"`
	AssignedTo   json.RawMessage   `json:"assignedTo"`
	Comment      *commentRequest   `json:"comment"`
}

// checklistResponse is the GET /api/runs/{id}/checklist body.
type checklistResponse struct {
	Items    []types.ChecklistItem `json:"items"`
	Progress int                   `json:"progress"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	workspaceID, ok := requireWorkspace(w, r, session)
	if !ok {
		return
	}

	filter := store.StatusFilter(r.URL.Query().Get("status"))
	switch filter {
	case store.FilterAll, store.FilterActive, store.FilterCompleted:
	case "all":
		filter = store.FilterAll
	default:
		httpError(w, http.StatusBadRequest, "validation_error", "status must be active, completed, or all")
		return
	}

	runs, err := s.store.ListRuns(r.Context(), workspaceID, filter)
	if err != nil {
		storeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	session, ok := requireEditor(w, r)
	if !ok {
		return
	}

	var req createRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
		return
	}

	if !requireRecordWorkspace(w, session, req.WorkspaceID) {
		return
	}

	if req.PlaybookID == "" {
		httpError(w, http.StatusBadRequest, "validation_error", "playbookId is required")
		return
	}

	pb, err := s.store.GetPlaybook(r.Context(), req.PlaybookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "playbook %s not found", req.PlaybookID)
			return
		}
		storeError(w, r, err)
		return
	}
	if !requireRecordWorkspace(w, session, pb.WorkspaceID) {
		return
	}

	run, err := s.store.CreateRun(r.Context(), types.PlaybookRun{
		WorkspaceID:   req.WorkspaceID,
		PlaybookID:    pb.ID,
		PlaybookTitle: pb.Title,
		StartedBy:     types.UserRef{ID: session.UserID, Name: session.Name},
		AssignedTo:    req.AssignedTo,
	})
	if err != nil {
		storeError(w, r, err)
		return
	}

	// Usage tracking is best-effort; the run is already created.
	if err := s.store.IncrementPlaybookUsage(r.Context(), pb.ID); err != nil {
		observability.GetLogger(r.Context()).WithError(err).Warn("Failed to bump playbook usage")
	}

	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeError(w, r, err)
		return
	}
	if !requireRecordWorkspace(w, session, run.WorkspaceID) {
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleUpdateRun(w http.ResponseWriter, r *http.Request) {
	session, ok := requireEditor(w, r)
	if !ok {
		return
	}

	var req updateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
		return
	}

	if req.Status != nil && !req.Status.Valid() {
		httpError(w, http.StatusBadRequest, "validation_error", "unknown status %q", *req.Status)
		return
	}

	id := chi.URLParam(r, "id")

	current, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		storeError(w, r, err)
		return
	}
	if !requireRecordWorkspace(w, session, current.WorkspaceID) {
		return
	}

	patch := store.RunPatch{
		Status:       req.Status,
		CheckedSteps: req.CheckedSteps,
		StepNotes:    req.StepNotes,
		Notes:        req.Notes,
		Progress:     req.Progress,
	}

	if len(req.AssignedTo) > 0 {
		if bytes.Equal(bytes.TrimSpace(req.AssignedTo), []byte("null")) {
			patch.ClearAssignedTo = true
		} else {
			var assignee types.UserRef
			if err := json.Unmarshal(req.AssignedTo, &assignee); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request", "invalid assignedTo: %v", err)
				return
			}
			patch.AssignedTo = &assignee
		}
	}

	if req.Comment != nil {
		patch.Comment = &types.Comment{
			ID:         "comment-" + uuid.NewString(),
			StepID:     req.Comment.StepID,
			AuthorID:   session.UserID,
			AuthorName: session.Name,
			Text:       req.Comment.Text,
			CreatedAt:  time.Now().UTC(),
		}
	}

	run, err := s.store.UpdateRun(r.Context(), id, patch)
	if err != nil {
		storeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	session, ok := requireEditor(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		storeError(w, r, err)
		return
	}
	if !requireRecordWorkspace(w, session, run.WorkspaceID) {
		return
	}

	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		storeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleRunChecklist renders the run's checklist against the current
// playbook content. The run keeps working if the playbook was deleted out
// from under it, but its checklist is gone with the content.
func (s *Server) handleRunChecklist(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeError(w, r, err)
		return
	}
	if !requireRecordWorkspace(w, session, run.WorkspaceID) {
		return
	}

	pb, err := s.store.GetPlaybook(r.Context(), run.PlaybookID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "playbook %s no longer exists", run.PlaybookID)
			return
		}
		storeError(w, r, err)
		return
	}

	items := checklist.Parse(pb.ContentMD, run.CheckedSteps)

	writeJSON(w, http.StatusOK, checklistResponse{
		Items:    items,
		Progress: progress.Compute(items, run.CheckedSteps),
	})
}

func (s *Server) handleRunMetrics(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	workspaceID, ok := requireWorkspace(w, r, session)
	if !ok {
		return
	}

	runs, err := s.store.ListRuns(r.Context(), workspaceID, store.FilterAll)
	if err != nil {
		storeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, progress.Summarize(runs))
}
