package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/opatlas/opatlas/pkg/store"
	"github.com/opatlas/opatlas/pkg/types"
)

// createPlaybookRequest is the POST /api/playbooks body.
type createPlaybookRequest struct {
	WorkspaceID      string   `json:"workspaceId"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	ContentMD        string   `json:"contentMd"`
	Tags             []string `json:"tags"`
	Triggers         []string `json:"triggers"`
	RelatedPlaybooks []string `json:"relatedPlaybooks"`
}

// updatePlaybookRequest is the PATCH /api/playbooks/{id} body. Absent
// fields leave the stored value untouched.
type updatePlaybookRequest struct {
	Title            *string  `json:"title"`
	Description      *string  `json:"description"`
	ContentMD        *string  `json:"contentMd"`
	Tags             []string `json:"tags"`
	Triggers         []string `json:"triggers"`
	RelatedPlaybooks []string `json:"relatedPlaybooks"`
}

func (s *Server) handleListPlaybooks(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	workspaceID, ok := requireWorkspace(w, r, session)
	if !ok {
		return
	}

	playbooks, err := s.store.ListPlaybooks(r.Context(), workspaceID)
	if err != nil {
		storeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, playbooks)
}

func (s *Server) handleCreatePlaybook(w http.ResponseWriter, r *http.Request) {
	session, ok := requireEditor(w, r)
	if !ok {
		return
	}

	var req createPlaybookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
		return
	}
	if !requireRecordWorkspace(w, session, req.WorkspaceID) {
		return
	}

	pb, err := s.store.CreatePlaybook(r.Context(), types.Playbook{
		WorkspaceID:      req.WorkspaceID,
		Title:            req.Title,
		Description:      req.Description,
		ContentMD:        req.ContentMD,
		Tags:             req.Tags,
		Triggers:         req.Triggers,
		RelatedPlaybooks: req.RelatedPlaybooks,
		Author: types.Author{
			ID:    session.UserID,
			Name:  session.Name,
			Email: session.Email,
		},
	})
	if err != nil {
		storeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, pb)
}

func (s *Server) handleGetPlaybook(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	pb, err := s.store.GetPlaybook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		storeError(w, r, err)
		return
	}
	if !requireRecordWorkspace(w, session, pb.WorkspaceID) {
		return
	}

	writeJSON(w, http.StatusOK, pb)
}

func (s *Server) handleUpdatePlaybook(w http.ResponseWriter, r *http.Request) {
	session, ok := requireEditor(w, r)
	if !ok {
		return
	}

	var req updatePlaybookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request", "invalid request body: %v", err)
		return
	}

	id := chi.URLParam(r, "id")

	current, err := s.store.GetPlaybook(r.Context(), id)
	if err != nil {
		storeError(w, r, err)
		return
	}
	if !requireRecordWorkspace(w, session, current.WorkspaceID) {
		return
	}

	pb, err := s.store.UpdatePlaybook(r.Context(), id, store.PlaybookPatch{
		Title:            req.Title,
		Description:      req.Description,
		ContentMD:        req.ContentMD,
		Tags:             req.Tags,
		Triggers:         req.Triggers,
		RelatedPlaybooks: req.RelatedPlaybooks,
	})
	if err != nil {
		storeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, pb)
}

func (s *Server) handleDeletePlaybook(w http.ResponseWriter, r *http.Request) {
	session, ok := requireEditor(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")

	pb, err := s.store.GetPlaybook(r.Context(), id)
	if err != nil {
		storeError(w, r, err)
		return
	}
	if !requireRecordWorkspace(w, session, pb.WorkspaceID) {
		return
	}

	if err := s.store.DeletePlaybook(r.Context(), id); err != nil {
		storeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSearchPlaybooks(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	workspaceID, ok := requireWorkspace(w, r, session)
	if !ok {
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		httpError(w, http.StatusBadRequest, "validation_error", "q is required")
		return
	}

	playbooks, err := s.store.ListPlaybooks(r.Context(), workspaceID)
	if err != nil {
		storeError(w, r, err)
		return
	}

	matches := make([]types.Playbook, 0)
	for _, pb := range playbooks {
		if playbookMatches(pb, query) {
			matches = append(matches, pb)
		}
	}

	writeJSON(w, http.StatusOK, matches)
}

// playbookMatches reports whether the query appears in the playbook's
// title, description, content, or tags, ignoring case.
func playbookMatches(pb types.Playbook, query string) bool {
	q := strings.ToLower(query)

	if strings.Contains(strings.ToLower(pb.Title), q) ||
		strings.Contains(strings.ToLower(pb.Description), q) ||
		strings.Contains(strings.ToLower(pb.ContentMD), q) {
		return true
	}

	for _, tag := range pb.Tags {
		if strings.Contains(strings.ToLower(tag), q) {
			return true
		}
	}

	return false
}

// tagCount is one entry of the tags listing.
type tagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	workspaceID, ok := requireWorkspace(w, r, session)
	if !ok {
		return
	}

	playbooks, err := s.store.ListPlaybooks(r.Context(), workspaceID)
	if err != nil {
		storeError(w, r, err)
		return
	}

	counts := make(map[string]int)
	for _, pb := range playbooks {
		for _, tag := range pb.Tags {
			counts[tag]++
		}
	}

	tags := make([]tagCount, 0, len(counts))
	for tag, count := range counts {
		tags = append(tags, tagCount{Tag: tag, Count: count})
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Tag < tags[j].Tag })

	writeJSON(w, http.StatusOK, tags)
}
