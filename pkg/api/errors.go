package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/opatlas/opatlas/pkg/auth"
	"github.com/opatlas/opatlas/pkg/observability"
	"github.com/opatlas/opatlas/pkg/store"
)

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// httpError writes a structured JSON error response.
func httpError(w http.ResponseWriter, status int, errType, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Type:    errType,
			Message: fmt.Sprintf(format, args...),
		},
	})
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

// storeError maps store errors onto HTTP responses.
func storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "record not found")
	case store.IsValidation(err):
		httpError(w, http.StatusBadRequest, "validation_error", "%s", err)
	default:
		observability.GetLogger(r.Context()).WithError(err).Error("Store operation failed")
		httpError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// requireSession returns the request session, writing a 401 when absent.
func requireSession(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		httpError(w, http.StatusUnauthorized, "unauthorized", "no session")
		return auth.Session{}, false
	}
	return session, true
}

// requireEditor returns the session if it may mutate records;
// viewers get a 403.
func requireEditor(w http.ResponseWriter, r *http.Request) (auth.Session, bool) {
	session, ok := requireSession(w, r)
	if !ok {
		return auth.Session{}, false
	}
	if !session.CanEdit() {
		httpError(w, http.StatusForbidden, "forbidden", "viewers cannot modify records")
		return auth.Session{}, false
	}
	return session, true
}

// requireRecordWorkspace checks a record's workspace against the session's.
// Empty workspace ids on either side pass; mismatches get a 403.
func requireRecordWorkspace(w http.ResponseWriter, session auth.Session, workspaceID string) bool {
	if workspaceID == "" || session.WorkspaceID == "" || session.WorkspaceID == workspaceID {
		return true
	}

	httpError(w, http.StatusForbidden, "forbidden", "session is not a member of workspace %s", workspaceID)

	return false
}

// requireWorkspace extracts the workspaceId query parameter and checks it
// against the session's workspace when one is set.
func requireWorkspace(w http.ResponseWriter, r *http.Request, session auth.Session) (string, bool) {
	workspaceID := r.URL.Query().Get("workspaceId")
	if workspaceID == "" {
		httpError(w, http.StatusBadRequest, "validation_error", "workspaceId is required")
		return "", false
	}

	if session.WorkspaceID != "" && session.WorkspaceID != workspaceID {
		httpError(w, http.StatusForbidden, "forbidden", "session is not a member of workspace %s", workspaceID)
		return "", false
	}

	return workspaceID, true
}
