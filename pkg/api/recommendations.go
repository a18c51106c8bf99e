package api

import (
	"net/http"
	"time"

	"github.com/opatlas/opatlas/pkg/observability"
	"github.com/opatlas/opatlas/pkg/recommend"
	"github.com/opatlas/opatlas/pkg/store"
)

// recentRunWindow caps how many recent runs feed the scorer.
const recentRunWindow = 20

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	workspaceID, ok := requireWorkspace(w, r, session)
	if !ok {
		return
	}

	contextText := r.URL.Query().Get("context")

	playbooks, err := s.store.ListPlaybooks(r.Context(), workspaceID)
	if err != nil {
		storeError(w, r, err)
		return
	}

	runs, err := s.store.ListRuns(r.Context(), workspaceID, store.FilterAll)
	if err != nil {
		storeError(w, r, err)
		return
	}

	// ListRuns is already most-recent-first; the scorer expects the
	// window pre-sorted and pre-limited.
	if len(runs) > recentRunWindow {
		runs = runs[:recentRunWindow]
	}

	recommendations := recommend.Score(playbooks, runs, contextText, time.Now())

	observability.RecommendationsScored.Inc()
	observability.RecommendationResults.Observe(float64(len(recommendations)))

	writeJSON(w, http.StatusOK, recommendations)
}
