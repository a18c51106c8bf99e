// Package recommend scores a workspace's playbooks by relevance to recent
// usage and an optional free-text context.
package recommend

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/opatlas/opatlas/pkg/types"
)

// Scoring weights. Each factor contributes additively; a playbook with a
// total of zero or less is never recommended.
const (
	// WeightPerRun is added for every recent run of the playbook.
	WeightPerRun = 10.0

	// WeightCompletionRate scales the fraction of recent runs that
	// completed.
	WeightCompletionRate = 20.0

	// WeightRecentCreation rewards playbooks created inside
	// RecentCreationWindow.
	WeightRecentCreation = 15.0

	// WeightHasTriggers rewards playbooks with a documented use case.
	WeightHasTriggers = 10.0

	// WeightContextMatch rewards a trigger matching the caller's context.
	WeightContextMatch = 50.0

	// WeightPerTag is added per tag.
	WeightPerTag = 2.0

	// WeightHasRelated rewards playbooks linked into a wider workflow.
	WeightHasRelated = 5.0
)

// RecentCreationWindow is how long a playbook counts as recently created.
const RecentCreationWindow = 7 * 24 * time.Hour

// highCompletionThreshold is the completion rate above which a reason
// string is emitted.
const highCompletionThreshold = 0.8

// MaxResults caps how many recommendations a single request returns.
const MaxResults = 5

// Score ranks playbooks by relevance. recentRuns is the caller's window of
// most-recent runs for the workspace, already sorted by descending start
// time; the scorer only filters it per playbook and never re-sorts or
// truncates it. contextText, when non-empty, is matched case-insensitively
// against triggers as a substring in either direction.
//
// The result is sorted by descending score with input order as the
// tie-break, excludes scores <= 0, and holds at most MaxResults entries.
func Score(playbooks []types.Playbook, recentRuns []types.PlaybookRun, contextText string, now time.Time) []types.Recommendation {
	scored := make([]types.Recommendation, 0, len(playbooks))

	for _, pb := range playbooks {
		rec := scorePlaybook(pb, recentRuns, contextText, now)
		if rec.Score <= 0 {
			continue
		}
		scored = append(scored, rec)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > MaxResults {
		scored = scored[:MaxResults]
	}

	return scored
}

func scorePlaybook(pb types.Playbook, recentRuns []types.PlaybookRun, contextText string, now time.Time) types.Recommendation {
	score := 0.0
	reasons := make([]string, 0, 4)

	runCount := 0
	completedCount := 0
	for _, run := range recentRuns {
		if run.PlaybookID != pb.ID {
			continue
		}
		runCount++
		if run.Status == types.RunStatusCompleted {
			completedCount++
		}
	}

	if runCount > 0 {
		score += WeightPerRun * float64(runCount)
		reasons = append(reasons, fmt.Sprintf("Used %d time%s recently", runCount, plural(runCount)))
	}

	if runCount > 0 {
		completionRate := float64(completedCount) / float64(runCount)
		score += WeightCompletionRate * completionRate
		if completionRate > highCompletionThreshold {
			reasons = append(reasons, fmt.Sprintf("%d%% completion rate", int(math.Round(completionRate*100))))
		}
	}

	if now.Sub(pb.CreatedAt) < RecentCreationWindow {
		score += WeightRecentCreation
		reasons = append(reasons, "Recently created")
	}

	if len(pb.Triggers) > 0 {
		score += WeightHasTriggers
		reasons = append(reasons, "Clear use-case defined")
	}

	if contextText != "" && matchesTrigger(pb.Triggers, contextText) {
		score += WeightContextMatch
		reasons = append(reasons, fmt.Sprintf("Matches %q", contextText))
	}

	score += WeightPerTag * float64(len(pb.Tags))

	if len(pb.RelatedPlaybooks) > 0 {
		score += WeightHasRelated
		reasons = append(reasons, "Part of workflow")
	}

	return types.Recommendation{
		Playbook: pb,
		Score:    score,
		Reasons:  reasons,
	}
}

// matchesTrigger reports whether contextText and any trigger contain each
// other, ignoring case.
func matchesTrigger(triggers []string, contextText string) bool {
	contextLower := strings.ToLower(contextText)

	for _, trigger := range triggers {
		triggerLower := strings.ToLower(trigger)
		if strings.Contains(contextLower, triggerLower) || strings.Contains(triggerLower, contextLower) {
			return true
		}
	}

	return false
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
