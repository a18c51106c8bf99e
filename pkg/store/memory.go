package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opatlas/opatlas/pkg/types"
)

// Memory is an in-memory Store. A single mutex serializes every
// read-modify-write cycle, which is what makes concurrent patches to the
// same record compose. State does not survive the process; real
// deployments use the SQLite backend.
type Memory struct {
	log logrus.FieldLogger
	now func() time.Time

	mu             sync.Mutex
	playbooks      map[string]*types.Playbook
	playbookOrder  []string
	runs           map[string]*types.PlaybookRun
	nextPlaybookID int
	nextRunID      int
}

// Compile-time interface check.
var _ Store = (*Memory)(nil)

// MemoryOption customizes a Memory store.
type MemoryOption func(*Memory)

// WithNow overrides the store's clock. Used by tests.
func WithNow(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory store.
func NewMemory(log logrus.FieldLogger, opts ...MemoryOption) *Memory {
	m := &Memory{
		log:            log.WithField("component", "store").WithField("backend", "memory"),
		now:            time.Now,
		playbooks:      make(map[string]*types.Playbook),
		runs:           make(map[string]*types.PlaybookRun),
		nextPlaybookID: 1,
		nextRunID:      1,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Close implements Store. The memory backend holds no resources.
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) CreatePlaybook(_ context.Context, pb types.Playbook) (types.Playbook, error) {
	if err := validatePlaybook(pb); err != nil {
		return types.Playbook{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()

	pb.ID = strconv.Itoa(m.nextPlaybookID)
	m.nextPlaybookID++
	pb.UsageCount = 0
	pb.CreatedAt = now
	pb.UpdatedAt = now
	normalizePlaybook(&pb)

	stored := clonePlaybook(&pb)
	m.playbooks[pb.ID] = stored
	m.playbookOrder = append(m.playbookOrder, pb.ID)

	m.log.WithFields(logrus.Fields{
		"playbook_id":  pb.ID,
		"workspace_id": pb.WorkspaceID,
	}).Debug("Playbook created")

	return pb, nil
}

func (m *Memory) GetPlaybook(_ context.Context, id string) (types.Playbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pb, ok := m.playbooks[id]
	if !ok {
		return types.Playbook{}, ErrNotFound
	}

	return *clonePlaybook(pb), nil
}

func (m *Memory) ListPlaybooks(_ context.Context, workspaceID string) ([]types.Playbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]types.Playbook, 0)
	for _, id := range m.playbookOrder {
		pb := m.playbooks[id]
		if pb.WorkspaceID == workspaceID {
			result = append(result, *clonePlaybook(pb))
		}
	}

	return result, nil
}

func (m *Memory) UpdatePlaybook(_ context.Context, id string, patch PlaybookPatch) (types.Playbook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pb, ok := m.playbooks[id]
	if !ok {
		return types.Playbook{}, ErrNotFound
	}

	applyPlaybookPatch(pb, patch)
	pb.UpdatedAt = m.now().UTC()

	return *clonePlaybook(pb), nil
}

func (m *Memory) DeletePlaybook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.playbooks[id]; !ok {
		return ErrNotFound
	}

	delete(m.playbooks, id)
	for i, existing := range m.playbookOrder {
		if existing == id {
			m.playbookOrder = append(m.playbookOrder[:i], m.playbookOrder[i+1:]...)
			break
		}
	}

	m.log.WithField("playbook_id", id).Debug("Playbook deleted")

	return nil
}

func (m *Memory) IncrementPlaybookUsage(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pb, ok := m.playbooks[id]
	if !ok {
		return ErrNotFound
	}

	pb.UsageCount++
	pb.UpdatedAt = m.now().UTC()

	return nil
}

func (m *Memory) CreateRun(_ context.Context, run types.PlaybookRun) (types.PlaybookRun, error) {
	if err := validateRun(run); err != nil {
		return types.PlaybookRun{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	run.ID = strconv.Itoa(m.nextRunID)
	m.nextRunID++
	run.Status = types.RunStatusInProgress
	run.StartedAt = m.now().UTC()
	run.CompletedAt = nil
	run.Duration = nil
	run.Progress = 0
	normalizeRun(&run)

	m.runs[run.ID] = cloneRun(&run)

	m.log.WithFields(logrus.Fields{
		"run_id":      run.ID,
		"playbook_id": run.PlaybookID,
	}).Debug("Run created")

	return run, nil
}

func (m *Memory) GetRun(_ context.Context, id string) (types.PlaybookRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return types.PlaybookRun{}, ErrNotFound
	}

	return *cloneRun(run), nil
}

func (m *Memory) ListRuns(_ context.Context, workspaceID string, filter StatusFilter) ([]types.PlaybookRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]types.PlaybookRun, 0)
	for _, run := range m.runs {
		if run.WorkspaceID != workspaceID {
			continue
		}
		if !matchesFilter(run.Status, filter) {
			continue
		}
		result = append(result, *cloneRun(run))
	}

	// Most recent first; numeric id as the tie-break keeps ordering stable.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].StartedAt.After(result[j].StartedAt)
		}
		return numericID(result[i].ID) > numericID(result[j].ID)
	})

	return result, nil
}

func (m *Memory) UpdateRun(_ context.Context, id string, patch RunPatch) (types.PlaybookRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[id]
	if !ok {
		return types.PlaybookRun{}, ErrNotFound
	}

	applyRunPatch(run, patch, m.now().UTC())

	return *cloneRun(run), nil
}

func (m *Memory) DeleteRun(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[id]; !ok {
		return ErrNotFound
	}

	delete(m.runs, id)

	m.log.WithField("run_id", id).Debug("Run deleted")

	return nil
}

// validatePlaybook checks required create fields.
func validatePlaybook(pb types.Playbook) error {
	switch {
	case pb.WorkspaceID == "":
		return &ValidationError{Field: "workspaceId"}
	case pb.Title == "":
		return &ValidationError{Field: "title"}
	case pb.ContentMD == "":
		return &ValidationError{Field: "contentMd"}
	}
	return nil
}

// validateRun checks required create fields.
func validateRun(run types.PlaybookRun) error {
	switch {
	case run.WorkspaceID == "":
		return &ValidationError{Field: "workspaceId"}
	case run.PlaybookID == "":
		return &ValidationError{Field: "playbookId"}
	case run.PlaybookTitle == "":
		return &ValidationError{Field: "playbookTitle"}
	}
	return nil
}

// numericID interprets a counter-generated id for ordering, so "10"
// sorts after "9".
func numericID(id string) int {
	n, _ := strconv.Atoi(id)
	return n
}

func matchesFilter(status types.RunStatus, filter StatusFilter) bool {
	switch filter {
	case FilterActive:
		return status == types.RunStatusInProgress
	case FilterCompleted:
		return status == types.RunStatusCompleted
	default:
		return true
	}
}

// normalizePlaybook replaces nil slices with empty ones so records
// serialize as [] instead of null.
func normalizePlaybook(pb *types.Playbook) {
	if pb.Tags == nil {
		pb.Tags = []string{}
	}
	if pb.Triggers == nil {
		pb.Triggers = []string{}
	}
	if pb.RelatedPlaybooks == nil {
		pb.RelatedPlaybooks = []string{}
	}
}

// normalizeRun replaces nil collections with empty ones.
func normalizeRun(run *types.PlaybookRun) {
	if run.CheckedSteps == nil {
		run.CheckedSteps = []string{}
	}
	if run.StepNotes == nil {
		run.StepNotes = map[string]string{}
	}
	if run.Comments == nil {
		run.Comments = []types.Comment{}
	}
}
