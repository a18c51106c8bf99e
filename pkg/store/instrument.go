package store

import (
	"context"

	"github.com/opatlas/opatlas/pkg/observability"
	"github.com/opatlas/opatlas/pkg/types"
)

// Instrumented wraps a Store and records an operation counter per call.
type Instrumented struct {
	inner Store
}

// Compile-time interface check.
var _ Store = (*Instrumented)(nil)

// NewInstrumented wraps inner with metrics recording.
func NewInstrumented(inner Store) *Instrumented {
	return &Instrumented{inner: inner}
}

func record(entity, operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	observability.StoreOperationsTotal.WithLabelValues(entity, operation, status).Inc()
}

func (i *Instrumented) CreatePlaybook(ctx context.Context, pb types.Playbook) (types.Playbook, error) {
	result, err := i.inner.CreatePlaybook(ctx, pb)
	record("playbook", "create", err)
	return result, err
}

func (i *Instrumented) GetPlaybook(ctx context.Context, id string) (types.Playbook, error) {
	result, err := i.inner.GetPlaybook(ctx, id)
	record("playbook", "get", err)
	return result, err
}

func (i *Instrumented) ListPlaybooks(ctx context.Context, workspaceID string) ([]types.Playbook, error) {
	result, err := i.inner.ListPlaybooks(ctx, workspaceID)
	record("playbook", "list", err)
	return result, err
}

func (i *Instrumented) UpdatePlaybook(ctx context.Context, id string, patch PlaybookPatch) (types.Playbook, error) {
	result, err := i.inner.UpdatePlaybook(ctx, id, patch)
	record("playbook", "update", err)
	return result, err
}

func (i *Instrumented) DeletePlaybook(ctx context.Context, id string) error {
	err := i.inner.DeletePlaybook(ctx, id)
	record("playbook", "delete", err)
	return err
}

func (i *Instrumented) IncrementPlaybookUsage(ctx context.Context, id string) error {
	err := i.inner.IncrementPlaybookUsage(ctx, id)
	record("playbook", "increment_usage", err)
	return err
}

func (i *Instrumented) CreateRun(ctx context.Context, run types.PlaybookRun) (types.PlaybookRun, error) {
	result, err := i.inner.CreateRun(ctx, run)
	record("run", "create", err)
	return result, err
}

func (i *Instrumented) GetRun(ctx context.Context, id string) (types.PlaybookRun, error) {
	result, err := i.inner.GetRun(ctx, id)
	record("run", "get", err)
	return result, err
}

func (i *Instrumented) ListRuns(ctx context.Context, workspaceID string, filter StatusFilter) ([]types.PlaybookRun, error) {
	result, err := i.inner.ListRuns(ctx, workspaceID, filter)
	record("run", "list", err)
	return result, err
}

func (i *Instrumented) UpdateRun(ctx context.Context, id string, patch RunPatch) (types.PlaybookRun, error) {
	result, err := i.inner.UpdateRun(ctx, id, patch)
	record("run", "update", err)
	return result, err
}

func (i *Instrumented) DeleteRun(ctx context.Context, id string) error {
	err := i.inner.DeleteRun(ctx, id)
	record("run", "delete", err)
	return err
}

func (i *Instrumented) Close() error {
	return i.inner.Close()
}
