package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/opatlas/opatlas/pkg/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is how timestamps are stored in SQLite text columns. The
// fractional second is fixed-width (RFC3339Nano trims trailing zeros),
// so lexicographic ORDER BY on the column matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is a Store backed by a SQLite database. Collection-valued fields
// are stored as JSON text columns. The connection pool is limited to one
// connection and every read-modify-write runs inside an immediate
// transaction, which serializes patches the same way the memory backend's
// mutex does.
type SQLite struct {
	log logrus.FieldLogger
	now func() time.Time
	db  *sql.DB
}

// Compile-time interface check.
var _ Store = (*SQLite)(nil)

// SQLiteOption customizes a SQLite store.
type SQLiteOption func(*SQLite)

// WithSQLiteNow overrides the store's clock. Used by tests.
func WithSQLiteNow(now func() time.Time) SQLiteOption {
	return func(s *SQLite) {
		s.now = now
	}
}

// OpenSQLite opens (or creates) the database under dataDir and applies
// pending migrations. Pass ":memory:" for an in-memory database.
func OpenSQLite(log logrus.FieldLogger, dataDir string, opts ...SQLiteOption) (*SQLite, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "opatlas.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection avoids "database is locked" errors and gives
	// the per-record serialization the Store contract requires.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &SQLite{
		log: log.WithField("component", "store").WithField("backend", "sqlite"),
		now: time.Now,
		db:  db,
	}

	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migrations that have not run yet.
func (s *SQLite) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := strconv.Atoi(strings.SplitN(entry.Name(), "_", 2)[0])
		if err != nil {
			return fmt.Errorf("migration %s: version prefix is not numeric", entry.Name())
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}

		s.log.WithField("version", version).Info("Applied migration")
	}

	return nil
}

func (s *SQLite) CreatePlaybook(ctx context.Context, pb types.Playbook) (types.Playbook, error) {
	if err := validatePlaybook(pb); err != nil {
		return types.Playbook{}, err
	}

	now := s.now().UTC()
	pb.UsageCount = 0
	pb.CreatedAt = now
	pb.UpdatedAt = now
	normalizePlaybook(&pb)

	tags, triggers, related, err := marshalPlaybookLists(&pb)
	if err != nil {
		return types.Playbook{}, err
	}

	result, err := s.db.ExecContext(ctx, `INSERT INTO playbooks
		(workspace_id, title, description, content_md, tags, triggers, related_playbooks,
		 usage_count, author_id, author_name, author_email, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		pb.WorkspaceID, pb.Title, pb.Description, pb.ContentMD, tags, triggers, related,
		pb.Author.ID, pb.Author.Name, pb.Author.Email,
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return types.Playbook{}, fmt.Errorf("inserting playbook: %w", err)
	}

	rowID, err := result.LastInsertId()
	if err != nil {
		return types.Playbook{}, fmt.Errorf("reading playbook id: %w", err)
	}
	pb.ID = strconv.FormatInt(rowID, 10)

	return pb, nil
}

func (s *SQLite) GetPlaybook(ctx context.Context, id string) (types.Playbook, error) {
	row := s.db.QueryRowContext(ctx, selectPlaybook+" WHERE id = ?", id)
	return scanPlaybook(row)
}

func (s *SQLite) ListPlaybooks(ctx context.Context, workspaceID string) ([]types.Playbook, error) {
	rows, err := s.db.QueryContext(ctx, selectPlaybook+" WHERE workspace_id = ? ORDER BY id ASC", workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing playbooks: %w", err)
	}
	defer rows.Close()

	result := make([]types.Playbook, 0)
	for rows.Next() {
		pb, err := scanPlaybook(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, pb)
	}

	return result, rows.Err()
}

func (s *SQLite) UpdatePlaybook(ctx context.Context, id string, patch PlaybookPatch) (types.Playbook, error) {
	var updated types.Playbook

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		pb, err := scanPlaybook(tx.QueryRowContext(ctx, selectPlaybook+" WHERE id = ?", id))
		if err != nil {
			return err
		}

		applyPlaybookPatch(&pb, patch)
		pb.UpdatedAt = s.now().UTC()

		tags, triggers, related, err := marshalPlaybookLists(&pb)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE playbooks SET
			title = ?, description = ?, content_md = ?, tags = ?, triggers = ?,
			related_playbooks = ?, updated_at = ? WHERE id = ?`,
			pb.Title, pb.Description, pb.ContentMD, tags, triggers, related,
			pb.UpdatedAt.Format(timeLayout), id); err != nil {
			return fmt.Errorf("updating playbook: %w", err)
		}

		updated = pb

		return nil
	})
	if err != nil {
		return types.Playbook{}, err
	}

	return updated, nil
}

func (s *SQLite) DeletePlaybook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM playbooks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting playbook: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting playbook: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *SQLite) IncrementPlaybookUsage(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE playbooks SET usage_count = usage_count + 1, updated_at = ? WHERE id = ?",
		s.now().UTC().Format(timeLayout), id)
	if err != nil {
		return fmt.Errorf("incrementing usage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("incrementing usage: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *SQLite) CreateRun(ctx context.Context, run types.PlaybookRun) (types.PlaybookRun, error) {
	if err := validateRun(run); err != nil {
		return types.PlaybookRun{}, err
	}

	run.Status = types.RunStatusInProgress
	run.StartedAt = s.now().UTC()
	run.CompletedAt = nil
	run.Duration = nil
	run.Progress = 0
	normalizeRun(&run)

	checkedSteps, stepNotes, comments, assignedTo, err := marshalRunFields(&run)
	if err != nil {
		return types.PlaybookRun{}, err
	}

	result, err := s.db.ExecContext(ctx, `INSERT INTO runs
		(workspace_id, playbook_id, playbook_title, status, started_at, completed_at,
		 started_by_id, started_by_name, assigned_to, checked_steps, step_notes,
		 notes, comments, progress, duration)
		VALUES (?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?, ?, 0, NULL)`,
		run.WorkspaceID, run.PlaybookID, run.PlaybookTitle, string(run.Status),
		run.StartedAt.Format(timeLayout),
		run.StartedBy.ID, run.StartedBy.Name, assignedTo,
		checkedSteps, stepNotes, run.Notes, comments)
	if err != nil {
		return types.PlaybookRun{}, fmt.Errorf("inserting run: %w", err)
	}

	rowID, err := result.LastInsertId()
	if err != nil {
		return types.PlaybookRun{}, fmt.Errorf("reading run id: %w", err)
	}
	run.ID = strconv.FormatInt(rowID, 10)

	return run, nil
}

func (s *SQLite) GetRun(ctx context.Context, id string) (types.PlaybookRun, error) {
	row := s.db.QueryRowContext(ctx, selectRun+" WHERE id = ?", id)
	return scanRun(row)
}

func (s *SQLite) ListRuns(ctx context.Context, workspaceID string, filter StatusFilter) ([]types.PlaybookRun, error) {
	query := selectRun + " WHERE workspace_id = ?"
	args := []any{workspaceID}

	switch filter {
	case FilterActive:
		query += " AND status = ?"
		args = append(args, string(types.RunStatusInProgress))
	case FilterCompleted:
		query += " AND status = ?"
		args = append(args, string(types.RunStatusCompleted))
	}

	query += " ORDER BY started_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	result := make([]types.PlaybookRun, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, run)
	}

	return result, rows.Err()
}

func (s *SQLite) UpdateRun(ctx context.Context, id string, patch RunPatch) (types.PlaybookRun, error) {
	var updated types.PlaybookRun

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		run, err := scanRun(tx.QueryRowContext(ctx, selectRun+" WHERE id = ?", id))
		if err != nil {
			return err
		}

		applyRunPatch(&run, patch, s.now().UTC())

		checkedSteps, stepNotes, comments, assignedTo, err := marshalRunFields(&run)
		if err != nil {
			return err
		}

		var completedAt any
		if run.CompletedAt != nil {
			completedAt = run.CompletedAt.Format(timeLayout)
		}
		var duration any
		if run.Duration != nil {
			duration = *run.Duration
		}

		if _, err := tx.ExecContext(ctx, `UPDATE runs SET
			status = ?, completed_at = ?, assigned_to = ?, checked_steps = ?,
			step_notes = ?, notes = ?, comments = ?, progress = ?, duration = ?
			WHERE id = ?`,
			string(run.Status), completedAt, assignedTo, checkedSteps,
			stepNotes, run.Notes, comments, run.Progress, duration, id); err != nil {
			return fmt.Errorf("updating run: %w", err)
		}

		updated = run

		return nil
	})
	if err != nil {
		return types.PlaybookRun{}, err
	}

	return updated, nil
}

func (s *SQLite) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting run: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// inTx runs fn inside a transaction, rolling back on error so a failed
// patch never applies partially.
func (s *SQLite) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

const selectPlaybook = `SELECT id, workspace_id, title, description, content_md,
	tags, triggers, related_playbooks, usage_count,
	author_id, author_name, author_email, created_at, updated_at FROM playbooks`

const selectRun = `SELECT id, workspace_id, playbook_id, playbook_title, status,
	started_at, completed_at, started_by_id, started_by_name, assigned_to,
	checked_steps, step_notes, notes, comments, progress, duration FROM runs`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlaybook(row rowScanner) (types.Playbook, error) {
	var pb types.Playbook
	var rowID int64
	var tags, triggers, related, createdAt, updatedAt string

	err := row.Scan(&rowID, &pb.WorkspaceID, &pb.Title, &pb.Description, &pb.ContentMD,
		&tags, &triggers, &related, &pb.UsageCount,
		&pb.Author.ID, &pb.Author.Name, &pb.Author.Email, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Playbook{}, ErrNotFound
	}
	if err != nil {
		return types.Playbook{}, fmt.Errorf("scanning playbook: %w", err)
	}

	pb.ID = strconv.FormatInt(rowID, 10)

	if err := json.Unmarshal([]byte(tags), &pb.Tags); err != nil {
		return types.Playbook{}, fmt.Errorf("decoding tags: %w", err)
	}
	if err := json.Unmarshal([]byte(triggers), &pb.Triggers); err != nil {
		return types.Playbook{}, fmt.Errorf("decoding triggers: %w", err)
	}
	if err := json.Unmarshal([]byte(related), &pb.RelatedPlaybooks); err != nil {
		return types.Playbook{}, fmt.Errorf("decoding related playbooks: %w", err)
	}

	if pb.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return types.Playbook{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if pb.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return types.Playbook{}, fmt.Errorf("parsing updated_at: %w", err)
	}

	normalizePlaybook(&pb)

	return pb, nil
}

func scanRun(row rowScanner) (types.PlaybookRun, error) {
	var run types.PlaybookRun
	var rowID int64
	var status, startedAt, checkedSteps, stepNotes, comments string
	var completedAt, assignedTo sql.NullString
	var duration sql.NullInt64

	err := row.Scan(&rowID, &run.WorkspaceID, &run.PlaybookID, &run.PlaybookTitle, &status,
		&startedAt, &completedAt, &run.StartedBy.ID, &run.StartedBy.Name, &assignedTo,
		&checkedSteps, &stepNotes, &run.Notes, &comments, &run.Progress, &duration)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PlaybookRun{}, ErrNotFound
	}
	if err != nil {
		return types.PlaybookRun{}, fmt.Errorf("scanning run: %w", err)
	}

	run.ID = strconv.FormatInt(rowID, 10)
	run.Status = types.RunStatus(status)

	if run.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return types.PlaybookRun{}, fmt.Errorf("parsing started_at: %w", err)
	}
	if completedAt.Valid {
		parsed, err := time.Parse(timeLayout, completedAt.String)
		if err != nil {
			return types.PlaybookRun{}, fmt.Errorf("parsing completed_at: %w", err)
		}
		run.CompletedAt = &parsed
	}
	if duration.Valid {
		d := duration.Int64
		run.Duration = &d
	}
	if assignedTo.Valid {
		var assignee types.UserRef
		if err := json.Unmarshal([]byte(assignedTo.String), &assignee); err != nil {
			return types.PlaybookRun{}, fmt.Errorf("decoding assignee: %w", err)
		}
		run.AssignedTo = &assignee
	}

	if err := json.Unmarshal([]byte(checkedSteps), &run.CheckedSteps); err != nil {
		return types.PlaybookRun{}, fmt.Errorf("decoding checked steps: %w", err)
	}
	if err := json.Unmarshal([]byte(stepNotes), &run.StepNotes); err != nil {
		return types.PlaybookRun{}, fmt.Errorf("decoding step notes: %w", err)
	}
	if err := json.Unmarshal([]byte(comments), &run.Comments); err != nil {
		return types.PlaybookRun{}, fmt.Errorf("decoding comments: %w", err)
	}

	normalizeRun(&run)

	return run, nil
}

func marshalPlaybookLists(pb *types.Playbook) (tags, triggers, related string, err error) {
	tagsB, err := json.Marshal(pb.Tags)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding tags: %w", err)
	}
	triggersB, err := json.Marshal(pb.Triggers)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding triggers: %w", err)
	}
	relatedB, err := json.Marshal(pb.RelatedPlaybooks)
	if err != nil {
		return "", "", "", fmt.Errorf("encoding related playbooks: %w", err)
	}

	return string(tagsB), string(triggersB), string(relatedB), nil
}

func marshalRunFields(run *types.PlaybookRun) (checkedSteps, stepNotes, comments string, assignedTo any, err error) {
	checkedB, err := json.Marshal(run.CheckedSteps)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("encoding checked steps: %w", err)
	}
	notesB, err := json.Marshal(run.StepNotes)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("encoding step notes: %w", err)
	}
	commentsB, err := json.Marshal(run.Comments)
	if err != nil {
		return "", "", "", nil, fmt.Errorf("encoding comments: %w", err)
	}

	if run.AssignedTo != nil {
		assigneeB, err := json.Marshal(run.AssignedTo)
		if err != nil {
			return "", "", "", nil, fmt.Errorf("encoding assignee: %w", err)
		}
		assignedTo = string(assigneeB)
	}

	return string(checkedB), string(notesB), string(commentsB), assignedTo, nil
}
