package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/kernel/internal/kernel/descriptor"
	"github.com/R3E-Network/kernel/pkg/kernelerrors"
)

// Schema is the DatabaseSchema the framework database must carry for
// the scheduler to operate; wired into C3's database handler alongside
// any module-declared schemas.
var Schema = descriptor.DatabaseSchema{
	DatabaseName: "framework",
	Tables: []descriptor.TableSpec{
		{
			Name: "scheduled_events",
			CreateSQL: `CREATE TABLE IF NOT EXISTS scheduled_events (
				id              TEXT PRIMARY KEY,
				name            TEXT NOT NULL,
				description     TEXT,
				function_name   TEXT NOT NULL,
				module_id       TEXT NOT NULL,
				parameters_json TEXT NOT NULL,
				trigger_kind    TEXT NOT NULL,
				interval_unit   TEXT,
				interval_amount INTEGER,
				cron_expression TEXT,
				next_fire_at    DATETIME,
				created_at      DATETIME NOT NULL,
				last_fired_at   DATETIME,
				status          TEXT NOT NULL,
				recurring       INTEGER NOT NULL,
				timeout_seconds INTEGER NOT NULL DEFAULT 0
			)`,
		},
		{
			Name:      "executions",
			CreateSQL: `CREATE TABLE IF NOT EXISTS executions (
				id                  TEXT PRIMARY KEY,
				event_id            TEXT NOT NULL,
				started_at          DATETIME NOT NULL,
				ended_at            DATETIME,
				outcome             TEXT,
				result_summary_json TEXT,
				error_kind          TEXT,
				error_message       TEXT
			)`,
		},
		{
			Name:      "executions_event_idx",
			CreateSQL: `CREATE INDEX IF NOT EXISTS idx_executions_event ON executions(event_id)`,
		},
	},
}

// Store persists ScheduledEvents and Executions in a single SQLite
// database.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-open database handle (normally the
// "framework" handle C3's bootstrap stage opened).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func scanTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

// Insert persists a brand-new event, generating its ID.
func (s *Store) Insert(ctx context.Context, ev *ScheduledEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_events (
			id, name, description, function_name, module_id, parameters_json,
			trigger_kind, interval_unit, interval_amount, cron_expression,
			next_fire_at, created_at, last_fired_at, status, recurring, timeout_seconds
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Name, ev.Description, ev.FunctionName, ev.ModuleID, string(ev.Parameters),
		string(ev.TriggerKind), string(ev.IntervalUnit), ev.IntervalAmount, ev.CronExpression,
		nullTime(ev.NextFireAt), ev.CreatedAt, nullTime(ev.LastFiredAt), string(ev.Status),
		boolToInt(ev.Recurring), ev.TimeoutSeconds,
	)
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.CodeStorageError, "insert scheduled event", err)
	}
	return nil
}

// Get returns one event by ID, or nil if absent.
func (s *Store) Get(ctx context.Context, id string) (*ScheduledEvent, error) {
	row := s.db.QueryRowContext(ctx, baseSelect+` WHERE id = ?`, id)
	ev, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "get scheduled event", err)
	}
	return ev, nil
}

// Filters narrows List's result set; zero values are "don't filter".
type Filters struct {
	Status       Status
	ModuleID     string
	FunctionName string
	Recurring    *bool
}

// List returns events matching filters, newest-created first, capped
// at limit (0 means unlimited).
func (s *Store) List(ctx context.Context, f Filters, limit int) ([]*ScheduledEvent, error) {
	query := baseSelect + ` WHERE 1=1`
	var args []interface{}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.ModuleID != "" {
		query += ` AND module_id = ?`
		args = append(args, f.ModuleID)
	}
	if f.FunctionName != "" {
		query += ` AND function_name = ?`
		args = append(args, f.FunctionName)
	}
	if f.Recurring != nil {
		query += ` AND recurring = ?`
		args = append(args, boolToInt(*f.Recurring))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "list scheduled events", err)
	}
	defer rows.Close()

	var out []*ScheduledEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "scan scheduled event", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DueEvents returns PENDING events whose next_fire_at <= asOf, sorted
// by next_fire_at then id (the tie-break the loop's ordering guarantee
// names).
func (s *Store) DueEvents(ctx context.Context, asOf time.Time) ([]*ScheduledEvent, error) {
	rows, err := s.db.QueryContext(ctx, baseSelect+`
		WHERE status = ? AND next_fire_at IS NOT NULL AND next_fire_at <= ?
		ORDER BY next_fire_at ASC, id ASC`, string(StatusPending), asOf.UTC())
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "query due events", err)
	}
	defer rows.Close()

	var out []*ScheduledEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "scan due event", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// NonTerminalEvents returns every event not in a terminal status
// (COMPLETED/CANCELLED), used by crash recovery on restart.
func (s *Store) NonTerminalEvents(ctx context.Context) ([]*ScheduledEvent, error) {
	rows, err := s.db.QueryContext(ctx, baseSelect+`
		WHERE status NOT IN (?, ?)`, string(StatusCompleted), string(StatusCancelled))
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "query non-terminal events", err)
	}
	defer rows.Close()

	var out []*ScheduledEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "scan non-terminal event", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// UpdateEvent persists the full current state of ev (status,
// next_fire_at, last_fired_at, and the editable fields).
func (s *Store) UpdateEvent(ctx context.Context, ev *ScheduledEvent) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_events SET
			description = ?, parameters_json = ?, trigger_kind = ?, interval_unit = ?,
			interval_amount = ?, cron_expression = ?, next_fire_at = ?, last_fired_at = ?,
			status = ?, timeout_seconds = ?
		WHERE id = ?`,
		ev.Description, string(ev.Parameters), string(ev.TriggerKind), string(ev.IntervalUnit),
		ev.IntervalAmount, ev.CronExpression, nullTime(ev.NextFireAt), nullTime(ev.LastFiredAt),
		string(ev.Status), ev.TimeoutSeconds, ev.ID,
	)
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.CodeStorageError, "update scheduled event", err)
	}
	return nil
}

// InsertExecution creates a new append-only Execution row.
func (s *Store) InsertExecution(ctx context.Context, ex *Execution) error {
	if ex.ID == "" {
		ex.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (id, event_id, started_at, ended_at, outcome, result_summary_json, error_kind, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ex.ID, ex.EventID, ex.StartedAt, nullTime(ex.EndedAt), string(ex.Outcome),
		string(ex.ResultSummary), ex.ErrorKind, ex.ErrorMessage,
	)
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.CodeStorageError, "insert execution", err)
	}
	return nil
}

// FinishExecution persists execs' terminal fields together with ev's
// resulting state in a single transaction, so a crash between the two
// writes can never leave an execution ended while its event is still
// RUNNING (or vice-versa) — the inconsistency crash recovery would
// otherwise have to paper over.
func (s *Store) FinishExecution(ctx context.Context, execs []*Execution, ev *ScheduledEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return kernelerrors.Wrap(kernelerrors.CodeStorageError, "begin finish-execution transaction", err)
	}
	defer tx.Rollback()

	for _, ex := range execs {
		if _, err := tx.ExecContext(ctx, `
			UPDATE executions SET ended_at = ?, outcome = ?, result_summary_json = ?, error_kind = ?, error_message = ?
			WHERE id = ?`,
			nullTime(ex.EndedAt), string(ex.Outcome), string(ex.ResultSummary), ex.ErrorKind, ex.ErrorMessage, ex.ID,
		); err != nil {
			return kernelerrors.Wrap(kernelerrors.CodeStorageError, "update execution", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE scheduled_events SET
			description = ?, parameters_json = ?, trigger_kind = ?, interval_unit = ?,
			interval_amount = ?, cron_expression = ?, next_fire_at = ?, last_fired_at = ?,
			status = ?, timeout_seconds = ?
		WHERE id = ?`,
		ev.Description, string(ev.Parameters), string(ev.TriggerKind), string(ev.IntervalUnit),
		ev.IntervalAmount, ev.CronExpression, nullTime(ev.NextFireAt), nullTime(ev.LastFiredAt),
		string(ev.Status), ev.TimeoutSeconds, ev.ID,
	); err != nil {
		return kernelerrors.Wrap(kernelerrors.CodeStorageError, "update scheduled event", err)
	}

	if err := tx.Commit(); err != nil {
		return kernelerrors.Wrap(kernelerrors.CodeStorageError, "commit finish-execution transaction", err)
	}
	return nil
}

// OpenExecutionsFor returns Executions for eventID lacking an
// ended_at, used by crash recovery to find stuck RUNNING fires.
func (s *Store) OpenExecutionsFor(ctx context.Context, eventID string) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, started_at, ended_at, outcome, result_summary_json, error_kind, error_message
		FROM executions WHERE event_id = ? AND ended_at IS NULL`, eventID)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "query open executions", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		ex := &Execution{}
		var ended sql.NullTime
		var resultJSON string
		if err := rows.Scan(&ex.ID, &ex.EventID, &ex.StartedAt, &ended, &ex.Outcome, &resultJSON, &ex.ErrorKind, &ex.ErrorMessage); err != nil {
			return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "scan open execution", err)
		}
		ex.EndedAt = scanTime(ended)
		ex.ResultSummary = []byte(resultJSON)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// ExecutionsForEvent returns every Execution recorded for eventID,
// most recent first.
func (s *Store) ExecutionsForEvent(ctx context.Context, eventID string) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, started_at, ended_at, outcome, result_summary_json, error_kind, error_message
		FROM executions WHERE event_id = ? ORDER BY started_at DESC`, eventID)
	if err != nil {
		return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "query executions for event", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		ex := &Execution{}
		var ended sql.NullTime
		var resultJSON string
		if err := rows.Scan(&ex.ID, &ex.EventID, &ex.StartedAt, &ended, &ex.Outcome, &resultJSON, &ex.ErrorKind, &ex.ErrorMessage); err != nil {
			return nil, kernelerrors.Wrap(kernelerrors.CodeStorageError, "scan execution", err)
		}
		ex.EndedAt = scanTime(ended)
		ex.ResultSummary = []byte(resultJSON)
		out = append(out, ex)
	}
	return out, rows.Err()
}

const baseSelect = `SELECT id, name, description, function_name, module_id, parameters_json,
	trigger_kind, interval_unit, interval_amount, cron_expression,
	next_fire_at, created_at, last_fired_at, status, recurring, timeout_seconds
	FROM scheduled_events`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*ScheduledEvent, error) {
	var ev ScheduledEvent
	var description, intervalUnit, cronExpr, paramsJSON, triggerKind, status string
	var nextFireAt, lastFiredAt sql.NullTime
	var recurring int

	err := row.Scan(&ev.ID, &ev.Name, &description, &ev.FunctionName, &ev.ModuleID, &paramsJSON,
		&triggerKind, &intervalUnit, &ev.IntervalAmount, &cronExpr,
		&nextFireAt, &ev.CreatedAt, &lastFiredAt, &status, &recurring, &ev.TimeoutSeconds)
	if err != nil {
		return nil, err
	}

	ev.Description = description
	ev.Parameters = []byte(paramsJSON)
	ev.TriggerKind = TriggerKind(triggerKind)
	ev.IntervalUnit = IntervalUnit(intervalUnit)
	ev.CronExpression = cronExpr
	ev.NextFireAt = scanTime(nextFireAt)
	ev.CreatedAt = ev.CreatedAt.UTC()
	ev.LastFiredAt = scanTime(lastFiredAt)
	ev.Status = Status(status)
	ev.Recurring = recurring != 0
	return &ev, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
