package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/waypoint/internal/execution"
	"github.com/fyrsmithlabs/waypoint/internal/value"
)

const executionColumns = `id, tenant_id, journey_id, process_id, state, inputs, error, queued_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*execution.Execution, error) {
	var (
		e           execution.Execution
		state       string
		inputs      string
		queuedAt    int64
		startedAt   sql.NullInt64
		completedAt sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.TenantID, &e.JourneyID, &e.ProcessID, &state, &inputs, &e.Error, &queuedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	st, err := execution.ParseState(state)
	if err != nil {
		return nil, err
	}
	e.State = st
	if e.Inputs, err = value.ParseMap([]byte(inputs)); err != nil {
		return nil, fmt.Errorf("execution %s inputs: %w", e.ID, err)
	}
	e.QueuedAt = fromNanos(queuedAt)
	e.StartedAt = timePtr(startedAt)
	e.CompletedAt = timePtr(completedAt)
	return &e, nil
}

func marshalMap(m value.Map) (string, error) {
	b, err := m.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Create implements execution.Repository. Executions start either pending
// (queued) or running (synchronous path).
func (s *Store) Create(ctx context.Context, e *execution.Execution) error {
	if e.State != execution.StatePending && e.State != execution.StateRunning {
		return fmt.Errorf("%w: cannot create execution in state %s", execution.ErrInvalidTransition, e.State)
	}
	inputs, err := marshalMap(e.Inputs)
	if err != nil {
		return fmt.Errorf("encoding inputs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO executions
		(id, tenant_id, journey_id, process_id, state, inputs, error, queued_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.TenantID, e.JourneyID, e.ProcessID, string(e.State), inputs, e.Error,
		toNanos(e.QueuedAt), nullNanos(e.StartedAt), nullNanos(e.CompletedAt))
	if err := classify(err); err != nil {
		return fmt.Errorf("inserting execution %s: %w", e.ID, err)
	}
	return nil
}

// Get implements execution.Repository.
func (s *Store) Get(ctx context.Context, id string) (*execution.Execution, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+executionColumns+` FROM executions WHERE id = ?`), id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", execution.ErrExecutionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading execution %s: %w", id, err)
	}
	return e, nil
}

// GetResult implements execution.Repository.
func (s *Store) GetResult(ctx context.Context, executionID string) (*execution.Result, error) {
	var (
		output, metadata string
		createdAt        int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT output, metadata, created_at FROM execution_results WHERE execution_id = ?`),
		executionID).Scan(&output, &metadata, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", execution.ErrResultNotFound, executionID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading result %s: %w", executionID, err)
	}

	r := &execution.Result{ExecutionID: executionID, CreatedAt: fromNanos(createdAt)}
	if r.Output, err = value.ParseMap([]byte(output)); err != nil {
		return nil, fmt.Errorf("result %s output: %w", executionID, err)
	}
	if r.Metadata, err = value.ParseMap([]byte(metadata)); err != nil {
		return nil, fmt.Errorf("result %s metadata: %w", executionID, err)
	}
	return r, nil
}

func (s *Store) queryExecutions(ctx context.Context, query string, args ...any) ([]*execution.Execution, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*execution.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListPending implements execution.Repository. Oldest first by insertion.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*execution.Execution, error) {
	if limit <= 0 {
		limit = 10
	}
	out, err := s.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE state = ? ORDER BY seq ASC LIMIT ?`,
		string(execution.StatePending), limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending executions: %w", err)
	}
	return out, nil
}

// ListByJourney implements execution.Repository. Newest first.
func (s *Store) ListByJourney(ctx context.Context, journeyID string) ([]*execution.Execution, error) {
	out, err := s.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE journey_id = ? ORDER BY queued_at DESC, seq DESC`,
		journeyID)
	if err != nil {
		return nil, fmt.Errorf("listing executions for journey %s: %w", journeyID, err)
	}
	return out, nil
}

// Claim implements execution.Repository with a conditional update; exactly
// one caller can move a row out of pending.
func (s *Store) Claim(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE executions SET state = ?, started_at = ? WHERE id = ? AND state = ?`),
		string(execution.StateRunning), toNanos(startedAt), id, string(execution.StatePending))
	if err != nil {
		return false, fmt.Errorf("claiming execution %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming execution %s: %w", id, err)
	}
	return n == 1, nil
}

// Finish implements execution.Repository.
func (s *Store) Finish(ctx context.Context, id string, state execution.State, errMsg string, result *execution.Result, completedAt time.Time) error {
	if !execution.StateRunning.CanTransitionTo(state) {
		return fmt.Errorf("%w: running -> %s", execution.ErrInvalidTransition, state)
	}
	if (state == execution.StateCompleted) != (result != nil) {
		return fmt.Errorf("result must be present iff state is completed (state %s)", state)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.rebind(`UPDATE executions SET state = ?, error = ?, completed_at = ? WHERE id = ? AND state = ?`),
			string(state), errMsg, toNanos(completedAt), id, string(execution.StateRunning))
		if err != nil {
			return fmt.Errorf("finishing execution %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("finishing execution %s: %w", id, err)
		}
		if n != 1 {
			return s.transitionError(ctx, tx, id, state)
		}

		if result == nil {
			return nil
		}
		output, err := marshalMap(result.Output)
		if err != nil {
			return fmt.Errorf("encoding output: %w", err)
		}
		metadata, err := marshalMap(result.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		createdAt := result.CreatedAt
		if createdAt.IsZero() {
			createdAt = completedAt
		}
		_, err = tx.ExecContext(ctx,
			s.rebind(`INSERT INTO execution_results (execution_id, output, metadata, created_at) VALUES (?, ?, ?, ?)`),
			id, output, metadata, toNanos(createdAt))
		if err := classify(err); err != nil {
			return fmt.Errorf("storing result for %s: %w", id, err)
		}
		return nil
	})
}

// Cancel implements execution.Repository.
func (s *Store) Cancel(ctx context.Context, id string, at time.Time) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.rebind(`UPDATE executions SET state = ?, completed_at = ? WHERE id = ? AND state = ?`),
			string(execution.StateCancelled), toNanos(at), id, string(execution.StatePending))
		if err != nil {
			return fmt.Errorf("cancelling execution %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("cancelling execution %s: %w", id, err)
		}
		if n != 1 {
			return s.transitionError(ctx, tx, id, execution.StateCancelled)
		}
		return nil
	})
}

// transitionError explains why a conditional update matched no row.
func (s *Store) transitionError(ctx context.Context, tx *sql.Tx, id string, target execution.State) error {
	var current string
	err := tx.QueryRowContext(ctx, s.rebind(`SELECT state FROM executions WHERE id = ?`), id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", execution.ErrExecutionNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("loading execution %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s -> %s (execution %s)", execution.ErrInvalidTransition, current, target, id)
}
