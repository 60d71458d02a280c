package pinsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Entry is one statement of a transaction batch.
type Entry struct {
	Query  string
	Params P
}

// Batch is an ordered list of statements run as one atomic unit.
type Batch []Entry

// Combined returns a single-entry batch. When query holds several
// ';'-separated statements, RunBatch expands it into one entry per statement,
// all sharing params.
func Combined(query string, params P) Batch {
	return Batch{{Query: query, Params: params}}
}

// BatchResult is the outcome of RunBatch.
type BatchResult struct {
	// ID identifies the batch in logs.
	ID string
	// Counts holds the affected-row count of every statement, in order.
	Counts []int64
	DryRun bool
	// Warnings holds the non-fatal bind failures of all statements.
	Warnings []error
	Trace    []string
}

// InTx reports whether a transaction is active.
func (s *Session) InTx() bool { return s.tx != nil }

// Begin starts a transaction on the session connection. Beginning while a
// transaction is active fails with ErrTxActive and leaves it untouched.
func (s *Session) Begin(ctx context.Context) error {
	if s.tx != nil {
		return ErrTxActive
	}
	if err := s.ensureConn(ctx, s.newTrace()); err != nil {
		return err
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pinsql: could not begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the active transaction.
func (s *Session) Commit(ctx context.Context) error {
	if s.tx == nil {
		return ErrNoTx
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCommit, err)
	}
	return nil
}

// Rollback cancels the active transaction.
func (s *Session) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return ErrNoTx
	}
	err := s.tx.Rollback()
	s.tx = nil
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %w", ErrRollback, err)
	}
	return nil
}

// RunBatch runs batch inside one transaction, strictly in order.
//
// Any missing token, prepare failure or execution failure rolls the whole
// batch back. With dryRun the transaction is always rolled back, even when
// every statement succeeded, and the per-statement counts are returned.
// Otherwise bind warnings also roll back and fail with ErrBatchRolledBack;
// a failed commit falls back to a rollback and fails with ErrCommit.
//
// The returned BatchResult is non-nil whenever the transaction was begun,
// including on failure.
func (s *Session) RunBatch(ctx context.Context, batch Batch, dryRun bool) (*BatchResult, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	batch = s.expand(batch)

	if s.tx != nil {
		return nil, ErrTxActive
	}

	res := &BatchResult{ID: uuid.NewString(), DryRun: dryRun}
	tr := s.newTrace("batch", res.ID)
	defer func() { res.Trace = tr.entries }()

	tr.add("begin transaction with %d statements", len(batch))
	if err := s.Begin(ctx); err != nil {
		s.config.Metrics.observeBatch("failed")
		return nil, err
	}
	if !s.InTx() {
		s.config.Metrics.observeBatch("failed")
		return nil, fmt.Errorf("%w: transaction was requested but does not exist", ErrNoTx)
	}

	for i, e := range batch {
		n, warnings, err := s.runEntry(ctx, e, tr)
		res.Warnings = append(res.Warnings, warnings...)
		if err != nil {
			err = fmt.Errorf("pinsql: batch statement %d: %w", i+1, err)
			if rbErr := s.Rollback(ctx); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			s.log.Info("batch rolled back", "batch", res.ID, "err", err)
			s.config.Metrics.observeBatch("failed")
			return res, err
		}
		res.Counts = append(res.Counts, n)
	}

	if dryRun {
		tr.add("dry run, rolling back")
		if err := s.Rollback(ctx); err != nil {
			s.config.Metrics.observeBatch("failed")
			return res, err
		}
		if len(res.Warnings) > 0 {
			tr.add("dry run completed with %d warnings", len(res.Warnings))
		}
		s.config.Metrics.observeBatch("dry_run")
		return res, nil
	}

	if len(res.Warnings) > 0 {
		tr.add("warnings present, rolling back")
		err := errors.Join(ErrBatchRolledBack, errors.Join(res.Warnings...))
		if rbErr := s.Rollback(ctx); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
		s.log.Info("batch rolled back", "batch", res.ID, "warnings", len(res.Warnings))
		s.config.Metrics.observeBatch("rolled_back")
		return res, err
	}

	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		err = fmt.Errorf("%w: %w", ErrCommit, err)
		// database/sql ends the transaction on a failed commit; ErrTxDone
		// means there is nothing left to roll back.
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			err = errors.Join(err, fmt.Errorf("%w: %w", ErrRollback, rbErr))
		} else {
			tr.add("commit failed, transaction rolled back")
		}
		s.log.Info("batch commit failed", "batch", res.ID, "err", err)
		s.config.Metrics.observeBatch("failed")
		return res, err
	}
	tr.add("transaction committed")
	s.config.Metrics.observeBatch("committed")
	return res, nil
}

// expand splits a single combined entry into one entry per statement.
func (s *Session) expand(batch Batch) Batch {
	if len(batch) != 1 {
		return batch
	}
	parts := splitStatements(s.config.Dialect, batch[0].Query)
	if len(parts) < 2 {
		return batch
	}
	out := make(Batch, len(parts))
	for i, q := range parts {
		out[i] = Entry{Query: q, Params: batch[0].Params}
	}
	return out
}

// runEntry runs one batch statement inside the active transaction and returns
// its affected-row count.
func (s *Session) runEntry(ctx context.Context, e Entry, tr *trace) (int64, []error, error) {
	q := e.Query
	st, args, warnings, err := s.statement(ctx, q, e.Params, tr)
	if err != nil {
		// A token left unbound by a failed bind is a recorded warning; the
		// batch carries on and is rolled back once all statements ran.
		if len(warnings) > 0 && errors.Is(err, ErrParamUnbound) {
			tr.add("statement %q skipped after bind failures", q)
			return 0, warnings, nil
		}
		s.config.Metrics.observeStatement(classify(q), "error")
		return 0, warnings, err
	}
	defer st.Close()

	r, err := st.stmt.ExecContext(ctx, args...)
	if err != nil {
		s.config.Metrics.observeStatement(classify(q), "error")
		return 0, warnings, newExecutionError(err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		s.config.Metrics.observeStatement(classify(q), "error")
		return 0, warnings, newExecutionError(err)
	}
	tr.add("statement executed, %d rows affected", n)
	s.config.Metrics.observeStatement(classify(q), "ok")
	return n, warnings, nil
}
