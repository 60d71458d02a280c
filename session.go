package pinsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Session executes statements over one logical connection taken from db.
// It keeps the compiled-query cache, the schema snapshot and the transaction
// state for that connection.
//
// A Session is NOT safe for concurrent use.
type Session struct {
	db       *sql.DB
	ownsDB   bool
	conn     *sql.Conn
	tx       *sql.Tx
	config   Config
	log      *slog.Logger
	compiled *lru.Cache[string, *template]
	plans    *lru.Cache[planKey, *scanPlan]
	schema   schemaCache
}

// New returns a Session over db. No connection is acquired until Connect or
// the first statement. Optionally provide a Config; unspecified fields fall
// back to sensible defaults.
func New(db *sql.DB, cfg ...Config) *Session {
	c := defaultConfig(cfg...)
	compiled, _ := lru.New[string, *template](c.CacheSize)
	plans, _ := lru.New[planKey, *scanPlan](c.CacheSize)
	keys, _ := lru.New[string, []string](c.CacheSize)
	return &Session{
		db:       db,
		config:   c,
		log:      c.Logger.With("dialect", c.Dialect.String()),
		compiled: compiled,
		plans:    plans,
		schema:   schemaCache{keys: keys},
	}
}

// Dialect returns the dialect the session renders SQL for.
func (s *Session) Dialect() Dialect { return s.config.Dialect }

// Connect acquires the session connection if none is held, or checks that the
// held one is still alive.
func (s *Session) Connect(ctx context.Context) error {
	return s.ensureConn(ctx, s.newTrace())
}

// Close rolls back an active transaction and releases the connection. If the
// session opened its own pool (see Open), the pool is closed as well.
// Close is safe to call multiple times.
func (s *Session) Close() error {
	var errs []error
	if s.tx != nil {
		if err := s.Rollback(context.Background()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.release(); err != nil {
		errs = append(errs, err)
	}
	if s.ownsDB && s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
		s.db = nil
	}
	return errors.Join(errs...)
}

// ensureConn pings the held connection and replaces it when dead, or acquires
// a new one when none is held.
func (s *Session) ensureConn(ctx context.Context, tr *trace) error {
	if s.conn != nil {
		// The transaction owns the connection; a dead one surfaces on execute.
		if s.tx != nil {
			return nil
		}
		if err := s.conn.PingContext(ctx); err == nil {
			tr.add("connection exists")
			return nil
		}
		_ = s.conn.Close()
		s.conn = nil
		tr.add("connection lost")
	}
	if s.db == nil {
		return fmt.Errorf("%w: session closed", ErrConnect)
	}
	conn, err := retryConnect(ctx, s.config.ConnectRetries, s.config.RetryDelay, s.db.Conn)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	s.conn = conn
	tr.add("connection established")
	return nil
}

// release returns the connection to the pool.
func (s *Session) release() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// compile returns the cached template for q, compiling it on a miss.
func (s *Session) compile(q string) (*template, error) {
	if t, ok := s.compiled.Get(q); ok {
		return t, nil
	}
	t, err := compile(s.config.Dialect, q, s.config.MaxNameLen)
	if err != nil {
		return nil, err
	}
	s.compiled.Add(q, t)
	return t, nil
}

// Verify is the package-level Verify using the session dialect and
// Config.MaxNameLen, the same checks Exec runs before preparing.
func (s *Session) Verify(query string, params P) (TokenMatch, error) {
	tpl, err := s.compile(query)
	if err != nil {
		return TokenMatch{}, err
	}
	return matchTokens(tpl.names, params)
}

// preparer is what both *sql.Conn and *sql.Tx offer for statement preparation.
type preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// prepare prepares tpl inside the active transaction, or on the connection.
func (s *Session) prepare(ctx context.Context, tpl *template) (*Statement, error) {
	var p preparer = s.conn
	if s.tx != nil {
		p = s.tx
	}
	stmt, err := p.PrepareContext(ctx, tpl.sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrepare, err)
	}
	return newStatement(tpl, stmt), nil
}

// --------------------------------
// Trace
// --------------------------------

// trace collects the human-readable steps of one call when debugging is on.
// It is purely observational.
type trace struct {
	on      bool
	log     *slog.Logger
	entries []string
}

func (s *Session) newTrace(attrs ...any) *trace {
	l := s.log
	if len(attrs) > 0 {
		l = l.With(attrs...)
	}
	return &trace{on: s.config.Debug, log: l}
}

func (t *trace) add(format string, args ...any) {
	if !t.on {
		return
	}
	msg := fmt.Sprintf(format, args...)
	t.entries = append(t.entries, msg)
	t.log.Debug(msg)
}
