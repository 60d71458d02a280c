package pinsql

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// driverName returns the database/sql driver registered for the config.
func driverName(c Config) (string, error) {
	if c.Driver != "" {
		return c.Driver, nil
	}
	switch c.Dialect {
	case MySQL:
		return "mysql", nil
	case Postgres:
		return "postgres", nil
	case SQLite:
		return "sqlite3", nil
	}
	return "", fmt.Errorf("%w: %s (set Config.Driver)", ErrDriverUnavailable, c.Dialect)
}

// dataSourceName renders the DSN handed to the driver.
func dataSourceName(c Config) string {
	if c.DSN != "" {
		return c.DSN
	}
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	switch c.Dialect {
	case MySQL:
		mc := mysql.NewConfig()
		mc.User = c.User
		mc.Passwd = c.Password
		mc.Net = "tcp"
		mc.Addr = addr
		mc.DBName = c.Database
		if len(c.Params) > 0 {
			mc.Params = c.Params
		}
		return mc.FormatDSN()
	case SQLite:
		if c.Database == "" || c.Database == ":memory:" {
			return ":memory:"
		}
		return filepath.Join(c.Dir, c.Database)
	default:
		u := url.URL{Scheme: c.Dialect.String(), Host: addr, Path: "/" + c.Database}
		if c.User != "" {
			u.User = url.UserPassword(c.User, c.Password)
		}
		q := url.Values{}
		for k, v := range c.Params {
			q.Set(k, v)
		}
		if c.Dialect == SQLServer && c.Database != "" {
			u.Path = ""
			q.Set("database", c.Database)
		}
		u.RawQuery = q.Encode()
		return u.String()
	}
}

// Open opens a dedicated pool for cfg, acquires the session connection and
// returns the Session. The pool is closed together with the Session.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	cfg = defaultConfig(cfg)
	name, err := driverName(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(name, dataSourceName(cfg))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	// A session holds exactly one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := New(db, cfg)
	s.ownsDB = true
	if err := s.Connect(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Use opens a Session for cfg, runs fn and closes the Session on every path.
func Use(ctx context.Context, cfg Config, fn func(*Session) error) (err error) {
	s, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

// retryConnect calls connect until it succeeds, retries are exhausted or ctx
// is done. The delay doubles after every failed attempt.
func retryConnect(ctx context.Context, retries int, delay time.Duration, connect func(context.Context) (*sql.Conn, error)) (*sql.Conn, error) {
	var err error
	var conn *sql.Conn
	for i := 0; i <= retries; i++ {
		conn, err = connect(ctx)
		if err == nil {
			return conn, nil
		}
		if i == retries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
	return nil, err
}
