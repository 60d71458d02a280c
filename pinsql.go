package pinsql

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Dialect identifies the SQL dialect for placeholder rendering, identifier
// quoting, catalog queries and a few dialect-specific parsing behaviors.
type Dialect int

const (
	Postgres Dialect = iota
	MySQL
	SQLite
	SQLServer
)

// P is a convenient alias for a named parameter set. Keys may be written with
// or without the leading colon: P{"id": 1} and P{":id": 1} bind the same token.
type P = map[string]any

// Config defines the connection settings and behavior tweaks of a Session.
// Unspecified fields fall back to sensible per-dialect defaults.
type Config struct {
	Dialect Dialect
	// Driver overrides the database/sql driver name registered for Dialect.
	// Required for SQLServer, since no driver is bundled for it.
	Driver string
	// DSN, when set, is handed to the driver verbatim and the discrete
	// connection fields below are ignored.
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// Dir is the directory holding SQLite database files.
	Dir    string
	Params map[string]string

	// Debug enables the per-call trace returned in Result.Trace and
	// BatchResult.Trace, mirrored to Logger at debug level.
	Debug bool
	// MaxNameLen limits the maximum allowed length of a token name.
	MaxNameLen int
	// CacheSize bounds the compiled-query and primary-key caches.
	CacheSize int
	// ConnectRetries is the number of extra connection attempts after the
	// first one fails. RetryDelay is the initial backoff, doubled per attempt.
	ConnectRetries int
	RetryDelay     time.Duration

	Logger  *slog.Logger
	Metrics *Metrics
}

const (
	defaultMaxNameLen = 64
	defaultCacheSize  = 512
	defaultRetryDelay = 250 * time.Millisecond
)

// String returns the string representation of the dialect.
func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case MySQL:
		return "mysql"
	case SQLite:
		return "sqlite"
	case SQLServer:
		return "sqlserver"
	default:
		return "unknown"
	}
}

// ParseDialect is the inverse of Dialect.String. A few common aliases are
// accepted as well.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	}
	return 0, fmt.Errorf("pinsql: unknown dialect %q", s)
}

// Quote renders ident as a quoted identifier for the dialect. Embedded quote
// characters are doubled.
func (d Dialect) Quote(ident string) string {
	switch d {
	case MySQL:
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	case SQLServer:
		return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
	default:
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
}

// defaultConfig merges user config with per-dialect defaults.
func defaultConfig(config ...Config) Config {
	c := Config{}

	if len(config) > 0 {
		c = config[0]
	}

	if c.MaxNameLen <= 0 {
		c.MaxNameLen = defaultMaxNameLen
	}
	if c.CacheSize <= 0 {
		c.CacheSize = defaultCacheSize
	}
	if c.ConnectRetries < 0 {
		c.ConnectRetries = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Port == 0 {
		switch c.Dialect {
		case MySQL:
			c.Port = 3306
		case Postgres:
			c.Port = 5432
		case SQLServer:
			c.Port = 1433
		}
	}
	if c.Host == "" && c.Dialect != SQLite {
		c.Host = "localhost"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}
