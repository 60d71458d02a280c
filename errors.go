package pinsql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

var (
	ErrMalformedQuery    = errors.New("pinsql: empty query")
	ErrParamMissing      = errors.New("pinsql: missing parameter")
	ErrParamDuplicate    = errors.New("pinsql: parameter given both with and without colon prefix")
	ErrParamNameTooLong  = errors.New("pinsql: parameter name too long")
	ErrParamUnknown      = errors.New("pinsql: statement has no such parameter")
	ErrParamUnbound      = errors.New("pinsql: parameter not bound")
	ErrCompositeValue    = errors.New("pinsql: parameter value is composite")
	ErrPrepare           = errors.New("pinsql: prepare failed")
	ErrExecution         = errors.New("pinsql: execution failed")
	ErrSchemaValidation  = errors.New("pinsql: schema validation failed")
	ErrNoColumns         = errors.New("pinsql: no columns given")
	ErrNoPrimaryKey      = errors.New("pinsql: table has no primary key")
	ErrUpsertUnsupported = errors.New("pinsql: upsert not supported by dialect")
	ErrTxActive          = errors.New("pinsql: transaction already active")
	ErrNoTx              = errors.New("pinsql: no active transaction")
	ErrEmptyBatch        = errors.New("pinsql: empty transaction batch")
	ErrBatchRolledBack   = errors.New("pinsql: batch rolled back after warnings")
	ErrCommit            = errors.New("pinsql: could not commit")
	ErrRollback          = errors.New("pinsql: could not roll back")
	ErrConnect           = errors.New("pinsql: could not connect")
	ErrDriverUnavailable = errors.New("pinsql: no driver for dialect")
	ErrScanDest          = errors.New("pinsql: unsupported scan destination")
	ErrFieldAmbiguous    = errors.New("pinsql: ambiguous struct field for column")
)

// TokenMismatchError reports tokens in a query that have no bound parameter.
type TokenMismatchError struct {
	Missing []string
}

func (e *TokenMismatchError) Error() string {
	return fmt.Sprintf("pinsql: missing %d parameters: %s", len(e.Missing), strings.Join(e.Missing, ", "))
}

func (e *TokenMismatchError) Is(target error) bool { return target == ErrParamMissing }

// BindError reports a value that could not be attached to a statement token.
// It is collected as a warning rather than aborting the call.
type BindError struct {
	Name string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("pinsql: could not bind :%s: %v", e.Name, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// ExecutionError wraps a driver failure. When the driver exposes an error
// code it is carried in Code, with Source naming the server family.
type ExecutionError struct {
	Source  string
	Code    string
	Message string
	Err     error
}

func newExecutionError(err error) *ExecutionError {
	e := &ExecutionError{Err: err}
	var myErr *mysql.MySQLError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &myErr):
		e.Source, e.Code, e.Message = "MySQL", strconv.Itoa(int(myErr.Number)), myErr.Message
	case errors.As(err, &pqErr):
		e.Source, e.Code, e.Message = "Postgres", string(pqErr.Code), pqErr.Message
	}
	return e
}

func (e *ExecutionError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("pinsql: execution failed: %s (%s error %s)", e.Message, e.Source, e.Code)
	}
	return fmt.Sprintf("pinsql: execution failed: %v", e.Err)
}

func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

func (e *ExecutionError) Unwrap() error { return e.Err }

// SchemaError reports a table or column unknown to the schema snapshot.
type SchemaError struct {
	Table  string
	Column string // empty when the table itself is unknown
}

func (e *SchemaError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("pinsql: unknown table %q", e.Table)
	}
	return fmt.Sprintf("pinsql: unknown column %q in table %q", e.Column, e.Table)
}

func (e *SchemaError) Is(target error) bool { return target == ErrSchemaValidation }
