package pinsql

import (
	"context"
	"database/sql"
	"reflect"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type Audit struct {
	CreatedAt time.Time `db:"created_at"`
	UpdatedBy *string   `db:"updated_by"`
}

type user struct {
	ID     int64  `db:"id"`
	Name   string `db:"name"`
	Email  sql.NullString
	Secret string `db:"-"`
	Audit
}

var scanUsersQuery = "SELECT id, name, email, created_at, updated_by FROM users WHERE id > ?"

func scanUserRows() *sqlmock.Rows {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{"id", "name", "email", "created_at", "updated_by"}).
		AddRow(int64(1), "ada", "ada@example.com", at, "root").
		AddRow(int64(2), "bob", nil, at, nil)
}

func TestScan_StructSlice(t *testing.T) {
	s, mock := newMockSession(t, MySQL)
	mock.ExpectPrepare(scanUsersQuery).ExpectQuery().WithArgs(int64(0)).WillReturnRows(scanUserRows())

	users := []user{{Name: "stale"}}
	err := s.Scan(context.Background(), &users,
		"SELECT id, name, email, created_at, updated_by FROM users WHERE id > :min", P{"min": 0})
	require.NoError(t, err)
	require.Len(t, users, 2)

	require.Equal(t, int64(1), users[0].ID)
	require.Equal(t, "ada", users[0].Name)
	require.Equal(t, sql.NullString{String: "ada@example.com", Valid: true}, users[0].Email)
	require.Equal(t, 2024, users[0].CreatedAt.Year())
	require.NotNil(t, users[0].UpdatedBy)
	require.Equal(t, "root", *users[0].UpdatedBy)

	require.Equal(t, "bob", users[1].Name)
	require.False(t, users[1].Email.Valid)
	require.Nil(t, users[1].UpdatedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_PointerSliceAndPlanCache(t *testing.T) {
	s, mock := newMockSession(t, MySQL)
	for i := 0; i < 2; i++ {
		mock.ExpectPrepare(scanUsersQuery).ExpectQuery().WithArgs(int64(0)).WillReturnRows(scanUserRows())
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		var users []*user
		err := s.Scan(ctx, &users,
			"SELECT id, name, email, created_at, updated_by FROM users WHERE id > :min", P{"min": 0})
		require.NoError(t, err)
		require.Len(t, users, 2)
		require.Equal(t, "bob", users[1].Name)
	}
	require.Equal(t, 1, s.plans.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_SingleStruct(t *testing.T) {
	s, mock := newMockSession(t, Postgres)
	mock.ExpectPrepare("SELECT id, name, extra FROM users WHERE id = $1").
		ExpectQuery().
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "NAME", "extra"}).AddRow(int64(7), "ada", "ignored"))

	var u user
	err := s.Scan(context.Background(), &u, "SELECT id, name, extra FROM users WHERE id = :id", P{"id": 7})
	require.NoError(t, err)
	require.Equal(t, int64(7), u.ID)
	require.Equal(t, "ada", u.Name)
	require.Empty(t, u.Secret)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_NoRows(t *testing.T) {
	m := NewMetrics("scan_test")
	s, mock := newMockSession(t, MySQL, Config{Metrics: m})
	mock.ExpectPrepare("SELECT id FROM users WHERE id = ?").
		ExpectQuery().
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	var u user
	err := s.Scan(context.Background(), &u, "SELECT id FROM users WHERE id = :id", P{"id": 9})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.Equal(t, 1.0, testutil.ToFloat64(m.statements.WithLabelValues(classRead, "ok")))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_Scalars(t *testing.T) {
	s, mock := newMockSession(t, SQLite)
	mock.ExpectPrepare("SELECT name FROM users").
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("ada").AddRow("bob"))
	mock.ExpectPrepare("SELECT COUNT(*) FROM users").
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(int64(2)))

	ctx := context.Background()
	var names []string
	require.NoError(t, s.Scan(ctx, &names, "SELECT name FROM users", nil))
	require.Equal(t, []string{"ada", "bob"}, names)

	var n int
	require.NoError(t, s.Scan(ctx, &n, "SELECT COUNT(*) FROM users", nil))
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_ScalarNeedsOneColumn(t *testing.T) {
	s, mock := newMockSession(t, MySQL)
	mock.ExpectPrepare("SELECT id, name FROM users").
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "ada"))

	var ids []int64
	err := s.Scan(context.Background(), &ids, "SELECT id, name FROM users", nil)
	require.ErrorIs(t, err, ErrScanDest)
	require.ErrorIs(t, err, ErrExecution)
}

func TestScan_AmbiguousField(t *testing.T) {
	type inner struct {
		Name string `db:"name"`
	}
	type outer struct {
		Name string `db:"name"`
		inner
	}
	s, mock := newMockSession(t, MySQL)
	mock.ExpectPrepare("SELECT name FROM users").
		ExpectQuery().
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("ada"))

	var out []outer
	err := s.Scan(context.Background(), &out, "SELECT name FROM users", nil)
	require.ErrorIs(t, err, ErrFieldAmbiguous)
}

func TestScan_BadDestination(t *testing.T) {
	s, mock := newMockSession(t, MySQL)
	var users []user
	require.ErrorIs(t, s.Scan(context.Background(), users, "SELECT 1", nil), ErrScanDest)
	require.ErrorIs(t, s.Scan(context.Background(), (*user)(nil), "SELECT 1", nil), ErrScanDest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_CompositeValueIsReported(t *testing.T) {
	s, mock := newMockSession(t, MySQL)
	mock.ExpectPrepare("SELECT id FROM users WHERE id = ?")

	var u user
	err := s.Scan(context.Background(), &u, "SELECT id FROM users WHERE id = :id", P{"id": map[string]int{"a": 1}})
	require.ErrorIs(t, err, ErrParamUnbound)
	require.ErrorIs(t, err, ErrCompositeValue)
	var be *BindError
	require.ErrorAs(t, err, &be)
	require.Equal(t, "id", be.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScan_MissingParameter(t *testing.T) {
	s, _ := newMockSession(t, MySQL)
	var u user
	err := s.Scan(context.Background(), &u, "SELECT id FROM users WHERE id = :id", nil)
	require.ErrorIs(t, err, ErrParamMissing)
}

func TestFieldMap_Flattens(t *testing.T) {
	type Address struct {
		City string `db:"city"`
	}
	type customer struct {
		ID       int64
		Home     *Address
		Note     string `db:"note,omitempty"`
		internal string
	}
	m := fieldMap(reflect.TypeOf((*customer)(nil)).Elem())
	require.Equal(t, []int{0}, m["id"].path)
	require.Equal(t, []int{1, 0}, m["city"].path)
	require.Equal(t, []int{2}, m["note"].path)
	require.NotContains(t, m, "internal")
	require.NotContains(t, m, "home")

	var c customer
	fieldAt(reflect.ValueOf(&c).Elem(), m["city"].path).SetString("Turin")
	require.NotNil(t, c.Home)
	require.Equal(t, "Turin", c.Home.City)
}
