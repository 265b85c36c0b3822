package roles

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresStoreMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS role_members").
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewPostgresStore(db)
	require.NoError(t, err)
	return s, mock
}

func TestPostgresStoreMembership(t *testing.T) {
	ctx := context.Background()
	s, mock := newPostgresStoreMock(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO role_members")).
		WithArgs(MinterRole.String(), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Add(ctx, MinterRole, "alice"))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(1) FROM role_members")).
		WithArgs(MinterRole.String(), "alice").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	held, err := s.Has(ctx, MinterRole, "alice")
	require.NoError(t, err)
	assert.True(t, held)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM role_members")).
		WithArgs(MinterRole.String(), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Remove(ctx, MinterRole, "alice"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreAdminOf(t *testing.T) {
	ctx := context.Background()
	s, mock := newPostgresStoreMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT admin_role FROM role_admins")).
		WithArgs(MinterRole.String()).
		WillReturnRows(sqlmock.NewRows([]string{"admin_role"}))
	_, declared, err := s.AdminOf(ctx, MinterRole)
	require.NoError(t, err)
	assert.False(t, declared)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO role_admins")).
		WithArgs(MinterRole.String(), MinterAdminRole.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.DeclareRole(ctx, MinterRole, MinterAdminRole))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT admin_role FROM role_admins")).
		WithArgs(MinterRole.String()).
		WillReturnRows(sqlmock.NewRows([]string{"admin_role"}).AddRow(MinterAdminRole.String()))
	admin, declared, err := s.AdminOf(ctx, MinterRole)
	require.NoError(t, err)
	assert.True(t, declared)
	assert.Equal(t, MinterAdminRole, admin)
}

func TestPostgresStoreInitFlag(t *testing.T) {
	ctx := context.Background()
	s, mock := newPostgresStoreMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM registry_meta")).
		WillReturnRows(sqlmock.NewRows([]string{"value"}))
	done, err := s.Initialized(ctx)
	require.NoError(t, err)
	assert.False(t, done)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO registry_meta")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkInitialized(ctx))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT value FROM registry_meta")).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("true"))
	done, err = s.Initialized(ctx)
	require.NoError(t, err)
	assert.True(t, done)
}
