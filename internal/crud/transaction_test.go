package crud_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/blagoySimandov/ampleadmin/internal/apperr"
	"github.com/blagoySimandov/ampleadmin/internal/crud"
	"github.com/blagoySimandov/ampleadmin/internal/metadata"
	"github.com/blagoySimandov/ampleadmin/internal/query"
	"github.com/blagoySimandov/ampleadmin/internal/record"
)

type rejectingBeforeCreate struct{}

func (rejectingBeforeCreate) BeforeCreate(context.Context, *crud.HookContext, *crud.CreateOperation) error {
	return apperr.Validation("title", "required")
}

func newPostgresEngine(t *testing.T, hooks any) (*crud.Engine, sqlmock.Sqlmock) {
	t.Helper()
	sqldb, mock, err := sqlmock.New()
	require.NoError(t, err)
	bdb := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() { _ = bdb.Close() })

	reg := metadata.NewRegistry(bdb)
	reg.MustRegister(noteDefinition)
	engine := crud.NewEngine(bdb, reg, record.NewBuilder(nil), crud.WithDebug(true))
	if hooks != nil {
		require.NoError(t, engine.Register("notes", hooks))
	}
	return engine, mock
}

func TestHookErrorRollsBackTransaction(t *testing.T) {
	engine, mock := newPostgresEngine(t, rejectingBeforeCreate{})
	mock.ExpectBegin()
	mock.ExpectRollback()

	env := engine.Execute(context.Background(), "notes", &crud.CreateRequest{
		Values: []record.ValueAssignment{set("body", "no title")},
	}, nil)
	assert.Equal(t, crud.StatusFailed, env.Status)
	assert.Contains(t, env.Error, "title: required")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReturnsPrimaryKeyOnPostgres(t *testing.T) {
	engine, mock := newPostgresEngine(t, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "notes" \("title"\) VALUES \('a'\) RETURNING "id"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	env := engine.Execute(context.Background(), "notes", &crud.CreateRequest{
		Values: []record.ValueAssignment{set("title", "a"), set("$ignored", true)},
	}, nil)
	require.True(t, env.OK(), env.Error)
	assert.EqualValues(t, 7, env.CreatedID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreErrorRollsBackOnPostgres(t *testing.T) {
	engine, mock := newPostgresEngine(t, nil)
	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE "notes" SET "done" = TRUE WHERE .*"title" = 'a'.* RETURNING "id"`).
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	env := engine.Execute(context.Background(), "notes", &crud.UpdateRequest{
		Filters: query.FilterGroup{{{Column: "title", Operator: query.OpEq, Operand: "a"}}},
		Values:  []record.ValueAssignment{set("done", true)},
	}, nil)
	assert.Equal(t, crud.StatusFailed, env.Status)
	assert.Contains(t, env.Error, "update rows")
	assert.NoError(t, mock.ExpectationsWereMet())
}
