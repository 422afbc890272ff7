package db

import (
	"database/sql"

	"github.com/go-faster/errors"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/mattn/go-sqlite3"    // registers the "sqlite3" database/sql driver
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	DriverPG     = "pgdriver"
	DriverPGX    = "pgx"
	DriverSQLite = "sqlite"
)

// Open returns a bun client for the given driver. Postgres can be reached
// through bun's own pgdriver or through pgx; sqlite is used for local
// development and tests.
func Open(driver, dsn string) (*bun.DB, error) {
	switch driver {
	case DriverPG, "":
		return NewBunPostgresClient(dsn), nil
	case DriverPGX:
		sqldb, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, errors.Wrap(err, "open pgx")
		}
		return configure(bun.NewDB(sqldb, pgdialect.New())), nil
	case DriverSQLite:
		return NewBunSQLiteClient(dsn)
	default:
		return nil, errors.Errorf("unknown database driver %q", driver)
	}
}

func NewBunPostgresClient(connectionString string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connectionString)))

	return configure(bun.NewDB(sqldb, pgdialect.New()))
}

// NewBunSQLiteClient opens a sqlite database. A single connection is kept so
// that ":memory:" databases are shared by every query.
func NewBunSQLiteClient(dsn string) (*bun.DB, error) {
	if dsn == "" {
		dsn = "file::memory:?cache=shared"
	}
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func configure(db *bun.DB) *bun.DB {
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	return db
}
