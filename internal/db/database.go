package db

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/sqlite3/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Dialects understood by Open.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

var (
	// ErrRecordNotFound is returned when a ledger entry does not exist.
	ErrRecordNotFound = errors.New("download record not found")
	// ErrDuplicateRecord is returned when a filename is already in the ledger.
	ErrDuplicateRecord = errors.New("download record already exists")
)

// goose keeps dialect and base FS in package globals.
var gooseMu sync.Mutex

// Database is the ledger and settings store, backed by SQLite or PostgreSQL
type Database struct {
	db      *sql.DB
	dialect string
}

// NewDatabase opens the store named by dsn and runs migrations.
// A postgres:// or postgresql:// DSN selects PostgreSQL; anything else is a
// SQLite path (an optional sqlite:// prefix is stripped).
func NewDatabase(dsn string) (*Database, error) {
	driver, source := parseDSN(dsn)

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DialectSQLite {
		// single writer; also keeps :memory: databases on one connection
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Database{db: db, dialect: driver}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Dialect reports the SQL dialect in use.
func (d *Database) Dialect() string {
	return d.dialect
}

func parseDSN(dsn string) (driver, source string) {
	dsn = strings.TrimSpace(dsn)
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, dsn
	case strings.HasPrefix(lower, "sqlite://"):
		dsn = dsn[len("sqlite://"):]
	}
	if dsn == "" {
		dsn = "garmin.db"
	}
	if dsn == ":memory:" || strings.Contains(dsn, "?") {
		return DialectSQLite, dsn
	}
	return DialectSQLite, dsn + "?_busy_timeout=5000&_foreign_keys=on"
}

func runMigrations(db *sql.DB, dialect string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations/"+dialect); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for PostgreSQL
func (d *Database) rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
