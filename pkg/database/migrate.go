package database

import (
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

// Migrator runs goose migrations from an embedded filesystem.
type Migrator struct {
	db  *sql.DB
	fs  fs.FS
	dir string
}

// NewMigrator binds goose to the given migrations filesystem.
func NewMigrator(db *sql.DB, migrations fs.FS, dir string) (*Migrator, error) {
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if dir == "" {
		dir = "."
	}
	return &Migrator{db: db, fs: migrations, dir: dir}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up() error {
	return m.Run("up")
}

// Run executes a goose command such as up, down, status, reset or version.
func (m *Migrator) Run(command string, args ...string) error {
	goose.SetBaseFS(m.fs)
	defer goose.SetBaseFS(nil)

	if err := goose.Run(command, m.db, m.dir, args...); err != nil {
		return fmt.Errorf("goose %s: %w", command, err)
	}
	return nil
}

// CreateMigration writes a new timestamped SQL migration skeleton into dir.
func CreateMigration(dir, name string) error {
	if dir == "" || name == "" {
		return fmt.Errorf("migration dir and name are required")
	}
	if err := goose.Create(nil, dir, name, "sql"); err != nil {
		return fmt.Errorf("goose create: %w", err)
	}
	return nil
}
