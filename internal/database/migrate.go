package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// RunMigrations applies all pending migrations found under dir in fsys.
// golang-migrate tracks the applied version, so calling it again is a no-op.
// The migrator runs on a single connection checked out of db, which is
// returned to the pool when RunMigrations returns.
func RunMigrations(ctx context.Context, db *sql.DB, fsys fs.FS, dir string) error {
	src, err := iofs.New(fsys, dir)
	if err != nil {
		return fmt.Errorf("opening migration source: %w", err)
	}
	defer src.Close()

	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring migration connection: %w", err)
	}
	defer conn.Close()

	driver, err := mysql.WithConnection(ctx, conn, &mysql.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "mysql", driver)
	if err != nil {
		return fmt.Errorf("creating migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	slog.Info("migrations applied",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)

	return nil
}

// SchemaInitializer runs a schema setup function at most once successfully
// per process. Concurrent callers block on the mutex; a failed attempt
// leaves the initializer pending so the next caller retries.
type SchemaInitializer struct {
	mu    sync.Mutex
	done  bool
	apply func(ctx context.Context) error
}

// NewSchemaInitializer wraps apply in a once-successful guard.
func NewSchemaInitializer(apply func(ctx context.Context) error) *SchemaInitializer {
	return &SchemaInitializer{apply: apply}
}

// MigrationsInitializer returns a SchemaInitializer that applies the
// migrations under dir in fsys to db.
func MigrationsInitializer(db *sql.DB, fsys fs.FS, dir string) *SchemaInitializer {
	return NewSchemaInitializer(func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return RunMigrations(ctx, db, fsys, dir)
	})
}

// Ensure runs the setup function unless a previous call already succeeded.
func (s *SchemaInitializer) Ensure(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil
	}
	if err := s.apply(ctx); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	s.done = true
	return nil
}

// Done reports whether the schema has been initialized.
func (s *SchemaInitializer) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
