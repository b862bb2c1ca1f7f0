package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io/fs"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vibetube/vibetube/db"
)

// TestMigrations_UpDownPairs ensures every .up.sql has a matching .down.sql.
func TestMigrations_UpDownPairs(t *testing.T) {
	upFiles, err := fs.Glob(db.Migrations, "migrations/*.up.sql")
	if err != nil {
		t.Fatalf("globbing up files: %v", err)
	}
	if len(upFiles) == 0 {
		t.Fatal("no migration files embedded")
	}

	for _, up := range upFiles {
		down := strings.Replace(up, ".up.sql", ".down.sql", 1)
		if _, err := fs.Stat(db.Migrations, down); err != nil {
			t.Errorf("missing down migration for %s", up)
		}
	}
}

// TestMigrations_UsersUniqueKeys guards the columns the auth plugin relies
// on for duplicate detection and credential lookup.
func TestMigrations_UsersUniqueKeys(t *testing.T) {
	data, err := fs.ReadFile(db.Migrations, "migrations/000001_create_users.up.sql")
	if err != nil {
		t.Fatalf("reading users migration: %v", err)
	}
	content := string(data)

	for _, pattern := range []string{
		`UNIQUE KEY \w+ \(username\)`,
		`UNIQUE KEY \w+ \(email\)`,
		`password_hash\s+VARCHAR\(\d+\)\s+NOT NULL`,
	} {
		if !regexp.MustCompile(pattern).MatchString(content) {
			t.Errorf("users migration does not match %q", pattern)
		}
	}
}

func TestSchemaInitializer_RunsOnceUnderConcurrency(t *testing.T) {
	var calls atomic.Int32
	si := NewSchemaInitializer(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := si.Ensure(context.Background()); err != nil {
				t.Errorf("Ensure: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("apply called %d times, want 1", got)
	}
	if !si.Done() {
		t.Error("initializer should report done")
	}
}

func TestSchemaInitializer_RetriesAfterFailure(t *testing.T) {
	fail := true
	var calls int
	si := NewSchemaInitializer(func(ctx context.Context) error {
		calls++
		if fail {
			return errors.New("db not ready")
		}
		return nil
	})

	if err := si.Ensure(context.Background()); err == nil {
		t.Fatal("expected first Ensure to fail")
	}
	if si.Done() {
		t.Fatal("failed run must not mark the schema as initialized")
	}

	fail = false
	if err := si.Ensure(context.Background()); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	if err := si.Ensure(context.Background()); err != nil {
		t.Fatalf("third Ensure: %v", err)
	}
	if calls != 2 {
		t.Errorf("apply called %d times, want 2", calls)
	}
}

func TestMigrationsInitializer_CanceledContext(t *testing.T) {
	si := MigrationsInitializer(nil, db.Migrations, "migrations")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := si.Ensure(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Ensure = %v, want context.Canceled", err)
	}
}

func TestPing_NothingWired(t *testing.T) {
	if err := Ping(context.Background(), nil, nil); err != nil {
		t.Errorf("Ping with no stores = %v", err)
	}
}

// unmigratableDriver accepts connections and pings but fails every
// statement, like a server the migration user has no rights on.
type unmigratableDriver struct{}

func (unmigratableDriver) Open(string) (driver.Conn, error) { return unmigratableConn{}, nil }

type unmigratableConn struct{}

func (unmigratableConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("permission denied")
}
func (unmigratableConn) Close() error               { return nil }
func (unmigratableConn) Begin() (driver.Tx, error)  { return nil, errors.New("permission denied") }
func (unmigratableConn) Ping(context.Context) error { return nil }

func init() {
	sql.Register("unmigratable", unmigratableDriver{})
}

func TestMigrationsInitializer_FailuresReleaseConnections(t *testing.T) {
	sqlDB, err := sql.Open("unmigratable", "")
	if err != nil {
		t.Fatalf("opening db: %v", err)
	}
	defer sqlDB.Close()
	sqlDB.SetMaxOpenConns(3)

	si := MigrationsInitializer(sqlDB, db.Migrations, "migrations")
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := si.Ensure(ctx)
		cancel()

		if err == nil {
			t.Fatalf("attempt %d: expected Ensure to fail", i)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("attempt %d: Ensure waited for a pooled connection: %v", i, err)
		}
		if inUse := sqlDB.Stats().InUse; inUse != 0 {
			t.Fatalf("attempt %d: %d connections still in use", i, inUse)
		}
	}
	if si.Done() {
		t.Error("failed runs must not mark the schema as initialized")
	}
}
