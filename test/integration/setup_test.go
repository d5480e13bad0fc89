package integration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/db"
)

var errNoDatabase = errors.New("no database available")

// testDB holds the shared database infrastructure for integration tests.
type testDB struct {
	Pool          *pgxpool.Pool
	ConnStr       string
	MigrationsDir string
}

// globalDB is initialized once in TestMain.
var globalDB *testDB

// TestMain uses INTEGRATION_DATABASE_URL when set, otherwise a throwaway
// Docker container. Without either the package is skipped.
func TestMain(m *testing.M) {
	ctx := context.Background()

	connStr := os.Getenv("INTEGRATION_DATABASE_URL")
	cleanup := func() {}
	if connStr == "" {
		var err error
		connStr, cleanup, err = startPostgresContainer(ctx)
		if errors.Is(err, errNoDatabase) {
			fmt.Fprintln(os.Stderr, "skipping integration tests: docker not found and INTEGRATION_DATABASE_URL not set")
			os.Exit(0)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to setup postgres container: %v\n", err)
			os.Exit(1)
		}
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err == nil {
		err = pool.Ping(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to test database: %v\n", err)
		cleanup()
		os.Exit(1)
	}

	globalDB = &testDB{Pool: pool, ConnStr: connStr, MigrationsDir: findMigrationsDir()}
	code := m.Run()
	pool.Close()
	cleanup()
	os.Exit(code)
}

// findMigrationsDir locates the migrations directory relative to this file.
func findMigrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

func uniqueSchema(prefix string) string {
	return fmt.Sprintf("it_%s_%s", prefix, strings.ReplaceAll(uuid.NewString()[:8], "-", ""))
}

// newSchema creates a migrated schema for one test and returns a pool whose
// connections default to it. Both are dropped when the test ends.
func newSchema(t *testing.T, prefix string) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()
	schema := uniqueSchema(prefix)

	if err := db.EnsureSchema(ctx, globalDB.Pool, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		if _, err := globalDB.Pool.Exec(context.Background(),
			"DROP SCHEMA IF EXISTS "+pgx.Identifier{schema}.Sanitize()+" CASCADE"); err != nil {
			t.Logf("warning: failed to drop schema %s: %v", schema, err)
		}
	})

	if _, err := db.NewMigrator(globalDB.Pool, globalDB.MigrationsDir, schema).Up(ctx); err != nil {
		t.Fatalf("migrate schema %s: %v", schema, err)
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: globalDB.ConnStr, MaxConns: 40, Schema: schema})
	if err != nil {
		t.Fatalf("open schema pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func newService(pool *pgxpool.Pool) *scheduling.Service {
	return scheduling.NewService(db.NewTxManager(pool), scheduling.Repositories{
		TimeSlots:    scheduling.NewTimeSlotRepoPG(pool),
		Doctors:      scheduling.NewDoctorRepoPG(pool),
		WorkShifts:   scheduling.NewWorkShiftRepoPG(pool),
		Schedules:    scheduling.NewDoctorScheduleRepoPG(pool),
		Slots:        scheduling.NewSlotRepoPG(pool),
		Appointments: scheduling.NewAppointmentRepoPG(pool),
	}, zerolog.New(io.Discard))
}

func createTestDoctor(t *testing.T, pool *pgxpool.Pool, name string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := pool.Exec(context.Background(),
		`INSERT INTO doctor (id, full_name, specialty, active) VALUES ($1, $2, $3, TRUE)`,
		id, name, "General practice"); err != nil {
		t.Fatalf("create test doctor: %v", err)
	}
	return id
}

func ptrClock(h, m int) *scheduling.ClockTime {
	c := scheduling.NewClockTime(h, m)
	return &c
}

func ptrStr(s string) *string { return &s }
