// Package testdb boots a throwaway PostgreSQL instance (via
// testcontainers-go) and applies the DRMS catalog schema migrations,
// for use by integration tests across every internal/ package. Grounded
// directly on pkg/fixgres: the same testcontainers.postgres.Run +
// goose.Up boot sequence and the same per-test schema Sandbox pattern,
// generalized from fixgres's single-schema "app" database to a
// namespaced DRMS catalog (admin.ns / {ns}.drms_series / ...).
package testdb

import (
	"context"
	"crypto/rand"
	"database/sql"
	"embed"
	"encoding/binary"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type config struct {
	image    string
	dbName   string
	user     string
	password string
}

type Option func(*config)

func WithImage(i string) Option { return func(c *config) { c.image = i } }

var (
	once       sync.Once
	pg         *postgres.PostgresContainer
	mu         sync.Mutex
	connString string
	booted     bool
	bootErr    error
)

func boot(ctx context.Context, c *config) error {
	var onceErr error
	once.Do(func() {
		if c.image == "" {
			c.image = "docker.io/postgres:16-alpine"
		}
		if c.dbName == "" {
			c.dbName = "drms"
		}
		if c.user == "" {
			c.user = "postgres"
		}
		if c.password == "" {
			c.password = "pass"
		}

		container, err := postgres.Run(ctx,
			c.image,
			postgres.WithDatabase(c.dbName),
			postgres.WithUsername(c.user),
			postgres.WithPassword(c.password),
			postgres.BasicWaitStrategies(),
		)
		if err != nil {
			onceErr = err
			return
		}
		pg = container

		host, _ := container.Host(ctx)
		port, _ := container.MappedPort(ctx, "5432/tcp")
		connString = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			c.user, c.password, host, port.Port(), c.dbName,
		)

		db, err := sql.Open("pgx", connString)
		if err != nil {
			onceErr = err
			return
		}
		defer db.Close()

		goose.SetBaseFS(migrationsFS)
		if err := goose.SetDialect("postgres"); err != nil {
			onceErr = err
			return
		}
		if err := goose.Up(db, "migrations"); err != nil {
			onceErr = err
			return
		}
	})
	return onceErr
}

// BootOnce brings up the shared container and applies migrations exactly
// once per test binary; call it from TestMain.
func BootOnce(t *testing.T, opts ...Option) {
	t.Helper()
	bootOnceGuard.Do(func() {
		booted = true
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		cfg := &config{}
		for _, o := range opts {
			o(cfg)
		}
		bootErr = boot(ctx, cfg)
	})
	if bootErr != nil {
		t.Fatalf("testdb boot failed: %v", bootErr)
	}
}

var bootOnceGuard sync.Once

// ShutdownNow terminates the shared container, for use in TestMain's
// deferred cleanup.
func ShutdownNow() error {
	mu.Lock()
	defer mu.Unlock()
	if pg == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return pg.Terminate(ctx)
}

// Sandbox is a uniquely-named, auto-dropped namespace holding its own
// copy of the DRMS catalog tables, isolating one test from another
// sharing the same container.
type Sandbox struct {
	DB     *sql.DB
	Schema string
	Seed   int64
	Close  func()
}

// NewSandbox creates a fresh namespace schema, re-applies the catalog
// DDL inside it (so {schema}.drms_series etc. exist independent of any
// other test's namespace), and registers automatic cleanup.
func NewSandbox(t *testing.T) *Sandbox {
	t.Helper()
	if !booted {
		t.Fatalf("testdb not booted. Call testdb.BootOnce(...) in TestMain first.")
	}

	admin, err := sql.Open("pgx", connString)
	if err != nil {
		t.Fatalf("open admin: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schema := fmt.Sprintf("t_%x", randomSeed())
	if _, err := admin.ExecContext(ctx, `CREATE SCHEMA "`+schema+`"`); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := admin.ExecContext(ctx, `INSERT INTO admin.ns (name) VALUES ($1)`, schema); err != nil {
		t.Fatalf("register namespace: %v", err)
	}

	sbxDSN := withSearchPath(connString, schema)
	db, err := sql.Open("pgx", sbxDSN)
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}

	if err := applyCatalogTables(ctx, db, schema); err != nil {
		t.Fatalf("apply catalog tables: %v", err)
	}

	sbx := &Sandbox{DB: db, Schema: schema, Seed: randomSeed()}
	sbx.Close = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = admin.ExecContext(ctx, `DROP SCHEMA IF EXISTS "`+schema+`" CASCADE`)
		_ = db.Close()
		_ = admin.Close()
	}
	t.Cleanup(sbx.Close)
	return sbx
}

// applyCatalogTables creates a per-namespace copy of the catalog tables
// the goose migrations define globally under "admin", scoped instead to
// schema so each Sandbox can register its own series without colliding
// with another test's.
func applyCatalogTables(ctx context.Context, db *sql.DB, schema string) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s".drms_series (
			seriesname TEXT PRIMARY KEY, description TEXT, author TEXT, owner TEXT,
			unitsize BIGINT NOT NULL DEFAULT 1, archive BOOLEAN NOT NULL DEFAULT false,
			retention INTEGER NOT NULL DEFAULT 0, tapegroup INTEGER NOT NULL DEFAULT 0,
			version TEXT NOT NULL DEFAULT '1.0', primary_idx TEXT, dbidx TEXT,
			vers TEXT NOT NULL DEFAULT '1', nprime INTEGER NOT NULL DEFAULT 0,
			nkeywords INTEGER NOT NULL DEFAULT 0, nlinks INTEGER NOT NULL DEFAULT 0,
			nsegments INTEGER NOT NULL DEFAULT 0
		)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s".drms_keyword (
			seriesname TEXT NOT NULL, keywordname TEXT NOT NULL, rank INTEGER NOT NULL,
			type TEXT NOT NULL, format TEXT NOT NULL DEFAULT '%%s', unit TEXT NOT NULL DEFAULT 'none',
			defaultvalue TEXT NOT NULL DEFAULT '', isconstant BOOLEAN NOT NULL DEFAULT false,
			isprime BOOLEAN NOT NULL DEFAULT false, isextprime BOOLEAN NOT NULL DEFAULT false,
			islinked BOOLEAN NOT NULL DEFAULT false, linkname TEXT, targetkeyword TEXT,
			PRIMARY KEY (seriesname, keywordname)
		)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s".drms_link (
			seriesname TEXT NOT NULL, linkname TEXT NOT NULL, rank INTEGER NOT NULL,
			type TEXT NOT NULL, targetseries TEXT NOT NULL,
			PRIMARY KEY (seriesname, linkname)
		)`, schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS "%s".drms_segment (
			seriesname TEXT NOT NULL, segmentname TEXT NOT NULL, rank INTEGER NOT NULL,
			format TEXT NOT NULL DEFAULT 'generic', unit TEXT NOT NULL DEFAULT 'none',
			isvariabledim BOOLEAN NOT NULL DEFAULT false, naxis INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (seriesname, segmentname)
		)`, schema),
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func withSearchPath(base, schema string) string {
	u, _ := url.Parse(base)
	q := u.Query()
	q.Set("options", fmt.Sprintf("-csearch_path=%s,public", schema))
	u.RawQuery = q.Encode()
	return u.String()
}

func randomSeed() int64 {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return int64(binary.LittleEndian.Uint64(b[:]))
}
