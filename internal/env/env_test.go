package env

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lmjps/drms-recordset/internal/drmsconfig"
)

func TestNewWiresCollaborators(t *testing.T) {
	db, _ := sql.Open("pgx", "postgres://unused/unused")
	defer db.Close()

	e, err := New(context.Background(), db, drmsconfig.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if e.Schema == nil || e.Shadows == nil || e.Cache == nil {
		t.Fatalf("expected every collaborator to be wired, got %+v", e)
	}
	if e.DB != db {
		t.Fatalf("expected Environment.DB to be the db it was given")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	db, _ := sql.Open("pgx", "postgres://unused/unused")
	defer db.Close()

	e, err := New(context.Background(), db, drmsconfig.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestNewRejectsInvalidConfigGracefully(t *testing.T) {
	db, _ := sql.Open("pgx", "postgres://unused/unused")
	defer db.Close()

	cfg := drmsconfig.Config{ChunkSize: -1, QueryMemBudget: -1}
	e, err := New(context.Background(), db, cfg)
	if err != nil {
		t.Fatalf("New should normalize an invalid config rather than fail: %v", err)
	}
	if e == nil {
		t.Fatalf("expected a non-nil Environment")
	}
}
