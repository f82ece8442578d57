package cursor

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/lmjps/drms-recordset/internal/testdb"
)

func TestMain(m *testing.M) {
	testdb.BootOnce(&testing.T{})
	code := m.Run()
	_ = testdb.ShutdownNow()
	os.Exit(code)
}

func TestDeclareFetchNextClose(t *testing.T) {
	sbx := testdb.NewSandbox(t)
	ctx := context.Background()

	cur, err := Declare(ctx, sbx.DB, "SELECT n FROM generate_series(1, 10) AS n", nil, 4)
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	defer cur.Close()

	var got []int
	for {
		more, err := cur.FetchNext(ctx, 0, func(rows *sql.Rows) error {
			var n int
			if err := rows.Scan(&n); err != nil {
				return err
			}
			got = append(got, n)
			return nil
		})
		if err != nil {
			t.Fatalf("FetchNext: %v", err)
		}
		if !more {
			break
		}
	}
	if len(got) != 10 {
		t.Fatalf("expected 10 rows across chunks, got %d: %v", len(got), got)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := cur.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestFetchNextAfterCloseFails(t *testing.T) {
	sbx := testdb.NewSandbox(t)
	ctx := context.Background()

	cur, err := Declare(ctx, sbx.DB, "SELECT 1", nil, 1)
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := cur.FetchNext(ctx, 0, func(_ *sql.Rows) error { return nil }); err == nil {
		t.Fatalf("expected FetchNext on a closed cursor to fail")
	}
}

func TestChunkSizeDefaultsWhenNonPositive(t *testing.T) {
	sbx := testdb.NewSandbox(t)
	ctx := context.Background()

	cur, err := Declare(ctx, sbx.DB, "SELECT 1", nil, 0)
	if err != nil {
		t.Fatalf("Declare: %v", err)
	}
	defer cur.Close()
	if cur.ChunkSize() != 128 {
		t.Fatalf("expected default chunk size 128, got %d", cur.ChunkSize())
	}
}
