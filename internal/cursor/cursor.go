// Package cursor implements the CursorEngine component (§4.H): chunked,
// server-side iteration over a query result set too large to
// materialize in one round trip. Grounded on the teacher's use of
// google/uuid for generating unique SQL object names, generalized here
// from temp-table naming (internal/linkresolver) to cursor naming, and
// on database/sql's *Tx as the natural home for a PostgreSQL
// DECLARE ... CURSOR, which only lives for the transaction that opened
// it.
package cursor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lmjps/drms-recordset/internal/drmserr"
)

// Cursor wraps one open PostgreSQL server-side cursor declared inside
// its own transaction.
type Cursor struct {
	name      string
	tx        *sql.Tx
	chunkSize int
	closed    bool
}

// Declare opens a transaction, declares a cursor over query/args, and
// returns it ready for FetchNext. Callers must Close it exactly once.
func Declare(ctx context.Context, db *sql.DB, query string, args []any, chunkSize int) (*Cursor, error) {
	if chunkSize <= 0 {
		chunkSize = 128
	}
	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, drmserr.Wrap(drmserr.QueryFailed, "cursor.Declare.begin", err)
	}

	name := "drms_cur_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	declareSQL := fmt.Sprintf("DECLARE %s NO SCROLL CURSOR FOR %s", name, query)
	if _, err := tx.ExecContext(ctx, declareSQL, args...); err != nil {
		tx.Rollback()
		return nil, drmserr.Wrap(drmserr.QueryFailed, "cursor.Declare", err)
	}

	return &Cursor{name: name, tx: tx, chunkSize: chunkSize}, nil
}

// FetchNext fetches up to chunkSize rows (or n, if n > 0) and hands the
// caller scan(rows) to materialize them; rows is closed before FetchNext
// returns. Returns (false, nil) once the cursor is exhausted.
func (c *Cursor) FetchNext(ctx context.Context, n int, scan func(*sql.Rows) error) (bool, error) {
	if c.closed {
		return false, drmserr.New(drmserr.InvalidAction, "cursor.FetchNext.closed")
	}
	size := c.chunkSize
	if n > 0 {
		size = n
	}

	rows, err := c.tx.QueryContext(ctx, fmt.Sprintf("FETCH FORWARD %d FROM %s", size, c.name))
	if err != nil {
		return false, drmserr.Wrap(drmserr.QueryFailed, "cursor.FetchNext", err)
	}
	defer rows.Close()

	got := false
	for rows.Next() {
		got = true
		if err := scan(rows); err != nil {
			return false, err
		}
	}
	if err := rows.Err(); err != nil {
		return false, drmserr.Wrap(drmserr.QueryFailed, "cursor.FetchNext.rows", err)
	}
	return got, nil
}

// Close releases the cursor and commits (read-only) the backing
// transaction. Safe to call more than once.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	_, _ = c.tx.Exec(fmt.Sprintf("CLOSE %s", c.name))
	if err := c.tx.Commit(); err != nil {
		return drmserr.Wrap(drmserr.QueryFailed, "cursor.Close", err)
	}
	return nil
}

// ChunkSize reports the configured fetch size.
func (c *Cursor) ChunkSize() int { return c.chunkSize }
