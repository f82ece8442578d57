// Package sqlclient opens and wraps the PostgreSQL connection every
// other component queries through. It is the dms-equivalent collaborator
// named (but not implemented) in spec.md §6's wire contract: this engine
// talks to the database directly via jackc/pgx/v5's database/sql driver
// rather than shelling out to a separate query service. Grounded on
// pkg/fixgres.boot, which opens the same driver the same way
// (sql.Open("pgx", ...)) for its test containers.
package sqlclient

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/lmjps/drms-recordset/internal/drmserr"
	"github.com/lmjps/drms-recordset/internal/drmslog"
	"go.uber.org/zap"
)

// Client wraps a *sql.DB with the verbose query logging named in §6's
// `verbose` config option.
type Client struct {
	DB *sql.DB
}

// Open dials dsn using the pgx stdlib driver and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Client, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, drmserr.Wrap(drmserr.QueryFailed, "sqlclient.Open", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, drmserr.Wrap(drmserr.QueryFailed, "sqlclient.Open.ping", err)
	}
	return &Client{DB: db}, nil
}

func (c *Client) Close() error { return c.DB.Close() }

// Query runs query, logging it (with bind args grouped under a single
// "values" field via drmslog.Values) when verbose logging is enabled.
func (c *Client) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.logQuery(query, args)
	rows, err := c.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, drmserr.Wrap(drmserr.QueryFailed, "sqlclient.Query", err)
	}
	return rows, nil
}

// QueryRow runs query expecting exactly one row.
func (c *Client) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	c.logQuery(query, args)
	return c.DB.QueryRowContext(ctx, query, args...)
}

// Exec runs query for its side effects.
func (c *Client) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.logQuery(query, args)
	res, err := c.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, drmserr.Wrap(drmserr.QueryFailed, "sqlclient.Exec", err)
	}
	return res, nil
}

func (c *Client) logQuery(query string, args []any) {
	if !drmslog.Verbose() {
		return
	}
	fields := make([]zap.Field, len(args))
	for i, a := range args {
		fields[i] = zap.Any(placeholderName(i), a)
	}
	drmslog.L("sqlclient").Debug("query", zap.String("sql", query), drmslog.Values(fields...))
}

func placeholderName(i int) string {
	const digits = "0123456789"
	n := i + 1
	if n < 10 {
		return "$" + string(digits[n])
	}
	buf := []byte{'$'}
	var tmp []byte
	for n > 0 {
		tmp = append(tmp, digits[n%10])
		n /= 10
	}
	for j := len(tmp) - 1; j >= 0; j-- {
		buf = append(buf, tmp[j])
	}
	return string(buf)
}
