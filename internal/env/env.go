// Package env owns the process-wide state a DRMS session needs: the
// database handle, the shared record cache, the series schema catalog,
// and the shadow-existence memo. Per SPEC_FULL.md design notes §9, these
// no longer get independent teardown paths — a single Environment.Close
// tears them down in a fixed order.
package env

import (
	"context"
	"database/sql"
	"sync"

	"github.com/lmjps/drms-recordset/internal/drmsconfig"
	"github.com/lmjps/drms-recordset/internal/drmslog"
	"github.com/lmjps/drms-recordset/internal/recordcache"
	"github.com/lmjps/drms-recordset/internal/seriesschema"
	"github.com/lmjps/drms-recordset/internal/shadowindex"
)

// Environment bundles the long-lived, process-wide collaborators shared
// by every RecordSet opened in a session.
type Environment struct {
	Config drmsconfig.Config
	DB     *sql.DB

	Schema  *seriesschema.Catalog
	Shadows *shadowindex.Index
	Cache   *recordcache.Cache

	mu     sync.Mutex
	closed bool
}

// New wires an Environment around an already-open *sql.DB. The caller
// retains ownership of db's connection string/lifecycle; Close does not
// call db.Close.
func New(ctx context.Context, db *sql.DB, cfg drmsconfig.Config) (*Environment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	drmslog.Init(cfg.Verbose)

	schema := seriesschema.NewCatalog(db)
	shadows := shadowindex.NewIndex(db, cfg.CreateShadows)
	cache := recordcache.NewCache()

	return &Environment{
		Config:  cfg,
		DB:      db,
		Schema:  schema,
		Shadows: shadows,
		Cache:   cache,
	}, nil
}

// Close tears the environment down in the order: shadow memo, template
// catalog, record cache. None of these own the *sql.DB; apart from
// Shadows stopping its LISTEN connection when Listen was called, closing
// them is in-memory bookkeeping, gathered in one call site so every
// collaborator's teardown runs in a fixed order.
func (e *Environment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	e.Shadows.Close()
	e.Schema.Close()
	e.Cache.Close()
	return nil
}
