// Package recordset implements the RecordSet component (§4.J): the
// composite container returned by every open operation, tying together
// SpecParser, QueryBuilder, RecordCache, RecordMaterializer and
// LinkResolver behind one handle, plus the Close bookkeeping (FREE vs
// INSERT) spec.md §4.J and §5 describe. OpenCursor offers the §4.H
// chunked alternative for a result set too large to materialize in one
// round trip, and Options.StorageBackend wires §4.I's StorageCoordinator
// in after link resolution, per §2's data flow.
package recordset

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/lmjps/drms-recordset/internal/cursor"
	"github.com/lmjps/drms-recordset/internal/drmserr"
	"github.com/lmjps/drms-recordset/internal/drmslog"
	"github.com/lmjps/drms-recordset/internal/env"
	"github.com/lmjps/drms-recordset/internal/legacy"
	"github.com/lmjps/drms-recordset/internal/linkresolver"
	"github.com/lmjps/drms-recordset/internal/materializer"
	"github.com/lmjps/drms-recordset/internal/querybuilder"
	"github.com/lmjps/drms-recordset/internal/record"
	"github.com/lmjps/drms-recordset/internal/specparser"
	"github.com/lmjps/drms-recordset/internal/storage"
	"go.uber.org/zap"
)

// CloseAction selects what Close does with the set's records, per §4.J.
type CloseAction int

const (
	// Free releases every record's cache reference without persisting
	// any Transient record created during this session.
	Free CloseAction = iota
	// Insert marks every record in the set Permanent in memory before
	// releasing cache references. It writes nothing to the database.
	Insert
)

// SubSet groups the Records produced by one leaf specparser.Spec (one
// series clause within a possibly multi-clause "@file" spec), so a
// caller can still tell which part of a compound spec a record came
// from.
type SubSet struct {
	Series  string
	Spec    *specparser.Spec
	Records []*record.Record
}

// RecordSet is the handle returned by Open; it owns cache references for
// every Record it contains until Close runs.
type RecordSet struct {
	env     *env.Environment
	legacy  legacy.Bridge
	storage *storage.Coordinator
	SubSets []SubSet
	Records []*record.Record
	closed  bool
}

// Options configures how Open resolves a spec.
type Options struct {
	// Fields restricts materialized keyword columns; non-empty makes
	// every resulting Record Partial (§4.D), bypassing the cache.
	Fields []string
	// Bridge is consulted for KindLegacyPath specs; nil uses
	// legacy.Disabled (every call fails with NoLegacySupport).
	Bridge legacy.Bridge
	// StorageBackend, when set, stages every resolved record's storage
	// unit online (§4.I) right after link resolution; nil skips staging
	// entirely (the common case for a session that never reads segment
	// data directly).
	StorageBackend storage.Backend
}

// Open parses spec and materializes every record it names.
func Open(ctx context.Context, e *env.Environment, spec string, opts Options) (*RecordSet, error) {
	parsed, err := specparser.Parse(spec)
	if err != nil {
		return nil, err
	}
	bridge := opts.Bridge
	if bridge == nil {
		bridge = legacy.Disabled{}
	}

	rs := &RecordSet{env: e, legacy: bridge}
	if opts.StorageBackend != nil {
		rs.storage = storage.New(opts.StorageBackend)
	}
	if err := rs.expand(ctx, parsed, opts); err != nil {
		return nil, err
	}
	return rs, nil
}

func (rs *RecordSet) expand(ctx context.Context, spec *specparser.Spec, opts Options) error {
	switch spec.Kind {
	case specparser.KindAtFile:
		for _, child := range spec.Children {
			if err := rs.expand(ctx, child, opts); err != nil {
				return err
			}
		}
		return nil
	case specparser.KindLegacyPath:
		if !rs.env.Config.AllowDSDS {
			return drmserr.New(drmserr.NoLegacySupport, "recordset.expand")
		}
		recs, err := rs.legacy.Resolve(ctx, spec.Path)
		if err != nil {
			return err
		}
		rs.SubSets = append(rs.SubSets, SubSet{Series: spec.Path, Spec: spec, Records: recs})
		rs.Records = append(rs.Records, recs...)
		return nil
	default:
		return rs.expandSeries(ctx, spec, opts)
	}
}

// buildQuery resolves spec's series schema and dispatch strategy and
// composes the concrete Query for it, per §4.C's decision priority:
// all-versions first, then a pk=first/last pkfilter, then the ordinary
// NRecords/partial-field-list/All operations.
func buildQuery(ctx context.Context, e *env.Environment, spec *specparser.Spec, opts Options) (*record.SeriesInfo, querybuilder.Query, bool, error) {
	series, err := e.Schema.Load(ctx, spec.Series)
	if err != nil {
		return nil, querybuilder.Query{}, false, err
	}

	dispatch := querybuilder.DispatchSelfJoin
	if exists, err := e.Shadows.Exists(ctx, spec.Series); err == nil && exists {
		dispatch = querybuilder.DispatchShadow
	}

	builder := querybuilder.NewBuilder(series, spec.Filters, dispatch, e.Shadows)
	partial := len(opts.Fields) > 0

	var q querybuilder.Query
	switch {
	case spec.AllVersions:
		q, err = builder.AllVersionsAll(e.Config.QueryMemBudget, opts.Fields)
	default:
		if pk, ok := querybuilder.PKFirstLastOf(spec.Filters); ok {
			q, err = builder.PKFirstLast(pk, opts.Fields)
		} else {
			switch {
			case spec.NRecords > 0:
				q, err = builder.NRecords(spec.NRecords, spec.FromOldest, opts.Fields)
			case partial:
				q, err = builder.FieldList(opts.Fields)
			default:
				q, err = builder.All(e.Config.QueryMemBudget, opts.Fields)
			}
		}
	}
	if err != nil {
		return nil, querybuilder.Query{}, false, err
	}
	return series, q, partial, nil
}

func (rs *RecordSet) expandSeries(ctx context.Context, spec *specparser.Spec, opts Options) error {
	series, q, partial, err := buildQuery(ctx, rs.env, spec, opts)
	if err != nil {
		return err
	}

	rows, err := rs.env.DB.QueryContext(ctx, q.Text, q.Args...)
	if err != nil {
		return drmserr.Wrap(drmserr.QueryFailed, "recordset.expandSeries", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return drmserr.Wrap(drmserr.BadQueryResult, "recordset.expandSeries.columns", err)
	}

	mz := materializer.New(series)
	recs, err := mz.FromRows(rows, cols, partial)
	if err != nil {
		return err
	}

	if !partial {
		if err := rs.resolveLinks(ctx, recs); err != nil {
			return err
		}
		if err := rs.stageUnits(ctx, recs); err != nil {
			return err
		}
		for _, rec := range recs {
			if err := rs.env.Cache.Insert(rec); err != nil {
				return drmserr.Wrap(drmserr.CantCreateRecord, "recordset.expandSeries.cache", err)
			}
		}
	}

	rs.SubSets = append(rs.SubSets, SubSet{Series: spec.Series, Spec: spec, Records: recs})
	rs.Records = append(rs.Records, recs...)

	if q.Truncated {
		drmslog.L("recordset").Warn("result truncated by query_mem_budget", zap.String("series", spec.Series))
	}
	return nil
}

func (rs *RecordSet) resolveLinks(ctx context.Context, recs []*record.Record) error {
	var links []*record.Link
	for _, rec := range recs {
		for i := range rec.Links {
			links = append(links, &rec.Links[i])
		}
	}
	if len(links) == 0 {
		return nil
	}
	resolver := linkresolver.New(rs.env.DB)
	return resolver.ResolveBatch(ctx, links)
}

// stageUnits brings every resolved record's storage unit online (§4.I),
// when the caller opted in via Options.StorageBackend. Nothing in this
// module currently populates Record.Unit (that requires a SUMS unit
// lookup, out of scope per DESIGN.md), so today this is a no-op on every
// series; it stays wired so a caller supplying both a Backend and a
// Unit-populating layer gets staging for free.
func (rs *RecordSet) stageUnits(ctx context.Context, recs []*record.Record) error {
	if rs.storage == nil {
		return nil
	}
	var units []*record.StorageUnitInfo
	for _, rec := range recs {
		if rec.Unit != nil {
			units = append(units, rec.Unit)
		}
	}
	if len(units) == 0 {
		return nil
	}
	return rs.storage.Stage(ctx, units)
}

// CursorSet is the §4.H chunked alternative to Open: a server-side
// cursor over one series query, fetched a chunk at a time instead of
// materialized all at once.
type CursorSet struct {
	cur     *cursor.Cursor
	mz      *materializer.Materializer
	partial bool
}

// OpenCursor parses spec (which must name exactly one series — no
// "@file" list, no legacy path) and declares a server-side cursor over
// its query instead of materializing the whole result in one round
// trip. chunkSize <= 0 uses env.Config.ChunkSize.
func OpenCursor(ctx context.Context, e *env.Environment, spec string, opts Options, chunkSize int) (*CursorSet, error) {
	parsed, err := specparser.Parse(spec)
	if err != nil {
		return nil, err
	}
	if parsed.Kind != specparser.KindSeries {
		return nil, drmserr.New(drmserr.InvalidAction, "recordset.OpenCursor")
	}

	series, q, partial, err := buildQuery(ctx, e, parsed, opts)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = e.Config.ChunkSize
	}
	cur, err := cursor.Declare(ctx, e.DB, q.Text, q.Args, chunkSize)
	if err != nil {
		return nil, err
	}
	return &CursorSet{cur: cur, mz: materializer.New(series), partial: partial}, nil
}

// Next fetches up to ChunkSize more records, returning (nil, nil) once
// the cursor is exhausted.
func (cs *CursorSet) Next(ctx context.Context) ([]*record.Record, error) {
	var cols []string
	var recs []*record.Record
	got, err := cs.cur.FetchNext(ctx, 0, func(rows *sql.Rows) error {
		if cols == nil {
			c, err := rows.Columns()
			if err != nil {
				return drmserr.Wrap(drmserr.BadQueryResult, "recordset.CursorSet.Next.columns", err)
			}
			cols = c
		}
		rec, err := cs.mz.ScanOne(rows, cols, cs.partial)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !got {
		return nil, nil
	}
	return recs, nil
}

// ChunkSize reports the configured fetch size.
func (cs *CursorSet) ChunkSize() int { return cs.cur.ChunkSize() }

// Close releases the cursor and its backing transaction. Safe to call
// more than once.
func (cs *CursorSet) Close() error { return cs.cur.Close() }

// Close releases every non-partial record's cache reference. Insert
// marks each record Permanent in memory first and writes nothing to the
// database; Free, on meeting a Transient record, evicts every cached
// record of that record's series instead of releasing one reference.
func (rs *RecordSet) Close(action CloseAction) error {
	if rs.closed {
		return nil
	}
	rs.closed = true

	for _, rec := range rs.Records {
		if rec.Partial {
			continue
		}
		switch action {
		case Insert:
			rec.Lifetime = record.Permanent
			rs.env.Cache.Release(rec.CacheKey())
		case Free:
			if rec.Lifetime == record.Transient {
				rs.env.Cache.EvictSeries(rec.Series.Name)
			} else {
				rs.env.Cache.Release(rec.CacheKey())
			}
		}
	}
	return nil
}

// NRecords reports the total number of records across every sub-set.
func (rs *RecordSet) NRecords() int { return len(rs.Records) }

// String renders a human-readable summary, used by cmd/drmsquery.
func (rs *RecordSet) String() string {
	return strconv.Itoa(len(rs.Records)) + " records across " + strconv.Itoa(len(rs.SubSets)) + " sub-set(s)"
}
