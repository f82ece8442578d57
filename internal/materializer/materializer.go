// Package materializer implements the RecordMaterializer component
// (§4.F): it turns *sql.Rows produced by querybuilder into
// *record.Record values, following the fixed column order the wire
// contract (§6) specifies: recnum first, then keyword columns in the
// order requested. Grounded on internal/reactive/serializer.go's
// Scan-into-[]any-by-column-order idiom, stripped of its edit-handle and
// provenance bookkeeping (no HTTP/edit surface in this engine) and
// generalized from one fixed "editable row" shape to an arbitrary
// per-series Keyword schema.
package materializer

import (
	"database/sql"

	"github.com/lmjps/drms-recordset/internal/drmserr"
	"github.com/lmjps/drms-recordset/internal/record"
)

// Materializer turns result rows into Records for one series.
type Materializer struct {
	series *record.SeriesInfo
}

func New(series *record.SeriesInfo) *Materializer {
	return &Materializer{series: series}
}

// FromRows scans every row of rows into a Record. cols must begin with
// "recnum"; partial reports whether this was a restricted field list
// (§4.D invariant: partial records are never cached).
func (m *Materializer) FromRows(rows *sql.Rows, cols []string, partial bool) ([]*record.Record, error) {
	if len(cols) == 0 || cols[0] != "recnum" {
		return nil, drmserr.New(drmserr.BadQueryResult, "materializer.FromRows")
	}

	var out []*record.Record
	for rows.Next() {
		rec, err := m.ScanOne(rows, cols, partial)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, drmserr.Wrap(drmserr.BadQueryResult, "materializer.FromRows.rows", err)
	}
	return out, nil
}

// ScanOne scans exactly the current row of rows into a Record, for
// callers (internal/cursor's chunked FETCH FORWARD, which hands rows one
// at a time) that drive rows.Next() themselves rather than handing
// FromRows the whole result set.
func (m *Materializer) ScanOne(rows *sql.Rows, cols []string, partial bool) (*record.Record, error) {
	if len(cols) == 0 || cols[0] != "recnum" {
		return nil, drmserr.New(drmserr.BadQueryResult, "materializer.ScanOne")
	}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, drmserr.Wrap(drmserr.BadQueryResult, "materializer.ScanOne.scan", err)
	}
	return m.buildRecord(cols, values, partial)
}

func (m *Materializer) buildRecord(cols []string, values []any, partial bool) (*record.Record, error) {
	recnum, ok := asInt64(values[0])
	if !ok {
		return nil, drmserr.New(drmserr.BadQueryResult, "materializer.buildRecord.recnum")
	}

	rec := &record.Record{
		RecNum:   recnum,
		SUNum:    -1,
		Series:   m.series,
		Lifetime: record.Permanent,
		Partial:  partial,
	}

	for i := 1; i < len(cols); i++ {
		kw, ok := m.series.Keyword(cols[i])
		if !ok {
			continue // a generated column like a _pk_* alias, not a keyword
		}
		rec.Keywords = append(rec.Keywords, record.KeywordValue{Keyword: *kw, Value: deref(values[i])})
	}

	if !partial {
		rec.Links = append(rec.Links, m.series.Links...)
		rec.Segments = append(rec.Segments, m.series.Segments...)
	}
	return rec, nil
}

// deref unwraps the pointer database/sql leaves after Scan into an any
// slot, and normalizes []byte (text-protocol results) to string.
func deref(v any) any {
	switch x := v.(type) {
	case *any:
		return deref(*x)
	case []byte:
		return string(x)
	default:
		return v
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}
