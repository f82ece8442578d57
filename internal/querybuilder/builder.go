// Package querybuilder implements the QueryBuilder component (§4.C): it
// turns a parsed specparser.Spec filter set plus a chosen dispatch
// strategy (shadow-table lookup vs. self-join latest-version scan) into
// concrete SQL text and bind parameters for Count, All, FieldList,
// NRecords, AllVersionsAll and PKFirstLast.
//
// Grounded on pkg/pg_lineage/rewrite_pks.go's AST-mutation style for the
// self-join branch (it is, structurally, the same "inject a predicate
// comparing this row against itself" problem RewriteSelectInjectPKs
// solves for provenance) and on richcatalog's fmt.Sprintf CTE assembly
// for the query-text shape. The shadow dispatch branch joins the shadow
// table back to the base table rather than querying the shadow table
// alone (§4.B: the shadow table only ever carries recnum + primary-key
// columns + a version count, never the full keyword set).
package querybuilder

import (
	"fmt"
	"strings"

	"github.com/lmjps/drms-recordset/internal/drmserr"
	"github.com/lmjps/drms-recordset/internal/record"
	"github.com/lmjps/drms-recordset/internal/shadowindex"
	"github.com/lmjps/drms-recordset/internal/specparser"
	"github.com/lmjps/drms-recordset/internal/sqlast"
)

// Dispatch selects which physical query shape Builder emits. QueryBuilder
// decides this per §4.C's decision notes: prefer the shadow table when
// ShadowIndex reports one exists, otherwise fall back to a self-join
// over the raw series table to isolate the latest version per primary
// key.
type Dispatch int

const (
	DispatchShadow Dispatch = iota
	DispatchSelfJoin
)

// Query is a built statement ready for sqlclient to execute.
type Query struct {
	Text      string
	Args      []any
	Truncated bool // set when a LIMIT was applied due to query_mem_budget
}

// Builder composes SQL against one series' schema and a fixed filter
// set. It holds no open connection or network state; shadow is nil when
// dispatch is DispatchSelfJoin (or when no shadow table exists).
type Builder struct {
	series   *record.SeriesInfo
	filters  []specparser.Filter
	dispatch Dispatch
	shadow   *shadowindex.Index
}

func NewBuilder(series *record.SeriesInfo, filters []specparser.Filter, dispatch Dispatch, shadow *shadowindex.Index) *Builder {
	return &Builder{series: series, filters: filters, dispatch: dispatch, shadow: shadow}
}

// PKFirstLastOf returns the first pk=first/pk=last/pk=first(n)/pk=last(n)
// filter among filters, if any (§4.B), so callers know to dispatch to
// Builder.PKFirstLast instead of Count/All/NRecords.
func PKFirstLastOf(filters []specparser.Filter) (specparser.Filter, bool) {
	for _, f := range filters {
		if f.IsPKFirstLast {
			return f, true
		}
	}
	return specparser.Filter{}, false
}

const estimatedRowBytes = 2048

// limitForBudget derives a LIMIT from a memory budget, per §6's
// query_mem_budget config option: limit = budget / estimated_row_bytes.
func limitForBudget(budgetBytes int64) int {
	if budgetBytes <= 0 {
		return 0
	}
	n := int(budgetBytes / estimatedRowBytes)
	if n <= 0 {
		n = 1
	}
	return n
}

func (b *Builder) splitSeries() (ns, table string, err error) {
	parts := strings.SplitN(b.series.Name, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", drmserr.New(drmserr.UnknownSeries, "querybuilder.splitSeries")
	}
	return parts[0], parts[1], nil
}

// baseTableRef is the qualified reference to the series' own table (as
// opposed to its shadow table); every dispatch variant ultimately reads
// full rows from here.
func (b *Builder) baseTableRef() (string, error) {
	ns, table, err := b.splitSeries()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s", sqlast.QualifiedColumn("", ns), sqlast.QualifiedColumn("", table)), nil
}

func (b *Builder) shadowParams(pred string) (shadowindex.QueryParams, error) {
	ns, table, err := b.splitSeries()
	if err != nil {
		return shadowindex.QueryParams{}, err
	}
	return shadowindex.QueryParams{Namespace: ns, Table: table, PKColumns: b.series.PrimaryIndex, Predicate: pred}, nil
}

func (b *Builder) useShadow() bool {
	return b.dispatch == DispatchShadow && b.shadow != nil
}

// where builds the AND of every filter as bound predicates, returning
// the predicate text (without "WHERE") and the positional args in order.
// Filters with no "key=" prefix (IsPKFirstLast aside) resolve positionally
// against the series' primary index, in bracket order (§6 grammar's bare
// pkfilter form).
func (b *Builder) where(alias string) (string, []any, error) {
	var clauses []string
	var args []any
	argN := 0
	posIdx := 0

	col := func(name string) string {
		if alias == "" {
			return sqlast.QualifiedColumn("", name)
		}
		return sqlast.QualifiedColumn(alias, name)
	}

	for _, f := range b.filters {
		switch {
		case f.IsPKFirstLast:
			continue
		case f.IsRawSQL:
			clauses = append(clauses, "("+f.SQLExpr+")")
			continue
		case f.IsRecnum:
			placeholders := make([]string, len(f.Recnums))
			for i, rn := range f.Recnums {
				argN++
				placeholders[i] = sqlast.Placeholder(argN)
				args = append(args, rn)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col("recnum"), strings.Join(placeholders, ", ")))
			continue
		}

		key := f.Key
		if key == "" {
			if posIdx >= len(b.series.PrimaryIndex) {
				return "", nil, drmserr.New(drmserr.InvalidSpec, "querybuilder.where.positional")
			}
			key = b.series.PrimaryIndex[posIdx]
			posIdx++
		}
		if _, ok := b.series.Keyword(key); !ok {
			return "", nil, drmserr.New(drmserr.InvalidKeyword, "querybuilder.where")
		}

		switch {
		case f.IsRange:
			argN++
			lo := sqlast.Placeholder(argN)
			args = append(args, f.RangeLo)
			argN++
			hi := sqlast.Placeholder(argN)
			args = append(args, f.RangeHi)
			clauses = append(clauses, fmt.Sprintf("%s BETWEEN %s AND %s", col(key), lo, hi))
		case len(f.List) > 0:
			placeholders := make([]string, len(f.List))
			for i, v := range f.List {
				argN++
				placeholders[i] = sqlast.Placeholder(argN)
				args = append(args, v)
			}
			clauses = append(clauses, fmt.Sprintf("%s IN (%s)", col(key), strings.Join(placeholders, ", ")))
		default:
			argN++
			clauses = append(clauses, fmt.Sprintf("%s = %s", col(key), sqlast.Placeholder(argN)))
			args = append(args, f.Value)
		}
	}
	if len(clauses) == 0 {
		return "TRUE", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}

// selfJoinLatestPredicate appends a NOT EXISTS clause isolating the
// highest recnum per primary-key tuple, the self-join dispatch strategy:
// a later insert with the same primary key values supersedes an earlier
// one without ever deleting the earlier row.
func (b *Builder) selfJoinLatestPredicate(alias string) (string, error) {
	if len(b.series.PrimaryIndex) == 0 {
		return "TRUE", nil
	}
	ref, err := b.baseTableRef()
	if err != nil {
		return "", err
	}
	var eq []string
	for _, pk := range b.series.PrimaryIndex {
		eq = append(eq, fmt.Sprintf("%s.%s = %s.%s", "newer", pk, alias, pk))
	}
	return fmt.Sprintf(`NOT EXISTS (
		SELECT 1 FROM %s AS newer
		WHERE %s AND newer.recnum > %s.recnum
	)`, ref, strings.Join(eq, " AND "), alias), nil
}

// Count builds "how many records match" (§4.C Count operation).
func (b *Builder) Count() (Query, error) {
	pred, args, err := b.where("t")
	if err != nil {
		return Query{}, err
	}

	if b.useShadow() {
		p, err := b.shadowParams(pred)
		if err != nil {
			return Query{}, err
		}
		return Query{Text: b.shadow.CountQuery(p), Args: args}, nil
	}

	ref, err := b.baseTableRef()
	if err != nil {
		return Query{}, err
	}
	sj, err := b.selfJoinLatestPredicate("t")
	if err != nil {
		return Query{}, err
	}
	q := fmt.Sprintf("SELECT count(*) FROM %s AS t WHERE %s AND %s", ref, pred, sj)
	return Query{Text: q, Args: args}, nil
}

// All builds the record-enumeration query (§4.C All operation),
// selecting recnum ordered for stable cursor iteration. memBudget, when
// positive, derives a LIMIT (and sets Truncated) per §6.
func (b *Builder) All(memBudget int64, fields []string) (Query, error) {
	pred, args, err := b.where("t")
	if err != nil {
		return Query{}, err
	}
	cols, err := b.fieldListCols("t", fields)
	if err != nil {
		return Query{}, err
	}
	limit := limitForBudget(memBudget)

	if b.useShadow() {
		p, err := b.shadowParams(pred)
		if err != nil {
			return Query{}, err
		}
		return Query{Text: b.shadow.AllQuery(p, cols, limit), Args: args, Truncated: limit > 0}, nil
	}

	ref, err := b.baseTableRef()
	if err != nil {
		return Query{}, err
	}
	sj, err := b.selfJoinLatestPredicate("t")
	if err != nil {
		return Query{}, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s AS t WHERE %s AND %s ORDER BY t.recnum", cols, ref, pred, sj)
	truncated := false
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
		truncated = true
	}
	return Query{Text: q, Args: args, Truncated: truncated}, nil
}

// AllVersionsAll builds the all-versions query for a sub-spec carrying a
// "[! expr !]" filter (§4.C decision 1): it bypasses shadow/self-join
// dedup entirely and returns every matching row, ordered by the primary
// index.
func (b *Builder) AllVersionsAll(memBudget int64, fields []string) (Query, error) {
	pred, args, err := b.where("t")
	if err != nil {
		return Query{}, err
	}
	cols, err := b.fieldListCols("t", fields)
	if err != nil {
		return Query{}, err
	}
	ref, err := b.baseTableRef()
	if err != nil {
		return Query{}, err
	}

	order := "t.recnum"
	if len(b.series.PrimaryIndex) > 0 {
		pkCols := make([]string, len(b.series.PrimaryIndex))
		for i, pk := range b.series.PrimaryIndex {
			pkCols[i] = sqlast.QualifiedColumn("t", pk)
		}
		order = strings.Join(pkCols, ", ")
	}

	q := fmt.Sprintf("SELECT %s FROM %s AS t WHERE %s ORDER BY %s", cols, ref, pred, order)
	truncated := false
	if limit := limitForBudget(memBudget); limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
		truncated = true
	}
	return Query{Text: q, Args: args, Truncated: truncated}, nil
}

// NRecords builds the "last/first N" query (§4.C NRecords operation).
func (b *Builder) NRecords(n int, fromOldest bool, fields []string) (Query, error) {
	pred, args, err := b.where("t")
	if err != nil {
		return Query{}, err
	}
	cols, err := b.fieldListCols("t", fields)
	if err != nil {
		return Query{}, err
	}

	if b.useShadow() {
		p, err := b.shadowParams(pred)
		if err != nil {
			return Query{}, err
		}
		return Query{Text: b.shadow.NQuery(p, cols, n, fromOldest, false), Args: args}, nil
	}

	ref, err := b.baseTableRef()
	if err != nil {
		return Query{}, err
	}
	sj, err := b.selfJoinLatestPredicate("t")
	if err != nil {
		return Query{}, err
	}
	order := "DESC"
	if fromOldest {
		order = "ASC"
	}
	q := fmt.Sprintf("SELECT * FROM (SELECT %s FROM %s AS t WHERE %s AND %s ORDER BY t.recnum %s LIMIT %d) AS sub ORDER BY sub.recnum",
		cols, ref, pred, sj, order, n)
	return Query{Text: q, Args: args}, nil
}

// PKFirstLast builds the query for a "pk=first"/"pk=last"/"pk=first(n)"/
// "pk=last(n)" pkfilter (§4.B): the first/last pk.PKCount (1 if zero)
// groups by primary-key tuple, ordered by that tuple rather than by
// recnum.
func (b *Builder) PKFirstLast(pk specparser.Filter, fields []string) (Query, error) {
	if len(b.series.PrimaryIndex) == 0 {
		return Query{}, drmserr.New(drmserr.InvalidSpec, "querybuilder.PKFirstLast")
	}
	pred, args, err := b.where("t")
	if err != nil {
		return Query{}, err
	}
	n := pk.PKCount
	if n <= 0 {
		n = 1
	}
	order := "DESC"
	if pk.PKFromOldest {
		order = "ASC"
	}

	outerCols, err := b.fieldListCols("sub", fields)
	if err != nil {
		return Query{}, err
	}

	if b.useShadow() {
		p, err := b.shadowParams(pred)
		if err != nil {
			return Query{}, err
		}
		innerCols, err := b.fieldListCols("t", fields)
		if err != nil {
			return Query{}, err
		}
		inner := b.shadow.NQuery(p, innerCols, n, pk.PKFromOldest, true)
		q := fmt.Sprintf("SELECT %s FROM (%s) AS sub", outerCols, inner)
		return Query{Text: q, Args: args}, nil
	}

	ref, err := b.baseTableRef()
	if err != nil {
		return Query{}, err
	}
	partition := make([]string, len(b.series.PrimaryIndex))
	for i, name := range b.series.PrimaryIndex {
		partition[i] = sqlast.QualifiedColumn("t", name)
	}
	orderPK := make([]string, len(b.series.PrimaryIndex))
	for i, name := range b.series.PrimaryIndex {
		orderPK[i] = sqlast.QualifiedColumn("sub", name) + " " + order
	}
	q := fmt.Sprintf(`SELECT %s FROM (
		SELECT t.*, row_number() OVER (PARTITION BY %s ORDER BY t.recnum DESC) AS drms_rn
		FROM %s AS t WHERE %s
	) AS sub WHERE sub.drms_rn = 1 ORDER BY %s LIMIT %d`,
		outerCols, strings.Join(partition, ", "), ref, pred, strings.Join(orderPK, ", "), n)
	return Query{Text: q, Args: args}, nil
}

// FieldList builds a query restricted to the requested keyword columns
// plus recnum (§4.C FieldList / PartialAll operation; PartialAll reuses
// this with a caller-restricted field set and the resulting Record is
// always marked Partial, never cached).
func (b *Builder) FieldList(fields []string) (Query, error) {
	return b.All(0, fields)
}

func (b *Builder) fieldListCols(alias string, fields []string) (string, error) {
	names := fields
	if len(names) == 0 {
		names = make([]string, len(b.series.Keywords))
		for i, kw := range b.series.Keywords {
			names[i] = kw.Name
		}
	}
	cols := make([]string, 0, len(names)+1)
	cols = append(cols, sqlast.QualifiedColumn(alias, "recnum"))
	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := b.series.Keyword(name); !ok {
			return "", drmserr.New(drmserr.InvalidKeyword, "querybuilder.fieldListCols")
		}
		cols = append(cols, sqlast.QualifiedColumn(alias, name))
	}
	return strings.Join(cols, ", "), nil
}
