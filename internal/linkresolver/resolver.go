// Package linkresolver implements the LinkResolver component (§4.G): it
// resolves dynamic links (primary-key values carried on the source
// record) to the target series' recnum, and fills in static links whose
// recnum is already known. Resolution is batched: primary-key tuples are
// staged into a transaction-scoped temp table in groups of 16 (the prepared
// statement parameter batch size named in §6), then joined once against
// the target series in a single round trip rather than one query per
// link.
//
// Grounded on pkg/pg_lineage/resolver.go and rewrite_pks.go for the
// pg_query_go AST-walking and SQL-composition idiom, and on
// google/uuid's use elsewhere in the teacher stack for unique SQL object
// naming (ephemeral temp tables here, cursor names in internal/cursor).
package linkresolver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lmjps/drms-recordset/internal/drmserr"
	"github.com/lmjps/drms-recordset/internal/drmslog"
	"github.com/lmjps/drms-recordset/internal/record"
	"github.com/lmjps/drms-recordset/internal/sqlast"
	"go.uber.org/zap"
)

// batchSize is the number of parameter rows per INSERT statement when
// staging primary-key tuples into the temp table (§6).
const batchSize = 16

type Resolver struct {
	db *sql.DB
}

func New(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// pending groups links sharing a target series, so all of that series'
// lookups share one temp table and one join.
type pending struct {
	target  string
	pkNames []string
	links   []*record.Link
}

// ResolveBatch resolves every unresolved link in links against the
// database, marking each Followed and setting RecNum (or leaving it -1
// on a miss). Static links are only marked Followed; their RecNum is
// left as it is.
func (r *Resolver) ResolveBatch(ctx context.Context, links []*record.Link) error {
	groups := map[string]*pending{}
	for _, lk := range links {
		if lk.Followed {
			continue
		}
		if lk.Type == record.LinkStatic {
			lk.Followed = true
			continue
		}
		if !lk.IsSet {
			lk.Followed = true
			lk.RecNum = -1
			continue
		}
		g, ok := groups[lk.TargetSeries]
		if !ok {
			g = &pending{target: lk.TargetSeries, pkNames: lk.TargetPrimeKeys}
			groups[lk.TargetSeries] = g
		}
		g.links = append(g.links, lk)
	}

	for _, g := range groups {
		if err := r.resolveGroup(ctx, g); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resolver) resolveGroup(ctx context.Context, g *pending) error {
	if len(g.pkNames) == 0 {
		for _, lk := range g.links {
			lk.Followed = true
			lk.RecNum = -1
		}
		return drmserr.New(drmserr.UnknownLink, "linkresolver.resolveGroup")
	}

	ns, table, err := splitSeries(g.target)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return drmserr.Wrap(drmserr.QueryFailed, "linkresolver.resolveGroup.begin", err)
	}
	defer tx.Rollback()

	tmpTable := "link_stage_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	colDefs := make([]string, len(g.pkNames))
	for i, name := range g.pkNames {
		colDefs[i] = fmt.Sprintf("%s TEXT", sqlast.QualifiedColumn("", name))
	}
	createSQL := fmt.Sprintf("CREATE TEMP TABLE %s (row_idx INTEGER, %s) ON COMMIT DROP",
		tmpTable, strings.Join(colDefs, ", "))
	if _, err := tx.ExecContext(ctx, createSQL); err != nil {
		return drmserr.Wrap(drmserr.QueryFailed, "linkresolver.resolveGroup.create", err)
	}

	if err := r.stageRows(ctx, tx, tmpTable, g); err != nil {
		return err
	}

	joinCond := make([]string, len(g.pkNames))
	for i, name := range g.pkNames {
		joinCond[i] = fmt.Sprintf("s.%s::text = stage.%s", sqlast.QualifiedColumn("", name), sqlast.QualifiedColumn("", name))
	}
	joinSQL := fmt.Sprintf(`SELECT stage.row_idx, s.recnum
		FROM %s AS stage
		JOIN %s.%s AS s ON %s
		WHERE NOT EXISTS (
			SELECT 1 FROM %s.%s AS newer
			WHERE %s AND newer.recnum > s.recnum
		)`,
		tmpTable, sqlast.QualifiedColumn("", ns), sqlast.QualifiedColumn("", table), strings.Join(joinCond, " AND "),
		sqlast.QualifiedColumn("", ns), sqlast.QualifiedColumn("", table), selfJoinEq(g.pkNames))

	rows, err := tx.QueryContext(ctx, joinSQL)
	if err != nil {
		return drmserr.Wrap(drmserr.QueryFailed, "linkresolver.resolveGroup.join", err)
	}
	resolved := make(map[int]int64, len(g.links))
	for rows.Next() {
		var idx int
		var recnum int64
		if err := rows.Scan(&idx, &recnum); err != nil {
			rows.Close()
			return drmserr.Wrap(drmserr.QueryFailed, "linkresolver.resolveGroup.join.scan", err)
		}
		resolved[idx] = recnum
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return drmserr.Wrap(drmserr.QueryFailed, "linkresolver.resolveGroup.join.rows", err)
	}
	rows.Close()

	for i, lk := range g.links {
		lk.Followed = true
		if recnum, ok := resolved[i]; ok {
			lk.RecNum = recnum
		} else {
			lk.RecNum = -1
		}
	}

	if err := tx.Commit(); err != nil {
		return drmserr.Wrap(drmserr.QueryFailed, "linkresolver.resolveGroup.commit", err)
	}

	drmslog.L("linkresolver").Debug("resolved link batch",
		zap.String("target", g.target), zap.Int("links", len(g.links)), zap.Int("hits", len(resolved)))
	return nil
}

func selfJoinEq(pkNames []string) string {
	eq := make([]string, len(pkNames))
	for i, name := range pkNames {
		eq[i] = fmt.Sprintf("newer.%s = s.%s", sqlast.QualifiedColumn("", name), sqlast.QualifiedColumn("", name))
	}
	return strings.Join(eq, " AND ")
}

// stageRows inserts g.links' primary-key values in batches of batchSize,
// each batch as one multi-row INSERT with positionally bound parameters.
func (r *Resolver) stageRows(ctx context.Context, tx *sql.Tx, tmpTable string, g *pending) error {
	for start := 0; start < len(g.links); start += batchSize {
		end := start + batchSize
		if end > len(g.links) {
			end = len(g.links)
		}
		batch := g.links[start:end]

		var valueRows []string
		var args []any
		argN := 0
		for i, lk := range batch {
			rowIdx := start + i
			argN++
			placeholders := []string{sqlast.Placeholder(argN)}
			args = append(args, rowIdx)
			for _, v := range lk.PKValues {
				argN++
				placeholders = append(placeholders, sqlast.Placeholder(argN))
				args = append(args, fmt.Sprintf("%v", v))
			}
			valueRows = append(valueRows, "("+strings.Join(placeholders, ", ")+")")
		}

		cols := append([]string{"row_idx"}, g.pkNames...)
		insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			tmpTable, strings.Join(cols, ", "), strings.Join(valueRows, ", "))
		if _, err := tx.ExecContext(ctx, insertSQL, args...); err != nil {
			return drmserr.Wrap(drmserr.QueryFailed, "linkresolver.stageRows", err)
		}
	}
	return nil
}

func splitSeries(series string) (ns, table string, err error) {
	parts := strings.SplitN(series, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", drmserr.New(drmserr.UnknownSeries, "linkresolver.splitSeries")
	}
	return parts[0], parts[1], nil
}
