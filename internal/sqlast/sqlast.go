// Package sqlast wraps pg_query_go parse/deparse helpers and small SQL
// text helpers. specparser uses it to validate an embedded filter
// clause; querybuilder and linkresolver use its identifier-quoting and
// bind-placeholder helpers when composing SQL text with fmt.Sprintf.
// Grounded on pkg/pg_lineage's direct use of
// pg_query.Parse/Deparse/ParseToJSON and its AST-walking helpers in
// resolver.go and rewrite_pks.go.
package sqlast

import (
	"fmt"
	"sort"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/lmjps/drms-recordset/internal/drmserr"
)

// ValidateWhereClause parses "SELECT 1 WHERE <clause>" to confirm clause
// is a syntactically valid boolean expression, without knowing the
// series' real column set (SpecParser validates syntax only; semantic
// column resolution happens later in QueryBuilder against the loaded
// SeriesInfo).
func ValidateWhereClause(clause string) error {
	probe := "SELECT 1 WHERE " + clause
	if _, err := pg_query.Parse(probe); err != nil {
		return drmserr.Wrap(drmserr.InvalidSpec, "sqlast.ValidateWhereClause", err)
	}
	return nil
}

// ParseSelect parses a full SELECT statement and returns its AST,
// erroring with BadDbQuery if it is not a single SelectStmt.
func ParseSelect(query string) (*pg_query.SelectStmt, *pg_query.ParseResult, error) {
	tree, err := pg_query.Parse(query)
	if err != nil {
		return nil, nil, drmserr.Wrap(drmserr.BadDbQuery, "sqlast.ParseSelect", err)
	}
	if len(tree.GetStmts()) != 1 {
		return nil, nil, drmserr.New(drmserr.BadDbQuery, "sqlast.ParseSelect")
	}
	sel := tree.GetStmts()[0].GetStmt().GetSelectStmt()
	if sel == nil {
		return nil, nil, drmserr.New(drmserr.BadDbQuery, "sqlast.ParseSelect")
	}
	return sel, tree, nil
}

// Deparse renders tree back to SQL text.
func Deparse(tree *pg_query.ParseResult) (string, error) {
	out, err := pg_query.Deparse(tree)
	if err != nil {
		return "", drmserr.Wrap(drmserr.BadDbQuery, "sqlast.Deparse", err)
	}
	return out, nil
}

// QualifiedColumn builds "alias.column" (or bare "column" when alias is
// empty), mirroring pg_lineage's buildColRefForScope qualification rule
// for single-table scopes.
func QualifiedColumn(alias, column string) string {
	if alias == "" {
		return pgQuoteIdent(column)
	}
	return pgQuoteIdent(alias) + "." + pgQuoteIdent(column)
}

func pgQuoteIdent(s string) string {
	if s == "" {
		return s
	}
	needsQuote := false
	for i, r := range s {
		if r >= 'a' && r <= 'z' || r == '_' || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		needsQuote = true
		break
	}
	if !needsQuote {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// InClauseLiterals renders a parenthesized list of quoted string
// literals for use in a generated IN (...) predicate. querybuilder and
// linkresolver bind their IN lists through Placeholder instead.
func InClauseLiterals(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

// SortedKeys returns m's keys in ascending order, matching pg_lineage's
// sortedKeys determinism helper (stable generated SQL for logging and
// tests).
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EscapeLiteral escapes a single SQL string literal body (caller adds
// the surrounding quotes), used when interpolating user-supplied
// parameter values that cannot be bound positionally (e.g. inside a
// dynamically constructed IN list spanning a prepared-statement batch
// boundary).
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// Placeholder formats a numbered bind placeholder, "$<n>".
func Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}
