package querybuilder

import (
	"strings"
	"testing"

	"github.com/lmjps/drms-recordset/internal/record"
	"github.com/lmjps/drms-recordset/internal/shadowindex"
	"github.com/lmjps/drms-recordset/internal/specparser"
)

func testSeries() *record.SeriesInfo {
	return &record.SeriesInfo{
		Name:         "su_user.test_series",
		PrimaryIndex: []string{"t_rec"},
		Keywords: []record.Keyword{
			{Name: "t_rec", Type: record.TypeTime, IsPrime: true},
			{Name: "wavelength", Type: record.TypeInt},
		},
	}
}

// testShadow is a pure SQL-text-emitting shadowindex.Index: its query
// methods never touch the receiver's db/memo fields, so a nil-backed
// Index is safe to exercise in these unit tests.
func testShadow() *shadowindex.Index {
	return shadowindex.NewIndex(nil, false)
}

func TestCountShadowDispatch(t *testing.T) {
	b := NewBuilder(testSeries(), nil, DispatchShadow, testShadow())
	q, err := b.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if !strings.Contains(q.Text, "test_series_shadow") {
		t.Fatalf("expected shadow table reference, got %q", q.Text)
	}
	if strings.Contains(q.Text, "NOT EXISTS") {
		t.Fatalf("shadow dispatch should not self-join, got %q", q.Text)
	}
}

func TestCountShadowDispatchJoinsBaseTable(t *testing.T) {
	filters := []specparser.Filter{{Key: "wavelength", Value: "171"}}
	b := NewBuilder(testSeries(), filters, DispatchShadow, testShadow())
	q, err := b.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if !strings.Contains(q.Text, "test_series") || !strings.Contains(q.Text, "test_series_shadow") {
		t.Fatalf("expected both base and shadow table references, got %q", q.Text)
	}
	if !strings.Contains(q.Text, "JOIN") {
		t.Fatalf("expected a join between base and shadow tables, got %q", q.Text)
	}
}

func TestCountSelfJoinDispatch(t *testing.T) {
	b := NewBuilder(testSeries(), nil, DispatchSelfJoin, nil)
	q, err := b.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if !strings.Contains(q.Text, "NOT EXISTS") {
		t.Fatalf("expected a self-join latest-version predicate, got %q", q.Text)
	}
}

func TestAllWithFilterBindsArgs(t *testing.T) {
	filters := []specparser.Filter{{Key: "wavelength", Value: "171"}}
	b := NewBuilder(testSeries(), filters, DispatchSelfJoin, nil)
	q, err := b.All(0, nil)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(q.Args) != 1 || q.Args[0] != "171" {
		t.Fatalf("expected one bound arg \"171\", got %v", q.Args)
	}
	if q.Truncated {
		t.Fatalf("expected no LIMIT applied with zero memory budget")
	}
}

func TestAllAppliesMemoryBudgetLimit(t *testing.T) {
	b := NewBuilder(testSeries(), nil, DispatchShadow, testShadow())
	q, err := b.All(2048*10, nil)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if !q.Truncated || !strings.Contains(q.Text, "LIMIT") {
		t.Fatalf("expected LIMIT to be applied, got %q truncated=%v", q.Text, q.Truncated)
	}
}

func TestFieldListRejectsUnknownKeyword(t *testing.T) {
	b := NewBuilder(testSeries(), nil, DispatchShadow, testShadow())
	if _, err := b.FieldList([]string{"does_not_exist"}); err == nil {
		t.Fatalf("expected an error for an unknown keyword")
	}
}

func TestWhereRejectsUnknownKeyword(t *testing.T) {
	filters := []specparser.Filter{{Key: "bogus", Value: "1"}}
	b := NewBuilder(testSeries(), filters, DispatchShadow, testShadow())
	if _, err := b.Count(); err == nil {
		t.Fatalf("expected an error filtering on an unknown keyword")
	}
}

func TestWhereResolvesPositionalFilterAgainstPrimaryIndex(t *testing.T) {
	filters := []specparser.Filter{{Value: "2010.01.01"}}
	b := NewBuilder(testSeries(), filters, DispatchSelfJoin, nil)
	q, err := b.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if !strings.Contains(q.Text, "t_rec") || len(q.Args) != 1 || q.Args[0] != "2010.01.01" {
		t.Fatalf("expected positional filter resolved to t_rec, got %q args=%v", q.Text, q.Args)
	}
}

func TestWhereRejectsExcessPositionalFilters(t *testing.T) {
	filters := []specparser.Filter{{Value: "a"}, {Value: "b"}}
	b := NewBuilder(testSeries(), filters, DispatchSelfJoin, nil)
	if _, err := b.Count(); err == nil {
		t.Fatalf("expected an error: series has only one primary index column")
	}
}

func TestNRecordsOrdering(t *testing.T) {
	b := NewBuilder(testSeries(), nil, DispatchShadow, testShadow())
	q, err := b.NRecords(5, true, nil)
	if err != nil {
		t.Fatalf("NRecords: %v", err)
	}
	if !strings.Contains(q.Text, "ASC") {
		t.Fatalf("expected ascending order for fromOldest=true, got %q", q.Text)
	}
}

func TestAllVersionsAllBypassesDedup(t *testing.T) {
	filters := []specparser.Filter{{IsRawSQL: true, SQLExpr: "wavelength > 100", AllVersions: true}}
	b := NewBuilder(testSeries(), filters, DispatchShadow, testShadow())
	q, err := b.AllVersionsAll(0, nil)
	if err != nil {
		t.Fatalf("AllVersionsAll: %v", err)
	}
	if strings.Contains(q.Text, "NOT EXISTS") || strings.Contains(q.Text, "_shadow") {
		t.Fatalf("expected an all-versions query with no dedup path, got %q", q.Text)
	}
	if !strings.Contains(q.Text, "ORDER BY") || !strings.Contains(q.Text, "t_rec") {
		t.Fatalf("expected ordering by the primary index, got %q", q.Text)
	}
}

func TestPKFirstLastOf(t *testing.T) {
	filters := []specparser.Filter{{Key: "wavelength", Value: "171"}, {IsPKFirstLast: true, PKFromOldest: true, PKCount: 3}}
	f, ok := PKFirstLastOf(filters)
	if !ok || !f.PKFromOldest || f.PKCount != 3 {
		t.Fatalf("expected to find the pk=first(3) filter, got %+v ok=%v", f, ok)
	}
}

func TestPKFirstLastSelfJoin(t *testing.T) {
	b := NewBuilder(testSeries(), nil, DispatchSelfJoin, nil)
	q, err := b.PKFirstLast(specparser.Filter{PKFromOldest: false, PKCount: 2}, nil)
	if err != nil {
		t.Fatalf("PKFirstLast: %v", err)
	}
	if !strings.Contains(q.Text, "row_number()") || !strings.Contains(q.Text, "PARTITION BY") {
		t.Fatalf("expected a partitioned self-join, got %q", q.Text)
	}
	if !strings.Contains(q.Text, "LIMIT 2") {
		t.Fatalf("expected LIMIT 2, got %q", q.Text)
	}
}

func TestPKFirstLastShadowDispatch(t *testing.T) {
	b := NewBuilder(testSeries(), nil, DispatchShadow, testShadow())
	q, err := b.PKFirstLast(specparser.Filter{PKFromOldest: true, PKCount: 1}, nil)
	if err != nil {
		t.Fatalf("PKFirstLast: %v", err)
	}
	if !strings.Contains(q.Text, "test_series_shadow") {
		t.Fatalf("expected shadow dispatch, got %q", q.Text)
	}
	if !strings.Contains(q.Text, "t_rec") {
		t.Fatalf("expected ordering by the primary index, got %q", q.Text)
	}
}
