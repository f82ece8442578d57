package seriesschema

import (
	"context"
	"os"
	"testing"

	"github.com/lmjps/drms-recordset/internal/testdb"
	"github.com/lmjps/drms-recordset/internal/testdb/fixtures"
)

func TestMain(m *testing.M) {
	testdb.BootOnce(&testing.T{})
	code := m.Run()
	_ = testdb.ShutdownNow()
	os.Exit(code)
}

// TestLoadFreshOrdersSegmentsBeforeKeywords exercises §4.E's load order
// end to end: a segment's compression defaults live in a keyword row
// ("cparms_sg000"), so the segment must already be in hand before
// keywords are scanned for the catalog to adopt it in one pass.
func TestLoadFreshOrdersSegmentsBeforeKeywords(t *testing.T) {
	sbx := testdb.NewSandbox(t)
	ctx := context.Background()

	series := sbx.Schema + ".test_series"
	seriesRow := fixtures.SeriesRow{
		SeriesName: "test_series",
		Version:    "2.1",
		PrimaryIdx: "t_rec",
	}
	if err := fixtures.Insert(ctx, sbx.DB, sbx.Schema+".drms_series", seriesRow); err != nil {
		t.Fatalf("insert series: %v", err)
	}
	if err := fixtures.Insert(ctx, sbx.DB, sbx.Schema+".drms_segment", fixtures.SegmentRow{
		SeriesName: "test_series", SegmentName: "img", Rank: 0, Format: "generic", Unit: "none",
	}); err != nil {
		t.Fatalf("insert segment: %v", err)
	}
	kws := []fixtures.KeywordRow{
		{SeriesName: "test_series", KeywordName: "t_rec", Rank: 0, Type: "time", IsPrime: true},
		{SeriesName: "test_series", KeywordName: "cparms_sg000", Rank: 1, Type: "string", DefaultValue: "rice"},
		{SeriesName: "test_series", KeywordName: "img_bzero", Rank: 2, Type: "double", DefaultValue: "10.5"},
		{SeriesName: "test_series", KeywordName: "img_bscale", Rank: 3, Type: "double", DefaultValue: "2"},
	}
	for _, kw := range kws {
		if err := fixtures.Insert(ctx, sbx.DB, sbx.Schema+".drms_keyword", kw); err != nil {
			t.Fatalf("insert keyword %s: %v", kw.KeywordName, err)
		}
	}

	cat := NewCatalog(sbx.DB)
	info, err := cat.Load(ctx, series)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(info.Segments) != 1 || info.Segments[0].CParms != "rice" {
		t.Fatalf("expected segment compression adopted from cparms_sg000, got %+v", info.Segments)
	}
	if info.Segments[0].BZero != 10.5 || info.Segments[0].BScale != 2 {
		t.Fatalf("expected bzero/bscale adopted at version 2.1, got %+v", info.Segments[0])
	}
}

// TestLoadRejectsUnregisteredNamespace covers §4.E step 1: a series name
// whose namespace was never registered in admin.ns fails fast instead of
// probing a schema that may not even exist.
func TestLoadRejectsUnregisteredNamespace(t *testing.T) {
	sbx := testdb.NewSandbox(t)

	cat := NewCatalog(sbx.DB)
	if _, err := cat.Load(context.Background(), "no_such_namespace.test_series"); err == nil {
		t.Fatalf("expected Load to reject an unregistered namespace")
	}
}
