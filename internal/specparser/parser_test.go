package specparser

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseSeriesKeyValue(t *testing.T) {
	s, err := Parse("su_user.series[keyword1=42]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Kind != KindSeries || s.Series != "su_user.series" {
		t.Fatalf("got Kind=%v Series=%q", s.Kind, s.Series)
	}
	if len(s.Filters) != 1 || s.Filters[0].Key != "keyword1" || s.Filters[0].Value != "42" {
		t.Fatalf("unexpected filters: %+v", s.Filters)
	}
}

func TestParseRange(t *testing.T) {
	s, err := Parse("su_user.series[t_rec=2020-01-01-2020-02-01]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := s.Filters[0]
	if !f.IsRange {
		t.Fatalf("expected a range filter, got %+v", f)
	}
}

func TestParseList(t *testing.T) {
	s, err := Parse("su_user.series[wavelength=171,193,211]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := s.Filters[0]
	if len(f.List) != 3 {
		t.Fatalf("expected 3 list entries, got %v", f.List)
	}
}

func TestParseRecnum(t *testing.T) {
	s, err := Parse("su_user.series[:#100,200]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := s.Filters[0]
	if !f.IsRecnum || len(f.Recnums) != 2 || f.Recnums[0] != 100 || f.Recnums[1] != 200 {
		t.Fatalf("unexpected recnum filter: %+v", f)
	}
}

func TestParseRawSQL(t *testing.T) {
	s, err := Parse("su_user.series[! wavelength > 100 AND wavelength < 200 !]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := s.Filters[0]
	if !f.IsRawSQL || f.SQLExpr == "" {
		t.Fatalf("expected a raw SQL filter, got %+v", f)
	}
}

func TestParseRawSQLRejectsInvalidSyntax(t *testing.T) {
	_, err := Parse("su_user.series[! this is not ( valid sql !]")
	if err == nil {
		t.Fatalf("expected invalid SQL to fail parsing")
	}
}

func TestParseSegmentsAndCount(t *testing.T) {
	s, err := Parse("su_user.series[keyword1=1]{image,spikes}{#5}")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(s.Segments) != 2 || s.Segments[0] != "image" || s.Segments[1] != "spikes" {
		t.Fatalf("unexpected segments: %v", s.Segments)
	}
	if s.NRecords != 5 || !s.FromOldest {
		t.Fatalf("expected first-5, got NRecords=%d FromOldest=%v", s.NRecords, s.FromOldest)
	}
}

func TestParseLastN(t *testing.T) {
	s, err := Parse("su_user.series{10}")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.NRecords != 10 || s.FromOldest {
		t.Fatalf("expected last-10, got NRecords=%d FromOldest=%v", s.NRecords, s.FromOldest)
	}
}

func TestParseRejectsEmpty(t *testing.T) {
	if _, err := Parse("   "); err == nil {
		t.Fatalf("expected empty spec to fail")
	}
}

func TestParseRejectsUnbalancedBracket(t *testing.T) {
	if _, err := Parse("su_user.series[keyword1=1"); err == nil {
		t.Fatalf("expected unbalanced bracket to fail")
	}
}

func TestParseMultiSubSpecWithAtFile(t *testing.T) {
	dir := t.TempDir()
	listPath := filepath.Join(dir, "list.txt")
	if err := os.WriteFile(listPath, []byte("su_user.other\n"), 0o644); err != nil {
		t.Fatalf("write list file: %v", err)
	}

	spec := "a.b[2010.01.01][?val>3?]{s1,s2},@" + listPath
	s, err := Parse(spec)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Kind != KindAtFile || len(s.Children) != 2 {
		t.Fatalf("expected 2 flattened leaves, got %+v", s)
	}
	if !s.HasAtFile || !s.HasFilters {
		t.Fatalf("expected HasAtFile and HasFilters, got HasAtFile=%v HasFilters=%v", s.HasAtFile, s.HasFilters)
	}

	first := s.Children[0]
	if first.Kind != KindSeries || first.Series != "a.b" {
		t.Fatalf("unexpected first leaf: %+v", first)
	}
	if len(first.Segments) != 2 || first.Segments[0] != "s1" || first.Segments[1] != "s2" {
		t.Fatalf("unexpected segments: %v", first.Segments)
	}
	if len(first.Filters) != 2 {
		t.Fatalf("expected 2 filters, got %+v", first.Filters)
	}
	if first.Filters[0].Key != "" || first.Filters[0].Value != "2010.01.01" {
		t.Fatalf("expected a positional pkfilter, got %+v", first.Filters[0])
	}
	if !first.Filters[1].IsRawSQL || first.Filters[1].SQLExpr != "val>3" || first.Filters[1].AllVersions {
		t.Fatalf("expected a non-all-versions raw SQL filter, got %+v", first.Filters[1])
	}

	second := s.Children[1]
	if second.Kind != KindSeries || second.Series != "su_user.other" {
		t.Fatalf("unexpected second leaf: %+v", second)
	}
}

func TestParseAllVersionsRawSQL(t *testing.T) {
	s, err := Parse("su_user.series[! wavelength > 100 !]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := s.Filters[0]
	if !f.IsRawSQL || !f.AllVersions || !s.AllVersions {
		t.Fatalf("expected an all-versions raw SQL filter, got Filter=%+v Spec.AllVersions=%v", f, s.AllVersions)
	}
}

func TestParseQuestionMarkRawSQLIsNotAllVersions(t *testing.T) {
	s, err := Parse("su_user.series[? wavelength > 100 ?]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := s.Filters[0]
	if !f.IsRawSQL || f.AllVersions || s.AllVersions {
		t.Fatalf("expected a non-all-versions raw SQL filter, got Filter=%+v Spec.AllVersions=%v", f, s.AllVersions)
	}
}

func TestParsePKFirstLast(t *testing.T) {
	cases := []struct {
		spec       string
		fromOldest bool
		count      int
	}{
		{"su_user.series[pk=first]", true, 0},
		{"su_user.series[pk=last]", false, 0},
		{"su_user.series[pk=first(3)]", true, 3},
		{"su_user.series[pk=last(5)]", false, 5},
	}
	for _, c := range cases {
		s, err := Parse(c.spec)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.spec, err)
		}
		f := s.Filters[0]
		if !f.IsPKFirstLast || f.PKFromOldest != c.fromOldest || f.PKCount != c.count {
			t.Fatalf("Parse(%q) filter = %+v", c.spec, f)
		}
	}
}

func TestParsePositionalFilter(t *testing.T) {
	s, err := Parse("su_user.series[2010.01.01]")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	f := s.Filters[0]
	if f.Key != "" || f.Value != "2010.01.01" || f.IsRange || len(f.List) != 0 {
		t.Fatalf("unexpected positional filter: %+v", f)
	}
}

func TestParseLegacyPath(t *testing.T) {
	s, err := Parse("/tmp/some/legacy/path.fits")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Kind != KindLegacyPath || s.Path != "/tmp/some/legacy/path.fits" {
		t.Fatalf("got %+v", s)
	}
}
