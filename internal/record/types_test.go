package record

import "testing"

func TestCacheKey(t *testing.T) {
	if got := CacheKey("su_user.series", 42); got != "su_user.series:42" {
		t.Fatalf("CacheKey = %q", got)
	}
	if got := CacheKey("su_user.series", -1); got != "su_user.series:-1" {
		t.Fatalf("CacheKey with negative recnum = %q", got)
	}
}

func TestRecordCacheKeyMatchesHelper(t *testing.T) {
	series := &SeriesInfo{Name: "su_user.series"}
	rec := &Record{RecNum: 7, Series: series}
	if rec.CacheKey() != CacheKey("su_user.series", 7) {
		t.Fatalf("Record.CacheKey() diverges from CacheKey helper")
	}
}

func TestKeywordTypeSQLType(t *testing.T) {
	cases := map[KeywordType]string{
		TypeString:   "TEXT",
		TypeShort:    "SMALLINT",
		TypeInt:      "INTEGER",
		TypeLongLong: "BIGINT",
		TypeFloat:    "REAL",
		TypeDouble:   "DOUBLE PRECISION",
		TypeTime:     "DOUBLE PRECISION",
		TypeLink:     "INTEGER",
	}
	for typ, want := range cases {
		if got := typ.SQLType(); got != want {
			t.Fatalf("%v.SQLType() = %q, want %q", typ, got, want)
		}
	}
}

func TestSeriesInfoKeywordLookup(t *testing.T) {
	s := &SeriesInfo{Keywords: []Keyword{{Name: "t_rec"}, {Name: "wavelength"}}}
	if _, ok := s.Keyword("wavelength"); !ok {
		t.Fatalf("expected to find wavelength keyword")
	}
	if _, ok := s.Keyword("missing"); ok {
		t.Fatalf("expected missing keyword lookup to fail")
	}
}

func TestRecordKeywordValue(t *testing.T) {
	rec := &Record{Keywords: []KeywordValue{{Keyword: Keyword{Name: "wavelength"}, Value: 171}}}
	v, ok := rec.KeywordValue("wavelength")
	if !ok || v != 171 {
		t.Fatalf("KeywordValue(\"wavelength\") = (%v, %v)", v, ok)
	}
	if _, ok := rec.KeywordValue("missing"); ok {
		t.Fatalf("expected missing keyword value lookup to fail")
	}
}

func TestKeyMapRoundTrip(t *testing.T) {
	m := NewKeyMap(KeyMapDSDS)
	m.Add("t_rec", "DATE-OBS")
	if ext, ok := m.ToExternal("t_rec"); !ok || ext != "DATE-OBS" {
		t.Fatalf("ToExternal = (%q, %v)", ext, ok)
	}
	if internal, ok := m.ToInternal("DATE-OBS"); !ok || internal != "t_rec" {
		t.Fatalf("ToInternal = (%q, %v)", internal, ok)
	}
	if _, ok := m.ToExternal("unknown"); ok {
		t.Fatalf("expected unknown keyword lookup to fail")
	}
}
