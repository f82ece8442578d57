// Package fixtures generates synthetic DRMS catalog rows for tests,
// using go-faker to populate keyword/link values and a small
// reflection-based insert builder. Grounded on pkg/fixgres_demo's
// columnsAndValues/insertSQL helpers (db-tag reflection → INSERT),
// generalized from one hardcoded "users" table to any tagged struct, and
// on its faker-tag convention for generating field values.
package fixtures

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-faker/faker/v4"

	"github.com/lmjps/drms-recordset/internal/prng"
)

// SeedDeterministic points go-faker's crypto source at a seeded PRNG, so
// Faker[T]() output (and any faker-derived UUIDs) is reproducible across
// test runs given the same seed.
func SeedDeterministic(seed int64) {
	faker.SetCryptoSource(prng.New(seed))
}

// SeriesRow is the admin.drms_series row shape used to register a test
// series before inserting keyword/link/segment rows for it.
type SeriesRow struct {
	SeriesName string `db:"seriesname" faker:"-"`
	Description string `db:"description" faker:"sentence"`
	Author     string `db:"author" faker:"name"`
	Owner      string `db:"owner" faker:"username"`
	UnitSize   int64  `db:"unitsize" faker:"-"`
	Archive    bool   `db:"archive" faker:"-"`
	Retention  int    `db:"retention" faker:"-"`
	TapeGroup  int    `db:"tapegroup" faker:"-"`
	Version    string `db:"version" faker:"-"`
	PrimaryIdx string `db:"primary_idx" faker:"-"`
	DBIdx      string `db:"dbidx" faker:"-"`
	Vers       string `db:"vers" faker:"-"`
	NPrime     int    `db:"nprime" faker:"-"`
	NKeywords  int    `db:"nkeywords" faker:"-"`
	NLinks     int    `db:"nlinks" faker:"-"`
	NSegments  int    `db:"nsegments" faker:"-"`
}

// SegmentRow is the admin.drms_segment row shape.
type SegmentRow struct {
	SeriesName    string `db:"seriesname" faker:"-"`
	SegmentName   string `db:"segmentname" faker:"-"`
	Rank          int    `db:"rank" faker:"-"`
	Format        string `db:"format" faker:"-"`
	Unit          string `db:"unit" faker:"-"`
	IsVariableDim bool   `db:"isvariabledim" faker:"-"`
	NAxis         int    `db:"naxis" faker:"-"`
}

// KeywordRow is the admin.drms_keyword row shape.
type KeywordRow struct {
	SeriesName   string `db:"seriesname" faker:"-"`
	KeywordName  string `db:"keywordname" faker:"-"`
	Rank         int    `db:"rank" faker:"-"`
	Type         string `db:"type" faker:"-"`
	Format       string `db:"format" faker:"-"`
	Unit         string `db:"unit" faker:"-"`
	DefaultValue string `db:"defaultvalue" faker:"-"`
	IsConstant   bool   `db:"isconstant" faker:"-"`
	IsPrime      bool   `db:"isprime" faker:"-"`
	IsExtPrime   bool   `db:"isextprime" faker:"-"`
	IsLinked     bool   `db:"islinked" faker:"-"`
}

// Faker returns a new struct of type T with every faker-tagged field
// populated, leaving "-"-tagged fields at their zero value for the
// caller to fill in explicitly (primary keys, series names, ranks).
func Faker[T any]() (T, error) {
	var v T
	if err := faker.FakeData(&v); err != nil {
		return v, fmt.Errorf("fixtures.Faker: %w", err)
	}
	return v, nil
}

// Insert builds and runs "INSERT INTO table (...) VALUES (...)" from
// row's db-tagged fields, skipping any tagged "-".
func Insert(ctx context.Context, db interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, table string, row any) error {
	query, args := insertSQL(table, row)
	_, err := db.ExecContext(ctx, query, args...)
	return err
}

func columnsAndValues(row any) (cols []string, vals []any) {
	v := reflect.ValueOf(row)
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		dbTag := f.Tag.Get("db")
		if dbTag == "" {
			continue
		}
		col := strings.Split(dbTag, ",")[0]
		if col == "-" {
			continue
		}
		cols = append(cols, col)
		vals = append(vals, v.Field(i).Interface())
	}
	return
}

func insertSQL(table string, row any) (string, []any) {
	cols, vals := columnsAndValues(row)
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	return query, vals
}
