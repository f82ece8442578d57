// Package seriesschema implements the TemplateCatalog component (§4.E):
// a process-wide, thread-safe cache of SeriesInfo schemas loaded from the
// DRMS catalog tables (admin.ns, {ns}.drms_series, {ns}.drms_keyword,
// {ns}.drms_link, {ns}.drms_segment). Grounded on pkg/richcatalog's
// single-query-batch + checksum-staleness + RWMutex cache idiom, adapted
// from a whole-database pg_catalog dump to a per-series, on-demand load
// against the DRMS catalog schema.
package seriesschema

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/lmjps/drms-recordset/internal/drmserr"
	"github.com/lmjps/drms-recordset/internal/drmslog"
	"github.com/lmjps/drms-recordset/internal/record"
	"go.uber.org/zap"
)

type entry struct {
	info     *record.SeriesInfo
	checksum string
}

// Catalog caches SeriesInfo by lower-cased series name. A series' schema
// is immutable for the lifetime of a session except for version bumps
// (new keyword/link/segment added), detected via checksum and triggering
// a transparent reload.
type Catalog struct {
	db *sql.DB

	mu      sync.RWMutex
	entries map[string]entry
}

func NewCatalog(db *sql.DB) *Catalog {
	return &Catalog{db: db, entries: map[string]entry{}}
}

// Close releases in-memory state; the catalog owns no connections or
// background goroutines of its own.
func (c *Catalog) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Load returns the SeriesInfo for series, from cache when the checksum
// is unchanged, reloading from the catalog tables otherwise.
func (c *Catalog) Load(ctx context.Context, series string) (*record.SeriesInfo, error) {
	key := strings.ToLower(series)
	ns, table, err := splitSeries(key)
	if err != nil {
		return nil, err
	}

	if err := c.verifyNamespace(ctx, ns); err != nil {
		return nil, err
	}

	sum, err := c.checksum(ctx, ns, table)
	if err != nil {
		return nil, drmserr.Wrap(drmserr.QueryFailed, "seriesschema.Load", err)
	}

	c.mu.RLock()
	if e, ok := c.entries[key]; ok && e.checksum == sum {
		c.mu.RUnlock()
		return e.info, nil
	}
	c.mu.RUnlock()

	info, err := c.loadFresh(ctx, ns, table, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = entry{info: info, checksum: sum}
	c.mu.Unlock()

	drmslog.L("seriesschema").Debug("loaded series schema",
		zap.String("series", key), zap.Int("keywords", len(info.Keywords)),
		zap.Int("links", len(info.Links)), zap.Int("segments", len(info.Segments)))
	return info, nil
}

// Invalidate drops a cached entry, forcing the next Load to re-query.
func (c *Catalog) Invalidate(series string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, strings.ToLower(series))
}

// verifyNamespace confirms ns is a registered DRMS namespace (§4.E step
// 1) before ever touching {ns}.drms_series; an unregistered namespace
// means a typo'd series name, not a schema this catalog should probe.
func (c *Catalog) verifyNamespace(ctx context.Context, ns string) error {
	var exists bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM admin.ns WHERE lower(name) = lower($1))`, ns).Scan(&exists)
	if err != nil {
		return drmserr.Wrap(drmserr.QueryFailed, "seriesschema.verifyNamespace", err)
	}
	if !exists {
		return drmserr.New(drmserr.UnknownSeries, "seriesschema.verifyNamespace")
	}
	return nil
}

func splitSeries(series string) (ns, table string, err error) {
	parts := strings.SplitN(series, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", drmserr.New(drmserr.UnknownSeries, "seriesschema.splitSeries")
	}
	return parts[0], parts[1], nil
}

// checksum hashes the series' vers/nprime/nkeywords/nlinks/nsegments
// columns so a schema bump (new keyword, link or segment) is detected
// without re-reading
// the full keyword/link/segment sets on every Load call.
func (c *Catalog) checksum(ctx context.Context, ns, table string) (string, error) {
	q := fmt.Sprintf(`SELECT vers, nprime, nkeywords, nlinks, nsegments
		FROM %s.drms_series WHERE lower(seriesname) = lower($1)`, pgIdent(ns))
	var vers string
	var nprime, nkw, nlk, nsg int
	err := c.db.QueryRowContext(ctx, q, table).Scan(&vers, &nprime, &nkw, &nlk, &nsg)
	if err == sql.ErrNoRows {
		return "", drmserr.New(drmserr.UnknownSeries, "seriesschema.checksum")
	}
	if err != nil {
		return "", err
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%d|%d|%d", vers, nprime, nkw, nlk, nsg)))
	return hex.EncodeToString(h[:]), nil
}

func (c *Catalog) loadFresh(ctx context.Context, ns, table, fullName string) (*record.SeriesInfo, error) {
	info := &record.SeriesInfo{Name: fullName, ShadowExists: record.ShadowUnknown}

	metaQ := fmt.Sprintf(`SELECT description, author, owner, unitsize, archive,
			retention, tapegroup, version, primary_idx, dbidx
		FROM %s.drms_series WHERE lower(seriesname) = lower($1)`, pgIdent(ns))
	var primaryIdx, dbIdx sql.NullString
	err := c.db.QueryRowContext(ctx, metaQ, table).Scan(
		&info.Description, &info.Author, &info.Owner, &info.UnitSize, &info.Archive,
		&info.Retention, &info.TapeGroup, &info.Version, &primaryIdx, &dbIdx)
	if err == sql.ErrNoRows {
		return nil, drmserr.New(drmserr.UnknownSeries, "seriesschema.loadFresh")
	}
	if err != nil {
		return nil, drmserr.Wrap(drmserr.QueryFailed, "seriesschema.loadFresh", err)
	}
	if primaryIdx.Valid && primaryIdx.String != "" {
		info.PrimaryIndex = strings.Split(primaryIdx.String, ",")
	}
	if dbIdx.Valid && dbIdx.String != "" {
		info.DBIndex = strings.Split(dbIdx.String, ",")
	}

	// §4.E step 3: segments, then links, then keywords — keyword rows may
	// reference a link (IsLinked) or a segment's compression/scaling
	// defaults (cparms_sgNNN, <segname>_bzero/_bscale), so both must
	// already be in hand before keywords are scanned.
	sgQ := fmt.Sprintf(`SELECT segmentname, rank, format, unit, isvariabledim, naxis
		FROM %s.drms_segment WHERE lower(seriesname) = lower($1) ORDER BY rank`, pgIdent(ns))
	rows, err := c.db.QueryContext(ctx, sgQ, table)
	if err != nil {
		return nil, drmserr.Wrap(drmserr.QueryFailed, "seriesschema.loadFresh.segments", err)
	}
	for rows.Next() {
		var sg record.Segment
		if err := rows.Scan(&sg.Name, &sg.Rank, &sg.Format, &sg.Unit, &sg.IsVariableDim, &sg.NAxis); err != nil {
			rows.Close()
			return nil, drmserr.Wrap(drmserr.QueryFailed, "seriesschema.loadFresh.segments.scan", err)
		}
		info.Segments = append(info.Segments, sg)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, drmserr.Wrap(drmserr.QueryFailed, "seriesschema.loadFresh.segments.rows", err)
	}
	rows.Close()

	lkQ := fmt.Sprintf(`SELECT linkname, rank, type, targetseries
		FROM %s.drms_link WHERE lower(seriesname) = lower($1) ORDER BY rank`, pgIdent(ns))
	rows, err = c.db.QueryContext(ctx, lkQ, table)
	if err != nil {
		return nil, drmserr.Wrap(drmserr.QueryFailed, "seriesschema.loadFresh.links", err)
	}
	for rows.Next() {
		var lk record.Link
		var typ string
		if err := rows.Scan(&lk.Name, &lk.Rank, &typ, &lk.TargetSeries); err != nil {
			rows.Close()
			return nil, drmserr.Wrap(drmserr.QueryFailed, "seriesschema.loadFresh.links.scan", err)
		}
		if typ == "static" {
			lk.Type = record.LinkStatic
		} else {
			lk.Type = record.LinkDynamic
		}
		lk.RecNum = -1
		info.Links = append(info.Links, lk)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, drmserr.Wrap(drmserr.QueryFailed, "seriesschema.loadFresh.links.rows", err)
	}
	rows.Close()

	kwQ := fmt.Sprintf(`SELECT keywordname, rank, type, format, unit, defaultvalue,
			isconstant, isprime, isextprime, islinked, linkname, targetkeyword
		FROM %s.drms_keyword WHERE lower(seriesname) = lower($1) ORDER BY rank`, pgIdent(ns))
	rows, err = c.db.QueryContext(ctx, kwQ, table)
	if err != nil {
		return nil, drmserr.Wrap(drmserr.QueryFailed, "seriesschema.loadFresh.keywords", err)
	}
	for rows.Next() {
		var kw record.Keyword
		var typ string
		var linkName, targetKey sql.NullString
		if err := rows.Scan(&kw.Name, &kw.Rank, &typ, &kw.Format, &kw.Unit, &kw.Default,
			&kw.IsConstant, &kw.IsPrime, &kw.IsExternalPrime, &kw.IsLinked, &linkName, &targetKey); err != nil {
			rows.Close()
			return nil, drmserr.Wrap(drmserr.QueryFailed, "seriesschema.loadFresh.keywords.scan", err)
		}
		kw.Type = parseKeywordType(typ)
		kw.LinkName = linkName.String
		kw.TargetKey = targetKey.String
		info.Keywords = append(info.Keywords, kw)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, drmserr.Wrap(drmserr.QueryFailed, "seriesschema.loadFresh.keywords.rows", err)
	}
	rows.Close()

	if len(info.PrimaryIndex) == 0 {
		for _, kw := range info.Keywords {
			if kw.IsPrime {
				info.PrimaryIndex = append(info.PrimaryIndex, kw.Name)
			}
		}
	}
	sort.Strings(info.DBIndex)

	markPrimeKeywords(info)
	adoptSegmentCompression(info)

	return info, nil
}

// markPrimeKeywords implements §4.E step 5's index resolution: every
// keyword named in PrimaryIndex is internal-prime, and (for a pre-2.1
// series, which has no separate slotted external index) also
// external-prime.
func markPrimeKeywords(info *record.SeriesInfo) {
	extPrime := !versionAtLeast(info.Version, "2.1")
	for _, name := range info.PrimaryIndex {
		kw, ok := info.Keyword(name)
		if !ok {
			continue
		}
		kw.IsPrime = true
		if extPrime {
			kw.IsExternalPrime = true
		}
	}
}

// adoptSegmentCompression implements §4.E step 4: a series at version
// >= 2.0 carries each segment's compression parameters in a keyword
// named "cparms_sg<rank>" (zero-padded to 3 digits); at version >= 2.1
// it additionally carries per-segment bzero/bscale in
// "<segname>_bzero"/"<segname>_bscale". Older series have neither
// keyword and segments keep their zero-value CParms/BZero/BScale.
func adoptSegmentCompression(info *record.SeriesInfo) {
	v2 := versionAtLeast(info.Version, "2.0")
	v21 := versionAtLeast(info.Version, "2.1")
	if !v2 && !v21 {
		return
	}
	for i := range info.Segments {
		sg := &info.Segments[i]
		if v2 {
			if kw, ok := info.Keyword(fmt.Sprintf("cparms_sg%03d", sg.Rank)); ok {
				sg.CParms = kw.Default
			}
		}
		if v21 {
			if kw, ok := info.Keyword(sg.Name + "_bzero"); ok {
				if f, err := strconv.ParseFloat(kw.Default, 64); err == nil {
					sg.BZero = f
				}
			}
			if kw, ok := info.Keyword(sg.Name + "_bscale"); ok {
				if f, err := strconv.ParseFloat(kw.Default, 64); err == nil {
					sg.BScale = f
				}
			}
		}
	}
}

// versionAtLeast compares two "major.minor" version strings numerically
// (not lexically, so "2.10" ranks above "2.9"); a malformed version
// string compares as less than any well-formed floor.
func versionAtLeast(version, floor string) bool {
	v, err1 := parseVersion(version)
	f, err2 := parseVersion(floor)
	if err1 != nil || err2 != nil {
		return false
	}
	if v.major != f.major {
		return v.major > f.major
	}
	return v.minor >= f.minor
}

type seriesVersion struct{ major, minor int }

func parseVersion(s string) (seriesVersion, error) {
	parts := strings.SplitN(s, ".", 2)
	major, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return seriesVersion{}, err
	}
	minor := 0
	if len(parts) == 2 {
		minor, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return seriesVersion{}, err
		}
	}
	return seriesVersion{major: major, minor: minor}, nil
}

func parseKeywordType(t string) record.KeywordType {
	switch strings.ToLower(t) {
	case "string":
		return record.TypeString
	case "short":
		return record.TypeShort
	case "int":
		return record.TypeInt
	case "longlong":
		return record.TypeLongLong
	case "float":
		return record.TypeFloat
	case "double":
		return record.TypeDouble
	case "time":
		return record.TypeTime
	case "link":
		return record.TypeLink
	default:
		return record.TypeString
	}
}

// pgIdent lower-cases and guards against accidental SQL injection through
// a namespace name: namespace identifiers come from the series spec, not
// free-form user SQL, but they are interpolated (not bindable as a
// parameter) since they name a schema, not a value.
func pgIdent(ident string) string {
	ident = strings.ToLower(strings.TrimSpace(ident))
	var b strings.Builder
	for _, r := range ident {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return `"` + b.String() + `"`
}
