// Package record defines the data model of spec.md §3: Record,
// SeriesInfo, Keyword, Link, Segment and StorageUnitInfo. It holds no
// behavior beyond small invariant-preserving helpers — the components in
// internal/recordcache, internal/materializer, internal/linkresolver and
// internal/storage operate on these types.
package record

import "time"

// Lifetime distinguishes records durable across sessions from ones that
// are not.
type Lifetime int

const (
	Transient Lifetime = iota
	Permanent
)

// ShadowState is the per-series shadow-table tri-state of spec.md §3.
type ShadowState int

const (
	ShadowUnknown ShadowState = -1
	ShadowAbsent  ShadowState = 0
	ShadowPresent ShadowState = 1
)

// KeywordType enumerates the SQL column types a DRMS keyword maps to.
// Grounded on original_source/base/util/apps/addkey.c's sqltyp/drmstype
// tables: string→TEXT, short→SMALLINT, int→INTEGER, longlong→BIGINT,
// float→REAL, double→DOUBLE PRECISION, time→DOUBLE PRECISION (formatted),
// link→INTEGER (internal recnum storage for a linked keyword).
type KeywordType int

const (
	TypeString KeywordType = iota
	TypeShort
	TypeInt
	TypeLongLong
	TypeFloat
	TypeDouble
	TypeTime
	TypeLink
)

func (t KeywordType) SQLType() string {
	switch t {
	case TypeString:
		return "TEXT"
	case TypeShort:
		return "SMALLINT"
	case TypeInt:
		return "INTEGER"
	case TypeLongLong:
		return "BIGINT"
	case TypeFloat:
		return "REAL"
	case TypeDouble, TypeTime:
		return "DOUBLE PRECISION"
	case TypeLink:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// LinkType distinguishes static (recnum already known) from dynamic
// (resolved by primary-key match) links.
type LinkType int

const (
	LinkStatic LinkType = iota
	LinkDynamic
)

// KeyMap translates keyword names between DRMS-internal and an external
// representation class (FITS export, DSDS bridge, etc). Supplemented from
// original_source/base/export/libs/util/keymap.h's Exputl_KeyMapClass_t —
// the original exposes several named classes (DEFAULT, DSDS, LOCAL, SSW,
// GNG); we keep the same shape as a pluggable per-class name table rather
// than a single fixed mapping.
type KeyMapClass int

const (
	KeyMapDefault KeyMapClass = iota
	KeyMapDSDS
	KeyMapLocal
	KeyMapSSW
	KeyMapGNG
)

type KeyMap struct {
	Class   KeyMapClass
	int2ext map[string]string
	ext2int map[string]string
}

func NewKeyMap(class KeyMapClass) *KeyMap {
	return &KeyMap{Class: class, int2ext: map[string]string{}, ext2int: map[string]string{}}
}

func (m *KeyMap) Add(internal, external string) {
	m.int2ext[internal] = external
	m.ext2int[external] = internal
}

func (m *KeyMap) ToExternal(internal string) (string, bool) {
	v, ok := m.int2ext[internal]
	return v, ok
}

func (m *KeyMap) ToInternal(external string) (string, bool) {
	v, ok := m.ext2int[external]
	return v, ok
}

// Keyword is one column of a series' schema.
type Keyword struct {
	Name    string
	Rank    int // monotonic insertion/allocation order within the series
	Type    KeywordType
	Format  string
	Unit    string
	Default string

	IsConstant bool
	// IsPrime marks a keyword as part of the internal primary index.
	IsPrime bool
	// IsExternalPrime additionally marks it part of the pre-2.1
	// external primary index (with slotted-key translation for
	// time-slotted indices); see seriesschema.Catalog load step 5.
	IsExternalPrime bool
	// IsLinked is true when the keyword's value comes from a link
	// target rather than this series' own row.
	IsLinked  bool
	LinkName  string // set iff IsLinked
	TargetKey string // keyword name in the target series, iff IsLinked
}

// Link is a typed reference from one record to another series' record.
type Link struct {
	Name string
	Rank int
	Type LinkType

	TargetSeries    string
	TargetPrimeKeys []string
	TargetPrimeType []KeywordType

	// RecNum is the resolved target record number; -1 = unresolved.
	RecNum int64
	// Followed is set once LinkResolver has attempted resolution,
	// regardless of outcome (even a miss sets Followed=true, RecNum=-1).
	Followed bool
	// IsSet is meaningful only for dynamic links: whether the source
	// record actually carries primary-key values for this link.
	IsSet bool

	// PKValues holds this record's copy of the target primary-key
	// values (dynamic links only), in TargetPrimeKeys order.
	PKValues []any
}

// Segment is a named data product attached to a record.
type Segment struct {
	Name   string
	Rank   int
	Format string
	Unit   string

	IsVariableDim bool
	NAxis         int

	// Compression parameters, adopted from keyword cparms_sgNNN when
	// the series version is >= 2.0 (seriesschema load step 4).
	CParms string
	// BZero/BScale adopted from <segname>_bzero/_bscale keywords for
	// series version >= 2.1.
	BZero  float64
	BScale float64

	// File is the on-disk path relative to the record's storage unit
	// slot directory; empty until materialized.
	File string
	Axis []int32
}

// StorageUnitInfo is both a sort key for batched archive retrieval and
// cached metadata on a Record. Field shapes are informed by
// original_source/base/sums/libs/api/tape.h's tape/slot bookkeeping
// (MAX_SLOTS, drive/group limits motivate ArchiveTapeFileNumber ordering)
// without reimplementing the tape robot itself.
type StorageUnitInfo struct {
	UnitID       int64
	OwningSeries string

	OnlineLocation string
	OnlineStatus   bool
	ArchiveStatus  bool

	ArchiveTapeID       string
	ArchiveTapeFileNo   int
	CreationDate        time.Time
	ByteSize            int64
	HistoryComment      string
	RetentionStatus     int
	EffectiveDate       time.Time

	// Next chains multiple StorageUnitInfo structs sharing one sunum
	// across retrieval batches (linked-list per spec.md §3).
	Next *StorageUnitInfo
}

// SeriesInfo is an immutable per-series schema, populated once by
// seriesschema.Catalog and shared by every Record of that series.
type SeriesInfo struct {
	Name        string
	Description string
	Author      string
	Owner       string
	UnitSize    int64
	Archive     bool
	Retention   int
	TapeGroup   int
	Version     string

	PrimaryIndex []string // keyword names, in index order
	DBIndex      []string

	Keywords []Keyword
	Links    []Link
	Segments []Segment

	ShadowExists ShadowState
}

func (s *SeriesInfo) Keyword(name string) (*Keyword, bool) {
	for i := range s.Keywords {
		if s.Keywords[i].Name == name {
			return &s.Keywords[i], true
		}
	}
	return nil, false
}

func (s *SeriesInfo) Link(name string) (*Link, bool) {
	for i := range s.Links {
		if s.Links[i].Name == name {
			return &s.Links[i], true
		}
	}
	return nil, false
}

// Record represents one row of one series, per spec.md §3.
type Record struct {
	RecNum     int64
	SUNum      int64 // -1 = none
	SessionID  int64
	SessionNS  string
	SlotNum    int
	ReadOnly   bool
	Lifetime   Lifetime
	RefCount   int
	Series     *SeriesInfo

	Keywords []KeywordValue
	Links    []Link
	Segments []Segment

	Unit     *StorageUnitInfo
	UnitInfo *StorageUnitInfo

	// Partial is true for records materialized with a restricted field
	// set (spec.md §4.D invariant: a partial record is never cached).
	Partial bool
}

// KeywordValue pairs a schema Keyword with this record's value.
type KeywordValue struct {
	Keyword Keyword
	Value   any
}

func (r *Record) KeywordValue(name string) (any, bool) {
	for _, kv := range r.Keywords {
		if kv.Keyword.Name == name {
			return kv.Value, true
		}
	}
	return nil, false
}

// CacheKey forms the RecordCache key "series:recnum" per spec.md §4.D.
func (r *Record) CacheKey() string {
	return CacheKey(r.Series.Name, r.RecNum)
}

func CacheKey(series string, recnum int64) string {
	return series + ":" + itoa(recnum)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
