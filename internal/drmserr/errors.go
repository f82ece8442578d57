// Package drmserr defines the error taxonomy surfaced across component
// boundaries (spec.md §6, §7). Components never log-and-swallow: every
// failure is returned wrapped in an *Error carrying one of these codes so
// a caller several layers up can still recover it with errors.As.
package drmserr

import "fmt"

// Code enumerates the error codes named in spec.md §6.
type Code int

const (
	_ Code = iota
	BadRecordCount
	BadSequence
	BadQueryResult
	QueryFailed
	BadDbQuery
	OutOfMemory
	InvalidData
	InvalidRecord
	InvalidKeyword
	InvalidLink
	UnknownSeries
	UnknownRecord
	UnknownLink
	CantCreateRecord
	CommitReadOnly
	InvalidAction
	NoSegment
	NoLegacySupport
	LegacyOffline
	CantOpenLibrary
	QueryTruncated // non-fatal
	NeedStorage
	StorageTryLater
	RemoteStorageTryLater
	BadChunkSize
	CantCreateHCon
	FileCreate
	Range
	Overflow
	InvalidSpec
)

var names = map[Code]string{
	BadRecordCount:        "BadRecordCount",
	BadSequence:           "BadSequence",
	BadQueryResult:        "BadQueryResult",
	QueryFailed:           "QueryFailed",
	BadDbQuery:            "BadDbQuery",
	OutOfMemory:           "OutOfMemory",
	InvalidData:           "InvalidData",
	InvalidRecord:         "InvalidRecord",
	InvalidKeyword:        "InvalidKeyword",
	InvalidLink:           "InvalidLink",
	UnknownSeries:         "UnknownSeries",
	UnknownRecord:         "UnknownRecord",
	UnknownLink:           "UnknownLink",
	CantCreateRecord:      "CantCreateRecord",
	CommitReadOnly:        "CommitReadOnly",
	InvalidAction:         "InvalidAction",
	NoSegment:             "NoSegment",
	NoLegacySupport:       "NoLegacySupport",
	LegacyOffline:         "LegacyOffline",
	CantOpenLibrary:       "CantOpenLibrary",
	QueryTruncated:        "QueryTruncated",
	NeedStorage:           "NeedStorage",
	StorageTryLater:       "StorageTryLater",
	RemoteStorageTryLater: "RemoteStorageTryLater",
	BadChunkSize:          "BadChunkSize",
	CantCreateHCon:        "CantCreateHCon",
	FileCreate:            "FileCreate",
	Range:                 "Range",
	Overflow:              "Overflow",
	InvalidSpec:           "InvalidSpec",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Error is the concrete error type returned across component boundaries.
// Op names the operation that failed (e.g. "specparser.Parse"); Err, when
// non-nil, is the underlying cause and participates in errors.Is/As via
// Unwrap.
type Error struct {
	Code Code
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, drmserr.BadSequence) style checks by comparing
// codes instead of pointer identity.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New constructs an *Error with no wrapped cause.
func New(code Code, op string) error {
	return &Error{Code: code, Op: op}
}

// Wrap constructs an *Error wrapping cause under the given code and
// operation name.
func Wrap(code Code, op string, cause error) error {
	if cause == nil {
		return New(code, op)
	}
	return &Error{Code: code, Op: op, Err: cause}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, and reports whether one was found.
func CodeOf(err error) (Code, bool) {
	var e *Error
	for err != nil {
		if de, ok := err.(*Error); ok {
			e = de
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return 0, false
	}
	return e.Code, true
}

// Sentinel instances for codes callers compare by value with errors.Is,
// mirroring the teacher's use of fmt.Errorf(%w) wrapping plain sentinels.
var (
	ErrQueryTruncated  = New(QueryTruncated, "")
	ErrNoLegacySupport = New(NoLegacySupport, "")
)
