package drmserr

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewAndErrorsIs(t *testing.T) {
	err := New(UnknownSeries, "seriesschema.Load")
	if !errors.Is(err, New(UnknownSeries, "")) {
		t.Fatalf("expected errors.Is to match on Code regardless of Op")
	}
	if errors.Is(err, New(UnknownRecord, "")) {
		t.Fatalf("expected errors.Is to not match a different Code")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(QueryFailed, "sqlclient.Open", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected Wrap to preserve Unwrap chain to cause")
	}
	code, ok := CodeOf(err)
	if !ok || code != QueryFailed {
		t.Fatalf("CodeOf = (%v, %v), want (QueryFailed, true)", code, ok)
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if _, ok := CodeOf(fmt.Errorf("not a drmserr error")); ok {
		t.Fatalf("expected CodeOf to report false for a non-drmserr error")
	}
}

func TestCodeString(t *testing.T) {
	if BadSequence.String() != "BadSequence" {
		t.Fatalf("BadSequence.String() = %q", BadSequence.String())
	}
	if got := Code(9999).String(); got == "" {
		t.Fatalf("expected unknown Code to still stringify, got %q", got)
	}
}
