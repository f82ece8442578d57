// Package legacy defines the bridge to the legacy DSDS archive and to
// plain-file record-set specs (spec.md §1 Non-goals: the bridge
// implementation itself is out of scope — only the interface and the
// disabled-by-default fallback are provided here). When
// drmsconfig.Config.AllowDSDS is false, every legacy/plain-file spec
// fails fast with NoLegacySupport rather than attempting a connection.
package legacy

import (
	"context"

	"github.com/lmjps/drms-recordset/internal/drmserr"
	"github.com/lmjps/drms-recordset/internal/record"
)

// Bridge resolves a legacy or plain-file record-set path into Records.
// Concrete implementations (a DSDS RPC client, a FITS-file reader) are
// out of scope; only this shape and a disabled fallback live here.
type Bridge interface {
	Resolve(ctx context.Context, path string) ([]*record.Record, error)
}

// Disabled is the Bridge used whenever AllowDSDS is false, or no real
// bridge has been wired in. Every call fails with NoLegacySupport,
// mirroring addkey.c-era callers that checked a build-time DSDS flag
// before ever dialing the legacy service.
type Disabled struct{}

func (Disabled) Resolve(ctx context.Context, path string) ([]*record.Record, error) {
	return nil, drmserr.New(drmserr.NoLegacySupport, "legacy.Disabled.Resolve")
}

// KeyMapFor returns the keyword translation table registered for class,
// or nil if none has been registered (callers then fall back to
// identity naming). Supplements spec.md with
// original_source/base/export/libs/util/keymap.h's per-class KeyMap
// concept: the legacy bridge translates between DRMS-internal keyword
// names and the external representation (FITS, DSDS) before handing
// values to the caller.
type Registry struct {
	maps map[record.KeyMapClass]*record.KeyMap
}

func NewRegistry() *Registry {
	return &Registry{maps: map[record.KeyMapClass]*record.KeyMap{}}
}

func (r *Registry) Register(m *record.KeyMap) {
	r.maps[m.Class] = m
}

func (r *Registry) KeyMapFor(class record.KeyMapClass) (*record.KeyMap, bool) {
	m, ok := r.maps[class]
	return m, ok
}
