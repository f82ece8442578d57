// Package storage implements the StorageCoordinator component (§4.I):
// staging storage units online and sorting batched retrieval requests
// into tape-efficient order. It delegates
// the actual tape robot / bulk-storage service call to a Backend
// collaborator named only as an interface (the bulk-storage service
// implementation itself is out of scope per spec.md §1).
//
// Sort-key shape is informed by original_source/base/sums/libs/api/tape.h
// (grouping units by tape ID then by file-on-tape number minimizes tape
// seeks/mounts, the same ordering SUMS uses before handing a retrieve
// list to the robot). Non-fatal per-unit failures accumulate via
// go.uber.org/multierr rather than aborting the whole batch, matching
// the teacher's zap+multierr pairing (multierr arrives as a zap
// transitive dependency; StorageCoordinator is where it earns direct use
// in this module).
package storage

import (
	"context"
	"sort"

	"go.uber.org/multierr"

	"github.com/lmjps/drms-recordset/internal/drmserr"
	"github.com/lmjps/drms-recordset/internal/drmslog"
	"github.com/lmjps/drms-recordset/internal/record"
	"go.uber.org/zap"
)

// Backend is the external collaborator that actually stages a storage
// unit online (tape robot, bulk-storage service, or a remote SUMS peer).
// Its implementations are out of scope; StorageCoordinator only depends
// on this shape.
type Backend interface {
	// Stage brings unit online, blocking until it is available or the
	// backend reports a definite failure. A backend that is merely busy
	// should return drmserr with code StorageTryLater/RemoteStorageTryLater
	// rather than blocking indefinitely.
	Stage(ctx context.Context, unit *record.StorageUnitInfo) error
}

type Coordinator struct {
	backend Backend
}

func New(backend Backend) *Coordinator {
	return &Coordinator{backend: backend}
}

// sortForRetrieval orders units to minimize tape mounts/seeks: by
// ArchiveTapeID, then by ArchiveTapeFileNo within a tape. Units with no
// tape id (already online, or disk-resident) sort first.
func sortForRetrieval(units []*record.StorageUnitInfo) {
	sort.SliceStable(units, func(i, j int) bool {
		a, b := units[i], units[j]
		if a.ArchiveTapeID != b.ArchiveTapeID {
			return a.ArchiveTapeID < b.ArchiveTapeID
		}
		return a.ArchiveTapeFileNo < b.ArchiveTapeFileNo
	})
}

// Stage brings every unit in units online, skipping ones already marked
// OnlineStatus. Per-unit failures are collected and returned together
// via multierr.Combine rather than aborting on the first failure, so a
// caller retrieving N units gets partial progress on the N-1 that
// succeeded.
func (c *Coordinator) Stage(ctx context.Context, units []*record.StorageUnitInfo) error {
	pending := make([]*record.StorageUnitInfo, 0, len(units))
	for _, u := range units {
		if !u.OnlineStatus {
			pending = append(pending, u)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sortForRetrieval(pending)

	log := drmslog.L("storage")
	var errs error
	for _, u := range pending {
		if err := c.backend.Stage(ctx, u); err != nil {
			log.Warn("stage failed", zap.Int64("sunum", u.UnitID), zap.Error(err))
			errs = multierr.Append(errs, drmserr.Wrap(classify(err), "storage.Stage", err))
			continue
		}
		u.OnlineStatus = true
	}
	return errs
}

// classify maps a backend error to the closest §6 error code when the
// backend didn't already return a *drmserr.Error.
func classify(err error) drmserr.Code {
	if code, ok := drmserr.CodeOf(err); ok {
		return code
	}
	return drmserr.NeedStorage
}

// Sort exposes sortForRetrieval for callers that need tape-efficient
// ordering without going through Stage, e.g. when only already-online
// units are being read.
func Sort(units []*record.StorageUnitInfo) {
	sortForRetrieval(units)
}
