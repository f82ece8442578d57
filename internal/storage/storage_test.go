package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/lmjps/drms-recordset/internal/drmserr"
	"github.com/lmjps/drms-recordset/internal/record"
)

func TestSortForRetrieval(t *testing.T) {
	units := []*record.StorageUnitInfo{
		{UnitID: 1, ArchiveTapeID: "T2", ArchiveTapeFileNo: 5},
		{UnitID: 2, ArchiveTapeID: "T1", ArchiveTapeFileNo: 9},
		{UnitID: 3, ArchiveTapeID: "T1", ArchiveTapeFileNo: 2},
		{UnitID: 4, ArchiveTapeID: ""},
	}
	Sort(units)

	want := []int64{4, 3, 2, 1}
	for i, u := range units {
		if u.UnitID != want[i] {
			t.Fatalf("Sort order = %v, want unit order %v", unitIDs(units), want)
		}
	}
}

func unitIDs(units []*record.StorageUnitInfo) []int64 {
	out := make([]int64, len(units))
	for i, u := range units {
		out[i] = u.UnitID
	}
	return out
}

type fakeBackend struct {
	fail map[int64]error
}

func (b *fakeBackend) Stage(ctx context.Context, u *record.StorageUnitInfo) error {
	if err, ok := b.fail[u.UnitID]; ok {
		return err
	}
	u.OnlineStatus = true
	return nil
}

func TestCoordinatorStageAccumulatesErrors(t *testing.T) {
	backend := &fakeBackend{fail: map[int64]error{
		2: drmserr.New(drmserr.StorageTryLater, "fake"),
	}}
	c := New(backend)

	units := []*record.StorageUnitInfo{{UnitID: 1}, {UnitID: 2}, {UnitID: 3}}
	err := c.Stage(context.Background(), units)
	if err == nil {
		t.Fatalf("expected an accumulated error from the failing unit")
	}
	if !units[0].OnlineStatus || !units[2].OnlineStatus {
		t.Fatalf("expected the succeeding units to still come online")
	}
	if units[1].OnlineStatus {
		t.Fatalf("expected the failing unit to remain offline")
	}
}

func TestCoordinatorStageSkipsAlreadyOnline(t *testing.T) {
	backend := &fakeBackend{fail: map[int64]error{1: errors.New("should never be called")}}
	c := New(backend)

	units := []*record.StorageUnitInfo{{UnitID: 1, OnlineStatus: true}}
	if err := c.Stage(context.Background(), units); err != nil {
		t.Fatalf("expected no error staging an already-online unit, got %v", err)
	}
}

func TestClassifyPreservesDrmserrCode(t *testing.T) {
	err := drmserr.New(drmserr.RemoteStorageTryLater, "fake")
	if got := classify(err); got != drmserr.RemoteStorageTryLater {
		t.Fatalf("classify = %v, want RemoteStorageTryLater", got)
	}
	if got := classify(errors.New("plain")); got != drmserr.NeedStorage {
		t.Fatalf("classify(plain error) = %v, want NeedStorage", got)
	}
}
