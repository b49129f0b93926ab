package cvr

import (
	"slices"
	"testing"

	"github.com/hyperengineering/tempo/internal/sync"
)

func TestDiffCVR_EmptyPrevPutsEverything(t *testing.T) {
	next := CVR{
		sync.TablePoint:  {"p1": 1, "p2": 2},
		sync.TableStream: {"s1": 3},
	}

	diff := DiffCVR(CVR{}, next)

	puts := diff[sync.TablePoint].Puts
	slices.Sort(puts)
	if !slices.Equal(puts, []string{"p1", "p2"}) {
		t.Errorf("point puts = %v, want [p1 p2]", puts)
	}
	if !slices.Equal(diff[sync.TableStream].Puts, []string{"s1"}) {
		t.Errorf("stream puts = %v, want [s1]", diff[sync.TableStream].Puts)
	}
	if len(diff[sync.TablePoint].Dels) != 0 {
		t.Errorf("unexpected dels: %v", diff[sync.TablePoint].Dels)
	}
}

func TestDiffCVR_PutOnlyOnHigherVersion(t *testing.T) {
	prev := CVR{sync.TableLabel: {"l1": 5, "l2": 5, "l3": 5}}
	next := CVR{sync.TableLabel: {"l1": 5, "l2": 6, "l3": 4}}

	diff := DiffCVR(prev, next)

	// Equal versions and regressed versions never put; only strictly
	// higher ones do.
	if !slices.Equal(diff[sync.TableLabel].Puts, []string{"l2"}) {
		t.Errorf("puts = %v, want [l2]", diff[sync.TableLabel].Puts)
	}
	if len(diff[sync.TableLabel].Dels) != 0 {
		t.Errorf("dels = %v, want none", diff[sync.TableLabel].Dels)
	}
}

func TestDiffCVR_DeletedIDs(t *testing.T) {
	prev := CVR{sync.TablePoint: {"p1": 1, "p2": 2}}
	next := CVR{sync.TablePoint: {"p2": 2}}

	diff := DiffCVR(prev, next)

	if !slices.Equal(diff[sync.TablePoint].Dels, []string{"p1"}) {
		t.Errorf("dels = %v, want [p1]", diff[sync.TablePoint].Dels)
	}
	if len(diff[sync.TablePoint].Puts) != 0 {
		t.Errorf("puts = %v, want none", diff[sync.TablePoint].Puts)
	}
}

func TestDiffCVR_TableAbsentFromNextDeletesAll(t *testing.T) {
	prev := CVR{sync.TableStatus: {"usr_1": 9}}

	diff := DiffCVR(prev, CVR{})

	if !slices.Equal(diff[sync.TableStatus].Dels, []string{"usr_1"}) {
		t.Errorf("dels = %v, want [usr_1]", diff[sync.TableStatus].Dels)
	}
}

func TestDiff_IsEmpty(t *testing.T) {
	identical := CVR{
		sync.TablePoint:  {"p1": 1},
		sync.TableClient: {"c1": 7},
	}

	if !DiffCVR(identical, identical).IsEmpty() {
		t.Error("diff of identical CVRs should be empty")
	}
	if DiffCVR(identical, CVR{sync.TablePoint: {"p1": 2, "c1": 7}}).IsEmpty() {
		t.Error("diff with changes should not be empty")
	}
}

func TestBuildVersionRecord(t *testing.T) {
	record := BuildVersionRecord([]Row{{ID: "a", Version: 1}, {ID: "b", Version: 2}})
	if len(record) != 2 || record["a"] != 1 || record["b"] != 2 {
		t.Errorf("record = %v", record)
	}

	empty := BuildVersionRecord(nil)
	if empty == nil || len(empty) != 0 {
		t.Errorf("empty input should yield empty non-nil record, got %v", empty)
	}
}

func TestDiffCVR_CoversClientTable(t *testing.T) {
	prev := CVR{}
	next := CVR{sync.TableClient: {"c1": 4}}

	diff := DiffCVR(prev, next)
	if !slices.Equal(diff[sync.TableClient].Puts, []string{"c1"}) {
		t.Errorf("client puts = %v, want [c1]", diff[sync.TableClient].Puts)
	}
}
