// Package cvr implements the Client View Record model: per-table snapshots of
// entity row versions, and the diff between two snapshots that drives patch
// generation during a pull.
package cvr

import (
	"github.com/hyperengineering/tempo/internal/sync"
)

// VersionRecord maps entity id to the row version last sent to a client.
type VersionRecord map[string]int64

// CVR is one version record per synced table. A CVR is immutable once
// persisted; it records exactly what one pull response contained.
type CVR map[string]VersionRecord

// TableList is the canonical set of tables a CVR covers. Diff iterates this
// list so tables absent from either snapshot are still compared (as empty).
var TableList = []string{
	sync.TablePoint,
	sync.TableLabel,
	sync.TableStream,
	sync.TableUser,
	sync.TableMetaTask,
	sync.TableStatus,
	sync.TableClient,
}

// Row is an id/version pair as read from a version-record query.
type Row struct {
	ID      string
	Version int64
}

// BuildVersionRecord folds rows into a version record. Empty input yields an
// empty (non-nil) record.
func BuildVersionRecord(rows []Row) VersionRecord {
	record := make(VersionRecord, len(rows))
	for _, row := range rows {
		record[row.ID] = row.Version
	}
	return record
}

// EntryDiff holds the per-table outcome of a diff. Ordering of Puts and Dels
// is unspecified; consumers must not depend on it.
type EntryDiff struct {
	Puts []string
	Dels []string
}

// Diff is the per-table delta between two CVRs.
type Diff map[string]EntryDiff

// DiffCVR computes which ids are new or changed (puts) and which disappeared
// (dels) between prev and next. An id is a put iff it exists in next and is
// either absent from prev or has a strictly higher version. An id is a del iff
// it exists in prev and is absent from next.
func DiffCVR(prev, next CVR) Diff {
	diff := make(Diff, len(TableList))
	for _, table := range TableList {
		prevEntries := prev[table]
		nextEntries := next[table]

		entry := EntryDiff{
			Puts: []string{},
			Dels: []string{},
		}
		for id, nextVersion := range nextEntries {
			prevVersion, ok := prevEntries[id]
			if !ok || prevVersion < nextVersion {
				entry.Puts = append(entry.Puts, id)
			}
		}
		for id := range prevEntries {
			if _, ok := nextEntries[id]; !ok {
				entry.Dels = append(entry.Dels, id)
			}
		}
		diff[table] = entry
	}
	return diff
}

// IsEmpty reports whether no table has any puts or dels. An empty diff lets
// the pull handler short-circuit with a no-op response.
func (d Diff) IsEmpty() bool {
	for _, entry := range d {
		if len(entry.Puts) > 0 || len(entry.Dels) > 0 {
			return false
		}
	}
	return true
}
