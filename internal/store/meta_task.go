package store

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// MetaTaskQuery narrows GetMetaTaskList. UserID is required.
type MetaTaskQuery struct {
	UserID      string
	MetaTaskIDs []string
}

// GetMetaTaskList returns the user's meta tasks ordered by id.
func (s *Store) GetMetaTaskList(ctx context.Context, q Queryer, query MetaTaskQuery) ([]MetaTask, error) {
	if query.MetaTaskIDs != nil && len(query.MetaTaskIDs) == 0 {
		return []MetaTask{}, nil
	}

	sqlQuery := `SELECT id, user_id, name, status, last_started_at, COALESCE(last_finished_at, 0), version
		FROM meta_task WHERE user_id = ?`
	args := []any{query.UserID}
	if len(query.MetaTaskIDs) > 0 {
		sqlQuery += ` AND id IN (` + inPlaceholders(len(query.MetaTaskIDs)) + `)`
		args = append(args, stringArgs(query.MetaTaskIDs)...)
	}
	sqlQuery += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("get meta task list: %w", err)
	}
	defer rows.Close()

	tasks := []MetaTask{}
	for rows.Next() {
		var t MetaTask
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Status, &t.LastStartedAt, &t.LastFinishedAt, &t.Version); err != nil {
			return nil, fmt.Errorf("get meta task list: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpsertMetaTask records a state transition for the named task, keyed by
// (user, name). A zero finishedAt leaves the column NULL (task running).
func (s *Store) UpsertMetaTask(ctx context.Context, q Queryer, userID, name, status string, startedAt, finishedAt int64) error {
	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	var finished any
	if finishedAt != 0 {
		finished = finishedAt
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO meta_task (id, user_id, name, status, last_started_at, last_finished_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, name) DO UPDATE SET
		   status = excluded.status,
		   last_started_at = excluded.last_started_at,
		   last_finished_at = excluded.last_finished_at,
		   version = excluded.version`,
		ulid.Make().String(), userID, name, status, startedAt, finished, version)
	if err != nil {
		return fmt.Errorf("upsert meta task: %w", err)
	}
	return nil
}
