package store

import (
	"context"
	"fmt"

	"github.com/hyperengineering/tempo/internal/cvr"
)

// queryVersionRecord runs an id/version query and folds it into a record.
func queryVersionRecord(ctx context.Context, q Queryer, query string, args ...any) (cvr.VersionRecord, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []cvr.Row
	for rows.Next() {
		var row cvr.Row
		if err := rows.Scan(&row.ID, &row.Version); err != nil {
			return nil, err
		}
		list = append(list, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cvr.BuildVersionRecord(list), nil
}

// GetPointVersionRecord returns id -> version for every point the user owns.
func (s *Store) GetPointVersionRecord(ctx context.Context, q Queryer, userID string) (cvr.VersionRecord, error) {
	record, err := queryVersionRecord(ctx, q,
		`SELECT id, version FROM point WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("point version record: %w", err)
	}
	return record, nil
}

// GetLabelVersionRecord returns id -> version for every label the user owns.
func (s *Store) GetLabelVersionRecord(ctx context.Context, q Queryer, userID string) (cvr.VersionRecord, error) {
	record, err := queryVersionRecord(ctx, q,
		`SELECT id, version FROM label WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("label version record: %w", err)
	}
	return record, nil
}

// GetStreamVersionRecord returns id -> version for every stream the user owns.
func (s *Store) GetStreamVersionRecord(ctx context.Context, q Queryer, userID string) (cvr.VersionRecord, error) {
	record, err := queryVersionRecord(ctx, q,
		`SELECT id, version FROM stream WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("stream version record: %w", err)
	}
	return record, nil
}

// GetUserVersionRecord returns the single-user version record.
func (s *Store) GetUserVersionRecord(ctx context.Context, q Queryer, userID string) (cvr.VersionRecord, error) {
	record, err := queryVersionRecord(ctx, q,
		`SELECT id, version FROM user WHERE id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("user version record: %w", err)
	}
	return record, nil
}

// GetMetaTaskVersionRecord returns id -> version for the user's meta tasks.
func (s *Store) GetMetaTaskVersionRecord(ctx context.Context, q Queryer, userID string) (cvr.VersionRecord, error) {
	record, err := queryVersionRecord(ctx, q,
		`SELECT id, version FROM meta_task WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("meta task version record: %w", err)
	}
	return record, nil
}

// GetStatusVersionRecord returns the user's status row version record,
// keyed by user id (the status table's primary key).
func (s *Store) GetStatusVersionRecord(ctx context.Context, q Queryer, userID string) (cvr.VersionRecord, error) {
	record, err := queryVersionRecord(ctx, q,
		`SELECT user_id, version FROM status WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("status version record: %w", err)
	}
	return record, nil
}

// GetClientVersionRecord returns id -> version for every sync client in the
// group. Client versions bump when last_mutation_id advances, which is how
// lastMutationIDChanges reach the pull response.
func (s *Store) GetClientVersionRecord(ctx context.Context, q Queryer, clientGroupID string) (cvr.VersionRecord, error) {
	record, err := queryVersionRecord(ctx, q,
		`SELECT id, version FROM client WHERE client_group_id = ?`, clientGroupID)
	if err != nil {
		return nil, fmt.Errorf("client version record: %w", err)
	}
	return record, nil
}
