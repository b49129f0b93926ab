package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/tempo/internal/cvr"
)

// GetClientGroup loads the client group, verifying ownership. A group that
// has never pulled or pushed yet is returned as a zero-version record rather
// than an error; the first write materialises it.
func (s *Store) GetClientGroup(ctx context.Context, q Queryer, clientGroupID, userID string) (*ClientGroup, error) {
	var group ClientGroup
	err := q.QueryRowContext(ctx,
		`SELECT id, user_id, cvr_version FROM client_group WHERE id = ?`,
		clientGroupID).Scan(&group.ID, &group.UserID, &group.CVRVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return &ClientGroup{ID: clientGroupID, UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client group: %w", err)
	}
	if group.UserID != userID {
		return nil, fmt.Errorf("client group %s: %w", clientGroupID, ErrUnauthorized)
	}
	return &group, nil
}

// UpsertClientGroup writes the group's fencing version.
func (s *Store) UpsertClientGroup(ctx context.Context, q Queryer, group ClientGroup) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO client_group (id, user_id, cvr_version) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET user_id = excluded.user_id, cvr_version = excluded.cvr_version`,
		group.ID, group.UserID, group.CVRVersion)
	if err != nil {
		return fmt.Errorf("upsert client group: %w", err)
	}
	return nil
}

// GetClient loads a sync client. Unknown clients come back with
// LastMutationID zero; the first applied mutation materialises the row.
func (s *Store) GetClient(ctx context.Context, q Queryer, clientID, clientGroupID string) (*Client, error) {
	var c Client
	err := q.QueryRowContext(ctx,
		`SELECT id, client_group_id, last_mutation_id, version FROM client WHERE id = ?`,
		clientID).Scan(&c.ID, &c.ClientGroupID, &c.LastMutationID, &c.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return &Client{ID: clientID, ClientGroupID: clientGroupID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}
	if c.ClientGroupID != clientGroupID {
		return nil, fmt.Errorf("client %s: %w", clientID, ErrUnauthorized)
	}
	return &c, nil
}

// UpsertClient advances the client's last applied mutation id, bumping its
// version so the change lands in the next CVR's client record.
func (s *Store) UpsertClient(ctx context.Context, q Queryer, c Client) error {
	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO client (id, client_group_id, last_mutation_id, version) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET last_mutation_id = excluded.last_mutation_id, version = excluded.version`,
		c.ID, c.ClientGroupID, c.LastMutationID, version)
	if err != nil {
		return fmt.Errorf("upsert client: %w", err)
	}
	return nil
}

// GetClientView loads a persisted CVR by id and schema version. A miss or a
// schema mismatch both return ErrNotFound; the caller treats either as "no
// previous CVR" and performs a full resync.
func (s *Store) GetClientView(ctx context.Context, q Queryer, clientViewID, schemaVersion string) (cvr.CVR, error) {
	var record string
	err := q.QueryRowContext(ctx,
		`SELECT record FROM client_view WHERE id = ? AND schema_version = ?`,
		clientViewID, schemaVersion).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client view %s: %w", clientViewID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get client view: %w", err)
	}

	var view cvr.CVR
	if err := json.Unmarshal([]byte(record), &view); err != nil {
		return nil, fmt.Errorf("get client view: decode record: %w", err)
	}
	return view, nil
}

// InsertClientView persists a CVR snapshot. Snapshots are immutable; there
// is no update path.
func (s *Store) InsertClientView(ctx context.Context, q Queryer, clientViewID, schemaVersion string, view cvr.CVR) error {
	record, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("insert client view: encode record: %w", err)
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO client_view (id, schema_version, record, created_at) VALUES (?, ?, ?, ?)`,
		clientViewID, schemaVersion, string(record), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert client view: %w", err)
	}
	return nil
}

// DeleteClientViewsBefore removes snapshots created before the cutoff and
// returns how many were dropped. Superseded views are never read again by a
// correct client; a stale cookie simply triggers a full resync.
func (s *Store) DeleteClientViewsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM client_view WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("delete client views: %w", err)
	}
	return result.RowsAffected()
}
