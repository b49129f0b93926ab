package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// GetStatus returns the user's status row, or ErrNotFound if status has
// never been configured.
func (s *Store) GetStatus(ctx context.Context, q Queryer, userID string) (*Status, error) {
	var st Status
	var streamIDList string
	err := q.QueryRowContext(ctx,
		`SELECT user_id, COALESCE(enabled_at, 0), prompt, stream_id_list, status, emoji, COALESCE(expires_at, 0), input_hash, version
		 FROM status WHERE user_id = ?`,
		userID).Scan(&st.UserID, &st.EnabledAt, &st.Prompt, &streamIDList, &st.Status, &st.Emoji, &st.ExpiresAt, &st.InputHash, &st.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("status for user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	if err := json.Unmarshal([]byte(streamIDList), &st.StreamIDList); err != nil {
		return nil, fmt.Errorf("get status: decode stream id list: %w", err)
	}
	return &st, nil
}

// StatusUpdate carries the optional fields of UpsertStatus.
type StatusUpdate struct {
	EnabledAt    *int64
	Prompt       *string
	StreamIDList []string
	Status       *string
	Emoji        *string
	ExpiresAt    *int64
	InputHash    *string
}

// UpsertStatus creates or updates the user's status row and bumps its
// version.
func (s *Store) UpsertStatus(ctx context.Context, q Queryer, userID string, set StatusUpdate) error {
	current, err := s.GetStatus(ctx, q, userID)
	if errors.Is(err, ErrNotFound) {
		current = &Status{UserID: userID, StreamIDList: []string{}}
	} else if err != nil {
		return err
	}

	if set.EnabledAt != nil {
		current.EnabledAt = *set.EnabledAt
	}
	if set.Prompt != nil {
		current.Prompt = *set.Prompt
	}
	if set.StreamIDList != nil {
		current.StreamIDList = set.StreamIDList
	}
	if set.Status != nil {
		current.Status = *set.Status
	}
	if set.Emoji != nil {
		current.Emoji = *set.Emoji
	}
	if set.ExpiresAt != nil {
		current.ExpiresAt = *set.ExpiresAt
	}
	if set.InputHash != nil {
		current.InputHash = *set.InputHash
	}

	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	streamIDList, err := json.Marshal(current.StreamIDList)
	if err != nil {
		return fmt.Errorf("upsert status: encode stream id list: %w", err)
	}
	var enabledAt, expiresAt any
	if current.EnabledAt != 0 {
		enabledAt = current.EnabledAt
	}
	if current.ExpiresAt != 0 {
		expiresAt = current.ExpiresAt
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO status (user_id, enabled_at, prompt, stream_id_list, status, emoji, expires_at, input_hash, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		   enabled_at = excluded.enabled_at,
		   prompt = excluded.prompt,
		   stream_id_list = excluded.stream_id_list,
		   status = excluded.status,
		   emoji = excluded.emoji,
		   expires_at = excluded.expires_at,
		   input_hash = excluded.input_hash,
		   version = excluded.version`,
		userID, enabledAt, current.Prompt, string(streamIDList), current.Status, current.Emoji, expiresAt, current.InputHash, version)
	if err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	return nil
}
