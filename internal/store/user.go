package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetUser returns the user row or ErrNotFound.
func (s *Store) GetUser(ctx context.Context, q Queryer, userID string) (*User, error) {
	var u User
	err := q.QueryRowContext(ctx,
		`SELECT id, email, time_zone, COALESCE(slack_token, ''), version FROM user WHERE id = ?`,
		userID).Scan(&u.ID, &u.Email, &u.TimeZone, &u.SlackToken, &u.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// InsertUser writes a new user.
func (s *Store) InsertUser(ctx context.Context, q Queryer, u User) error {
	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		`INSERT INTO user (id, email, time_zone, slack_token, version) VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.TimeZone, nullableString(u.SlackToken), version)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// UserUpdate carries the optional fields of UpdateUser.
type UserUpdate struct {
	TimeZone   *string
	SlackToken *string
}

// UpdateUser applies the update and bumps the user's version.
func (s *Store) UpdateUser(ctx context.Context, q Queryer, userID string, set UserUpdate) error {
	u, err := s.GetUser(ctx, q, userID)
	if err != nil {
		return err
	}

	version, err := NextRowVersion(ctx, q)
	if err != nil {
		return err
	}
	timeZone := u.TimeZone
	if set.TimeZone != nil {
		timeZone = *set.TimeZone
	}
	slackToken := u.SlackToken
	if set.SlackToken != nil {
		slackToken = *set.SlackToken
	}
	_, err = q.ExecContext(ctx,
		`UPDATE user SET time_zone = ?, slack_token = ?, version = ? WHERE id = ?`,
		timeZone, nullableString(slackToken), version, userID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// ListUserIDs returns every user id. Used by the background workers.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM user ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("list user ids: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
