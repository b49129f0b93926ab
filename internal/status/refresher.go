package status

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyperengineering/tempo/internal/store"
)

// Refresher recomputes one user's status line from their recent points.
type Refresher struct {
	store     *store.Store
	generator Generator
	slack     *SlackClient
	lookback  time.Duration
	ttl       time.Duration
	logger    *slog.Logger
}

func NewRefresher(st *store.Store, generator Generator, slack *SlackClient, lookback, ttl time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		store:     st,
		generator: generator,
		slack:     slack,
		lookback:  lookback,
		ttl:       ttl,
		logger:    logger,
	}
}

// Refresh regenerates the user's status. It silently aborts when the user is
// missing, status is disabled, or nothing changed since the last generation.
func (r *Refresher) Refresh(ctx context.Context, userID string) error {
	db := r.store.DB()

	user, err := r.store.GetUser(ctx, db, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	st, err := r.store.GetStatus(ctx, db, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if st.EnabledAt == 0 || len(st.StreamIDList) == 0 {
		return nil
	}

	input, err := r.buildInput(ctx, userID, st)
	if err != nil {
		return err
	}

	// Skip generation when the input has not changed since last time.
	hash := fingerprint(input)
	if hash == st.InputHash {
		return nil
	}

	r.logger.Info("generating status", "user_id", userID)
	line, err := r.generator.Generate(ctx, input)
	if err != nil {
		return err
	}

	expiresAt := time.Now().Add(r.ttl).UnixMilli()
	tx, err := r.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("status refresh: begin: %w", err)
	}
	defer tx.Rollback()
	if err := r.store.UpsertStatus(ctx, tx, userID, store.StatusUpdate{
		Status:    &line.Text,
		Emoji:     &line.Emoji,
		ExpiresAt: &expiresAt,
		InputHash: &hash,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("status refresh: commit: %w", err)
	}

	if user.SlackToken != "" && r.slack != nil {
		if err := r.slack.SetStatus(ctx, user.SlackToken, line, expiresAt/1000); err != nil {
			// Slack is best effort; the stored status is authoritative.
			r.logger.Error("slack status update failed", "user_id", userID, "error", err)
		}
	}
	return nil
}

// buildInput serializes the user's recent points on the enabled streams
// beneath their prompt.
func (r *Refresher) buildInput(ctx context.Context, userID string, st *store.Status) (string, error) {
	db := r.store.DB()

	points, err := r.store.GetPointList(ctx, db, store.PointQuery{
		UserID:    userID,
		StreamIDs: st.StreamIDList,
		Cursor:    &store.PointCursor{StartedAt: time.Now().Add(-r.lookback).UnixMilli()},
	})
	if err != nil {
		return "", err
	}

	streams, err := r.store.GetStreamList(ctx, db, store.StreamQuery{UserID: userID, StreamIDs: st.StreamIDList})
	if err != nil {
		return "", err
	}
	streamNames := make(map[string]string, len(streams))
	for _, s := range streams {
		streamNames[s.ID] = s.Name
	}

	labelIDs := []string{}
	for _, p := range points {
		labelIDs = append(labelIDs, p.LabelIDList...)
	}
	labelNames := map[string]string{}
	if len(labelIDs) > 0 {
		labels, err := r.store.GetLabelList(ctx, db, store.LabelQuery{UserID: userID, LabelIDs: labelIDs})
		if err != nil {
			return "", err
		}
		for _, l := range labels {
			labelNames[l.ID] = l.Name
		}
	}

	return st.Prompt + "\n\n" + SerializePointList(points, streamNames, labelNames), nil
}

// SerializePointList renders points as one activity line each:
// "- <stream>: <label, label> [<description>]".
func SerializePointList(points []store.Point, streamNames, labelNames map[string]string) string {
	if len(points) == 0 {
		return ""
	}

	lines := make([]string, 0, len(points))
	for _, p := range points {
		streamName, ok := streamNames[p.StreamID]
		if !ok {
			streamName = "Unknown:"
		}

		names := make([]string, 0, len(p.LabelIDList))
		for _, id := range p.LabelIDList {
			if name, ok := labelNames[id]; ok {
				names = append(names, name)
			}
		}

		line := fmt.Sprintf("- %s: %s", streamName, strings.Join(names, ", "))
		if p.Description != "" {
			line += fmt.Sprintf(" [%s]", p.Description)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func fingerprint(input string) string {
	sum := sha256.Sum256([]byte(input))
	return base64.StdEncoding.EncodeToString(sum[:])
}
