// Package push applies batches of queued client mutations. Each mutation
// runs in its own transaction with per-client sequence checking, so a crash
// mid-batch leaves a prefix applied and the client simply resends the rest.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hyperengineering/tempo/internal/mutator"
	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/internal/sync"
	"github.com/hyperengineering/tempo/pkg/mutation"
)

// ErrOutOfOrder is returned when a mutation arrives from the future: its id
// is greater than the next id expected for its client. The client must pull
// and retry.
var ErrOutOfOrder = errors.New("mutation out of order")

// Poker notifies live sync sessions that new data may be available.
type Poker interface {
	Poke(userID string)
}

// Pusher executes push requests against the store.
type Pusher struct {
	store  *store.Store
	jobs   mutator.JobScheduler
	poker  Poker
	logger *slog.Logger
}

func New(st *store.Store, jobs mutator.JobScheduler, poker Poker, logger *slog.Logger) *Pusher {
	return &Pusher{store: st, jobs: jobs, poker: poker, logger: logger}
}

// Push applies the batch in order. Already-seen mutations are skipped;
// a gap fails the whole batch with ErrOutOfOrder. A mutation whose handler
// errors has its writes rolled back but its sequence number is still
// advanced, so one bad mutation cannot wedge the client's queue forever.
func (p *Pusher) Push(ctx context.Context, sessionUserID string, req sync.PushRequest) (*sync.PushResponse, error) {
	if req.ClientGroupID == "" {
		return nil, fmt.Errorf("push: client group id is required")
	}

	resp := &sync.PushResponse{}
	for _, m := range req.Mutations {
		outcome, err := p.applyMutation(ctx, sessionUserID, req.ClientGroupID, m)
		if err != nil {
			return nil, err
		}
		switch outcome {
		case outcomeApplied:
			resp.Applied++
		case outcomeSkipped:
			resp.Skipped++
		case outcomeFailed:
			resp.Failed++
		}
	}

	if resp.Applied > 0 || resp.Failed > 0 {
		if p.poker != nil {
			p.poker.Poke(sessionUserID)
		}
	}

	p.logger.Debug("push",
		"client_group_id", req.ClientGroupID,
		"applied", resp.Applied,
		"skipped", resp.Skipped,
		"failed", resp.Failed)
	return resp, nil
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (p *Pusher) applyMutation(ctx context.Context, sessionUserID, clientGroupID string, m sync.Mutation) (outcome, error) {
	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("push: begin: %w", err)
	}
	defer tx.Rollback()

	group, err := p.store.GetClientGroup(ctx, tx, clientGroupID, sessionUserID)
	if err != nil {
		return 0, err
	}
	client, err := p.store.GetClient(ctx, tx, m.ClientID, clientGroupID)
	if err != nil {
		return 0, err
	}

	expected := client.LastMutationID + 1
	if m.ID < expected {
		// Replay of something already applied. Idempotence: drop it.
		return outcomeSkipped, nil
	}
	if m.ID > expected {
		return 0, fmt.Errorf("%w: client %s sent mutation %d, expected %d", ErrOutOfOrder, m.ClientID, m.ID, expected)
	}

	var envelope mutation.Envelope
	if len(m.Args) > 0 {
		if err := json.Unmarshal(m.Args, &envelope); err != nil {
			p.logger.Warn("push: undecodable mutation envelope",
				"client_id", m.ClientID, "mutation_id", m.ID, "name", m.Name, "error", err)
		}
	}

	mc := &mutator.Context{
		Store:         p.store,
		Tx:            tx,
		SessionUserID: sessionUserID,
		ActionedAt:    envelope.ActionedAt,
		Jobs:          p.jobs,
	}

	applyErr := mutator.Apply(ctx, mc, m.Name, m.Args)
	if applyErr != nil {
		// Roll back the domain writes, then record the sequence advance in
		// a fresh transaction so the mutation is not retried forever.
		tx.Rollback()
		p.logger.Error("push: mutation failed",
			"client_id", m.ClientID, "mutation_id", m.ID, "name", m.Name, "error", applyErr)
		if err := p.advanceLastMutationID(ctx, sessionUserID, clientGroupID, m.ClientID, m.ID, group.CVRVersion); err != nil {
			return 0, err
		}
		return outcomeFailed, nil
	}

	if err := p.bookkeep(ctx, tx, sessionUserID, clientGroupID, m.ClientID, m.ID, group.CVRVersion); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("push: commit: %w", err)
	}
	return outcomeApplied, nil
}

// bookkeep persists the client group (it may not exist yet) and the client's
// new last mutation id inside tx.
func (p *Pusher) bookkeep(ctx context.Context, tx store.Queryer, userID, clientGroupID, clientID string, mutationID, cvrVersion int64) error {
	if err := p.store.UpsertClientGroup(ctx, tx, store.ClientGroup{
		ID:         clientGroupID,
		UserID:     userID,
		CVRVersion: cvrVersion,
	}); err != nil {
		return err
	}
	return p.store.UpsertClient(ctx, tx, store.Client{
		ID:             clientID,
		ClientGroupID:  clientGroupID,
		LastMutationID: mutationID,
	})
}

func (p *Pusher) advanceLastMutationID(ctx context.Context, userID, clientGroupID, clientID string, mutationID, cvrVersion int64) error {
	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("push: begin bookkeeping: %w", err)
	}
	defer tx.Rollback()

	if err := p.bookkeep(ctx, tx, userID, clientGroupID, clientID, mutationID, cvrVersion); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("push: commit bookkeeping: %w", err)
	}
	return nil
}
