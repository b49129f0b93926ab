// Package pull implements the server side of the pull protocol: build the
// next client view record, diff it against the previous one, and turn the
// diff into an ordered patch plus a fresh cookie.
package pull

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/hyperengineering/tempo/internal/cvr"
	"github.com/hyperengineering/tempo/internal/store"
	"github.com/hyperengineering/tempo/internal/sync"
)

// Puller executes pull requests against the store.
type Puller struct {
	store  *store.Store
	logger *slog.Logger
}

func New(st *store.Store, logger *slog.Logger) *Puller {
	return &Puller{store: st, logger: logger}
}

// Pull runs one pull. The transaction covers the client-group read, the CVR
// build, patch generation, and the fencing-version write; the new client
// view snapshot is persisted only after the transaction commits, so an
// aborted pull leaves no snapshot behind.
func (p *Puller) Pull(ctx context.Context, sessionUserID string, req sync.PullRequest) (*sync.PullResponse, error) {
	if req.ClientGroupID == "" {
		return nil, fmt.Errorf("pull: client group id is required")
	}

	// A missing snapshot and a schema-version mismatch look the same here:
	// no previous CVR, so the client gets a full resync.
	var prevCVR cvr.CVR
	if req.Cookie != nil && req.Cookie.ClientViewID != "" {
		view, err := p.store.GetClientView(ctx, p.store.DB(), req.Cookie.ClientViewID, sync.SchemaVersion)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("pull: load previous client view: %w", err)
		}
		prevCVR = view
	}
	baseCVR := prevCVR
	if baseCVR == nil {
		baseCVR = cvr.CVR{}
	}

	tx, err := p.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("pull: begin: %w", err)
	}
	defer tx.Rollback()

	group, err := p.store.GetClientGroup(ctx, tx, req.ClientGroupID, sessionUserID)
	if err != nil {
		return nil, err
	}

	nextCVR, err := buildNextCVR(ctx, p.store, tx, sessionUserID, req.ClientGroupID)
	if err != nil {
		return nil, fmt.Errorf("pull: build next cvr: %w", err)
	}

	diff := cvr.DiffCVR(baseCVR, nextCVR)

	if prevCVR != nil && diff.IsEmpty() {
		p.logger.Debug("pull no-op", "client_group_id", req.ClientGroupID)
		return &sync.PullResponse{
			Cookie:                req.Cookie,
			LastMutationIDChanges: map[string]int64{},
			Patch:                 []sync.PatchOperation{},
		}, nil
	}

	patch, err := buildPatch(ctx, p.store, tx, sessionUserID, diff)
	if err != nil {
		return nil, fmt.Errorf("pull: build patch: %w", err)
	}

	// Changed clients come straight out of the diff; their versions are
	// already in nextCVR.
	lastMutationIDChanges := make(map[string]int64)
	clientIDs := diff[sync.TableClient].Puts
	if len(clientIDs) > 0 {
		clients, err := loadClientMutationIDs(ctx, p.store, tx, req.ClientGroupID, clientIDs)
		if err != nil {
			return nil, fmt.Errorf("pull: load changed clients: %w", err)
		}
		lastMutationIDChanges = clients
	}

	var cookieOrder int64
	if req.Cookie != nil {
		cookieOrder = req.Cookie.Order
	}
	nextCVRVersion := max(cookieOrder, group.CVRVersion) + 1

	if err := p.store.UpsertClientGroup(ctx, tx, store.ClientGroup{
		ID:         req.ClientGroupID,
		UserID:     sessionUserID,
		CVRVersion: nextCVRVersion,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("pull: commit: %w", err)
	}

	clientViewID := ulid.Make().String()
	if err := p.store.InsertClientView(ctx, p.store.DB(), clientViewID, sync.SchemaVersion, nextCVR); err != nil {
		return nil, err
	}

	// First-ever sync for this replica: reset whatever it holds before the
	// full put set lands.
	if prevCVR == nil {
		patch = append([]sync.PatchOperation{{Op: sync.OpClear}}, patch...)
	}

	p.logger.Debug("pull",
		"client_group_id", req.ClientGroupID,
		"patch_size", len(patch),
		"cvr_version", nextCVRVersion)

	return &sync.PullResponse{
		Cookie:                &sync.Cookie{ClientViewID: clientViewID, Order: nextCVRVersion},
		LastMutationIDChanges: lastMutationIDChanges,
		Patch:                 patch,
	}, nil
}

// buildNextCVR reads the id/version pairs of every synced table. All reads
// run inside the pull transaction so they observe one consistent snapshot;
// any failure discards the whole build.
func buildNextCVR(ctx context.Context, st *store.Store, tx store.Queryer, userID, clientGroupID string) (cvr.CVR, error) {
	next := make(cvr.CVR, len(cvr.TableList))

	type tableQuery struct {
		table string
		fetch func() (cvr.VersionRecord, error)
	}
	queries := []tableQuery{
		{sync.TablePoint, func() (cvr.VersionRecord, error) { return st.GetPointVersionRecord(ctx, tx, userID) }},
		{sync.TableLabel, func() (cvr.VersionRecord, error) { return st.GetLabelVersionRecord(ctx, tx, userID) }},
		{sync.TableStream, func() (cvr.VersionRecord, error) { return st.GetStreamVersionRecord(ctx, tx, userID) }},
		{sync.TableUser, func() (cvr.VersionRecord, error) { return st.GetUserVersionRecord(ctx, tx, userID) }},
		{sync.TableMetaTask, func() (cvr.VersionRecord, error) { return st.GetMetaTaskVersionRecord(ctx, tx, userID) }},
		{sync.TableStatus, func() (cvr.VersionRecord, error) { return st.GetStatusVersionRecord(ctx, tx, userID) }},
		{sync.TableClient, func() (cvr.VersionRecord, error) { return st.GetClientVersionRecord(ctx, tx, clientGroupID) }},
	}
	for _, q := range queries {
		record, err := q.fetch()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", q.table, err)
		}
		next[q.table] = record
	}
	return next, nil
}

func loadClientMutationIDs(ctx context.Context, st *store.Store, tx store.Queryer, clientGroupID string, clientIDs []string) (map[string]int64, error) {
	changes := make(map[string]int64, len(clientIDs))
	for _, clientID := range clientIDs {
		client, err := st.GetClient(ctx, tx, clientID, clientGroupID)
		if err != nil {
			return nil, err
		}
		changes[clientID] = client.LastMutationID
	}
	return changes, nil
}
