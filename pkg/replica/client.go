// Package replica is the Go client for the sync protocol: an in-memory
// replica of a user's synced state with optimistic local mutations,
// push/pull exchange, and rebase on every authoritative pull.
package replica

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Client owns one (clientGroupID, clientID) pair and the replica it feeds.
// All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client

	clientGroupID string
	clientID      string

	view *View

	mu             stdsync.Mutex
	cookie         *Cookie
	nextMutationID int64
	pending        []Mutation
	base           map[string]map[string]json.RawMessage
	userID         string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithIDs pins the client group and client identifiers, so a caller can
// resume an existing client group across restarts.
func WithIDs(clientGroupID, clientID string) Option {
	return func(c *Client) {
		c.clientGroupID = clientGroupID
		c.clientID = clientID
	}
}

// WithCookie resumes from a previously persisted cookie. The first pull
// after resuming receives an incremental patch instead of a full snapshot,
// unless the server no longer holds the referenced client view.
func WithCookie(cookie Cookie) Option {
	return func(c *Client) { c.cookie = &cookie }
}

// NewClient builds a client for one user. userID keys the status and user
// rows in the replica; it must match the user the token authenticates.
func NewClient(baseURL, token, userID string, opts ...Option) *Client {
	c := &Client{
		baseURL:        baseURL,
		token:          token,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		clientGroupID:  ulid.Make().String(),
		clientID:       ulid.Make().String(),
		view:           NewView(),
		nextMutationID: 1,
		base:           make(map[string]map[string]json.RawMessage),
		userID:         userID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// View exposes the replica for reads and subscriptions.
func (c *Client) View() *View { return c.view }

// ClientGroupID returns this client's group identifier.
func (c *Client) ClientGroupID() string { return c.clientGroupID }

// ClientID returns this client's identifier within the group.
func (c *Client) ClientID() string { return c.clientID }

// Cookie returns the last cookie the server sent, for persistence.
func (c *Client) Cookie() *Cookie {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cookie == nil {
		return nil
	}
	ck := *c.cookie
	return &ck
}

// PendingCount reports how many local mutations await acknowledgement.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Mutate applies a named mutation optimistically and queues it for the
// next push. args must marshal to a JSON object; an actionedAt timestamp
// is stamped in when the caller did not provide one.
func (c *Client) Mutate(name string, args any) error {
	fields := map[string]any{}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("mutation args must be an object: %w", err)
	}
	if _, ok := fields["actionedAt"]; !ok {
		fields["actionedAt"] = time.Now().UnixMilli()
	}
	raw, err = json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.replayTables()
	tx := &localTx{tables: next, userID: c.userID}
	if err := applyLocal(tx, name, raw); err != nil {
		return err
	}

	c.pending = append(c.pending, Mutation{
		ID:       c.nextMutationID,
		ClientID: c.clientID,
		Name:     name,
		Args:     raw,
	})
	c.nextMutationID++

	c.view.swap(next)
	return nil
}

// Push sends all queued mutations. Mutations stay queued until a pull
// confirms the server recorded them; a push followed by a crash therefore
// replays safely.
func (c *Client) Push(ctx context.Context) error {
	c.mu.Lock()
	mutations := make([]Mutation, len(c.pending))
	copy(mutations, c.pending)
	c.mu.Unlock()

	if len(mutations) == 0 {
		return nil
	}

	var resp PushResponse
	err := c.post(ctx, "/api/v1/sync/push", PushRequest{
		ClientGroupID: c.clientGroupID,
		Mutations:     mutations,
	}, &resp)
	if err != nil {
		return fmt.Errorf("push: %w", err)
	}
	return nil
}

// Pull fetches the authoritative patch, folds it into the base snapshot,
// drops acknowledged pending mutations, and rebases the remainder on top.
// The view changes once, atomically, per pull.
func (c *Client) Pull(ctx context.Context) error {
	c.mu.Lock()
	req := PullRequest{ClientGroupID: c.clientGroupID, Cookie: c.cookie}
	c.mu.Unlock()

	var resp PullResponse
	if err := c.post(ctx, "/api/v1/sync/pull", req, &resp); err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.applyPatch(resp.Patch); err != nil {
		return err
	}

	if ack, ok := resp.LastMutationIDChanges[c.clientID]; ok {
		kept := c.pending[:0]
		for _, m := range c.pending {
			if m.ID > ack {
				kept = append(kept, m)
			}
		}
		c.pending = kept
		// A resumed client must not reuse ids the server has already
		// recorded; the push handler treats those as replays and skips
		// them silently.
		if ack >= c.nextMutationID {
			c.nextMutationID = ack + 1
		}
	}

	c.cookie = resp.Cookie
	c.view.swap(c.replayTables())
	return nil
}

// Sync pushes pending mutations then pulls, the usual round trip after a
// poke.
func (c *Client) Sync(ctx context.Context) error {
	if err := c.Push(ctx); err != nil {
		return err
	}
	return c.Pull(ctx)
}

// Poke subscribes to the server's poke stream and invokes fn for each
// poke event. It blocks until ctx is cancelled or the stream drops.
func (c *Client) Poke(ctx context.Context, fn func()) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/sync/poke", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("poke stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poke stream: unexpected status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Text() == "event: poke" {
			fn()
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("poke stream: %w", err)
	}
	return ctx.Err()
}

// applyPatch folds a pull patch into the base snapshot. Callers hold c.mu.
func (c *Client) applyPatch(patch []PatchOperation) error {
	for _, op := range patch {
		switch op.Op {
		case OpClear:
			c.base = make(map[string]map[string]json.RawMessage)
		case OpPut:
			table, id, err := ParseKey(op.Key)
			if err != nil {
				return err
			}
			if c.base[table] == nil {
				c.base[table] = make(map[string]json.RawMessage)
			}
			c.base[table][id] = op.Value
		case OpDel:
			table, id, err := ParseKey(op.Key)
			if err != nil {
				return err
			}
			delete(c.base[table], id)
		default:
			return fmt.Errorf("unknown patch op %q", op.Op)
		}
	}
	return nil
}

// replayTables rebuilds the view contents: base snapshot plus pending
// mutations in order. A pending mutation that no longer applies (rebased
// onto state that rejects it) is skipped; the server is the arbiter.
// Callers hold c.mu.
func (c *Client) replayTables() map[string]map[string]json.RawMessage {
	next := cloneTables(c.base)
	tx := &localTx{tables: next, userID: c.userID}
	for _, m := range c.pending {
		_ = applyLocal(tx, m.Name, m.Args)
	}
	return next
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(detail))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
