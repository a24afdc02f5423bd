// internal/ledger/cache.go
package ledger

import (
	"context"
	"sync"

	"quotagate/internal/common/logger"
	"quotagate/internal/store"
)

// Message is one turn of a user's conversation history. History lives only in
// this cache and is never persisted.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type entry struct {
	mu      sync.Mutex
	rec     *store.UserRecord
	history []Message
}

// Cache is the per-process, lazily populated mirror of the ledger. Reads fall
// through to the store on miss (creating the record on first contact); counter
// mutations write through immediately. Entries live for the process lifetime
// with no eviction beyond explicit Evict calls, so memory is bounded by the
// number of distinct active users.
//
// Under horizontal scaling each instance keeps an independent cache and the
// database is the only consistent source of truth; the optional shared cache
// narrows, but does not close, that window.
type Cache struct {
	store      store.Store
	shared     *SharedCache // nil unless the scope extension is enabled
	logger     logger.Logger
	maxHistory int

	mu      sync.Mutex
	entries map[int64]*entry
}

func NewCache(s store.Store, shared *SharedCache, maxHistory int, log logger.Logger) *Cache {
	if maxHistory <= 0 {
		maxHistory = 10
	}
	return &Cache{
		store:      s,
		shared:     shared,
		logger:     log,
		maxHistory: maxHistory,
		entries:    make(map[int64]*entry),
	}
}

func (c *Cache) entryFor(userID int64) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[userID]
	if !ok {
		e = &entry{}
		c.entries[userID] = e
	}
	return e
}

// Get returns the user's ledger record, reading through to the store on miss
// and creating the record on first contact. The returned record is a copy;
// all mutation goes through Mutate.
func (c *Cache) Get(ctx context.Context, userID int64) (*store.UserRecord, error) {
	e := c.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec == nil {
		if err := c.fillLocked(ctx, e, userID); err != nil {
			return nil, err
		}
	}

	cp := *e.rec
	return &cp, nil
}

func (c *Cache) fillLocked(ctx context.Context, e *entry, userID int64) error {
	if c.shared != nil {
		if rec, ok := c.shared.Get(ctx, userID); ok {
			e.rec = rec
			return nil
		}
	}

	rec, err := c.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if rec == nil {
		rec, err = c.store.CreateUser(ctx, userID)
		if err != nil {
			return err
		}
	}

	e.rec = rec
	if c.shared != nil {
		c.shared.Set(ctx, rec)
	}
	return nil
}

// Mutate applies fn to the in-memory record and immediately writes the
// returned partial update through to the store. fn runs under the per-user
// lock, so the read-then-write-through sequence is atomic per user.
func (c *Cache) Mutate(ctx context.Context, userID int64, fn func(rec *store.UserRecord) store.UserUpdate) (*store.UserRecord, error) {
	e := c.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec == nil {
		if err := c.fillLocked(ctx, e, userID); err != nil {
			return nil, err
		}
	}

	upd := fn(e.rec)
	if !upd.IsEmpty() {
		if err := c.store.UpdateUser(ctx, userID, upd); err != nil {
			return nil, err
		}
	}
	if c.shared != nil {
		c.shared.Set(ctx, e.rec)
	}

	cp := *e.rec
	return &cp, nil
}

// Patch updates the in-memory copy only, without a write-through. Used when
// the store was already updated out-of-band (atomic purchase increments).
func (c *Cache) Patch(ctx context.Context, userID int64, fn func(rec *store.UserRecord)) {
	e := c.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.rec == nil {
		return
	}
	fn(e.rec)
	if c.shared != nil {
		c.shared.Set(ctx, e.rec)
	}
}

// Evict drops the cached entry, forcing a fresh store read on next access.
// The entry's conversation history is dropped with it.
func (c *Cache) Evict(ctx context.Context, userID int64) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()

	if c.shared != nil {
		c.shared.Delete(ctx, userID)
	}
}

// AppendHistory records one conversation turn, keeping only the most recent
// maxHistory turns. Memory only, never persisted.
func (c *Cache) AppendHistory(userID int64, role, content string) {
	e := c.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	e.history = append(e.history, Message{Role: role, Content: content})
	if len(e.history) > c.maxHistory {
		e.history = e.history[len(e.history)-c.maxHistory:]
	}
}

// History returns a copy of the user's conversation history.
func (c *Cache) History(userID int64) []Message {
	e := c.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Message, len(e.history))
	copy(out, e.history)
	return out
}

// ClearHistory drops the conversation history but keeps the cached record.
func (c *Cache) ClearHistory(userID int64) {
	e := c.entryFor(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
}
