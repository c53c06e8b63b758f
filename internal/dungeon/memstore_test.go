package dungeon

import (
	"context"
	"sync"
	"time"

	"github.com/ashureev/crawl/internal/domain"
	"github.com/ashureev/crawl/internal/store"
)

// memStore is an in-memory SessionStore with the same versioning and ledger
// semantics as the SQLite store.
type memStore struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Session
	applied   map[string]bool
	inventory map[string][]int64
	balances  map[string]int64
	saves     int
	failTx    error
}

func newMemStore() *memStore {
	return &memStore{
		sessions:  make(map[string]*domain.Session),
		applied:   make(map[string]bool),
		inventory: make(map[string][]int64),
		balances:  make(map[string]int64),
	}
}

func (m *memStore) CreateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sessions {
		if existing.OwnerID == s.OwnerID && existing.Status != domain.StatusEnded {
			return store.ErrActiveSessionExists
		}
	}
	s.Version = 1
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *memStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *memStore) OpenSession(_ context.Context, ownerID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.OwnerID == ownerID && s.Status != domain.StatusEnded {
			return s.Clone(), nil
		}
	}
	return nil, nil
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTx != nil {
		return m.failTx
	}

	tx := &memTx{
		m:        m,
		sessions: make(map[string]*domain.Session),
		applied:  make(map[string]bool),
		credits:  make(map[string]int64),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for id, s := range tx.sessions {
		m.sessions[id] = s
		m.saves++
	}
	for k := range tx.applied {
		m.applied[k] = true
	}
	for _, g := range tx.grants {
		m.inventory[g.OwnerID] = append(m.inventory[g.OwnerID], g.ItemID)
	}
	for owner, amount := range tx.credits {
		m.balances[owner] += amount
	}
	return nil
}

// mutate edits a stored session in place, bumping its version.
func (m *memStore) mutate(id string, fn func(s *domain.Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.sessions[id])
	m.sessions[id].Version++
}

func (m *memStore) owned(owner string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.inventory[owner]...)
}

func (m *memStore) balance(owner string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[owner]
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

type memTx struct {
	m        *memStore
	sessions map[string]*domain.Session
	applied  map[string]bool
	grants   []store.Grant
	credits  map[string]int64
}

func (t *memTx) SaveSession(_ context.Context, s *domain.Session) error {
	current, ok := t.m.sessions[s.ID]
	if !ok || current.Version != s.Version || current.EndTime != nil {
		return store.ErrVersionConflict
	}
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	t.sessions[s.ID] = s.Clone()
	return nil
}

func (t *memTx) MarkApplied(_ context.Context, sessionID, trigger string, _ time.Time) (bool, error) {
	key := sessionID + "|" + trigger
	if t.m.applied[key] || t.applied[key] {
		return false, nil
	}
	t.applied[key] = true
	return true, nil
}

func (t *memTx) GrantItem(_ context.Context, g store.Grant) error {
	t.grants = append(t.grants, g)
	return nil
}

func (t *memTx) CreditCurrency(_ context.Context, ownerID string, amount int64) (int64, error) {
	t.credits[ownerID] += amount
	return t.m.balances[ownerID] + t.credits[ownerID], nil
}
