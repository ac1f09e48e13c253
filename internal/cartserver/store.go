package cartserver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mtorres-dev/shopsync/internal/cart"
)

// ErrVersionMismatch signals a failed If-Match precondition. The handler
// responds 409 with the current snapshot so the client can reconcile.
var ErrVersionMismatch = errors.New("cart version mismatch")

type cartState struct {
	seq   int64
	items map[string]cart.LineItem
	order []string
}

func newCartState() *cartState {
	return &cartState{
		seq:   1,
		items: map[string]cart.LineItem{},
	}
}

func (s *cartState) version() string {
	return fmt.Sprintf("v%d", s.seq)
}

func (s *cartState) snapshot() cart.Snapshot {
	items := make([]cart.LineItem, 0, len(s.order))
	for _, key := range s.order {
		if item, ok := s.items[key]; ok {
			items = append(items, item)
		}
	}
	return cart.Snapshot{Version: s.version(), Items: items}
}

func (s *cartState) put(item cart.LineItem) {
	if item.Quantity == 0 {
		if _, ok := s.items[item.Key]; !ok {
			return
		}
		delete(s.items, item.Key)
		for i, k := range s.order {
			if k == item.Key {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return
	}
	if _, ok := s.items[item.Key]; !ok {
		s.order = append(s.order, item.Key)
	}
	s.items[item.Key] = item
}

// MemStore keeps one versioned cart per user in memory. It implements
// the server-of-record semantics the engine syncs against.
type MemStore struct {
	mu    sync.Mutex
	carts map[string]*cartState
}

func NewMemStore() *MemStore {
	return &MemStore{carts: map[string]*cartState{}}
}

func (m *MemStore) state(user string) *cartState {
	state, ok := m.carts[user]
	if !ok {
		state = newCartState()
		m.carts[user] = state
	}
	return state
}

// Snapshot returns the user's current cart, creating an empty one on
// first read.
func (m *MemStore) Snapshot(user string) cart.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state(user).snapshot()
}

// Apply sets the absolute quantity for one line item, guarded by the
// If-Match version. Quantity zero removes the row. Every accepted
// mutation advances the version token.
func (m *MemStore) Apply(user string, item cart.LineItem, ifMatch string) (cart.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.state(user)
	if ifMatch != state.version() {
		return state.snapshot(), ErrVersionMismatch
	}

	state.put(cart.NormalizeItem(item))
	state.seq++
	return state.snapshot(), nil
}

// Merge folds an anonymous cart into the user's server cart: quantities
// sum for keys present on both sides, client-only rows are adopted with
// the client's item shape.
func (m *MemStore) Merge(user string, items []cart.LineItem) cart.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := m.state(user)
	for _, row := range items {
		item := cart.NormalizeItem(row)
		if item.Quantity == 0 {
			continue
		}
		if existing, ok := state.items[item.Key]; ok {
			existing.Quantity += item.Quantity
			state.items[item.Key] = existing
			continue
		}
		state.put(item)
	}
	state.seq++
	return state.snapshot()
}
