package cart

import "sync"

// Intent is a not-yet-confirmed desired quantity for one line-item key.
type Intent struct {
	Key        string
	Item       LineItem
	DesiredQty int
}

// Meta carries the transient sync annotations for one key.
type Meta struct {
	Syncing   bool
	SyncError string
}

type intentRecord struct {
	item    LineItem
	desired int
	pending bool
}

// IntentStore holds at most one desired-quantity intent per key, in
// arrival order, plus the per-key sync metadata. It is the only shared
// mutable state between the facade and the sync engine.
type IntentStore struct {
	mu      sync.Mutex
	records map[string]*intentRecord
	meta    map[string]Meta
	order   []string
}

func NewIntentStore() *IntentStore {
	return &IntentStore{
		records: map[string]*intentRecord{},
		meta:    map[string]Meta{},
	}
}

// Enqueue records the latest desired quantity for the item's key,
// superseding any earlier intent for that key, and marks it pending.
func (s *IntentStore) Enqueue(item LineItem, desired int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	desired = clampQuantity(desired)
	rec, ok := s.records[item.Key]
	if !ok {
		rec = &intentRecord{}
		s.records[item.Key] = rec
		s.order = append(s.order, item.Key)
	}
	rec.item = item
	rec.desired = desired
	rec.pending = true
	s.meta[item.Key] = Meta{Syncing: true}
}

// DrainNext returns the oldest pending intent without removing it.
// Removal happens only through Confirm or a terminal Fail.
func (s *IntentStore) DrainNext() (Intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range s.order {
		rec, ok := s.records[key]
		if !ok || !rec.pending {
			continue
		}
		return Intent{Key: key, Item: rec.item, DesiredQty: rec.desired}, true
	}
	return Intent{}, false
}

// Confirm clears the intent when the server applied exactly the desired
// quantity. If a newer desired quantity was queued mid-flight the intent
// stays pending for another drain pass.
func (s *IntentStore) Confirm(key string, confirmedQty int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return true
	}
	if rec.desired != confirmedQty {
		return false
	}
	s.removeLocked(key)
	delete(s.meta, key)
	return true
}

// Fail parks the intent: the pending flag is cleared so draining moves
// on, but the intent and its error stay until a retry or a superseding
// mutation.
func (s *IntentStore) Fail(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return
	}
	rec.pending = false
	msg := "sync failed"
	if err != nil {
		msg = err.Error()
	}
	s.meta[key] = Meta{SyncError: msg}
}

// Retry re-arms a parked intent. Returns false when no intent exists for
// the key.
func (s *IntentStore) Retry(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return false
	}
	rec.pending = true
	s.meta[key] = Meta{Syncing: true}
	return true
}

// Intents returns every held intent (pending or parked) in arrival order.
func (s *IntentStore) Intents() []Intent {
	s.mu.Lock()
	defer s.mu.Unlock()

	intents := make([]Intent, 0, len(s.records))
	for _, key := range s.order {
		rec, ok := s.records[key]
		if !ok {
			continue
		}
		intents = append(intents, Intent{Key: key, Item: rec.item, DesiredQty: rec.desired})
	}
	return intents
}

// IntentFor returns the held intent for key, if any.
func (s *IntentStore) IntentFor(key string) (Intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return Intent{}, false
	}
	return Intent{Key: key, Item: rec.item, DesiredQty: rec.desired}, true
}

// MetaFor returns the sync annotations for key.
func (s *IntentStore) MetaFor(key string) Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta[key]
}

// CollectMeta drops metadata for keys that are neither live line items
// nor held intents.
func (s *IntentStore) CollectMeta(live map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.meta {
		if _, ok := live[key]; ok {
			continue
		}
		if _, ok := s.records[key]; ok {
			continue
		}
		delete(s.meta, key)
	}
}

// Reset drops all intents and metadata. Used on identity transitions.
func (s *IntentStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = map[string]*intentRecord{}
	s.meta = map[string]Meta{}
	s.order = nil
}

func (s *IntentStore) removeLocked(key string) {
	delete(s.records, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
