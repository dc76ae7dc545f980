package database

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"

	"msgledger/internal/ledger"
)

// MemoryStore implements ledger.Store in process memory. Requests lock every
// declared address for their whole duration, so requests with overlapping
// declarations run one after another and disjoint ones run in parallel.
type MemoryStore struct {
	mu      sync.Mutex // guards records, events and locks
	records map[ledger.Address][]byte
	events  []*ledger.Event
	writes  int64 // committed Create and Update calls
	locks   map[ledger.Address]*lockEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[ledger.Address][]byte),
		locks:   make(map[ledger.Address]*lockEntry),
	}
}

// Atomically runs fn holding the locks of every declared address. Writes and
// events are buffered and applied only if fn returns nil.
func (s *MemoryStore) Atomically(ctx context.Context, addrs []ledger.Address, fn func(ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Locks are always taken in address order so two requests can never
	// hold each other's locks.
	ordered := lockOrder(addrs)
	for _, a := range ordered {
		s.acquire(a).mu.Lock()
	}
	defer func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			s.release(ordered[i])
		}
	}()

	tx := &memoryTx{
		store:    s,
		declared: ledger.NewAddressSet(addrs),
		writes:   make(map[ledger.Address][]byte),
	}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for a, data := range tx.writes {
		s.records[a] = data
	}
	s.writes += tx.ops
	for _, ev := range tx.events {
		ev.Seq = int64(len(s.events) + 1)
		s.events = append(s.events, cloneEvent(ev))
	}
	return nil
}

// lockEntry is an address lock shared by every request that declared the
// address. It is dropped from the store once no request references it.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (s *MemoryStore) acquire(a ledger.Address) *lockEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.locks[a]
	if !ok {
		e = &lockEntry{}
		s.locks[a] = e
	}
	e.refs++
	return e
}

func (s *MemoryStore) release(a ledger.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.locks[a]
	e.mu.Unlock()
	if e.refs--; e.refs == 0 {
		delete(s.locks, a)
	}
}

// Load returns a copy of the committed record at addr.
func (s *MemoryStore) Load(ctx context.Context, addr ledger.Address) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.records[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrRecordNotFound, addr)
	}
	return bytes.Clone(data), nil
}

func (s *MemoryStore) Events(ctx context.Context, after int64, limit int) ([]*ledger.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if after < 0 {
		after = 0
	}
	var out []*ledger.Event
	for i := int(after); i < len(s.events); i++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, cloneEvent(s.events[i]))
	}
	return out, nil
}

func (s *MemoryStore) LastEventSeq(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)), nil
}

func (s *MemoryStore) Revision(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.events)) + s.writes, nil
}

// Close is a no-op; the data goes away with the process.
func (s *MemoryStore) Close() error { return nil }

type memoryTx struct {
	store    *MemoryStore
	declared ledger.AddressSet
	writes   map[ledger.Address][]byte
	events   []*ledger.Event
	ops      int64
}

func (tx *memoryTx) Load(addr ledger.Address) ([]byte, error) {
	if err := tx.declared.Check(addr); err != nil {
		return nil, err
	}
	if data, ok := tx.writes[addr]; ok {
		return bytes.Clone(data), nil
	}
	return tx.store.Load(context.Background(), addr)
}

func (tx *memoryTx) exists(addr ledger.Address) bool {
	if _, ok := tx.writes[addr]; ok {
		return true
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	_, ok := tx.store.records[addr]
	return ok
}

func (tx *memoryTx) Create(addr ledger.Address, data []byte) error {
	if err := tx.declared.Check(addr); err != nil {
		return err
	}
	if tx.exists(addr) {
		return fmt.Errorf("%w: %s", ledger.ErrAddressInUse, addr)
	}
	tx.writes[addr] = bytes.Clone(data)
	tx.ops++
	return nil
}

func (tx *memoryTx) Update(addr ledger.Address, data []byte) error {
	if err := tx.declared.Check(addr); err != nil {
		return err
	}
	if !tx.exists(addr) {
		return fmt.Errorf("%w: %s", ledger.ErrRecordNotFound, addr)
	}
	tx.writes[addr] = bytes.Clone(data)
	tx.ops++
	return nil
}

func (tx *memoryTx) Append(ev *ledger.Event) error {
	if err := tx.declared.Check(ev.Address); err != nil {
		return err
	}
	tx.events = append(tx.events, ev)
	return nil
}

// lockOrder returns addrs sorted with duplicates removed.
func lockOrder(addrs []ledger.Address) []ledger.Address {
	out := slices.Clone(addrs)
	slices.SortFunc(out, func(a, b ledger.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return slices.Compact(out)
}

func cloneEvent(ev *ledger.Event) *ledger.Event {
	c := *ev
	c.Payload = bytes.Clone(ev.Payload)
	return &c
}
