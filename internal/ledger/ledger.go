// Package ledger holds the authoritative in-memory table of open
// master↔slave position pairs. Nothing here persists: the table is
// rebuilt from live position queries on every session start.
package ledger

import (
	"sort"
	"sync"

	"trade_copier/internal/domain"
	"trade_copier/pkg/quant"
)

const shardCount = 16

// shard is one lock stripe. Keys are spread across shards so two
// concurrent adjustments only contend when they hit the same stripe.
type shard struct {
	mu        sync.RWMutex
	positions map[int64]*domain.Position
}

// Ledger is a goroutine-safe store keyed by master position id.
// Exactly one entry exists per open master position at any time.
type Ledger struct {
	shards [shardCount]*shard
}

// New creates an empty ledger.
func New() *Ledger {
	l := &Ledger{}
	for i := range l.shards {
		l.shards[i] = &shard{positions: make(map[int64]*domain.Position)}
	}
	return l
}

func (l *Ledger) shardFor(masterPositionID int64) *shard {
	return l.shards[uint64(masterPositionID)%shardCount]
}

// UpsertOpen inserts a new pair. Returns DuplicateKeyError if the
// master position id is already tracked: the classifier must never
// produce two OPENs without an intervening removal.
func (l *Ledger) UpsertOpen(p domain.Position) error {
	s := l.shardFor(p.MasterPositionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[p.MasterPositionID]; exists {
		return &domain.DuplicateKeyError{MasterPositionID: p.MasterPositionID}
	}
	cp := p
	s.positions[p.MasterPositionID] = &cp
	return nil
}

// Adjust mutates both volumes in place after a confirmed partial close.
func (l *Ledger) Adjust(masterPositionID int64, newMaster, newSlave quant.LotMicros) error {
	s := l.shardFor(masterPositionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.positions[masterPositionID]
	if !exists {
		return &domain.NotFoundError{MasterPositionID: masterPositionID}
	}
	p.MasterVolume = newMaster
	p.SlaveVolume = newSlave
	return nil
}

// Remove drops the pair after a confirmed full close. Idempotent
// removal is the caller's job: check-then-remove under Get is racy,
// so callers that need idempotence should tolerate NotFoundError.
func (l *Ledger) Remove(masterPositionID int64) error {
	s := l.shardFor(masterPositionID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[masterPositionID]; !exists {
		return &domain.NotFoundError{MasterPositionID: masterPositionID}
	}
	delete(s.positions, masterPositionID)
	return nil
}

// Get returns a copy of the tracked pair.
func (l *Ledger) Get(masterPositionID int64) (domain.Position, bool) {
	s := l.shardFor(masterPositionID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.positions[masterPositionID]
	if !exists {
		return domain.Position{}, false
	}
	return *p, true
}

// Snapshot returns an immutable copy of all pairs, ordered by master
// position id, for diagnostics and reconnect reconciliation.
func (l *Ledger) Snapshot() []domain.Position {
	var out []domain.Position
	for _, s := range l.shards {
		s.mu.RLock()
		for _, p := range s.positions {
			out = append(out, *p)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].MasterPositionID < out[j].MasterPositionID
	})
	return out
}

// Len returns the number of tracked pairs.
func (l *Ledger) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.RLock()
		n += len(s.positions)
		s.mu.RUnlock()
	}
	return n
}

// Clear drops all pairs. Used before a rebuild.
func (l *Ledger) Clear() {
	for _, s := range l.shards {
		s.mu.Lock()
		s.positions = make(map[int64]*domain.Position)
		s.mu.Unlock()
	}
}
