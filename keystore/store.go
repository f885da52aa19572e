package keystore

import (
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ruteri/zk-keyservice/interfaces"
)

// Policy bounds how long prior generations are retained. Zero values mean
// "no limit" for that dimension. The current generation is never pruned.
type Policy struct {
	MaxGenerations int           `yaml:"max_generations"`
	MaxAge         time.Duration `yaml:"max_age"`
}

var DefaultPolicy = Policy{MaxGenerations: 5, MaxAge: 30 * 24 * time.Hour}

var ErrNilPair = errors.New("nil key pair")

// Store holds the current key pair and retained prior generations of one
// signed-in user. Writes come only from the lifecycle manager; reads may
// happen from any goroutine and always observe a whole pair.
type Store struct {
	mu      sync.RWMutex
	pairs   map[uint64]*interfaces.KeyPair
	current *interfaces.KeyPair

	policy Policy
	log    *slog.Logger

	blobs   interfaces.BlobStore
	blobKey interfaces.BlobKey
	sealing sealingParams
}

func New(policy Policy, log *slog.Logger) *Store {
	return &Store{
		pairs:  make(map[uint64]*interfaces.KeyPair),
		policy: policy,
		log:    log,
	}
}

// Put adds or replaces a generation. The highest generation held becomes
// current. Retention is not applied here; see Prune.
func (s *Store) Put(pair *interfaces.KeyPair) error {
	if pair == nil || pair.Private == nil {
		return ErrNilPair
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.pairs[pair.Generation]; ok && old.Private != pair.Private {
		old.Wipe()
	}
	s.pairs[pair.Generation] = pair
	s.recomputeCurrent()
	return nil
}

// Current returns a copy of the current pair, or nil when empty.
func (s *Store) Current() *interfaces.KeyPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyPair(s.current)
}

// Generation returns a copy of one retained generation.
func (s *Store) Generation(generation uint64) (*interfaces.KeyPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pair, ok := s.pairs[generation]
	return copyPair(pair), ok
}

// History returns every retained pair ordered by ascending generation,
// including the current one.
func (s *Store) History() []*interfaces.KeyPair {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]*interfaces.KeyPair, 0, len(s.pairs))
	for _, gen := range s.generations() {
		history = append(history, copyPair(s.pairs[gen]))
	}
	return history
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pairs)
}

// Drop wipes and forgets one generation.
func (s *Store) Drop(generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pair, ok := s.pairs[generation]; ok {
		pair.Wipe()
		delete(s.pairs, generation)
		s.recomputeCurrent()
	}
}

// Prune applies the retention policy and returns the dropped generations.
func (s *Store) Prune(now time.Time) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}

	var dropped []uint64
	gens := s.generations()
	for i, gen := range gens {
		if gen == s.current.Generation {
			continue
		}
		pair := s.pairs[gen]
		tooMany := s.policy.MaxGenerations > 0 && len(gens)-i > s.policy.MaxGenerations
		tooOld := s.policy.MaxAge > 0 && !pair.CreatedAt.IsZero() && now.Sub(pair.CreatedAt) > s.policy.MaxAge
		if tooMany || tooOld {
			pair.Wipe()
			delete(s.pairs, gen)
			dropped = append(dropped, gen)
		}
	}

	if len(dropped) > 0 {
		s.log.Debug("Pruned key generations", "generations", dropped)
	}
	return dropped
}

// Clear wipes every private key and drops all references.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pair := range s.pairs {
		pair.Wipe()
	}
	s.pairs = make(map[uint64]*interfaces.KeyPair)
	s.current = nil
}

// Snapshot captures the set of held generations so a failed transition can
// be undone with Restore.
type Snapshot struct {
	pairs map[uint64]*interfaces.KeyPair
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pairs := make(map[uint64]*interfaces.KeyPair, len(s.pairs))
	for gen, pair := range s.pairs {
		pairs[gen] = pair
	}
	return Snapshot{pairs: pairs}
}

// Restore reverts to a snapshot. Pairs added since the snapshot are wiped.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for gen, pair := range s.pairs {
		if prev, ok := snap.pairs[gen]; !ok || prev.Private != pair.Private {
			pair.Wipe()
		}
	}

	s.pairs = make(map[uint64]*interfaces.KeyPair, len(snap.pairs))
	for gen, pair := range snap.pairs {
		s.pairs[gen] = pair
	}
	s.recomputeCurrent()
}

func (s *Store) generations() []uint64 {
	gens := make([]uint64, 0, len(s.pairs))
	for gen := range s.pairs {
		gens = append(gens, gen)
	}
	slices.Sort(gens)
	return gens
}

func (s *Store) recomputeCurrent() {
	s.current = nil
	for _, pair := range s.pairs {
		if s.current == nil || pair.Generation > s.current.Generation {
			s.current = pair
		}
	}
}

// copyPair copies the metadata and public key. Private stays shared: the
// store is the only owner allowed to wipe it.
func copyPair(pair *interfaces.KeyPair) *interfaces.KeyPair {
	if pair == nil {
		return nil
	}
	cp := *pair
	cp.Public.Bytes = append([]byte(nil), pair.Public.Bytes...)
	return &cp
}
