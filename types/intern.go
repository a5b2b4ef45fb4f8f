package types

import (
	"sync"
	"sync/atomic"
)

const internShards = 16

// Interner hash-conses terms so structurally identical ones share an
// instance. It is sharded, append-only, and safe for concurrent use; one
// interner is owned by each Session, never shared across sessions.
type Interner struct {
	shards [internShards]internShard
	misses atomic.Uint64
	hits   atomic.Uint64
}

type internShard struct {
	mu    sync.RWMutex
	terms map[uint64]GenericArg
}

func NewInterner() *Interner {
	in := &Interner{}
	for i := range in.shards {
		in.shards[i].terms = make(map[uint64]GenericArg)
	}
	return in
}

// Intern returns the canonical instance for a. Terms compare via Hash, so
// the first instance seen for a hash wins and later structurally identical
// terms alias it.
func (in *Interner) Intern(a GenericArg) GenericArg {
	h := a.Hash()
	shard := &in.shards[h%internShards]

	shard.mu.RLock()
	found, ok := shard.terms[h]
	shard.mu.RUnlock()
	if ok {
		in.hits.Add(1)
		return found
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if found, ok := shard.terms[h]; ok {
		in.hits.Add(1)
		return found
	}
	shard.terms[h] = a
	in.misses.Add(1)
	return a
}

// InternType is Intern narrowed to types.
func (in *Interner) InternType(t Type) Type {
	return in.Intern(t).(Type)
}

// Stats reports hits and distinct interned terms, in that order.
func (in *Interner) Stats() (hits, terms uint64) {
	return in.hits.Load(), in.misses.Load()
}
