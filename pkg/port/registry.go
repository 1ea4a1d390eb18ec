// The registry keeps the named lists served by dlist ports. Lists are not thread-safe, so every operation on a list
// runs under the lock of the shard owning its name. Names are distributed uniformly across shards, which spreads the
// lock contention when many connections work on different lists at the same time.

package port

import (
	"flag"
	"maps"
	"runtime"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/nobletooth/dlist/pkg/list"
	"github.com/nobletooth/dlist/pkg/utils"
)

var shardCount = flag.Int("list_shard_count", runtime.NumCPU(), "The number of lock shards holding named lists.")

// registryShard holds the lists whose names hash to it.
type registryShard struct {
	mux   sync.Mutex
	lists map[ /*name*/ string]*list.List
}

// Registry is a thread-safe collection of named lists.
type Registry struct {
	shards []*registryShard
}

// NewRegistry creates an empty registry with --list_shard_count shards.
func NewRegistry() *Registry {
	count := *shardCount
	// Ensure there is at least one shard.
	if count <= 0 {
		utils.RaiseInvariant("registry", "non_positive_shard_count",
			"Invalid shard count has been given to list registry.", "shardCount", count)
		count = 1
	}
	registry := &Registry{shards: make([]*registryShard, count)}
	for i := range count {
		registry.shards[i] = &registryShard{lists: make(map[string]*list.List)}
	}
	return registry
}

// getShard determines which shard the list `name` belongs to.
func (r *Registry) getShard(name string) *registryShard {
	return r.shards[xxhash.Sum64String(name)%uint64(len(r.shards))]
}

// Update runs `fn` on the list `name`, creating it when missing. Lists left empty by `fn` are dropped.
func (r *Registry) Update(name string, fn func(l *list.List) error) error {
	shard := r.getShard(name)
	shard.mux.Lock()
	defer shard.mux.Unlock()

	l, exists := shard.lists[name]
	if !exists {
		l = list.New()
	}
	err := fn(l)
	if l.Len() == 0 {
		l.FreeAll()
		delete(shard.lists, name)
	} else {
		shard.lists[name] = l
	}
	return err
}

// View runs `fn` on the list `name` and reports whether the list exists. `fn` must not mutate the list.
func (r *Registry) View(name string, fn func(l *list.List)) /*exists*/ bool {
	shard := r.getShard(name)
	shard.mux.Lock()
	defer shard.mux.Unlock()

	l, exists := shard.lists[name]
	if !exists {
		return false
	}
	fn(l)
	return true
}

// Drop tears down the list `name` and reports whether it existed.
func (r *Registry) Drop(name string) /*existed*/ bool {
	shard := r.getShard(name)
	shard.mux.Lock()
	defer shard.mux.Unlock()

	l, exists := shard.lists[name]
	if !exists {
		return false
	}
	l.FreeAll()
	delete(shard.lists, name)
	return true
}

// Names returns the sorted names of all lists. It locks every shard in turn.
func (r *Registry) Names() []string {
	names := make([]string, 0)
	for _, shard := range r.shards {
		shard.mux.Lock()
		names = slices.AppendSeq(names, maps.Keys(shard.lists))
		shard.mux.Unlock()
	}
	slices.Sort(names)
	return names
}

// Close tears down every list.
func (r *Registry) Close() error {
	for _, shard := range r.shards {
		shard.mux.Lock()
		for name, l := range shard.lists {
			l.FreeAll()
			delete(shard.lists, name)
		}
		shard.mux.Unlock()
	}
	return nil
}
