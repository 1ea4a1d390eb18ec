// Dlist keeps string values in a doubly linked list whose nodes live in an arena.
// Links between nodes are slot indices instead of pointers, and callers refer to nodes through generation-checked
// handles. Once a node is deleted its slot is recycled, and every handle that pointed at it becomes stale rather than
// dangling: using a stale handle is detected and rejected instead of corrupting a node that reuses the slot.
//
// A List is not safe for concurrent use; callers that share one must serialize access themselves.

package list

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/nobletooth/dlist/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ErrOutOfNodes  = errors.New("list node limit reached")
	ErrStaleHandle = errors.New("handle refers to a released node")
)

var (
	maxNodes = flag.Int("list_max_nodes", 0,
		"The maximum number of live nodes a single list may hold; 0 or negative means unlimited.")
	bloomCapacity = flag.Uint("list_bloom_capacity", 1_024,
		"The expected number of distinct values per list; sizes the bloom filter used by lookups.")
	bloomFalsePositiveRate = flag.Float64("list_bloom_false_positive_rate", defaultBloomFalsePositiveRate,
		"The target false positive rate of the per-list lookup bloom filter.")

	nodesAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "list_nodes_allocated_total",
		Help: "Total number of list nodes allocated.",
	})
	nodesReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "list_nodes_released_total",
		Help: "Total number of list nodes released by delete or teardown.",
	})
	insertFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "list_insert_failures_total",
		Help: "Total number of rejected inserts.",
	}, []string{"reason" /* out_of_nodes | stale_handle */})
)

const defaultBloomFalsePositiveRate = 0.01

// noSlot is the reserved slot index meaning "no node".
const noSlot uint32 = 0

// lastListId hands out list ids; handles carry the id of the list that issued them.
var lastListId atomic.Uint64

// Handle refers to a node of a List. The zero Handle (Nil) refers to no node.
type Handle struct {
	list       uint64
	slot       uint32
	generation uint32
}

// Nil is the unset handle; Find returns it when nothing matches.
var Nil Handle

// IsNil reports whether the handle refers to no node.
func (h Handle) IsNil() bool {
	return h.slot == noSlot
}

// node is a single arena slot. Released slots are chained through `next` on the free list.
type node struct {
	value      string
	prev, next uint32
	generation uint32 // Bumped on every release so older handles stop matching.
	inUse      bool
}

// Stats counts node allocations of a single list.
type Stats struct {
	Allocated uint64
	Released  uint64
}

// Live returns the number of nodes that were allocated and not released yet.
func (s Stats) Live() uint64 {
	return s.Allocated - s.Released
}

// List is a doubly linked list of owned string values.
type List struct {
	id         uint64
	slots      []node // slots[0] is reserved for noSlot.
	head, tail uint32
	free       uint32 // Head of the recycled slots chain.
	size       int
	maxNodes   int
	filter     *bloom.BloomFilter // Remembers every value ever inserted since the last teardown.
	stats      Stats
}

// New creates an empty list configured by the list flags.
func New() *List {
	capacity := *bloomCapacity
	if capacity == 0 {
		utils.RaiseInvariant("list", "zero_bloom_capacity", "Got a zero bloom filter capacity.")
		capacity = 1
	}
	falsePositiveRate := *bloomFalsePositiveRate
	if !(falsePositiveRate > 0 && falsePositiveRate < 1) {
		utils.RaiseInvariant("list", "invalid_bloom_false_positive_rate",
			"Bloom filter false positive rate must be in (0, 1).", "rate", falsePositiveRate)
		falsePositiveRate = defaultBloomFalsePositiveRate
	}
	return &List{
		id:       lastListId.Add(1),
		slots:    make([]node, 1),
		maxNodes: *maxNodes,
		filter:   bloom.NewWithEstimates(capacity, falsePositiveRate),
	}
}

// Len returns the number of nodes in the list.
func (l *List) Len() int {
	return l.size
}

// Stats returns the allocation counters of the list.
func (l *List) Stats() Stats {
	return l.stats
}

// handleOf builds the handle for an in-use slot.
func (l *List) handleOf(slot uint32) Handle {
	if slot == noSlot {
		return Nil
	}
	return Handle{list: l.id, slot: slot, generation: l.slots[slot].generation}
}

// resolve returns the slot index of `h` if it refers to a live node of this list.
func (l *List) resolve(h Handle) (uint32, bool) {
	if h.list != l.id || h.slot == noSlot || int(h.slot) >= len(l.slots) {
		return noSlot, false
	}
	n := &l.slots[h.slot]
	if !n.inUse || n.generation != h.generation {
		return noSlot, false
	}
	return h.slot, true
}

// Front returns the head node or Nil if the list is empty.
func (l *List) Front() Handle {
	return l.handleOf(l.head)
}

// Back returns the tail node or Nil if the list is empty.
func (l *List) Back() Handle {
	return l.handleOf(l.tail)
}

// Next returns the successor of `h`, or Nil at the tail or for an invalid handle.
func (l *List) Next(h Handle) Handle {
	slot, ok := l.resolve(h)
	if !ok {
		return Nil
	}
	return l.handleOf(l.slots[slot].next)
}

// Prev returns the predecessor of `h`, or Nil at the head or for an invalid handle.
func (l *List) Prev(h Handle) Handle {
	slot, ok := l.resolve(h)
	if !ok {
		return Nil
	}
	return l.handleOf(l.slots[slot].prev)
}

// Value returns the value held by `h` and whether `h` refers to a live node.
func (l *List) Value(h Handle) (string, bool) {
	slot, ok := l.resolve(h)
	if !ok {
		return "", false
	}
	return l.slots[slot].value, true
}

// allocate takes a slot from the free chain, or grows the arena when the chain is empty.
func (l *List) allocate(value string) (uint32, error) {
	if l.maxNodes > 0 && l.size >= l.maxNodes {
		insertFailures.WithLabelValues("out_of_nodes").Inc()
		return noSlot, fmt.Errorf("%w: %d nodes", ErrOutOfNodes, l.maxNodes)
	}

	var slot uint32
	if l.free != noSlot {
		slot = l.free
		l.free = l.slots[slot].next
	} else {
		l.slots = append(l.slots, node{})
		slot = uint32(len(l.slots) - 1)
	}

	n := &l.slots[slot]
	n.value = strings.Clone(value) // The node owns its own copy.
	n.prev, n.next = noSlot, noSlot
	n.inUse = true

	l.stats.Allocated++
	nodesAllocated.Inc()
	return slot, nil
}

// release drops the value of `slot`, invalidates its handles and puts it on the free chain.
func (l *List) release(slot uint32) {
	n := &l.slots[slot]
	n.value = ""
	n.prev = noSlot
	n.next = l.free
	n.generation++
	n.inUse = false
	l.free = slot

	l.stats.Released++
	nodesReleased.Inc()
}

// Insert adds `value` right after `after`, or at the head when `after` is Nil, and returns the new node.
// The list is left untouched when an error is returned.
func (l *List) Insert(after Handle, value string) (Handle, error) {
	afterSlot := noSlot
	if !after.IsNil() {
		slot, ok := l.resolve(after)
		if !ok {
			insertFailures.WithLabelValues("stale_handle").Inc()
			utils.RaiseInvariant("list", "stale_handle", "Insert got a handle to a released node.",
				"slot", after.slot, "generation", after.generation)
			return Nil, ErrStaleHandle
		}
		afterSlot = slot
	}

	slot, err := l.allocate(value)
	if err != nil {
		return Nil, err
	}
	l.filter.AddString(value)
	l.size++
	n := &l.slots[slot]

	if l.head == noSlot { // List was empty.
		l.head, l.tail = slot, slot
		return l.handleOf(slot), nil
	}

	if afterSlot == noSlot { // Insert at head.
		n.next = l.head
		l.slots[l.head].prev = slot
		l.head = slot
		return l.handleOf(slot), nil
	}

	a := &l.slots[afterSlot]
	n.prev = afterSlot
	n.next = a.next
	if a.next != noSlot {
		l.slots[a.next].prev = slot
	} else {
		// `after` was the tail.
		l.tail = slot
	}
	a.next = slot
	return l.handleOf(slot), nil
}

// Find returns the first node, in head to tail order, whose value equals `key`.
func (l *List) Find(key string) (Handle, bool) {
	if l.size == 0 || !l.filter.TestString(key) { // Definitely never inserted.
		return Nil, false
	}
	for slot := l.head; slot != noSlot; slot = l.slots[slot].next {
		if l.slots[slot].value == key {
			return l.handleOf(slot), true
		}
	}
	return Nil, false
}

// Delete unlinks and releases the node of `h`. It returns false when `h` is Nil or stale.
func (l *List) Delete(h Handle) bool {
	if h.IsNil() {
		return false
	}
	slot, ok := l.resolve(h)
	if !ok {
		utils.RaiseInvariant("list", "stale_handle", "Delete got a handle to a released node.",
			"slot", h.slot, "generation", h.generation)
		return false
	}

	n := &l.slots[slot]
	if n.prev != noSlot {
		l.slots[n.prev].next = n.next
	} else {
		// Node is the head.
		l.head = n.next
	}
	if n.next != noSlot {
		l.slots[n.next].prev = n.prev
	} else {
		// Node is the tail.
		l.tail = n.prev
	}

	l.release(slot)
	l.size--
	return true
}

// FreeAll releases every node in forward order and leaves the list empty.
// Slots stay in the arena for reuse, so handles issued before become stale instead of aliasing new nodes.
func (l *List) FreeAll() {
	for slot := l.head; slot != noSlot; {
		next := l.slots[slot].next
		l.release(slot)
		slot = next
	}
	l.head, l.tail = noSlot, noSlot
	l.size = 0
	l.filter.ClearAll()
}
