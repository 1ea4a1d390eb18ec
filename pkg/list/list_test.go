package list

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/nobletooth/dlist/pkg/config"
	"github.com/nobletooth/dlist/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	promclient "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertListEqualsSlice makes sure the list walks forward and backward as the expected slice.
func assertListEqualsSlice(t *testing.T, expected []string, list *List) {
	t.Helper()

	assert.Equal(t, len(expected), list.Len(), "List length mismatch")

	if len(expected) == 0 {
		assert.True(t, list.Front().IsNil(), "Empty list should have a nil Front()")
		assert.True(t, list.Back().IsNil(), "Empty list should have a nil Back()")
		return
	}

	// Head has no predecessor and tail has no successor.
	assert.True(t, list.Prev(list.Front()).IsNil(), "Front() should have no predecessor")
	assert.True(t, list.Next(list.Back()).IsNil(), "Back() should have no successor")

	// Forward iteration.
	var forwardResult []string
	for node := list.Front(); !node.IsNil(); node = list.Next(node) {
		value, ok := list.Value(node)
		require.True(t, ok)
		forwardResult = append(forwardResult, value)
	}
	assert.Equal(t, expected, forwardResult, "Forward iteration mismatch")

	// Backward iteration.
	var backwardResult []string
	for node := list.Back(); !node.IsNil(); node = list.Prev(node) {
		value, ok := list.Value(node)
		require.True(t, ok)
		backwardResult = append(backwardResult, value)
	}
	// Reverse the backward result to compare with expected.
	slices.Reverse(backwardResult)
	assert.Equal(t, expected, backwardResult, "Backward iteration mismatch")

	assert.Equal(t, expected, slices.Collect(list.Values()), "Values() mismatch")
}

// mustInsert inserts `value` after `after` and fails the test on error.
func mustInsert(t *testing.T, list *List, after Handle, value string) Handle {
	t.Helper()
	node, err := list.Insert(after, value)
	require.NoError(t, err)
	require.False(t, node.IsNil())
	return node
}

// mustFind looks up `key` and fails the test if it is missing.
func mustFind(t *testing.T, list *List, key string) Handle {
	t.Helper()
	node, found := list.Find(key)
	require.Truef(t, found, "Expected %q to be found", key)
	return node
}

// counterValue reads the current value of a prometheus counter.
func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &promclient.Metric{}
	require.NoError(t, counter.Write(metric))
	return metric.GetCounter().GetValue()
}

func TestList_Scenario(t *testing.T) {
	list := New()
	mustInsert(t, list, Nil, "four")
	assertListEqualsSlice(t, []string{"four"}, list)
	mustInsert(t, list, Nil, "one")
	assertListEqualsSlice(t, []string{"one", "four"}, list)
	mustInsert(t, list, mustFind(t, list, "one"), "two")
	assertListEqualsSlice(t, []string{"one", "two", "four"}, list)
	mustInsert(t, list, mustFind(t, list, "two"), "three")
	assertListEqualsSlice(t, []string{"one", "two", "three", "four"}, list)
	assert.Equal(t, "one <-> two <-> three <-> four", list.String())

	assert.True(t, list.Delete(mustFind(t, list, "three")))
	assert.Equal(t, "one <-> two <-> four", list.String())

	assert.True(t, list.Delete(mustFind(t, list, "one")))
	assert.Equal(t, "two <-> four", list.String())

	list.FreeAll()
	assertListEqualsSlice(t, []string{}, list)
	assert.Zero(t, list.Stats().Live())
}

func TestList_Insert(t *testing.T) {
	t.Run("At head", func(t *testing.T) {
		list := New()
		mustInsert(t, list, Nil, "c")
		mustInsert(t, list, Nil, "b")
		mustInsert(t, list, Nil, "a")
		assertListEqualsSlice(t, []string{"a", "b", "c"}, list)
	})

	t.Run("After tail", func(t *testing.T) {
		list := New()
		node := mustInsert(t, list, Nil, "a")
		node = mustInsert(t, list, node, "b")
		mustInsert(t, list, node, "c")
		assertListEqualsSlice(t, []string{"a", "b", "c"}, list)
	})

	t.Run("In the middle", func(t *testing.T) {
		list := New()
		first := mustInsert(t, list, Nil, "a")
		mustInsert(t, list, first, "c")
		mustInsert(t, list, first, "b")
		assertListEqualsSlice(t, []string{"a", "b", "c"}, list)
	})

	t.Run("Not found pivot inserts at head", func(t *testing.T) {
		list := New()
		mustInsert(t, list, Nil, "b")
		missing, found := list.Find("missing")
		assert.False(t, found)
		mustInsert(t, list, missing, "a")
		assertListEqualsSlice(t, []string{"a", "b"}, list)
	})

	t.Run("Value is copied", func(t *testing.T) {
		list := New()
		buffer := []byte("value")
		node := mustInsert(t, list, Nil, string(buffer))
		buffer[0] = 'V'
		value, ok := list.Value(node)
		assert.True(t, ok)
		assert.Equal(t, "value", value)
	})

	t.Run("Stale pivot is rejected", func(t *testing.T) {
		list := New()
		node := mustInsert(t, list, Nil, "a")
		mustInsert(t, list, node, "b")
		require.True(t, list.Delete(node))

		before := utils.GetMetricValue("list", "stale_handle")
		got, err := list.Insert(node, "c")
		assert.ErrorIs(t, err, ErrStaleHandle)
		assert.True(t, got.IsNil())
		assert.Equal(t, before+1, utils.GetMetricValue("list", "stale_handle"))
		assertListEqualsSlice(t, []string{"b"}, list)
	})

	t.Run("Node limit", func(t *testing.T) {
		config.SetTestFlag(t, "list_max_nodes", "2")
		list := New()
		mustInsert(t, list, Nil, "a")
		mustInsert(t, list, Nil, "b")
		_, err := list.Insert(Nil, "c")
		assert.ErrorIs(t, err, ErrOutOfNodes)
		assertListEqualsSlice(t, []string{"b", "a"}, list)
		assert.Equal(t, uint64(2), list.Stats().Allocated)

		// Deleting frees room for another node.
		require.True(t, list.Delete(mustFind(t, list, "a")))
		mustInsert(t, list, Nil, "c")
		assertListEqualsSlice(t, []string{"c", "b"}, list)
	})
}

func TestNew_BloomSettings(t *testing.T) {
	for _, testCase := range []struct {
		name          string
		flagName      string
		flagValue     string
		invariantType string
	}{
		{name: "zero capacity", flagName: "list_bloom_capacity", flagValue: "0", invariantType: "zero_bloom_capacity"},
		{name: "zero rate", flagName: "list_bloom_false_positive_rate", flagValue: "0",
			invariantType: "invalid_bloom_false_positive_rate"},
		{name: "negative rate", flagName: "list_bloom_false_positive_rate", flagValue: "-0.5",
			invariantType: "invalid_bloom_false_positive_rate"},
		{name: "rate of one", flagName: "list_bloom_false_positive_rate", flagValue: "1",
			invariantType: "invalid_bloom_false_positive_rate"},
		{name: "rate is NaN", flagName: "list_bloom_false_positive_rate", flagValue: "NaN",
			invariantType: "invalid_bloom_false_positive_rate"},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			config.SetTestFlag(t, testCase.flagName, testCase.flagValue)
			before := utils.GetMetricValue("list", testCase.invariantType)
			list := New()
			assert.Equal(t, before+1, utils.GetMetricValue("list", testCase.invariantType))

			// The list falls back to a usable filter.
			mustInsert(t, list, Nil, "a")
			mustInsert(t, list, list.Back(), "b")
			assert.Equal(t, list.Back(), mustFind(t, list, "b"))
			_, found := list.Find("c")
			assert.False(t, found)
			assertListEqualsSlice(t, []string{"a", "b"}, list)
		})
	}
}

func TestList_Find(t *testing.T) {
	list := New()
	first := mustInsert(t, list, Nil, "x")
	mustInsert(t, list, first, "y")
	last := mustInsert(t, list, list.Back(), "x")

	for _, testCase := range []struct {
		name     string
		key      string
		found    bool
		expected Handle
	}{
		{name: "first of duplicates", key: "x", found: true, expected: first},
		{name: "single", key: "y", found: true, expected: list.Next(first)},
		{name: "missing", key: "z", found: false, expected: Nil},
		{name: "empty key", key: "", found: false, expected: Nil},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			got, found := list.Find(testCase.key)
			assert.Equal(t, testCase.found, found)
			assert.Equal(t, testCase.expected, got)
		})
	}

	t.Run("next duplicate after delete", func(t *testing.T) {
		require.True(t, list.Delete(first))
		got, found := list.Find("x")
		assert.True(t, found)
		assert.Equal(t, last, got)
	})

	t.Run("empty list", func(t *testing.T) {
		got, found := New().Find("x")
		assert.False(t, found)
		assert.True(t, got.IsNil())
	})
}

func TestList_Delete(t *testing.T) {
	// Helper to create a list for testing removal.
	newListWithNodes := func(nodeCount int) (*List, []Handle) {
		list := New()
		nodes := make([]Handle, nodeCount)
		after := Nil
		for i := 1; i <= nodeCount; i++ {
			after = mustInsert(t, list, after, fmt.Sprint(i))
			nodes[i-1] = after
		}
		return list, nodes
	}

	t.Run("Delete from middle", func(t *testing.T) {
		list, nodes := newListWithNodes(5)
		assert.True(t, list.Delete(nodes[2]))
		assertListEqualsSlice(t, []string{"1", "2", "4", "5"}, list)

		// Check that the neighbors of the deleted node are correctly linked.
		assert.Equal(t, nodes[3], list.Next(nodes[1]), "Node 2's next should be node 4")
		assert.Equal(t, nodes[1], list.Prev(nodes[3]), "Node 4's prev should be node 2")
	})

	t.Run("Delete head", func(t *testing.T) {
		list, nodes := newListWithNodes(5)
		assert.True(t, list.Delete(nodes[0]))
		assert.Equal(t, nodes[1], list.Front())
		assertListEqualsSlice(t, []string{"2", "3", "4", "5"}, list)
	})

	t.Run("Delete tail", func(t *testing.T) {
		list, nodes := newListWithNodes(5)
		assert.True(t, list.Delete(nodes[4]))
		assert.Equal(t, nodes[3], list.Back())
		assert.True(t, list.Next(nodes[3]).IsNil())
		assertListEqualsSlice(t, []string{"1", "2", "3", "4"}, list)
	})

	t.Run("Delete until empty", func(t *testing.T) {
		list, nodes := newListWithNodes(5)
		for i := 0; i < len(nodes); i++ {
			assert.True(t, list.Delete(nodes[i]))
		}
		assertListEqualsSlice(t, []string{}, list)
		assert.Zero(t, list.Stats().Live())
	})

	t.Run("Delete the only element", func(t *testing.T) {
		list, nodes := newListWithNodes(1)
		assert.True(t, list.Delete(nodes[0]))
		assertListEqualsSlice(t, []string{}, list)
	})

	t.Run("Delete nil is a no-op", func(t *testing.T) {
		list, _ := newListWithNodes(3)
		missing, _ := list.Find("missing")
		assert.False(t, list.Delete(missing))
		assertListEqualsSlice(t, []string{"1", "2", "3"}, list)
	})

	t.Run("Deleted key is not found again", func(t *testing.T) {
		list, _ := newListWithNodes(3)
		assert.True(t, list.Delete(mustFind(t, list, "2")))
		_, found := list.Find("2")
		assert.False(t, found)
	})

	t.Run("Double delete is a no-op", func(t *testing.T) {
		list, nodes := newListWithNodes(3)
		assert.True(t, list.Delete(nodes[1]))
		before := utils.GetMetricValue("list", "stale_handle")
		assert.False(t, list.Delete(nodes[1]))
		assert.Equal(t, before+1, utils.GetMetricValue("list", "stale_handle"))
		assertListEqualsSlice(t, []string{"1", "3"}, list)
	})

	t.Run("Handle of another list is rejected", func(t *testing.T) {
		list, _ := newListWithNodes(2)
		other, otherNodes := newListWithNodes(2)
		assert.False(t, list.Delete(otherNodes[0]))
		_, err := list.Insert(otherNodes[0], "x")
		assert.ErrorIs(t, err, ErrStaleHandle)
		assertListEqualsSlice(t, []string{"1", "2"}, list)
		assertListEqualsSlice(t, []string{"1", "2"}, other)
	})

	t.Run("Recycled slot does not revive old handles", func(t *testing.T) {
		list, nodes := newListWithNodes(3)
		assert.True(t, list.Delete(nodes[1]))
		recycled := mustInsert(t, list, Nil, "new")
		assert.Equal(t, nodes[1].slot, recycled.slot, "Released slot should be reused")
		assert.NotEqual(t, nodes[1], recycled)

		_, ok := list.Value(nodes[1])
		assert.False(t, ok)
		assert.False(t, list.Delete(nodes[1]))
		assertListEqualsSlice(t, []string{"new", "1", "3"}, list)
	})
}

func TestList_FreeAll(t *testing.T) {
	t.Run("Releases every node", func(t *testing.T) {
		allocatedBefore, releasedBefore := counterValue(t, nodesAllocated), counterValue(t, nodesReleased)
		list := New()
		after := Nil
		for i := 0; i < 10; i++ {
			after = mustInsert(t, list, after, fmt.Sprint(i))
		}
		assert.Equal(t, uint64(10), list.Stats().Live())

		list.FreeAll()
		assertListEqualsSlice(t, []string{}, list)
		assert.Equal(t, Stats{Allocated: 10, Released: 10}, list.Stats())
		assert.Equal(t, float64(10), counterValue(t, nodesAllocated)-allocatedBefore)
		assert.Equal(t, float64(10), counterValue(t, nodesReleased)-releasedBefore)
		for _, slot := range list.slots {
			assert.False(t, slot.inUse)
			assert.Empty(t, slot.value, "Released slots should not keep their values")
		}
	})

	t.Run("Idempotent when empty", func(t *testing.T) {
		list := New()
		list.FreeAll()
		list.FreeAll()
		assertListEqualsSlice(t, []string{}, list)
		assert.Zero(t, list.Stats().Allocated)
	})

	t.Run("Old handles become stale", func(t *testing.T) {
		list := New()
		node := mustInsert(t, list, Nil, "a")
		list.FreeAll()
		_, ok := list.Value(node)
		assert.False(t, ok)
		_, found := list.Find("a")
		assert.False(t, found)

		// The list is reusable after teardown.
		mustInsert(t, list, Nil, "b")
		assertListEqualsSlice(t, []string{"b"}, list)
	})
}

// TestList_RandomOperations checks the link symmetry against a slice model for random insert / delete sequences.
func TestList_RandomOperations(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	list := New()
	var model []string
	var handles []Handle // Parallel to model.

	for step := 0; step < 2_000; step++ {
		if len(model) > 0 && rnd.Intn(3) == 0 { // Delete a random node.
			idx := rnd.Intn(len(model))
			require.True(t, list.Delete(handles[idx]))
			model = slices.Delete(model, idx, idx+1)
			handles = slices.Delete(handles, idx, idx+1)
		} else { // Insert after a random node or at head.
			value := fmt.Sprintf("v%d", step)
			idx := rnd.Intn(len(model) + 1)
			if idx == 0 {
				handles = slices.Insert(handles, 0, mustInsert(t, list, Nil, value))
				model = slices.Insert(model, 0, value)
			} else {
				handles = slices.Insert(handles, idx, mustInsert(t, list, handles[idx-1], value))
				model = slices.Insert(model, idx, value)
			}
		}
		if step%100 == 0 {
			assertListEqualsSlice(t, slices.Clone(model), list)
		}
	}
	assertListEqualsSlice(t, model, list)
	assert.Equal(t, uint64(len(model)), list.Stats().Live())

	list.FreeAll()
	assert.Zero(t, list.Stats().Live())
}
