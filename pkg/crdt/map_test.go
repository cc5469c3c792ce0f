package crdt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapAddIsVisibleLocally(t *testing.T) {
	m := NewMap[string, string]()
	m.Add("node-a", "k1", "v1")

	v, ok := m.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)
}

func TestMapMergeIsCommutative(t *testing.T) {
	a := NewMap[string, string]()
	a.Add("node-a", "k1", "v1")

	b := NewMap[string, string]()
	b.Add("node-b", "k2", "v2")

	ab := a.Clone().Merge(b.Clone())
	ba := b.Clone().Merge(a.Clone())

	assertSameContents(t, ab, ba)
}

func TestMapMergeIsIdempotent(t *testing.T) {
	a := NewMap[string, string]()
	a.Add("node-a", "k1", "v1")

	b := a.Clone()
	once := a.Clone().Merge(b)
	twice := once.Clone().Merge(b)

	assertSameContents(t, once, twice)
}

func TestMapMergeIsAssociative(t *testing.T) {
	a := NewMap[string, string]()
	a.Add("node-a", "k1", "v1")
	b := NewMap[string, string]()
	b.Add("node-b", "k2", "v2")
	c := NewMap[string, string]()
	c.Add("node-c", "k3", "v3")

	left := a.Clone().Merge(b.Clone()).Merge(c.Clone())
	right := a.Clone().Merge(b.Clone().Merge(c.Clone()))

	assertSameContents(t, left, right)
}

func TestConcurrentAddBeatsRemove(t *testing.T) {
	base := NewMap[string, string]()
	base.Add("node-a", "k1", "v1")

	replicaThatDeletes := base.Clone()
	replicaThatDeletes.Rm("node-a", "k1")

	replicaThatUpdates := base.Clone()
	replicaThatUpdates.Add("node-b", "k1", "v2")

	merged := replicaThatDeletes.Clone().Merge(replicaThatUpdates.Clone())

	v, ok := merged.Get("k1")
	require.True(t, ok, "add-wins: a concurrent update must survive a concurrent delete")
	assert.Equal(t, "v2", v)
}

func TestLastWriterWinsOnConcurrentUpdate(t *testing.T) {
	base := NewMap[string, string]()
	base.Add("node-a", "k1", "v1")

	replicaA := base.Clone()
	replicaA.Add("node-a", "k1", "from-a")

	replicaB := base.Clone()
	replicaB.Add("node-b", "k1", "from-b")

	merged1 := replicaA.Clone().Merge(replicaB.Clone())
	merged2 := replicaB.Clone().Merge(replicaA.Clone())

	v1, _ := merged1.Get("k1")
	v2, _ := merged2.Get("k1")
	assert.Equal(t, v1, v2, "merge order must not change the winning value")
}

func TestRandomMergeOrderConverges(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	replicas := make([]*Map[string, int], 4)
	for i := range replicas {
		replicas[i] = NewMap[string, int]()
	}

	actors := []string{"n0", "n1", "n2", "n3"}
	for i := 0; i < 20; i++ {
		actor := actors[i%len(actors)]
		replicas[i%len(replicas)].Add(actor, "key", r.Int())
	}

	merged := replicas[0].Clone()
	order := r.Perm(len(replicas))
	for _, idx := range order {
		merged.Merge(replicas[idx].Clone())
	}

	reversed := replicas[0].Clone()
	for i := len(order) - 1; i >= 0; i-- {
		reversed.Merge(replicas[order[i]].Clone())
	}

	assertSameContents(t, merged, reversed)
}

func assertSameContents[K comparable, V comparable](t *testing.T, a, b *Map[K, V]) {
	t.Helper()
	got := map[K]V{}
	a.Range(func(k K, v V) bool {
		got[k] = v
		return true
	})
	want := map[K]V{}
	b.Range(func(k K, v V) bool {
		want[k] = v
		return true
	})
	assert.Equal(t, want, got)
}
