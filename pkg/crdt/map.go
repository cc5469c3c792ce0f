package crdt

// entry pairs a Register with the tombstone marker used to make removal
// add-wins: a key is visible if it has an entry whose dot is not covered
// by the peer's removal clock at merge time.
type entry[V any] struct {
	reg       Register[V]
	tombstone bool
}

// Map is an add-wins observed-remove map: a concurrent Add and Rm of the
// same key resolve in favor of the Add, and a concurrent Add/Add
// resolves via Register's last-writer-wins rule. It mirrors the shape of
// crdts::Map<K, BFTReg<V, Actor>, Actor> used throughout form-state.
type Map[K comparable, V any] struct {
	clock   VClock
	entries map[K]entry[V]
}

// NewMap returns an empty Map.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		clock:   VClock{},
		entries: make(map[K]entry[V]),
	}
}

// Add performs a local write of value under key, attributed to actor.
// It returns the Dot stamped on the write so callers can log or test it.
func (m *Map[K, V]) Add(actor string, key K, value V) Dot {
	counter := m.clock.Inc(actor)
	dot := Dot{Actor: actor, Counter: counter}
	m.entries[key] = entry[V]{reg: NewRegister(value, dot)}
	return dot
}

// Rm removes key. The removal is attributed to actor and stamped with
// actor's current clock so a later Merge can tell whether a concurrent
// Add elsewhere happened-after this removal was issued.
func (m *Map[K, V]) Rm(actor string, key K) {
	m.clock.Inc(actor)
	if e, ok := m.entries[key]; ok {
		e.tombstone = true
		m.entries[key] = e
	}
}

// Get returns the live value stored under key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	e, ok := m.entries[key]
	if !ok || e.tombstone {
		var zero V
		return zero, false
	}
	return e.reg.Value, true
}

// Len returns the number of live (non-tombstoned) entries.
func (m *Map[K, V]) Len() int {
	n := 0
	for _, e := range m.entries {
		if !e.tombstone {
			n++
		}
	}
	return n
}

// Range calls fn for every live entry. Iteration order is unspecified.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	for k, e := range m.entries {
		if e.tombstone {
			continue
		}
		if !fn(k, e.reg.Value) {
			return
		}
	}
}

// Clone returns a deep-enough copy of m safe for independent mutation.
func (m *Map[K, V]) Clone() *Map[K, V] {
	out := &Map[K, V]{
		clock:   m.clock.Clone(),
		entries: make(map[K]entry[V], len(m.entries)),
	}
	for k, e := range m.entries {
		out.entries[k] = e
	}
	return out
}

// Merge folds other into m in place and returns m. Merge is commutative,
// associative and idempotent: applying the same remote state twice, or
// in a different order relative to other remotes, converges to the same
// result.
func (m *Map[K, V]) Merge(other *Map[K, V]) *Map[K, V] {
	keys := make(map[K]struct{}, len(m.entries)+len(other.entries))
	for k := range m.entries {
		keys[k] = struct{}{}
	}
	for k := range other.entries {
		keys[k] = struct{}{}
	}

	merged := make(map[K]entry[V], len(keys))
	for k := range keys {
		local, localOK := m.entries[k]
		remote, remoteOK := other.entries[k]

		switch {
		case localOK && remoteOK:
			// A live entry survives unless the other side tombstoned the key
			// after observing this entry's dot.
			localLive := !local.tombstone && !(remote.tombstone && other.clock.Covers(local.reg.Dot))
			remoteLive := !remote.tombstone && !(local.tombstone && m.clock.Covers(remote.reg.Dot))
			switch {
			case localLive && !remoteLive:
				merged[k] = entry[V]{reg: local.reg}
			case remoteLive && !localLive:
				merged[k] = entry[V]{reg: remote.reg}
			default:
				merged[k] = entry[V]{reg: local.reg.Merge(remote.reg), tombstone: !localLive}
			}
		case localOK && !remoteOK:
			// Other doesn't have this key: either it never saw the write, or
			// it deleted it. Add-wins: keep it unless other's clock proves
			// it observed (and therefore could have deleted) this exact dot.
			if other.clock.Covers(local.reg.Dot) {
				continue
			}
			merged[k] = local
		case !localOK && remoteOK:
			if m.clock.Covers(remote.reg.Dot) {
				continue
			}
			merged[k] = remote
		}
	}

	m.clock = m.clock.Merge(other.clock)
	m.entries = merged
	return m
}
