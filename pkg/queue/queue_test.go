package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *BoltQueue {
	t.Helper()
	q, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestWriteThenGetPreservesOrder(t *testing.T) {
	q := newTestQueue(t)

	for i, payload := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		idx, err := q.Write("state", SubtopicStatePeerRequest, payload)
		require.NoError(t, err)
		require.Equal(t, uint64(i+1), idx)
	}

	entries, err := q.GetN("state", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, []byte("a"), entries[0].Payload)
	require.Equal(t, []byte("c"), entries[2].Payload)
}

func TestGetAfterIsStrictlyGreater(t *testing.T) {
	q := newTestQueue(t)
	for _, payload := range [][]byte{[]byte("a"), []byte("b"), []byte("c")} {
		_, err := q.Write("pack", SubtopicPackBuildRequest, payload)
		require.NoError(t, err)
	}

	entries, err := q.GetAfter("pack", 1)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, []byte("b"), entries[0].Payload)
}

func TestTopicsAreIndependentlyOrdered(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Write("pack", SubtopicPackBuildRequest, []byte("pack-entry"))
	require.NoError(t, err)
	_, err = q.Write("state", SubtopicStatePeerRequest, []byte("state-entry"))
	require.NoError(t, err)

	packEntries, err := q.GetN("pack", 10)
	require.NoError(t, err)
	require.Len(t, packEntries, 1)

	stateEntries, err := q.GetN("state", 10)
	require.NoError(t, err)
	require.Len(t, stateEntries, 1)
}

func TestSubtopicRoundTrips(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Write("vmm", SubtopicVMMBoot, []byte("boot-payload"))
	require.NoError(t, err)

	entry, err := q.Get("vmm")
	require.NoError(t, err)
	require.Equal(t, SubtopicVMMBoot, entry.Subtopic)
	require.Equal(t, []byte("boot-payload"), entry.Payload)
}

func TestGetOnEmptyTopicIsNotFound(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Get("nonexistent")
	require.Error(t, err)
}

func TestPollerDeliversNewEntriesOnce(t *testing.T) {
	q := newTestQueue(t)
	_, err := q.Write("pack", SubtopicPackBuildRequest, []byte("first"))
	require.NoError(t, err)

	var delivered [][]byte
	poller := NewPoller(q, "pack", 0, 10*time.Millisecond, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	_ = poller.Run(ctx, func(_ context.Context, entries []*Entry) error {
		for _, e := range entries {
			delivered = append(delivered, e.Payload)
		}
		if len(delivered) == 1 {
			_, werr := q.Write("pack", SubtopicPackBuildRequest, []byte("second"))
			require.NoError(t, werr)
		}
		return nil
	})

	require.Len(t, delivered, 2)
	require.Equal(t, []byte("first"), delivered[0])
	require.Equal(t, []byte("second"), delivered[1])
}
