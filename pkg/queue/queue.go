package queue

import (
	"encoding/binary"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/formation/pkg/ferrors"
)

// Entry is a single record in a topic's append log.
type Entry struct {
	Index    uint64 `json:"index"`
	Subtopic byte   `json:"subtopic"`
	Payload  []byte `json:"payload"`
}

// Queue is the intent queue's in-process interface: Write is the only
// path by which a mutation may enter the state plane, and the
// Get/GetN/GetAfter/GetNAfter family give readers a total order within
// one topic. No ordering is implied across topics.
type Queue interface {
	Write(topic string, subtopic byte, payload []byte) (uint64, error)
	Get(topic string) (*Entry, error)
	GetN(topic string, n int) ([]*Entry, error)
	GetAfter(topic string, idx uint64) ([]*Entry, error)
	GetNAfter(topic string, idx uint64, n int) ([]*Entry, error)
	Close() error
}

// BoltQueue persists every topic's log in its own bbolt bucket, named by
// the topic's hex-encoded hash, keyed by an 8-byte big-endian
// monotonically increasing index.
type BoltQueue struct {
	db *bolt.DB
}

// Open creates or opens the queue database under dataDir.
func Open(dataDir string) (*BoltQueue, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "queue.db"), 0600, nil)
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Internal, "queue.Open", "failed to open queue database", err)
	}
	return &BoltQueue{db: db}, nil
}

func (q *BoltQueue) Close() error {
	return q.db.Close()
}

func bucketName(topic string) []byte {
	return []byte(TopicHashHex(topic))
}

func encodeIndex(i uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, i)
	return b
}

func decodeIndex(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}

func encodeEntry(subtopic byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = subtopic
	copy(out[1:], payload)
	return out
}

func decodeEntry(index uint64, raw []byte) *Entry {
	if len(raw) == 0 {
		return &Entry{Index: index}
	}
	payload := make([]byte, len(raw)-1)
	copy(payload, raw[1:])
	return &Entry{Index: index, Subtopic: raw[0], Payload: payload}
}

// Write appends payload under subtopic to topic and returns its
// monotonic index. A failed write never becomes visible: the bucket
// creation and the put happen in one bbolt transaction.
func (q *BoltQueue) Write(topic string, subtopic byte, payload []byte) (uint64, error) {
	var index uint64
	err := q.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(topic))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		index = seq
		return b.Put(encodeIndex(index), encodeEntry(subtopic, payload))
	})
	if err != nil {
		return 0, ferrors.Wrap(ferrors.Transport, "queue.Write", fmt.Sprintf("failed to write topic %q", topic), err)
	}
	return index, nil
}

// Get returns the first entry written to topic.
func (q *BoltQueue) Get(topic string) (*Entry, error) {
	entries, err := q.GetN(topic, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ferrors.New(ferrors.NotFound, "queue.Get", fmt.Sprintf("topic %q is empty", topic))
	}
	return entries[0], nil
}

// GetN returns up to the first n entries written to topic.
func (q *BoltQueue) GetN(topic string, n int) ([]*Entry, error) {
	var entries []*Entry
	err := q.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(topic))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil && len(entries) < n; k, v = c.Next() {
			entries = append(entries, decodeEntry(decodeIndex(k), v))
		}
		return nil
	})
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Internal, "queue.GetN", fmt.Sprintf("failed to read topic %q", topic), err)
	}
	return entries, nil
}

// GetAfter returns every entry in topic with an index strictly greater
// than idx.
func (q *BoltQueue) GetAfter(topic string, idx uint64) ([]*Entry, error) {
	return q.GetNAfter(topic, idx, -1)
}

// GetNAfter returns up to n entries in topic with an index strictly
// greater than idx. n < 0 means unbounded.
func (q *BoltQueue) GetNAfter(topic string, idx uint64, n int) ([]*Entry, error) {
	var entries []*Entry
	err := q.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(topic))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek(encodeIndex(idx + 1)); k != nil; k, v = c.Next() {
			if n >= 0 && len(entries) >= n {
				break
			}
			entries = append(entries, decodeEntry(decodeIndex(k), v))
		}
		return nil
	})
	if err != nil {
		return nil, ferrors.Wrap(ferrors.Internal, "queue.GetNAfter", fmt.Sprintf("failed to read topic %q", topic), err)
	}
	return entries, nil
}
