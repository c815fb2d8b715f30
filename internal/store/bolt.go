package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCaptures = []byte("captures")
	bucketMeta     = []byte("meta")
)

// BoltStore implements Store using BoltDB. Capture keys are big-endian
// sequence numbers, so cursor order is insertion order.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCaptures, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func (s *BoltStore) Append(c *Capture) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCaptures)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		c.ID = id
		if c.Time.IsZero() {
			c.Time = time.Now()
		}
		data, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put(itob(id), data)
	})
}

func (s *BoltStore) Get(id uint64) (*Capture, error) {
	var c Capture
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCaptures).Get(itob(id))
		if data == nil {
			return fmt.Errorf("capture %d: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &c)
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) List(limit int, before uint64) ([]*Capture, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []*Capture
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCaptures).Cursor()

		var k, v []byte
		if before == 0 {
			k, v = c.Last()
		} else {
			// Seek lands on the first key >= before; step back past it.
			k, v = c.Seek(itob(before))
			if k == nil {
				k, v = c.Last()
			} else {
				k, v = c.Prev()
			}
		}
		for ; k != nil && len(out) < limit; k, v = c.Prev() {
			var rec Capture
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("capture %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketCaptures).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *BoltStore) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	var deleted int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCaptures)
		excess := b.Stats().KeyN - keep
		if excess <= 0 {
			return nil
		}
		// Deleting through the cursor while advancing it skips keys.
		keys := make([][]byte, 0, excess)
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(keys) < excess; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func (s *BoltStore) PutMeta(key string, v any) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put([]byte(key), data)
	})
}

func (s *BoltStore) GetMeta(key string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("meta %s: %w", key, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
