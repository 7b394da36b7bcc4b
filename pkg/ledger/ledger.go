package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrRecordNotFound is returned when a tick has no record.
	ErrRecordNotFound = errors.New("record not found")

	// ErrClosed is returned when operating on a closed ledger.
	ErrClosed = errors.New("ledger closed")

	// ErrEmpty is returned by Latest on a ledger without records.
	ErrEmpty = errors.New("ledger is empty")
)

// Bucket names for BoltDB.
var (
	// bucketTicks stores tick records keyed by tick.
	bucketTicks = []byte("ticks")

	// bucketMetadata stores ledger metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyLatestTick  = []byte("latest_tick")
	keyRecordCount = []byte("record_count")
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("ledger: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Config holds ledger configuration options.
type Config struct {
	// Path is the database file path.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// Timeout is how long to wait for the file lock.
	Timeout time.Duration

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default ledger configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:    path,
		Timeout: 5 * time.Second,
	}
}

// Store is a BoltDB-backed tick ledger.
type Store struct {
	db     *bolt.DB
	config Config

	// Cached metadata for fast reads.
	mu          sync.RWMutex
	latestTick  uint64
	recordCount uint64
	closed      bool
}

// Open opens or creates a ledger.
func Open(config Config) (*Store, error) {
	if !config.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := bolt.Open(config.Path, 0o600, &bolt.Options{
		Timeout:  config.Timeout,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	s := &Store{db: db, config: config}

	if !config.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, name := range [][]byte{bucketTicks, bucketMetadata} {
				if _, err := tx.CreateBucketIfNotExists(name); err != nil {
					return fmt.Errorf("create bucket %s: %w", name, err)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := s.loadMetadata(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return s, nil
}

func (s *Store) loadMetadata() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil
		}
		if v := meta.Get(keyLatestTick); v != nil {
			s.latestTick = decodeTickKey(v)
		}
		if v := meta.Get(keyRecordCount); v != nil {
			s.recordCount = decodeTickKey(v)
		}
		return nil
	})
}

// Put stores a record, replacing any record for the same tick.
func (s *Store) Put(rec *TickRecord) error {
	data, err := encMode.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode tick %d: %w", rec.Tick, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	latest, count := s.latestTick, s.recordCount
	err = s.db.Update(func(tx *bolt.Tx) error {
		ticks := tx.Bucket(bucketTicks)
		key := tickKey(rec.Tick)
		if ticks.Get(key) == nil {
			count++
		}
		if err := ticks.Put(key, data); err != nil {
			return err
		}
		if rec.Tick > latest || count == 1 {
			latest = rec.Tick
		}
		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyLatestTick, tickKey(latest)); err != nil {
			return err
		}
		return meta.Put(keyRecordCount, tickKey(count))
	})
	if err != nil {
		return fmt.Errorf("put tick %d: %w", rec.Tick, err)
	}

	s.latestTick, s.recordCount = latest, count
	return nil
}

// Get returns the record for a tick.
func (s *Store) Get(tick uint64) (*TickRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var rec *TickRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTicks).Get(tickKey(tick))
		if data == nil {
			return ErrRecordNotFound
		}
		r, err := decodeRecord(data)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	return rec, err
}

// Range returns records with from <= tick <= to in tick order.
func (s *Store) Range(from, to uint64) ([]*TickRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []*TickRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTicks).Cursor()
		for k, v := c.Seek(tickKey(from)); k != nil && decodeTickKey(k) <= to; k, v = c.Next() {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Tail returns up to n of the most recent records, oldest first.
func (s *Store) Tail(n int) ([]*TickRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []*TickRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTicks).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, err
}

// Latest returns the record with the highest tick.
func (s *Store) Latest() (*TickRecord, error) {
	s.mu.RLock()
	empty := s.recordCount == 0
	latest := s.latestTick
	s.mu.RUnlock()

	if empty {
		return nil, ErrEmpty
	}
	return s.Get(latest)
}

// Prune deletes all but the newest keep records and returns how many were
// deleted.
func (s *Store) Prune(keep uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if s.recordCount <= keep {
		return 0, nil
	}

	excess := s.recordCount - keep
	var deleted uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		ticks := tx.Bucket(bucketTicks)

		// Collect first: deleting through a live cursor skips keys.
		var keys [][]byte
		c := ticks.Cursor()
		for k, _ := c.First(); k != nil && uint64(len(keys)) < excess; k, _ = c.Next() {
			keys = append(keys, k)
		}
		for _, k := range keys {
			if err := ticks.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return tx.Bucket(bucketMetadata).Put(keyRecordCount, tickKey(s.recordCount-deleted))
	})
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}

	s.recordCount -= deleted
	return deleted, nil
}

// Stats returns ledger statistics.
func (s *Store) Stats() (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	stats := &Stats{
		LatestTick:  s.latestTick,
		RecordCount: s.recordCount,
	}
	err := s.db.View(func(tx *bolt.Tx) error {
		if k, _ := tx.Bucket(bucketTicks).Cursor().First(); k != nil {
			stats.FirstTick = decodeTickKey(k)
		}
		stats.DatabaseSize = tx.Size()
		return nil
	})
	return stats, err
}

// Sync flushes the database to disk.
func (s *Store) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Sync()
}

// Close closes the ledger.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func decodeRecord(data []byte) (*TickRecord, error) {
	var rec TickRecord
	if err := cbor.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &rec, nil
}
