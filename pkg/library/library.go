// Package library provides a BadgerDB-backed, content-addressed store for
// arena programs.
//
// Programs are stored as compressed images keyed by their BLAKE3 digest and
// can additionally be looked up by name. Identical programs stored under
// different names share one image.
package library

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Arena/internal/types"
	"github.com/fortiblox/X1-Arena/pkg/loader"
	"github.com/fortiblox/X1-Arena/pkg/vm"
)

var (
	// ErrProgramNotFound is returned when no program matches a digest or name.
	ErrProgramNotFound = errors.New("program not found")

	// ErrClosed is returned when operating on a closed library.
	ErrClosed = errors.New("library closed")

	// ErrInvalidName is returned for an empty program name.
	ErrInvalidName = errors.New("invalid program name")
)

// Key prefixes.
var (
	// prefixImage + digest (32 bytes) -> compressed image
	prefixImage = []byte{0x01}

	// prefixName + name -> digest
	prefixName = []byte{0x02}
)

// Config contains configuration for the library.
type Config struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// CacheSize is the number of decoded programs kept in memory.
	CacheSize int

	// Logger receives badger's internal logs. Nil disables them.
	Logger *zap.Logger
}

// DefaultConfig returns default configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		CacheSize:  256,
	}
}

// Store is a program library.
type Store struct {
	db    *badger.DB
	cache *lru.Cache

	// mu serialises name updates so orphaned images are collected exactly once.
	mu sync.Mutex

	closed atomic.Bool
}

// Open opens or creates a library.
func Open(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(newBadgerLogger(cfg.Logger))

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	size := cfg.CacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New(size)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache: %w", err)
	}

	return &Store{db: db, cache: cache}, nil
}

func imageKey(digest types.Hash) []byte {
	key := make([]byte, 1+types.HashSize)
	key[0] = prefixImage[0]
	copy(key[1:], digest[:])
	return key
}

func nameKey(name string) []byte {
	return append([]byte{prefixName[0]}, name...)
}

// Put stores text under name, replacing whatever the name pointed at, and
// returns the program digest.
func (s *Store) Put(name string, text []vm.Instruction) (types.Hash, error) {
	if s.closed.Load() {
		return types.Hash{}, ErrClosed
	}
	if name == "" {
		return types.Hash{}, ErrInvalidName
	}

	digest := loader.Digest(text)
	image, err := loader.EncodeImage(text)
	if err != nil {
		return types.Hash{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var orphan *types.Hash
	err = s.db.Update(func(txn *badger.Txn) error {
		previous, found, err := lookupName(txn, name)
		if err != nil {
			return err
		}
		if err := txn.Set(imageKey(digest), image); err != nil {
			return err
		}
		if err := txn.Set(nameKey(name), digest[:]); err != nil {
			return err
		}
		if !found || previous == digest {
			return nil
		}
		shared, err := digestReferenced(txn, previous)
		if err != nil || shared {
			return err
		}
		orphan = &previous
		return txn.Delete(imageKey(previous))
	})
	if err != nil {
		return types.Hash{}, fmt.Errorf("put program %s: %w", name, err)
	}
	if orphan != nil {
		s.cache.Remove(*orphan)
	}
	return digest, nil
}

// Get returns the program with the given digest.
func (s *Store) Get(digest types.Hash) ([]vm.Instruction, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if v, ok := s.cache.Get(digest); ok {
		return slices.Clone(v.([]vm.Instruction)), nil
	}

	var text []vm.Instruction
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(imageKey(digest))
		if err == badger.ErrKeyNotFound {
			return ErrProgramNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := loader.DecodeImage(val)
			if err != nil {
				return err
			}
			text = decoded
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.cache.Add(digest, slices.Clone(text))
	return text, nil
}

// Resolve returns the digest a name points at.
func (s *Store) Resolve(name string) (types.Hash, error) {
	if s.closed.Load() {
		return types.Hash{}, ErrClosed
	}

	var digest types.Hash
	err := s.db.View(func(txn *badger.Txn) error {
		d, found, err := lookupName(txn, name)
		if err != nil {
			return err
		}
		if !found {
			return ErrProgramNotFound
		}
		digest = d
		return nil
	})
	return digest, err
}

// lookupName reads the digest stored under name within txn.
func lookupName(txn *badger.Txn, name string) (types.Hash, bool, error) {
	item, err := txn.Get(nameKey(name))
	if err == badger.ErrKeyNotFound {
		return types.Hash{}, false, nil
	}
	if err != nil {
		return types.Hash{}, false, err
	}
	var digest types.Hash
	err = item.Value(func(val []byte) error {
		d, err := types.HashFromBytes(val)
		if err != nil {
			return err
		}
		digest = d
		return nil
	})
	return digest, err == nil, err
}

// GetByName returns the program stored under name.
func (s *Store) GetByName(name string) (*loader.Program, error) {
	digest, err := s.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", name, err)
	}
	text, err := s.Get(digest)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	return &loader.Program{Name: name, Digest: digest, Text: text}, nil
}

// Has reports whether an image with the digest is stored.
func (s *Store) Has(digest types.Hash) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}
	var exists bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(imageKey(digest))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// Delete removes a name. The image is removed too once no name refers to it.
func (s *Store) Delete(name string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	digest, err := s.Resolve(name)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(nameKey(name)); err != nil {
			return err
		}
		shared, err := digestReferenced(txn, digest)
		if err != nil {
			return err
		}
		if shared {
			return nil
		}
		return txn.Delete(imageKey(digest))
	})
	if err != nil {
		return fmt.Errorf("delete program %s: %w", name, err)
	}
	s.cache.Remove(digest)
	return nil
}

// digestReferenced reports whether any name in txn points at digest.
func digestReferenced(txn *badger.Txn, digest types.Hash) (bool, error) {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixName, PrefetchValues: true})
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var match bool
		err := it.Item().Value(func(val []byte) error {
			match = string(val) == string(digest[:])
			return nil
		})
		if err != nil {
			return false, err
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// Names returns all program names in lexical order.
func (s *Store) Names() ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixName})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[1:]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of distinct program images.
func (s *Store) Count() (int, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefixImage})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close closes the library.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.cache.Purge()
	return s.db.Close()
}
