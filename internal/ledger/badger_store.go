package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var historyPrefix = []byte("history/")

// BadgerConfig configures the embedded key-value ledger store.
type BadgerConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// BadgerStore keeps entries in Badger under time-ordered keys, so prefix
// iteration yields oldest first.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens the Badger database described by config.
func OpenBadgerStore(config BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if config.Path == "" {
			return nil, errors.New("path is required for persistent ledger store")
		}
		if err := os.MkdirAll(config.Path, 0750); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory %s: %w", config.Path, err)
		}
		opts = badger.DefaultOptions(config.Path)
	}
	opts = opts.WithSyncWrites(config.SyncWrites).WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger ledger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// signBit is flipped in the key so that pre-1970 timestamps sort first.
const signBit = uint64(1) << 63

// historyKey is prefix | big-endian unix nanos (sign bit flipped) | entry id.
func historyKey(entry Entry) []byte {
	key := make([]byte, 0, len(historyPrefix)+8+len(entry.ID))
	key = append(key, historyPrefix...)
	key = binary.BigEndian.AppendUint64(key, uint64(entry.Timestamp.UnixNano())^signBit)
	return append(key, entry.ID...)
}

func keyTime(key []byte) time.Time {
	nanos := binary.BigEndian.Uint64(key[len(historyPrefix):len(historyPrefix)+8]) ^ signBit
	return time.Unix(0, int64(nanos)).UTC()
}

func (s *BadgerStore) Append(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(historyKey(entry), value)
	})
}

func (s *BadgerStore) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: historyPrefix, PrefetchValues: true, PrefetchSize: 64})
		defer it.Close()

		for it.Seek(historyPrefix); it.ValidForPrefix(historyPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry Entry
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &entry)
			}); err != nil {
				return fmt.Errorf("failed to decode history entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// keys returns all history keys, oldest first.
func (s *BadgerStore) keys(ctx context.Context) ([][]byte, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: historyPrefix})
		defer it.Close()

		for it.Seek(historyPrefix); it.ValidForPrefix(historyPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

func (s *BadgerStore) deleteKeys(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (s *BadgerStore) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to scan history: %w", err)
	}

	var stale [][]byte
	for _, k := range keys {
		if !keyTime(k).Before(cutoff) {
			break
		}
		stale = append(stale, k)
	}
	if err := s.deleteKeys(stale); err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return len(stale), nil
}

func (s *BadgerStore) Trim(ctx context.Context, max int) (int, error) {
	keys, err := s.keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to scan history: %w", err)
	}

	excess := len(keys) - max
	if excess <= 0 {
		return 0, nil
	}
	if err := s.deleteKeys(keys[:excess]); err != nil {
		return 0, fmt.Errorf("failed to trim history: %w", err)
	}
	return excess, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
