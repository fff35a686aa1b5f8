package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittodrive/internal/logger"
	"github.com/marmos91/dittodrive/pkg/store/metadata"
)

// BadgerMetadataStore implements metadata.Store using BadgerDB for persistence.
//
// Every operation runs inside a single Badger transaction. Writes are
// additionally serialized by mu so the parent-chain walk in a move and the
// children check in a delete see the tree they modify, and so concurrent
// writers never surface badger.ErrConflict. Reads never take mu.
//
// See keys.go for the key schema.
type BadgerMetadataStore struct {
	db  *badger.DB
	seq *badger.Sequence

	// mu serializes writes
	mu sync.Mutex

	now func() time.Time
}

// BadgerMetadataStoreConfig contains configuration for creating a BadgerDB metadata store.
type BadgerMetadataStoreConfig struct {
	// DBPath is the directory where BadgerDB will store its files
	DBPath string `mapstructure:"db_path"`

	// BadgerOptions allows customization of BadgerDB behavior
	// If nil, sensible defaults are used
	BadgerOptions *badger.Options

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// NewBadgerMetadataStore opens (or creates) a BadgerDB store at config.DBPath.
//
// Example:
//
//	store, err := NewBadgerMetadataStore(ctx, BadgerMetadataStoreConfig{
//	    DBPath: "/var/lib/dittodrive/metadata",
//	})
func NewBadgerMetadataStore(ctx context.Context, config BadgerMetadataStoreConfig) (*BadgerMetadataStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if config.BadgerOptions != nil {
		opts = *config.BadgerOptions
	} else {
		opts = badger.DefaultOptions(config.DBPath)

		// Records are small JSON documents
		opts = opts.WithLoggingLevel(badger.WARNING)
		opts = opts.WithCompression(options.None)

		blockCacheMB := config.BlockCacheSizeMB
		if blockCacheMB == 0 {
			blockCacheMB = 64
		}
		indexCacheMB := config.IndexCacheSizeMB
		if indexCacheMB == 0 {
			indexCacheMB = 32
		}
		opts = opts.WithBlockCacheSize(blockCacheMB << 20)
		opts = opts.WithIndexCacheSize(indexCacheMB << 20)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	seq, err := db.GetSequence([]byte(keySequence), sequenceSize)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open ID sequence: %w", err)
	}

	logger.Debug("Badger metadata store opened at %s", config.DBPath)

	return &BadgerMetadataStore{
		db:  db,
		seq: seq,
		now: time.Now,
	}, nil
}

// Healthcheck performs a trivial read transaction.
func (s *BadgerMetadataStore) Healthcheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.db.IsClosed() {
		return metadata.NewIOError("healthcheck", errDBClosed)
	}
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(keySequence))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return metadata.NewIOError("healthcheck", err)
	}
	return nil
}

// Close releases the ID sequence and closes the database.
//
// Unused IDs leased by the sequence are returned, so restarts don't leave
// large gaps.
func (s *BadgerMetadataStore) Close() error {
	if err := s.seq.Release(); err != nil {
		logger.Warn("Failed to release badger ID sequence: %v", err)
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

// nextID returns the next file ID. Badger sequences start at 0; IDs start at 1.
func (s *BadgerMetadataStore) nextID() (int64, error) {
	n, err := s.seq.Next()
	if err != nil {
		return 0, err
	}
	return int64(n) + 1, nil
}

// storeErr keeps domain and context errors intact and wraps the rest as I/O failures.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *metadata.StoreError
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return metadata.NewIOError(op, err)
}

var errDBClosed = errors.New("badger database is closed")

var _ metadata.Store = (*BadgerMetadataStore)(nil)
