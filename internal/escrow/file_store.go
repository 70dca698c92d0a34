package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// FileStore keeps the whole collection in memory and writes it as one atomic
// JSON blob after each mutation. Mutations are optimistic: a failed blob
// write leaves the in-memory state applied and the store dirty, so a caller
// can detect the condition and retry via Flush instead of losing data.
//
// Single-blob writes are O(n) per mutation. Acceptable at device-local
// scale; PostgresStore is the per-record alternative.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	txs   map[string]*Transaction
	dirty bool
}

// NewFileStore loads the collection from path, creating the file with the
// seed fixture set on first run.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	fs := &FileStore{
		path:   path,
		logger: logger,
		txs:    make(map[string]*Transaction),
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		for _, t := range SeedTransactions() {
			fs.txs[t.Code] = t
		}
		fs.mu.Lock()
		writeErr := fs.persistLocked()
		fs.mu.Unlock()
		if writeErr != nil {
			return nil, fmt.Errorf("write seed data: %w", writeErr)
		}
	case err != nil:
		return nil, fmt.Errorf("read escrow data: %w", err)
	default:
		var txs []*Transaction
		if err := json.Unmarshal(data, &txs); err != nil {
			return nil, fmt.Errorf("decode escrow data: %w", err)
		}
		for _, t := range txs {
			fs.txs[t.Code] = t
		}
	}

	return fs, nil
}

func (f *FileStore) Create(ctx context.Context, t *Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.txs[t.Code] = t.Clone()
	f.persistOptimistic()
	return nil
}

func (f *FileStore) Get(ctx context.Context, code string) (*Transaction, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	t, ok := f.txs[code]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (f *FileStore) Update(ctx context.Context, t *Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.txs[t.Code]; !ok {
		return ErrNotFound
	}
	f.txs[t.Code] = t.Clone()
	f.persistOptimistic()
	return nil
}

func (f *FileStore) List(ctx context.Context) ([]*Transaction, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	result := make([]*Transaction, 0, len(f.txs))
	for _, t := range f.txs {
		result = append(result, t.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Dirty reports whether an in-memory mutation has not reached the file.
func (f *FileStore) Dirty() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dirty
}

// Flush retries the blob write for a dirty store.
func (f *FileStore) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.dirty {
		return nil
	}
	if err := f.persistLocked(); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	f.dirty = false
	return nil
}

// persistOptimistic writes the blob, retrying once; on repeated failure the
// in-memory mutation stands and the store is marked dirty.
func (f *FileStore) persistOptimistic() {
	if err := f.persistLocked(); err != nil {
		if retryErr := f.persistLocked(); retryErr != nil {
			f.dirty = true
			f.logger.Error("escrow blob write failed, store is dirty",
				"path", f.path, "error", retryErr)
			return
		}
	}
	f.dirty = false
}

// persistLocked writes every transaction, newest first, to a temp file and
// renames it over the target so readers never observe a partial blob.
func (f *FileStore) persistLocked() error {
	txs := make([]*Transaction, 0, len(f.txs))
	for _, t := range f.txs {
		txs = append(txs, t)
	}
	sort.Slice(txs, func(i, j int) bool {
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})

	data, err := json.MarshalIndent(txs, "", "  ")
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
