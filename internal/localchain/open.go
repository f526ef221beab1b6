package localchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/3cpo-dev/yvault/internal/ledger"
)

// Open opens a SQLite-backed chain at path, creating the directory, and applies
// genesis if the database is new. The caller closes the returned store.
func Open(ctx context.Context, path string, genesis Genesis, opts ...Option) (*Chain, *ledger.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	store, err := ledger.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	c := New(store, opts...)
	if _, err := c.ApplyGenesis(ctx, genesis); err != nil {
		store.Close()
		return nil, nil, err
	}
	return c, store, nil
}
