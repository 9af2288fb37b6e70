package storage

import (
	"fmt"
	"os"
	"strings"
)

const storeKindEnv = "MORAN_STORE"

// DefaultStoreKind returns the backend named by MORAN_STORE, or memory.
func DefaultStoreKind() string {
	if kind := strings.TrimSpace(os.Getenv(storeKindEnv)); kind != "" {
		return strings.ToLower(kind)
	}
	return "memory"
}

// DefaultPath returns the on-disk location used when none is given: a file
// for sqlite and a directory for leveldb.
func DefaultPath(kind string) string {
	switch kind {
	case "sqlite":
		return "moran.db"
	case "leveldb":
		return "moran.ldb"
	default:
		return ""
	}
}

func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(path), nil
	case "leveldb":
		return NewLevelDBStore(path), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
