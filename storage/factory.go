package storage

import "fmt"

// Kinds lists the supported store backends.
var Kinds = []string{"memory", "bolt", "sqlite", "badger"}

// NewStore creates a store of the given kind. path is a file for bolt
// and sqlite and a directory for badger.
func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "bolt":
		return NewBoltStore(path), nil
	case "sqlite":
		return NewSQLiteStore(path), nil
	case "badger":
		return NewBadgerStore(path), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func errPathRequired(kind string) error {
	return fmt.Errorf("%s path is required", kind)
}
