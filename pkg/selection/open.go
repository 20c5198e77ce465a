package selection

import (
	"fmt"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options selects and configures a store backend.
type Options struct {
	Backend    string
	Dir        string
	SQLitePath string
	Redis      RedisOptions
}

// Open builds the configured store. An empty backend means file.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case "", BackendFile:
		return NewFileStore(opts.Dir)
	case BackendSQLite:
		path := opts.SQLitePath
		if path == "" && opts.Dir != "" {
			path = filepath.Join(opts.Dir, "sessions.db")
		}
		return NewSQLiteStore(path)
	case BackendRedis:
		return NewRedisStore(opts.Redis)
	default:
		return nil, fmt.Errorf("unknown session backend %q", opts.Backend)
	}
}
