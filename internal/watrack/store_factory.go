package watrack

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildStatusStoreFromDSN resolves a store from a DSN scheme. An empty DSN
// means persistence is disabled and returns (nil, nil); callers must treat a
// nil store as "do not save".
func BuildStatusStoreFromDSN(dsn string) (StatusStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "memory", "mem", "inmem":
		return NewInMemoryStatusStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStatusStore(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: status store %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported status store scheme: %s", scheme)
	}
}
