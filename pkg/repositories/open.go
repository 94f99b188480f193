package repositories

import (
	"context"
	"fmt"
	"net/url"
)

// Open connects to the store named by databaseURL:
// sqlite://<file>, postgresql://... (or postgres://...) or memory://.
func Open(ctx context.Context, databaseURL string) (Repository, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}

	switch u.Scheme {
	case "sqlite":
		path := u.Host + u.Path
		if path == "" {
			return nil, fmt.Errorf("sqlite database url needs a file path")
		}
		repository, err := NewSQLiteRepository(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite repository: %w", err)
		}
		return repository, nil
	case "postgresql", "postgres":
		repository, err := NewPostgresRepository(ctx, u.String())
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres repository: %w", err)
		}
		return repository, nil
	case "memory":
		return NewInMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown database type %q", u.Scheme)
	}
}
