package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/polisai/taskgate/pkg/config"
	"github.com/polisai/taskgate/pkg/tokens"
	"github.com/polisai/taskgate/pkg/upstream"
)

// session bundles the token store and the backend client every subcommand shares.
type session struct {
	store  *tokens.Store
	client *http.Client
	// file is set when tokens live in a local file that may be watched.
	file  *tokens.FilePersistence
	close func() error
}

// openSession builds the configured token persistence, the outbound client and a
// Store that refreshes against the backend.
func openSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := upstream.NewHTTPClient(cfg.Backend.Client)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend client: %w", err)
	}

	s := &session{client: client, close: func() error { return nil }}

	var persistence tokens.Persistence
	switch cfg.Tokens.Store {
	case config.StoreFile:
		fp, err := tokens.NewFilePersistence(cfg.Tokens.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open token file: %w", err)
		}
		s.file = fp
		persistence = fp
		logger.Debug("using file token store", "path", fp.Path())
	case config.StoreRedis:
		rdb, err := tokens.NewRedisClient(ctx, cfg.Tokens.Redis, logger)
		if err != nil {
			return nil, err
		}
		s.close = rdb.Close
		persistence = tokens.NewRedisPersistence(rdb, cfg.Tokens.Redis.Key)
	default:
		persistence = tokens.NewMemoryPersistence()
		logger.Debug("using in-memory token store")
	}

	refreshClient := *client
	refreshClient.Timeout = cfg.Backend.Timeout
	s.store = tokens.NewStore(tokens.StoreConfig{
		Persistence: persistence,
		Refresher:   tokens.NewHTTPRefresher(cfg.Backend.BaseURL, cfg.Backend.RefreshPath, &refreshClient, logger),
		Logger:      logger,
	})
	return s, nil
}
