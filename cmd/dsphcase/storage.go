package main

import (
	"fmt"

	"github.com/designsph/dsphcase/internal/config"
	"github.com/designsph/dsphcase/internal/store"
	"github.com/designsph/dsphcase/internal/store/file"
	"github.com/designsph/dsphcase/internal/store/postgres"
	sqlitestore "github.com/designsph/dsphcase/internal/store/sqlite"
)

// createStoreBackend builds the configured store. Every backend refuses to
// load a project directory that lacks the native host document.
func createStoreBackend(storeCfg config.StoreConfig) (store.Backend, error) {
	var backend store.Backend
	switch storeCfg.Type {
	case "postgres":
		pg, err := postgres.New(config.GetDBConfig(), Logger, dbLogger("postgres"))
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres backend: %w", err)
		}
		Logger.Info("Postgres store backend initialized")
		backend = pg

	case "sqlite":
		backend = sqlitestore.New(Logger, dbLogger("sqlite"))
		Logger.Info("SQLite store backend initialized")

	case "file", "":
		backend = file.New(file.Config{Compress: storeCfg.Compress}, Logger)
		Logger.Info("File store backend initialized", "compress", storeCfg.Compress)

	default:
		return nil, fmt.Errorf("unknown store type %q", storeCfg.Type)
	}
	return store.WithNativeDocument(backend, storeCfg.NativeDocument), nil
}
