// Package postgres stores the cases of every project in one shared
// PostgreSQL database.
package postgres

import (
	"log/slog"

	"github.com/rs/zerolog"

	"github.com/designsph/dsphcase/internal/config"
	"github.com/designsph/dsphcase/internal/database"
	"github.com/designsph/dsphcase/internal/store/gormstore"
)

// Backend is a GORM store bound to a Postgres connection it owns.
type Backend struct {
	*gormstore.Store
	manager *database.Manager
}

// New connects to cfg and migrates the schema.
func New(cfg config.DBConfig, logger *slog.Logger, dbLog zerolog.Logger) (*Backend, error) {
	m := database.NewManager(dbLog)
	if err := m.ConnectPostgres(cfg); err != nil {
		return nil, err
	}
	if err := m.Setup(); err != nil {
		m.Close()
		return nil, err
	}
	return &Backend{
		Store:   gormstore.New(m.DB, logger),
		manager: m,
	}, nil
}

// Close closes the connection pool.
func (b *Backend) Close() error {
	return b.manager.Close()
}
