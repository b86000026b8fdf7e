// Package sqlitestore keeps each project's case and run history in a SQLite
// file inside the project directory. It wraps the GORM store; the only
// SQLite-specific concern is opening one database per project.
package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/designsph/dsphcase/internal/database"
	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/store"
	"github.com/designsph/dsphcase/internal/store/gormstore"
)

// DBFileName is the database created in each project directory.
const DBFileName = "casedata.db"

// Backend opens per-project databases on demand and caches them.
type Backend struct {
	logger *slog.Logger
	dbLog  zerolog.Logger

	mu       sync.Mutex
	managers map[string]*database.Manager
}

// New creates a SQLite backend.
func New(logger *slog.Logger, dbLog zerolog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		logger:   logger,
		dbLog:    dbLog,
		managers: make(map[string]*database.Manager),
	}
}

func (b *Backend) open(projectDir string, create bool) (*gormstore.Store, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	projectDir = filepath.Clean(projectDir)
	if m, ok := b.managers[projectDir]; ok {
		return gormstore.New(m.DB, b.logger, gormstore.SingleProject()), nil
	}

	path := filepath.Join(projectDir, DBFileName)
	if !create {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s missing", store.ErrCorruptProject, DBFileName)
		}
	}

	m := database.NewManager(b.dbLog)
	if err := m.ConnectSQLite(path); err != nil {
		return nil, err
	}
	if err := m.Setup(); err != nil {
		m.Close()
		return nil, err
	}
	b.managers[projectDir] = m
	return gormstore.New(m.DB, b.logger, gormstore.SingleProject()), nil
}

func (b *Backend) Save(ctx context.Context, c *model.Case) error {
	s, err := b.open(c.ProjectPath, true)
	if err != nil {
		return err
	}
	return s.Save(ctx, c)
}

func (b *Backend) Load(ctx context.Context, projectDir string) (*model.Case, error) {
	s, err := b.open(projectDir, false)
	if err != nil {
		return nil, err
	}
	return s.Load(ctx, projectDir)
}

func (b *Backend) RecordRun(ctx context.Context, rec model.RunRecord) error {
	s, err := b.open(rec.ProjectPath, true)
	if err != nil {
		return err
	}
	return s.RecordRun(ctx, rec)
}

func (b *Backend) Runs(ctx context.Context, projectPath string) ([]model.RunRecord, error) {
	s, err := b.open(projectPath, false)
	if err != nil {
		return nil, err
	}
	return s.Runs(ctx, projectPath)
}

// Close closes every database opened by the backend.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var errs []error
	for dir, m := range b.managers {
		if err := m.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", dir, err))
		}
		delete(b.managers, dir)
	}
	return errors.Join(errs...)
}
