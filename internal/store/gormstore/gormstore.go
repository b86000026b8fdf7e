// Package gormstore keeps cases and run history in a relational database
// through GORM. The sqlite and postgres stores wrap it.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/store"
)

// Store persists cases as JSON rows keyed by project path.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	single bool
}

// Option configures a Store.
type Option func(*Store)

// SingleProject is for a database that lives inside the project directory.
// It holds exactly one case and lookups ignore the stored path, so a project
// that was moved or renamed still loads with its run history.
func SingleProject() Option {
	return func(s *Store) { s.single = true }
}

// New wraps an open, migrated connection.
func New(db *gorm.DB, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Save(ctx context.Context, c *model.Case) error {
	if s.db == nil {
		return fmt.Errorf("db not connected")
	}
	data, err := store.Encode(c)
	if err != nil {
		return err
	}
	rec := model.CaseRecord{
		ProjectPath: c.ProjectPath,
		ProjectName: c.ProjectName,
		Data:        datatypes.JSON(data),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.single {
			// rows left under the project's previous location
			if err := tx.Unscoped().Where("project_path <> ?", c.ProjectPath).
				Delete(&model.CaseRecord{}).Error; err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_path"}},
			DoUpdates: clause.AssignmentColumns([]string{"project_name", "data", "updated_at"}),
		}).Create(&rec).Error
	})
	if err != nil {
		return fmt.Errorf("failed to save case: %w", err)
	}
	s.logger.Debug("Case row saved", "project", c.ProjectPath)
	return nil
}

func (s *Store) Load(ctx context.Context, projectDir string) (*model.Case, error) {
	if s.db == nil {
		return nil, fmt.Errorf("db not connected")
	}
	var rec model.CaseRecord
	q := s.db.WithContext(ctx)
	if s.single {
		q = q.Order("updated_at desc")
	} else {
		q = q.Where("project_path = ?", projectDir)
	}
	err := q.First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: no case stored for %s", store.ErrCorruptProject, projectDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load case: %w", err)
	}
	return store.Decode(rec.Data)
}

// RecordRun inserts a finished run.
func (s *Store) RecordRun(ctx context.Context, rec model.RunRecord) error {
	if s.db == nil {
		return fmt.Errorf("db not connected")
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// Runs lists the run history of a project, oldest first.
func (s *Store) Runs(ctx context.Context, projectPath string) ([]model.RunRecord, error) {
	if s.db == nil {
		return nil, fmt.Errorf("db not connected")
	}
	var runs []model.RunRecord
	q := s.db.WithContext(ctx)
	if !s.single {
		q = q.Where("project_path = ?", projectPath)
	}
	err := q.Order("started_at asc").Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Close is a no-op; the owner of the connection closes it.
func (s *Store) Close() error {
	return nil
}
