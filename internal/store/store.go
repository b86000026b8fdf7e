// Package store persists cases. A project directory holds the host-native
// document next to the case data; a project without the native document is
// corrupt and is never loaded.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/designsph/dsphcase/internal/model"
)

// DefaultNativeDocument is the host document saved with every project.
const DefaultNativeDocument = "DSPH_Case.FCStd"

// ErrCorruptProject is returned when a project directory is incomplete.
var ErrCorruptProject = errors.New("corrupt project")

// Backend is the interface all store implementations must satisfy
type Backend interface {
	Save(ctx context.Context, c *model.Case) error
	Load(ctx context.Context, projectDir string) (*model.Case, error)
	Close() error
}

// RunHistory is an optional interface for backends that keep a run log.
type RunHistory interface {
	RecordRun(ctx context.Context, rec model.RunRecord) error
	Runs(ctx context.Context, projectPath string) ([]model.RunRecord, error)
}

// CheckNativeDocument verifies the host document exists in projectDir.
func CheckNativeDocument(projectDir, name string) error {
	info, err := os.Stat(filepath.Join(projectDir, name))
	if err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s missing in %s", ErrCorruptProject, name, projectDir)
	}
	return nil
}

// Encode serialises a case as one JSON blob.
func Encode(c *model.Case) ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode case: %w", err)
	}
	return data, nil
}

// Decode parses a blob written by Encode.
func Decode(data []byte) (*model.Case, error) {
	c := &model.Case{TimeMax: model.TimeMaxUnknown}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("%w: decode case: %v", ErrCorruptProject, err)
	}
	c.Normalize()
	return c, nil
}

type guarded struct {
	Backend
	nativeDocument string
}

// WithNativeDocument makes Load refuse project directories lacking the
// named host document.
func WithNativeDocument(b Backend, name string) Backend {
	if name == "" {
		name = DefaultNativeDocument
	}
	g := &guarded{Backend: b, nativeDocument: name}
	if h, ok := b.(RunHistory); ok {
		return &guardedHistory{guarded: g, history: h}
	}
	return g
}

func (g *guarded) Load(ctx context.Context, projectDir string) (*model.Case, error) {
	if err := CheckNativeDocument(projectDir, g.nativeDocument); err != nil {
		return nil, err
	}
	return g.Backend.Load(ctx, projectDir)
}

type guardedHistory struct {
	*guarded
	history RunHistory
}

func (g *guardedHistory) RecordRun(ctx context.Context, rec model.RunRecord) error {
	return g.history.RecordRun(ctx, rec)
}

func (g *guardedHistory) Runs(ctx context.Context, projectPath string) ([]model.RunRecord, error) {
	return g.history.Runs(ctx, projectPath)
}
