// Package file stores a case as a single JSON blob inside the project directory.
package file

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/store"
)

// DataFileName is the case blob written into each project directory.
const DataFileName = "casedata.dsphdata"

// Config holds file store settings.
type Config struct {
	Compress bool
}

// Backend writes the case next to the host document.
type Backend struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a file backend.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{cfg: cfg, logger: logger}
}

// Save writes the case atomically to <project>/casedata.dsphdata.
func (b *Backend) Save(_ context.Context, c *model.Case) error {
	data, err := store.Encode(c)
	if err != nil {
		return err
	}
	if b.cfg.Compress {
		var buf bytes.Buffer
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			return fmt.Errorf("failed to write gzip: %w", err)
		}
		if err := gw.Close(); err != nil {
			return fmt.Errorf("failed to close gzip writer: %w", err)
		}
		data = buf.Bytes()
	}

	path := filepath.Join(c.ProjectPath, DataFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write case data: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace case data: %w", err)
	}
	b.logger.Debug("Case data saved", "path", path, "bytes", len(data), "compressed", b.cfg.Compress)
	return nil
}

// Load reads the case blob, compressed or not.
func (b *Backend) Load(_ context.Context, projectDir string) (*model.Case, error) {
	path := filepath.Join(projectDir, DataFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s missing", store.ErrCorruptProject, DataFileName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read case data: %w", err)
	}

	if isGzip(data) {
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrCorruptProject, err)
		}
		defer gr.Close()
		data, err = io.ReadAll(gr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", store.ErrCorruptProject, err)
		}
	}
	return store.Decode(data)
}

func (b *Backend) Close() error {
	return nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
