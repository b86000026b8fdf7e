package logging

import (
	"fmt"

	"github.com/Graylog2/go-gelf/gelf"

	"github.com/designsph/dsphcase/internal/config"
)

// NewGELFWriter opens the Graylog sink, or returns nil when it is disabled.
func NewGELFWriter(cfg config.GraylogConfig) (*gelf.Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	w, err := gelf.NewWriter(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to create GELF writer for %s: %w", cfg.Address, err)
	}
	w.Facility = cfg.Facility
	return w, nil
}
