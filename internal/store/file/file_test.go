package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/store"
)

func newCase(t *testing.T) *model.Case {
	t.Helper()
	c := model.NewCase()
	c.ProjectPath = t.TempDir()
	c.ProjectName = filepath.Base(c.ProjectPath)
	c.SimObjects["Box"] = model.SimObject{MK: 1, Kind: model.KindBound, Fill: model.FillFull}
	c.ExportOrder = []string{"Box"}
	c.GenCaseDone = true
	c.TotalParticles = 1234
	return c
}

func TestSaveLoad(t *testing.T) {
	tests := []struct {
		name     string
		compress bool
	}{
		{"plain", false},
		{"gzip", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCase(t)
			b := New(Config{Compress: tt.compress}, nil)

			require.NoError(t, b.Save(context.Background(), c))

			raw, err := os.ReadFile(filepath.Join(c.ProjectPath, DataFileName))
			require.NoError(t, err)
			assert.Equal(t, tt.compress, isGzip(raw))

			loaded, err := b.Load(context.Background(), c.ProjectPath)
			require.NoError(t, err)
			assert.Equal(t, c, loaded)
		})
	}
}

func TestLoadCompressedWithPlainConfig(t *testing.T) {
	c := newCase(t)
	require.NoError(t, New(Config{Compress: true}, nil).Save(context.Background(), c))

	loaded, err := New(Config{}, nil).Load(context.Background(), c.ProjectPath)
	require.NoError(t, err)
	assert.Equal(t, 1234, loaded.TotalParticles)
}

func TestLoadMissingData(t *testing.T) {
	_, err := New(Config{}, nil).Load(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, store.ErrCorruptProject)
}

func TestLoadGuardedByNativeDocument(t *testing.T) {
	c := newCase(t)
	b := store.WithNativeDocument(New(Config{}, nil), store.DefaultNativeDocument)
	require.NoError(t, b.Save(context.Background(), c))

	_, err := b.Load(context.Background(), c.ProjectPath)
	assert.ErrorIs(t, err, store.ErrCorruptProject)

	require.NoError(t, os.WriteFile(filepath.Join(c.ProjectPath, store.DefaultNativeDocument), []byte("{}"), 0o644))
	_, err = b.Load(context.Background(), c.ProjectPath)
	assert.NoError(t, err)
}
