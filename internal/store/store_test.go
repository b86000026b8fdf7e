package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/designsph/dsphcase/internal/model"
)

type stubBackend struct {
	loads int
}

func (s *stubBackend) Save(context.Context, *model.Case) error { return nil }
func (s *stubBackend) Close() error                            { return nil }
func (s *stubBackend) Load(context.Context, string) (*model.Case, error) {
	s.loads++
	return model.NewCase(), nil
}

type stubHistory struct {
	stubBackend
	records []model.RunRecord
}

func (s *stubHistory) RecordRun(_ context.Context, rec model.RunRecord) error {
	s.records = append(s.records, rec)
	return nil
}

func (s *stubHistory) Runs(context.Context, string) ([]model.RunRecord, error) {
	return s.records, nil
}

func TestWithNativeDocumentRejectsMissingDocument(t *testing.T) {
	dir := t.TempDir()
	inner := &stubBackend{}
	b := WithNativeDocument(inner, "")

	_, err := b.Load(context.Background(), dir)

	assert.ErrorIs(t, err, ErrCorruptProject)
	assert.Zero(t, inner.loads)
}

func TestWithNativeDocumentLoads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.json"), []byte("{}"), 0o644))
	inner := &stubBackend{}
	b := WithNativeDocument(inner, "doc.json")

	c, err := b.Load(context.Background(), dir)

	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, 1, inner.loads)
}

func TestWithNativeDocumentKeepsHistory(t *testing.T) {
	inner := &stubHistory{}
	b := WithNativeDocument(inner, "")

	h, ok := b.(RunHistory)
	require.True(t, ok)
	require.NoError(t, h.RecordRun(context.Background(), model.RunRecord{Kind: model.RunKindExport}))
	runs, err := h.Runs(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, ok = WithNativeDocument(&stubBackend{}, "").(RunHistory)
	assert.False(t, ok)
}

func TestCheckNativeDocumentDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, DefaultNativeDocument), 0o755))
	assert.ErrorIs(t, CheckNativeDocument(dir, DefaultNativeDocument), ErrCorruptProject)
}

func TestEncodeDecode(t *testing.T) {
	c := model.NewCase()
	c.DP = 0.002
	c.SimObjects["Box"] = model.SimObject{MK: 3, Kind: model.KindBound, Fill: model.FillSolid}
	c.ExportOrder = []string{"Box"}
	c.FloatingBodies["3"] = model.FloatingBody{Center: model.AutoVec{Auto: true}}

	data, err := Encode(c)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, c, decoded)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.ErrorIs(t, err, ErrCorruptProject)
}

func TestDecodeRestoresCaseLimits(t *testing.T) {
	c, err := Decode([]byte(`{"dp":0.1,"simObjects":{"Box":{"mk":0,"kind":"bound","fill":"full"}}}`))
	require.NoError(t, err)
	assert.Contains(t, c.SimObjects, model.CaseLimitsName)
	assert.Equal(t, model.TimeMaxUnknown, c.TimeMax)
}
