package gormstore

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/designsph/dsphcase/internal/database"
	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/store"
)

// Compile-time interface checks
var (
	_ store.Backend    = (*Store)(nil)
	_ store.RunHistory = (*Store)(nil)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	m := database.NewManager(zerolog.Nop())
	require.NoError(t, m.ConnectSQLite(t.TempDir()+"/test.db"))
	require.NoError(t, m.Setup())
	t.Cleanup(func() { m.Close() })
	return New(m.DB, nil)
}

func TestSaveLoadUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := model.NewCase()
	c.ProjectPath = "/projects/dam"
	c.ProjectName = "dam"
	require.NoError(t, s.Save(ctx, c))

	c.DP = 0.005
	c.SimObjects["Box"] = model.SimObject{MK: 2, Kind: model.KindBound, Fill: model.FillSolid}
	require.NoError(t, s.Save(ctx, c))

	loaded, err := s.Load(ctx, "/projects/dam")
	require.NoError(t, err)
	assert.Equal(t, 0.005, loaded.DP)
	assert.Equal(t, model.SimObject{MK: 2, Kind: model.KindBound, Fill: model.FillSolid}, loaded.SimObjects["Box"])

	var count int64
	require.NoError(t, s.db.Model(&model.CaseRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestLoadUnknownProject(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), "/nowhere")
	assert.ErrorIs(t, err, store.ErrCorruptProject)
}

func TestRunHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := model.NewRunRecord("/projects/dam", model.RunKindSimulation)
	first.StartedAt = time.Now().Add(-time.Minute)
	first.State = "complete"
	second := model.NewRunRecord("/projects/dam", model.RunKindExport)
	second.State = "finished"
	other := model.NewRunRecord("/projects/other", model.RunKindSimulation)

	require.NoError(t, s.RecordRun(ctx, second))
	require.NoError(t, s.RecordRun(ctx, first))
	require.NoError(t, s.RecordRun(ctx, other))

	runs, err := s.Runs(ctx, "/projects/dam")
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, first.RunID, runs[0].RunID)
	assert.Equal(t, model.RunKindExport, runs[1].Kind)
}

func TestSingleProjectIgnoresStoredPath(t *testing.T) {
	m := database.NewManager(zerolog.Nop())
	require.NoError(t, m.ConnectSQLite(t.TempDir()+"/casedata.db"))
	require.NoError(t, m.Setup())
	t.Cleanup(func() { m.Close() })
	s := New(m.DB, nil, SingleProject())
	ctx := context.Background()

	c := model.NewCase()
	c.ProjectPath = "/projects/tank"
	c.DP = 0.01
	require.NoError(t, s.Save(ctx, c))
	require.NoError(t, s.RecordRun(ctx, model.NewRunRecord(c.ProjectPath, model.RunKindGenCase)))

	loaded, err := s.Load(ctx, "/elsewhere/tank2")
	require.NoError(t, err)
	assert.Equal(t, 0.01, loaded.DP)

	c.ProjectPath = "/elsewhere/tank2"
	c.DP = 0.02
	require.NoError(t, s.Save(ctx, c))
	var count int64
	require.NoError(t, s.db.Unscoped().Model(&model.CaseRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "one case per project database")

	loaded, err = s.Load(ctx, "/elsewhere/tank2")
	require.NoError(t, err)
	assert.Equal(t, 0.02, loaded.DP)

	runs, err := s.Runs(ctx, "/elsewhere/tank2")
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestNoConnection(t *testing.T) {
	s := New(nil, nil)
	assert.Error(t, s.Save(context.Background(), model.NewCase()))
	_, err := s.Load(context.Background(), "/x")
	assert.Error(t, err)
	assert.Error(t, s.RecordRun(context.Background(), model.RunRecord{}))
}
