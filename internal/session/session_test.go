package session

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/designsph/dsphcase/internal/dispatcher"
	"github.com/designsph/dsphcase/internal/hostdoc"
	"github.com/designsph/dsphcase/internal/logging"
	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/process"
	"github.com/designsph/dsphcase/internal/runner"
	"github.com/designsph/dsphcase/internal/store"
	"github.com/designsph/dsphcase/internal/store/file"
	sqlitestore "github.com/designsph/dsphcase/internal/store/sqlite"
	"github.com/designsph/dsphcase/internal/util"
	"github.com/designsph/dsphcase/internal/watch"
	"github.com/designsph/dsphcase/pkg/streaming"
)

type recordingSink struct {
	mu       sync.Mutex
	progress []streaming.Progress
	opened   []streaming.OpenProjectPayload
	closed   int
	orders   [][]string
}

func (r *recordingSink) Publish(_ context.Context, p streaming.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
	return nil
}

func (r *recordingSink) OpenProject(p streaming.OpenProjectPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, p)
	return nil
}

func (r *recordingSink) CloseProject() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *recordingSink) RegistryChanged(p streaming.RegistryPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, p.Order)
	return nil
}

func (r *recordingSink) last(kind string) (streaming.Progress, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.progress) - 1; i >= 0; i-- {
		if r.progress[i].Kind == kind {
			return r.progress[i], true
		}
	}
	return streaming.Progress{}, false
}

func (r *recordingSink) orderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fixture struct {
	s        *Session
	doc      *hostdoc.Memory
	docs     *hostdoc.Static
	launcher *process.Fake
	watcher  *watch.Fake
	sink     *recordingSink
	dir      string
}

var allTools = model.Executables{GenCase: "gencase", DualSPHysics: "dualsphysics", PartVTK: "partvtk"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, configure ...func(*Config)) *fixture {
	t.Helper()
	doc := hostdoc.NewCaseDocument()
	require.NoError(t, doc.AddObject(hostdoc.Object{Name: "Tank", TypeID: hostdoc.BoxTypeID, Size: [3]float64{800, 400, 300}}))
	require.NoError(t, doc.AddObject(hostdoc.Object{Name: "Water", TypeID: hostdoc.BoxTypeID, Size: [3]float64{200, 400, 150}}))

	f := &fixture{
		doc:      doc,
		docs:     hostdoc.NewStatic(doc),
		launcher: &process.Fake{},
		watcher:  &watch.Fake{},
		sink:     &recordingSink{},
		dir:      t.TempDir(),
	}
	cfg := Config{
		Store:     store.WithNativeDocument(file.New(file.Config{}, discardLogger()), ""),
		Documents: f.docs,
		Launcher:  f.launcher,
		Watcher:   f.watcher,
		Sinks:     []ProgressSink{f.sink},
		Logger:    discardLogger(),
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	f.s = New(cfg)
	t.Cleanup(func() { f.s.Close() })
	return f
}

func withTools(cfg *Config) {
	cfg.Executables = allTools
}

func withSQLite(cfg *Config) {
	cfg.Store = store.WithNativeDocument(sqlitestore.New(discardLogger(), zerolog.Nop()), "")
}

func (f *fixture) project(name string) string {
	return filepath.Join(f.dir, name)
}

func TestSaveRejectsWhitespacePath(t *testing.T) {
	f := newFixture(t)
	path := f.project("dam break")

	_, err := f.s.Save(context.Background(), path)

	assert.ErrorIs(t, err, util.ErrPathHasSpace)
	assert.NoDirExists(t, path)
	assert.Empty(t, f.s.Case().ProjectPath)
}

func TestSaveWritesProject(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.AddObjects([]string{"Tank"})
	require.NoError(t, err)
	path := f.project("dam")

	res, err := f.s.Save(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "dam", f.s.Case().ProjectName)
	assert.DirExists(t, filepath.Join(path, "dam_Out"))
	assert.FileExists(t, filepath.Join(path, file.DataFileName))
	assert.FileExists(t, filepath.Join(path, store.DefaultNativeDocument))
	assert.FileExists(t, filepath.Join(path, "dam_Def.xml"))
	assert.NoFileExists(t, filepath.Join(path, "run.sh"))
	assert.Contains(t, res.Warnings[0], "launcher scripts")
	assert.Nil(t, res.GenCase)
	assert.Empty(t, f.launcher.Started)

	require.Len(t, f.sink.opened, 1)
	assert.Equal(t, path, f.sink.opened[0].ProjectPath)
}

func TestSaveRunsGenCase(t *testing.T) {
	f := newFixture(t, withTools, withSQLite)
	f.launcher.RunResult = process.Result{Output: "Total particles: 1234 (bound=200 ...)\n"}
	path := f.project("dam")

	res, err := f.s.Save(context.Background(), path)
	require.NoError(t, err)

	require.NotNil(t, res.GenCase)
	assert.Equal(t, 1234, res.GenCase.TotalParticles)
	assert.True(t, f.s.Case().GenCaseDone)
	assert.FileExists(t, filepath.Join(path, "run.sh"))
	assert.FileExists(t, filepath.Join(path, "run.bat"))
	require.Len(t, f.launcher.Started, 1)
	assert.Equal(t, "gencase", f.launcher.Started[0].Path)

	runs, err := f.s.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunKindGenCase, runs[0].Kind)
	assert.Equal(t, "complete", runs[0].State)
}

func TestSaveGenCaseFailureStillPersists(t *testing.T) {
	f := newFixture(t, withTools)
	f.launcher.RunResult = process.Result{ExitCode: 1, Output: "header\n================================\nno objects\n"}
	path := f.project("dam")

	res, err := f.s.Save(context.Background(), path)
	require.NoError(t, err)

	var pe *runner.ProcessError
	require.ErrorAs(t, res.GenCaseErr, &pe)
	assert.Equal(t, "no objects", pe.Detail)
	assert.False(t, f.s.Case().GenCaseDone)
	assert.FileExists(t, filepath.Join(path, file.DataFileName))
}

func TestSaveWithoutDocument(t *testing.T) {
	f := newFixture(t)
	f.docs.Set(nil)

	_, err := f.s.Save(context.Background(), f.project("dam"))
	assert.ErrorIs(t, err, hostdoc.ErrNoDocument)
}

func TestLoadRejectsMissingNativeDocument(t *testing.T) {
	f := newFixture(t)
	path := f.project("broken")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, file.DataFileName), []byte(`{"dp":0.5}`), 0o644))

	err := f.s.Load(context.Background(), path)

	assert.ErrorIs(t, err, store.ErrCorruptProject)
	assert.Empty(t, f.s.Case().ProjectPath)
	assert.Equal(t, 0.01, f.s.Case().DP)
}

func TestLoadRoundTrip(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.AddObjects([]string{"Tank", "Water"})
	require.NoError(t, err)
	require.NoError(t, f.s.Registry().SetKind("Water", model.KindFluid))
	path := f.project("dam")
	_, err = f.s.Save(context.Background(), path)
	require.NoError(t, err)

	docs := hostdoc.NewStatic(nil)
	loaded := New(Config{
		Store:     store.WithNativeDocument(file.New(file.Config{}, discardLogger()), ""),
		Documents: docs,
		Launcher:  &process.Fake{},
		Watcher:   &watch.Fake{},
		Logger:    discardLogger(),
	})
	require.NoError(t, loaded.Load(context.Background(), path))

	c := loaded.Case()
	assert.Equal(t, path, c.ProjectPath)
	assert.Equal(t, []string{"Tank", "Water"}, c.ExportOrder)
	assert.Equal(t, model.KindFluid, c.SimObjects["Water"].Kind)
	doc, err := docs.Active()
	require.NoError(t, err)
	_, ok := doc.Object("Tank")
	assert.True(t, ok)
}

func TestLoadNormalizesProjectPath(t *testing.T) {
	f := newFixture(t, withTools, withSQLite)
	f.launcher.RunResult = process.Result{Output: "Total particles: 1234 (bound=200 ...)"}
	path := f.project("tank")
	_, err := f.s.Save(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, f.s.Load(context.Background(), path+string(filepath.Separator)))
	assert.Equal(t, path, f.s.Case().ProjectPath)

	moved := f.project("tank2")
	require.NoError(t, f.s.Close())
	require.NoError(t, os.Rename(path, moved))

	reopened := New(Config{
		Store:     store.WithNativeDocument(sqlitestore.New(discardLogger(), zerolog.Nop()), ""),
		Documents: hostdoc.NewStatic(nil),
		Launcher:  &process.Fake{},
		Watcher:   &watch.Fake{},
		Logger:    discardLogger(),
	})
	t.Cleanup(func() { reopened.Close() })
	require.NoError(t, reopened.Load(context.Background(), moved))
	assert.Equal(t, moved, reopened.Case().ProjectPath)
	assert.Equal(t, "tank2", reopened.Case().ProjectName)

	runs, err := reopened.Runs(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 1, "run history follows the project directory")
}

func TestImportXML(t *testing.T) {
	f := newFixture(t)

	res, err := f.s.ImportXML(filepath.Join("..", "xmlcase", "testdata", "dambreak_Def.xml"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)

	c := f.s.Case()
	assert.Equal(t, 0.0085, c.DP)
	assert.Equal(t, model.SimObject{MK: 0, Kind: model.KindBound, Fill: model.FillFull}, c.SimObjects["Box2"])
	assert.Equal(t, model.KindFluid, c.SimObjects["Box6"].Kind)
	assert.Equal(t, 0, c.SimObjects["Box6"].MK)
	assert.Contains(t, c.FloatingBodies, "5")
	assert.Contains(t, c.InitialVelocities, "0")

	box, ok := f.doc.Object("Box6")
	require.True(t, ok)
	assert.Equal(t, 30.0, box.Placement.Angle)
}

func TestAddFillBox(t *testing.T) {
	f := newFixture(t)

	first, err := f.s.AddFillBox()
	require.NoError(t, err)
	second, err := f.s.AddFillBox()
	require.NoError(t, err)

	assert.Equal(t, "FillBox", first)
	assert.Equal(t, "FillBox001", second)
	group, ok := f.doc.Object(second)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"FillLimit001", "FillPoint001"}, group.Children)

	res, err := f.s.AddObjects([]string{first, "FillLimit"})
	require.NoError(t, err)
	assert.Equal(t, []string{first}, res.Added)
	assert.Equal(t, []string{"FillLimit"}, res.Skipped)
	assert.Equal(t, model.KindFluid, f.s.Case().SimObjects[first].Kind)
}

func TestAddAndRemoveSelected(t *testing.T) {
	f := newFixture(t)
	f.doc.Select("Tank", model.CaseLimitsName)

	res, err := f.s.AddSelected()
	require.NoError(t, err)
	assert.Equal(t, []string{"Tank"}, res.Added)

	removed, err := f.s.RemoveSelected()
	require.NoError(t, err)
	assert.Equal(t, []string{"Tank"}, removed)
	assert.Contains(t, f.s.Case().SimObjects, model.CaseLimitsName)
}

func TestReconcileAfterHostDelete(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.AddObjects([]string{"Tank", "Water"})
	require.NoError(t, err)

	f.doc.Remove("Water")
	changed, err := f.s.Reconcile()
	require.NoError(t, err)

	assert.True(t, changed)
	assert.Equal(t, []string{"Tank"}, f.s.Case().ExportOrder)
	assert.NotContains(t, f.s.Case().SimObjects, "Water")
}

func TestGuardTickResetsFillBoxRotation(t *testing.T) {
	f := newFixture(t)
	group, err := f.s.AddFillBox()
	require.NoError(t, err)
	require.NoError(t, f.doc.SetRotation("FillLimit", 30))
	require.NoError(t, f.doc.SetRotation("Tank", 45))

	now := time.Now()
	assert.Equal(t, 1, f.s.GuardTick(now))
	assert.Equal(t, 0, f.s.GuardTick(now.Add(500*time.Millisecond)))

	limit, _ := f.doc.Object("FillLimit")
	assert.Zero(t, limit.Placement.Angle)
	tank, _ := f.doc.Object("Tank")
	assert.Equal(t, 45.0, tank.Placement.Angle, "objects outside %s keep their rotation", group)
}

func TestGuardTickBacksOffWithoutDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.s.AddFillBox()
	require.NoError(t, err)
	require.NoError(t, f.doc.SetRotation("FillPoint", 10))

	now := time.Now()
	f.docs.Set(nil)
	assert.Equal(t, 0, f.s.GuardTick(now))

	f.docs.Set(f.doc)
	assert.Equal(t, 0, f.s.GuardTick(now.Add(time.Second)))
	assert.Equal(t, 1, f.s.GuardTick(now.Add(2*time.Second)))
}

func TestRunSimulationRequiresSave(t *testing.T) {
	f := newFixture(t, withTools)
	assert.ErrorIs(t, f.s.RunSimulation(context.Background()), runner.ErrNotConfigured)
}

func TestRunSimulationPublishesAndRecords(t *testing.T) {
	f := newFixture(t, withTools, withSQLite)
	f.launcher.RunResult = process.Result{Output: "Total particles: 1234 (bound=200 ...)"}
	_, err := f.s.Save(context.Background(), f.project("dam"))
	require.NoError(t, err)

	require.NoError(t, f.s.RunSimulation(context.Background()))
	p, ok := f.sink.last(streaming.KindSimulation)
	require.True(t, ok)
	assert.Equal(t, "running", p.State)
	assert.False(t, p.Known)

	assert.ErrorIs(t, f.s.Export(context.Background()), runner.ErrAlreadyRunning)

	f.launcher.Last().Exit(0)

	p, _ = f.sink.last(streaming.KindSimulation)
	assert.Equal(t, "complete", p.State)
	assert.True(t, p.Known)
	assert.Equal(t, 100.0, p.Percent)
	assert.True(t, f.s.Case().SimulationDone)

	runs, err := f.s.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.RunKindSimulation, runs[1].Kind)
	assert.Equal(t, "complete", runs[1].State)
}

func TestExportWithoutPartsIsUnknown(t *testing.T) {
	f := newFixture(t, withTools)
	f.launcher.RunResult = process.Result{Output: "Total particles: 1234 (bound=200 ...)"}
	_, err := f.s.Save(context.Background(), f.project("dam"))
	require.NoError(t, err)

	require.NoError(t, f.s.Export(context.Background()))
	f.launcher.Last().Emit("PartAll_0001.vtk\n")
	f.launcher.Last().Exit(0)

	p, ok := f.sink.last(streaming.KindExport)
	require.True(t, ok)
	assert.False(t, p.Known)
	assert.Equal(t, "unknown", p.Detail)
	assert.Equal(t, "finished", p.State)
	assert.False(t, f.s.Exporter().Busy())

	_, err = f.s.Runs(context.Background())
	assert.ErrorIs(t, err, ErrNoHistory)
}

func TestNewCaseResets(t *testing.T) {
	f := newFixture(t, withTools)
	_, err := f.s.AddObjects([]string{"Tank"})
	require.NoError(t, err)

	f.s.NewCase()

	c := f.s.Case()
	assert.Equal(t, []string{model.CaseLimitsName}, c.RegisteredNames())
	assert.Equal(t, allTools, c.Executables)
}

func TestEventLoop(t *testing.T) {
	logger := discardLogger()
	d, err := dispatcher.New(logging.NewDispatcherLogger(logger))
	require.NoError(t, err)
	f := newFixture(t, func(cfg *Config) { cfg.Dispatcher = d })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, f.s.Do(ctx, func() error {
		_, err := f.s.AddFillBox()
		return err
	}))
	require.NoError(t, f.doc.SetRotation("FillLimit", 90))

	d.Post(CmdGuardTick, nil)
	require.NoError(t, f.s.Do(ctx, func() error {
		_, err := f.s.AddObjects([]string{"Tank"})
		return err
	}))

	limit, _ := f.doc.Object("FillLimit")
	assert.Zero(t, limit.Placement.Angle)
	assert.Equal(t, 1, f.s.Snapshot().RegisteredObjects)
	assert.Eventually(t, func() bool { return f.sink.orderCount() > 0 }, time.Second, 5*time.Millisecond)

	f.doc.Remove("Tank")
	d.Post(CmdSelection, nil)
	require.NoError(t, f.s.Do(ctx, func() error { return nil }))
	assert.Equal(t, 0, f.s.Snapshot().RegisteredObjects)
}
