package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/designsph/dsphcase/internal/config"
	"github.com/designsph/dsphcase/internal/dispatcher"
	"github.com/designsph/dsphcase/internal/hostdoc"
	"github.com/designsph/dsphcase/internal/logging"
	"github.com/designsph/dsphcase/internal/process"
	"github.com/designsph/dsphcase/internal/session"
	"github.com/designsph/dsphcase/internal/store"
	"github.com/designsph/dsphcase/internal/store/file"
	"github.com/designsph/dsphcase/internal/watch"
)

func quietLogger(t *testing.T) {
	t.Helper()
	prev := Logger
	Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Cleanup(func() { Logger = prev })
}

// startTestSession wires the globals the commands use to an in-memory host
// document, a fake launcher and a file store, and runs the event loop.
func startTestSession(t *testing.T) {
	t.Helper()
	quietLogger(t)

	d, err := dispatcher.New(logging.NewDispatcherLogger(Logger))
	require.NoError(t, err)

	documents = hostdoc.NewStatic(hostdoc.NewCaseDocument())
	sess = session.New(session.Config{
		Store:      store.WithNativeDocument(file.New(file.Config{}, Logger), ""),
		Documents:  documents,
		Launcher:   &process.Fake{},
		Watcher:    &watch.Fake{},
		Dispatcher: d,
		Logger:     Logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		sess = nil
		documents = nil
	})
}

func TestCreateStoreBackend(t *testing.T) {
	quietLogger(t)

	b, err := createStoreBackend(config.StoreConfig{Type: "file"})
	require.NoError(t, err)
	require.NotNil(t, b)
	_, isHistory := b.(store.RunHistory)
	assert.False(t, isHistory)

	b, err = createStoreBackend(config.StoreConfig{Type: "sqlite", NativeDocument: "case.json"})
	require.NoError(t, err)
	_, isHistory = b.(store.RunHistory)
	assert.True(t, isHistory, "sqlite keeps a run history")
	require.NoError(t, b.Close())

	_, err = createStoreBackend(config.StoreConfig{Type: "mongo"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store type")
}

func TestCreateStoreBackend_RejectsProjectWithoutDocument(t *testing.T) {
	quietLogger(t)

	b, err := createStoreBackend(config.StoreConfig{Type: "file"})
	require.NoError(t, err)

	_, err = b.Load(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, store.ErrCorruptProject)
}

func TestRunCommand_NewThenStatus(t *testing.T) {
	startTestSession(t)
	dir := filepath.Join(t.TempDir(), "dam")
	ctx := context.Background()

	require.Equal(t, 0, runCommand(ctx, []string{"new", dir}))
	assert.FileExists(t, filepath.Join(dir, store.DefaultNativeDocument))
	assert.FileExists(t, filepath.Join(dir, file.DataFileName))

	assert.Equal(t, 0, runCommand(ctx, []string{"status", dir}))
	assert.Equal(t, "dam", sess.Snapshot().Project)
}

func TestRunCommand_FillBox(t *testing.T) {
	startTestSession(t)
	dir := filepath.Join(t.TempDir(), "tank")
	ctx := context.Background()

	require.Equal(t, 0, runCommand(ctx, []string{"new", dir}))
	require.Equal(t, 0, runCommand(ctx, []string{"fillbox", dir}))

	require.NoError(t, documents.Open(filepath.Join(dir, store.DefaultNativeDocument)))
	doc, err := documents.Active()
	require.NoError(t, err)
	_, ok := doc.Object("FillBox")
	assert.True(t, ok, "fill box saved with the host document")
	limit, ok := doc.Object("FillLimit")
	require.True(t, ok)
	assert.Equal(t, []string{"FillBox"}, limit.Parents)
}

func TestRunCommand_Errors(t *testing.T) {
	startTestSession(t)
	ctx := context.Background()

	assert.Equal(t, 2, runCommand(ctx, []string{"frobnicate"}))
	assert.Equal(t, 2, runCommand(ctx, []string{"import", "only-one"}))
	assert.Equal(t, 1, runCommand(ctx, []string{"status", t.TempDir()}), "no native document")
	assert.Equal(t, 1, runCommand(ctx, []string{"mk", t.TempDir(), "Tank", "abc"}))
}

func TestInitLogging_CreatesLogFile(t *testing.T) {
	t.Cleanup(viper.Reset)
	logsDir := filepath.Join(t.TempDir(), "logs")
	cfgDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, config.FileName),
		[]byte(`{"logsDir": "`+filepath.ToSlash(logsDir)+`"}`), 0644))

	prevDir := ConfigDir
	ConfigDir = cfgDir
	prevLogger := Logger
	t.Cleanup(func() {
		ConfigDir = prevDir
		Logger = prevLogger
		if LogFile != nil {
			LogFile.Close()
			LogFile = nil
		}
	})

	initLogging(newFlags())
	require.NotNil(t, LogFile)
	assert.FileExists(t, LogFilePath)
	assert.Equal(t, logsDir, filepath.Dir(LogFilePath))
}
