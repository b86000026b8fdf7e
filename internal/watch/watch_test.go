package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSWatchNotifiesAndReleasesOnce(t *testing.T) {
	dir := t.TempDir()
	changes := make(chan string, 16)

	w, err := NewFS(nil).Watch(dir, func(name string) {
		select {
		case changes <- name:
		default:
		}
	})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "Run.out"), []byte("TimeMax=1\n"), 0o644))

	select {
	case name := <-changes:
		assert.Equal(t, "Run.out", filepath.Base(name))
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}

	require.NoError(t, w.Release())
	assert.NoError(t, w.Release())
}

func TestFSWatchMissingDir(t *testing.T) {
	_, err := NewFS(nil).Watch(filepath.Join(t.TempDir(), "missing"), func(string) {})
	assert.Error(t, err)
}

func TestFakeWatch(t *testing.T) {
	f := &Fake{}
	var got []string
	w, err := f.Watch("/out", func(name string) { got = append(got, name) })
	require.NoError(t, err)

	f.Last().Trigger("a")
	require.NoError(t, w.Release())
	require.NoError(t, w.Release())
	f.Last().Trigger("b")

	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 1, f.Last().Released())
	assert.Equal(t, 2, f.Last().ReleaseCalls())
}
