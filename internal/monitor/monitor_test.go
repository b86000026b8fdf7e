package monitor

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readStatus(t *testing.T, path string) Status {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	return st
}

func TestWriteStatus(t *testing.T) {
	progress := 42.5
	s := NewService(Dependencies{
		Dir: t.TempDir(),
		Snapshot: func() Status {
			return Status{Project: "dam", RunState: "running", RunProgress: &progress, ExportProgress: "unknown"}
		},
	})

	require.NoError(t, s.WriteStatus())

	st := readStatus(t, s.Path())
	assert.Equal(t, "dam", st.Project)
	assert.Equal(t, "running", st.RunState)
	require.NotNil(t, st.RunProgress)
	assert.Equal(t, 42.5, *st.RunProgress)
	assert.False(t, st.Time.IsZero())
}

func TestWriteStatusOmitsUnknownProgress(t *testing.T) {
	s := NewService(Dependencies{
		Dir:      t.TempDir(),
		Snapshot: func() Status { return Status{RunState: "idle"} },
	})
	require.NoError(t, s.WriteStatus())

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "runProgress")
}

func TestStartStop(t *testing.T) {
	var calls atomic.Int32
	s := NewService(Dependencies{
		Dir:      t.TempDir() + "/status",
		Interval: 10 * time.Millisecond,
		Snapshot: func() Status {
			calls.Add(1)
			return Status{Project: "dam"}
		},
	})

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	assert.Equal(t, "dam", readStatus(t, s.Path()).Project)

	// Stopping twice is a no-op.
	s.Stop()
}
