package process

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/designsph/dsphcase/internal/queue"
)

func requireShell(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell based test")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return sh
}

func TestExecLauncherStart(t *testing.T) {
	sh := requireShell(t)

	var mu sync.Mutex
	var chunks []string
	exited := make(chan Result, 1)

	h, err := NewExecLauncher().Start(context.Background(), Spec{
		Path: sh,
		Args: []string{"-c", "echo hello; exit 3"},
	}, Callbacks{
		OnOutput: func(c string) {
			mu.Lock()
			chunks = append(chunks, c)
			mu.Unlock()
		},
		OnExit: func(r Result) { exited <- r },
	})
	require.NoError(t, err)

	select {
	case res := <-exited:
		assert.Equal(t, 3, res.ExitCode)
		assert.Contains(t, res.Output, "hello")
		assert.False(t, res.Killed)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit")
	}

	<-h.Done()
	mu.Lock()
	assert.Contains(t, strings.Join(chunks, ""), "hello")
	mu.Unlock()
	assert.NoError(t, h.Kill())
}

func TestExecLauncherKill(t *testing.T) {
	sh := requireShell(t)

	h, err := NewExecLauncher().Start(context.Background(), Spec{Path: sh, Args: []string{"-c", "sleep 30"}}, Callbacks{})
	require.NoError(t, err)

	require.NoError(t, h.Kill())
	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process not killed")
	}
	assert.True(t, h.Result().Killed)
	assert.NotEqual(t, 0, h.Result().ExitCode)
}

func TestExecLauncherMissingExecutable(t *testing.T) {
	_, err := NewExecLauncher().Start(context.Background(), Spec{Path: "/nonexistent/gencase"}, Callbacks{})
	assert.Error(t, err)

	_, err = NewExecLauncher().Start(context.Background(), Spec{}, Callbacks{})
	assert.Error(t, err)
}

func TestExecLauncherRun(t *testing.T) {
	sh := requireShell(t)

	res, err := NewExecLauncher().Run(context.Background(), Spec{Path: sh, Args: []string{"-c", "echo 'Total particles: 10'; exit 1"}})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Output, "Total particles: 10")
}

func TestExecHandleFinishReportsDroppedOutput(t *testing.T) {
	h := &execHandle{output: queue.NewBounded[string](2)}
	h.output.Push("GenCase v5\n", "Part_0001\n", "Part_0002\n")

	res := h.finish(nil)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "Part_0001\nPart_0002\n", res.Output)
	assert.Equal(t, 1, res.DroppedChunks)
	assert.Zero(t, h.output.Len(), "output moved into the result")
	assert.Equal(t, res, h.Result())
}

func TestFakeHandle(t *testing.T) {
	var exits int
	f := &Fake{}
	h, err := f.Start(context.Background(), Spec{Path: "solver"}, Callbacks{OnExit: func(Result) { exits++ }})
	require.NoError(t, err)

	f.Last().Emit("out")
	require.NoError(t, h.Kill())
	require.NoError(t, h.Kill())
	f.Last().Exit(0)

	assert.Equal(t, 1, exits)
	assert.Equal(t, 2, f.Last().KillCount())
	assert.True(t, h.Result().Killed)
	assert.Equal(t, "out", h.Result().Output)
}

func TestSpecString(t *testing.T) {
	assert.Equal(t, "gencase a b", Spec{Path: "gencase", Args: []string{"a", "b"}}.String())
}
