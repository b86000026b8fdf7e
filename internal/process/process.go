// Package process starts the external case tools and reports their output
// and exit asynchronously.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/designsph/dsphcase/internal/queue"
)

// outputLimit bounds the chunks kept per process.
const outputLimit = 4096

// Spec describes one invocation.
type Spec struct {
	Path string
	Args []string
	Dir  string
}

func (s Spec) String() string {
	return strings.TrimSpace(s.Path + " " + strings.Join(s.Args, " "))
}

// Result is delivered once when the process ends.
type Result struct {
	ExitCode int
	Output   string
	Killed   bool
	// DroppedChunks counts the oldest output chunks discarded once the
	// buffer limit was reached. Output is incomplete when it is non-zero.
	DroppedChunks int
}

// Handle is a running process.
type Handle interface {
	// Kill terminates the process. Killing an exited process is a no-op.
	Kill() error
	// Done is closed after the result is available.
	Done() <-chan struct{}
	Result() Result
}

// Callbacks receive process notifications from the reader goroutines.
// Either may be nil.
type Callbacks struct {
	OnOutput func(chunk string)
	OnExit   func(Result)
}

// Launcher starts processes.
type Launcher interface {
	Start(ctx context.Context, spec Spec, cb Callbacks) (Handle, error)
	// Run starts the process and waits for it to exit.
	Run(ctx context.Context, spec Spec) (Result, error)
}

// ExecLauncher runs real processes via os/exec.
type ExecLauncher struct{}

// NewExecLauncher returns a launcher for real executables.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{}
}

type execHandle struct {
	cmd    *exec.Cmd
	output *queue.Queue[string]
	done   chan struct{}

	mu     sync.Mutex
	result Result
	killed bool
}

func (l *ExecLauncher) Start(ctx context.Context, spec Spec, cb Callbacks) (Handle, error) {
	if spec.Path == "" {
		return nil, errors.New("executable path not set")
	}
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", spec.Path, err)
	}

	h := &execHandle{
		cmd:    cmd,
		output: queue.NewBounded[string](outputLimit),
		done:   make(chan struct{}),
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		buf := make([]byte, 32*1024)
		for {
			n, err := pr.Read(buf)
			if n > 0 {
				chunk := string(buf[:n])
				h.output.Push(chunk)
				if cb.OnOutput != nil {
					cb.OnOutput(chunk)
				}
			}
			if err != nil {
				return
			}
		}
	}()

	go func() {
		err := cmd.Wait()
		pw.Close()
		<-readDone

		res := h.finish(err)
		close(h.done)

		if cb.OnExit != nil {
			cb.OnExit(res)
		}
	}()

	return h, nil
}

func (l *ExecLauncher) Run(ctx context.Context, spec Spec) (Result, error) {
	if spec.Path == "" {
		return Result{}, errors.New("executable path not set")
	}
	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return Result{}, fmt.Errorf("run %s: %w", spec.Path, err)
	}
	return Result{ExitCode: exitCode(err), Output: out.String()}, nil
}

// finish moves the buffered output into the result.
func (h *execHandle) finish(waitErr error) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result = Result{
		ExitCode:      exitCode(waitErr),
		Output:        strings.Join(h.output.Drain(), ""),
		Killed:        h.killed,
		DroppedChunks: h.output.Dropped(),
	}
	return h.result
}

func (h *execHandle) Kill() error {
	select {
	case <-h.done:
		return nil
	default:
	}
	h.mu.Lock()
	h.killed = true
	h.mu.Unlock()
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (h *execHandle) Done() <-chan struct{} {
	return h.done
}

func (h *execHandle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
