package process

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Fake is a scripted Launcher for tests. Started processes stay running until
// Exit is called on their handle.
type Fake struct {
	mu      sync.Mutex
	Started []Spec
	Handles []*FakeHandle

	// StartErr, when set, is returned by Start.
	StartErr error
	// RunResult is returned by Run.
	RunResult Result
	RunErr    error
}

func (f *Fake) Start(_ context.Context, spec Spec, cb Callbacks) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Started = append(f.Started, spec)
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	h := &FakeHandle{cb: cb, done: make(chan struct{})}
	f.Handles = append(f.Handles, h)
	return h, nil
}

func (f *Fake) Run(_ context.Context, spec Spec) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Started = append(f.Started, spec)
	return f.RunResult, f.RunErr
}

// Last returns the most recently started handle.
func (f *Fake) Last() *FakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Handles) == 0 {
		return nil
	}
	return f.Handles[len(f.Handles)-1]
}

// FakeHandle is the Handle returned by Fake.
type FakeHandle struct {
	mu     sync.Mutex
	cb     Callbacks
	chunks []string
	result Result
	done   chan struct{}
	exited bool
	Kills  int
}

// Emit delivers an output chunk.
func (h *FakeHandle) Emit(chunk string) {
	h.mu.Lock()
	h.chunks = append(h.chunks, chunk)
	h.mu.Unlock()
	if h.cb.OnOutput != nil {
		h.cb.OnOutput(chunk)
	}
}

// Exit finishes the process with code.
func (h *FakeHandle) Exit(code int) {
	h.finish(code, false)
}

func (h *FakeHandle) finish(code int, killed bool) {
	h.mu.Lock()
	if h.exited {
		h.mu.Unlock()
		return
	}
	h.exited = true
	h.result = Result{ExitCode: code, Output: strings.Join(h.chunks, ""), Killed: killed}
	res := h.result
	h.mu.Unlock()
	close(h.done)
	if h.cb.OnExit != nil {
		h.cb.OnExit(res)
	}
}

func (h *FakeHandle) Kill() error {
	h.mu.Lock()
	h.Kills++
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return nil
	}
	h.finish(-1, true)
	return nil
}

func (h *FakeHandle) Done() <-chan struct{} {
	return h.done
}

func (h *FakeHandle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// KillCount returns how many times Kill was called.
func (h *FakeHandle) KillCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Kills
}

// ErrNotFound mimics a missing executable for tests.
var ErrNotFound = errors.New("executable not found")
