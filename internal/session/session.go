// Package session owns the open case and connects the registry, the run
// monitor, the export driver, the store and the progress sinks to a single
// event loop. Every method that touches the case must run on the loop; use
// Do from other goroutines.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/designsph/dsphcase/internal/dispatcher"
	"github.com/designsph/dsphcase/internal/export"
	"github.com/designsph/dsphcase/internal/hostdoc"
	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/monitor"
	"github.com/designsph/dsphcase/internal/process"
	"github.com/designsph/dsphcase/internal/registry"
	"github.com/designsph/dsphcase/internal/runner"
	"github.com/designsph/dsphcase/internal/store"
	"github.com/designsph/dsphcase/internal/watch"
)

// Commands handled by the session on the event loop.
const (
	CmdGuardTick = "guard.tick"
	CmdSelection = "selection.changed"
	CmdCall      = "session.call"
	CmdPublish   = "progress.publish"
)

// publishBuffer is the queue size of the asynchronous sink handler.
const publishBuffer = 256

var ErrNoHistory = errors.New("store does not keep a run history")

// Config holds the collaborators of a Session.
type Config struct {
	Store     store.Backend
	Documents hostdoc.Provider
	Launcher  process.Launcher
	Watcher   watch.Watcher
	// Dispatcher runs the event loop. When nil every notification is
	// handled synchronously on the caller's goroutine.
	Dispatcher *dispatcher.Dispatcher
	Sinks      []ProgressSink

	Executables    model.Executables
	Processor      model.Processor
	NativeDocument string
	GuardInterval  time.Duration
	GuardBackoff   time.Duration
	Logger         *slog.Logger
}

// Session is one open case.
type Session struct {
	cfg    Config
	logger *slog.Logger

	c        *model.Case
	registry *registry.Registry
	monitor  *runner.Monitor
	export   *export.Driver

	guardResume time.Time
	status      atomic.Pointer[monitor.Status]
}

type call struct {
	fn   func() error
	done chan error
}

// New creates a session holding a fresh case.
func New(cfg Config) *Session {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.NativeDocument == "" {
		cfg.NativeDocument = store.DefaultNativeDocument
	}
	if cfg.Processor == "" {
		cfg.Processor = model.ProcessorCPU
	}
	if cfg.GuardInterval <= 0 {
		cfg.GuardInterval = 500 * time.Millisecond
	}
	if cfg.GuardBackoff <= 0 {
		cfg.GuardBackoff = 2 * time.Second
	}
	if cfg.Documents == nil {
		cfg.Documents = hostdoc.NewStatic(nil)
	}

	s := &Session{cfg: cfg, logger: cfg.Logger}

	var post runner.PostFunc
	if cfg.Dispatcher != nil {
		post = cfg.Dispatcher.Post
	}
	s.c = s.freshCase()
	s.registry = registry.New(s.c, nil, cfg.Logger)
	s.monitor = runner.NewMonitor(runner.MonitorConfig{
		Launcher: cfg.Launcher,
		Watcher:  cfg.Watcher,
		Logger:   cfg.Logger,
		Post:     post,
	})
	s.export = export.NewDriver(export.Config{
		Launcher: cfg.Launcher,
		Logger:   cfg.Logger,
		Post:     post,
	})

	s.registry.OnOrderChanged(s.onOrderChanged)
	s.monitor.OnUpdate(s.onRunUpdate)
	s.export.OnUpdate(s.onExportUpdate)

	if cfg.Dispatcher != nil {
		s.register(cfg.Dispatcher)
	}
	s.refreshStatus()
	return s
}

func (s *Session) register(d *dispatcher.Dispatcher) {
	d.Register(runner.CmdRunChanged, s.handle(func(e dispatcher.Event) error {
		ev, ok := e.Payload.(runner.ChangeEvent)
		if !ok {
			return payloadError(e)
		}
		s.monitor.HandleChange(ev)
		return nil
	}))
	d.Register(runner.CmdRunExit, s.handle(func(e dispatcher.Event) error {
		ev, ok := e.Payload.(runner.ExitEvent)
		if !ok {
			return payloadError(e)
		}
		s.monitor.HandleExit(ev)
		return nil
	}), dispatcher.Logged())
	d.Register(export.CmdOutput, s.handle(func(e dispatcher.Event) error {
		ev, ok := e.Payload.(export.OutputEvent)
		if !ok {
			return payloadError(e)
		}
		s.export.HandleOutput(ev)
		return nil
	}))
	d.Register(export.CmdExit, s.handle(func(e dispatcher.Event) error {
		ev, ok := e.Payload.(export.ExitEvent)
		if !ok {
			return payloadError(e)
		}
		s.export.HandleExit(ev)
		return nil
	}), dispatcher.Logged())
	d.Register(CmdGuardTick, s.handle(func(e dispatcher.Event) error {
		now := e.Timestamp
		if now.IsZero() {
			now = time.Now()
		}
		s.GuardTick(now)
		return nil
	}))
	d.Register(CmdSelection, s.handle(func(dispatcher.Event) error {
		_, err := s.Reconcile()
		return err
	}))
	d.Register(CmdCall, func(e dispatcher.Event) (any, error) {
		c, ok := e.Payload.(*call)
		if !ok {
			return nil, payloadError(e)
		}
		err := c.fn()
		s.refreshStatus()
		c.done <- err
		return nil, nil
	}, dispatcher.Logged())
	d.Register(CmdPublish, func(e dispatcher.Event) (any, error) {
		s.deliver(e.Payload)
		return nil, nil
	}, dispatcher.Buffered(publishBuffer))
}

func (s *Session) handle(fn func(dispatcher.Event) error) dispatcher.HandlerFunc {
	return func(e dispatcher.Event) (any, error) {
		err := fn(e)
		s.refreshStatus()
		return nil, err
	}
}

func payloadError(e dispatcher.Event) error {
	return fmt.Errorf("%s: unexpected payload %T", e.Command, e.Payload)
}

// Do runs fn on the event loop and waits for its result. Without a
// dispatcher fn runs directly.
func (s *Session) Do(ctx context.Context, fn func() error) error {
	if s.cfg.Dispatcher == nil {
		err := fn()
		s.refreshStatus()
		return err
	}
	c := &call{fn: fn, done: make(chan error, 1)}
	s.cfg.Dispatcher.Post(CmdCall, c)
	select {
	case err := <-c.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Case returns the open case.
func (s *Session) Case() *model.Case {
	return s.c
}

// Registry returns the registry of the open case.
func (s *Session) Registry() *registry.Registry {
	return s.registry
}

// Monitor returns the simulation run monitor.
func (s *Session) Monitor() *runner.Monitor {
	return s.monitor
}

// Exporter returns the export driver.
func (s *Session) Exporter() *export.Driver {
	return s.export
}

// Snapshot returns the status as of the last handled event. It is safe to
// call from any goroutine.
func (s *Session) Snapshot() monitor.Status {
	if st := s.status.Load(); st != nil {
		return *st
	}
	return monitor.Status{}
}

func (s *Session) refreshStatus() {
	c := s.c
	st := monitor.Status{
		Time:              time.Now(),
		Project:           c.ProjectName,
		ProjectPath:       c.ProjectPath,
		GenCaseDone:       c.GenCaseDone,
		SimulationDone:    c.SimulationDone,
		TotalParticles:    c.TotalParticles,
		RegisteredObjects: len(c.SimObjects) - 1,
		RunState:          s.monitor.State().String(),
		ETA:               s.monitor.Status().ETA,
		ParticlesOut:      c.TotalParticlesOut,
		ExportBusy:        s.export.Busy(),
		ExportProgress:    s.export.Progress().String(),
	}
	if p, err := s.monitor.Progress(); err == nil {
		st.RunProgress = &p
	}
	if s.cfg.Dispatcher != nil {
		st.PendingEvents = s.cfg.Dispatcher.Pending()
	}
	s.status.Store(&st)
}

// Close cancels running processes and closes the store.
func (s *Session) Close() error {
	s.monitor.Cancel()
	s.export.Cancel()
	s.closeProject()
	s.refreshStatus()
	return s.cfg.Store.Close()
}
