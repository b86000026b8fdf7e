package session

import (
	"context"
	"fmt"
	"time"

	"github.com/designsph/dsphcase/internal/dispatcher"
	"github.com/designsph/dsphcase/internal/export"
	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/runner"
	"github.com/designsph/dsphcase/internal/store"
	"github.com/designsph/dsphcase/pkg/streaming"
)

// sinkTimeout bounds one delivery to a sink.
const sinkTimeout = 5 * time.Second

// ProgressSink receives run and export progress samples.
type ProgressSink interface {
	Publish(ctx context.Context, p streaming.Progress) error
}

// ProjectSink is implemented by sinks that track the open project.
type ProjectSink interface {
	OpenProject(streaming.OpenProjectPayload) error
	CloseProject() error
}

// RegistrySink is implemented by sinks that follow the export order.
type RegistrySink interface {
	RegistryChanged(streaming.RegistryPayload) error
}

type closeProjectMsg struct{}

// RunSimulation starts the solver on the saved case.
func (s *Session) RunSimulation(ctx context.Context) error {
	if s.c.ProjectPath == "" {
		return fmt.Errorf("run simulation: case not saved: %w", runner.ErrNotConfigured)
	}
	if s.export.Busy() {
		return fmt.Errorf("run simulation: %w", export.ErrBusy)
	}
	return s.monitor.Start(ctx, s.c)
}

// CancelSimulation stops a running solver.
func (s *Session) CancelSimulation() bool {
	return s.monitor.Cancel()
}

// Export converts the solver output to VTK.
func (s *Session) Export(ctx context.Context) error {
	if s.c.ProjectPath == "" {
		return fmt.Errorf("export: case not saved: %w", export.ErrNotConfigured)
	}
	if s.monitor.State() == runner.Running {
		return fmt.Errorf("export: %w", runner.ErrAlreadyRunning)
	}
	return s.export.Start(ctx, s.c)
}

// CancelExport stops a running export.
func (s *Session) CancelExport() bool {
	return s.export.Cancel()
}

// OnRunUpdate subscribes fn to simulation updates. fn runs on the event loop.
func (s *Session) OnRunUpdate(fn func(runner.Update)) {
	s.monitor.OnUpdate(fn)
}

// OnExportUpdate subscribes fn to export updates. fn runs on the event loop.
func (s *Session) OnExportUpdate(fn func(export.Update)) {
	s.export.OnUpdate(fn)
}

// Runs returns the recorded tool runs of the open project.
func (s *Session) Runs(ctx context.Context) ([]model.RunRecord, error) {
	h, ok := s.cfg.Store.(store.RunHistory)
	if !ok {
		return nil, ErrNoHistory
	}
	return h.Runs(ctx, s.c.ProjectPath)
}

func (s *Session) recordRun(rec model.RunRecord) {
	h, ok := s.cfg.Store.(store.RunHistory)
	if !ok {
		return
	}
	if err := h.RecordRun(context.Background(), rec); err != nil {
		s.logger.Error("Failed to record run", "runId", rec.RunID, "kind", rec.Kind, "error", err)
	}
}

func (s *Session) onRunUpdate(u runner.Update) {
	p := streaming.Progress{
		RunID:        u.RunID,
		Project:      s.c.ProjectName,
		Kind:         streaming.KindSimulation,
		State:        u.State.String(),
		Percent:      u.Progress,
		Known:        u.ProgressKnown || u.State == runner.Complete,
		ETA:          u.ETA,
		ParticlesOut: u.ParticlesOut,
		Time:         time.Now(),
	}
	if u.Err != nil {
		p.Detail = u.Err.Error()
	}
	if u.State.Terminal() {
		s.recordRun(s.monitor.Record())
	}
	s.emit(p)
}

func (s *Session) onExportUpdate(u export.Update) {
	state := "running"
	if !u.Busy {
		state = s.export.Record().State
	}
	p := streaming.Progress{
		RunID:   u.RunID,
		Project: s.c.ProjectName,
		Kind:    streaming.KindExport,
		State:   state,
		Detail:  u.Progress.String(),
		Time:    time.Now(),
	}
	p.Percent, p.Known = u.Progress.Percent()
	if !u.Busy {
		s.recordRun(s.export.Record())
	}
	s.emit(p)
}

func (s *Session) openProject() {
	s.emit(streaming.OpenProjectPayload{
		ProjectPath:    s.c.ProjectPath,
		ProjectName:    s.c.ProjectName,
		TotalParticles: s.c.TotalParticles,
		GenCaseDone:    s.c.GenCaseDone,
	})
}

func (s *Session) closeProject() {
	if s.c == nil || s.c.ProjectPath == "" {
		return
	}
	s.emit(closeProjectMsg{})
}

// emit hands msg to the sinks, off the loop when a dispatcher is set.
func (s *Session) emit(msg any) {
	if len(s.cfg.Sinks) == 0 {
		return
	}
	if s.cfg.Dispatcher == nil {
		s.deliver(msg)
		return
	}
	if _, err := s.cfg.Dispatcher.Dispatch(dispatcherEvent(CmdPublish, msg)); err != nil {
		s.logger.Debug("Progress sample dropped", "error", err)
	}
}

func dispatcherEvent(command string, payload any) dispatcher.Event {
	return dispatcher.Event{Command: command, Payload: payload, Timestamp: time.Now()}
}

func (s *Session) deliver(msg any) {
	for _, sink := range s.cfg.Sinks {
		var err error
		switch m := msg.(type) {
		case streaming.Progress:
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			err = sink.Publish(ctx, m)
			cancel()
		case streaming.OpenProjectPayload:
			if ps, ok := sink.(ProjectSink); ok {
				err = ps.OpenProject(m)
			}
		case closeProjectMsg:
			if ps, ok := sink.(ProjectSink); ok {
				err = ps.CloseProject()
			}
		case streaming.RegistryPayload:
			if rs, ok := sink.(RegistrySink); ok {
				err = rs.RegistryChanged(m)
			}
		}
		if err != nil {
			s.logger.Warn("Progress sink failed", "sink", fmt.Sprintf("%T", sink), "error", err)
		}
	}
}
