package runner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/process"
	"github.com/designsph/dsphcase/internal/runlog"
	"github.com/designsph/dsphcase/internal/util"
	"github.com/designsph/dsphcase/internal/watch"
)

// outputPrefix marks the solver output files cleared before each run.
const outputPrefix = "Part"

// ChangeEvent is posted for each filesystem notification in the output directory.
type ChangeEvent struct {
	RunID uuid.UUID
	Name  string
}

// ExitEvent is posted when the solver process ends.
type ExitEvent struct {
	RunID  uuid.UUID
	Result process.Result
}

// Update describes the run after every state or progress change.
type Update struct {
	RunID         uuid.UUID
	State         State
	Progress      float64
	ProgressKnown bool
	ETA           string
	ParticlesOut  int
	Err           error
}

// MonitorConfig holds the collaborators of a Monitor.
type MonitorConfig struct {
	Launcher process.Launcher
	Watcher  watch.Watcher
	Parser   runlog.Parser
	Logger   *slog.Logger
	// Post delivers asynchronous notifications to the event loop. When nil
	// they are handled on the calling goroutine.
	Post PostFunc
}

// Monitor runs the solver and follows its Run.out log. All methods must be
// called from the event loop.
type Monitor struct {
	cfg MonitorConfig

	state  State
	runID  uuid.UUID
	c      *model.Case
	outDir string
	handle process.Handle
	watch  watch.Watch
	status runlog.Status
	record model.RunRecord
	err    error

	observers []func(Update)
}

// NewMonitor creates an idle monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.Parser == nil {
		cfg.Parser = runlog.NewParser()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &Monitor{cfg: cfg, status: runlog.NewStatus()}
	if cfg.Post == nil {
		m.cfg.Post = m.handleDirect
	}
	return m
}

func (m *Monitor) handleDirect(command string, payload any) {
	switch ev := payload.(type) {
	case ChangeEvent:
		m.HandleChange(ev)
	case ExitEvent:
		m.HandleExit(ev)
	}
}

// OnUpdate subscribes fn to run updates.
func (m *Monitor) OnUpdate(fn func(Update)) {
	m.observers = append(m.observers, fn)
}

// State returns the current run state.
func (m *Monitor) State() State {
	return m.state
}

// RunID returns the id of the current or last run.
func (m *Monitor) RunID() uuid.UUID {
	return m.runID
}

// Status returns the parsed log status of the current or last run.
func (m *Monitor) Status() runlog.Status {
	return m.status
}

// Err returns the failure of the last run, if any.
func (m *Monitor) Err() error {
	return m.err
}

// Record returns the history record of the last finished run.
func (m *Monitor) Record() model.RunRecord {
	return m.record
}

// Progress returns the simulation progress in percent. It fails with
// runlog.ErrTimeMaxUnknown until the log reported TimeMax, whatever the state.
func (m *Monitor) Progress() (float64, error) {
	p, err := m.status.Progress()
	if err != nil {
		return 0, err
	}
	if m.state == Complete {
		return 100, nil
	}
	return p, nil
}

// Start launches the solver for c. The case must have been saved.
func (m *Monitor) Start(ctx context.Context, c *model.Case) error {
	if m.state == Running {
		return ErrAlreadyRunning
	}
	if c.Executables.DualSPHysics == "" {
		return fmt.Errorf("solver executable: %w", ErrNotConfigured)
	}
	if c.ProjectPath == "" || c.ProjectName == "" {
		return fmt.Errorf("project path: %w", ErrNotConfigured)
	}

	outDir := util.OutDir(c.ProjectPath, c.ProjectName)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := clearOutput(outDir); err != nil {
		return err
	}

	m.c = c
	m.outDir = outDir
	m.runID = uuid.New()
	m.status = runlog.NewStatus()
	m.err = nil
	m.record = model.NewRunRecord(c.ProjectPath, model.RunKindSimulation)
	m.record.RunID = m.runID
	c.SimulationDone = false
	c.TimeMax = model.TimeMaxUnknown
	c.TotalParticlesOut = 0

	runID := m.runID
	w, err := m.cfg.Watcher.Watch(outDir, func(name string) {
		m.cfg.Post(CmdRunChanged, ChangeEvent{RunID: runID, Name: name})
	})
	if err != nil {
		return fmt.Errorf("watch output: %w", err)
	}
	m.watch = w

	args := []string{filepath.Join(outDir, c.ProjectName), outDir + string(filepath.Separator), "-svres", c.Processor.Flag()}
	args = append(args, util.SplitArgs(c.AdditionalParameters)...)
	spec := process.Spec{Path: c.Executables.DualSPHysics, Args: args, Dir: c.ProjectPath}

	// Running before Start so an immediate exit is not ignored.
	m.state = Running
	h, err := m.cfg.Launcher.Start(ctx, spec, process.Callbacks{
		OnExit: func(res process.Result) {
			m.cfg.Post(CmdRunExit, ExitEvent{RunID: runID, Result: res})
		},
	})
	if err != nil {
		m.err = fmt.Errorf("start solver: %w", err)
		m.finish(Errored, -1)
		m.emit()
		return m.err
	}
	if m.state == Running {
		m.handle = h
	}

	m.cfg.Logger.Info("Simulation started",
		"runId", runID,
		"command", spec.String())
	m.emit()
	return nil
}

// HandleChange re-reads Run.out after a notification. Read failures are
// transient and ignored.
func (m *Monitor) HandleChange(ev ChangeEvent) {
	if ev.RunID != m.runID || m.state != Running {
		return
	}
	if !m.readLog() {
		return
	}
	m.emit()
}

func (m *Monitor) readLog() bool {
	content, err := runlog.ReadFile(filepath.Join(m.outDir, runlog.FileName))
	if err != nil {
		m.cfg.Logger.Debug("Run log not readable", "error", err)
		return false
	}
	m.cfg.Parser.Apply(content, &m.status)
	m.c.TimeMax = m.status.TimeMax
	if m.status.ParticlesOut > 0 {
		m.c.TotalParticlesOut = m.status.ParticlesOut
	}
	return true
}

// HandleExit moves the run to its terminal state.
func (m *Monitor) HandleExit(ev ExitEvent) {
	if ev.RunID != m.runID || m.state != Running {
		return
	}
	m.readLog()

	res := ev.Result
	if res.DroppedChunks > 0 {
		m.cfg.Logger.Warn("Solver output truncated", "runId", m.runID, "droppedChunks", res.DroppedChunks)
	}
	switch {
	case res.ExitCode == 0:
		m.c.SimulationDone = true
		m.finish(Complete, 0)
	case strings.Contains(strings.ToLower(res.Output), "exception"):
		m.err = &ProcessError{Tool: "DualSPHysics", ExitCode: res.ExitCode, Detail: util.DetailSection(res.Output)}
		m.finish(Errored, res.ExitCode)
	default:
		m.err = &ProcessError{Tool: "DualSPHysics", ExitCode: res.ExitCode, Detail: util.DetailSection(res.Output)}
		m.finish(Failed, res.ExitCode)
	}
	m.emit()
}

// Cancel kills a running solver. It reports whether a run was cancelled;
// cancelling a finished run is a no-op.
func (m *Monitor) Cancel() bool {
	if m.state != Running {
		return false
	}
	h := m.handle
	m.finish(Cancelled, -1)
	if h != nil {
		if err := h.Kill(); err != nil {
			m.cfg.Logger.Warn("Failed to kill solver", "error", err)
		}
	}
	m.cfg.Logger.Info("Simulation cancelled", "runId", m.runID)
	m.emit()
	return true
}

func (m *Monitor) finish(state State, exitCode int) {
	m.state = state
	m.handle = nil
	if m.watch != nil {
		if err := m.watch.Release(); err != nil {
			m.cfg.Logger.Debug("Release watch", "error", err)
		}
		m.watch = nil
	}

	m.record.State = state.String()
	m.record.ExitCode = exitCode
	m.record.EndedAt = time.Now()
	if p, err := m.Progress(); err == nil {
		m.record.Progress = p
	}
	if m.err != nil {
		m.record.Detail = m.err.Error()
	}
	switch state {
	case Complete:
		m.cfg.Logger.Info("Simulation complete", "runId", m.runID)
	case Errored, Failed:
		m.cfg.Logger.Warn("Simulation ended",
			"runId", m.runID,
			"state", state,
			"exitCode", exitCode,
			"error", m.err)
	}
}

func (m *Monitor) emit() {
	u := Update{
		RunID:        m.runID,
		State:        m.state,
		ETA:          m.status.ETA,
		ParticlesOut: m.status.ParticlesOut,
		Err:          m.err,
	}
	if p, err := m.Progress(); err == nil {
		u.Progress = p
		u.ProgressKnown = true
	}
	if m.state == Complete {
		u.Progress = 100
	}
	for _, fn := range m.observers {
		fn(u)
	}
}

func clearOutput(outDir string) error {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return fmt.Errorf("list output dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), outputPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(outDir, e.Name())); err != nil {
			return fmt.Errorf("clear output: %w", err)
		}
	}
	return nil
}
