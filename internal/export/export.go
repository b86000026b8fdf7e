// Package export converts solver output to VTK with PartVTK and tracks its progress.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/process"
	"github.com/designsph/dsphcase/internal/util"
)

// Commands posted to the event loop.
const (
	CmdOutput = "export.output"
	CmdExit   = "export.exit"
)

var (
	ErrBusy          = errors.New("export already running")
	ErrNotConfigured = errors.New("not configured")
)

var (
	partFileRe = regexp.MustCompile(`^Part_(\d+)\.bi4$`)
	vtkRe      = regexp.MustCompile(`PartAll_(\d+)\.vtk`)
)

// Progress of an export. With no pre-scanned part files the total is 0 and
// progress is unknown rather than 0%.
type Progress struct {
	Current int
	Total   int
}

// Known reports whether a percentage can be computed.
func (p Progress) Known() bool {
	return p.Total > 0
}

// Percent returns Current/Total in percent and whether it is known.
func (p Progress) Percent() (float64, bool) {
	if !p.Known() {
		return 0, false
	}
	return float64(p.Current) * 100 / float64(p.Total), true
}

func (p Progress) String() string {
	if !p.Known() {
		return "unknown"
	}
	return fmt.Sprintf("%d/%d", p.Current, p.Total)
}

// OutputEvent carries one chunk of PartVTK output.
type OutputEvent struct {
	RunID uuid.UUID
	Chunk string
}

// ExitEvent is posted when PartVTK exits.
type ExitEvent struct {
	RunID  uuid.UUID
	Result process.Result
}

// Update is emitted on every progress change and when the export ends.
type Update struct {
	RunID    uuid.UUID
	Busy     bool
	Progress Progress
	ExitCode int
}

// Config holds the collaborators of a Driver.
type Config struct {
	Launcher process.Launcher
	Logger   *slog.Logger
	// Post delivers process notifications to the event loop; nil handles
	// them on the calling goroutine.
	Post func(command string, payload any)
}

// Driver runs one export at a time. Methods must be called from the event loop.
type Driver struct {
	cfg Config

	busy     bool
	runID    uuid.UUID
	handle   process.Handle
	progress Progress
	exitCode int
	record   model.RunRecord

	observers []func(Update)
}

// NewDriver creates an idle driver.
func NewDriver(cfg Config) *Driver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Driver{cfg: cfg}
	if cfg.Post == nil {
		d.cfg.Post = func(_ string, payload any) {
			switch ev := payload.(type) {
			case OutputEvent:
				d.HandleOutput(ev)
			case ExitEvent:
				d.HandleExit(ev)
			}
		}
	}
	return d
}

// OnUpdate subscribes fn to export updates.
func (d *Driver) OnUpdate(fn func(Update)) {
	d.observers = append(d.observers, fn)
}

// Busy reports whether an export is running.
func (d *Driver) Busy() bool { return d.busy }

// Progress returns the current export progress.
func (d *Driver) Progress() Progress { return d.progress }

// LastExitCode returns the exit code of the last finished export.
func (d *Driver) LastExitCode() int { return d.exitCode }

// Record returns the history record of the last finished export.
func (d *Driver) Record() model.RunRecord { return d.record }

// ScanUpperBound returns the highest N of the Part_<N>.bi4 files in outDir.
func ScanUpperBound(outDir string) (int, error) {
	entries, err := os.ReadDir(outDir)
	if err != nil {
		return 0, fmt.Errorf("scan output: %w", err)
	}
	upper := 0
	for _, e := range entries {
		m := partFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > upper {
			upper = n
		}
	}
	return upper, nil
}

// Start pre-scans the output directory and launches PartVTK.
func (d *Driver) Start(ctx context.Context, c *model.Case) error {
	if d.busy {
		return ErrBusy
	}
	if c.Executables.PartVTK == "" {
		return fmt.Errorf("partvtk executable: %w", ErrNotConfigured)
	}
	if c.ProjectPath == "" || c.ProjectName == "" {
		return fmt.Errorf("project path: %w", ErrNotConfigured)
	}

	outDir := util.OutDir(c.ProjectPath, c.ProjectName)
	upper, err := ScanUpperBound(outDir)
	if err != nil {
		return err
	}

	args := []string{
		"-dirin", outDir + string(filepath.Separator),
		"-savevtk", filepath.Join(outDir, "PartAll"),
	}
	args = append(args, util.SplitArgs(c.ExportOptions)...)
	spec := process.Spec{Path: c.Executables.PartVTK, Args: args, Dir: c.ProjectPath}

	d.runID = uuid.New()
	d.progress = Progress{Total: upper}
	d.record = model.NewRunRecord(c.ProjectPath, model.RunKindExport)
	d.record.RunID = d.runID
	d.busy = true

	runID := d.runID
	h, err := d.cfg.Launcher.Start(ctx, spec, process.Callbacks{
		OnOutput: func(chunk string) {
			d.cfg.Post(CmdOutput, OutputEvent{RunID: runID, Chunk: chunk})
		},
		OnExit: func(res process.Result) {
			d.cfg.Post(CmdExit, ExitEvent{RunID: runID, Result: res})
		},
	})
	if err != nil {
		d.busy = false
		return fmt.Errorf("start partvtk: %w", err)
	}
	if d.busy {
		d.handle = h
	}
	d.cfg.Logger.Info("Export started",
		"runId", runID,
		"parts", upper,
		"command", spec.String())
	d.emit()
	return nil
}

// HandleOutput advances progress to the highest PartAll_<N>.vtk in the chunk.
func (d *Driver) HandleOutput(ev OutputEvent) {
	if ev.RunID != d.runID || !d.busy {
		return
	}
	n, ok := highestVTK(ev.Chunk)
	if !ok || n <= d.progress.Current {
		return
	}
	d.progress.Current = n
	d.emit()
}

// HandleExit records the exit code and resets the driver. The code is not
// interpreted: PartVTK reports problems in its output only.
func (d *Driver) HandleExit(ev ExitEvent) {
	if ev.RunID != d.runID || !d.busy {
		return
	}
	d.finish(ev.Result.ExitCode, "finished")
	d.cfg.Logger.Info("Export finished",
		"runId", d.runID,
		"exitCode", ev.Result.ExitCode,
		"progress", d.progress.String())
	d.emit()
}

// Cancel kills a running export and reports whether one was running.
func (d *Driver) Cancel() bool {
	if !d.busy {
		return false
	}
	h := d.handle
	d.finish(-1, "cancelled")
	if h != nil {
		if err := h.Kill(); err != nil {
			d.cfg.Logger.Warn("Failed to kill export", "error", err)
		}
	}
	d.cfg.Logger.Info("Export cancelled", "runId", d.runID)
	d.emit()
	return true
}

func (d *Driver) finish(exitCode int, state string) {
	d.busy = false
	d.handle = nil
	d.exitCode = exitCode
	d.record.State = state
	d.record.ExitCode = exitCode
	d.record.EndedAt = time.Now()
	if p, ok := d.progress.Percent(); ok {
		d.record.Progress = p
	}
}

func (d *Driver) emit() {
	u := Update{RunID: d.runID, Busy: d.busy, Progress: d.progress, ExitCode: d.exitCode}
	for _, fn := range d.observers {
		fn(u)
	}
}

func highestVTK(chunk string) (int, bool) {
	found := false
	highest := 0
	for _, m := range vtkRe.FindAllStringSubmatch(chunk, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if !found || n > highest {
			highest = n
			found = true
		}
	}
	return highest, found
}
