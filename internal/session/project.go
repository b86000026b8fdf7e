package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/designsph/dsphcase/internal/hostdoc"
	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/registry"
	"github.com/designsph/dsphcase/internal/runner"
	"github.com/designsph/dsphcase/internal/scripts"
	"github.com/designsph/dsphcase/internal/util"
	"github.com/designsph/dsphcase/internal/xmlcase"
	"github.com/designsph/dsphcase/pkg/streaming"
)

// SaveResult reports the outcome of the steps Save runs besides persisting.
type SaveResult struct {
	Warnings []string
	// GenCase is set when the generator ran successfully.
	GenCase *runner.GenCaseResult
	// GenCaseErr is the generator failure. The case is still persisted.
	GenCaseErr error
}

func (s *Session) freshCase() *model.Case {
	c := model.NewCase()
	c.Processor = s.cfg.Processor
	s.applyExecutables(c)
	return c
}

// applyExecutables lets configured tool paths override the ones stored
// with a case.
func (s *Session) applyExecutables(c *model.Case) {
	e := s.cfg.Executables
	if e.GenCase != "" {
		c.Executables.GenCase = e.GenCase
	}
	if e.DualSPHysics != "" {
		c.Executables.DualSPHysics = e.DualSPHysics
	}
	if e.PartVTK != "" {
		c.Executables.PartVTK = e.PartVTK
	}
}

func (s *Session) document() (hostdoc.Document, error) {
	doc, err := s.cfg.Documents.Active()
	if err != nil {
		return nil, err
	}
	s.registry.SetDocument(doc)
	return doc, nil
}

// NewCase discards the open case and starts an empty one.
func (s *Session) NewCase() {
	if s.monitor.Cancel() {
		s.logger.Warn("Running simulation cancelled by new case")
	}
	s.export.Cancel()
	s.closeProject()
	s.c = s.freshCase()
	doc, _ := s.cfg.Documents.Active()
	s.registry.Reset(s.c, doc)
	s.logger.Info("New case created")
}

// Save writes the project to path: launcher scripts, the GenCase definition,
// the native host document and the case data. GenCase runs when configured.
// An invalid path is rejected before anything is written.
func (s *Session) Save(ctx context.Context, path string) (SaveResult, error) {
	var res SaveResult
	abs, err := util.AbsProjectPath(path)
	if err != nil {
		return res, fmt.Errorf("save %q: %w", path, err)
	}
	path = abs
	doc, err := s.document()
	if err != nil {
		return res, err
	}

	name := util.ProjectName(path)
	if err := os.MkdirAll(util.OutDir(path, name), 0o755); err != nil {
		return res, fmt.Errorf("create project dirs: %w", err)
	}
	s.c.ProjectPath = path
	s.c.ProjectName = name

	if err := scripts.Generate(s.c); err != nil {
		if !errors.Is(err, scripts.ErrMissingExecutables) {
			return res, err
		}
		msg := "launcher scripts not written: one or more executable paths are not set"
		s.logger.Warn(msg)
		res.Warnings = append(res.Warnings, msg)
	}

	warnings, err := xmlcase.WriteDefinitionFile(s.c, doc)
	res.Warnings = append(res.Warnings, warnings...)
	if err != nil {
		return res, err
	}
	for _, w := range warnings {
		s.logger.Warn("Case definition", "warning", w)
	}

	if err := doc.SaveAs(filepath.Join(path, s.cfg.NativeDocument)); err != nil {
		return res, fmt.Errorf("save host document: %w", err)
	}

	s.c.GenCaseDone = false
	if s.c.Executables.GenCase != "" {
		s.runGenCase(ctx, &res)
	}

	if err := s.cfg.Store.Save(ctx, s.c); err != nil {
		return res, fmt.Errorf("persist case: %w", err)
	}
	s.logger.Info("Case saved", "path", path, "objects", len(s.c.SimObjects)-1)
	s.openProject()
	return res, nil
}

func (s *Session) runGenCase(ctx context.Context, res *SaveResult) {
	rec := model.NewRunRecord(s.c.ProjectPath, model.RunKindGenCase)
	gr, err := runner.GenCase(ctx, s.cfg.Launcher, s.c, s.logger)
	rec.EndedAt = time.Now()
	if err != nil {
		res.GenCaseErr = err
		rec.State = "failed"
		rec.Detail = err.Error()
		var pe *runner.ProcessError
		if errors.As(err, &pe) {
			rec.ExitCode = pe.ExitCode
			rec.Detail = pe.Detail
		}
		s.logger.Warn("GenCase failed", "error", err)
	} else {
		res.GenCase = &gr
		rec.State = "complete"
		rec.Progress = 100
		if gr.Warning != "" {
			res.Warnings = append(res.Warnings, gr.Warning)
		}
	}
	s.recordRun(rec)
}

// Load replaces the open case with the one saved in path. A directory
// without the native host document is rejected and the open case is kept.
func (s *Session) Load(ctx context.Context, path string) error {
	abs, err := util.AbsProjectPath(path)
	if err != nil {
		return fmt.Errorf("load %q: %w", path, err)
	}
	path = abs
	c, err := s.cfg.Store.Load(ctx, path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	if opener, ok := s.cfg.Documents.(hostdoc.Opener); ok {
		if err := opener.Open(filepath.Join(path, s.cfg.NativeDocument)); err != nil {
			return fmt.Errorf("open host document: %w", err)
		}
	}

	s.monitor.Cancel()
	s.export.Cancel()
	s.closeProject()

	c.ProjectPath = path
	c.ProjectName = util.ProjectName(path)
	s.applyExecutables(c)
	s.c = c

	doc, err := s.cfg.Documents.Active()
	if err != nil {
		s.registry.Reset(c, nil)
		s.logger.Warn("Case loaded without a host document", "path", path)
		return nil
	}
	s.registry.Reset(c, doc)
	s.registry.Reconcile()
	s.logger.Info("Case loaded", "path", path, "objects", len(c.SimObjects)-1)
	s.openProject()
	return nil
}

// ImportXML reads a case definition, creates its boxes in the host document
// and registers them with their mk, kind and fill. Unsupported content is
// reported in the result's warnings.
func (s *Session) ImportXML(path string) (*xmlcase.Result, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	res, err := xmlcase.ImportFile(path)
	if err != nil {
		return nil, err
	}

	for _, obj := range res.Objects {
		if err := doc.AddObject(obj.HostObject()); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("box %s not created: %v", obj.Name, err))
			continue
		}
		if added := s.registry.AddObjects([]string{obj.Name}); len(added.Added) == 0 {
			continue
		}
		if err := s.configureImported(obj); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("box %s: %v", obj.Name, err))
		}
	}
	// Floatings and velocities are keyed by mk, so they go in after the
	// kinds are settled.
	res.Apply(s.c)

	for _, w := range res.Warnings {
		s.logger.Warn("Case import", "warning", w)
	}
	s.logger.Info("Case imported", "path", path, "objects", len(res.Objects))
	return res, nil
}

func (s *Session) configureImported(obj xmlcase.ImportedObject) error {
	if err := s.registry.SetKind(obj.Name, obj.Kind); err != nil {
		return err
	}
	if err := s.registry.SetMK(obj.Name, obj.MK); err != nil {
		return err
	}
	return s.registry.SetFill(obj.Name, obj.Fill)
}

// AddFillBox creates a fill box group with its limit box and seed point and
// returns the group name. Sizes are in millimetres.
func (s *Session) AddFillBox() (string, error) {
	doc, err := s.document()
	if err != nil {
		return "", err
	}
	group := uniqueName(doc, "FillBox")
	if err := doc.AddObject(hostdoc.Object{Name: group, Label: group, TypeID: hostdoc.GroupTypeID}); err != nil {
		return "", err
	}
	limit := uniqueName(doc, "FillLimit")
	if err := doc.AddObject(hostdoc.Object{
		Name:    limit,
		Label:   limit,
		TypeID:  hostdoc.BoxTypeID,
		Parents: []string{group},
		Size:    [3]float64{10, 10, 10},
	}); err != nil {
		return "", err
	}
	point := uniqueName(doc, "FillPoint")
	if err := doc.AddObject(hostdoc.Object{
		Name:      point,
		Label:     point,
		TypeID:    hostdoc.SphereTypeID,
		Parents:   []string{group},
		Placement: hostdoc.Placement{X: 5, Y: 5, Z: 5},
	}); err != nil {
		return "", err
	}
	return group, nil
}

// uniqueName numbers base the way the host does: Base, Base001, Base002...
func uniqueName(doc hostdoc.Document, base string) string {
	name := base
	for i := 1; ; i++ {
		if _, taken := doc.Object(name); !taken {
			return name
		}
		name = fmt.Sprintf("%s%03d", base, i)
	}
}

// AddSelected registers the objects selected in the host document.
func (s *Session) AddSelected() (registry.AddResult, error) {
	doc, err := s.document()
	if err != nil {
		return registry.AddResult{}, err
	}
	return s.registry.AddObjects(doc.Selection()), nil
}

// AddObjects registers the named host objects.
func (s *Session) AddObjects(names []string) (registry.AddResult, error) {
	if _, err := s.document(); err != nil {
		return registry.AddResult{}, err
	}
	return s.registry.AddObjects(names), nil
}

// RemoveSelected unregisters the objects selected in the host document.
func (s *Session) RemoveSelected() ([]string, error) {
	doc, err := s.document()
	if err != nil {
		return nil, err
	}
	return s.registry.RemoveObjects(doc.Selection()), nil
}

// Reconcile prunes registrations of deleted or grouped host objects.
func (s *Session) Reconcile() (bool, error) {
	if _, err := s.document(); err != nil {
		return false, err
	}
	return s.registry.Reconcile(), nil
}

func (s *Session) onOrderChanged(ev registry.OrderChanged) {
	s.emit(streaming.RegistryPayload{
		Project: s.c.ProjectName,
		Order:   slices.DeleteFunc(ev.Order, func(n string) bool { return n == model.CaseLimitsName }),
	})
}
