// Package registry keeps the case's object registrations and export order
// consistent with the live host document.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"github.com/designsph/dsphcase/internal/hostdoc"
	"github.com/designsph/dsphcase/internal/model"
)

var (
	ErrNotRegistered = errors.New("object not registered")
	ErrCaseLimits    = errors.New("case limits cannot be modified")
	ErrMKOutOfRange  = errors.New("mk out of range")
)

// OrderChanged is emitted after every registry mutation.
type OrderChanged struct {
	Order []string
}

// AddResult reports what AddObjects did with each candidate.
type AddResult struct {
	Added   []string
	Skipped []string
	// Collisions lists objects that got mk 0 because their kind's range was full.
	Collisions []string
}

// Registry mutates the SimObjects and ExportOrder of one case. It is not safe
// for concurrent use; all calls happen on the event loop.
type Registry struct {
	c         *model.Case
	doc       hostdoc.Document
	logger    *slog.Logger
	observers []func(OrderChanged)
}

// New creates a registry over c backed by doc. doc may be nil until a host
// document is open; nothing can be added then and Reconcile keeps every
// registration.
func New(c *model.Case, doc hostdoc.Document, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	c.Normalize()
	return &Registry{c: c, doc: doc, logger: logger}
}

// Reset points the registry at a different case and document, e.g. after a load.
func (r *Registry) Reset(c *model.Case, doc hostdoc.Document) {
	c.Normalize()
	r.c = c
	r.doc = doc
	r.notify()
}

// SetDocument swaps the host document without touching the case.
func (r *Registry) SetDocument(doc hostdoc.Document) {
	r.doc = doc
}

// Case returns the case the registry operates on.
func (r *Registry) Case() *model.Case {
	return r.c
}

// OnOrderChanged subscribes fn to order changes.
func (r *Registry) OnOrderChanged(fn func(OrderChanged)) {
	r.observers = append(r.observers, fn)
}

func (r *Registry) object(name string) (hostdoc.Object, bool) {
	if r.doc == nil {
		return hostdoc.Object{}, false
	}
	return r.doc.Object(name)
}

func (r *Registry) notify() {
	ev := OrderChanged{Order: slices.Clone(r.c.ExportOrder)}
	for _, fn := range r.observers {
		fn(ev)
	}
}

// AddObjects registers every eligible candidate. Case_Limits, already
// registered objects, objects missing from the document and objects with a
// parent are skipped.
func (r *Registry) AddObjects(names []string) AddResult {
	var res AddResult
	for _, name := range names {
		if name == model.CaseLimitsName {
			continue
		}
		if _, ok := r.c.SimObjects[name]; ok {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		obj, ok := r.object(name)
		if !ok || obj.HasParent() {
			res.Skipped = append(res.Skipped, name)
			continue
		}

		kind := model.KindBound
		if hostdoc.IsFillBox(name) {
			kind = model.KindFluid
		}
		mk, free := r.firstUnusedMK(kind)
		if !free {
			mk = 0
			res.Collisions = append(res.Collisions, name)
			r.logger.Warn("No free mk left, falling back to 0",
				"object", name,
				"kind", kind)
		}
		r.c.SimObjects[name] = model.SimObject{MK: mk, Kind: kind, Fill: model.FillFull}
		r.c.ExportOrder = append(r.c.ExportOrder, name)
		res.Added = append(res.Added, name)
	}
	r.notify()
	return res
}

// RemoveObjects drops the named objects from SimObjects and ExportOrder.
func (r *Registry) RemoveObjects(names []string) []string {
	var removed []string
	for _, name := range names {
		if name == model.CaseLimitsName {
			continue
		}
		if _, ok := r.c.SimObjects[name]; !ok {
			continue
		}
		r.drop(name)
		removed = append(removed, name)
	}
	r.notify()
	return removed
}

// Reconcile prunes registrations whose host object was deleted or gained a
// parent, and rebuilds an empty export order. It reports whether anything
// changed.
func (r *Registry) Reconcile() bool {
	changed := false
	for _, name := range r.c.RegisteredNames() {
		if name == model.CaseLimitsName || r.doc == nil {
			continue
		}
		obj, ok := r.doc.Object(name)
		if !ok || obj.HasParent() {
			r.drop(name)
			changed = true
		}
	}
	for _, name := range slices.Clone(r.c.ExportOrder) {
		if _, ok := r.c.SimObjects[name]; !ok || name == model.CaseLimitsName {
			r.c.ExportOrder = remove(r.c.ExportOrder, name)
			changed = true
		}
	}
	if len(r.c.ExportOrder) == 0 && len(r.c.SimObjects) > 1 {
		r.c.ExportOrder = r.exportableNames()
		changed = true
	}
	if changed {
		r.notify()
	}
	return changed
}

// MoveUp swaps name with its predecessor in the export order. Moving the first
// entry is a no-op.
func (r *Registry) MoveUp(name string) bool {
	i := slices.Index(r.c.ExportOrder, name)
	if i <= 0 {
		return false
	}
	r.c.ExportOrder[i-1], r.c.ExportOrder[i] = r.c.ExportOrder[i], r.c.ExportOrder[i-1]
	r.notify()
	return true
}

// MoveDown swaps name with its successor. Moving the last entry is a no-op.
func (r *Registry) MoveDown(name string) bool {
	i := slices.Index(r.c.ExportOrder, name)
	if i < 0 || i == len(r.c.ExportOrder)-1 {
		return false
	}
	r.c.ExportOrder[i+1], r.c.ExportOrder[i] = r.c.ExportOrder[i], r.c.ExportOrder[i+1]
	r.notify()
	return true
}

// ExportList returns the export order for display.
func (r *Registry) ExportList() []string {
	return slices.DeleteFunc(slices.Clone(r.c.ExportOrder), func(s string) bool {
		return s == model.CaseLimitsName
	})
}

// SetMK assigns mk to a registered object after checking it against the kind's range.
func (r *Registry) SetMK(name string, mk int) error {
	obj, err := r.lookup(name)
	if err != nil {
		return err
	}
	if mk < 0 || mk > obj.Kind.MaxMK() {
		return fmt.Errorf("%w: %d not in 0-%d for %s", ErrMKOutOfRange, mk, obj.Kind.MaxMK(), obj.Kind)
	}
	obj.MK = mk
	r.c.SimObjects[name] = obj
	r.notify()
	return nil
}

// SetKind changes the object kind. Turning a bound object into fluid drops its
// floating configuration; the mk is clamped into the new range.
func (r *Registry) SetKind(name string, kind model.Kind) error {
	obj, err := r.lookup(name)
	if err != nil {
		return err
	}
	if kind != model.KindFluid && kind != model.KindBound {
		return fmt.Errorf("invalid kind %q", kind)
	}
	if obj.Kind == kind {
		return nil
	}
	if obj.Kind == model.KindBound {
		delete(r.c.FloatingBodies, model.MKKey(obj.MK))
	} else {
		delete(r.c.InitialVelocities, model.MKKey(obj.MK))
	}
	obj.Kind = kind
	if obj.MK > kind.MaxMK() {
		obj.MK = kind.MaxMK()
	}
	r.c.SimObjects[name] = obj
	r.notify()
	return nil
}

// SetFill changes the object's fill mode.
func (r *Registry) SetFill(name string, fill model.FillMode) error {
	obj, err := r.lookup(name)
	if err != nil {
		return err
	}
	if fill == model.FillSpecial {
		return fmt.Errorf("invalid fill mode %q", fill)
	}
	obj.Fill = fill
	r.c.SimObjects[name] = obj
	r.notify()
	return nil
}

// SetFloating marks a bound mk-group as floating, overwriting any previous configuration.
func (r *Registry) SetFloating(mk int, body model.FloatingBody) error {
	if mk < 0 || mk > model.MaxBoundMK {
		return fmt.Errorf("%w: floating mk %d", ErrMKOutOfRange, mk)
	}
	r.c.FloatingBodies[model.MKKey(mk)] = body
	return nil
}

// ClearFloating removes the floating configuration of mk.
func (r *Registry) ClearFloating(mk int) {
	delete(r.c.FloatingBodies, model.MKKey(mk))
}

// SetInitialVelocity sets the initial velocity of a fluid mk-group.
func (r *Registry) SetInitialVelocity(mk int, v model.Vec3) error {
	if mk < 0 || mk > model.MaxFluidMK {
		return fmt.Errorf("%w: fluid mk %d", ErrMKOutOfRange, mk)
	}
	r.c.InitialVelocities[model.MKKey(mk)] = v
	return nil
}

// ClearInitialVelocity removes the initial velocity of mk.
func (r *Registry) ClearInitialVelocity(mk int) {
	delete(r.c.InitialVelocities, model.MKKey(mk))
}

func (r *Registry) lookup(name string) (model.SimObject, error) {
	if name == model.CaseLimitsName {
		return model.SimObject{}, ErrCaseLimits
	}
	obj, ok := r.c.SimObjects[name]
	if !ok {
		return model.SimObject{}, fmt.Errorf("%w: %s", ErrNotRegistered, name)
	}
	return obj, nil
}

// drop removes name from both structures in one step.
func (r *Registry) drop(name string) {
	delete(r.c.SimObjects, name)
	r.c.ExportOrder = remove(r.c.ExportOrder, name)
}

func (r *Registry) firstUnusedMK(kind model.Kind) (int, bool) {
	used := make(map[int]bool)
	for _, obj := range r.c.SimObjects {
		if obj.Kind == kind {
			used[obj.MK] = true
		}
	}
	for mk := 0; mk <= kind.MaxMK(); mk++ {
		if !used[mk] {
			return mk, true
		}
	}
	return 0, false
}

func (r *Registry) exportableNames() []string {
	names := make([]string, 0, len(r.c.SimObjects))
	for name := range r.c.SimObjects {
		if name != model.CaseLimitsName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func remove(list []string, name string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == name })
}
