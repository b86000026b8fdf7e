// Package hostdoc models the CAD host document the case is synchronised with.
// The host owns its objects; callers only hold identifiers and must tolerate
// objects disappearing at any time.
package hostdoc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/designsph/dsphcase/internal/model"
)

// Type ids of the objects a new case document holds.
const (
	BoxTypeID    = "Part::Box"
	SphereTypeID = "Part::Sphere"
)

// GroupTypeID is the type of plain object groups, the container used for fill boxes.
const GroupTypeID = "App::DocumentObjectGroup"

// ErrNoDocument is returned when no case document is open in the host.
var ErrNoDocument = errors.New("no case document open")

// Placement is the position and rotation of an object.
type Placement struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Angle float64 `json:"angle"`
}

// Object is a read-only view of one host document object.
type Object struct {
	Name      string     `json:"name"`
	Label     string     `json:"label"`
	TypeID    string     `json:"typeId"`
	Parents   []string   `json:"parents,omitempty"`
	Children  []string   `json:"children,omitempty"`
	Placement Placement  `json:"placement"`
	Size      [3]float64 `json:"size"`
}

// HasParent reports whether the object is owned by another object.
func (o Object) HasParent() bool {
	return len(o.Parents) > 0
}

// IsFillBox reports whether the object name carries the fill-box marker.
func IsFillBox(name string) bool {
	return strings.Contains(strings.ToLower(name), "fillbox")
}

// Document is the subset of the host document the engine reads and writes.
type Document interface {
	Objects() []Object
	Object(name string) (Object, bool)
	Selection() []string
	SetRotation(name string, angle float64) error
	AddObject(obj Object) error
	SaveAs(path string) error
}

// Provider returns the currently open case document, or ErrNoDocument.
type Provider interface {
	Active() (Document, error)
}

// Opener is implemented by providers that can open a saved native document.
type Opener interface {
	Open(path string) error
}

// Memory is an in-process document backed by a JSON snapshot on disk.
type Memory struct {
	mu        sync.RWMutex
	objects   map[string]Object
	selection []string
}

type snapshot struct {
	Objects   []Object `json:"objects"`
	Selection []string `json:"selection,omitempty"`
}

// NewMemory creates a document holding the given objects.
func NewMemory(objects ...Object) *Memory {
	m := &Memory{objects: make(map[string]Object, len(objects))}
	for _, o := range objects {
		m.objects[o.Name] = o
	}
	return m
}

// NewCaseDocument returns an empty case document holding only the case
// limits, a 1 m cube at the origin. Sizes are in millimetres.
func NewCaseDocument() *Memory {
	return NewMemory(Object{
		Name:   model.CaseLimitsName,
		Label:  model.CaseLimitsName,
		TypeID: BoxTypeID,
		Size:   [3]float64{1000, 1000, 1000},
	})
}

// LoadSnapshot reads a document previously written by SaveAs.
func LoadSnapshot(path string) (*Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", path, err)
	}
	m := NewMemory(s.Objects...)
	m.selection = s.Selection
	return m, nil
}

func (m *Memory) Objects() []Object {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Object, 0, len(m.objects))
	for _, o := range m.objects {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Memory) Object(name string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.objects[name]
	return o, ok
}

func (m *Memory) Selection() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.selection...)
}

// Select replaces the current selection.
func (m *Memory) Select(names ...string) {
	m.mu.Lock()
	m.selection = append([]string(nil), names...)
	m.mu.Unlock()
}

func (m *Memory) SetRotation(name string, angle float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[name]
	if !ok {
		return fmt.Errorf("object %q not in document", name)
	}
	o.Placement.Angle = angle
	m.objects[name] = o
	return nil
}

// AddObject inserts obj and links it to the parents it names.
func (m *Memory) AddObject(obj Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[obj.Name]; exists {
		return fmt.Errorf("object %q already exists", obj.Name)
	}
	for _, p := range obj.Parents {
		parent, ok := m.objects[p]
		if !ok {
			return fmt.Errorf("parent %q of %q not in document", p, obj.Name)
		}
		parent.Children = append(parent.Children, obj.Name)
		m.objects[p] = parent
	}
	m.objects[obj.Name] = obj
	return nil
}

// Remove deletes an object and unlinks it from its parents and children.
func (m *Memory) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[name]
	if !ok {
		return
	}
	delete(m.objects, name)
	for _, p := range o.Parents {
		if parent, ok := m.objects[p]; ok {
			parent.Children = without(parent.Children, name)
			m.objects[p] = parent
		}
	}
	for _, c := range o.Children {
		if child, ok := m.objects[c]; ok {
			child.Parents = without(child.Parents, name)
			m.objects[c] = child
		}
	}
}

// Reparent makes child owned by parent, as grouping does in the host.
func (m *Memory) Reparent(child, parent string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.objects[child]
	if !ok {
		return fmt.Errorf("object %q not in document", child)
	}
	p, ok := m.objects[parent]
	if !ok {
		return fmt.Errorf("object %q not in document", parent)
	}
	c.Parents = append(c.Parents, parent)
	p.Children = append(p.Children, child)
	m.objects[child] = c
	m.objects[parent] = p
	return nil
}

func (m *Memory) SaveAs(path string) error {
	s := snapshot{Objects: m.Objects(), Selection: m.Selection()}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

func without(list []string, name string) []string {
	out := list[:0]
	for _, s := range list {
		if s != name {
			out = append(out, s)
		}
	}
	return out
}

// Static is a Provider with a settable document; nil means no document is open.
type Static struct {
	mu  sync.RWMutex
	doc Document
}

// NewStatic returns a provider for doc.
func NewStatic(doc Document) *Static {
	return &Static{doc: doc}
}

// Set swaps the open document.
func (s *Static) Set(doc Document) {
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

func (s *Static) Active() (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.doc == nil {
		return nil, ErrNoDocument
	}
	return s.doc, nil
}

// Open loads a snapshot written by Memory.SaveAs and makes it the open document.
func (s *Static) Open(path string) error {
	doc, err := LoadSnapshot(path)
	if err != nil {
		return err
	}
	s.Set(doc)
	return nil
}
