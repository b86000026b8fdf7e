package model

import (
	"fmt"
	"sort"
	"strconv"
)

// CaseLimitsName is the identifier of the fixed case-limits object present in every case.
const CaseLimitsName = "Case_Limits"

// TimeMaxUnknown marks Case.TimeMax before the solver log reported it.
const TimeMaxUnknown = -1.0

// MK ranges accepted by the external tools.
const (
	MaxBoundMK = 240
	MaxFluidMK = 10
)

// Kind is the particle kind of a registered object.
type Kind string

const (
	KindFluid   Kind = "fluid"
	KindBound   Kind = "bound"
	KindSpecial Kind = "typespecial"
)

// MaxMK returns the highest valid mk-group for the kind, or -1 if the kind has no range.
func (k Kind) MaxMK() int {
	switch k {
	case KindFluid:
		return MaxFluidMK
	case KindBound:
		return MaxBoundMK
	default:
		return -1
	}
}

// ParseKind parses a user supplied kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFluid, KindBound:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown object kind %q", s)
}

// FillMode controls how an object's geometry is exported.
type FillMode string

const (
	FillFull    FillMode = "full"
	FillSolid   FillMode = "solid"
	FillFace    FillMode = "face"
	FillWire    FillMode = "wire"
	FillSpecial FillMode = "fillspecial"
)

// ParseFillMode parses a user supplied fill mode.
func ParseFillMode(s string) (FillMode, error) {
	switch FillMode(s) {
	case FillFull, FillSolid, FillFace, FillWire:
		return FillMode(s), nil
	}
	return "", fmt.Errorf("unknown fill mode %q", s)
}

// Processor selects the solver's execution device.
type Processor string

const (
	ProcessorCPU Processor = "CPU"
	ProcessorGPU Processor = "GPU"
)

// Flag returns the solver command line flag for the processor, e.g. "-cpu".
func (p Processor) Flag() string {
	if p == ProcessorGPU {
		return "-gpu"
	}
	return "-cpu"
}

// SimObject is the registration of one host document object.
type SimObject struct {
	MK   int      `json:"mk"`
	Kind Kind     `json:"kind"`
	Fill FillMode `json:"fill"`
}

// Vec3 is a plain 3D vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// AutoVec is a vector the solver may compute itself when Auto is set.
type AutoVec struct {
	Auto bool `json:"auto"`
	Vec3
}

// MassMethod selects whether a floating body is specified by mass or density.
type MassMethod int

const (
	MassByMass MassMethod = iota
	MassByRhop
)

// MassRhop is the mass or density of a floating body.
type MassRhop struct {
	Method MassMethod `json:"method"`
	Value  float64    `json:"value"`
}

// FloatingBody configures rigid-body dynamics for a bound mk-group.
type FloatingBody struct {
	MassRhop               MassRhop `json:"massRhop"`
	Center                 AutoVec  `json:"center"`
	Inertia                AutoVec  `json:"inertia"`
	InitialLinearVelocity  AutoVec  `json:"initialLinearVelocity"`
	InitialAngularVelocity AutoVec  `json:"initialAngularVelocity"`
}

// AutoValue is a constant the external tools can also derive on their own.
type AutoValue struct {
	Value float64 `json:"value"`
	Auto  bool    `json:"auto"`
}

// Constants holds the case physical constants.
type Constants struct {
	LatticeBound int       `json:"latticeBound"`
	LatticeFluid int       `json:"latticeFluid"`
	Gravity      Vec3      `json:"gravity"`
	Rhop0        float64   `json:"rhop0"`
	Hswl         AutoValue `json:"hswl"`
	Gamma        float64   `json:"gamma"`
	SpeedSystem  AutoValue `json:"speedSystem"`
	CoefSound    float64   `json:"coefSound"`
	SpeedSound   AutoValue `json:"speedSound"`
	CoefH        float64   `json:"coefH"`
	CFLNumber    float64   `json:"cflNumber"`
	H            AutoValue `json:"h"`
	B            AutoValue `json:"b"`
	MassBound    AutoValue `json:"massBound"`
	MassFluid    AutoValue `json:"massFluid"`
}

// ExecParam is a named solver execution parameter.
type ExecParam struct {
	Value float64 `json:"value"`
	Auto  bool    `json:"auto"`
}

// Executables holds the paths of the three external tools.
type Executables struct {
	GenCase      string `json:"gencase"`
	DualSPHysics string `json:"dualsphysics"`
	PartVTK      string `json:"partvtk"`
}

// Complete reports whether every executable path is set.
func (e Executables) Complete() bool {
	return e.GenCase != "" && e.DualSPHysics != "" && e.PartVTK != ""
}

// Case is the root aggregate of a project.
type Case struct {
	DP          float64 `json:"dp"`
	ProjectPath string  `json:"projectPath"`
	ProjectName string  `json:"projectName"`

	Constants            Constants            `json:"constants"`
	ExecParams           map[string]ExecParam `json:"execParams"`
	AdditionalParameters string               `json:"additionalParameters"`
	ExportOptions        string               `json:"exportOptions"`
	Executables          Executables          `json:"executables"`
	Processor            Processor            `json:"processor"`

	GenCaseDone       bool    `json:"gencaseDone"`
	SimulationDone    bool    `json:"simulationDone"`
	TotalParticles    int     `json:"totalParticles"`
	TotalParticlesOut int     `json:"totalParticlesOut"`
	TimeMax           float64 `json:"timeMax"`

	SimObjects        map[string]SimObject    `json:"simObjects"`
	ExportOrder       []string                `json:"exportOrder"`
	FloatingBodies    map[string]FloatingBody `json:"floatingBodies"`
	InitialVelocities map[string]Vec3         `json:"initialVelocities"`
}

// NewCase returns a case with default constants and the case-limits object registered.
func NewCase() *Case {
	c := &Case{
		DP:          0.01,
		Constants:   DefaultConstants(),
		ExecParams:  DefaultExecParams(),
		Processor:   ProcessorCPU,
		TimeMax:     TimeMaxUnknown,
		SimObjects:  make(map[string]SimObject),
		ExportOrder: []string{},

		FloatingBodies:    make(map[string]FloatingBody),
		InitialVelocities: make(map[string]Vec3),
	}
	c.SimObjects[CaseLimitsName] = SimObject{MK: -1, Kind: KindSpecial, Fill: FillSpecial}
	return c
}

// Normalize fills maps a decoded case may lack and restores the case-limits entry.
func (c *Case) Normalize() {
	if c.SimObjects == nil {
		c.SimObjects = make(map[string]SimObject)
	}
	if _, ok := c.SimObjects[CaseLimitsName]; !ok {
		c.SimObjects[CaseLimitsName] = SimObject{MK: -1, Kind: KindSpecial, Fill: FillSpecial}
	}
	if c.ExportOrder == nil {
		c.ExportOrder = []string{}
	}
	if c.ExecParams == nil {
		c.ExecParams = DefaultExecParams()
	}
	if c.FloatingBodies == nil {
		c.FloatingBodies = make(map[string]FloatingBody)
	}
	if c.InitialVelocities == nil {
		c.InitialVelocities = make(map[string]Vec3)
	}
	if c.Processor == "" {
		c.Processor = ProcessorCPU
	}
}

// RegisteredNames returns the registered object identifiers in sorted order.
func (c *Case) RegisteredNames() []string {
	names := make([]string, 0, len(c.SimObjects))
	for name := range c.SimObjects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MKKey returns the map key used for per-mk configuration.
func MKKey(mk int) string {
	return strconv.Itoa(mk)
}

// DefaultConstants mirrors the defaults of the case definition tools.
func DefaultConstants() Constants {
	return Constants{
		LatticeBound: 1,
		LatticeFluid: 1,
		Gravity:      Vec3{X: 0, Y: 0, Z: -9.81},
		Rhop0:        1000,
		Hswl:         AutoValue{Auto: true},
		Gamma:        7,
		SpeedSystem:  AutoValue{Auto: true},
		CoefSound:    20,
		SpeedSound:   AutoValue{Auto: true},
		CoefH:        1,
		CFLNumber:    0.2,
		H:            AutoValue{Auto: true},
		B:            AutoValue{Auto: true},
		MassBound:    AutoValue{Auto: true},
		MassFluid:    AutoValue{Auto: true},
	}
}

// DefaultExecParams returns the default solver execution parameters.
func DefaultExecParams() map[string]ExecParam {
	return map[string]ExecParam{
		"stepalgorithm":    {Value: 1},
		"verletsteps":      {Value: 40},
		"kernel":           {Value: 2},
		"viscotreatment":   {Value: 1},
		"visco":            {Value: 0.01},
		"viscoboundfactor": {Value: 1},
		"deltasph":         {Value: 0},
		"shifting":         {Value: 0},
		"rigidalgorithm":   {Value: 1},
		"ftpause":          {Value: 0},
		"coefdtmin":        {Value: 0.05},
		"dtini":            {Value: 0.0001, Auto: true},
		"dtmin":            {Value: 0.00001, Auto: true},
		"dtallparticles":   {Value: 0},
		"timemax":          {Value: 1.5},
		"timeout":          {Value: 0.01},
		"incz":             {Value: 1},
		"partsoutmax":      {Value: 1},
		"rhopoutmin":       {Value: 700},
		"rhopoutmax":       {Value: 1300},
	}
}
