package xmlcase

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/designsph/dsphcase/internal/hostdoc"
	"github.com/designsph/dsphcase/internal/model"
)

// BoxTypeID is the host type of objects created for imported boxes.
const BoxTypeID = hostdoc.BoxTypeID

// ImportedObject is a box recreated from a drawbox command.
type ImportedObject struct {
	Name      string
	MK        int
	Kind      model.Kind
	Fill      model.FillMode
	BoxFill   string
	Placement hostdoc.Placement
	Axis      model.Vec3
	Size      model.Vec3
}

// HostObject returns the host document object for the box.
func (o ImportedObject) HostObject() hostdoc.Object {
	return hostdoc.Object{
		Name:      o.Name,
		Label:     o.Name,
		TypeID:    BoxTypeID,
		Placement: o.Placement,
		Size:      [3]float64{o.Size.X, o.Size.Y, o.Size.Z},
	}
}

// Result is everything read from a case definition.
type Result struct {
	Name        string
	DP          float64
	Constants   model.Constants
	ExecParams  map[string]model.ExecParam
	MKBoundUsed []int
	MKFluidUsed []int
	Floatings   map[string]model.FloatingBody
	Velocities  map[string]model.Vec3
	Objects     []ImportedObject
	// Warnings lists commands and modifiers that were skipped.
	Warnings []string
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ImportFile reads a case definition from disk.
func ImportFile(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open case definition: %w", err)
	}
	defer f.Close()
	return Import(f)
}

// Import parses a case definition. Unsupported geometry commands are
// skipped and reported in Result.Warnings; only malformed XML is an error.
func Import(r io.Reader) (*Result, error) {
	var doc caseXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode case definition: %w", err)
	}

	res := &Result{
		Name:       doc.App,
		DP:         doc.CaseDef.Geometry.Definition.DP,
		Constants:  importConstants(doc.CaseDef.Constants),
		ExecParams: make(map[string]model.ExecParam),
		Floatings:  make(map[string]model.FloatingBody),
		Velocities: make(map[string]model.Vec3),
	}

	for _, p := range doc.Execution.Parameters {
		key := strings.ToLower(p.Key)
		auto := strings.Contains(key, "#")
		key = strings.ReplaceAll(key, "#", "")
		v, err := strconv.ParseFloat(strings.TrimSpace(p.Value), 64)
		if err != nil {
			res.warnf("parameter %s has a non-numeric value %q, ignoring", p.Key, p.Value)
			continue
		}
		res.ExecParams[key] = model.ExecParam{Value: v, Auto: auto}
	}

	for _, fl := range doc.CaseDef.Floatings {
		res.Floatings[model.MKKey(fl.MKBound)] = importFloating(fl)
	}
	for _, v := range doc.CaseDef.Initials {
		res.Velocities[model.MKKey(v.MKFluid)] = model.Vec3{X: v.X, Y: v.Y, Z: v.Z}
	}

	res.importCommands(doc.CaseDef.Geometry.MainList.Commands)
	return res, nil
}

func importConstants(c constantsDef) model.Constants {
	av := func(v valueAuto) model.AutoValue {
		return model.AutoValue{Value: v.Value, Auto: v.auto()}
	}
	return model.Constants{
		LatticeBound: c.Lattice.Bound,
		LatticeFluid: c.Lattice.Fluid,
		Gravity:      model.Vec3{X: c.Gravity.X, Y: c.Gravity.Y, Z: c.Gravity.Z},
		Rhop0:        c.Rhop0.Value,
		Hswl:         av(c.Hswl),
		Gamma:        c.Gamma.Value,
		SpeedSystem:  av(c.SpeedSystem),
		CoefSound:    c.CoefSound.Value,
		SpeedSound:   av(c.SpeedSound),
		CoefH:        c.CoefH.Value,
		CFLNumber:    c.CFLNumber.Value,
		H:            av(c.H),
		B:            av(c.B),
		MassBound:    av(c.MassBound),
		MassFluid:    av(c.MassFluid),
	}
}

func importFloating(fl floating) model.FloatingBody {
	vec := func(v *xyz) model.AutoVec {
		if v == nil {
			return model.AutoVec{Auto: true}
		}
		return model.AutoVec{Vec3: model.Vec3{X: v.X, Y: v.Y, Z: v.Z}}
	}
	body := model.FloatingBody{
		Center:                 vec(fl.Center),
		Inertia:                vec(fl.Inertia),
		InitialLinearVelocity:  vec(fl.LinearVelini),
		InitialAngularVelocity: vec(fl.AngularVelini),
	}
	switch {
	case fl.RhopBody != nil:
		body.MassRhop = model.MassRhop{Method: model.MassByRhop, Value: fl.RhopBody.Value}
	case fl.MassBody != nil:
		body.MassRhop = model.MassRhop{Method: model.MassByMass, Value: fl.MassBody.Value}
	}
	return body
}

// importCommands replays the main list the way the case generator does:
// move, rotate and the current mk/draw mode apply to every following
// drawbox until the next matrixreset.
func (res *Result) importCommands(cmds []command) {
	var (
		move   model.Vec3
		angle  float64
		axis   model.Vec3
		kind   model.Kind
		mk     int
		fill   = model.FillFull
		usedMK = map[model.Kind]map[int]bool{
			model.KindBound: {},
			model.KindFluid: {},
		}
	)

	for i, cmd := range cmds {
		switch cmd.XMLName.Local {
		case "matrixreset":
			move = model.Vec3{}
			angle = 0
			axis = model.Vec3{}

		case "setmkfluid", "setmkbound":
			k := model.KindBound
			if cmd.XMLName.Local == "setmkfluid" {
				k = model.KindFluid
			}
			s, _ := cmd.attr("mk")
			n, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil {
				res.warnf("%s has an invalid mk %q, ignoring", cmd.XMLName.Local, s)
				continue
			}
			kind, mk = k, n
			if !usedMK[k][n] {
				usedMK[k][n] = true
				if k == model.KindFluid {
					res.MKFluidUsed = append(res.MKFluidUsed, n)
				} else {
					res.MKBoundUsed = append(res.MKBoundUsed, n)
				}
			}

		case "setdrawmode":
			s, _ := cmd.attr("mode")
			m, err := model.ParseFillMode(s)
			if err != nil {
				res.warnf("draw mode %q is not supported, keeping %s", s, fill)
				continue
			}
			fill = m

		case "move":
			move = scaledXYZ(cmd)

		case "rotate":
			angle, _ = cmd.float("ang")
			axis = plainXYZ(cmd)

		case "drawbox":
			obj := ImportedObject{
				Name:    "Box" + strconv.Itoa(i),
				MK:      mk,
				Kind:    kind,
				Fill:    fill,
				BoxFill: "solid",
				Axis:    axis,
				Size:    model.Vec3{X: 1, Y: 1, Z: 1},
			}
			if obj.Kind == "" {
				res.warnf("drawbox %s has no mk set, registering as bound 0", obj.Name)
				obj.Kind = model.KindBound
			}
			var point model.Vec3
			for _, sub := range cmd.Children {
				switch sub.XMLName.Local {
				case "boxfill":
					obj.BoxFill = strings.TrimSpace(sub.Text)
				case "point":
					point = scaledXYZ(sub)
				case "size":
					obj.Size = scaledXYZ(sub)
				default:
					res.warnf("modifier %s of %s is not supported, ignoring", sub.XMLName.Local, cmd.XMLName.Local)
				}
			}
			obj.Placement = hostdoc.Placement{
				X:     point.X + move.X,
				Y:     point.Y + move.Y,
				Z:     point.Z + move.Z,
				Angle: angle,
			}
			res.Objects = append(res.Objects, obj)

		default:
			res.warnf("command %s is not supported, ignoring", cmd.XMLName.Local)
		}
	}
	sort.Ints(res.MKBoundUsed)
	sort.Ints(res.MKFluidUsed)
}

func plainXYZ(c command) model.Vec3 {
	x, _ := c.float("x")
	y, _ := c.float("y")
	z, _ := c.float("z")
	return model.Vec3{X: x, Y: y, Z: z}
}

func scaledXYZ(c command) model.Vec3 {
	v := plainXYZ(c)
	return model.Vec3{X: v.X * mmPerMetre, Y: v.Y * mmPerMetre, Z: v.Z * mmPerMetre}
}

// Apply copies the imported configuration into c. Objects are not
// registered here; they have to be created in the host document first.
func (res *Result) Apply(c *model.Case) {
	if res.DP > 0 {
		c.DP = res.DP
	}
	c.Constants = res.Constants
	for k, v := range res.ExecParams {
		c.ExecParams[k] = v
	}
	for k, v := range res.Floatings {
		c.FloatingBodies[k] = v
	}
	for k, v := range res.Velocities {
		c.InitialVelocities[k] = v
	}
}
