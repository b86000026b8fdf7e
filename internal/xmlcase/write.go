package xmlcase

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/designsph/dsphcase/internal/hostdoc"
	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/util"
)

// Fill-box groups hold a seed point and a limit box as children.
const (
	fillPointMarker = "fillpoint"
	fillLimitMarker = "filllimit"
)

// DefinitionPath returns the file GenCase reads for the case.
func DefinitionPath(c *model.Case) string {
	return util.DefPath(c.ProjectPath, c.ProjectName) + ".xml"
}

// WriteDefinitionFile writes the case definition next to the project.
func WriteDefinitionFile(c *model.Case, doc hostdoc.Document) ([]string, error) {
	path := DefinitionPath(c)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create case definition: %w", err)
	}
	warnings, err := WriteDefinition(f, c, doc)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close case definition: %w", cerr)
	}
	return warnings, err
}

// WriteDefinition renders the case in export order. Objects missing from
// the document or with a shape the generator cannot draw are skipped with
// a warning.
func WriteDefinition(w io.Writer, c *model.Case, doc hostdoc.Document) ([]string, error) {
	var warnings []string
	warnf := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	var out caseXML
	out.App = c.ProjectName
	out.Date = time.Now().Format("02-01-2006 15:04:05")
	out.CaseDef.Constants = exportConstants(c.Constants)
	out.CaseDef.Geometry.Definition.DP = c.DP

	if limits, ok := doc.Object(model.CaseLimitsName); ok {
		p := limits.Placement
		out.CaseDef.Geometry.Definition.PointMin = metres(p.X, p.Y, p.Z)
		out.CaseDef.Geometry.Definition.PointMax = metres(p.X+limits.Size[0], p.Y+limits.Size[1], p.Z+limits.Size[2])
	} else {
		warnf("%s is not in the document, case limits left at the origin", model.CaseLimitsName)
	}

	var cmds []command
	for _, name := range c.ExportOrder {
		so, ok := c.SimObjects[name]
		if !ok || name == model.CaseLimitsName {
			continue
		}
		obj, ok := doc.Object(name)
		if !ok {
			warnf("object %s is not in the document, skipped", name)
			continue
		}

		var drawn []command
		switch {
		case hostdoc.IsFillBox(name):
			fb, err := fillBoxCommand(doc, obj)
			if err != nil {
				warnf("fill box %s skipped: %v", name, err)
				continue
			}
			drawn = []command{fb}
		case obj.TypeID == BoxTypeID:
			drawn = boxCommands(obj)
		default:
			warnf("object %s has unsupported shape %s, skipped", name, obj.TypeID)
			continue
		}

		cmds = append(cmds, mkCommand(so), elem("setdrawmode", "mode", string(so.Fill)))
		cmds = append(cmds, drawn...)
		cmds = append(cmds, elem("matrixreset"))
	}
	out.CaseDef.Geometry.MainList.Commands = cmds
	out.CaseDef.MKConfig = &mkConfig{BoundCount: model.MaxBoundMK, FluidCount: model.MaxFluidMK}

	for _, key := range sortedKeys(c.FloatingBodies) {
		mk, err := strconv.Atoi(key)
		if err != nil {
			warnf("floating body key %q is not an mk, skipped", key)
			continue
		}
		out.CaseDef.Floatings = append(out.CaseDef.Floatings, exportFloating(mk, c.FloatingBodies[key]))
	}
	for _, key := range sortedKeys(c.InitialVelocities) {
		mk, err := strconv.Atoi(key)
		if err != nil {
			warnf("initial velocity key %q is not an mk, skipped", key)
			continue
		}
		v := c.InitialVelocities[key]
		out.CaseDef.Initials = append(out.CaseDef.Initials, velocity{MKFluid: mk, X: v.X, Y: v.Y, Z: v.Z})
	}

	for _, key := range sortedKeys(c.ExecParams) {
		p := c.ExecParams[key]
		k := key
		if p.Auto {
			k = "#" + key
		}
		out.Execution.Parameters = append(out.Execution.Parameters, parameter{
			Key:   k,
			Value: strconv.FormatFloat(p.Value, 'g', -1, 64),
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return warnings, err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "    ")
	if err := enc.Encode(out); err != nil {
		return warnings, fmt.Errorf("encode case definition: %w", err)
	}
	return warnings, enc.Close()
}

func exportConstants(c model.Constants) constantsDef {
	av := func(v model.AutoValue) valueAuto {
		return valueAuto{Value: v.Value, Auto: strconv.FormatBool(v.Auto)}
	}
	return constantsDef{
		Lattice:     lattice{Bound: c.LatticeBound, Fluid: c.LatticeFluid},
		Gravity:     xyz{X: c.Gravity.X, Y: c.Gravity.Y, Z: c.Gravity.Z},
		Rhop0:       value{c.Rhop0},
		Hswl:        av(c.Hswl),
		Gamma:       value{c.Gamma},
		SpeedSystem: av(c.SpeedSystem),
		CoefSound:   value{c.CoefSound},
		SpeedSound:  av(c.SpeedSound),
		CoefH:       value{c.CoefH},
		CFLNumber:   value{c.CFLNumber},
		H:           av(c.H),
		B:           av(c.B),
		MassBound:   av(c.MassBound),
		MassFluid:   av(c.MassFluid),
	}
}

func exportFloating(mk int, body model.FloatingBody) floating {
	vec := func(v model.AutoVec) *xyz {
		if v.Auto {
			return nil
		}
		return &xyz{X: v.X, Y: v.Y, Z: v.Z}
	}
	fl := floating{
		MKBound:       mk,
		Center:        vec(body.Center),
		Inertia:       vec(body.Inertia),
		LinearVelini:  vec(body.InitialLinearVelocity),
		AngularVelini: vec(body.InitialAngularVelocity),
	}
	if body.MassRhop.Method == model.MassByRhop {
		fl.RhopBody = &value{body.MassRhop.Value}
	} else {
		fl.MassBody = &value{body.MassRhop.Value}
	}
	return fl
}

func mkCommand(so model.SimObject) command {
	name := "setmkbound"
	if so.Kind == model.KindFluid {
		name = "setmkfluid"
	}
	return elem(name, "mk", strconv.Itoa(so.MK))
}

func boxCommands(obj hostdoc.Object) []command {
	p := obj.Placement
	cmds := []command{xyzElem("move", metres(p.X, p.Y, p.Z))}
	if p.Angle != 0 {
		rot := elem("rotate", "ang", formatFloat(p.Angle), "x", "0", "y", "0", "z", "1")
		cmds = append(cmds, rot)
	}
	box := elem("drawbox")
	box.Children = []command{
		{XMLName: xml.Name{Local: "boxfill"}, Text: "solid"},
		xyzElem("point", xyz{}),
		xyzElem("size", metres(obj.Size[0], obj.Size[1], obj.Size[2])),
	}
	return append(cmds, box)
}

func fillBoxCommand(doc hostdoc.Document, group hostdoc.Object) (command, error) {
	var seed, limit *hostdoc.Object
	for _, child := range group.Children {
		obj, ok := doc.Object(child)
		if !ok {
			continue
		}
		id := strings.ToLower(obj.Name + " " + obj.Label)
		switch {
		case strings.Contains(id, fillPointMarker):
			seed = &obj
		case strings.Contains(id, fillLimitMarker):
			limit = &obj
		}
	}
	if seed == nil || limit == nil {
		return command{}, fmt.Errorf("needs a fill point and a fill limit child")
	}

	sp := seed.Placement
	s := metres(sp.X, sp.Y, sp.Z)
	fb := elem("fillbox", "x", formatFloat(s.X), "y", formatFloat(s.Y), "z", formatFloat(s.Z))
	lp := limit.Placement
	fb.Children = []command{
		{XMLName: xml.Name{Local: "modefill"}, Text: "void"},
		xyzElem("point", metres(lp.X, lp.Y, lp.Z)),
		xyzElem("size", metres(limit.Size[0], limit.Size[1], limit.Size[2])),
	}
	return fb, nil
}

func elem(name string, kv ...string) command {
	c := command{XMLName: xml.Name{Local: name}}
	for i := 0; i+1 < len(kv); i += 2 {
		c.Attrs = append(c.Attrs, xml.Attr{Name: xml.Name{Local: kv[i]}, Value: kv[i+1]})
	}
	return c
}

func xyzElem(name string, v xyz) command {
	return elem(name, "x", formatFloat(v.X), "y", formatFloat(v.Y), "z", formatFloat(v.Z))
}

func metres(x, y, z float64) xyz {
	return xyz{X: x / mmPerMetre, Y: y / mmPerMetre, Z: z / mmPerMetre}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
