// Package xmlcase reads and writes the solver's case definition XML.
//
// Coordinates in the XML are metres; the host document works in
// millimetres, so imported positions and sizes are scaled by 1000 and
// written ones divided by 1000.
package xmlcase

import (
	"encoding/xml"
	"strconv"
	"strings"
)

// mmPerMetre converts XML lengths to host document lengths.
const mmPerMetre = 1000.0

type valueAuto struct {
	Value float64 `xml:"value,attr"`
	Auto  string  `xml:"auto,attr,omitempty"`
}

func (v valueAuto) auto() bool {
	return strings.EqualFold(v.Auto, "true")
}

type value struct {
	Value float64 `xml:"value,attr"`
}

type xyz struct {
	X float64 `xml:"x,attr"`
	Y float64 `xml:"y,attr"`
	Z float64 `xml:"z,attr"`
}

type lattice struct {
	Bound int `xml:"bound,attr"`
	Fluid int `xml:"fluid,attr"`
}

type constantsDef struct {
	Lattice     lattice   `xml:"lattice"`
	Gravity     xyz       `xml:"gravity"`
	Rhop0       value     `xml:"rhop0"`
	Hswl        valueAuto `xml:"hswl"`
	Gamma       value     `xml:"gamma"`
	SpeedSystem valueAuto `xml:"speedsystem"`
	CoefSound   value     `xml:"coefsound"`
	SpeedSound  valueAuto `xml:"speedsound"`
	CoefH       value     `xml:"coefh"`
	CFLNumber   value     `xml:"cflnumber"`
	H           valueAuto `xml:"h"`
	B           valueAuto `xml:"b"`
	MassBound   valueAuto `xml:"massbound"`
	MassFluid   valueAuto `xml:"massfluid"`
}

type definition struct {
	DP       float64 `xml:"dp,attr"`
	PointMin xyz     `xml:"pointmin"`
	PointMax xyz     `xml:"pointmax"`
}

// command is any element of the geometry main list. Children and text are
// kept so modifiers like <boxfill> can be read.
type command struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []command  `xml:",any"`
	Text     string     `xml:",chardata"`
}

func (c command) attr(name string) (string, bool) {
	for _, a := range c.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (c command) float(name string) (float64, bool) {
	s, ok := c.attr(name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

type geometry struct {
	Definition definition `xml:"definition"`
	MainList   struct {
		Commands []command `xml:",any"`
	} `xml:"commands>mainlist"`
}

type floating struct {
	MKBound       int    `xml:"mkbound,attr"`
	MassBody      *value `xml:"massbody"`
	RhopBody      *value `xml:"rhopbody"`
	Center        *xyz   `xml:"center"`
	Inertia       *xyz   `xml:"inertia"`
	LinearVelini  *xyz   `xml:"linearvelini"`
	AngularVelini *xyz   `xml:"angularvelini"`
}

type velocity struct {
	MKFluid int     `xml:"mkfluid,attr"`
	X       float64 `xml:"x,attr"`
	Y       float64 `xml:"y,attr"`
	Z       float64 `xml:"z,attr"`
}

type parameter struct {
	Key     string `xml:"key,attr"`
	Value   string `xml:"value,attr"`
	Comment string `xml:"comment,attr,omitempty"`
}

type caseXML struct {
	XMLName xml.Name `xml:"case"`
	App     string   `xml:"app,attr"`
	Date    string   `xml:"date,attr,omitempty"`
	CaseDef struct {
		Constants constantsDef `xml:"constantsdef"`
		MKConfig  *mkConfig    `xml:"mkconfig,omitempty"`
		Geometry  geometry     `xml:"geometry"`
		Floatings []floating   `xml:"floatings>floating,omitempty"`
		Initials  []velocity   `xml:"initials>velocity,omitempty"`
	} `xml:"casedef"`
	Execution struct {
		Parameters []parameter `xml:"parameters>parameter"`
	} `xml:"execution"`
}

type mkConfig struct {
	BoundCount int `xml:"boundcount,attr"`
	FluidCount int `xml:"fluidcount,attr"`
}
