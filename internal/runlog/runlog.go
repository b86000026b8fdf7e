// Package runlog parses the solver's Run.out progress log.
//
// Grammar of the text protocol (version "runout/1"):
//
//	timemax  = "TimeMax=" float                  ; first occurrence wins
//	progress = ... "Part_" ... float ... [eta]   ; last line only
//	eta      = last double-space separated field containing "-"
//	out      = "Particles out:" ... "(total: " int ")"  ; last line only
//
// Only the last line of the log is used for progress and particles-out,
// since the solver appends one status line per saved part.
package runlog

import (
	"errors"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// FileName is the log written by the solver into the output directory.
const FileName = "Run.out"

// ErrTimeMaxUnknown is returned when progress is requested before TimeMax was seen.
var ErrTimeMaxUnknown = errors.New("simulation time max not yet known")

// Status is the accumulated view of a running simulation.
type Status struct {
	TimeMax      float64
	SimTime      float64
	HasSimTime   bool
	ETA          string
	ParticlesOut int
}

// NewStatus returns a status with an unknown TimeMax.
func NewStatus() Status {
	return Status{TimeMax: -1}
}

// Progress returns SimTime as a percentage of TimeMax.
func (s Status) Progress() (float64, error) {
	if s.TimeMax <= 0 {
		return 0, ErrTimeMaxUnknown
	}
	return s.SimTime * 100 / s.TimeMax, nil
}

// Parser applies a log snapshot to a status. Implementations must be safe to
// call repeatedly with a growing log.
type Parser interface {
	Version() string
	Apply(content string, st *Status)
}

// NewParser returns the parser for the current log format.
func NewParser() Parser {
	return textV1{}
}

var (
	timeRe  = regexp.MustCompile(`(\d+)\.(\d+)`)
	totalRe = regexp.MustCompile(`\(total:\s*(\d+)\)`)
)

type textV1 struct{}

func (textV1) Version() string { return "runout/1" }

func (textV1) Apply(content string, st *Status) {
	lines := splitLines(content)
	if len(lines) == 0 {
		return
	}
	if st.TimeMax < 0 {
		for _, l := range lines {
			if v, ok := parseTimeMax(l); ok {
				st.TimeMax = v
				break
			}
		}
	}

	last := lines[len(lines)-1]
	switch {
	case strings.Contains(last, "Part_"):
		if v, ok := parseSimTime(last); ok {
			st.SimTime = v
			st.HasSimTime = true
		}
		if eta, ok := parseETA(last); ok {
			st.ETA = eta
		}
	case strings.Contains(last, "Particles out:"):
		if m := totalRe.FindStringSubmatch(last); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				st.ParticlesOut = n
			}
		}
	}
}

func splitLines(content string) []string {
	raw := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	lines := raw[:0]
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func parseTimeMax(line string) (float64, bool) {
	i := strings.Index(line, "TimeMax=")
	if i < 0 {
		return 0, false
	}
	field := strings.Fields(line[i+len("TimeMax="):])
	if len(field) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(field[0], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseSimTime returns the first decimal number on a progress line.
func parseSimTime(line string) (float64, bool) {
	m := timeRe.FindString(line)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseETA(line string) (string, bool) {
	parts := strings.Split(strings.TrimRight(line, " \t"), "  ")
	eta := strings.TrimSpace(parts[len(parts)-1])
	if eta == "" || !strings.Contains(eta, "-") {
		return "", false
	}
	for _, marker := range []string{"===", "CellDiv", "memory"} {
		if strings.Contains(eta, marker) {
			return "", false
		}
	}
	return eta, true
}

// ReadFile returns the current log content.
func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
