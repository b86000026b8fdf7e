// Package scripts writes the run.bat and run.sh launchers that replay the
// GenCase, solver and PartVTK steps of a saved case outside the manager.
package scripts

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/designsph/dsphcase/internal/model"
	"github.com/designsph/dsphcase/internal/util"
)

// AppName appears in the generated banner.
const AppName = "dsphcase"

const (
	BatchFile = "run.bat"
	ShellFile = "run.sh"
)

// ErrMissingExecutables means at least one tool path is unset; no script is written.
var ErrMissingExecutables = errors.New("one or more executable paths are not set")

const intro = `This script executes GenCase for the case saved, that generates output files in the *_Out dir. Then, executes a simulation on {{.Device}} of the case. Last, it exports all the geometry generated in VTK files for viewing with ParaView.`

const outro = `------- Execution complete. If results were not the expected ones check for errors. Make sure your case has a correct DP specification. -------`

var batchTmpl = template.Must(template.New(BatchFile).Parse(`@echo off
echo "------- Autoexported by {{.App}} -------"
echo "` + intro + `"
pause
{{template "steps" .}}echo "` + outro + `"
pause
`))

var shellTmpl = template.Must(template.New(ShellFile).Parse(`#!/bin/bash
echo "------- Autoexported by {{.App}} -------"
echo "` + intro + `"
read -rsp $"Press any key to continue..." -n 1 key
{{template "steps" .}}echo "` + outro + `"
read -rsp $"Press any key to continue..." -n 1 key
`))

const steps = `{{define "steps"}}"{{.GenCase}}" {{.Def}} {{.Out}}/{{.Name}} -save:+all
"{{.Solver}}" {{.Out}}/{{.Name}} {{.Out}} -svres {{.Flag}}
"{{.PartVTK}}" -dirin {{.Out}} -savevtk {{.Out}}/PartAll
{{end}}`

func init() {
	template.Must(batchTmpl.Parse(steps))
	template.Must(shellTmpl.Parse(steps))
}

type scriptData struct {
	App     string
	Device  string
	GenCase string
	Solver  string
	PartVTK string
	Def     string
	Out     string
	Name    string
	Flag    string
}

// Render returns the contents of both launchers.
func Render(c *model.Case) (batch, shell []byte, err error) {
	if !c.Executables.Complete() {
		return nil, nil, ErrMissingExecutables
	}
	data := scriptData{
		App:     AppName,
		Device:  string(c.Processor),
		GenCase: c.Executables.GenCase,
		Solver:  c.Executables.DualSPHysics,
		PartVTK: c.Executables.PartVTK,
		Def:     filepath.ToSlash(util.DefPath(c.ProjectPath, c.ProjectName)),
		Out:     filepath.ToSlash(util.OutDir(c.ProjectPath, c.ProjectName)),
		Name:    c.ProjectName,
		Flag:    c.Processor.Flag(),
	}

	var b, s bytes.Buffer
	if err := batchTmpl.Execute(&b, data); err != nil {
		return nil, nil, fmt.Errorf("render %s: %w", BatchFile, err)
	}
	if err := shellTmpl.Execute(&s, data); err != nil {
		return nil, nil, fmt.Errorf("render %s: %w", ShellFile, err)
	}
	return b.Bytes(), s.Bytes(), nil
}

// Generate writes run.bat and run.sh into the project directory.
func Generate(c *model.Case) error {
	batch, shell, err := Render(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(c.ProjectPath, BatchFile), batch, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", BatchFile, err)
	}
	if err := os.WriteFile(filepath.Join(c.ProjectPath, ShellFile), shell, 0o755); err != nil {
		return fmt.Errorf("write %s: %w", ShellFile, err)
	}
	return nil
}
