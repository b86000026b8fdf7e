// Package util provides small helpers shared by the case manager packages.
package util

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode"
)

// ErrPathHasSpace is returned for project paths the external tools cannot handle.
var ErrPathHasSpace = errors.New("path contains whitespace")

// ErrEmptyPath is returned when no project path was given.
var ErrEmptyPath = errors.New("path is empty")

// TrimQuotes removes leading and trailing double quotes from a string.
func TrimQuotes(s string) string {
	return strings.Trim(s, `"`)
}

// SplitArgs splits user supplied extra arguments on whitespace.
// Quoting is not supported. Strings shorter than two characters
// are treated as "no extra arguments".
func SplitArgs(s string) []string {
	if len(strings.TrimSpace(s)) < 2 {
		return nil
	}
	return strings.Fields(s)
}

// ValidateProjectPath rejects empty paths and paths containing whitespace.
func ValidateProjectPath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if strings.IndexFunc(path, unicode.IsSpace) >= 0 {
		return ErrPathHasSpace
	}
	return nil
}

// AbsProjectPath validates path and returns it absolute and cleaned, the
// form projects are stored and looked up under.
func AbsProjectPath(path string) (string, error) {
	if err := ValidateProjectPath(path); err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if err := ValidateProjectPath(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// ProjectName derives the case name from the project directory.
func ProjectName(projectPath string) string {
	return filepath.Base(filepath.Clean(projectPath))
}

// OutDir returns <project>/<name>_Out.
func OutDir(projectPath, name string) string {
	return filepath.Join(projectPath, name+"_Out")
}

// DefPath returns <project>/<name>_Def, the GenCase input definition prefix.
func DefPath(projectPath, name string) string {
	return filepath.Join(projectPath, name+"_Def")
}

// DetailSection returns the text after the first "=====" separator line
// the external tools print before their diagnostics. If there is no
// separator the whole text is returned.
func DetailSection(output string) string {
	const sep = "================================"
	parts := strings.SplitN(output, sep, 3)
	if len(parts) < 2 {
		return strings.TrimSpace(output)
	}
	return strings.TrimSpace(parts[1])
}
