// Package runner drives the external case tools: the blocking GenCase step
// and the solver run, whose progress is followed through Run.out.
package runner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrAlreadyRunning = errors.New("a process is already running")
	ErrNotConfigured  = errors.New("not configured")
)

// Commands posted to the event loop by the monitor and export driver.
const (
	CmdRunChanged = "run.changed"
	CmdRunExit    = "run.exit"
)

// PostFunc hands a notification to the event loop. Payloads are the event
// structs of this package.
type PostFunc func(command string, payload any)

// ProcessError carries the diagnostic text an external tool printed when it failed.
type ProcessError struct {
	Tool     string
	ExitCode int
	Detail   string
}

func (e *ProcessError) Error() string {
	msg := fmt.Sprintf("%s failed with exit code %d", e.Tool, e.ExitCode)
	if d := strings.TrimSpace(e.Detail); d != "" {
		first, _, _ := strings.Cut(d, "\n")
		msg += ": " + first
	}
	return msg
}
