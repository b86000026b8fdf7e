// Package monitor periodically writes the session status to a JSON file so
// external tools can follow a headless session.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the status file written into the status directory.
const FileName = "status.json"

// Status is a point-in-time view of a session.
type Status struct {
	Time              time.Time `json:"time"`
	Project           string    `json:"project"`
	ProjectPath       string    `json:"projectPath"`
	GenCaseDone       bool      `json:"gencaseDone"`
	SimulationDone    bool      `json:"simulationDone"`
	TotalParticles    int       `json:"totalParticles"`
	RegisteredObjects int       `json:"registeredObjects"`
	RunState          string    `json:"runState"`
	RunProgress       *float64  `json:"runProgress,omitempty"`
	ETA               string    `json:"eta,omitempty"`
	ParticlesOut      int       `json:"particlesOut"`
	ExportBusy        bool      `json:"exportBusy"`
	ExportProgress    string    `json:"exportProgress"`
	PendingEvents     int       `json:"pendingEvents"`
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	// Snapshot returns the current status. It is called from the monitor
	// goroutine and must be safe for that.
	Snapshot func() Status
	Dir      string
	Interval time.Duration
	Logger   *slog.Logger
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	doneChan  chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 5 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{deps: deps}
}

// Path returns the status file location.
func (s *Service) Path() string {
	return filepath.Join(s.deps.Dir, FileName)
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// WriteStatus writes one snapshot, replacing the previous file.
func (s *Service) WriteStatus() error {
	st := s.deps.Snapshot()
	if st.Time.IsZero() {
		st.Time = time.Now()
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	tmp := s.Path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		return fmt.Errorf("replace status: %w", err)
	}
	return nil
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(s.deps.Dir, 0o755); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("create status dir: %w", err)
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	stop, done := s.stopChan, s.doneChan
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		logger := s.deps.Logger
		logger.Debug("Starting status monitor", "path", s.Path(), "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing final status", "error", err)
				}
				return
			case <-ticker.C:
				if err := s.WriteStatus(); err != nil {
					logger.Error("Error writing status file", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor after writing a last snapshot.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.doneChan
	s.isRunning = false
	s.mu.Unlock()
	<-done
}
