// Package streaming defines the messages a case session publishes over the
// progress stream. Every message is an Envelope; open_project and
// close_project are acknowledged by the server.
package streaming

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message type constants matching the streaming protocol.
const (
	TypeOpenProject     = "open_project"
	TypeCloseProject    = "close_project"
	TypeRunProgress     = "run_progress"
	TypeExportProgress  = "export_progress"
	TypeRegistryChanged = "registry_changed"
)

// Run kinds reported in progress messages.
const (
	KindSimulation = "simulation"
	KindExport     = "export"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// OpenProjectPayload announces the project following messages refer to.
type OpenProjectPayload struct {
	ProjectPath    string `json:"projectPath"`
	ProjectName    string `json:"projectName"`
	TotalParticles int    `json:"totalParticles"`
	GenCaseDone    bool   `json:"gencaseDone"`
}

// Progress is one progress sample of a simulation or export run. Percent
// is only meaningful when Known is set.
type Progress struct {
	RunID        uuid.UUID `json:"runId"`
	Project      string    `json:"project"`
	Kind         string    `json:"kind"`
	State        string    `json:"state"`
	Percent      float64   `json:"percent"`
	Known        bool      `json:"known"`
	ETA          string    `json:"eta,omitempty"`
	ParticlesOut int       `json:"particlesOut"`
	Detail       string    `json:"detail,omitempty"`
	Time         time.Time `json:"time"`
}

// MessageType returns the envelope type for the sample.
func (p Progress) MessageType() string {
	if p.Kind == KindExport {
		return TypeExportProgress
	}
	return TypeRunProgress
}

// RegistryPayload carries the export order after a registry change.
type RegistryPayload struct {
	Project string   `json:"project"`
	Order   []string `json:"order"`
}
