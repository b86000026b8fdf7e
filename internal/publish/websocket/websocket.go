// Package websocket publishes run and export progress of a case session to
// a WebSocket server.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/designsph/dsphcase/internal/config"
	"github.com/designsph/dsphcase/pkg/streaming"
)

// Config holds WebSocket publisher configuration.
type Config struct {
	URL    string
	Secret string
}

// FromSettings builds a Config from the stream settings.
func FromSettings(sc config.StreamConfig) Config {
	return Config{URL: sc.URL, Secret: sc.Secret}
}

// Publisher streams progress messages. Progress and registry messages are
// fire-and-forget, with progress coalesced per kind; project open/close
// wait for an ack.
type Publisher struct {
	conn *connection
	cfg  Config
}

// New creates a publisher. Call Connect before publishing.
func New(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn: newConnection(logger.With("component", "stream")),
		cfg:  cfg,
	}
}

// Connect dials the server.
func (p *Publisher) Connect() error {
	return p.conn.dial(p.cfg.URL, p.cfg.Secret)
}

// Close disconnects from the server.
func (p *Publisher) Close() error {
	return p.conn.close()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

func (p *Publisher) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	p.conn.send(data)
	return nil
}

// OpenProject announces the project and waits for the server ack. The
// message is replayed on reconnect.
func (p *Publisher) OpenProject(payload streaming.OpenProjectPayload) error {
	data, err := marshalEnvelope(streaming.TypeOpenProject, payload)
	if err != nil {
		return err
	}

	p.conn.mu.Lock()
	p.conn.cachedOpenMsg = data
	p.conn.mu.Unlock()

	return p.conn.sendAndWait(data, streaming.TypeOpenProject, ackTimeout)
}

// CloseProject sends close_project and waits for the server ack.
func (p *Publisher) CloseProject() error {
	data, err := marshalEnvelope(streaming.TypeCloseProject, nil)
	if err != nil {
		return err
	}
	err = p.conn.sendAndWait(data, streaming.TypeCloseProject, ackTimeout)

	p.conn.mu.Lock()
	p.conn.cachedOpenMsg = nil
	p.conn.mu.Unlock()

	return err
}

// Publish sends one progress sample. An unsent sample of the same kind is
// replaced rather than queued behind.
func (p *Publisher) Publish(_ context.Context, sample streaming.Progress) error {
	msgType := sample.MessageType()
	data, err := marshalEnvelope(msgType, sample)
	if err != nil {
		return err
	}
	p.conn.supersede(msgType, data)
	return nil
}

// RegistryChanged sends the new export order.
func (p *Publisher) RegistryChanged(payload streaming.RegistryPayload) error {
	return p.sendEnvelope(streaming.TypeRegistryChanged, payload)
}
