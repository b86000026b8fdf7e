package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"slices"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/designsph/dsphcase/pkg/streaming"
)

const (
	sendChSize   = 1_000
	ackChSize    = 16
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

// connection manages a WebSocket connection with a single write goroutine.
type connection struct {
	mu     sync.Mutex
	link   *link
	sendCh chan []byte
	ackCh  chan streaming.AckMessage
	done   chan struct{} // closed on shutdown
	closed bool

	wsURL  string
	secret string

	// open_project message replayed after a reconnect.
	cachedOpenMsg []byte

	// Latest unsent message per key. A newer sample replaces an older one,
	// so a slow or reconnecting server gets current progress instead of a
	// backlog. Survives reconnects.
	latest   map[string][]byte
	latestCh chan struct{}

	// first reconnect delay; shortened in tests
	baseBackoff time.Duration

	logger *slog.Logger
}

// link is one dialed socket. Its write loop is the only writer, including
// the close frame; the first loop to fail starts the reconnect.
type link struct {
	conn      *ws.Conn
	failOnce  sync.Once
	failed    chan struct{}
	closeReq  chan struct{}
	writeDone chan struct{}
}

func newLink(conn *ws.Conn) *link {
	return &link{
		conn:      conn,
		failed:    make(chan struct{}),
		closeReq:  make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		sendCh:      make(chan []byte, sendChSize),
		ackCh:       make(chan streaming.AckMessage, ackChSize),
		done:        make(chan struct{}),
		latest:      make(map[string][]byte),
		latestCh:    make(chan struct{}, 1),
		baseBackoff: time.Second,
		logger:      logger,
	}
}

// dial connects to the WebSocket server and starts read/write loops.
func (c *connection) dial(rawURL, secret string) error {
	c.wsURL = rawURL
	c.secret = secret

	conn, err := c.dialOnce()
	if err != nil {
		return err
	}

	l := newLink(conn)
	c.mu.Lock()
	c.link = l
	c.mu.Unlock()

	go c.writeLoop(l)
	go c.readLoop(l)

	return nil
}

// dialOnce performs a single WebSocket dial with the secret query param.
func (c *connection) dialOnce() (*ws.Conn, error) {
	u, err := url.Parse(c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if c.secret != "" {
		q := u.Query()
		q.Set("secret", c.secret)
		u.RawQuery = q.Encode()
	}

	conn, _, err := ws.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// fail marks l broken and starts one reconnect for it, however many of its
// loops report an error.
func (c *connection) fail(l *link, err error) {
	l.failOnce.Do(func() {
		close(l.failed)
		c.logger.Warn("Progress stream error", "error", err)
		go c.reconnect(l)
	})
}

// writeLoop drains sendCh and the superseding slots for l. It returns on
// error, when l fails or after writing the close frame.
func (c *connection) writeLoop(l *link) {
	defer close(l.writeDone)
	for {
		select {
		case <-l.failed:
			return
		case <-l.closeReq:
			_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = l.conn.WriteMessage(
				ws.CloseMessage,
				ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			)
			return
		case data := <-c.sendCh:
			if err := write(l.conn, data); err != nil {
				c.fail(l, err)
				return
			}
		case <-c.latestCh:
			batch := c.takeLatest()
			keys := slices.Sorted(maps.Keys(batch))
			for i, key := range keys {
				if err := write(l.conn, batch[key]); err != nil {
					c.restoreLatest(batch, keys[i:])
					c.fail(l, err)
					return
				}
			}
		}
	}
}

// write sends one text frame.
func write(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

func (c *connection) takeLatest() map[string][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.latest
	c.latest = make(map[string][]byte)
	return batch
}

// restoreLatest puts back the unsent part of a batch unless a newer message
// arrived for the same key meanwhile.
func (c *connection) restoreLatest(batch map[string][]byte, keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if _, newer := c.latest[key]; !newer {
			c.latest[key] = batch[key]
		}
	}
}

func (c *connection) wakeLatest() {
	select {
	case c.latestCh <- struct{}{}:
	default:
	}
}

// readLoop routes acks from the server to ackCh.
func (c *connection) readLoop(l *link) {
	for {
		_, message, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-l.closeReq:
				return
			default:
			}
			c.fail(l, err)
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil {
			c.logger.Debug("Non-ack message received", "raw", string(message))
			continue
		}

		if ack.Type == "ack" {
			select {
			case c.ackCh <- ack:
			default:
				c.logger.Debug("Ack channel full, dropping", "for", ack.For)
			}
		}
	}
}

// reconnect replaces the failed link: it re-dials with exponential backoff,
// replays the cached open_project message and restarts the loops.
func (c *connection) reconnect(failed *link) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.link == failed {
		c.link = nil
	}
	c.mu.Unlock()
	<-failed.writeDone
	_ = failed.conn.Close()

	backoff := c.baseBackoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Reconnecting to progress stream", "attempt", attempt)
		conn, err := c.dialOnce()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		cached := c.cachedOpenMsg
		c.mu.Unlock()

		// no loop runs on conn yet, so writing here does not race
		if cached != nil {
			if err := write(conn, cached); err != nil {
				c.logger.Warn("Failed to replay open_project after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		l := newLink(conn)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.link = l
		c.mu.Unlock()

		c.logger.Info("Progress stream reconnected", "attempt", attempt)
		go c.writeLoop(l)
		go c.readLoop(l)
		c.wakeLatest()
		return
	}

	c.logger.Error("Progress stream reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send pushes data to the write loop. Non-blocking; drops if channel full.
func (c *connection) send(data []byte) {
	select {
	case c.sendCh <- data:
	default:
		c.logger.Warn("Progress stream send channel full, dropping message")
	}
}

// supersede queues data under key, replacing an unsent message with the
// same key.
func (c *connection) supersede(key string, data []byte) {
	c.mu.Lock()
	c.latest[key] = data
	c.mu.Unlock()
	c.wakeLatest()
}

// sendAndWait blocks until the server acks ackFor or the timeout expires.
func (c *connection) sendAndWait(data []byte, ackFor string, timeout time.Duration) error {
	c.send(data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ack := <-c.ackCh:
			if ack.For == ackFor {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ack of %q", ackFor)
		case <-c.done:
			return fmt.Errorf("connection closed while waiting for ack of %q", ackFor)
		}
	}
}

// close has the write loop send a close frame, then shuts down all
// goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	l := c.link
	c.link = nil
	c.mu.Unlock()

	if l != nil {
		close(l.closeReq)
		select {
		case <-l.writeDone:
		case <-time.After(writeWait):
		}
	}
	close(c.done)
	if l != nil {
		return l.conn.Close()
	}
	return nil
}
