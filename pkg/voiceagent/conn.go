package voiceagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultEndpoint is the production agent converse endpoint.
const DefaultEndpoint = "wss://agent.deepgram.com/v1/agent/converse"

// KeepAliveInterval is how often a session should send KeepAlive while
// the call is up.
const KeepAliveInterval = 30 * time.Second

// Config carries what Dial needs to open an agent session.
type Config struct {
	Endpoint string
	APIKey   string
	Log      *slog.Logger
}

// Conn is one live agent session. Writes are serialized internally so
// the heartbeat and the event handlers can share the socket; reads must
// stay on a single goroutine.
type Conn struct {
	ws  *websocket.Conn
	log *slog.Logger

	wmu sync.Mutex
}

// Dial opens the websocket and sends the Settings handshake. The API key
// rides in the websocket subprotocol list.
func Dial(ctx context.Context, cfg Config, settings Settings) (*Conn, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("voiceagent: missing api key")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{"token", cfg.APIKey},
		HandshakeTimeout: 10 * time.Second,
	}
	ws, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial agent: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial agent: %w", err)
	}

	c := &Conn{ws: ws, log: log}
	if err := c.Send(settings); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send settings: %w", err)
	}
	log.Debug("agent session opened", "endpoint", endpoint, "language", settings.Agent.Language)
	return c, nil
}

// Send writes one JSON control message.
func (c *Conn) Send(msg any) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteJSON(msg)
}

// SendAudio writes one binary frame of caller audio.
func (c *Conn) SendAudio(chunk []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, chunk)
}

// Read blocks for the next frame. Binary frames return audio with a nil
// event; text frames return a parsed event with nil audio.
func (c *Conn) Read() (*Event, []byte, error) {
	msgType, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, nil, err
	}
	if msgType == websocket.BinaryMessage {
		return nil, data, nil
	}
	ev, err := ParseEvent(data)
	if err != nil {
		c.log.Warn("unparseable agent event", "error", err)
		return nil, nil, nil
	}
	return &ev, nil, nil
}

// Close tears the socket down. Safe to call more than once.
func (c *Conn) Close() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
