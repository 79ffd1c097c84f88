// Package wsadapter adapts a gorilla/websocket connection to the
// connloop.Stream / handshake.Stream interfaces, translating protocol
// messages to and from websocket text frames and keeping the transport's
// own ping/pong/close control frames invisible to the codec above it
// (spec.md §9 Open Question 4: "the websocket layer's own ping/pong control
// frames are a transport-level concern, distinct from the protocol's
// application-level Ping/Pong commands, and must never reach the codec").
//
// Grounded on the teacher's and the pack's use of gorilla/websocket for a
// long-lived duplex JSON channel (nixfleet's internal/agent/websocket.go and
// internal/dashboard/hub.go): deadline-extending Pong/Ping handlers, a
// write-side mutex since gorilla forbids concurrent writers on one
// connection, and WriteControl for the close handshake.
package wsadapter

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/helios-home/control-plane/internal/protocol"
)

const (
	// transportPongWait bounds how long the adapter accepts silence from the
	// peer's websocket-level Pong before treating the socket as dead. This is
	// independent of, and shorter-lived than, the application-level Ping/Pong
	// liveness round trip connloop drives over the same connection.
	transportPongWait = 60 * time.Second
	transportPingEvery = (transportPongWait * 9) / 10
	writeWait          = 10 * time.Second
)

// Upgrader wraps websocket.Upgrader with the control plane's fixed frame
// size limit (protocol.MaxFrameSize).
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conn adapts one *websocket.Conn to protocol.Message Send/Recv/Close.
type Conn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	stopPing chan struct{}
	stopOnce sync.Once
}

// Accept upgrades an incoming HTTP request to a websocket and wraps it.
// The caller owns running the connection's protocol loop and eventually
// calling Close.
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("wsadapter: upgrade: %w", err)
	}
	return wrap(ws), nil
}

// Dial connects to url as a websocket client (the agent side).
func Dial(url string, header http.Header) (*Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.Dial(url, header)
	if err != nil {
		return nil, fmt.Errorf("wsadapter: dial: %w", err)
	}
	return wrap(ws), nil
}

func wrap(ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws, stopPing: make(chan struct{})}

	ws.SetReadDeadline(time.Now().Add(transportPongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(transportPongWait))
		return nil
	})
	ws.SetPingHandler(func(data string) error {
		ws.SetReadDeadline(time.Now().Add(transportPongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
		return ws.WriteMessage(websocket.PongMessage, []byte(data))
	})

	go c.keepalive()
	return c
}

// keepalive sends transport-level websocket Ping control frames so the peer
// (and any intermediate proxy) keeps the TCP connection alive. Distinct from
// connloop's application-level Ping/Pong, which rides inside a normal text
// frame and is driven by the ACM broadcast tick instead of a fixed ticker.
func (c *Conn) keepalive() {
	ticker := time.NewTicker(transportPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.stopPing:
			return
		}
	}
}

// Send encodes msg as JSON and writes it as one websocket text frame.
func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("wsadapter: set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrStreamClosed, err)
	}
	return nil
}

// Recv blocks for the next text frame and decodes it as a protocol.Message.
// Control frames (ping/pong/close) are consumed by gorilla's read loop via
// the handlers installed in wrap and never reach this method; Binary frames
// are rejected outright, since the wire protocol is JSON text only.
func (c *Conn) Recv() (protocol.Message, error) {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return protocol.Message{}, fmt.Errorf("%w: %v", protocol.ErrStreamClosed, err)
		}
		switch kind {
		case websocket.TextMessage:
			return decode(data)
		case websocket.BinaryMessage:
			return protocol.Message{}, fmt.Errorf("%w: binary frames are not accepted", protocol.ErrMalformedFrame)
		default:
			// Control frames are handled by gorilla before ReadMessage
			// returns them here; this default case only guards against a
			// future gorilla frame kind we don't yet know about.
			continue
		}
	}
}

func decode(data []byte) (protocol.Message, error) {
	if len(data) > protocol.MaxFrameSize {
		return protocol.Message{}, fmt.Errorf("%w: %d bytes", protocol.ErrFrameTooLarge, len(data))
	}
	return protocol.Decode(data)
}

// Close sends a normal-closure control frame and closes the underlying TCP
// connection.
func (c *Conn) Close() error {
	c.stopOnce.Do(func() { close(c.stopPing) })

	c.writeMu.Lock()
	deadline := time.Now().Add(writeWait)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	c.writeMu.Unlock()

	return c.ws.Close()
}
