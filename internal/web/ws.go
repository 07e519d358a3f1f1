package web

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/internal/observability"
)

const (
	wsGUID         = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"
	wsOpText       = 1
	wsOpClose      = 8
	wsOpPing       = 9
	wsOpPong       = 10
	wsMaxFrameSize = 1 << 20 // 1MB
)

// EventType labels a change notification sent to dashboard sessions.
type EventType string

const (
	EventTaskChanged       EventType = "task_changed"
	EventFocusChanged      EventType = "focus_changed"
	EventDependencyChanged EventType = "dependency_changed"
	EventPlanApplied       EventType = "plan_applied"
)

// Event is the change-notification envelope mirrored to UI sessions.
// Delivery is fire-and-forget; consumers refetch whatever they render.
type Event struct {
	Type    EventType `json:"type"`
	Op      string    `json:"op"`
	TaskIDs []int64   `json:"task_ids,omitempty"`
}

// wsConn is a single upgraded connection.
type wsConn struct {
	conn   net.Conn
	rw     *bufio.ReadWriter
	mu     sync.Mutex
	closed bool
	id     string
}

// Hub keeps the connected dashboard sessions and broadcasts events to
// them. Write failures drop the message silently; they are never
// surfaced to the HTTP caller that triggered the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*wsConn
	log     *observability.Logger
}

// NewHub creates an empty hub.
func NewHub(log *observability.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*wsConn),
		log:     log,
	}
}

// ClientCount returns the number of connected sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to every connected session.
func (h *Hub) Broadcast(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}

	h.mu.RLock()
	clients := make([]*wsConn, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeText(data); err != nil {
			h.log.Debug("ws broadcast dropped", "conn", c.id, "error", err.Error())
		}
	}
}

// Close shuts down every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.close()
		delete(h.clients, id)
	}
}

// HandleUpgrade performs the WebSocket handshake and starts the read
// loop for one session.
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Upgrade") != "websocket" {
		http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
		return
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key", http.StatusBadRequest)
		return
	}

	sum := sha1.New()
	sum.Write([]byte(key + wsGUID))
	acceptKey := base64.StdEncoding.EncodeToString(sum.Sum(nil))

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "server doesn't support hijacking", http.StatusInternalServerError)
		return
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + acceptKey + "\r\n\r\n"
	bufrw.WriteString(resp)
	bufrw.Flush()

	c := &wsConn{
		conn: conn,
		rw:   bufrw,
		id:   uuid.New().String(),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Debug("ws client connected", "conn", c.id)

	go h.readLoop(c)
}

// readLoop drains incoming frames. The dashboard mirror is one-way, so
// text frames are ignored; only keepalive and close matter.
func (h *Hub) readLoop(c *wsConn) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		c.close()
		h.log.Debug("ws client disconnected", "conn", c.id)
	}()

	for {
		opcode, payload, err := readFrame(c.rw.Reader)
		if err != nil {
			return
		}
		switch opcode {
		case wsOpPing:
			c.writePong(payload)
		case wsOpClose:
			return
		}
	}
}

// writeText sends a text frame.
func (c *wsConn) writeText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	return writeFrame(c.rw.Writer, wsOpText, data)
}

// writePong sends a pong frame.
func (c *wsConn) writePong(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection closed")
	}
	return writeFrame(c.rw.Writer, wsOpPong, data)
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.conn.Close()
	}
}

// --- RFC 6455 frame I/O ---

// readFrame reads a single WebSocket frame. Client frames are always
// masked (RFC 6455 §5.1).
func readFrame(r *bufio.Reader) (opcode byte, payload []byte, err error) {
	b0, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	opcode = b0 & 0x0f

	b1, err := r.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	masked := b1&0x80 != 0
	length := uint64(b1 & 0x7f)

	switch length {
	case 126:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, nil, err
		}
		length = uint64(binary.BigEndian.Uint16(buf[:]))
	case 127:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, nil, err
		}
		length = binary.BigEndian.Uint64(buf[:])
	}

	if length > wsMaxFrameSize {
		return 0, nil, fmt.Errorf("frame too large: %d bytes", length)
	}

	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(r, maskKey[:]); err != nil {
			return 0, nil, err
		}
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}

	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}
	return opcode, payload, nil
}

// writeFrame writes a single WebSocket frame. Server frames are not masked.
func writeFrame(w *bufio.Writer, opcode byte, data []byte) error {
	if err := w.WriteByte(0x80 | opcode); err != nil {
		return err
	}

	length := len(data)
	switch {
	case length <= 125:
		if err := w.WriteByte(byte(length)); err != nil {
			return err
		}
	case length <= 65535:
		if err := w.WriteByte(126); err != nil {
			return err
		}
		var buf [2]byte
		binary.BigEndian.PutUint16(buf[:], uint16(length))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	default:
		if err := w.WriteByte(127); err != nil {
			return err
		}
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(length))
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}

	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Flush()
}
