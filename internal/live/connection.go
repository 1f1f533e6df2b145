package live

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const writeTimeout = 10 * time.Second

// Connection is one organizer browser watching an event. Writes are
// serialized by writeMu so that broadcasts, pongs and heartbeat pings never
// interleave frame bytes.
type Connection struct {
	ID        string
	EventID   string
	Conn      net.Conn
	CreatedAt time.Time

	lastSeen atomic.Int64 // unix nanos of the last frame read, control frames included
	writeMu  sync.Mutex
}

func newConnection(id, eventID string, conn net.Conn) *Connection {
	c := &Connection{ID: id, EventID: eventID, Conn: conn, CreatedAt: time.Now()}
	c.touch()
	return c
}

// WriteMessage sends a text frame.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a protocol-level ping frame.
func (c *Connection) WritePing() error {
	return c.writeFrame(ws.NewPingFrame(nil))
}

func (c *Connection) writeFrame(f ws.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteFrame(c.Conn, f)
}

// handleControl answers a control frame read from the client. Pings get a
// pong, a close is echoed and reported as io.EOF.
func (c *Connection) handleControl(hdr ws.Header, r io.Reader) error {
	payload, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	switch hdr.OpCode {
	case ws.OpPing:
		return c.writeFrame(ws.NewPongFrame(payload))
	case ws.OpClose:
		_ = c.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		return io.EOF
	}
	return nil
}

// LastSeen returns when the client last sent a frame. Pongs answering the
// heartbeat count, so an idle browser tab stays connected.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Connection) touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// Close closes the underlying network connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
