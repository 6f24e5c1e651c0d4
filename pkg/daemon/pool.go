package daemon

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/netscale/pkg/netutil"
	"github.com/charlie0129/netscale/pkg/protocol"
	"github.com/charlie0129/netscale/pkg/types"
)

const readChunkSize = 512

// ErrConnectionSaturated is returned by Admit when every slot is taken.
var ErrConnectionSaturated = errors.New("all connection slots are in use")

// client is one protocol connection in a slot. Its reader goroutine only
// forwards bytes; parsing and responses happen on the tick goroutine.
type client struct {
	id          string
	slot        int
	conn        net.Conn
	remote      string
	connectedAt time.Time
	commands    uint64

	lines  protocol.LineBuffer
	chunks chan []byte

	gone      atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn net.Conn, slot int) *client {
	c := &client{
		id:          uuid.NewString(),
		slot:        slot,
		conn:        conn,
		remote:      conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		chunks:      make(chan []byte, 16),
		done:        make(chan struct{}),
	}
	go c.read()
	return c
}

func (c *client) fields() logrus.Fields {
	return logrus.Fields{
		"client": c.id,
		"slot":   c.slot,
		"remote": c.remote,
	}
}

func (c *client) read() {
	defer close(c.chunks)
	defer c.gone.Store(true)

	buf := make([]byte, readChunkSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			b := make([]byte, n)
			copy(b, buf[:n])
			select {
			case c.chunks <- b:
			case <-c.done:
				return
			}
		}
		if err != nil {
			if !netutil.IsExpectedCloseError(err) {
				logrus.WithFields(c.fields()).WithError(err).Warn("client read failed")
			}
			return
		}
	}
}

// drain returns the complete lines received so far without blocking. open is
// false once the peer has gone and every chunk it sent has been consumed.
func (c *client) drain() (lines []string, open bool) {
	for {
		select {
		case b, ok := <-c.chunks:
			if !ok {
				return lines, false
			}
			lines = append(lines, c.lines.Feed(b)...)
		default:
			return lines, !c.gone.Load() || len(c.chunks) > 0
		}
	}
}

func (c *client) write(b []byte, timeout time.Duration) error {
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	_, err := c.conn.Write(b)
	if err != nil {
		c.gone.Store(true)
	}
	return err
}

// close releases the connection. Unprocessed input is discarded.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.gone.Store(true)
		c.lines.Reset()
		if err := c.conn.Close(); err != nil && !netutil.IsExpectedCloseError(err) {
			logrus.WithFields(c.fields()).WithError(err).Debug("failed to close client connection")
		}
	})
}

// Pool is a fixed set of connection slots. It belongs to the tick goroutine
// and is not safe for concurrent use.
type Pool struct {
	slots []*client

	// OnRelease is called after a client has been removed from its slot.
	OnRelease func(c *client)
}

// NewPool returns a pool with size slots.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make([]*client, size)}
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Admit places conn in the lowest slot that is empty or whose client has
// disconnected. When there is none, conn is closed without writing anything
// and ErrConnectionSaturated is returned.
func (p *Pool) Admit(conn net.Conn) (*client, error) {
	for i, c := range p.slots {
		if c != nil && !c.gone.Load() {
			continue
		}
		if c != nil {
			p.Release(i)
		}
		p.slots[i] = newClient(conn, i)
		return p.slots[i], nil
	}

	_ = conn.Close()
	return nil, ErrConnectionSaturated
}

// Each calls fn for every client in ascending slot order. A client whose
// peer has gone is released once every chunk it sent has been consumed, or
// as soon as fn returns false.
func (p *Pool) Each(fn func(c *client) bool) {
	for i, c := range p.slots {
		if c == nil {
			continue
		}
		if c.gone.Load() && len(c.chunks) == 0 {
			p.Release(i)
			continue
		}
		if !fn(c) {
			p.Release(i)
		}
	}
}

// Release closes the client in slot and frees the slot.
func (p *Pool) Release(slot int) {
	if slot < 0 || slot >= len(p.slots) || p.slots[slot] == nil {
		return
	}
	c := p.slots[slot]
	p.slots[slot] = nil
	c.close()
	if p.OnRelease != nil {
		p.OnRelease(c)
	}
}

// Len returns the number of connected clients.
func (p *Pool) Len() int {
	n := 0
	for _, c := range p.slots {
		if c != nil && !c.gone.Load() {
			n++
		}
	}
	return n
}

// Snapshot describes the connected clients.
func (p *Pool) Snapshot() []types.ClientInfo {
	infos := make([]types.ClientInfo, 0, len(p.slots))
	for _, c := range p.slots {
		if c == nil || c.gone.Load() {
			continue
		}
		infos = append(infos, types.ClientInfo{
			Slot:        c.slot,
			ID:          c.id,
			Remote:      c.remote,
			ConnectedAt: c.connectedAt,
			Commands:    c.commands,
			Pending:     c.lines.Pending(),
		})
	}
	return infos
}

// CloseAll disconnects every client.
func (p *Pool) CloseAll() {
	for i := range p.slots {
		p.Release(i)
	}
}
