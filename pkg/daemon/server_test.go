package daemon

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/netscale/pkg/events"
	"github.com/charlie0129/netscale/pkg/scale"
)

type fakeSource struct {
	mu        sync.Mutex
	weight    float64
	zeroCalls int
	zeroDone  bool
	updates   int
}

func (f *fakeSource) RawWeight() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.weight
}

func (f *fakeSource) RequestZero() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zeroCalls++
}

func (f *fakeSource) ZeroComplete() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	done := f.zeroDone
	f.zeroDone = false
	return done
}

func (f *fakeSource) Update() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return 0
}

func (f *fakeSource) set(w float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.weight = w
}

func (f *fakeSource) finishZero() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zeroDone = true
}

func (f *fakeSource) zeroRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.zeroCalls
}

// harness drives a Server by hand: the test goroutine calls Tick, so the
// server's state may be inspected between ticks.
type harness struct {
	t   *testing.T
	src *fakeSource
	srv *Server
	hub *events.EventHub
	l   net.Listener
}

func newHarness(t *testing.T, maxClients int) *harness {
	t.Helper()

	src := &fakeSource{}
	hub := events.NewEventHub()
	sc := scale.New(src, scale.Options{Increment: 0.2, Hysteresis: 0.05})
	srv := NewServer(src, sc, ServerOptions{
		MaxClients:   maxClients,
		TickInterval: time.Millisecond,
		WriteTimeout: time.Second,
		Hub:          hub,
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		_ = srv.Serve(l)
	}()

	t.Cleanup(func() {
		_ = l.Close()
		srv.shutdown()
	})

	return &harness{t: t, src: src, srv: srv, hub: hub, l: l}
}

func (h *harness) tickUntil(cond func() bool) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		h.srv.Tick()
		return cond()
	}, 2*time.Second, time.Millisecond)
}

// connect dials the server and ticks until the connection has a slot.
func (h *harness) connect() net.Conn {
	h.t.Helper()

	want := h.srv.accepted.Load() + 1
	conn, err := net.Dial("tcp", h.l.Addr().String())
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.Close() })

	h.tickUntil(func() bool { return h.srv.accepted.Load() == want })
	return conn
}

// send writes raw bytes and ticks until n more commands were handled.
func (h *harness) send(conn net.Conn, data string, n uint64) {
	h.t.Helper()

	want := h.srv.commands.Load() + n
	_, err := io.WriteString(conn, data)
	require.NoError(h.t, err)
	h.tickUntil(func() bool { return h.srv.commands.Load() >= want })
}

func readLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return line
}

func TestServer_Commands(t *testing.T) {
	h := newHarness(t, 3)
	h.src.set(100)
	conn := h.connect()

	tests := []struct {
		command string
		want    string
	}{
		{"S", "S S     100.0 g\r\n"},
		{"SI", "S S     100.0 g\r\n"},
		{"TA", "TA A       0.0 g\r\n"},
		{"TAabc", "TA L \r\n"},
		{"TA", "TA A       0.0 g\r\n"},
		{"s", "Unknown command: <s>\r\n"},
		{"T", "T S     100.0 g\r\n"},
		{"TA", "TA A     100.0 g\r\n"},
		{"S", "S S       0.0 g\r\n"},
		{"Z", "Z A\r\n"},
		{"TA", "TA A       0.0 g\r\n"},
	}
	for _, tt := range tests {
		h.send(conn, tt.command+"\r\n", 1)
		assert.Equal(t, tt.want, readLine(t, conn), "command %q", tt.command)
	}
	assert.Equal(t, 1, h.src.zeroRequests())
}

func TestServer_PartialLine(t *testing.T) {
	h := newHarness(t, 3)
	conn := h.connect()

	_, err := io.WriteString(conn, "S")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		h.srv.Tick()
	}
	assert.Equal(t, uint64(0), h.srv.commands.Load())

	h.send(conn, "I\r\n", 1)
	assert.Equal(t, "S S       0.0 g\r\n", readLine(t, conn))
}

func TestServer_SeveralCommandsInOneWrite(t *testing.T) {
	h := newHarness(t, 3)
	h.src.set(12.4)
	conn := h.connect()

	h.send(conn, "S\r\n\r\nTA\nS\r", 3)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	r := bufio.NewReader(conn)
	for _, want := range []string{"S S      12.4 g\r\n", "TA A       0.0 g\r\n", "S S      12.4 g\r\n"} {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
}

func TestServer_SameTickSeesSameWeight(t *testing.T) {
	h := newHarness(t, 3)
	h.src.set(100)
	a := h.connect()
	b := h.connect()

	_, err := io.WriteString(a, "T\r\n")
	require.NoError(t, err)
	_, err = io.WriteString(b, "S\r\n")
	require.NoError(t, err)

	// Wait for both commands to reach the server before ticking once.
	require.Eventually(t, func() bool {
		return len(h.srv.pool.slots[0].chunks) > 0 && len(h.srv.pool.slots[1].chunks) > 0
	}, 2*time.Second, time.Millisecond)
	h.srv.Tick()

	assert.Equal(t, "T S     100.0 g\r\n", readLine(t, a))
	assert.Equal(t, "S S     100.0 g\r\n", readLine(t, b), "tare applies from the next tick")

	h.send(b, "S\r\n", 1)
	assert.Equal(t, "S S       0.0 g\r\n", readLine(t, b))
}

func TestServer_RejectsWhenFull(t *testing.T) {
	h := newHarness(t, 3)
	sub := h.hub.Subscribe()

	for i := 0; i < 3; i++ {
		h.connect()
	}
	assert.Equal(t, 3, h.srv.pool.Len())

	extra, err := net.Dial("tcp", h.l.Addr().String())
	require.NoError(t, err)
	defer extra.Close()
	h.tickUntil(func() bool { return h.srv.rejected.Load() == 1 })

	require.NoError(t, extra.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 16)
	n, err := extra.Read(buf)
	assert.Equal(t, 0, n, "nothing is written to a rejected connection")
	require.Error(t, err)
	var netErr net.Error
	if errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection must be closed, not left open")
	}
	assert.Equal(t, 3, h.srv.pool.Len())

	var actions []string
	for len(sub) > 0 {
		ev := <-sub
		payload, err := events.DecodeAs[events.ClientEvent](ev)
		require.NoError(t, err)
		actions = append(actions, payload.Action)
	}
	assert.Equal(t, []string{
		events.ClientConnected, events.ClientConnected, events.ClientConnected, events.ClientRejected,
	}, actions)
}

func TestServer_RejectionLeavesClientsServed(t *testing.T) {
	h := newHarness(t, 3)
	h.src.set(7)

	var conns []net.Conn
	for i := 0; i < 3; i++ {
		conns = append(conns, h.connect())
	}

	extra, err := net.Dial("tcp", h.l.Addr().String())
	require.NoError(t, err)
	defer extra.Close()
	h.tickUntil(func() bool { return h.srv.rejected.Load() == 1 })

	for i, conn := range conns {
		h.send(conn, "S\r\n", 1)
		assert.Equal(t, "S S       7.0 g\r\n", readLine(t, conn), "client %d", i)
	}
	assert.Equal(t, uint64(3), h.srv.commands.Load())
}

func TestServer_AnswersCommandSentBeforeDisconnect(t *testing.T) {
	h := newHarness(t, 3)

	for i := 1; i <= 100; i++ {
		conn := h.connect()
		_, err := fmt.Fprintf(conn, "TA%d\r\n", i)
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		h.tickUntil(func() bool { return h.srv.pool.slots[0] == nil })
		require.Equal(t, uint64(i), h.srv.commands.Load(), "command of connection %d was dropped", i)
		require.Equal(t, float64(i), h.srv.scale.TareOffset())
	}
}

func TestServer_DiscardsPartialLineOnDisconnect(t *testing.T) {
	h := newHarness(t, 3)

	first := h.connect()
	_, err := io.WriteString(first, "TA9")
	require.NoError(t, err)
	require.NoError(t, first.Close())
	h.tickUntil(func() bool { return h.srv.pool.slots[0] == nil })

	second := h.connect()
	h.send(second, "TA\r\n", 1)
	assert.Equal(t, "TA A       0.0 g\r\n", readLine(t, second))
	assert.Equal(t, uint64(1), h.srv.commands.Load())
}

func TestServer_ReusesSlotAfterDisconnect(t *testing.T) {
	h := newHarness(t, 3)
	h.connect()
	second := h.connect()
	h.connect()

	require.NoError(t, second.Close())
	h.tickUntil(func() bool { return h.srv.pool.slots[1] == nil })
	assert.Equal(t, 2, h.srv.pool.Len())

	again := h.connect()
	assert.Equal(t, 3, h.srv.pool.Len())

	var slots []int
	for _, c := range h.srv.pool.Snapshot() {
		slots = append(slots, c.Slot)
	}
	assert.Equal(t, []int{0, 1, 2}, slots)

	h.send(again, "S\r\n", 1)
	assert.Equal(t, "S S       0.0 g\r\n", readLine(t, again))
}

func TestServer_ZeroComplete(t *testing.T) {
	h := newHarness(t, 3)
	sub := h.hub.Subscribe()

	h.src.finishZero()
	h.srv.Tick()

	names := map[string]bool{}
	for len(sub) > 0 {
		names[(<-sub).Name] = true
	}
	assert.True(t, names[events.ZeroComplete])
}

func TestServer_NotifiesSinksOnChange(t *testing.T) {
	src := &fakeSource{}
	sc := scale.New(src, scale.Options{Increment: 0.2, Hysteresis: 0.05})
	sink := &recordingSink{}
	srv := NewServer(src, sc, ServerOptions{Sinks: []StatusSink{sink}})
	defer srv.shutdown()

	srv.Tick()
	srv.Tick()
	src.set(10.32)
	srv.Tick()
	src.set(10.35)
	srv.Tick()

	assert.Equal(t, []float64{0, 10.4}, roundAll(sink.reported))
	assert.Equal(t, 4, src.updates)
}

type recordingSink struct {
	reported []float64
}

func (r *recordingSink) WeightChanged(reported, _ float64) {
	r.reported = append(r.reported, reported)
}

func roundAll(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(int(f*10+0.5)) / 10
	}
	return out
}

func TestServer_Do(t *testing.T) {
	src := &fakeSource{}
	src.set(50)
	sc := scale.New(src, scale.Options{Increment: 0.2, Hysteresis: 0.05})
	srv := NewServer(src, sc, ServerOptions{TickInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer reqCancel()

	require.Eventually(t, func() bool {
		w, err := srv.Weight(reqCtx)
		return err == nil && w.Formatted == "     50.0"
	}, 2*time.Second, time.Millisecond)

	tare, err := srv.Tare(reqCtx)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, tare, 1e-9)

	require.NoError(t, srv.SetTare(reqCtx, 20))
	tare, err = srv.TareOffset(reqCtx)
	require.NoError(t, err)
	assert.Equal(t, 20.0, tare)

	require.NoError(t, srv.Zero(reqCtx))
	tare, err = srv.TareOffset(reqCtx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tare)
	assert.Equal(t, 1, src.zeroRequests())

	require.NoError(t, srv.Reconfigure(reqCtx, Display{Unit: "kg", Decimals: 3, Width: 12, Increment: 0.001}))
	require.Eventually(t, func() bool {
		w, err := srv.Weight(reqCtx)
		return err == nil && w.Unit == "kg" && w.Formatted == "     50.000"
	}, 2*time.Second, time.Millisecond)

	stats, err := srv.Stats(reqCtx)
	require.NoError(t, err)
	assert.Greater(t, stats.Ticks, uint64(0))
	assert.Equal(t, 3, stats.MaxClients)

	cancel()
	<-done

	_, err = srv.Weight(reqCtx)
	assert.ErrorIs(t, err, ErrServerStopped)
}
