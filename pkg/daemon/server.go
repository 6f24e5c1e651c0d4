package daemon

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/netscale/pkg/events"
	"github.com/charlie0129/netscale/pkg/netutil"
	"github.com/charlie0129/netscale/pkg/protocol"
	"github.com/charlie0129/netscale/pkg/scale"
	"github.com/charlie0129/netscale/pkg/types"
)

// ErrServerStopped is returned by Do once the tick loop has exited.
var ErrServerStopped = errors.New("tick loop is not running")

// Source is a load cell polled on every tick.
type Source interface {
	scale.Source
	// Update consumes the samples received since the last tick.
	Update() int
}

// ServerOptions configures a Server.
type ServerOptions struct {
	Engine       *protocol.Engine
	MaxClients   int
	TickInterval time.Duration
	WriteTimeout time.Duration
	Sinks        []StatusSink
	Hub          *events.EventHub
}

type adminRequest struct {
	fn   func(sc *scale.Scale) any
	resp chan any
}

// Server runs the tick loop. The scale, the pool and the engine are only
// touched from the tick goroutine; other goroutines reach them through Do.
type Server struct {
	source Source
	scale  *scale.Scale
	engine *protocol.Engine
	pool   *Pool
	sinks  []StatusSink
	hub    *events.EventHub

	pending chan net.Conn
	admin   chan adminRequest
	done    chan struct{}
	stop    sync.Once

	tickInterval time.Duration
	writeTimeout time.Duration

	recorder      *TimeSeriesRecorder
	lastMissedLog time.Time

	ticks       atomic.Uint64
	missedTicks atomic.Uint64
	commands    atomic.Uint64
	accepted    atomic.Uint64
	rejected    atomic.Uint64
}

// NewServer returns a Server conditioning src into sc.
func NewServer(src Source, sc *scale.Scale, opts ServerOptions) *Server {
	if opts.Engine == nil {
		opts.Engine = protocol.NewEngine("g", 1)
	}
	if opts.MaxClients <= 0 {
		opts.MaxClients = 3
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 10 * time.Millisecond
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = opts.TickInterval
	}

	s := &Server{
		source:       src,
		scale:        sc,
		engine:       opts.Engine,
		pool:         NewPool(opts.MaxClients),
		sinks:        opts.Sinks,
		hub:          opts.Hub,
		pending:      make(chan net.Conn),
		admin:        make(chan adminRequest, 16),
		done:         make(chan struct{}),
		tickInterval: opts.TickInterval,
		writeTimeout: opts.WriteTimeout,
		recorder:     NewTimeSeriesRecorder(int(tickHistory / opts.TickInterval)),
	}
	s.pool.OnRelease = s.onRelease

	return s
}

// Serve accepts connections on l and hands them to the tick loop until l is
// closed.
func (s *Server) Serve(l net.Listener) error {
	logrus.Infof("protocol server listening on %s", l.Addr().String())

	for {
		conn, err := l.Accept()
		if err != nil {
			if netutil.IsExpectedCloseError(err) {
				return nil
			}
			if netutil.IsTimeout(err) {
				continue
			}
			return err
		}

		select {
		case s.pending <- conn:
		case <-s.done:
			_ = conn.Close()
			return nil
		}
	}
}

// Tick runs one iteration of the control loop.
func (s *Server) Tick() {
	s.source.Update()

	reported, changed := s.scale.Condition()
	if changed {
		tare := s.scale.TareOffset()
		for _, sink := range s.sinks {
			sink.WeightChanged(reported, tare)
		}
	}
	for _, sink := range s.sinks {
		if f, ok := sink.(flusher); ok {
			f.Flush()
		}
	}

	select {
	case conn := <-s.pending:
		s.admit(conn)
	default:
	}

	s.pool.Each(s.serveClient)

	s.runAdmin()

	if s.scale.ZeroComplete() {
		logrus.Info("zero complete")
		s.hub.Publish(events.ZeroComplete, events.ZeroCompleteEvent{Ts: time.Now().Unix()})
	}

	s.ticks.Add(1)
}

func (s *Server) admit(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	c, err := s.pool.Admit(conn)
	if err != nil {
		s.rejected.Add(1)
		logrus.WithFields(logrus.Fields{
			"remote":     remote,
			"maxClients": s.pool.Size(),
		}).Warn("rejected connection: all slots in use")
		s.hub.Publish(events.Client, events.ClientEvent{
			Action: events.ClientRejected,
			Slot:   -1,
			Remote: remote,
			Ts:     time.Now().Unix(),
		})
		return
	}

	s.accepted.Add(1)
	logrus.WithFields(c.fields()).Info("client connected")
	s.hub.Publish(events.Client, events.ClientEvent{
		Action: events.ClientConnected,
		Slot:   c.slot,
		ID:     c.id,
		Remote: c.remote,
		Ts:     time.Now().Unix(),
	})
}

func (s *Server) onRelease(c *client) {
	logrus.WithFields(c.fields()).Info("client disconnected")
	s.hub.Publish(events.Client, events.ClientEvent{
		Action: events.ClientDisconnected,
		Slot:   c.slot,
		ID:     c.id,
		Remote: c.remote,
		Ts:     time.Now().Unix(),
	})
}

// serveClient answers every complete line the client has sent. It returns
// false when the client should be released.
func (s *Server) serveClient(c *client) bool {
	lines, open := c.drain()

	for _, line := range lines {
		resp, err := s.engine.Handle(s.scale, line)
		c.commands++
		s.commands.Add(1)

		entry := logrus.WithFields(c.fields()).WithFields(logrus.Fields{
			"command":  line,
			"response": string(resp),
		})
		if err != nil {
			entry.WithError(err).Debug("rejected command")
		} else {
			entry.Trace("handled command")
		}

		if err := c.write(resp.Bytes(), s.writeTimeout); err != nil {
			if !netutil.IsExpectedCloseError(err) {
				entry.WithError(err).Warn("failed to write response")
			}
			return false
		}
	}

	return open
}

func (s *Server) runAdmin() {
	for {
		select {
		case req := <-s.admin:
			req.resp <- req.fn(s.scale)
		default:
			return
		}
	}
}

// Do runs fn on the tick goroutine after the clients of the current tick
// have been served, and returns its result.
func (s *Server) Do(ctx context.Context, fn func(sc *scale.Scale) any) (any, error) {
	req := adminRequest{fn: fn, resp: make(chan any, 1)}

	select {
	case s.admin <- req:
	case <-s.done:
		return nil, ErrServerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case v := <-req.resp:
		return v, nil
	case <-s.done:
		return nil, ErrServerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Weight returns the state shown to clients in the current tick.
func (s *Server) Weight(ctx context.Context) (types.WeightInfo, error) {
	v, err := s.Do(ctx, func(sc *scale.Scale) any {
		return s.weightInfo(sc)
	})
	if err != nil {
		return types.WeightInfo{}, err
	}
	return v.(types.WeightInfo), nil
}

func (s *Server) weightInfo(sc *scale.Scale) types.WeightInfo {
	return types.WeightInfo{
		Weight:    sc.Reported(),
		Tare:      sc.TareOffset(),
		Unit:      s.engine.Unit,
		Formatted: scale.FormatWeight(sc.Reported(), s.engine.Width, s.engine.Decimals),
	}
}

// Tare adds the reported weight to the tare offset, like the T command.
func (s *Server) Tare(ctx context.Context) (float64, error) {
	v, err := s.Do(ctx, func(sc *scale.Scale) any {
		return sc.Tare()
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// SetTare replaces the tare offset.
func (s *Server) SetTare(ctx context.Context, tare float64) error {
	_, err := s.Do(ctx, func(sc *scale.Scale) any {
		sc.SetTare(tare)
		return nil
	})
	return err
}

// TareOffset returns the current tare offset.
func (s *Server) TareOffset(ctx context.Context) (float64, error) {
	v, err := s.Do(ctx, func(sc *scale.Scale) any {
		return sc.TareOffset()
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// Zero asks the load cell to re-zero and clears the tare offset.
func (s *Server) Zero(ctx context.Context) error {
	_, err := s.Do(ctx, func(sc *scale.Scale) any {
		sc.Zero()
		return nil
	})
	return err
}

// Clients describes the connected protocol clients.
func (s *Server) Clients(ctx context.Context) ([]types.ClientInfo, error) {
	v, err := s.Do(ctx, func(*scale.Scale) any {
		return s.pool.Snapshot()
	})
	if err != nil {
		return nil, err
	}
	return v.([]types.ClientInfo), nil
}

// Stats returns the server counters. Source statistics are left to the
// caller.
func (s *Server) Stats(ctx context.Context) (types.Stats, error) {
	v, err := s.Do(ctx, func(*scale.Scale) any {
		now := time.Now()
		return types.Stats{
			Ticks:           s.ticks.Load(),
			MissedTicks:     s.missedTicks.Load(),
			ContinuousTicks: s.recorder.GetRecordsIn(now, tickHistory, missedTickFactor*s.tickInterval),
			MaxTickGapMs:    s.recorder.MaxGapIn(now, tickHistory).Milliseconds(),
			Commands:        s.commands.Load(),
			Accepted:        s.accepted.Load(),
			Rejected:        s.rejected.Load(),
			Clients:         s.pool.Len(),
			MaxClients:      s.pool.Size(),
			Subscribers:     s.hub.Subscribers(),
		}
	})
	if err != nil {
		return types.Stats{}, err
	}
	return v.(types.Stats), nil
}

// Display holds the values that can change while the daemon runs.
type Display struct {
	Unit            string
	Decimals        int
	Width           int
	Increment       float64
	Hysteresis      float64
	DisplayInterval time.Duration
}

// Reconfigure applies d from the tick goroutine.
func (s *Server) Reconfigure(ctx context.Context, d Display) error {
	_, err := s.Do(ctx, func(sc *scale.Scale) any {
		s.engine.Unit = d.Unit
		s.engine.Decimals = d.Decimals
		s.engine.Width = d.Width
		sc.Reconfigure(scale.Options{Increment: d.Increment, Hysteresis: d.Hysteresis})
		for _, sink := range s.sinks {
			if ls, ok := sink.(*logSink); ok {
				ls.interval = d.DisplayInterval
			}
		}
		return nil
	})
	return err
}

func (s *Server) shutdown() {
	s.stop.Do(func() {
		close(s.done)
		s.pool.CloseAll()
	})
}
