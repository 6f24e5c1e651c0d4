package daemon

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/netscale/pkg/events"
	"github.com/charlie0129/netscale/pkg/protocol"
	"github.com/charlie0129/netscale/pkg/scale"
)

// StatusSink is told about every change of the reported weight. Sinks run on
// the tick goroutine and must not block.
type StatusSink interface {
	WeightChanged(reported, tare float64)
}

// flusher is implemented by sinks that hold back changes and need a chance
// to emit them on later ticks.
type flusher interface {
	Flush()
}

// logSink writes the weight to the log at most once per interval, the way a
// small display would be refreshed. The latest change is always written
// eventually.
type logSink struct {
	engine   *protocol.Engine
	interval time.Duration
	now      func() time.Time

	last     time.Time
	dirty    bool
	reported float64
	tare     float64
}

func newLogSink(engine *protocol.Engine, interval time.Duration) *logSink {
	return &logSink{
		engine:   engine,
		interval: interval,
		now:      time.Now,
	}
}

func (l *logSink) WeightChanged(reported, tare float64) {
	l.reported = reported
	l.tare = tare
	l.dirty = true
	l.Flush()
}

func (l *logSink) Flush() {
	if !l.dirty {
		return
	}
	now := l.now()
	if !l.last.IsZero() && now.Sub(l.last) < l.interval {
		return
	}
	l.last = now
	l.dirty = false

	logrus.WithFields(logrus.Fields{
		"weight": l.reported,
		"tare":   l.tare,
	}).Debugf("N:%s%s T:%s%s",
		scale.FormatWeight(l.reported, 0, l.engine.Decimals), l.engine.Unit,
		scale.FormatWeight(l.tare, 0, l.engine.Decimals), l.engine.Unit,
	)
}

// eventSink publishes every change on the event hub.
type eventSink struct {
	engine *protocol.Engine
	hub    *events.EventHub
}

func (e *eventSink) WeightChanged(reported, tare float64) {
	e.hub.Publish(events.WeightChanged, events.WeightChangedEvent{
		Weight:    reported,
		Tare:      tare,
		Unit:      e.engine.Unit,
		Formatted: scale.FormatWeight(reported, e.engine.Width, e.engine.Decimals),
		Ts:        time.Now().UnixMilli(),
	})
}
