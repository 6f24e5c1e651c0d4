package daemon

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// missedTickFactor is how many tick intervals may pass between two ticks
	// before samples are considered missed.
	missedTickFactor = 3
	// missedTickLogInterval limits how often missed ticks are logged.
	missedTickLogInterval = 10 * time.Second
	// tickHistory is how far back tick times are kept.
	tickHistory = time.Minute
)

// TimeSeriesRecorder records the last N tick times.
type TimeSeriesRecorder struct {
	MaxRecordCount int
	LastTickTimes  []time.Time
	mu             *sync.Mutex
}

// NewTimeSeriesRecorder returns a new TimeSeriesRecorder.
func NewTimeSeriesRecorder(maxRecordCount int) *TimeSeriesRecorder {
	if maxRecordCount < 2 {
		maxRecordCount = 2
	}
	return &TimeSeriesRecorder{
		MaxRecordCount: maxRecordCount,
		LastTickTimes:  make([]time.Time, 0, maxRecordCount),
		mu:             &sync.Mutex{},
	}
}

// AddRecord adds a new record and returns the time since the previous one,
// or 0 for the first record.
func (r *TimeSeriesRecorder) AddRecord(t time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var gap time.Duration
	if n := len(r.LastTickTimes); n > 0 {
		gap = t.Sub(r.LastTickTimes[n-1])
	}

	if len(r.LastTickTimes) >= r.MaxRecordCount {
		// Shift in place so the backing array is reused.
		copy(r.LastTickTimes, r.LastTickTimes[1:])
		r.LastTickTimes = r.LastTickTimes[:len(r.LastTickTimes)-1]
	}
	r.LastTickTimes = append(r.LastTickTimes, t)

	return gap
}

// GetRecordsIn returns the number of continuous records within last before
// now. Two records are continuous when they are less than maxGap apart.
func (r *TimeSeriesRecorder) GetRecordsIn(now time.Time, last, maxGap time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	// The last record must be within the last duration.
	if len(r.LastTickTimes) > 0 && now.Sub(r.LastTickTimes[len(r.LastTickTimes)-1]) >= maxGap {
		return 0
	}

	count := 0
	for i := len(r.LastTickTimes) - 1; i >= 0; i-- {
		record := r.LastTickTimes[i]
		if now.Sub(record) > last {
			break
		}

		theRecordAfter := record
		if i+1 < len(r.LastTickTimes) {
			theRecordAfter = r.LastTickTimes[i+1]
		}

		if theRecordAfter.Sub(record) >= maxGap {
			break
		}
		count++
	}

	return count
}

// MaxGapIn returns the longest gap between two records within last before
// now.
func (r *TimeSeriesRecorder) MaxGapIn(now time.Time, last time.Duration) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	var maxGap time.Duration
	for i := len(r.LastTickTimes) - 1; i > 0; i-- {
		if now.Sub(r.LastTickTimes[i-1]) > last {
			break
		}
		if gap := r.LastTickTimes[i].Sub(r.LastTickTimes[i-1]); gap > maxGap {
			maxGap = gap
		}
	}
	return maxGap
}

// Run ticks every tick interval until ctx is done. All clients are
// disconnected when it returns.
func (s *Server) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	defer s.shutdown()

	logrus.WithField("interval", s.tickInterval.String()).Debug("tick loop starts")

	for {
		select {
		case <-ctx.Done():
			logrus.Debug("tick loop stopped")
			return nil
		case now := <-ticker.C:
			s.observeTick(now)
			s.Tick()
		}
	}
}

// observeTick records the tick time and warns when ticks came late enough
// that sensor samples may have been missed.
func (s *Server) observeTick(now time.Time) {
	gap := s.recorder.AddRecord(now)
	if gap <= missedTickFactor*s.tickInterval {
		return
	}

	s.missedTicks.Add(1)
	if now.Sub(s.lastMissedLog) < missedTickLogInterval {
		return
	}
	s.lastMissedLog = now

	logrus.WithFields(logrus.Fields{
		"gap":          gap.String(),
		"tickInterval": s.tickInterval.String(),
		"missedTicks":  s.missedTicks.Load(),
		"maxGap":       s.recorder.MaxGapIn(now, tickHistory).String(),
	}).Warn("possibly missed load cell samples")
}
