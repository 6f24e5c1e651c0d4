package daemon

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/netscale/pkg/config"
)

const (
	preCheckMaxTimes = 6
	preCheckInterval = time.Second * 10
	autoZeroTimeout  = time.Second * 5
)

type NotifyFunc func(data any)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler runs a task on a cron schedule. A failing PreCheck is retried
// a few times before the run is skipped.
type Scheduler struct {
	OnError  NotifyFunc // called on precheck or task error
	Task     TaskFunc   // task callback
	PreCheck TaskFunc   // condition check callback

	PreCheckMaxTimes int
	PreCheckInterval time.Duration

	schedule cron.Schedule
	nextRun  time.Time

	mu      sync.Mutex
	running bool

	controlCh chan controlMsg
	stopCh    chan struct{}
}

// internal control kinds (not user visible events)
type controlKind int

const (
	ctrlRecalculate controlKind = iota // timer needs recalculation due to schedule change
	ctrlSkip                           // next run skipped
)

type controlMsg struct {
	kind controlKind
	data any
}

func NewScheduler(task, preCheck TaskFunc, onError NotifyFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	s := &Scheduler{
		OnError:          onError,
		Task:             task,
		PreCheck:         preCheck,
		PreCheckMaxTimes: preCheckMaxTimes,
		PreCheckInterval: preCheckInterval,
		controlCh:        make(chan controlMsg, 4),
		stopCh:           make(chan struct{}),
	}
	return s
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh: // already closed
	default:
		close(s.stopCh)
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.runScheduled()
}

// Schedule replaces the schedule. An empty expression disables it.
func (s *Scheduler) Schedule(cronExpr string) error {
	var sh cron.Schedule
	if cronExpr != "" {
		var err error
		sh, err = config.ParseSchedule(cronExpr)
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	running := s.running
	if !running {
		s.setSchedule(sh)
	}
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate, sh)
	}
	return nil
}

// setSchedule must be called with s.mu held.
func (s *Scheduler) setSchedule(sh cron.Schedule) {
	s.schedule = sh
	if sh == nil {
		s.nextRun = time.Time{}
		return
	}
	s.nextRun = sh.Next(time.Now())
}

// Skip skips the next scheduled run.
func (s *Scheduler) Skip() error {
	s.mu.Lock()
	if s.schedule == nil || s.nextRun.IsZero() {
		s.mu.Unlock()
		return fmt.Errorf("no active schedule to skip")
	}
	s.nextRun = s.schedule.Next(s.nextRun)
	running := s.running
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlSkip, nil)
	}
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRun = s.nextRun
	running = s.running
	return
}

func (s *Scheduler) runScheduled() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()

	logrus.Debug("scheduler started")

	for {
		attempts := 0
		var precheckErr error

		schedule, nextRun := s.snapshot()
		var timer *time.Timer
		if schedule == nil || nextRun.IsZero() {
			timer = time.NewTimer(time.Hour * 10000)
		} else {
			timer = time.NewTimer(max(time.Until(nextRun), 0))
		}

		for {
			select {
			case <-timer.C:
				if schedule == nil || nextRun.IsZero() {
					break
				}

				logrus.Debugf("running scheduled task at %s", nextRun.Format(time.DateTime))

				if s.PreCheck != nil {
					if err := s.PreCheck(); err != nil {
						if precheckErr == nil || err.Error() != precheckErr.Error() {
							precheckErr = err
							s.sendError(fmt.Errorf("precheck failed: %w", err))
						}

						attempts++
						if attempts <= s.PreCheckMaxTimes {
							logrus.Debugf("precheck failed (%d/%d): %v; retrying in %s", attempts, s.PreCheckMaxTimes, err, s.PreCheckInterval)
							timer.Reset(s.PreCheckInterval)
							continue
						}

						logrus.Warnf("skipping scheduled task at %s: %v", nextRun.Format(time.DateTime), err)
						s.advanceNextRun()
						break
					}
				}

				go func() {
					if err := s.Task(); err != nil {
						s.sendError(fmt.Errorf("task failed: %w", err))
					}
				}()
				s.advanceNextRun()
			case <-s.stopCh:
				timer.Stop()
				return
			case msg := <-s.controlCh: // internal control messages
				logrus.WithFields(logrus.Fields{
					"kind": msg.kind,
					"data": msg.data,
				}).Debug("received control msg")

				timer.Stop()
				if msg.kind == ctrlRecalculate {
					sh, _ := msg.data.(cron.Schedule)
					s.mu.Lock()
					s.setSchedule(sh)
					s.mu.Unlock()
				}
			}

			break
		}
	}
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

func (s *Scheduler) advanceNextRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	s.nextRun = s.schedule.Next(s.nextRun)
}

func (s *Scheduler) sendError(err error) {
	if s.OnError == nil {
		return
	}

	go s.OnError(err)
}

func (s *Scheduler) trySendControl(kind controlKind, data any) {
	select {
	case s.controlCh <- controlMsg{kind: kind, data: data}:
	default:
	}
}

// newAutoZeroScheduler zeroes the scale through srv on a schedule. With a
// positive maxWeight, a run is held back while the reported weight is
// heavier than that, so a loaded platform is not zeroed.
func newAutoZeroScheduler(srv *Server, maxWeight func() float64) *Scheduler {
	task := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), autoZeroTimeout)
		defer cancel()

		if err := srv.Zero(ctx); err != nil {
			return err
		}
		logrus.Info("scheduled zero requested")
		return nil
	}

	preCheck := func() error {
		limit := maxWeight()
		if limit <= 0 {
			return nil
		}

		ctx, cancel := context.WithTimeout(context.Background(), autoZeroTimeout)
		defer cancel()

		w, err := srv.Weight(ctx)
		if err != nil {
			return err
		}
		if math.Abs(w.Weight) > limit {
			return fmt.Errorf("reported weight %g%s exceeds %g%s", w.Weight, w.Unit, limit, w.Unit)
		}
		return nil
	}

	onError := func(data any) {
		logrus.WithField("error", data).Warn("auto zero")
	}

	return NewScheduler(task, preCheck, onError)
}
