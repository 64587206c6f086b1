// Package sweeper periodically removes expired cache entries. Reads never
// depend on it; it only keeps storage from growing with keys that are
// never written again.
package sweeper

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ExpiredSweeper is the store operation the sweeper drives.
type ExpiredSweeper interface {
	ExpireSweep(ctx context.Context) (int64, error)
}

// DefaultInterval is used when no custom interval is provided.
const DefaultInterval = time.Hour

// DefaultTimeout bounds a single sweep.
const DefaultTimeout = 30 * time.Second

// controlTimeout is how long commands wait for an idle control loop.
const controlTimeout = 2 * time.Second

var errNotResponding = errors.New("sweeper: control loop not responding")

// ErrClosed is returned by commands sent after Close.
var ErrClosed = errors.New("sweeper: closed")

type controlOp int

const (
	opStart controlOp = iota
	opStop
	opStatus
	opSweeps
	opClose
)

type controlMsg struct {
	op   controlOp
	resp chan int64
}

// Sweeper runs ExpireSweep on a fixed interval. All mutable state lives in
// the loop goroutine.
type Sweeper struct {
	store    ExpiredSweeper
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
	ctrl     chan controlMsg
	done     chan struct{}
}

// New creates a stopped sweeper. Non-positive durations fall back to the
// defaults.
func New(store ExpiredSweeper, interval, timeout time.Duration, log *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Sweeper{
		store:    store,
		interval: interval,
		timeout:  timeout,
		log:      log.Named("sweeper"),
		ctrl:     make(chan controlMsg),
		done:     make(chan struct{}),
	}
	go s.loop()
	return s
}

// Start begins sweeping on every tick.
func (s *Sweeper) Start() error {
	_, err := s.send(opStart)
	return err
}

// Stop stops accepting ticks. A sweep in progress is allowed to finish
// before Stop returns.
func (s *Sweeper) Stop() error {
	_, err := s.send(opStop)
	return err
}

// Close stops sweeping and ends the control loop. A sweep in progress
// finishes first. Close is idempotent; other commands fail with ErrClosed
// afterwards.
func (s *Sweeper) Close() error {
	_, err := s.send(opClose)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// IsRunning reports whether ticks are being processed.
func (s *Sweeper) IsRunning() bool {
	v, err := s.send(opStatus)
	return err == nil && v == 1
}

// Sweeps reports how many sweeps have completed successfully.
func (s *Sweeper) Sweeps() int64 {
	v, _ := s.send(opSweeps)
	return v
}

// send delivers a command and waits for the answer. A sweep in progress
// delays both, so the wait allows for one full sweep.
func (s *Sweeper) send(op controlOp) (int64, error) {
	wait := s.timeout + controlTimeout
	resp := make(chan int64, 1)
	select {
	case s.ctrl <- controlMsg{op: op, resp: resp}:
	case <-s.done:
		return 0, ErrClosed
	case <-time.After(wait):
		return 0, errNotResponding
	}

	select {
	case v := <-resp:
		return v, nil
	case <-time.After(wait):
		return 0, errNotResponding
	}
}

func (s *Sweeper) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer close(s.done)

	running := false
	var sweeps int64

	for {
		select {
		case msg := <-s.ctrl:
			switch msg.op {
			case opStart:
				if !running {
					s.log.Info("started", zap.Duration("interval", s.interval), zap.Duration("timeout", s.timeout))
				}
				running = true
				msg.resp <- 1
			case opStop:
				if running {
					s.log.Info("stopped", zap.Int64("sweeps", sweeps))
				}
				running = false
				msg.resp <- 1
			case opStatus:
				if running {
					msg.resp <- 1
				} else {
					msg.resp <- 0
				}
			case opSweeps:
				msg.resp <- sweeps
			case opClose:
				s.log.Info("closed", zap.Int64("sweeps", sweeps))
				msg.resp <- 1
				return
			}

		case <-ticker.C:
			if !running {
				continue
			}
			// The sweep runs inline, so control messages queue behind it and
			// Stop observes its completion.
			if s.sweep() {
				sweeps++
			}
		}
	}
}

func (s *Sweeper) sweep() bool {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.store.ExpireSweep(ctx)
	if err != nil {
		s.log.Error("sweep failed", zap.Error(err))
		return false
	}
	s.log.Debug("sweep completed", zap.Int64("deleted", n), zap.Duration("took", time.Since(start)))
	return true
}
