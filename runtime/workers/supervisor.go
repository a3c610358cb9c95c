package workers

import (
	"chat-relay/contract"
	"chat-relay/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Consecutive crashes double the restart delay up to this factor of the base interval
const maxBackoffFactor = 32

type SupervisorOption func(*Supervisor)

// WithOnRestart is called each time a crashed worker is about to be restarted.
func WithOnRestart(onRestart func(worker string, err error)) SupervisorOption {
	return func(s *Supervisor) { s.onRestart = onRestart }
}

// Supervisor owns the context of the long-lived workers of the relay
// (telemetry today) and keeps them running:
// a worker that panics or fails is restarted with an exponential backoff,
// a worker that returns nil is done for good.
type Supervisor struct {
	Cancel          context.CancelFunc
	wg              *sync.WaitGroup
	log             *slog.Logger
	restartInterval time.Duration
	maxInterval     time.Duration
	onRestart       func(worker string, err error)
	workers         []contract.Worker
}

func NewSupervisor(log *slog.Logger, restartInterval time.Duration, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		wg:              &sync.WaitGroup{},
		log:             log,
		restartInterval: restartInterval,
		maxInterval:     restartInterval * maxBackoffFactor,
		onRestart:       func(string, error) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until every worker has returned.
// Cancelling the parent context or calling Stop ends the children.
func (s *Supervisor) Run(ctx context.Context) {
	// Stop only cancels our children, never the parent
	supervisedCtx, cancel := context.WithCancel(ctx)
	s.Cancel = cancel
	defer s.Cancel()

	for _, worker := range s.workers {
		s.Start(supervisedCtx, worker)
	}
	s.wg.Wait()
}

func (s *Supervisor) Add(worker ...contract.Worker) contract.ISupervisor {
	s.workers = append(s.workers, worker...)
	return s
}

// Start runs a worker under supervision in its own goroutine.
// A panic is recovered as ErrWorkerPanic.
func (s *Supervisor) Start(ctx context.Context, worker contract.Worker) {
	s.wg.Add(1)
	workerName := contract.GetWorkerName(worker)

	go func() {
		defer s.wg.Done()

		crashes := 0
		for {
			if ctx.Err() != nil {
				s.log.Info("Stopping worker", "name", workerName)
				return
			}

			startedAt := time.Now()
			err := s.runOnce(ctx, worker)
			if err == nil {
				s.log.Info("Worker finished", "name", workerName)
				return
			}
			if ctx.Err() != nil {
				s.log.Info("Worker stopped (context canceled)", "name", workerName)
				return
			}

			// A long healthy run forgets earlier crashes
			if time.Since(startedAt) > s.maxInterval {
				crashes = 0
			}
			crashes++
			delay := s.backoff(crashes)

			s.log.Warn("Worker crashed, restarting",
				"name", workerName,
				"error", err,
				"crashes", crashes,
				"delay", delay)
			s.onRestart(workerName, err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}()
}

func (s *Supervisor) runOnce(ctx context.Context, worker contract.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errors.ErrWorkerPanic, r)
		}
	}()
	return worker.Run(ctx)
}

// backoff returns the delay before the n-th consecutive restart.
func (s *Supervisor) backoff(crashes int) time.Duration {
	delay := s.restartInterval
	for i := 1; i < crashes && delay < s.maxInterval; i++ {
		delay *= 2
	}
	return min(delay, s.maxInterval)
}

// Stop cancels every supervised worker. Run returns once they are done.
func (s *Supervisor) Stop() {
	if s.Cancel != nil {
		s.Cancel()
	}
}
