package runtime

import (
	"chat-relay/errors"
	"context"
	"log/slog"
	"sync"
	"time"
)

type LivenessState int

const (
	Alive LivenessState = iota
	AwaitingPong
	Dead
)

func (s LivenessState) String() string {
	switch s {
	case Alive:
		return "alive"
	case AwaitingPong:
		return "awaiting_pong"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Liveness pings a peer on a fixed interval and declares it dead
// when a pong does not arrive within the timeout.
type Liveness struct {
	log      *slog.Logger
	ping     func() error
	onDead   func()
	interval time.Duration
	timeout  time.Duration

	mu         sync.Mutex
	state      LivenessState
	deathTimer *time.Timer
	lastPongAt time.Time
	stopped    bool
	dead       chan struct{}
}

func NewLiveness(
	log *slog.Logger,
	ping func() error,
	onDead func(),
	interval, timeout time.Duration,
) *Liveness {
	return &Liveness{
		log:      log,
		ping:     ping,
		onDead:   onDead,
		interval: interval,
		timeout:  timeout,
		state:    Alive,
		dead:     make(chan struct{}),
	}
}

// Run pings every interval until ctx is done or the peer is declared dead.
// It returns ErrLivenessTimeout in the latter case.
func (l *Liveness) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	defer l.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.dead:
			return errors.ErrLivenessTimeout
		case <-ticker.C:
			l.probe()
		}
	}
}

// probe arms the death timer then sends the ping.
// A failed ping write is left to the timer.
func (l *Liveness) probe() {
	l.mu.Lock()
	if l.state != Alive || l.stopped {
		l.mu.Unlock()
		return
	}
	l.state = AwaitingPong
	l.deathTimer = time.AfterFunc(l.timeout, l.expire)
	l.mu.Unlock()

	if err := l.ping(); err != nil {
		l.log.Debug("Ping not sent", "error", err)
	}
}

// Pong cancels the armed timer if it has not fired yet.
func (l *Liveness) Pong() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastPongAt = time.Now()
	if l.state != AwaitingPong || l.deathTimer == nil {
		return
	}
	if l.deathTimer.Stop() {
		l.state = Alive
		l.deathTimer = nil
	}
}

func (l *Liveness) expire() {
	l.mu.Lock()
	if l.state != AwaitingPong || l.stopped {
		l.mu.Unlock()
		return
	}
	l.state = Dead
	l.deathTimer = nil
	close(l.dead)
	l.mu.Unlock()

	l.log.Debug("Peer missed its pong", "timeout", l.timeout)
	l.onDead()
}

// Stop disarms any pending timer. It is safe to call more than once.
func (l *Liveness) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	if l.deathTimer != nil {
		l.deathTimer.Stop()
		l.deathTimer = nil
	}
	// A stopped monitor no longer waits for anything
	if l.state == AwaitingPong {
		l.state = Alive
	}
}

func (l *Liveness) State() LivenessState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Liveness) LastPongAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastPongAt
}
