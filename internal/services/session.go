package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/taskmind/taskmind/internal/logger"
)

// Subscriber is one observer's delivery queue for a session's output.
// Chunks arrive on Out() in emission order; the channel is closed exactly
// once as the end-of-stream marker after the last chunk. The queue is
// unbounded so a slow consumer never applies backpressure to the drain
// loop.
type Subscriber struct {
	mu    sync.Mutex
	queue [][]byte
	ended bool

	wake chan struct{}
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newSubscriber() *Subscriber {
	s := &Subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
	go s.pump()
	return s
}

// Out is the live output stream. A closed channel means the session ended
// and no further output will ever arrive.
func (s *Subscriber) Out() <-chan []byte {
	return s.out
}

func (s *Subscriber) pump() {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			chunk := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			select {
			case s.out <- chunk:
			case <-s.done:
				close(s.out)
				return
			}
			continue
		}
		ended := s.ended
		s.mu.Unlock()

		if ended {
			close(s.out)
			return
		}
		select {
		case <-s.wake:
		case <-s.done:
			close(s.out)
			return
		}
	}
}

func (s *Subscriber) push(chunk []byte) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, chunk)
	s.mu.Unlock()
	s.signal()
}

// finish marks the stream complete; Out() closes once the queue drains.
func (s *Subscriber) finish() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// stop abandons the subscriber without waiting for the queue to drain.
func (s *Subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// Session wraps a PTY channel with bounded output history and fan-out to
// any number of subscribers. One background drain loop per session is the
// sole writer of the history buffer and the sole producer into subscriber
// queues.
type Session struct {
	ID        string
	Command   []string
	WorkDir   string
	CreatedAt time.Time

	channel *Channel
	history *historyBuffer

	subMu sync.RWMutex
	subs  map[*Subscriber]struct{}

	stateMu sync.Mutex
	running bool

	cancel   context.CancelFunc
	drained  chan struct{}
	stopOnce sync.Once
}

// NewSession builds an unstarted session. historyBytes bounds the replay
// buffer; zero selects the default capacity.
func NewSession(id string, command []string, cwd string, historyBytes int) *Session {
	return &Session{
		ID:        id,
		Command:   command,
		WorkDir:   cwd,
		CreatedAt: time.Now(),
		history:   newHistoryBuffer(historyBytes),
		subs:      make(map[*Subscriber]struct{}),
		drained:   make(chan struct{}),
	}
}

// Start spawns the child under a PTY and launches the drain loop. Spawn
// failures are returned to the caller; no goroutine is left behind.
func (s *Session) Start(env map[string]string) error {
	channel, err := StartChannel(s.Command, s.WorkDir, env)
	if err != nil {
		return err
	}

	s.channel = channel

	s.stateMu.Lock()
	s.running = true
	s.stateMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.drainLoop(ctx)

	logger.Infof("🖥️  Terminal session %s started (pid %d)", shortID(s.ID), channel.Pid())
	return nil
}

// Running reports whether the session has started and not yet ended.
func (s *Session) Running() bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.running
}

// Pid returns the child process id. Valid only after Start.
func (s *Session) Pid() int {
	return s.channel.Pid()
}

func (s *Session) drainLoop(ctx context.Context) {
	defer close(s.drained)
	defer s.finishSubscribers()

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := s.channel.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.history.Write(chunk)
			s.broadcast(chunk)
			continue
		}
		if errors.Is(err, ErrNoData) {
			continue
		}
		// ErrChannelClosed: the child exited or the handle was torn down.
		// All I/O errors are equivalent to EOF here; no retries.
		logger.Infof("📴 PTY read loop ended for %s", shortID(s.ID))
		return
	}
}

func (s *Session) broadcast(chunk []byte) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for sub := range s.subs {
		sub.push(chunk)
	}
}

// finishSubscribers marks the session ended and delivers the end-of-stream
// marker to every subscriber. Runs on both EOF and explicit stop.
func (s *Session) finishSubscribers() {
	s.stateMu.Lock()
	s.running = false
	s.stateMu.Unlock()

	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for sub := range s.subs {
		sub.finish()
	}
}

// Subscribe registers a new delivery queue and returns it. Callers should
// take a History snapshot immediately after subscribing: registering the
// queue first biases the race at the boundary toward duplicated bytes,
// which terminal rendering tolerates, over dropped ones, which it does
// not. Subscribing to an ended session yields an immediately-closed
// stream.
func (s *Session) Subscribe() *Subscriber {
	sub := newSubscriber()

	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	if !s.Running() {
		sub.finish()
	}
	return sub
}

// Unsubscribe removes the queue. Safe to call multiple times and after
// the session ended; it never affects other subscribers.
func (s *Session) Unsubscribe(sub *Subscriber) {
	s.subMu.Lock()
	delete(s.subs, sub)
	s.subMu.Unlock()
	sub.stop()
}

// History returns the buffered output as one contiguous sequence in
// emission order.
func (s *Session) History() []byte {
	return s.history.Bytes()
}

// Write forwards keystrokes to the PTY. A no-op once the session ended.
func (s *Session) Write(data string) error {
	if !s.Running() {
		return nil
	}
	if _, err := s.channel.Write([]byte(data)); err != nil && !errors.Is(err, ErrChannelClosed) {
		return err
	}
	return nil
}

// Resize forwards a window-size change. Resize failures are non-fatal:
// they are logged and the session continues.
func (s *Session) Resize(rows, cols uint16) {
	if !s.Running() {
		return
	}
	if err := s.channel.Resize(rows, cols); err != nil {
		logger.Warnf("⚠️ Resize of session %s failed: %v", shortID(s.ID), err)
	}
}

// Stop cancels the drain loop, tears down the PTY channel, and waits for
// both before returning: when Stop returns the child process is reaped
// and the master handle released. Idempotent.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel == nil {
			// Never started.
			s.stateMu.Lock()
			s.running = false
			s.stateMu.Unlock()
			close(s.drained)
			return
		}
		s.cancel()
		s.channel.Stop()
		<-s.drained
		logger.Infof("🛑 Terminal session %s stopped", shortID(s.ID))
	})
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
