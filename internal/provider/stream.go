package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is the position of a streaming call in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateComplete
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateCancelled
}

// Internal cancellation causes, distinguished via context.Cause.
var (
	errConnectTimeout = errors.New("connect timeout")
	errIdleTimeout    = errors.New("stream inactivity timeout")
)

// recvFunc returns the next text delta from an established backend
// stream. io.EOF signals a clean end of stream.
type recvFunc func() (string, error)

// connection is one established backend stream.
type connection struct {
	recv  recvFunc
	close func() error
}

// connectFunc dials the backend and blocks until the response begins.
// The passed context stays alive for the whole life of the connection;
// aborting it must abort any blocked read.
type connectFunc func(ctx context.Context) (*connection, error)

// Stream is a lazy, finite, non-restartable sequence of text deltas.
//
// Deltas arrive on Deltas() in delivery order; the channel closes when the
// stream reaches a terminal state, after which State, Err and Partial are
// stable. Cancel may be called at any time from any goroutine.
type Stream struct {
	deltas chan string
	cancel context.CancelCauseFunc

	mu      sync.Mutex
	state   State
	err     error
	partial strings.Builder
}

// newStream starts the streaming state machine. Adapters supply the
// backend-specific connect function; everything else (timeouts, retries,
// cancellation, ordering) lives here so it is testable without network I/O.
func newStream(ctx context.Context, cfg Config, connect connectFunc) *Stream {
	sctx, cancel := context.WithCancelCause(ctx)
	s := &Stream{
		deltas: make(chan string),
		cancel: cancel,
		state:  StateIdle,
	}
	go s.run(sctx, cfg, connect)
	return s
}

// Deltas returns the delta channel. It is closed once the stream reaches
// a terminal state.
func (s *Stream) Deltas() <-chan string { return s.deltas }

// State returns the current state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, if any. Only meaningful after the delta
// channel has closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Partial returns the text delivered so far. After a Failed terminal state
// it holds the partial output the caller may choose to show or discard.
func (s *Stream) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partial.String()
}

// Cancel withdraws interest in the stream. It is idempotent and safe from
// any goroutine; the underlying connection is released and the stream
// settles in StateCancelled (unless it already reached a terminal state).
func (s *Stream) Cancel() {
	s.cancel(ErrCancelled)
}

func (s *Stream) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Stream) appendPartial(delta string) {
	s.mu.Lock()
	s.partial.WriteString(delta)
	s.mu.Unlock()
}

// finish records the terminal state and error. The caller closes the
// channel (via the deferred close in run).
func (s *Stream) finish(state State, err error) {
	s.mu.Lock()
	s.state = state
	s.err = err
	s.mu.Unlock()
}

func (s *Stream) run(ctx context.Context, cfg Config, connect connectFunc) {
	defer close(s.deltas)
	defer s.cancel(nil)

	s.setState(StateConnecting)
	conn, err := s.dial(ctx, cfg, connect)
	if err != nil {
		if cancelled(ctx) {
			s.finish(StateCancelled, ErrCancelled)
			return
		}
		s.finish(StateFailed, err)
		return
	}
	defer func() { _ = conn.close() }()

	s.setState(StateStreaming)
	idle := time.AfterFunc(cfg.IdleTimeout, func() {
		s.cancel(errIdleTimeout)
	})
	defer idle.Stop()

	for {
		delta, err := conn.recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.finish(StateComplete, nil)
				return
			}
			s.finishAborted(ctx, cfg, err)
			return
		}
		idle.Reset(cfg.IdleTimeout)
		if delta == "" {
			continue
		}

		if ctx.Err() != nil {
			s.finishAborted(ctx, cfg, context.Cause(ctx))
			return
		}
		select {
		case s.deltas <- delta:
			s.appendPartial(delta)
		case <-ctx.Done():
			s.finishAborted(ctx, cfg, context.Cause(ctx))
			return
		}
	}
}

// finishAborted classifies a mid-stream abort: caller cancellation,
// inactivity timeout or backend failure. Partial output is preserved
// either way.
func (s *Stream) finishAborted(ctx context.Context, cfg Config, err error) {
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, ErrCancelled), errors.Is(cause, context.Canceled):
		s.finish(StateCancelled, ErrCancelled)
	case errors.Is(cause, errIdleTimeout):
		s.finish(StateFailed, fmt.Errorf("%w: no delta within %s", ErrStreamPartial, cfg.IdleTimeout))
	default:
		s.finish(StateFailed, fmt.Errorf("%w: %w", ErrStreamPartial, err))
	}
}

// dial establishes the backend stream with a per-attempt first-byte
// timeout and bounded retries. Retrying is safe here because nothing has
// been delivered yet; once streaming begins failures are never retried.
func (s *Stream) dial(ctx context.Context, cfg Config, connect connectFunc) (*connection, error) {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(newConnectBackoff(), uint64(cfg.ConnectRetries)), ctx)

	return backoff.RetryWithData(func() (*connection, error) {
		// The attempt context must outlive a successful connect: the
		// response body keeps reading under it. It is cancelled by the
		// first-byte watchdog, by stream cancellation (it is a child of
		// the stream context), or by conn.close.
		attemptCtx, cancelAttempt := context.WithCancelCause(ctx)
		watchdog := time.AfterFunc(cfg.ConnectTimeout, func() {
			cancelAttempt(errConnectTimeout)
		})

		conn, err := connect(attemptCtx)
		if err != nil {
			watchdog.Stop()
			cancelAttempt(context.Canceled)
			if ctx.Err() != nil {
				return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrConnect, err))
			}
			if errors.Is(context.Cause(attemptCtx), errConnectTimeout) {
				return nil, fmt.Errorf("%w: no response within %s: %w",
					ErrConnect, cfg.ConnectTimeout, context.DeadlineExceeded)
			}
			return nil, fmt.Errorf("%w: %w", ErrConnect, err)
		}

		watchdog.Stop()
		inner := conn.close
		conn.close = func() error {
			cancelAttempt(context.Canceled)
			if inner != nil {
				return inner()
			}
			return nil
		}
		return conn, nil
	}, policy)
}

// NewScriptedStream drives the state machine over a caller-supplied next
// function instead of a network connection. It exists for test fakes; the
// next function follows recvFunc semantics (io.EOF ends the stream).
func NewScriptedStream(ctx context.Context, cfg Config, next func() (string, error)) *Stream {
	return newStream(ctx, cfg.withDefaults(), func(context.Context) (*connection, error) {
		return &connection{recv: next}, nil
	})
}

func cancelled(ctx context.Context) bool {
	cause := context.Cause(ctx)
	return errors.Is(cause, ErrCancelled) || errors.Is(cause, context.Canceled)
}

func newConnectBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	return b
}
