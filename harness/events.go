package harness

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/liuxd6825/bidiload/bidi"
)

// Events records every payload of one event in arrival order. Payloads
// that do not decode are recorded too, and make Wait fail.
type Events struct {
	name   string
	closed <-chan struct{}

	mu       sync.Mutex
	arrivals []arrival
	changed  chan struct{}
	remove   func()
	once     sync.Once
}

type arrival struct {
	params []byte
	info   *bidi.NavigationInfo
	err    error
}

// Collect starts recording event on the session. The listener is removed
// when the test finishes or when Stop is called, whichever comes first.
func Collect(t T, s *bidi.Session, event string) *Events {
	t.Helper()

	e := &Events{
		name:    event,
		closed:  s.Connection().Done(),
		changed: make(chan struct{}),
	}
	e.remove = s.AddEventListener(event, func(_ string, params []byte) {
		a := arrival{params: append([]byte(nil), params...)}
		a.info, a.err = bidi.DecodeNavigationInfo(params)

		e.mu.Lock()
		defer e.mu.Unlock()
		e.arrivals = append(e.arrivals, a)
		close(e.changed)
		e.changed = make(chan struct{})
	})
	t.Cleanup(e.Stop)

	return e
}

// Stop deregisters the listener. Events already recorded are kept.
func (e *Events) Stop() {
	e.once.Do(e.remove)
}

// All returns the decoded payloads. Those that did not decode are left out;
// Err reports them.
func (e *Events) All() []bidi.NavigationInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	var infos []bidi.NavigationInfo
	for _, a := range e.arrivals {
		if a.err == nil {
			infos = append(infos, *a.info)
		}
	}
	return infos
}

// Raw returns the params of every arrival as received.
func (e *Events) Raw() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	raw := make([][]byte, len(e.arrivals))
	for i, a := range e.arrivals {
		raw[i] = a.params
	}
	return raw
}

// Len returns the number of arrivals, decoded or not.
func (e *Events) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.arrivals)
}

// Err returns the first payload that could not be decoded.
func (e *Events) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decodeErr()
}

func (e *Events) decodeErr() error {
	for i, a := range e.arrivals {
		if a.err != nil {
			return fmt.Errorf("decoding %s event #%d %s: %w", e.name, i+1, a.params, a.err)
		}
	}
	return nil
}

// Wait blocks until at least n events arrived. It returns a
// *bidi.TimeoutError when timeout elapses first, which is the expected
// outcome when asserting that an event does not fire. An arrival that does
// not decode fails the wait right away.
func (e *Events) Wait(ctx context.Context, n int, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		e.mu.Lock()
		count, err, changed := len(e.arrivals), e.decodeErr(), e.changed
		e.mu.Unlock()
		if err != nil {
			return err
		}
		if count >= n {
			return nil
		}

		select {
		case <-changed:
		case <-timer.C:
			return &bidi.TimeoutError{
				Op:    fmt.Sprintf("%d %s events (got %d)", n, e.name, count),
				After: timeout,
			}
		case <-e.closed:
			if err := e.Err(); err != nil {
				return err
			}
			if e.Len() >= n {
				return nil
			}
			return fmt.Errorf("waiting for %s: %w", e.name, bidi.ErrConnectionClosed)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// WaitForEvents blocks until events holds at least n payloads or timeout
// elapses.
func WaitForEvents(ctx context.Context, events *Events, n int, timeout time.Duration) error {
	return events.Wait(ctx, n, timeout)
}

// Future is the first occurrence of an event.
type Future struct {
	name   string
	closed <-chan struct{}
	done   chan struct{}
	once   sync.Once
	remove func()

	info *bidi.NavigationInfo
	err  error
}

// WaitForEvent returns a future resolved by the next occurrence of event.
// Register it before triggering the event.
func WaitForEvent(s *bidi.Session, event string) *Future {
	f := &Future{
		name:   event,
		closed: s.Connection().Done(),
		done:   make(chan struct{}),
	}
	f.remove = s.AddEventListener(event, func(_ string, params []byte) {
		f.once.Do(func() {
			f.info, f.err = bidi.DecodeNavigationInfo(params)
			close(f.done)
		})
	})
	return f
}

// Get waits for the future for at most timeout and deregisters its
// listener.
func (f *Future) Get(timeout time.Duration) (*bidi.NavigationInfo, error) {
	defer f.remove()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.info, f.err
	case <-timer.C:
		return nil, &bidi.TimeoutError{Op: "event " + f.name, After: timeout}
	case <-f.closed:
		select {
		case <-f.done:
			return f.info, f.err
		default:
		}
		return nil, fmt.Errorf("waiting for %s: %w", f.name, bidi.ErrConnectionClosed)
	}
}

// Cancel deregisters the listener of a future that will not be awaited.
func (f *Future) Cancel() {
	f.remove()
}
