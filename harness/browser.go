// Package harness provides the fixtures the conformance scenarios are
// written against: a connected session, a page server, event recorders and
// assertions.
package harness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/bidiload/bidi"
	"github.com/liuxd6825/bidiload/log"
	"github.com/liuxd6825/bidiload/simbrowser"
)

// T is the part of testing.TB the scenarios use. The command line runner
// provides its own implementation.
type T interface {
	Helper()
	Name() string
	Logf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	FailNow()
	Cleanup(func())
}

// Browser is a connected browser under test together with the HTTP server
// that serves the test pages.
type Browser struct {
	Session *bidi.Session
	Config  Config

	logger *log.Logger
	pages  *server
	sim    *server
}

// Launch connects to the configured endpoint. Without one it starts the
// simulated browser in-process.
func Launch(ctx context.Context, cfg Config, logger *log.Logger) (_ *Browser, err error) {
	b := &Browser{Config: cfg, logger: logger}
	defer func() {
		if err != nil {
			b.closeServers()
		}
	}()

	if b.pages, err = serve(newPageMux(logger)); err != nil {
		return nil, fmt.Errorf("starting page server: %w", err)
	}

	wsURL := cfg.WebSocketURL.String
	if wsURL == "" {
		if b.sim, err = serve(simbrowser.New(logger)); err != nil {
			return nil, fmt.Errorf("starting simulated browser: %w", err)
		}
		wsURL = "ws://" + b.sim.addr + "/session"
		logger.Debugf("harness", "no endpoint configured, using simulated browser at %s", wsURL)
	}

	session, err := bidi.Connect(ctx, wsURL, logger, bidi.WithCommandTimeout(cfg.Timeout.TimeDuration()))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", wsURL, err)
	}
	b.Session = session

	if cfg.NewSession.Bool {
		res, err := session.New(ctx, map[string]interface{}{})
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("creating session: %w", err)
		}
		logger.Infof("harness", "session %s with %v %v", res.SessionID,
			res.Capabilities["browserName"], res.Capabilities["browserVersion"])
	}

	return b, nil
}

// Simulated reports whether the browser under test is the in-process
// simulator.
func (b *Browser) Simulated() bool {
	return b.sim != nil
}

// Close ends the session and stops the servers.
func (b *Browser) Close() error {
	var err error
	if b.Session != nil {
		if b.Config.NewSession.Bool {
			ctx, cancel := context.WithTimeout(context.Background(), b.Config.Timeout.TimeDuration())
			if eerr := b.Session.End(ctx); eerr != nil && !errors.Is(eerr, bidi.ErrConnectionClosed) {
				b.logger.Warnf("harness", "ending session: %v", eerr)
			}
			cancel()
		}
		err = b.Session.Close()
	}
	b.closeServers()
	return err
}

func (b *Browser) closeServers() {
	for _, s := range []*server{b.sim, b.pages} {
		if s != nil {
			s.close()
		}
	}
}

// URL returns the page server URL for path.
func (b *Browser) URL(path string) string {
	return "http://" + b.pages.addr + path
}

// Inline returns a URL serving doc as an HTML document.
func (b *Browser) Inline(doc string) string {
	return b.URL("/inline?doc=" + url.QueryEscape(doc))
}

// TestBrowser launches the browser configured by the environment and closes
// it when t finishes.
func TestBrowser(t testing.TB) *Browser {
	t.Helper()

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)

	logger, err := NewLogger(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.TimeDuration())
	defer cancel()
	b, err := Launch(ctx, cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	return b
}

// Env is the per-scenario view of a Browser. Tabs it opens and
// subscriptions it makes are undone when the scenario finishes.
type Env struct {
	Ctx     context.Context
	Session *bidi.Session
	Browser *Browser

	t T
}

// Env returns the fixtures for one scenario.
func (b *Browser) Env(t T) *Env {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return &Env{Ctx: ctx, Session: b.Session, Browser: b, t: t}
}

// EventTimeout bounds waits for events that must arrive.
func (e *Env) EventTimeout() time.Duration {
	return e.Browser.Config.EventTimeout.TimeDuration()
}

// NoEventTimeout is how long to wait for an event that must not arrive.
func (e *Env) NoEventTimeout() time.Duration {
	return e.Browser.Config.NoEventTimeout.TimeDuration()
}

// Inline returns a URL serving doc as an HTML document.
func (e *Env) Inline(doc string) string {
	return e.Browser.Inline(doc)
}

// TestPage returns a small document without frames.
func (e *Env) TestPage() string {
	return e.Inline("<div>foo</div>")
}

// TestPageSameOriginFrame returns a document embedding TestPage in a frame.
func (e *Env) TestPageSameOriginFrame() string {
	return e.Inline(fmt.Sprintf("<iframe src='%s'></iframe>", e.TestPage()))
}

// TopContext returns the first top-level browsing context.
func (e *Env) TopContext() string {
	e.t.Helper()

	tree, err := e.Session.BrowsingContext.GetTree(e.Ctx, "", 0)
	require.NoError(e.t, err)
	require.NotEmpty(e.t, tree, "the browser has no top-level browsing context")
	return tree[0].Context
}

// NewTab opens a top-level context that is closed when the scenario ends.
func (e *Env) NewTab(typ bidi.CreateType) string {
	e.t.Helper()

	id, err := e.Session.BrowsingContext.Create(e.Ctx, typ, nil)
	require.NoError(e.t, err)
	e.t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.Browser.Config.Timeout.TimeDuration())
		defer cancel()
		if err := e.Session.BrowsingContext.Close(ctx, id); err != nil && !bidi.IsErrorCode(err, bidi.ErrorCodeNoSuchFrame) {
			e.t.Logf("closing %s: %v", id, err)
		}
	})
	return id
}

// Subscribe subscribes to events, optionally for some contexts only. The
// subscription is removed when the scenario ends unless it was removed by
// then. Remote ends that reply without a subscription id are unsubscribed
// by event and context instead.
func (e *Env) Subscribe(events []string, contexts ...string) string {
	e.t.Helper()

	id, err := e.Session.Subscribe(e.Ctx, events, contexts...)
	require.NoError(e.t, err)
	e.t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.Browser.Config.Timeout.TimeDuration())
		defer cancel()

		var err error
		what := id
		if id == "" {
			what = strings.Join(events, ",")
			err = e.Session.Unsubscribe(ctx, events, contexts...)
		} else {
			err = e.Session.UnsubscribeByID(ctx, id)
		}
		if err != nil && !bidi.IsErrorCode(err, bidi.ErrorCodeInvalidArgument) {
			e.t.Logf("removing subscription %s: %v", what, err)
		}
	})
	return id
}

// Collect records event for the rest of the scenario.
func (e *Env) Collect(event string) *Events {
	e.t.Helper()
	return Collect(e.t, e.Session, event)
}

// WaitForEvent returns a future for the next occurrence of event. Its
// listener is removed when the scenario ends.
func (e *Env) WaitForEvent(event string) *Future {
	f := WaitForEvent(e.Session, event)
	e.t.Cleanup(f.Cancel)
	return f
}

// Navigate navigates contextID and fails the scenario on error.
func (e *Env) Navigate(contextID, target string, wait bidi.ReadinessState) *bidi.NavigateResult {
	e.t.Helper()

	res, err := e.Session.BrowsingContext.Navigate(e.Ctx, contextID, target, wait)
	require.NoError(e.t, err)
	return res
}

// CurrentTime samples the browser clock through contextID.
func (e *Env) CurrentTime(contextID string) int64 {
	e.t.Helper()

	now, err := CurrentTime(e.Ctx, e.Session, contextID)
	require.NoError(e.t, err)
	return now
}

// Evaluate runs expression in target without awaiting a returned promise
// and fails the scenario on error.
func (e *Env) Evaluate(expression string, target bidi.ContextTarget) *bidi.RemoteValue {
	e.t.Helper()

	v, err := e.Session.Script.Evaluate(e.Ctx, expression, target, false)
	require.NoError(e.t, err)
	return v
}

// Expect builds the expectation for a load in contextID at url.
func Expect(contextID, url string) Expected {
	return Expected{Context: null.StringFrom(contextID), URL: null.StringFrom(url)}
}

// server is an HTTP server on a loopback port.
type server struct {
	addr string
	srv  *http.Server
	done chan struct{}
}

func serve(h http.Handler) (*server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &server{
		addr: ln.Addr().String(),
		srv:  &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second},
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		_ = s.srv.Serve(ln)
	}()
	return s, nil
}

func (s *server) close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		_ = s.srv.Close()
	}
	<-s.done
}

func newPageMux(logger *log.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/inline", func(w http.ResponseWriter, r *http.Request) {
		doc := r.URL.Query().Get("doc")
		logger.Debugf("harness:pages", "GET %s (%d bytes)", r.URL.Path, len(doc))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(doc))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<!DOCTYPE html><title>bidiload</title>`))
	})
	return mux
}
