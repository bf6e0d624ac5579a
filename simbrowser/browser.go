// Package simbrowser implements a simulated BiDi remote end.
//
// It is not a browser. It models the observable behaviour of document
// loading that the conformance scenarios assert on: browsing context trees,
// navigation ids, iframe load ordering, document.write replacement and
// event subscriptions. Documents are fetched over HTTP, parsed with goquery
// and their inline scripts run in goja realms with small DOM shims.
package simbrowser

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"

	"github.com/liuxd6825/bidiload/bidi"
	"github.com/liuxd6825/bidiload/log"
)

// BrowserName is reported in the session.new capabilities.
const BrowserName = "bidiload-sim"

// Browser serves simulated BiDi sessions, one per WebSocket connection.
type Browser struct {
	logger   *log.Logger
	client   *http.Client
	clock    func() time.Time
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[*session]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// Option configures a Browser.
type Option func(*Browser)

// WithHTTPClient sets the client used to fetch documents and scripts.
func WithHTTPClient(c *http.Client) Option {
	return func(b *Browser) { b.client = c }
}

// WithClock sets the browser clock used for event timestamps and Date.now().
func WithClock(clock func() time.Time) Option {
	return func(b *Browser) { b.clock = clock }
}

// New returns a simulated browser.
func New(logger *log.Logger, opts ...Option) *Browser {
	b := &Browser{
		logger:   logger,
		client:   &http.Client{Timeout: bidi.DefaultTimeout},
		clock:    time.Now,
		sessions: make(map[*session]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ServeHTTP upgrades the request and serves a session until the client
// disconnects.
func (b *Browser) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Errorf("sim", "upgrading %s: %v", r.RemoteAddr, err)
		return
	}

	s := newSession(b, conn)
	if !b.track(s) {
		_ = conn.Close()
		return
	}
	defer b.untrack(s)

	b.logger.Debugf("sim", "session started for %s", r.RemoteAddr)
	s.run()
	b.logger.Debugf("sim", "session for %s ended", r.RemoteAddr)
}

func (b *Browser) track(s *session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.sessions[s] = struct{}{}
	b.wg.Add(1)
	return true
}

func (b *Browser) untrack(s *session) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
	b.wg.Done()
}

// Wait blocks until every served session has ended.
func (b *Browser) Wait() {
	b.wg.Wait()
}

// Close drops every connected client and waits for their sessions to end.
// New connections are refused afterwards.
func (b *Browser) Close() {
	b.mu.Lock()
	b.closed = true
	for s := range b.sessions {
		_ = s.conn.Close()
	}
	b.mu.Unlock()

	b.wg.Wait()
}

// session is the state of one connected client. All browser state is owned
// by the main loop goroutine; the reader and writer only move bytes.
type session struct {
	b      *Browser
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	tasks   chan func()
	writeCh chan []byte
	done    chan struct{}

	contexts map[string]*browsingContext
	tops     []*browsingContext
	subs     []*subscription
}

func newSession(b *Browser, conn *websocket.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		b:        b,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    make(chan func(), 64),
		writeCh:  make(chan []byte, 64),
		done:     make(chan struct{}),
		contexts: make(map[string]*browsingContext),
	}
	s.newTopLevel()
	return s
}

func (s *session) run() {
	go s.writeLoop()
	go s.mainLoop()
	s.readLoop()

	s.cancel()
	close(s.done)
	_ = s.conn.Close()
}

func (s *session) readLoop() {
	for {
		_, buf, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.b.logger.Warnf("sim", "read: %v", err)
			}
			return
		}
		s.b.logger.Debugf("sim:recv", "<- %s", buf)

		var msg bidi.Message
		lexer := jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&lexer)
		if err := lexer.Error(); err != nil {
			s.reply(0, nil, newError(bidi.ErrorCodeInvalidArgument, "malformed message: %v", err))
			continue
		}

		select {
		case s.tasks <- func() { s.dispatch(&msg) }:
		case <-s.ctx.Done():
			return
		}
	}
}

// mainLoop plays the role of the browser's main thread.
func (s *session) mainLoop() {
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.done:
			return
		}
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case buf := <-s.writeCh:
			s.b.logger.Debugf("sim:send", "-> %s", buf)
			if err := s.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				s.b.logger.Warnf("sim", "write: %v", err)
				_ = s.conn.Close()
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) write(msg *bidi.Message) {
	buf, err := easyjson.Marshal(msg)
	if err != nil {
		s.b.logger.Errorf("sim", "encoding message: %v", err)
		return
	}
	select {
	case s.writeCh <- buf:
	case <-s.done:
	}
}

// reply answers command id with either result or err.
func (s *session) reply(id int64, result interface{}, err *protocolError) {
	if err != nil {
		s.write(&bidi.Message{
			Type:    bidi.MessageTypeError,
			ID:      id,
			Error:   err.code,
			Message: err.message,
		})
		return
	}
	raw, merr := marshalRaw(result)
	if merr != nil {
		s.reply(id, nil, newError(bidi.ErrorCodeUnknownError, "encoding result: %v", merr))
		return
	}
	s.write(&bidi.Message{Type: bidi.MessageTypeSuccess, ID: id, Result: raw})
}

// emit sends an event if the client subscribed to it for bc.
func (s *session) emit(method string, bc *browsingContext, params interface{}) {
	if !s.isSubscribed(method, bc) {
		return
	}
	raw, err := marshalRaw(params)
	if err != nil {
		s.b.logger.Errorf("sim", "encoding %s: %v", method, err)
		return
	}
	s.write(&bidi.Message{Type: bidi.MessageTypeEvent, Method: method, Params: raw})
}

func (s *session) now() int64 {
	return s.b.clock().UnixMilli()
}
