/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package bidi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"

	"github.com/liuxd6825/bidiload/log"
)

// Ensure Connection implements the EventEmitter and Executor interfaces
var (
	_ EventEmitter = &Connection{}
	_ Executor     = &Connection{}
)

// Executor sends a command and decodes its reply into res.
type Executor interface {
	Execute(ctx context.Context, method string, params interface{}, res interface{}) error
}

/*
Connection represents the WebSocket connection to a BiDi remote end.

	┌──────────────────────────┐          ┌─────────────────────────────┐
	│   recvLoop: reads JSON   │          │ sendLoop: writes commands   │
	│ messages off the socket  │          │ queued by Execute, one text │
	│                          │          │ frame per command           │
	└────────────┬─────────────┘          └──────────────▲──────────────┘
	             │                                       │
	   ┌─────────┴──────────┐                    ┌───────┴────────┐
	   │ reply: wake the    │                    │ Execute: assign│
	   │ pending Execute    │◄───────────────────┤ id, wait reply │
	   │ with the same id   │                    └────────────────┘
	   ├────────────────────┤
	   │ event: emit to the │
	   │ listeners in order │
	   └────────────────────┘
*/
type Connection struct {
	*BaseEventEmitter

	ctx          context.Context
	cancel       context.CancelFunc
	wsURL        string
	logger       *log.Logger
	conn         *websocket.Conn
	sendCh       chan *Message
	done         chan struct{}
	shutdownOnce sync.Once
	closeErr     error
	msgID        int64

	pendingMu sync.Mutex
	pending   map[int64]chan *Message

	// Reuse the easyjson structs to avoid allocs per Read/Write.
	decoder jlexer.Lexer
	encoder jwriter.Writer
}

// NewConnection dials the BiDi WebSocket endpoint and starts the read and
// write loops.
func NewConnection(ctx context.Context, wsURL string, logger *log.Logger) (*Connection, error) {
	wsd := websocket.Dialer{
		HandshakeTimeout: time.Second * 60,
		Proxy:            http.ProxyFromEnvironment,
		WriteBufferSize:  wsWriteBufferSize,
	}

	conn, resp, err := wsd.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing %s: %w (HTTP %s)", wsURL, err, resp.Status)
		}
		return nil, fmt.Errorf("dialing %s: %w", wsURL, err)
	}

	// Listeners live as long as the connection, not as long as the dial.
	connCtx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		BaseEventEmitter: NewBaseEventEmitter(),
		ctx:              connCtx,
		cancel:           cancel,
		wsURL:            wsURL,
		logger:           logger,
		conn:             conn,
		sendCh:           make(chan *Message, 32), // Avoid blocking in Execute
		done:             make(chan struct{}),
		pending:          make(map[int64]chan *Message),
	}

	go c.recvLoop()
	go c.sendLoop()

	return c, nil
}

// URL returns the endpoint the connection was dialed to.
func (c *Connection) URL() string {
	return c.wsURL
}

// Done is closed once the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// shutdown tears the connection down once, failing every pending command.
func (c *Connection) shutdown(cause error) {
	c.shutdownOnce.Do(func() {
		c.closeErr = cause
		_ = c.conn.Close()
		close(c.done)

		c.pendingMu.Lock()
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()

		c.logger.Debugf("bidi:close", "connection to %s closed: %v", c.wsURL, cause)
		c.emit(EventConnectionClose, nil)
		c.cancel()
	})
}

// err returns the reason the connection shut down.
func (c *Connection) err() error {
	var cerr *websocket.CloseError
	if errors.As(c.closeErr, &cerr) && cerr.Code != websocket.CloseNormalClosure {
		return cerr
	}
	return ErrConnectionClosed
}

func (c *Connection) handleIOError(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Errorf("bidi", "unexpected connection closure: %v", err)
	}
	c.shutdown(err)
}

func (c *Connection) recvLoop() {
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			c.handleIOError(err)
			return
		}

		c.logger.Debugf("bidi:recv", "<- %s", buf)

		var msg Message
		c.decoder = jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&c.decoder)
		if err := c.decoder.Error(); err != nil {
			c.logger.Errorf("bidi", "ignoring undecodable message: %v", err)
			continue
		}

		switch {
		case msg.IsReply():
			c.pendingMu.Lock()
			ch, ok := c.pending[msg.ID]
			delete(c.pending, msg.ID)
			c.pendingMu.Unlock()
			if !ok {
				c.logger.Warnf("bidi", "reply to unknown command id %d", msg.ID)
				continue
			}
			ch <- &msg

		case msg.IsEvent():
			c.logger.Debugf("bidi:event", "%s", msg.Method)
			c.emit(msg.Method, msg.Params)

		default:
			c.logger.Errorf("bidi", "ignoring malformed incoming message (missing id or method): %s", buf)
		}
	}
}

func (c *Connection) sendLoop() {
	for {
		select {
		case msg := <-c.sendCh:
			c.encoder = jwriter.Writer{}
			msg.MarshalEasyJSON(&c.encoder)
			buf, err := c.encoder.BuildBytes()
			if err != nil {
				c.failPending(msg.ID, err)
				continue
			}

			c.logger.Debugf("bidi:send", "-> %s", buf)
			if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
				c.handleIOError(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// failPending completes a pending command with a local error reply.
func (c *Connection) failPending(id int64, err error) {
	c.pendingMu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.pendingMu.Unlock()
	if ok {
		ch <- &Message{ID: id, Type: MessageTypeError, Error: ErrorCodeInvalidArgument, Message: err.Error()}
	}
}

// Close cleanly closes the WebSocket connection.
// Returns an error if sending the close control frame fails.
func (c *Connection) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}

	err := c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsCloseTimeout),
	)
	c.shutdown(&websocket.CloseError{Code: websocket.CloseNormalClosure})

	return err
}

// Execute sends the command and blocks until its reply arrives, ctx is
// done, or the connection closes. A remote error reply is returned as *Error
// and an expired ctx deadline as *TimeoutError.
func (c *Connection) Execute(ctx context.Context, method string, params interface{}, res interface{}) error {
	raw := easyjson.RawMessage(`{}`)
	if params != nil {
		buf, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
		raw = buf
	}

	id := atomic.AddInt64(&c.msgID, 1)
	ch := make(chan *Message, 1)

	c.pendingMu.Lock()
	select {
	case <-c.done:
		c.pendingMu.Unlock()
		return c.err()
	default:
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	removePending := func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}

	start := time.Now()
	select {
	case c.sendCh <- &Message{ID: id, Method: method, Params: raw}:
	case <-ctx.Done():
		removePending()
		return ctxErr(ctx, method, start)
	case <-c.done:
		return c.err()
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return c.err()
		}
		if msg.Type == MessageTypeError {
			return &Error{Command: method, Code: msg.Error, Message: msg.Message, Stacktrace: msg.Stacktrace}
		}
		if res != nil {
			if err := json.Unmarshal(msg.Result, res); err != nil {
				return fmt.Errorf("decoding %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		removePending()
		return ctxErr(ctx, method, start)
	}
}

func ctxErr(ctx context.Context, op string, start time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Op: op, After: time.Since(start).Round(time.Millisecond)}
	}
	return ctx.Err()
}

// AddEventListener calls fn for every event named method until the returned
// func is called. fn runs on the receive loop and must not issue commands.
func (c *Connection) AddEventListener(method string, fn func(method string, params []byte)) (remove func()) {
	return c.on(c.ctx, []string{method}, func(ev Event) {
		fn(ev.Method, ev.Params)
	})
}
