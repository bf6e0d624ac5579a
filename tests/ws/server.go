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

// Package ws provides a WebSocket test server that can stand in for a BiDi
// remote end at the message level.
package ws

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Server can be used as a test alternative to a real BiDi compatible browser.
type Server struct {
	t          testing.TB
	Mux        *http.ServeMux
	ServerHTTP *httptest.Server
	Context    context.Context
}

// NewServer returns a fully configured and running WS test server.
func NewServer(t testing.TB, opts ...func(*Server)) *Server {
	t.Helper()

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	s := &Server{
		t:          t,
		Mux:        mux,
		ServerHTTP: server,
		Context:    ctx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WSURL returns the ws:// URL of path on the server.
func (s *Server) WSURL(path string) string {
	u, err := url.Parse(s.ServerHTTP.URL)
	if err != nil {
		s.t.Fatalf("parsing test server URL: %v", err)
	}
	return fmt.Sprintf("ws://%s%s", u.Host, path)
}

// WithClosureAbnormalHandler attaches an abnormal closure behavior to Server.
func WithClosureAbnormalHandler(path string) func(*Server) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
		if err != nil {
			return
		}
		// Wait for a first message so the client gets to send something.
		_, _, _ = conn.ReadMessage()
		_ = conn.Close() // This forces a connection closure without a proper WS close message exchange
	}
	return func(s *Server) {
		s.Mux.Handle(path, http.HandlerFunc(handler))
	}
}

// WithEchoHandler attaches an echo handler to Server.
func WithEchoHandler(path string) func(*Server) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
		if err != nil {
			return
		}
		defer conn.Close() //nolint:errcheck
		for {
			messageType, r, e := conn.NextReader()
			if e != nil {
				return
			}
			wc, err := conn.NextWriter(messageType)
			if err != nil {
				return
			}
			if _, err = io.Copy(wc, r); err != nil {
				return
			}
			if err = wc.Close(); err != nil {
				return
			}
		}
	}
	return func(s *Server) {
		s.Mux.Handle(path, http.HandlerFunc(handler))
	}
}

// Commands records the methods of the commands a handler received.
type Commands struct {
	mu      sync.Mutex
	methods []string
}

// Methods returns a copy of the received command methods, in order.
func (c *Commands) Methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.methods...)
}

func (c *Commands) add(method string) {
	c.mu.Lock()
	c.methods = append(c.methods, method)
	c.mu.Unlock()
}

// BiDiHandler handles one decoded command. Replies and events are queued
// on writeCh and written in order.
type BiDiHandler func(conn *websocket.Conn, msg gjson.Result, writeCh chan<- string, done chan struct{})

// WithBiDiHandler attaches a custom BiDi handler function to Server.
func WithBiDiHandler(path string, fn BiDiHandler, cmdsReceived *Commands) func(*Server) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
		if err != nil {
			return
		}

		done := make(chan struct{})
		writeCh := make(chan string, 16)

		go func() {
			defer close(done)
			for {
				_, buf, err := conn.ReadMessage()
				if err != nil {
					return
				}
				msg := gjson.ParseBytes(buf)
				if method := msg.Get("method").String(); method != "" && cmdsReceived != nil {
					cmdsReceived.add(method)
				}

				fn(conn, msg, writeCh, done)
			}
		}()

		go func() {
			for {
				select {
				case msg := <-writeCh:
					if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
						// Unblock the reader; keep draining until it exits.
						_ = conn.Close()
					}
				case <-done:
					return
				}
			}
		}()

		<-done // Wait for done channel to be closed before closing connection
		_ = conn.Close()
	}
	return func(s *Server) {
		s.Mux.Handle(path, http.HandlerFunc(handler))
	}
}

// Success renders a success reply to the command with the given id.
func Success(id int64, result string) string {
	return `{"type":"success","id":` + strconv.FormatInt(id, 10) + `,"result":` + result + `}`
}

// Failure renders an error reply to the command with the given id.
func Failure(id int64, code, message string) string {
	return fmt.Sprintf(`{"type":"error","id":%d,"error":%q,"message":%q,"stacktrace":""}`, id, code, message)
}

// Event renders an event message.
func Event(method, params string) string {
	return fmt.Sprintf(`{"type":"event","method":%q,"params":%s}`, method, params)
}

// BiDiDefaultHandler replies with an empty success result to every command.
func BiDiDefaultHandler(_ *websocket.Conn, msg gjson.Result, writeCh chan<- string, done chan struct{}) {
	select {
	case writeCh <- Success(msg.Get("id").Int(), `{}`):
	case <-done:
	}
}

// Silent is a handler that never replies, for exercising timeouts.
func Silent(*websocket.Conn, gjson.Result, chan<- string, chan struct{}) {}

// Delayed wraps fn so it runs after d, for exercising command deadlines.
func Delayed(d time.Duration, fn BiDiHandler) BiDiHandler {
	return func(conn *websocket.Conn, msg gjson.Result, writeCh chan<- string, done chan struct{}) {
		select {
		case <-time.After(d):
			fn(conn, msg, writeCh, done)
		case <-done:
		}
	}
}
