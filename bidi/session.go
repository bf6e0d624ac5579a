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
	"fmt"
	"time"

	"github.com/liuxd6825/bidiload/log"
)

// Session is the client side of a BiDi session. It groups the protocol
// modules the conformance scenarios drive.
type Session struct {
	conn    *Connection
	logger  *log.Logger
	timeout time.Duration

	BrowsingContext *BrowsingContext
	Script          *Script
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithCommandTimeout bounds commands whose context carries no deadline.
func WithCommandTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewSession wraps an established connection.
func NewSession(conn *Connection, logger *log.Logger, opts ...SessionOption) *Session {
	s := &Session{
		conn:    conn,
		logger:  logger,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.BrowsingContext = &BrowsingContext{s}
	s.Script = &Script{s}
	return s
}

// Connect dials wsURL and returns a session on top of the new connection.
func Connect(ctx context.Context, wsURL string, logger *log.Logger, opts ...SessionOption) (*Session, error) {
	conn, err := NewConnection(ctx, wsURL, logger)
	if err != nil {
		return nil, err
	}
	return NewSession(conn, logger, opts...), nil
}

// Connection returns the underlying connection.
func (s *Session) Connection() *Connection {
	return s.conn
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// Execute implements Executor, applying the session command timeout.
func (s *Session) Execute(ctx context.Context, method string, params interface{}, res interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.conn.Execute(ctx, method, params, res)
}

// AddEventListener registers fn for the named event. The returned func
// deregisters it; callers must call it before the next scenario starts.
func (s *Session) AddEventListener(method string, fn func(method string, params []byte)) (remove func()) {
	return s.conn.AddEventListener(method, fn)
}

// New sends session.new. It is only needed for endpoints that are not
// already bound to a WebDriver classic session.
func (s *Session) New(ctx context.Context, capabilities map[string]interface{}) (*NewResult, error) {
	if capabilities == nil {
		capabilities = map[string]interface{}{}
	}
	var res NewResult
	if err := s.Execute(ctx, CommandSessionNew, &newParams{Capabilities: capabilities}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// End sends session.end.
func (s *Session) End(ctx context.Context) error {
	return s.Execute(ctx, CommandSessionEnd, nil, nil)
}

// Status sends session.status.
func (s *Session) Status(ctx context.Context) (*StatusResult, error) {
	var res StatusResult
	if err := s.Execute(ctx, CommandSessionStatus, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Subscribe enables delivery of events, globally or only for the given
// top-level contexts. It returns the subscription id when the remote end
// provides one.
func (s *Session) Subscribe(ctx context.Context, events []string, contexts ...string) (string, error) {
	if len(events) == 0 {
		return "", fmt.Errorf("subscribe: no events given")
	}
	var res SubscribeResult
	if err := s.Execute(ctx, CommandSessionSubscribe, &subscribeParams{Events: events, Contexts: contexts}, &res); err != nil {
		return "", err
	}
	return res.Subscription, nil
}

// Unsubscribe disables delivery of events, globally or for the given contexts.
func (s *Session) Unsubscribe(ctx context.Context, events []string, contexts ...string) error {
	return s.Execute(ctx, CommandSessionUnsubscribe, &unsubscribeParams{Events: events, Contexts: contexts}, nil)
}

// UnsubscribeByID removes subscriptions by the ids Subscribe returned.
func (s *Session) UnsubscribeByID(ctx context.Context, ids ...string) error {
	return s.Execute(ctx, CommandSessionUnsubscribe, &unsubscribeParams{Subscriptions: ids}, nil)
}
