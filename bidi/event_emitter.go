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
	"sync"

	"github.com/mailru/easyjson"
)

// Ensure BaseEventEmitter implements the EventEmitter interface
var _ EventEmitter = &BaseEventEmitter{}

// Event as emitted by an EventEmitter.
type Event struct {
	Method string
	Params easyjson.RawMessage
}

type eventHandler struct {
	id  int64
	ctx context.Context
	fn  func(Event)
}

// EventEmitter that all event emitters need to implement
type EventEmitter interface {
	emit(method string, params easyjson.RawMessage)
	on(ctx context.Context, events []string, fn func(Event)) func()
	onAll(ctx context.Context, fn func(Event)) func()
}

// BaseEventEmitter emits events to registered handlers.
//
// Handlers are called synchronously, in registration order, on the
// goroutine calling emit. For a Connection that is the receive loop, so
// handlers observe events in arrival order and must not block on replies.
type BaseEventEmitter struct {
	mu          sync.Mutex
	handlers    map[string][]eventHandler
	handlersAll []eventHandler
	nextID      int64
}

// NewBaseEventEmitter creates a new instance of a base event emitter
func NewBaseEventEmitter() *BaseEventEmitter {
	return &BaseEventEmitter{
		handlers:    make(map[string][]eventHandler),
		handlersAll: make([]eventHandler, 0),
	}
}

// pruneLocked drops handlers whose context is done.
func pruneLocked(handlers []eventHandler) []eventHandler {
	live := handlers[:0]
	for _, h := range handlers {
		select {
		case <-h.ctx.Done():
			continue
		default:
			live = append(live, h)
		}
	}
	return live
}

func (e *BaseEventEmitter) emit(method string, params easyjson.RawMessage) {
	e.mu.Lock()
	e.handlers[method] = pruneLocked(e.handlers[method])
	e.handlersAll = pruneLocked(e.handlersAll)
	targets := make([]eventHandler, 0, len(e.handlers[method])+len(e.handlersAll))
	targets = append(targets, e.handlers[method]...)
	targets = append(targets, e.handlersAll...)
	e.mu.Unlock()

	ev := Event{Method: method, Params: params}
	for _, h := range targets {
		if h.ctx.Err() != nil {
			continue
		}
		h.fn(ev)
	}
}

// on registers a handler for specific events. The handler is removed when
// ctx is done or when the returned func is called.
func (e *BaseEventEmitter) on(ctx context.Context, events []string, fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	for _, event := range events {
		e.handlers[event] = append(e.handlers[event], eventHandler{id, ctx, fn})
	}

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for _, event := range events {
			e.handlers[event] = removeHandler(e.handlers[event], id)
		}
	}
}

// onAll registers a handler for all events.
func (e *BaseEventEmitter) onAll(ctx context.Context, fn func(Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.handlersAll = append(e.handlersAll, eventHandler{id, ctx, fn})

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.handlersAll = removeHandler(e.handlersAll, id)
	}
}

func removeHandler(handlers []eventHandler, id int64) []eventHandler {
	for i, h := range handlers {
		if h.id == id {
			return append(handlers[:i:i], handlers[i+1:]...)
		}
	}
	return handlers
}
