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

import "time"

const (
	// DefaultTimeout bounds every command round trip that doesn't carry
	// its own deadline.
	DefaultTimeout time.Duration = 30 * time.Second

	wsWriteBufferSize = 1 << 20
	wsCloseTimeout    = 10 * time.Second
)

// Message types as found in the "type" field of incoming messages.
const (
	MessageTypeSuccess = "success"
	MessageTypeError   = "error"
	MessageTypeEvent   = "event"
)

// Commands.
const (
	CommandSessionNew         = "session.new"
	CommandSessionEnd         = "session.end"
	CommandSessionStatus      = "session.status"
	CommandSessionSubscribe   = "session.subscribe"
	CommandSessionUnsubscribe = "session.unsubscribe"

	CommandBrowsingContextClose    = "browsingContext.close"
	CommandBrowsingContextCreate   = "browsingContext.create"
	CommandBrowsingContextGetTree  = "browsingContext.getTree"
	CommandBrowsingContextNavigate = "browsingContext.navigate"
	CommandBrowsingContextReload   = "browsingContext.reload"

	CommandScriptEvaluate = "script.evaluate"
)

// Events.
const (
	EventBrowsingContextLoad              = "browsingContext.load"
	EventBrowsingContextDOMContentLoaded  = "browsingContext.domContentLoaded"
	EventBrowsingContextContextCreated    = "browsingContext.contextCreated"
	EventBrowsingContextContextDestroyed  = "browsingContext.contextDestroyed"
	EventBrowsingContextNavigationStarted = "browsingContext.navigationStarted"

	// EventConnectionClose is emitted locally when the WebSocket goes away.
	EventConnectionClose = "bidi:close"
)

// Error codes sent by the remote end.
const (
	ErrorCodeInvalidArgument = "invalid argument"
	ErrorCodeNoSuchFrame     = "no such frame"
	ErrorCodeUnknownCommand  = "unknown command"
	ErrorCodeUnknownError    = "unknown error"
	ErrorCodeNoSuchScript    = "no such script"
)
