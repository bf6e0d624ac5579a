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
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
)

// Ensure Message implements the easyjson interfaces
var (
	_ easyjson.Marshaler   = Message{}
	_ easyjson.Unmarshaler = &Message{}
)

// Message is the envelope of every BiDi message, in both directions.
//
// Commands carry ID, Method and Params. Replies carry Type ("success" or
// "error") and ID plus either Result or Error/Message/Stacktrace. Events carry
// Type "event", Method and Params.
type Message struct {
	ID         int64
	Type       string
	Method     string
	Params     easyjson.RawMessage
	Result     easyjson.RawMessage
	Error      string
	Message    string
	Stacktrace string
}

// IsEvent reports whether the message is an event notification.
func (m *Message) IsEvent() bool {
	return m.Type == MessageTypeEvent || (m.Type == "" && m.ID == 0 && m.Method != "")
}

// IsReply reports whether the message answers a command.
func (m *Message) IsReply() bool {
	return m.ID != 0 && (m.Type == MessageTypeSuccess || m.Type == MessageTypeError)
}

// MarshalEasyJSON writes the message omitting empty fields.
func (m Message) MarshalEasyJSON(w *jwriter.Writer) {
	first := true
	field := func(name string) {
		if !first {
			w.RawByte(',')
		}
		first = false
		w.String(name)
		w.RawByte(':')
	}

	w.RawByte('{')
	if m.Type != "" {
		field("type")
		w.String(m.Type)
	}
	if m.ID != 0 {
		field("id")
		w.Int64(m.ID)
	}
	if m.Method != "" {
		field("method")
		w.String(m.Method)
	}
	if m.Params != nil {
		field("params")
		w.Raw(m.Params, nil)
	}
	if m.Result != nil {
		field("result")
		w.Raw(m.Result, nil)
	}
	if m.Error != "" {
		field("error")
		w.String(m.Error)
		field("message")
		w.String(m.Message)
		field("stacktrace")
		w.String(m.Stacktrace)
	}
	w.RawByte('}')
}

// MarshalJSON supports json.Marshaler interface.
func (m Message) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{}
	m.MarshalEasyJSON(&w)
	return w.BuildBytes()
}

// UnmarshalEasyJSON reads a message, skipping unknown fields.
func (m *Message) UnmarshalEasyJSON(in *jlexer.Lexer) {
	isTopLevel := in.IsStart()
	if in.IsNull() {
		if isTopLevel {
			in.Consumed()
		}
		in.Skip()
		return
	}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeString()
		in.WantColon()
		if in.IsNull() {
			in.Skip()
			in.WantComma()
			continue
		}
		switch key {
		case "id":
			m.ID = in.Int64()
		case "type":
			m.Type = in.String()
		case "method":
			m.Method = in.String()
		case "params":
			(&m.Params).UnmarshalEasyJSON(in)
		case "result":
			(&m.Result).UnmarshalEasyJSON(in)
		case "error":
			m.Error = in.String()
		case "message":
			m.Message = in.String()
		case "stacktrace":
			m.Stacktrace = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	if isTopLevel {
		in.Consumed()
	}
}

// UnmarshalJSON supports json.Unmarshaler interface.
func (m *Message) UnmarshalJSON(data []byte) error {
	r := jlexer.Lexer{Data: data}
	m.UnmarshalEasyJSON(&r)
	return r.Error()
}
