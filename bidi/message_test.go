package bidi

import (
	"testing"

	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageMarshalCommand(t *testing.T) {
	t.Parallel()

	msg := Message{
		ID:     7,
		Method: CommandBrowsingContextNavigate,
		Params: easyjson.RawMessage(`{"context":"ctx","url":"about:blank"}`),
	}
	buf, err := easyjson.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"method":"browsingContext.navigate","params":{"context":"ctx","url":"about:blank"}}`, string(buf))
}

func TestMessageUnmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		reply bool
		event bool
		check func(t *testing.T, m *Message)
	}{
		{
			name:  "success",
			in:    `{"type":"success","id":3,"result":{"context":"abc"}}`,
			reply: true,
			check: func(t *testing.T, m *Message) {
				assert.Equal(t, int64(3), m.ID)
				assert.JSONEq(t, `{"context":"abc"}`, string(m.Result))
			},
		},
		{
			name:  "error",
			in:    `{"type":"error","id":4,"error":"no such frame","message":"gone","stacktrace":"at x"}`,
			reply: true,
			check: func(t *testing.T, m *Message) {
				assert.Equal(t, "no such frame", m.Error)
				assert.Equal(t, "gone", m.Message)
				assert.Equal(t, "at x", m.Stacktrace)
			},
		},
		{
			name:  "event",
			in:    `{"type":"event","method":"browsingContext.load","params":{"context":"abc","navigation":null},"extra":[1,{"a":2}]}`,
			event: true,
			check: func(t *testing.T, m *Message) {
				assert.Equal(t, EventBrowsingContextLoad, m.Method)
				assert.JSONEq(t, `{"context":"abc","navigation":null}`, string(m.Params))
			},
		},
		{
			name:  "null fields",
			in:    `{"type":"success","id":1,"result":null}`,
			reply: true,
			check: func(t *testing.T, m *Message) {
				assert.Nil(t, m.Result)
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var m Message
			require.NoError(t, easyjson.Unmarshal([]byte(tt.in), &m))
			assert.Equal(t, tt.reply, m.IsReply())
			assert.Equal(t, tt.event, m.IsEvent())
			tt.check(t, &m)
		})
	}
}

func TestMessageUnmarshalInvalid(t *testing.T) {
	t.Parallel()

	var m Message
	assert.Error(t, easyjson.Unmarshal([]byte(`{"id":"x"`), &m))
}
