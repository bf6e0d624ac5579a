package bidi

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventEmitter(t *testing.T) {
	t.Parallel()

	t.Run("handlers observe events in emit order", func(t *testing.T) {
		t.Parallel()

		emitter := NewBaseEventEmitter()
		var got []string
		emitter.on(context.Background(), []string{"a", "b"}, func(ev Event) {
			got = append(got, ev.Method+":"+string(ev.Params))
		})

		emitter.emit("a", []byte(`1`))
		emitter.emit("c", []byte(`2`))
		emitter.emit("b", []byte(`3`))
		emitter.emit("a", []byte(`4`))

		assert.Equal(t, []string{"a:1", "b:3", "a:4"}, got)
	})

	t.Run("remove stops delivery", func(t *testing.T) {
		t.Parallel()

		emitter := NewBaseEventEmitter()
		var n int
		remove := emitter.on(context.Background(), []string{"a"}, func(Event) { n++ })
		other := 0
		emitter.on(context.Background(), []string{"a"}, func(Event) { other++ })

		emitter.emit("a", nil)
		remove()
		emitter.emit("a", nil)

		assert.Equal(t, 1, n)
		assert.Equal(t, 2, other)
	})

	t.Run("cancelled context removes handler", func(t *testing.T) {
		t.Parallel()

		emitter := NewBaseEventEmitter()
		ctx, cancel := context.WithCancel(context.Background())
		var n int
		emitter.on(ctx, []string{"a"}, func(Event) { n++ })

		emitter.emit("a", nil)
		cancel()
		emitter.emit("a", nil)

		assert.Equal(t, 1, n)
		assert.Empty(t, emitter.handlers["a"])
	})

	t.Run("onAll sees every event", func(t *testing.T) {
		t.Parallel()

		emitter := NewBaseEventEmitter()
		var got []string
		remove := emitter.onAll(context.Background(), func(ev Event) { got = append(got, ev.Method) })

		emitter.emit("x", nil)
		emitter.emit("y", nil)
		remove()
		emitter.emit("z", nil)

		assert.Equal(t, []string{"x", "y"}, got)
	})

	t.Run("handler may remove itself while emitting", func(t *testing.T) {
		t.Parallel()

		emitter := NewBaseEventEmitter()
		var (
			n      int
			remove func()
		)
		remove = emitter.on(context.Background(), []string{"a"}, func(Event) {
			n++
			remove()
		})

		emitter.emit("a", nil)
		emitter.emit("a", nil)

		assert.Equal(t, 1, n)
	})
}
