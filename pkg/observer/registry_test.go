package observer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitRunsHandlersInOrder(t *testing.T) {
	r := New[string]()

	var got []string
	r.On("evt", func(p string) { got = append(got, "a:"+p) })
	r.On("evt", func(p string) { got = append(got, "b:"+p) })
	r.On("other", func(p string) { got = append(got, "c:"+p) })

	n := r.Emit("evt", "x")

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a:x", "b:x"}, got)
}

func TestEmitWithoutHandlers(t *testing.T) {
	r := New[int]()
	assert.Equal(t, 0, r.Emit("missing", 1))
}

func TestOffRemovesSingleRegistration(t *testing.T) {
	r := New[int]()

	calls := 0
	id1 := r.On("evt", func(int) { calls++ })
	r.On("evt", func(int) { calls += 10 })

	require.True(t, r.Off("evt", id1))
	assert.False(t, r.Off("evt", id1), "second removal should report nothing removed")

	r.Emit("evt", 0)
	assert.Equal(t, 10, calls)
	assert.Equal(t, 1, r.Count("evt"))
}

func TestOffAllAndClear(t *testing.T) {
	r := New[int]()
	r.On("a", func(int) {})
	r.On("a", func(int) {})
	r.On("b", func(int) {})

	assert.Equal(t, 2, r.OffAll("a"))
	assert.Equal(t, 0, r.Count("a"))
	assert.Equal(t, []string{"b"}, r.Events())

	r.Clear()
	assert.Empty(t, r.Events())
}

func TestHandlerMayDeregisterItself(t *testing.T) {
	r := New[int]()

	var id HandlerID
	calls := 0
	id = r.On("evt", func(int) {
		calls++
		r.Off("evt", id)
	})

	r.Emit("evt", 0)
	r.Emit("evt", 0)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, r.Count("evt"))
}
