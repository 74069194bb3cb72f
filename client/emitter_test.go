package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitter_WaitFor(t *testing.T) {
	e := newEmitter()
	ch, cancel := e.waitFor("STATUS", nil)
	defer cancel()

	e.emit("STATUS", map[string]any{"x": 1})

	select {
	case data := <-ch:
		assert.Equal(t, map[string]any{"x": 1}, data)
	default:
		t.Fatal("waiter did not resolve")
	}

	// One-shot: a second emit must not reach the resolved waiter.
	e.emit("STATUS", nil)
	select {
	case <-ch:
		t.Fatal("waiter resolved twice")
	default:
	}
}

func TestEmitter_WaitForFilter(t *testing.T) {
	e := newEmitter()
	ch, cancel := e.waitFor("getState", func(data any) bool {
		return guildIDOf(data) == "g1"
	})
	defer cancel()

	e.emit("getState", map[string]any{"guild_id": "other"})
	select {
	case <-ch:
		t.Fatal("filter did not hold")
	default:
	}

	e.emit("getState", map[string]any{"guild_id": "g1"})
	select {
	case data := <-ch:
		assert.Equal(t, "g1", guildIDOf(data))
	default:
		t.Fatal("matching emit did not resolve")
	}
}

func TestEmitter_CancelRemovesWaiter(t *testing.T) {
	e := newEmitter()
	ch, cancel := e.waitFor("STATUS", nil)
	cancel()

	e.emit("STATUS", nil)
	select {
	case <-ch:
		t.Fatal("cancelled waiter resolved")
	default:
	}

	require.NotPanics(t, cancel)
}

func TestEmitter_Handlers(t *testing.T) {
	e := newEmitter()
	var got []string
	e.on("SOURCE_START", func(op string, data any) {
		got = append(got, "on:"+op)
	})
	e.onAny(func(op string, data any) {
		got = append(got, "any:"+op)
	})

	e.emit("SOURCE_START", nil)
	e.emit("SOURCE_END", nil)

	assert.Equal(t, []string{"any:SOURCE_START", "on:SOURCE_START", "any:SOURCE_END"}, got)
}
