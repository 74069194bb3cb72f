package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	ErrUnknownQueueCommand = errors.New("unknown queue command")
	ErrBadQueueArgs        = errors.New("bad queue command arguments")
)

// Queue is the local mirror of a player's queue. It is replaced wholesale by
// getQueue responses and patched by the closed set of commands the node emits
// as QUEUE_EVENTs.
type Queue struct {
	mu      sync.RWMutex
	entries []any
}

func NewQueue() *Queue {
	return &Queue{}
}

// Replace swaps the whole content, as delivered by a getQueue response.
func (q *Queue) Replace(entries []any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append([]any(nil), entries...)
}

// Snapshot returns a copy of the current entries in order.
func (q *Queue) Snapshot() []any {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]any(nil), q.entries...)
}

func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Apply executes one remote queue mutation. The command set is closed;
// anything else is rejected so a protocol drift shows up as an error instead
// of a silently stale queue.
func (q *Queue) Apply(name string, args []any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch name {
	case "append":
		v, err := oneArg(args)
		if err != nil {
			return err
		}
		q.entries = append(q.entries, v)
	case "extend":
		v, err := oneArg(args)
		if err != nil {
			return err
		}
		items, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%w: extend wants a list", ErrBadQueueArgs)
		}
		q.entries = append(q.entries, items...)
	case "insert":
		idx, v, err := indexValueArgs(args)
		if err != nil {
			return err
		}
		if idx < 0 || idx > len(q.entries) {
			return fmt.Errorf("%w: insert index %d out of range", ErrBadQueueArgs, idx)
		}
		q.entries = append(q.entries[:idx], append([]any{v}, q.entries[idx:]...)...)
	case "remove":
		v, err := oneArg(args)
		if err != nil {
			return err
		}
		idx := q.indexOf(v)
		if idx < 0 {
			return fmt.Errorf("%w: remove target not in queue", ErrBadQueueArgs)
		}
		q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	case "pop", "delItem":
		idx, err := indexArg(args)
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(q.entries) {
			return fmt.Errorf("%w: %s index %d out of range", ErrBadQueueArgs, name, idx)
		}
		q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
	case "setItem":
		idx, v, err := indexValueArgs(args)
		if err != nil {
			return err
		}
		if idx < 0 || idx >= len(q.entries) {
			return fmt.Errorf("%w: setItem index %d out of range", ErrBadQueueArgs, idx)
		}
		q.entries[idx] = v
	case "clear":
		q.entries = nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownQueueCommand, name)
	}
	return nil
}

// indexOf matches tagged snapshots by their queue tag; anything untagged
// falls back to deep equality.
func (q *Queue) indexOf(v any) int {
	want := tagOf(v)
	for i, entry := range q.entries {
		if want != "" && tagOf(entry) == want {
			return i
		}
		if want == "" && reflect.DeepEqual(entry, v) {
			return i
		}
	}
	return -1
}

func tagOf(v any) string {
	switch t := v.(type) {
	case *AudioData:
		return t.Tag
	case *AudioSource:
		return t.Tag
	case map[string]any:
		if tag, ok := t["tag"].(string); ok {
			return tag
		}
	}
	return ""
}

func oneArg(args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: want 1 argument, got %d", ErrBadQueueArgs, len(args))
	}
	return args[0], nil
}

func indexArg(args []any) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%w: want 1 argument, got %d", ErrBadQueueArgs, len(args))
	}
	return toIndex(args[0])
}

func indexValueArgs(args []any) (int, any, error) {
	if len(args) != 2 {
		return 0, nil, fmt.Errorf("%w: want 2 arguments, got %d", ErrBadQueueArgs, len(args))
	}
	idx, err := toIndex(args[0])
	if err != nil {
		return 0, nil, err
	}
	return idx, args[1], nil
}

func toIndex(v any) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: index %v", ErrBadQueueArgs, v)
		}
		return int(i), nil
	case float64:
		return int(n), nil
	case int:
		return n, nil
	}
	return 0, fmt.Errorf("%w: index %v", ErrBadQueueArgs, v)
}
