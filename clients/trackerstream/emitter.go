package trackerstream

import (
	"encoding/json"
	"sync"
)

// Handler receives the data payload of a frame emitted for a room.
type Handler func(data json.RawMessage)

// ListenerID identifies a single registration so it can be removed
// without affecting other listeners on the same room.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn Handler
}

// emitter is a per-room listener registry. Listeners for one room are
// invoked in insertion order; no ordering is promised across rooms.
type emitter struct {
	mu     sync.Mutex
	nextID ListenerID
	rooms  map[string][]listenerEntry
}

func newEmitter() *emitter {
	return &emitter{rooms: make(map[string][]listenerEntry)}
}

func (e *emitter) on(room string, fn Handler) ListenerID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.rooms[room] = append(e.rooms[room], listenerEntry{id: id, fn: fn})
	return id
}

func (e *emitter) off(room string, id ListenerID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	entries := e.rooms[room]
	for i, entry := range entries {
		if entry.id == id {
			e.rooms[room] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(e.rooms[room]) == 0 {
		delete(e.rooms, room)
	}
}

func (e *emitter) removeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rooms = make(map[string][]listenerEntry)
}

// emit invokes every listener registered for room, outside the lock so a
// handler may add or remove listeners without deadlocking.
func (e *emitter) emit(room string, data json.RawMessage) {
	e.mu.Lock()
	entries := e.rooms[room]
	snapshot := make([]Handler, len(entries))
	for i, entry := range entries {
		snapshot[i] = entry.fn
	}
	e.mu.Unlock()

	for _, fn := range snapshot {
		fn(data)
	}
}

func (e *emitter) listenerCount(room string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.rooms[room])
}
