package alarm

import (
	"sort"
	"sync"
	"sync/atomic"
)

const (
	stateArmed int32 = iota
	stateFired
	stateCancelled
)

type handle struct {
	timer Timer
	state atomic.Int32
}

// claim moves an armed handle to next. Only one of fire and cancel wins.
func (h *handle) claim(next int32) bool {
	return h.state.CompareAndSwap(stateArmed, next)
}

// Handles is the set of live timers produced by one ArmAll pass, keyed by
// event id.
type Handles struct {
	mu sync.Mutex
	m  map[string]*handle
}

func newHandles() *Handles {
	return &Handles{m: make(map[string]*handle)}
}

func (h *Handles) add(id string, hd *handle) {
	h.mu.Lock()
	h.m[id] = hd
	h.mu.Unlock()
}

// Len returns the number of timers still waiting to fire.
func (h *Handles) Len() int {
	return len(h.IDs())
}

// Has reports whether id has a timer still waiting to fire.
func (h *Handles) Has(id string) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	hd, ok := h.m[id]
	return ok && hd.state.Load() == stateArmed
}

// IDs returns the sorted ids of timers still waiting to fire.
func (h *Handles) IDs() []string {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.m))
	for id, hd := range h.m {
		if hd.state.Load() == stateArmed {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// drain empties the set and returns what it held.
func (h *Handles) drain() map[string]*handle {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.m
	h.m = make(map[string]*handle)
	return m
}
