package tunnel

import (
	"cmp"
	"slices"
	"sync"
)

// maxServices is the number of services a tunnel can carry.
const maxServices = 3

// Stream describes one open stream of a tunnel.
type Stream struct {
	ConnectionID uint32
	ServiceID    string
	StreamID     int32
}

// streamTable tracks open streams by connection id, and the stream id
// currently active for each service.
type streamTable struct {
	mu       sync.Mutex
	byConn   map[uint32]Stream
	active   map[string]int32
	services []string
}

func newStreamTable() *streamTable {
	return &streamTable{
		byConn: make(map[uint32]Stream),
		active: make(map[string]int32),
	}
}

// open records a stream. An existing stream on the same connection id is
// replaced, and connections of the service still on an older stream id
// are dropped.
func (t *streamTable) open(s Stream) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if active, ok := t.active[s.ServiceID]; ok && active != s.StreamID {
		for id, old := range t.byConn {
			if old.ServiceID == s.ServiceID && old.StreamID != s.StreamID {
				delete(t.byConn, id)
			}
		}
	}
	t.byConn[s.ConnectionID] = s
	t.active[s.ServiceID] = s.StreamID
}

// close removes the stream on connectionID. It reports the removed stream
// and whether one was open.
func (t *streamTable) close(connectionID uint32) (Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byConn[connectionID]
	if ok {
		delete(t.byConn, connectionID)
	}
	return s, ok
}

// closeService removes every connection of serviceID and forgets its
// active stream id. It returns how many connections were open.
func (t *streamTable) closeService(serviceID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, s := range t.byConn {
		if s.ServiceID == serviceID {
			delete(t.byConn, id)
			n++
		}
	}
	delete(t.active, serviceID)
	return n
}

// get returns the open stream on connectionID.
func (t *streamTable) get(connectionID uint32) (Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byConn[connectionID]
	return s, ok
}

// activeStreamID returns the stream id in use for serviceID.
func (t *streamTable) activeStreamID(serviceID string) (int32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.active[serviceID]
	return id, ok
}

// clear drops every stream and returns how many were open.
func (t *streamTable) clear() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.byConn)
	clear(t.byConn)
	clear(t.active)
	return n
}

// setServices records the service ids offered by the tunnel, keeping at
// most maxServices. It reports how many were dropped.
func (t *streamTable) setServices(ids []string) (kept []string, dropped int) {
	if len(ids) > maxServices {
		dropped = len(ids) - maxServices
		ids = ids[:maxServices]
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.services = slices.Clone(ids)
	return slices.Clone(t.services), dropped
}

// hasService reports whether serviceID may be used. Before the service
// list is known every id is accepted.
func (t *streamTable) hasService(serviceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.services) == 0 || slices.Contains(t.services, serviceID)
}

// snapshot returns the open streams ordered by connection id.
func (t *streamTable) snapshot() []Stream {
	t.mu.Lock()
	out := make([]Stream, 0, len(t.byConn))
	for _, s := range t.byConn {
		out = append(out, s)
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b Stream) int {
		return cmp.Compare(a.ConnectionID, b.ConnectionID)
	})
	return out
}
