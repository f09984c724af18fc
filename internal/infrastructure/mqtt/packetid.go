package mqtt

import "sync/atomic"

// packetIDs allocates correlation ids. Ids wrap around and never return 0,
// which is reserved for synchronous failure.
type packetIDs struct {
	last atomic.Uint32
}

func (p *packetIDs) next() uint16 {
	for {
		if id := uint16(p.last.Add(1)); id != 0 {
			return id
		}
	}
}
