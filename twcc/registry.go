package twcc

import (
	"sync"

	"github.com/HMasataka/twccsctp/seqnum"
)

// registryKey identifies a (source SSRC, original RTP sequence number) pair.
type registryKey struct {
	ssrc uint32
	seq  uint16
}

// SequenceRegistry maps (ssrc, origSeq) to the TWCC sequence number that was
// stamped for that packet. It enables late identification of which
// TWCC-seq a retransmission or FEC block entry refers to, since redundancy
// packets are created carrying original sequence numbers until the first
// feedback resolves them.
//
// The registry has no eviction policy of its own; entries become
// unreachable (and are logically garbage) once the owning SentPacket falls
// out of the ring, matching.A's "trimmed lazily together with
// the SentPacket ring" note. Callers that want bounded memory should size
// the ring and periodically call Forget for evicted packets.
type SequenceRegistry struct {
	mu sync.RWMutex
	m  map[registryKey]seqnum.TwccSeq
}

// NewSequenceRegistry creates an empty registry.
func NewSequenceRegistry() *SequenceRegistry {
	return &SequenceRegistry{m: make(map[registryKey]seqnum.TwccSeq)}
}

// Register inserts or overwrites the mapping for (ssrc, origSeq). Last
// write wins.
func (r *SequenceRegistry) Register(ssrc uint32, origSeq uint16, twccSeq seqnum.TwccSeq) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[registryKey{ssrc, origSeq}] = twccSeq
}

// Lookup returns the TWCC sequence number registered for (ssrc, origSeq), if
// any.
func (r *SequenceRegistry) Lookup(ssrc uint32, origSeq uint16) (seqnum.TwccSeq, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.m[registryKey{ssrc, origSeq}]
	return ts, ok
}

// Forget removes a mapping, used when the SentPacket it described has been
// evicted from the history ring.
func (r *SequenceRegistry) Forget(ssrc uint32, origSeq uint16) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, registryKey{ssrc, origSeq})
}
