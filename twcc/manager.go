package twcc

import (
	"time"

	"github.com/pion/logging"
	"github.com/pion/rtp"

	"github.com/HMasataka/twccsctp/ring"
	"github.com/HMasataka/twccsctp/seqnum"
)

// Manager is the send-side TWCC core: it owns the SentPacket history ring,
// the sequence registry, the redundancy bookkeeper, the stamper, the
// feedback parser, and its stats engine. One Manager is created per RTP
// session; the logger is injected at construction rather than held in a
// package-level variable.
type Manager struct {
	logger logging.LeveledLogger

	history    *ring.Buffer[SentPacket]
	registry   *SequenceRegistry
	bookkeeper *Bookkeeper

	stamper *Stamper
	parser  *Parser
	stats   *StatsEngine

	onStateChange func(PacketResult)
}

// NewManager builds a Manager from Options. logger may be nil, in which
// case pion/logging's default logger is used.
func NewManager(opts Options, logger logging.LeveledLogger) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("twcc")
	}
	history := ring.NewBuffer[SentPacket](opts.HistorySize)
	registry := NewSequenceRegistry()
	bookkeeper := NewBookkeeper()

	m := &Manager{
		logger:     logger,
		history:    history,
		registry:   registry,
		bookkeeper: bookkeeper,
		stamper:    NewStamper(opts.ExtensionID, history, registry),
		parser:     NewParser(history, registry, bookkeeper, logger),
		stats:      NewStatsEngine(opts.StatsWindow),
	}
	return m
}

// OnStateChange registers a callback invoked once per packet whose state
// actually changed after a feedback packet is processed.
func (m *Manager) OnStateChange(fn func(PacketResult)) {
	m.onStateChange = fn
}

// historySpan bounds the history ring's head-to-tail age independent of its
// capacity: evictExpired shrinks toward this span proactively rather than
// waiting for the ring to fill.
const historySpan = 10 * time.Second

// StampOutbound is the send path's entry point: it assigns a TwccSeq to pkt,
// writes the header extension, and records history. localTS is a monotonic
// send timestamp in nanoseconds.
func (m *Manager) StampOutbound(pkt *rtp.Packet, localTS int64) (seqnum.TwccSeq, error) {
	m.evictExpired(localTS)
	return m.stamper.Stamp(pkt, localTS)
}

// evictExpired drops slots from the head of the history ring once they're
// older than historySpan, stopping at the first slot still referenced by a
// live redundancy block — such a slot is retained past its nominal age so a
// pending recovery decision never loses the packet it needs to resolve.
// The ring's own capacity-based eviction (in ring.Buffer.Push) is the hard
// backstop this can't override.
func (m *Manager) evictExpired(nowLocalTS int64) {
	for m.history.Len() > 0 {
		head, present := m.history.Head()
		if !present {
			// A gap slot has no age to bound and nothing to retain; drop it
			// so eviction can reach the real data behind it.
			m.history.EvictOldest()
			continue
		}
		if nowLocalTS-head.LocalTS <= historySpan.Nanoseconds() {
			break
		}
		if _, referenced := m.bookkeeper.BlockFor(head.TwccSeq); referenced {
			break
		}
		m.history.EvictOldest()
	}
}

// StampRedundant is StampOutbound for an RTX/FEC packet.
func (m *Manager) StampRedundant(pkt *rtp.Packet, localTS int64, protectsSSRC uint32, protectsOrig []uint16, idx, num int) (seqnum.TwccSeq, error) {
	m.evictExpired(localTS)
	return m.stamper.StampRedundant(pkt, localTS, protectsSSRC, protectsOrig, idx, num)
}

// OnSocketDeparture records on the SentPacket when a stamped packet actually
// left the socket. The stats engine does not read this timestamp.
func (m *Manager) OnSocketDeparture(seq seqnum.TwccSeq, socketTS int64) {
	m.stamper.OnSocketDeparture(seq, socketTS)
}

// HandleFeedback parses one incoming RTCP transport-wide-cc FCI, applies its
// results to the history ring and redundancy bookkeeper, folds every
// changed packet into the stats window exactly once per TwccSeq (applyLocked
// already collapses a redundancy promotion's intermediate and final results
// into one entry per seq, so no further de-dup is needed here), marks each
// folded packet StatsProcessed, and reports each change through
// OnStateChange.
func (m *Manager) HandleFeedback(raw []byte, now time.Time) error {
	results, err := m.parser.Parse(raw)
	if err != nil {
		return err
	}
	for _, r := range results {
		if sp, ok := m.history.Get(r.TwccSeq); ok {
			m.stats.Observe(sp, now)
			sp.StatsProcessed = true
			m.history.Set(r.TwccSeq, sp)
		}
		if m.onStateChange != nil {
			m.onStateChange(r)
		}
	}
	return nil
}

// Stats returns the current aggregate windowed statistics, including a
// point-in-time scan for packets inside the window still awaiting feedback.
func (m *Manager) Stats() WindowStats {
	ws := m.stats.Snapshot()
	ws.PacketsUnknown = m.countUnknownInWindow(time.Now(), nil)
	return ws
}

// StatsByPayloadType returns the current windowed statistics restricted to
// one RTP payload type.
func (m *Manager) StatsByPayloadType(pt uint8) WindowStats {
	ws := m.stats.SnapshotByType(pt)
	ws.PacketsUnknown = m.countUnknownInWindow(time.Now(), &pt)
	return ws
}

// countUnknownInWindow pulls directly from the history ring rather than the
// event-driven stats engine: a packet still awaiting feedback never fires
// StatsEngine.Observe, so it's otherwise invisible to the window.
func (m *Manager) countUnknownInWindow(now time.Time, pt *uint8) int {
	cutoff := now.Add(-m.stats.window).UnixNano()
	count := 0
	m.history.Range(false, func(_ seqnum.TwccSeq, sp SentPacket, _ bool) {
		if sp.State != StateUnknown || sp.LocalTS < cutoff {
			return
		}
		if pt != nil && sp.PayloadType != *pt {
			return
		}
		count++
	})
	return count
}

// NewReceiveEncoder builds a feedback encoder for the receive-side
// counterpart of this session, sharing nothing with the send-side state
// above — a TWCC session is always simultaneously a feedback producer for
// packets it receives and a feedback consumer for packets it sends.
func (m *Manager) NewReceiveEncoder(senderSSRC, mediaSSRC uint32, opts EncoderOptions) *Encoder {
	return NewEncoder(senderSSRC, mediaSSRC, opts, m.logger)
}
