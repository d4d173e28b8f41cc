package twcc

import (
	"sort"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/samber/lo"

	"github.com/HMasataka/twccsctp/seqnum"
)

// welfordRegression computes a numerically-stable linear regression (y as a
// function of x) using Welford's online mean/covariance/variance update,
// avoiding the catastrophic cancellation of a naive sum-of-products formula.
// Built fresh per snapshot over the window's delta-of-delta series rather
// than carried across calls, since the series a window covers shifts
// entirely every time a sample ages out the front.
type welfordRegression struct {
	n            float64
	meanX, meanY float64
	covXY, varX  float64
}

func (w *welfordRegression) add(x, y float64) {
	w.n++
	dx := x - w.meanX
	w.meanX += dx / w.n
	w.meanY += (y - w.meanY) / w.n
	w.covXY += dx * (y - w.meanY)
	w.varX += dx * (x - w.meanX)
}

// slope returns the regression coefficient, or 0 if fewer than two samples
// or the x-variance is degenerate (all samples at the same x).
func (w *welfordRegression) slope() float64 {
	if w.n < 2 || w.varX == 0 {
		return 0
	}
	return w.covXY / w.varX
}

// rawSample is one observed packet outcome retained for the windowed
// statistics, trimmed from both ends of the deque as the window slides.
// Stored by pointer and indexed by TwccSeq so a later re-classification of
// the same packet (e.g. Lost promoted to Recovered once its RTX resolves)
// updates this entry in place instead of adding a second, double-counted
// one.
type rawSample struct {
	seq         seqnum.TwccSeq
	localTS     int64 // nanoseconds since the Unix epoch; trimLocked compares it against now.UnixNano()
	remoteTS    int64 // microseconds, reconstructed from feedback; valid only if hasRemoteTS
	hasRemoteTS bool
	payloadType uint8
	sizeBytes   int
	state       PacketState
}

// WindowStats is a point-in-time snapshot of the send-side windowed
// statistics. PacketsUnknown is populated only when a caller (Manager)
// overlays it from a pull-model scan of the SentPacket history; StatsEngine
// itself never sees packets before their feedback resolves.
type WindowStats struct {
	PacketsSent      int
	PacketsReceived  int
	PacketsLost      int
	PacketsRecovered int
	PacketsUnknown   int

	BitrateSentBps float64 // bits/s over the window's local send-time span
	BitrateRecvBps float64 // bits/s over the window's remote arrival-time span

	LossRatio     float64
	RecoveryRatio float64

	DeltaOfDeltaUS     int64   // average (remote_delta - local_delta) across consecutive received pairs
	DeltaOfDeltaGrowth float64 // last-half average / first-half average; >1 means the queue is building
	QueueingSlope      float64 // microseconds of cumulative delta-of-delta per microsecond of elapsed local time
}

// StatsEngine maintains the windowed send-side statistics over the
// SentPacket history: bitrate, loss and recovery ratios, delta-of-delta and
// its queueing-slope regression, plus a breakdown per RTP payload type.
// Observe is event-driven (fired once a feedback resolves a packet's
// state); Snapshot recomputes every other metric by scanning the window
// fresh each call, the way the windowed-stats pass it's modeled on does —
// the timestamp-span and delta-of-delta-growth metrics aren't expressible
// as a running accumulator without losing precision across reclassification.
type StatsEngine struct {
	mu sync.Mutex

	window  time.Duration
	samples *deque.Deque[*rawSample]
	bySeq   map[seqnum.TwccSeq]*rawSample
}

// NewStatsEngine creates a stats engine covering the given trailing time
// window.
func NewStatsEngine(window time.Duration) *StatsEngine {
	return &StatsEngine{
		window:  window,
		samples: deque.New[*rawSample](),
		bySeq:   make(map[seqnum.TwccSeq]*rawSample),
	}
}

// Observe folds one packet's current outcome into the window. now is the
// local clock reading at observation time, used to trim the window. A
// second Observe for a TwccSeq already tracked (a redundancy promotion, or
// feedback reprocessed on a later call) updates that sample in place rather
// than adding a new one, so window conservation holds across calls as well
// as within one.
func (s *StatsEngine) Observe(sp SentPacket, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Recovered packets carry RemoteTS == 0 (ApplyFeedback never learns a
	// real arrival time for them); only a genuine Received report has one.
	hasRemoteTS := sp.State == StateReceived

	if existing, ok := s.bySeq[sp.TwccSeq]; ok {
		existing.remoteTS = sp.RemoteTS
		existing.hasRemoteTS = hasRemoteTS
		existing.payloadType = sp.PayloadType
		existing.sizeBytes = int(sp.SizeBytes)
		existing.state = sp.State
		s.trimLocked(now)
		return
	}

	rs := &rawSample{
		seq:         sp.TwccSeq,
		localTS:     sp.LocalTS,
		remoteTS:    sp.RemoteTS,
		hasRemoteTS: hasRemoteTS,
		payloadType: sp.PayloadType,
		sizeBytes:   int(sp.SizeBytes),
		state:       sp.State,
	}
	s.bySeq[sp.TwccSeq] = rs
	s.samples.PushBack(rs)
	s.trimLocked(now)
}

// trimLocked drops samples older than the window from the front, and (the
// "two-sided" half of the supplemented trim rule) a front sample whose
// timestamp is ahead of now by more than the window width, which can only
// arise from a caller supplying a stale or skewed clock and would otherwise
// poison the regression indefinitely. This assumes Observe is called in
// roughly non-decreasing localTS order, which holds for in-order feedback;
// a late-arriving report for an older packet is rare enough in practice
// that the front-biased trim is left as the simpler heuristic rather than
// a fully sorted eviction structure.
func (s *StatsEngine) trimLocked(now time.Time) {
	if s.window <= 0 {
		return
	}
	cutoffOld := now.Add(-s.window).UnixNano()
	cutoffFuture := now.Add(s.window).UnixNano()
	for s.samples.Len() > 0 {
		front := s.samples.Front()
		if front.localTS >= cutoffOld && front.localTS <= cutoffFuture {
			break
		}
		s.samples.PopFront()
		delete(s.bySeq, front.seq)
	}
}

// Snapshot returns the aggregate window statistics across all payload
// types.
func (s *StatsEngine) Snapshot() WindowStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return computeWindowStats(s.orderedLocked(nil))
}

// SnapshotByType returns the window statistics restricted to one RTP
// payload type.
func (s *StatsEngine) SnapshotByType(pt uint8) WindowStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return computeWindowStats(s.orderedLocked(&pt))
}

// orderedLocked copies the window's samples out sorted by local send time,
// optionally filtered to one payload type. Sorting here (rather than relying
// on deque insertion order) keeps every derived metric independent of the
// order feedback happened to arrive in: Observe appends at the point a
// packet's state first resolves, which for reordered or delayed feedback
// reports is not necessarily the order packets were sent in.
func (s *StatsEngine) orderedLocked(filterType *uint8) []rawSample {
	ordered := make([]rawSample, 0, s.samples.Len())
	for i := 0; i < s.samples.Len(); i++ {
		sp := s.samples.At(i)
		if filterType != nil && sp.payloadType != *filterType {
			continue
		}
		ordered = append(ordered, *sp)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].localTS < ordered[j].localTS })
	return ordered
}

// computeWindowStats derives every WindowStats field from an ordered slice
// of samples in one pass (plus a second pass for the delta-of-delta series),
// mirroring a windowed-stats scan over a fixed packet array: tally sent/
// recv/lost/recovered, track first/last local and remote timestamps for the
// two bitrate figures (skipping the very first packet's bits in each, so a
// lone sample never fabricates an infinite-seeming rate), and derive
// delta-of-delta statistics from consecutive received pairs.
func computeWindowStats(samples []rawSample) WindowStats {
	var ws WindowStats
	if len(samples) == 0 {
		return ws
	}

	var haveFirstLocal, haveFirstRemote bool
	var firstLocalTS, lastLocalTS int64
	var firstRemoteTS, lastRemoteTS int64
	var bitsSent, bitsRecv int64

	for _, sp := range samples {
		switch sp.state {
		case StateReceived:
			ws.PacketsSent++
			ws.PacketsReceived++
		case StateRecovered:
			ws.PacketsSent++
			ws.PacketsLost++
			ws.PacketsRecovered++
		case StateLost:
			ws.PacketsSent++
			ws.PacketsLost++
		default:
			ws.PacketsUnknown++
			continue
		}

		if !haveFirstLocal {
			firstLocalTS = sp.localTS
			haveFirstLocal = true
		} else {
			bitsSent += int64(sp.sizeBytes) * 8
		}
		lastLocalTS = sp.localTS

		if sp.hasRemoteTS {
			if !haveFirstRemote {
				firstRemoteTS = sp.remoteTS
				haveFirstRemote = true
			} else {
				bitsRecv += int64(sp.sizeBytes) * 8
			}
			lastRemoteTS = sp.remoteTS
		}
	}

	if ws.PacketsSent > 0 {
		ws.LossRatio = float64(ws.PacketsLost) / float64(ws.PacketsSent)
	}
	if ws.PacketsLost > 0 {
		ws.RecoveryRatio = lo.Min([]float64{float64(ws.PacketsRecovered) / float64(ws.PacketsLost), 1})
	}

	if localDuration := lastLocalTS - firstLocalTS; localDuration > 0 {
		ws.BitrateSentBps = float64(bitsSent) * 1e9 / float64(localDuration)
	}
	if remoteDuration := lastRemoteTS - firstRemoteTS; remoteDuration > 0 {
		ws.BitrateRecvBps = float64(bitsRecv) * 1e6 / float64(remoteDuration)
	}

	ws.DeltaOfDeltaUS, ws.DeltaOfDeltaGrowth, ws.QueueingSlope = deltaOfDeltaMetrics(samples)

	return ws
}

// deltaOfDeltaMetrics walks consecutive resolved samples, pairing each with
// its predecessor when both carry a remote timestamp (an Unknown predecessor
// never pairs). For each pair, delta-of-delta is how much longer the
// packet's remote-arrival gap was than its local-send gap — queue buildup
// shows up as a positive, growing series. avgUS is the plain mean of the
// series; growth is the last-half mean over the first-half mean, each
// floored at 100us to keep near-zero denominators from blowing the ratio
// up; slope is the regression of the cumulative delta-of-delta sum against
// elapsed local time, i.e. queueing delay accrued per unit of wall time.
func deltaOfDeltaMetrics(samples []rawSample) (avgUS int64, growth float64, slope float64) {
	overall := 0
	for _, sp := range samples {
		if sp.state != StateUnknown {
			overall++
		}
	}
	half := overall / 2

	var reg welfordRegression
	var sum, cum float64
	var count, firstHalfCount, lastHalfCount int
	var firstHalfSum, lastHalfSum float64

	var firstLocalTS int64
	haveFirst := false
	var prev *rawSample
	idx := 0

	for i := range samples {
		sp := &samples[i]
		if sp.state == StateUnknown {
			continue
		}
		if !haveFirst {
			firstLocalTS = sp.localTS
			haveFirst = true
		}
		if prev != nil && prev.hasRemoteTS && sp.hasRemoteTS {
			localDeltaUS := float64(sp.localTS-prev.localTS) / 1000
			remoteDeltaUS := float64(sp.remoteTS - prev.remoteTS)
			dd := remoteDeltaUS - localDeltaUS

			sum += dd
			count++
			cum += dd
			reg.add(float64(sp.localTS-firstLocalTS)/1000, cum)

			if idx < half {
				firstHalfSum += dd
				firstHalfCount++
			} else {
				lastHalfSum += dd
				lastHalfCount++
			}
		}
		prev = sp
		idx++
	}

	if count > 0 {
		avgUS = int64(sum / float64(count))
	}

	const floorUS = 100.0
	firstAvg := floorUS
	if firstHalfCount > 0 {
		firstAvg = lo.Max([]float64{firstHalfSum / float64(firstHalfCount), floorUS})
	}
	lastAvg := floorUS
	if lastHalfCount > 0 {
		lastAvg = lo.Max([]float64{lastHalfSum / float64(lastHalfCount), floorUS})
	}
	growth = lastAvg / firstAvg

	slope = reg.slope()
	return avgUS, growth, slope
}
