package twcc

import (
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/rtcp"

	"github.com/HMasataka/twccsctp/seqnum"
)

// classNone is the "no previous status" sentinel used while packing chunks,
// mirroring rtcp.TypeTCCPacketReceivedWithoutDelta's use as an out-of-band
// marker distinct from the three real statuses.
const classNone = Classification(3)

const (
	tccTimeUnitUS = 250      // one recv-delta unit, microseconds
	tccRefUnitUS  = 64000    // reference-time unit, microseconds (64ms)
	fciHeaderLen  = 16       // sSSRC(4) + mSSRC(4) + base/count(4) + reftime/fbcnt(4)
	defaultMTU    = 1200
)

// EncoderOptions configures the feedback encoder.
type EncoderOptions struct {
	// MTU bounds the produced FCI length in bytes, including the 4-byte
	// RTCP header.
	MTU int `toml:"mtu"`
	// ReportInterval, if non-zero, is the fixed periodic emission trigger.
	// Zero disables it, falling back to marker-bit-triggered emission
	// instead.
	ReportInterval time.Duration `toml:"report_interval"`
}

// DefaultEncoderOptions returns the conservative defaults used when an
// embedder does not override them.
func DefaultEncoderOptions() EncoderOptions {
	return EncoderOptions{MTU: defaultMTU}
}

// Encoder is the receive-side feedback encoder: it buffers (seq, arrival)
// pairs and emits RTCP TWCC feedback under MTU and deadline constraints.
type Encoder struct {
	mu sync.Mutex

	opts       EncoderOptions
	senderSSRC uint32
	mediaSSRC  uint32
	logger     logging.LeveledLogger

	arrivals          map[seqnum.TwccSeq]int64 // seq -> arrival, microseconds
	haveWindow        bool
	firstSeq, lastSeq seqnum.TwccSeq

	haveExpected       bool
	expectedRecvSeqnum seqnum.TwccSeq

	fbPktCount seqnum.FeedbackCount
	lastEmit   time.Time

	recvSinceEmit      int
	markerlessSinceEmit int

	onFeedback func(fci []byte)
}

// NewEncoder creates an encoder for a single media SSRC. senderSSRC
// identifies the RTCP feedback packet's own source.
func NewEncoder(senderSSRC, mediaSSRC uint32, opts EncoderOptions, logger logging.LeveledLogger) *Encoder {
	if opts.MTU <= 0 {
		opts.MTU = defaultMTU
	}
	if logger == nil {
		logger = logging.NewDefaultLoggerFactory().NewLogger("twcc")
	}
	return &Encoder{
		opts:       opts,
		senderSSRC: senderSSRC,
		mediaSSRC:  mediaSSRC,
		logger:     logger,
		arrivals:   make(map[seqnum.TwccSeq]int64),
	}
}

// OnFeedback registers the callback invoked whenever the encoder emits an
// FCI.
func (e *Encoder) OnFeedback(fn func([]byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFeedback = fn
}

// Push records one incoming packet's arrival and, if an emission trigger
// fires, builds and hands off the FCI.
func (e *Encoder) Push(seq seqnum.TwccSeq, arrivalNS int64, marker bool, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.haveExpected && seqnum.Diff(seq, e.expectedRecvSeqnum) < 0 {
		// Duplicate, or older than the last emitted FCI's last seq.
		// Dropped silently, never advances expectedRecvSeqnum.
		return
	}
	if _, dup := e.arrivals[seq]; dup {
		return
	}

	arrivalUS := arrivalNS / 1000

	// Trigger 4: would adding this packet overflow the MTU budget? Check
	// against a tentative encode before committing the new entry.
	if e.haveWindow {
		if _, size := e.buildLocked(false); size > 0 {
			tentative := e.cloneArrivals()
			tentative[seq] = arrivalUS
			tentFirst, tentLast := e.firstSeq, e.lastSeq
			if seqnum.Less(seq, tentFirst) {
				tentFirst = seq
			}
			if seqnum.Less(tentLast, seq) {
				tentLast = seq
			}
			if _, tentSize := encodeFCI(e.senderSSRC, e.mediaSSRC, tentFirst, tentLast, e.fbPktCount, tentative); tentSize > e.opts.MTU {
				e.emitLocked(now)
			}
		}
	}

	if !e.haveWindow {
		e.firstSeq, e.lastSeq = seq, seq
		e.haveWindow = true
	} else {
		if seqnum.Less(seq, e.firstSeq) {
			e.firstSeq = seq
		}
		if seqnum.Less(e.lastSeq, seq) {
			e.lastSeq = seq
		}
	}
	e.arrivals[seq] = arrivalUS
	e.recvSinceEmit++
	if marker {
		e.markerlessSinceEmit = 0
	} else {
		e.markerlessSinceEmit++
	}

	lost := e.lostInWindowLocked()

	switch {
	case e.opts.ReportInterval > 0 && e.lastEmit.IsZero():
		e.lastEmit = now
	case e.opts.ReportInterval > 0 && now.Sub(e.lastEmit) >= e.opts.ReportInterval:
		e.emitLocked(now)
	case e.opts.ReportInterval == 0 && marker:
		e.emitLocked(now)
	case e.recvSinceEmit >= 30 && lost >= 60:
		e.emitLocked(now)
	case e.markerlessSinceEmit >= 10 && lost >= 60:
		e.emitLocked(now)
	}
}

// Poll implements trigger 5: an external deadline-poll indicating the next
// feedback interval is due.
func (e *Encoder) Poll(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.haveWindow || e.opts.ReportInterval <= 0 {
		return
	}
	if now.Sub(e.lastEmit) >= e.opts.ReportInterval {
		e.emitLocked(now)
	}
}

func (e *Encoder) lostInWindowLocked() int {
	if !e.haveWindow {
		return 0
	}
	span := int(seqnum.Diff(e.lastSeq, e.firstSeq)) + 1
	return span - len(e.arrivals)
}

func (e *Encoder) cloneArrivals() map[seqnum.TwccSeq]int64 {
	m := make(map[seqnum.TwccSeq]int64, len(e.arrivals)+1)
	for k, v := range e.arrivals {
		m[k] = v
	}
	return m
}

// emitLocked builds the FCI from the current window, invokes the callback,
// and resets the window.
func (e *Encoder) emitLocked(now time.Time) {
	if !e.haveWindow {
		return
	}
	fci, _ := encodeFCI(e.senderSSRC, e.mediaSSRC, e.firstSeq, e.lastSeq, e.fbPktCount, e.arrivals)
	if fci == nil {
		return
	}
	e.fbPktCount++
	lost := e.lostInWindowLocked()
	lastSeq, lastArrival, hadLast := e.lastSeq, int64(0), false
	if ts, ok := e.arrivals[e.lastSeq]; ok {
		lastArrival, hadLast = ts, true
	}

	e.arrivals = make(map[seqnum.TwccSeq]int64)
	if lost > 0 && hadLast {
		// "the last received packet is kept in the buffer to serve as the
		// base of the next FCI" —.C.
		e.arrivals[lastSeq] = lastArrival
		e.firstSeq = lastSeq
		e.lastSeq = lastSeq
	} else {
		e.haveWindow = false
	}

	e.expectedRecvSeqnum = seqnum.Add(lastSeq, 1)
	e.haveExpected = true
	e.recvSinceEmit = 0
	e.markerlessSinceEmit = 0
	e.lastEmit = now

	if e.onFeedback != nil {
		e.onFeedback(fci)
	}
}

// buildLocked is the existence+size probe used by the MTU check. want is
// ignored: the full packet is always built and returned with its size.
func (e *Encoder) buildLocked(want bool) ([]byte, int) {
	if !e.haveWindow {
		return nil, 0
	}
	return encodeFCI(e.senderSSRC, e.mediaSSRC, e.firstSeq, e.lastSeq, e.fbPktCount, e.arrivals)
}

// encodeFCI builds the full RTCP TWCC feedback packet (header + chunks +
// deltas + padding) described bit-exactly in.C. It is a pure
// function of its arguments so it can be used both for the real emission
// and for the MTU overflow probe without mutating encoder state.
func encodeFCI(senderSSRC, mediaSSRC uint32, firstSeq, lastSeq seqnum.TwccSeq, fbPktCount seqnum.FeedbackCount, arrivals map[seqnum.TwccSeq]int64) ([]byte, int) {
	span := int(seqnum.Diff(lastSeq, firstSeq)) + 1
	if span <= 0 || span > 0x10000 {
		return nil, 0
	}

	statuses := make([]Classification, span)
	deltaValues := make([]int32, 0, span)

	var refTimeUnits int64 = -1
	var running int64

	for i := 0; i < span; i++ {
		seq := seqnum.Add(firstSeq, uint16(i))
		ts, ok := arrivals[seq]
		if !ok {
			statuses[i] = ClassNotRecv
			continue
		}
		if refTimeUnits < 0 {
			refTimeUnits = ts / tccRefUnitUS
			running = refTimeUnits * tccRefUnitUS
		}
		delta := (ts - running) / tccTimeUnitUS
		running = ts
		if delta < math.MinInt16 || delta > math.MaxInt16 {
			if delta > math.MaxInt16 {
				delta = math.MaxInt16
			} else {
				delta = math.MinInt16
			}
		}
		if delta >= 0 && delta <= 255 {
			statuses[i] = ClassSmallDelta
		} else {
			statuses[i] = ClassLargeOrNegativeDelta
		}
		deltaValues = append(deltaValues, int32(delta))
	}

	if refTimeUnits < 0 {
		return nil, 0 // nothing received at all; nothing to report
	}

	chunks := packChunks(statuses)

	payload := make([]byte, fciHeaderLen+len(chunks)*2)
	binary.BigEndian.PutUint32(payload[0:], senderSSRC)
	binary.BigEndian.PutUint32(payload[4:], mediaSSRC)
	binary.BigEndian.PutUint16(payload[8:], uint16(firstSeq))
	binary.BigEndian.PutUint16(payload[10:], uint16(span))
	binary.BigEndian.PutUint32(payload[12:], uint32(refTimeUnits)<<8|uint32(fbPktCount))
	off := fciHeaderLen
	for _, c := range chunks {
		binary.BigEndian.PutUint16(payload[off:], c)
		off += 2
	}

	deltaBytes := make([]byte, 0, len(deltaValues)*2)
	di := 0
	for _, s := range statuses {
		if s == ClassNotRecv {
			continue
		}
		d := deltaValues[di]
		di++
		if s == ClassSmallDelta {
			deltaBytes = append(deltaBytes, byte(d))
		} else {
			var b [2]byte
			binary.BigEndian.PutUint16(b[:], uint16(int16(d)))
			deltaBytes = append(deltaBytes, b[:]...)
		}
	}

	pLen := len(payload) + len(deltaBytes) + 4
	pad := pLen%4 != 0
	var padSize uint8
	for pLen%4 != 0 {
		padSize++
		pLen++
	}

	hdr := rtcp.Header{
		Padding: pad,
		Length:  uint16(pLen/4 - 1),
		Count:   rtcp.FormatTCC,
		Type:    rtcp.TypeTransportSpecificFeedback,
	}
	hb, err := hdr.Marshal()
	if err != nil {
		return nil, 0
	}

	pkt := make([]byte, pLen)
	copy(pkt, hb)
	copy(pkt[4:], payload)
	copy(pkt[4+len(payload):], deltaBytes)
	if pad {
		pkt[len(pkt)-1] = padSize
	}
	return pkt, len(pkt)
}

// packChunks packs a per-sequence classification stream into run-length and
// status-vector chunks using a same/maxStatus/statusList state machine that
// operates directly on a classification slice, so that NotRecv runs of any
// length fall naturally out of the same run-detection logic.
func packChunks(statuses []Classification) []uint16 {
	var out []uint16
	var statusList []Classification
	same := true
	lastStatus := classNone
	maxStatus := ClassNotRecv

	flushRunLength := func() {
		// A run-length chunk counts at most 0x1fff packets; longer runs are
		// split across consecutive chunks.
		for n := len(statusList); n > 0; {
			c := min(n, 0x1fff)
			out = append(out, statusChunk{kind: chunkRunLength, status: lastStatus, runLength: uint16(c)}.encode())
			n -= c
		}
		statusList = statusList[:0]
		lastStatus = classNone
		maxStatus = ClassNotRecv
		same = true
	}

	for _, status := range statuses {
		if same && status != lastStatus && lastStatus != classNone {
			if len(statusList) > 7 {
				flushRunLength()
			} else {
				same = false
			}
		}

		statusList = append(statusList, status)
		if status > maxStatus {
			maxStatus = status
		}
		lastStatus = status

		if !same && maxStatus == ClassLargeOrNegativeDelta && len(statusList) > 6 {
			syms := append([]Classification(nil), statusList[:7]...)
			out = append(out, statusChunk{kind: chunkVector, symbolBits: 2, symbols: syms}.encode())
			statusList = append([]Classification(nil), statusList[7:]...)
			lastStatus = classNone
			maxStatus = ClassNotRecv
			same = true
			for _, s := range statusList {
				if s > maxStatus {
					maxStatus = s
				}
				if same && lastStatus != classNone && s != lastStatus {
					same = false
				}
				lastStatus = s
			}
		} else if !same && len(statusList) > 13 {
			syms := append([]Classification(nil), statusList[:14]...)
			out = append(out, statusChunk{kind: chunkVector, symbolBits: 1, symbols: syms}.encode())
			statusList = append([]Classification(nil), statusList[14:]...)
			lastStatus = classNone
			maxStatus = ClassNotRecv
			same = true
		}
	}

	if len(statusList) > 0 {
		if same {
			flushRunLength()
		} else if maxStatus == ClassLargeOrNegativeDelta {
			out = append(out, statusChunk{kind: chunkVector, symbolBits: 2, symbols: statusList}.encode())
		} else {
			out = append(out, statusChunk{kind: chunkVector, symbolBits: 1, symbols: statusList}.encode())
		}
	}

	return out
}
