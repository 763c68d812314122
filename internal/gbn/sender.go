package gbn

import (
	"sort"
	"time"

	"github.com/arqnet/gbn/internal/logging"
)

// Sender is the Go-Back-N sending half of an endpoint. It owns the
// sliding window: sequence assignment, the in-flight retransmission
// buffer, the overflow queue for payloads that arrive while the window
// is full, and the single retransmission timer.
//
// The window invariant is nextSeq-base <= windowSize, where base is the
// lowest unacknowledged sequence number (lastAcked+1). The timer is
// armed exactly when inFlight is non-empty.
type Sender struct {
	env Environment
	log *logging.Logger

	windowSize    uint32
	timerInterval time.Duration

	lastAcked uint32            // last cumulatively ACKed seq; base is lastAcked+1
	nextSeq   uint32            // next seq to assign, starts at 1
	inFlight  map[uint32][]byte // transmitted but unACKed packets, by seq
	pending   []string          // payloads waiting for a window slot, FIFO

	stats *Stats
}

// NewSender constructs a sender over env with the given window size and
// retransmission interval.
func NewSender(env Environment, windowSize uint32, timerInterval time.Duration, log *logging.Logger, stats *Stats) *Sender {
	return &Sender{
		env:           env,
		log:           log,
		windowSize:    windowSize,
		timerInterval: timerInterval,
		nextSeq:       1,
		inFlight:      make(map[uint32][]byte),
		stats:         stats,
	}
}

// base returns the lowest unacknowledged sequence number.
func (s *Sender) base() uint32 {
	return s.lastAcked + 1
}

// windowOpen reports whether a window slot is available for a new packet.
func (s *Sender) windowOpen() bool {
	return s.nextSeq-s.base() < s.windowSize
}

// Outstanding returns the number of transmitted but unacknowledged packets.
func (s *Sender) Outstanding() int {
	return len(s.inFlight)
}

// Pending returns the number of payloads buffered behind a full window.
func (s *Sender) Pending() int {
	return len(s.pending)
}

// Submit accepts new application data. If a window slot is open the
// payload is sent immediately; otherwise it is buffered and sent as
// ACKs open slots. Backpressure is absorbed by buffering, never
// signaled to the caller.
func (s *Sender) Submit(payload string) {
	if !s.windowOpen() {
		s.pending = append(s.pending, payload)
		s.stats.Buffered++
		s.log.Debug("window full, buffered %d byte payload (%d pending)", len(payload), len(s.pending))
		return
	}
	s.send(payload)
}

// send assigns the next sequence number to payload and transmits it.
// Callers must have checked the window.
func (s *Sender) send(payload string) {
	raw := EncodeData(s.nextSeq, s.lastAcked, payload)
	s.inFlight[s.nextSeq] = raw
	s.env.Transmit(raw)
	s.stats.DataSent++
	s.log.Debug("sent DATA seq=%d len=%d", s.nextSeq, len(payload))

	// This packet is the oldest in flight exactly when nothing else was
	// outstanding; the timer follows the oldest unACKed packet.
	if len(s.inFlight) == 1 {
		s.env.StartTimer(s.timerInterval)
	}
	s.nextSeq++
}

// OnAck processes a cumulative acknowledgment. ACKs that indicate no
// progress beyond base are ignored. On progress the window advances,
// buffered payloads drain into the opened slots, and the timer is
// restarted for the new oldest unACKed packet, or stopped when nothing
// is outstanding.
func (s *Sender) OnAck(ack uint32) {
	if ack <= s.lastAcked {
		s.stats.AcksIgnored++
		s.log.Debug("ignoring stale ACK %d (base=%d)", ack, s.base())
		return
	}
	if ack >= s.nextSeq {
		// Acknowledges a sequence number never sent; a correct peer
		// cannot produce this.
		s.stats.AcksIgnored++
		s.log.Warn("ignoring ACK %d beyond next seq %d", ack, s.nextSeq)
		return
	}

	for seq := s.base(); seq <= ack; seq++ {
		delete(s.inFlight, seq)
	}
	s.lastAcked = ack
	s.stats.AcksAccepted++
	s.log.Debug("ACK %d advanced base to %d", ack, s.base())

	for len(s.pending) > 0 && s.windowOpen() {
		payload := s.pending[0]
		s.pending = s.pending[1:]
		s.send(payload)
	}

	if s.lastAcked+1 == s.nextSeq {
		s.env.StopTimer()
		return
	}
	s.env.StartTimer(s.timerInterval)
}

// OnTimeout retransmits every in-flight packet in ascending sequence
// order, byte-identical to the original transmission, and restarts the
// timer. A timeout with nothing in flight violates the timer lifecycle
// and is dropped.
func (s *Sender) OnTimeout() {
	if len(s.inFlight) == 0 {
		s.log.Warn("spurious timeout with empty in-flight buffer")
		return
	}

	seqs := make([]uint32, 0, len(s.inFlight))
	for seq := range s.inFlight {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	for _, seq := range seqs {
		s.env.Transmit(s.inFlight[seq])
		s.stats.Retransmits++
	}
	s.log.Debug("timeout: retransmitted %d packets from seq %d", len(seqs), seqs[0])

	s.env.StartTimer(s.timerInterval)
}
