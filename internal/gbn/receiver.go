package gbn

import (
	"github.com/arqnet/gbn/internal/logging"
)

// Receiver is the Go-Back-N receiving half of an endpoint. It accepts
// data packets strictly in order, delivers each payload to the
// application exactly once, and acknowledges the last in-order packet
// it accepted. Out-of-order data is never buffered.
type Receiver struct {
	env Environment
	log *logging.Logger

	expectedSeq uint32 // next seq accepted for delivery, starts at 1
	lastAck     []byte // most recently sent ACK, resent verbatim on trouble

	stats *Stats
}

// NewReceiver constructs a receiver over env. The retained ACK starts
// as an acknowledgment of 0, so a corrupt first packet still gets a
// well-formed response before any real packet has been accepted.
func NewReceiver(env Environment, log *logging.Logger, stats *Stats) *Receiver {
	return &Receiver{
		env:         env,
		log:         log,
		expectedSeq: 1,
		lastAck:     EncodeAck(0),
		stats:       stats,
	}
}

// Expected returns the next sequence number the receiver will accept.
func (r *Receiver) Expected() uint32 {
	return r.expectedSeq
}

// OnData processes a decoded data packet. The expected packet is
// delivered upward and acknowledged; anything else (duplicate or ahead
// of a gap) only provokes a resend of the last ACK.
func (r *Receiver) OnData(pkt *Packet) {
	if pkt.Seq != r.expectedSeq {
		r.resendLastAck()
		r.log.Debug("unexpected DATA seq=%d (expected %d), resent last ACK", pkt.Seq, r.expectedSeq)
		return
	}

	r.env.DeliverToApplication(pkt.Payload)
	r.stats.Delivered++

	ack := EncodeAck(pkt.Seq)
	r.lastAck = ack
	r.env.Transmit(ack)
	r.stats.AcksSent++
	r.expectedSeq++
	r.log.Debug("delivered seq=%d, ACKed, expecting %d", pkt.Seq, r.expectedSeq)
}

// OnCorrupt handles an inbound frame that failed to decode. Corruption
// can hide whether the original was data or an ACK, so the receiver
// always resends its most recent ACK rather than risk dropping a data
// packet the sender is waiting on. Resending an ACK never re-delivers
// anything to the application.
func (r *Receiver) OnCorrupt(err error) {
	r.stats.CorruptFrames++
	r.resendLastAck()
	r.log.Debug("corrupt frame (%v), resent last ACK", err)
}

func (r *Receiver) resendLastAck() {
	r.env.Transmit(r.lastAck)
	r.stats.AcksResent++
}
