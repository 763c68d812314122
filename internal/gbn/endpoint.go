package gbn

import (
	"time"

	"github.com/arqnet/gbn/internal/logging"
)

// DefaultWindowSize is the window used when a Config leaves it zero.
const DefaultWindowSize = 8

// DefaultTimerInterval is the retransmission interval used when a
// Config leaves it zero.
const DefaultTimerInterval = 500 * time.Millisecond

// Config holds the per-endpoint protocol parameters.
type Config struct {
	// Name tags log lines, e.g. "A" or "B".
	Name string

	// WindowSize caps the number of unacknowledged packets in flight.
	WindowSize uint32

	// TimerInterval is the fixed retransmission timeout. There is no
	// backoff and no retry cap; retransmission repeats until ACKed.
	TimerInterval time.Duration

	// Logger defaults to logging.Default().
	Logger *logging.Logger
}

// Endpoint is one end of a full-duplex GBN conversation: a sender for
// the data it originates and a receiver for the peer's data, sharing
// one identity and one retransmission timer. The three entry points
// (DeliverOutbound, DeliverInbound, TimerExpired) must be invoked
// sequentially, never concurrently against the same endpoint; each
// completes synchronously before returning.
type Endpoint struct {
	name     string
	log      *logging.Logger
	sender   *Sender
	receiver *Receiver
	stats    Stats
}

// NewEndpoint constructs an endpoint over env. Zero Config fields fall
// back to defaults.
func NewEndpoint(env Environment, cfg Config) *Endpoint {
	if cfg.WindowSize == 0 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.TimerInterval == 0 {
		cfg.TimerInterval = DefaultTimerInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	log := cfg.Logger
	if cfg.Name != "" {
		log = log.WithPrefix("endpoint-" + cfg.Name)
	}

	ep := &Endpoint{
		name: cfg.Name,
		log:  log,
	}
	ep.sender = NewSender(env, cfg.WindowSize, cfg.TimerInterval, log, &ep.stats)
	ep.receiver = NewReceiver(env, log, &ep.stats)
	return ep
}

// Name returns the endpoint's identity tag.
func (e *Endpoint) Name() string {
	return e.name
}

// Stats returns a snapshot of the endpoint's counters.
func (e *Endpoint) Stats() Stats {
	return e.stats
}

// Sender exposes the sending half, mainly for harnesses and tests.
func (e *Endpoint) Sender() *Sender {
	return e.sender
}

// Receiver exposes the receiving half, mainly for harnesses and tests.
func (e *Endpoint) Receiver() *Receiver {
	return e.receiver
}

// DeliverOutbound accepts new application data to send to the peer.
func (e *Endpoint) DeliverOutbound(payload string) {
	e.sender.Submit(payload)
}

// DeliverInbound decodes raw bytes from the transport and routes them:
// undecodable frames go to the receiver's corruption path, ACKs to the
// sender, data to the receiver.
func (e *Endpoint) DeliverInbound(raw []byte) {
	pkt, err := Decode(raw)
	if err != nil {
		e.receiver.OnCorrupt(err)
		return
	}
	if pkt.IsAck {
		e.sender.OnAck(pkt.Ack)
		return
	}
	e.receiver.OnData(pkt)
}

// TimerExpired reports that the armed retransmission timer elapsed.
func (e *Endpoint) TimerExpired() {
	e.sender.OnTimeout()
}
