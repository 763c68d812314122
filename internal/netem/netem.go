// Package netem is a discrete-event emulator for the unreliable channel
// between two GBN endpoints. It owns the virtual clock, the single
// retransmission timer of each side, and a duplex link that can delay,
// drop, or corrupt packets in transit. Delivery order on each direction
// is preserved; packets are only ever lost or damaged, never reordered.
package netem

import (
	"container/heap"
	"fmt"
	"math/rand"
	"time"

	"github.com/arqnet/gbn/internal/gbn"
	"github.com/arqnet/gbn/internal/logging"
)

// Side selects one of the two attached endpoints.
type Side int

const (
	SideA Side = iota
	SideB
)

func (s Side) String() string {
	if s == SideA {
		return "A"
	}
	return "B"
}

// Peer returns the other side.
func (s Side) Peer() Side {
	return 1 - s
}

// Config holds the channel impairments and timing of the emulated network.
type Config struct {
	// Seed makes a run reproducible.
	Seed int64

	// Delay is the one-way propagation delay.
	Delay time.Duration

	// LossRate is the probability in [0,1] that a packet vanishes in transit.
	LossRate float64

	// CorruptRate is the probability in [0,1] that a single random bit of
	// a packet flips in transit.
	CorruptRate float64

	// Logger defaults to logging.Default().
	Logger *logging.Logger
}

// Validate checks the impairment parameters.
func (c *Config) Validate() error {
	if c.LossRate < 0 || c.LossRate > 1 {
		return fmt.Errorf("loss rate %v outside [0,1]", c.LossRate)
	}
	if c.CorruptRate < 0 || c.CorruptRate > 1 {
		return fmt.Errorf("corrupt rate %v outside [0,1]", c.CorruptRate)
	}
	if c.Delay < 0 {
		return fmt.Errorf("negative delay %v", c.Delay)
	}
	return nil
}

// eventKind discriminates what an event delivers to its endpoint.
type eventKind int

const (
	kindSubmit  eventKind = iota // new application data
	kindArrival                  // packet arrival from the link
	kindTimer                    // retransmission timer expiry
)

// event is one scheduled occurrence on the virtual clock.
type event struct {
	at    time.Duration
	seq   uint64 // tie-breaker preserving schedule order
	index int

	kind    eventKind
	side    Side   // which endpoint the event concerns
	raw     []byte // arrival bytes
	payload string // submitted application data
	timer   uint64 // timer generation
}

// eventQueue implements heap.Interface ordered by virtual time, with
// insertion order breaking ties so same-instant events stay FIFO.
type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *eventQueue) Push(x any) {
	ev := x.(*event)
	ev.index = len(*q)
	*q = append(*q, ev)
}

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*q = old[:n-1]
	return ev
}

// Network emulates the channel between two endpoints and drives their
// entry points from a single-threaded event loop, so no two operations
// ever run concurrently against the same endpoint.
type Network struct {
	cfg Config
	rng *rand.Rand
	log *logging.Logger

	now     time.Duration
	queue   eventQueue
	nextSeq uint64

	endpoints [2]*gbn.Endpoint
	timerGen  [2]uint64 // current generation; stale expiries are ignored
	timerLive [2]bool

	delivered [2][]string // payloads handed up by each side

	// Drops and Corruptions count impairments actually applied.
	Drops       uint64
	Corruptions uint64
}

// New returns an emulated network with the given impairments.
func New(cfg Config) (*Network, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("netem config: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Network{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
		log: cfg.Logger.WithPrefix("netem"),
	}, nil
}

// Attach registers the endpoint for one side. Both sides must be
// attached before Run. Use Env(side) to build the endpoint.
func (n *Network) Attach(side Side, ep *gbn.Endpoint) {
	n.endpoints[side] = ep
}

// Env returns the Environment the endpoint of the given side must be
// constructed over.
func (n *Network) Env(side Side) gbn.Environment {
	return &sideEnv{net: n, side: side}
}

// Now returns the current virtual time.
func (n *Network) Now() time.Duration {
	return n.now
}

// Delivered returns the payloads side's receiver handed to its
// application, in delivery order.
func (n *Network) Delivered(side Side) []string {
	return n.delivered[side]
}

// Submit schedules new application data on side at virtual time at.
func (n *Network) Submit(side Side, at time.Duration, payload string) {
	n.schedule(&event{at: at, kind: kindSubmit, side: side, payload: payload})
}

// Run processes events until the queue drains or virtual time exceeds
// limit. It returns the virtual time reached.
func (n *Network) Run(limit time.Duration) time.Duration {
	for len(n.queue) > 0 {
		ev := heap.Pop(&n.queue).(*event)
		if ev.at > limit {
			n.log.Warn("stopped at virtual time limit %v with %d events queued", limit, len(n.queue)+1)
			return n.now
		}
		n.now = ev.at
		n.dispatch(ev)
	}
	return n.now
}

func (n *Network) schedule(ev *event) {
	ev.seq = n.nextSeq
	n.nextSeq++
	heap.Push(&n.queue, ev)
}

func (n *Network) dispatch(ev *event) {
	ep := n.endpoints[ev.side]
	switch ev.kind {
	case kindSubmit:
		ep.DeliverOutbound(ev.payload)
	case kindArrival:
		ep.DeliverInbound(ev.raw)
	case kindTimer:
		// Timer expiry: only the latest generation is live; a stop or
		// restart bumps the generation and orphans queued expiries.
		if !n.timerLive[ev.side] || ev.timer != n.timerGen[ev.side] {
			return
		}
		n.timerLive[ev.side] = false
		ep.TimerExpired()
	}
}

// transmit sends raw from side to its peer, applying loss and
// corruption, and schedules the arrival after the propagation delay.
func (n *Network) transmit(from Side, raw []byte) {
	if n.rng.Float64() < n.cfg.LossRate {
		n.Drops++
		n.log.Debug("t=%v dropped %d bytes %s->%s", n.now, len(raw), from, from.Peer())
		return
	}

	delivered := raw
	if n.rng.Float64() < n.cfg.CorruptRate {
		delivered = make([]byte, len(raw))
		copy(delivered, raw)
		bit := n.rng.Intn(len(delivered) * 8)
		delivered[bit/8] ^= 1 << (bit % 8)
		n.Corruptions++
		n.log.Debug("t=%v corrupted bit %d of %d bytes %s->%s", n.now, bit, len(raw), from, from.Peer())
	}

	n.schedule(&event{at: n.now + n.cfg.Delay, kind: kindArrival, side: from.Peer(), raw: delivered})
}

func (n *Network) startTimer(side Side, d time.Duration) {
	n.timerGen[side]++
	n.timerLive[side] = true
	n.schedule(&event{at: n.now + d, kind: kindTimer, side: side, timer: n.timerGen[side]})
}

func (n *Network) stopTimer(side Side) {
	n.timerGen[side]++
	n.timerLive[side] = false
}

// sideEnv adapts one side of the network to the gbn.Environment
// capability interface.
type sideEnv struct {
	net  *Network
	side Side
}

func (e *sideEnv) Transmit(raw []byte) {
	e.net.transmit(e.side, raw)
}

func (e *sideEnv) DeliverToApplication(payload string) {
	e.net.delivered[e.side] = append(e.net.delivered[e.side], payload)
}

func (e *sideEnv) StartTimer(d time.Duration) {
	e.net.startTimer(e.side, d)
}

func (e *sideEnv) StopTimer() {
	e.net.stopTimer(e.side)
}
