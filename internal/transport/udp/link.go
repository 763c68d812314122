// Package udp runs a GBN endpoint over a UDP socket. UDP is a natural
// carrier for the protocol: datagrams bound the wire packets, and the
// network may drop or damage them, which is exactly what the ARQ layer
// recovers from. Reordering is assumed not to occur on the paths this
// is used on (single-switch LANs, loopback test rigs).
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/arqnet/gbn/internal/gbn"
	"github.com/arqnet/gbn/internal/logging"
)

// maxDatagram bounds a single read; one GBN packet per datagram.
const maxDatagram = 64 * 1024

// ErrNotBound is returned by Serve when no endpoint was bound.
var ErrNotBound = errors.New("udp: no endpoint bound to link")

// Link adapts a UDP socket into a gbn.Environment. Each wire packet is
// one datagram. Like the websocket link, construction is two-phase:
// build the Link, construct the endpoint over it, then Bind.
type Link struct {
	conn   *net.UDPConn
	remote *net.UDPAddr
	log    *logging.Logger

	mu       sync.Mutex
	ep       *gbn.Endpoint
	timer    *time.Timer
	timerGen uint64

	onDeliver func(payload string)
	delivered []string
}

// NewLink wraps conn, sending to remote. A nil remote uses the
// connected peer of conn.
func NewLink(conn *net.UDPConn, remote *net.UDPAddr, log *logging.Logger, onDeliver func(string)) *Link {
	if log == nil {
		log = logging.Default()
	}
	return &Link{
		conn:      conn,
		remote:    remote,
		log:       log.WithPrefix("udp-link"),
		onDeliver: onDeliver,
	}
}

// Bind attaches the endpoint driven by this link.
func (l *Link) Bind(ep *gbn.Endpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ep = ep
}

// SetOnDeliver replaces the delivery hook.
func (l *Link) SetOnDeliver(fn func(string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDeliver = fn
}

// Submit feeds new outbound application data through the endpoint.
func (l *Link) Submit(payload string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ep.DeliverOutbound(payload)
	l.flushDelivered()
}

// Serve reads datagrams until the socket closes, feeding each into the
// endpoint. Datagrams from other sources than the bound remote are
// dropped.
func (l *Link) Serve() error {
	if l.ep == nil {
		return ErrNotBound
	}

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			l.stopTimerLocked()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("udp: read: %w", err)
		}
		if l.remote != nil && from != nil && !udpAddrEqual(from, l.remote) {
			l.log.Debug("dropping %d bytes from unexpected peer %s", n, from)
			continue
		}

		raw := make([]byte, n)
		copy(raw, buf[:n])

		l.mu.Lock()
		l.ep.DeliverInbound(raw)
		l.flushDelivered()
		l.mu.Unlock()
	}
}

func (l *Link) flushDelivered() {
	for len(l.delivered) > 0 {
		payload := l.delivered[0]
		l.delivered = l.delivered[1:]
		if l.onDeliver != nil {
			l.onDeliver(payload)
		} else {
			l.log.Info("delivered %d byte payload", len(payload))
		}
	}
}

// Transmit sends one encoded packet as a single datagram.
func (l *Link) Transmit(raw []byte) {
	var err error
	if l.remote != nil {
		_, err = l.conn.WriteToUDP(raw, l.remote)
	} else {
		_, err = l.conn.Write(raw)
	}
	if err != nil {
		l.log.Warn("write failed, retransmission will cover it: %v", err)
	}
}

// DeliverToApplication queues payload for the onDeliver hook, which
// runs after the producing entry point has completed.
func (l *Link) DeliverToApplication(payload string) {
	l.delivered = append(l.delivered, payload)
}

// StartTimer arms (or restarts) the retransmission timer.
func (l *Link) StartTimer(d time.Duration) {
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timerGen++
	gen := l.timerGen
	l.timer = time.AfterFunc(d, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if gen != l.timerGen {
			return
		}
		l.ep.TimerExpired()
		l.flushDelivered()
	})
}

// StopTimer disarms the retransmission timer.
func (l *Link) StopTimer() {
	l.timerGen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Link) stopTimerLocked() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.StopTimer()
}

func udpAddrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}
