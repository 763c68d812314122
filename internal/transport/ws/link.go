// Package ws runs a GBN endpoint over a websocket connection. Binary
// messages carry the wire packets; the retransmission timer is a real
// timer. The link serializes the endpoint's three entry points with a
// mutex, since the read loop and the timer fire on different goroutines.
package ws

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arqnet/gbn/internal/gbn"
	"github.com/arqnet/gbn/internal/logging"
)

// ErrNotBound is returned by Serve when no endpoint was bound.
var ErrNotBound = errors.New("ws: no endpoint bound to link")

// Link adapts a *websocket.Conn into a gbn.Environment.
//
// Construction is two-phase because the endpoint and its environment
// reference each other: build the Link, construct the endpoint over it,
// then Bind the endpoint before calling Serve.
type Link struct {
	conn *websocket.Conn
	log  *logging.Logger

	mu       sync.Mutex
	ep       *gbn.Endpoint
	timer    *time.Timer
	timerGen uint64

	// onDeliver receives each in-order payload after the entry point
	// that produced it has finished. It runs with the link lock held,
	// so it may call back into the endpoint.
	onDeliver func(payload string)
	delivered []string
}

// NewLink wraps conn. onDeliver may be nil; delivered payloads are then
// only logged.
func NewLink(conn *websocket.Conn, log *logging.Logger, onDeliver func(string)) *Link {
	if log == nil {
		log = logging.Default()
	}
	return &Link{
		conn:      conn,
		log:       log.WithPrefix("ws-link"),
		onDeliver: onDeliver,
	}
}

// Bind attaches the endpoint driven by this link.
func (l *Link) Bind(ep *gbn.Endpoint) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ep = ep
}

// SetOnDeliver replaces the delivery hook. Useful when the hook needs
// the endpoint, which does not exist yet at NewLink time.
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

// Serve reads frames until the connection fails or closes, feeding each
// binary message into the endpoint. It returns the read error, or nil
// on a normal close.
func (l *Link) Serve() error {
	if l.ep == nil {
		return ErrNotBound
	}

	for {
		kind, raw, err := l.conn.ReadMessage()
		if err != nil {
			l.stopTimerLocked()
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("ws: read: %w", err)
		}
		if kind != websocket.BinaryMessage {
			l.log.Debug("ignoring non-binary frame of %d bytes", len(raw))
			continue
		}

		l.mu.Lock()
		l.ep.DeliverInbound(raw)
		l.flushDelivered()
		l.mu.Unlock()
	}
}

// flushDelivered hands queued payloads to onDeliver. Called with the
// lock held, after an entry point has fully completed.
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

// Transmit writes one encoded packet as a binary frame. Entry points
// run under the link lock, so writes never interleave.
func (l *Link) Transmit(raw []byte) {
	if err := l.conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		l.log.Warn("write failed, retransmission will cover it: %v", err)
	}
}

// DeliverToApplication queues payload for the onDeliver hook. The queue
// keeps the hook from re-entering the endpoint while an entry point is
// still running.
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
		// A stop or restart that raced with the firing invalidates it.
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
