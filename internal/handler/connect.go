// Package handler exposes the GBN endpoint over HTTP: a websocket
// upgrade at /arq hosts one echoing endpoint per connection.
package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/arqnet/gbn/internal/config"
	"github.com/arqnet/gbn/internal/gbn"
	"github.com/arqnet/gbn/internal/logging"
	"github.com/arqnet/gbn/internal/transport/ws"
)

const (
	webSocketReadBufferSize  = 8192
	webSocketWriteBufferSize = 8192
)

// Handler serves websocket connections, each hosting one GBN endpoint
// that reliably echoes every delivered payload back to the peer.
type Handler struct {
	cfg *config.Config
	log *logging.Logger
}

// New returns a Handler using cfg for protocol defaults and origin
// policy.
func New(cfg *config.Config, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.Default()
	}
	return &Handler{cfg: cfg, log: log.WithPrefix("handler")}
}

// Connect upgrades the request to a websocket and runs an echo endpoint
// until the peer disconnects. Query parameters window and interval
// override the configured protocol defaults.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  webSocketReadBufferSize,
		WriteBufferSize: webSocketWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return h.isAllowedOrigin(r.Header.Get("Origin"), r.Host)
		},
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade websocket: %v", err)
		return
	}
	defer func() {
		if err := wsConn.Close(); err != nil {
			h.log.Debug("error closing websocket: %v", err)
		}
	}()

	// A frame larger than one full packet at the payload cap closes
	// the connection with a 1009 rather than reaching the endpoint.
	wsConn.SetReadLimit(int64(gbn.HeaderSize + h.cfg.Protocol.MaxPayload))

	windowSize := h.cfg.Protocol.WindowSize
	if v := r.URL.Query().Get("window"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			windowSize = n
		}
	}

	interval := h.cfg.Protocol.TimerInterval
	if v := r.URL.Query().Get("interval"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			interval = d
		}
	}

	link := ws.NewLink(wsConn, h.log, nil)
	ep := gbn.NewEndpoint(link, gbn.Config{
		Name:          r.RemoteAddr,
		WindowSize:    uint32(windowSize),
		TimerInterval: interval,
		Logger:        h.log,
	})
	link.Bind(ep)

	// Echo every in-order payload back through the endpoint's own
	// sender, so the client exercises both half-channels.
	link.SetOnDeliver(func(payload string) {
		ep.DeliverOutbound(payload)
	})

	h.log.Info("endpoint up for %s (window=%d interval=%v)", r.RemoteAddr, windowSize, interval)
	if err := link.Serve(); err != nil {
		h.log.Warn("connection %s ended: %v", r.RemoteAddr, err)
	}

	stats := ep.Stats()
	h.log.Info("endpoint down for %s: delivered=%d sent=%d retransmits=%d corrupt=%d",
		r.RemoteAddr, stats.Delivered, stats.DataSent, stats.Retransmits, stats.CorruptFrames)
}

func (h *Handler) isAllowedOrigin(origin, host string) bool {
	// Non-browser clients send no Origin header.
	if origin == "" {
		return true
	}

	allowed := h.cfg.Server.AllowedOrigins
	for _, a := range allowed {
		if strings.TrimSpace(a) == origin {
			return true
		}
	}

	if len(allowed) == 0 {
		return strings.Contains(origin, host)
	}

	return false
}
