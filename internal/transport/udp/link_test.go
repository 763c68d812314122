package udp

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqnet/gbn/internal/gbn"
	"github.com/arqnet/gbn/internal/logging"
)

func TestServeWithoutEndpoint(t *testing.T) {
	link := NewLink(nil, nil, logging.New(logging.LevelError), nil)
	assert.ErrorIs(t, link.Serve(), ErrNotBound)
}

// endpointOverUDP binds a loopback socket and runs an endpoint over it.
type endpointOverUDP struct {
	conn *net.UDPConn
	link *Link
	ep   *gbn.Endpoint

	mu        sync.Mutex
	delivered []string
}

func newEndpointOverUDP(t *testing.T, name string) *endpointOverUDP {
	t.Helper()

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	e := &endpointOverUDP{conn: conn}
	e.link = NewLink(conn, nil, logging.New(logging.LevelError), func(payload string) {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.delivered = append(e.delivered, payload)
	})
	e.ep = gbn.NewEndpoint(e.link, gbn.Config{
		Name:          name,
		WindowSize:    4,
		TimerInterval: 50 * time.Millisecond,
		Logger:        logging.New(logging.LevelError),
	})
	e.link.Bind(e.ep)
	return e
}

func (e *endpointOverUDP) addr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

func (e *endpointOverUDP) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.delivered))
	copy(out, e.delivered)
	return out
}

func TestFullDuplexOverLoopback(t *testing.T) {
	a := newEndpointOverUDP(t, "A")
	b := newEndpointOverUDP(t, "B")
	a.link.remote = b.addr()
	b.link.remote = a.addr()

	go a.link.Serve()
	go b.link.Serve()

	var wantAtoB, wantBtoA []string
	for i := 0; i < 10; i++ {
		pa := fmt.Sprintf("a%d", i)
		pb := fmt.Sprintf("b%d", i)
		a.link.Submit(pa)
		b.link.Submit(pb)
		wantAtoB = append(wantAtoB, pa)
		wantBtoA = append(wantBtoA, pb)
	}

	require.Eventually(t, func() bool {
		return len(b.snapshot()) == len(wantAtoB) && len(a.snapshot()) == len(wantBtoA)
	}, 5*time.Second, 10*time.Millisecond, "deliveries did not complete")

	assert.Equal(t, wantAtoB, b.snapshot())
	assert.Equal(t, wantBtoA, a.snapshot())
}

func TestForeignDatagramsIgnored(t *testing.T) {
	a := newEndpointOverUDP(t, "A")
	b := newEndpointOverUDP(t, "B")
	a.link.remote = b.addr()
	b.link.remote = a.addr()

	go a.link.Serve()
	go b.link.Serve()

	// An unrelated socket injects a well-formed data packet; the link
	// must not let it reach the endpoint.
	stranger, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer stranger.Close()
	_, err = stranger.WriteToUDP(gbn.EncodeData(1, 0, "spoofed"), b.addr())
	require.NoError(t, err)

	a.link.Submit("legit")
	require.Eventually(t, func() bool {
		return len(b.snapshot()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"legit"}, b.snapshot())
}
