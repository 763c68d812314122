package gbn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arqnet/gbn/internal/logging"
)

// fakeEnv records every interaction an endpoint has with its
// surroundings.
type fakeEnv struct {
	sent       [][]byte
	delivered  []string
	timerArmed bool
	starts     int
	stops      int
	lastArm    time.Duration
}

func (f *fakeEnv) Transmit(raw []byte) {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	f.sent = append(f.sent, buf)
}

func (f *fakeEnv) DeliverToApplication(payload string) {
	f.delivered = append(f.delivered, payload)
}

func (f *fakeEnv) StartTimer(d time.Duration) {
	f.timerArmed = true
	f.starts++
	f.lastArm = d
}

func (f *fakeEnv) StopTimer() {
	f.timerArmed = false
	f.stops++
}

// decodeSent decodes the i-th transmitted frame, failing the test on
// corruption.
func decodeSent(t *testing.T, env *fakeEnv, i int) *Packet {
	t.Helper()
	require.Less(t, i, len(env.sent), "frame %d was never transmitted", i)
	pkt, err := Decode(env.sent[i])
	require.NoError(t, err)
	return pkt
}

func newTestSender(env *fakeEnv, window uint32) (*Sender, *Stats) {
	stats := &Stats{}
	log := logging.New(logging.LevelError)
	return NewSender(env, window, 100*time.Millisecond, log, stats), stats
}

func TestSenderWindowScenario(t *testing.T) {
	env := &fakeEnv{}
	s, _ := newTestSender(env, 4)

	for _, payload := range []string{"a", "b", "c", "d", "e"} {
		s.Submit(payload)
	}

	// Four packets go out immediately, "e" waits for a slot.
	require.Len(t, env.sent, 4)
	assert.Equal(t, 1, s.Pending())
	assert.Equal(t, 4, s.Outstanding())
	for i, want := range []string{"a", "b", "c", "d"} {
		pkt := decodeSent(t, env, i)
		assert.Equal(t, uint32(i+1), pkt.Seq)
		assert.Equal(t, want, pkt.Payload)
		assert.False(t, pkt.IsAck)
	}

	// Cumulative ACK for seq 1 opens one slot; "e" goes out as seq 5.
	s.OnAck(1)
	require.Len(t, env.sent, 5)
	pkt := decodeSent(t, env, 4)
	assert.Equal(t, uint32(5), pkt.Seq)
	assert.Equal(t, "e", pkt.Payload)
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, 4, s.Outstanding())
}

func TestSenderWindowBound(t *testing.T) {
	env := &fakeEnv{}
	s, _ := newTestSender(env, 4)

	for i := 0; i < 20; i++ {
		s.Submit("payload")
		assert.LessOrEqual(t, s.Outstanding(), 4, "window bound violated")
	}
	assert.Len(t, env.sent, 4)
	assert.Equal(t, 16, s.Pending())
}

func TestSenderTimerFollowsOldestUnacked(t *testing.T) {
	env := &fakeEnv{}
	s, _ := newTestSender(env, 4)

	// First transmission arms the timer; later ones while packets are
	// already outstanding do not rearm it.
	s.Submit("a")
	assert.Equal(t, 1, env.starts)
	assert.Equal(t, 100*time.Millisecond, env.lastArm)
	s.Submit("b")
	assert.Equal(t, 1, env.starts)

	// Partial ACK restarts the timer for the new oldest packet.
	s.OnAck(1)
	assert.Equal(t, 2, env.starts)
	assert.True(t, env.timerArmed)

	// Final ACK disarms it.
	s.OnAck(2)
	assert.Equal(t, 1, env.stops)
	assert.False(t, env.timerArmed)
	assert.Equal(t, 0, s.Outstanding())
}

func TestSenderCumulativeAck(t *testing.T) {
	env := &fakeEnv{}
	s, _ := newTestSender(env, 8)

	for _, p := range []string{"a", "b", "c", "d"} {
		s.Submit(p)
	}
	require.Equal(t, 4, s.Outstanding())

	// A single ACK for seq 3 acknowledges 1, 2 and 3 at once.
	s.OnAck(3)
	assert.Equal(t, 1, s.Outstanding())
	assert.True(t, env.timerArmed)
}

func TestSenderIgnoresStaleAcks(t *testing.T) {
	env := &fakeEnv{}
	s, stats := newTestSender(env, 4)

	s.Submit("a")
	s.Submit("b")
	s.OnAck(2)
	sends := len(env.sent)
	starts, stops := env.starts, env.stops

	// Duplicates and stale ACKs change nothing.
	s.OnAck(2)
	s.OnAck(1)
	s.OnAck(0)

	assert.Len(t, env.sent, sends)
	assert.Equal(t, starts, env.starts)
	assert.Equal(t, stops, env.stops)
	assert.Equal(t, uint64(3), stats.AcksIgnored)
}

func TestSenderIgnoresAckForUnsentSeq(t *testing.T) {
	env := &fakeEnv{}
	s, stats := newTestSender(env, 4)

	s.Submit("a")
	s.OnAck(9)

	assert.Equal(t, 1, s.Outstanding())
	assert.Equal(t, uint64(1), stats.AcksIgnored)
	assert.True(t, env.timerArmed)
}

func TestSenderTimeoutRetransmitsIdenticalBytes(t *testing.T) {
	env := &fakeEnv{}
	s, stats := newTestSender(env, 4)

	s.Submit("x")
	require.Len(t, env.sent, 1)
	original := env.sent[0]

	// Two timeouts with no ACK: seq 1 goes out again each time, byte
	// for byte identical to the first transmission.
	s.OnTimeout()
	s.OnTimeout()

	require.Len(t, env.sent, 3)
	assert.Equal(t, original, env.sent[1])
	assert.Equal(t, original, env.sent[2])
	assert.Equal(t, uint64(2), stats.Retransmits)
	assert.Equal(t, 3, env.starts, "each timeout restarts the timer")
}

func TestSenderTimeoutResendsWholeWindowInOrder(t *testing.T) {
	env := &fakeEnv{}
	s, _ := newTestSender(env, 4)

	for _, p := range []string{"a", "b", "c"} {
		s.Submit(p)
	}
	env.sent = nil

	s.OnTimeout()

	require.Len(t, env.sent, 3)
	for i := 0; i < 3; i++ {
		pkt := decodeSent(t, env, i)
		assert.Equal(t, uint32(i+1), pkt.Seq, "retransmission out of order")
	}
}

func TestSenderSpuriousTimeout(t *testing.T) {
	env := &fakeEnv{}
	s, _ := newTestSender(env, 4)

	// Nothing in flight: no retransmission and no timer restart.
	s.OnTimeout()
	assert.Empty(t, env.sent)
	assert.Zero(t, env.starts)
}

func TestSenderDrainsPendingAcrossMultipleSlots(t *testing.T) {
	env := &fakeEnv{}
	s, _ := newTestSender(env, 2)

	for _, p := range []string{"a", "b", "c", "d", "e"} {
		s.Submit(p)
	}
	require.Len(t, env.sent, 2)
	require.Equal(t, 3, s.Pending())

	// ACK for both outstanding packets opens two slots at once.
	s.OnAck(2)
	assert.Len(t, env.sent, 4)
	assert.Equal(t, 1, s.Pending())

	pkt := decodeSent(t, env, 2)
	assert.Equal(t, uint32(3), pkt.Seq)
	assert.Equal(t, "c", pkt.Payload)
}

func TestSenderDataCarriesLastAckedHint(t *testing.T) {
	env := &fakeEnv{}
	s, _ := newTestSender(env, 8)

	s.Submit("a")
	assert.Equal(t, uint32(0), decodeSent(t, env, 0).Ack)

	s.OnAck(1)
	s.Submit("b")
	assert.Equal(t, uint32(1), decodeSent(t, env, 1).Ack)
}
