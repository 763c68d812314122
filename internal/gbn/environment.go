package gbn

import "time"

// Environment is the capability surface an endpoint needs from its
// surroundings. Injecting it keeps the state machines unit-testable
// without a real network or scheduler.
//
// At most one timer is outstanding per endpoint. StartTimer while a
// timer is already armed restarts it for the full duration; intervals
// never stack.
type Environment interface {
	// Transmit hands one encoded packet to the transport.
	Transmit(raw []byte)

	// DeliverToApplication hands successfully received, in-order payload
	// to the upper layer.
	DeliverToApplication(payload string)

	// StartTimer arms (or restarts) the retransmission timer.
	StartTimer(d time.Duration)

	// StopTimer disarms the retransmission timer, if armed.
	StopTimer()
}

// Stats counts protocol events on one endpoint. Counters only ever
// increase; they carry no correctness weight.
type Stats struct {
	DataSent      uint64 // first transmissions of data packets
	Retransmits   uint64 // data packets resent on timeout
	AcksSent      uint64 // ACKs generated for in-order data
	AcksResent    uint64 // last-ACK resends on corrupt or unexpected data
	Delivered     uint64 // payloads handed to the application
	AcksAccepted  uint64 // cumulative ACKs that advanced the window
	AcksIgnored   uint64 // duplicate or stale ACKs
	CorruptFrames uint64 // inbound frames that failed to decode
	Buffered      uint64 // payloads queued while the window was full
}
