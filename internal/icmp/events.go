package icmp

import "net"

// Event is the tagged union of everything a Pinger reports to its
// consumer. The six concrete types below are the only implementations;
// consumers are expected to type-switch on the concrete type.
type Event interface {
	isEvent()
}

// StartedEvent fires once, after a successful resolve and socket open,
// before any Sent/Received/Unexpected event for the session.
type StartedEvent struct {
	Addr net.Addr
}

// SentEvent fires after a successful send_ping.
type SentEvent struct {
	Packet   []byte
	Sequence uint16
}

// SendFailedEvent fires after a send_ping whose socket write failed. The
// session remains Active.
type SendFailedEvent struct {
	Packet   []byte
	Sequence uint16
	Err      error
}

// ReceivedEvent fires for a validated, correlated echo reply. Packet is
// the ICMP-layer slice — the IPv4 header, if any, has already been
// stripped.
type ReceivedEvent struct {
	Packet   []byte
	Sequence uint16
}

// UnexpectedEvent fires for any inbound datagram that fails validation:
// wrong identifier, wrong type/code, bad checksum, stale/unseen sequence,
// or a buffer too short to be a v4/ICMP datagram.
type UnexpectedEvent struct {
	Packet []byte
}

// FailedEvent is terminal: no further events follow for this Pinger until
// a new one is constructed and started.
type FailedEvent struct {
	Err error
}

func (StartedEvent) isEvent()     {}
func (SentEvent) isEvent()        {}
func (SendFailedEvent) isEvent()  {}
func (ReceivedEvent) isEvent()    {}
func (UnexpectedEvent) isEvent()  {}
func (FailedEvent) isEvent()      {}

// EventFunc is the consumer-supplied sink. The engine calls it
// synchronously from its own loop goroutine, in emission order, for the
// lifetime of one Pinger.
type EventFunc func(Event)
