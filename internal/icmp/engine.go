// Package icmp implements an ICMP echo ("ping") client engine: it
// resolves a host, opens an ICMP datagram socket, sends Echo Request
// packets on demand, correlates inbound Echo Replies back to them, and
// reports the whole session as a stream of Events.
//
// A started Pinger runs one engine-loop goroutine, which is the only
// goroutine that acts on resolver completions, inbound packets and send
// requests; a resolve goroutine and a reader goroutine only forward their
// results to it over channels. Start launches the loop, SendPing hands a
// request to it over a channel, and Stop closes a cancellation channel
// and waits for the loop to exit. A dedicated goroutine plus channel selects is the
// Go-native stand-in for registering a socket with a run-loop/reactor:
// it gives the same single-driving-execution-context guarantee without
// a mutex.
package icmp

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// readDeadline bounds each recvfrom so the reader goroutine notices a
// Stop() promptly even with no traffic. There is deliberately no
// per-packet timeout beyond this.
const readDeadline = 250 * time.Millisecond

// sequenceWrapWindow is the acceptance window (in sequence-number
// distance) used once a Pinger's sequence counter has wrapped. 120
// approximates a two-minute maximum packet lifetime at one packet per
// second; see sequenceValid below.
const sequenceWrapWindow = 120

// Pinger is one ping session: one host, one identifier, one socket once
// active. Construct with New, drive with Start/SendPing/Stop, and
// receive its event stream through the EventFunc passed to New.
type Pinger struct {
	host            string
	policy          Family
	identifier      uint16
	sink            EventFunc
	resolver        resolver
	openTransportFn func(Family) (transportIface, error)
	log             *logrus.Entry

	state     atomic.Int32
	nextSeq   atomic.Uint32
	wrapped   atomic.Bool
	boundAddr atomic.Pointer[net.Addr]

	sendCh chan sendRequest
	stopCh chan struct{}
	doneCh chan struct{}

	stopOnce sync.Once
}

type sendRequest struct {
	payload []byte
}

// New allocates a Pinger for host under the given family policy. It
// performs no I/O; call Start to begin resolution.
func New(host string, policy Family, sink EventFunc) *Pinger {
	p := &Pinger{
		host:            host,
		policy:          policy,
		identifier:      randomIdentifier(),
		sink:            sink,
		resolver:        newDNSResolver(logrus.WithField("component", "resolver")),
		openTransportFn: openTransportFiltered,
		sendCh:          make(chan sendRequest),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	p.log = logrus.WithFields(logrus.Fields{
		"host":       host,
		"identifier": p.identifier,
	})
	p.state.Store(int32(StateIdle))
	return p
}

func randomIdentifier() uint16 {
	var b [2]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing indicates a broken entropy source; an
		// Echo identifier doesn't need to be unpredictable, so fall
		// back to something merely unique enough.
		return uint16(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint16(b[:])
}

// State returns the Pinger's current lifecycle state. Safe to call from
// any goroutine.
func (p *Pinger) State() State { return State(p.state.Load()) }

// Identifier returns the 16-bit ICMP identifier this Pinger tags its own
// packets with. Stable for the lifetime of the instance.
func (p *Pinger) Identifier() uint16 { return p.identifier }

// NextSequenceNumber returns the sequence number the next SendPing will
// use. Safe to call from any goroutine.
func (p *Pinger) NextSequenceNumber() uint16 { return uint16(p.nextSeq.Load()) }

// Wrapped reports whether the sequence counter has rolled over
// 0xFFFF -> 0x0000 at least once.
func (p *Pinger) Wrapped() bool { return p.wrapped.Load() }

// BoundAddr returns the address this Pinger resolved and bound to. It is
// non-nil if and only if State() == StateActive.
func (p *Pinger) BoundAddr() net.Addr {
	if a := p.boundAddr.Load(); a != nil {
		return *a
	}
	return nil
}

// Start transitions Idle -> Resolving and begins asynchronous resolution.
// It returns immediately; outcome is reported via StartedEvent or
// FailedEvent. Calling Start more than once is a programming error.
func (p *Pinger) Start() error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateResolving)) {
		return fmt.Errorf("pulsecore: Start called in state %s, want %s", p.State(), StateIdle)
	}
	go p.loop()
	return nil
}

// SendPing builds and sends one Echo Request using the current sequence
// number, then advances the sequence number (with 16-bit wrap) whether
// or not the send succeeded. payload may be nil, in which case a default
// 56-byte filler is used. The outcome is reported via SentEvent or
// SendFailedEvent; SendPing itself never blocks on I/O.
func (p *Pinger) SendPing(payload []byte) error {
	if p.State() != StateActive {
		return fmt.Errorf("pulsecore: SendPing called in state %s, want %s", p.State(), StateActive)
	}
	select {
	case p.sendCh <- sendRequest{payload: payload}:
		return nil
	case <-p.doneCh:
		return fmt.Errorf("pulsecore: SendPing called after Stop")
	}
}

// Stop is idempotent and synchronous: it cancels any pending resolution,
// closes the socket if open, and waits for the engine loop to fully exit
// before returning. It emits no event by itself.
func (p *Pinger) Stop() {
	p.stopOnce.Do(func() {
		// If Start was never called the loop goroutine doesn't exist;
		// nothing to tear down or wait for.
		if p.state.Load() == int32(StateIdle) {
			p.state.Store(int32(StateStopped))
			close(p.doneCh)
			return
		}
		close(p.stopCh)
		<-p.doneCh
	})
}

// loop is the engine's single driving execution context: the only
// goroutine that receives from resolveResult, sends on or closes the
// transport, or advances nextSeq (as a non-atomic step-then-publish).
// Apart from Start's Idle -> Resolving and Stop's Idle -> Stopped, every
// state transition happens here.
func (p *Pinger) loop() {
	defer close(p.doneCh)

	resolveCtx, cancelResolve := context.WithCancel(context.Background())
	defer cancelResolve()
	resolveResult := make(chan resolveOutcome, 1)
	go p.resolveAsync(resolveCtx, resolveResult)

	select {
	case <-p.stopCh:
		cancelResolve()
		p.state.Store(int32(StateStopped))
		return
	case outcome := <-resolveResult:
		select {
		case <-p.stopCh:
			// Stop() raced the resolve completion; a session must never
			// deliver a completion after cancellation, so discard it.
			p.state.Store(int32(StateStopped))
			return
		default:
		}
		if outcome.err != nil {
			p.fail(outcome.err)
			return
		}
		p.runActive(outcome.addr, outcome.family)
	}
}

type resolveOutcome struct {
	addr   net.IP
	family Family
	err    error
}

func (p *Pinger) resolveAsync(ctx context.Context, out chan<- resolveOutcome) {
	ip, family, err := p.resolver.resolve(ctx, p.host, p.policy)
	select {
	case out <- resolveOutcome{addr: ip, family: family, err: err}:
	case <-ctx.Done():
	}
}

// runActive opens the socket, announces Started, and becomes the single
// dispatch point for inbound packets, outbound send requests, and stop
// until a fatal error or Stop ends the session.
func (p *Pinger) runActive(ip net.IP, family Family) {
	t, err := p.openTransportFn(family)
	if err != nil {
		p.fail(err)
		return
	}

	addr := &net.UDPAddr{IP: ip}
	var addrIface net.Addr = addr
	p.boundAddr.Store(&addrIface)
	p.state.Store(int32(StateActive))
	p.emit(StartedEvent{Addr: addr})

	readCh := make(chan readResult)
	readerDone := make(chan struct{})
	readerCtx, cancelReader := context.WithCancel(context.Background())
	go p.readLoop(readerCtx, t, family, readCh, readerDone)

	defer func() {
		cancelReader()
		<-readerDone
		if cerr := t.close(); cerr != nil {
			p.log.WithError(cerr).Debug("error closing socket during teardown")
		}
		// bound-address is non-null only while Active.
		p.boundAddr.Store(nil)
	}()

	for {
		select {
		case <-p.stopCh:
			p.state.Store(int32(StateStopped))
			return

		case req := <-p.sendCh:
			p.handleSend(t, addr, family, req)

		case res := <-readCh:
			if res.fatal != nil {
				p.fail(res.fatal)
				return
			}
			p.handleInbound(family, res.packet)
		}
	}
}

func (p *Pinger) handleSend(t transportIface, addr net.Addr, family Family, req sendRequest) {
	seq := uint16(p.nextSeq.Load())
	payload := req.payload
	if payload == nil {
		payload = defaultPayload(DefaultPayloadSize)
	}
	pkt := buildEcho(family, echoRequestType(family), p.identifier, seq, payload)

	err := t.send(addr, pkt)
	p.advanceSequence()

	if err != nil {
		p.emit(SendFailedEvent{Packet: pkt, Sequence: seq, Err: err})
		return
	}
	p.emit(SentEvent{Packet: pkt, Sequence: seq})
}

// advanceSequence increments the 16-bit sequence counter modulo 2^16,
// sticky-setting wrapped on the first 0xFFFF -> 0x0000 rollover. Called
// exactly once per SendPing regardless of send outcome.
func (p *Pinger) advanceSequence() {
	cur := uint16(p.nextSeq.Load())
	next := cur + 1
	if next < cur {
		p.wrapped.Store(true)
	}
	p.nextSeq.Store(uint32(next))
}

func (p *Pinger) handleInbound(family Family, packet []byte) {
	seq, payload, ok := p.validate(family, packet)
	if !ok {
		p.emit(UnexpectedEvent{Packet: packet})
		return
	}
	p.emit(ReceivedEvent{Packet: payload, Sequence: seq})
}

// validate applies the reply-handling protocol and returns the
// correlated sequence number and the ICMP-layer slice (IPv4 header
// already stripped, for v4) on success.
func (p *Pinger) validate(family Family, packet []byte) (seq uint16, payload []byte, ok bool) {
	icmpBytes := packet
	if family != FamilyV6 {
		offset, found := icmpOffsetInV4(packet)
		if !found {
			return 0, nil, false
		}
		icmpBytes = packet[offset:]
	}

	h, _, err := parseICMP(family, icmpBytes)
	if err != nil {
		return 0, nil, false
	}
	if family != FamilyV6 && h.Checksum != internetChecksum(icmpBytes, checksumOffset) {
		return 0, nil, false
	}
	if !p.headerMatches(h, family) {
		return 0, nil, false
	}
	return h.Sequence, icmpBytes, true
}

func (p *Pinger) headerMatches(h header, family Family) bool {
	if h.Type != echoReplyType(family) || h.Code != 0 {
		return false
	}
	if h.Identifier != p.identifier {
		return false
	}
	return p.sequenceValid(h.Sequence)
}

// sequenceValid is the sequence sanity test: before any wrap, only
// sequences we have already sent are accepted; after a wrap, a windowed
// wrapping-distance test takes over since the sender may itself have
// already wrapped past 0.
func (p *Pinger) sequenceValid(seq uint16) bool {
	next := uint16(p.nextSeq.Load())
	if !p.wrapped.Load() {
		return seq < next
	}
	return next-seq < sequenceWrapWindow
}

type readResult struct {
	packet []byte
	fatal  error
}

// readLoop is the Go-native analogue of registering a file descriptor
// with an ambient reactor: one goroutine blocks in recvfrom and forwards
// each datagram — or a terminal error — to the engine loop, which is the
// only place that acts on it. A read deadline bounds each call so ctx
// cancellation is noticed promptly even with no inbound traffic.
func (p *Pinger) readLoop(ctx context.Context, t transportIface, family Family, out chan<- readResult, done chan<- struct{}) {
	defer close(done)
	buf := make([]byte, 65535)
	for {
		if ctx.Err() != nil {
			return
		}
		if err := t.setReadDeadline(readDeadline); err != nil {
			select {
			case out <- readResult{fatal: err}:
			case <-ctx.Done():
			}
			return
		}
		n, _, isTimeout, err := t.recv(buf)
		if isTimeout {
			continue
		}
		if err != nil {
			select {
			case out <- readResult{fatal: err}:
			case <-ctx.Done():
			}
			return
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		select {
		case out <- readResult{packet: pkt}:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pinger) fail(err error) {
	p.state.Store(int32(StateStopped))
	p.log.WithError(err).Warn("pinger failed")
	p.emit(FailedEvent{Err: err})
}

func (p *Pinger) emit(ev Event) {
	if p.sink != nil {
		p.sink(ev)
	}
}
