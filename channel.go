//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

package junction

import "github.com/trpc-group/junction/log"

var channelLog = log.Named("channel")

// FreightTag names which of the four freight variants a Channel moves.
type FreightTag uint8

// The four freight variants.
const (
	FreightOctets FreightTag = iota
	FreightSockets
	FreightPorts
	FreightDatagrams
)

// String implements fmt.Stringer.
func (t FreightTag) String() string {
	switch t {
	case FreightOctets:
		return "octets"
	case FreightSockets:
		return "sockets"
	case FreightPorts:
		return "ports"
	case FreightDatagrams:
		return "datagrams"
	default:
		return "unknown"
	}
}

// freightVTable is the dispatch table a Channel's freight variant installs:
// one I/O attempt function per polarity, the freight's tag, and its
// transfer unit (1 byte for octets, 1 accepted connection for sockets, 1
// descriptor for ports, 1 datagram for datagrams). alwaysReady marks freight (plain files) whose readiness is
// never reported by the notifier, so the cycle engine must requeue it for
// a transfer attempt on every cycle rather than wait for an event.
type freightVTable struct {
	tag         FreightTag
	unit        int
	alwaysReady bool
	inputOp     func(ch *Channel) (int, ioStatus, error)
	outputOp    func(ch *Channel) (int, ioStatus, error)
}

// Events is the bitmap of observations a Channel exposes to the user after
// a cycle: what happened to it during transform/I-O-attempt.
type Events uint8

// The recognized Channel events.
const (
	EventReadable Events = 1 << iota
	EventWritable
	EventTerminated
	EventTransferred
)

// Channel is one unidirectional participant in a transfer: a binding
// between a Port and a freight variant, plus the state needed to decide,
// once per cycle, whether it should attempt a transfer or terminate.
type Channel struct {
	junction *Junction
	port     *Port
	polarity Polarity
	vtable   *freightVTable

	resource   interface{}
	windowLow  int
	windowHigh int

	ringPrev, ringNext *Channel

	terminating          bool
	retired              bool
	connected            bool
	kernelTransferReady  bool
	kernelTerminateReady bool
	userHasResource      bool
	forced               bool

	events       Events
	terminateErr error
	onTerminate  func(*Channel, error)
}

func newChannel(port *Port, polarity Polarity, vtable *freightVTable) *Channel {
	return &Channel{
		port:     port,
		polarity: polarity,
		vtable:   vtable,
		// A freshly minted freight that never reports readiness through the
		// kernel (plain files) is always transfer-ready from the start.
		kernelTransferReady: vtable.alwaysReady,
	}
}

// Port returns the Channel's underlying Port.
func (ch *Channel) Port() *Port { return ch.port }

// Polarity returns whether the Channel moves bytes in or out.
func (ch *Channel) Polarity() Polarity { return ch.polarity }

// FreightTag returns the Channel's freight variant.
func (ch *Channel) FreightTag() FreightTag { return ch.vtable.tag }

// Events returns the bitmap of events recorded on this Channel during the
// current cycle; Exit clears it for every Channel on the cycle's transfer
// list.
func (ch *Channel) Events() Events { return ch.events }

// Terminating reports whether the Channel has begun (or completed)
// termination.
func (ch *Channel) Terminating() bool { return ch.terminating }

// TerminateError returns the error that caused termination, if any.
func (ch *Channel) TerminateError() error { return ch.terminateErr }

// OnTerminate installs a callback invoked once, from within exit()'s flush
// phase, when the Channel finishes terminating.
func (ch *Channel) OnTerminate(f func(*Channel, error)) { ch.onTerminate = f }

// Window returns the current transfer window: the [low, high) range, in
// transfer units, of the acquired resource still eligible for transfer.
func (ch *Channel) Window() (low, high int) { return ch.windowLow, ch.windowHigh }

// Acquire binds a transferable resource (a []byte for octets, an
// []AcceptedSocket for sockets, a *PortsResource for ports, a
// *DatagramArray for datagrams) to the Channel, with an
// initial [low, high) window. It fails if the Channel already holds an
// unexhausted resource, or is terminating.
func (ch *Channel) Acquire(resource interface{}, low, high int) error {
	if ch.terminating {
		return ErrChannelTerminating
	}
	if ch.userHasResource {
		return ErrResourcePresent
	}
	ch.resource = resource
	ch.windowLow, ch.windowHigh = low, high
	ch.userHasResource = true
	if ch.junction != nil {
		ch.junction.markReadyForTransfer(ch)
	}
	return nil
}

// Force sets the Channel's force flag so the next cycle performs a
// transfer attempt on it even without kernel readiness, yielding a
// zero-length transfer event when no data is available. It is the
// Channel-level half of a synthesized wake-up for user-level flow
// control; it also nudges the owning Junction's kernel wait (the way
// Junction.Force does) so a blocked cycle observes it promptly.
func (ch *Channel) Force() {
	ch.forced = true
	if ch.junction != nil {
		ch.junction.enqueuePortDelta(ch.port)
		if err := ch.junction.Force(); err != nil {
			channelLog.Debugf("force: waking cycle: %v", err)
		}
	}
}

// Endpoint returns the address relevant to this Channel's polarity: the
// peer address for an output Channel, the local address for an input
// Channel. For an output Channel on an anonymous UNIX-domain socket it
// returns the peer's {uid, gid} instead, there being no address to report;
// an input Channel on such a socket returns its local endpoint, whose path
// is empty, and not the peer's credentials.
func (ch *Channel) Endpoint() (Endpoint, error) {
	if ch.polarity == PolarityOutput {
		return ch.port.RemoteEndpoint()
	}
	return ch.port.LocalEndpoint()
}

// shouldTransfer is the phase-5/6 decision table: a Channel is eligible
// for an I/O attempt this cycle only if it is attached, not terminating,
// holds a user resource, and the kernel (or the always-ready freight) has
// signaled capacity.
func (ch *Channel) shouldTransfer() bool {
	return ch.connected && !ch.terminating && ch.userHasResource && ch.kernelTransferReady
}

// shouldTerminate is true once the Channel has been asked to terminate, or
// the kernel has reported a terminating condition (EOF/hangup/error) for it.
func (ch *Channel) shouldTerminate() bool {
	return ch.terminating || ch.kernelTerminateReady
}

// markTerminating flags the Channel as terminating. If it is attached to a
// Junction, the kernel side is left untouched inline; drainDelta, under the
// lock, performs the actual unsubscribe/unlatch the next time a cycle runs
// phase 4. If it was never attached, there is no cycle engine to defer to,
// so termination executes immediately: the resource is released and the
// Port unlatched right here.
func (ch *Channel) markTerminating(err error) {
	if ch.terminating {
		return
	}
	ch.terminating = true
	if err != nil {
		ch.terminateErr = err
	}
	if ch.junction != nil {
		ch.junction.enqueuePortDelta(ch.port)
		return
	}
	ch.releaseUnattached()
}

// releaseUnattached executes terminate() immediately for a Channel that was
// never attached to a Junction, per the abstract contract's "if unattached,
// execute immediately (release resource/link, unlatch Port)".
func (ch *Channel) releaseUnattached() {
	ch.resource = nil
	ch.userHasResource = false
	ch.retired = true
	if err := ch.port.Unlatch(ch.polarity); err != nil {
		channelLog.Debugf("unlatch on terminate: %v", err)
	}
	if ch.onTerminate != nil {
		ch.onTerminate(ch, ch.terminateErr)
	}
}

// Terminate is the public entry point for a user-initiated close: it is
// equivalent to the Channel observing a terminating condition on its own.
func (ch *Channel) Terminate() {
	ch.markTerminating(nil)
}

// needsKernelInterest reports whether this Channel's polarity requires a
// kernel subscription at all (an always-ready freight, e.g. a plain file,
// never does: it is requeued for transfer every cycle instead).
func (ch *Channel) needsKernelInterest() bool {
	return !ch.vtable.alwaysReady
}
