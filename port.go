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

import (
	"io"
	"sync"
	"unsafe"

	"github.com/trpc-group/junction/internal/safejob"
)

// portToken returns the opaque identity the notifier hands back on Wait,
// recoverable via portFromToken. The Port, not the Channel, is the
// subscription unit: a duplex Port carries both an input and an output
// Channel, and the kernel only ever sees one registration per fd.
func portToken(p *Port) uintptr {
	return uintptr(unsafe.Pointer(p))
}

func portFromToken(token uintptr) *Port {
	return (*Port)(unsafe.Pointer(token))
}

// Kind classifies the kernel descriptor a Port owns, as reported by
// identify() (an fstat-based classification of an acquired fd).
type Kind uint8

// The recognized descriptor kinds.
const (
	KindUnknown Kind = iota
	KindPipe
	KindFifo
	KindDevice
	KindTTY
	KindSocket
	KindFile
	KindKqueue
	KindBad
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindPipe:
		return "pipe"
	case KindFifo:
		return "fifo"
	case KindDevice:
		return "device"
	case KindTTY:
		return "tty"
	case KindSocket:
		return "socket"
	case KindFile:
		return "file"
	case KindKqueue:
		return "kqueue"
	case KindBad:
		return "bad"
	default:
		return "unknown"
	}
}

// Polarity is the direction a Channel moves data in: input (+1) pulls bytes
// out of the kernel, output (-1) pushes bytes into it.
type Polarity int8

// The two polarities.
const (
	PolarityInput  Polarity = 1
	PolarityOutput Polarity = -1
)

// String implements fmt.Stringer.
func (p Polarity) String() string {
	if p == PolarityInput {
		return "input"
	}
	return "output"
}

// ioStatus is the outcome of a single freight I/O attempt (phase 7).
type ioStatus int

const (
	// ioStop means the kernel returned EAGAIN: wait for the next readiness event.
	ioStop ioStatus = iota
	// ioFlow means the attempt consumed the resource fully with no indication
	// of EAGAIN; the user must re-acquire before any further transfer.
	ioFlow
	// ioTerminate means the attempt hit EOF or an unrecoverable error.
	ioTerminate
)

// Port owns one kernel descriptor plus the metadata describing the last
// syscall that failed on it: the only place in the module that issues
// syscalls. A Port may be shared by two Channels (the input/output halves
// of a bidirectional socket, or of a pipe/socketpair pair); such a
// descriptor is closed exactly once, when both halves have unlatched.
type Port struct {
	mu sync.Mutex

	id   int
	kind Kind

	cause Cause
	errno error

	noClose   bool
	latch     int
	closeOnce safejob.OnceJob

	// inputChannel/outputChannel are the (at most one each) Channels bound
	// to this Port's two polarities. A Port is the unit the kernel notifier
	// actually watches: epoll allows only one registration per fd, and even
	// on kqueue it is simplest to treat read/write interest on one fd as a
	// single subscription, so both Channels on a duplex Port share it.
	inputChannel, outputChannel *Channel
	deltaQueued                 bool
	subscribed                  bool

	// closer, when set, owns the descriptor instead of a bare fd: unlatch
	// closes through it rather than issuing unix.Close directly. This is
	// how a Port built from a go_reuseport listener/packet-conn (see
	// port_reuseport.go) stays valid: that object, not this Port, holds
	// the canonical reference the Go runtime's finalizer would otherwise
	// race to close.
	closer io.Closer
}

// bind attaches ch to this Port's polarity slot.
func (p *Port) bind(ch *Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch.polarity == PolarityInput {
		p.inputChannel = ch
	} else {
		p.outputChannel = ch
	}
}

// wantedInterest reports which directions still have a live (non-
// terminating) Channel bound, and so still need kernel readiness events.
func (p *Port) wantedInterest() (read, write bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	read = p.inputChannel != nil && !p.inputChannel.terminating
	write = p.outputChannel != nil && !p.outputChannel.terminating
	return read, write
}

// NewPort wraps an already-open descriptor in a Port with the given initial
// latch count (1 for a single-direction descriptor, 2 for one shared by
// both halves of a Channel pair).
func NewPort(fd int, kind Kind, latch int) *Port {
	return &Port{id: fd, kind: kind, latch: latch}
}

// ID returns the kernel descriptor number, or -1 once closed.
func (p *Port) ID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

// Kind returns the descriptor's classification.
func (p *Port) Kind() Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kind
}

// Cause returns the kcall that produced the last recorded error.
func (p *Port) Cause() Cause {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cause
}

// Errno returns the last recorded syscall error, or nil.
func (p *Port) Errno() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errno
}

// Raised opens the Port's recorded error synchronously: it returns the last
// recorded error wrapped with its Cause, or nil if no error is recorded.
// This is the escape hatch named in the error handling design for user code
// that wants to raise a Port's failure directly rather than observe it via
// a terminate event.
func (p *Port) Raised() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.errno == nil {
		return nil
	}
	return &PortError{Cause: p.cause, Err: p.errno}
}

// PortError is the error value returned by Port.Raised.
type PortError struct {
	Cause Cause
	Err   error
}

// Error implements the error interface.
func (e *PortError) Error() string {
	return e.Cause.String() + ": " + e.Err.Error()
}

// Unwrap supports errors.Is/errors.As against the underlying syscall error.
func (e *PortError) Unwrap() error { return e.Err }

// fail records a syscall failure. Port errors never abort the Junction
// cycle; the owning Channel is responsible for converting this into a
// terminate event.
func (p *Port) fail(cause Cause, err error) {
	p.mu.Lock()
	p.cause = cause
	p.errno = err
	p.mu.Unlock()
}

// Leak marks the descriptor as no-close: the user assumes ownership and
// unlatch will never issue shutdown/close on it.
func (p *Port) Leak() {
	p.mu.Lock()
	p.noClose = true
	p.mu.Unlock()
}

// Shatter drops the Port's claim on its descriptor without issuing
// shutdown, and without closing it. It exists for the case where a Junction
// subscription would otherwise be lost (closing a descriptor still
// registered with kqueue/epoll silently drops the subscription instead of
// erroring), so the caller can retire the Port's bookkeeping without
// touching the kernel at all; responsibility for eventually closing the fd
// passes to whatever still references it.
func (p *Port) Shatter() {
	p.mu.Lock()
	p.cause = CauseShatter
	p.noClose = true
	p.id = -1
	p.mu.Unlock()
}
