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

// Package notify is the portable shim over the kernel's readiness
// notification facility (kqueue on BSD/Darwin, epoll on Linux). Unlike a
// classic reactor, it never calls back into user code: Wait returns a
// batch of Events tagged with the opaque Token the caller supplied at
// Subscribe time, leaving dispatch entirely to the caller. That caller is
// the cycle engine's collect phase.
package notify

// Interest is a bitmask of the readiness directions a subscription cares
// about.
type Interest uint8

// The two interests; a subscription may request both.
const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

// Event is one readiness notification.
type Event struct {
	// Token is whatever the caller passed to Subscribe/Modify for this fd;
	// the cycle engine uses it to recover the Channel the event belongs to
	// without the notifier needing to know about Channels at all.
	Token uintptr
	Readable bool
	Writable bool
	// HangUp reports a peer hang-up or error condition alongside (or instead
	// of) readability/writability.
	HangUp bool
}

// Notifier is the minimal surface the cycle engine drives: subscribe a
// descriptor for a set of interests, wait for a batch of readiness events,
// and force an in-progress Wait to return early from another goroutine.
type Notifier interface {
	// Subscribe registers fd for the given interests, associating it with token.
	Subscribe(fd int, token uintptr, interest Interest) error
	// Modify changes the interests already registered for fd.
	Modify(fd int, token uintptr, interest Interest) error
	// Unsubscribe removes fd's registration. It is safe to call after fd has
	// already been closed by the kernel's own bookkeeping (e.g. double
	// removal), matching Port's shatter/leak tolerance.
	Unsubscribe(fd int, token uintptr) error
	// Wait blocks until at least one event is ready, timeoutMS elapses (-1
	// blocks indefinitely, 0 polls), or Wake is called, then writes ready
	// events into events starting at index 0 and returns the count written.
	Wait(events []Event, timeoutMS int) (int, error)
	// Wake causes a concurrent Wait to return as soon as possible, with no
	// event appended for the wake itself. It is the cross-goroutine half of
	// force().
	Wake() error
	// Close releases the notifier's own kernel resources.
	Close() error
}

// New constructs the platform Notifier.
func New() (Notifier, error) {
	return newNotifier()
}
