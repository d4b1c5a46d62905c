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
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/trpc-group/junction/internal/notify"
	"github.com/trpc-group/junction/log"
	"github.com/trpc-group/junction/metrics"
)

const defaultScratchSize = 64

var junctionLog = log.Named("junction")

// Junction is the cycle engine: it owns a ring of attached Channels, the
// kernel notifier, and the delta queue, and drives one cycle of the
// readiness loop per Enter/Transfer*/Exit bracket. All of its public
// methods except Force acquire the same internal mutex ("the lock" in the
// concurrency model); Enter releases it while it drains the delta queue
// and runs the kernel wait, and retakes it for the transform phase.
type Junction struct {
	mu sync.Mutex

	opts options

	notifier notify.Notifier
	pool     *ants.Pool

	ring       ring
	deltaQueue []*Port

	scratch []notify.Event

	cycling      bool
	transferList []*Channel
}

// New constructs a Junction, opening the platform notifier.
func New(opt ...Option) (*Junction, error) {
	var opts options
	opts.setDefault()
	for _, o := range opt {
		o.f(&opts)
	}
	n, err := notify.New()
	if err != nil {
		return nil, err
	}
	j := &Junction{
		opts:     opts,
		notifier: n,
		scratch:  make([]notify.Event, opts.scratchCapacity),
	}
	pool, perr := newClosePool(opts.poolSize)
	if perr != nil {
		n.Close()
		return nil, perr
	}
	j.pool = pool
	return j, nil
}

// Attach binds ch to this Junction: it joins the ring and becomes eligible
// for subscription on the next cycle's apply-delta phase.
func (j *Junction) Attach(ch *Channel) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if ch.junction != nil {
		return ErrChannelAttached
	}
	ch.junction = j
	ch.connected = true
	j.ring.insert(ch)
	ch.port.bind(ch)
	if ch.needsKernelInterest() {
		j.enqueuePortDelta(ch.port)
	}
	return nil
}

// markReadyForTransfer records that ch just acquired a resource. It never
// touches the kernel: readiness is still driven by the notifier (or, for
// always-ready freight, by the transform phase re-queuing it every cycle).
func (j *Junction) markReadyForTransfer(ch *Channel) {
	if ch.vtable.alwaysReady {
		ch.kernelTransferReady = true
	}
}

// Force wakes a concurrently blocked Enter call from another goroutine,
// without requiring the lock (the notifier's Wake is itself safe to call
// at any time, by design, matching the spec's force() cross-thread wake).
func (j *Junction) Force() error {
	metrics.Add(metrics.ForceWakeCount, 1)
	return j.notifier.Wake()
}

// Void re-initializes the Junction's kernel notifier from scratch and
// re-subscribes every currently attached Channel. It exists for the
// post-fork case: a child process inherits kqueue/epoll descriptors whose
// registrations describe the parent's I/O intentions, not the child's, so
// the only safe move is to open a fresh notifier and rebuild every
// subscription against it.
func (j *Junction) Void() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cycling {
		return ErrVoidDuringCycle
	}
	if err := j.notifier.Close(); err != nil {
		junctionLog.Warnf("void: closing old notifier: %v", err)
	}
	n, err := notify.New()
	if err != nil {
		return err
	}
	j.notifier = n
	metrics.Add(metrics.ReinitCount, 1)
	j.ring.each(func(ch *Channel) {
		ch.port.subscribed = false
		if ch.needsKernelInterest() {
			j.enqueuePortDelta(ch.port)
		}
	})
	return nil
}

// ResizeExoresource changes the capacity of the scratch event array used
// by the collect phase. It cannot be called while a cycle is open.
func (j *Junction) ResizeExoresource(n int) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cycling {
		return ErrResizeDuringCycle
	}
	if n <= 0 {
		n = defaultScratchSize
	}
	j.scratch = make([]notify.Event, n)
	return nil
}

// Rallocate is the factory the external interface names: it dispatches
// spec to the matching Port constructor(s) the way the package-level
// Rallocate does, then attaches every resulting Channel to this Junction
// before returning it, so the caller receives ready, cycle-eligible
// Channels rather than raw Ports. A Listen or Bind spec inherits this
// Junction's WithReusePort setting unless the spec already asked for
// SO_REUSEPORT itself.
func (j *Junction) Rallocate(spec AllocSpec) ([]*Channel, error) {
	if j.opts.reusePort {
		spec.ReusePort = true
	}
	channels, err := Rallocate(spec)
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		if err := j.Attach(ch); err != nil {
			return nil, err
		}
	}
	return channels, nil
}

// closeAsync runs fn on the goroutine pool if one was configured via
// WithGoroutinePoolSize, so that a potentially blocking descriptor close
// (e.g. a socket draining SO_LINGER) never stalls the goroutine currently
// holding the lock through drainDelta. With no pool configured, fn runs
// inline, exactly as it always did.
func (j *Junction) closeAsync(fn func()) {
	closeAsyncOn(j.pool, fn)
}

// Close tears down the Junction: it terminates every attached Channel,
// flushes the final delta, and releases the notifier.
func (j *Junction) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ring.each(func(ch *Channel) {
		ch.markTerminating(nil)
	})
	j.drainDelta()
	if j.pool != nil {
		j.pool.Release()
	}
	return j.notifier.Close()
}
