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

import "github.com/trpc-group/junction/metrics"

// collectRetries is how many non-blocking polls the collect phase issues
// before falling back to a blocking wait. Draining whatever is already
// queued up with a handful of zero-timeout polls is cheaper than the
// syscall overhead of entering and leaving the blocking path repeatedly
// under bursty load; the real wait only happens once the burst is dry.
const collectRetries = 3

// Enter opens one cycle: it runs delta-drain/apply-subscribe (phase 4),
// collect (phase 5, the blocking kernel wait), and transform (phase 6),
// and returns the list of Channels now eligible for a transfer attempt —
// the transfer list. timeoutMS is forwarded to the kernel wait (-1 blocks
// indefinitely, 0 polls); it is ignored for cycles a Force() wakes early.
//
// Enter must be paired with exactly one Exit call; Transfer may be called
// any number of times in between, once per Channel the caller intends to
// service this cycle.
func (j *Junction) Enter(timeoutMS int) ([]*Channel, error) {
	j.mu.Lock()
	if j.cycling {
		j.mu.Unlock()
		return nil, ErrCycleAlreadyOpen
	}
	j.cycling = true
	metrics.Add(metrics.CycleCount, 1)
	j.mu.Unlock()

	// Phases 4-5 (apply delta/subscribe, collect) run without holding the
	// lock; transform below retakes it. The collect phase blocks in the
	// kernel, and nothing
	// here touches Channel/Port fields a concurrent Acquire/Terminate call
	// isn't prepared to race with (those only ever enqueue delta work).
	j.drainDelta()

	n, err := j.pollWithRetry(timeoutMS)
	if err != nil {
		j.mu.Lock()
		j.cycling = false
		j.mu.Unlock()
		return nil, err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	ready := j.transform(n)
	j.transferList = ready
	return ready, nil
}

func (j *Junction) pollWithRetry(timeoutMS int) (int, error) {
	for i := 0; i < collectRetries; i++ {
		n, err := j.notifier.Wait(j.scratch, 0)
		metrics.Add(metrics.CollectCalls, 1)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			metrics.Add(metrics.CollectEvents, uint64(n))
			return n, nil
		}
		metrics.Add(metrics.CollectRetries, 1)
	}
	n, err := j.notifier.Wait(j.scratch, timeoutMS)
	metrics.Add(metrics.CollectCalls, 1)
	if err != nil {
		return 0, err
	}
	metrics.Add(metrics.CollectEvents, uint64(n))
	return n, nil
}

// transform converts the n raw events sitting in j.scratch into updated
// Channel readiness flags, and returns every Channel now eligible for
// Transfer this cycle: both newly-ready ones and any attached Channel whose
// transfer readiness is already recorded (an always-ready plain file, a
// forced Channel, or one that became ready before its current resource was
// acquired) and that still holds an unexhausted resource.
func (j *Junction) transform(n int) []*Channel {
	var ready []*Channel
	seen := make(map[*Channel]bool)
	addReady := func(ch *Channel) {
		if ch == nil || seen[ch] {
			return
		}
		if ch.shouldTransfer() || ch.shouldTerminate() {
			seen[ch] = true
			ready = append(ready, ch)
		}
	}

	for i := 0; i < n; i++ {
		evt := j.scratch[i]
		port := portFromToken(evt.Token)
		port.mu.Lock()
		in, out := port.inputChannel, port.outputChannel
		port.mu.Unlock()
		if evt.HangUp {
			if in != nil {
				in.kernelTerminateReady = true
			}
			if out != nil {
				out.kernelTerminateReady = true
			}
		}
		if evt.Readable && in != nil {
			in.kernelTransferReady = true
		}
		if evt.Writable && out != nil {
			out.kernelTransferReady = true
		}
		addReady(in)
		addReady(out)
	}

	j.ring.each(func(ch *Channel) {
		if ch.vtable.alwaysReady || ch.kernelTransferReady {
			addReady(ch)
		}
	})
	return ready
}

// Transfer performs one I/O attempt (phase 7) for ch: it must be a Channel
// this cycle's Enter returned. A terminating Channel is simply retired (no
// I/O is attempted); otherwise the freight's input/output op runs once
// against the Channel's current window.
func (j *Junction) Transfer(ch *Channel) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.cycling {
		return 0, ErrNotCycling
	}
	if ch.shouldTerminate() {
		// A kernel-reported hangup with no failure recorded on the Port is
		// the peer closing: it is recorded as EOF, and the Port's recorded
		// error becomes the Channel's TerminateError.
		if ch.kernelTerminateReady && ch.port.Cause() == CauseNone {
			ch.port.fail(CauseEOF, errEOF)
		}
		ch.markTerminating(ch.port.Raised())
		return 0, nil
	}
	if !ch.shouldTransfer() {
		return 0, nil
	}

	var op func(*Channel) (int, ioStatus, error)
	if ch.polarity == PolarityInput {
		op = ch.vtable.inputOp
	} else {
		op = ch.vtable.outputOp
	}
	n, status, err := op(ch)
	metrics.Add(metrics.TransferAttempts, 1)
	metrics.Add(metrics.TransferBytes, uint64(n))

	// An attempt ran regardless of outcome, so tev_transfer is recorded
	// unconditionally — including the ioStop/EAGAIN case a forced wake-up
	// hits on purpose, which must still yield a (zero-length) transfer
	// event rather than silently produce nothing.
	ch.events |= EventTransferred
	switch status {
	case ioStop:
		ch.kernelTransferReady = false
	case ioFlow:
		if ch.windowLow >= ch.windowHigh {
			ch.userHasResource = false
		}
		if !ch.vtable.alwaysReady {
			ch.kernelTransferReady = false
		}
	case ioTerminate:
		ch.events |= EventTerminated
		terr := err
		if terr == nil {
			terr = ch.port.Raised()
		}
		ch.markTerminating(terr)
	}
	return n, err
}

// Exit closes out the current cycle (phase 8, expose): it flushes any
// delta work Transfer calls queued (terminations are applied and their
// Channels retired here), clears each Channel's per-cycle event bitmap,
// and ends the cycle.
func (j *Junction) Exit() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.cycling {
		return ErrNotCycling
	}
	j.drainDelta()
	for _, ch := range j.transferList {
		ch.events = 0
	}
	j.transferList = nil
	j.cycling = false
	return nil
}
