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
	"github.com/trpc-group/junction/internal/notify"
	"github.com/trpc-group/junction/log"
	"github.com/trpc-group/junction/metrics"
)

var deltaLog = log.Named("delta")

// enqueuePortDelta marks port as having a pending subscription change and
// appends it to the Junction's delta queue, unless already queued. User
// entry points (Attach, Terminate, Channel.Force) never touch the kernel
// notifier directly: they merge their intent here, and phase 4
// (drainDelta) is the only place that actually calls Subscribe/Modify/
// Unsubscribe, once per cycle.
func (j *Junction) enqueuePortDelta(port *Port) {
	port.mu.Lock()
	queued := port.deltaQueued
	port.deltaQueued = true
	port.mu.Unlock()
	if queued {
		return
	}
	j.deltaQueue = append(j.deltaQueue, port)
}

// drainDelta runs phase 4 (apply delta / subscribe): for every Port queued
// since the last cycle, it recomputes the interest its bound Channels
// actually want and brings the kernel subscription in line with it, then
// retires any Channel whose termination is now fully reflected in the
// kernel (unsubscribed, unlatched, and removed from the ring).
func (j *Junction) drainDelta() {
	for _, port := range j.deltaQueue {
		port.mu.Lock()
		port.deltaQueued = false
		port.mu.Unlock()
		j.applyPortDelta(port)
	}
	j.deltaQueue = j.deltaQueue[:0]
}

func (j *Junction) applyPortDelta(port *Port) {
	read, write := port.wantedInterest()
	var interest notify.Interest
	if read {
		interest |= notify.InterestRead
	}
	if write {
		interest |= notify.InterestWrite
	}

	port.mu.Lock()
	forceIn, forceOut := port.inputChannel, port.outputChannel
	port.mu.Unlock()
	if forceIn != nil && forceIn.forced {
		forceIn.forced = false
		forceIn.kernelTransferReady = true
	}
	if forceOut != nil && forceOut.forced {
		forceOut.forced = false
		forceOut.kernelTransferReady = true
	}

	var err error
	switch {
	case interest == 0 && port.subscribed:
		err = j.notifier.Unsubscribe(port.ID(), portToken(port))
		port.subscribed = false
	case interest != 0 && !port.subscribed:
		err = j.notifier.Subscribe(port.ID(), portToken(port), interest)
		port.subscribed = true
		metrics.Add(metrics.SubscribeCalls, 1)
	case interest != 0 && port.subscribed:
		err = j.notifier.Modify(port.ID(), portToken(port), interest)
		metrics.Add(metrics.SubscribeCalls, 1)
	}
	if err != nil {
		metrics.Add(metrics.SubscribeFails, 1)
		port.fail(CauseSubscribe, err)
	}

	port.mu.Lock()
	in, out := port.inputChannel, port.outputChannel
	port.mu.Unlock()
	if in != nil && in.terminating && !in.retired {
		j.finishChannelTerminate(in)
	}
	if out != nil && out.terminating && !out.retired {
		j.finishChannelTerminate(out)
	}
}

// finishChannelTerminate retires a Channel once its termination has been
// reflected in the kernel subscription: it leaves the ring, unlatches its
// half of the Port (closing the descriptor once both halves have), and
// runs the user's termination callback.
func (j *Junction) finishChannelTerminate(ch *Channel) {
	ch.retired = true
	j.ring.remove(ch)
	port, polarity := ch.port, ch.polarity
	j.closeAsync(func() {
		if err := port.Unlatch(polarity); err != nil {
			deltaLog.Debugf("unlatch on terminate: %v", err)
		}
	})
	metrics.Add(metrics.TerminateCount, 1)
	if ch.onTerminate != nil {
		ch.onTerminate(ch, ch.terminateErr)
	}
}
