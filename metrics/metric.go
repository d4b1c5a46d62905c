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

// Package metrics provides runtime monitoring counters for the junction
// cycle engine, such as the efficiency of a collect phase or how often a
// cycle has to retry a non-blocking poll, which is a good tool for
// performance tuning.
package metrics

import (
	"time"

	"go.uber.org/atomic"

	"github.com/trpc-group/junction/log"
)

// All metrics definitions.
const (
	// The following constants are cycle-level metrics.

	CycleCount = iota
	CollectCalls
	CollectEvents
	CollectRetries
	SubscribeCalls
	SubscribeFails

	// The following constants are Channel-level metrics.

	TransferAttempts
	TransferBytes
	TerminateCount
	ForceWakeCount

	// The following constant tracks notification-handle re-initialization,
	// which happens after fork or after the handle is otherwise unusable.

	ReinitCount

	// Keep it last.

	Max
)

var (
	metrics [Max]atomic.Uint64
)

// Add metrics counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then logs metrics info at debug level.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	new := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = new[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics logs metric info at debug level through the log package, so
// nothing is printed while the log level is above debug (the default
// logger is at info level).
func ShowMetrics() {
	m := GetAll()
	showAll(m)
}

func showAll(m [Max]uint64) {
	log.Debug("######### junction metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	log.Debugf("%-59s: %d", "# number of cycles entered", m[CycleCount])
	log.Debugf("%-59s: %d", "# number of collect (kevent/epoll_wait) calls", m[CollectCalls])
	log.Debugf("%-59s: %d", "# number of events returned by collect", m[CollectEvents])
	if m[CollectCalls] > 0 {
		log.Debugf("%-59s: %.2f", "# average events per collect call",
			float64(m[CollectEvents])/float64(m[CollectCalls]))
	}
	log.Debugf("%-59s: %d", "# number of non-blocking collect retries (phase 5)", m[CollectRetries])
	log.Debugf("%-59s: %d", "# number of subscription changes flushed (phase 4)", m[SubscribeCalls])
	log.Debugf("%-59s: %d", "# number of subscription changes that failed", m[SubscribeFails])
	log.Debugf("%-59s: %d", "# number of I/O attempts (phase 7)", m[TransferAttempts])
	log.Debugf("%-59s: %d", "# total bytes/units transferred", m[TransferBytes])
	log.Debugf("%-59s: %d", "# number of Channels terminated", m[TerminateCount])
	log.Debugf("%-59s: %d", "# number of force() wake-ups issued", m[ForceWakeCount])
	log.Debugf("%-59s: %d", "# number of notification handle re-initializations", m[ReinitCount])
}
