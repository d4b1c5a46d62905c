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

const defaultPoolSize = 0

// Option configures a Junction at construction time.
type Option struct {
	f func(*options)
}

type options struct {
	poolSize        int
	reusePort       bool
	scratchCapacity int
}

func (o *options) setDefault() {
	o.poolSize = defaultPoolSize
	o.scratchCapacity = defaultScratchSize
}

// WithGoroutinePoolSize bounds the size of the goroutine pool a Junction
// uses for deferred close-fd work after a Channel retires: unlatching a
// socket Port can block briefly draining SO_LINGER, and running that off
// the goroutine currently holding the lock keeps drainDelta itself
// non-blocking. A size of 0 (the default) disables the pool: that work
// runs inline instead.
func WithGoroutinePoolSize(n int) Option {
	return Option{func(op *options) {
		op.poolSize = n
	}}
}

// WithReusePort marks every listening/bound Port this Junction creates via
// rallocate as SO_REUSEPORT, so multiple processes (or multiple Junctions
// in one process) can share one address.
func WithReusePort(enabled bool) Option {
	return Option{func(op *options) {
		op.reusePort = enabled
	}}
}

// WithScratchCapacity sets the initial size of the collect phase's event
// buffer (see ResizeExoresource for changing it after construction).
func WithScratchCapacity(n int) Option {
	return Option{func(op *options) {
		if n > 0 {
			op.scratchCapacity = n
		}
	}}
}
