// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package junction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOptionsDefault(t *testing.T) {
	opts := &options{}
	opts.setDefault()
	assert.Equal(t, defaultPoolSize, opts.poolSize)
	assert.Equal(t, defaultScratchSize, opts.scratchCapacity)
	assert.False(t, opts.reusePort)
}

func TestWithGoroutinePoolSize(t *testing.T) {
	opts := &options{}
	WithGoroutinePoolSize(8).f(opts)
	assert.Equal(t, 8, opts.poolSize)
}

func TestWithReusePort(t *testing.T) {
	opts := &options{}
	WithReusePort(true).f(opts)
	assert.True(t, opts.reusePort)
	WithReusePort(false).f(opts)
	assert.False(t, opts.reusePort)
}

func TestWithScratchCapacity(t *testing.T) {
	opts := &options{}
	opts.setDefault()
	WithScratchCapacity(128).f(opts)
	assert.Equal(t, 128, opts.scratchCapacity)

	// A non-positive capacity leaves the previous value untouched.
	WithScratchCapacity(0).f(opts)
	assert.Equal(t, 128, opts.scratchCapacity)
	WithScratchCapacity(-1).f(opts)
	assert.Equal(t, 128, opts.scratchCapacity)
}
