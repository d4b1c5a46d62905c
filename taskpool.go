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

import "github.com/panjf2000/ants/v2"

// newClosePool constructs the optional goroutine pool a Junction uses for
// deferred close-fd work (see WithGoroutinePoolSize). A size of 0 disables
// the pool: newClosePool returns a nil *ants.Pool, and closeAsyncOn then
// runs everything inline.
func newClosePool(size int) (*ants.Pool, error) {
	if size <= 0 {
		return nil, nil
	}
	return ants.NewPool(size)
}

// closeAsyncOn runs fn on pool if one is configured, falling back to
// running it inline both when pool is nil and when Submit itself fails
// (for example on a pool already released; a pool from newClosePool makes
// Submit wait while all its workers are busy rather than fail).
func closeAsyncOn(pool *ants.Pool, fn func()) {
	if pool != nil && pool.Submit(fn) == nil {
		return
	}
	fn()
}
