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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatagramArrayAppendAndAt(t *testing.T) {
	arr := NewDatagramArray(64, 4)
	peer := NewIP4Endpoint([]byte{127, 0, 0, 1}, 9999)

	require.True(t, arr.Append([]byte("hello"), peer))
	require.True(t, arr.Append([]byte("world!"), peer))
	assert.Equal(t, 2, arr.Count())
	assert.Equal(t, 4, arr.Cap())

	payload, got := arr.At(0)
	assert.Equal(t, "hello", string(payload))
	assert.Equal(t, peer, got)

	payload, _ = arr.At(1)
	assert.Equal(t, "world!", string(payload))
}

func TestDatagramArrayFullByCount(t *testing.T) {
	arr := NewDatagramArray(1024, 2)
	peer := NewIP4Endpoint([]byte{127, 0, 0, 1}, 1)
	require.True(t, arr.Append([]byte("a"), peer))
	require.True(t, arr.Append([]byte("b"), peer))
	assert.True(t, arr.full())
	assert.False(t, arr.Append([]byte("c"), peer))
}

func TestDatagramArrayFullByBytes(t *testing.T) {
	arr := NewDatagramArray(4, 16)
	peer := NewIP4Endpoint([]byte{127, 0, 0, 1}, 1)
	require.True(t, arr.Append([]byte("abcd"), peer))
	assert.True(t, arr.full())
	assert.False(t, arr.Append([]byte("e"), peer))
}

func TestDatagramArrayReset(t *testing.T) {
	arr := NewDatagramArray(64, 4)
	peer := NewIP4Endpoint([]byte{127, 0, 0, 1}, 1)
	arr.Append([]byte("x"), peer)
	arr.Reset()
	assert.Equal(t, 0, arr.Count())
	assert.False(t, arr.full())
}

func TestDatagramArrayReceivePath(t *testing.T) {
	arr := NewDatagramArray(32, 4)
	peer := NewIP4Endpoint([]byte{10, 0, 0, 1}, 53)

	buf := arr.appendReceived()
	n := copy(buf, []byte("dns-reply"))
	arr.commitReceived(n, peer)

	assert.Equal(t, 1, arr.Count())
	payload, got := arr.At(0)
	assert.Equal(t, "dns-reply", string(payload))
	assert.Equal(t, peer, got)
}
