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

// TestSocketsAcceptFillsSlots exercises the sockets freight over a real
// listening UNIX-domain Port: a connecting client makes the listener
// readable, and socketsInput hands back one AcceptedSocket per accepted
// connection.
func TestSocketsAcceptFillsSlots(t *testing.T) {
	dir := t.TempDir()
	addr := NewLocalEndpoint(dir + "/listen.sock")

	listener, err := NewListenPort(addr, 0, false)
	require.NoError(t, err)
	defer listener.Unlatch(PolarityInput)

	client, err := NewConnectPort(addr, nil)
	require.NoError(t, err)
	defer client.Unlatch(PolarityOutput)

	ch := NewSocketsChannel(listener)
	slots := make([]AcceptedSocket, 4)
	require.NoError(t, ch.Acquire(slots, 0, 1))

	n, status, err := ch.vtable.inputOp(ch)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, ioFlow, status)
	require.NotNil(t, slots[0].Port)
	defer slots[0].Port.Unlatch(PolarityInput)
	defer slots[0].Port.Unlatch(PolarityOutput)
	assert.NotEqual(t, -1, slots[0].Port.ID())
}

// TestSocketsInputStopsWhenNoPendingConnection confirms EAGAIN on the
// listening fd is reported as ioStop, not an error, when nothing has
// connected yet.
func TestSocketsInputStopsWhenNoPendingConnection(t *testing.T) {
	dir := t.TempDir()
	addr := NewLocalEndpoint(dir + "/listen2.sock")

	listener, err := NewListenPort(addr, 0, false)
	require.NoError(t, err)
	defer listener.Unlatch(PolarityInput)

	ch := NewSocketsChannel(listener)
	slots := make([]AcceptedSocket, 2)
	require.NoError(t, ch.Acquire(slots, 0, 2))

	n, status, err := ch.vtable.inputOp(ch)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, ioStop, status)
}

// TestSocketsOutputUnsupported documents that a listening Port has no
// output direction: the vtable's outputOp always refuses the attempt.
func TestSocketsOutputUnsupported(t *testing.T) {
	dir := t.TempDir()
	addr := NewLocalEndpoint(dir + "/listen3.sock")

	listener, err := NewListenPort(addr, 0, false)
	require.NoError(t, err)
	defer listener.Unlatch(PolarityInput)

	ch := NewSocketsChannel(listener)
	n, status, err := ch.vtable.outputOp(ch)
	assert.Equal(t, 0, n)
	assert.Equal(t, ioTerminate, status)
	assert.Error(t, err)
}
