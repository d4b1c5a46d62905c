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

package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestNotifierWaitTimesOutWithNoEvents(t *testing.T) {
	n, err := New()
	require.NoError(t, err)
	defer n.Close()

	events := make([]Event, 8)
	count, err := n.Wait(events, 20)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestNotifierReportsReadable(t *testing.T) {
	n, err := New()
	require.NoError(t, err)
	defer n.Close()

	r, w := newPipe(t)
	const token uintptr = 0xdead

	require.NoError(t, n.Subscribe(r, token, InterestRead))
	_, err = unix.Write(w, []byte("x"))
	require.NoError(t, err)

	events := make([]Event, 8)
	count, err := n.Wait(events, 1000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, count, 1)
	assert.Equal(t, token, events[0].Token)
	assert.True(t, events[0].Readable)

	require.NoError(t, n.Unsubscribe(r, token))
}

func TestNotifierModifyChangesInterest(t *testing.T) {
	n, err := New()
	require.NoError(t, err)
	defer n.Close()

	r, w := newPipe(t)
	const token uintptr = 0xbeef

	require.NoError(t, n.Subscribe(w, token, InterestWrite))
	events := make([]Event, 8)
	count, err := n.Wait(events, 1000)
	require.NoError(t, err)
	require.GreaterOrEqual(t, count, 1)
	assert.True(t, events[0].Writable)

	require.NoError(t, n.Modify(w, token, InterestRead))
	_ = r
	require.NoError(t, n.Unsubscribe(w, token))
}

func TestNotifierUnsubscribeToleratesAlreadyClosedFD(t *testing.T) {
	n, err := New()
	require.NoError(t, err)
	defer n.Close()

	r, _ := newPipe(t)
	const token uintptr = 0xf00d
	require.NoError(t, n.Subscribe(r, token, InterestRead))
	unix.Close(r)
	assert.NoError(t, n.Unsubscribe(r, token))
}

func TestNotifierWakeReturnsBlockedWait(t *testing.T) {
	n, err := New()
	require.NoError(t, err)
	defer n.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		events := make([]Event, 8)
		n.Wait(events, 5000)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, n.Wake())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Wake")
	}
}
