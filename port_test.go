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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortIDKindAccessors(t *testing.T) {
	p := NewPort(42, KindSocket, 1)
	assert.Equal(t, 42, p.ID())
	assert.Equal(t, KindSocket, p.Kind())
	assert.Nil(t, p.Raised())
}

func TestPortFailAndRaised(t *testing.T) {
	p := NewPort(1, KindSocket, 1)
	sentinel := errors.New("econnreset")
	p.fail(CauseRead, sentinel)
	assert.Equal(t, CauseRead, p.Cause())
	assert.Equal(t, sentinel, p.Errno())

	err := p.Raised()
	require.Error(t, err)
	var portErr *PortError
	require.ErrorAs(t, err, &portErr)
	assert.Equal(t, CauseRead, portErr.Cause)
	assert.ErrorIs(t, err, sentinel)
}

func TestPortLeakPreventsClose(t *testing.T) {
	a, b, err := NewSocketpairPorts()
	require.NoError(t, err)
	defer b.Unlatch(PolarityInput)
	defer b.Unlatch(PolarityOutput)

	a.Leak()
	require.NoError(t, a.Unlatch(PolarityInput))
	require.NoError(t, a.Unlatch(PolarityOutput))
	assert.Equal(t, -1, a.ID())
}

func TestPortShatterDropsClaimWithoutClosing(t *testing.T) {
	a, b, err := NewSocketpairPorts()
	require.NoError(t, err)
	defer b.Unlatch(PolarityInput)
	defer b.Unlatch(PolarityOutput)

	a.Shatter()
	assert.Equal(t, -1, a.ID())
	assert.Equal(t, CauseShatter, a.Cause())
}

func TestPortBindAndWantedInterest(t *testing.T) {
	p := NewPort(-1, KindSocket, 2)
	in := NewOctetsChannel(p, PolarityInput)
	out := NewOctetsChannel(p, PolarityOutput)
	p.bind(in)
	p.bind(out)

	read, write := p.wantedInterest()
	assert.True(t, read)
	assert.True(t, write)

	in.markTerminating(nil)
	read, write = p.wantedInterest()
	assert.False(t, read)
	assert.True(t, write)
}

func TestPortTokenRoundTrip(t *testing.T) {
	p := NewPort(7, KindSocket, 1)
	token := portToken(p)
	assert.Same(t, p, portFromToken(token))
}

func TestPortUnlatchDecrementsSharedLatch(t *testing.T) {
	a, b, err := NewSocketpairPorts()
	require.NoError(t, err)
	defer b.Unlatch(PolarityInput)
	defer b.Unlatch(PolarityOutput)

	require.NoError(t, a.Unlatch(PolarityInput))
	assert.NotEqual(t, -1, a.ID(), "fd stays open until both halves unlatch")
	require.NoError(t, a.Unlatch(PolarityOutput))
	assert.Equal(t, -1, a.ID())
}
