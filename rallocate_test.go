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
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closeChannels(chs []*Channel) {
	for _, ch := range chs {
		ch.Terminate()
	}
}

func TestParseAllocSpecOctetsIP4(t *testing.T) {
	spec, err := ParseAllocSpec("octets://ip4")
	require.NoError(t, err)
	assert.Equal(t, FreightOctets, spec.Freight)
	assert.Equal(t, FamilyIP4, spec.Family)
	assert.Equal(t, ModeDefault, spec.Mode)
}

func TestParseAllocSpecOctetsIP4ColonTCP(t *testing.T) {
	spec, err := ParseAllocSpec("octets://ip4:tcp")
	require.NoError(t, err)
	assert.Equal(t, FreightOctets, spec.Freight)
	assert.Equal(t, FamilyIP4, spec.Family)
	assert.Equal(t, ModeTCP, spec.Mode)
}

func TestParseAllocSpecOctetsIP4SlashTCP(t *testing.T) {
	spec, err := ParseAllocSpec("octets://ip4/tcp")
	require.NoError(t, err)
	assert.Equal(t, FreightOctets, spec.Freight)
	assert.Equal(t, FamilyIP4, spec.Family)
	assert.Equal(t, ModeTCP, spec.Mode)
}

func TestParseAllocSpecOctetsUDPWithConnectQuery(t *testing.T) {
	spec, err := ParseAllocSpec("octets://ip4/udp?connect=127.0.0.1:9999")
	require.NoError(t, err)
	assert.Equal(t, ModeUDP, spec.Mode)
	assert.Equal(t, FamilyIP4, spec.Endpoint.Family())
	assert.Equal(t, 9999, spec.Endpoint.Port())
}

func TestParseAllocSpecSpawnBidirectional(t *testing.T) {
	spec, err := ParseAllocSpec("octets://spawn/bidirectional")
	require.NoError(t, err)
	assert.Equal(t, ModeSpawn, spec.Mode)
	assert.True(t, spec.Bidirectional)
}

func TestParseAllocSpecAcquireInput(t *testing.T) {
	spec, err := ParseAllocSpec("octets://acquire/input?fd=7")
	require.NoError(t, err)
	assert.Equal(t, ModeAcquire, spec.Mode)
	assert.Equal(t, AcquireInput, spec.Acquire)
	assert.Equal(t, 7, spec.FD)
}

func TestParseAllocSpecFileAppend(t *testing.T) {
	spec, err := ParseAllocSpec("octets://file/append?path=/var/log/app.log")
	require.NoError(t, err)
	assert.Equal(t, ModeFile, spec.Mode)
	assert.Equal(t, FileAppend, spec.FileMode)
	assert.Equal(t, "/var/log/app.log", spec.Path)
}

func TestParseAllocSpecUnknownScheme(t *testing.T) {
	_, err := ParseAllocSpec("ftp://ip4")
	assert.ErrorIs(t, err, ErrUnknownSpec)
}

func TestParseAllocSpecUnknownToken(t *testing.T) {
	_, err := ParseAllocSpec("octets://bogus")
	assert.ErrorIs(t, err, ErrUnknownSpec)
}

func TestRallocateUnknownFreight(t *testing.T) {
	_, err := Rallocate(AllocSpec{Freight: FreightTag(99)})
	assert.ErrorIs(t, err, ErrUnknownSpec)
}

// TestRallocateOctetsSpawnUnidirectional exercises the (octets, spawn,
// unidirectional) row: a pipe, wrapped as one input and one output Channel.
func TestRallocateOctetsSpawnUnidirectional(t *testing.T) {
	chs, err := Rallocate(AllocSpec{Freight: FreightOctets, Mode: ModeSpawn, Bidirectional: false})
	require.NoError(t, err)
	require.Len(t, chs, 2)
	assert.Equal(t, PolarityInput, chs[0].Polarity())
	assert.Equal(t, PolarityOutput, chs[1].Polarity())
	closeChannels(chs)
}

// TestRallocateOctetsSpawnBidirectional exercises the (octets, spawn,
// bidirectional) row: both ends of a socketpair, four Channels total, the
// shape the echo-over-socketpair scenario drives.
func TestRallocateOctetsSpawnBidirectional(t *testing.T) {
	chs, err := Rallocate(AllocSpec{Freight: FreightOctets, Mode: ModeSpawn, Bidirectional: true})
	require.NoError(t, err)
	require.Len(t, chs, 4)
	closeChannels(chs)
}

// TestRallocateSocketsListen exercises the (sockets, ip4|ip6|local) row
// producing a listening input Channel, and that endpoint() reports back
// the bound address.
func TestRallocateSocketsListen(t *testing.T) {
	chs, err := Rallocate(AllocSpec{
		Freight:  FreightSockets,
		Family:   FamilyIP4,
		Endpoint: NewIP4Endpoint(net.ParseIP("127.0.0.1"), 0),
	})
	require.NoError(t, err)
	require.Len(t, chs, 1)
	assert.Equal(t, FreightSockets, chs[0].FreightTag())
	ep, err := chs[0].Endpoint()
	require.NoError(t, err)
	assert.Equal(t, FamilyIP4, ep.Family())
	closeChannels(chs)
}

// TestRallocateDatagramsBind exercises the (datagrams, ip4|ip6[, udp]) row:
// one bound socket, input+output Channels sharing it.
func TestRallocateDatagramsBind(t *testing.T) {
	chs, err := Rallocate(AllocSpec{
		Freight:  FreightDatagrams,
		Family:   FamilyIP4,
		Endpoint: NewIP4Endpoint(net.ParseIP("127.0.0.1"), 0),
	})
	require.NoError(t, err)
	require.Len(t, chs, 2)
	assert.Same(t, chs[0].Port(), chs[1].Port())
	closeChannels(chs)
}

// TestRallocatePortsSpawnBidirectional exercises the (ports, spawn,
// bidirectional) row: FD-passing Channels over both ends of a socketpair.
func TestRallocatePortsSpawnBidirectional(t *testing.T) {
	chs, err := Rallocate(AllocSpec{Freight: FreightPorts, Mode: ModeSpawn, Bidirectional: true})
	require.NoError(t, err)
	require.Len(t, chs, 4)
	for _, ch := range chs {
		assert.Equal(t, FreightPorts, ch.FreightTag())
	}
	closeChannels(chs)
}

// TestJunctionRallocateAttaches confirms the method form attaches every
// produced Channel, unlike the package-level Rallocate.
func TestJunctionRallocateAttaches(t *testing.T) {
	j, err := New()
	require.NoError(t, err)
	defer j.Close()

	chs, err := j.Rallocate(AllocSpec{Freight: FreightOctets, Mode: ModeSpawn, Bidirectional: false})
	require.NoError(t, err)
	require.Len(t, chs, 2)
	for _, ch := range chs {
		assert.True(t, ch.connected)
	}
}
