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
	goreuseport "github.com/kavu/go_reuseport"
	"github.com/trpc-group/junction/internal/netutil"
	"golang.org/x/sys/unix"
)

// newReusableListenPort and newReusableBindPort build IP-family listening
// and bound Ports through go_reuseport's SO_REUSEPORT-enabled constructors
// instead of the plain unix.Socket path port_unix.go uses, for the
// case where two Junctions — typically in two separate processes — bind
// the same address and let the kernel load-balance accepted connections or
// datagrams between them. Unlike every other Port constructor, the
// resulting Port does not own a bare fd: it keeps the net.Listener/
// net.PacketConn go_reuseport handed back alive for its whole lifetime
// (Port.closer) and closes through it, extracting the raw fd via
// netutil.GetFD's SyscallConn/Control pattern rather than duplicating the
// descriptor. Rallocate does not call either constructor: a ReusePort
// request sets SO_REUSEPORT with setsockopt inside NewListenPort and
// NewBindPort instead.

func newReusableListenPort(network, address string) (*Port, error) {
	ln, err := goreuseport.Listen(network, address)
	if err != nil {
		return nil, &PortError{Cause: CauseSocket, Err: err}
	}
	fd, ferr := netutil.GetFD(ln)
	if ferr != nil {
		ln.Close()
		return nil, &PortError{Cause: CauseSocket, Err: ferr}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		ln.Close()
		return nil, &PortError{Cause: CauseSetsockopt, Err: err}
	}
	p := NewPort(fd, KindSocket, 1)
	p.closer = ln
	return p, nil
}

func newReusableBindPort(network, address string) (*Port, error) {
	pc, err := goreuseport.ListenPacket(network, address)
	if err != nil {
		return nil, &PortError{Cause: CauseSocket, Err: err}
	}
	fd, ferr := netutil.GetFD(pc)
	if ferr != nil {
		pc.Close()
		return nil, &PortError{Cause: CauseSocket, Err: ferr}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		pc.Close()
		return nil, &PortError{Cause: CauseSetsockopt, Err: err}
	}
	p := NewPort(fd, KindSocket, 1)
	p.closer = pc
	return p, nil
}
