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

// AcceptedSocket is one connection pulled off a listening Port by a
// Sockets-freight Channel.
type AcceptedSocket struct {
	Port   *Port
	Remote Endpoint
}

var socketsVTable = &freightVTable{
	tag:      FreightSockets,
	unit:     1,
	inputOp:  socketsInput,
	outputOp: socketsOutputUnsupported,
}

// NewSocketsChannel wraps a listening port in a Channel whose transfer
// unit is one accepted connection, not a byte: each resource slot is
// filled with a new AcceptedSocket rather than read bytes. It is always an
// input Channel; a listening Port has no output direction.
func NewSocketsChannel(port *Port) *Channel {
	return newChannel(port, PolarityInput, socketsVTable)
}

func socketsInput(ch *Channel) (int, ioStatus, error) {
	slots := ch.resource.([]AcceptedSocket)
	accepted := 0
	for ch.windowLow < ch.windowHigh {
		fd, remote, status, err := ch.port.Accept()
		if status == ioStop {
			return accepted, ioStop, nil
		}
		if err != nil {
			return accepted, ioTerminate, err
		}
		slots[ch.windowLow] = AcceptedSocket{Port: NewPort(fd, KindSocket, 1), Remote: remote}
		ch.windowLow++
		accepted++
	}
	return accepted, ioFlow, nil
}

func socketsOutputUnsupported(ch *Channel) (int, ioStatus, error) {
	return 0, ioTerminate, ErrUnknownSpec
}
