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

var octetsVTable = &freightVTable{
	tag:      FreightOctets,
	unit:     1,
	inputOp:  octetsInput,
	outputOp: octetsOutput,
}

// NewOctetsChannel wraps port in a Channel that moves a raw byte stream:
// the simplest freight variant, used for pipes and stream sockets' plain
// payload bytes.
func NewOctetsChannel(port *Port, polarity Polarity) *Channel {
	return newChannel(port, polarity, octetsVTable)
}

var fileOctetsVTable = &freightVTable{
	tag:         FreightOctets,
	unit:        1,
	alwaysReady: true,
	inputOp:     octetsInput,
	outputOp:    octetsOutput,
}

// NewFileOctetsChannel wraps port (a plain regular file) in a Channel that
// moves a raw byte stream the same way NewOctetsChannel does, except that
// the kernel never reports readiness for a regular file's fd: the cycle
// engine instead requeues it for a transfer attempt every cycle, the way
// it would a Channel the notifier just reported ready.
func NewFileOctetsChannel(port *Port, polarity Polarity) *Channel {
	return newChannel(port, polarity, fileOctetsVTable)
}

func octetsInput(ch *Channel) (int, ioStatus, error) {
	buf := ch.resource.([]byte)
	n, status, err := ch.port.ReadOctets(buf[ch.windowLow:ch.windowHigh])
	ch.windowLow += n
	return n, status, err
}

func octetsOutput(ch *Channel) (int, ioStatus, error) {
	buf := ch.resource.([]byte)
	n, status, err := ch.port.WriteOctets(buf[ch.windowLow:ch.windowHigh])
	ch.windowLow += n
	return n, status, err
}
