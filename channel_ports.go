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

// PortsResource is the resource bound to a Ports-freight Channel: a small
// payload buffer (the regular bytes accompanying a SCM_RIGHTS message, if
// any) plus the slice of descriptor ids to fill (input) or send (output).
type PortsResource struct {
	Payload []byte
	IDs     []int
}

var portsVTable = &freightVTable{
	tag:      FreightPorts,
	unit:     1,
	inputOp:  portsInput,
	outputOp: portsOutput,
}

// NewPortsChannel wraps port in a Channel that passes kernel descriptors
// themselves across a UNIX-domain socket via SCM_RIGHTS, rather than bytes.
func NewPortsChannel(port *Port, polarity Polarity) *Channel {
	return newChannel(port, polarity, portsVTable)
}

func portsInput(ch *Channel) (int, ioStatus, error) {
	res := ch.resource.(*PortsResource)
	n, nrights, status, err := ch.port.RecvRights(res.Payload, res.IDs[ch.windowLow:ch.windowHigh])
	ch.windowLow += nrights
	return n, status, err
}

func portsOutput(ch *Channel) (int, ioStatus, error) {
	res := ch.resource.(*PortsResource)
	n, status, err := ch.port.SendRights(res.Payload, res.IDs[ch.windowLow:ch.windowHigh])
	if status == ioFlow {
		ch.windowLow = ch.windowHigh
	}
	return n, status, err
}
