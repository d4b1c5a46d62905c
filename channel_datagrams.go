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

var datagramsVTable = &freightVTable{
	tag:      FreightDatagrams,
	unit:     1,
	inputOp:  datagramsInput,
	outputOp: datagramsOutput,
}

// NewDatagramsChannel wraps port (a bound, unconnected datagram socket) in
// a Channel whose transfer unit is one addressed datagram, packed into and
// out of a *DatagramArray rather than a flat byte slice.
func NewDatagramsChannel(port *Port, polarity Polarity) *Channel {
	return newChannel(port, polarity, datagramsVTable)
}

func datagramsInput(ch *Channel) (int, ioStatus, error) {
	arr := ch.resource.(*DatagramArray)
	received := 0
	for !arr.full() {
		n, from, status, err := ch.port.RecvDatagram(arr.appendReceived())
		if status == ioStop {
			return received, ioStop, nil
		}
		if err != nil {
			return received, ioTerminate, err
		}
		arr.commitReceived(n, from)
		received++
	}
	return received, ioFlow, nil
}

func datagramsOutput(ch *Channel) (int, ioStatus, error) {
	arr := ch.resource.(*DatagramArray)
	sent := 0
	for ch.windowLow < arr.Count() {
		payload, peer := arr.At(ch.windowLow)
		_, status, err := ch.port.SendDatagram(payload, peer)
		if status == ioStop {
			return sent, ioStop, nil
		}
		if err != nil {
			return sent, ioTerminate, err
		}
		ch.windowLow++
		sent++
	}
	return sent, ioFlow, nil
}
