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

import "errors"

// Cause names the system call (or junction-internal call) that produced the
// last error recorded on a Port. It is the kcall enumeration from the error
// surface: every Port failure is attributed to exactly one Cause.
type Cause uint8

// The recognized causes. None means no error has been recorded.
const (
	CauseNone Cause = iota
	CauseSocket
	CauseListen
	CauseConnect
	CauseBind
	CauseAccept
	CausePipe
	CauseSocketpair
	CauseRead
	CauseWrite
	CauseRecv
	CauseSend
	CauseRecvmsg
	CauseSendmsg
	CauseShutdown
	CauseClose
	CauseFstat
	CauseGetsockopt
	CauseSetsockopt
	CauseGetpeereid
	CauseShatter
	CauseLeak
	CauseVoid
	CauseSubscribe
	CauseEOF
)

var causeNames = [...]string{
	CauseNone:       "none",
	CauseSocket:     "socket",
	CauseListen:     "listen",
	CauseConnect:    "connect",
	CauseBind:       "bind",
	CauseAccept:     "accept",
	CausePipe:       "pipe",
	CauseSocketpair: "socketpair",
	CauseRead:       "read",
	CauseWrite:      "write",
	CauseRecv:       "recv",
	CauseSend:       "send",
	CauseRecvmsg:    "recvmsg",
	CauseSendmsg:    "sendmsg",
	CauseShutdown:   "shutdown",
	CauseClose:      "close",
	CauseFstat:      "fstat",
	CauseGetsockopt: "getsockopt",
	CauseSetsockopt: "setsockopt",
	CauseGetpeereid: "getpeereid",
	CauseShatter:    "shatter",
	CauseLeak:       "leak",
	CauseVoid:       "void",
	CauseSubscribe:  "subscribe",
	CauseEOF:        "eof",
}

// String implements fmt.Stringer.
func (c Cause) String() string {
	if int(c) < len(causeNames) && causeNames[c] != "" {
		return causeNames[c]
	}
	return "unknown"
}

// Programmer errors. These are returned synchronously to the caller and
// never touch engine state; they are never surfaced through a Port.
var (
	// ErrCycleAlreadyOpen is returned by enter() when a cycle is already in progress.
	ErrCycleAlreadyOpen = errors.New("junction: cycle already open")
	// ErrNotCycling is returned by exit()/transfer() when called outside a cycle.
	ErrNotCycling = errors.New("junction: no cycle is open")
	// ErrChannelAttached is returned when a Channel already belongs to another Junction.
	ErrChannelAttached = errors.New("junction: channel already attached to a junction")
	// ErrResourcePresent is returned by acquire() when the previous resource
	// has not yet been observed as exhausted.
	ErrResourcePresent = errors.New("junction: channel already holds a transferable resource")
	// ErrChannelTerminating is returned by acquire() on a terminating Channel.
	ErrChannelTerminating = errors.New("junction: channel is terminating")
	// ErrResizeDuringCycle is returned by resize_exoresource when called inside a cycle.
	ErrResizeDuringCycle = errors.New("junction: cannot resize scratch array during a cycle")
	// ErrVoidDuringCycle is returned by void() when called inside a cycle.
	ErrVoidDuringCycle = errors.New("junction: cannot void the notification handle during a cycle")
	// ErrUnknownSpec is returned by rallocate for an unrecognized allocation tuple.
	ErrUnknownSpec = errors.New("junction: unrecognized allocation spec")
)
