//go:build freebsd || dragonfly || darwin

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
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

type kqueueNotifier struct {
	fd       int
	notified int32
	raw      []unix.Kevent_t
}

func newNotifier() (Notifier, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if _, err := unix.Kevent(fd, []unix.Kevent_t{{
		Ident:  0,
		Filter: unix.EVFILT_USER,
		Flags:  unix.EV_ADD | unix.EV_CLEAR,
	}}, nil, nil); err != nil {
		unix.Close(fd)
		return nil, os.NewSyscallError("kevent add|clear", err)
	}
	return &kqueueNotifier{fd: fd, raw: make([]unix.Kevent_t, 64)}, nil
}

func setUdata(k *unix.Kevent_t, token uintptr) {
	*(*uintptr)(unsafe.Pointer(&k.Udata)) = token
}

func getUdata(k *unix.Kevent_t) uintptr {
	return *(*uintptr)(unsafe.Pointer(&k.Udata))
}

func (n *kqueueNotifier) change(changes []unix.Kevent_t) error {
	_, err := unix.Kevent(n.fd, changes, nil, nil)
	return err
}

func (n *kqueueNotifier) Subscribe(fd int, token uintptr, interest Interest) error {
	var changes []unix.Kevent_t
	if interest&InterestRead != 0 {
		k := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_CLEAR}
		setUdata(&k, token)
		changes = append(changes, k)
	}
	if interest&InterestWrite != 0 {
		k := unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_CLEAR}
		setUdata(&k, token)
		changes = append(changes, k)
	}
	if err := n.change(changes); err != nil {
		return errors.Wrap(os.NewSyscallError("kevent add", err), "notify: subscribe")
	}
	return nil
}

func (n *kqueueNotifier) Modify(fd int, token uintptr, interest Interest) error {
	if err := n.Unsubscribe(fd, token); err != nil {
		return err
	}
	return n.Subscribe(fd, token, interest)
}

func (n *kqueueNotifier) Unsubscribe(fd int, token uintptr) error {
	changes := []unix.Kevent_t{
		{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE},
		{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE},
	}
	// Deleting a filter that was never added returns ENOENT; a descriptor
	// already shattered/closed returns EBADF. Both are expected here: a
	// Channel unsubscribes unconditionally from both filters regardless of
	// which it actually registered.
	if err := n.change(changes); err != nil && err != unix.ENOENT && err != unix.EBADF {
		return errors.Wrap(os.NewSyscallError("kevent delete", err), "notify: unsubscribe")
	}
	return nil
}

func (n *kqueueNotifier) Wait(events []Event, timeoutMS int) (int, error) {
	raw := n.raw
	if cap(raw) < len(events) {
		raw = make([]unix.Kevent_t, len(events))
	}
	raw = raw[:len(events)]
	var ts *unix.Timespec
	if timeoutMS >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMS) * int64(1e6))
		ts = &t
	}
	count, err := unix.Kevent(n.fd, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("kevent wait", err)
	}
	out := 0
	for i := 0; i < count; i++ {
		evt := raw[i]
		if evt.Ident == 0 && evt.Filter == unix.EVFILT_USER {
			atomic.StoreInt32(&n.notified, 0)
			continue
		}
		token := getUdata(&evt)
		ev := Event{Token: token}
		// EV_EOF on EVFILT_WRITE means the peer closed: map it straight to
		// hangup. EV_EOF on EVFILT_READ must NOT be treated as hangup here —
		// kqueue can report it while data is still sitting in the socket
		// buffer, so read-side EOF is left for the caller to discover via a
		// zero-byte read during the I/O attempt phase.
		if evt.Flags&unix.EV_ERROR != 0 {
			ev.HangUp = true
		}
		switch evt.Filter {
		case unix.EVFILT_READ:
			ev.Readable = true
		case unix.EVFILT_WRITE:
			ev.Writable = true
			if evt.Flags&unix.EV_EOF != 0 {
				ev.HangUp = true
			}
		}
		events[out] = ev
		out++
	}
	return out, nil
}

func (n *kqueueNotifier) Wake() error {
	if !atomic.CompareAndSwapInt32(&n.notified, 0, 1) {
		return nil
	}
	for {
		_, err := unix.Kevent(n.fd, []unix.Kevent_t{{
			Ident:  0,
			Filter: unix.EVFILT_USER,
			Fflags: unix.NOTE_TRIGGER,
		}}, nil, nil)
		if err != unix.EINTR && err != unix.EAGAIN {
			if err != nil {
				return os.NewSyscallError("kevent trigger", err)
			}
			return nil
		}
	}
}

func (n *kqueueNotifier) Close() error {
	return os.NewSyscallError("close", unix.Close(n.fd))
}
