//go:build linux

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
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// rflags/wflags carry EPOLLET: every registration is edge-triggered, so a
// Channel that only drains part of what's available must be requeued by
// the cycle engine's own bookkeeping rather than relying on epoll to keep
// reporting level-triggered readiness.
const rflags = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLPRI | unix.EPOLLET
const wflags = unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLET

// epollNotifier keeps two epoll instances, one per direction, instead of
// one combined instance. A single epoll fd handing out EPOLLIN and
// EPOLLOUT together lets a burst of readable sockets crowd writable ones
// out of the bounded per-wait event buffer; splitting them and alternating
// which one a blocking wait consults guarantees writes a turn even under a
// read-heavy load. The eventfd used for cross-thread wake-ups only needs
// to interrupt whichever epoll happens to be blocked, so it is registered
// on both instances.
type epollNotifier struct {
	rfd    int
	wfd    int
	wakeFD int

	wakeBuf []byte

	notified int32

	mu   sync.Mutex
	regs map[int]*fdRegistration

	// haswrites is the hint from the previous Wait: the write epoll is
	// consulted this cycle only if the last one saw writable readiness,
	// alternating consultation between the two instances the way repeated
	// back-to-back write-epoll waits would otherwise starve reads.
	haswrites bool

	raw []unix.EpollEvent
}

// fdRegistration tracks, per subscribed fd, which of the two epoll
// instances it is currently a member of, since EPOLL_CTL_ADD and
// EPOLL_CTL_MOD are not interchangeable and a fd moving from
// read-only to read+write interest needs an ADD on the write epoll
// it was never a member of.
type fdRegistration struct {
	onRead, onWrite bool
}

func newNotifier() (Notifier, error) {
	rfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	wfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(rfd)
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		return nil, os.NewSyscallError("eventfd", err)
	}
	n := &epollNotifier{
		rfd: rfd, wfd: wfd, wakeFD: efd,
		wakeBuf: make([]byte, 8),
		regs:    make(map[int]*fdRegistration),
		raw:     make([]unix.EpollEvent, 64),
	}
	// The eventfd is registered on both epoll instances since a Wake() must
	// interrupt whichever one the collect phase happens to be blocked on
	// this cycle.
	ev := unix.EpollEvent{Events: unix.EPOLLIN}
	*(*uint64)(unsafe.Pointer(&ev.Fd)) = uint64(efd)
	if err := unix.EpollCtl(rfd, unix.EPOLL_CTL_ADD, efd, &ev); err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(efd)
		return nil, os.NewSyscallError("epoll_ctl add", err)
	}
	if err := unix.EpollCtl(wfd, unix.EPOLL_CTL_ADD, efd, &ev); err != nil {
		unix.Close(rfd)
		unix.Close(wfd)
		unix.Close(efd)
		return nil, os.NewSyscallError("epoll_ctl add", err)
	}
	return n, nil
}

func (n *epollNotifier) regFor(fd int) *fdRegistration {
	r, ok := n.regs[fd]
	if !ok {
		r = &fdRegistration{}
		n.regs[fd] = r
	}
	return r
}

func (n *epollNotifier) Subscribe(fd int, token uintptr, interest Interest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	reg := n.regFor(fd)
	if interest&InterestRead != 0 {
		if err := n.ctlOne(n.rfd, unix.EPOLL_CTL_ADD, fd, token, rflags); err != nil {
			return err
		}
		reg.onRead = true
	}
	if interest&InterestWrite != 0 {
		if err := n.ctlOne(n.wfd, unix.EPOLL_CTL_ADD, fd, token, wflags); err != nil {
			return err
		}
		reg.onWrite = true
	}
	return nil
}

func (n *epollNotifier) Modify(fd int, token uintptr, interest Interest) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	reg := n.regFor(fd)
	wantRead := interest&InterestRead != 0
	wantWrite := interest&InterestWrite != 0

	if wantRead && !reg.onRead {
		if err := n.ctlOne(n.rfd, unix.EPOLL_CTL_ADD, fd, token, rflags); err != nil {
			return err
		}
		reg.onRead = true
	} else if wantRead && reg.onRead {
		if err := n.ctlOne(n.rfd, unix.EPOLL_CTL_MOD, fd, token, rflags); err != nil {
			return err
		}
	} else if !wantRead && reg.onRead {
		if err := n.ctlOne(n.rfd, unix.EPOLL_CTL_DEL, fd, token, 0); err != nil {
			return err
		}
		reg.onRead = false
	}

	if wantWrite && !reg.onWrite {
		if err := n.ctlOne(n.wfd, unix.EPOLL_CTL_ADD, fd, token, wflags); err != nil {
			return err
		}
		reg.onWrite = true
	} else if wantWrite && reg.onWrite {
		if err := n.ctlOne(n.wfd, unix.EPOLL_CTL_MOD, fd, token, wflags); err != nil {
			return err
		}
	} else if !wantWrite && reg.onWrite {
		if err := n.ctlOne(n.wfd, unix.EPOLL_CTL_DEL, fd, token, 0); err != nil {
			return err
		}
		reg.onWrite = false
	}
	return nil
}

func (n *epollNotifier) Unsubscribe(fd int, token uintptr) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	reg, ok := n.regs[fd]
	if !ok {
		return nil
	}
	var firstErr error
	if reg.onRead {
		if err := n.ctlOne(n.rfd, unix.EPOLL_CTL_DEL, fd, token, 0); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if reg.onWrite {
		if err := n.ctlOne(n.wfd, unix.EPOLL_CTL_DEL, fd, token, 0); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	delete(n.regs, fd)
	return firstErr
}

func (n *epollNotifier) ctlOne(epfd, op, fd int, token uintptr, flags uint32) error {
	var ev *unix.EpollEvent
	if op != unix.EPOLL_CTL_DEL {
		ev = &unix.EpollEvent{Events: flags}
		*(*uint64)(unsafe.Pointer(&ev.Fd)) = uint64(token)
	}
	if err := unix.EpollCtl(epfd, op, fd, ev); err != nil {
		// A descriptor already shattered/closed races a pending unsubscribe;
		// tolerate it the same way the kqueue side tolerates ENOENT/EBADF.
		if op == unix.EPOLL_CTL_DEL && (err == unix.ENOENT || err == unix.EBADF) {
			return nil
		}
		var name string
		switch op {
		case unix.EPOLL_CTL_ADD:
			name = "epoll_ctl add"
		case unix.EPOLL_CTL_MOD:
			name = "epoll_ctl mod"
		default:
			name = "epoll_ctl del"
		}
		return errors.Wrap(os.NewSyscallError(name, err), "notify: subscribe")
	}
	return nil
}

func (n *epollNotifier) Wait(events []Event, timeoutMS int) (int, error) {
	raw := n.raw
	if cap(raw) < len(events) {
		raw = make([]unix.EpollEvent, len(events))
	}
	raw = raw[:len(events)]

	epfd := n.rfd
	onWrite := false
	if n.haswrites {
		epfd = n.wfd
		onWrite = true
	}

	count, err := unix.EpollWait(epfd, raw, timeoutMS)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, os.NewSyscallError("epoll_wait", err)
	}

	out := 0
	sawWrite := false
	for i := 0; i < count; i++ {
		evt := raw[i]
		token := uintptr(*(*uint64)(unsafe.Pointer(&evt.Fd)))
		if int(token) == n.wakeFD {
			_, _ = unix.Read(n.wakeFD, n.wakeBuf)
			atomic.StoreInt32(&n.notified, 0)
			continue
		}
		ev := Event{
			Token:    token,
			Readable: evt.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0,
			Writable: evt.Events&unix.EPOLLOUT != 0,
			HangUp:   evt.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0,
		}
		if ev.Writable {
			sawWrite = true
		}
		events[out] = ev
		out++
	}
	// Next cycle alternates: having just drained the write epoll, go back
	// to reads; having drained reads, consult writes again only if the
	// write side actually had something outstanding.
	if onWrite {
		n.haswrites = false
	} else {
		n.haswrites = sawWrite
	}
	return out, nil
}

func (n *epollNotifier) Wake() error {
	if !atomic.CompareAndSwapInt32(&n.notified, 0, 1) {
		return nil
	}
	one := []byte{1, 0, 0, 0, 0, 0, 0, 0}
	for {
		_, err := unix.Write(n.wakeFD, one)
		if err == unix.EINTR {
			continue
		}
		if err != nil && err != unix.EAGAIN {
			return os.NewSyscallError("write", err)
		}
		return nil
	}
}

func (n *epollNotifier) Close() error {
	if err := unix.Close(n.wakeFD); err != nil {
		return os.NewSyscallError("close", err)
	}
	if err := unix.Close(n.wfd); err != nil {
		return os.NewSyscallError("close", err)
	}
	return os.NewSyscallError("close", unix.Close(n.rfd))
}
