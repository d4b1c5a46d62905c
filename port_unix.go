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

	"golang.org/x/sys/unix"
)

var errEOF = errors.New("junction: eof")

// NewListenPort opens a listening socket bound to e and returns the Port
// wrapping it, latched once (a listening socket is input-only: it never
// transfers bytes, only new connections).
func NewListenPort(e Endpoint, backlog int, reusePort bool) (*Port, error) {
	fd, err := rawSocket(e, unix.SOCK_STREAM)
	if err != nil {
		return nil, &PortError{Cause: CauseSocket, Err: err}
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, &PortError{Cause: CauseSetsockopt, Err: err}
	}
	if reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return nil, &PortError{Cause: CauseSetsockopt, Err: err}
		}
	}
	sa, err := e.sockaddr()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, &PortError{Cause: CauseBind, Err: err}
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, &PortError{Cause: CauseListen, Err: err}
	}
	return NewPort(fd, KindSocket, 1), nil
}

// NewConnectPort opens a non-blocking socket and issues a connect towards e,
// optionally binding a local address first. The connect very often returns
// EINPROGRESS; the caller subscribes the returned Port for output readiness
// and calls FinishConnect once the kernel reports it writable.
func NewConnectPort(e Endpoint, bind *Endpoint) (*Port, error) {
	fd, err := rawSocket(e, unix.SOCK_STREAM)
	if err != nil {
		return nil, &PortError{Cause: CauseSocket, Err: err}
	}
	if bind != nil {
		bsa, err := bind.sockaddr()
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
		if err := unix.Bind(fd, bsa); err != nil {
			unix.Close(fd)
			return nil, &PortError{Cause: CauseBind, Err: err}
		}
	}
	sa, err := e.sockaddr()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, &PortError{Cause: CauseConnect, Err: err}
	}
	return NewPort(fd, KindSocket, 1), nil
}

// FinishConnect resolves a non-blocking connect() by inspecting SO_ERROR.
func (p *Port) FinishConnect() error {
	p.mu.Lock()
	fd := p.id
	p.mu.Unlock()
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		p.fail(CauseGetsockopt, err)
		return &PortError{Cause: CauseGetsockopt, Err: err}
	}
	if errno != 0 {
		e := unix.Errno(errno)
		p.fail(CauseConnect, e)
		return &PortError{Cause: CauseConnect, Err: e}
	}
	return nil
}

// NewBindPort opens a bound, unconnected datagram socket (a UDP or unixgram
// endpoint that will address each transfer individually).
func NewBindPort(e Endpoint, reusePort bool) (*Port, error) {
	sockType := unix.SOCK_DGRAM
	fd, err := rawSocket(e, sockType)
	if err != nil {
		return nil, &PortError{Cause: CauseSocket, Err: err}
	}
	if reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return nil, &PortError{Cause: CauseSetsockopt, Err: err}
		}
	}
	sa, err := e.sockaddr()
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, &PortError{Cause: CauseBind, Err: err}
	}
	return NewPort(fd, KindSocket, 1), nil
}

// NewOpenPort opens a plain file.
func NewOpenPort(path string, flag int, perm uint32) (*Port, error) {
	fd, err := unix.Open(path, flag|unix.O_NONBLOCK|unix.O_CLOEXEC, perm)
	if err != nil {
		return nil, &PortError{Cause: CauseSocket, Err: err}
	}
	return NewPort(fd, KindFile, 1), nil
}

// NewPipePorts creates a pipe and returns its two ends, latched
// independently (a pipe's two fds are never shared between halves).
func NewPipePorts() (r, w *Port, err error) {
	var fds [2]int
	if e := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); e != nil {
		return nil, nil, &PortError{Cause: CausePipe, Err: e}
	}
	return NewPort(fds[0], KindPipe, 1), NewPort(fds[1], KindPipe, 1), nil
}

// NewSocketpairPorts creates an anonymous UNIX-domain socket pair. Each end
// is bidirectional, so each returned Port is latched twice: once for the
// input Channel and once for the output Channel that will share it.
func NewSocketpairPorts() (a, b *Port, err error) {
	fds, e := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if e != nil {
		return nil, nil, &PortError{Cause: CauseSocketpair, Err: e}
	}
	return NewPort(fds[0], KindSocket, 2), NewPort(fds[1], KindSocket, 2), nil
}

func rawSocket(e Endpoint, sockType int) (int, error) {
	domain := unix.AF_INET
	if e.Family() == FamilyIP6 {
		domain = unix.AF_INET6
	} else if e.Family() == FamilyLocal {
		domain = unix.AF_UNIX
	}
	fd, err := unix.Socket(domain, sockType|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

// Identify classifies the Port's descriptor via fstat, the way the original
// implementation distinguishes sockets, pipes, ttys and regular files
// acquired from outside the module (e.g. inherited fds).
func (p *Port) Identify() error {
	p.mu.Lock()
	fd := p.id
	p.mu.Unlock()
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		p.fail(CauseFstat, err)
		return &PortError{Cause: CauseFstat, Err: err}
	}
	kind := KindUnknown
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFIFO:
		kind = KindFifo
	case unix.S_IFCHR:
		kind = KindTTY
	case unix.S_IFSOCK:
		kind = KindSocket
	case unix.S_IFREG:
		kind = KindFile
	default:
		kind = KindBad
	}
	p.mu.Lock()
	p.kind = kind
	p.mu.Unlock()
	return nil
}

// Accept pulls one pending connection off a listening Port.
func (p *Port) Accept() (fd int, remote Endpoint, status ioStatus, err error) {
	p.mu.Lock()
	listenFD := p.id
	p.mu.Unlock()
	nfd, sa, aerr := unix.Accept4(listenFD, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if aerr != nil {
		if aerr == unix.EAGAIN {
			return -1, Endpoint{}, ioStop, nil
		}
		p.fail(CauseAccept, aerr)
		return -1, Endpoint{}, ioTerminate, &PortError{Cause: CauseAccept, Err: aerr}
	}
	remote, rerr := endpointFromSockaddr(sa)
	if rerr != nil {
		remote = Endpoint{}
	}
	return nfd, remote, ioFlow, nil
}

// ReadOctets performs one non-blocking read into buf.
func (p *Port) ReadOctets(buf []byte) (n int, status ioStatus, err error) {
	p.mu.Lock()
	fd := p.id
	p.mu.Unlock()
	n, rerr := unix.Read(fd, buf)
	switch {
	case rerr == unix.EAGAIN:
		return 0, ioStop, nil
	case rerr != nil:
		p.fail(CauseRead, rerr)
		return 0, ioTerminate, &PortError{Cause: CauseRead, Err: rerr}
	case n == 0:
		p.fail(CauseEOF, errEOF)
		return 0, ioTerminate, nil
	case n < len(buf):
		return n, ioStop, nil
	default:
		return n, ioFlow, nil
	}
}

// WriteOctets performs one non-blocking write of buf.
func (p *Port) WriteOctets(buf []byte) (n int, status ioStatus, err error) {
	p.mu.Lock()
	fd := p.id
	p.mu.Unlock()
	n, werr := unix.Write(fd, buf)
	switch {
	case werr == unix.EAGAIN:
		return 0, ioStop, nil
	case werr != nil:
		p.fail(CauseWrite, werr)
		return 0, ioTerminate, &PortError{Cause: CauseWrite, Err: werr}
	case n < len(buf):
		return n, ioStop, nil
	default:
		return n, ioFlow, nil
	}
}

// RecvRights receives one control message worth of file descriptors via
// SCM_RIGHTS, filling ids with whatever fds accompanied the message.
func (p *Port) RecvRights(payload []byte, ids []int) (n, nrights int, status ioStatus, err error) {
	p.mu.Lock()
	fd := p.id
	p.mu.Unlock()
	oob := make([]byte, unix.CmsgSpace(len(ids)*4))
	n, oobn, _, _, rerr := unix.Recvmsg(fd, payload, oob, 0)
	switch {
	case rerr == unix.EAGAIN:
		return 0, 0, ioStop, nil
	case rerr != nil:
		p.fail(CauseRecvmsg, rerr)
		return 0, 0, ioTerminate, &PortError{Cause: CauseRecvmsg, Err: rerr}
	case n == 0 && oobn == 0:
		p.fail(CauseEOF, errEOF)
		return 0, 0, ioTerminate, nil
	}
	scms, cerr := unix.ParseSocketControlMessage(oob[:oobn])
	if cerr != nil {
		p.fail(CauseRecvmsg, cerr)
		return n, 0, ioTerminate, &PortError{Cause: CauseRecvmsg, Err: cerr}
	}
	nrights = 0
	for _, scm := range scms {
		fds, ferr := unix.ParseUnixRights(&scm)
		if ferr != nil {
			continue
		}
		for _, rfd := range fds {
			if nrights < len(ids) {
				ids[nrights] = rfd
			} else {
				unix.Close(rfd)
			}
			nrights++
		}
	}
	if n < len(payload) {
		return n, nrights, ioStop, nil
	}
	return n, nrights, ioFlow, nil
}

// SendRights sends payload accompanied by an SCM_RIGHTS control message
// carrying ids.
func (p *Port) SendRights(payload []byte, ids []int) (n int, status ioStatus, err error) {
	p.mu.Lock()
	fd := p.id
	p.mu.Unlock()
	oob := unix.UnixRights(ids...)
	serr := unix.Sendmsg(fd, payload, oob, nil, 0)
	switch {
	case serr == unix.EAGAIN:
		return 0, ioStop, nil
	case serr != nil:
		p.fail(CauseSendmsg, serr)
		return 0, ioTerminate, &PortError{Cause: CauseSendmsg, Err: serr}
	default:
		return len(payload), ioFlow, nil
	}
}

// RecvDatagram receives one addressed datagram into payload.
func (p *Port) RecvDatagram(payload []byte) (n int, from Endpoint, status ioStatus, err error) {
	p.mu.Lock()
	fd := p.id
	p.mu.Unlock()
	n, _, _, sa, rerr := unix.Recvmsg(fd, payload, nil, 0)
	switch {
	case rerr == unix.EAGAIN:
		return 0, Endpoint{}, ioStop, nil
	case rerr != nil:
		p.fail(CauseRecvmsg, rerr)
		return 0, Endpoint{}, ioTerminate, &PortError{Cause: CauseRecvmsg, Err: rerr}
	}
	if sa != nil {
		if e, ferr := endpointFromSockaddr(sa); ferr == nil {
			from = e
		}
	}
	return n, from, ioFlow, nil
}

// SendDatagram sends one addressed datagram.
func (p *Port) SendDatagram(payload []byte, to Endpoint) (n int, status ioStatus, err error) {
	p.mu.Lock()
	fd := p.id
	p.mu.Unlock()
	sa, serr := to.sockaddr()
	if serr != nil {
		return 0, ioTerminate, serr
	}
	if werr := unix.Sendto(fd, payload, 0, sa); werr != nil {
		if werr == unix.EAGAIN {
			return 0, ioStop, nil
		}
		p.fail(CauseSendmsg, werr)
		return 0, ioTerminate, &PortError{Cause: CauseSendmsg, Err: werr}
	}
	return len(payload), ioFlow, nil
}

// LocalEndpoint returns the socket's own bound address.
func (p *Port) LocalEndpoint() (Endpoint, error) {
	p.mu.Lock()
	fd := p.id
	p.mu.Unlock()
	sa, err := unix.Getsockname(fd)
	if err != nil {
		p.fail(CauseGetsockopt, err)
		return Endpoint{}, &PortError{Cause: CauseGetsockopt, Err: err}
	}
	return endpointFromSockaddr(sa)
}

// RemoteEndpoint returns the socket's connected peer, or for an anonymous
// UNIX-domain socket, the credentials of the peer (there being no address
// to report).
func (p *Port) RemoteEndpoint() (Endpoint, error) {
	p.mu.Lock()
	fd := p.id
	kind := p.kind
	p.mu.Unlock()
	sa, err := unix.Getpeername(fd)
	if err == nil {
		if e, cerr := endpointFromSockaddr(sa); cerr == nil {
			if _, isUnix := sa.(*unix.SockaddrUnix); !isUnix || e.Path() != "" {
				return e, nil
			}
		}
	}
	if kind == KindSocket {
		if uid, gid, cerr := peerCredentials(fd); cerr == nil {
			return NewCredEndpoint(uid, gid), nil
		}
	}
	p.fail(CauseGetpeereid, err)
	return Endpoint{}, &PortError{Cause: CauseGetpeereid, Err: err}
}

// Unlatch releases one direction's claim on the descriptor. When the last
// claim releases, the descriptor is shut down (for sockets) and closed,
// unless it has been leaked or shattered.
func (p *Port) Unlatch(dir Polarity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id < 0 {
		return nil
	}
	if p.kind == KindSocket && !p.noClose {
		how := unix.SHUT_RD
		if dir == PolarityOutput {
			how = unix.SHUT_WR
		}
		_ = unix.Shutdown(p.id, how)
	}
	p.latch--
	if p.latch > 0 {
		return nil
	}
	if p.noClose {
		p.id = -1
		return nil
	}
	if !p.closeOnce.Begin() {
		p.id = -1
		return nil
	}
	fd := p.id
	closer := p.closer
	p.id = -1
	var err error
	if closer != nil {
		err = closer.Close()
	} else {
		err = unix.Close(fd)
	}
	if err != nil {
		p.cause = CauseClose
		p.errno = err
		return &PortError{Cause: CauseClose, Err: err}
	}
	return nil
}
