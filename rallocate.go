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
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// AllocMode names the qualifier token that follows a freight/family pair
// in an allocation tuple: the transport for a connect/bind request, or the
// verb describing where the descriptor comes from (spawned locally,
// acquired from outside, or opened as a plain file).
type AllocMode uint8

// The recognized modes. ModeDefault means the tuple carried no third
// token — the family alone picks the transport (a stream connect for
// ip4/ip6/local, the spec's "(octets, ip4|ip6)" and "(octets, local)" rows).
const (
	ModeDefault AllocMode = iota
	ModeTCP
	ModeUDP
	ModeSpawn
	ModeAcquire
	ModeFile
)

// AcquireProjection selects which half of an acquired descriptor an
// (octets, acquire, ...) spec wraps: the whole duplex socket, or just one
// direction.
type AcquireProjection uint8

// The recognized acquire projections.
const (
	AcquireSocket AcquireProjection = iota
	AcquireInput
	AcquireOutput
)

// FileOpenMode selects the flag combination an (octets, file, ...) spec
// opens its path with.
type FileOpenMode uint8

// The recognized file open modes.
const (
	FileRead FileOpenMode = iota
	FileOverwrite
	FileAppend
)

// AllocSpec is the tuple form of a rallocate request: the freight variant,
// the address family or verb that follows it, and whatever auxiliary
// parameters that combination needs. Only the fields the chosen
// Freight/Family/Mode combination actually uses are read; the rest are
// ignored, the same way the spec's table leaves most columns blank for
// any given row.
type AllocSpec struct {
	Freight FreightTag
	Family  Family
	Mode    AllocMode

	// Endpoint is the connect, listen, or bind address for the socket
	// freights; Bind additionally locally binds a connect request.
	Endpoint Endpoint
	Bind     *Endpoint
	Backlog  int

	ReusePort bool

	// FD and Acquire are read only when Mode == ModeAcquire.
	FD      int
	Acquire AcquireProjection

	// Bidirectional is read only when Mode == ModeSpawn: false asks for a
	// pipe (unidirectional), true for a socketpair (bidirectional).
	Bidirectional bool

	// Path and FileMode are read only when Mode == ModeFile.
	Path     string
	FileMode FileOpenMode
}

// Rallocate dispatches spec to the matching Port constructor(s) and wraps
// the result in the Channel(s) the spec's table row produces — never a
// bare Port. The returned Channels are not yet attached to any Junction;
// Junction.Rallocate is the method that additionally attaches them, which
// is the form user code is expected to call.
func Rallocate(spec AllocSpec) ([]*Channel, error) {
	switch spec.Freight {
	case FreightOctets:
		return rallocateOctets(spec)
	case FreightSockets:
		return rallocateSockets(spec)
	case FreightPorts:
		return rallocatePorts(spec)
	case FreightDatagrams:
		return rallocateDatagrams(spec)
	default:
		return nil, ErrUnknownSpec
	}
}

func rallocateOctets(spec AllocSpec) ([]*Channel, error) {
	switch spec.Mode {
	case ModeDefault, ModeTCP:
		// (octets, ip4|ip6) / (octets, ip4|ip6, tcp) [, bind] and
		// (octets, local): connect address -> input+output pair on the
		// resulting stream socket.
		p, err := NewConnectPort(spec.Endpoint, spec.Bind)
		if err != nil {
			return nil, err
		}
		return duplexOctets(p), nil
	case ModeUDP:
		// (octets, ip4|ip6, udp): connect address -> input+output on a
		// connected datagram socket.
		p, err := newUDPConnectPort(spec.Endpoint, spec.Bind)
		if err != nil {
			return nil, err
		}
		return duplexOctets(p), nil
	case ModeSpawn:
		if spec.Bidirectional {
			// (octets, spawn, bidirectional): both ends of a socketpair,
			// each wrapped in its own input+output pair — the shape the
			// echo-over-socketpair scenario exercises end to end.
			a, b, err := NewSocketpairPorts()
			if err != nil {
				return nil, err
			}
			return append(duplexOctets(a), duplexOctets(b)...), nil
		}
		// (octets, spawn, unidirectional): a pipe has exactly one input
		// direction and one output direction, each on its own fd.
		r, w, err := NewPipePorts()
		if err != nil {
			return nil, err
		}
		return []*Channel{NewOctetsChannel(r, PolarityInput), NewOctetsChannel(w, PolarityOutput)}, nil
	case ModeAcquire:
		// (octets, acquire, socket|input|output): existing FD -> channel(s)
		// over the acquired descriptor, projected per spec.Acquire.
		p, err := newAcquiredPort(spec.FD, projectionLatch(spec.Acquire))
		if err != nil {
			return nil, err
		}
		switch spec.Acquire {
		case AcquireInput:
			return []*Channel{NewOctetsChannel(p, PolarityInput)}, nil
		case AcquireOutput:
			return []*Channel{NewOctetsChannel(p, PolarityOutput)}, nil
		default:
			return duplexOctets(p), nil
		}
	case ModeFile:
		// (octets, file, read|overwrite|append): path -> one always-ready
		// file-backed channel, direction implied by the open mode.
		flag, polarity := fileOpenFlags(spec.FileMode)
		p, err := NewOpenPort(spec.Path, flag, 0o644)
		if err != nil {
			return nil, err
		}
		return []*Channel{NewFileOctetsChannel(p, polarity)}, nil
	default:
		return nil, ErrUnknownSpec
	}
}

// duplexOctets wraps a single bidirectional stream/datagram Port in its
// input and output octets Channels.
func duplexOctets(p *Port) []*Channel {
	p.latch = 2
	return []*Channel{NewOctetsChannel(p, PolarityInput), NewOctetsChannel(p, PolarityOutput)}
}

func projectionLatch(proj AcquireProjection) int {
	if proj == AcquireSocket {
		return 2
	}
	return 1
}

func fileOpenFlags(mode FileOpenMode) (flag int, polarity Polarity) {
	switch mode {
	case FileOverwrite:
		return unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC, PolarityOutput
	case FileAppend:
		return unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND, PolarityOutput
	default:
		return unix.O_RDONLY, PolarityInput
	}
}

func rallocateSockets(spec AllocSpec) ([]*Channel, error) {
	switch spec.Mode {
	case ModeAcquire:
		// (sockets, acquire, socket): existing listening FD -> input
		// channel over it.
		p, err := newAcquiredPort(spec.FD, 1)
		if err != nil {
			return nil, err
		}
		return []*Channel{NewSocketsChannel(p)}, nil
	default:
		// (sockets, ip4|ip6|local): listen address -> input channel
		// producing accepted FDs.
		p, err := NewListenPort(spec.Endpoint, spec.Backlog, spec.ReusePort)
		if err != nil {
			return nil, err
		}
		return []*Channel{NewSocketsChannel(p)}, nil
	}
}

func rallocatePorts(spec AllocSpec) ([]*Channel, error) {
	switch spec.Mode {
	case ModeAcquire:
		// (ports, acquire, socket): existing FD -> FD-passing channel pair.
		p, err := newAcquiredPort(spec.FD, 2)
		if err != nil {
			return nil, err
		}
		return []*Channel{NewPortsChannel(p, PolarityInput), NewPortsChannel(p, PolarityOutput)}, nil
	default:
		// (ports, spawn, bidirectional): FD-passing channel pair over a
		// freshly created socketpair, both ends.
		a, b, err := NewSocketpairPorts()
		if err != nil {
			return nil, err
		}
		return []*Channel{
			NewPortsChannel(a, PolarityInput), NewPortsChannel(a, PolarityOutput),
			NewPortsChannel(b, PolarityInput), NewPortsChannel(b, PolarityOutput),
		}, nil
	}
}

func rallocateDatagrams(spec AllocSpec) ([]*Channel, error) {
	// (datagrams, ip4|ip6[, udp]): bind address -> input+output datagram
	// channels sharing the one bound, unconnected socket.
	p, err := NewBindPort(spec.Endpoint, spec.ReusePort)
	if err != nil {
		return nil, err
	}
	p.latch = 2
	return []*Channel{NewDatagramsChannel(p, PolarityInput), NewDatagramsChannel(p, PolarityOutput)}, nil
}

// newUDPConnectPort opens a non-blocking datagram socket and connects it,
// fixing the socket's default peer the way NewConnectPort fixes a stream
// socket's only peer. Unlike a stream connect, a datagram connect never
// returns EINPROGRESS.
func newUDPConnectPort(e Endpoint, bind *Endpoint) (*Port, error) {
	fd, err := rawSocket(e, unix.SOCK_DGRAM)
	if err != nil {
		return nil, &PortError{Cause: CauseSocket, Err: err}
	}
	if bind != nil {
		bsa, serr := bind.sockaddr()
		if serr != nil {
			unix.Close(fd)
			return nil, serr
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
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, &PortError{Cause: CauseConnect, Err: err}
	}
	return NewPort(fd, KindSocket, 1), nil
}

// newAcquiredPort wraps an externally obtained descriptor: it sets
// non-blocking mode and classifies the fd via Identify(), the way the
// spec's identify() operation distinguishes an inherited socket from a
// pipe, tty, or regular file.
func newAcquiredPort(fd int, latch int) (*Port, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, &PortError{Cause: CauseSetsockopt, Err: err}
	}
	p := NewPort(fd, KindUnknown, latch)
	if err := p.Identify(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseAllocSpec parses the IRI-style string form of an allocation
// request, e.g. "octets://ip4" (connect address supplied separately),
// "octets://ip4:tcp", "octets://ip4/tcp", "octets://local",
// "octets://spawn/bidirectional", "octets://acquire/input",
// "octets://file/append", "sockets://ip4", "sockets://acquire/socket",
// "ports://spawn/bidirectional", "datagrams://ip4". The family/verb token
// goes in the host position; any further qualifier may follow either a
// ":" (host:port-shaped) or a "/" (path-shaped) separator, matching both
// forms the spec calls out. Addresses, paths, fds, and flags that the
// tuple form carries as struct fields are supplied instead as query
// parameters: "connect", "bind", "listen", "path", "fd", "backlog",
// "reuseport".
func ParseAllocSpec(iri string) (AllocSpec, error) {
	// url.Parse rejects a non-numeric port, so a ":" qualifier in the
	// authority ("ip4:tcp") is rewritten to the equivalent "/" form first.
	if i := strings.Index(iri, "://"); i >= 0 {
		rest := iri[i+3:]
		end := strings.IndexAny(rest, "/?#")
		if end < 0 {
			end = len(rest)
		}
		if c := strings.IndexByte(rest[:end], ':'); c >= 0 {
			iri = iri[:i+3] + rest[:c] + "/" + rest[c+1:]
		}
	}
	u, err := url.Parse(iri)
	if err != nil {
		return AllocSpec{}, err
	}
	freight, err := parseFreightScheme(u.Scheme)
	if err != nil {
		return AllocSpec{}, err
	}

	tokens, err := hostPathTokens(u)
	if err != nil {
		return AllocSpec{}, err
	}
	spec := AllocSpec{Freight: freight}
	if err := applyTokens(&spec, tokens); err != nil {
		return AllocSpec{}, err
	}
	if err := applyQuery(&spec, u.Query()); err != nil {
		return AllocSpec{}, err
	}
	return spec, nil
}

func parseFreightScheme(scheme string) (FreightTag, error) {
	switch scheme {
	case "octets":
		return FreightOctets, nil
	case "sockets":
		return FreightSockets, nil
	case "ports":
		return FreightPorts, nil
	case "datagrams":
		return FreightDatagrams, nil
	default:
		return 0, ErrUnknownSpec
	}
}

// hostPathTokens splits the host (optionally itself split on ':') and the
// remaining path segments into a flat token list, so "ip4:tcp" and
// "ip4/tcp" both yield ["ip4", "tcp"].
func hostPathTokens(u *url.URL) ([]string, error) {
	var tokens []string
	if u.Host != "" {
		if h, p, serr := net.SplitHostPort(u.Host); serr == nil {
			tokens = append(tokens, h, p)
		} else {
			tokens = append(tokens, u.Host)
		}
	}
	for _, seg := range strings.Split(strings.Trim(u.Path, "/"), "/") {
		if seg != "" {
			tokens = append(tokens, seg)
		}
	}
	if len(tokens) == 0 {
		return nil, ErrUnknownSpec
	}
	return tokens, nil
}

func applyTokens(spec *AllocSpec, tokens []string) error {
	switch tokens[0] {
	case "ip4":
		spec.Family = FamilyIP4
	case "ip6":
		spec.Family = FamilyIP6
	case "local":
		spec.Family = FamilyLocal
	case "spawn":
		spec.Mode = ModeSpawn
		return applySpawnKind(spec, tokens[1:])
	case "acquire":
		spec.Mode = ModeAcquire
		return applyAcquireProjection(spec, tokens[1:])
	case "file":
		spec.Mode = ModeFile
		return applyFileMode(spec, tokens[1:])
	default:
		return ErrUnknownSpec
	}
	if len(tokens) > 1 {
		switch tokens[1] {
		case "tcp":
			spec.Mode = ModeTCP
		case "udp":
			spec.Mode = ModeUDP
		default:
			return ErrUnknownSpec
		}
	}
	return nil
}

func applySpawnKind(spec *AllocSpec, rest []string) error {
	if len(rest) == 0 {
		return ErrUnknownSpec
	}
	switch rest[0] {
	case "unidirectional":
		spec.Bidirectional = false
	case "bidirectional":
		spec.Bidirectional = true
	default:
		return ErrUnknownSpec
	}
	return nil
}

func applyAcquireProjection(spec *AllocSpec, rest []string) error {
	if len(rest) == 0 {
		spec.Acquire = AcquireSocket
		return nil
	}
	switch rest[0] {
	case "socket":
		spec.Acquire = AcquireSocket
	case "input":
		spec.Acquire = AcquireInput
	case "output":
		spec.Acquire = AcquireOutput
	default:
		return ErrUnknownSpec
	}
	return nil
}

func applyFileMode(spec *AllocSpec, rest []string) error {
	if len(rest) == 0 {
		return ErrUnknownSpec
	}
	switch rest[0] {
	case "read":
		spec.FileMode = FileRead
	case "overwrite":
		spec.FileMode = FileOverwrite
	case "append":
		spec.FileMode = FileAppend
	default:
		return ErrUnknownSpec
	}
	return nil
}

func applyQuery(spec *AllocSpec, q url.Values) error {
	if v := q.Get("connect"); v != "" {
		e, err := parseEndpointQuery(spec.Family, v)
		if err != nil {
			return err
		}
		spec.Endpoint = e
	}
	if v := q.Get("listen"); v != "" {
		e, err := parseEndpointQuery(spec.Family, v)
		if err != nil {
			return err
		}
		spec.Endpoint = e
	}
	if v := q.Get("bind"); v != "" {
		e, err := parseEndpointQuery(spec.Family, v)
		if err != nil {
			return err
		}
		spec.Bind = &e
	}
	if v := q.Get("path"); v != "" {
		spec.Path = v
	}
	if v := q.Get("fd"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		spec.FD = n
	}
	if v := q.Get("backlog"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		spec.Backlog = n
	}
	if v := q.Get("reuseport"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		spec.ReusePort = b
	}
	return nil
}

func parseEndpointQuery(family Family, s string) (Endpoint, error) {
	if family == FamilyLocal {
		return NewLocalEndpoint(s), nil
	}
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Endpoint{}, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Endpoint{}, &PortError{Cause: CauseSocket, Err: errUnresolvedHost(host)}
	}
	if family == FamilyIP6 || ip.To4() == nil {
		return NewIP6Endpoint(ip, "", port), nil
	}
	return NewIP4Endpoint(ip, port), nil
}

type errUnresolvedHost string

func (e errUnresolvedHost) Error() string { return "junction: cannot resolve host " + string(e) }
