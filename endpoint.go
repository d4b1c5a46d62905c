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
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/trpc-group/junction/internal/netutil"
	"golang.org/x/sys/unix"
)

// Family identifies the address family an Endpoint belongs to.
type Family uint8

// The recognized address families.
const (
	FamilyIP4 Family = iota
	FamilyIP6
	FamilyLocal
	FamilyCred
)

// Endpoint is an immutable address value: IPv4, IPv6, or a local (UNIX
// domain) path. It supplies interface and port projections, and prints in
// the form humans and re-parsers agree on: "[interface]:port" for numeric
// families, "directory/filename" for local sockets.
//
// An Endpoint of family FamilyCred does not identify a network address at
// all; it holds the {uid, gid} pair returned by endpoint() on an anonymous
// UNIX-domain socket, per the peer-credential carve-out in the component
// design.
type Endpoint struct {
	family Family
	ip     net.IP
	zone   string
	port   int
	path   string
	uid    uint32
	gid    uint32
}

// NewIP4Endpoint builds an IPv4 Endpoint.
func NewIP4Endpoint(ip net.IP, port int) Endpoint {
	return Endpoint{family: FamilyIP4, ip: ip.To4(), port: port}
}

// NewIP6Endpoint builds an IPv6 Endpoint, optionally zoned.
func NewIP6Endpoint(ip net.IP, zone string, port int) Endpoint {
	return Endpoint{family: FamilyIP6, ip: ip.To16(), zone: zone, port: port}
}

// NewLocalEndpoint builds a UNIX-domain path Endpoint.
func NewLocalEndpoint(path string) Endpoint {
	return Endpoint{family: FamilyLocal, path: path}
}

// NewCredEndpoint builds a peer-credential Endpoint for an anonymous
// UNIX-domain socket's endpoint() projection.
func NewCredEndpoint(uid, gid uint32) Endpoint {
	return Endpoint{family: FamilyCred, uid: uid, gid: gid}
}

// Family returns the Endpoint's address family.
func (e Endpoint) Family() Family { return e.family }

// Interface returns the address projection: the IP for ip4/ip6, nil otherwise.
func (e Endpoint) Interface() net.IP { return e.ip }

// Port returns the port projection: the numeric port for ip4/ip6, 0 otherwise.
func (e Endpoint) Port() int { return e.port }

// Path returns the filesystem path for a local Endpoint, "" otherwise.
func (e Endpoint) Path() string { return e.path }

// Credentials returns the peer {uid, gid} for a FamilyCred Endpoint.
func (e Endpoint) Credentials() (uid, gid uint32) { return e.uid, e.gid }

// String renders the Endpoint the way a human (and ParseEndpoint) expects:
// "[interface]:port" for numeric families, "directory/filename" for local.
func (e Endpoint) String() string {
	switch e.family {
	case FamilyIP4, FamilyIP6:
		host := e.ip.String()
		if e.family == FamilyIP6 && e.zone != "" {
			host += "%" + e.zone
		}
		return "[" + host + "]:" + strconv.Itoa(e.port)
	case FamilyLocal:
		return e.path
	case FamilyCred:
		return fmt.Sprintf("uid=%d,gid=%d", e.uid, e.gid)
	default:
		return "<invalid endpoint>"
	}
}

// ParseEndpoint re-parses a string produced by String() for the given
// family, completing the round-trip required of connected TCP Channel
// endpoints.
func ParseEndpoint(family Family, s string) (Endpoint, error) {
	switch family {
	case FamilyIP4, FamilyIP6:
		return parseNumericEndpoint(family, s)
	case FamilyLocal:
		return NewLocalEndpoint(s), nil
	default:
		return Endpoint{}, fmt.Errorf("junction: cannot parse endpoint of family %d", family)
	}
}

func parseNumericEndpoint(family Family, s string) (Endpoint, error) {
	if !strings.HasPrefix(s, "[") {
		return Endpoint{}, fmt.Errorf("junction: malformed endpoint %q", s)
	}
	end := strings.LastIndex(s, "]:")
	if end < 0 {
		return Endpoint{}, fmt.Errorf("junction: malformed endpoint %q", s)
	}
	host := s[1:end]
	port, err := strconv.Atoi(s[end+2:])
	if err != nil {
		return Endpoint{}, fmt.Errorf("junction: malformed endpoint port %q: %w", s, err)
	}
	zone := ""
	if idx := strings.IndexByte(host, '%'); idx >= 0 {
		zone = host[idx+1:]
		host = host[:idx]
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Endpoint{}, fmt.Errorf("junction: malformed endpoint address %q", s)
	}
	if family == FamilyIP4 {
		return NewIP4Endpoint(ip, port), nil
	}
	return NewIP6Endpoint(ip, zone, port), nil
}

// endpointFromSockaddr converts a kernel Sockaddr, as returned by getsockname
// / getpeername / accept, into an Endpoint.
func endpointFromSockaddr(sa unix.Sockaddr) (Endpoint, error) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, net.IPv4len)
		copy(ip, sa.Addr[:])
		return NewIP4Endpoint(ip, sa.Port), nil
	case *unix.SockaddrInet6:
		ip := make(net.IP, net.IPv6len)
		copy(ip, sa.Addr[:])
		return NewIP6Endpoint(ip, netutil.IP6ZoneToString(int(sa.ZoneId)), sa.Port), nil
	case *unix.SockaddrUnix:
		return NewLocalEndpoint(sa.Name), nil
	default:
		return Endpoint{}, fmt.Errorf("junction: unsupported sockaddr type %T", sa)
	}
}

// sockaddr converts the Endpoint back into a kernel Sockaddr suitable for
// connect/bind.
func (e Endpoint) sockaddr() (unix.Sockaddr, error) {
	switch e.family {
	case FamilyIP4:
		sa := &unix.SockaddrInet4{Port: e.port}
		copy(sa.Addr[:], e.ip.To4())
		return sa, nil
	case FamilyIP6:
		sa := &unix.SockaddrInet6{Port: e.port}
		copy(sa.Addr[:], e.ip.To16())
		if e.zone != "" {
			zone, err := netutil.StringToZoneID(e.zone)
			if err != nil {
				return nil, err
			}
			sa.ZoneId = zone
		}
		return sa, nil
	case FamilyLocal:
		return &unix.SockaddrUnix{Name: e.path}, nil
	default:
		return nil, fmt.Errorf("junction: endpoint family %d has no sockaddr form", e.family)
	}
}


