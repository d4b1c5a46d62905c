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

package junction

import "golang.org/x/sys/unix"

// peerCredentials returns the {uid, gid} of the process on the other end of
// an anonymous UNIX-domain socket, via LOCAL_PEERCRED.
func peerCredentials(fd int) (uid, gid uint32, err error) {
	xucred, err := unix.GetsockoptXucred(fd, unix.SOL_LOCAL, unix.LOCAL_PEERCRED)
	if err != nil {
		return 0, 0, err
	}
	return xucred.Uid, uint32(xucred.Groups[0]), nil
}
