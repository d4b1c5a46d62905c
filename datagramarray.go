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

// datagramEntry is one slot in a DatagramArray's index table: the byte
// range it occupies in the packed buffer, and the address it arrived from
// (input) or is addressed to (output).
type datagramEntry struct {
	offset int
	length int
	peer   Endpoint
}

// DatagramArray is the resource type bound to a Datagrams-freight Channel:
// a single contiguous byte buffer holding many datagrams back to back,
// plus an index table recording where each one starts and ends and which
// Endpoint it belongs to. Aliasing into the packed buffer (via At) avoids
// a per-datagram allocation on the receive path.
type DatagramArray struct {
	buf   []byte
	wrote int
	index []datagramEntry
}

// NewDatagramArray allocates a DatagramArray able to pack up to bufSize
// bytes across up to maxDatagrams entries.
func NewDatagramArray(bufSize, maxDatagrams int) *DatagramArray {
	return &DatagramArray{
		buf:   make([]byte, bufSize),
		index: make([]datagramEntry, 0, maxDatagrams),
	}
}

// Reset empties the array for reuse without reallocating.
func (d *DatagramArray) Reset() {
	d.wrote = 0
	d.index = d.index[:0]
}

// Count returns the number of datagrams currently held.
func (d *DatagramArray) Count() int { return len(d.index) }

// Cap returns the maximum number of datagrams the array can hold.
func (d *DatagramArray) Cap() int { return cap(d.index) }

// At returns the i'th datagram's payload (aliasing the packed buffer —
// valid only until the next Reset) and the Endpoint it arrived from or is
// addressed to.
func (d *DatagramArray) At(i int) (payload []byte, peer Endpoint) {
	e := d.index[i]
	return d.buf[e.offset : e.offset+e.length], e.peer
}

// full reports whether the array has room for neither another entry nor
// any more packed bytes.
func (d *DatagramArray) full() bool {
	return len(d.index) >= cap(d.index) || d.wrote >= len(d.buf)
}

// appendReceived reserves the next packed slot and returns it for recvmsg
// to fill; commitReceived records how much was actually written.
func (d *DatagramArray) appendReceived() []byte {
	return d.buf[d.wrote:]
}

func (d *DatagramArray) commitReceived(n int, peer Endpoint) {
	d.index = append(d.index, datagramEntry{offset: d.wrote, length: n, peer: peer})
	d.wrote += n
}

// Append packs payload addressed to peer for later sending. It returns
// false if the array has no room left.
func (d *DatagramArray) Append(payload []byte, peer Endpoint) bool {
	if len(d.index) >= cap(d.index) || d.wrote+len(payload) > len(d.buf) {
		return false
	}
	n := copy(d.buf[d.wrote:], payload)
	d.index = append(d.index, datagramEntry{offset: d.wrote, length: n, peer: peer})
	d.wrote += n
	return true
}
