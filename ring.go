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

// ring is the intrusive doubly-linked list of Channels a Junction owns,
// linked through each Channel's ringPrev/ringNext fields. There is no
// sentinel: an empty ring has head and tail nil, the list ends in nil at
// both sides, and insert/remove never allocate. Walking the ring (the
// transform phase's readiness sweep, Void and Close) is a plain
// next-pointer traversal starting at head.
type ring struct {
	head, tail *Channel
	size       int
}

func (r *ring) insert(ch *Channel) {
	ch.ringPrev = r.tail
	ch.ringNext = nil
	if r.tail != nil {
		r.tail.ringNext = ch
	} else {
		r.head = ch
	}
	r.tail = ch
	r.size++
}

func (r *ring) remove(ch *Channel) {
	if ch.ringPrev != nil {
		ch.ringPrev.ringNext = ch.ringNext
	} else {
		r.head = ch.ringNext
	}
	if ch.ringNext != nil {
		ch.ringNext.ringPrev = ch.ringPrev
	} else {
		r.tail = ch.ringPrev
	}
	ch.ringPrev, ch.ringNext = nil, nil
	r.size--
}

// each calls f for every Channel currently in the ring, in insertion order.
// f may remove the current Channel from the ring (it may not remove other
// Channels); each captures the next pointer before calling f to tolerate
// exactly that case.
func (r *ring) each(f func(*Channel)) {
	for ch := r.head; ch != nil; {
		next := ch.ringNext
		f(ch)
		ch = next
	}
}
