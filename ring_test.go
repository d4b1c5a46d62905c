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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingInsertRemoveOrder(t *testing.T) {
	var r ring
	a := &Channel{}
	b := &Channel{}
	c := &Channel{}
	r.insert(a)
	r.insert(b)
	r.insert(c)
	assert.Equal(t, 3, r.size)

	var seen []*Channel
	r.each(func(ch *Channel) { seen = append(seen, ch) })
	assert.Equal(t, []*Channel{a, b, c}, seen)

	r.remove(b)
	assert.Equal(t, 2, r.size)
	seen = nil
	r.each(func(ch *Channel) { seen = append(seen, ch) })
	assert.Equal(t, []*Channel{a, c}, seen)
}

func TestRingEachToleratesSelfRemoval(t *testing.T) {
	var r ring
	a := &Channel{}
	b := &Channel{}
	c := &Channel{}
	r.insert(a)
	r.insert(b)
	r.insert(c)

	var seen []*Channel
	r.each(func(ch *Channel) {
		seen = append(seen, ch)
		if ch == a {
			r.remove(a)
		}
	})
	assert.Equal(t, []*Channel{a, b, c}, seen)
	assert.Equal(t, 2, r.size)
	assert.Equal(t, b, r.head)
}

func TestRingEmptyAfterRemovingAll(t *testing.T) {
	var r ring
	a := &Channel{}
	r.insert(a)
	r.remove(a)
	assert.Equal(t, 0, r.size)
	assert.Nil(t, r.head)
	assert.Nil(t, r.tail)
}
