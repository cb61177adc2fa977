//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package memory

import (
	"bytes"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapphireos/sapphire/kernel/sys"
)

func newTestManager(t *testing.T, mod func(*Config)) *Manager {
	cfg := DefaultConfig()
	cfg.Verify = true
	if mod != nil {
		mod(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func fill(b []byte, seed byte) {
	for i := range b {
		b[i] = seed + byte(i)
	}
}

func TestRoundTrip(t *testing.T) {
	m := newTestManager(t, nil)
	before := m.Info()
	for _, size := range []int{0, 1, 7, 100, 1000, before.Free - m.Overhead(before.Free)} {
		h, err := m.Alloc(size, TypeBuffer)
		require.NoError(t, err, "size %d", size)
		assert.Equal(t, size, m.Size(h))
		assert.Equal(t, TypeBuffer, m.Type(h))
		m.Free(h)
		m.Compact()
		assert.Equal(t, before.Free, m.Info().Free, "size %d", size)
		require.NoError(t, m.Verify())
	}
}

func TestHandleNeverZero(t *testing.T) {
	m := newTestManager(t, nil)
	h, err := m.Alloc(4, TypeUnknown)
	require.NoError(t, err)
	assert.NotEqual(t, Handle(0), h)
	assert.Equal(t, Handle(handleSwizzle), h)
	assert.Equal(t, "0x1000", h.String())
	assert.Equal(t, "invalid", InvalidHandle.String())
}

func TestHandleStabilityUnderCompaction(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.HeapSize = 2048 })
	var live, dead []Handle
	for i := 0; i < 20; i++ {
		h, err := m.Alloc(10+i*3, TypeBuffer)
		require.NoError(t, err)
		fill(m.Get(h), byte(i))
		if i%3 == 1 {
			dead = append(dead, h)
		} else {
			live = append(live, h)
		}
	}
	want := make(map[Handle][]byte)
	for _, h := range live {
		want[h] = append([]byte(nil), m.Get(h)...)
	}
	for _, h := range dead {
		m.Free(h)
	}
	info := m.Info()
	reclaimed := m.Compact()
	assert.Equal(t, info.Dirty, reclaimed)
	assert.Equal(t, info.Free+reclaimed, m.Info().Free)
	require.NoError(t, m.Verify())
	for _, h := range live {
		assert.Equal(t, want[h], m.Get(h), "handle %s", h)
	}
}

func TestAccounting(t *testing.T) {
	m := newTestManager(t, nil)
	a, err := m.Alloc(50, TypeString)
	require.NoError(t, err)
	b, err := m.Alloc(70, TypeString)
	require.NoError(t, err)
	m.Free(a)
	i := m.Info()
	assert.Equal(t, i.HeapSize, i.Used+i.Dirty+i.Free)
	assert.Equal(t, 50+m.Overhead(50), i.Dirty)
	assert.Equal(t, 1, i.Handles)
	m.Free(b)
	i = m.Info()
	assert.Equal(t, i.HeapSize, i.Used+i.Dirty+i.Free)
	assert.Equal(t, 0, i.Used)
}

func TestCollectGarbageThreshold(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.CompactThreshold = 100 })
	a, err := m.Alloc(20, TypeBuffer)
	require.NoError(t, err)
	_, err = m.Alloc(20, TypeBuffer)
	require.NoError(t, err)
	m.Free(a)
	assert.Equal(t, 0, m.CollectGarbage())
	assert.Equal(t, 0, m.Info().Compactions)

	c, err := m.Alloc(200, TypeBuffer)
	require.NoError(t, err)
	m.Free(c)
	assert.Equal(t, 20+m.Overhead(20)+200+m.Overhead(200), m.CollectGarbage())
	assert.Equal(t, 1, m.Info().Compactions)
}

func TestAllocFailures(t *testing.T) {
	sys.ClearWarnings()
	m := newTestManager(t, func(c *Config) {
		c.HeapSize = 256
		c.MaxHandles = 3
	})

	h, err := m.Alloc(300, TypeBuffer)
	assert.Equal(t, InvalidHandle, h)
	assert.Equal(t, ErrNoMemory, errors.Cause(err))
	assert.Equal(t, sys.WarnMemFull, sys.Warnings()&sys.WarnMemFull)

	for i := 0; i < 3; i++ {
		_, err := m.Alloc(1, TypeBuffer)
		require.NoError(t, err)
	}
	h, err = m.Alloc(1, TypeBuffer)
	assert.Equal(t, InvalidHandle, h)
	assert.Equal(t, ErrNoHandles, errors.Cause(err))
	assert.NotZero(t, sys.Warnings()&sys.WarnNoHandles)
	assert.Equal(t, 2, m.Info().Failures)

	_, err = m.Alloc(MaxBlockSize+1, TypeBuffer)
	assert.Equal(t, ErrNoMemory, errors.Cause(err))
	sys.ClearWarnings()
}

func TestFreeSpaceNeedsCompaction(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.HeapSize = 256 })
	a, err := m.Alloc(200, TypeBuffer)
	require.NoError(t, err)
	m.Free(a)
	_, err = m.Alloc(200, TypeBuffer)
	assert.Equal(t, ErrNoMemory, errors.Cause(err))
	m.Compact()
	_, err = m.Alloc(200, TypeBuffer)
	assert.NoError(t, err)
	sys.ClearWarnings()
}

func TestRealloc(t *testing.T) {
	m := newTestManager(t, nil)
	h, err := m.Alloc(16, TypeString)
	require.NoError(t, err)
	other, err := m.Alloc(8, TypeBuffer)
	require.NoError(t, err)
	fill(m.Get(h), 1)
	want := append([]byte(nil), m.Get(h)...)

	require.NoError(t, m.Realloc(h, 64))
	assert.Equal(t, 64, m.Size(h))
	assert.Equal(t, TypeString, m.Type(h))
	assert.Equal(t, want, m.Get(h)[:16])
	assert.Equal(t, make([]byte, 48), m.Get(h)[16:])
	assert.Equal(t, 2, m.Info().Handles)

	m.Compact()
	require.NoError(t, m.Verify())
	assert.Equal(t, want, m.Get(h)[:16])

	require.NoError(t, m.Realloc(h, 4))
	assert.Equal(t, want[:4], m.Get(h))

	_, err = m.Alloc(1, TypeBuffer)
	require.NoError(t, err)
	err = m.Realloc(other, 100000)
	assert.Error(t, err)
	assert.Equal(t, 8, m.Size(other))
	sys.ClearWarnings()
}

func TestAlignment(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.Align = 4 })
	h, err := m.Alloc(5, TypeBuffer)
	require.NoError(t, err)
	assert.Equal(t, 8, m.Size(h))
	h2, err := m.Alloc(1, TypeBuffer)
	require.NoError(t, err)
	assert.Equal(t, 0, m.handles[h.index()]%4)
	assert.Equal(t, 0, m.handles[h2.index()]%4)
	assert.Equal(t, 0, (m.handles[h2.index()]+m.hdrSize)%4)
	require.NoError(t, m.Verify())

	_, err = New(Config{HeapSize: 100, MaxHandles: 4, Align: 3})
	assert.True(t, errors.IsNotValid(err))
}

func TestGetCannotReachCanary(t *testing.T) {
	m := newTestManager(t, nil)
	h, err := m.Alloc(4, TypeBuffer)
	require.NoError(t, err)
	b := m.Get(h)
	b = append(b, 0xAA)
	require.NoError(t, m.Verify())
	assert.Len(t, b, 5)
}

func expectAssert(t *testing.T, f func()) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		_, ok := r.(*sys.AssertionError)
		assert.True(t, ok, "got %v", r)
	}()
	f()
}

func TestFatalConditions(t *testing.T) {
	m := newTestManager(t, nil)
	h, err := m.Alloc(10, TypeBuffer)
	require.NoError(t, err)
	m.Free(h)

	expectAssert(t, func() { m.Free(h) })
	expectAssert(t, func() { m.Get(h) })
	expectAssert(t, func() { m.Get(Handle(0)) })
	expectAssert(t, func() { m.Size(InvalidHandle) })

	h, err = m.Alloc(10, TypeBuffer)
	require.NoError(t, err)
	off := m.handles[h.index()]
	m.heap[off+m.hdrSize+10] = 0
	assert.Error(t, m.Verify())
	expectAssert(t, func() { m.Get(h) })
	expectAssert(t, func() { m.Free(h) })
}

func TestCompactionDetectsCorruption(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.Verify = false })
	a, err := m.Alloc(10, TypeBuffer)
	require.NoError(t, err)
	b, err := m.Alloc(10, TypeBuffer)
	require.NoError(t, err)
	m.Free(a)
	// An overrun of b's payload, unnoticed without per-access checks.
	m.heap[m.handles[b.index()]+m.hdrSize+10] = 0x00
	m.Get(b)
	expectAssert(t, func() { m.Compact() })
}

func TestHandleInfo(t *testing.T) {
	m := newTestManager(t, func(c *Config) { c.MaxHandles = 4 })
	a, err := m.Alloc(0x123, TypeSocket)
	require.NoError(t, err)
	b, err := m.Alloc(2, TypeThread)
	require.NoError(t, err)
	m.Free(a)

	assert.Equal(t, []HandleInfo{{Handle: b, Size: 2, Type: TypeThread}}, m.HandleInfo())

	var buf bytes.Buffer
	require.NoError(t, m.WriteHandleInfo(&buf))
	assert.Equal(t, []byte{
		0, 0, 0,
		2, 0, byte(TypeThread),
		0, 0, 0,
		0, 0, 0,
	}, buf.Bytes())
}
