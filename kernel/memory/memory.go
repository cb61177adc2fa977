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

// Package memory is the kernel heap: a fixed arena of handle-addressed blocks
// that is periodically compacted.
//
// Blocks are laid out back to back from the start of the heap and free space
// is always one run at the end. Free only marks a block dirty; its space comes
// back when a compaction pass slides the live blocks after it down and updates
// their handle table entries. Slices returned by Get are therefore only valid
// until the next compaction, which the scheduler runs between thread steps: a
// thread must not keep one across a yield.
//
// Allocation failures are ordinary errors. Anything that indicates a corrupt
// heap (bad handle, double free, overwritten canary) is a fatal assertion.
//
// A Manager is not safe for concurrent use; the cooperative scheduler
// guarantees only one thread touches it at a time.
package memory

import (
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/common/multierror"
	"github.com/sapphireos/sapphire/kernel/sys"
)

const (
	// Canary is the byte that follows every block's payload.
	Canary = 0x47

	// MaxBlockSize is the largest payload a block header can describe.
	MaxBlockSize = 0x7fff

	dirtyBit      = 0x8000
	rawHeaderSize = 5 // size:u16 handle:u16 type:u8
	canarySize    = 1
)

var (
	ErrNoMemory  = errors.New("out of heap memory")
	ErrNoHandles = errors.New("handle table full")
)

type Config struct {
	HeapSize   int
	MaxHandles int
	// Align pads block sizes and placement; 4 on 32-bit targets, 1 on AVR.
	Align int
	// Verify checks the canary and dirty flag of a block on every access.
	Verify bool
	// CompactThreshold is how much dirty space CollectGarbage tolerates
	// before it compacts.
	CompactThreshold int
}

func DefaultConfig() Config {
	return Config{
		HeapSize:         4096,
		MaxHandles:       64,
		Align:            1,
		CompactThreshold: 128,
	}
}

type Manager struct {
	cfg     Config
	hdrSize int
	heap    []byte
	handles []int // block offsets, -1 when free

	used  int // end of the last block; free space starts here
	dirty int // bytes held by dirty blocks

	allocs      int
	frees       int
	failures    int
	compactions int
	peak        int
}

func New(cfg Config) (*Manager, error) {
	if cfg.Align == 0 {
		cfg.Align = 1
	}
	if cfg.Align&(cfg.Align-1) != 0 || cfg.Align > 8 {
		return nil, errors.NotValidf("alignment %d", cfg.Align)
	}
	if cfg.HeapSize <= 0 || cfg.HeapSize%cfg.Align != 0 {
		return nil, errors.NotValidf("heap size %d", cfg.HeapSize)
	}
	if cfg.MaxHandles <= 0 || cfg.MaxHandles > 0xffff-handleSwizzle {
		return nil, errors.NotValidf("handle count %d", cfg.MaxHandles)
	}
	m := &Manager{
		cfg:     cfg,
		hdrSize: roundUp(rawHeaderSize, cfg.Align),
		heap:    make([]byte, cfg.HeapSize),
		handles: make([]int, cfg.MaxHandles),
	}
	for i := range m.handles {
		m.handles[i] = -1
	}
	glog.V(1).Infof("heap %d bytes, %d handles, align %d", cfg.HeapSize, cfg.MaxHandles, cfg.Align)
	return m, nil
}

func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// physSize is the space a block with a size byte payload occupies.
func (m *Manager) physSize(size int) int {
	return roundUp(m.hdrSize+size+canarySize, m.cfg.Align)
}

// Overhead is the space a block takes beyond its payload.
func (m *Manager) Overhead(size int) int {
	return m.physSize(roundUp(size, m.cfg.Align)) - size
}

func (m *Manager) hdrSizeField(off int) (size int, dirty bool) {
	v := binary.LittleEndian.Uint16(m.heap[off:])
	return int(v &^ dirtyBit), v&dirtyBit != 0
}

func (m *Manager) hdrHandle(off int) int {
	return int(binary.LittleEndian.Uint16(m.heap[off+2:]))
}

func (m *Manager) hdrType(off int) Type {
	return Type(m.heap[off+4])
}

func (m *Manager) writeHeader(off, size, idx int, typ Type) {
	binary.LittleEndian.PutUint16(m.heap[off:], uint16(size))
	binary.LittleEndian.PutUint16(m.heap[off+2:], uint16(idx))
	m.heap[off+4] = byte(typ)
}

func (m *Manager) canaryOK(off int) bool {
	size, _ := m.hdrSizeField(off)
	return m.heap[off+m.hdrSize+size] == Canary
}

func (m *Manager) fail(err error) (Handle, error) {
	m.failures++
	sys.SetWarning(sys.WarnMemFull)
	if errors.Cause(err) == ErrNoHandles {
		sys.SetWarning(sys.WarnNoHandles)
	}
	glog.V(1).Infof("alloc failed: %s", err)
	return InvalidHandle, err
}

// Alloc reserves a zeroed block of size bytes. On failure it returns
// InvalidHandle with ErrNoMemory or ErrNoHandles and sets the memory full
// warning.
func (m *Manager) Alloc(size int, typ Type) (Handle, error) {
	if size < 0 {
		return InvalidHandle, errors.NotValidf("size %d", size)
	}
	size = roundUp(size, m.cfg.Align)
	if size > MaxBlockSize {
		return m.fail(errors.Annotatef(ErrNoMemory, "%d bytes exceeds block limit", size))
	}
	idx := -1
	for i, off := range m.handles {
		if off < 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return m.fail(errors.Trace(ErrNoHandles))
	}
	phys := m.physSize(size)
	if phys > len(m.heap)-m.used {
		return m.fail(errors.Annotatef(ErrNoMemory, "need %d, %d free (%d dirty)", phys, len(m.heap)-m.used, m.dirty))
	}

	off := m.used
	m.writeHeader(off, size, idx, typ)
	payload := m.heap[off+m.hdrSize : off+m.hdrSize+size]
	for i := range payload {
		payload[i] = 0
	}
	m.heap[off+m.hdrSize+size] = Canary
	m.handles[idx] = off
	m.used += phys
	m.allocs++
	if live := m.used - m.dirty; live > m.peak {
		m.peak = live
	}
	h := handleOf(idx)
	glog.V(3).Infof("alloc %s: %d bytes (%s) @ %d", h, size, typ, off)
	return h, nil
}

// lookup returns the block offset of h, asserting that h is allocated.
func (m *Manager) lookup(h Handle) int {
	idx := h.index()
	sys.Assert(idx >= 0 && idx < len(m.handles), "invalid handle %s", h)
	off := m.handles[idx]
	sys.Assert(off >= 0, "handle %s not allocated", h)
	if m.cfg.Verify {
		m.verifyBlock(h, off)
	}
	return off
}

func (m *Manager) verifyBlock(h Handle, off int) {
	_, dirty := m.hdrSizeField(off)
	sys.Assert(!dirty, "handle %s is dirty", h)
	sys.Assert(m.hdrHandle(off) == h.index(), "handle %s header mismatch", h)
	sys.Assert(m.canaryOK(off), "handle %s canary corrupt", h)
}

// Free releases h. Its space is reclaimed by the next compaction.
func (m *Manager) Free(h Handle) {
	off := m.lookup(h)
	m.verifyBlock(h, off)
	size, _ := m.hdrSizeField(off)
	binary.LittleEndian.PutUint16(m.heap[off:], uint16(size)|dirtyBit)
	m.handles[h.index()] = -1
	m.dirty += m.physSize(size)
	m.frees++
	glog.V(3).Infof("free %s: %d bytes @ %d", h, size, off)
}

// Get returns the payload of h. The slice is invalidated by compaction.
func (m *Manager) Get(h Handle) []byte {
	off := m.lookup(h)
	size, _ := m.hdrSizeField(off)
	p := off + m.hdrSize
	return m.heap[p : p+size : p+size]
}

// Size is the payload size of h, after alignment padding.
func (m *Manager) Size(h Handle) int {
	size, _ := m.hdrSizeField(m.lookup(h))
	return size
}

func (m *Manager) Type(h Handle) Type {
	return m.hdrType(m.lookup(h))
}

// Realloc moves h into a new block of size bytes, keeping as much of the old
// payload as fits. h stays valid; on error the old block is untouched.
func (m *Manager) Realloc(h Handle, size int) error {
	off := m.lookup(h)
	m.verifyBlock(h, off)
	nh, err := m.Alloc(size, m.hdrType(off))
	if err != nil {
		return errors.Trace(err)
	}
	noff := m.handles[nh.index()]
	nsize, _ := m.hdrSizeField(noff)
	osize, _ := m.hdrSizeField(off)
	copy(m.heap[noff+m.hdrSize:noff+m.hdrSize+nsize], m.heap[off+m.hdrSize:off+m.hdrSize+osize])

	// Retire the old block and the temporary handle, then point h at the
	// new block.
	m.Free(h)
	m.handles[nh.index()] = -1
	m.handles[h.index()] = noff
	binary.LittleEndian.PutUint16(m.heap[noff+2:], uint16(h.index()))
	m.frees--
	m.allocs--
	return nil
}

// CollectGarbage compacts the heap if enough dirty space has accumulated and
// returns the bytes reclaimed. Callers must not hold any slice from Get.
func (m *Manager) CollectGarbage() int {
	if m.dirty == 0 || m.dirty < m.cfg.CompactThreshold {
		return 0
	}
	return m.Compact()
}

// Compact slides every live block down over dirty ones and returns the bytes
// reclaimed. Callers must not hold any slice from Get.
func (m *Manager) Compact() int {
	if m.dirty == 0 {
		return 0
	}
	w := 0
	for r := 0; r < m.used; {
		size, dirty := m.hdrSizeField(r)
		phys := m.physSize(size)
		sys.Assert(r+phys <= m.used, "block @ %d overruns heap", r)
		if dirty {
			r += phys
			continue
		}
		idx := m.hdrHandle(r)
		sys.Assert(m.canaryOK(r), "block @ %d (handle %s) canary corrupt", r, handleOf(idx))
		sys.Assert(idx < len(m.handles) && m.handles[idx] == r, "block @ %d not owned by handle %s", r, handleOf(idx))
		if r != w {
			copy(m.heap[w:], m.heap[r:r+phys])
			m.handles[idx] = w
		}
		w += phys
		r += phys
	}
	reclaimed := m.used - w
	sys.Assert(reclaimed == m.dirty, "compaction reclaimed %d, expected %d", reclaimed, m.dirty)
	m.used = w
	m.dirty = 0
	m.compactions++
	glog.V(2).Infof("compacted: %d bytes reclaimed, %d used", reclaimed, m.used)
	return reclaimed
}

// Verify walks the heap and checks every structural invariant. All problems
// found are reported together.
func (m *Manager) Verify() error {
	var errs error
	live, dirty := 0, 0
	seen := make(map[int]bool)
	for r := 0; r < m.used; {
		size, d := m.hdrSizeField(r)
		phys := m.physSize(size)
		if r+phys > m.used {
			// Nothing past a broken size field can be trusted.
			return multierror.Append(errs, errors.Errorf("block @ %d (%d bytes) overruns used space %d", r, phys, m.used))
		}
		if d {
			dirty += phys
		} else {
			idx := m.hdrHandle(r)
			if idx >= len(m.handles) || m.handles[idx] != r {
				errs = multierror.Append(errs, errors.Errorf("block @ %d not owned by handle %s", r, handleOf(idx)))
			} else {
				seen[idx] = true
			}
			if !m.canaryOK(r) {
				errs = multierror.Append(errs, errors.Errorf("block @ %d (handle %s) canary corrupt", r, handleOf(idx)))
			}
			live += phys
		}
		r += phys
	}
	if dirty != m.dirty {
		errs = multierror.Append(errs, errors.Errorf("dirty space %d, accounted %d", dirty, m.dirty))
	}
	for i, off := range m.handles {
		if off >= 0 && !seen[i] {
			errs = multierror.Append(errs, errors.Errorf("handle %s points at %d, not a live block", handleOf(i), off))
		}
	}
	if live+dirty+(len(m.heap)-m.used) != len(m.heap) {
		errs = multierror.Append(errs, errors.Errorf("heap accounting off: live %d dirty %d free %d", live, dirty, len(m.heap)-m.used))
	}
	return errs
}
