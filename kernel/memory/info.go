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
	"encoding/binary"
	"io"

	"github.com/juju/errors"
)

// Info is a snapshot of heap usage. Used + Dirty + Free == HeapSize.
type Info struct {
	HeapSize    int
	Used        int
	Dirty       int
	Free        int
	Peak        int
	Handles     int
	MaxHandles  int
	Allocs      int
	Frees       int
	Failures    int
	Compactions int
}

func (m *Manager) Info() Info {
	n := 0
	for _, off := range m.handles {
		if off >= 0 {
			n++
		}
	}
	return Info{
		HeapSize:    len(m.heap),
		Used:        m.used - m.dirty,
		Dirty:       m.dirty,
		Free:        len(m.heap) - m.used,
		Peak:        m.peak,
		Handles:     n,
		MaxHandles:  len(m.handles),
		Allocs:      m.allocs,
		Frees:       m.frees,
		Failures:    m.failures,
		Compactions: m.compactions,
	}
}

type HandleInfo struct {
	Handle Handle
	Size   int
	Type   Type
}

// HandleInfo lists the allocated handles in table order.
func (m *Manager) HandleInfo() []HandleInfo {
	var res []HandleInfo
	for i, off := range m.handles {
		if off < 0 {
			continue
		}
		size, _ := m.hdrSizeField(off)
		res = append(res, HandleInfo{Handle: handleOf(i), Size: size, Type: m.hdrType(off)})
	}
	return res
}

type handleRecord struct {
	Size uint16
	Type uint8
}

// WriteHandleInfo writes the "handleinfo" file: one packed little endian
// {size:u16, type:u8} record per handle slot, zero for free slots.
func (m *Manager) WriteHandleInfo(w io.Writer) error {
	recs := make([]handleRecord, len(m.handles))
	for i, off := range m.handles {
		if off < 0 {
			continue
		}
		size, _ := m.hdrSizeField(off)
		recs[i] = handleRecord{Size: uint16(size), Type: uint8(m.hdrType(off))}
	}
	return errors.Trace(binary.Write(w, binary.LittleEndian, recs))
}
