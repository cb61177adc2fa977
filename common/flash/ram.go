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
package flash

import (
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// RAMMedia is NOR flash emulated in memory. Programming ANDs data into the
// page, so writing over unerased data corrupts it the same way real parts do.
type RAMMedia struct {
	mu       sync.Mutex
	pageSize int
	data     []byte

	// Writes and Erases count page operations.
	Writes int
	Erases int

	// FailAfterWrites, when positive, makes the Nth subsequent WritePage fail.
	FailAfterWrites int
}

func NewRAMMedia(pageSize, pages int) *RAMMedia {
	m := &RAMMedia{
		pageSize: pageSize,
		data:     make([]byte, pageSize*pages),
	}
	for i := range m.data {
		m.data[i] = ErasedByte
	}
	return m
}

func (m *RAMMedia) PageSize() int { return m.pageSize }
func (m *RAMMedia) Size() int     { return len(m.data) }

func (m *RAMMedia) Read(offset uint32, buf []byte) error {
	if err := checkRange(m, offset, len(buf)); err != nil {
		return errors.Trace(err)
	}
	m.mu.Lock()
	copy(buf, m.data[offset:])
	m.mu.Unlock()
	return nil
}

func (m *RAMMedia) WritePage(offset uint32, data []byte) error {
	if err := checkPage(m, offset, len(data)); err != nil {
		return errors.Trace(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAfterWrites > 0 {
		m.FailAfterWrites--
		if m.FailAfterWrites == 0 {
			return errors.Errorf("program failed @ 0x%x", offset)
		}
	}
	for i, b := range data {
		m.data[int(offset)+i] &= b
	}
	m.Writes++
	glog.V(4).Infof("write %d @ 0x%x", len(data), offset)
	return nil
}

func (m *RAMMedia) ErasePage(offset uint32) error {
	if err := checkPage(m, offset, 0); err != nil {
		return errors.Trace(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	page := m.data[offset : int(offset)+m.pageSize]
	for i := range page {
		page[i] = ErasedByte
	}
	m.Erases++
	glog.V(4).Infof("erase @ 0x%x", offset)
	return nil
}

// Bytes exposes the backing array. Tests use it to corrupt images in place.
func (m *RAMMedia) Bytes() []byte {
	return m.data
}
