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

// Package flash describes page-addressed program storage.
//
// Every target exposes the same small contract: read anywhere, program a page
// that has been erased, erase a page. Internal NVM, external SPI-NOR and
// memory-mapped QSPI all fit behind Media, and the loader never sees anything
// more concrete than that.
package flash

import (
	"github.com/juju/errors"
)

const (
	// ErasedByte is the value of every byte of an erased page.
	ErasedByte = 0xFF
)

var (
	ErrOutOfRange = errors.New("access out of range")
	ErrAlignment  = errors.New("offset is not page aligned")
)

// Media is a page-addressed storage device.
type Media interface {
	// PageSize is the erase and program unit, in bytes.
	PageSize() int
	// Size is the total capacity, in bytes. Always a multiple of PageSize.
	Size() int
	// Read fills buf with the contents at offset.
	Read(offset uint32, buf []byte) error
	// WritePage programs data at a page-aligned offset. The page must have
	// been erased: programming can only clear bits. len(data) <= PageSize.
	WritePage(offset uint32, data []byte) error
	// ErasePage sets the page at a page-aligned offset to ErasedByte.
	ErasePage(offset uint32) error
}

// Pages returns the number of pages the media holds.
func Pages(m Media) int {
	return m.Size() / m.PageSize()
}

// PagesFor returns how many pages are needed to hold n bytes.
func PagesFor(m Media, n int) int {
	ps := m.PageSize()
	return (n + ps - 1) / ps
}

// EraseRange erases every page touched by [offset, offset+length).
func EraseRange(m Media, offset uint32, length int) error {
	ps := uint32(m.PageSize())
	start := offset - offset%ps
	end := offset + uint32(length)
	for addr := start; addr < end; addr += ps {
		if err := m.ErasePage(addr); err != nil {
			return errors.Annotatef(err, "erase 0x%x", addr)
		}
	}
	return nil
}

// Write erases and programs data at a page-aligned offset.
func Write(m Media, offset uint32, data []byte) error {
	ps := m.PageSize()
	if int(offset)%ps != 0 {
		return errors.Annotatef(ErrAlignment, "write 0x%x", offset)
	}
	if err := EraseRange(m, offset, len(data)); err != nil {
		return errors.Trace(err)
	}
	for i := 0; i < len(data); i += ps {
		end := i + ps
		if end > len(data) {
			end = len(data)
		}
		if err := m.WritePage(offset+uint32(i), data[i:end]); err != nil {
			return errors.Annotatef(err, "program 0x%x", offset+uint32(i))
		}
	}
	return nil
}

// ReadAll returns the whole contents of m.
func ReadAll(m Media) ([]byte, error) {
	buf := make([]byte, m.Size())
	if err := m.Read(0, buf); err != nil {
		return nil, errors.Trace(err)
	}
	return buf, nil
}

func checkRange(m Media, offset uint32, n int) error {
	if uint64(offset)+uint64(n) > uint64(m.Size()) {
		return errors.Annotatef(ErrOutOfRange, "%d @ 0x%x (size %d)", n, offset, m.Size())
	}
	return nil
}

func checkPage(m Media, offset uint32, n int) error {
	if int(offset)%m.PageSize() != 0 {
		return errors.Annotatef(ErrAlignment, "0x%x (page size %d)", offset, m.PageSize())
	}
	if n > m.PageSize() {
		return errors.Errorf("%d bytes exceed page size %d", n, m.PageSize())
	}
	return checkRange(m, offset, n)
}
