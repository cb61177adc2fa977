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
	"fmt"

	"github.com/juju/errors"
)

// Partition is a page-aligned window [Base, Base+Len) over another Media.
type Partition struct {
	Name  string
	media Media
	base  uint32
	size  int
}

func NewPartition(name string, m Media, base uint32, size int) (*Partition, error) {
	ps := m.PageSize()
	if int(base)%ps != 0 || size%ps != 0 {
		return nil, errors.Annotatef(ErrAlignment, "partition %s: %d @ 0x%x (page size %d)", name, size, base, ps)
	}
	if uint64(base)+uint64(size) > uint64(m.Size()) {
		return nil, errors.Annotatef(ErrOutOfRange, "partition %s: %d @ 0x%x (media size %d)", name, size, base, m.Size())
	}
	return &Partition{Name: name, media: m, base: base, size: size}, nil
}

func (p *Partition) PageSize() int { return p.media.PageSize() }
func (p *Partition) Size() int     { return p.size }
func (p *Partition) Base() uint32  { return p.base }

func (p *Partition) Read(offset uint32, buf []byte) error {
	if err := checkRange(p, offset, len(buf)); err != nil {
		return errors.Annotatef(err, "%s", p.Name)
	}
	return errors.Trace(p.media.Read(p.base+offset, buf))
}

func (p *Partition) WritePage(offset uint32, data []byte) error {
	if err := checkPage(p, offset, len(data)); err != nil {
		return errors.Annotatef(err, "%s", p.Name)
	}
	return errors.Trace(p.media.WritePage(p.base+offset, data))
}

func (p *Partition) ErasePage(offset uint32) error {
	if err := checkPage(p, offset, 0); err != nil {
		return errors.Annotatef(err, "%s", p.Name)
	}
	return errors.Trace(p.media.ErasePage(p.base + offset))
}

func (p *Partition) String() string {
	return fmt.Sprintf("%s(%d @ 0x%x)", p.Name, p.size, p.base)
}
