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
package loader

import (
	"context"
	"encoding/binary"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/common/crc"
	"github.com/sapphireos/sapphire/common/flash"
)

// ImageLength returns how many bytes of m make up the image: the stored file
// length plus the CRC trailer, clamped to the capacity of m. Whatever an
// erased or corrupt partition holds in its length field, the result never
// points past the end of the media.
func ImageLength(m flash.Media, infoOffset int) (int, error) {
	var b [4]byte
	if err := m.Read(uint32(infoOffset), b[:]); err != nil {
		return 0, errors.Annotatef(err, "read length")
	}
	stored := binary.LittleEndian.Uint32(b[:])
	total := uint64(stored) + crc.TrailerSize
	max := uint64(flash.Pages(m) * m.PageSize())
	if total > max {
		glog.V(1).Infof("image length %d clamped to %d", total, max)
		total = max
	}
	return int(total), nil
}

// CRCImage checksums the first length bytes of m a page at a time, calling
// kick after every page. A result of zero means the image is intact.
func CRCImage(ctx context.Context, m flash.Media, length int, kick func()) (uint16, error) {
	ps := m.PageSize()
	buf := make([]byte, ps)
	c := crc.Start()
	for off := 0; off < length; off += ps {
		if err := ctx.Err(); err != nil {
			return 0, errors.Trace(err)
		}
		n := ps
		if off+n > length {
			n = length - off
		}
		if err := m.Read(uint32(off), buf[:n]); err != nil {
			return 0, errors.Annotatef(err, "crc read 0x%x", off)
		}
		c = crc.PartialBlock(c, buf[:n])
		kick()
	}
	return crc.Finish(c), nil
}

// CopyImage erases dst and copies length bytes of src into it page by page,
// kicking the watchdog after every page. It does not verify the result; the
// caller must recompute the destination CRC.
func CopyImage(ctx context.Context, dst, src flash.Media, length int, fullErase bool, kick func()) error {
	if length > dst.Size() {
		return errors.Annotatef(flash.ErrOutOfRange, "copy %d bytes into %d", length, dst.Size())
	}
	erasePages := flash.PagesFor(dst, length)
	if fullErase {
		erasePages = flash.Pages(dst)
	}
	dps := dst.PageSize()
	glog.V(1).Infof("erasing %d of %d pages", erasePages, flash.Pages(dst))
	for i := 0; i < erasePages; i++ {
		if err := dst.ErasePage(uint32(i * dps)); err != nil {
			return errors.Annotatef(err, "erase page %d", i)
		}
		kick()
	}

	buf := make([]byte, dps)
	for off := 0; off < length; off += dps {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		n := dps
		if off+n > length {
			n = length - off
		}
		if err := src.Read(uint32(off), buf[:n]); err != nil {
			return errors.Annotatef(err, "copy read 0x%x", off)
		}
		if err := dst.WritePage(uint32(off), buf[:n]); err != nil {
			return errors.Annotatef(err, "copy write 0x%x", off)
		}
		glog.V(3).Infof("copied %d @ 0x%x", n, off)
		kick()
	}
	return nil
}
