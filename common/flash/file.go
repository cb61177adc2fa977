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
	"os"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flock "github.com/theckman/go-flock"
)

// FileMedia keeps flash contents in a regular file, so a simulated board
// survives between invocations. The file is locked for as long as the media
// is open.
type FileMedia struct {
	f        *os.File
	fl       *flock.Flock
	pageSize int
	size     int
}

// OpenFileMedia opens or creates fname. A new or short file is extended with
// erased pages up to size.
func OpenFileMedia(fname string, pageSize, size int) (*FileMedia, error) {
	if pageSize <= 0 || size%pageSize != 0 {
		return nil, errors.Errorf("%s: size %d is not a multiple of page size %d", fname, size, pageSize)
	}
	fl := flock.NewFlock(getFlockName(fname))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.Annotatef(err, "%s: failed to lock", fname)
	}
	if !locked {
		return nil, errors.Errorf("%s: in use by another process", fname)
	}
	f, err := os.OpenFile(fname, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		fl.Unlock()
		return nil, errors.Annotatef(err, "%s: failed to open", fname)
	}
	fm := &FileMedia{f: f, fl: fl, pageSize: pageSize, size: size}
	if err := fm.extend(); err != nil {
		fm.Close()
		return nil, errors.Trace(err)
	}
	return fm, nil
}

func getFlockName(fname string) string {
	return fmt.Sprint(fname, ".lock")
}

func (fm *FileMedia) extend() error {
	fi, err := fm.f.Stat()
	if err != nil {
		return errors.Trace(err)
	}
	cur := int(fi.Size())
	if cur >= fm.size {
		return nil
	}
	glog.V(1).Infof("%s: extending %d -> %d", fm.f.Name(), cur, fm.size)
	fill := make([]byte, fm.size-cur)
	for i := range fill {
		fill[i] = ErasedByte
	}
	_, err = fm.f.WriteAt(fill, int64(cur))
	return errors.Trace(err)
}

func (fm *FileMedia) PageSize() int { return fm.pageSize }
func (fm *FileMedia) Size() int     { return fm.size }

func (fm *FileMedia) Read(offset uint32, buf []byte) error {
	if err := checkRange(fm, offset, len(buf)); err != nil {
		return errors.Trace(err)
	}
	_, err := fm.f.ReadAt(buf, int64(offset))
	return errors.Annotatef(err, "%s: read %d @ 0x%x", fm.f.Name(), len(buf), offset)
}

func (fm *FileMedia) WritePage(offset uint32, data []byte) error {
	if err := checkPage(fm, offset, len(data)); err != nil {
		return errors.Trace(err)
	}
	cur := make([]byte, len(data))
	if _, err := fm.f.ReadAt(cur, int64(offset)); err != nil {
		return errors.Annotatef(err, "%s: read 0x%x", fm.f.Name(), offset)
	}
	for i, b := range data {
		cur[i] &= b
	}
	_, err := fm.f.WriteAt(cur, int64(offset))
	return errors.Annotatef(err, "%s: write 0x%x", fm.f.Name(), offset)
}

func (fm *FileMedia) ErasePage(offset uint32) error {
	if err := checkPage(fm, offset, 0); err != nil {
		return errors.Trace(err)
	}
	page := make([]byte, fm.pageSize)
	for i := range page {
		page[i] = ErasedByte
	}
	_, err := fm.f.WriteAt(page, int64(offset))
	return errors.Annotatef(err, "%s: erase 0x%x", fm.f.Name(), offset)
}

func (fm *FileMedia) Close() error {
	err := fm.f.Close()
	fm.fl.Unlock()
	return errors.Trace(err)
}
