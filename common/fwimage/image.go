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
package fwimage

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/marcinbor85/gohex"

	"github.com/sapphireos/sapphire/common/crc"
	"github.com/sapphireos/sapphire/common/flash"
)

// Build lays out a bootable image: code padded so that the info block fits at
// infoOffset, info written there with the final length, then the CRC trailer.
func Build(code []byte, info Info, infoOffset int) ([]byte, error) {
	end := infoOffset + InfoSize
	img := make([]byte, len(code))
	copy(img, code)
	for len(img) < end {
		img = append(img, flash.ErasedByte)
	}
	info.Length = uint32(len(img))
	ib, err := info.MarshalBinary()
	if err != nil {
		return nil, errors.Trace(err)
	}
	copy(img[infoOffset:], ib)
	img = crc.Append(img)
	glog.V(1).Infof("built %q %s: %d bytes + trailer", info.Name, info.Version, info.Length)
	return img, nil
}

// ParseInfo decodes the info block of an image.
func ParseInfo(img []byte, infoOffset int) (*Info, error) {
	if len(img) < infoOffset+InfoSize {
		return nil, errors.Errorf("image too short for info block (%d < %d)", len(img), infoOffset+InfoSize)
	}
	var fi Info
	if err := fi.UnmarshalBinary(img[infoOffset:]); err != nil {
		return nil, errors.Trace(err)
	}
	return &fi, nil
}

// Verify reports whether img, trailer included, checksums to zero.
func Verify(img []byte) bool {
	return len(img) >= crc.TrailerSize && crc.Checksum(img) == 0
}

// Trim returns img cut to the declared length plus trailer. Images read back
// from a partition carry the rest of the partition after them.
func Trim(img []byte, infoOffset int) ([]byte, error) {
	fi, err := ParseInfo(img, infoOffset)
	if err != nil {
		return nil, errors.Trace(err)
	}
	n := uint64(fi.Length) + crc.TrailerSize
	if n > uint64(len(img)) {
		return nil, errors.Errorf("declared length %d exceeds data (%d)", fi.Length, len(img))
	}
	return img[:n], nil
}

// LoadBinary reads application code. Intel HEX files are flattened starting
// at their lowest address with gaps filled with erased bytes; anything else is
// taken verbatim.
func LoadBinary(fname string) ([]byte, error) {
	data, err := ioutil.ReadFile(fname)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if strings.ToLower(filepath.Ext(fname)) != ".hex" {
		return data, nil
	}
	return FromHex(data)
}

// FromHex flattens Intel HEX data.
func FromHex(hexData []byte) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(bytes.NewReader(hexData)); err != nil {
		return nil, errors.Annotatef(err, "error parsing hex data")
	}
	segs := mem.GetDataSegments()
	if len(segs) == 0 {
		return nil, errors.Errorf("no data in hex file")
	}
	start, end := segs[0].Address, segs[0].Address
	for _, s := range segs {
		if s.Address < start {
			start = s.Address
		}
		if e := s.Address + uint32(len(s.Data)); e > end {
			end = e
		}
	}
	if start != 0 {
		glog.Warningf("hex data starts at 0x%x, image will be based there", start)
	}
	out := make([]byte, end-start)
	for i := range out {
		out[i] = flash.ErasedByte
	}
	for _, s := range segs {
		copy(out[s.Address-start:], s.Data)
	}
	return out, nil
}
