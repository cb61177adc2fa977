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

// Package fwimage builds and inspects firmware images.
//
// An image is code/data with an Info block at a fixed offset (the linker
// places it right after the vector table) and a two byte CRC trailer
// immediately after the declared length.
package fwimage

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/juju/errors"
)

const (
	FWIDSize = 16

	osNameSize    = 32
	osVersionSize = 16
	fwNameSize    = 32
	fwVersionSize = 16
	boardSize     = 32

	// InfoSize is the encoded size of Info.
	InfoSize = 4 + FWIDSize + osNameSize + osVersionSize + fwNameSize + fwVersionSize + boardSize
)

// FirmwareID identifies a build.
type FirmwareID [FWIDSize]byte

func (id FirmwareID) String() string {
	return hex.EncodeToString(id[:])
}

func NewFirmwareID() FirmwareID {
	var id FirmwareID
	rand.Read(id[:])
	return id
}

func ParseFirmwareID(s string) (FirmwareID, error) {
	var id FirmwareID
	b, err := hex.DecodeString(strings.Replace(s, "-", "", -1))
	if err != nil {
		return id, errors.Annotatef(err, "invalid firmware id %q", s)
	}
	if len(b) != FWIDSize {
		return id, errors.Errorf("firmware id must be %d bytes, got %d", FWIDSize, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Info is the metadata block embedded in every image.
type Info struct {
	// Length is the image length in bytes, not counting the CRC trailer.
	Length    uint32     `json:"length"`
	ID        FirmwareID `json:"-"`
	OSName    string     `json:"os_name"`
	OSVersion string     `json:"os_version"`
	Name      string     `json:"name"`
	Version   string     `json:"version"`
	Board     string     `json:"board,omitempty"`

	// Populated for display only.
	IDHex string `json:"fwid"`
}

func putString(buf *bytes.Buffer, s string, size int) {
	b := make([]byte, size)
	copy(b[:size-1], s)
	buf.Write(b)
}

func getString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// MarshalBinary encodes the block in its on-flash layout (little endian).
func (fi *Info) MarshalBinary() ([]byte, error) {
	for _, f := range []struct {
		name string
		v    string
		size int
	}{
		{"os_name", fi.OSName, osNameSize},
		{"os_version", fi.OSVersion, osVersionSize},
		{"name", fi.Name, fwNameSize},
		{"version", fi.Version, fwVersionSize},
		{"board", fi.Board, boardSize},
	} {
		if len(f.v) >= f.size {
			return nil, errors.Errorf("%s %q is too long (max %d)", f.name, f.v, f.size-1)
		}
	}
	buf := bytes.NewBuffer(make([]byte, 0, InfoSize))
	binary.Write(buf, binary.LittleEndian, fi.Length)
	buf.Write(fi.ID[:])
	putString(buf, fi.OSName, osNameSize)
	putString(buf, fi.OSVersion, osVersionSize)
	putString(buf, fi.Name, fwNameSize)
	putString(buf, fi.Version, fwVersionSize)
	putString(buf, fi.Board, boardSize)
	return buf.Bytes(), nil
}

func (fi *Info) UnmarshalBinary(b []byte) error {
	if len(b) < InfoSize {
		return errors.Errorf("info block too short (%d)", len(b))
	}
	fi.Length = binary.LittleEndian.Uint32(b)
	b = b[4:]
	copy(fi.ID[:], b)
	b = b[FWIDSize:]
	fi.OSName = getString(b[:osNameSize])
	b = b[osNameSize:]
	fi.OSVersion = getString(b[:osVersionSize])
	b = b[osVersionSize:]
	fi.Name = getString(b[:fwNameSize])
	b = b[fwNameSize:]
	fi.Version = getString(b[:fwVersionSize])
	b = b[fwVersionSize:]
	fi.Board = getString(b[:boardSize])
	fi.IDHex = fi.ID.String()
	return nil
}
