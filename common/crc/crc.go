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

// Package crc implements the streaming CRC-16 used for firmware images and
// retained boot data.
//
// The checksum is CRC-16 with polynomial 0x1021, initial value 0xFFFF,
// MSB-first and no final xor. Because there is no final xor, running the
// checksum over a message followed by its own big-endian trailer yields zero,
// which is how image validity is expressed throughout the loader.
package crc

const (
	Polynomial = 0x1021
	InitValue  = 0xFFFF

	// TrailerSize is the number of check bytes appended to a message.
	TrailerSize = 2
)

var table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		c := uint16(i) << 8
		for b := 0; b < 8; b++ {
			if c&0x8000 != 0 {
				c = (c << 1) ^ Polynomial
			} else {
				c <<= 1
			}
		}
		table[i] = c
	}
}

// Start returns the initial running value.
func Start() uint16 {
	return InitValue
}

// Byte feeds a single byte into the running value.
func Byte(crc uint16, b byte) uint16 {
	return (crc << 8) ^ table[byte(crc>>8)^b]
}

// PartialBlock feeds data into the running value.
func PartialBlock(crc uint16, data []byte) uint16 {
	for _, b := range data {
		crc = (crc << 8) ^ table[byte(crc>>8)^b]
	}
	return crc
}

// Finish completes the computation. It is the identity for this variant but
// is kept so callers read the same regardless of the parameters in use.
func Finish(crc uint16) uint16 {
	return crc
}

// Checksum computes the CRC of data in one call.
func Checksum(data []byte) uint16 {
	return Finish(PartialBlock(Start(), data))
}

// Trailer returns the check bytes that make Checksum(data || trailer) == 0.
func Trailer(crc uint16) [TrailerSize]byte {
	return [TrailerSize]byte{byte(crc >> 8), byte(crc)}
}

// Append returns data with its trailer appended.
func Append(data []byte) []byte {
	t := Trailer(Checksum(data))
	return append(data, t[:]...)
}

// Hash is an incremental form of the engine that can sit behind io.Writer.
type Hash struct {
	crc uint16
}

func NewHash() *Hash {
	return &Hash{crc: Start()}
}

func (h *Hash) Write(p []byte) (int, error) {
	h.crc = PartialBlock(h.crc, p)
	return len(p), nil
}

func (h *Hash) Sum16() uint16 {
	return Finish(h.crc)
}

func (h *Hash) Reset() {
	h.crc = Start()
}
