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
package crc

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKnownValue(t *testing.T) {
	// CRC-16/CCITT-FALSE check value.
	if got, want := Checksum([]byte("123456789")), uint16(0x29B1); got != want {
		t.Errorf("got: 0x%04x, want: 0x%04x", got, want)
	}
}

func TestStreamingMatchesOneShot(t *testing.T) {
	data := []byte("sapphire firmware image payload")
	c := Start()
	c = Byte(c, data[0])
	c = PartialBlock(c, data[1:10])
	c = PartialBlock(c, data[10:])
	assert.Equal(t, Checksum(data), Finish(c))

	h := NewHash()
	h.Write(data[:5])
	h.Write(data[5:])
	assert.Equal(t, Checksum(data), h.Sum16())
}

func TestZeroProperty(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for _, n := range []int{0, 1, 2, 17, 256, 4093} {
		data := make([]byte, n)
		r.Read(data)
		img := Append(data)
		assert.Equalf(t, uint16(0), Checksum(img), "len %d", n)
	}
}

func TestSingleBitCorruption(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	data := make([]byte, 300)
	r.Read(data)
	img := Append(data)
	for i := 0; i < len(img); i++ {
		for bit := uint(0); bit < 8; bit++ {
			img[i] ^= 1 << bit
			assert.NotEqualf(t, uint16(0), Checksum(img), "byte %d bit %d", i, bit)
			img[i] ^= 1 << bit
		}
	}
}
