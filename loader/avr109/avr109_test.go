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
package avr109

import (
	"bytes"
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapphireos/sapphire/common/flash"
)

func startServer(t *testing.T, m flash.Media, opts ...ServerOption) (*Client, chan error) {
	host, dev := net.Pipe()
	t.Cleanup(func() {
		host.Close()
		dev.Close()
	})
	done := make(chan error, 1)
	go func() {
		done <- NewServer(dev, m, opts...).Serve(context.Background())
	}()
	return NewClient(host), done
}

func TestIdentify(t *testing.T) {
	m := flash.NewRAMMedia(128, 8)
	c, done := startServer(t, m, WithSignature([3]byte{0x1e, 0x97, 0x02}))

	id, err := c.SoftwareID()
	require.NoError(t, err)
	assert.Equal(t, DefaultSoftwareID, id)

	v, err := c.Version()
	require.NoError(t, err)
	assert.Equal(t, "1.0", v)

	sig, err := c.Signature()
	require.NoError(t, err)
	assert.Equal(t, [3]byte{0x1e, 0x97, 0x02}, sig)

	bs, err := c.BlockSize()
	require.NoError(t, err)
	assert.Equal(t, 128, bs)

	require.NoError(t, c.Exit())
	assert.NoError(t, <-done)
}

func TestProgramAndReadBack(t *testing.T) {
	m := flash.NewRAMMedia(64, 16)
	// Stale contents must not survive programming.
	for i := range m.Bytes() {
		m.Bytes()[i] = 0x00
	}
	kicks := 0
	c, done := startServer(t, m, WithKick(func() { kicks++ }))

	img := make([]byte, 200)
	for i := range img {
		img[i] = byte(i * 7)
	}
	var last int
	require.NoError(t, c.Program(context.Background(), img, func(done, total int) {
		assert.Equal(t, len(img), total)
		last = done
	}))
	assert.Equal(t, len(img), last)

	rb, err := c.ReadBack(context.Background(), len(img))
	require.NoError(t, err)
	assert.Equal(t, img, rb)
	require.NoError(t, c.Exit())
	require.NoError(t, <-done)

	assert.Equal(t, img, m.Bytes()[:len(img)])
	assert.Equal(t, bytes.Repeat([]byte{0xFF}, 56), m.Bytes()[200:256])
	assert.True(t, kicks >= flash.Pages(m))
}

func TestUnknownCommand(t *testing.T) {
	m := flash.NewRAMMedia(64, 4)
	c, done := startServer(t, m)

	require.NoError(t, c.send('X'))
	b, err := c.recv(1)
	require.NoError(t, err)
	assert.Equal(t, byte(RespUnknown), b[0])

	// Block writes outside programming mode are refused.
	err = c.WriteBlock([]byte{1, 2})
	assert.Error(t, err)

	require.NoError(t, c.Exit())
	assert.NoError(t, <-done)
}

func TestServeEOF(t *testing.T) {
	host, dev := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- NewServer(dev, flash.NewRAMMedia(64, 4)).Serve(context.Background())
	}()
	host.Close()
	assert.Error(t, <-done)
}
