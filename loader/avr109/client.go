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
	"context"
	"encoding/binary"
	"io"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Client is the host side of the protocol.
type Client struct {
	rw        io.ReadWriter
	blockSize int
}

func NewClient(rw io.ReadWriter) *Client {
	return &Client{rw: rw}
}

func (c *Client) send(b ...byte) error {
	_, err := c.rw.Write(b)
	return errors.Trace(err)
}

func (c *Client) recv(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(c.rw, b); err != nil {
		return nil, errors.Annotatef(err, "read response")
	}
	return b, nil
}

func (c *Client) expect(want byte) error {
	b, err := c.recv(1)
	if err != nil {
		return errors.Trace(err)
	}
	if b[0] != want {
		return errors.Annotatef(ErrUnexpectedResponse, "got 0x%02x, want 0x%02x", b[0], want)
	}
	return nil
}

func (c *Client) simple(cmd byte, args ...byte) error {
	if err := c.send(append([]byte{cmd}, args...)...); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(c.expect(RespOK), "%q", cmd)
}

func (c *Client) EnterProgMode() error { return c.simple(CmdEnterProgMode) }
func (c *Client) LeaveProgMode() error { return c.simple(CmdLeaveProgMode) }
func (c *Client) ChipErase() error     { return c.simple(CmdChipErase) }

// Exit ends the session; the device goes on to verify what it received.
func (c *Client) Exit() error { return c.simple(CmdExit) }

func (c *Client) SetAddress(word uint16) error {
	return c.simple(CmdSetAddress, byte(word>>8), byte(word))
}

func (c *Client) SoftwareID() (string, error) {
	if err := c.send(CmdSoftwareID); err != nil {
		return "", errors.Trace(err)
	}
	b, err := c.recv(SoftwareIDLen)
	if err != nil {
		return "", errors.Trace(err)
	}
	return strings.TrimRight(string(b), " "), nil
}

func (c *Client) Version() (string, error) {
	if err := c.send(CmdSoftwareVer); err != nil {
		return "", errors.Trace(err)
	}
	b, err := c.recv(2)
	if err != nil {
		return "", errors.Trace(err)
	}
	return string(b[0]) + "." + string(b[1]), nil
}

// Signature returns the device signature, most significant byte first.
func (c *Client) Signature() ([3]byte, error) {
	var sig [3]byte
	if err := c.send(CmdReadSignature); err != nil {
		return sig, errors.Trace(err)
	}
	b, err := c.recv(3)
	if err != nil {
		return sig, errors.Trace(err)
	}
	sig[0], sig[1], sig[2] = b[2], b[1], b[0]
	return sig, nil
}

// BlockSize queries block mode support and caches the block size.
func (c *Client) BlockSize() (int, error) {
	if c.blockSize > 0 {
		return c.blockSize, nil
	}
	if err := c.send(CmdBlockSupport); err != nil {
		return 0, errors.Trace(err)
	}
	b, err := c.recv(3)
	if err != nil {
		return 0, errors.Trace(err)
	}
	if b[0] != RespYes {
		return 0, errors.Annotatef(ErrUnexpectedResponse, "block mode not supported")
	}
	c.blockSize = int(binary.BigEndian.Uint16(b[1:]))
	if c.blockSize == 0 {
		return 0, errors.Errorf("device reported zero block size")
	}
	return c.blockSize, nil
}

func (c *Client) WriteBlock(data []byte) error {
	hdr := []byte{CmdWriteBlock, byte(len(data) >> 8), byte(len(data)), MemTypeFlash}
	if err := c.send(append(hdr, data...)...); err != nil {
		return errors.Trace(err)
	}
	return errors.Annotatef(c.expect(RespOK), "write block")
}

func (c *Client) ReadBlock(n int) ([]byte, error) {
	if err := c.send(CmdReadBlock, byte(n>>8), byte(n), MemTypeFlash); err != nil {
		return nil, errors.Trace(err)
	}
	return c.recv(n)
}

// Program erases the device and writes image from address zero, one block at
// a time. progress, if not nil, is called after every block.
func (c *Client) Program(ctx context.Context, image []byte, progress func(done, total int)) error {
	if err := c.EnterProgMode(); err != nil {
		return errors.Trace(err)
	}
	bs, err := c.BlockSize()
	if err != nil {
		return errors.Trace(err)
	}
	if err := c.ChipErase(); err != nil {
		return errors.Trace(err)
	}
	if err := c.SetAddress(0); err != nil {
		return errors.Trace(err)
	}
	glog.Infof("writing %d bytes in %d byte blocks", len(image), bs)
	for off := 0; off < len(image); off += bs {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		end := off + bs
		if end > len(image) {
			end = len(image)
		}
		if err := c.WriteBlock(image[off:end]); err != nil {
			return errors.Annotatef(err, "block @ 0x%x", off)
		}
		if progress != nil {
			progress(end, len(image))
		}
	}
	return errors.Trace(c.LeaveProgMode())
}

// ReadBack reads n bytes from address zero.
func (c *Client) ReadBack(ctx context.Context, n int) ([]byte, error) {
	bs, err := c.BlockSize()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := c.SetAddress(0); err != nil {
		return nil, errors.Trace(err)
	}
	out := make([]byte, 0, n)
	for len(out) < n {
		if err := ctx.Err(); err != nil {
			return nil, errors.Trace(err)
		}
		k := bs
		if n-len(out) < k {
			k = n - len(out)
		}
		b, err := c.ReadBlock(k)
		if err != nil {
			return nil, errors.Annotatef(err, "read @ 0x%x", len(out))
		}
		out = append(out, b...)
	}
	return out, nil
}
