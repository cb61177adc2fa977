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

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/common/flash"
)

// Server is the device side: it answers programmer commands and writes blocks
// into m.
type Server struct {
	rw io.ReadWriter
	m  flash.Media

	kick      func()
	signature [3]byte
	swID      string
	version   [2]byte

	addr     uint32 // word address
	progMode bool
}

type ServerOption func(*Server)

// WithKick sets the function called after every flash page operation.
func WithKick(kick func()) ServerOption {
	return func(s *Server) {
		s.kick = kick
	}
}

// WithSignature sets the device signature reported by 's', most significant
// byte first.
func WithSignature(sig [3]byte) ServerOption {
	return func(s *Server) {
		s.signature = sig
	}
}

func WithSoftwareID(id string) ServerOption {
	return func(s *Server) {
		s.swID = id
	}
}

func NewServer(rw io.ReadWriter, m flash.Media, opts ...ServerOption) *Server {
	s := &Server{
		rw:        rw,
		m:         m,
		kick:      func() {},
		signature: [3]byte{0x1e, 0xa7, 0x01},
		swID:      DefaultSoftwareID,
		version:   [2]byte{'1', '0'},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve handles commands until the programmer sends 'E'. The context is
// checked between commands; a read blocked on the link is not interrupted.
func (s *Server) Serve(ctx context.Context) error {
	var cmd [1]byte
	for {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		if _, err := io.ReadFull(s.rw, cmd[:]); err != nil {
			return errors.Annotatef(err, "read command")
		}
		glog.V(2).Infof("avr109 cmd %q", cmd[0])
		done, err := s.handle(cmd[0])
		if err != nil {
			return errors.Annotatef(err, "command %q", cmd[0])
		}
		if done {
			return nil
		}
	}
}

func (s *Server) reply(b ...byte) error {
	_, err := s.rw.Write(b)
	return errors.Trace(err)
}

func (s *Server) args(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := io.ReadFull(s.rw, b)
	return b, errors.Trace(err)
}

func (s *Server) handle(cmd byte) (bool, error) {
	switch cmd {
	case CmdEnterProgMode:
		s.progMode = true
		return false, s.reply(RespOK)

	case CmdLeaveProgMode:
		s.progMode = false
		return false, s.reply(RespOK)

	case CmdAutoIncrement:
		return false, s.reply(RespYes)

	case CmdSetAddress:
		a, err := s.args(2)
		if err != nil {
			return false, err
		}
		s.addr = uint32(binary.BigEndian.Uint16(a))
		return false, s.reply(RespOK)

	case CmdChipErase:
		for i := 0; i < flash.Pages(s.m); i++ {
			if err := s.m.ErasePage(uint32(i * s.m.PageSize())); err != nil {
				return false, errors.Annotatef(err, "erase page %d", i)
			}
			s.kick()
		}
		glog.Infof("chip erase: %d pages", flash.Pages(s.m))
		return false, s.reply(RespOK)

	case CmdReadSignature:
		return false, s.reply(s.signature[2], s.signature[1], s.signature[0])

	case CmdSoftwareID:
		id := []byte(s.swID)
		for len(id) < SoftwareIDLen {
			id = append(id, ' ')
		}
		return false, s.reply(id[:SoftwareIDLen]...)

	case CmdSoftwareVer:
		return false, s.reply(s.version[0], s.version[1])

	case CmdBlockSupport:
		ps := uint16(s.m.PageSize())
		return false, s.reply(RespYes, byte(ps>>8), byte(ps))

	case CmdWriteBlock:
		return false, s.writeBlock()

	case CmdReadBlock:
		return false, s.readBlock()

	case CmdExit:
		glog.Infof("programmer exit")
		return true, s.reply(RespOK)
	}
	glog.V(1).Infof("unknown command %q", cmd)
	return false, s.reply(RespUnknown)
}

func (s *Server) blockHeader() (int, byte, error) {
	h, err := s.args(3)
	if err != nil {
		return 0, 0, err
	}
	return int(binary.BigEndian.Uint16(h)), h[2], nil
}

func (s *Server) writeBlock() error {
	n, memType, err := s.blockHeader()
	if err != nil {
		return err
	}
	data, err := s.args(n)
	if err != nil {
		return err
	}
	if memType != MemTypeFlash || !s.progMode {
		return s.reply(RespUnknown)
	}
	off := s.addr * 2
	if err := s.program(off, data); err != nil {
		glog.Warningf("block write 0x%x failed: %s", off, err)
		return s.reply(RespUnknown)
	}
	s.addr += uint32((n + 1) / 2)
	return s.reply(RespOK)
}

// program merges data into every page it touches.
func (s *Server) program(off uint32, data []byte) error {
	ps := uint32(s.m.PageSize())
	page := make([]byte, ps)
	for len(data) > 0 {
		base := off - off%ps
		if err := s.m.Read(base, page); err != nil {
			return errors.Trace(err)
		}
		n := copy(page[off-base:], data)
		if err := s.m.ErasePage(base); err != nil {
			return errors.Trace(err)
		}
		if err := s.m.WritePage(base, page); err != nil {
			return errors.Trace(err)
		}
		s.kick()
		off += uint32(n)
		data = data[n:]
	}
	return nil
}

func (s *Server) readBlock() error {
	n, memType, err := s.blockHeader()
	if err != nil {
		return err
	}
	if memType != MemTypeFlash {
		return s.reply(RespUnknown)
	}
	off := s.addr * 2
	buf := make([]byte, n)
	if uint64(off)+uint64(n) <= uint64(s.m.Size()) {
		if err := s.m.Read(off, buf); err != nil {
			return errors.Trace(err)
		}
	} else {
		for i := range buf {
			buf[i] = flash.ErasedByte
		}
	}
	s.addr += uint32((n + 1) / 2)
	return s.reply(buf...)
}
