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

// Package avr109 implements the AVR109 (butterfly) self-programming protocol
// used by SERIAL_BOOT, both the device side that writes into flash and the
// host side that drives it.
//
// Addresses on the wire are in 16-bit words. Block transfers carry a 16-bit
// big endian byte count and a memory type; only flash ('F') is supported.
package avr109

import (
	"github.com/juju/errors"
)

const (
	CmdEnterProgMode  = 'P'
	CmdAutoIncrement  = 'a'
	CmdSetAddress     = 'A'
	CmdChipErase      = 'e'
	CmdLeaveProgMode  = 'L'
	CmdReadSignature  = 's'
	CmdSoftwareID     = 'S'
	CmdSoftwareVer    = 'V'
	CmdExit           = 'E'
	CmdBlockSupport   = 'b'
	CmdWriteBlock     = 'B'
	CmdReadBlock      = 'g'
	MemTypeFlash      = 'F'
	RespOK            = '\r'
	RespYes           = 'Y'
	RespUnknown       = '?'
	DefaultSoftwareID = "SAPPHRE"
)

// SoftwareIDLen is the fixed length of the 'S' response.
const SoftwareIDLen = 7

var (
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrBadMemType         = errors.New("unsupported memory type")
)
