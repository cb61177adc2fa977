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

// Package bootdata is the small record shared by the loader and the
// application across a warm reset.
//
// It is zeroed only on a power-on reset. The application writes
// LoaderCommand before requesting a reboot; the loader consumes the command
// and leaves LoaderStatus behind so the application can tell what happened
// on this boot.
package bootdata

import (
	"encoding/binary"
	"fmt"

	"github.com/juju/errors"
)

// Command is a request from the application to the loader. The values are
// deliberately unlikely so that uninitialized memory is not taken for one.
type Command uint16

const (
	CommandNone       Command = 0x0000
	CommandLoadFW     Command = 0x2012
	CommandSerialBoot Command = 0x3023
	CommandRecovery   Command = 0x4167
)

func (c Command) String() string {
	switch c {
	case CommandNone:
		return "none"
	case CommandLoadFW:
		return "load_fw"
	case CommandSerialBoot:
		return "serial_boot"
	case CommandRecovery:
		return "recovery"
	}
	return fmt.Sprintf("unknown(0x%04x)", uint16(c))
}

// ParseCommand accepts the names produced by String.
func ParseCommand(s string) (Command, error) {
	for _, c := range []Command{CommandNone, CommandLoadFW, CommandSerialBoot, CommandRecovery} {
		if c.String() == s {
			return c, nil
		}
	}
	return CommandNone, errors.NotValidf("loader command %q", s)
}

// Status is the loader's report of the last boot.
type Status uint8

const (
	StatusNormal Status = iota
	StatusNewFW
	StatusRecoveredFW
	StatusPartitionCRCBad
	StatusRecoveryMode
)

func (s Status) String() string {
	switch s {
	case StatusNormal:
		return "normal"
	case StatusNewFW:
		return "new_fw"
	case StatusRecoveredFW:
		return "recovered_fw"
	case StatusPartitionCRCBad:
		return "partition_crc_bad"
	case StatusRecoveryMode:
		return "recovery_mode"
	}
	return fmt.Sprintf("unknown(%d)", uint8(s))
}

type BootMode uint8

const (
	BootModeNormal BootMode = iota
	BootModeReboot
	BootModeFormat
)

func (m BootMode) String() string {
	switch m {
	case BootModeNormal:
		return "normal"
	case BootModeReboot:
		return "reboot"
	case BootModeFormat:
		return "format"
	}
	return fmt.Sprintf("unknown(%d)", uint8(m))
}

// Size is the packed size of Data.
const Size = 8

type Data struct {
	Reboots            uint16
	BootMode           BootMode
	LoaderCommand      Command
	LoaderVersionMajor uint8
	LoaderVersionMinor uint8
	LoaderStatus       Status
}

// MarshalBinary packs d as reboots:u16, boot_mode:u8, loader_command:u16,
// major:u8, minor:u8, status:u8, little endian.
func (d *Data) MarshalBinary() ([]byte, error) {
	return d.bytes(), nil
}

func (d *Data) bytes() []byte {
	b := make([]byte, Size)
	binary.LittleEndian.PutUint16(b[0:], d.Reboots)
	b[2] = byte(d.BootMode)
	binary.LittleEndian.PutUint16(b[3:], uint16(d.LoaderCommand))
	b[5] = d.LoaderVersionMajor
	b[6] = d.LoaderVersionMinor
	b[7] = byte(d.LoaderStatus)
	return b
}

func (d *Data) UnmarshalBinary(b []byte) error {
	if len(b) < Size {
		return errors.Errorf("boot data too short (%d)", len(b))
	}
	d.Reboots = binary.LittleEndian.Uint16(b[0:])
	d.BootMode = BootMode(b[2])
	d.LoaderCommand = Command(binary.LittleEndian.Uint16(b[3:]))
	d.LoaderVersionMajor = b[5]
	d.LoaderVersionMinor = b[6]
	d.LoaderStatus = Status(b[7])
	return nil
}

func (d Data) String() string {
	return fmt.Sprintf("reboots=%d mode=%s command=%s loader=%d.%d status=%s",
		d.Reboots, d.BootMode, d.LoaderCommand, d.LoaderVersionMajor, d.LoaderVersionMinor, d.LoaderStatus)
}
