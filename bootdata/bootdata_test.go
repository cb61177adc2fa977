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
package bootdata

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapphireos/sapphire/common/crc"
)

func TestLayout(t *testing.T) {
	d := Data{
		Reboots:            0x0102,
		BootMode:           BootModeReboot,
		LoaderCommand:      CommandLoadFW,
		LoaderVersionMajor: 3,
		LoaderVersionMinor: 7,
		LoaderStatus:       StatusPartitionCRCBad,
	}
	b, err := d.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x01, 0x01, 0x12, 0x20, 3, 7, 3}, b)

	var d2 Data
	require.NoError(t, d2.UnmarshalBinary(b))
	assert.Equal(t, d, d2)
}

func TestCodes(t *testing.T) {
	assert.Equal(t, uint16(0x3023), uint16(CommandSerialBoot))
	assert.Equal(t, uint16(0x4167), uint16(CommandRecovery))
	assert.Equal(t, uint8(4), uint8(StatusRecoveryMode))
	c, err := ParseCommand("load_fw")
	require.NoError(t, err)
	assert.Equal(t, CommandLoadFW, c)
	_, err = ParseCommand("bogus")
	assert.True(t, errors.IsNotValid(err))
}

func TestRAMStore(t *testing.T) {
	s := &RAMStore{}
	require.NoError(t, s.Save(Data{Reboots: 5, LoaderCommand: CommandLoadFW}))
	d, err := s.Load(false)
	require.NoError(t, err)
	assert.Equal(t, uint16(5), d.Reboots)

	d, err = s.Load(true)
	require.NoError(t, err)
	assert.Equal(t, Data{}, d)
}

func TestFileStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "bootdata")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	s := &FileStore{Path: filepath.Join(dir, "bootdata.bin")}

	d, err := s.Load(false)
	require.NoError(t, err)
	assert.Equal(t, Data{}, d)

	want := Data{Reboots: 2, LoaderCommand: CommandRecovery, LoaderStatus: StatusNewFW}
	require.NoError(t, s.Save(want))
	d, err = s.Load(false)
	require.NoError(t, err)
	assert.Equal(t, want, d)

	// Corrupt the record: the checksum guard resets it.
	b, err := ioutil.ReadFile(s.Path)
	require.NoError(t, err)
	b[0] ^= 0xFF
	require.NoError(t, ioutil.WriteFile(s.Path, b, 0644))
	_, err = s.Read()
	assert.Equal(t, ErrCorrupt, errors.Cause(err))
	d, err = s.Load(false)
	require.NoError(t, err)
	assert.Equal(t, Data{}, d)

	require.NoError(t, s.Save(want))
	d, err = s.Load(true)
	require.NoError(t, err)
	assert.Equal(t, Data{}, d)
}

func TestFileStoreLayout(t *testing.T) {
	dir, err := ioutil.TempDir("", "bootdata")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	s := &FileStore{Path: filepath.Join(dir, "sub", "bootdata.bin")}

	d := Data{Reboots: 7, BootMode: BootModeFormat, LoaderCommand: CommandSerialBoot, LoaderStatus: StatusRecoveryMode}
	require.NoError(t, s.Save(d))
	b, err := ioutil.ReadFile(s.Path)
	require.NoError(t, err)
	want, err := d.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, Size+crc.TrailerSize)
	assert.Equal(t, want, b[:Size])
	assert.Equal(t, uint16(0), crc.Checksum(b))
}
