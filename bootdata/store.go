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
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/common/crc"
	"github.com/sapphireos/sapphire/common/ourio"
)

var ErrCorrupt = errors.New("boot data checksum invalid")

// Store is the retained region holding Data.
type Store interface {
	// Load returns the current record. powerOn reports a cold start, in which
	// case the record is reset to zero regardless of its contents.
	Load(powerOn bool) (Data, error)
	Save(d Data) error
}

// RAMStore models a no-init RAM section: contents survive anything except a
// power-on reset.
type RAMStore struct {
	mu sync.Mutex
	d  Data
}

func (s *RAMStore) Load(powerOn bool) (Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if powerOn {
		s.d = Data{}
	}
	return s.d, nil
}

func (s *RAMStore) Save(d Data) error {
	s.mu.Lock()
	s.d = d
	s.mu.Unlock()
	return nil
}

// FileStore keeps the record in a file, guarded by a CRC trailer, for targets
// without a retained RAM section (and for the simulated board). A bad
// checksum is treated like a power-on reset.
type FileStore struct {
	Path string
}

func (s *FileStore) Load(powerOn bool) (Data, error) {
	var d Data
	if powerOn {
		glog.V(1).Infof("%s: power-on reset, clearing boot data", s.Path)
		return d, errors.Trace(s.Save(d))
	}
	b, err := ioutil.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, errors.Trace(s.Save(d))
		}
		return d, errors.Trace(err)
	}
	if len(b) != Size+crc.TrailerSize || crc.Checksum(b) != 0 {
		glog.Warningf("%s: %s, resetting", s.Path, ErrCorrupt)
		return d, errors.Trace(s.Save(d))
	}
	if err := d.UnmarshalBinary(b); err != nil {
		return d, errors.Trace(err)
	}
	return d, nil
}

func (s *FileStore) Save(d Data) error {
	return errors.Trace(ourio.WriteFileAtomic(s.Path, crc.Append(d.bytes()), 0644))
}

// Read returns the stored record without the reset semantics of Load. A
// corrupt file yields ErrCorrupt.
func (s *FileStore) Read() (Data, error) {
	var d Data
	b, err := ioutil.ReadFile(s.Path)
	if err != nil {
		return d, errors.Trace(err)
	}
	if len(b) != Size+crc.TrailerSize || crc.Checksum(b) != 0 {
		return d, errors.Trace(ErrCorrupt)
	}
	return d, errors.Trace(d.UnmarshalBinary(b))
}
