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

// Package config holds board definitions: the flash geometry and kernel
// parameters of each target.
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/kardianos/osext"
	yaml "gopkg.in/yaml.v2"
)

const BoardsFileName = "boards.yaml"

type Board struct {
	Name string `yaml:"name"`
	// Arch is avr8, xmega, esp8266 or esp32.
	Arch     string `yaml:"arch"`
	PageSize int    `yaml:"page_size"`
	// AppPages is the size of the internal (bootable) region in pages.
	AppPages int `yaml:"app_pages"`
	// ExternalPages and RecoveryPages size the partitions in external
	// flash; ExternalPageSize is their erase unit.
	ExternalPageSize int `yaml:"external_page_size"`
	ExternalPages    int `yaml:"external_pages"`
	RecoveryPages    int `yaml:"recovery_pages,omitempty"`
	InfoOffset       int `yaml:"info_offset"`

	HeapSize   int `yaml:"heap_size"`
	MaxHandles int `yaml:"max_handles"`
	Align      int `yaml:"align"`

	// Signature is reported by the serial programmer, most significant
	// byte first.
	Signature []byte `yaml:"signature,omitempty"`
}

func (b *Board) InternalSize() int { return b.PageSize * b.AppPages }
func (b *Board) ExternalSize() int { return b.ExternalPageSize * b.ExternalPages }
func (b *Board) RecoverySize() int { return b.ExternalPageSize * b.RecoveryPages }

func (b *Board) Validate() error {
	switch {
	case b.Name == "":
		return errors.NotValidf("board without a name")
	case b.PageSize <= 0 || b.AppPages <= 0:
		return errors.NotValidf("%s: internal geometry %dx%d", b.Name, b.AppPages, b.PageSize)
	case b.ExternalPageSize <= 0 || b.ExternalPages <= 0:
		return errors.NotValidf("%s: external geometry %dx%d", b.Name, b.ExternalPages, b.ExternalPageSize)
	case b.ExternalSize() < b.InternalSize():
		return errors.NotValidf("%s: external partition smaller than internal region", b.Name)
	case b.InfoOffset < 0 || b.InfoOffset+4 > b.InternalSize():
		return errors.NotValidf("%s: info offset 0x%x", b.Name, b.InfoOffset)
	case b.Signature != nil && len(b.Signature) != 3:
		return errors.NotValidf("%s: signature must be 3 bytes", b.Name)
	}
	return nil
}

// Builtin boards. Files read by Load extend and override these.
const builtinBoards = `
- name: atmega128rfa1
  arch: avr8
  page_size: 256
  app_pages: 480
  external_page_size: 4096
  external_pages: 32
  info_offset: 0x120
  heap_size: 4096
  max_handles: 64
  align: 1
  signature: [0x1e, 0xa7, 0x01]
- name: xmega128a4u
  arch: xmega
  page_size: 256
  app_pages: 512
  external_page_size: 4096
  external_pages: 32
  recovery_pages: 32
  info_offset: 0x1FC
  heap_size: 5120
  max_handles: 96
  align: 1
  signature: [0x1e, 0x97, 0x46]
- name: esp8266
  arch: esp8266
  page_size: 4096
  app_pages: 128
  external_page_size: 4096
  external_pages: 128
  info_offset: 0x120
  heap_size: 16384
  max_handles: 160
  align: 4
- name: esp32
  arch: esp32
  page_size: 4096
  app_pages: 512
  external_page_size: 4096
  external_pages: 512
  recovery_pages: 512
  info_offset: 0x120
  heap_size: 32768
  max_handles: 256
  align: 4
`

// Boards is a set of boards by name.
type Boards map[string]*Board

func parse(data []byte, into Boards) error {
	var list []*Board
	if err := yaml.Unmarshal(data, &list); err != nil {
		return errors.Trace(err)
	}
	for _, b := range list {
		if err := b.Validate(); err != nil {
			return errors.Trace(err)
		}
		into[b.Name] = b
	}
	return nil
}

// Builtin returns the boards compiled in.
func Builtin() Boards {
	bs := Boards{}
	if err := parse([]byte(builtinBoards), bs); err != nil {
		panic(err)
	}
	return bs
}

// Load returns the builtin boards extended by boards.yaml next to the
// executable, boards.yaml in the current directory and extra, in that order.
func Load(extra string) (Boards, error) {
	bs := Builtin()
	var files []string
	if dir, err := osext.ExecutableFolder(); err == nil {
		files = append(files, filepath.Join(dir, BoardsFileName))
	}
	files = append(files, BoardsFileName)
	for _, f := range files {
		data, err := ioutil.ReadFile(f)
		if err != nil {
			if !os.IsNotExist(err) {
				glog.Warningf("%s: %s", f, err)
			}
			continue
		}
		glog.V(1).Infof("reading boards from %s", f)
		if err := parse(data, bs); err != nil {
			return nil, errors.Annotatef(err, "%s", f)
		}
	}
	if extra != "" {
		data, err := ioutil.ReadFile(extra)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err := parse(data, bs); err != nil {
			return nil, errors.Annotatef(err, "%s", extra)
		}
	}
	return bs, nil
}

func (bs Boards) Get(name string) (*Board, error) {
	b, ok := bs[name]
	if !ok {
		return nil, errors.NotFoundf("board %q", name)
	}
	return b, nil
}

// Sorted returns the boards ordered by name.
func (bs Boards) Sorted() []*Board {
	res := make([]*Board, 0, len(bs))
	for _, b := range bs {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}
