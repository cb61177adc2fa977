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
package main

import (
	"path/filepath"

	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/bootdata"
	"github.com/sapphireos/sapphire/cli/config"
	"github.com/sapphireos/sapphire/cli/flags"
	"github.com/sapphireos/sapphire/cli/ourutil"
	"github.com/sapphireos/sapphire/common/flash"
)

func reportf(f string, args ...interface{}) {
	ourutil.Reportf(f, args...)
}

func getBoard() (*config.Board, error) {
	bs, err := config.Load(*flags.BoardsFile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return bs.Get(*flags.Board)
}

// boardState is a simulated board kept in --state-dir: one file per flash
// region plus the boot data record.
type boardState struct {
	board    *config.Board
	internal *flash.FileMedia
	external *flash.FileMedia
	recovery *flash.FileMedia
	store    *bootdata.FileStore
}

func statePath(name string) string {
	return filepath.Join(*flags.StateDir, name)
}

func openState(b *config.Board) (*boardState, error) {
	st := &boardState{
		board: b,
		store: bootStore(),
	}
	var err error
	if st.internal, err = flash.OpenFileMedia(statePath("internal.bin"), b.PageSize, b.InternalSize()); err != nil {
		return nil, errors.Trace(err)
	}
	if st.external, err = flash.OpenFileMedia(statePath("external.bin"), b.ExternalPageSize, b.ExternalSize()); err != nil {
		st.Close()
		return nil, errors.Trace(err)
	}
	if b.RecoveryPages > 0 {
		if st.recovery, err = flash.OpenFileMedia(statePath("recovery.bin"), b.ExternalPageSize, b.RecoverySize()); err != nil {
			st.Close()
			return nil, errors.Trace(err)
		}
	}
	return st, nil
}

func (st *boardState) Close() {
	for _, m := range []*flash.FileMedia{st.internal, st.external, st.recovery} {
		if m != nil {
			m.Close()
		}
	}
}

func bootStore() *bootdata.FileStore {
	return &bootdata.FileStore{Path: statePath("bootdata.bin")}
}
