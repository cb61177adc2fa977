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
	"os"

	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/bootdata"
	"github.com/sapphireos/sapphire/cli/flags"
)

func setCommand(st *boardState, name string) error {
	cmd, err := bootdata.ParseCommand(name)
	if err != nil {
		return errors.Trace(err)
	}
	d, err := st.store.Load(false)
	if err != nil {
		return errors.Trace(err)
	}
	d.LoaderCommand = cmd
	if err := st.store.Save(d); err != nil {
		return errors.Trace(err)
	}
	reportf("Loader command set to %s", cmd)
	return nil
}

func bootData() error {
	st := &boardState{store: bootStore()}
	if *flags.Command != "" {
		if err := setCommand(st, *flags.Command); err != nil {
			return errors.Trace(err)
		}
	}
	d, err := st.store.Read()
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			reportf("No boot data in %s yet", *flags.StateDir)
			return nil
		}
		if errors.Cause(err) != bootdata.ErrCorrupt {
			return errors.Trace(err)
		}
		reportf("Boot data is corrupt, the loader will reset it")
	}
	reportf("Reboots:        %d", d.Reboots)
	reportf("Boot mode:      %s", d.BootMode)
	reportf("Loader command: %s", d.LoaderCommand)
	reportf("Loader version: %d.%d", d.LoaderVersionMajor, d.LoaderVersionMinor)
	reportf("Loader status:  %s", d.LoaderStatus)
	return nil
}
