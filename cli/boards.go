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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/cli/config"
	"github.com/sapphireos/sapphire/cli/flags"
	"github.com/sapphireos/sapphire/common/ourio"
)

func boards() error {
	bs, err := config.Load(*flags.BoardsFile)
	if err != nil {
		return errors.Trace(err)
	}
	sorted := bs.Sorted()
	if *flags.Output != "" {
		changed, err := ourio.WriteYAMLFileIfDifferent(*flags.Output, sorted, 0644)
		if err != nil {
			return errors.Trace(err)
		}
		if changed {
			reportf("Updated %s", *flags.Output)
		} else {
			reportf("Wrote %s", *flags.Output)
		}
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "NAME\tARCH\tINTERNAL\tEXTERNAL\tRECOVERY\tHEAP\tHANDLES\n")
	for _, b := range sorted {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			b.Name, b.Arch, b.InternalSize(), b.ExternalSize(), b.RecoverySize(), b.HeapSize, b.MaxHandles)
	}
	return errors.Trace(w.Flush())
}
