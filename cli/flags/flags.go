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
package flags

import (
	"time"

	flag "github.com/spf13/pflag"
)

var (
	Port       = flag.String("port", "", "Serial port where the board (or, for 'boot', the programmer) is connected")
	BaudRate   = flag.Int("baud-rate", 115200, "Serial port speed")
	Board      = flag.String("board", "xmega128a4u", "Board name, see 'sapphire boards'")
	BoardsFile = flag.String("boards-file", "", "Extra board definitions (YAML); boards.yaml next to the binary and in the current directory are read too")
	StateDir   = flag.String("state-dir", "sapphire-state", "Directory holding the simulated board: internal.bin, external.bin, recovery.bin, bootdata.bin")

	Input  = flag.StringP("input", "i", "", "Input file")
	Output = flag.StringP("output", "o", "", "Output file")

	Name      = flag.String("name", "", "Firmware name")
	FWVersion = flag.String("fw-version", "", "Firmware version")
	OSVersion = flag.String("os-version", "", "OS version the firmware was built against; default is this tool's version")
	FWID      = flag.String("fw-id", "", "Firmware ID, 32 hex digits; random if not set")

	Recovery = flag.Bool("recovery", false, "Stage into the recovery partition instead of the external one")
	Command  = flag.String("command", "", "Loader command to leave in boot data: none, load_fw, serial_boot, recovery")
	Force    = flag.Bool("force", false, "Allow firmware downgrades")
	Verify   = flag.Bool("verify", true, "Read the image back after programming")

	PowerOn          = flag.Bool("power-on", false, "Boot as after a power-on reset (boot data is cleared)")
	FullErase        = flag.Bool("full-erase", false, "Erase the whole internal region before copying an image in")
	RecheckPartition = flag.Bool("recheck-partition", true, "Recompute the external CRC on every recovery attempt")
	Attempts         = flag.Int("attempts", 5, "Recovery attempts before falling back")

	Duration = flag.Duration("duration", 5*time.Second, "How long 'run' schedules threads")
	Threads  = flag.Int("threads", 4, "Worker threads started by 'run'")
	Dump     = flag.StringSlice("dump", []string{"threadinfo"}, "Virtual files printed when 'run' ends: handleinfo, threadinfo, error_log")

	Timeout = flag.Duration("timeout", 20*time.Second, "Timeout for serial operations")
	Verbose = flag.Bool("verbose", false, "Verbose output")
)
