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
	goflag "flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/sapphireos/sapphire/common/multierror"
	"github.com/sapphireos/sapphire/common/pflagenv"
	"github.com/sapphireos/sapphire/version"
)

const (
	envPrefix = "SAPPHIRE_"
)

var (
	versionFlag = flag.Bool("version", false, "Print version and exit")
	helpFull    = flag.Bool("helpfull", false, "Show full help, including advanced flags")
)

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string
}

type handler func() error

var commands []command

func init() {
	commands = []command{
		{"mkimage", mkImage, `Wrap application code into a bootable image (info block + CRC)`, []string{"input", "output", "name", "fw-version"}, []string{"board", "os-version", "fw-id"}},
		{"image-info", imageInfo, `Show the info block of an image and check its CRC`, []string{"input"}, []string{"board"}},
		{"stage", stage, `Write an image into the simulated board's external (or recovery) partition`, []string{"input"}, []string{"board", "state-dir", "recovery", "force"}},
		{"bootdata", bootData, `Show boot data, or leave a loader command with --command`, []string{}, []string{"state-dir", "command"}},
		{"boot", boot, `Run the bootloader against the simulated board`, []string{}, []string{"board", "state-dir", "power-on", "full-erase", "recheck-partition", "attempts", "port"}},
		{"program", program, `Program an image through a board's serial bootloader`, []string{"input", "port"}, []string{"board", "baud-rate", "timeout", "verify"}},
		{"run", runKernel, `Run the kernel with a demo workload and dump its virtual files`, []string{}, []string{"board", "state-dir", "duration", "threads", "dump"}},
		{"boards", boards, `List known boards, or write them as YAML with --output`, []string{}, []string{"boards-file", "output"}},
	}
}

func findCommand(name string) *command {
	for i := range commands {
		if commands[i].name == name {
			return &commands[i]
		}
	}
	return nil
}

// missing reports every required flag of c that was not given on fs.
func (c *command) missing(fs *flag.FlagSet) error {
	var errs error
	for _, name := range c.required {
		f := fs.Lookup(name)
		switch {
		case f == nil:
			errs = multierror.Append(errs, errors.Errorf("%s: unknown flag --%s", c.name, name))
		case !f.Changed:
			errs = multierror.Append(errs, errors.Errorf("--%s is required (%s)", name, f.Usage))
		}
	}
	return errs
}

func (c *command) writeHelp(w io.Writer, fs *flag.FlagSet) {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "%s %s [flags]\n\n%s\n\nFlags:\n", os.Args[0], c.name, c.short)
	for _, name := range c.required {
		describeFlag(tw, fs, name, true)
	}
	for _, name := range c.optional {
		describeFlag(tw, fs, name, false)
	}
	tw.Flush()
}

func describeFlag(w io.Writer, fs *flag.FlagSet, name string, required bool) {
	f := fs.Lookup(name)
	if f == nil {
		return
	}
	arg := ""
	if t := f.Value.Type(); t != "bool" {
		arg = " <" + t + ">"
	}
	if required {
		fmt.Fprintf(w, "  --%s%s\t%s (required)\n", name, arg, f.Usage)
	} else {
		fmt.Fprintf(w, "  --%s%s\t%s (default %q)\n", name, arg, f.Usage, f.DefValue)
	}
}

func writeUsage(w io.Writer, fs *flag.FlagSet, full bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintf(tw, "The SapphireOS command line tool %s.\n", version.Version)
	if !version.LooksLikeVersionNumber(version.Version) {
		color.New(color.FgYellow).Fprintf(tw, "Development build %s.\n", version.BuildId)
	}
	fmt.Fprintf(tw, "Usage:\n  %[1]s <command> [flags]\n  %[1]s help <command>\n\nCommands:\n", os.Args[0])
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.name, c.short)
	}
	fmt.Fprintf(tw, "\nGlobal flags:\n")
	if full {
		fmt.Fprint(tw, fs.FlagUsages())
	} else {
		describeFlag(tw, fs, "verbose", false)
		describeFlag(tw, fs, "helpfull", false)
	}
	tw.Flush()
}

// usage prints help for the command named after "help", or the overview.
func usage() {
	if flag.NArg() == 2 && flag.Arg(0) == "help" {
		if c := findCommand(flag.Arg(1)); c != nil {
			c.writeHelp(os.Stderr, flag.CommandLine)
			return
		}
	}
	writeUsage(os.Stderr, flag.CommandLine, *helpFull)
}

// addGlogFlags merges glog's flags into fs. They stay hidden until showGlogFlags.
func addGlogFlags(fs *flag.FlagSet) {
	fs.AddGoFlagSet(goflag.CommandLine)
	setGlogFlagsHidden(fs, true)
}

func showGlogFlags(fs *flag.FlagSet) {
	setGlogFlagsHidden(fs, false)
}

func setGlogFlagsHidden(fs *flag.FlagSet, hidden bool) {
	goflag.CommandLine.VisitAll(func(gf *goflag.Flag) {
		if f := fs.Lookup(gf.Name); f != nil {
			f.Hidden = hidden
		}
	})
}

func run() error {
	c := findCommand(flag.Arg(0))
	if c == nil {
		usage()
		return nil
	}
	if err := c.missing(flag.CommandLine); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(c.handler())
}

func main() {
	addGlogFlags(flag.CommandLine)
	flag.Usage = usage
	flag.Parse()
	if err := pflagenv.Parse(envPrefix); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}

	if *helpFull {
		showGlogFlags(flag.CommandLine)
		usage()
		return
	} else if *versionFlag {
		fmt.Printf("%s\n%s\n", "The SapphireOS command line tool", version.String())
		return
	}

	if err := run(); err != nil {
		glog.Infof("Error: %+v", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
