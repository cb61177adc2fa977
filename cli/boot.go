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
	"context"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/cli/flags"
	"github.com/sapphireos/sapphire/common/fwimage"
	"github.com/sapphireos/sapphire/loader"
	"github.com/sapphireos/sapphire/version"
)

// simHardware shows what the status LED of a real board would do.
type simHardware struct {
	kicks int
	led   loader.LEDPattern
}

func (h *simHardware) KickWatchdog() { h.kicks++ }

func (h *simHardware) SetLED(p loader.LEDPattern) {
	if p == h.led {
		return
	}
	h.led = p
	c := color.New(color.FgCyan)
	switch p {
	case loader.LEDRunning:
		c = color.New(color.FgGreen)
	case loader.LEDFatal:
		c = color.New(color.FgRed, color.Bold)
	}
	c.Fprintf(os.Stderr, "LED: %s\n", p)
}

func (h *simHardware) JumpToApp() error { return nil }
func (h *simHardware) Halt()            {}

func ctxWithInterrupt() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt)
	go func() {
		select {
		case <-ch:
			glog.Infof("interrupted")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}

func boot() error {
	b, err := getBoard()
	if err != nil {
		return errors.Trace(err)
	}
	st, err := openState(b)
	if err != nil {
		return errors.Trace(err)
	}
	defer st.Close()

	hw := &simHardware{}
	opts := []loader.Option{
		loader.WithInfoOffset(b.InfoOffset),
		loader.WithRecoveryAttempts(*flags.Attempts),
		loader.WithFullErase(*flags.FullErase),
		loader.WithRecheckPartition(*flags.RecheckPartition),
		loader.WithPowerOn(*flags.PowerOn),
		loader.WithVersion(version.LoaderMajor, version.LoaderMinor),
	}
	if st.recovery != nil {
		opts = append(opts, loader.WithRecoveryPartition(st.recovery))
	}
	if *flags.Port != "" {
		sp, err := openSerial(*flags.Port)
		if err != nil {
			return errors.Trace(err)
		}
		defer sp.Close()
		opts = append(opts, loader.WithSerial(sp))
	}

	ctx, cancel := ctxWithInterrupt()
	defer cancel()
	res, err := loader.New(st.internal, st.external, st.store, hw, opts...).Boot(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	glog.V(1).Infof("trace %v, %d watchdog kicks", res.Trace, hw.kicks)

	reportf("Loader status: %s, %d image copies", res.Data.LoaderStatus, res.Copies)
	if res.State != loader.StateRunApp {
		color.Red("No bootable firmware")
		return errors.Errorf("boot ended in %s", res.State)
	}
	if img, err := readImage(st.internal, b.InfoOffset); err == nil {
		if fi, err := fwimage.ParseInfo(img, b.InfoOffset); err == nil {
			color.Green("Running %s %s", fi.Name, fi.Version)
		}
	}
	return nil
}
