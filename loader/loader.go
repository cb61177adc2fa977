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

// Package loader is the boot-time firmware integrity and recovery logic
// shared by every target.
//
// On each boot the internal (bootable) image is checked. A damaged image is
// recovered from the external partition, up to RecoveryAttempts times, and
// from the optional recovery partition after that. A pending LOAD_FW command
// copies the external image in, but only if its CRC is good: a bad staged
// image never touches a working internal one. Only an internal image that
// cannot be recovered from anywhere halts the board.
package loader

import (
	"context"
	"fmt"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/bootdata"
	"github.com/sapphireos/sapphire/common/flash"
	"github.com/sapphireos/sapphire/loader/avr109"
)

type State int

const (
	StateInit State = iota
	StateCheckInternal
	StateRecover
	StateCheckCommand
	StateSerialBoot
	StateRunApp
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateCheckInternal:
		return "CHECK_INTERNAL"
	case StateRecover:
		return "RECOVER"
	case StateCheckCommand:
		return "CHECK_COMMAND"
	case StateSerialBoot:
		return "SERIAL_BOOT"
	case StateRunApp:
		return "RUN_APP"
	case StateFatal:
		return "FATAL"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Result describes how a boot ended.
type Result struct {
	State State
	Data  bootdata.Data
	// Copies counts external/recovery -> internal copies performed.
	Copies int
	// Trace lists the states visited, in order.
	Trace []State
}

type Loader struct {
	internal flash.Media
	external flash.Media
	store    bootdata.Store
	hw       Hardware
	cfg      Config

	data bootdata.Data
	res  *Result
}

func New(internal, external flash.Media, store bootdata.Store, hw Hardware, opts ...Option) *Loader {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Loader{
		internal: internal,
		external: external,
		store:    store,
		hw:       hw,
		cfg:      cfg,
	}
}

func (l *Loader) kick() {
	l.hw.KickWatchdog()
}

func (l *Loader) save() error {
	return errors.Annotatef(l.store.Save(l.data), "save boot data")
}

// imageCRC checksums the image held in m.
func (l *Loader) imageCRC(ctx context.Context, m flash.Media) (uint16, error) {
	n, err := ImageLength(m, l.cfg.InfoOffset)
	if err != nil {
		return 0, errors.Trace(err)
	}
	c, err := CRCImage(ctx, m, n, l.kick)
	return c, errors.Trace(err)
}

func (l *Loader) internalValid(ctx context.Context) (bool, error) {
	c, err := l.imageCRC(ctx, l.internal)
	if err != nil {
		return false, errors.Annotatef(err, "internal")
	}
	glog.V(1).Infof("internal crc 0x%04x", c)
	return c == 0, nil
}

// sourceValid reports whether src holds an image that can be installed: it
// must fit the internal region and its CRC must check out. Nothing is erased
// until this passes.
func (l *Loader) sourceValid(ctx context.Context, name string, src flash.Media) (bool, error) {
	n, err := ImageLength(src, l.cfg.InfoOffset)
	if err != nil {
		return false, errors.Annotatef(err, "%s", name)
	}
	if max := flash.Pages(l.internal) * l.internal.PageSize(); n > max {
		glog.Warningf("%s image (%d bytes) does not fit internal region (%d)", name, n, max)
		return false, nil
	}
	c, err := CRCImage(ctx, src, n, l.kick)
	if err != nil {
		return false, errors.Annotatef(err, "%s", name)
	}
	if c != 0 {
		glog.Warningf("%s image crc bad (0x%04x)", name, c)
	}
	return c == 0, nil
}

// load copies src into the internal region and reports whether the result
// verifies. Callers check src with sourceValid first.
func (l *Loader) load(ctx context.Context, name string, src flash.Media) (bool, error) {
	n, err := ImageLength(src, l.cfg.InfoOffset)
	if err != nil {
		return false, errors.Annotatef(err, "%s", name)
	}
	glog.Infof("loading %d bytes from %s", n, name)
	l.hw.SetLED(LEDCopying)
	if err := CopyImage(ctx, l.internal, src, n, l.cfg.FullErase, l.kick); err != nil {
		return false, errors.Annotatef(err, "copy from %s", name)
	}
	l.res.Copies++
	ok, err := l.internalValid(ctx)
	if err != nil {
		return false, errors.Trace(err)
	}
	if !ok {
		glog.Warningf("internal image does not verify after copy from %s", name)
	}
	return ok, nil
}

// Boot runs the loader state machine to one of its terminal states. On
// hardware neither terminal state returns; here the result is returned after
// Hardware.JumpToApp or Hardware.Halt. Errors are reserved for media and
// context failures.
func (l *Loader) Boot(ctx context.Context) (*Result, error) {
	l.res = &Result{}
	state := StateInit
	for {
		l.res.Trace = append(l.res.Trace, state)
		glog.V(1).Infof("state %s", state)
		next, err := l.step(ctx, state)
		if err != nil {
			return l.res, errors.Annotatef(err, "%s", state)
		}
		if next == state {
			l.res.State = state
			l.res.Data = l.data
			return l.res, nil
		}
		state = next
	}
}

// step executes one state and returns the next. A terminal state returns
// itself.
func (l *Loader) step(ctx context.Context, s State) (State, error) {
	switch s {
	case StateInit:
		d, err := l.store.Load(l.cfg.PowerOn)
		if err != nil {
			return s, errors.Annotatef(err, "load boot data")
		}
		l.data = d
		l.data.LoaderVersionMajor = l.cfg.VersionMajor
		l.data.LoaderVersionMinor = l.cfg.VersionMinor
		l.data.LoaderStatus = bootdata.StatusNormal
		l.hw.SetLED(LEDBooting)
		glog.Infof("boot data: %s", l.data)
		return StateCheckInternal, errors.Trace(l.save())

	case StateCheckInternal:
		ok, err := l.internalValid(ctx)
		if err != nil {
			return s, errors.Trace(err)
		}
		if ok {
			return StateCheckCommand, nil
		}
		glog.Warningf("internal image invalid, recovering")
		return StateRecover, nil

	case StateRecover:
		return l.recover(ctx)

	case StateCheckCommand:
		return l.checkCommand(ctx)

	case StateSerialBoot:
		return l.serialBoot(ctx)

	case StateRunApp:
		l.hw.SetLED(LEDRunning)
		glog.Infof("starting application (%s)", l.data.LoaderStatus)
		return s, errors.Annotatef(l.hw.JumpToApp(), "jump to app")

	case StateFatal:
		glog.Errorf("no valid firmware image, halting")
		l.hw.SetLED(LEDFatal)
		l.hw.Halt()
		return s, nil
	}
	return s, errors.Errorf("invalid state %d", int(s))
}

func (l *Loader) recover(ctx context.Context) (State, error) {
	checked, extOK := false, false
	for i := 1; i <= l.cfg.RecoveryAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return StateRecover, errors.Trace(err)
		}
		glog.Infof("recovery attempt %d/%d", i, l.cfg.RecoveryAttempts)
		if !checked || l.cfg.RecheckPartition {
			ok, err := l.sourceValid(ctx, "external", l.external)
			if err != nil {
				return StateRecover, errors.Trace(err)
			}
			checked, extOK = true, ok
		}
		if !extOK {
			if !l.cfg.RecheckPartition {
				break
			}
			continue
		}
		ok, err := l.load(ctx, "external", l.external)
		if err != nil {
			return StateRecover, errors.Trace(err)
		}
		l.data.LoaderStatus = bootdata.StatusRecoveredFW
		if err := l.save(); err != nil {
			return StateRecover, errors.Trace(err)
		}
		if ok {
			return StateCheckCommand, nil
		}
	}

	if l.cfg.Recovery != nil {
		glog.Warningf("external partition exhausted, trying recovery partition")
		ok, err := l.sourceValid(ctx, "recovery", l.cfg.Recovery)
		if err != nil {
			return StateRecover, errors.Trace(err)
		}
		if !ok {
			return StateFatal, errors.Trace(l.save())
		}
		ok, err = l.load(ctx, "recovery", l.cfg.Recovery)
		if err != nil {
			return StateRecover, errors.Trace(err)
		}
		if ok {
			l.data.LoaderStatus = bootdata.StatusRecoveryMode
			return StateCheckCommand, errors.Trace(l.save())
		}
	}
	return StateFatal, errors.Trace(l.save())
}

func (l *Loader) checkCommand(ctx context.Context) (State, error) {
	next := StateRunApp
	switch l.data.LoaderCommand {
	case bootdata.CommandNone:

	case bootdata.CommandLoadFW:
		ok, err := l.sourceValid(ctx, "external", l.external)
		if err != nil {
			return StateCheckCommand, errors.Trace(err)
		}
		if !ok {
			glog.Warningf("staged image unusable, keeping current firmware")
			l.data.LoaderStatus = bootdata.StatusPartitionCRCBad
			break
		}
		ok, err = l.load(ctx, "external", l.external)
		if err != nil {
			return StateCheckCommand, errors.Trace(err)
		}
		l.data.LoaderStatus = bootdata.StatusNewFW
		if !ok {
			next = StateFatal
		}

	case bootdata.CommandRecovery:
		if l.cfg.Recovery == nil {
			glog.Warningf("recovery requested but no recovery partition")
			break
		}
		ok, err := l.sourceValid(ctx, "recovery", l.cfg.Recovery)
		if err != nil {
			return StateCheckCommand, errors.Trace(err)
		}
		if !ok {
			glog.Warningf("recovery image unusable, keeping current firmware")
			l.data.LoaderStatus = bootdata.StatusPartitionCRCBad
			break
		}
		ok, err = l.load(ctx, "recovery", l.cfg.Recovery)
		if err != nil {
			return StateCheckCommand, errors.Trace(err)
		}
		l.data.LoaderStatus = bootdata.StatusRecoveryMode
		if !ok {
			next = StateFatal
		}

	case bootdata.CommandSerialBoot:
		if l.cfg.Serial == nil {
			glog.Warningf("serial boot requested but no serial link")
			break
		}
		next = StateSerialBoot

	default:
		glog.Warningf("ignoring unknown loader command %s", l.data.LoaderCommand)
	}

	l.data.LoaderCommand = bootdata.CommandNone
	return next, errors.Trace(l.save())
}

func (l *Loader) serialBoot(ctx context.Context) (State, error) {
	l.hw.SetLED(LEDSerialBoot)
	srv := avr109.NewServer(l.cfg.Serial, l.internal, avr109.WithKick(l.kick))
	if err := srv.Serve(ctx); err != nil {
		glog.Warningf("serial boot session ended: %s", err)
	}
	ok, err := l.internalValid(ctx)
	if err != nil {
		return StateSerialBoot, errors.Trace(err)
	}
	if !ok {
		glog.Warningf("internal image invalid after serial boot, recovering")
		return StateRecover, nil
	}
	l.data.LoaderStatus = bootdata.StatusNewFW
	return StateRunApp, errors.Trace(l.save())
}
