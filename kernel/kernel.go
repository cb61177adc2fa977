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

// Package kernel assembles the OS core: heap, scheduler, fatal error
// handling and the hand-off to the bootloader through boot data.
package kernel

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/bootdata"
	"github.com/sapphireos/sapphire/kernel/memory"
	"github.com/sapphireos/sapphire/kernel/sys"
	"github.com/sapphireos/sapphire/kernel/threading"
)

// ErrReboot is returned by Run once a reboot has been requested.
var ErrReboot = errors.New("reboot requested")

type Config struct {
	Memory     memory.Config
	Clock      threading.Clock
	Store      bootdata.Store
	ErrorLog   *sys.ErrorLog
	StackGuard threading.StackGuard
	Scheduler  []threading.Option
}

type Kernel struct {
	Mem   *memory.Manager
	Sched *threading.Scheduler

	store    bootdata.Store
	errLog   *sys.ErrorLog
	prevHook sys.AssertHandler

	mu         sync.Mutex
	reboot     bool
	rebootMode bootdata.BootMode
	cancel     context.CancelFunc
}

func New(cfg Config) (*Kernel, error) {
	if cfg.Memory == (memory.Config{}) {
		cfg.Memory = memory.DefaultConfig()
	}
	mem, err := memory.New(cfg.Memory)
	if err != nil {
		return nil, errors.Annotatef(err, "memory")
	}
	if cfg.Clock == nil {
		cfg.Clock = threading.NewSystemClock()
	}
	if cfg.Store == nil {
		cfg.Store = &bootdata.RAMStore{}
	}
	if cfg.ErrorLog == nil {
		cfg.ErrorLog = &sys.ErrorLog{}
	}
	opts := cfg.Scheduler
	if cfg.StackGuard != nil {
		opts = append(opts, threading.WithStackGuard(cfg.StackGuard))
	}
	k := &Kernel{
		Mem:    mem,
		Sched:  threading.New(mem, cfg.Clock, opts...),
		store:  cfg.Store,
		errLog: cfg.ErrorLog,
	}
	k.prevHook = sys.SetAssertHandler(k.onAssert)
	return k, nil
}

// Close stops every thread and uninstalls the assertion handler.
func (k *Kernel) Close() {
	k.Sched.Close()
	sys.SetAssertHandler(k.prevHook)
}

// onAssert records what is known about the failure and reboots into the
// bootloader.
func (k *Kernel) onAssert(e *sys.AssertionError) {
	mi := k.Mem.Info()
	rec := sys.Record{
		Time:     time.Now().UTC(),
		Thread:   k.Sched.LastThread(),
		File:     e.File,
		Line:     e.Line,
		Msg:      e.Msg,
		MemUsed:  mi.Used,
		MemFree:  mi.Free,
		MemDirty: mi.Dirty,
		Warnings: sys.Warnings().String(),
	}
	if err := k.errLog.Append(rec); err != nil {
		sys.SetWarning(sys.WarnErrorLog)
		glog.Errorf("error log: %s", err)
	}
	if err := k.RequestReboot(bootdata.BootModeReboot); err != nil {
		glog.Errorf("reboot request: %s", err)
	}
}

// RequestReboot records the reboot in boot data and stops Run.
func (k *Kernel) RequestReboot(mode bootdata.BootMode) error {
	d, err := k.store.Load(false)
	if err != nil {
		return errors.Trace(err)
	}
	d.Reboots++
	d.BootMode = mode
	if err := k.store.Save(d); err != nil {
		return errors.Trace(err)
	}
	glog.Infof("reboot requested (%s)", mode)

	k.mu.Lock()
	k.reboot = true
	k.rebootMode = mode
	cancel := k.cancel
	k.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// RequestLoaderCommand leaves cmd for the bootloader and reboots.
func (k *Kernel) RequestLoaderCommand(cmd bootdata.Command) error {
	d, err := k.store.Load(false)
	if err != nil {
		return errors.Trace(err)
	}
	d.LoaderCommand = cmd
	if err := k.store.Save(d); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(k.RequestReboot(bootdata.BootModeReboot))
}

// RequestFirmwareLoad asks the bootloader to install the staged image.
func (k *Kernel) RequestFirmwareLoad() error {
	return k.RequestLoaderCommand(bootdata.CommandLoadFW)
}

// LoaderStatus is what the bootloader reported for this boot.
func (k *Kernel) LoaderStatus() (bootdata.Status, error) {
	d, err := k.store.Load(false)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return d.LoaderStatus, nil
}

// RebootRequested reports whether a reboot is pending, and in which mode.
func (k *Kernel) RebootRequested() (bool, bootdata.BootMode) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.reboot, k.rebootMode
}

// Run schedules threads until ctx is done or a reboot is requested. A fatal
// assertion is returned as its *sys.AssertionError after it has been logged.
func (k *Kernel) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	k.mu.Lock()
	k.cancel = cancel
	reboot := k.reboot
	k.mu.Unlock()
	if reboot {
		return errors.Trace(ErrReboot)
	}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		ae, ok := r.(*sys.AssertionError)
		if !ok {
			panic(r)
		}
		err = errors.Trace(ae)
	}()

	err = k.Sched.Run(ctx)
	if rb, _ := k.RebootRequested(); rb {
		return errors.Trace(ErrReboot)
	}
	return err
}

// VFiles names the virtual files ReadFile serves.
var VFiles = []string{"handleinfo", "threadinfo", "error_log"}

// ReadFile renders one of the kernel's virtual files.
func (k *Kernel) ReadFile(name string) ([]byte, error) {
	var buf bytes.Buffer
	switch name {
	case "handleinfo":
		if err := k.Mem.WriteHandleInfo(&buf); err != nil {
			return nil, errors.Trace(err)
		}
	case "threadinfo":
		if err := k.Sched.WriteThreadInfo(&buf); err != nil {
			return nil, errors.Trace(err)
		}
	case "error_log":
		recs, err := k.errLog.Records()
		if err != nil {
			return nil, errors.Trace(err)
		}
		enc := json.NewEncoder(&buf)
		for _, r := range recs {
			if err := enc.Encode(r); err != nil {
				return nil, errors.Trace(err)
			}
		}
	default:
		return nil, errors.NotFoundf("file %q", name)
	}
	return buf.Bytes(), nil
}
