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
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/cli/flags"
	"github.com/sapphireos/sapphire/kernel"
	"github.com/sapphireos/sapphire/kernel/memory"
	"github.com/sapphireos/sapphire/kernel/sys"
	"github.com/sapphireos/sapphire/kernel/threading"
)

const (
	sigTick threading.Signal = 1
	sigRx   threading.Signal = 2
)

func bump(t *threading.Thread) {
	d := t.Data()
	binary.LittleEndian.PutUint32(d, binary.LittleEndian.Uint32(d)+1)
}

func blinker(t *threading.Thread) {
	for {
		bump(t)
		t.Delay(250 * time.Millisecond)
	}
}

func ticker(t *threading.Thread) {
	for {
		t.WaitSignal(sigTick)
		bump(t)
	}
}

// rx stands in for a driver: an outside goroutine plays the interrupt that
// raises sigRx, the thread times out if the line goes quiet.
func rx(t *threading.Thread) {
	for {
		if t.WaitSignalTimeout(sigRx, time.Second) {
			bump(t)
		}
	}
}

// churner allocates and frees blocks of random size to keep the heap
// fragmented and the compactor busy.
func churner(t *threading.Thread) {
	mem := t.Scheduler().Memory()
	rnd := rand.New(rand.NewSource(int64(t.Handle())))
	var held []memory.Handle
	for {
		if len(held) > 0 && (len(held) > 6 || rnd.Intn(3) == 0) {
			i := rnd.Intn(len(held))
			mem.Free(held[i])
			held = append(held[:i], held[i+1:]...)
		} else if h, err := mem.Alloc(8+rnd.Intn(120), memory.TypeBuffer); err == nil {
			b := mem.Get(h)
			for i := range b {
				b[i] = byte(i)
			}
			held = append(held, h)
		}
		bump(t)
		t.Delay(time.Duration(1+rnd.Intn(20)) * time.Millisecond)
	}
}

func runKernel() error {
	b, err := getBoard()
	if err != nil {
		return errors.Trace(err)
	}
	if err := os.MkdirAll(*flags.StateDir, 0755); err != nil {
		return errors.Trace(err)
	}
	k, err := kernel.New(kernel.Config{
		Memory: memory.Config{
			HeapSize:         b.HeapSize,
			MaxHandles:       b.MaxHandles,
			Align:            b.Align,
			Verify:           true,
			CompactThreshold: b.HeapSize / 16,
		},
		Store:      bootStore(),
		ErrorLog:   &sys.ErrorLog{Path: statePath("error_log.jsonl")},
		StackGuard: threading.NewCanaryGuard(64, threading.DefaultStackCanary),
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer k.Close()

	if st, err := k.LoaderStatus(); err == nil {
		reportf("Loader status: %s", st)
	}

	type spawn struct {
		name string
		fn   threading.Func
	}
	ts := []spawn{{"blink", blinker}, {"tick", ticker}, {"rx", rx}}
	for i := 0; i < *flags.Threads; i++ {
		ts = append(ts, spawn{fmt.Sprintf("churn%d", i), churner})
	}
	for _, s := range ts {
		if _, err := k.Sched.Create(s.name, s.fn, 4); err != nil {
			return errors.Annotatef(err, "thread %s", s.name)
		}
	}
	if err := k.Sched.CreateTimedSignal(sigTick, 100*time.Millisecond); err != nil {
		return errors.Trace(err)
	}

	ctx, cancel := ctxWithInterrupt()
	defer cancel()
	ctx, cancelRun := context.WithTimeout(ctx, *flags.Duration)
	defer cancelRun()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(50+rand.Intn(100)) * time.Millisecond):
				k.Sched.Signal(sigRx)
			}
		}
	}()

	reportf("Running %d threads for %s", len(ts), *flags.Duration)
	err = k.Run(ctx)
	switch {
	case errors.Cause(err) == kernel.ErrReboot:
		color.Yellow("Reboot requested")
	case errors.Cause(err) == context.DeadlineExceeded, errors.Cause(err) == context.Canceled:
	default:
		if ae, ok := errors.Cause(err).(*sys.AssertionError); ok {
			color.Red("Fatal: %s", ae)
		} else if err != nil {
			return errors.Trace(err)
		}
	}

	mi := k.Mem.Info()
	reportf("%d scheduler passes, heap %d used / %d dirty / %d free, %d compactions, warnings: %s",
		k.Sched.Loops(), mi.Used, mi.Dirty, mi.Free, mi.Compactions, sys.Warnings())
	for _, name := range *flags.Dump {
		data, err := k.ReadFile(name)
		if err != nil {
			return errors.Trace(err)
		}
		color.New(color.Bold).Printf("--- %s\n", name)
		os.Stdout.Write(data)
	}
	return nil
}
