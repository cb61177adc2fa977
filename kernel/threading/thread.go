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
package threading

import (
	"runtime"
	"strings"
	"time"

	"github.com/sapphireos/sapphire/kernel/memory"
)

// Flags is a thread's scheduling state.
type Flags uint8

const (
	// FlagWaiting: blocked on a condition, polled every pass.
	FlagWaiting Flags = 1 << iota
	// FlagYielded: has more work and must run again before the CPU sleeps.
	FlagYielded
	// FlagSleeping: parked until its alarm or an explicit Wake.
	FlagSleeping
	// FlagSignal: waiting for a signal.
	FlagSignal
	// FlagAlarm: the alarm is armed.
	FlagAlarm
)

func (f Flags) String() string {
	var s []string
	for _, n := range []struct {
		f    Flags
		name string
	}{
		{FlagWaiting, "W"},
		{FlagYielded, "Y"},
		{FlagSleeping, "S"},
		{FlagSignal, "SIG"},
		{FlagAlarm, "A"},
	} {
		if f&n.f != 0 {
			s = append(s, n.name)
		}
	}
	return strings.Join(s, "|")
}

// Func is a thread body. Returning from it ends the thread.
type Func func(t *Thread)

type parkMsg struct {
	exit     bool
	panicked bool
	val      interface{}
}

// Thread is a cooperative thread. Its methods that suspend (Yield, WaitWhile,
// Sleep, Delay, WaitSignal and friends) may only be called from its own body.
//
// Each thread runs on its own goroutine, but the scheduler hands control to
// exactly one of them at a time and waits for it to suspend, so thread bodies
// never run concurrently with each other or with the scheduler.
type Thread struct {
	s      *Scheduler
	name   string
	fn     Func
	handle memory.Handle

	flags      Flags
	alarm      uint32
	alarmRest  uint64 // microseconds still to wait once alarm fires
	alarmFired bool
	waitSig    int
	gotSignal  bool

	runs    uint32
	runTime uint32
	maxTime uint32

	resume  chan struct{}
	kill    chan struct{}
	park    chan parkMsg
	done    chan struct{}
	running bool
	removed bool
}

const noSignal = -1

func (t *Thread) Name() string { return t.name }

func (t *Thread) Scheduler() *Scheduler { return t.s }

// Data is the thread-local storage block. Like any heap slice it moves on
// compaction, so fetch it again after every suspension.
func (t *Thread) Data() []byte {
	return t.s.mem.Get(t.handle)
}

// Handle is the memory block holding the thread-local storage.
func (t *Thread) Handle() memory.Handle { return t.handle }

func (t *Thread) main() {
	defer func() {
		r := recover()
		if t.running {
			t.running = false
			t.park <- parkMsg{exit: true, panicked: r != nil, val: r}
		}
		close(t.done)
	}()
	t.await()
	t.fn(t)
}

func (t *Thread) await() {
	select {
	case <-t.resume:
		t.running = true
	case <-t.kill:
		runtime.Goexit()
	}
}

// suspend hands control back to the scheduler until it runs t again.
func (t *Thread) suspend() {
	t.running = false
	t.park <- parkMsg{}
	t.await()
}

// Yield gives other threads a turn. The CPU does not sleep until t runs
// again.
func (t *Thread) Yield() {
	t.flags |= FlagYielded
	t.suspend()
}

// WaitWhile suspends for as long as cond holds. cond is polled once per pass.
func (t *Thread) WaitWhile(cond func() bool) {
	for cond() {
		t.flags |= FlagWaiting
		t.suspend()
	}
}

// WaitWhileTimeout is WaitWhile bounded by d. It reports whether cond cleared
// before the timeout.
func (t *Thread) WaitWhileTimeout(cond func() bool, d time.Duration) bool {
	t.armFor(d)
	for {
		if !cond() {
			t.ClearAlarm()
			return true
		}
		if t.alarmFired {
			t.alarmFired = false
			return false
		}
		t.flags |= FlagWaiting
		t.suspend()
	}
}

// Sleep parks t until its alarm fires or another thread wakes it.
func (t *Thread) Sleep() {
	t.flags |= FlagSleeping
	t.suspend()
}

// Delay sleeps for at least d.
func (t *Thread) Delay(d time.Duration) {
	t.armFor(d)
	for t.flags&FlagAlarm != 0 {
		t.flags |= FlagSleeping
		t.suspend()
	}
	t.alarmFired = false
}

// SetAlarm arms t to run at the absolute time at, which must be less than
// half the timer ring ahead.
func (t *Thread) SetAlarm(at uint32) {
	t.alarm = at
	t.alarmRest = 0
	t.alarmFired = false
	t.flags |= FlagAlarm
}

// armFor arms t to run d from now. Waits beyond the range of one alarm are
// split into steps; only the last one fires.
func (t *Thread) armFor(d time.Duration) {
	us := span(d)
	step := us
	if step > maxAlarmStep {
		step = maxAlarmStep
	}
	t.SetAlarm(t.s.clock.Now() + uint32(step))
	t.alarmRest = us - step
}

// extendAlarm moves an expired intermediate alarm on by the next step.
func (t *Thread) extendAlarm() bool {
	if t.alarmRest == 0 {
		return false
	}
	step := t.alarmRest
	if step > maxAlarmStep {
		step = maxAlarmStep
	}
	t.alarm += uint32(step)
	t.alarmRest -= step
	return true
}

func (t *Thread) ClearAlarm() {
	t.flags &^= FlagAlarm
	t.alarmRest = 0
	t.alarmFired = false
}

// Alarm returns the armed alarm time. For a wait longer than one alarm step
// this is the end of the current step.
func (t *Thread) Alarm() (uint32, bool) {
	return t.alarm, t.flags&FlagAlarm != 0
}

// WaitSignal suspends until sig is raised, consuming it.
func (t *Thread) WaitSignal(sig Signal) {
	t.waitSignal(sig, false)
}

// WaitSignalTimeout is WaitSignal bounded by d. It reports whether the
// signal arrived.
func (t *Thread) WaitSignalTimeout(sig Signal, d time.Duration) bool {
	t.armFor(d)
	return t.waitSignal(sig, true)
}

func (t *Thread) waitSignal(sig Signal, timed bool) bool {
	t.s.checkSignal(sig)
	got := t.s.consume(sig)
	if !got {
		t.waitSig = int(sig)
		for {
			t.flags |= FlagSignal | FlagSleeping
			t.suspend()
			if t.gotSignal {
				got = true
				break
			}
			if timed && t.alarmFired {
				break
			}
		}
		t.gotSignal = false
		t.waitSig = noSignal
		t.flags &^= FlagSignal
	}
	if timed {
		t.ClearAlarm()
	}
	return got
}
