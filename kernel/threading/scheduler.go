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

// Package threading is the cooperative thread scheduler.
//
// A scheduling pass (Loop) raises due timed signals, runs the threads waiting
// on pending signals, then walks the thread list once running every thread
// whose alarm has expired and every thread that is waiting or has yielded.
// Threads run in list order. After the pass the heap is compacted if enough
// space is dirty, and Loop reports whether the CPU may sleep and for how long.
//
// There is no preemption. A thread owns all kernel state between two
// suspension points; only Signal may be called from outside the scheduler.
package threading

import (
	"context"
	"runtime"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/kernel/memory"
	"github.com/sapphireos/sapphire/kernel/sys"
)

// Signal numbers an event a thread can wait for.
type Signal uint8

// NumSignals is the width of the signal set.
const NumSignals = 16

const (
	DefaultSignalPasses = 4
	DefaultMaxSleep     = 10 * time.Millisecond
)

type timedSignal struct {
	sig      Signal
	interval uint32
	next     uint32
}

type Scheduler struct {
	mem          *memory.Manager
	clock        Clock
	guard        StackGuard
	signalPasses int
	maxSleep     time.Duration

	threads []*Thread
	current *Thread
	last    string
	loops   uint32

	pending uint16 // under sys.DisableInterrupts
	timed   []*timedSignal
	wake    chan struct{}
}

type Option func(*Scheduler)

func WithStackGuard(g StackGuard) Option {
	return func(s *Scheduler) {
		s.guard = g
	}
}

// WithSignalPasses bounds how many times one pass re-runs signalled threads.
func WithSignalPasses(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.signalPasses = n
		}
	}
}

// WithMaxSleep caps the sleep Loop reports, which is also how often waiting
// threads are polled when nothing else is due.
func WithMaxSleep(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.maxSleep = d
		}
	}
}

func New(mem *memory.Manager, clock Clock, opts ...Option) *Scheduler {
	s := &Scheduler{
		mem:          mem,
		clock:        clock,
		signalPasses: DefaultSignalPasses,
		maxSleep:     DefaultMaxSleep,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Clock() Clock { return s.clock }

func (s *Scheduler) Memory() *memory.Manager { return s.mem }

// Create starts a thread with dataSize bytes of thread-local storage. It is
// ready to run on the next pass.
func (s *Scheduler) Create(name string, fn Func, dataSize int) (*Thread, error) {
	h, err := s.mem.Alloc(dataSize, memory.TypeThread)
	if err != nil {
		sys.SetWarning(sys.WarnThreadAlloc)
		return nil, errors.Annotatef(err, "create thread %q", name)
	}
	t := &Thread{
		s:       s,
		name:    name,
		fn:      fn,
		handle:  h,
		flags:   FlagYielded,
		waitSig: noSignal,
		resume:  make(chan struct{}),
		kill:    make(chan struct{}),
		park:    make(chan parkMsg),
		done:    make(chan struct{}),
	}
	go t.main()
	s.threads = append(s.threads, t)
	glog.V(2).Infof("thread %q created (%d bytes)", name, dataSize)
	return t, nil
}

func (s *Scheduler) remove(t *Thread) {
	for i, tt := range s.threads {
		if tt == t {
			s.threads = append(s.threads[:i], s.threads[i+1:]...)
			break
		}
	}
	t.removed = true
	s.mem.Free(t.handle)
}

// Kill removes t at once and frees its storage. A thread killing itself does
// not return.
func (s *Scheduler) Kill(t *Thread) {
	if t.removed {
		return
	}
	glog.V(2).Infof("thread %q killed", t.name)
	s.remove(t)
	if s.current == t {
		runtime.Goexit()
	}
	close(t.kill)
	<-t.done
}

// Close kills every thread.
func (s *Scheduler) Close() {
	for len(s.threads) > 0 {
		s.Kill(s.threads[0])
	}
}

// Threads returns the thread list in scheduling order.
func (s *Scheduler) Threads() []*Thread {
	return append([]*Thread(nil), s.threads...)
}

// Current is the thread being run, nil between steps.
func (s *Scheduler) Current() *Thread { return s.current }

// LastThread names the most recently run thread.
func (s *Scheduler) LastThread() string { return s.last }

// Wake makes a sleeping thread runnable.
func (s *Scheduler) Wake(t *Thread) {
	if t.flags&FlagSleeping != 0 {
		t.flags &^= FlagSleeping
		t.flags |= FlagYielded
	}
}

// run resumes t and blocks until it suspends or ends.
func (s *Scheduler) run(t *Thread) {
	start := s.clock.Now()
	s.current = t
	s.last = t.name
	t.resume <- struct{}{}
	msg := <-t.park
	s.current = nil

	el := s.clock.Now() - start
	t.runs++
	t.runTime += el
	if el > t.maxTime {
		t.maxTime = el
	}

	if msg.exit {
		<-t.done
		if !t.removed {
			glog.V(2).Infof("thread %q exited", t.name)
			s.remove(t)
		}
		if msg.panicked {
			if ae, ok := msg.val.(*sys.AssertionError); ok {
				panic(ae)
			}
			sys.Fatalf("thread %q panicked: %v", t.name, msg.val)
		}
	}
	s.checkGuard(t.name)
}

func (s *Scheduler) checkGuard(where string) {
	if s.guard == nil || s.guard.Intact() {
		return
	}
	sys.SetWarning(sys.WarnStackGuard)
	sys.Fatalf("stack guard corrupt (%s)", where)
}

func (s *Scheduler) snapshot() []*Thread {
	return append([]*Thread(nil), s.threads...)
}

// Loop runs one scheduling pass. It reports whether the CPU may sleep and
// the longest it may sleep without missing an alarm or a timed signal.
func (s *Scheduler) Loop() (bool, time.Duration) {
	s.loops++
	s.tickTimedSignals(s.clock.Now())

	for pass := 0; pass < s.signalPasses; pass++ {
		if !s.runSignalled() {
			break
		}
	}

	for _, t := range s.snapshot() {
		if t.removed {
			continue
		}
		if t.flags&FlagAlarm != 0 && CompareTimes(s.clock.Now(), t.alarm) >= 0 {
			t.extendAlarm()
		}
		switch {
		case t.flags&FlagAlarm != 0 && CompareTimes(s.clock.Now(), t.alarm) >= 0:
			t.flags &^= FlagAlarm | FlagWaiting | FlagYielded | FlagSleeping
			t.alarmFired = true
		case t.flags&(FlagWaiting|FlagYielded) != 0:
			t.flags &^= FlagWaiting | FlagYielded
		default:
			continue
		}
		s.run(t)
	}

	s.checkGuard("before compaction")
	if n := s.mem.CollectGarbage(); n > 0 {
		glog.V(3).Infof("gc reclaimed %d bytes", n)
	}
	s.checkGuard("after compaction")

	return s.sleepTime()
}

func (s *Scheduler) sleepTime() (bool, time.Duration) {
	for _, t := range s.threads {
		if t.flags&FlagYielded != 0 {
			return false, 0
		}
	}
	if s.signalReady() {
		return false, 0
	}
	d := s.maxSleep
	now := s.clock.Now()
	limit := func(at uint32) bool {
		rem := int32(at - now)
		if rem <= 0 {
			return false
		}
		if r := time.Duration(rem) * time.Microsecond; r < d {
			d = r
		}
		return true
	}
	if at, ok := s.NextAlarm(); ok && !limit(at) {
		return false, 0
	}
	for _, ts := range s.timed {
		if !limit(ts.next) {
			return false, 0
		}
	}
	return true, d
}

// NextAlarm returns the earliest armed alarm.
func (s *Scheduler) NextAlarm() (uint32, bool) {
	var next uint32
	found := false
	for _, t := range s.threads {
		if t.flags&FlagAlarm == 0 {
			continue
		}
		if !found || CompareTimes(t.alarm, next) < 0 {
			next = t.alarm
			found = true
		}
	}
	return next, found
}

// Loops counts scheduling passes.
func (s *Scheduler) Loops() uint32 { return s.loops }

// Run drives Loop until ctx is done, sleeping whenever Loop allows. A Signal
// ends the sleep early.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.Trace(err)
		}
		sleep, d := s.Loop()
		if !sleep {
			continue
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Trace(ctx.Err())
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
