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
	"time"

	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/kernel/sys"
)

func (s *Scheduler) checkSignal(sig Signal) {
	sys.Assert(sig < NumSignals, "invalid signal %d", sig)
}

// Signal raises sig. It may be called from any goroutine, including ones
// standing in for interrupt handlers, and wakes a sleeping Run.
func (s *Scheduler) Signal(sig Signal) {
	s.checkSignal(sig)
	irq := sys.DisableInterrupts()
	s.pending |= 1 << sig
	irq.Restore()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Pending returns the raised, unconsumed signals as a bitmask.
func (s *Scheduler) Pending() uint16 {
	defer sys.DisableInterrupts().Restore()
	return s.pending
}

// consume clears sig and reports whether it was raised.
func (s *Scheduler) consume(sig Signal) bool {
	defer sys.DisableInterrupts().Restore()
	bit := uint16(1) << sig
	if s.pending&bit == 0 {
		return false
	}
	s.pending &^= bit
	return true
}

// signalReady reports whether a raised signal has a thread waiting for it.
// Signals nobody waits for stay pending but do not keep the CPU awake.
func (s *Scheduler) signalReady() bool {
	pending := s.Pending()
	for _, t := range s.threads {
		if t.flags&FlagSignal != 0 && pending&(1<<uint(t.waitSig)) != 0 {
			return true
		}
	}
	return false
}

// runSignalled runs, in list order, each thread whose signal is pending. Each
// signal goes to the first thread waiting for it.
func (s *Scheduler) runSignalled() bool {
	ran := false
	for _, t := range s.snapshot() {
		if t.removed || t.flags&FlagSignal == 0 || t.gotSignal {
			continue
		}
		if !s.consume(Signal(t.waitSig)) {
			continue
		}
		t.gotSignal = true
		t.flags &^= FlagWaiting | FlagYielded | FlagSleeping
		s.run(t)
		ran = true
	}
	return ran
}

// CreateTimedSignal raises sig every interval, starting one interval from
// now.
func (s *Scheduler) CreateTimedSignal(sig Signal, interval time.Duration) error {
	s.checkSignal(sig)
	us := micros(interval)
	if us == 0 || interval > MaxInterval {
		return errors.NotValidf("interval %s", interval)
	}
	for _, ts := range s.timed {
		if ts.sig == sig {
			ts.interval = us
			ts.next = s.clock.Now() + us
			return nil
		}
	}
	s.timed = append(s.timed, &timedSignal{sig: sig, interval: us, next: s.clock.Now() + us})
	return nil
}

func (s *Scheduler) RemoveTimedSignal(sig Signal) {
	for i, ts := range s.timed {
		if ts.sig == sig {
			s.timed = append(s.timed[:i], s.timed[i+1:]...)
			return
		}
	}
}

func (s *Scheduler) tickTimedSignals(now uint32) {
	for _, ts := range s.timed {
		if CompareTimes(now, ts.next) < 0 {
			continue
		}
		s.Signal(ts.sig)
		ts.next += ts.interval
		if CompareTimes(now, ts.next) >= 0 {
			// Fell more than an interval behind; skip the missed ticks.
			ts.next = now + ts.interval
		}
	}
}
