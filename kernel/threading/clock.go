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
	"sync"
	"time"
)

// Clock is the system timer: microseconds since boot in a free running 32-bit
// counter that wraps roughly every 71 minutes. Compare readings with
// CompareTimes, never with < or >.
type Clock interface {
	Now() uint32
}

// CompareTimes orders two timer readings on the ring: negative if a is before
// b, zero if equal, positive if after. Readings more than half the ring apart
// compare the wrong way.
func CompareTimes(a, b uint32) int {
	d := int32(a - b)
	switch {
	case d < 0:
		return -1
	case d > 0:
		return 1
	}
	return 0
}

// Elapsed is how long ago start was, by clock c.
func Elapsed(c Clock, start uint32) uint32 {
	return c.Now() - start
}

// maxAlarmStep is the longest single alarm. Longer waits are armed in steps
// of at most this, well inside the half ring CompareTimes can order.
const maxAlarmStep = 1 << 30

// MaxInterval is the longest timed signal interval.
const MaxInterval = (1<<31 - 1) * time.Microsecond

func micros(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32(d / time.Microsecond)
}

func span(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Microsecond)
}

type systemClock struct {
	start time.Time
}

// NewSystemClock returns a Clock driven by the host monotonic clock.
func NewSystemClock() Clock {
	return &systemClock{start: time.Now()}
}

func (c *systemClock) Now() uint32 {
	return uint32(time.Since(c.start) / time.Microsecond)
}

// ManualClock only moves when told to.
type ManualClock struct {
	mu sync.Mutex
	t  uint32
}

func NewManualClock(start uint32) *ManualClock {
	return &ManualClock{t: start}
}

func (c *ManualClock) Now() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t += micros(d)
	c.mu.Unlock()
}

func (c *ManualClock) Set(t uint32) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}
