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
package sys

import (
	"sync"
	"sync/atomic"
)

var (
	irqMu      sync.Mutex
	irqEnabled int32 = 1
)

// Section is an open critical section. It must be closed with Restore on the
// same goroutine, normally via defer:
//
//	defer sys.DisableInterrupts().Restore()
//
// Sections do not nest.
type Section struct {
	prev int32
}

// DisableInterrupts enters the critical section shared by interrupt-level
// code (anything that may run outside the scheduler) and the threads that
// read its state.
func DisableInterrupts() Section {
	irqMu.Lock()
	return Section{prev: atomic.SwapInt32(&irqEnabled, 0)}
}

func (s Section) Restore() {
	atomic.StoreInt32(&irqEnabled, s.prev)
	irqMu.Unlock()
}

func InterruptsEnabled() bool {
	return atomic.LoadInt32(&irqEnabled) != 0
}
