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

// Package sys holds the system-wide services every other kernel package leans
// on: the warning bitmask, fatal assertions, the persistent error log and the
// interrupt critical section.
package sys

import (
	"strings"
	"sync/atomic"
)

// Warning is a bit in the system warning mask. Warnings record conditions
// worth reporting later; they never stop the system.
type Warning uint32

const (
	WarnMemFull Warning = 1 << iota
	WarnNoHandles
	WarnStackGuard
	WarnThreadAlloc
	WarnErrorLog
)

var warningNames = []struct {
	w    Warning
	name string
}{
	{WarnMemFull, "mem_full"},
	{WarnNoHandles, "no_handles"},
	{WarnStackGuard, "stack_guard"},
	{WarnThreadAlloc, "thread_alloc"},
	{WarnErrorLog, "error_log"},
}

func (w Warning) String() string {
	var names []string
	for _, n := range warningNames {
		if w&n.w != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

var warnings uint32

// SetWarning ORs w into the warning mask. Safe from any goroutine.
func SetWarning(w Warning) {
	for {
		old := atomic.LoadUint32(&warnings)
		if atomic.CompareAndSwapUint32(&warnings, old, old|uint32(w)) {
			return
		}
	}
}

func Warnings() Warning {
	return Warning(atomic.LoadUint32(&warnings))
}

// ClearWarnings resets the mask and returns what it held.
func ClearWarnings() Warning {
	return Warning(atomic.SwapUint32(&warnings, 0))
}
