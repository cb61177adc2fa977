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

import "bytes"

// StackGuard checks the watermark under the shared stack. The scheduler
// consults it after every thread step and around compaction.
type StackGuard interface {
	Intact() bool
}

// CanaryGuard is a watermark region filled with a fixed pattern. Anything
// that writes into it has overrun the stack.
type CanaryGuard struct {
	region  []byte
	pattern byte
}

const DefaultStackCanary = 0x69

func NewCanaryGuard(size int, pattern byte) *CanaryGuard {
	g := &CanaryGuard{region: make([]byte, size), pattern: pattern}
	g.Reset()
	return g
}

// Region exposes the watermark bytes.
func (g *CanaryGuard) Region() []byte {
	return g.region
}

func (g *CanaryGuard) Reset() {
	for i := range g.region {
		g.region[i] = g.pattern
	}
}

func (g *CanaryGuard) Intact() bool {
	return bytes.Count(g.region, []byte{g.pattern}) == len(g.region)
}
