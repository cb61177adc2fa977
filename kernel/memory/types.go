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
package memory

import "fmt"

// Type tags a block with what it holds. Only used for diagnostics.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeThread
	TypeString
	TypeSocket
	TypeFile
	TypeList
	TypeBuffer
)

func (t Type) String() string {
	switch t {
	case TypeUnknown:
		return "unknown"
	case TypeThread:
		return "thread"
	case TypeString:
		return "string"
	case TypeSocket:
		return "socket"
	case TypeFile:
		return "file"
	case TypeList:
		return "list"
	case TypeBuffer:
		return "buffer"
	}
	return fmt.Sprintf("type%d", uint8(t))
}

// Handle names a block independently of where it currently lives.
type Handle int32

const (
	// InvalidHandle is returned by failed allocations.
	InvalidHandle Handle = -1

	// handleSwizzle keeps zero out of the valid range so that an
	// uninitialized Handle is never mistaken for the first slot.
	handleSwizzle = 0x1000
)

func (h Handle) index() int {
	return int(h) - handleSwizzle
}

func handleOf(idx int) Handle {
	return Handle(idx + handleSwizzle)
}

func (h Handle) String() string {
	if h == InvalidHandle {
		return "invalid"
	}
	return fmt.Sprintf("0x%04x", int32(h))
}
