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
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/golang/glog"
)

// AssertionError describes a violated invariant. There is no recovering from
// one: the board reboots into the bootloader.
type AssertionError struct {
	File string
	Line int
	Msg  string
}

func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertion failed at %s:%d: %s", e.File, e.Line, e.Msg)
}

// AssertHandler is called with every failed assertion, on the goroutine that
// failed it. If the handler returns, the assertion panics with e.
type AssertHandler func(e *AssertionError)

var (
	handlerMu sync.Mutex
	handler   AssertHandler
)

// SetAssertHandler installs h and returns the previous handler. A nil h
// restores the default: log and panic.
func SetAssertHandler(h AssertHandler) AssertHandler {
	handlerMu.Lock()
	defer handlerMu.Unlock()
	prev := handler
	handler = h
	return prev
}

// Assert fails with the formatted message unless cond holds.
func Assert(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	fail(2, fmt.Sprintf(format, args...))
}

// Fatalf fails unconditionally.
func Fatalf(format string, args ...interface{}) {
	fail(2, fmt.Sprintf(format, args...))
}

func fail(skip int, msg string) {
	e := &AssertionError{File: "???", Msg: msg}
	if _, file, line, ok := runtime.Caller(skip); ok {
		e.File = filepath.Base(file)
		e.Line = line
	}
	glog.Errorf("%s", e)

	handlerMu.Lock()
	h := handler
	handlerMu.Unlock()
	if h != nil {
		h(e)
	}
	panic(e)
}
