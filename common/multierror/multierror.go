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

// Package multierror collects several independent failures, such as the
// errors of a multi-step check, into one error.
package multierror

import (
	"bytes"
	"fmt"
)

type Error struct {
	errs []error
}

func (e *Error) Error() string {
	buf := bytes.NewBuffer(nil)
	fmt.Fprintf(buf, "%d error(s) occurred:", len(e.errs))
	for _, err := range e.errs {
		fmt.Fprintf(buf, "\n%s", err)
	}
	return buf.String()
}

// Errors returns the collected errors in the order they were appended.
func (e *Error) Errors() []error {
	return e.errs
}

func (e *Error) Len() int {
	if e == nil {
		return 0
	}
	return len(e.errs)
}

// ErrorOrNil returns nil when nothing has been collected, so that a nil
// *Error never escapes as a non-nil error interface.
func (e *Error) ErrorOrNil() error {
	if e.Len() == 0 {
		return nil
	}
	return e
}

// Append adds errs to err, creating an *Error if needed. Nil errors are
// skipped; Append(nil) returns nil.
func Append(err error, errs ...error) error {
	var me *Error
	switch e := err.(type) {
	case nil:
		me = &Error{}
	case *Error:
		me = e
	default:
		me = &Error{errs: []error{e}}
	}
	for _, e := range errs {
		if e == nil {
			continue
		}
		if inner, ok := e.(*Error); ok {
			me.errs = append(me.errs, inner.errs...)
			continue
		}
		me.errs = append(me.errs, e)
	}
	return me.ErrorOrNil()
}
