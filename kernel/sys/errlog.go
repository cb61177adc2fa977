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
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/juju/errors"
)

// Record is one error log entry.
type Record struct {
	Time     time.Time `json:"time"`
	Thread   string    `json:"thread,omitempty"`
	File     string    `json:"file"`
	Line     int       `json:"line"`
	Msg      string    `json:"msg"`
	MemUsed  int       `json:"mem_used"`
	MemFree  int       `json:"mem_free"`
	MemDirty int       `json:"mem_dirty"`
	Warnings string    `json:"warnings,omitempty"`
}

// ErrorLog is an append-only log of fatal errors that survives reboots. With
// an empty Path it is kept in memory.
type ErrorLog struct {
	Path string

	mu  sync.Mutex
	mem []Record
}

func (l *ErrorLog) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Path == "" {
		l.mem = append(l.mem, r)
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return errors.Trace(err)
	}
	f, err := os.OpenFile(l.Path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return errors.Trace(err)
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		f.Close()
		return errors.Trace(err)
	}
	return errors.Trace(f.Close())
}

// Records returns every entry, oldest first. Lines that do not parse are
// skipped.
func (l *ErrorLog) Records() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Path == "" {
		return append([]Record(nil), l.mem...), nil
	}
	f, err := os.Open(l.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Trace(err)
	}
	defer f.Close()
	var res []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		res = append(res, r)
	}
	return res, errors.Trace(sc.Err())
}
