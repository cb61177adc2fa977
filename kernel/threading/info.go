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
	"fmt"
	"io"
	"time"

	"github.com/juju/errors"
)

type ThreadInfo struct {
	Name     string
	Flags    Flags
	Alarm    uint32
	Runs     uint32
	RunTime  time.Duration
	MaxTime  time.Duration
	DataSize int
}

// Info lists per-thread statistics in scheduling order.
func (s *Scheduler) Info() []ThreadInfo {
	res := make([]ThreadInfo, 0, len(s.threads))
	for _, t := range s.threads {
		res = append(res, ThreadInfo{
			Name:     t.name,
			Flags:    t.flags,
			Alarm:    t.alarm,
			Runs:     t.runs,
			RunTime:  time.Duration(t.runTime) * time.Microsecond,
			MaxTime:  time.Duration(t.maxTime) * time.Microsecond,
			DataSize: s.mem.Size(t.handle),
		})
	}
	return res
}

// WriteThreadInfo writes the "threadinfo" table.
func (s *Scheduler) WriteThreadInfo(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%-16s %-12s %8s %12s %12s %6s\n", "NAME", "FLAGS", "RUNS", "RUN TIME", "MAX TIME", "DATA"); err != nil {
		return errors.Trace(err)
	}
	for _, ti := range s.Info() {
		if _, err := fmt.Fprintf(w, "%-16s %-12s %8d %12s %12s %6d\n",
			ti.Name, ti.Flags, ti.Runs, ti.RunTime, ti.MaxTime, ti.DataSize); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
