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
package kernel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapphireos/sapphire/bootdata"
	"github.com/sapphireos/sapphire/kernel/memory"
	"github.com/sapphireos/sapphire/kernel/sys"
	"github.com/sapphireos/sapphire/kernel/threading"
)

func newTestKernel(t *testing.T, store bootdata.Store) *Kernel {
	k, err := New(Config{
		Clock:     threading.NewManualClock(0),
		Store:     store,
		Scheduler: []threading.Option{threading.WithMaxSleep(time.Millisecond)},
	})
	require.NoError(t, err)
	t.Cleanup(k.Close)
	return k
}

func TestAssertionReboots(t *testing.T) {
	store := &bootdata.RAMStore{}
	k := newTestKernel(t, store)

	_, err := k.Sched.Create("corruptor", func(th *threading.Thread) {
		h, err := k.Mem.Alloc(4, memory.TypeBuffer)
		if err != nil {
			return
		}
		k.Mem.Free(h)
		th.Yield()
		k.Mem.Free(h)
	}, 0)
	require.NoError(t, err)

	err = k.Run(context.Background())
	require.Error(t, err)
	ae, ok := errors.Cause(err).(*sys.AssertionError)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "memory.go", ae.File)

	recs, err := k.errLog.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "corruptor", recs[0].Thread)
	assert.Equal(t, ae.Msg, recs[0].Msg)

	d, err := store.Load(false)
	require.NoError(t, err)
	assert.Equal(t, uint16(1), d.Reboots)
	assert.Equal(t, bootdata.BootModeReboot, d.BootMode)

	rb, mode := k.RebootRequested()
	assert.True(t, rb)
	assert.Equal(t, bootdata.BootModeReboot, mode)
	assert.Equal(t, ErrReboot, errors.Cause(k.Run(context.Background())))
}

func TestRequestFirmwareLoad(t *testing.T) {
	store := &bootdata.RAMStore{}
	require.NoError(t, store.Save(bootdata.Data{LoaderStatus: bootdata.StatusRecoveredFW}))
	k := newTestKernel(t, store)

	st, err := k.LoaderStatus()
	require.NoError(t, err)
	assert.Equal(t, bootdata.StatusRecoveredFW, st)

	_, err = k.Sched.Create("updater", func(th *threading.Thread) {
		th.Yield()
		if err := k.RequestFirmwareLoad(); err != nil {
			panic(err)
		}
		th.Sleep()
	}, 0)
	require.NoError(t, err)

	err = k.Run(context.Background())
	assert.Equal(t, ErrReboot, errors.Cause(err))
	d, err := store.Load(false)
	require.NoError(t, err)
	assert.Equal(t, bootdata.CommandLoadFW, d.LoaderCommand)
	assert.Equal(t, uint16(1), d.Reboots)
}

func TestRunCanceled(t *testing.T) {
	k := newTestKernel(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := k.Run(ctx)
	assert.Equal(t, context.DeadlineExceeded, errors.Cause(err))
}

func TestReadFile(t *testing.T) {
	k := newTestKernel(t, nil)
	_, err := k.Sched.Create("idle", func(th *threading.Thread) { th.Sleep() }, 4)
	require.NoError(t, err)
	k.Sched.Loop()

	b, err := k.ReadFile("threadinfo")
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "idle"))

	b, err = k.ReadFile("handleinfo")
	require.NoError(t, err)
	assert.Len(t, b, 3*memory.DefaultConfig().MaxHandles)
	assert.Equal(t, []byte{4, 0, byte(memory.TypeThread)}, b[:3])

	b, err = k.ReadFile("error_log")
	require.NoError(t, err)
	assert.Empty(t, b)

	_, err = k.ReadFile("nope")
	assert.True(t, errors.IsNotFound(err))
}
