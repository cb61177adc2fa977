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
package loader

import (
	"context"
	"encoding/binary"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sapphireos/sapphire/bootdata"
	"github.com/sapphireos/sapphire/common/flash"
	"github.com/sapphireos/sapphire/common/fwimage"
	"github.com/sapphireos/sapphire/loader/avr109"
)

const (
	testPageSize = 256
	testPages    = 32
	testOffset   = 0x120
)

type fakeHW struct {
	kicks   int
	leds    []LEDPattern
	jumped  bool
	halted  bool
	jumpErr error
}

func (h *fakeHW) KickWatchdog()       { h.kicks++ }
func (h *fakeHW) SetLED(p LEDPattern) { h.leds = append(h.leds, p) }
func (h *fakeHW) JumpToApp() error    { h.jumped = true; return h.jumpErr }
func (h *fakeHW) Halt()               { h.halted = true }
func (h *fakeHW) lastLED() LEDPattern { return h.leds[len(h.leds)-1] }

// badProgram corrupts every page it programs.
type badProgram struct {
	*flash.RAMMedia
}

func (m badProgram) WritePage(offset uint32, data []byte) error {
	d := append([]byte(nil), data...)
	d[0] ^= 0x01
	return m.RAMMedia.WritePage(offset, d)
}

func newMedia() *flash.RAMMedia {
	return flash.NewRAMMedia(testPageSize, testPages)
}

func buildImage(t *testing.T, size int, name string) []byte {
	code := make([]byte, size)
	for i := range code {
		code[i] = byte(i*13) ^ name[0]
	}
	img, err := fwimage.Build(code, fwimage.Info{Name: name, Version: "1.0.0", OSName: "Sapphire"}, testOffset)
	require.NoError(t, err)
	return img
}

func install(t *testing.T, m flash.Media, img []byte) {
	require.NoError(t, flash.Write(m, 0, img))
}

func corrupt(m *flash.RAMMedia, off int) {
	m.Bytes()[off] ^= 0x20
}

func boot(t *testing.T, internal, external flash.Media, store bootdata.Store, opts ...Option) (*Result, *fakeHW) {
	hw := &fakeHW{}
	res, err := New(internal, external, store, hw, opts...).Boot(context.Background())
	require.NoError(t, err)
	return res, hw
}

func TestImageLength(t *testing.T) {
	m := flash.NewRAMMedia(testPageSize, 16)
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], 100)
	page := make([]byte, testPageSize*2)
	copy(page[testOffset:], b[:])
	require.NoError(t, flash.Write(m, 0, page))
	n, err := ImageLength(m, testOffset)
	require.NoError(t, err)
	assert.Equal(t, 102, n)

	// Blank flash reads as 0xFFFFFFFF.
	blank := newMedia()
	n, err = ImageLength(blank, testOffset)
	require.NoError(t, err)
	assert.Equal(t, 8192, n)
}

func TestCopyIdempotent(t *testing.T) {
	ext, in := newMedia(), newMedia()
	install(t, ext, buildImage(t, 1000, "app"))
	n, err := ImageLength(ext, testOffset)
	require.NoError(t, err)
	kicks := 0
	kick := func() { kicks++ }

	require.NoError(t, CopyImage(context.Background(), in, ext, n, false, kick))
	c, err := CRCImage(context.Background(), in, n, kick)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), c)
	first := append([]byte(nil), in.Bytes()...)

	require.NoError(t, CopyImage(context.Background(), in, ext, n, false, kick))
	c, err = CRCImage(context.Background(), in, n, kick)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), c)
	assert.Equal(t, first, in.Bytes())
	// One kick per erased page, per copied page and per checksummed page.
	assert.Equal(t, 2*3*flash.PagesFor(in, n), kicks)
}

func TestCopyEraseExtent(t *testing.T) {
	ext, in := newMedia(), newMedia()
	install(t, ext, buildImage(t, 600, "app"))
	n, err := ImageLength(ext, testOffset)
	require.NoError(t, err)

	require.NoError(t, CopyImage(context.Background(), in, ext, n, false, func() {}))
	assert.Equal(t, flash.PagesFor(in, n), in.Erases)

	in2 := newMedia()
	require.NoError(t, CopyImage(context.Background(), in2, ext, n, true, func() {}))
	assert.Equal(t, testPages, in2.Erases)
	assert.Equal(t, in.Bytes(), in2.Bytes())
}

func TestBootNormal(t *testing.T) {
	in, ext := newMedia(), newMedia()
	install(t, in, buildImage(t, 900, "app"))
	store := &bootdata.RAMStore{}

	res, hw := boot(t, in, ext, store, WithVersion(2, 1))
	assert.Equal(t, StateRunApp, res.State)
	assert.Equal(t, bootdata.StatusNormal, res.Data.LoaderStatus)
	assert.Equal(t, uint8(2), res.Data.LoaderVersionMajor)
	assert.Equal(t, uint8(1), res.Data.LoaderVersionMinor)
	assert.Equal(t, 0, res.Copies)
	assert.True(t, hw.jumped)
	assert.False(t, hw.halted)
	assert.Equal(t, LEDRunning, hw.lastLED())
	assert.Equal(t, []State{StateInit, StateCheckInternal, StateCheckCommand, StateRunApp}, res.Trace)

	saved, err := store.Load(false)
	require.NoError(t, err)
	assert.Equal(t, res.Data, saved)
}

func TestRecoverFromExternal(t *testing.T) {
	in, ext := newMedia(), newMedia()
	img := buildImage(t, 2000, "good")
	install(t, in, img)
	install(t, ext, img)
	corrupt(in, 1500)

	res, hw := boot(t, in, ext, &bootdata.RAMStore{})
	assert.Equal(t, StateRunApp, res.State)
	assert.Equal(t, bootdata.StatusRecoveredFW, res.Data.LoaderStatus)
	assert.Equal(t, 1, res.Copies)
	assert.True(t, hw.jumped)
	assert.Equal(t, img, in.Bytes()[:len(img)])
	assert.True(t, hw.kicks > 0)
}

func TestRecoveryBound(t *testing.T) {
	in, ext := newMedia(), newMedia()
	img := buildImage(t, 500, "good")
	install(t, in, img)
	install(t, ext, img)
	corrupt(in, 10)

	res, hw := boot(t, badProgram{in}, ext, &bootdata.RAMStore{})
	assert.Equal(t, StateFatal, res.State)
	assert.Equal(t, DefaultRecoveryAttempts, res.Copies)
	assert.True(t, hw.halted)
	assert.False(t, hw.jumped)
	assert.Equal(t, LEDFatal, hw.lastLED())

	res, _ = boot(t, badProgram{in}, ext, &bootdata.RAMStore{}, WithRecoveryAttempts(2))
	assert.Equal(t, 2, res.Copies)
}

func TestBothCorruptIsFatal(t *testing.T) {
	in, ext := newMedia(), newMedia()
	img := buildImage(t, 700, "app")
	install(t, in, img)
	install(t, ext, img)
	corrupt(in, 400)
	corrupt(ext, 401)
	before := append([]byte(nil), in.Bytes()...)

	res, hw := boot(t, in, ext, &bootdata.RAMStore{})
	assert.Equal(t, StateFatal, res.State)
	assert.Equal(t, 0, res.Copies)
	assert.True(t, hw.halted)
	assert.False(t, hw.jumped)
	assert.Equal(t, before, in.Bytes())

	res, _ = boot(t, in, ext, &bootdata.RAMStore{}, WithRecheckPartition(false))
	assert.Equal(t, StateFatal, res.State)
}

func TestRecoveryPartitionFallback(t *testing.T) {
	in, ext, rec := newMedia(), newMedia(), newMedia()
	install(t, in, buildImage(t, 700, "app"))
	corrupt(in, 3)
	recImg := buildImage(t, 300, "recovery")
	install(t, rec, recImg)

	res, hw := boot(t, in, ext, &bootdata.RAMStore{}, WithRecoveryPartition(rec))
	assert.Equal(t, StateRunApp, res.State)
	assert.Equal(t, bootdata.StatusRecoveryMode, res.Data.LoaderStatus)
	assert.True(t, hw.jumped)
	assert.Equal(t, recImg, in.Bytes()[:len(recImg)])
}

func TestLoadFW(t *testing.T) {
	in, ext := newMedia(), newMedia()
	install(t, in, buildImage(t, 700, "old"))
	newImg := buildImage(t, 1500, "new")
	install(t, ext, newImg)
	store := &bootdata.RAMStore{}
	require.NoError(t, store.Save(bootdata.Data{LoaderCommand: bootdata.CommandLoadFW}))

	res, hw := boot(t, in, ext, store)
	assert.Equal(t, StateRunApp, res.State)
	assert.Equal(t, bootdata.StatusNewFW, res.Data.LoaderStatus)
	assert.Equal(t, bootdata.CommandNone, res.Data.LoaderCommand)
	assert.Equal(t, 1, res.Copies)
	assert.True(t, hw.jumped)
	assert.Equal(t, newImg, in.Bytes()[:len(newImg)])
}

func TestPartitionBadDoesNotBrick(t *testing.T) {
	in, ext := newMedia(), newMedia()
	install(t, in, buildImage(t, 700, "old"))
	install(t, ext, buildImage(t, 1500, "new"))
	corrupt(ext, 1000)
	before := append([]byte(nil), in.Bytes()...)
	erases := in.Erases
	store := &bootdata.RAMStore{}
	require.NoError(t, store.Save(bootdata.Data{LoaderCommand: bootdata.CommandLoadFW}))

	res, hw := boot(t, in, ext, store)
	assert.Equal(t, StateRunApp, res.State)
	assert.Equal(t, bootdata.StatusPartitionCRCBad, res.Data.LoaderStatus)
	assert.Equal(t, bootdata.CommandNone, res.Data.LoaderCommand)
	assert.True(t, hw.jumped)
	assert.Equal(t, before, in.Bytes())
	assert.Equal(t, erases, in.Erases)
}

func TestOversizedStagedImageDoesNotBrick(t *testing.T) {
	in := flash.NewRAMMedia(testPageSize, 8)
	ext := flash.NewRAMMedia(testPageSize, 16)
	install(t, in, buildImage(t, 700, "old"))
	big := buildImage(t, 3000, "new")
	install(t, ext, big)
	require.True(t, fwimage.Verify(big))
	before := append([]byte(nil), in.Bytes()...)
	erases := in.Erases
	store := &bootdata.RAMStore{}
	require.NoError(t, store.Save(bootdata.Data{LoaderCommand: bootdata.CommandLoadFW}))

	res, hw := boot(t, in, ext, store)
	assert.Equal(t, StateRunApp, res.State)
	assert.Equal(t, bootdata.StatusPartitionCRCBad, res.Data.LoaderStatus)
	assert.Equal(t, bootdata.CommandNone, res.Data.LoaderCommand)
	assert.Equal(t, 0, res.Copies)
	assert.True(t, hw.jumped)
	assert.False(t, hw.halted)
	assert.Equal(t, before, in.Bytes())
	assert.Equal(t, erases, in.Erases)
}

func TestRecoverSkipsOversizedImage(t *testing.T) {
	in := flash.NewRAMMedia(testPageSize, 8)
	ext := flash.NewRAMMedia(testPageSize, 16)
	install(t, in, buildImage(t, 700, "old"))
	corrupt(in, 100)
	install(t, ext, buildImage(t, 3000, "new"))
	erases := in.Erases

	res, hw := boot(t, in, ext, &bootdata.RAMStore{})
	assert.Equal(t, StateFatal, res.State)
	assert.Equal(t, 0, res.Copies)
	assert.True(t, hw.halted)
	assert.Equal(t, erases, in.Erases)

	// A recovery image that fits is still used.
	rec := flash.NewRAMMedia(testPageSize, 16)
	recImg := buildImage(t, 500, "recovery")
	install(t, rec, recImg)
	res, hw = boot(t, in, ext, &bootdata.RAMStore{}, WithRecoveryPartition(rec))
	assert.Equal(t, StateRunApp, res.State)
	assert.Equal(t, bootdata.StatusRecoveryMode, res.Data.LoaderStatus)
	assert.Equal(t, 1, res.Copies)
	assert.True(t, hw.jumped)
	assert.Equal(t, recImg, in.Bytes()[:len(recImg)])
}

func TestOversizedRecoveryImageRejected(t *testing.T) {
	in := flash.NewRAMMedia(testPageSize, 8)
	ext := flash.NewRAMMedia(testPageSize, 16)
	rec := flash.NewRAMMedia(testPageSize, 16)
	install(t, in, buildImage(t, 700, "app"))
	install(t, rec, buildImage(t, 3000, "recovery"))
	before := append([]byte(nil), in.Bytes()...)
	store := &bootdata.RAMStore{}
	require.NoError(t, store.Save(bootdata.Data{LoaderCommand: bootdata.CommandRecovery}))

	res, _ := boot(t, in, ext, store, WithRecoveryPartition(rec))
	assert.Equal(t, StateRunApp, res.State)
	assert.Equal(t, bootdata.StatusPartitionCRCBad, res.Data.LoaderStatus)
	assert.Equal(t, before, in.Bytes())
}

func TestLoadFWCopyFailsIsFatal(t *testing.T) {
	in, ext := newMedia(), newMedia()
	install(t, in, buildImage(t, 700, "old"))
	install(t, ext, buildImage(t, 900, "new"))
	store := &bootdata.RAMStore{}
	require.NoError(t, store.Save(bootdata.Data{LoaderCommand: bootdata.CommandLoadFW}))

	res, hw := boot(t, badProgram{in}, ext, store)
	assert.Equal(t, StateFatal, res.State)
	assert.True(t, hw.halted)
}

func TestRecoveryCommand(t *testing.T) {
	in, ext, rec := newMedia(), newMedia(), newMedia()
	install(t, in, buildImage(t, 700, "app"))
	recImg := buildImage(t, 400, "recovery")
	install(t, rec, recImg)
	store := &bootdata.RAMStore{}
	require.NoError(t, store.Save(bootdata.Data{LoaderCommand: bootdata.CommandRecovery}))

	res, _ := boot(t, in, ext, store, WithRecoveryPartition(rec))
	assert.Equal(t, bootdata.StatusRecoveryMode, res.Data.LoaderStatus)
	assert.Equal(t, recImg, in.Bytes()[:len(recImg)])

	// Without a recovery partition the command is dropped.
	require.NoError(t, store.Save(bootdata.Data{LoaderCommand: bootdata.CommandRecovery}))
	res, _ = boot(t, in, ext, store)
	assert.Equal(t, StateRunApp, res.State)
	assert.Equal(t, bootdata.StatusNormal, res.Data.LoaderStatus)
	assert.Equal(t, bootdata.CommandNone, res.Data.LoaderCommand)
}

func TestPowerOnClearsCommand(t *testing.T) {
	in, ext := newMedia(), newMedia()
	install(t, in, buildImage(t, 700, "old"))
	install(t, ext, buildImage(t, 900, "new"))
	store := &bootdata.RAMStore{}
	require.NoError(t, store.Save(bootdata.Data{Reboots: 4, LoaderCommand: bootdata.CommandLoadFW}))

	res, _ := boot(t, in, ext, store, WithPowerOn(true))
	assert.Equal(t, bootdata.StatusNormal, res.Data.LoaderStatus)
	assert.Equal(t, uint16(0), res.Data.Reboots)
	assert.Equal(t, 0, res.Copies)
}

func TestSerialBoot(t *testing.T) {
	in, ext := newMedia(), newMedia()
	install(t, in, buildImage(t, 700, "old"))
	newImg := buildImage(t, 1100, "serial")
	store := &bootdata.RAMStore{}
	require.NoError(t, store.Save(bootdata.Data{LoaderCommand: bootdata.CommandSerialBoot}))

	host, dev := net.Pipe()
	defer host.Close()
	defer dev.Close()
	progErr := make(chan error, 1)
	go func() {
		c := avr109.NewClient(host)
		if err := c.Program(context.Background(), newImg, nil); err != nil {
			progErr <- err
			return
		}
		progErr <- c.Exit()
	}()

	res, hw := boot(t, in, ext, store, WithSerial(dev))
	require.NoError(t, <-progErr)
	assert.Equal(t, StateRunApp, res.State)
	assert.Equal(t, bootdata.StatusNewFW, res.Data.LoaderStatus)
	assert.Contains(t, res.Trace, StateSerialBoot)
	assert.Contains(t, hw.leds, LEDSerialBoot)
	assert.Equal(t, newImg, in.Bytes()[:len(newImg)])
}

func TestCanceled(t *testing.T) {
	in, ext := newMedia(), newMedia()
	install(t, in, buildImage(t, 700, "app"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(in, ext, &bootdata.RAMStore{}, &fakeHW{}).Boot(ctx)
	assert.Error(t, err)
}
