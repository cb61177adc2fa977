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
package main

import (
	"io/ioutil"

	"github.com/fatih/color"
	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/cli/flags"
	"github.com/sapphireos/sapphire/common/flash"
	"github.com/sapphireos/sapphire/common/fwimage"
	"github.com/sapphireos/sapphire/common/ourio"
	"github.com/sapphireos/sapphire/loader"
	"github.com/sapphireos/sapphire/version"
)

func mkImage() error {
	b, err := getBoard()
	if err != nil {
		return errors.Trace(err)
	}
	code, err := fwimage.LoadBinary(*flags.Input)
	if err != nil {
		return errors.Annotatef(err, "failed to read %s", *flags.Input)
	}
	info := fwimage.Info{
		OSName:    "SapphireOS",
		OSVersion: *flags.OSVersion,
		Name:      *flags.Name,
		Version:   *flags.FWVersion,
		Board:     b.Name,
		ID:        fwimage.NewFirmwareID(),
	}
	if info.OSVersion == "" {
		info.OSVersion = version.Version
	}
	if *flags.FWID != "" {
		if info.ID, err = fwimage.ParseFirmwareID(*flags.FWID); err != nil {
			return errors.Trace(err)
		}
	}
	img, err := fwimage.Build(code, info, b.InfoOffset)
	if err != nil {
		return errors.Trace(err)
	}
	if len(img) > b.InternalSize() {
		return errors.Errorf("image is %d bytes, %s only has room for %d", len(img), b.Name, b.InternalSize())
	}
	if _, err := ourio.WriteFileIfDifferent(*flags.Output, img, 0644); err != nil {
		return errors.Trace(err)
	}
	reportf("Wrote %s: %d bytes, id %s", *flags.Output, len(img), info.ID)
	return nil
}

func printInfo(fi *fwimage.Info, valid bool) {
	reportf("  Name:       %s", fi.Name)
	reportf("  Version:    %s", fi.Version)
	reportf("  OS:         %s %s", fi.OSName, fi.OSVersion)
	reportf("  Board:      %s", fi.Board)
	reportf("  ID:         %s", fi.ID)
	reportf("  Length:     %d", fi.Length)
	if valid {
		color.Green("  CRC:        ok")
	} else {
		color.Red("  CRC:        BAD")
	}
}

func imageInfo() error {
	b, err := getBoard()
	if err != nil {
		return errors.Trace(err)
	}
	img, err := ioutil.ReadFile(*flags.Input)
	if err != nil {
		return errors.Trace(err)
	}
	fi, err := fwimage.ParseInfo(img, b.InfoOffset)
	if err != nil {
		return errors.Trace(err)
	}
	valid := false
	if trimmed, err := fwimage.Trim(img, b.InfoOffset); err == nil {
		valid = fwimage.Verify(trimmed)
	}
	reportf("%s:", *flags.Input)
	printInfo(fi, valid)
	if !valid {
		return errors.NotValidf("%s", *flags.Input)
	}
	return nil
}

// readImage returns the image held in m, trimmed to its declared length.
func readImage(m flash.Media, infoOffset int) ([]byte, error) {
	n, err := loader.ImageLength(m, infoOffset)
	if err != nil {
		return nil, errors.Trace(err)
	}
	buf := make([]byte, n)
	if err := m.Read(0, buf); err != nil {
		return nil, errors.Trace(err)
	}
	return buf, nil
}

func stage() error {
	b, err := getBoard()
	if err != nil {
		return errors.Trace(err)
	}
	img, err := ioutil.ReadFile(*flags.Input)
	if err != nil {
		return errors.Trace(err)
	}
	if !fwimage.Verify(img) {
		return errors.NotValidf("%s: CRC", *flags.Input)
	}
	fi, err := fwimage.ParseInfo(img, b.InfoOffset)
	if err != nil {
		return errors.Trace(err)
	}
	if fi.Board != "" && fi.Board != b.Name {
		return errors.Errorf("%s is built for %s, not %s", *flags.Input, fi.Board, b.Name)
	}
	if len(img) > b.InternalSize() {
		return errors.Errorf("image is %d bytes, %s only has room for %d", len(img), b.Name, b.InternalSize())
	}

	st, err := openState(b)
	if err != nil {
		return errors.Trace(err)
	}
	defer st.Close()

	var dst flash.Media = st.external
	name := "external"
	if *flags.Recovery {
		if st.recovery == nil {
			return errors.Errorf("%s has no recovery partition", b.Name)
		}
		dst, name = st.recovery, "recovery"
	}

	if cur, err := readImage(st.internal, b.InfoOffset); err == nil && fwimage.Verify(cur) {
		curInfo, err := fwimage.ParseInfo(cur, b.InfoOffset)
		if err == nil && curInfo.Name == fi.Name && version.IsDowngrade(curInfo.Version, fi.Version) {
			if !*flags.Force {
				return errors.Errorf("%s %s would downgrade the running %s, use --force", fi.Name, fi.Version, curInfo.Version)
			}
			reportf("Downgrading %s %s -> %s", fi.Name, curInfo.Version, fi.Version)
		}
	}

	if len(img) > dst.Size() {
		return errors.Errorf("image (%d bytes) does not fit the %s partition (%d)", len(img), name, dst.Size())
	}
	if err := flash.EraseRange(dst, 0, dst.Size()); err != nil {
		return errors.Trace(err)
	}
	if err := flash.Write(dst, 0, img); err != nil {
		return errors.Trace(err)
	}
	reportf("Staged %s %s (%d bytes) in the %s partition", fi.Name, fi.Version, len(img), name)

	if !*flags.Recovery {
		if err := setCommand(st, "load_fw"); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}
