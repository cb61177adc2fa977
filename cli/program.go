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
	"bytes"
	"context"
	"io/ioutil"

	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/cli/flags"
	"github.com/sapphireos/sapphire/common/fwimage"
	"github.com/sapphireos/sapphire/loader/avr109"
)

func program() error {
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
	if len(img) > b.InternalSize() {
		return errors.Errorf("image is %d bytes, %s only has room for %d", len(img), b.Name, b.InternalSize())
	}

	sp, err := openSerial(*flags.Port)
	if err != nil {
		return errors.Trace(err)
	}
	defer sp.Close()

	c := avr109.NewClient(sp)
	id, err := c.SoftwareID()
	if err != nil {
		return errors.Annotatef(err, "no programmer on %s", *flags.Port)
	}
	sig, err := c.Signature()
	if err != nil {
		return errors.Trace(err)
	}
	reportf("Connected to %s, signature %02x%02x%02x", id, sig[0], sig[1], sig[2])
	if len(b.Signature) == 3 && !bytes.Equal(sig[:], b.Signature) {
		return errors.Errorf("signature does not match %s (%x)", b.Name, b.Signature)
	}

	ctx, cancel := ctxWithInterrupt()
	defer cancel()
	last := -1
	err = c.Program(ctx, img, func(done, total int) {
		pct := done * 100 / total
		if pct/10 != last/10 {
			last = pct
			reportf("  %3d%% (%d of %d)", pct, done, total)
		}
	})
	if err != nil {
		return errors.Trace(err)
	}

	if *flags.Verify {
		reportf("Verifying...")
		rb, err := c.ReadBack(context.Background(), len(img))
		if err != nil {
			return errors.Trace(err)
		}
		if !bytes.Equal(rb, img) {
			return errors.Errorf("verification failed")
		}
	}
	if err := c.Exit(); err != nil {
		return errors.Trace(err)
	}
	reportf("Programmed %d bytes, the board is verifying and starting the image", len(img))
	return nil
}
