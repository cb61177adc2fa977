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
	"io"
	"time"

	"github.com/cesanta/go-serial/serial"
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/sapphireos/sapphire/cli/flags"
)

var errSerialTimeout = errors.New("serial read timed out")

// serialPort turns the zero-length reads the port returns when its
// inter-character timeout expires into an error once nothing has arrived
// for --timeout.
type serialPort struct {
	io.ReadWriteCloser
	timeout time.Duration
}

func (p *serialPort) Read(b []byte) (int, error) {
	deadline := time.Now().Add(p.timeout)
	for {
		n, err := p.ReadWriteCloser.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
		if time.Now().After(deadline) {
			return 0, errors.Trace(errSerialTimeout)
		}
	}
}

func openSerial(port string) (*serialPort, error) {
	glog.V(1).Infof("opening %s @ %d", port, *flags.BaudRate)
	s, err := serial.Open(serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(*flags.BaudRate),
		DataBits:              8,
		ParityMode:            serial.PARITY_NONE,
		StopBits:              1,
		InterCharacterTimeout: uint(200 * time.Millisecond / time.Millisecond),
		MinimumReadSize:       0,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open %s", port)
	}
	return &serialPort{ReadWriteCloser: s, timeout: *flags.Timeout}, nil
}
