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

// LEDPattern is what the status indicator shows.
type LEDPattern int

const (
	LEDOff LEDPattern = iota
	LEDBooting
	LEDCopying
	LEDSerialBoot
	LEDRunning
	LEDFatal
)

func (p LEDPattern) String() string {
	switch p {
	case LEDOff:
		return "off"
	case LEDBooting:
		return "booting"
	case LEDCopying:
		return "copying"
	case LEDSerialBoot:
		return "serial-boot"
	case LEDRunning:
		return "running"
	case LEDFatal:
		return "fatal"
	}
	return "unknown"
}

// Hardware is the target-specific part of the loader: everything that is not
// flash media.
type Hardware interface {
	// KickWatchdog resets the hardware watchdog. Called between pages of any
	// long operation.
	KickWatchdog()
	// SetLED updates the status indicator.
	SetLED(p LEDPattern)
	// JumpToApp disables interrupts, watchdog and caches as the target
	// requires and transfers control to the application entry vector. On
	// hardware it does not return.
	JumpToApp() error
	// Halt loops until an external reset or the watchdog fires. On hardware
	// it does not return.
	Halt()
}
