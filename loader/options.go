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
	"io"

	"github.com/sapphireos/sapphire/common/flash"
)

const (
	// DefaultRecoveryAttempts is how many times a damaged internal image is
	// recovered from the external partition before giving up.
	DefaultRecoveryAttempts = 5
)

type Config struct {
	// InfoOffset is FW_INFO_ADDRESS: where the image length lives.
	InfoOffset int

	// RecoveryAttempts bounds the RECOVER state.
	RecoveryAttempts int

	// FullErase erases the whole internal region before a copy instead of only
	// the pages the new image occupies.
	FullErase bool

	// RecheckPartition recomputes the external CRC on every recovery attempt.
	RecheckPartition bool

	// PowerOn is set when this boot follows a power-on reset; boot data is
	// cleared.
	PowerOn bool

	// Recovery is an optional last-resort image below the external partition.
	Recovery flash.Media

	// Serial carries the programmer protocol for SERIAL_BOOT.
	Serial io.ReadWriter

	VersionMajor uint8
	VersionMinor uint8
}

func defaultConfig() Config {
	return Config{
		InfoOffset:       0x120,
		RecoveryAttempts: DefaultRecoveryAttempts,
		RecheckPartition: true,
	}
}

type Option func(*Config)

func WithInfoOffset(off int) Option {
	return func(c *Config) {
		c.InfoOffset = off
	}
}

func WithRecoveryAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.RecoveryAttempts = n
		}
	}
}

func WithFullErase(full bool) Option {
	return func(c *Config) {
		c.FullErase = full
	}
}

func WithRecheckPartition(recheck bool) Option {
	return func(c *Config) {
		c.RecheckPartition = recheck
	}
}

func WithPowerOn(powerOn bool) Option {
	return func(c *Config) {
		c.PowerOn = powerOn
	}
}

// WithRecoveryPartition adds a fallback image used when both the internal and
// external images are unusable, and for an explicit RECOVERY command.
func WithRecoveryPartition(m flash.Media) Option {
	return func(c *Config) {
		c.Recovery = m
	}
}

func WithSerial(rw io.ReadWriter) Option {
	return func(c *Config) {
		c.Serial = rw
	}
}

func WithVersion(major, minor uint8) Option {
	return func(c *Config) {
		c.VersionMajor = major
		c.VersionMinor = minor
	}
}
