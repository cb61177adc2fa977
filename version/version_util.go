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
package version

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/juju/errors"
	goversion "github.com/mcuadros/go-version"

	"github.com/sapphireos/sapphire/cli/ourutil"
)

var (
	regexpVersionNumber = regexp.MustCompile(`^\d+\.[0-9.]*$`)
	regexpMajorMinor    = regexp.MustCompile(`^(?P<major>\d+)\.(?P<minor>\d+)`)
)

func LooksLikeVersionNumber(s string) bool {
	return regexpVersionNumber.MatchString(s)
}

// String is the one line banner printed by --version.
func String() string {
	return fmt.Sprintf("Version: %s\nBuild ID: %s\nLoader: %d.%d", Version, BuildId, LoaderMajor, LoaderMinor)
}

// MajorMinor extracts the first two components of a version number.
func MajorMinor(s string) (uint8, uint8, error) {
	m := ourutil.FindNamedSubmatches(regexpMajorMinor, s)
	if m == nil {
		return 0, 0, errors.NotValidf("version %q", s)
	}
	major, err := strconv.ParseUint(m["major"], 10, 8)
	if err != nil {
		return 0, 0, errors.NotValidf("version %q", s)
	}
	minor, err := strconv.ParseUint(m["minor"], 10, 8)
	if err != nil {
		return 0, 0, errors.NotValidf("version %q", s)
	}
	return uint8(major), uint8(minor), nil
}

// IsDowngrade reports whether replacing firmware version from with to moves
// backwards. Anything that is not a version number (a dev build, an erased
// image) is never considered a downgrade.
func IsDowngrade(from, to string) bool {
	if !LooksLikeVersionNumber(from) || !LooksLikeVersionNumber(to) {
		return false
	}
	return goversion.Compare(goversion.Normalize(to), goversion.Normalize(from), "<")
}
