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

// Package pflagenv lets every command line flag be given in the environment
// as PREFIX_FLAG_NAME. A flag set on the command line always wins.
package pflagenv

import (
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/spf13/pflag"

	"github.com/sapphireos/sapphire/common/multierror"
)

// ParseFlagSet sets the flags of fs that were not given on the command line
// from the environment. Values that do not parse are reported together.
func ParseFlagSet(fs *pflag.FlagSet, envPrefix string) error {
	var errs error
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		name := EnvName(f.Name, envPrefix)
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return
		}
		if err := fs.Set(f.Name, v); err != nil {
			errs = multierror.Append(errs, errors.Annotatef(err, "%s", name))
			return
		}
		glog.V(1).Infof("--%s=%q from %s", f.Name, v, name)
	})
	return errs
}

func Parse(envPrefix string) error {
	return ParseFlagSet(pflag.CommandLine, envPrefix)
}

// EnvName maps a flag name to its environment variable: "state-dir" with
// prefix "SAPPHIRE_" becomes SAPPHIRE_STATE_DIR.
func EnvName(flagName, envPrefix string) string {
	return envPrefix + strings.ToUpper(strings.Replace(flagName, "-", "_", -1))
}
