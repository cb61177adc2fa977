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
package pflagenv

import (
	"os"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlagSet(t *testing.T) {
	fs := pflag.NewFlagSet("pflagenv-test", pflag.ContinueOnError)

	var flag1, flag2, flag3, flag4 string
	fs.StringVar(&flag1, "my-flag1", "def1", "")
	fs.StringVar(&flag2, "my-flag2", "def2", "")
	fs.StringVar(&flag3, "my-flag3", "def3", "")
	fs.StringVar(&flag4, "my-flag4", "def4", "")
	require.NoError(t, fs.Parse([]string{"--my-flag1=cl1", "--my-flag2="}))

	os.Setenv("TEST_MY_FLAG1", "env1")
	os.Setenv("TEST_MY_FLAG2", "env2")
	os.Setenv("TEST_MY_FLAG3", "env3")
	defer func() {
		for _, v := range []string{"TEST_MY_FLAG1", "TEST_MY_FLAG2", "TEST_MY_FLAG3"} {
			os.Unsetenv(v)
		}
	}()
	require.NoError(t, ParseFlagSet(fs, "TEST_"))

	assert.Equal(t, "cl1", flag1)
	assert.Equal(t, "", flag2)
	assert.Equal(t, "env3", flag3)
	assert.Equal(t, "def4", flag4)
	assert.True(t, fs.Lookup("my-flag3").Changed)
	assert.False(t, fs.Lookup("my-flag4").Changed)
}

func TestBadValue(t *testing.T) {
	fs := pflag.NewFlagSet("pflagenv-test", pflag.ContinueOnError)
	fs.Int("attempts", 5, "")
	fs.Bool("power-on", false, "")
	require.NoError(t, fs.Parse(nil))

	os.Setenv("BAD_ATTEMPTS", "many")
	os.Setenv("BAD_POWER_ON", "true")
	defer os.Unsetenv("BAD_ATTEMPTS")
	defer os.Unsetenv("BAD_POWER_ON")

	err := ParseFlagSet(fs, "BAD_")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "BAD_ATTEMPTS")
	v, _ := fs.GetBool("power-on")
	assert.True(t, v)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "SAPPHIRE_STATE_DIR", EnvName("state-dir", "SAPPHIRE_"))
}
