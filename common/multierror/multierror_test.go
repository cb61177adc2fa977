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
package multierror

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestAppend(t *testing.T) {
	var err error
	err = Append(err, errors.Errorf("an error"))
	if assert.Error(t, err) {
		assert.Equal(t, "1 error(s) occurred:\nan error", err.Error())
	}

	err = Append(err, errors.Errorf("another error"), nil)
	assert.Equal(t, "2 error(s) occurred:\nan error\nanother error", err.Error())

	err = Append(errors.Errorf("old error"), errors.Errorf("new error"))
	assert.Equal(t, "2 error(s) occurred:\nold error\nnew error", err.Error())
	assert.Len(t, err.(*Error).Errors(), 2)
}

func TestNothingCollected(t *testing.T) {
	assert.NoError(t, Append(nil))
	assert.NoError(t, Append(nil, nil, nil))

	var me *Error
	assert.Equal(t, 0, me.Len())
	assert.NoError(t, me.ErrorOrNil())
}

func TestFlatten(t *testing.T) {
	a := Append(nil, errors.New("a"), errors.New("b"))
	b := Append(errors.New("c"), a)
	assert.Equal(t, 3, b.(*Error).Len())
}
