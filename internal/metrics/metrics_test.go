// Copyright (c) 2016-2019 Uber Technologies, Inc.
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

package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDefaultsToDisabled(t *testing.T) {
	scope, closer, err := New(Config{}, "piecemgr")
	require.NoError(t, err)
	require.NotNil(t, scope)
	defer closer.Close()
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, _, err := New(Config{Backend: "nope"}, "piecemgr")
	require.Error(t, err)
}

func TestNewModuleScopeEmitsWithoutPanic(t *testing.T) {
	scope, closer, err := New(Config{Backend: "disabled"}, "tracker")
	require.NoError(t, err)
	defer closer.Close()

	// Emitting through a tagged scope must not panic regardless of backend.
	scope.Counter("announces").Inc(1)
}
