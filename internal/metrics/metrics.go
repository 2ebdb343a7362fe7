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

// Package metrics provides a pluggable tally.Scope factory registry, so the
// engine and its subsystems report through whichever backend the deployment
// configures without any tally-specific code outside this package.
package metrics

import (
	"fmt"
	"io"

	"github.com/uber-go/tally"
)

func init() {
	register("disabled", newDisabledScope)
	register("statsd", newStatsdScope)
}

type scopeFactory func(config Config) (tally.Scope, io.Closer, error)

var scopeFactories = make(map[string]scopeFactory)

func register(name string, f scopeFactory) {
	if _, ok := scopeFactories[name]; ok {
		panic(fmt.Sprintf("metrics: backend %q already registered", name))
	}
	scopeFactories[name] = f
}

// New creates a module-tagged tally.Scope from config. An empty backend
// disables metrics entirely.
func New(config Config, module string) (tally.Scope, io.Closer, error) {
	if config.Backend == "" {
		config.Backend = "disabled"
	}
	f, ok := scopeFactories[config.Backend]
	if !ok {
		return nil, nil, fmt.Errorf("metrics: backend %q not registered", config.Backend)
	}
	scope, closer, err := f(config)
	if err != nil {
		return nil, nil, err
	}
	return scope.Tagged(map[string]string{"module": module}), closer, nil
}
