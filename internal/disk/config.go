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

package disk

// Config governs one torrent's disk layer.
type Config struct {
	Allocation AllocationStrategy `yaml:"allocation"`
	// WriteQueueSize bounds the number of pending piece writes, default 64.
	WriteQueueSize int `yaml:"write_queue_size"`
	// VerifyConcurrency bounds concurrent piece hashes during resume
	// verification, default 8.
	VerifyConcurrency int `yaml:"verify_concurrency"`
	Cache             CacheConfig `yaml:"cache"`
}

func (c Config) applyDefaults() Config {
	if c.WriteQueueSize == 0 {
		c.WriteQueueSize = 64
	}
	if c.VerifyConcurrency == 0 {
		c.VerifyConcurrency = 8
	}
	c.Cache = c.Cache.applyDefaults()
	return c
}
