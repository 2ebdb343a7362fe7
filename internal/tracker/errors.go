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

// Package tracker implements HTTP and UDP tracker announce/scrape clients,
// a per-tracker record state machine, and a coordinator that fans an
// announce out to every tier of every configured tracker in parallel.
package tracker

import "fmt"

// FailureError wraps a tracker-reported "failure reason".
type FailureError struct {
	Reason string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("tracker: failure reason: %s", e.Reason)
}

// HTTPError wraps a non-2xx HTTP response from an HTTP tracker.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("tracker: http error: status %d", e.Status)
}
