// Copyright 2025 Tom Barlow
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

package corehttp

import "time"

// Method identifies the HTTP verb of a request operation.
type Method int

const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
	MethodPatch
	MethodCopy
	MethodMove
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodPut:
		return "PUT"
	case MethodDelete:
		return "DELETE"
	case MethodPatch:
		return "PATCH"
	case MethodCopy:
		return "COPY"
	case MethodMove:
		return "MOVE"
	}
	return "UNKNOWN"
}

// Debug/informational tracing levels. Used both as a global option and
// in per-request traces.
const (
	TraceOff     = 0
	TraceLow     = 1
	TraceHeaders = 2
	TraceBodies  = 3

	TraceMin = TraceOff
	TraceMax = TraceBodies
)

// Maximum number of policy classes that can be created.
const PolicyClassLimit = 8

// Request retry limits.
const (
	DefaultRetryCount = 5
	LimitRetryMin     = 0
	LimitRetryMax     = 100
)

// Default backoff window for retry scheduling.
const (
	DefaultMinRetryBackoff = 1 * time.Second
	DefaultMaxRetryBackoff = 5 * time.Second
)

// Retry-After response values inside (0, RetryAfterMax) override the
// computed backoff for that attempt. Values outside the window are
// treated as server noise and ignored.
const RetryAfterMax = 30 * time.Second

// DefaultRedirects caps redirect chains followed per request.
const DefaultRedirects = 10

// Timeout bounds, applied to both connect and transfer timeouts.
const (
	DefaultTimeout  = 30 * time.Second
	LimitTimeoutMin = 0 * time.Second
	LimitTimeoutMax = 3600 * time.Second
)

// Connection count limits per policy class.
const (
	DefaultConnections  = 8
	LimitConnectionsMin = 1
	LimitConnectionsMax = 256
)

// Time the worker sleeps after a busy pass through the request, ready
// and active queues.
const loopSleepNormal = 2 * time.Millisecond

// Longest the worker blocks on the request queue when all queues are
// quiet. Bounded so dirty-policy application and shutdown checks are
// never starved by a silent queue.
const loopSleepIdleMax = 5 * time.Second

// easyHandleCacheLimit bounds the recycled easy-handle pool.
const easyHandleCacheLimit = 64
