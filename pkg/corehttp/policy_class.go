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

// Pipelining depth ceiling per class.
const pipeliningMax = 32

// policyClassOptions holds the per-class tunables. Values are clamped
// on set so a class can never be configured into an unusable state.
type policyClassOptions struct {
	connectionLimit        int64
	perHostConnectionLimit int64
	pipelining             int64
	throttleRate           int64
}

func defaultClassOptions() policyClassOptions {
	return policyClassOptions{
		connectionLimit:        DefaultConnections,
		perHostConnectionLimit: DefaultConnections,
		pipelining:             0,
		throttleRate:           0,
	}
}

func (o *policyClassOptions) set(opt PolicyOption, value int64) Status {
	switch opt {
	case ConnectionLimit:
		o.connectionLimit = clampInt64(value, LimitConnectionsMin, LimitConnectionsMax)
	case PerHostConnectionLimit:
		o.perHostConnectionLimit = clampInt64(value, LimitConnectionsMin, o.connectionLimit)
	case PipeliningDepth:
		o.pipelining = clampInt64(value, 0, pipeliningMax)
	case ThrottleRate:
		o.throttleRate = clampInt64(value, 0, 1000000)
	default:
		return NewStatus(DomainCore, ECInvalidArg)
	}
	return StatusOK
}

func (o *policyClassOptions) get(opt PolicyOption) (int64, Status) {
	switch opt {
	case ConnectionLimit:
		return o.connectionLimit, StatusOK
	case PerHostConnectionLimit:
		return o.perHostConnectionLimit, StatusOK
	case PipeliningDepth:
		return o.pipelining, StatusOK
	case ThrottleRate:
		return o.throttleRate, StatusOK
	default:
		return 0, NewStatus(DomainCore, ECInvalidArg)
	}
}

// pipelined reports whether the class runs in pipelined mode, which
// changes how connection limits are interpreted by the transport.
func (o *policyClassOptions) pipelined() bool {
	return o.pipelining > 1
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
