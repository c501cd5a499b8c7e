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

// PolicyOption enumerates the tunable policy parameters. Each option
// applies globally, per policy class, or both, and is either static
// (settable only before the worker starts) or dynamic (settable at
// runtime through a SetPolicyOption operation).
type PolicyOption int

const (
	// ConnectionLimit caps concurrent connections. Global and
	// per-class contexts.
	ConnectionLimit PolicyOption = iota

	// PerHostConnectionLimit caps connections per host within a class.
	// Meaningful when the class is pipelined.
	PerHostConnectionLimit

	// CAPath points the TLS stack at a directory of trusted certs.
	CAPath

	// CAFile points the TLS stack at a bundle of trusted certs.
	CAFile

	// HTTPProxy routes requests through a static proxy.
	HTTPProxy

	// UseExternalProxy prefers the application-supplied proxy provider
	// over the static proxy string.
	UseExternalProxy

	// Trace sets the global logging verbosity (TraceOff..TraceBodies).
	Trace

	// PipeliningDepth switches a class into pipelined mode: 0/1
	// disables, 2 or more enables concurrent requests per connection
	// with that depth. Interacts with ConnectionLimit and
	// PerHostConnectionLimit: a pipelined class is admitted up to
	// per-host-limit x depth in-flight requests.
	PipeliningDepth

	// ThrottleRate caps a class at N requests per second. 0 disables.
	ThrottleRate

	// SSLVerifyCallback installs the global certificate verification
	// capability.
	SSLVerifyCallback

	policyOptionLast // always at end
)

// GlobalPolicyID is the class argument for options set in the global
// context.
const GlobalPolicyID uint32 = 0x7FFFFFFF

// InvalidPolicyID is returned when a policy class cannot be created.
const InvalidPolicyID uint32 = 0xFFFFFFFF

// optionDescriptor declares what operations each policy option admits.
type optionDescriptor struct {
	isLong     bool
	isDynamic  bool
	isGlobal   bool
	isClass    bool
	isCallback bool
}

var optionDesc = [policyOptionLast]optionDescriptor{
	ConnectionLimit:        {isLong: true, isDynamic: true, isGlobal: true, isClass: true},
	PerHostConnectionLimit: {isLong: true, isDynamic: true, isClass: true},
	CAPath:                 {isGlobal: true},
	CAFile:                 {isGlobal: true},
	HTTPProxy:              {isGlobal: true},
	UseExternalProxy:       {isLong: true, isGlobal: true},
	Trace:                  {isLong: true, isDynamic: true, isGlobal: true},
	PipeliningDepth:        {isLong: true, isDynamic: true, isClass: true},
	ThrottleRate:           {isLong: true, isDynamic: true, isClass: true},
	SSLVerifyCallback:      {isGlobal: true, isCallback: true},
}

func describeOption(opt PolicyOption) (optionDescriptor, bool) {
	if opt < 0 || opt >= policyOptionLast {
		return optionDescriptor{}, false
	}
	return optionDesc[opt], true
}
