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

// Static policy configuration. These run on the init thread between
// CreateService and StartThread; once the worker is running only
// dynamic options may change, via Client.SetPolicyOption.

func staticService() (*service, Status) {
	serviceMu.Lock()
	defer serviceMu.Unlock()
	if sService == nil || serviceState(sState.Load()) != stateInitialized {
		return nil, NewStatus(DomainCore, ECInvalidArg)
	}
	return sService, StatusOK
}

// SetStaticPolicyOption sets a long-typed option before the worker
// starts, returning the value actually stored (options clamp).
func SetStaticPolicyOption(opt PolicyOption, class uint32, value int64) (int64, Status) {
	sv, st := staticService()
	if !st.IsSuccess() {
		return 0, st
	}
	return sv.setPolicyOptionLong(opt, class, value)
}

// SetStaticPolicyOptionString sets a string-typed option before the
// worker starts.
func SetStaticPolicyOptionString(opt PolicyOption, class uint32, value string) (string, Status) {
	sv, st := staticService()
	if !st.IsSuccess() {
		return "", st
	}
	return sv.setPolicyOptionString(opt, class, value)
}

// SetStaticPolicyOptionCallback installs a callback-typed option
// (the global SSL verification capability) before the worker starts.
func SetStaticPolicyOptionCallback(opt PolicyOption, class uint32, value SSLVerifyFunc) Status {
	sv, st := staticService()
	if !st.IsSuccess() {
		return st
	}
	return sv.setPolicyOptionCallback(opt, class, value)
}

// SetStaticProxyProvider installs the application proxy capability
// consulted when the UseExternalProxy option is enabled.
func SetStaticProxyProvider(provider ProxyFunc) Status {
	sv, st := staticService()
	if !st.IsSuccess() {
		return st
	}
	sv.policy.global().proxyProvider = provider
	return StatusOK
}
