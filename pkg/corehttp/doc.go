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

// Package corehttp is an asynchronous HTTP fetch core for real-time
// interactive applications that pull large volumes of heterogeneous
// resources (textures, meshes, inventory, long-poll event streams,
// capability RPCs) from many endpoints concurrently without blocking
// the application's main loop.
//
// # Architecture
//
// A single worker goroutine owns all scheduling state: per-policy-class
// ready and retry queues, the admission and throttling engine, and the
// transport driver with its connection pools. Consumer goroutines
// interact only through a thread-safe request queue, per-Client reply
// queues, and atomic flags. Actual network I/O runs on short-lived
// goroutines owned by the transport; they report back over a
// completion channel the worker drains each cycle.
//
// Requests are submitted into policy classes, each carrying its own
// connection limits, optional multiplexing depth, and client-side rate
// throttle. Failures classified as retryable back off geometrically,
// honoring a plausible server Retry-After, up to a per-request limit.
//
// # Usage
//
//	corehttp.CreateService()
//	class := corehttp.CreatePolicyClass()
//	corehttp.SetStaticPolicyOption(corehttp.ConnectionLimit, class, 8)
//	corehttp.StartThread()
//
//	client := corehttp.NewClient()
//	handle := client.Get(class, 0, url, nil, nil,
//		corehttp.HandlerFunc(func(h corehttp.Handle, resp *corehttp.Response) {
//			// resp and its body now belong to the consumer.
//		}))
//	if handle == corehttp.InvalidHandle {
//		return client.Status()
//	}
//	for {
//		client.Update(0) // pump completions on the consumer's cadence
//		...
//	}
//
// Every submitted request produces exactly one handler invocation,
// carrying either a success status with a response or a failure
// status. Cancellation is asynchronous: post a Cancel and pump Update
// until both completions arrive.
package corehttp
