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

import (
	"log/slog"
	"time"
)

// throttleWindow is the accounting period for the client-side request
// rate throttle.
const throttleWindow = time.Second

// classState is the per-class runtime owned by the worker: the ready
// and retry queues, the class options, throttle accounting, and the
// staging stall used during transport reconfiguration.
type classState struct {
	readyQueue readyQueue
	retryQueue retryQueue

	options policyClassOptions

	throttleEnd  time.Time
	throttleLeft int64
	requestCount int64
	stallStaging bool
}

// policy is the scheduling engine: admission against connection and
// pipelining limits, client-side rate throttling, retry scheduling,
// and completion dispatch. Worker-thread only.
type policy struct {
	service *service
	classes []*classState
	gopts   globalOptions
}

func newPolicy(sv *service) *policy {
	p := &policy{
		service: sv,
		gopts:   defaultGlobalOptions(),
	}
	// The default class always exists.
	p.classes = append(p.classes, &classState{options: defaultClassOptions()})
	return p
}

// createPolicyClass mints a fresh class id, up to the compile-time
// class limit.
func (p *policy) createPolicyClass() uint32 {
	if len(p.classes) >= PolicyClassLimit {
		return InvalidPolicyID
	}
	p.classes = append(p.classes, &classState{options: defaultClassOptions()})
	return uint32(len(p.classes) - 1)
}

// shutdown cancels everything still waiting in the ready and retry
// queues, delivering each with ECOpCanceled.
func (p *policy) shutdown() {
	for _, state := range p.classes {
		for !state.retryQueue.empty() {
			state.retryQueue.pop().cancelOp()
		}
		for !state.readyQueue.empty() {
			state.readyQueue.pop().cancelOp()
		}
	}
}

// addOp accepts a freshly staged request into its class's ready queue.
func (p *policy) addOp(op *opRequest) {
	op.retries = 0
	op.retries503 = 0
	if op.tracing >= TraceLow {
		slog.Info("TRACE, ToReadyQueue", "handle", op.handle, "policy_class", op.policyID)
	}
	p.classes[op.policyID].readyQueue.push(op)
}

// retryOp schedules a failed request for another attempt. Backoff
// grows geometrically with the attempt count; a plausible server
// Retry-After delta replaces the computed delay for this attempt. The
// retry count, and with it the backoff exponent, advances either way.
func (p *policy) retryOp(op *opRequest) {
	now := time.Now()

	factor := time.Duration(1) << min(op.retries, 10)
	delta := min(op.minBackoff*factor, op.maxBackoff)
	external := false
	if op.replyRetryAfter > 0 && op.replyRetryAfter < RetryAfterMax {
		delta = op.replyRetryAfter
		external = true
	}
	op.retryAt = now.Add(delta)
	op.retries++
	if op.status.Equal(StatusFromHTTP(503)) {
		op.retries503++
	}
	source := "internal"
	if external {
		source = "external"
	}
	slog.Debug("HTTP request retry scheduled",
		"handle", op.handle,
		"retry", op.retries,
		"delay_ms", delta.Milliseconds(),
		"source", source,
		"status", op.status.TerseString())
	if op.tracing >= TraceLow {
		slog.Info("TRACE, ToRetryQueue", "handle", op.handle,
			"delay_ms", delta.Milliseconds(), "retries", op.retries)
	}
	metricRetriesScheduled.Inc()
	p.classes[op.policyID].retryQueue.push(op)
}

// processReadyQueue promotes requests into the transport for each
// class with available capacity, retry queue first. Returns
// requestSleep only when every class is idle, so the worker can block
// on the request queue.
func (p *policy) processReadyQueue() loopSpeed {
	now := time.Now()
	result := requestSleep

	for classID, state := range p.classes {
		if state.stallStaging {
			// Stalling but don't sleep hard; operations must complete
			// so the stalled class can drain and be reconfigured.
			result = speedNormal
			continue
		}
		if state.retryQueue.empty() && state.readyQueue.empty() {
			continue
		}

		throttleEnabled := state.options.throttleRate > 0
		if throttleEnabled && now.Before(state.throttleEnd) && state.throttleLeft <= 0 {
			// Throttled; don't serve this class but don't sleep hard.
			result = speedNormal
			continue
		}

		active := p.service.transport.activeCountInClass(uint32(classID))
		activeLimit := state.options.connectionLimit
		if state.options.pipelined() {
			activeLimit = state.options.perHostConnectionLimit * state.options.pipelining
		}
		needed := int(activeLimit) - active // negatives expected

		throttled := false
		for needed > 0 && !throttled {
			var op *opRequest
			if top := state.retryQueue.top(); top != nil && !top.retryAt.After(now) {
				op = state.retryQueue.pop()
			} else if !state.readyQueue.empty() {
				op = state.readyQueue.pop()
			} else {
				break
			}

			op.stageFromReady(p.service)
			state.requestCount++
			needed--

			if throttleEnabled {
				if !now.Before(state.throttleEnd) {
					slog.Debug("throttle window rolled",
						"policy_class", classID,
						"unused", state.throttleLeft,
						"issued", state.requestCount)
					state.throttleLeft = state.options.throttleRate
					state.throttleEnd = now.Add(throttleWindow)
				}
				state.throttleLeft--
				if state.throttleLeft <= 0 {
					throttled = true
				}
			}
		}

		if !state.readyQueue.empty() || !state.retryQueue.empty() {
			result = speedNormal
		}
	}

	return result
}

// changePriority relocates a request in its ready queue under a new
// priority. The retry queue is not scanned: issue order there follows
// backoff intervals, making priority moot.
func (p *policy) changePriority(h Handle, priority uint32) bool {
	for _, state := range p.classes {
		if op := state.readyQueue.removeByHandle(h); op != nil {
			op.priority = priority
			state.readyQueue.push(op)
			return true
		}
	}
	return false
}

// cancel removes a queued request from the retry or ready queue and
// finalizes it with ECOpCanceled. Reports whether it was found.
func (p *policy) cancel(h Handle) bool {
	for _, state := range p.classes {
		if op := state.retryQueue.removeByHandle(h); op != nil {
			op.cancelOp()
			return true
		}
		if op := state.readyQueue.removeByHandle(h); op != nil {
			op.cancelOp()
			return true
		}
	}
	return false
}

// stageAfterCompletion either schedules a retry for a failed request
// or finalizes it onto the reply queue. Reports whether the request
// remains active with the engine.
func (p *policy) stageAfterCompletion(op *opRequest) bool {
	if !op.status.IsSuccess() && op.retries < op.retryLimit && op.status.IsRetryable() {
		p.retryOp(op)
		return true
	}

	if !op.status.IsSuccess() {
		slog.Warn("HTTP request failed",
			"handle", op.handle,
			"retries", op.retries,
			"reason", op.status.String(),
			"status", op.status.TerseString())
	} else if op.retries > 0 {
		slog.Debug("HTTP request succeeded on retry",
			"handle", op.handle, "retries", op.retries)
	}

	op.stageFromActive(p.service)
	return false
}

// stallPolicy toggles the staging stall on a class, returning the
// prior value. Used by the transport during reconfiguration.
func (p *policy) stallPolicy(classID uint32, stall bool) bool {
	if int(classID) >= len(p.classes) {
		return false
	}
	prior := p.classes[classID].stallStaging
	p.classes[classID].stallStaging = stall
	return prior
}

func (p *policy) classOptions(classID uint32) *policyClassOptions {
	return &p.classes[classID].options
}

func (p *policy) global() *globalOptions {
	return &p.gopts
}

func (p *policy) classCount() int {
	return len(p.classes)
}

// readyCount reports how many requests are waiting (ready plus retry)
// in a class.
func (p *policy) readyCount(classID uint32) int {
	if int(classID) >= len(p.classes) {
		return 0
	}
	state := p.classes[classID]
	return state.readyQueue.size() + state.retryQueue.size()
}
