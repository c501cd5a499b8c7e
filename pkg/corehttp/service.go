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
	"sync"
	"sync/atomic"
	"time"
)

// loopSpeed is the idling hint the worker combines across its three
// servicing phases each cycle. Ordered so the minimum of several
// requests produces the most conservative (busiest) result.
type loopSpeed int

const (
	// speedNormal: keep polling the request, ready and active queues.
	speedNormal loopSpeed = iota

	// requestSleep: nothing anywhere; the worker may block on the
	// request queue until a producer writes.
	requestSleep
)

// Service lifecycle states.
type serviceState int32

const (
	stateNotInitialized serviceState = iota
	stateInitialized
	stateRunning
	stateStopped
)

// service is the worker-side top of the world: the cross-thread
// request queue, the policy engine and the transport driver. The
// policy and transport are exclusively worker-thread state; the
// request queue and the exit flag are the only synchronized points.
type service struct {
	requestQueue  *requestQueue
	policy        *policy
	transport     *transport
	exitRequested atomic.Bool
	done          chan struct{}
}

var (
	serviceMu sync.Mutex
	sService  *service
	sState    atomic.Int32
)

func newService() *service {
	sv := &service{
		requestQueue: newRequestQueue(),
		done:         make(chan struct{}),
	}
	sv.policy = newPolicy(sv)
	sv.transport = newTransport(sv)
	return sv
}

// CreateService initializes the process-wide service. Must be called
// once before any other facade operation; policy classes and static
// options are configured between this call and StartThread.
func CreateService() {
	serviceMu.Lock()
	defer serviceMu.Unlock()
	if sService != nil {
		panic("corehttp: CreateService called twice")
	}
	sService = newService()
	sState.Store(int32(stateInitialized))
}

// DestroyService tears the service down. The worker must already have
// stopped (via a Stop operation or StopThread).
func DestroyService() {
	serviceMu.Lock()
	defer serviceMu.Unlock()
	if sService == nil {
		return
	}
	if serviceState(sState.Load()) == stateRunning {
		panic("corehttp: DestroyService called while worker running")
	}
	sService = nil
	sState.Store(int32(stateNotInitialized))
}

// StartThread launches the worker. Callable once per service.
func StartThread() Status {
	serviceMu.Lock()
	defer serviceMu.Unlock()
	if sService == nil || serviceState(sState.Load()) != stateInitialized {
		return NewStatus(DomainCore, ECInvalidArg)
	}
	sState.Store(int32(stateRunning))
	go sService.threadRun()
	return StatusOK
}

// IsStopped reports whether the worker has fully exited. The
// transition is performed by the worker itself, so a caller may
// briefly observe a stale running state.
func IsStopped() bool {
	return serviceState(sState.Load()) == stateStopped
}

// CreatePolicyClass returns a fresh policy class id, or
// InvalidPolicyID when the class limit is reached. Must be called
// before StartThread.
func CreatePolicyClass() uint32 {
	serviceMu.Lock()
	defer serviceMu.Unlock()
	if sService == nil || serviceState(sState.Load()) != stateInitialized {
		return InvalidPolicyID
	}
	return sService.policy.createPolicyClass()
}

func instance() *service {
	serviceMu.Lock()
	defer serviceMu.Unlock()
	return sService
}

// stopRequested flags the worker to exit after the current cycle.
// Worker-thread only (driven by the Stop operation).
func (sv *service) stopRequested() {
	sv.exitRequested.Store(true)
}

// threadRun is the worker loop: drain the request queue, promote
// ready/retry work, service the transport, then idle according to the
// combined speed hint.
func (sv *service) threadRun() {
	sv.transport.start(sv.policy.classCount())

	speed := speedNormal
	for !sv.exitRequested.Load() {
		speed = sv.processRequestQueue(speed)
		speed = min(speed, sv.policy.processReadyQueue())
		speed = min(speed, sv.transport.processTransport())
		if speed == speedNormal {
			time.Sleep(loopSleepNormal)
		}
	}

	sv.shutdown()
	sState.Store(int32(stateStopped))
	close(sv.done)
}

// processRequestQueue stages every operation available on the request
// queue. When the prior cycle found nothing to do, the fetch blocks
// (bounded) waiting for a producer.
func (sv *service) processRequestQueue(hint loopSpeed) loopSpeed {
	wait := hint == requestSleep
	ops := sv.requestQueue.fetchAll(wait, loopSleepIdleMax)
	if len(ops) == 0 {
		return requestSleep
	}
	for i, op := range ops {
		op.stageFromRequest(sv)
		if sv.exitRequested.Load() {
			// A Stop was staged; anything fetched behind it still
			// gets its promised completion.
			for _, rest := range ops[i+1:] {
				sv.finalizeUnstaged(rest)
			}
			break
		}
	}
	return speedNormal
}

// finalizeUnstaged gives an operation caught by shutdown its promised
// completion: immediates still execute, queued requests are canceled.
func (sv *service) finalizeUnstaged(op operation) {
	if rq, ok := op.(*opRequest); ok {
		rq.cancelOp()
		return
	}
	op.stageFromRequest(sv)
}

// shutdown runs on the worker after the loop exits: refuse new
// submissions, flush the request queue, cancel queued and active
// operations.
func (sv *service) shutdown() {
	sv.requestQueue.stopQueue()
	for _, op := range sv.requestQueue.fetchAll(false, 0) {
		sv.finalizeUnstaged(op)
	}
	sv.policy.shutdown()
	sv.transport.shutdown()
	slog.Debug("worker thread exiting")
}

// cancel tries the transport first (the target may be in flight),
// then the policy queues.
func (sv *service) cancel(h Handle) bool {
	if sv.transport.cancel(h) {
		return true
	}
	return sv.policy.cancel(h)
}

// Policy option plumbing. Worker-thread for the dynamic path (via
// opSetGet); init-thread before StartThread for the static path.

func (sv *service) setPolicyOptionLong(opt PolicyOption, class uint32, value int64) (int64, Status) {
	desc, ok := describeOption(opt)
	if !ok || !desc.isLong {
		return 0, NewStatus(DomainCore, ECInvalidArg)
	}
	if class == GlobalPolicyID {
		if !desc.isGlobal {
			return 0, NewStatus(DomainCore, ECInvalidArg)
		}
		if st := sv.policy.global().setLong(opt, value); !st.IsSuccess() {
			return 0, st
		}
		result, _ := sv.policy.global().getLong(opt)
		return result, StatusOK
	}
	if !desc.isClass || int(class) >= sv.policy.classCount() {
		return 0, NewStatus(DomainCore, ECInvalidArg)
	}
	opts := sv.policy.classOptions(class)
	if st := opts.set(opt, value); !st.IsSuccess() {
		return 0, st
	}
	// A running transport must fold the change in; with active
	// requests in the class this stalls staging until it drains.
	if serviceState(sState.Load()) == stateRunning {
		sv.transport.policyUpdated(class)
	}
	result, _ := opts.get(opt)
	return result, StatusOK
}

func (sv *service) setPolicyOptionString(opt PolicyOption, class uint32, value string) (string, Status) {
	desc, ok := describeOption(opt)
	if !ok || desc.isLong || desc.isCallback || class != GlobalPolicyID {
		return "", NewStatus(DomainCore, ECInvalidArg)
	}
	if st := sv.policy.global().setString(opt, value); !st.IsSuccess() {
		return "", st
	}
	result, _ := sv.policy.global().getString(opt)
	return result, StatusOK
}

func (sv *service) setPolicyOptionCallback(opt PolicyOption, class uint32, value SSLVerifyFunc) Status {
	desc, ok := describeOption(opt)
	if !ok || !desc.isCallback || class != GlobalPolicyID {
		return NewStatus(DomainCore, ECInvalidArg)
	}
	return sv.policy.global().setCallback(opt, value)
}

func (sv *service) getPolicyOptionLong(opt PolicyOption, class uint32) (int64, Status) {
	desc, ok := describeOption(opt)
	if !ok || !desc.isLong {
		return 0, NewStatus(DomainCore, ECInvalidArg)
	}
	if class == GlobalPolicyID {
		if !desc.isGlobal {
			return 0, NewStatus(DomainCore, ECInvalidArg)
		}
		return sv.policy.global().getLong(opt)
	}
	if !desc.isClass || int(class) >= sv.policy.classCount() {
		return 0, NewStatus(DomainCore, ECInvalidArg)
	}
	return sv.policy.classOptions(class).get(opt)
}

func (sv *service) getPolicyOptionString(opt PolicyOption, class uint32) (string, Status) {
	desc, ok := describeOption(opt)
	if !ok || desc.isLong || desc.isCallback || class != GlobalPolicyID {
		return "", NewStatus(DomainCore, ECInvalidArg)
	}
	return sv.policy.global().getString(opt)
}
