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
	"sync/atomic"
	"time"
)

// operation is the polymorphic unit of work moving through the system.
// Every variant drives itself through the stages: the worker pulls an
// operation off the request queue and calls stageFromRequest; queued
// operations are later promoted via stageFromReady and finalized via
// stageFromActive. Immediate operations (NoOp, Stop, Cancel,
// SetPriority, SetGet) perform their work entirely in stageFromRequest
// and deliver themselves straight to the reply queue.
type operation interface {
	base() *opBase

	// stageFromRequest is invoked by the worker when the operation is
	// pulled off the cross-thread request queue.
	stageFromRequest(sv *service)

	// stageFromReady is invoked by the policy engine when promoting a
	// queued operation to the transport.
	stageFromReady(sv *service)

	// stageFromActive is invoked when the transport reports completion
	// and no retry is scheduled. It delivers the operation to the
	// reply queue.
	stageFromActive(sv *service)

	// visitNotifier runs on the consumer thread during Client.Update
	// and performs the handler callback.
	visitNotifier(c *Client)
}

var opSequence atomic.Uint64

// opBase carries the state common to all operation variants. Concrete
// variants embed a *opBase and must call attach to register themselves
// in the handle registry.
type opBase struct {
	self operation

	handle   Handle
	policyID uint32
	priority uint32
	seq      uint64

	replyQueue *replyQueue
	handler    Handler

	status    Status
	tracing   int
	createdAt time.Time
}

func newOpBase() *opBase {
	return &opBase{
		status:    StatusOK,
		tracing:   TraceOff,
		seq:       opSequence.Add(1),
		createdAt: time.Now(),
	}
}

// attach links the base to its concrete variant and mints the handle.
// Must be called exactly once, before the operation is shared.
func (b *opBase) attach(self operation) {
	b.self = self
	b.handle = registry.register(b)
}

func (b *opBase) base() *opBase { return b }

// Queued-stage defaults. Only Request operations implement these; a
// call on any other variant is an invariant violation.
func (b *opBase) stageFromReady(sv *service) {
	panic("corehttp: stageFromReady on non-queued operation")
}

func (b *opBase) stageFromActive(sv *service) {
	panic("corehttp: stageFromActive on non-queued operation")
}

// visitNotifier delivers the completion for simple operations: a
// response carrying only the terminal status.
func (b *opBase) visitNotifier(c *Client) {
	if b.handler == nil {
		return
	}
	b.handler.OnCompleted(b.handle, &Response{status: b.status})
}

// setReplyPath stamps the reply queue and handler onto the operation.
// Called by the facade before submission.
func (b *opBase) setReplyPath(rq *replyQueue, handler Handler) {
	b.replyQueue = rq
	b.handler = handler
}

// addAsReply hands the operation to its reply queue. Operations
// submitted without a reply path are simply dropped on completion.
func (b *opBase) addAsReply() {
	if b.tracing >= TraceLow {
		slog.Info("TRACE, ToReplyQueue", "handle", b.handle)
	}
	if b.replyQueue != nil {
		b.replyQueue.addOp(b.self)
	}
}

// cancelOp finalizes the operation with an OpCanceled status and
// delivers it. Used by queue teardown and explicit cancellation.
func (b *opBase) cancelOp() {
	b.status = NewStatus(DomainCore, ECOpCanceled)
	b.addAsReply()
}

// opNoOp does nothing and immediately replies. Used for queue
// synchronization and testing.
type opNoOp struct {
	*opBase
}

func newNoOp() *opNoOp {
	op := &opNoOp{opBase: newOpBase()}
	op.attach(op)
	return op
}

func (op *opNoOp) stageFromRequest(sv *service) {
	op.addAsReply()
}

// opStop asks the worker to exit once the current cycle completes.
type opStop struct {
	*opBase
}

func newStopOp() *opStop {
	op := &opStop{opBase: newOpBase()}
	op.attach(op)
	return op
}

func (op *opStop) stageFromRequest(sv *service) {
	sv.stopRequested()
	op.addAsReply()
}
