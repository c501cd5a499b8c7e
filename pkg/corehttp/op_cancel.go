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

// opCancel asks the worker to cancel another operation by handle. The
// transport is tried first (the target may be mid-flight), then the
// policy queues. The cancel operation itself always delivers a reply;
// the cancelled target, when found, is finalized with ECOpCanceled and
// delivered separately.
type opCancel struct {
	*opBase
	target Handle
}

func newCancelOp(target Handle) *opCancel {
	op := &opCancel{opBase: newOpBase(), target: target}
	op.attach(op)
	return op
}

func (op *opCancel) stageFromRequest(sv *service) {
	if !sv.cancel(op.target) {
		op.status = NewStatus(DomainCore, ECHandleNotFound)
	}
	op.addAsReply()
}

// opSetPriority relocates a queued request under a new priority. Only
// the ready queue is scanned; a priority change on the retry queue is
// meaningless since retry issue order follows backoff intervals.
type opSetPriority struct {
	*opBase
	target      Handle
	newPriority uint32
}

func newSetPriorityOp(target Handle, priority uint32) *opSetPriority {
	op := &opSetPriority{opBase: newOpBase(), target: target, newPriority: priority}
	op.attach(op)
	return op
}

func (op *opSetPriority) stageFromRequest(sv *service) {
	if !sv.policy.changePriority(op.target, op.newPriority) {
		op.status = NewStatus(DomainCore, ECHandleNotFound)
	}
	op.addAsReply()
}
