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
	"time"

	"github.com/tombee/fetchcore/pkg/buffer"
)

// Client is the consumer-side facade: it submits operations to the
// shared worker and pumps their completions back through Update.
//
// Each Client owns its reply queue, so completions for requests
// submitted through one Client are only ever seen by that Client's
// Update. A Client is intended for use from one consumer goroutine;
// create one per consuming subsystem.
type Client struct {
	replyQueue *replyQueue
	lastStatus Status
}

// NewClient returns a facade bound to the process-wide service.
func NewClient() *Client {
	return &Client{
		replyQueue: newReplyQueue(),
		lastStatus: StatusOK,
	}
}

// Status returns the reason the most recent submission call on this
// Client returned InvalidHandle.
func (c *Client) Status() Status {
	return c.lastStatus
}

// Get issues a GET for the whole resource.
func (c *Client) Get(policyID, priority uint32, url string, opts *Options, headers *HeaderList, handler Handler) Handle {
	op := newRequestOp()
	if st := op.setupGet(policyID, priority, url, opts, headers); !st.IsSuccess() {
		return c.fail(op.opBase, st)
	}
	return c.submit(op, handler, "get")
}

// GetByteRange issues a GET carrying a Range header for length bytes
// starting at offset; zero length means "from offset to end".
func (c *Client) GetByteRange(policyID, priority uint32, url string, offset, length uint64, opts *Options, headers *HeaderList, handler Handler) Handle {
	op := newRequestOp()
	if st := op.setupGetByteRange(policyID, priority, url, offset, length, opts, headers); !st.IsSuccess() {
		return c.fail(op.opBase, st)
	}
	return c.submit(op, handler, "get_range")
}

// Post issues a POST with the given body.
func (c *Client) Post(policyID, priority uint32, url string, body *buffer.Array, opts *Options, headers *HeaderList, handler Handler) Handle {
	op := newRequestOp()
	if st := op.setupPost(policyID, priority, url, body, opts, headers); !st.IsSuccess() {
		return c.fail(op.opBase, st)
	}
	return c.submit(op, handler, "post")
}

// Put issues a PUT with the given body.
func (c *Client) Put(policyID, priority uint32, url string, body *buffer.Array, opts *Options, headers *HeaderList, handler Handler) Handle {
	op := newRequestOp()
	if st := op.setupPut(policyID, priority, url, body, opts, headers); !st.IsSuccess() {
		return c.fail(op.opBase, st)
	}
	return c.submit(op, handler, "put")
}

// Patch issues a PATCH with the given body.
func (c *Client) Patch(policyID, priority uint32, url string, body *buffer.Array, opts *Options, headers *HeaderList, handler Handler) Handle {
	op := newRequestOp()
	if st := op.setupPatch(policyID, priority, url, body, opts, headers); !st.IsSuccess() {
		return c.fail(op.opBase, st)
	}
	return c.submit(op, handler, "patch")
}

// Delete issues a DELETE.
func (c *Client) Delete(policyID, priority uint32, url string, opts *Options, headers *HeaderList, handler Handler) Handle {
	op := newRequestOp()
	if st := op.setupDelete(policyID, priority, url, opts, headers); !st.IsSuccess() {
		return c.fail(op.opBase, st)
	}
	return c.submit(op, handler, "delete")
}

// Copy issues a WebDAV COPY.
func (c *Client) Copy(policyID, priority uint32, url string, opts *Options, headers *HeaderList, handler Handler) Handle {
	op := newRequestOp()
	if st := op.setupCopy(policyID, priority, url, opts, headers); !st.IsSuccess() {
		return c.fail(op.opBase, st)
	}
	return c.submit(op, handler, "copy")
}

// Move issues a WebDAV MOVE.
func (c *Client) Move(policyID, priority uint32, url string, opts *Options, headers *HeaderList, handler Handler) Handle {
	op := newRequestOp()
	if st := op.setupMove(policyID, priority, url, opts, headers); !st.IsSuccess() {
		return c.fail(op.opBase, st)
	}
	return c.submit(op, handler, "move")
}

// Cancel asks the worker to cancel the operation identified by target.
// Cancellation is asynchronous: the cancel operation itself completes
// with success or ECHandleNotFound, and the target (if found) is
// delivered separately with ECOpCanceled.
func (c *Client) Cancel(target Handle, handler Handler) Handle {
	return c.submit(newCancelOp(target), handler, "cancel")
}

// SetPriority relocates a queued request under a new priority.
func (c *Client) SetPriority(target Handle, priority uint32, handler Handler) Handle {
	return c.submit(newSetPriorityOp(target, priority), handler, "set_priority")
}

// SetPolicyOption changes a dynamic long-typed policy option on the
// running service. Use class GlobalPolicyID for global options.
func (c *Client) SetPolicyOption(opt PolicyOption, class uint32, value int64, handler Handler) Handle {
	op := newSetGetOp()
	if st := op.setupSet(opt, class, value); !st.IsSuccess() {
		return c.fail(op.opBase, st)
	}
	return c.submit(op, handler, "set_option")
}

// GetPolicyOption fetches a policy option value from the running
// service; the value is delivered on the completion's Response.
func (c *Client) GetPolicyOption(opt PolicyOption, class uint32, handler Handler) Handle {
	op := newSetGetOp()
	if st := op.setupGet(opt, class); !st.IsSuccess() {
		return c.fail(op.opBase, st)
	}
	return c.submit(op, handler, "get_option")
}

// NoOp submits an operation that does nothing but complete. Useful as
// a queue barrier in tests and shutdown sequencing.
func (c *Client) NoOp(handler Handler) Handle {
	return c.submit(newNoOp(), handler, "noop")
}

// StopThread asks the worker to exit after servicing everything ahead
// of this operation. Its completion is the last reply the worker
// produces for new work.
func (c *Client) StopThread(handler Handler) Handle {
	return c.submit(newStopOp(), handler, "stop")
}

// Update pumps this Client's reply queue, invoking handlers until the
// queue empties or the time budget is exhausted. A zero budget drains
// everything available. Returns StatusOK.
func (c *Client) Update(budget time.Duration) Status {
	var deadline time.Time
	if budget > 0 {
		deadline = time.Now().Add(budget)
	}
	ops := c.replyQueue.fetchAll()
	for i, op := range ops {
		op.visitNotifier(c)
		registry.remove(op.base().handle)
		if !deadline.IsZero() && time.Now().After(deadline) && i+1 < len(ops) {
			c.replyQueue.requeueFront(ops[i+1:])
			break
		}
	}
	return StatusOK
}

// submit stamps the reply path and enqueues the operation with the
// worker. On failure the handle is released and InvalidHandle is
// returned with the reason available via Status.
func (c *Client) submit(op operation, handler Handler, kind string) Handle {
	b := op.base()
	b.setReplyPath(c.replyQueue, handler)

	sv := instance()
	if sv == nil {
		return c.fail(b, NewStatus(DomainCore, ECShuttingDown))
	}
	if rq, ok := op.(*opRequest); ok && int(rq.policyID) >= sv.policy.classCount() {
		return c.fail(b, NewStatus(DomainCore, ECInvalidArg))
	}
	if st := sv.requestQueue.addOp(op); !st.IsSuccess() {
		return c.fail(b, st)
	}
	metricSubmitted.WithLabelValues(kind).Inc()
	c.lastStatus = StatusOK
	return b.handle
}

func (c *Client) fail(b *opBase, st Status) Handle {
	c.lastStatus = st
	registry.remove(b.handle)
	return InvalidHandle
}
