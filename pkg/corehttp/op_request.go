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
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/fetchcore/pkg/buffer"
)

// Response processing flags on a request operation.
const (
	pfScanRangeHeader = 1 << iota
	pfSaveHeaders
	pfUseRetryAfter
)

// opRequest is the queued operation variant: an HTTP request that
// progresses ready -> active -> reply, possibly looping through the
// retry queue along the way.
type opRequest struct {
	*opBase

	method      Method
	url         string
	body        *buffer.Array
	rangeOffset uint64
	rangeLength uint64
	reqHeaders  *HeaderList
	options     *Options
	procFlags   int
	corrID      string

	// Retry state, owned by the policy engine.
	retries    uint32
	retries503 uint32
	retryAt    time.Time
	retryLimit uint32
	minBackoff time.Duration
	maxBackoff time.Duration

	// Reply state, copied off the easy handle on completion.
	replyBody        *buffer.Array
	replyHeaders     *HeaderList
	replyOffset      uint64
	replyLength      uint64
	replyFullLength  uint64
	replyRetryAfter  time.Duration
	replyContentType string
	stats            TransferStats

	// Transport state, owned by the transport driver.
	easy            *easyHandle
	transportActive bool
}

func newRequestOp() *opRequest {
	op := &opRequest{
		opBase:     newOpBase(),
		retryLimit: DefaultRetryCount,
		minBackoff: DefaultMinRetryBackoff,
		maxBackoff: DefaultMaxRetryBackoff,
		corrID:     uuid.NewString(),
	}
	op.attach(op)
	return op
}

// setupCommon records the shared request attributes and harvests the
// per-request options into the operation.
func (op *opRequest) setupCommon(policyID, priority uint32, url string, body *buffer.Array, opts *Options, headers *HeaderList) Status {
	if url == "" {
		return NewStatus(DomainCore, ECInvalidArg)
	}
	op.policyID = policyID
	op.priority = priority
	op.url = url
	op.body = body
	op.reqHeaders = headers
	op.options = opts
	if opts != nil {
		op.retryLimit = clampRetries(opts.Retries)
		if opts.MinBackoff > 0 {
			op.minBackoff = opts.MinBackoff
		}
		if opts.MaxBackoff > 0 {
			op.maxBackoff = opts.MaxBackoff
		}
		op.tracing = max(op.tracing, opts.Trace)
		if opts.WantHeaders {
			op.procFlags |= pfSaveHeaders
		}
		if opts.UseRetryAfter {
			op.procFlags |= pfUseRetryAfter
		}
	} else {
		op.procFlags |= pfUseRetryAfter
	}
	return StatusOK
}

func (op *opRequest) setupGet(policyID, priority uint32, url string, opts *Options, headers *HeaderList) Status {
	op.method = MethodGet
	return op.setupCommon(policyID, priority, url, nil, opts, headers)
}

func (op *opRequest) setupGetByteRange(policyID, priority uint32, url string, offset, length uint64, opts *Options, headers *HeaderList) Status {
	op.method = MethodGet
	op.rangeOffset = offset
	op.rangeLength = length
	if offset > 0 || length > 0 {
		op.procFlags |= pfScanRangeHeader
	}
	return op.setupCommon(policyID, priority, url, nil, opts, headers)
}

func (op *opRequest) setupPost(policyID, priority uint32, url string, body *buffer.Array, opts *Options, headers *HeaderList) Status {
	op.method = MethodPost
	return op.setupCommon(policyID, priority, url, body, opts, headers)
}

func (op *opRequest) setupPut(policyID, priority uint32, url string, body *buffer.Array, opts *Options, headers *HeaderList) Status {
	op.method = MethodPut
	return op.setupCommon(policyID, priority, url, body, opts, headers)
}

func (op *opRequest) setupPatch(policyID, priority uint32, url string, body *buffer.Array, opts *Options, headers *HeaderList) Status {
	op.method = MethodPatch
	return op.setupCommon(policyID, priority, url, body, opts, headers)
}

func (op *opRequest) setupDelete(policyID, priority uint32, url string, opts *Options, headers *HeaderList) Status {
	op.method = MethodDelete
	return op.setupCommon(policyID, priority, url, nil, opts, headers)
}

func (op *opRequest) setupCopy(policyID, priority uint32, url string, opts *Options, headers *HeaderList) Status {
	op.method = MethodCopy
	return op.setupCommon(policyID, priority, url, nil, opts, headers)
}

func (op *opRequest) setupMove(policyID, priority uint32, url string, opts *Options, headers *HeaderList) Status {
	op.method = MethodMove
	return op.setupCommon(policyID, priority, url, nil, opts, headers)
}

// effectiveOptions returns the request options, falling back to the
// package defaults for requests submitted without any.
func (op *opRequest) effectiveOptions() *Options {
	if op.options != nil {
		return op.options
	}
	return DefaultOptions()
}

func (op *opRequest) stageFromRequest(sv *service) {
	if op.tracing >= TraceLow {
		slog.Info("TRACE, FromRequestQueue", "handle", op.handle, "url", sanitizeURLString(op.url))
	}
	sv.policy.addOp(op)
}

func (op *opRequest) stageFromReady(sv *service) {
	if op.tracing >= TraceLow {
		slog.Info("TRACE, ToActiveQueue", "handle", op.handle,
			"readycount", sv.policy.readyCount(op.policyID))
	}
	sv.transport.addOp(op)
}

func (op *opRequest) stageFromActive(sv *service) {
	if op.replyLength > 0 {
		// A Content-Range header was received and parsed. If body data
		// arrived (it may not have, on protocol violations or HEAD
		// semantics), the advertised length must agree with it.
		if op.replyBody != nil && op.replyBody.Size() > 0 && op.replyLength != uint64(op.replyBody.Size()) {
			op.status = NewStatus(DomainCore, ECInvContentRangeHdr)
		}
	}

	// Request-side scratch was allocated on the worker and must not
	// cross to the notifier.
	op.reqHeaders = nil

	op.addAsReply()
}

func (op *opRequest) visitNotifier(c *Client) {
	if op.handler == nil {
		return
	}
	resp := &Response{
		status:      op.status,
		body:        op.replyBody,
		headers:     op.replyHeaders,
		contentType: op.replyContentType,
		rangeOffset: op.replyOffset,
		rangeLength: op.replyLength,
		rangeFull:   op.replyFullLength,
		retries:     op.retries,
		retries503:  op.retries503,
		stats:       op.stats,
	}
	// The response owns the reply state from here on.
	op.replyBody = nil
	op.replyHeaders = nil
	op.handler.OnCompleted(op.handle, resp)
}

// resetReplyState clears everything learned from a previous attempt so
// a retry starts clean.
func (op *opRequest) resetReplyState() {
	op.replyBody = nil
	op.replyHeaders = nil
	op.replyOffset = 0
	op.replyLength = 0
	op.replyFullLength = 0
	op.replyRetryAfter = 0
	op.replyContentType = ""
	op.status = StatusOK
}

// parseContentRange parses a Content-Range value of the form
// "bytes <first>-<last>/<length|*>". Returns disposition 0 on success
// with the triple filled in, 1 for odd-but-ignorable input (wrong
// unit, unsatisfied-range form), and -1 for input that claims a byte
// range but cannot be trusted.
func parseContentRange(value string) (first, last, full uint64, disposition int) {
	v := strings.TrimSpace(value)
	unit, rest, found := strings.Cut(v, " ")
	if !found {
		// "bytes=0-24" and friends; not a response form we accept.
		return 0, 0, 0, 1
	}
	if !strings.EqualFold(unit, "bytes") {
		return 0, 0, 0, 1
	}
	rangePart, lengthPart, found := strings.Cut(strings.TrimSpace(rest), "/")
	if !found {
		return 0, 0, 0, -1
	}
	if strings.TrimSpace(rangePart) == "*" {
		// Unsatisfied-range response. Nothing to record.
		return 0, 0, 0, 1
	}
	firstStr, lastStr, found := strings.Cut(rangePart, "-")
	if !found {
		return 0, 0, 0, -1
	}
	var err error
	if first, err = strconv.ParseUint(strings.TrimSpace(firstStr), 10, 64); err != nil {
		return 0, 0, 0, -1
	}
	if last, err = strconv.ParseUint(strings.TrimSpace(lastStr), 10, 64); err != nil {
		return 0, 0, 0, -1
	}
	if last < first {
		return 0, 0, 0, -1
	}
	lengthPart = strings.TrimSpace(lengthPart)
	if lengthPart == "*" {
		return first, last, 0, 0
	}
	if full, err = strconv.ParseUint(lengthPart, 10, 64); err != nil {
		return 0, 0, 0, -1
	}
	if full <= last {
		return 0, 0, 0, -1
	}
	return first, last, full, 0
}

// parseRetryAfterSeconds parses the delta-seconds form of Retry-After.
// HTTP-date forms are ignored here; client retry scheduling only cares
// about short deltas.
func parseRetryAfterSeconds(value string) (time.Duration, bool) {
	secs, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
