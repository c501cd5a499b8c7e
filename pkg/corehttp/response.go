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

// TransferStats summarizes the completed exchange for consumers that
// watch throughput.
type TransferStats struct {
	// SizeDownload is the number of body bytes received.
	SizeDownload int64

	// TotalTime is wall-clock time for the final attempt.
	TotalTime time.Duration

	// SpeedDownload is the average download rate in bytes/second.
	SpeedDownload float64
}

// Response is delivered to the Handler on completion. Everything it
// references is the consumer's exclusive property once delivered.
type Response struct {
	status Status

	body        *buffer.Array
	headers     *HeaderList
	contentType string

	rangeOffset uint64
	rangeLength uint64
	rangeFull   uint64

	retries    uint32
	retries503 uint32

	stats TransferStats

	optLong   int64
	optString string
}

// Status returns the terminal status of the operation.
func (r *Response) Status() Status {
	return r.status
}

// Body returns the response body, or nil when no body was received.
func (r *Response) Body() *buffer.Array {
	return r.body
}

// BodySize returns the body length, safely handling a nil body.
func (r *Response) BodySize() int {
	if r.body == nil {
		return 0
	}
	return r.body.Size()
}

// Headers returns the captured response headers. Nil unless the
// request asked for them with Options.WantHeaders.
func (r *Response) Headers() *HeaderList {
	return r.headers
}

// ContentType returns the response content type, when one was present.
func (r *Response) ContentType() string {
	return r.contentType
}

// Range returns the (offset, length, full_length) triple parsed from a
// Content-Range response header. All zeros when no such header was
// received. A full length of zero with a non-zero length means the
// server reported an indeterminate full size ("*").
func (r *Response) Range() (offset, length, full uint64) {
	return r.rangeOffset, r.rangeLength, r.rangeFull
}

// Retries returns the total retries performed for the request and how
// many of those were provoked by a 503.
func (r *Response) Retries() (retries, retries503 uint32) {
	return r.retries, r.retries503
}

// Stats returns the transfer statistics for the final attempt.
func (r *Response) Stats() TransferStats {
	return r.stats
}

// OptionLong returns the value fetched by a long-typed policy option
// get, or the resulting value of a set.
func (r *Response) OptionLong() int64 {
	return r.optLong
}

// OptionString returns the value fetched by a string-typed policy
// option get, or the resulting value of a set.
func (r *Response) OptionString() string {
	return r.optString
}
