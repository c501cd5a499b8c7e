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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func policyFixture(t *testing.T) (*service, *policy) {
	t.Helper()
	sv := newService()
	return sv, sv.policy
}

func queuedRequest(t *testing.T, p *policy, rq *replyQueue) *opRequest {
	t.Helper()
	op := newRequestOp()
	require.True(t, op.setupGet(0, 0, "http://example.invalid/asset", nil, nil).IsSuccess())
	op.setReplyPath(rq, nil)
	p.addOp(op)
	return op
}

func TestPolicy_AddOpResetsRetryCounters(t *testing.T) {
	_, p := policyFixture(t)
	op := newRequestOp()
	require.True(t, op.setupGet(0, 0, "http://example.invalid/", nil, nil).IsSuccess())
	op.retries = 3
	op.retries503 = 2

	p.addOp(op)
	assert.Zero(t, op.retries)
	assert.Zero(t, op.retries503)
	assert.Equal(t, 1, p.readyCount(0))
}

func TestPolicy_RetryBackoffGrowsGeometrically(t *testing.T) {
	_, p := policyFixture(t)
	op := newRequestOp()
	require.True(t, op.setupGet(0, 0, "http://example.invalid/", nil, nil).IsSuccess())
	op.minBackoff = time.Second
	op.maxBackoff = time.Hour
	op.status = StatusFromHTTP(500)

	var delays []time.Duration
	for i := 0; i < 4; i++ {
		before := time.Now()
		p.retryOp(op)
		delays = append(delays, op.retryAt.Sub(before))
		p.classes[0].retryQueue.pop()
	}

	// 1s, 2s, 4s, 8s with scheduling slop.
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		assert.InDelta(t, want.Seconds(), delays[i].Seconds(), 0.25, "attempt %d", i)
	}
	assert.EqualValues(t, 4, op.retries)
}

func TestPolicy_RetryFactorClampsAt1024(t *testing.T) {
	_, p := policyFixture(t)
	op := newRequestOp()
	require.True(t, op.setupGet(0, 0, "http://example.invalid/", nil, nil).IsSuccess())
	op.minBackoff = time.Millisecond
	op.maxBackoff = time.Hour
	op.retries = 20 // far past the 2^10 clamp
	op.status = StatusFromHTTP(500)

	before := time.Now()
	p.retryOp(op)
	delay := op.retryAt.Sub(before)
	assert.InDelta(t, (1024 * time.Millisecond).Seconds(), delay.Seconds(), 0.25)
}

func TestPolicy_RetryHonorsMaxBackoff(t *testing.T) {
	_, p := policyFixture(t)
	op := newRequestOp()
	require.True(t, op.setupGet(0, 0, "http://example.invalid/", nil, nil).IsSuccess())
	op.minBackoff = 10 * time.Second
	op.maxBackoff = 15 * time.Second
	op.retries = 5
	op.status = StatusFromHTTP(500)

	before := time.Now()
	p.retryOp(op)
	assert.InDelta(t, 15, op.retryAt.Sub(before).Seconds(), 0.25)
}

func TestPolicy_RetryExternalOverrideWindow(t *testing.T) {
	_, p := policyFixture(t)

	// Inside (0, 30s): the server delta wins.
	op := newRequestOp()
	require.True(t, op.setupGet(0, 0, "http://example.invalid/", nil, nil).IsSuccess())
	op.minBackoff = time.Second
	op.maxBackoff = 2 * time.Second
	op.replyRetryAfter = 5 * time.Second
	op.status = StatusFromHTTP(503)

	before := time.Now()
	p.retryOp(op)
	assert.InDelta(t, 5, op.retryAt.Sub(before).Seconds(), 0.25)
	assert.EqualValues(t, 1, op.retries)
	assert.EqualValues(t, 1, op.retries503)

	// At or beyond the window: ignored, computed backoff applies.
	op2 := newRequestOp()
	require.True(t, op2.setupGet(0, 0, "http://example.invalid/", nil, nil).IsSuccess())
	op2.minBackoff = time.Second
	op2.maxBackoff = 2 * time.Second
	op2.replyRetryAfter = 600 * time.Second
	op2.status = StatusFromHTTP(503)

	before = time.Now()
	p.retryOp(op2)
	assert.InDelta(t, 1, op2.retryAt.Sub(before).Seconds(), 0.25)
}

func TestPolicy_StageAfterCompletionRetriesThenFinalizes(t *testing.T) {
	_, p := policyFixture(t)
	rq := newReplyQueue()
	op := newRequestOp()
	require.True(t, op.setupGet(0, 0, "http://example.invalid/", nil, nil).IsSuccess())
	op.setReplyPath(rq, nil)
	op.retryLimit = 2
	op.minBackoff = time.Millisecond
	op.maxBackoff = time.Millisecond

	// Retryable failure, attempts remaining: goes to retry queue.
	op.status = StatusFromHTTP(503)
	assert.True(t, p.stageAfterCompletion(op))
	assert.Equal(t, 1, p.classes[0].retryQueue.size())
	assert.Nil(t, rq.fetchOp())
	p.classes[0].retryQueue.pop()

	// Retryable failure, attempts exhausted: finalized to the reply
	// queue with the status intact.
	op.retries = 2
	op.status = StatusFromHTTP(503)
	assert.False(t, p.stageAfterCompletion(op))
	delivered := rq.fetchOp()
	require.NotNil(t, delivered)
	assert.Equal(t, 503, delivered.base().status.HTTPStatus())

	// Non-retryable failure: finalized immediately, retry count
	// untouched.
	op2 := newRequestOp()
	require.True(t, op2.setupGet(0, 0, "http://example.invalid/", nil, nil).IsSuccess())
	op2.setReplyPath(rq, nil)
	op2.status = StatusFromHTTP(404)
	assert.False(t, p.stageAfterCompletion(op2))
	assert.Zero(t, op2.retries)
	require.NotNil(t, rq.fetchOp())
}

func TestPolicy_CancelScansBothQueues(t *testing.T) {
	_, p := policyFixture(t)
	rq := newReplyQueue()

	ready := queuedRequest(t, p, rq)
	retrying := newRequestOp()
	require.True(t, retrying.setupGet(0, 0, "http://example.invalid/r", nil, nil).IsSuccess())
	retrying.setReplyPath(rq, nil)
	retrying.retryAt = time.Now().Add(time.Hour)
	p.classes[0].retryQueue.push(retrying)

	assert.True(t, p.cancel(retrying.handle))
	assert.True(t, p.cancel(ready.handle))
	assert.False(t, p.cancel(Handle(999999)))

	for i := 0; i < 2; i++ {
		op := rq.fetchOp()
		require.NotNil(t, op)
		assert.True(t, op.base().status.Equal(NewStatus(DomainCore, ECOpCanceled)))
	}
}

func TestPolicy_ChangePriority(t *testing.T) {
	_, p := policyFixture(t)
	rq := newReplyQueue()

	first := queuedRequest(t, p, rq)
	second := queuedRequest(t, p, rq)

	// Bump the later request above the earlier one.
	assert.True(t, p.changePriority(second.handle, 10))
	assert.False(t, p.changePriority(Handle(999999), 10))

	assert.Same(t, second, p.classes[0].readyQueue.pop())
	assert.Same(t, first, p.classes[0].readyQueue.pop())
}

func TestPolicy_ShutdownCancelsQueued(t *testing.T) {
	_, p := policyFixture(t)
	rq := newReplyQueue()
	queuedRequest(t, p, rq)
	queuedRequest(t, p, rq)

	p.shutdown()

	delivered := rq.fetchAll()
	require.Len(t, delivered, 2)
	for _, op := range delivered {
		assert.True(t, op.base().status.Equal(NewStatus(DomainCore, ECOpCanceled)))
	}
}

func TestPolicy_CreatePolicyClassLimit(t *testing.T) {
	_, p := policyFixture(t)
	created := 1 // default class
	for {
		id := p.createPolicyClass()
		if id == InvalidPolicyID {
			break
		}
		created++
	}
	assert.Equal(t, PolicyClassLimit, created)
}

func TestPolicy_StallPreventsPromotion(t *testing.T) {
	_, p := policyFixture(t)
	rq := newReplyQueue()
	queuedRequest(t, p, rq)

	p.stallPolicy(0, true)
	speed := p.processReadyQueue()
	assert.Equal(t, speedNormal, speed)
	assert.Equal(t, 1, p.readyCount(0))
}
