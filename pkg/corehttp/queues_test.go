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

func TestRequestQueue_FIFO(t *testing.T) {
	q := newRequestQueue()
	first := newNoOp()
	second := newNoOp()
	third := newNoOp()

	require.True(t, q.addOp(first).IsSuccess())
	require.True(t, q.addOp(second).IsSuccess())
	require.True(t, q.addOp(third).IsSuccess())

	assert.Same(t, operation(first), q.fetchOp(false, 0))
	assert.Same(t, operation(second), q.fetchOp(false, 0))
	assert.Same(t, operation(third), q.fetchOp(false, 0))
	assert.Nil(t, q.fetchOp(false, 0))
}

func TestRequestQueue_StopAfterFlush(t *testing.T) {
	q := newRequestQueue()
	queued := newNoOp()
	require.True(t, q.addOp(queued).IsSuccess())

	q.stopQueue()

	// New additions are refused...
	st := q.addOp(newNoOp())
	assert.True(t, st.Equal(NewStatus(DomainCore, ECShuttingDown)))

	// ...but what was queued remains deliverable.
	assert.Same(t, operation(queued), q.fetchOp(false, 0))
	assert.Nil(t, q.fetchOp(true, 10*time.Millisecond))
}

func TestRequestQueue_WaitWake(t *testing.T) {
	q := newRequestQueue()
	op := newNoOp()

	done := make(chan operation, 1)
	go func() {
		done <- q.fetchOp(true, 5*time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.True(t, q.addOp(op).IsSuccess())

	select {
	case got := <-done:
		assert.Same(t, operation(op), got)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke")
	}
}

func TestRequestQueue_FetchAllDrains(t *testing.T) {
	q := newRequestQueue()
	for i := 0; i < 5; i++ {
		require.True(t, q.addOp(newNoOp()).IsSuccess())
	}
	ops := q.fetchAll(false, 0)
	assert.Len(t, ops, 5)
	assert.Equal(t, 0, q.size())
}

func TestReplyQueue_OrderAndRequeue(t *testing.T) {
	q := newReplyQueue()
	first := newNoOp()
	second := newNoOp()
	third := newNoOp()
	q.addOp(first)
	q.addOp(second)
	q.addOp(third)

	ops := q.fetchAll()
	require.Len(t, ops, 3)

	// Push back the undelivered tail; order must hold.
	q.requeueFront(ops[1:])
	assert.Same(t, operation(second), q.fetchOp())
	assert.Same(t, operation(third), q.fetchOp())
	assert.Nil(t, q.fetchOp())
}

func makeReadyRequest(t *testing.T, priority uint32) *opRequest {
	t.Helper()
	op := newRequestOp()
	require.True(t, op.setupGet(0, priority, "http://example.invalid/x", nil, nil).IsSuccess())
	return op
}

func TestReadyQueue_PriorityThenFIFO(t *testing.T) {
	q := &readyQueue{}
	low := makeReadyRequest(t, 1)
	highFirst := makeReadyRequest(t, 5)
	highSecond := makeReadyRequest(t, 5)

	q.push(low)
	q.push(highFirst)
	q.push(highSecond)

	assert.Same(t, highFirst, q.pop())
	assert.Same(t, highSecond, q.pop())
	assert.Same(t, low, q.pop())
	assert.True(t, q.empty())
}

func TestReadyQueue_DefaultPriorityIsFIFO(t *testing.T) {
	q := &readyQueue{}
	var expect []*opRequest
	for i := 0; i < 8; i++ {
		op := makeReadyRequest(t, 0)
		expect = append(expect, op)
		q.push(op)
	}
	for _, want := range expect {
		assert.Same(t, want, q.pop())
	}
}

func TestReadyQueue_RemoveByHandle(t *testing.T) {
	q := &readyQueue{}
	keep := makeReadyRequest(t, 0)
	victim := makeReadyRequest(t, 0)
	q.push(keep)
	q.push(victim)

	got := q.removeByHandle(victim.handle)
	require.Same(t, victim, got)
	assert.Nil(t, q.removeByHandle(victim.handle))
	assert.Equal(t, 1, q.size())
	assert.Same(t, keep, q.pop())
}

func TestRetryQueue_TimeOrdered(t *testing.T) {
	q := &retryQueue{}
	now := time.Now()

	late := makeReadyRequest(t, 0)
	late.retryAt = now.Add(3 * time.Second)
	soon := makeReadyRequest(t, 0)
	soon.retryAt = now.Add(time.Second)
	middle := makeReadyRequest(t, 0)
	middle.retryAt = now.Add(2 * time.Second)

	q.push(late)
	q.push(soon)
	q.push(middle)

	assert.Same(t, soon, q.pop())
	assert.Same(t, middle, q.pop())
	assert.Same(t, late, q.pop())
}

func TestRetryQueue_RemoveByHandle(t *testing.T) {
	q := &retryQueue{}
	a := makeReadyRequest(t, 0)
	a.retryAt = time.Now().Add(time.Second)
	b := makeReadyRequest(t, 0)
	b.retryAt = time.Now().Add(2 * time.Second)
	q.push(a)
	q.push(b)

	require.Same(t, b, q.removeByHandle(b.handle))
	assert.Equal(t, 1, q.size())
	assert.Same(t, a, q.pop())
}
