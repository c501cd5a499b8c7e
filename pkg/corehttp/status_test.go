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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_SuccessPredicates(t *testing.T) {
	assert.True(t, StatusOK.IsSuccess())
	assert.False(t, StatusOK.IsHTTPStatus())

	ok := StatusFromHTTP(200)
	assert.True(t, ok.IsSuccess())
	assert.True(t, ok.IsHTTPStatus())
	assert.Equal(t, 200, ok.HTTPStatus())

	notFound := StatusFromHTTP(404)
	assert.False(t, notFound.IsSuccess())
	assert.Equal(t, 404, notFound.HTTPStatus())

	// Application override: treat a 304 as success.
	notModified := StatusFromHTTPWithSuccess(304, true)
	assert.True(t, notModified.IsSuccess())
}

func TestStatus_TerseString(t *testing.T) {
	assert.Equal(t, "Http_404", StatusFromHTTP(404).TerseString())
	assert.Equal(t, "Easy_7", NewStatus(DomainEasy, EasyCouldntConnect).TerseString())
	assert.Equal(t, "Multi_3", NewStatus(DomainMulti, MultiOutOfMemory).TerseString())
	assert.Equal(t, "Core_9", NewStatus(DomainCore, ECInvalidHTTPStatus).TerseString())
}

func TestStatus_HexRoundTrip(t *testing.T) {
	statuses := []Status{
		StatusOK,
		StatusFromHTTP(200),
		StatusFromHTTP(503),
		NewStatus(DomainEasy, EasyOperationTimedout),
		NewStatus(DomainMulti, MultiOutOfMemory),
		NewStatus(DomainCore, ECOpCanceled),
	}
	for _, st := range statuses {
		enc := st.Hex()
		require.Len(t, enc, 8)
		back, err := StatusFromHex(enc)
		require.NoError(t, err)
		assert.True(t, st.Equal(back), "round trip of %s", st.TerseString())
	}

	_, err := StatusFromHex("nothex!!")
	assert.Error(t, err)
	_, err = StatusFromHex("01")
	assert.Error(t, err)
}

func TestStatus_Retryable(t *testing.T) {
	retryable := []Status{
		StatusFromHTTP(499), // internal catch-all
		StatusFromHTTP(500),
		StatusFromHTTP(503),
		StatusFromHTTP(599),
		NewStatus(DomainEasy, EasyCouldntConnect),
		NewStatus(DomainEasy, EasyCouldntResolveProxy),
		NewStatus(DomainEasy, EasyCouldntResolveHost),
		NewStatus(DomainEasy, EasySendError),
		NewStatus(DomainEasy, EasyRecvError),
		NewStatus(DomainEasy, EasyUploadFailed),
		NewStatus(DomainEasy, EasyOperationTimedout),
		NewStatus(DomainEasy, EasyHTTPPostError),
		NewStatus(DomainEasy, EasyPartialFile),
		NewStatus(DomainCore, ECInvContentRangeHdr),
		NewStatus(DomainCore, ECInvalidHTTPStatus),
	}
	for _, st := range retryable {
		assert.True(t, st.IsRetryable(), "%s should be retryable", st.TerseString())
	}

	fatal := []Status{
		StatusFromHTTP(400),
		StatusFromHTTP(403),
		StatusFromHTTP(404),
		StatusFromHTTP(498),
		NewStatus(DomainEasy, EasyPeerFailedVerify),
		NewStatus(DomainEasy, EasyGotNothing),
		NewStatus(DomainCore, ECOpCanceled),
		NewStatus(DomainCore, ECHandleNotFound),
		NewStatus(DomainMulti, MultiOutOfMemory),
	}
	for _, st := range fatal {
		assert.False(t, st.IsRetryable(), "%s should be fatal", st.TerseString())
	}

	// Classification is pure: same status always classifies the same.
	st := StatusFromHTTP(503)
	for i := 0; i < 3; i++ {
		assert.True(t, st.IsRetryable())
	}
}

func TestStatus_ErrorInterface(t *testing.T) {
	var err error = StatusFromHTTP(404)
	assert.Contains(t, err.Error(), "Http_404")
}
