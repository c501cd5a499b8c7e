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
	"context"
	"errors"
	"io"
	"net/url"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Status
	}{
		{"deadline", context.DeadlineExceeded, NewStatus(DomainEasy, EasyOperationTimedout)},
		{"canceled", context.Canceled, NewStatus(DomainCore, ECOpCanceled)},
		{"refused", syscall.ECONNREFUSED, NewStatus(DomainEasy, EasyCouldntConnect)},
		{"reset", syscall.ECONNRESET, NewStatus(DomainEasy, EasyRecvError)},
		{"pipe", syscall.EPIPE, NewStatus(DomainEasy, EasySendError)},
		{"short body", io.ErrUnexpectedEOF, NewStatus(DomainEasy, EasyPartialFile)},
		{
			"wrapped url error",
			&url.Error{Op: "Get", URL: "http://x", Err: syscall.ECONNREFUSED},
			NewStatus(DomainEasy, EasyCouldntConnect),
		},
		{"dns text", errors.New("dial tcp: lookup bad.invalid: no such host"), NewStatus(DomainEasy, EasyCouldntResolveHost)},
		{"proxy text", errors.New("proxyconnect tcp: dial refused"), NewStatus(DomainEasy, EasyCouldntResolveProxy)},
		{"tls text", errors.New("x509: certificate signed by unknown authority"), NewStatus(DomainEasy, EasyPeerFailedVerify)},
		{"opaque", errors.New("mystery failure"), NewStatus(DomainEasy, EasyGotNothing)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := mapTransportError(tc.err)
			assert.True(t, got.Equal(tc.want),
				"got %s, want %s", got.TerseString(), tc.want.TerseString())
		})
	}
}

func TestEnsureProxyScheme(t *testing.T) {
	assert.Equal(t, "http://proxy.example:3128", ensureProxyScheme("proxy.example:3128"))
	assert.Equal(t, "http://proxy.example:3128", ensureProxyScheme("http://proxy.example:3128"))
	assert.Equal(t, "socks5://proxy.example:1080", ensureProxyScheme("socks5://proxy.example:1080"))
}

func TestTLSModeFor(t *testing.T) {
	assert.Equal(t, tlsMode(0), tlsModeFor(&Options{}))
	assert.Equal(t, tlsMode(1), tlsModeFor(&Options{SSLVerifyPeer: true}))
	assert.Equal(t, tlsMode(2), tlsModeFor(&Options{SSLVerifyHost: true}))
	assert.Equal(t, tlsMode(3), tlsModeFor(&Options{SSLVerifyPeer: true, SSLVerifyHost: true}))
}

func TestEasyHandleCache_Bounded(t *testing.T) {
	var cache easyHandleCache

	first := cache.get()
	cache.put(first)
	assert.Same(t, first, cache.get())

	handles := make([]*easyHandle, easyHandleCacheLimit+10)
	for i := range handles {
		handles[i] = cache.get()
	}
	for _, e := range handles {
		cache.put(e)
	}
	assert.Len(t, cache.free, easyHandleCacheLimit)

	cache.release()
	assert.Empty(t, cache.free)
}

func TestEscapeDebugData(t *testing.T) {
	assert.Equal(t, "plain text", escapeDebugData([]byte("plain text")))
	assert.Equal(t, "a%00b%0D%0A", escapeDebugData([]byte{'a', 0, 'b', '\r', '\n'}))
}
