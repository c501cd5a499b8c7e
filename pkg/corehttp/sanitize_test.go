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
)

func TestSanitizeURLString(t *testing.T) {
	out := sanitizeURLString("https://cap.example.com/asset?api_key=hush&size=512")
	assert.Contains(t, out, "api_key=%5BREDACTED%5D")
	assert.Contains(t, out, "size=512")

	// Substring matching catches variants.
	out = sanitizeURLString("https://cap.example.com/asset?Session_Token=abc")
	assert.NotContains(t, out, "abc")

	// Clean URLs pass through with their params intact.
	out = sanitizeURLString("https://cap.example.com/asset?width=64&height=64")
	assert.Contains(t, out, "width=64")
	assert.Contains(t, out, "height=64")
}

func TestSanitizeURLString_Unparseable(t *testing.T) {
	raw := "http://%zz/broken"
	assert.Equal(t, raw, sanitizeURLString(raw))
}

func TestIsSensitiveParam(t *testing.T) {
	for _, name := range []string{"api_key", "APIKEY", "auth_token", "X-Secret", "credentials"} {
		assert.True(t, isSensitiveParam(name), name)
	}
	for _, name := range []string{"width", "size", "format"} {
		assert.False(t, isSensitiveParam(name), name)
	}
}
