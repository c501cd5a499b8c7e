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
	"net/url"
	"strings"
)

// sensitiveParams contains query parameter names that should be
// redacted from logs. Matched case-insensitively as substrings, so
// variants like "API_KEY" and "session_token" are caught.
var sensitiveParams = []string{
	"api_key",
	"apikey",
	"token",
	"password",
	"auth",
	"secret",
	"key",
	"credential",
}

// sanitizeURL removes sensitive query parameters from a URL before it
// reaches a log line. Viewer capability URLs routinely embed grants in
// the query string.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	q := u.Query()
	for param := range q {
		if isSensitiveParam(param) {
			q.Set(param, "[REDACTED]")
		}
	}
	safe := *u
	safe.RawQuery = q.Encode()
	return safe.String()
}

// sanitizeURLString is the raw-string convenience form; unparseable
// input is passed through untouched.
func sanitizeURLString(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return sanitizeURL(u)
}

func isSensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, sensitive := range sensitiveParams {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
