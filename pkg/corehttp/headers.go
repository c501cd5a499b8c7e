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

import "strings"

// Header is one (name, value) pair in a HeaderList.
type Header struct {
	Name  string
	Value string
}

// HeaderList is an ordered multimap of header pairs. Order is retained
// so callers can append overriding values last, and lookups scan from
// the end so the override wins.
//
// A HeaderList attached to a request becomes shared-read the moment the
// request is submitted; callers must not mutate it afterward.
type HeaderList struct {
	headers []Header
}

// NewHeaderList returns an empty HeaderList.
func NewHeaderList() *HeaderList {
	return &HeaderList{}
}

// Append adds a pair to the end of the list. No normalization is done;
// use AppendNormal for raw wire-format lines.
func (h *HeaderList) Append(name, value string) {
	h.headers = append(h.headers, Header{Name: name, Value: value})
}

// AppendNormal adds a raw header line, splitting on the first colon.
// The name is lowercased and trimmed, the value is left-trimmed.
// Degenerate input is accepted: empty names and values are permitted
// and a colon-free line is stored as a bare name.
func (h *HeaderList) AppendNormal(raw string) {
	name, value, found := strings.Cut(raw, ":")
	if found {
		name = strings.TrimSpace(strings.ToLower(name))
		value = strings.TrimLeft(value, " \t")
	} else {
		name = strings.TrimLeft(name, " \t")
		value = ""
	}
	h.headers = append(h.headers, Header{Name: name, Value: value})
}

// Find returns the value of the last header matching name
// case-insensitively, and whether one was found.
func (h *HeaderList) Find(name string) (string, bool) {
	for i := len(h.headers) - 1; i >= 0; i-- {
		if strings.EqualFold(h.headers[i].Name, name) {
			return h.headers[i].Value, true
		}
	}
	return "", false
}

// Size returns the number of pairs in the list.
func (h *HeaderList) Size() int {
	return len(h.headers)
}

// Clear removes all pairs.
func (h *HeaderList) Clear() {
	h.headers = h.headers[:0]
}

// All iterates pairs in insertion order.
func (h *HeaderList) All(yield func(Header) bool) {
	for _, hdr := range h.headers {
		if !yield(hdr) {
			return
		}
	}
}
