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

package buffer

import (
	"fmt"
	"io"
)

// Stream adapts an Array to io.Reader, io.Writer and io.Seeker so the
// array can feed request bodies (the transport rewinds the stream when
// a redirect or retry replays the upload) and accept serializer output.
type Stream struct {
	arr *Array
	pos int
}

// NewStream returns a Stream positioned at the start of arr.
func NewStream(arr *Array) *Stream {
	return &Stream{arr: arr}
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	if s.pos >= s.arr.Size() {
		return 0, io.EOF
	}
	n := s.arr.Read(s.pos, p)
	s.pos += n
	return n, nil
}

// Write implements io.Writer, writing at the stream position: existing
// data is overwritten and anything past the end is appended.
func (s *Stream) Write(p []byte) (int, error) {
	n := s.arr.Write(s.pos, p)
	s.pos += n
	return n, nil
}

// Seek implements io.Seeker. Seeks outside [0, Size] fail.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = int64(s.pos) + offset
	case io.SeekEnd:
		target = int64(s.arr.Size()) + offset
	default:
		return 0, fmt.Errorf("buffer: bad seek whence %d", whence)
	}
	if target < 0 || target > int64(s.arr.Size()) {
		return 0, fmt.Errorf("buffer: seek to %d out of range [0,%d]", target, s.arr.Size())
	}
	s.pos = int(target)
	return target, nil
}
