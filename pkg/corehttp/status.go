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
	"fmt"
	"net/http"
	"strconv"
)

// Status domains. A Status carries a domain in its kind field: the two
// transport domains, the library domain, or an HTTP response code in
// [100,999] which acts as its own domain.
const (
	DomainEasy  uint16 = 0 // per-connection transport failure
	DomainMulti uint16 = 1 // transport multiplexer failure
	DomainCore  uint16 = 2 // library-internal condition

	httpStatusMin = 100
	httpStatusMax = 999
)

// Library error codes for the DomainCore domain.
const (
	ECSuccess int16 = iota
	ECReplyError
	ECShuttingDown
	ECOpCanceled
	ECInvContentRangeHdr
	ECHandleNotFound
	ECInvalidArg
	ECOptNotSet
	ECOptNotDynamic
	ECInvalidHTTPStatus
	ECBadAlloc
)

// Transport error codes for the DomainEasy domain. Values track the
// classic libcurl easy codes so terse log forms stay greppable against
// transport documentation.
const (
	EasyOK                  int16 = 0
	EasyCouldntResolveProxy int16 = 5
	EasyCouldntResolveHost  int16 = 6
	EasyCouldntConnect      int16 = 7
	EasyPartialFile         int16 = 18
	EasyUploadFailed        int16 = 25
	EasyOperationTimedout   int16 = 28
	EasyHTTPPostError       int16 = 34
	EasyGotNothing          int16 = 52
	EasySendError           int16 = 55
	EasyRecvError           int16 = 56
	EasySSLCertProblem      int16 = 58
	EasyPeerFailedVerify    int16 = 60
)

// Multiplexer error codes for the DomainMulti domain.
const (
	MultiOK          int16 = 0
	MultiOutOfMemory int16 = 3
	MultiInternal    int16 = 4
)

// Status is the unified result representation for every operation. It
// is a small value type: a (domain, code) pair plus an optional message
// used when a transport error carries useful text.
//
// For HTTP statuses the domain field holds the response code itself and
// the code field holds the success bit: 2xx maps to success by default
// and the application may override via StatusFromHTTPWithSuccess.
type Status struct {
	kind    uint16
	code    int16
	message string
}

// StatusOK is the default success status (DomainCore, ECSuccess).
var StatusOK = Status{kind: DomainCore, code: ECSuccess}

// NewStatus builds a Status in one of the non-HTTP domains.
func NewStatus(domain uint16, code int16) Status {
	return Status{kind: domain, code: code}
}

// NewStatusMsg builds a Status carrying an explanatory message.
func NewStatusMsg(domain uint16, code int16, message string) Status {
	return Status{kind: domain, code: code, message: message}
}

// StatusFromHTTP builds a Status for an HTTP response code. Codes in
// [200,299] are successes, everything else is a failure.
func StatusFromHTTP(httpStatus int) Status {
	return StatusFromHTTPWithSuccess(httpStatus, httpStatus >= 200 && httpStatus <= 299)
}

// StatusFromHTTPWithSuccess builds an HTTP Status with an explicit
// success bit, letting the application treat e.g. a 304 as success.
func StatusFromHTTPWithSuccess(httpStatus int, success bool) Status {
	code := ECReplyError
	if success {
		code = ECSuccess
	}
	return Status{kind: uint16(httpStatus), code: code}
}

// IsSuccess reports whether the status represents success.
func (s Status) IsSuccess() bool {
	return s.code == ECSuccess
}

// IsHTTPStatus reports whether the status is an HTTP response code.
func (s Status) IsHTTPStatus() bool {
	return s.kind >= httpStatusMin && s.kind <= httpStatusMax
}

// HTTPStatus returns the HTTP response code, or 0 for non-HTTP statuses.
func (s Status) HTTPStatus() int {
	if !s.IsHTTPStatus() {
		return 0
	}
	return int(s.kind)
}

// Domain returns the status domain (DomainEasy, DomainMulti, DomainCore,
// or the HTTP code for HTTP statuses).
func (s Status) Domain() uint16 {
	return s.kind
}

// Code returns the domain-specific code.
func (s Status) Code() int16 {
	return s.code
}

// Message returns the optional explanatory message.
func (s Status) Message() string {
	return s.message
}

// Equal compares domain and code, ignoring message text.
func (s Status) Equal(o Status) bool {
	return s.kind == o.kind && s.code == o.code
}

// IsRetryable reports whether a failed operation carrying this status
// is worth retrying. The set covers transient server conditions (5xx
// and the internal 499 catch-all), connection-level transport failures,
// and the two library errors that can reflect a garbled exchange rather
// than a permanent condition.
func (s Status) IsRetryable() bool {
	if s.IsHTTPStatus() {
		return s.kind >= 499 && s.kind <= 599
	}
	if s.kind == DomainEasy {
		switch s.code {
		case EasyCouldntConnect,
			EasyCouldntResolveProxy,
			EasyCouldntResolveHost,
			EasySendError,
			EasyRecvError,
			EasyUploadFailed,
			EasyOperationTimedout,
			EasyHTTPPostError,
			EasyPartialFile:
			return true
		}
		return false
	}
	if s.kind == DomainCore {
		return s.code == ECInvContentRangeHdr || s.code == ECInvalidHTTPStatus
	}
	return false
}

// TerseString renders the compact Domain_Code form used in log lines,
// e.g. "Http_404", "Easy_7", "Multi_3", "Core_9".
func (s Status) TerseString() string {
	switch {
	case s.IsHTTPStatus():
		return "Http_" + strconv.Itoa(int(s.kind))
	case s.kind == DomainEasy:
		return "Easy_" + strconv.Itoa(int(s.code))
	case s.kind == DomainMulti:
		return "Multi_" + strconv.Itoa(int(s.code))
	default:
		return "Core_" + strconv.Itoa(int(s.code))
	}
}

// Hex renders the 8-hex-digit machine-parseable encoding.
func (s Status) Hex() string {
	return fmt.Sprintf("%04X%04X", s.kind, uint16(s.code))
}

// StatusFromHex parses the encoding produced by Hex.
func StatusFromHex(enc string) (Status, error) {
	if len(enc) != 8 {
		return Status{}, fmt.Errorf("corehttp: bad status encoding %q", enc)
	}
	kind, err := strconv.ParseUint(enc[:4], 16, 16)
	if err != nil {
		return Status{}, fmt.Errorf("corehttp: bad status encoding %q: %w", enc, err)
	}
	code, err := strconv.ParseUint(enc[4:], 16, 16)
	if err != nil {
		return Status{}, fmt.Errorf("corehttp: bad status encoding %q: %w", enc, err)
	}
	return Status{kind: uint16(kind), code: int16(code)}, nil
}

// String renders a human-readable description.
func (s Status) String() string {
	if s.IsSuccess() && !s.IsHTTPStatus() {
		return "Success"
	}
	switch {
	case s.IsHTTPStatus():
		text := http.StatusText(int(s.kind))
		if text == "" {
			text = "Unknown HTTP status"
		}
		return text
	case s.kind == DomainEasy:
		if s.message != "" {
			return s.message
		}
		return "Transport error " + strconv.Itoa(int(s.code))
	case s.kind == DomainMulti:
		if s.message != "" {
			return s.message
		}
		return "Transport multiplexer error " + strconv.Itoa(int(s.code))
	default:
		return coreErrorText(s.code)
	}
}

// Error implements the error interface so a failed Status can flow
// through fallible returns directly.
func (s Status) Error() string {
	return s.String() + " (" + s.TerseString() + ")"
}

func coreErrorText(code int16) string {
	switch code {
	case ECSuccess:
		return "Success"
	case ECReplyError:
		return "Request completed with error"
	case ECShuttingDown:
		return "Request queue is shutting down"
	case ECOpCanceled:
		return "Operation canceled"
	case ECInvContentRangeHdr:
		return "Invalid Content-Range header in response"
	case ECHandleNotFound:
		return "Handle not found"
	case ECInvalidArg:
		return "Invalid argument"
	case ECOptNotSet:
		return "Option not set"
	case ECOptNotDynamic:
		return "Option not dynamic, may not be changed on running service"
	case ECInvalidHTTPStatus:
		return "Invalid HTTP response code received from server"
	case ECBadAlloc:
		return "Allocation failed"
	default:
		return "Unknown library error " + strconv.Itoa(int(code))
	}
}
