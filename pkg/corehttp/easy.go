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
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/fetchcore/pkg/buffer"
)

// easyHandle is the per-request transport object: a prepared request,
// the client that will run it, and the result slots the I/O goroutine
// fills in. It plays the role of a connection handle in the easy/multi
// model; the private-data slot is the owning operation's handle.
type easyHandle struct {
	op     Handle
	client *http.Client
	req    *http.Request
	cancel context.CancelFunc

	procFlags int
	tracing   int
	urlSafe   string
	started   time.Time

	result easyResult
}

// easyResult is everything the I/O goroutine learned from one attempt.
// The worker copies it onto the operation during completion reaping;
// the goroutine never touches the operation directly.
type easyResult struct {
	err          error
	httpStatus   int
	contentType  string
	headerStatus Status

	replyBody       *buffer.Array
	replyHeaders    *HeaderList
	replyOffset     uint64
	replyLength     uint64
	replyFullLength uint64
	retryAfter      time.Duration

	stats TransferStats
}

func (e *easyHandle) reset() {
	if e.cancel != nil {
		// Releases the deadline timer; a no-op after an explicit
		// cancellation.
		e.cancel()
	}
	*e = easyHandle{result: easyResult{headerStatus: StatusOK}}
}

// easyHandleCache recycles easy handles so steady-state request churn
// does not allocate. Bounded; overflow handles are dropped to the GC.
type easyHandleCache struct {
	free []*easyHandle
}

func (c *easyHandleCache) get() *easyHandle {
	if n := len(c.free); n > 0 {
		e := c.free[n-1]
		c.free[n-1] = nil
		c.free = c.free[:n-1]
		return e
	}
	e := &easyHandle{}
	e.reset()
	return e
}

func (c *easyHandleCache) put(e *easyHandle) {
	e.reset()
	if len(c.free) < easyHandleCacheLimit {
		c.free = append(c.free, e)
	}
}

func (c *easyHandleCache) release() {
	c.free = nil
}

// runEasy performs one transfer attempt. It runs on an I/O goroutine
// owned by the transport driver and communicates only through the
// easy handle and the completion channel.
func (t *transport) runEasy(easy *easyHandle) {
	res := &easy.result
	res.headerStatus = StatusOK
	easy.started = time.Now()

	ctx, span := t.tracer.Start(easy.req.Context(), "corehttp.transfer",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", easy.req.Method),
			attribute.String("url.sanitized", easy.urlSafe),
		))
	req := easy.req.WithContext(ctx)
	if easy.tracing >= TraceHeaders {
		req = req.WithContext(httptrace.WithClientTrace(req.Context(), newConnTrace(easy.op)))
	}

	resp, err := easy.client.Do(req)
	if err != nil {
		res.err = err
		span.SetStatus(codes.Error, err.Error())
		span.End()
		t.completions <- completionMsg{handle: easy.op, easy: easy}
		return
	}

	res.httpStatus = resp.StatusCode
	res.contentType = resp.Header.Get("Content-Type")
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	processResponseHeaders(easy, resp)

	// Write path: append arriving body data to the reply buffer.
	buf := make([]byte, 16384)
	var received int64
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if res.replyBody == nil {
				res.replyBody = buffer.NewArray()
			}
			res.replyBody.Append(buf[:n])
			received += int64(n)
			traceData(easy, "DATAIN", buf[:n])
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			res.err = rerr
			break
		}
	}
	resp.Body.Close()

	elapsed := time.Since(easy.started)
	res.stats = TransferStats{
		SizeDownload: received,
		TotalTime:    elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		res.stats.SpeedDownload = float64(received) / secs
	}

	if res.err != nil {
		span.SetStatus(codes.Error, res.err.Error())
	}
	span.End()
	t.completions <- completionMsg{handle: easy.op, easy: easy}
}

// processResponseHeaders normalizes and scans the final header stanza.
// Redirect-chain intermediates never reach this point, so the stanza
// seen here is the one whose results should win.
func processResponseHeaders(easy *easyHandle, resp *http.Response) {
	res := &easy.result

	if easy.procFlags&pfSaveHeaders != 0 {
		res.replyHeaders = NewHeaderList()
		names := make([]string, 0, len(resp.Header))
		for name := range resp.Header {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, value := range resp.Header[name] {
				res.replyHeaders.Append(strings.ToLower(name), value)
			}
		}
	}

	if easy.procFlags&pfScanRangeHeader != 0 {
		if value := resp.Header.Get("Content-Range"); value != "" {
			first, last, full, disposition := parseContentRange(value)
			switch disposition {
			case 0:
				res.replyOffset = first
				res.replyLength = last - first + 1
				res.replyFullLength = full
			case -1:
				res.headerStatus = NewStatus(DomainCore, ECInvContentRangeHdr)
			default:
				slog.Info("ignoring odd Content-Range header",
					"handle", easy.op, "value", value)
			}
		}
	}

	if easyFlagsWantRetryAfter(easy) {
		if value := resp.Header.Get("Retry-After"); value != "" {
			if delta, ok := parseRetryAfterSeconds(value); ok {
				res.retryAfter = delta
			}
		}
	}
}

func easyFlagsWantRetryAfter(easy *easyHandle) bool {
	return easy.procFlags&pfUseRetryAfter != 0
}

// newConnTrace wires connection-level events into trace logging for
// requests running at TraceHeaders or above.
func newConnTrace(h Handle) *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(info httptrace.DNSStartInfo) {
			slog.Info("TRACE, DNSStart", "handle", h, "host", info.Host)
		},
		ConnectStart: func(network, addr string) {
			slog.Info("TRACE, ConnectStart", "handle", h, "network", network, "addr", addr)
		},
		GotConn: func(info httptrace.GotConnInfo) {
			slog.Info("TRACE, GotConn", "handle", h, "reused", info.Reused, "addr", info.Conn.RemoteAddr().String())
		},
		WroteHeaders: func() {
			slog.Info("TRACE, HEADEROUT", "handle", h)
		},
		GotFirstResponseByte: func() {
			slog.Info("TRACE, HEADERIN", "handle", h)
		},
	}
}

// traceData reports a payload chunk for a traced request. At
// TraceBodies the chunk is emitted escaped; at TraceHeaders only its
// length is reported.
func traceData(easy *easyHandle, tag string, data []byte) {
	switch {
	case easy.tracing >= TraceBodies:
		slog.Info("TRACE, "+tag, "handle", easy.op, "length", len(data),
			"data", escapeDebugData(data))
	case easy.tracing >= TraceHeaders:
		slog.Info("TRACE, "+tag, "handle", easy.op, "length", len(data))
	}
}

// escapeDebugData renders arbitrary payload bytes as a printable
// string using %XX escapes. Anything including NULs can be in the
// data.
func escapeDebugData(data []byte) string {
	var b strings.Builder
	for _, c := range data {
		if c >= 0x20 && c < 0x7f && c != '%' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// mapTransportError classifies a Go transport error into the easy
// status domain so retryability and terse log forms line up with the
// classic transport codes.
func mapTransportError(err error) Status {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewStatusMsg(DomainEasy, EasyOperationTimedout, err.Error())
	case errors.Is(err, context.Canceled):
		return NewStatus(DomainCore, ECOpCanceled)
	case errors.Is(err, syscall.ECONNREFUSED):
		return NewStatusMsg(DomainEasy, EasyCouldntConnect, err.Error())
	case errors.Is(err, syscall.ECONNRESET):
		return NewStatusMsg(DomainEasy, EasyRecvError, err.Error())
	case errors.Is(err, syscall.EPIPE):
		return NewStatusMsg(DomainEasy, EasySendError, err.Error())
	case errors.Is(err, io.ErrUnexpectedEOF):
		return NewStatusMsg(DomainEasy, EasyPartialFile, err.Error())
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return NewStatusMsg(DomainEasy, EasyCouldntResolveHost, err.Error())
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewStatusMsg(DomainEasy, EasyOperationTimedout, err.Error())
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return NewStatusMsg(DomainEasy, EasyCouldntConnect, err.Error())
	case strings.Contains(msg, "connection reset"):
		return NewStatusMsg(DomainEasy, EasyRecvError, err.Error())
	case strings.Contains(msg, "no such host"):
		return NewStatusMsg(DomainEasy, EasyCouldntResolveHost, err.Error())
	case strings.Contains(msg, "proxyconnect"):
		return NewStatusMsg(DomainEasy, EasyCouldntResolveProxy, err.Error())
	case strings.Contains(msg, "certificate"), strings.Contains(msg, "x509"), strings.Contains(msg, "tls"):
		return NewStatusMsg(DomainEasy, EasyPeerFailedVerify, err.Error())
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return NewStatusMsg(DomainEasy, EasyOperationTimedout, err.Error())
	}
	return NewStatusMsg(DomainEasy, EasyGotNothing, err.Error())
}
