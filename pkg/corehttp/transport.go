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
	"crypto/tls"
	"crypto/x509"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/fetchcore/pkg/buffer"
)

// completionMsg is the transport's completion-reaping message: one per
// finished transfer attempt, produced by the I/O goroutine and drained
// by the worker inside processTransport.
type completionMsg struct {
	handle Handle
	easy   *easyHandle
}

// tlsMode indexes the per-class connection pool variants. Connections
// established under different verification settings must never be
// shared, so each distinct (verifyPeer, verifyHost) pair gets its own
// pool within the class.
type tlsMode int

func tlsModeFor(opts *Options) tlsMode {
	mode := tlsMode(0)
	if opts.SSLVerifyPeer {
		mode |= 1
	}
	if opts.SSLVerifyHost {
		mode |= 2
	}
	return mode
}

// transportClass is the per-policy-class scheduler state: the pool set
// (the multi-handle of the easy/multi model), the cookie jar, and the
// active count used for admission.
type transportClass struct {
	options   policyClassOptions
	pools     map[tlsMode]*http.Transport
	jar       http.CookieJar
	active    int
	dirty     bool
	pipelined bool
}

func (cls *transportClass) dropPools() {
	for _, pool := range cls.pools {
		pool.CloseIdleConnections()
	}
	cls.pools = nil
}

// transport drives all network I/O. Worker-thread only, except for the
// I/O goroutines it owns, which communicate solely through the
// completion channel.
type transport struct {
	service     *service
	classes     []*transportClass
	activeOps   map[*opRequest]struct{}
	cache       easyHandleCache
	completions chan completionMsg
	rootCAs     *x509.CertPool
	tracer      trace.Tracer
}

func newTransport(sv *service) *transport {
	return &transport{
		service:   sv,
		activeOps: make(map[*opRequest]struct{}),
		// Sized at twice the connection ceiling for every class. A
		// pipelined class can admit more than that (per-host limit times
		// depth); once the buffer is full, an I/O goroutine blocks on its
		// send until the worker's next drain.
		completions: make(chan completionMsg, PolicyClassLimit*LimitConnectionsMax*2),
		tracer:      otel.Tracer("fetchcore/corehttp"),
	}
}

// start creates the per-class state. One-time call.
func (t *transport) start(policyCount int) {
	if t.classes != nil {
		panic("corehttp: transport started twice")
	}
	if policyCount > PolicyClassLimit {
		panic("corehttp: policy class count exceeds limit")
	}
	t.rootCAs = t.loadRootCAs()
	t.classes = make([]*transportClass, policyCount)
	for classID := range t.classes {
		jar, _ := cookiejar.New(nil)
		t.classes[classID] = &transportClass{jar: jar}
		t.policyUpdated(uint32(classID))
	}
}

// shutdown cancels every active operation and releases transport
// resources. Worker-thread only.
func (t *transport) shutdown() {
	for len(t.activeOps) > 0 {
		for op := range t.activeOps {
			t.cancelRequest(op)
			break
		}
	}
	for _, cls := range t.classes {
		cls.dropPools()
	}
	t.classes = nil
	t.cache.release()
}

// addOp prepares and launches a request. The operation joins the
// active set; the caller has already removed it from the ready or
// retry queue.
func (t *transport) addOp(op *opRequest) {
	op.resetReplyState()
	easy, status := t.prepare(op)
	if !status.IsSuccess() {
		// The request never became active; let the policy engine
		// finalize (or retry) it directly.
		op.status = status
		t.service.policy.stageAfterCompletion(op)
		return
	}

	op.easy = easy
	op.transportActive = true
	t.activeOps[op] = struct{}{}
	cls := t.classes[op.policyID]
	cls.active++
	metricActiveTransfers.WithLabelValues(strconv.Itoa(int(op.policyID))).Inc()

	if op.tracing >= TraceLow {
		slog.Info("TRACE, ToActiveSet", "handle", op.handle, "url", easy.urlSafe)
	}

	go t.runEasy(easy)
}

// cancel implements the transport half of a cancel operation.
func (t *transport) cancel(h Handle) bool {
	op := registry.lookupRequest(h)
	if op == nil {
		return false
	}
	if _, active := t.activeOps[op]; !active {
		return false
	}
	t.cancelRequest(op)
	return true
}

// cancelRequest deactivates an in-flight request and delivers it with
// ECOpCanceled. The I/O goroutine keeps running until its context
// cancellation lands; its eventual completion message fails handle
// validation and is discarded.
func (t *transport) cancelRequest(op *opRequest) {
	if op.easy != nil && op.easy.cancel != nil {
		op.easy.cancel()
	}
	t.deactivate(op)
	op.easy = nil
	op.cancelOp()
}

func (t *transport) deactivate(op *opRequest) {
	delete(t.activeOps, op)
	cls := t.classes[op.policyID]
	cls.active--
	metricActiveTransfers.WithLabelValues(strconv.Itoa(int(op.policyID))).Dec()
	op.transportActive = false
}

// processTransport reaps completed transfers and applies deferred
// policy updates once a class goes quiet.
func (t *transport) processTransport() loopSpeed {
	ret := requestSleep

	draining := true
	for draining {
		select {
		case msg := <-t.completions:
			if t.completeRequest(msg) {
				ret = speedNormal
			}
		default:
			draining = false
		}
	}

	for classID, cls := range t.classes {
		if cls.active == 0 && cls.dirty {
			t.policyUpdated(uint32(classID))
		}
	}

	if len(t.activeOps) > 0 {
		ret = speedNormal
	}
	return ret
}

// completeRequest validates and finalizes one completion message.
// Reports whether a live request was completed.
func (t *transport) completeRequest(msg completionMsg) bool {
	op := registry.lookupRequest(msg.handle)
	if op == nil {
		slog.Debug("completion for unknown operation, skipping", "handle", msg.handle)
		t.cache.put(msg.easy)
		return false
	}
	if op.easy != msg.easy || !op.transportActive {
		// Normal aftermath of a cancel: the operation was detached
		// before its I/O goroutine finished.
		slog.Debug("completion for inactive request, skipping", "handle", msg.handle)
		t.cache.put(msg.easy)
		return false
	}
	if _, active := t.activeOps[op]; !active {
		slog.Warn("completion for request not in active set, skipping", "handle", msg.handle)
		t.cache.put(msg.easy)
		return false
	}

	t.deactivate(op)
	res := &msg.easy.result

	// Move the attempt's results onto the operation.
	op.replyBody = res.replyBody
	op.replyHeaders = res.replyHeaders
	op.replyOffset = res.replyOffset
	op.replyLength = res.replyLength
	op.replyFullLength = res.replyFullLength
	op.replyRetryAfter = res.retryAfter
	op.replyContentType = res.contentType
	op.stats = res.stats

	// Terminal status cascade: a failure recorded during header
	// processing wins; otherwise a transport error is mapped into the
	// easy domain; otherwise the HTTP response code is validated and
	// stamped.
	if op.status.IsSuccess() && !res.headerStatus.IsSuccess() {
		op.status = res.headerStatus
	}
	if op.status.IsSuccess() {
		if res.err != nil {
			op.status = mapTransportError(res.err)
		} else if res.httpStatus < httpStatusMin || res.httpStatus > httpStatusMax {
			slog.Warn("invalid HTTP response code received from server",
				"handle", op.handle, "code", res.httpStatus)
			op.status = NewStatus(DomainCore, ECInvalidHTTPStatus)
		} else {
			op.status = StatusFromHTTP(res.httpStatus)
		}
	}

	op.easy = nil
	t.cache.put(msg.easy)

	metricResults.WithLabelValues(op.status.TerseString()).Inc()
	metricBytesDown.Add(float64(op.stats.SizeDownload))
	metricTransferSeconds.Observe(op.stats.TotalTime.Seconds())

	if op.tracing >= TraceLow {
		slog.Info("TRACE, RequestComplete", "handle", op.handle,
			"status", op.status.TerseString())
	}

	t.service.policy.stageAfterCompletion(op)
	return true
}

func (t *transport) activeCount() int {
	return len(t.activeOps)
}

func (t *transport) activeCountInClass(classID uint32) int {
	if int(classID) >= len(t.classes) {
		return 0
	}
	return t.classes[classID].active
}

// policyUpdated applies class policy to the connection pools. Pool
// parameters cannot change under live transfers, so a class with
// active requests is marked dirty and staging is stalled; once the
// class drains, processTransport re-invokes this and the quiet branch
// applies the pending options.
func (t *transport) policyUpdated(classID uint32) {
	if int(classID) >= len(t.classes) {
		return
	}
	cls := t.classes[classID]
	opts := t.service.policy.classOptions(classID)

	if cls.active == 0 {
		t.service.policy.stallPolicy(classID, false)
		cls.dirty = false
		cls.options = *opts
		cls.pipelined = opts.pipelined()
		cls.dropPools()
		slog.Debug("transport policy applied", "policy_class", classID,
			"connections", cls.options.connectionLimit,
			"per_host", cls.options.perHostConnectionLimit,
			"pipelining", cls.options.pipelining)
		return
	}

	if !cls.dirty {
		cls.dirty = true
		t.service.policy.stallPolicy(classID, true)
		slog.Debug("transport policy deferred until class drains", "policy_class", classID)
	}
}

// poolFor returns the class connection pool for the given TLS mode,
// building it on first use after each policy application.
func (t *transport) poolFor(cls *transportClass, mode tlsMode) *http.Transport {
	if pool, ok := cls.pools[mode]; ok {
		return pool
	}
	if cls.pools == nil {
		cls.pools = make(map[tlsMode]*http.Transport)
	}

	maxPerHost := int(cls.options.connectionLimit)
	if cls.pipelined {
		maxPerHost = int(cls.options.perHostConnectionLimit)
	}

	pool := &http.Transport{
		Proxy: t.proxySelector(),
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			// IPv4 only; the transport stack predates usable v6 paths
			// on the grid.
			d := &net.Dialer{Timeout: DefaultTimeout, KeepAlive: 30 * time.Second}
			return d.DialContext(ctx, "tcp4", addr)
		},
		TLSClientConfig:     t.tlsConfigFor(mode),
		TLSHandshakeTimeout: 10 * time.Second,
		MaxConnsPerHost:     maxPerHost,
		MaxIdleConns:        int(cls.options.connectionLimit),
		MaxIdleConnsPerHost: maxPerHost,
		IdleConnTimeout:     300 * time.Second,
		ForceAttemptHTTP2:   cls.pipelined,
	}
	if !cls.pipelined {
		// Pin the class to HTTP/1.1; multiplexed streams would evade
		// the connection-oriented admission limits.
		pool.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	}
	cls.pools[mode] = pool
	return pool
}

func (t *transport) tlsConfigFor(mode tlsMode) *tls.Config {
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    t.rootCAs,
	}
	switch mode {
	case 0, 2:
		// Peer verification off; host flag alone changes nothing.
		cfg.InsecureSkipVerify = true
	case 1:
		// Verify the chain but not the host name.
		cfg.InsecureSkipVerify = true
		rootCAs := t.rootCAs
		cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyChainNoHostname(rawCerts, rootCAs)
		}
	case 3:
		// Full verification.
	}
	return cfg
}

// verifyChainNoHostname checks the presented chain against the trust
// roots without requiring a host name match.
func verifyChainNoHostname(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return NewStatus(DomainEasy, EasyPeerFailedVerify)
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return err
		}
		certs = append(certs, cert)
	}
	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	_, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
	})
	return err
}

// proxySelector builds the pool's proxy function from global policy.
// The external-proxy capability takes precedence over the static
// proxy string.
func (t *transport) proxySelector() func(*http.Request) (*url.URL, error) {
	gopts := t.service.policy.global()
	if gopts.useExternalProxy && gopts.proxyProvider != nil {
		provider := gopts.proxyProvider
		return func(req *http.Request) (*url.URL, error) {
			proxy := provider(req.URL.String())
			if proxy == "" {
				return nil, nil
			}
			return url.Parse(proxy)
		}
	}
	if gopts.httpProxy != "" {
		proxyURL, err := url.Parse(ensureProxyScheme(gopts.httpProxy))
		if err != nil {
			slog.Warn("ignoring unparseable proxy", "proxy", gopts.httpProxy, "error", err)
			return nil
		}
		return http.ProxyURL(proxyURL)
	}
	return nil
}

func ensureProxyScheme(proxy string) string {
	if u, err := url.Parse(proxy); err == nil && u.Scheme != "" && u.Host != "" {
		return proxy
	}
	return "http://" + proxy
}

// loadRootCAs assembles the trust pool from the global CA file/path
// options. Nil (system roots) when neither is configured.
func (t *transport) loadRootCAs() *x509.CertPool {
	gopts := t.service.policy.global()
	if gopts.caFile == "" && gopts.caPath == "" {
		return nil
	}
	pool := x509.NewCertPool()
	if gopts.caFile != "" {
		if pem, err := os.ReadFile(gopts.caFile); err == nil {
			if !pool.AppendCertsFromPEM(pem) {
				slog.Warn("no certificates loaded from CA file", "file", gopts.caFile)
			}
		} else {
			slog.Warn("unable to read CA file", "file", gopts.caFile, "error", err)
		}
	}
	if gopts.caPath != "" {
		entries, err := os.ReadDir(gopts.caPath)
		if err != nil {
			slog.Warn("unable to read CA path", "path", gopts.caPath, "error", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(gopts.caPath, entry.Name()))
			if err != nil {
				continue
			}
			pool.AppendCertsFromPEM(pem)
		}
	}
	return pool
}

// prepare configures an easy handle with everything derivable from the
// operation: method, URL, body stream, synthesized and caller headers,
// redirect policy, timeouts, TLS and proxy selection.
func (t *transport) prepare(op *opRequest) (*easyHandle, Status) {
	opts := op.effectiveOptions()
	cls := t.classes[op.policyID]
	gopts := t.service.policy.global()

	easy := t.cache.get()
	easy.op = op.handle
	easy.procFlags = op.procFlags
	easy.tracing = max(op.tracing, int(gopts.trace))
	easy.urlSafe = sanitizeURLString(op.url)

	// Transfer timeout: explicit value, else mirror the connect
	// timeout; pipelined classes double it to ride out head-of-line
	// delays.
	connectTimeout := clampTimeout(opts.Timeout)
	if connectTimeout == 0 {
		connectTimeout = DefaultTimeout
	}
	xferTimeout := clampTimeout(opts.TransferTimeout)
	if xferTimeout == 0 {
		xferTimeout = connectTimeout
	}
	if cls.pipelined {
		xferTimeout *= 2
	}

	var ctx context.Context
	if xferTimeout > 0 {
		ctx, easy.cancel = context.WithTimeout(context.Background(), xferTimeout)
	} else {
		ctx, easy.cancel = context.WithCancel(context.Background())
	}

	methodStr := op.method.String()
	if op.method == MethodGet && opts.HeadersOnly {
		methodStr = http.MethodHead
	}

	var bodyReader io.Reader
	hasBody := op.body != nil &&
		(op.method == MethodPost || op.method == MethodPut || op.method == MethodPatch)
	if hasBody {
		bodyReader = buffer.NewStream(op.body)
	}

	req, err := http.NewRequestWithContext(ctx, methodStr, op.url, bodyReader)
	if err != nil {
		easy.cancel()
		t.cache.put(easy)
		return nil, NewStatusMsg(DomainCore, ECInvalidArg, err.Error())
	}
	if hasBody {
		body := op.body
		req.ContentLength = int64(body.Size())
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(buffer.NewStream(body)), nil
		}
	}

	// Synthesized headers first, caller-supplied last so they
	// override.
	if op.procFlags&pfScanRangeHeader != 0 && op.method == MethodGet {
		if op.rangeLength > 0 {
			req.Header.Set("Range",
				"bytes="+strconv.FormatUint(op.rangeOffset, 10)+"-"+
					strconv.FormatUint(op.rangeOffset+op.rangeLength-1, 10))
		} else {
			req.Header.Set("Range", "bytes="+strconv.FormatUint(op.rangeOffset, 10)+"-")
		}
	}
	req.Header.Set("X-Correlation-ID", op.corrID)
	if op.reqHeaders != nil {
		seen := make(map[string]bool)
		for hdr := range op.reqHeaders.All {
			if seen[hdr.Name] {
				req.Header.Add(hdr.Name, hdr.Value)
			} else {
				req.Header.Set(hdr.Name, hdr.Value)
				seen[hdr.Name] = true
			}
		}
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if opts.FollowRedirects {
		checkRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) > DefaultRedirects {
				return NewStatus(DomainCore, ECReplyError)
			}
			return nil
		}
	} else {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	var pool http.RoundTripper
	if gopts.sslVerifyCallback != nil && req.URL.Scheme == "https" {
		pool = t.verifyCallbackPool(op, gopts.sslVerifyCallback)
	} else {
		pool = t.poolFor(cls, tlsModeFor(opts))
	}

	easy.client = &http.Client{
		Transport:     pool,
		Jar:           cls.jar,
		CheckRedirect: checkRedirect,
	}
	easy.req = req
	return easy, StatusOK
}

// verifyCallbackPool builds a dedicated unpooled transport whose TLS
// handshake consults the application's verification capability with
// this request's URL and handler. Connections carrying app-verified
// handshakes are never shared between requests.
func (t *transport) verifyCallbackPool(op *opRequest, verify SSLVerifyFunc) *http.Transport {
	reqURL := op.url
	handler := op.handler
	return &http.Transport{
		Proxy: t.proxySelector(),
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := &net.Dialer{Timeout: DefaultTimeout, KeepAlive: 30 * time.Second}
			return d.DialContext(ctx, "tcp4", addr)
		},
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			RootCAs:            t.rootCAs,
			InsecureSkipVerify: true,
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				return verify(reqURL, handler, rawCerts)
			},
		},
		TLSHandshakeTimeout: 10 * time.Second,
		DisableKeepAlives:   true,
	}
}
