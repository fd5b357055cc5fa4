package transcriber

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

const (
	// transcripts are small JSON documents
	maxResponseBytes = 4 << 20
	warmTimeout      = 5 * time.Second
)

// TracedClient is the HTTP client behind every batch provider. It keeps one
// warm connection per host and records per-phase timings for each request.
type TracedClient struct {
	client  *http.Client
	warmURL string
}

func NewTracedClient(warmURL string) *TracedClient {
	return &TracedClient{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        2,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
			Timeout: 2 * time.Minute,
		},
		warmURL: warmURL,
	}
}

type TracedResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

// Do sends req and reads the whole body. A request that fails on a reused
// keep-alive connection is sent once more on a fresh one, provided the body
// can be replayed; servers drop idle connections between dictations.
func (c *TracedClient) Do(req *http.Request) (*TracedResponse, error) {
	resp, err := c.do(req)
	if err == nil {
		return resp, nil
	}
	if !resp.Metrics.ConnReused || req.GetBody == nil || req.Context().Err() != nil {
		return nil, err
	}
	body, gerr := req.GetBody()
	if gerr != nil {
		return nil, err
	}
	retry := req.Clone(req.Context())
	retry.Body = body
	if resp, err = c.do(retry); err != nil {
		return nil, err
	}
	resp.Metrics.Retried = true
	return resp, nil
}

// do always returns a response carrying the metrics, even on error, so Do
// can see whether the connection was reused.
func (c *TracedClient) do(req *http.Request) (*TracedResponse, error) {
	m := &NetworkMetrics{}
	out := &TracedResponse{Metrics: m}
	var getConn, dnsStart, tcpStart, tlsStart time.Time
	var gotConn, wroteHeaders, wroteRequest, firstByte time.Time

	trace := &httptrace.ClientTrace{
		GetConn: func(string) { getConn = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			gotConn = time.Now()
			m.ConnWait = gotConn.Sub(getConn)
			m.ConnReused = info.Reused
		},
		DNSStart:          func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:           func(httptrace.DNSDoneInfo) { m.DNS = time.Since(dnsStart) },
		ConnectStart:      func(_, _ string) { tcpStart = time.Now() },
		ConnectDone:       func(_, _ string, _ error) { m.TCP = time.Since(tcpStart) },
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			m.TLS = time.Since(tlsStart)
			m.TLSProtocol = tls.VersionName(cs.Version)
		},
		WroteHeaders: func() {
			wroteHeaders = time.Now()
			m.ReqHeaders = wroteHeaders.Sub(gotConn)
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			wroteRequest = time.Now()
			m.ReqBody = wroteRequest.Sub(wroteHeaders)
		},
		GotFirstResponseByte: func() {
			firstByte = time.Now()
			m.TTFB = firstByte.Sub(wroteRequest)
		},
	}

	start := time.Now()
	resp, err := c.client.Do(req.WithContext(httptrace.WithClientTrace(req.Context(), trace)))
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return out, err
	}
	if len(body) > maxResponseBytes {
		return out, errors.New("response body too large")
	}
	m.Download = time.Since(firstByte)
	m.Total = time.Since(start)

	out.Body = body
	out.StatusCode = resp.StatusCode
	out.Header = resp.Header
	return out, nil
}

// Warm sends a HEAD to the API host so the upload after recording skips
// the handshake. It returns the TLS handshake time, 0 when nothing was
// dialed or the host was unreachable.
func (c *TracedClient) Warm(ctx context.Context) time.Duration {
	if c.warmURL == "" {
		return 0
	}
	ctx, cancel := context.WithTimeout(ctx, warmTimeout)
	defer cancel()

	var tlsStart time.Time
	var hs time.Duration
	trace := &httptrace.ClientTrace{
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone:  func(tls.ConnectionState, error) { hs = time.Since(tlsStart) },
	}
	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodHead, c.warmURL, nil)
	if err != nil {
		return 0
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return hs
}
