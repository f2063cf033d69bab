// Package transport performs one management exchange with an appliance: it
// wraps the request document in a SOAP envelope, posts it over a dedicated
// HTTPS connection and unwraps the answer.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cloudflare/cfamp/amp"
	"github.com/cloudflare/cfamp/trust"
)

const (
	DefaultMaxResponseBytes = 256 << 20
	DefaultTimeout          = 30 * time.Second

	contentType = "text/xml; charset=UTF-8"
)

// TrustSource hands out the shared trust context. *trust.Builder satisfies
// it; a failed build surfaces as an I/O error on every call.
type TrustSource interface {
	Context() (*trust.Context, error)
}

type Transport struct {
	Trust     TrustSource
	UserAgent string

	// Timeout bounds connection setup and the wait for response headers.
	// Body transfer is bounded by the caller's context only, since firmware
	// uploads legitimately take minutes.
	Timeout          time.Duration
	MaxResponseBytes int64

	Log amp.Logger
	// LogBodies emits redacted request and response documents at debug.
	LogBodies bool
}

func New(trust TrustSource, log amp.Logger) *Transport {
	return &Transport{
		Trust:            trust,
		UserAgent:        "cfamp",
		Timeout:          DefaultTimeout,
		MaxResponseBytes: DefaultMaxResponseBytes,
		Log:              log,
	}
}

// Response is the unwrapped content of the SOAP body. Fault is set, and
// Body empty, when the device answered with a fault other than an
// authentication failure.
type Response struct {
	Body  []byte
	Fault *amp.FaultInfo
}

// Exchange posts a buffered request document.
func (t *Transport) Exchange(ctx context.Context, device amp.DeviceEndpoint, path string, op string, doc []byte) (*Response, error) {
	envelope := Wrap(doc)
	if t.LogBodies && t.Log != nil {
		t.Log.Debugf("%v %v request: %s", device, op, Redact(envelope))
	}
	return t.do(ctx, device, path, op, bytes.NewReader(envelope), int64(len(envelope)))
}

// ExchangeStream posts a request whose blob element content comes from
// body. prefix ends with the blob's opening tag and suffix starts with its
// closing tag. The body is never held in memory as a whole.
func (t *Transport) ExchangeStream(ctx context.Context, device amp.DeviceEndpoint, path string, op string, prefix []byte, body io.Reader, suffix []byte) (*Response, error) {
	header, footer := EnvelopeParts(prefix, suffix)
	if t.LogBodies && t.Log != nil {
		logged := make([]byte, 0, len(header)+len(RedactedPlaceholder)+len(footer))
		logged = append(logged, header...)
		logged = append(logged, RedactedPlaceholder...)
		logged = append(logged, footer...)
		t.Log.Debugf("%v %v request: %s", device, op, Redact(logged))
	}
	r := io.MultiReader(bytes.NewReader(header), body, bytes.NewReader(footer))
	return t.do(ctx, device, path, op, r, -1)
}

func (t *Transport) fail(device amp.DeviceEndpoint, op string, reason string, kind amp.ErrorKind, msg string, inner error) error {
	MetricErrors.WithLabelValues(reason).Inc()
	return amp.NewError(kind, msg, inner).WithContext(device.Address(), op, 0)
}

func (t *Transport) client(tc *trust.Context) *http.Client {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dialer := &net.Dialer{Timeout: timeout}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSClientConfig:       tc.ClientTLSConfig(),
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			// One call, one connection.
			DisableKeepAlives: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (t *Transport) do(ctx context.Context, device amp.DeviceEndpoint, path string, op string, body io.Reader, length int64) (*Response, error) {
	if t.Trust == nil {
		return nil, t.fail(device, op, "trust", amp.KindIO, "no TLS trust context configured", nil)
	}
	tc, err := t.Trust.Context()
	if err != nil {
		return nil, t.fail(device, op, "trust", amp.KindIO, "TLS trust context unavailable", err)
	}

	url := fmt.Sprintf("https://%s%s", device.Address(), path)
	counted := &countingReader{r: body}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, counted)
	if err != nil {
		return nil, t.fail(device, op, "request", amp.KindIO, "building request", err)
	}
	if length >= 0 {
		req.ContentLength = length
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("SOAPAction", `""`)
	if t.UserAgent != "" {
		req.Header.Set("User-Agent", t.UserAgent)
	}
	req.SetBasicAuth(device.Username, device.Password)

	client := t.client(tc)
	defer client.CloseIdleConnections()

	// net/http may still be writing the body after Do returns.
	defer func() {
		MetricBytes.WithLabelValues("sent").Add(float64(counted.count()))
	}()
	res, err := client.Do(req)
	if err != nil {
		return nil, t.fail(device, op, "connect", amp.KindIO, "exchange failed", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))
		return nil, t.fail(device, op, "status", amp.KindIO, fmt.Sprintf("unexpected HTTP status %d", res.StatusCode), nil)
	}
	if !isXMLContentType(res.Header.Get("Content-Type")) {
		return nil, t.fail(device, op, "content_type", amp.KindIO,
			fmt.Sprintf("unexpected content type %q", res.Header.Get("Content-Type")), nil)
	}

	max := t.MaxResponseBytes
	if max <= 0 {
		max = DefaultMaxResponseBytes
	}
	data, err := io.ReadAll(io.LimitReader(res.Body, max+1))
	MetricBytes.WithLabelValues("received").Add(float64(len(data)))
	if err != nil {
		return nil, t.fail(device, op, "read", amp.KindIO, "reading response", err)
	}
	if int64(len(data)) > max {
		return nil, t.fail(device, op, "too_large", amp.KindIO, fmt.Sprintf("response exceeds %d bytes", max), nil)
	}
	if t.LogBodies && t.Log != nil {
		t.Log.Debugf("%v %v response: %s", device, op, Redact(data))
	}

	inner, fault, err := Unwrap(data)
	if err != nil {
		return nil, t.fail(device, op, "envelope", amp.KindProtocol, "malformed response envelope", err)
	}
	if fault != nil {
		MetricFaults.WithLabelValues(fault.Kind.String()).Inc()
		if fault.Kind == amp.FaultAuthentication {
			e := amp.NewError(amp.KindCredential, "device rejected the credentials", fault).WithContext(device.Address(), op, 0)
			e.Fault = fault
			return nil, e
		}
		if t.Log != nil {
			t.Log.Debugf("%v %v answered with %v", device, op, fault)
		}
	}
	return &Response{Body: inner, Fault: fault}, nil
}

func isXMLContentType(value string) bool {
	mt, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return strings.HasSuffix(mt, "/xml") || strings.HasSuffix(mt, "+xml")
}

type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (c *countingReader) count() int64 {
	return c.n.Load()
}
