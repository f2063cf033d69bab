package command

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cloudflare/cfamp/amp"
	"github.com/cloudflare/cfamp/transport"
	"github.com/opentracing/opentracing-go"
)

const DefaultMaxBlobBytes = 512 << 20

// Exchanger is the part of *transport.Transport the engine needs.
type Exchanger interface {
	Exchange(ctx context.Context, dev amp.DeviceEndpoint, path string, op string, doc []byte) (*transport.Response, error)
	ExchangeStream(ctx context.Context, dev amp.DeviceEndpoint, path string, op string, prefix []byte, body io.Reader, suffix []byte) (*transport.Response, error)
}

type Options struct {
	Quirks *amp.Quirks
	// Firmware resolves the firmware level of a device for quirk lookups.
	// When nil no firmware specific override applies.
	Firmware func(dev amp.DeviceEndpoint) amp.FirmwareVersion

	// MaxBlobBytes caps a blob encoded in memory for a buffered request.
	MaxBlobBytes int64

	Tracer opentracing.Tracer
	Log    amp.Logger
}

// Client runs operations for one protocol version. It holds no per call
// state and is safe for concurrent use.
type Client struct {
	desc *amp.Descriptor
	ex   Exchanger
	opts Options
}

func New(desc *amp.Descriptor, ex Exchanger, opts Options) *Client {
	if opts.MaxBlobBytes <= 0 {
		opts.MaxBlobBytes = DefaultMaxBlobBytes
	}
	return &Client{
		desc: desc,
		ex:   ex,
		opts: opts,
	}
}

func NewForVersion(v amp.ProtocolVersion, ex Exchanger, opts Options) (*Client, error) {
	desc, err := amp.DescriptorFor(v)
	if err != nil {
		return nil, err
	}
	return New(desc, ex, opts), nil
}

func (c *Client) Version() amp.ProtocolVersion {
	return c.desc.Version
}

func (c *Client) Descriptor() *amp.Descriptor {
	return c.desc
}

func (c *Client) Supports(op amp.Op) bool {
	return c.desc.Ops.Has(op)
}

func (c *Client) requestName(op amp.Op) xml.Name {
	return xml.Name{Space: c.desc.Namespace, Local: op.String() + "Request"}
}

func (c *Client) tracer() opentracing.Tracer {
	if c.opts.Tracer != nil {
		return c.opts.Tracer
	}
	return opentracing.GlobalTracer()
}

func (c *Client) fail(dev amp.DeviceEndpoint, op amp.Op, kind amp.ErrorKind, msg string, inner error) *amp.Error {
	return amp.NewError(kind, msg, inner).WithContext(dev.Address(), op.String(), c.desc.Version)
}

func (c *Client) unsupported(dev amp.DeviceEndpoint, op amp.Op) *amp.Error {
	return c.fail(dev, op, amp.KindUnsupported,
		fmt.Sprintf("%s is not available in protocol version %s", op, c.desc.Version), nil)
}

// run wraps one operation with its span, metrics and error context.
func (c *Client) run(ctx context.Context, dev amp.DeviceEndpoint, op amp.Op, fn func(ctx context.Context) error) error {
	if !c.desc.Ops.Has(op) {
		MetricCommands.WithLabelValues(op.String(), c.desc.Version.String(), amp.KindUnsupported.String()).Inc()
		return c.unsupported(dev, op)
	}

	var opts []opentracing.StartSpanOption
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent.Context()))
	}
	span := c.tracer().StartSpan("amp."+op.String(), opts...)
	defer span.Finish()
	span.SetTag("device", dev.Address())
	span.SetTag("operation", op.String())
	span.SetTag("version", c.desc.Version.String())
	ctx = opentracing.ContextWithSpan(ctx, span)

	t1 := time.Now()
	err := fn(ctx)
	t2 := time.Now()

	result := "ok"
	if err != nil {
		var e *amp.Error
		if errors.As(err, &e) {
			e.WithContext(dev.Address(), op.String(), c.desc.Version)
			result = e.Kind.String()
		} else {
			result = "other"
		}
		span.SetTag("error", true)
		span.LogKV("event", "error", "kind", result, "message", err.Error())
		if c.opts.Log != nil {
			c.opts.Log.Debugf("%v %v failed: %v", dev, op, err)
		}
	}
	MetricCommands.WithLabelValues(op.String(), c.desc.Version.String(), result).Inc()
	MetricCommandDuration.WithLabelValues(op.String(), c.desc.Version.String(), result).Observe(t2.Sub(t1).Seconds())
	return err
}

// exchange marshals req, sends it and decodes the <Op>Response element into
// resp. A fault other than an authentication failure becomes an execution
// error.
func (c *Client) exchange(ctx context.Context, dev amp.DeviceEndpoint, op amp.Op, req interface{}, resp interface{}) error {
	doc, err := xml.Marshal(req)
	if err != nil {
		return c.fail(dev, op, amp.KindProtocol, "encoding request", err)
	}
	res, err := c.ex.Exchange(ctx, dev, c.desc.Path, op.String(), doc)
	if err != nil {
		return err
	}
	return c.decode(dev, op, res, resp)
}

func (c *Client) exchangeStream(ctx context.Context, dev amp.DeviceEndpoint, op amp.Op, prefix []byte, body io.Reader, suffix []byte, resp interface{}) error {
	res, err := c.ex.ExchangeStream(ctx, dev, c.desc.Path, op.String(), prefix, body, suffix)
	if err != nil {
		return err
	}
	return c.decode(dev, op, res, resp)
}

func (c *Client) decode(dev amp.DeviceEndpoint, op amp.Op, res *transport.Response, resp interface{}) error {
	if res.Fault != nil {
		e := c.fail(dev, op, amp.KindExecution, "device answered with a fault", res.Fault)
		e.Fault = res.Fault
		return e
	}
	if len(bytes.TrimSpace(res.Body)) == 0 {
		return c.fail(dev, op, amp.KindProtocol, "response document missing", nil)
	}

	dec := transport.NewDecoder(bytes.NewReader(res.Body))
	var start *xml.StartElement
	for start == nil {
		tok, err := dec.Token()
		if err == io.EOF {
			return c.fail(dev, op, amp.KindProtocol, "response document missing", nil)
		}
		if err != nil {
			return c.fail(dev, op, amp.KindProtocol, "parsing response", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			start = &se
		}
	}
	if want := op.String() + "Response"; start.Name.Local != want {
		return c.fail(dev, op, amp.KindProtocol,
			fmt.Sprintf("expected %s, got %s", want, start.Name.Local), nil)
	}
	if err := dec.DecodeElement(resp, start); err != nil {
		return c.fail(dev, op, amp.KindProtocol, "parsing response", err)
	}
	return nil
}

// requireStatus applies the policy for operations answering only a status.
func (c *Client) requireStatus(dev amp.DeviceEndpoint, op amp.Op, status *string) error {
	switch {
	case status == nil:
		return c.fail(dev, op, amp.KindProtocol, "status missing from response", nil)
	case amp.StatusIs(*status, amp.StatusError):
		return c.fail(dev, op, amp.KindExecution, "device reported an error", nil)
	case amp.StatusIs(*status, amp.StatusOK):
		return nil
	}
	return c.fail(dev, op, amp.KindProtocol, fmt.Sprintf("unrecognized status %q", *status), nil)
}

// requirePayload applies the policy for operations returning data: an error
// status wins, otherwise the payload must be there.
func (c *Client) requirePayload(dev amp.DeviceEndpoint, op amp.Op, status *string, present bool) error {
	if status != nil && amp.StatusIs(*status, amp.StatusError) {
		return c.fail(dev, op, amp.KindExecution, "device reported an error", nil)
	}
	if !present {
		return c.fail(dev, op, amp.KindProtocol, "expected payload missing from response", nil)
	}
	return nil
}

func (c *Client) encodeBlob(dev amp.DeviceEndpoint, op amp.Op, data []byte) (string, error) {
	if int64(base64.StdEncoding.EncodedLen(len(data))) > c.opts.MaxBlobBytes {
		return "", c.fail(dev, op, amp.KindExecution,
			fmt.Sprintf("payload of %d bytes too large to assemble in memory", len(data)), nil)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func (c *Client) decodeBlob(dev amp.DeviceEndpoint, op amp.Op, value string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(stripSpace(value))
	if err != nil {
		return nil, c.fail(dev, op, amp.KindProtocol, "payload is not valid base64", err)
	}
	return data, nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}

func requireName(field string, value string) error {
	if strings.TrimSpace(value) == "" {
		return &amp.ValidationError{Field: field, Reason: "must not be empty"}
	}
	return nil
}

func seconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
