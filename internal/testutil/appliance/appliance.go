// Package appliance runs an in-process HTTPS fake of a device management
// interface.
package appliance

import (
	"bytes"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/cloudflare/cfamp/amp"
	"github.com/cloudflare/cfamp/internal/testutil/tlstest"
	"github.com/cloudflare/cfamp/trust"
)

const (
	Username = "admin"
	Password = "s3cret"
)

type Request struct {
	Path     string
	Op       string
	Username string
	Password string
	// Envelope is the complete request body as received.
	Envelope []byte
}

type Reply struct {
	Status      int
	ContentType string
	Body        string
}

type Handler func(req *Request) Reply

type Device struct {
	Trust *trust.Builder

	srv     *httptest.Server
	handler Handler

	mu       sync.Mutex
	requests []*Request
}

func New(t testing.TB, handler Handler) *Device {
	t.Helper()
	ca := tlstest.NewAuthority(t, t.TempDir(), "Appliance Test CA")
	return NewWithAuthority(t, ca, handler)
}

// NewWithAuthority lets several fakes share one CA, and so one trust context.
func NewWithAuthority(t testing.TB, ca *tlstest.Authority, handler Handler) *Device {
	t.Helper()

	// The name deliberately does not match the address dialed.
	leaf := ca.IssueServer(t, "xi52-factory", []string{"xi52-factory"}, nil)

	d := &Device{
		Trust:   trust.NewBuilder(trust.Options{SupplementaryPaths: []string{ca.CAFile()}}),
		handler: handler,
	}
	d.srv = httptest.NewUnstartedServer(http.HandlerFunc(d.serve))
	d.srv.TLS = &tls.Config{Certificates: []tls.Certificate{leaf.TLSCertificate(t)}}
	d.srv.StartTLS()
	t.Cleanup(d.srv.Close)
	return d
}

func (d *Device) Endpoint() amp.DeviceEndpoint {
	host, port, _ := net.SplitHostPort(d.srv.Listener.Addr().String())
	p, _ := strconv.Atoi(port)
	return amp.DeviceEndpoint{Host: host, Port: p, Username: Username, Password: Password}
}

func (d *Device) Requests() []*Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Request(nil), d.requests...)
}

func (d *Device) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.requests)
}

func (d *Device) serve(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	user, pw, _ := r.BasicAuth()
	req := &Request{
		Path:     r.URL.Path,
		Op:       operationOf(body),
		Username: user,
		Password: pw,
		Envelope: body,
	}
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	reply := d.handler(req)
	if reply.Status == 0 {
		reply.Status = http.StatusOK
	}
	if reply.ContentType == "" {
		reply.ContentType = "text/xml; charset=UTF-8"
	}
	w.Header().Set("Content-Type", reply.ContentType)
	w.WriteHeader(reply.Status)
	io.WriteString(w, reply.Body)
}

// operationOf returns the local name of the first element in the SOAP body.
func operationOf(envelope []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(envelope))
	inBody := false
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		if se, ok := tok.(xml.StartElement); ok {
			if inBody {
				return se.Name.Local
			}
			inBody = se.Name.Local == "Body"
		}
	}
}

// Envelope wraps a response document the way devices do.
func Envelope(inner string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>` +
		`<env:Envelope xmlns:env="http://schemas.xmlsoap.org/soap/envelope/"><env:Body>` +
		inner +
		`</env:Body></env:Envelope>`
}

// Respond answers with a response element in the descriptor's namespace.
func Respond(desc *amp.Descriptor, element string, inner string) Reply {
	return Reply{Body: Envelope(fmt.Sprintf(`<dp:%s xmlns:dp="%s">%s</dp:%s>`, element, desc.Namespace, inner, element))}
}

func Fault(code string, message string) Reply {
	return Reply{Body: Envelope(fmt.Sprintf(
		`<env:Fault><faultcode>%s</faultcode><faultstring>%s</faultstring></env:Fault>`, code, message))}
}
