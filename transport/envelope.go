package transport

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/cloudflare/cfamp/amp"
	"golang.org/x/net/html/charset"
)

const (
	envelopeHeader = `<?xml version="1.0" encoding="UTF-8"?>` +
		`<soapenv:Envelope xmlns:soapenv="` + amp.SOAPNamespace + `">` +
		`<soapenv:Body>`
	envelopeFooter = `</soapenv:Body></soapenv:Envelope>`

	authenticationFault = "authentication failure"
)

var errNoBody = errors.New("envelope has no Body element")

// Wrap puts a request document inside the SOAP envelope.
func Wrap(doc []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, len(envelopeHeader)+len(doc)+len(envelopeFooter)))
	buf.WriteString(envelopeHeader)
	buf.Write(doc)
	buf.WriteString(envelopeFooter)
	return buf.Bytes()
}

// EnvelopeParts returns the bytes that surround a streamed request. prefix
// is the start of the request document up to (and including) the opening
// tag of the streamed element; suffix is everything after its closing tag.
func EnvelopeParts(prefix, suffix []byte) ([]byte, []byte) {
	header := make([]byte, 0, len(envelopeHeader)+len(prefix))
	header = append(header, envelopeHeader...)
	header = append(header, prefix...)
	footer := make([]byte, 0, len(suffix)+len(envelopeFooter))
	footer = append(footer, suffix...)
	footer = append(footer, envelopeFooter...)
	return header, footer
}

// NewDecoder returns an xml decoder that copes with the legacy encodings
// some firmware levels declare.
func NewDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}

type soapFault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

type soapEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    *struct {
		Fault *soapFault `xml:"Fault"`
		Inner []byte     `xml:",innerxml"`
	} `xml:"Body"`
}

// Unwrap strips the envelope and reports an embedded fault, if any.
func Unwrap(data []byte) ([]byte, *amp.FaultInfo, error) {
	var env soapEnvelope
	if err := NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, nil, err
	}
	if env.Body == nil {
		return nil, nil, errNoBody
	}
	if env.Body.Fault != nil {
		return nil, classifyFault(env.Body.Fault), nil
	}
	return bytes.TrimSpace(env.Body.Inner), nil, nil
}

func classifyFault(f *soapFault) *amp.FaultInfo {
	info := &amp.FaultInfo{
		Code:   strings.TrimSpace(f.Code),
		String: strings.TrimSpace(f.String),
	}
	code := strings.ToLower(info.Code)
	if i := strings.LastIndex(code, ":"); i >= 0 {
		code = code[i+1:]
	}
	switch {
	case strings.Contains(strings.ToLower(info.String), authenticationFault):
		info.Kind = amp.FaultAuthentication
	case code == "client":
		info.Kind = amp.FaultClient
	case code == "server":
		info.Kind = amp.FaultServer
	default:
		info.Kind = amp.FaultUnknown
	}
	return info
}
