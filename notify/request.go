package notify

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cloudflare/cfamp/amp"
	"github.com/cloudflare/cfamp/transport"
)

const (
	maxLineBytes = 8 << 10
	maxHeaders   = 64
)

var errLineTooLong = errors.New("header line too long")

// pushRequest is what is left of HTTP in a device push: a POST request line
// and the Content-Type and Content-Length headers.
type pushRequest struct {
	Method        string
	Path          string
	ContentType   string
	ContentLength int64
	hasLength     bool
}

// invalidRequest carries why a request will be answered 400.
type invalidRequest struct {
	reason string
}

func (e *invalidRequest) Error() string {
	return "invalid notification request: " + e.reason
}

func invalid(format string, args ...interface{}) error {
	return &invalidRequest{reason: fmt.Sprintf(format, args...)}
}

func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		line = append(line, chunk...)
		if len(line) > maxLineBytes {
			return "", errLineTooLong
		}
		if !isPrefix {
			return string(line), nil
		}
	}
}

// readHead reads the request line and headers. Protocol violations are
// reported with an *invalidRequest next to whatever could be parsed, so
// that the body can still be drained; I/O errors are returned as is.
func readHead(r *bufio.Reader, maxBody int64) (*pushRequest, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	req := &pushRequest{}
	parts := strings.Fields(line)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, invalid("malformed request line %q", line)
	}
	req.Method, req.Path = parts[0], parts[1]

	var problem error
	if req.Method != "POST" {
		problem = invalid("method %s not allowed", req.Method)
	}
	for i := 0; ; i++ {
		line, err := readLine(r)
		if err != nil {
			return req, err
		}
		if line == "" {
			break
		}
		if i >= maxHeaders {
			return req, invalid("too many headers")
		}
		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			if problem == nil {
				problem = invalid("malformed header %q", line)
			}
			continue
		}
		name := strings.TrimSpace(line[:colon])
		value := strings.TrimSpace(line[colon+1:])
		switch {
		case strings.EqualFold(name, "Content-Type"):
			req.ContentType = value
		case strings.EqualFold(name, "Content-Length"):
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				if problem == nil {
					problem = invalid("bad content length %q", value)
				}
				continue
			}
			req.ContentLength = n
			req.hasLength = true
		}
	}

	switch {
	case problem != nil:
	case !req.hasLength:
		problem = invalid("content length missing")
	case req.ContentLength > maxBody:
		problem = invalid("content length %d exceeds %d", req.ContentLength, maxBody)
	case !strings.Contains(strings.ToLower(req.ContentType), "xml"):
		problem = invalid("content type %q is not XML", req.ContentType)
	}
	return req, problem
}

type eventDocument struct {
	SerialNumber string `xml:"SerialNumber"`
	Topic        string `xml:"Topic"`
	Sequence     int64  `xml:"Sequence"`
	Timestamp    string `xml:"Timestamp"`
	Domain       string `xml:"Domain"`
}

// parseNotification turns an event body into a Notification. The raw body
// is kept as payload for the downstream queue.
func parseNotification(body []byte) (amp.Notification, error) {
	var doc eventDocument
	if err := transport.NewDecoder(bytes.NewReader(body)).Decode(&doc); err != nil {
		if err == io.EOF {
			return amp.Notification{}, invalid("empty event document")
		}
		return amp.Notification{}, invalid("event document: %v", err)
	}
	serial := strings.TrimSpace(doc.SerialNumber)
	if serial == "" {
		return amp.Notification{}, invalid("event without serial number")
	}
	topic := amp.Topic(strings.ToLower(strings.TrimSpace(doc.Topic)))
	if t, err := amp.ParseTopic(doc.Topic); err == nil {
		topic = t
	}
	return amp.Notification{
		SerialNumber: serial,
		Topic:        topic,
		Sequence:     doc.Sequence,
		Timestamp:    strings.TrimSpace(doc.Timestamp),
		Domain:       strings.TrimSpace(doc.Domain),
		Payload:      body,
	}, nil
}
