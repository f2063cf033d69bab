package transport

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

const RedactedPlaceholder = "[redacted]"

// RedactedElements carry blobs or secrets that must never reach a log.
var RedactedElements = map[string]bool{
	"Firmware":            true,
	"File":                true,
	"Settings":            true,
	"ErrorReport":         true,
	"Password":            true,
	"PolicyConfiguration": true,
}

type span struct {
	start, end int64
}

// Redact replaces the content of every redacted element with the
// placeholder. Everything outside those elements is kept byte for byte, and
// redacting twice gives the same result as redacting once. A document that
// cannot be tokenized is not logged at all.
func Redact(doc []byte) []byte {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	// Offsets must refer to the original bytes; no charset conversion.
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }

	var spans []span
	var depth int
	var start int64
	for {
		before := dec.InputOffset()
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return []byte(fmt.Sprintf("[unparseable message of %d bytes not logged]", len(doc)))
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if depth > 0 {
				depth++
			} else if RedactedElements[t.Name.Local] {
				depth = 1
				start = dec.InputOffset()
			}
		case xml.EndElement:
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 && before > start {
				spans = append(spans, span{start: start, end: before})
			}
		}
	}
	if depth > 0 {
		// Truncated inside a blob.
		spans = append(spans, span{start: start, end: int64(len(doc))})
	}
	if len(spans) == 0 {
		return doc
	}

	out := bytes.NewBuffer(make([]byte, 0, len(doc)))
	var pos int64
	for _, s := range spans {
		out.Write(doc[pos:s.start])
		out.WriteString(RedactedPlaceholder)
		pos = s.end
	}
	out.Write(doc[pos:])
	return out.Bytes()
}
