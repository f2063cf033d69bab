package amp

import (
	"fmt"
	"strconv"
	"strings"
)

// FirmwareVersion is a dotted appliance firmware level such as 3.8.1.4.
// Missing trailing components compare as zero.
type FirmwareVersion []int

func ParseFirmwareVersion(s string) (FirmwareVersion, error) {
	s = strings.TrimSpace(s)
	// Devices sometimes prefix the level, e.g. "XI52.3.8.1.4".
	if s != "" && (s[0] < '0' || s[0] > '9') {
		if i := strings.Index(s, "."); i >= 0 {
			s = s[i+1:]
		}
	}
	if s == "" {
		return nil, fmt.Errorf("empty firmware version")
	}
	parts := strings.Split(s, ".")
	v := make(FirmwareVersion, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("firmware version %q: %w", s, err)
		}
		v = append(v, n)
	}
	return v, nil
}

func MustParseFirmwareVersion(s string) FirmwareVersion {
	v, err := ParseFirmwareVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

func (v FirmwareVersion) Compare(o FirmwareVersion) int {
	n := len(v)
	if len(o) > n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		var a, b int
		if i < len(v) {
			a = v[i]
		}
		if i < len(o) {
			b = o[i]
		}
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (v FirmwareVersion) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ".")
}

// FirmwareRange is [From, To). A nil bound is open.
type FirmwareRange struct {
	From FirmwareVersion
	To   FirmwareVersion
}

func (r FirmwareRange) Contains(v FirmwareVersion) bool {
	if v == nil {
		return false
	}
	if r.From != nil && v.Compare(r.From) < 0 {
		return false
	}
	if r.To != nil && v.Compare(r.To) >= 0 {
		return false
	}
	return true
}

// DomainStatusQuirk overrides the error kind raised by GetDomainStatus when
// a response has an error status and no domain status element.
type DomainStatusQuirk struct {
	Range FirmwareRange
	Kind  ErrorKind
}

// Quirks holds per-firmware overrides. The zero value applies the default
// mapping everywhere.
type Quirks struct {
	DomainStatus []DomainStatusQuirk
}

// DomainStatusMissingKind is the error kind for an error status without a
// domain status payload. Without a matching override this is an execution
// error, the same as any other error status.
func (q *Quirks) DomainStatusMissingKind(fw FirmwareVersion) ErrorKind {
	if q != nil {
		for _, o := range q.DomainStatus {
			if o.Range.Contains(fw) {
				return o.Kind
			}
		}
	}
	return KindExecution
}
