package amp

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	DefaultPort = 5550

	StatusOK    = "ok"
	StatusError = "error"
)

// DeviceEndpoint addresses one appliance management interface.
type DeviceEndpoint struct {
	Host     string
	Port     int
	Username string
	Password string
}

func (d DeviceEndpoint) Address() string {
	port := d.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(d.Host, strconv.Itoa(port))
}

// String never includes the credentials.
func (d DeviceEndpoint) String() string {
	return d.Address()
}

// StatusIs compares a device status against one of the known constants.
// Devices are inconsistent with case between firmware releases.
func StatusIs(status string, want string) bool {
	return strings.EqualFold(strings.TrimSpace(status), want)
}

type Topic string

const (
	TopicConfiguration Topic = "configuration"
	TopicFirmware      Topic = "firmware"
	TopicOperational   Topic = "operational"
	TopicAll           Topic = "all"
)

var topics = []Topic{TopicConfiguration, TopicFirmware, TopicOperational, TopicAll}

// ParseTopic matches a topic name case-insensitively.
func ParseTopic(name string) (Topic, error) {
	for _, t := range topics {
		if strings.EqualFold(strings.TrimSpace(name), string(t)) {
			return t, nil
		}
	}
	return "", &ValidationError{Field: "topic", Value: name, Reason: "not one of configuration, firmware, operational, all"}
}

// ParseTopics validates every requested topic and keeps the caller's order.
func ParseTopics(names []string) ([]Topic, error) {
	if len(names) == 0 {
		return nil, &ValidationError{Field: "topic", Reason: "at least one topic is required"}
	}
	res := make([]Topic, 0, len(names))
	for _, name := range names {
		t, err := ParseTopic(name)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, nil
}

type SubscriptionStateKind int

const (
	SubscriptionActive SubscriptionStateKind = iota
	SubscriptionNone
	SubscriptionFault
	SubscriptionDuplicate
)

var subscriptionStateNames = map[SubscriptionStateKind]string{
	SubscriptionActive:    "active",
	SubscriptionNone:      "none",
	SubscriptionFault:     "fault",
	SubscriptionDuplicate: "duplicate",
}

func (k SubscriptionStateKind) String() string {
	if name, ok := subscriptionStateNames[k]; ok {
		return name
	}
	return fmt.Sprintf("SubscriptionStateKind(%d)", int(k))
}

// SubscriptionState is the device's view of a subscription. A duplicate
// state always carries the callback URL of the subscription that is
// already registered on the device.
type SubscriptionState struct {
	kind        SubscriptionStateKind
	originalURL string
}

func Active() SubscriptionState { return SubscriptionState{kind: SubscriptionActive} }
func None() SubscriptionState   { return SubscriptionState{kind: SubscriptionNone} }
func Fault() SubscriptionState  { return SubscriptionState{kind: SubscriptionFault} }

func Duplicate(originalURL string) (SubscriptionState, error) {
	if strings.TrimSpace(originalURL) == "" {
		return SubscriptionState{}, fmt.Errorf("duplicate subscription state requires the original callback URL")
	}
	return SubscriptionState{kind: SubscriptionDuplicate, originalURL: originalURL}, nil
}

func (s SubscriptionState) Kind() SubscriptionStateKind { return s.kind }

// OriginalURL is only meaningful for SubscriptionDuplicate.
func (s SubscriptionState) OriginalURL() (string, bool) {
	return s.originalURL, s.kind == SubscriptionDuplicate
}

func (s SubscriptionState) String() string {
	if s.kind == SubscriptionDuplicate {
		return fmt.Sprintf("duplicate(%s)", s.originalURL)
	}
	return s.kind.String()
}

// ParseSubscriptionState maps the wire status. url is only used for duplicates.
func ParseSubscriptionState(status string, url string) (SubscriptionState, bool) {
	for kind, name := range subscriptionStateNames {
		if !StatusIs(status, name) {
			continue
		}
		if kind == SubscriptionDuplicate {
			st, err := Duplicate(url)
			return st, err == nil
		}
		return SubscriptionState{kind: kind}, true
	}
	return SubscriptionState{}, false
}

// Notification is one event pushed by a device to the receiver.
type Notification struct {
	SerialNumber string
	Topic        Topic
	Sequence     int64
	Timestamp    string
	Domain       string
	Payload      []byte

	// RemoteAddr is the peer that delivered the event.
	RemoteAddr string
}
