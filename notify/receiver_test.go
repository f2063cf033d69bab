package notify

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudflare/cfamp/amp"
	"github.com/cloudflare/cfamp/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	mu  sync.Mutex
	got []amp.Notification
}

func (q *recordingQueue) Enqueue(n amp.Notification) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.got = append(q.got, n)
	return nil
}

func (q *recordingQueue) received() []amp.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]amp.Notification(nil), q.got...)
}

// gatedQueue holds every Enqueue until gate is closed.
type gatedQueue struct {
	recordingQueue
	gate chan struct{}
}

func (q *gatedQueue) Enqueue(n amp.Notification) error {
	<-q.gate
	return q.recordingQueue.Enqueue(n)
}

type staticRegistry struct {
	queues map[string]Queue
	err    error
}

func (r *staticRegistry) OwnerOf(serial string) (Queue, bool, error) {
	if r.err != nil {
		return nil, false, r.err
	}
	q, ok := r.queues[serial]
	if !ok {
		return nil, false, nil
	}
	return q, true, nil
}

func event(serial string, seq int) string {
	return fmt.Sprintf(`<?xml version="1.0"?><Notification><SerialNumber>%s</SerialNumber>`+
		`<Topic>Configuration</Topic><Sequence>%d</Sequence><Domain>default</Domain></Notification>`, serial, seq)
}

func post(body string) string {
	return fmt.Sprintf("POST / HTTP/1.0\r\nContent-Type: text/xml\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}

func startReceiver(t *testing.T, opts Options, reg Registry) *Receiver {
	t.Helper()
	if opts.Address == "" {
		opts.Address = "127.0.0.1:0"
	}
	r, err := New(opts, reg)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	return r
}

// send writes raw and returns the status line of the answer.
func send(t *testing.T, addr net.Addr, raw string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err = io.WriteString(conn, raw)
	require.NoError(t, err)

	answer, err := io.ReadAll(conn)
	require.NoError(t, err)
	line, _, _ := strings.Cut(string(answer), "\r\n")
	return line
}

func TestReceiverQueuesEvent(t *testing.T) {
	q := &recordingQueue{}
	r := startReceiver(t, Options{}, &staticRegistry{queues: map[string]Queue{"SN1": q}})

	assert.Equal(t, "HTTP/1.0 200 OK", send(t, r.Addr(), post(event("SN1", 7))))
	require.Eventually(t, func() bool { return len(q.received()) == 1 }, 2*time.Second, 10*time.Millisecond)

	n := q.received()[0]
	assert.Equal(t, "SN1", n.SerialNumber)
	assert.Equal(t, amp.TopicConfiguration, n.Topic)
	assert.Equal(t, int64(7), n.Sequence)
	assert.Equal(t, "default", n.Domain)
	assert.Equal(t, event("SN1", 7), string(n.Payload))
	assert.NotEmpty(t, n.RemoteAddr)
}

func TestReceiverRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "method", raw: strings.Replace(post(event("SN1", 1)), "POST", "PUT", 1)},
		{name: "content type", raw: strings.Replace(post(event("SN1", 1)), "text/xml", "text/plain", 1)},
		{name: "no length", raw: "POST / HTTP/1.0\r\nContent-Type: text/xml\r\n\r\n"},
		{name: "bad length", raw: "POST / HTTP/1.0\r\nContent-Type: text/xml\r\nContent-Length: ten\r\n\r\n"},
		{name: "too large", raw: post(event("SN1", 1) + strings.Repeat(" ", 2048))},
		{name: "request line", raw: "HELLO\r\n\r\n"},
		{name: "not xml", raw: post("this is not xml")},
		{name: "no serial", raw: post("<Notification><Topic>firmware</Topic></Notification>")},
		{name: "truncated body", raw: strings.TrimSuffix(post(event("SN1", 1)), "</Notification>")},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			q := &recordingQueue{}
			r := startReceiver(t, Options{MaxBodyBytes: 1024, ReadTimeout: time.Second},
				&staticRegistry{queues: map[string]Queue{"SN1": q}})
			raw := test.raw
			if test.name == "truncated body" {
				// Half close so the receiver sees the short body.
				conn, err := net.Dial("tcp", r.Addr().String())
				require.NoError(t, err)
				defer conn.Close()
				io.WriteString(conn, raw)
				conn.(*net.TCPConn).CloseWrite()
				answer, _ := io.ReadAll(conn)
				assert.True(t, strings.HasPrefix(string(answer), "HTTP/1.0 400 "), string(answer))
			} else {
				assert.Equal(t, "HTTP/1.0 400 Bad Request", send(t, r.Addr(), raw))
			}
			time.Sleep(20 * time.Millisecond)
			assert.Empty(t, q.received())
		})
	}
}

func TestReceiverAcknowledgesWithoutOwner(t *testing.T) {
	r := startReceiver(t, Options{}, &staticRegistry{})
	assert.Equal(t, "HTTP/1.0 200 OK", send(t, r.Addr(), post(event("UNKNOWN", 1))))

	failing := startReceiver(t, Options{}, &staticRegistry{err: errors.New("registry down")})
	assert.Equal(t, "HTTP/1.0 200 OK", send(t, failing.Addr(), post(event("SN1", 1))))
}

func TestReceiverDeniesOutsideNetworks(t *testing.T) {
	q := &recordingQueue{}
	r := startReceiver(t, Options{AllowedNetworks: []string{"10.0.0.0/8", "fd00::/8"}},
		&staticRegistry{queues: map[string]Queue{"SN1": q}})

	conn, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	io.WriteString(conn, post(event("SN1", 1)))
	answer, _ := io.ReadAll(conn)
	assert.Empty(t, answer)
	assert.Empty(t, q.received())

	allowed := startReceiver(t, Options{AllowedNetworks: []string{"127.0.0.1"}},
		&staticRegistry{queues: map[string]Queue{"SN1": q}})
	assert.Equal(t, "HTTP/1.0 200 OK", send(t, allowed.Addr(), post(event("SN1", 1))))
}

func TestReceiverArrivalOrder(t *testing.T) {
	q := &recordingQueue{}
	r := startReceiver(t, Options{}, &staticRegistry{queues: map[string]Queue{"SN1": q}})

	// A connection slow to send its request does not hold up events
	// received in full before it.
	slow, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	defer slow.Close()
	time.Sleep(20 * time.Millisecond)

	for i := 1; i <= 3; i++ {
		assert.Equal(t, "HTTP/1.0 200 OK", send(t, r.Addr(), post(event("SN1", i))))
	}
	require.Eventually(t, func() bool { return len(q.received()) == 3 }, 2*time.Second, 10*time.Millisecond)

	slow.SetDeadline(time.Now().Add(5 * time.Second))
	_, err = io.WriteString(slow, post(event("SN1", 4)))
	require.NoError(t, err)
	status, err := bufio.NewReader(slow).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.0 200 OK\r\n", status)

	require.Eventually(t, func() bool { return len(q.received()) == 4 }, 2*time.Second, 10*time.Millisecond)
	for i, got := range q.received() {
		assert.Equal(t, int64(i+1), got.Sequence)
	}
}

func TestReceiverOrdersPerOwner(t *testing.T) {
	a := &gatedQueue{gate: make(chan struct{})}
	b := &recordingQueue{}
	r := startReceiver(t, Options{}, &staticRegistry{queues: map[string]Queue{"SNA": a, "SNB": b}})

	assert.Equal(t, "HTTP/1.0 200 OK", send(t, r.Addr(), post(event("SNA", 1))))
	assert.Equal(t, "HTTP/1.0 200 OK", send(t, r.Addr(), post(event("SNA", 2))))
	assert.Equal(t, "HTTP/1.0 200 OK", send(t, r.Addr(), post(event("SNB", 1))))

	// Group a is stuck in Enqueue; group b still gets its event.
	require.Eventually(t, func() bool { return len(b.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, a.received())

	close(a.gate)
	require.Eventually(t, func() bool { return len(a.received()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := a.received()
	assert.Equal(t, int64(1), got[0].Sequence)
	assert.Equal(t, int64(2), got[1].Sequence)
}

func TestReceiverTLS(t *testing.T) {
	q := &recordingQueue{}
	r := startReceiver(t, Options{Trust: trust.NewBuilder(trust.Options{}), AdvertiseHost: "manager.example"},
		&staticRegistry{queues: map[string]Queue{"SN1": q}})
	assert.True(t, strings.HasPrefix(r.CallbackURL(), "https://manager.example:"), r.CallbackURL())

	conn, err := tls.Dial("tcp", r.Addr().String(), &tls.Config{InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	_, err = io.WriteString(conn, post(event("SN1", 3)))
	require.NoError(t, err)
	status, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.0 200 OK\r\n", status)
	require.Eventually(t, func() bool { return len(q.received()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestReceiverStopClosesIdleConnections(t *testing.T) {
	r, err := New(Options{Address: "127.0.0.1:0", ShutdownGrace: 100 * time.Millisecond}, &staticRegistry{})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	assert.Equal(t, "http://"+r.Addr().String()+"/", r.CallbackURL())

	conn, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	_, err = net.Dial("tcp", r.Addr().String())
	assert.Error(t, err)
	// Idempotent.
	r.Stop()
}

func TestReceiverStopsWithContext(t *testing.T) {
	r, err := New(Options{Address: "127.0.0.1:0"}, &staticRegistry{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	cancel()
	require.Eventually(t, func() bool {
		_, err := net.Dial("tcp", r.Addr().String())
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReceiverStopAbandonsBlockedQueue(t *testing.T) {
	blocked := &gatedQueue{gate: make(chan struct{})}
	defer close(blocked.gate)

	r, err := New(Options{Address: "127.0.0.1:0", ShutdownGrace: 100 * time.Millisecond},
		&staticRegistry{queues: map[string]Queue{"SN1": blocked}})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	// The first event sticks in Enqueue, the second waits behind it.
	assert.Equal(t, "HTTP/1.0 200 OK", send(t, r.Addr(), post(event("SN1", 1))))
	assert.Equal(t, "HTTP/1.0 200 OK", send(t, r.Addr(), post(event("SN1", 2))))
	time.Sleep(20 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		r.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop blocked by a queue that never returns")
	}
	assert.Empty(t, blocked.received())
}

func TestReceiverCallbackURLNeedsHost(t *testing.T) {
	r := startReceiver(t, Options{Address: ":0"}, &staticRegistry{})
	assert.NotNil(t, r.Addr())
	assert.Empty(t, r.CallbackURL())

	advertised := startReceiver(t, Options{Address: ":0", AdvertiseHost: "manager.example"}, &staticRegistry{})
	assert.True(t, strings.HasPrefix(advertised.CallbackURL(), "http://manager.example:"), advertised.CallbackURL())

	idle, err := New(Options{Address: "127.0.0.1:0"}, &staticRegistry{})
	require.NoError(t, err)
	assert.Empty(t, idle.CallbackURL())
}
