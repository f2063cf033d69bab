// Package notify receives events pushed by appliances for the
// subscriptions registered with the command layer. Devices speak a reduced
// HTTP/1.0: a POST with Content-Type and Content-Length, answered with a
// bare 200 or 400.
package notify

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cloudflare/cfamp/amp"
	"github.com/cloudflare/cfamp/trust"
)

const (
	DefaultMaxBodyBytes  = 1 << 20
	DefaultReadTimeout   = 30 * time.Second
	DefaultShutdownGrace = 5 * time.Second

	// abandonAfter bounds the wait for workers once their connections have
	// been force-closed.
	abandonAfter = time.Second
)

// Queue is the ordered event queue of one owning group.
type Queue interface {
	Enqueue(n amp.Notification) error
}

// Registry finds the group owning a device by serial number.
type Registry interface {
	OwnerOf(serial string) (Queue, bool, error)
}

type TrustSource interface {
	Context() (*trust.Context, error)
}

type Options struct {
	// Address to listen on, host:port. Port 0 picks a free port.
	Address string
	// AdvertiseHost is the host put in CallbackURL; the listener's own
	// address is used when empty.
	AdvertiseHost string

	// Trust enables TLS with the trust context's key material.
	Trust TrustSource

	MaxBodyBytes  int64
	ReadTimeout   time.Duration
	ShutdownGrace time.Duration

	// AllowedNetworks restricts which peers may connect. Addresses or
	// CIDRs; empty allows any peer.
	AllowedNetworks []string

	Log amp.Logger
}

type Receiver struct {
	opts     Options
	registry Registry
	allow    *allowlist
	seq      *sequencer

	listener net.Listener
	tls      bool

	conns   map[net.Conn]struct{}
	connsMu sync.Mutex

	running atomic.Bool
	workers atomic.Int64
	stopped chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup
	connWg  sync.WaitGroup
}

func New(opts Options, registry Registry) (*Receiver, error) {
	if registry == nil {
		return nil, errors.New("notification receiver needs a registry")
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.ShutdownGrace <= 0 {
		opts.ShutdownGrace = DefaultShutdownGrace
	}
	allow, err := newAllowlist(opts.AllowedNetworks)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		opts:     opts,
		registry: registry,
		allow:    allow,
		seq:      newSequencer(),
		conns:    make(map[net.Conn]struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Start listens and serves until Stop is called or ctx is done.
func (r *Receiver) Start(ctx context.Context) error {
	if r.running.Load() {
		return fmt.Errorf("notification receiver already running")
	}

	var tlsConf *tls.Config
	if r.opts.Trust != nil {
		tc, err := r.opts.Trust.Context()
		if err != nil {
			return err
		}
		tlsConf, err = tc.ServerTLSConfig()
		if err != nil {
			return err
		}
	}

	listener, err := net.Listen("tcp", r.opts.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	if tlsConf != nil {
		listener = tls.NewListener(listener, tlsConf)
		r.tls = true
	}
	r.listener = listener
	r.running.Store(true)

	if r.opts.Log != nil {
		r.opts.Log.Infof("Receiving notifications on %v (peers: %v)", listener.Addr(), r.allow)
	}

	r.wg.Add(2)
	go r.acceptLoop()
	go func() {
		defer r.wg.Done()
		select {
		case <-ctx.Done():
			go r.Stop()
		case <-r.stopped:
		}
	}()
	return nil
}

// Stop closes the listener, gives connections in flight the grace period
// to finish and then closes them. Workers still stuck in a registry or queue
// call shortly after that are abandoned.
func (r *Receiver) Stop() {
	r.stop.Do(func() {
		r.running.Store(false)
		close(r.stopped)
		if r.listener != nil {
			r.listener.Close()
		}
		// No connection is added once the accept loop is gone.
		r.wg.Wait()

		done := make(chan struct{})
		go func() {
			r.connWg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(r.opts.ShutdownGrace):
			r.connsMu.Lock()
			n := len(r.conns)
			for conn := range r.conns {
				conn.Close()
			}
			r.connsMu.Unlock()
			r.seq.abort()
			if r.opts.Log != nil {
				r.opts.Log.Warnf("Closed %d notification connections still open after %v", n, r.opts.ShutdownGrace)
			}
			select {
			case <-done:
			case <-time.After(abandonAfter):
				if r.opts.Log != nil {
					r.opts.Log.Errorf("Abandoned %d notification workers still busy after shutdown", r.workers.Load())
				}
			}
		}
	})
}

func (r *Receiver) Addr() net.Addr {
	if r.listener != nil {
		return r.listener.Addr()
	}
	return nil
}

// CallbackURL is the URL advertised to devices when subscribing. It is empty
// when the receiver is not listening, or listens on an unspecified address
// and has no AdvertiseHost.
func (r *Receiver) CallbackURL() string {
	addr := r.Addr()
	if addr == nil {
		return ""
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	if r.opts.AdvertiseHost != "" {
		host = r.opts.AdvertiseHost
	} else if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		return ""
	}
	scheme := "http"
	if r.tls {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/", scheme, net.JoinHostPort(host, port))
}

func (r *Receiver) acceptLoop() {
	defer r.wg.Done()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if !r.running.Load() {
				return
			}
			if r.opts.Log != nil {
				r.opts.Log.Errorf("Accepting notification connection: %v", err)
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}

		// Denied peers are not answered at all, unlike invalid requests.
		if !r.allow.allows(conn.RemoteAddr()) {
			MetricNotifications.WithLabelValues(outcomeDenied).Inc()
			if r.opts.Log != nil {
				r.opts.Log.Warnf("Refusing notification connection from %v", conn.RemoteAddr())
			}
			conn.Close()
			continue
		}

		r.track(conn, true)
		r.connWg.Add(1)
		r.workers.Add(1)
		go r.handle(conn)
	}
}

func (r *Receiver) track(conn net.Conn, add bool) {
	r.connsMu.Lock()
	defer r.connsMu.Unlock()
	if add {
		r.conns[conn] = struct{}{}
		MetricActiveConnections.Inc()
	} else {
		delete(r.conns, conn)
		MetricActiveConnections.Dec()
	}
}

func (r *Receiver) handle(conn net.Conn) {
	defer r.connWg.Done()
	defer r.workers.Add(-1)
	closed := false
	closeConn := func() {
		if !closed {
			closed = true
			conn.Close()
			r.track(conn, false)
		}
	}
	defer closeConn()

	remote := conn.RemoteAddr().String()
	conn.SetDeadline(time.Now().Add(r.opts.ReadTimeout))

	n, err := r.read(conn)
	var inv *invalidRequest
	switch {
	case errors.As(err, &inv):
		MetricNotifications.WithLabelValues(outcomeRejected).Inc()
		if r.opts.Log != nil {
			r.opts.Log.Warnf("Notification from %v rejected: %v", remote, err)
		}
		if werr := writeStatus(conn, 400); werr != nil && r.opts.Log != nil {
			r.opts.Log.Debugf("Answering %v: %v", remote, werr)
		}
		return
	case err != nil:
		// Usually the peer is gone; the answer is best effort.
		MetricNotifications.WithLabelValues(outcomeFailed).Inc()
		if r.opts.Log != nil {
			r.opts.Log.Warnf("Reading notification from %v: %v", remote, err)
		}
		writeStatus(conn, 400)
		return
	}

	// Taken before the 200 so the device's next event orders after this one.
	t := r.seq.take()
	defer t.release()

	MetricNotifications.WithLabelValues(outcomeAccepted).Inc()
	if werr := writeStatus(conn, 200); werr != nil && r.opts.Log != nil {
		r.opts.Log.Debugf("Answering %v: %v", remote, werr)
	}
	closeConn()

	n.RemoteAddr = remote
	r.deliver(n, t)
}

// read consumes one request. The body is drained even when the request is
// invalid, as long as its length is known.
func (r *Receiver) read(conn net.Conn) (amp.Notification, error) {
	br := bufio.NewReader(conn)
	req, err := readHead(br, r.opts.MaxBodyBytes)
	var inv *invalidRequest
	if err != nil && !errors.As(err, &inv) {
		return amp.Notification{}, err
	}
	if err != nil {
		if req != nil && req.hasLength {
			if _, derr := io.CopyN(io.Discard, br, req.ContentLength); derr != nil {
				return amp.Notification{}, derr
			}
		}
		return amp.Notification{}, err
	}

	body := make([]byte, req.ContentLength)
	if _, err := io.ReadFull(br, body); err != nil {
		return amp.Notification{}, err
	}
	return parseNotification(body)
}

func (r *Receiver) deliver(n amp.Notification, t *ticket) {
	q, ok, err := r.registry.OwnerOf(n.SerialNumber)
	switch {
	case err != nil:
		MetricNotifications.WithLabelValues(outcomeDropped).Inc()
		if r.opts.Log != nil {
			r.opts.Log.Errorf("Looking up owner of %s: %v; dropping %s event %d", n.SerialNumber, err, n.Topic, n.Sequence)
		}
		return
	case !ok:
		MetricNotifications.WithLabelValues(outcomeDropped).Inc()
		if r.opts.Log != nil {
			r.opts.Log.Warnf("No owner for device %s; dropping %s event %d", n.SerialNumber, n.Topic, n.Sequence)
		}
		return
	}
	t.bind(q)
	if !t.wait() {
		MetricNotifications.WithLabelValues(outcomeDropped).Inc()
		if r.opts.Log != nil {
			r.opts.Log.Errorf("Receiver stopped; dropping %s event %d of %s", n.Topic, n.Sequence, n.SerialNumber)
		}
		return
	}
	if err := q.Enqueue(n); err != nil {
		MetricNotifications.WithLabelValues(outcomeFailed).Inc()
		if r.opts.Log != nil {
			r.opts.Log.Errorf("Queueing %s event %d of %s: %v", n.Topic, n.Sequence, n.SerialNumber, err)
		}
		return
	}
	MetricNotifications.WithLabelValues(outcomeQueued).Inc()
}

var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
}

func writeStatus(w io.Writer, code int) error {
	_, err := io.WriteString(w, "HTTP/1.0 "+strconv.Itoa(code)+" "+statusText[code]+
		"\r\nContent-Length: 0\r\nConnection: close\r\n\r\n")
	return err
}
