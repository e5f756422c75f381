package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// Timeouts used by the two call paths.
const (
	// ProbeTimeout bounds a single detection probe end to end.
	ProbeTimeout = 30 * time.Second
	// ForwardIdleTimeout aborts a proxied call after this much read silence.
	ForwardIdleTimeout = 10 * time.Minute

	dialTimeout         = 15 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
)

// Error kinds surfaced by the transport.
const (
	KindTimeout   = "timeout"
	KindCancelled = "cancelled"
	KindConnect   = "connect-error"
	KindTLS       = "tls-error"
	KindIO        = "io-error"
)

// Error wraps a transport failure with its classified kind.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps an error from the HTTP client to a transport Error.
// Already-classified errors pass through.
func Classify(ctx context.Context, err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	if ctx != nil && errors.Is(ctx.Err(), context.Canceled) {
		return &Error{Kind: KindCancelled, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}
	var recordErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	var unknownAuthErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &recordErr) || errors.As(err, &certErr) ||
		errors.As(err, &unknownAuthErr) || errors.As(err, &hostnameErr) ||
		strings.Contains(err.Error(), "tls:") {
		return &Error{Kind: KindTLS, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return &Error{Kind: KindConnect, Err: err}
	}
	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "no such host") {
		return &Error{Kind: KindConnect, Err: err}
	}
	return &Error{Kind: KindIO, Err: err}
}

// Request describes one outbound call.
type Request struct {
	Method   string
	URL      string
	Headers  map[string]string
	Body     []byte
	ProxyURL string // Per-call proxy; falls back to the client default.
}

// Client is a proxy-aware HTTP client shared by probing and forwarding.
type Client struct {
	defaultProxy string
}

// NewClient constructs a Client with an optional process-wide proxy URL.
func NewClient(defaultProxy string) *Client {
	return &Client{defaultProxy: strings.TrimSpace(defaultProxy)}
}

// Do performs the request and returns the raw response. The caller owns
// the response body. Cancellation of ctx aborts connect, TLS, and reads.
func (c *Client) Do(ctx context.Context, req Request) (*http.Response, error) {
	proxyURL := strings.TrimSpace(req.ProxyURL)
	if proxyURL == "" {
		proxyURL = c.defaultProxy
	}
	rt, err := buildTransport(proxyURL)
	if err != nil {
		return nil, &Error{Kind: KindConnect, Err: err}
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, &Error{Kind: KindIO, Err: err}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{Transport: rt}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, Classify(ctx, err)
	}
	return resp, nil
}

// buildTransport returns an http.RoundTripper tunneling through the
// given proxy URL. Scheme selects the mode: http(s) uses CONNECT,
// socks5 dials through a SOCKS5 dialer. Empty means direct.
func buildTransport(proxyURL string) (*http.Transport, error) {
	base := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   tlsHandshakeTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		// Each call builds its own transport, so a pooled idle
		// connection would never be picked up again.
		DisableKeepAlives: true,
	}
	if proxyURL == "" {
		return base, nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "http", "https":
		base.Proxy = http.ProxyURL(parsed)
		return base, nil
	case "socks5":
		var auth *xproxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			auth = &xproxy.Auth{User: parsed.User.Username(), Password: password}
		}
		socksDialer, errSocks := xproxy.SOCKS5("tcp", parsed.Host, auth, &net.Dialer{Timeout: dialTimeout})
		if errSocks != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", errSocks)
		}
		base.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := socksDialer.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return socksDialer.Dial(network, addr)
		}
		return base, nil
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
}

// idleBody cancels the request when reads stall longer than the idle
// window. Each successful read rearms the timer.
type idleBody struct {
	io.ReadCloser
	timer *time.Timer
	idle  time.Duration
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err == nil {
		b.timer.Reset(b.idle)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	return b.ReadCloser.Close()
}

// WithIdleTimeout wraps a response body so that cancel fires after idle
// read silence. Used on the forwarding path where no overall deadline
// applies.
func WithIdleTimeout(body io.ReadCloser, idle time.Duration, cancel context.CancelFunc) io.ReadCloser {
	if idle <= 0 {
		return body
	}
	return &idleBody{
		ReadCloser: body,
		timer:      time.AfterFunc(idle, cancel),
		idle:       idle,
	}
}
