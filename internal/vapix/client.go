package vapix

import (
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/muurk/camstage/internal/device"
	"github.com/muurk/camstage/internal/logging"
	"github.com/muurk/camstage/internal/version"
)

const (
	// DefaultTimeout bounds a single HTTP round trip when the caller's
	// context carries no deadline.
	DefaultTimeout = 10 * time.Second

	// maxBodySize caps how much of a response is read.
	maxBodySize = 1 << 20
)

// Client talks to Axis cameras over VAPIX. It is safe for concurrent use
// across devices: credentials travel with each call, never on the Client.
type Client struct {
	// Scheme is "http" or "https".
	Scheme string

	// Port overrides the scheme's default port when non-zero.
	Port int

	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client
}

var _ device.Client = (*Client)(nil)
var _ device.LegacyNetworkSetter = (*Client)(nil)
var _ device.ONVIFUserCreator = (*Client)(nil)

// NewClient creates a VAPIX client. Factory-default cameras serve
// self-signed certificates, so insecureTLS is usually required with https.
func NewClient(scheme string, insecureTLS bool) *Client {
	if scheme == "" {
		scheme = "http"
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // factory self-signed certificates
	}
	return &Client{
		Scheme: scheme,
		HTTPClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
	}
}

// SetTimeout sets the HTTP request timeout
func (c *Client) SetTimeout(timeout time.Duration) {
	c.HTTPClient.Timeout = timeout
}

func (c *Client) port() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.Scheme == "https" {
		return 443
	}
	return 80
}

func (c *Client) hostPort(addr netip.Addr) string {
	return net.JoinHostPort(addr.String(), strconv.Itoa(c.port()))
}

func (c *Client) endpoint(addr netip.Addr, path string, query url.Values) string {
	u := url.URL{
		Scheme: c.Scheme,
		Host:   c.hostPort(addr),
		Path:   path,
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// response is a fully read HTTP response.
type response struct {
	status int
	body   []byte
}

func (r *response) text() string {
	return strings.TrimSpace(string(r.body))
}

// request describes one call. A nil creds means an unauthenticated call.
type request struct {
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string
	creds       *device.Credentials
}

// do performs req against addr, answering a Digest or Basic challenge once
// when credentials are supplied. Only transport failures are returned as
// errors; HTTP status handling is left to the caller.
func (c *Client) do(ctx context.Context, addr netip.Addr, req request) (*response, error) {
	target := c.endpoint(addr, req.path, req.query)

	resp, err := c.roundTrip(ctx, req, target, "")
	if err != nil {
		return nil, device.NewNetworkError(req.method+" "+req.path, addr.String(), err)
	}

	if resp.status == http.StatusUnauthorized && req.creds != nil {
		authz, err := authorization(resp.challenges, req.method, requestURI(target), *req.creds)
		if err != nil {
			return nil, device.NewParseError("unsupported authentication challenge", err)
		}
		resp, err = c.roundTrip(ctx, req, target, authz)
		if err != nil {
			return nil, device.NewNetworkError(req.method+" "+req.path, addr.String(), err)
		}
	}

	logging.Debug("VAPIX call",
		zap.String("method", req.method),
		zap.String("url", redact(target)),
		zap.Int("status", resp.status),
		zap.Int("length", len(resp.body)),
	)
	return &response{status: resp.status, body: resp.body}, nil
}

type rawResponse struct {
	status     int
	body       []byte
	challenges []string
}

func (c *Client) roundTrip(ctx context.Context, req request, target, authz string) (*rawResponse, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	if authz != "" {
		httpReq.Header.Set("Authorization", authz)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, err
	}
	return &rawResponse{
		status:     resp.StatusCode,
		body:       data,
		challenges: resp.Header.Values("WWW-Authenticate"),
	}, nil
}

// statusError maps a non-200 status onto the device error taxonomy.
func statusError(resp *response, what string) error {
	switch resp.status {
	case http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		return device.NewAuthError(what + ": credentials rejected")
	default:
		return device.NewHTTPError(resp.status, what+": "+snippet(resp.text()))
	}
}

const snippetLen = 160

// snippet shortens a response body for messages, cutting on a rune
// boundary.
func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= snippetLen {
		return s
	}
	cut := snippetLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func requestURI(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return "/"
	}
	return u.RequestURI()
}

// redact hides password query values from logs.
func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	if q.Has("pwd") {
		q.Set("pwd", "***")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
