package validator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrPrivateIP        = errors.New("private IP addresses are not allowed")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrConnectionFailed = errors.New("connection failed")
	ErrInvalidFeed      = errors.New("invalid calendar feed")
)

const (
	maxRedirects   = 3
	defaultTimeout = 10 * time.Second
	minTLSVersion  = tls.VersionTLS12
)

// Validator checks platform feed URLs before they are stored, guarding
// against malformed URLs and SSRF targets.
type Validator struct {
	client          *http.Client
	allowPrivateIPs bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithAllowPrivateIPs allows connections to private IP addresses.
// This is useful for Docker internal networking.
func WithAllowPrivateIPs() Option {
	return func(v *Validator) {
		v.allowPrivateIPs = true
	}
}

// New creates a new Validator with the given options.
func New(opts ...Option) *Validator {
	v := &Validator{
		allowPrivateIPs: false,
	}

	for _, opt := range opts {
		opt(v)
	}

	v.client = v.createHTTPClient()
	return v
}

func (v *Validator) createHTTPClient() *http.Client {
	redirectCount := 0

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: minTLSVersion,
		},
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return v.dialWithIPCheck(ctx, network, addr)
		},
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   defaultTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			redirectCount++
			if redirectCount > maxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
}

func (v *Validator) dialWithIPCheck(ctx context.Context, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	// Resolve the hostname to check IP addresses
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("DNS resolution failed: %w", err)
	}

	for _, ip := range ips {
		if !v.allowPrivateIPs && isPrivateIP(ip) {
			return nil, ErrPrivateIP
		}
	}

	dialer := &net.Dialer{
		Timeout:   defaultTimeout,
		KeepAlive: 30 * time.Second,
	}
	return dialer.DialContext(ctx, network, addr)
}

// isPrivateIP checks if an IP address is private or reserved.
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}

	if ip.IsLoopback() {
		return true
	}

	if ip.IsPrivate() {
		return true
	}

	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	// Check for unspecified (0.0.0.0 or ::)
	if ip.IsUnspecified() {
		return true
	}

	return false
}

// ValidateFeedURL validates a calendar feed URL. The webcal scheme some
// platforms hand out is accepted and read as https.
func (v *Validator) ValidateFeedURL(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: parse error: %w", ErrInvalidURL, err)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	switch parsed.Scheme {
	case "http", "https", "webcal":
	default:
		return fmt.Errorf("%w: scheme must be http, https, or webcal", ErrInvalidURL)
	}

	if !v.allowPrivateIPs {
		host := strings.ToLower(parsed.Hostname())
		if host == "localhost" {
			return fmt.Errorf("%w: localhost", ErrPrivateIP)
		}
		if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
			return ErrPrivateIP
		}
	}

	return nil
}

// NormalizeFeedURL rewrites webcal URLs to https for fetching.
func NormalizeFeedURL(rawURL string) string {
	if strings.HasPrefix(rawURL, "webcal://") {
		return "https://" + strings.TrimPrefix(rawURL, "webcal://")
	}
	return rawURL
}

// TestConnection tests if a feed URL is reachable.
func (v *Validator) TestConnection(ctx context.Context, rawURL string) error {
	if err := v.ValidateFeedURL(rawURL); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, NormalizeFeedURL(rawURL), nil)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %w", ErrConnectionFailed, err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: HEAD returned status %d", ErrInvalidFeed, resp.StatusCode)
	}

	return nil
}
