package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrBodyTooLarge   = errors.New("response body exceeds limit")
	ErrBlockedAddress = errors.New("destination address is not allowed")
)

type Config struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	UserAgent    string

	// BlockPrivateNetworks refuses connections to non-public addresses such
	// as loopback or RFC 1918 ranges. The check runs on the resolved address
	// of every dial, redirects included.
	BlockPrivateNetworks bool
}

type Response struct {
	Body []byte
	// ContentType is the raw Content-Type header; empty when the server
	// did not send one.
	ContentType string
}

type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d fetching %s", e.StatusCode, e.URL)
}

type Client struct {
	httpClient   *http.Client
	maxBodyBytes int64
	userAgent    string
	logger       zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 64 << 20
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "assetflow"
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.BlockPrivateNetworks {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   rejectPrivate,
		}
		transport.Proxy = nil
		transport.DialContext = dialer.DialContext
	}

	return &Client{
		httpClient:   &http.Client{Timeout: timeout, Transport: transport},
		maxBodyBytes: maxBody,
		userAgent:    userAgent,
		logger:       logger,
	}
}

func (c *Client) Fetch(ctx context.Context, url string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("execute request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return Response{}, &StatusError{URL: url, StatusCode: res.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, c.maxBodyBytes+1))
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) > c.maxBodyBytes {
		return Response{}, fmt.Errorf("%w: %d bytes", ErrBodyTooLarge, c.maxBodyBytes)
	}

	contentType := res.Header.Get("Content-Type")
	c.logger.Debug().
		Str("url", url).
		Int("bytes", len(body)).
		Str("content_type", contentType).
		Msg("fetched remote source")

	return Response{Body: body, ContentType: contentType}, nil
}

func rejectPrivate(_, address string, _ syscall.RawConn) error {
	addrPort, err := netip.ParseAddrPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	if !publicAddr(addrPort.Addr()) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, addrPort.Addr())
	}
	return nil
}

func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	switch {
	case !addr.IsValid(),
		addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		addr.IsUnspecified():
		return false
	}
	return !sharedAddressSpace.Contains(addr)
}

// 100.64.0.0/10 carrier-grade NAT, not covered by IsPrivate.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")
