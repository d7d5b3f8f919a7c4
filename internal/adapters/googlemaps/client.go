// Package googlemaps adapts the Google Maps Directions and Geocoding web
// services to the DirectionsProvider and Geocoder ports.
package googlemaps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"trip-route-service/internal/platform/logging"
	"trip-route-service/internal/platform/obs"
	"trip-route-service/internal/ports"
)

const DefaultBaseURL = "https://maps.googleapis.com"

type Config struct {
	APIKey  string `koanf:"api_key"`
	BaseURL string `koanf:"base_url"`
	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
	// ReceiveTimeout bounds the wait for response headers.
	ReceiveTimeout time.Duration `koanf:"receive_timeout"`
	// RequestTimeout bounds a single attempt end to end.
	RequestTimeout time.Duration `koanf:"request_timeout"`
	MaxAttempts    int           `koanf:"max_attempts"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`
}

// HTTPDoer is the subset of *http.Client used by the client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the Google Maps web services. It is safe for concurrent use.
type Client struct {
	session     HTTPDoer
	apiKey      string
	baseURL     string
	maxAttempts int
	backoff     time.Duration
	cache       ports.GeocodeCache
	metrics     *obs.Metrics
	log         *zap.Logger
}

// NewClient builds a client. A nil session gets an *http.Client with the
// configured connect and receive timeouts; a nil cache disables reverse
// geocode caching.
func NewClient(
	cfg Config,
	session HTTPDoer,
	cache ports.GeocodeCache,
	metrics *obs.Metrics,
	log *zap.Logger,
) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("google maps api key is empty")
	}
	if session == nil {
		session = newHTTPClient(cfg)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}

	return &Client{
		session:     session,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		maxAttempts: attempts,
		backoff:     backoff,
		cache:       cache,
		metrics:     metrics,
		log:         logging.OrNop(log),
	}, nil
}

func newHTTPClient(cfg Config) *http.Client {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 5 * time.Second
	}
	receive := cfg.ReceiveTimeout
	if receive <= 0 {
		receive = 15 * time.Second
	}
	request := cfg.RequestTimeout
	if request <= 0 {
		request = 30 * time.Second
	}

	dialer := &net.Dialer{Timeout: connect, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: receive,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: request}
}

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("Code %d: %s", e.Code, e.Body)
}

func (c *Client) newRequest(ctx context.Context, path string, query map[string]string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.session.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &httpStatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(b)),
		}
	}
	return resp, nil
}

// doWithRetry retries transient failures (network errors, 429 and 5xx
// responses) using exponential backoff while respecting context cancellation.
func (c *Client) doWithRetry(
	ctx context.Context,
	makeReq func() (*http.Request, error),
) (*http.Response, error) {
	backoff := c.backoff

	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}

		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 429, 500, 502, 503, 504:
				retry = true
			}
		}

		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}

		if !retry || attempt == c.maxAttempts {
			return nil, lastErr
		}

		c.log.Debug("retrying provider request",
			zap.String("req_id", obs.RequestID(ctx)),
			zap.String("path", req.URL.Path),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
	}

	return nil, lastErr
}

// asProviderError classifies a transport failure.
func asProviderError(err error) error {
	var pe *ports.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	var he *httpStatusError
	if errors.As(err, &he) {
		return &ports.ProviderError{Status: fmt.Sprintf("HTTP_%d", he.Code), Message: he.Body, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ports.ProviderError{Status: "TIMEOUT", Err: err}
	}
	return &ports.ProviderError{Status: "TRANSPORT", Err: err}
}
