package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/net/html/charset"
)

// ErrEmptyPage 页面可以访问但没有任何可见文本。
var ErrEmptyPage = errors.New("page has no text")

// maxPageBytes caps what is read from the source.
const maxPageBytes = 4 << 20

// PageClient 抓取换汇网站页面并返回可见文本；HTTPClient 可注入 httptest。
type PageClient struct {
	URL       string
	Proxy     string // 非空时请求 Proxy + url.QueryEscape(URL)
	UserAgent string

	HTTPClient *http.Client
	Limiter    RateLimiter
	Retries    int
	MinBackoff time.Duration
	MaxBackoff time.Duration

	// OnAttemptError 每次失败尝试后回调（日志/指标）。
	OnAttemptError func(attempt int, err error)
}

// NewDefaultHTTPClient returns a client with the given overall timeout.
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// statusError carries a non-2xx response code.
type statusError struct {
	code int
}

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

// retryable: transport errors and 5xx/429 are retried, other statuses are final.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	return !errors.Is(err, ErrEmptyPage) && !errors.Is(err, context.Canceled)
}

// Target returns the URL actually requested, going through the proxy if set.
func (c *PageClient) Target() string {
	if c.Proxy == "" {
		return c.URL
	}
	return c.Proxy + url.QueryEscape(c.URL)
}

// FetchPageText downloads the page and returns its visible text.
func (c *PageClient) FetchPageText(ctx context.Context) (string, error) {
	if c == nil || c.HTTPClient == nil {
		return "", fmt.Errorf("http client not set")
	}
	if c.URL == "" {
		return "", fmt.Errorf("source url not set")
	}
	b := &backoff.Backoff{
		Min:    c.MinBackoff,
		Max:    c.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	if b.Min <= 0 {
		b.Min = 200 * time.Millisecond
	}
	if b.Max <= 0 {
		b.Max = 5 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= c.Retries+1; attempt++ {
		text, err := c.fetchOnce(ctx)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if c.OnAttemptError != nil {
			c.OnAttemptError(attempt, err)
		}
		if !retryable(err) || attempt > c.Retries {
			break
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("fetch %s: %w", c.URL, ctx.Err())
		case <-time.After(b.Duration()):
		}
	}
	return "", fmt.Errorf("fetch %s: %w", c.URL, lastErr)
}

func (c *PageClient) fetchOnce(ctx context.Context) (string, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Target(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPageBytes))
		return "", &statusError{code: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	body, err := charset.NewReader(io.LimitReader(resp.Body, maxPageBytes), contentType)
	if err != nil {
		return "", fmt.Errorf("decode charset: %w", err)
	}

	var text string
	if contentType == "" || strings.Contains(contentType, "html") {
		text, err = ExtractText(body)
	} else {
		var raw []byte
		raw, err = io.ReadAll(body)
		text = strings.TrimSpace(string(raw))
	}
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	if text == "" {
		return "", ErrEmptyPage
	}
	return text, nil
}
