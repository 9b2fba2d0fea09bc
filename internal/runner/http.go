package runner

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/shyim/sitespeed-compare/internal/models"
)

// HTTPRunner measures a plain document fetch without a browser. It reports
// the network-level metrics only: TTFB, response and total load time, and
// body sizes.
type HTTPRunner struct {
	Label     string
	UserAgent string
	client    *http.Client
}

func NewHTTPRunner(label, userAgent string) *HTTPRunner {
	transport := &http.Transport{
		Proxy:              http.ProxyFromEnvironment,
		DisableKeepAlives:  true,
		DisableCompression: true,
		TLSClientConfig:    &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &HTTPRunner{
		Label:     label,
		UserAgent: userAgent,
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
		},
	}
}

func (r *HTTPRunner) Name() string { return r.Label }

func (r *HTTPRunner) Run(ctx context.Context, url string) (models.TrialOutcome, error) {
	var start, firstByte, wroteRequest time.Time
	trace := &httptrace.ClientTrace{
		WroteRequest:         func(httptrace.WroteRequestInfo) { wroteRequest = time.Now() },
		GotFirstResponseByte: func() { firstByte = time.Now() },
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidTarget, err)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}

	start = time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(ctx, err)
	}
	defer resp.Body.Close()

	headersAt := time.Now()
	counter := &countingReader{r: resp.Body}
	var body io.Reader = counter
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(counter)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrNavigation, err)
		}
		defer gz.Close()
		body = gz
	}
	decoded, err := io.Copy(io.Discard, body)
	if err != nil {
		return nil, classifyHTTPError(ctx, err)
	}
	done := time.Now()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: unexpected status %d", models.ErrNavigation, resp.StatusCode)
	}

	if firstByte.IsZero() {
		firstByte = headersAt
	}
	out := models.TrialOutcome{
		models.TimeToFirstByte: firstByte.Sub(start).Seconds(),
		models.ResponseTime:    done.Sub(start).Seconds(),
		models.LoadComplete:    done.Sub(start).Seconds(),
		models.EncodedBodySize: float64(counter.n),
		models.DecodedBodySize: float64(decoded),
		models.TransferSize:    float64(counter.n + headerSize(resp)),
		models.ResourceCount:   1,
	}
	if !wroteRequest.IsZero() {
		out[models.ServerTime] = firstByte.Sub(wroteRequest).Seconds()
	}
	return out, nil
}

func classifyHTTPError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", models.ErrTrialTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %w", models.ErrTrialTimeout, err)
		}
		return fmt.Errorf("%w: %w", models.ErrNetwork, err)
	}
	return fmt.Errorf("%w: %w", models.ErrNetwork, err)
}

func headerSize(resp *http.Response) int64 {
	var n int64
	for k, vs := range resp.Header {
		for _, v := range vs {
			n += int64(len(k) + len(v) + 4)
		}
	}
	return n
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
