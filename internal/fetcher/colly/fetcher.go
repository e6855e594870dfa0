// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/regwatch/regwatch/internal/monitor"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements monitor.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request monitor.FetchRequest) (monitor.FetchResponse, error) {
	var (
		result   monitor.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return monitor.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	request monitor.FetchRequest,
	start time.Time,
	result *monitor.FetchResponse,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	f.configureCollectorHooks(collector, request, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request monitor.FetchRequest,
	start time.Time,
	result *monitor.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		applyCredentials(request, r)
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = monitor.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
			Rendered:   false,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func applyCredentials(request monitor.FetchRequest, r *colly.Request) {
	creds := request.Credentials
	if creds == nil {
		return
	}
	if creds.Username != "" || creds.Password != "" {
		token := base64.StdEncoding.EncodeToString([]byte(creds.Username + ":" + creds.Password))
		r.Headers.Set("Authorization", "Basic "+token)
	}
	for key, value := range creds.Headers {
		r.Headers.Set(key, value)
	}
}

func copyHeaders(request monitor.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
