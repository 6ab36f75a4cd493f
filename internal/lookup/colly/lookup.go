// Package collylookup implements scamcheck.Lookup using gocolly.
package collylookup

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/scamwatch-io/scamwatch/internal/scamcheck"
)

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	SnippetBytes int
}

const (
	defaultTimeout      = 10 * time.Second
	defaultSnippetBytes = 512
)

// Lookup fetches suspicious URLs with a shared Colly collector and returns a
// truncated body snippet as evidence.
type Lookup struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Lookup.
func New(cfg Config) *Lookup {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SnippetBytes <= 0 {
		cfg.SnippetBytes = defaultSnippetBytes
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newHTTPTransport())
	return &Lookup{cfg: cfg, baseCollector: c}
}

// Fetch executes a single HTTP GET and returns the evidence gathered.
func (l *Lookup) Fetch(ctx context.Context, url string) (scamcheck.Evidence, error) {
	var (
		result   scamcheck.Evidence
		fetchErr error
	)
	start := time.Now()

	collector := l.baseCollector.Clone()
	if l.cfg.UserAgent != "" {
		collector.UserAgent = l.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(l.cfg.Timeout)

	collector.OnResponse(func(r *colly.Response) {
		result = scamcheck.Evidence{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Snippet:    snippet(r.Body, l.cfg.SnippetBytes),
			Dur:        time.Since(start),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			result = scamcheck.Evidence{
				URL:        url,
				StatusCode: r.StatusCode,
				Snippet:    snippet(r.Body, l.cfg.SnippetBytes),
				Dur:        time.Since(start),
			}
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return scamcheck.Evidence{}, fmt.Errorf("lookup canceled: %w", ctx.Err())
	case err := <-done:
		// A non-2xx response is still evidence worth keeping; Visit reports
		// those as errors but OnError captured the status and body.
		if result.StatusCode != 0 {
			return result, nil
		}
		if err != nil {
			return scamcheck.Evidence{}, fmt.Errorf("lookup visit %s: %w", url, err)
		}
	}
	if fetchErr != nil {
		return scamcheck.Evidence{}, fmt.Errorf("lookup %s: %w", url, fetchErr)
	}
	return result, nil
}

func snippet(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit])
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
