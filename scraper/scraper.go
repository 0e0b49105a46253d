package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/aluiziolira/go-scrape-mobiles/config"
	"github.com/aluiziolira/go-scrape-mobiles/models"
	"github.com/gocolly/colly/v2"
)

// Scraper wraps a synchronous colly collector that fetches one page per call.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	Metrics   *Metrics
}

// NewScraper builds a scraper instance configured from cfg.
func NewScraper(cfg *config.Config) (*Scraper, error) {
	parsed, err := url.Parse(cfg.SearchURL)
	if err != nil {
		return nil, fmt.Errorf("parse search url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("search url must include a host")
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	// colly defaults to a 10MB cap and silently truncates past it; a cut-off
	// page would lose trailing matches without any error.
	collector.MaxBodySize = 0
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	return &Scraper{
		cfg:       cfg,
		collector: collector,
		Metrics:   NewMetrics(),
	}, nil
}

// Fetch issues a single GET for target. There is no retry: any network
// failure or non-2xx status is returned as a classified error. colly has no
// per-request context, so a canceled ctx returns immediately and the request
// itself is bounded by the configured timeout.
func (s *Scraper) Fetch(ctx context.Context, target string) (*models.Page, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Clones share the transport and settings but start with no callbacks.
	c := s.collector.Clone()

	var (
		page     *models.Page
		fetchErr error
		start    time.Time
	)

	c.OnRequest(func(r *colly.Request) {
		start = time.Now()
		s.Metrics.IncRequest("started")
		slog.Debug("fetching page", slog.String("url", r.URL.String()))
	})

	c.OnResponse(func(r *colly.Response) {
		s.Metrics.ObserveDuration(time.Since(start))
		s.Metrics.IncRequest("completed")
		contentType := ""
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
		page = &models.Page{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Body:        r.Body,
		}
	})

	c.OnError(func(r *colly.Response, err error) {
		statusCode := 0
		if r != nil {
			statusCode = r.StatusCode
		}
		fetchErr = classifyError(err, statusCode)
		category := errorTypeLabel(fetchErr)
		s.Metrics.IncError(category)
		slog.Error("request error",
			slog.String("url", target),
			slog.Int("status", statusCode),
			slog.String("category", category),
			slog.Any("error", err),
		)
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(target)
	}()

	var visitErr error
	select {
	case <-ctx.Done():
		slog.Warn("fetch abandoned", slog.String("url", target), slog.Any("error", ctx.Err()))
		return nil, ctx.Err()
	case visitErr = <-done:
	}
	if fetchErr != nil {
		return nil, fetchErr
	}
	if visitErr != nil {
		classified := classifyError(visitErr, 0)
		s.Metrics.IncError(errorTypeLabel(classified))
		return nil, fmt.Errorf("visit %s: %w", target, classified)
	}
	if page == nil {
		return nil, fmt.Errorf("visit %s: no response received", target)
	}

	slog.Info("page fetched",
		slog.String("url", page.URL),
		slog.Int("status", page.StatusCode),
		slog.Int("bytes", len(page.Body)),
	)
	return page, nil
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		}
		if statusCode < 200 || statusCode >= 300 {
			return ErrHTTPStatus{StatusCode: statusCode, Err: wrapped}
		}
	}

	return err
}
