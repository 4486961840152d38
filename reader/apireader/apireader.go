// Package apireader fetches JSON documents from an HTTP API and publishes
// them through a reader loop.
package apireader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/purposeinplay/go-artifact/reader"
)

// StatusError is returned when the API answers with a status other than 200.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Failed to retrieve data, status code: %d", e.Code)
}

// Config configures an API reader.
type Config struct {
	URL     string
	Method  string
	Params  map[string]string
	Headers map[string]string

	// UpdateURL may rewrite the URL before each request.
	UpdateURL func(ctx context.Context, current string) (string, error)

	// Process transforms the decoded response, identity by default.
	Process reader.Processor[any]

	// Interval between requests. Zero issues a single request.
	Interval time.Duration

	Client *http.Client
	Clock  clock.Clock
}

// Source issues the configured request.
type Source struct {
	cfg Config

	mu  sync.Mutex
	url string
}

// Ensure type apireader.Source implements the reader interfaces.
var (
	_ reader.Source[any] = (*Source)(nil)
	_ reader.Updater     = (*Source)(nil)
)

// NewSource returns a Source for cfg.
func NewSource(cfg Config) *Source {
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}

	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}

	return &Source{cfg: cfg, url: cfg.URL}
}

// URL returns the URL of the next request.
func (s *Source) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.url
}

// UpdateSource runs the configured URL update.
func (s *Source) UpdateSource(ctx context.Context) error {
	if s.cfg.UpdateURL == nil {
		return nil
	}

	next, err := s.cfg.UpdateURL(ctx, s.URL())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.url = next
	s.mu.Unlock()

	return nil
}

// Fetch issues the request and decodes the JSON response.
func (s *Source) Fetch(ctx context.Context) (any, error) {
	u, err := url.Parse(s.URL())
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	if len(s.cfg.Params) > 0 {
		q := u.Query()

		for k, v := range s.cfg.Params {
			q.Set(k, v)
		}

		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, s.cfg.Method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	for k, v := range s.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode}
	}

	var data any

	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return data, nil
}

// New returns a reader loop publishing the API responses. Failed requests
// publish a diagnostic message.
func New(cfg Config) *reader.Loop[any] {
	return reader.New[any](reader.Config[any]{
		Source:       NewSource(cfg),
		Process:      cfg.Process,
		Interval:     cfg.Interval,
		Clock:        cfg.Clock,
		OnFetchError: Diagnostic,
	})
}

// Diagnostic returns the message published for a failed request.
func Diagnostic(err error) []string {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return []string{statusErr.Error()}
	}

	return []string{fmt.Sprintf("Failed to retrieve data: %v", err)}
}
