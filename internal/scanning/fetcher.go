package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
)

const maxDocumentSize = 5 << 20

// Document is a retrieved receipt page
type Document struct {
	Body  string
	Route string
}

// DocumentFetcher retrieves the document a locator points at
type DocumentFetcher interface {
	Fetch(ctx context.Context, locator string) (*Document, error)
}

// Fetcher tries the locator directly and then each configured route in
// order, stopping at the first success.
type Fetcher struct {
	client    *http.Client
	routes    []Route
	timeout   time.Duration
	userAgent string
}

// NewFetcher creates a fetcher. A nil client uses http.DefaultClient.
func NewFetcher(client *http.Client, cfg Config) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		client:    client,
		routes:    append([]Route{directRoute}, cfg.Routes...),
		timeout:   timeout,
		userAgent: cfg.UserAgent,
	}
}

// Fetch retrieves the document. When every route fails the error is a
// *RetrievalError listing each attempt. Cancellation of ctx is returned as
// the context's error.
func (f *Fetcher) Fetch(ctx context.Context, locator string) (*Document, error) {
	rerr := &RetrievalError{Locator: locator}

	lower := strings.ToLower(strings.TrimSpace(locator))
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		rerr.Attempts = append(rerr.Attempts, Attempt{Route: directRoute.Name, Reason: "locator is not an http(s) URL"})
		return nil, rerr
	}
	locator = strings.TrimSpace(locator)

	for _, route := range f.routes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := f.attempt(ctx, route, locator)
		if err == nil {
			slog.Debug("Document retrieved", "route", route.Name, "bytes", len(body))
			return &Document{Body: body, Route: route.Name}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		slog.Debug("Retrieval route failed", "route", route.Name, "error", err)
		rerr.Attempts = append(rerr.Attempts, Attempt{Route: route.Name, Reason: err.Error()})
	}

	return nil, rerr
}

func (f *Fetcher) attempt(ctx context.Context, route Route, locator string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, route.Expand(locator), nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxDocumentSize), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("detecting charset: %w", err)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("reading body: %w", err)
	}

	body := string(data)
	if route.Format == FormatJSON {
		body, err = unwrapJSON(data, route.Field)
		if err != nil {
			return "", err
		}
	}

	if strings.TrimSpace(body) == "" {
		return "", errors.New("empty document")
	}
	return body, nil
}

// relayStatus is the upstream status some relays report next to the page
type relayStatus struct {
	HTTPCode int `json:"http_code"`
}

func unwrapJSON(data []byte, field string) (string, error) {
	if field == "" {
		field = DefaultJSONField
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", fmt.Errorf("decoding relay response: %w", err)
	}

	if raw, ok := envelope["status"]; ok {
		var status relayStatus
		if json.Unmarshal(raw, &status) == nil && status.HTTPCode != 0 && (status.HTTPCode < 200 || status.HTTPCode > 299) {
			return "", fmt.Errorf("relay reported upstream status %d", status.HTTPCode)
		}
	}

	raw, ok := envelope[field]
	if !ok {
		return "", fmt.Errorf("relay response has no %q field", field)
	}
	var body string
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", fmt.Errorf("relay field %q is not a string: %w", field, err)
	}
	return body, nil
}
