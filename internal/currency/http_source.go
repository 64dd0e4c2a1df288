package currency

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fleetledger/internal/core"
)

// HTTPSource queries a rate service:
//
//	GET {baseURL}?base=USD&quote=UZS  ->  {"rate": "12800.00"}
//
// The rate may be a JSON number or a string.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewHTTPSource creates a source for baseURL. A nil client gets a pooled
// client with conservative timeouts.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = newHTTPClientWithPooling()
	}
	return &HTTPSource{baseURL: baseURL, client: client, now: time.Now}
}

type rateResponse struct {
	Rate json.RawMessage `json:"rate"`
}

// Rate implements Source.
func (s *HTTPSource) Rate(ctx context.Context, base, quote core.Currency) (core.Rate, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return core.Rate{}, fmt.Errorf("parse rates url: %w", err)
	}
	q := u.Query()
	q.Set("base", string(base))
	q.Set("quote", string(quote))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return core.Rate{}, fmt.Errorf("build rate request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return core.Rate{}, fmt.Errorf("fetch rate %s: %w", core.PairKey(base, quote), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return core.Rate{}, fmt.Errorf("fetch rate %s: unexpected status %d", core.PairKey(base, quote), resp.StatusCode)
	}

	var body rateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err != nil {
		return core.Rate{}, fmt.Errorf("decode rate %s: %w", core.PairKey(base, quote), err)
	}
	raw := strings.Trim(strings.TrimSpace(string(body.Rate)), `"`)
	r, err := core.ParseRate(base, quote, raw)
	if err != nil {
		return core.Rate{}, fmt.Errorf("decode rate %s: %w", core.PairKey(base, quote), err)
	}
	r.AsOf = s.now().UTC()
	r.Source = "live"
	return r, nil
}

func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 15 * time.Second}
}
