// Package health checks that the service endpoints named by the
// configuration answer at all. It backs `cmore check` and /healthz.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/snapetech/cmore/internal/config"
	"github.com/snapetech/cmore/internal/httpclient"
)

// DefaultEndpoints are the endpoints every catalog and login flow needs.
var DefaultEndpoints = []string{
	config.EndpointPage,
	config.EndpointSearch,
	config.EndpointLogin,
	config.EndpointOperators,
	config.EndpointGraphQL,
}

// Result is the outcome for one named endpoint.
type Result struct {
	Name  string        `json:"name"`
	URL   string        `json:"url,omitempty"`
	Error string        `json:"error,omitempty"`
	Took  time.Duration `json:"took"`
}

// OK reports whether the endpoint answered.
func (r Result) OK() bool { return r.Error == "" }

// CheckURL issues a GET. The APIs answer 4xx to bare requests, so anything
// below 500 counts as reachable.
func CheckURL(ctx context.Context, client *http.Client, rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("no URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// CheckEndpoints resolves each name through cfg and checks it in order.
// With no names it checks DefaultEndpoints.
func CheckEndpoints(ctx context.Context, cfg config.Provider, names ...string) []Result {
	if len(names) == 0 {
		names = DefaultEndpoints
	}
	client := httpclient.WithTimeout(5 * time.Second)
	out := make([]Result, 0, len(names))
	for _, name := range names {
		res := Result{Name: name}
		u, err := cfg.Endpoint(name)
		if err != nil {
			res.Error = err.Error()
			out = append(out, res)
			continue
		}
		res.URL = u
		start := time.Now()
		if err := CheckURL(ctx, client, u); err != nil {
			res.Error = err.Error()
		}
		res.Took = time.Since(start)
		out = append(out, res)
	}
	return out
}

// FirstError returns the first failed result as an error, or nil.
func FirstError(results []Result) error {
	for _, r := range results {
		if !r.OK() {
			return fmt.Errorf("%s: %s", r.Name, r.Error)
		}
	}
	return nil
}
