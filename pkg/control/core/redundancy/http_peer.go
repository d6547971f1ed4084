package redundancy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPPeer checks the peer's /health endpoint.
type HTTPPeer struct {
	url    string
	client *http.Client
}

// NewHTTPPeer creates a checker for baseURL (e.g. "http://controller-b:8080").
func NewHTTPPeer(baseURL string, client *http.Client) *HTTPPeer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPPeer{url: strings.TrimRight(baseURL, "/") + "/health", client: client}
}

// Check succeeds on any 2xx response.
func (p *HTTPPeer) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("peer health returned %s", resp.Status)
	}
	return nil
}
