package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/paymo/internal/classifier"
	"github.com/mbd888/paymo/internal/graph"
	"github.com/mbd888/paymo/internal/payment"
	"github.com/mbd888/paymo/internal/policy"
)

// Config holds the configuration for connecting to the paymo API.
type Config struct {
	APIURL  string        // Base URL, e.g. "http://localhost:8080"
	Timeout time.Duration // per-request timeout; zero means 30s
}

// Client is a pure HTTP client for the paymo API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the paymo API.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ClassifyResponse is the body of POST /v1/payments/classify.
type ClassifyResponse struct {
	Result   classifier.Result `json:"result"`
	Verdicts []policy.Verdict  `json:"verdicts"`
}

// DistanceResponse is the body of GET /v1/parties/:a/distance/:b.
type DistanceResponse struct {
	PartyA    string           `json:"partyA"`
	PartyB    string           `json:"partyB"`
	Bound     int              `json:"bound"`
	Distance  graph.Distance   `json:"distance"`
	Reachable bool             `json:"reachable"`
	Verdicts  []policy.Verdict `json:"verdicts"`
}

// EdgeHistoryResponse is the body of GET /v1/parties/:a/edges/:b.
type EdgeHistoryResponse struct {
	PartyA string          `json:"partyA"`
	PartyB string          `json:"partyB"`
	Events []payment.Event `json:"events"`
	Count  int             `json:"count"`
}

// NeighborsResponse is the body of GET /v1/parties/:a/neighbors.
type NeighborsResponse struct {
	Party     string   `json:"party"`
	Neighbors []string `json:"neighbors"`
	Count     int      `json:"count"`
}

// VerdictPage is the body of GET /v1/parties/:a/verdicts.
type VerdictPage struct {
	Party      string               `json:"party"`
	Verdicts   []*classifier.Result `json:"verdicts"`
	Count      int                  `json:"count"`
	NextCursor string               `json:"nextCursor"`
	HasMore    bool                 `json:"hasMore"`
}

// PolicyResponse is the body of GET /v1/policy.
type PolicyResponse struct {
	Tiers            []policy.Tier `json:"tiers"`
	MaxBound         int           `json:"maxBound"`
	DuplicateFeature string        `json:"duplicateFeature"`
}

// doRequest makes an HTTP request to the API and decodes the JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func partyPath(a string, rest ...string) string {
	p := "/v1/parties/" + url.PathEscape(a)
	for _, r := range rest {
		p += "/" + url.PathEscape(r)
	}
	return p
}

// Classify submits one streamed payment for classification.
func (c *Client) Classify(ctx context.Context, ev payment.Event) (*ClassifyResponse, error) {
	var out ClassifyResponse
	if err := c.doRequest(ctx, http.MethodPost, "/v1/payments/classify", nil, ev, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Distance asks for the proximity of two parties. bound < 0 uses the
// server's largest tier bound; 0 searches without a bound.
func (c *Client) Distance(ctx context.Context, a, b string, bound int) (*DistanceResponse, error) {
	var q url.Values
	if bound >= 0 {
		q = url.Values{"bound": {strconv.Itoa(bound)}}
	}
	var out DistanceResponse
	if err := c.doRequest(ctx, http.MethodGet, partyPath(a, "distance", b), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EdgeHistory returns every payment recorded between a and b.
func (c *Client) EdgeHistory(ctx context.Context, a, b string) (*EdgeHistoryResponse, error) {
	var out EdgeHistoryResponse
	if err := c.doRequest(ctx, http.MethodGet, partyPath(a, "edges", b), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Neighbors returns the direct counterparties of party.
func (c *Client) Neighbors(ctx context.Context, party string) (*NeighborsResponse, error) {
	var out NeighborsResponse
	if err := c.doRequest(ctx, http.MethodGet, partyPath(party, "neighbors"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Verdicts lists recorded classifications involving party, newest first.
func (c *Client) Verdicts(ctx context.Context, party string, limit int, cursor string) (*VerdictPage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var out VerdictPage
	if err := c.doRequest(ctx, http.MethodGet, partyPath(party, "verdicts"), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GraphStats returns node, edge and event counts.
func (c *Client) GraphStats(ctx context.Context) (*graph.Stats, error) {
	var out graph.Stats
	if err := c.doRequest(ctx, http.MethodGet, "/v1/graph/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Policy returns the tier list the server classifies with.
func (c *Client) Policy(ctx context.Context) (*PolicyResponse, error) {
	var out PolicyResponse
	if err := c.doRequest(ctx, http.MethodGet, "/v1/policy", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
