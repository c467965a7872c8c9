// Package virustotal implements reputation lookups against the VirusTotal
// v3 API.
package virustotal

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/warden/internal/ioc"
	"github.com/linnemanlabs/warden/internal/triage"
)

const (
	defaultBaseURL = "https://www.virustotal.com/api/v3"
	httpTimeout    = 30 * time.Second
)

// Client looks up indicator reputation on VirusTotal.
//
// A 404 is a valid answer: the indicator is unknown to VirusTotal and counts
// as checked-and-clean. Transport failures and other non-200 statuses are
// returned as errors so the caller can exclude the lookup from its totals.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New creates a new VirusTotal client.
func New(apiKey string) *Client {
	return NewWithBaseURL(apiKey, defaultBaseURL)
}

// NewWithBaseURL creates a client against a non-default API endpoint.
func NewWithBaseURL(apiKey, baseURL string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: httpTimeout},
	}
}

// Lookup implements triage.ReputationClient. Private, loopback and otherwise
// non-routable IPs short-circuit to a clean result without an API call.
func (c *Client) Lookup(ctx context.Context, kind ioc.Kind, value string) (*triage.Reputation, error) {
	var path, permalink string
	switch kind {
	case ioc.KindIP:
		if !ioc.External(value) {
			return &triage.Reputation{}, nil
		}
		path = "/ip_addresses/" + value
		permalink = "https://www.virustotal.com/gui/ip-address/" + value
	case ioc.KindDomain:
		path = "/domains/" + value
		permalink = "https://www.virustotal.com/gui/domain/" + value
	case ioc.KindURL:
		id := base64.RawURLEncoding.EncodeToString([]byte(value))
		path = "/urls/" + id
		permalink = "https://www.virustotal.com/gui/url/" + id
	case ioc.KindHash:
		path = "/files/" + value
		permalink = "https://www.virustotal.com/gui/file/" + value
	default:
		return nil, fmt.Errorf("virustotal: unsupported kind %q", kind)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("virustotal: create request: %w", err)
	}
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("virustotal: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return parseReputation(resp.Body, permalink)
	case http.StatusNotFound:
		// Unknown to VirusTotal: checked, no detections.
		return &triage.Reputation{}, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("virustotal: api error %d: %s", resp.StatusCode, string(body))
	}
}

func parseReputation(r io.Reader, permalink string) (*triage.Reputation, error) {
	var payload struct {
		Data struct {
			Attributes struct {
				LastAnalysisStats map[string]int `json:"last_analysis_stats"`
			} `json:"attributes"`
		} `json:"data"`
	}
	if err := json.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("virustotal: decode response: %w", err)
	}

	stats := payload.Data.Attributes.LastAnalysisStats
	positives := stats["malicious"] + stats["suspicious"]
	total := 0
	for _, n := range stats {
		total += n
	}

	return &triage.Reputation{
		Detected:  positives > 0,
		Positives: positives,
		Total:     total,
		Permalink: permalink,
	}, nil
}
