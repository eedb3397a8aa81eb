// Package fhirclient fetches resources from external FHIR R4 endpoints. It
// implements the engine.Fetcher contract over the standard search API and
// follows bundle pagination links.
package fhirclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ehrsync/internal/domain/connection"
	"github.com/ehr/ehrsync/internal/domain/resource"
	"github.com/ehr/ehrsync/internal/platform/engine"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultPageSize = 100
	// maxPages caps pagination so a misbehaving server cannot pin a job.
	maxPages = 1000
)

// Client is an engine.Fetcher over FHIR REST search.
type Client struct {
	httpClient *http.Client
	pageSize   int
	log        zerolog.Logger
}

// New creates a FHIR search client.
func New(log zerolog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		pageSize:   defaultPageSize,
		log:        log.With().Str("component", "fhir-client").Logger(),
	}
}

type bundle struct {
	ResourceType string `json:"resourceType"`
	Entry        []struct {
		Resource json.RawMessage `json:"resource"`
	} `json:"entry"`
	Link []struct {
		Relation string `json:"relation"`
		URL      string `json:"url"`
	} `json:"link"`
}

// FetchResources runs a search against the connection's FHIR base URL and
// returns every matching resource payload across all result pages.
func (c *Client) FetchResources(ctx context.Context, conn *connection.Connection, resourceType string, filters engine.FetchFilters) ([]resource.Payload, error) {
	searchURL, err := c.searchURL(conn.BaseURL, resourceType, filters)
	if err != nil {
		return nil, engine.Permanent(fmt.Errorf("build search url: %w", err))
	}

	var payloads []resource.Payload
	next := searchURL
	for page := 0; next != "" && page < maxPages; page++ {
		b, err := c.fetchBundle(ctx, next)
		if err != nil {
			return nil, err
		}
		for _, entry := range b.Entry {
			p, err := resource.DecodePayload(entry.Resource)
			if err != nil {
				c.log.Warn().Err(err).Str("resource_type", resourceType).Msg("Skipping undecodable bundle entry")
				continue
			}
			payloads = append(payloads, p)
		}
		next = nextLink(b)
	}
	return payloads, nil
}

func (c *Client) searchURL(baseURL, resourceType string, filters engine.FetchFilters) (string, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return "", err
	}
	base.Path = base.Path + "/" + resourceType

	q := url.Values{}
	q.Set("_count", fmt.Sprintf("%d", c.pageSize))
	if len(filters.ResourceIDs) > 0 {
		q.Set("_id", strings.Join(filters.ResourceIDs, ","))
	}
	if filters.DateFrom != "" {
		q.Add("_lastUpdated", "ge"+filters.DateFrom)
	}
	if filters.DateTo != "" {
		q.Add("_lastUpdated", "le"+filters.DateTo)
	}
	if len(filters.PatientIDs) > 0 && resourceType != "Patient" {
		q.Set("patient", strings.Join(filters.PatientIDs, ","))
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (c *Client) fetchBundle(ctx context.Context, rawURL string) (*bundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, engine.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/fhir+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fhir search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 50<<20))
	if err != nil {
		return nil, fmt.Errorf("read fhir response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		// Client errors will not heal on retry.
		return nil, engine.Permanent(fmt.Errorf("fhir search returned %d: %s", resp.StatusCode, truncate(body, 256)))
	default:
		return nil, fmt.Errorf("fhir search returned %d", resp.StatusCode)
	}

	var b bundle
	if err := json.Unmarshal(body, &b); err != nil {
		return nil, fmt.Errorf("decode fhir bundle: %w", err)
	}
	if b.ResourceType != "Bundle" {
		return nil, fmt.Errorf("unexpected response resource type %q", b.ResourceType)
	}
	return &b, nil
}

func nextLink(b *bundle) string {
	for _, l := range b.Link {
		if l.Relation == "next" {
			return l.URL
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
