package pubmed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/imedina/evidens/internal/model"
)

// icite fetches citation metrics for the given PMIDs. Callers treat
// failures as non-fatal; a request never fails because metrics are missing.
func (c *Client) icite(ctx context.Context, pmids []string) (map[string]*model.ICiteMetrics, error) {
	if c.cfg.ICiteBaseURL == "" {
		return nil, nil
	}

	params := url.Values{
		"pmids":  {strings.Join(pmids, ",")},
		"format": {"json"},
	}

	body, err := c.get(ctx, c.cfg.ICiteBaseURL+"/pubs?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data []struct {
			PMID                  json.Number `json:"pmid"`
			RelativeCitationRatio float64     `json:"relative_citation_ratio"`
			CitationCount         int         `json:"citation_count"`
			CitationsPerYear      float64     `json:"citations_per_year"`
			APT                   float64     `json:"apt"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("malformed icite response: %w", err)
	}

	metrics := make(map[string]*model.ICiteMetrics, len(parsed.Data))
	for _, d := range parsed.Data {
		metrics[d.PMID.String()] = &model.ICiteMetrics{
			RelativeCitationRatio: d.RelativeCitationRatio,
			CitationCount:         d.CitationCount,
			CitationsPerYear:      d.CitationsPerYear,
			APT:                   d.APT,
		}
	}
	return metrics, nil
}
