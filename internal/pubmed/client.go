// Package pubmed implements the literature gateway: it turns a question
// and search strategy into an E-utilities call chain (ESearch then EFetch),
// normalizes records into the canonical Article shape, attaches iCite
// metrics when available, and orders results by priority score.
package pubmed

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/imedina/evidens/internal/cache"
	"github.com/imedina/evidens/internal/model"
	"github.com/imedina/evidens/internal/util"
)

// maxResponseBytes bounds how much of an upstream body is read
const maxResponseBytes = 8 << 20

// Client talks to the NCBI E-utilities and iCite APIs
type Client struct {
	cfg        model.PubMedConfig
	priority   model.PriorityConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      cache.Cache
	cacheTTL   time.Duration
	userAgent  string
}

// New creates a literature gateway client. E-utilities traffic is paced at
// cfg.RequestsPerSecond (NCBI allows 3 rps keyless, 10 rps with a key).
func New(cfg model.PubMedConfig, httpCfg model.HTTPConfig, priority model.PriorityConfig, store cache.Cache, cacheTTL time.Duration) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		if cfg.APIKey != "" {
			rps = 10
		} else {
			rps = 3
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if store == nil {
		store = cache.Nop{}
	}

	return &Client{
		cfg:      cfg,
		priority: priority,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(httpCfg.HTTPProxy, httpCfg.HTTPSProxy, httpCfg.NoProxy),
			},
		},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		cache:     store,
		cacheTTL:  cacheTTL,
		userAgent: httpCfg.UserAgent,
	}
}

// Search resolves the effective query (strategy when present, free text
// otherwise), retrieves up to question.MaxResults PMIDs, populates the
// articles and returns them ordered by priority score. The returned string
// is the query actually sent. An empty result set is not an error.
func (c *Client) Search(ctx context.Context, question model.Question, strategy model.Strategy) ([]model.Article, string, error) {
	query := strings.TrimSpace(strategy.Strategy)
	if query == "" || !question.UseAI {
		query = question.Text
	}

	pmids, err := c.esearch(ctx, query, question.MaxResults)
	if err != nil {
		return nil, query, err
	}
	if len(pmids) == 0 {
		return []model.Article{}, query, nil
	}

	var articles []model.Article
	var metrics map[string]*model.ICiteMetrics

	// iCite enrichment is best-effort and runs alongside EFetch.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var fetchErr error
		articles, fetchErr = c.efetch(gctx, pmids)
		return fetchErr
	})
	g.Go(func() error {
		m, icErr := c.icite(gctx, pmids)
		if icErr == nil {
			metrics = m
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, query, err
	}

	for i := range articles {
		if m, ok := metrics[articles[i].PMID]; ok {
			articles[i].ICiteMetrics = m
		}
	}

	scoreArticles(articles, question, c.priority, time.Now())
	sortByPriority(articles)
	return articles, query, nil
}

// FetchOne retrieves a single article by PMID
func (c *Client) FetchOne(ctx context.Context, pmid string) (*model.Article, error) {
	articles, err := c.efetch(ctx, []string{pmid})
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		return nil, nil
	}
	return &articles[0], nil
}

// esearch retrieves up to max PMIDs for the query
func (c *Client) esearch(ctx context.Context, query string, max int) ([]string, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"retmode": {"json"},
		"retmax":  {fmt.Sprintf("%d", max)},
		"sort":    {"relevance"},
		"term":    {query},
	}
	if c.cfg.APIKey != "" {
		params.Set("api_key", c.cfg.APIKey)
	}

	body, err := c.get(ctx, c.cfg.BaseURL+"/esearch.fcgi?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Result struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &model.GatewayError{Upstream: "pubmed", Message: fmt.Sprintf("malformed esearch response: %v", err)}
	}
	return parsed.Result.IDList, nil
}

// efetch retrieves full records for the given PMIDs in one batched call
func (c *Client) efetch(ctx context.Context, pmids []string) ([]model.Article, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"retmode": {"xml"},
		"id":      {strings.Join(pmids, ",")},
	}
	if c.cfg.APIKey != "" {
		params.Set("api_key", c.cfg.APIKey)
	}

	body, err := c.get(ctx, c.cfg.BaseURL+"/efetch.fcgi?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var set pubmedArticleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, &model.GatewayError{Upstream: "pubmed", Message: fmt.Sprintf("malformed efetch XML: %v", err)}
	}

	articles := make([]model.Article, 0, len(set.Articles))
	for _, rec := range set.Articles {
		articles = append(articles, rec.toArticle())
	}
	return articles, nil
}

// get performs a paced, cached GET against an upstream API
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	key := cache.Key(rawURL)
	if body, ok := c.cache.Get(key); ok {
		return body, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &model.GatewayError{Upstream: "pubmed", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &model.RateLimitedError{Upstream: "pubmed"}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.GatewayError{Upstream: "pubmed", Status: resp.StatusCode, Message: resp.Status}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &model.GatewayError{Upstream: "pubmed", Message: fmt.Sprintf("read body: %v", err)}
	}

	_ = c.cache.Set(key, body, c.cacheTTL)
	return body, nil
}
