// Package matcher talks to the affiliation matching service, which detects
// countries and ROR, GRID and RNSR identifiers for affiliation strings.
package matcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dataesr/bso3-harvest-datacite-sub000/cache"
	"github.com/dataesr/bso3-harvest-datacite-sub000/docstore"
	"github.com/segmentio/encoding/json"
	"github.com/sethgrid/pester"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrStatus is returned for non-2xx responses.
var ErrStatus = errors.New("unexpected status")

// Doer abstracts https://pkg.go.dev/net/http#Client.Do.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Result of a match for a single affiliation string. All lists are sorted
// and free of duplicates.
type Result struct {
	Query     string   `json:"affiliation_string"`
	Countries []string `json:"countries"`
	Ror       []string `json:"ror"`
	Grid      []string `json:"grid"`
	Rnsr      []string `json:"rnsr"`
}

// HasCountry reports whether a country code has been detected.
func (r Result) HasCountry(code string) bool {
	for _, c := range r.Countries {
		if strings.EqualFold(c, code) {
			return true
		}
	}
	return false
}

type matchRequest struct {
	Type  string `json:"type"`
	Query string `json:"query"`
}

type matchResponse struct {
	Results struct {
		Countries []string `json:"countries"`
		Ror       []string `json:"ror"`
		Grid      []string `json:"grid"`
		Rnsr      []string `json:"rnsr"`
	} `json:"results"`
}

type matchListRequest struct {
	MatchTypes   []string `json:"match_types"`
	Affiliations []string `json:"affiliations"`
}

// StoreSchema describes match results kept in a document store.
var StoreSchema = &docstore.Schema{
	Name: "affiliation_matches",
	Fields: map[string]docstore.Kind{
		"match_type": docstore.String,
		"query":      docstore.String,
		"countries":  docstore.StringList,
		"ror":        docstore.StringList,
		"grid":       docstore.StringList,
		"rnsr":       docstore.StringList,
	},
	Required: []string{"match_type", "query"},
}

// Client queries the matching service. Single matches are cached, list
// matches are not. The client does not retry; use a retrying Doer, like
// the one returned by NewRetryDoer.
type Client struct {
	BaseURL string
	Doer    Doer
	// Cache is consulted before any request. Not safe for concurrent use,
	// unless it is a cache.Locked.
	Cache cache.Cache[Result]
	// Store is an optional side collection of match results, consulted
	// after the cache and before the service.
	Store docstore.Store
	// Limiter paces requests, optional.
	Limiter *rate.Limiter
}

// NewClient creates a client with a bounded FIFO cache.
func NewClient(baseURL string, doer Doer, cacheSize int) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Doer:    doer,
		Cache:   cache.NewFIFO[Result](cacheSize),
	}
}

// NewRetryDoer returns an HTTP client retrying failed requests a bounded
// number of times, waiting a fixed delay between attempts.
func NewRetryDoer(maxRetries int, delay, timeout time.Duration) *pester.Client {
	client := pester.New()
	client.Concurrency = 1
	client.MaxRetries = maxRetries
	client.Backoff = func(_ int) time.Duration { return delay }
	client.RetryOnHTTP429 = true
	client.Timeout = timeout
	return client
}

func cacheKey(matchType, query string) string {
	return matchType + ":" + query
}

// Match returns the match result for a single affiliation string.
func (c *Client) Match(ctx context.Context, matchType, query string) (Result, error) {
	key := cacheKey(matchType, query)
	if c.Cache != nil {
		if r, ok := c.Cache.Get(key); ok {
			return r, nil
		}
	}
	if r, ok := c.lookupStore(ctx, key); ok {
		c.addCache(key, r)
		return r, nil
	}
	var resp matchResponse
	if err := c.post(ctx, "/match", matchRequest{Type: matchType, Query: query}, &resp); err != nil {
		return Result{}, fmt.Errorf("match %q: %w", query, err)
	}
	r := Result{
		Query:     query,
		Countries: uniqueSorted(resp.Results.Countries),
		Ror:       uniqueSorted(resp.Results.Ror),
		Grid:      uniqueSorted(resp.Results.Grid),
		Rnsr:      uniqueSorted(resp.Results.Rnsr),
	}
	c.addCache(key, r)
	c.persist(ctx, key, matchType, r)
	return r, nil
}

// MatchList sends a batch of affiliation strings in a single request. The
// service answers with an array of results, either bare or wrapped in a
// "results" field. Nothing is cached.
func (c *Client) MatchList(ctx context.Context, matchTypes, queries []string) ([]json.RawMessage, error) {
	var raw json.RawMessage
	req := matchListRequest{MatchTypes: matchTypes, Affiliations: queries}
	if err := c.post(ctx, "/match_list", req, &raw); err != nil {
		return nil, fmt.Errorf("match list: %w", err)
	}
	var result []json.RawMessage
	if bytes.HasPrefix(bytes.TrimSpace(raw), []byte("[")) {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("match list decode: %w", err)
		}
		return result, nil
	}
	var wrapped struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("match list decode: %w", err)
	}
	return wrapped.Results, nil
}

// Prewarm sends all queries in chunks through MatchList.
func (c *Client) Prewarm(ctx context.Context, matchTypes, queries []string, chunkSize int) error {
	if chunkSize < 1 {
		chunkSize = 100
	}
	for i := 0; i < len(queries); i += chunkSize {
		j := i + chunkSize
		if j > len(queries) {
			j = len(queries)
		}
		if _, err := c.MatchList(ctx, matchTypes, queries[i:j]); err != nil {
			return err
		}
		log.WithFields(log.Fields{"done": j, "total": len(queries)}).Debug("prewarm")
	}
	return nil
}

// MatchAll resolves a list of affiliation strings with a number of workers
// sharing the client cache. Empty strings are skipped. The first error
// stops all workers.
func (c *Client) MatchAll(ctx context.Context, matchType string, queries []string, workers int) (map[string]Result, error) {
	if workers < 1 {
		workers = 1
	}
	shared := *c
	if c.Cache != nil && workers > 1 {
		if _, ok := c.Cache.(*cache.Locked[Result]); !ok {
			shared.Cache = cache.NewLocked(c.Cache)
		}
	}
	var (
		mu      sync.Mutex
		results = make(map[string]Result)
		queue   = make(chan string)
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(queue)
		seen := make(map[string]bool)
		for _, q := range queries {
			if q == "" || seen[q] {
				continue
			}
			seen[q] = true
			select {
			case queue <- q:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for q := range queue {
				r, err := shared.Match(ctx, matchType, q)
				if err != nil {
					return err
				}
				mu.Lock()
				results[q] = r
				n := len(results)
				mu.Unlock()
				if n%1000 == 0 {
					log.WithField("matched", n).Info("matching affiliations")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) addCache(key string, r Result) {
	if c.Cache != nil {
		c.Cache.Add(key, r)
	}
}

func (c *Client) lookupStore(ctx context.Context, key string) (Result, bool) {
	if c.Store == nil {
		return Result{}, false
	}
	doc, err := c.Store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			log.WithError(err).Warn("match store lookup failed")
		}
		return Result{}, false
	}
	query, _ := doc["query"].(string)
	return Result{
		Query:     query,
		Countries: docstore.Strings(doc["countries"]),
		Ror:       docstore.Strings(doc["ror"]),
		Grid:      docstore.Strings(doc["grid"]),
		Rnsr:      docstore.Strings(doc["rnsr"]),
	}, true
}

func (c *Client) persist(ctx context.Context, key, matchType string, r Result) {
	if c.Store == nil {
		return
	}
	doc := docstore.Document{
		"match_type": matchType,
		"query":      r.Query,
		"countries":  r.Countries,
		"ror":        r.Ror,
		"grid":       r.Grid,
		"rnsr":       r.Rnsr,
	}
	if err := c.Store.Create(ctx, key, doc); err != nil && !errors.Is(err, docstore.ErrExists) {
		log.WithError(err).WithField("query", r.Query).Warn("could not persist match")
	}
}

func (c *Client) post(ctx context.Context, path string, payload any, v any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Doer.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s", ErrStatus, resp.Status, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func uniqueSorted(vs []string) []string {
	if len(vs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(vs))
	var result []string
	for _, v := range vs {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		result = append(result, v)
	}
	sort.Strings(result)
	return result
}
