// Package search queries the shopping-search provider and normalizes its
// results into candidate listings.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/cenkalti/backoff/v5"
	"github.com/jmespath/go-jmespath"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/Ramsey-B/pricewise/pkg/httpclient"
	"github.com/Ramsey-B/pricewise/pkg/metrics"
	"github.com/Ramsey-B/pricewise/pkg/models"
	"github.com/Ramsey-B/pricewise/pkg/tracing"
)

const (
	DefaultBaseURL        = "https://serpapi.com/search.json"
	DefaultEngine         = "google_shopping"
	DefaultGoogleDomain   = "google.co.in"
	DefaultCountry        = "in"
	DefaultLanguage       = "en"
	DefaultResultsPath    = "shopping_results"
	DefaultCurrencySymbol = "₹"
	DefaultMaxAttempts    = 2
	DefaultRetryWait      = 2 * time.Second
)

// Config holds provider settings
type Config struct {
	APIKey         string
	BaseURL        string
	Engine         string
	GoogleDomain   string
	Country        string
	Language       string
	ResultsPath    string
	CurrencySymbol string

	// RateLimit is requests per second shared by all callers; <= 0 disables it
	RateLimit float64

	// MaxAttempts bounds attempts for transient failures (1 = no retry)
	MaxAttempts int
	RetryWait   time.Duration
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.GoogleDomain == "" {
		c.GoogleDomain = DefaultGoogleDomain
	}
	if c.Country == "" {
		c.Country = DefaultCountry
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.ResultsPath == "" {
		c.ResultsPath = DefaultResultsPath
	}
	if c.CurrencySymbol == "" {
		c.CurrencySymbol = DefaultCurrencySymbol
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RetryWait <= 0 {
		c.RetryWait = DefaultRetryWait
	}
}

// Searcher is the gateway contract the reconciler depends on.
type Searcher interface {
	Search(ctx context.Context, query string) ([]models.CandidateListing, error)
}

// Gateway searches the SerpApi shopping engine.
type Gateway struct {
	client  *httpclient.Client
	config  Config
	limiter *rate.Limiter
	results *jmespath.JMESPath
	logger  ectologger.Logger
}

// NewGateway creates a gateway. A missing API key is not an error here; it
// surfaces as a configuration error on the first Search.
func NewGateway(cfg Config, client *httpclient.Client, logger ectologger.Logger) (*Gateway, error) {
	cfg.applyDefaults()

	compiled, err := jmespath.Compile(cfg.ResultsPath)
	if err != nil {
		return nil, fmt.Errorf("invalid results path %q: %w", cfg.ResultsPath, err)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	return &Gateway{
		client:  client,
		config:  cfg,
		limiter: rate.NewLimiter(limit, 1),
		results: compiled,
		logger:  logger,
	}, nil
}

// Search returns the normalized listings for query in provider order.
// Transient failures are retried up to MaxAttempts with exponential backoff.
func (g *Gateway) Search(ctx context.Context, query string) ([]models.CandidateListing, error) {
	ctx, span := tracing.StartSpan(ctx, "Gateway.Search")
	defer span.End()
	span.SetAttributes(attribute.String("search.query", query))

	if g.config.APIKey == "" {
		metrics.RecordSearch(string(KindConfiguration))
		err := newError(KindConfiguration, 0, ErrMissingAPIKey)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		metrics.RecordSearch(string(KindPermanent))
		return nil, newError(KindPermanent, 0, ErrEmptyQuery)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.config.RetryWait
	policy.MaxInterval = 4 * g.config.RetryWait

	attempt := 0
	listings, err := backoff.Retry(ctx, func() ([]models.CandidateListing, error) {
		attempt++
		listings, err := g.searchOnce(ctx, query)
		if err != nil && !IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return listings, err
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(g.config.MaxAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			metrics.SearchRetriesTotal.Inc()
			g.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"query":   query,
				"attempt": attempt,
			}).Warnf("Transient search failure, retrying in %s", wait)
		}),
	)
	if err != nil {
		// Retry gives back the bare context error when cancelled mid-wait.
		if KindOf(err) == "" {
			err = newError(KindTransient, 0, err)
		}
		metrics.RecordSearch(string(KindOf(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.RecordSearch("success")
	span.SetAttributes(attribute.Int("search.results", len(listings)))
	return listings, nil
}

func (g *Gateway) searchOnce(ctx context.Context, query string) ([]models.CandidateListing, error) {
	waitStart := time.Now()
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, newError(KindTransient, 0, err)
	}
	metrics.RateLimitWaitTime.Observe(time.Since(waitStart).Seconds())

	params := url.Values{
		"engine":        {g.config.Engine},
		"q":             {query},
		"api_key":       {g.config.APIKey},
		"google_domain": {g.config.GoogleDomain},
		"gl":            {g.config.Country},
		"hl":            {g.config.Language},
	}

	resp, err := g.client.Get(ctx, g.config.BaseURL, params, map[string]string{"Accept": "application/json"})
	if err != nil {
		// Network errors and timeouts, including an oversized body mid-read.
		return nil, newError(KindTransient, 0, err)
	}

	if !httpclient.IsSuccessStatus(resp.StatusCode) {
		kind := KindPermanent
		if httpclient.IsRetryableStatus(resp.StatusCode) {
			kind = KindTransient
		}
		gerr := newError(kind, resp.StatusCode, fmt.Errorf("provider returned %d: %s", resp.StatusCode, providerMessage(resp.Body)))
		gerr.RetryAfter = resp.RetryAfter()
		if httpclient.IsRateLimitStatus(resp.StatusCode) {
			g.logger.WithContext(ctx).WithField("retry_after", gerr.RetryAfter).Warn("Provider rate limit hit")
		}
		return nil, gerr
	}

	var body any
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, newError(KindPermanent, resp.StatusCode, errors.Join(ErrMalformedBody, err))
	}
	if _, isObject := body.(map[string]any); !isObject {
		return nil, newError(KindPermanent, resp.StatusCode, ErrMalformedBody)
	}

	found, err := g.results.Search(body)
	if err != nil {
		return nil, newError(KindPermanent, resp.StatusCode, errors.Join(ErrMalformedBody, err))
	}

	items, _ := found.([]any)
	if len(items) == 0 {
		if msg := providerMessage(resp.Body); msg != "" {
			g.logger.WithContext(ctx).WithField("query", query).Warnf("Provider returned no results: %s", msg)
		}
		return []models.CandidateListing{}, nil
	}

	listings := make([]models.CandidateListing, 0, len(items))
	for _, item := range items {
		listing, ok := NormalizeListing(item, g.config.CurrencySymbol)
		if !ok {
			continue
		}
		listings = append(listings, listing)
	}

	g.logger.WithContext(ctx).Debugf("Found %d shopping results for %q", len(listings), query)
	return listings, nil
}

// providerMessage extracts the provider's "error" field, if any.
func providerMessage(body []byte) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	return envelope.Error
}
