package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"nexus/internal/lifecycle"
	"nexus/pkg/clients"
	"nexus/pkg/logging"
	"nexus/pkg/models"
)

const defaultTwitterBaseURL = "https://api.twitter.com"

// TwitterConfig configures the twitter client.
type TwitterConfig struct {
	BaseURL string
	// RequestsPerSecond caps outbound calls across all owners. The v2 API
	// enforces app-level limits, so one shared limiter is correct.
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

func DefaultTwitterConfig() TwitterConfig {
	return TwitterConfig{
		BaseURL:           defaultTwitterBaseURL,
		RequestsPerSecond: 5,
		Burst:             10,
		Timeout:           15 * time.Second,
	}
}

// Twitter publishes tweets and reads their public metrics through the v2 API.
type Twitter struct {
	baseURL string
	http    *http.Client
	policy  *clients.Policy
	limiter *rate.Limiter
	logger  logging.Logger
}

func NewTwitter(cfg TwitterConfig, logger logging.Logger) *Twitter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwitterBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	policyCfg := clients.DefaultPolicyConfig("twitter")
	policyCfg.Logger = logger
	return &Twitter{
		baseURL: cfg.BaseURL,
		http: &http.Client{
			Transport: clients.DefaultTransport(),
			Timeout:   cfg.Timeout,
		},
		policy:  clients.NewPolicy(policyCfg),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}
}

func (t *Twitter) Platform() string { return "twitter" }

// Publish posts the content as a tweet and returns the tweet id.
func (t *Twitter) Publish(ctx context.Context, integration *models.Integration, content string) (string, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", lifecycle.NewPlatformError("twitter", "publish", err)
	}

	body, err := json.Marshal(map[string]string{"text": content})
	if err != nil {
		return "", err
	}
	resp, err := t.policy.Do(ctx, t.http, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/2/tweets", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+integration.Credentials)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return "", lifecycle.NewPlatformError("twitter", "publish", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", lifecycle.NewPlatformError("twitter", "publish", httpStatusError(resp))
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", lifecycle.NewPlatformError("twitter", "publish", err)
	}
	if out.Data.ID == "" {
		return "", lifecycle.NewPlatformError("twitter", "publish", fmt.Errorf("response missing tweet id"))
	}
	return out.Data.ID, nil
}

// FetchMetrics reads the tweet's public metrics.
func (t *Twitter) FetchMetrics(ctx context.Context, integration *models.Integration, externalID string) (models.EngagementCounters, error) {
	var counters models.EngagementCounters

	if err := t.limiter.Wait(ctx); err != nil {
		return counters, lifecycle.NewPlatformError("twitter", "fetch_metrics", err)
	}

	url := fmt.Sprintf("%s/2/tweets/%s?tweet.fields=public_metrics", t.baseURL, externalID)
	resp, err := t.policy.Do(ctx, t.http, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+integration.Credentials)
		return req, nil
	})
	if err != nil {
		return counters, lifecycle.NewPlatformError("twitter", "fetch_metrics", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return counters, lifecycle.NewPlatformError("twitter", "fetch_metrics", httpStatusError(resp))
	}

	var out struct {
		Data struct {
			PublicMetrics struct {
				RetweetCount    int64 `json:"retweet_count"`
				ReplyCount      int64 `json:"reply_count"`
				LikeCount       int64 `json:"like_count"`
				ImpressionCount int64 `json:"impression_count"`
				URLLinkClicks   int64 `json:"url_link_clicks"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return counters, lifecycle.NewPlatformError("twitter", "fetch_metrics", err)
	}

	m := out.Data.PublicMetrics
	counters = models.EngagementCounters{
		Likes:       m.LikeCount,
		Shares:      m.RetweetCount,
		Comments:    m.ReplyCount,
		Impressions: m.ImpressionCount,
		Clicks:      m.URLLinkClicks,
	}
	return counters, nil
}

func httpStatusError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(snippet))
}
