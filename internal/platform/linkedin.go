package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"nexus/internal/lifecycle"
	"nexus/pkg/clients"
	"nexus/pkg/logging"
	"nexus/pkg/models"
)

const defaultLinkedInBaseURL = "https://api.linkedin.com"

// LinkedInConfig configures the linkedin client.
type LinkedInConfig struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

func DefaultLinkedInConfig() LinkedInConfig {
	return LinkedInConfig{
		BaseURL:           defaultLinkedInBaseURL,
		RequestsPerSecond: 2,
		Burst:             5,
		Timeout:           15 * time.Second,
	}
}

// LinkedIn publishes UGC posts. The API tier we integrate with does not
// expose per-post analytics, so this client is deliberately not a
// MetricsFetcher; collection falls back to an unavailable snapshot.
type LinkedIn struct {
	baseURL string
	http    *http.Client
	policy  *clients.Policy
	limiter *rate.Limiter
	logger  logging.Logger
}

func NewLinkedIn(cfg LinkedInConfig, logger logging.Logger) *LinkedIn {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultLinkedInBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	policyCfg := clients.DefaultPolicyConfig("linkedin")
	policyCfg.Logger = logger
	return &LinkedIn{
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

func (l *LinkedIn) Platform() string { return "linkedin" }

// Publish creates a text share and returns the post urn.
func (l *LinkedIn) Publish(ctx context.Context, integration *models.Integration, content string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", lifecycle.NewPlatformError("linkedin", "publish", err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]interface{}{
			"com.linkedin.ugc.ShareContent": map[string]interface{}{
				"shareCommentary":    map[string]string{"text": content},
				"shareMediaCategory": "NONE",
			},
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	})
	if err != nil {
		return "", err
	}

	resp, err := l.policy.Do(ctx, l.http, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/v2/ugcPosts", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+integration.Credentials)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Restli-Protocol-Version", "2.0.0")
		return req, nil
	})
	if err != nil {
		return "", lifecycle.NewPlatformError("linkedin", "publish", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", lifecycle.NewPlatformError("linkedin", "publish", httpStatusError(resp))
	}

	if id := resp.Header.Get("X-RestLi-Id"); id != "" {
		return id, nil
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", lifecycle.NewPlatformError("linkedin", "publish", err)
	}
	if out.ID == "" {
		return "", lifecycle.NewPlatformError("linkedin", "publish", fmt.Errorf("response missing post id"))
	}
	return out.ID, nil
}
