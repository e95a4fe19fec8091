package platform

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus/internal/lifecycle"
	"nexus/internal/store"
	"nexus/pkg/models"
)

type fakeSource struct {
	integrations map[string]*models.Integration
	calls        int
}

func (f *fakeSource) GetConnectedIntegration(ctx context.Context, ownerID, platform string) (*models.Integration, error) {
	f.calls++
	in, ok := f.integrations[ownerID+":"+platform]
	if !ok {
		return nil, store.ErrNotFound
	}
	return in, nil
}

type stubClient struct{ name string }

func (s *stubClient) Platform() string { return s.name }
func (s *stubClient) Publish(ctx context.Context, in *models.Integration, content string) (string, error) {
	return "ext-1", nil
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestRegistryResolve(t *testing.T) {
	src := &fakeSource{integrations: map[string]*models.Integration{
		"owner-1:twitter": {ID: "int-1", OwnerID: "owner-1", Platform: "twitter", Credentials: "tok"},
	}}
	r := NewRegistry(src, nil)
	r.Register(&stubClient{name: "twitter"})

	client, in, err := r.Resolve(context.Background(), "owner-1", "twitter")
	require.NoError(t, err)
	assert.Equal(t, "twitter", client.Platform())
	assert.Equal(t, "int-1", in.ID)
}

func TestRegistryResolve_NoClientRegistered(t *testing.T) {
	r := NewRegistry(&fakeSource{}, nil)

	_, _, err := r.Resolve(context.Background(), "owner-1", "mastodon")
	assert.ErrorIs(t, err, lifecycle.ErrNoPlatformClient)
}

func TestRegistryResolve_NoIntegration(t *testing.T) {
	r := NewRegistry(&fakeSource{integrations: map[string]*models.Integration{}}, nil)
	r.Register(&stubClient{name: "twitter"})

	_, _, err := r.Resolve(context.Background(), "owner-1", "twitter")
	assert.ErrorIs(t, err, lifecycle.ErrNoPlatformClient)
}

func TestRegistryResolve_CachesLookups(t *testing.T) {
	src := &fakeSource{integrations: map[string]*models.Integration{
		"owner-1:twitter": {ID: "int-1", Platform: "twitter"},
	}}
	r := NewRegistry(src, nil)
	r.Register(&stubClient{name: "twitter"})

	for i := 0; i < 3; i++ {
		_, _, err := r.Resolve(context.Background(), "owner-1", "twitter")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, src.calls)

	r.InvalidateIntegration("owner-1", "twitter")
	_, _, err := r.Resolve(context.Background(), "owner-1", "twitter")
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestTwitterPublish(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/2/tweets", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"1234567890"}}`))
	}))
	defer srv.Close()

	cfg := DefaultTwitterConfig()
	cfg.BaseURL = srv.URL
	tw := NewTwitter(cfg, testLogger())

	id, err := tw.Publish(context.Background(), &models.Integration{Credentials: "tok"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, "1234567890", id)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestTwitterPublish_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	cfg := DefaultTwitterConfig()
	cfg.BaseURL = srv.URL
	tw := NewTwitter(cfg, testLogger())

	_, err := tw.Publish(context.Background(), &models.Integration{}, "hello")
	require.Error(t, err)
	assert.True(t, lifecycle.IsPlatformError(err))
}

func TestTwitterPublish_CancelledContext(t *testing.T) {
	tw := NewTwitter(DefaultTwitterConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tw.Publish(ctx, &models.Integration{}, "hello")
	require.Error(t, err)
	assert.True(t, lifecycle.IsPlatformError(err))
}

func TestTwitterFetchMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/2/tweets/1234567890", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"public_metrics":{
			"retweet_count":3,"reply_count":2,"like_count":10,
			"impression_count":500,"url_link_clicks":7}}}`))
	}))
	defer srv.Close()

	cfg := DefaultTwitterConfig()
	cfg.BaseURL = srv.URL
	tw := NewTwitter(cfg, testLogger())

	counters, err := tw.FetchMetrics(context.Background(), &models.Integration{}, "1234567890")
	require.NoError(t, err)
	assert.Equal(t, models.EngagementCounters{
		Likes: 10, Shares: 3, Comments: 2, Impressions: 500, Clicks: 7,
	}, counters)
}

func TestLinkedInPublish(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/ugcPosts", r.URL.Path)
		w.Header().Set("X-RestLi-Id", "urn:li:share:42")
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	cfg := DefaultLinkedInConfig()
	cfg.BaseURL = srv.URL
	li := NewLinkedIn(cfg, testLogger())

	id, err := li.Publish(context.Background(), &models.Integration{Credentials: "tok"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, "urn:li:share:42", id)
}

func TestLinkedInIsNotAMetricsFetcher(t *testing.T) {
	var c Client = NewLinkedIn(DefaultLinkedInConfig(), testLogger())
	_, ok := c.(MetricsFetcher)
	assert.False(t, ok)

	c = NewTwitter(DefaultTwitterConfig(), testLogger())
	_, ok = c.(MetricsFetcher)
	assert.True(t, ok)
}
