package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// MockClient implements Client for tests in this package and its consumers.
type MockClient struct {
	mock.Mock
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestNewClient_DefaultThrottle(t *testing.T) {
	c, ok := NewClient("test-token").(*apiClient)
	require.True(t, ok)
	require.NotNil(t, c.limiter)
	assert.Equal(t, rate.Limit(3), c.limiter.Limit())
}

func TestWithRateLimit_Override(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(10)).(*apiClient)
	require.NotNil(t, c.limiter)
	assert.Equal(t, rate.Limit(10), c.limiter.Limit())
}

func TestWithRateLimit_Disabled(t *testing.T) {
	c := NewClient("test-token", WithRateLimit(0)).(*apiClient)
	assert.Nil(t, c.limiter)

	// With no limiter, throttle is a no-op even under a dead context.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.throttle(ctx))
}

func TestThrottle_ContextCancelled(t *testing.T) {
	c := &apiClient{limiter: rate.NewLimiter(1, 1)}
	require.NoError(t, c.throttle(context.Background())) // consume the burst

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.throttle(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}
