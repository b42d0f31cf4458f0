package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

func noopHandler(called *bool) server.ToolHandlerFunc {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		*called = true
		return mcp.NewToolResultText("ok"), nil
	}
}

func TestGuardedAllowsWhenAuthDisabled(t *testing.T) {
	mem := newFakeMemory()
	s := newTestServer(mem, fakeSearcher{})
	s.cfg.Auth = AuthConfig{Enabled: false}

	called := false
	handler := s.guarded("clear_graph", noopHandler(&called))

	res, err := handler(context.Background(), callReq(nil))

	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, res.IsError)
}

func TestGuardedRejectsAdminOpsWithoutAuth(t *testing.T) {
	mem := newFakeMemory()
	s := newTestServer(mem, fakeSearcher{})
	s.cfg.Auth = AuthConfig{Enabled: true, APIKey: "secret", AdminOperationsRequired: true}

	called := false
	handler := s.guarded("clear_graph", noopHandler(&called))

	res, err := handler(context.Background(), callReq(nil))

	require.NoError(t, err)
	assert.False(t, called)
	assert.True(t, res.IsError)
}

func TestGuardedAllowsNonAdminOpWithoutAuthWhenAdminOnly(t *testing.T) {
	mem := newFakeMemory()
	s := newTestServer(mem, fakeSearcher{})
	s.cfg.Auth = AuthConfig{Enabled: true, APIKey: "secret", AdminOperationsRequired: true}

	called := false
	handler := s.guarded("search_memory", noopHandler(&called))

	res, err := handler(context.Background(), callReq(nil))

	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, res.IsError)
}

func TestGuardedAllowsAdminOpWithCorrectKey(t *testing.T) {
	mem := newFakeMemory()
	s := newTestServer(mem, fakeSearcher{})
	s.cfg.Auth = AuthConfig{Enabled: true, APIKey: "secret", AdminOperationsRequired: true}

	ctx := context.WithValue(context.Background(), contextKeyAPIKey, "secret")
	called := false
	handler := s.guarded("clear_graph", noopHandler(&called))

	res, err := handler(ctx, callReq(nil))

	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, res.IsError)
}

func TestGuardedRateLimitsClient(t *testing.T) {
	mem := newFakeMemory()
	deps := Deps{Memory: mem, Search: fakeSearcher{}, Extract: DefaultExtract}
	s := New(deps, Config{Transport: "stdio"}, NewClientLimiter(1, 1), nil)

	called := 0
	handler := s.guarded("search_memory", func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		called++
		return mcp.NewToolResultText("ok"), nil
	})

	first, err := handler(context.Background(), callReq(nil))
	require.NoError(t, err)
	assert.False(t, first.IsError)

	second, err := handler(context.Background(), callReq(nil))
	require.NoError(t, err)
	assert.True(t, second.IsError)
	assert.Equal(t, 1, called)
}

func TestDomainErrorResultWrapsOperation(t *testing.T) {
	res := domainErrorResult("search_memory", domain.ErrNotFound)
	assert.True(t, res.IsError)
}

func TestErrorCodeFromResultRecoversEmbeddedCode(t *testing.T) {
	res := errorResult(domain.CodeSizeLimit, "episode_body too large")
	assert.Equal(t, domain.CodeSizeLimit, errorCodeFromResult(res))
}

func TestErrorCodeFromResultFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, domain.CodeUnknown, errorCodeFromResult(mcp.NewToolResultText("not a coded error")))
	assert.Equal(t, domain.CodeUnknown, errorCodeFromResult(nil))
}

func TestGuardedRecordsActualErrorCodeNotUnknown(t *testing.T) {
	mem := newFakeMemory()
	s := newTestServer(mem, fakeSearcher{})
	s.cfg.Auth = AuthConfig{Enabled: false}

	handler := s.guarded("add_memory", func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return errorResult(domain.CodeSizeLimit, "too big"), nil
	})

	_, err := handler(context.Background(), callReq(nil))
	require.NoError(t, err)

	var buf strings.Builder
	s.metrics.WriteProm(&buf)
	assert.Contains(t, buf.String(), `cursorkg_errors_total{code="SIZE_LIMIT"} 1`)
	assert.NotContains(t, buf.String(), `code="UNKNOWN"`)
}
