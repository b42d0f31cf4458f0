package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Nonymaus/cursor-kg/internal/domain"
)

// protocolVersion records the mcp-go protocol version this package was
// built against (§4.8). It is not referenced anywhere; the handshake uses
// mcp-go's own version negotiation.
const protocolVersion = mcp.LATEST_PROTOCOL_VERSION

// Config controls transport selection and request-plane limits (§6).
type Config struct {
	Transport string // "stdio" or "sse"
	Port      int
	Auth      AuthConfig
	Limits    Limits
}

// Limits bounds request sizes the request plane accepts before a handler
// even reaches storage (§8 boundary invariants). Zero disables a check.
type Limits struct {
	MaxContentLength int // add_memory episode_body, bytes
	MaxQueryLength   int // search_memory query, bytes
}

// Server is the MCP request plane: a dispatch table of tools backed by
// Deps, wrapped in auth and rate-limit middleware (§4.8).
type Server struct {
	mcpServer *server.MCPServer
	deps      Deps
	cfg       Config
	logger    *slog.Logger
	limiter   *ClientLimiter
	metrics   *Metrics
	ping      func() error
}

// New builds a Server and registers every RequestPlane tool.
func New(deps Deps, cfg Config, limiter *ClientLimiter, logger *slog.Logger) *Server {
	srv := server.NewMCPServer(
		"cursor-kg",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	s := &Server{mcpServer: srv, deps: deps, cfg: cfg, logger: logger, limiter: limiter, metrics: NewMetrics()}
	s.registerTools()
	s.registerGraphTool()
	return s
}

// WithHealthPing sets the liveness probe /health uses on the SSE transport.
func (s *Server) WithHealthPing(ping func() error) *Server {
	s.ping = ping
	return s
}

// Metrics exposes the Server's Metrics so callers (e.g. stability.Breakers)
// can wire a breaker-state callback before Serve is called.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Serve blocks, running the selected transport until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	switch s.cfg.Transport {
	case "sse":
		return s.serveSSE(ctx)
	default:
		return s.serveStdio(ctx)
	}
}

// serveStdio runs the line-framed stdio transport. Diagnostics go to
// stderr only — stdout is reserved for the JSON-RPC stream (§4.8, §7).
func (s *Server) serveStdio(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- server.ServeStdio(s.mcpServer) }()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) serveSSE(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	sseServer := server.NewSSEServer(s.mcpServer, server.WithSSEContextFunc(
		func(ctx context.Context, r *http.Request) context.Context {
			if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
				ctx = context.WithValue(ctx, contextKeyClientID, host)
			}
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				ctx = context.WithValue(ctx, contextKeyAPIKey, strings.TrimPrefix(auth, "Bearer "))
			}
			return ctx
		}))

	ping := s.ping
	if ping == nil {
		ping = func() error { return nil }
	}

	mux := http.NewServeMux()
	mux.Handle("/health", HealthHandler(ping))
	mux.Handle("/metrics", s.metrics.Handler())
	mux.Handle("/", sseServer)

	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return httpServer.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// guarded wraps a tool handler with auth and rate-limit checks (§4.8).
func (s *Server) guarded(name string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		clientID := clientIDFromContext(ctx)
		s.metrics.RecordRequest(name)

		if s.limiter != nil && !s.limiter.Allow(clientID) {
			s.logf("rate limit exceeded", "tool", name, "client", clientID)
			s.metrics.RecordError(string(domain.CodeRateLimit))
			return errorResult(domain.CodeRateLimit, "rate limit exceeded"), nil
		}
		if s.cfg.Auth.requiresAuth(name) {
			presented := apiKeyFromContext(ctx)
			if !s.cfg.Auth.checkAuth(presented) {
				s.logf("authentication failed", "tool", name, "client", clientID)
				s.metrics.RecordError(string(domain.CodeAuthError))
				return errorResult(domain.CodeAuthError, "authentication failed"), nil
			}
		}
		res, err := handler(ctx, req)
		if res != nil && res.IsError {
			s.metrics.RecordError(string(errorCodeFromResult(res)))
		}
		return res, err
	}
}

// logf is a nil-safe wrapper so Server can be constructed without a logger
// in tests without panicking on every guarded call.
func (s *Server) logf(msg string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(msg, args...)
}

// clientIDFromContext and apiKeyFromContext read the values serveSSE puts
// into each SSE request's context (client IP and bearer token). Stdio
// sessions carry neither, so they share the fixed id "stdio" and present
// no key.
func clientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyClientID).(string); ok && v != "" {
		return v
	}
	return "stdio"
}

func apiKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyAPIKey).(string); ok {
		return v
	}
	return ""
}

type contextKey string

const (
	contextKeyClientID contextKey = "mcp_client_id"
	contextKeyAPIKey   contextKey = "mcp_api_key"
)

func errorResult(code domain.ErrorCode, detail string) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", code, detail))
}

func domainErrorResult(op string, err error) *mcp.CallToolResult {
	return errorResult(domain.ErrorCodeOf(err), domain.WrapOp(op, err).Error())
}

// errorCodeFromResult recovers the ErrorCode a handler embedded via
// errorResult's "[CODE] detail" text convention, so guarded can record
// accurate per-code error metrics instead of a flat CodeUnknown for every
// failed call.
func errorCodeFromResult(res *mcp.CallToolResult) domain.ErrorCode {
	if res == nil || len(res.Content) == 0 {
		return domain.CodeUnknown
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok || !strings.HasPrefix(tc.Text, "[") {
		return domain.CodeUnknown
	}
	end := strings.IndexByte(tc.Text, ']')
	if end <= 1 {
		return domain.CodeUnknown
	}
	return domain.ErrorCode(tc.Text[1:end])
}
