// Package mcp exposes the reasoning pipeline over the Model Context
// Protocol so MCP-capable agents and editors can submit queries, read
// reasoning trails and answer critique follow-up questions.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/chainwright/chainwright/internal/domain/critique"
	"github.com/chainwright/chainwright/internal/domain/event"
	"github.com/chainwright/chainwright/internal/domain/plan"
	"github.com/chainwright/chainwright/internal/domain/request"
	"github.com/chainwright/chainwright/internal/service"
)

// PipelineRunner drives the pipeline: query submission, critique feedback
// and resuming paused requests. Implemented by *service.Coordinator.
type PipelineRunner interface {
	Submit(ctx context.Context, req request.CreateRequest) (*request.RequestContext, error)
	Feedback(ctx context.Context, requestID string, req service.FeedbackRequest) (*service.FeedbackResult, error)
	Resume(ctx context.Context, requestID string) (*request.RequestContext, error)
	Paused(requestID string) (service.PauseInfo, bool)
}

// RequestReader reads request lifecycle state. Implemented by *service.Tracker.
type RequestReader interface {
	Get(ctx context.Context, requestID string) (*request.RequestContext, error)
	List(ctx context.Context) ([]request.RequestContext, error)
}

// ArtifactReader reads versioned plans and critiques. Implemented by
// *service.Versioner.
type ArtifactReader interface {
	ListPlans(ctx context.Context, requestID string) ([]plan.Plan, error)
	CurrentPlan(ctx context.Context, requestID string) (*plan.Plan, error)
	CurrentCritique(ctx context.Context, requestID string) (*critique.Critique, error)
}

// TrailReader loads a request's ordered event trail.
type TrailReader interface {
	LoadByRequest(ctx context.Context, requestID string) ([]event.PipelineEvent, error)
}

// ServerConfig holds the MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps collects the narrow service surfaces the MCP tools call.
// A nil dependency disables the tools that need it; their handlers return
// an error result instead of panicking.
type ServerDeps struct {
	PipelineRunner PipelineRunner
	RequestReader  RequestReader
	ArtifactReader ArtifactReader
	TrailReader    TrailReader
}

// Server exposes pipeline tools and resources over the MCP streamable
// HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *http.Server
}

// NewServer builds the MCP server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithResourceCapabilities(false, true),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Start binds the configured address and serves the streamable HTTP
// transport in the background until Stop is called.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.httpSrv = &http.Server{
		Handler:           AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server stopped", "error", err)
		}
	}()
	slog.Info("mcp server listening", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully shuts down the HTTP transport. Safe to call before Start.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
