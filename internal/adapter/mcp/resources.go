package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/chainwright/chainwright/internal/domain/request"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"chainwright://requests",
			"Request List",
			mcplib.WithResourceDescription("All pipeline requests with status and agent chain"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRequestsResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"chainwright://requests/active",
			"Active Requests",
			mcplib.WithResourceDescription("Requests still moving through the agent chain"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleActiveRequestsResource,
	)
}

func (s *Server) handleRequestsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.RequestReader == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"request reader not configured"}`,
			},
		}, nil
	}
	requests, err := s.deps.RequestReader.List(ctx)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(requests)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleActiveRequestsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.RequestReader == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"request reader not configured"}`,
			},
		}, nil
	}
	requests, err := s.deps.RequestReader.List(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]request.RequestContext, 0, len(requests))
	for _, rc := range requests {
		if !rc.Status.IsTerminal() {
			active = append(active, rc)
		}
	}
	data, err := json.Marshal(active)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
