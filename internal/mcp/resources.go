package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"

	aboutURI  = "gtalk://about"
	memoryURI = "gtalk://memory"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			aboutURI,
			"gtalk About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			memoryURI,
			"Conversation Memory",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("The summary carried into the next query."),
		),
		s.handleMemoryResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(request.Params.URI, map[string]interface{}{
		"name":        s.cfg.Server.Name,
		"version":     s.cfg.Server.Version,
		"search_host": s.cfg.Query.SearchHost,
		"max_retries": s.cfg.Query.MaxRetries,
		"notes": []string{
			"Use ai-mode-query to ask; follow-ups reuse the previous answer's first paragraph.",
			"Use reset-memory (or fresh=true) when changing topic.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	})
}

func (s *Server) handleMemoryResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonResource(request.Params.URI, map[string]interface{}{
		"memory": s.orch.Memory().Summary(),
	})
}

func jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}
