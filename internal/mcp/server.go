package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"gtalk/internal/config"
	"gtalk/internal/query"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Server exposes the query orchestrator as MCP tools.
type Server struct {
	cfg       config.Config
	orch      *query.Orchestrator
	logger    *zap.Logger
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

func NewServer(cfg config.Config, orch *query.Orchestrator, logger *zap.Logger) (*Server, error) {
	if orch == nil {
		return nil, errors.New("mcp: orchestrator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		orch:      orch,
		logger:    logger.Named("mcp"),
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start serves over stdio until ctx ends or stdin closes.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("sse server listening", zap.Int("port", port))

	select {
	case <-ctx.Done():
		s.logger.Info("sse server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool runs a registered tool directly.
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, args)
}

func (s *Server) registerAllTools() {
	s.registerTool(&AIModeQueryTool{orch: s.orch})
	s.registerTool(&GetMemoryTool{orch: s.orch})
	s.registerTool(&ResetMemoryTool{orch: s.orch})
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		started := time.Now()
		result, err := tool.Execute(ctx, args)
		if err != nil {
			s.logger.Warn("tool failed", zap.String("tool", tool.Name()), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
			return mcp.NewToolResultError(fmt.Sprintf("tool %s failed: %v", tool.Name(), err)), nil
		}
		s.logger.Debug("tool completed", zap.String("tool", tool.Name()), zap.Duration("elapsed", time.Since(started)))

		return mcp.NewToolResultText(string(marshalToolPayload(tool.Name(), result))), nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
