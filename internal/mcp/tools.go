package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gtalk/internal/query"
	"gtalk/internal/render"
)

type AIModeQueryTool struct {
	orch *query.Orchestrator
}

func (t *AIModeQueryTool) Name() string { return "ai-mode-query" }
func (t *AIModeQueryTool) Description() string {
	return `Ask Google AI Mode a question through a headless browser and return the answer.

The first paragraph of each answer is kept as conversation memory and sent with the
next question, so follow-ups can refer to earlier answers. Pass "fresh": true to
drop that memory first.

Bot-verification pages are retried with backoff; a crashed browser is relaunched.
Queries run one at a time.

Returns: {success, outcome, attempts, markdown, blocks, memory, error?}`
}
func (t *AIModeQueryTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The question to ask",
			},
			"fresh": map[string]interface{}{
				"type":        "boolean",
				"description": "Reset conversation memory before asking (default: false)",
			},
		},
		"required": []string{"query"},
	}
}
func (t *AIModeQueryTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	text := strings.TrimSpace(getStringArg(args, "query"))
	if text == "" {
		return nil, errors.New("query is required")
	}
	var opts []query.QueryOption
	if getBoolArg(args, "fresh", false) {
		opts = append(opts, query.WithFreshMemory())
	}

	res, err := t.orch.Query(ctx, text, opts...)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"success":  res.Outcome == query.OutcomeSuccess,
		"outcome":  res.Outcome.String(),
		"attempts": res.Attempts,
		"memory":   t.orch.Memory().Summary(),
	}
	if res.Outcome == query.OutcomeSuccess {
		payload["markdown"] = render.Markdown(res.Blocks)
		payload["blocks"] = res.Blocks
	}
	if res.Err != nil {
		payload["error"] = res.Err.Error()
	}
	return payload, nil
}

type GetMemoryTool struct {
	orch *query.Orchestrator
}

func (t *GetMemoryTool) Name() string { return "get-memory" }
func (t *GetMemoryTool) Description() string {
	return `Return the conversation memory that will be prepended to the next ai-mode-query.

Returns: {memory, words}`
}
func (t *GetMemoryTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *GetMemoryTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	summary := t.orch.Memory().Summary()
	return map[string]interface{}{
		"memory": summary,
		"words":  len(strings.Fields(summary)),
	}, nil
}

type ResetMemoryTool struct {
	orch *query.Orchestrator
}

func (t *ResetMemoryTool) Name() string { return "reset-memory" }
func (t *ResetMemoryTool) Description() string {
	return `Clear the conversation memory so the next ai-mode-query starts a new topic.

Returns: {success, cleared}`
}
func (t *ResetMemoryTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ResetMemoryTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	had := t.orch.Memory().Summary() != ""
	t.orch.Memory().Reset()
	return map[string]interface{}{"success": true, "cleared": had}, nil
}

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return fallback
}
