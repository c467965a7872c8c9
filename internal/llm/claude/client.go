// Package claude implements the triage reasoning backend on the Anthropic
// Messages API. Every call carries exactly one tool whose input schema is the
// stage's output schema, with tool choice forced, so the model's answer
// always arrives as structured tool input rather than free text.
package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/warden/internal/triage"
)

const defaultMaxTokens = 4096

// Client implements triage.Reasoner against the Claude API.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a new Claude client with the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Invoke sends one reasoning request and returns the forced tool's input.
func (c *Client) Invoke(ctx context.Context, req *triage.ReasonRequest) (json.RawMessage, error) {
	params, err := buildParams(c.model, req)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude: %w", err)
	}

	return extractToolInput(msg, req.Task)
}

// buildParams assembles the single-tool request for a reasoning call.
func buildParams(model anthropic.Model, req *triage.ReasonRequest) (anthropic.MessageNewParams, error) {
	var schema struct {
		Properties map[string]any `json:"properties"`
		Required   []string       `json:"required"`
	}
	if err := json.Unmarshal(req.Schema, &schema); err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("parse %s schema: %w", req.Task, err)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Tools: []anthropic.ToolUnionParam{{
			OfTool: &anthropic.ToolParam{
				Name:        req.Task,
				Description: anthropic.String(req.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: schema.Properties,
					Required:   schema.Required,
				},
			},
		}},
		ToolChoice: anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: req.Task},
		},
	}, nil
}

// extractToolInput finds the forced tool's invocation in the response.
func extractToolInput(msg *anthropic.Message, task string) (json.RawMessage, error) {
	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == task {
			return block.Input, nil
		}
	}
	return nil, fmt.Errorf("claude: no %s tool use in response (stop reason %s)", task, msg.StopReason)
}
