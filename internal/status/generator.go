// Package status turns a user's recent activity into a short status line
// with an emoji, stores it on the status row, and mirrors it to Slack when a
// token is configured.
package status

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Line is one generated status.
type Line struct {
	Text  string `json:"status"`
	Emoji string `json:"emoji"`
}

// Generator produces a status line from a serialized activity prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Line, error)
}

const systemPrompt = `You write Slack statuses, based on the current user activity.

Return your result ONLY by calling the tool "set_slack_status".
Do not output normal text.`

const toolName = "set_slack_status"

// ChatService defines the interface for making chat completion API calls.
// This abstraction enables testing without calling the real OpenAI API.
type ChatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Compile-time interface check
var _ Generator = (*OpenAI)(nil)

// OpenAI implements Generator using OpenAI's chat completion API with a
// forced tool call, so the response is always structured.
type OpenAI struct {
	chat  ChatService
	model string
}

// NewOpenAI creates a new OpenAI status generator
func NewOpenAI(apiKey, model string) *OpenAI {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAI{
		chat:  client.Chat.Completions,
		model: model,
	}
}

// Generate asks the model for a short status line and emoji.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (Line, error) {
	resp, err := o.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.F(o.model),
		Messages: openai.F([]openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		}),
		Tools: openai.F([]openai.ChatCompletionToolParam{{
			Type: openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(openai.FunctionDefinitionParam{
				Name:        openai.F(toolName),
				Description: openai.F("Set my current Slack status."),
				Parameters: openai.F(openai.FunctionParameters{
					"type": "object",
					"properties": map[string]any{
						"status": map[string]any{
							"type":        "string",
							"description": "A short, single-line description of my current activity (10-20 words).",
						},
						"emoji": map[string]any{
							"type":        "string",
							"description": "A single Slack emoji code, e.g. :ramen:",
						},
					},
					"required": []string{"status", "emoji"},
				}),
			}),
		}}),
		ToolChoice: openai.F[openai.ChatCompletionToolChoiceOptionUnionParam](
			openai.ChatCompletionNamedToolChoiceParam{
				Type: openai.F(openai.ChatCompletionNamedToolChoiceTypeFunction),
				Function: openai.F(openai.ChatCompletionNamedToolChoiceFunctionParam{
					Name: openai.F(toolName),
				}),
			},
		),
	})
	if err != nil {
		return Line{}, fmt.Errorf("status generation failed: %w", err)
	}

	if len(resp.Choices) == 0 || len(resp.Choices[0].Message.ToolCalls) == 0 {
		return Line{}, fmt.Errorf("status generation failed: no tool call returned")
	}
	call := resp.Choices[0].Message.ToolCalls[0]
	if call.Function.Name != toolName {
		return Line{}, fmt.Errorf("status generation failed: unexpected tool %q", call.Function.Name)
	}

	var line Line
	if err := json.Unmarshal([]byte(call.Function.Arguments), &line); err != nil {
		return Line{}, fmt.Errorf("status generation failed: decode tool arguments: %w", err)
	}
	if line.Text == "" {
		return Line{}, fmt.Errorf("status generation failed: empty status")
	}
	return line, nil
}
