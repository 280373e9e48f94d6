// Package llm provides task executors backed by Gemini, either through
// one-shot generation or through the ADK agent runtime.
package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"

	"github.com/hegna/taskcore/internal/task"
)

type Client struct {
	genaiClient *genai.Client
	apiKey      string
	model       string
}

// NewClient creates a new LLM client for the given model
func NewClient(ctx context.Context, apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("no API key configured")
	}

	// Initialize GenAI client with Gemini API backend
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &Client{
		genaiClient: client,
		apiKey:      apiKey,
		model:       modelName,
	}, nil
}

// Close is a no-op for genai.Client (no cleanup needed)
func (c *Client) Close() error {
	return nil
}

// GenerateText runs the full conversation through the model in one call
// and returns the complete response.
func (c *Client) GenerateText(ctx context.Context, history []task.Message) (string, error) {
	contents := toContents(history)
	if len(contents) == 0 {
		return "", fmt.Errorf("empty message history")
	}

	resp, err := c.genaiClient.Models.GenerateContent(ctx, c.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return resp.Text(), nil
}

// GetGeminiModel returns a model.LLM instance for use with ADK agents
func (c *Client) GetGeminiModel(ctx context.Context) (model.LLM, error) {
	llmModel, err := gemini.NewModel(ctx, c.model, &genai.ClientConfig{
		APIKey:  c.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini model: %w", err)
	}
	return llmModel, nil
}

// toContents converts a task message history to genai contents. System
// messages become user-role preamble, agent messages map to the model
// role.
func toContents(history []task.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		text := m.Text()
		if text == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if m.Role == task.RoleAgent {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}
	return contents
}

// flatten renders a history as a single prompt, used where a plain text
// prompt is required.
func flatten(history []task.Message) string {
	var sb strings.Builder
	for _, m := range history {
		text := m.Text()
		if text == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", m.Role, text))
	}
	return sb.String()
}
