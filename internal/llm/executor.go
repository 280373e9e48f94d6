package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/hegna/taskcore/internal/task"
	"github.com/hegna/taskcore/internal/worker"
)

// NewBatchExecutor returns an executor that sends the full history to
// the model and yields the complete response as one chunk.
func NewBatchExecutor(client *Client) worker.Executor {
	return worker.BatchExecutor(func(ctx context.Context, history []task.Message) (string, error) {
		return client.GenerateText(ctx, history)
	})
}

// AgentExecutor runs tasks through an ADK agent. Each invocation gets
// its own in-memory session; agent events are yielded as they arrive,
// which gives streaming callers incremental chunks.
type AgentExecutor struct {
	client      *Client
	appName     string
	instruction string
}

// NewAgentExecutor creates an agent-backed executor.
func NewAgentExecutor(client *Client, appName, instruction string) *AgentExecutor {
	if appName == "" {
		appName = "taskcore"
	}
	return &AgentExecutor{client: client, appName: appName, instruction: instruction}
}

// Invoke implements the worker executor contract.
func (e *AgentExecutor) Invoke(ctx context.Context, history []task.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if len(history) == 0 {
			yield("", fmt.Errorf("empty message history"))
			return
		}

		geminiModel, err := e.client.GetGeminiModel(ctx)
		if err != nil {
			yield("", fmt.Errorf("failed to get Gemini model: %w", err))
			return
		}

		agt, err := llmagent.New(llmagent.Config{
			Name:        e.appName,
			Description: "Executes submitted tasks and produces artifacts",
			Model:       geminiModel,
			Instruction: e.instruction,
		})
		if err != nil {
			yield("", fmt.Errorf("failed to create agent: %w", err))
			return
		}

		sessionService := session.InMemoryService()
		r, err := runner.New(runner.Config{
			AppName:        e.appName,
			Agent:          agt,
			SessionService: sessionService,
		})
		if err != nil {
			yield("", fmt.Errorf("failed to create runner: %w", err))
			return
		}

		sessionID := uuid.NewString()
		_, err = sessionService.Create(ctx, &session.CreateRequest{
			AppName:   e.appName,
			UserID:    "user",
			SessionID: sessionID,
		})
		if err != nil {
			yield("", fmt.Errorf("failed to create session: %w", err))
			return
		}

		// The latest message drives the turn; everything before it is
		// folded into a single context prompt.
		last := history[len(history)-1]
		prompt := last.Text()
		if len(history) > 1 {
			prompt = fmt.Sprintf("Conversation so far:\n%s\nRespond to the last %s message.", flatten(history), last.Role)
		}
		userMessage := genai.NewContentFromText(prompt, genai.RoleUser)

		slog.Debug("agent invocation starting", "session", sessionID, "messages", len(history))

		for event, err := range r.Run(ctx, "user", sessionID, userMessage, agent.RunConfig{}) {
			if err != nil {
				yield("", fmt.Errorf("agent execution failed: %w", err))
				return
			}
			if event == nil || event.Content == nil {
				continue
			}
			for _, part := range event.Content.Parts {
				if part.Text == "" {
					continue
				}
				if !yield(part.Text, nil) {
					return
				}
			}
		}
	}
}
