package ai

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/studybuddy-ai/server/internal/model/chat"
)

const defaultSystemPrompt = "You are a helpful assistant. Answer the user's questions clearly and concisely."

// ClientError marks an upstream rejection of the request itself
// (malformed input, context too long). It is never retried and its
// message is surfaced to the caller verbatim.
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string { return e.Message }

// RetryPolicy bounds how generation failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Service generates chat completions through a compiled eino chain.
type Service struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	policy RetryPolicy
}

// NewService compiles the prompt template and chat model into a chain.
func NewService(ctx context.Context, chatModel model.BaseChatModel, policy RetryPolicy) (*Service, error) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}

	return &Service{chain: runnable, policy: policy}, nil
}

// Generate produces a reply for the conversation history, optionally
// grounded by retrieved system context. Transient failures are retried
// with exponential backoff up to the policy's attempt budget.
func (s *Service) Generate(ctx context.Context, history []chat.Message, systemContext string) (string, error) {
	system := systemContext
	if strings.TrimSpace(system) == "" {
		system = defaultSystemPrompt
	}

	input := map[string]any{
		"system":  system,
		"history": historyMessages(history),
	}

	var lastErr error
	delay := s.policy.BaseDelay
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		response, err := s.chain.Invoke(ctx, input)
		if err == nil {
			return response.Content, nil
		}
		if isClientError(err) {
			return "", &ClientError{Message: err.Error()}
		}

		lastErr = err
		if attempt == s.policy.MaxAttempts {
			break
		}

		log.Printf("[ai] generation attempt %d/%d failed, retrying in %s: %v", attempt, s.policy.MaxAttempts, delay, err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if s.policy.MaxDelay > 0 && delay > s.policy.MaxDelay {
			delay = s.policy.MaxDelay
		}
	}

	return "", fmt.Errorf("generate after %d attempts: %w", s.policy.MaxAttempts, lastErr)
}

// historyMessages maps the internal role vocabulary onto the model's:
// user stays user, model becomes an assistant turn.
func historyMessages(messages []chat.Message) []*schema.Message {
	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Text()))
		case chat.RoleModel:
			history = append(history, schema.AssistantMessage(msg.Text(), nil))
		}
	}
	return history
}

func isClientError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "status code: 400") ||
		strings.Contains(msg, "bad request") ||
		strings.Contains(msg, "invalidparameter")
}
