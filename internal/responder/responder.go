// Package responder triggers automated responses for qualifying inbound
// messages and runs the generation pipeline against the language-model
// provider.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/bridge"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// contextWindow is how many recent conversation messages are sent to the
// provider as context, oldest first.
const contextWindow = 10

// ChatMessage is one provider-facing conversation turn.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// GenerateRequest is the input to one generation call.
type GenerateRequest struct {
	Model        string
	SystemPrompt string
	Messages     []ChatMessage
}

// GenerateResult carries the generated text plus token-usage metadata.
type GenerateResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Generator produces one automated response. *OpenAIGenerator implements
// it; tests substitute fakes.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// Responder is the auto-response trigger plus result persistence.
type Responder struct {
	stores    *store.Stores
	resolver  bridge.ClientResolver
	generator Generator

	defaultModel string
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

func New(stores *store.Stores, resolver bridge.ClientResolver, generator Generator, defaultModel string) *Responder {
	return &Responder{
		stores:       stores,
		resolver:     resolver,
		generator:    generator,
		defaultModel: defaultModel,
		now:          time.Now,
		sleep:        sleepCtx,
	}
}

// MaybeRespond generates and dispatches an automated reply for an
// inbound message. A missing binding, an inactive binding or a disabled
// auto_response flag is a quiet no-op, not an error.
func (r *Responder) MaybeRespond(ctx context.Context, instanceID, conversationID, messageID uuid.UUID, content string) error {
	binding, err := r.stores.Bindings.GetActiveByInstance(ctx, instanceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup binding: %w", err)
	}
	if !binding.AutoResponse {
		return nil
	}

	if binding.ResponseDelay > 0 {
		if err := r.sleep(ctx, binding.ResponseDelay); err != nil {
			return err
		}
	}

	chat, err := r.buildContext(ctx, conversationID, messageID, content)
	if err != nil {
		return err
	}

	model := binding.ModelName
	if model == "" {
		model = r.defaultModel
	}

	start := r.now()
	result, err := r.generator.Generate(ctx, GenerateRequest{
		Model:        model,
		SystemPrompt: binding.SystemPrompt,
		Messages:     chat,
	})
	latency := r.now().Sub(start)
	if err != nil {
		return fmt.Errorf("generate response: %w", err)
	}

	return r.persistAndDispatch(ctx, binding, instanceID, conversationID, messageID, model, result, latency)
}

// buildContext gathers the last messages of the conversation oldest
// first, mapping outbound to assistant and inbound to user. The
// triggering message is appended if the history read raced ahead of it.
func (r *Responder) buildContext(ctx context.Context, conversationID, messageID uuid.UUID, content string) ([]ChatMessage, error) {
	history, err := r.stores.Messages.LastN(ctx, conversationID, contextWindow)
	if err != nil {
		return nil, fmt.Errorf("load conversation context: %w", err)
	}

	chat := make([]ChatMessage, 0, len(history)+1)
	seenTrigger := false
	for _, m := range history {
		role := "user"
		if m.Direction == store.DirectionOutbound {
			role = "assistant"
		}
		chat = append(chat, ChatMessage{Role: role, Content: m.Content})
		if m.ID == messageID {
			seenTrigger = true
		}
	}
	if !seenTrigger {
		chat = append(chat, ChatMessage{Role: "user", Content: content})
	}
	return chat, nil
}

func (r *Responder) persistAndDispatch(ctx context.Context, binding *store.AgentBinding, instanceID, conversationID, messageID uuid.UUID, model string, result *GenerateResult, latency time.Duration) error {
	now := r.now().UTC()

	reply := &store.Message{
		ConversationID: conversationID,
		InstanceID:     instanceID,
		ExternalID:     "auto-" + uuid.Must(uuid.NewV7()).String(),
		Direction:      store.DirectionOutbound,
		Content:        result.Text,
		MessageType:    "text",
		AutoResponded:  true,
		SentAt:         now,
	}
	if err := r.stores.Messages.Insert(ctx, reply); err != nil {
		return fmt.Errorf("persist generated reply: %w", err)
	}
	if err := r.stores.Messages.MarkAutoResponded(ctx, messageID); err != nil {
		slog.Warn("failed to flag triggering message", "message", messageID, "error", err)
	}
	if err := r.stores.Conversations.TouchLastMessage(ctx, conversationID, now); err != nil {
		slog.Warn("failed to update conversation timestamp", "conversation", conversationID, "error", err)
	}

	if err := r.stores.Interactions.Insert(ctx, &store.Interaction{
		BindingID:        binding.ID,
		ConversationID:   conversationID,
		Model:            model,
		PromptTokens:     result.PromptTokens,
		CompletionTokens: result.CompletionTokens,
		LatencyMS:        int(latency.Milliseconds()),
	}); err != nil {
		slog.Warn("failed to record interaction", "conversation", conversationID, "error", err)
	}

	return r.dispatch(ctx, instanceID, conversationID, result.Text)
}

// dispatch relays the generated reply back through the gateway.
func (r *Responder) dispatch(ctx context.Context, instanceID, conversationID uuid.UUID, text string) error {
	inst, err := r.stores.Instances.Get(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("load instance for dispatch: %w", err)
	}
	conv, err := r.stores.Conversations.Get(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation for dispatch: %w", err)
	}
	gw, err := r.resolver.For(ctx, inst)
	if err != nil {
		return err
	}
	if err := gw.SendText(ctx, inst.Name, conv.Contact, text); err != nil {
		return fmt.Errorf("dispatch reply: %w", err)
	}

	slog.Info("automated response dispatched",
		"instance", inst.Name, "conversation", conversationID, "chars", len(text))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
