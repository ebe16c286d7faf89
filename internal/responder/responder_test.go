package responder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/bridge"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
	"github.com/nextlevelbuilder/chatbridge/internal/store/mem"
)

// fakeGenerator records the request it was given.
type fakeGenerator struct {
	result *GenerateResult
	err    error
	calls  int
	last   GenerateRequest
}

func (f *fakeGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeGateway records dispatched texts.
type fakeGateway struct {
	mu   sync.Mutex
	sent [][3]string
}

func (f *fakeGateway) CreateInstance(ctx context.Context, name, webhookURL string) error { return nil }
func (f *fakeGateway) Connect(ctx context.Context, name string) (*bridge.ConnectResult, error) {
	return &bridge.ConnectResult{}, nil
}
func (f *fakeGateway) State(ctx context.Context, name string) (*bridge.ConnectionState, error) {
	return &bridge.ConnectionState{Instance: name, State: "open"}, nil
}
func (f *fakeGateway) Logout(ctx context.Context, name string) error { return nil }
func (f *fakeGateway) Delete(ctx context.Context, name string) error { return nil }
func (f *fakeGateway) SendText(ctx context.Context, name, number, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, [3]string{name, number, text})
	return nil
}
func (f *fakeGateway) Ping(ctx context.Context) error { return nil }

type fakeResolver struct{ gw bridge.Gateway }

func (f *fakeResolver) For(ctx context.Context, inst *store.InstanceConfig) (bridge.Gateway, error) {
	return f.gw, nil
}
func (f *fakeResolver) Global(ctx context.Context) (bridge.Gateway, error) { return f.gw, nil }

type respFixture struct {
	responder *Responder
	stores    *store.Stores
	gateway   *fakeGateway
	generator *fakeGenerator
	inst      *store.InstanceConfig
	conv      *store.Conversation
	trigger   *store.Message
}

// newFixture seeds an instance, a conversation and one inbound trigger
// message, plus an optional active binding.
func newFixture(t *testing.T, binding *store.AgentBinding) *respFixture {
	t.Helper()
	ctx := context.Background()
	stores := mem.NewStores()

	inst := &store.InstanceConfig{TenantID: uuid.Must(uuid.NewV7()), Name: "agent-resp-1"}
	if err := stores.Instances.Create(ctx, inst); err != nil {
		t.Fatalf("create instance: %v", err)
	}
	conv, err := stores.Conversations.FindOrCreate(ctx, inst.ID, "5511999999999", "Maria")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	trigger := &store.Message{
		ConversationID: conv.ID,
		InstanceID:     inst.ID,
		ExternalID:     "ext-trigger",
		Direction:      store.DirectionInbound,
		Content:        "what time do you open?",
		MessageType:    "text",
		SentAt:         time.Now().UTC(),
	}
	if err := stores.Messages.Insert(ctx, trigger); err != nil {
		t.Fatalf("insert trigger: %v", err)
	}

	if binding != nil {
		binding.InstanceID = inst.ID
		if binding.AgentID == uuid.Nil {
			binding.AgentID = uuid.Must(uuid.NewV7())
		}
		if err := stores.Bindings.Create(ctx, binding); err != nil {
			t.Fatalf("create binding: %v", err)
		}
	}

	gw := &fakeGateway{}
	gen := &fakeGenerator{result: &GenerateResult{Text: "we open at 9", PromptTokens: 42, CompletionTokens: 7}}
	r := New(stores, &fakeResolver{gw: gw}, gen, "gpt-4o-mini")

	return &respFixture{responder: r, stores: stores, gateway: gw, generator: gen, inst: inst, conv: conv, trigger: trigger}
}

func (f *respFixture) respond(t *testing.T) error {
	t.Helper()
	return f.responder.MaybeRespond(context.Background(), f.inst.ID, f.conv.ID, f.trigger.ID, f.trigger.Content)
}

// TestMaybeRespond_NoBinding verifies a message on an unbound instance
// is a quiet no-op.
func TestMaybeRespond_NoBinding(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.respond(t); err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if f.generator.calls != 0 {
		t.Fatal("generator called without a binding")
	}
	if len(f.gateway.sent) != 0 {
		t.Fatal("reply dispatched without a binding")
	}
}

// TestMaybeRespond_AutoResponseDisabled verifies the auto_response flag
// gates generation entirely.
func TestMaybeRespond_AutoResponseDisabled(t *testing.T) {
	f := newFixture(t, &store.AgentBinding{AutoResponse: false, Active: true})
	if err := f.respond(t); err != nil {
		t.Fatalf("expected nil error, got: %v", err)
	}
	if f.generator.calls != 0 {
		t.Fatal("generator called with auto_response disabled")
	}
}

// TestMaybeRespond_Success verifies the complete pipeline: context
// roles, reply persistence, interaction log, flagging and dispatch.
func TestMaybeRespond_Success(t *testing.T) {
	f := newFixture(t, &store.AgentBinding{
		AutoResponse: true,
		Active:       true,
		ModelName:    "gpt-4o",
		SystemPrompt: "be brief",
	})

	// An earlier exchange to exercise role mapping.
	earlier := &store.Message{
		ConversationID: f.conv.ID,
		InstanceID:     f.inst.ID,
		ExternalID:     "ext-earlier-out",
		Direction:      store.DirectionOutbound,
		Content:        "hello, how can I help?",
		MessageType:    "text",
		SentAt:         f.trigger.SentAt.Add(-time.Minute),
	}
	if err := f.stores.Messages.Insert(context.Background(), earlier); err != nil {
		t.Fatalf("insert earlier: %v", err)
	}

	if err := f.respond(t); err != nil {
		t.Fatalf("respond: %v", err)
	}

	// Generator saw the binding's model and prompt, with history oldest
	// first and roles mapped by direction.
	if f.generator.last.Model != "gpt-4o" || f.generator.last.SystemPrompt != "be brief" {
		t.Fatalf("generator request = %+v", f.generator.last)
	}
	msgs := f.generator.last.Messages
	if len(msgs) != 2 {
		t.Fatalf("context messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != "assistant" || msgs[1].Role != "user" {
		t.Fatalf("roles = [%s, %s], want [assistant, user]", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].Content != "what time do you open?" {
		t.Fatalf("trigger content = %q", msgs[1].Content)
	}

	// The reply was dispatched to the contact.
	if len(f.gateway.sent) != 1 || f.gateway.sent[0][1] != "5511999999999" || f.gateway.sent[0][2] != "we open at 9" {
		t.Fatalf("dispatched = %+v", f.gateway.sent)
	}

	// The reply row is outbound and flagged, the trigger is flagged.
	all, _ := f.stores.Messages.LastN(context.Background(), f.conv.ID, 10)
	if len(all) != 3 {
		t.Fatalf("stored messages = %d, want 3", len(all))
	}
	reply := all[len(all)-1]
	if reply.Direction != store.DirectionOutbound || !reply.AutoResponded || reply.Content != "we open at 9" {
		t.Fatalf("reply row = %+v", reply)
	}
	for _, m := range all {
		if m.ID == f.trigger.ID && !m.AutoResponded {
			t.Fatal("trigger message not flagged auto_responded")
		}
	}

	// The interaction log captured model and token usage.
	interactions := mem.Interactions(f.stores)
	if len(interactions) != 1 {
		t.Fatalf("interactions = %d, want 1", len(interactions))
	}
	it := interactions[0]
	if it.Model != "gpt-4o" || it.PromptTokens != 42 || it.CompletionTokens != 7 {
		t.Fatalf("interaction = %+v", it)
	}
}

// TestMaybeRespond_DefaultModel verifies the configured default model is
// used when the binding has none.
func TestMaybeRespond_DefaultModel(t *testing.T) {
	f := newFixture(t, &store.AgentBinding{AutoResponse: true, Active: true})
	if err := f.respond(t); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if f.generator.last.Model != "gpt-4o-mini" {
		t.Fatalf("model = %q, want default", f.generator.last.Model)
	}
}

// TestMaybeRespond_GeneratorError verifies a provider failure surfaces
// and no reply row is written.
func TestMaybeRespond_GeneratorError(t *testing.T) {
	f := newFixture(t, &store.AgentBinding{AutoResponse: true, Active: true})
	f.generator.err = &ProviderError{Status: 429, Body: "rate limited"}

	err := f.respond(t)
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Status != 429 {
		t.Fatalf("err = %v, want ProviderError 429", err)
	}

	all, _ := f.stores.Messages.LastN(context.Background(), f.conv.ID, 10)
	if len(all) != 1 {
		t.Fatalf("stored messages = %d, want only the trigger", len(all))
	}
	if len(f.gateway.sent) != 0 {
		t.Fatal("reply dispatched despite generator failure")
	}
}

// TestMaybeRespond_ResponseDelayCancellable verifies the configured
// delay honors context cancellation instead of sleeping through it.
func TestMaybeRespond_ResponseDelayCancellable(t *testing.T) {
	f := newFixture(t, &store.AgentBinding{
		AutoResponse:  true,
		Active:        true,
		ResponseDelay: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.responder.MaybeRespond(ctx, f.inst.ID, f.conv.ID, f.trigger.ID, f.trigger.Content)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if f.generator.calls != 0 {
		t.Fatal("generator called after cancellation")
	}
}
