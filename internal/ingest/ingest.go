// Package ingest turns relayed message events into conversation and
// message rows. Delivery from the gateway is at-least-once, so every
// step is idempotent on the gateway-supplied external message id.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/bridge"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// ErrMalformedEvent marks an event missing its routing key. Logged and
// dropped without retry: redelivery of the same event would fail
// identically.
var ErrMalformedEvent = errors.New("malformed message event")

// AutoResponder is the downstream trigger invoked for qualifying
// inbound messages. Implemented by the responder package.
type AutoResponder interface {
	MaybeRespond(ctx context.Context, instanceID, conversationID, messageID uuid.UUID, content string) error
}

// Transcriber converts referenced audio media into text. Implemented by
// the responder package's audio pipeline.
type Transcriber interface {
	TranscribeURL(ctx context.Context, url, declaredMime string) (string, error)
}

// Ingestor maps relayed events onto conversations and messages.
type Ingestor struct {
	conversations store.ConversationStore
	messages      store.MessageStore
	responder     AutoResponder
	transcriber   Transcriber
}

func New(conversations store.ConversationStore, messages store.MessageStore, responder AutoResponder, transcriber Transcriber) *Ingestor {
	return &Ingestor{
		conversations: conversations,
		messages:      messages,
		responder:     responder,
		transcriber:   transcriber,
	}
}

// Ingest processes one messages.upsert event for an instance.
//
// The conversation is created lazily; a duplicate-key race with a
// concurrent ingest resolves to the existing row. A message whose
// external id was already stored is a redelivery and is skipped
// entirely, so the auto-response trigger fires at most once per
// inbound message.
func (i *Ingestor) Ingest(ctx context.Context, inst *store.InstanceConfig, ev *bridge.MessageUpsertData) error {
	contact := normalizeContact(ev.Key.RemoteJID)
	if contact == "" {
		return fmt.Errorf("%w: missing remote routing key", ErrMalformedEvent)
	}
	if ev.Key.ID == "" {
		return fmt.Errorf("%w: missing external message id", ErrMalformedEvent)
	}

	content := ev.Message.Text()
	messageType := "text"

	if audio := ev.Message.AudioMessage; audio != nil {
		messageType = "audio"
		if i.transcriber != nil && audio.URL != "" {
			transcript, err := i.transcriber.TranscribeURL(ctx, audio.URL, audio.MimeType)
			if err != nil {
				return fmt.Errorf("transcribe audio message %s: %w", ev.Key.ID, err)
			}
			content = transcript
		}
	}

	conv, err := i.conversations.FindOrCreate(ctx, inst.ID, contact, ev.PushName)
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}

	direction := store.DirectionInbound
	if ev.Key.FromMe {
		direction = store.DirectionOutbound
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		InstanceID:     inst.ID,
		ExternalID:     ev.Key.ID,
		Direction:      direction,
		Content:        content,
		MessageType:    messageType,
		SentAt:         ev.SentAt(),
	}
	if err := i.messages.Insert(ctx, msg); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// At-least-once redelivery: already ingested, nothing to do.
			slog.Debug("duplicate message event skipped",
				"instance", inst.Name, "external_id", ev.Key.ID)
			return nil
		}
		return fmt.Errorf("insert message: %w", err)
	}

	if err := i.conversations.TouchLastMessage(ctx, conv.ID, msg.SentAt); err != nil {
		slog.Warn("failed to update conversation last_message_at",
			"conversation", conv.ID, "error", err)
	}

	// Self-sent messages never trigger automated responses.
	if direction != store.DirectionInbound || i.responder == nil {
		return nil
	}
	if err := i.responder.MaybeRespond(ctx, inst.ID, conv.ID, msg.ID, content); err != nil {
		return fmt.Errorf("auto-response for message %s: %w", ev.Key.ID, err)
	}
	return nil
}

// normalizeContact strips the transport suffix from a routing key
// (e.g. "5511999999999@s.whatsapp.net" -> "5511999999999").
func normalizeContact(remoteJID string) string {
	jid := strings.TrimSpace(remoteJID)
	if jid == "" {
		return ""
	}
	if at := strings.IndexByte(jid, '@'); at >= 0 {
		jid = jid[:at]
	}
	return jid
}
