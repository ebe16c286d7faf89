package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/chatbridge/internal/bridge"
	"github.com/nextlevelbuilder/chatbridge/internal/ingest"
	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// handleWebhook receives gateway event pushes. The gateway treats any
// non-2xx as a delivery failure and retries, so only transient
// processing errors return 500. Unknown events, events for instances
// this service no longer tracks, and malformed events are acknowledged
// as successes: redelivering a malformed event would fail identically,
// so it is logged and dropped instead of bounced.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var ev bridge.WebhookEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&ev); err != nil {
		writeWebhookError(w, "malformed event payload", err)
		return
	}

	ctx, span := s.tracer.Start(r.Context(), "webhook.handle", trace.WithAttributes(
		attribute.String("bridge.event", ev.Event),
		attribute.String("bridge.instance", ev.Instance),
	))
	defer span.End()

	if err := s.processEvent(ctx, &ev); err != nil {
		if errors.Is(err, ingest.ErrMalformedEvent) {
			slog.Warn("malformed webhook event dropped",
				"event", ev.Event, "instance", ev.Instance, "error", err)
			writeJSON(w, http.StatusOK, map[string]bool{"success": true})
			return
		}
		span.RecordError(err)
		slog.Error("webhook processing failed",
			"event", ev.Event, "instance", ev.Instance, "error", err)
		writeWebhookError(w, "event processing failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) processEvent(ctx context.Context, ev *bridge.WebhookEvent) error {
	kind := ev.Kind()
	if kind == bridge.KindUnknown {
		slog.Debug("ignoring unknown webhook event", "event", ev.Event)
		return nil
	}

	inst, err := s.stores.Instances.FindByName(ctx, ev.Instance)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("webhook for untracked instance", "instance", ev.Instance, "event", ev.Event)
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve instance %q: %w", ev.Instance, err)
	}

	now := time.Now().UTC()
	switch kind {
	case bridge.KindConnectionUpdate:
		var data bridge.ConnectionUpdateData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return fmt.Errorf("%w: decode connection.update: %v", ingest.ErrMalformedEvent, err)
		}
		return s.rec.ApplyConnectionState(ctx, inst.ID, data.State, now)

	case bridge.KindQRCodeUpdated:
		var data bridge.QRCodeUpdatedData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return fmt.Errorf("%w: decode qrcode.updated: %v", ingest.ErrMalformedEvent, err)
		}
		qr := data.QRCode.Base64
		if qr == "" {
			qr = data.QRCode.Code
		}
		if qr == "" {
			return fmt.Errorf("%w: qrcode.updated without QR payload", ingest.ErrMalformedEvent)
		}
		return s.rec.ApplyQR(ctx, inst.ID, qr, now)

	case bridge.KindMessagesUpsert:
		var data bridge.MessageUpsertData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			return fmt.Errorf("%w: decode messages.upsert: %v", ingest.ErrMalformedEvent, err)
		}
		return s.ingestor.Ingest(ctx, inst, &data)
	}
	return nil
}

// handleWebhookPreflight answers the gateway's OPTIONS health check.
func (s *Server) handleWebhookPreflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

func writeWebhookError(w http.ResponseWriter, msg string, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":   msg,
		"details": err.Error(),
	})
}
