package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

func newTestStores(t *testing.T) *store.Stores {
	t.Helper()
	stores, err := NewStores(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite stores: %v", err)
	}
	return stores
}

func createInstance(t *testing.T, stores *store.Stores, name string) *store.InstanceConfig {
	t.Helper()
	inst := &store.InstanceConfig{TenantID: uuid.Must(uuid.NewV7()), Name: name}
	if err := stores.Instances.Create(context.Background(), inst); err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return inst
}

// TestInstances_CreateAndRoundTrip verifies an instance row survives a
// write and read with all fields intact.
func TestInstances_CreateAndRoundTrip(t *testing.T) {
	stores := newTestStores(t)
	inst := createInstance(t, stores, "agent-lite-1")

	got, err := stores.Instances.Get(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("get instance: %v", err)
	}
	if got.Name != "agent-lite-1" || got.TenantID != inst.TenantID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Status != store.StatusDisconnected {
		t.Fatalf("status = %s, want disconnected", got.Status)
	}

	byName, err := stores.Instances.FindByName(context.Background(), "agent-lite-1")
	if err != nil || byName.ID != inst.ID {
		t.Fatalf("find by name: %v, %v", byName, err)
	}
}

// TestInstances_DuplicateName verifies the tenant-scoped unique index
// surfaces as ErrDuplicate.
func TestInstances_DuplicateName(t *testing.T) {
	stores := newTestStores(t)
	inst := createInstance(t, stores, "agent-lite-dup")

	err := stores.Instances.Create(context.Background(), &store.InstanceConfig{
		TenantID: inst.TenantID,
		Name:     "agent-lite-dup",
	})
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

// TestInstances_StatusWriteSemantics verifies the conditional write
// behaves like the other backends: a QR write lands with its payload,
// a payload-less qr_ready keeps it, connected clears it, and a pairing
// state arriving after connected is rejected.
func TestInstances_StatusWriteSemantics(t *testing.T) {
	stores := newTestStores(t)
	inst := createInstance(t, stores, "agent-lite-2")
	ctx := context.Background()

	base := time.Now()
	qr := "QR-PAYLOAD"
	expires := base.Add(store.QRValidity)
	res, err := stores.Instances.UpdateStatus(ctx, inst.ID, store.StatusWrite{
		Status:      store.StatusQRReady,
		QRCode:      &qr,
		QRExpiresAt: &expires,
		EventTime:   base,
	})
	if err != nil || !res.Applied {
		t.Fatalf("qr write: %+v, %v", res, err)
	}

	// A connection.update token carries no payload; the offered QR stays.
	res, err = stores.Instances.UpdateStatus(ctx, inst.ID, store.StatusWrite{
		Status:    store.StatusQRReady,
		EventTime: base.Add(time.Second),
	})
	if err != nil || !res.Applied || res.NewStatus != store.StatusQRReady {
		t.Fatalf("payload-less qr write: %+v, %v", res, err)
	}
	got, err := stores.Instances.Get(ctx, inst.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.QRCode == nil || *got.QRCode != qr {
		t.Fatalf("qr_code = %v, want retained payload", got.QRCode)
	}

	// Connect clears QR fields.
	if _, err := stores.Instances.UpdateStatus(ctx, inst.ID, store.StatusWrite{
		Status:    store.StatusConnected,
		EventTime: base.Add(2 * time.Second),
	}); err != nil {
		t.Fatalf("connect write: %v", err)
	}
	got, _ = stores.Instances.Get(ctx, inst.ID)
	if got.Status != store.StatusConnected || got.QRCode != nil || got.QRExpiresAt != nil {
		t.Fatalf("after connect: %+v", got)
	}

	// A reordered pairing event never pulls a connected instance back.
	res, err = stores.Instances.UpdateStatus(ctx, inst.ID, store.StatusWrite{
		Status:    store.StatusQRReady,
		QRCode:    &qr,
		EventTime: base.Add(3 * time.Second),
	})
	if err != nil || res.Applied {
		t.Fatalf("late qr write applied: %+v, %v", res, err)
	}
	got, _ = stores.Instances.Get(ctx, inst.ID)
	if got.Status != store.StatusConnected {
		t.Fatalf("status = %s, want connected", got.Status)
	}
}

// TestInstances_PayloadLessQROnFreshRow verifies a qr_ready write with
// no payload and no stored QR lands as connecting, keeping the QR/status
// consistency check satisfied.
func TestInstances_PayloadLessQROnFreshRow(t *testing.T) {
	stores := newTestStores(t)
	inst := createInstance(t, stores, "agent-lite-3")

	res, err := stores.Instances.UpdateStatus(context.Background(), inst.ID, store.StatusWrite{
		Status:    store.StatusQRReady,
		EventTime: time.Now(),
	})
	if err != nil || !res.Applied {
		t.Fatalf("write: %+v, %v", res, err)
	}
	if res.NewStatus != store.StatusConnecting {
		t.Fatalf("new status = %s, want connecting", res.NewStatus)
	}
	got, _ := stores.Instances.Get(context.Background(), inst.ID)
	if got.Status != store.StatusConnecting || got.QRCode != nil {
		t.Fatalf("row = %+v, want connecting with nil qr", got)
	}
}

// TestMessages_DuplicateExternalID verifies the redelivery guard.
func TestMessages_DuplicateExternalID(t *testing.T) {
	stores := newTestStores(t)
	inst := createInstance(t, stores, "agent-lite-4")
	ctx := context.Background()

	conv, err := stores.Conversations.FindOrCreate(ctx, inst.ID, "5511999990000", "Ana")
	if err != nil {
		t.Fatalf("find or create conversation: %v", err)
	}

	msg := &store.Message{
		ConversationID: conv.ID,
		InstanceID:     inst.ID,
		ExternalID:     "EXT-LITE-1",
		Direction:      store.DirectionInbound,
		Content:        "hello",
		MessageType:    "text",
		SentAt:         time.Now(),
	}
	if err := stores.Messages.Insert(ctx, msg); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	redelivery := *msg
	redelivery.ID = uuid.Nil
	if err := stores.Messages.Insert(ctx, &redelivery); !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	rows, err := stores.Messages.LastN(ctx, conv.ID, 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("rows = %d (%v), want 1", len(rows), err)
	}
}

// TestBridgeConfigs_UpsertAndGetActive verifies the credential store,
// including the not-configured sentinel on an empty table.
func TestBridgeConfigs_UpsertAndGetActive(t *testing.T) {
	stores := newTestStores(t)
	ctx := context.Background()

	if _, err := stores.BridgeConfigs.GetActive(ctx); !errors.Is(err, store.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}

	cfg := &store.BridgeConfig{APIURL: "https://gateway.test", APIKey: "key-1", Active: true}
	if err := stores.BridgeConfigs.Upsert(ctx, cfg); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	cfg.APIKey = "key-2"
	if err := stores.BridgeConfigs.Upsert(ctx, cfg); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := stores.BridgeConfigs.GetActive(ctx)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if got.ID != cfg.ID || got.APIKey != "key-2" {
		t.Fatalf("active config = %+v", got)
	}
}

// TestStores_PersistAcrossReopen verifies data written through one
// handle is visible after closing and reopening the same file.
func TestStores_PersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	stores, err := NewStores(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	inst := &store.InstanceConfig{TenantID: uuid.Must(uuid.NewV7()), Name: "agent-lite-5"}
	if err := stores.Instances.Create(context.Background(), inst); err != nil {
		t.Fatalf("create: %v", err)
	}

	reopened, err := NewStores(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Instances.FindByName(context.Background(), "agent-lite-5")
	if err != nil {
		t.Fatalf("find after reopen: %v", err)
	}
	if got.ID != inst.ID {
		t.Fatalf("id = %s, want %s", got.ID, inst.ID)
	}
}
