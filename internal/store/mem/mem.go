// Package mem provides the in-memory store implementation the package
// tests run against; semantics mirror the Postgres and SQLite stores,
// including duplicate-key behavior and the conditional status write.
package mem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/chatbridge/internal/store"
)

// state is the shared backing data for all mem stores.
type state struct {
	mu            sync.Mutex
	instances     map[uuid.UUID]*store.InstanceConfig
	bridgeConfigs map[uuid.UUID]*store.BridgeConfig
	bindings      map[uuid.UUID]*store.AgentBinding
	conversations map[uuid.UUID]*store.Conversation
	messages      map[uuid.UUID]*store.Message
	interactions  []store.Interaction
}

// NewStores returns a store.Stores container backed by process-local maps.
func NewStores() *store.Stores {
	st := &state{
		instances:     make(map[uuid.UUID]*store.InstanceConfig),
		bridgeConfigs: make(map[uuid.UUID]*store.BridgeConfig),
		bindings:      make(map[uuid.UUID]*store.AgentBinding),
		conversations: make(map[uuid.UUID]*store.Conversation),
		messages:      make(map[uuid.UUID]*store.Message),
	}
	return &store.Stores{
		Instances:     &instanceStore{st},
		BridgeConfigs: &bridgeConfigStore{st},
		Bindings:      &bindingStore{st},
		Conversations: &conversationStore{st},
		Messages:      &messageStore{st},
		Interactions:  &interactionStore{st},
	}
}

// --- InstanceStore ---

type instanceStore struct{ st *state }

func (s *instanceStore) Create(_ context.Context, inst *store.InstanceConfig) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	for _, other := range s.st.instances {
		if other.TenantID == inst.TenantID && other.Name == inst.Name {
			return store.ErrDuplicate
		}
	}
	if inst.ID == uuid.Nil {
		inst.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	inst.StatusChangedAt = now
	if inst.Status == "" {
		inst.Status = store.StatusDisconnected
	}
	cp := *inst
	s.st.instances[inst.ID] = &cp
	return nil
}

func (s *instanceStore) Get(_ context.Context, id uuid.UUID) (*store.InstanceConfig, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	inst, ok := s.st.instances[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *inst
	return &cp, nil
}

func (s *instanceStore) GetByName(_ context.Context, tenantID uuid.UUID, name string) (*store.InstanceConfig, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for _, inst := range s.st.instances {
		if inst.TenantID == tenantID && inst.Name == name {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *instanceStore) FindByName(_ context.Context, name string) (*store.InstanceConfig, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for _, inst := range s.st.instances {
		if inst.Name == name {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *instanceStore) List(_ context.Context, tenantID uuid.UUID) ([]store.InstanceConfig, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var result []store.InstanceConfig
	for _, inst := range s.st.instances {
		if inst.TenantID == tenantID {
			result = append(result, *inst)
		}
	}
	sortInstances(result)
	return result, nil
}

func (s *instanceStore) ListTransient(_ context.Context) ([]store.InstanceConfig, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var result []store.InstanceConfig
	for _, inst := range s.st.instances {
		if inst.Status.Transient() {
			result = append(result, *inst)
		}
	}
	sortInstances(result)
	return result, nil
}

func (s *instanceStore) ListAll(_ context.Context) ([]store.InstanceConfig, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	result := make([]store.InstanceConfig, 0, len(s.st.instances))
	for _, inst := range s.st.instances {
		result = append(result, *inst)
	}
	sortInstances(result)
	return result, nil
}

func (s *instanceStore) UpdateStatus(_ context.Context, id uuid.UUID, w store.StatusWrite) (store.StatusResult, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()

	inst, ok := s.st.instances[id]
	if !ok {
		return store.StatusResult{}, store.ErrNotFound
	}
	prev := inst.Status

	// Same guard and QR resolution as the Postgres store.
	if !w.ApplicableTo(prev, inst.StatusChangedAt) {
		return store.StatusResult{Applied: false, PrevStatus: prev, NewStatus: prev}, nil
	}

	inst.Status, inst.QRCode, inst.QRExpiresAt = w.Resolve(inst.QRCode, inst.QRExpiresAt)
	inst.StatusChangedAt = w.EventTime.UTC()
	inst.UpdatedAt = time.Now().UTC()
	return store.StatusResult{Applied: true, PrevStatus: prev, NewStatus: inst.Status}, nil
}

func (s *instanceStore) Delete(_ context.Context, id uuid.UUID) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if _, ok := s.st.instances[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.st.instances, id)
	return nil
}

// --- BridgeConfigStore ---

type bridgeConfigStore struct{ st *state }

func (s *bridgeConfigStore) GetActive(_ context.Context) (*store.BridgeConfig, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var newest *store.BridgeConfig
	for _, cfg := range s.st.bridgeConfigs {
		if !cfg.Active {
			continue
		}
		if newest == nil || cfg.UpdatedAt.After(newest.UpdatedAt) {
			newest = cfg
		}
	}
	if newest == nil {
		return nil, store.ErrNotConfigured
	}
	cp := *newest
	return &cp, nil
}

func (s *bridgeConfigStore) Upsert(_ context.Context, cfg *store.BridgeConfig) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	if existing, ok := s.st.bridgeConfigs[cfg.ID]; ok {
		cfg.CreatedAt = existing.CreatedAt
	} else {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	cp := *cfg
	s.st.bridgeConfigs[cfg.ID] = &cp
	return nil
}

// --- BindingStore ---

type bindingStore struct{ st *state }

func (s *bindingStore) Create(_ context.Context, b *store.AgentBinding) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for _, other := range s.st.bindings {
		if other.Active && b.Active && other.AgentID == b.AgentID && other.InstanceID == b.InstanceID {
			return store.ErrDuplicate
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	b.CreatedAt = now
	b.UpdatedAt = now
	cp := *b
	s.st.bindings[b.ID] = &cp
	return nil
}

func (s *bindingStore) GetActiveByAgent(_ context.Context, agentID uuid.UUID) (*store.AgentBinding, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return newestBinding(s.st, func(b *store.AgentBinding) bool { return b.AgentID == agentID })
}

func (s *bindingStore) GetActiveByInstance(_ context.Context, instanceID uuid.UUID) (*store.AgentBinding, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return newestBinding(s.st, func(b *store.AgentBinding) bool { return b.InstanceID == instanceID })
}

func (s *bindingStore) Deactivate(_ context.Context, id uuid.UUID) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	b, ok := s.st.bindings[id]
	if !ok {
		return store.ErrNotFound
	}
	b.Active = false
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func newestBinding(st *state, match func(*store.AgentBinding) bool) (*store.AgentBinding, error) {
	var newest *store.AgentBinding
	for _, b := range st.bindings {
		if b.Active && match(b) {
			if newest == nil || b.CreatedAt.After(newest.CreatedAt) {
				newest = b
			}
		}
	}
	if newest == nil {
		return nil, store.ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

// --- ConversationStore ---

type conversationStore struct{ st *state }

func (s *conversationStore) FindOrCreate(_ context.Context, instanceID uuid.UUID, contact, contactName string) (*store.Conversation, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for _, c := range s.st.conversations {
		if c.InstanceID == instanceID && c.Contact == contact {
			cp := *c
			return &cp, nil
		}
	}
	now := time.Now().UTC()
	c := &store.Conversation{
		ID:            uuid.Must(uuid.NewV7()),
		InstanceID:    instanceID,
		Contact:       contact,
		ContactName:   contactName,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	s.st.conversations[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *conversationStore) Get(_ context.Context, id uuid.UUID) (*store.Conversation, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	c, ok := s.st.conversations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *conversationStore) TouchLastMessage(_ context.Context, id uuid.UUID, at time.Time) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	c, ok := s.st.conversations[id]
	if !ok {
		return store.ErrNotFound
	}
	c.LastMessageAt = at.UTC()
	return nil
}

// --- MessageStore ---

type messageStore struct{ st *state }

func (s *messageStore) Insert(_ context.Context, m *store.Message) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	for _, other := range s.st.messages {
		if other.InstanceID == m.InstanceID && other.ExternalID == m.ExternalID {
			return store.ErrDuplicate
		}
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.Must(uuid.NewV7())
	}
	m.CreatedAt = time.Now().UTC()
	cp := *m
	s.st.messages[m.ID] = &cp
	return nil
}

func (s *messageStore) LastN(_ context.Context, conversationID uuid.UUID, n int) ([]store.Message, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	var result []store.Message
	for _, m := range s.st.messages {
		if m.ConversationID == conversationID {
			result = append(result, *m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SentAt.Before(result[j].SentAt) })
	if len(result) > n {
		result = result[len(result)-n:]
	}
	return result, nil
}

func (s *messageStore) MarkAutoResponded(_ context.Context, id uuid.UUID) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	m, ok := s.st.messages[id]
	if !ok {
		return store.ErrNotFound
	}
	m.AutoResponded = true
	return nil
}

// --- InteractionStore ---

type interactionStore struct{ st *state }

func (s *interactionStore) Insert(_ context.Context, it *store.Interaction) error {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if it.ID == uuid.Nil {
		it.ID = uuid.Must(uuid.NewV7())
	}
	it.CreatedAt = time.Now().UTC()
	s.st.interactions = append(s.st.interactions, *it)
	return nil
}

// Interactions exposes recorded interactions for assertions in tests.
func Interactions(stores *store.Stores) []store.Interaction {
	is, ok := stores.Interactions.(*interactionStore)
	if !ok {
		return nil
	}
	is.st.mu.Lock()
	defer is.st.mu.Unlock()
	out := make([]store.Interaction, len(is.st.interactions))
	copy(out, is.st.interactions)
	return out
}

func sortInstances(list []store.InstanceConfig) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID.String() < list[j].ID.String()
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}
