package countdown

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
)

// StateStore persists per-campaign schedule state.
type StateStore interface {
	Get(ctx context.Context, orgID, campaignID string) (domain.CampaignScheduleState, bool, error)
	Put(ctx context.Context, orgID string, s domain.CampaignScheduleState) error
	Delete(ctx context.Context, orgID, campaignID string) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]domain.CampaignScheduleState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]domain.CampaignScheduleState)}
}

func memKey(orgID, campaignID string) string { return orgID + "/" + campaignID }

func (m *MemoryStore) Get(_ context.Context, orgID, campaignID string) (domain.CampaignScheduleState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[memKey(orgID, campaignID)]
	return s, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, orgID string, s domain.CampaignScheduleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[memKey(orgID, s.CampaignID)] = s
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, orgID, campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, memKey(orgID, campaignID))
	return nil
}

// RedisStore keeps states as JSON strings under prefix+org+":"+campaign so
// countdowns survive a restart.
type RedisStore struct {
	client goredis.UniversalClient
	prefix string
}

func NewRedisStore(client goredis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (r *RedisStore) key(orgID, campaignID string) string {
	return fmt.Sprintf("%s%s:%s", r.prefix, orgID, campaignID)
}

func (r *RedisStore) Get(ctx context.Context, orgID, campaignID string) (domain.CampaignScheduleState, bool, error) {
	var s domain.CampaignScheduleState
	raw, err := r.client.Get(ctx, r.key(orgID, campaignID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return s, false, nil
	}
	if err != nil {
		return s, false, fmt.Errorf("redis get countdown state: %w", err)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, false, fmt.Errorf("decode countdown state: %w", err)
	}
	return s, true, nil
}

func (r *RedisStore) Put(ctx context.Context, orgID string, s domain.CampaignScheduleState) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Set(ctx, r.key(orgID, s.CampaignID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set countdown state: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, orgID, campaignID string) error {
	return r.client.Del(ctx, r.key(orgID, campaignID)).Err()
}

// Ping reports whether the redis server is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
