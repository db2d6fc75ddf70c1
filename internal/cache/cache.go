package cache

import (
	"context"
	"sync"
	"time"

	"pharmledger/backend/internal/domain"
)

// DraftStore keeps at most one checkout draft per operator and scope. Drafts
// expire after the ttl given to Set.
type DraftStore interface {
	Get(ctx context.Context, username string, scope domain.Scope) (*domain.CheckoutDraft, bool, error)
	Set(ctx context.Context, draft *domain.CheckoutDraft, ttl time.Duration) error
	Delete(ctx context.Context, username string, scope domain.Scope) error
}

func draftKey(username string, scope domain.Scope) string {
	return "pharmledger:draft:" + string(scope) + ":" + username
}

type MemoryDraftStore struct {
	mu     sync.Mutex
	drafts map[string]domain.CheckoutDraft
	now    func() time.Time
}

func NewMemoryDraftStore() *MemoryDraftStore {
	return &MemoryDraftStore{
		drafts: make(map[string]domain.CheckoutDraft),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (c *MemoryDraftStore) Get(_ context.Context, username string, scope domain.Scope) (*domain.CheckoutDraft, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := draftKey(username, scope)
	draft, ok := c.drafts[key]
	if !ok {
		return nil, false, nil
	}
	if !draft.ExpiresAt.IsZero() && !c.now().Before(draft.ExpiresAt) {
		delete(c.drafts, key)
		return nil, false, nil
	}
	draft.Tenders = append([]domain.TenderInput(nil), draft.Tenders...)
	return &draft, true, nil
}

func (c *MemoryDraftStore) Set(_ context.Context, draft *domain.CheckoutDraft, ttl time.Duration) error {
	if draft == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *draft
	stored.Tenders = append([]domain.TenderInput(nil), draft.Tenders...)
	if ttl > 0 {
		stored.ExpiresAt = c.now().Add(ttl)
	}
	c.drafts[draftKey(draft.Username, draft.Scope)] = stored
	return nil
}

func (c *MemoryDraftStore) Delete(_ context.Context, username string, scope domain.Scope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.drafts, draftKey(username, scope))
	return nil
}
