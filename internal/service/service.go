package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"pharmledger/backend/internal/cache"
	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/ledger"
	"pharmledger/backend/internal/logger"
	"pharmledger/backend/internal/metrics"
	"pharmledger/backend/internal/store"
	"pharmledger/backend/internal/xid"
)

const (
	defaultReservationTTL = 30 * time.Minute
	defaultDraftTTL       = 15 * time.Minute
	defaultAlertDays      = 90
	dateLayout            = "2006-01-02"
)

var (
	ErrAdminRequired    = errors.New("admin role required")
	ErrOperatorRequired = errors.New("authenticated operator required")
	ErrScopeForbidden   = errors.New("operator is not permitted in this scope")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Options carries the tunables read from configuration. Zero values select
// the defaults.
type Options struct {
	ReservationTTL time.Duration
	DraftTTL       time.Duration
	RefundPolicy   store.RefundPolicy
	AlertDays      int
}

type Service struct {
	repo    store.Repository
	drafts  cache.DraftStore
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time
}

func New(repo store.Repository, drafts cache.DraftStore, m *metrics.Metrics, opts Options) *Service {
	if drafts == nil {
		drafts = cache.NewMemoryDraftStore()
	}
	if opts.ReservationTTL <= 0 {
		opts.ReservationTTL = defaultReservationTTL
	}
	if opts.DraftTTL <= 0 {
		opts.DraftTTL = defaultDraftTTL
	}
	if opts.RefundPolicy == nil {
		opts.RefundPolicy = ledger.CreditOnlyIfWalletTender{}
	}
	if opts.AlertDays < 1 {
		opts.AlertDays = defaultAlertDays
	}

	return &Service{
		repo:    repo,
		drafts:  drafts,
		metrics: m,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RefundPolicy reports the policy applied to returns and cleared carts.
func (s *Service) RefundPolicy() string {
	return s.opts.RefundPolicy.Name()
}

func requireAdmin(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Actor{}, ErrAdminRequired
	}
	return actor, nil
}

// operator returns the authenticated user that owns carts and drafts.
func operator(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return domain.Actor{}, ErrOperatorRequired
	}
	return actor, nil
}

// operatorIn resolves the operator together with the scope they are working
// in. Operators confined to retail or wholesale cannot act in the other.
func operatorIn(ctx context.Context, raw domain.Scope) (domain.Actor, domain.Scope, error) {
	actor, err := operator(ctx)
	if err != nil {
		return domain.Actor{}, "", err
	}
	scope, err := parseScope(raw)
	if err != nil {
		return domain.Actor{}, "", err
	}
	if !actor.CanOperate(scope) {
		return domain.Actor{}, "", ErrScopeForbidden
	}
	return actor, scope, nil
}

func parseScope(raw domain.Scope) (domain.Scope, error) {
	scope := domain.Scope(strings.ToLower(strings.TrimSpace(string(raw))))
	if !scope.Valid() {
		return "", store.ErrInvalidTransaction
	}
	return scope, nil
}

// parseOptionalScope accepts an empty scope as "all scopes".
func parseOptionalScope(raw domain.Scope) (domain.Scope, error) {
	if strings.TrimSpace(string(raw)) == "" {
		return "", nil
	}
	return parseScope(raw)
}

func (s *Service) parseDay(date string) (time.Time, error) {
	if strings.TrimSpace(date) == "" {
		return domain.DateOf(s.now()), nil
	}
	parsed, err := time.Parse(dateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, store.ErrInvalidTransaction
	}
	return parsed.UTC(), nil
}

func (s *Service) logAudit(ctx context.Context, scope domain.Scope, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		Scope:         scope,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		logger.FromContext(ctx).Warn("[audit] failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}
