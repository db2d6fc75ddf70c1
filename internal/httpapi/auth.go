package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"pharmledger/backend/internal/domain"
	"pharmledger/backend/internal/logger"
)

const (
	tokenIssuer      = "pharmledger"
	userStoreTimeout = 3 * time.Second

	roleAdmin    = "admin"
	roleOperator = "cashier"

	minUsernameLength = 4
	minPasswordLength = 6
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
)

// UserStore is the persistence AuthManager needs for operator accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues and verifies operator tokens. Accounts are cached from
// the user store and refreshed on login so operators registered on another
// instance can sign in.
type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	pinHash  string
	users    UserStore

	mu       sync.RWMutex
	accounts map[string]operatorAccount
}

type operatorAccount struct {
	passwordHash string
	role         string
	scopes       []domain.Scope
	active       bool
	createdAt    time.Time
}

func (o operatorAccount) view(username string) domain.Operator {
	scopes := o.scopes
	if scopes == nil {
		scopes = []domain.Scope{}
	}
	return domain.Operator{
		Username:  username,
		Role:      o.role,
		Scopes:    scopes,
		Active:    o.active,
		CreatedAt: o.createdAt,
	}
}

// operatorClaims carries who is at the counter and which side of the
// pharmacy they may work. An empty scope list means both.
type operatorClaims struct {
	jwtlib.RegisteredClaims
	Role   string         `json:"role"`
	Scopes []domain.Scope `json:"scopes,omitempty"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, managerPIN string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	a := &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		users:    users,
		accounts: make(map[string]operatorAccount),
	}
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hashed, err := hashSecret(pin); err == nil {
			a.pinHash = hashed
		}
	}
	a.refresh(context.Background())
	return a
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.refresh(ctx)

	username := normalizeUsername(req.Username)
	a.mu.RLock()
	account, ok := a.accounts[username]
	a.mu.RUnlock()
	if !ok || !matchesHash(account.passwordHash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !account.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.issue(username, account.role, account.scopes, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        account.role,
		Scopes:      account.view(username).Scopes,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// ParseToken verifies a bearer token and returns the actor it names. A token
// whose scope grant no longer parses is rejected outright.
func (a *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	claims := &operatorClaims{}
	token, err := jwtlib.ParseWithClaims(raw, claims, func(*jwtlib.Token) (interface{}, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil || !token.Valid {
		return domain.Actor{}, errInvalidToken
	}
	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return domain.Actor{}, errInvalidToken
	}
	scopes, ok := domain.NormalizeScopes(claims.Scopes)
	if !ok {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: subject, Role: claims.Role, Scopes: scopes}, nil
}

func (a *AuthManager) issue(username string, role string, scopes []domain.Scope, expiresAt time.Time) (string, error) {
	claims := operatorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role:   role,
		Scopes: scopes,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateManagerPIN authorises supervisor-only operations such as returns.
func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	return matchesHash(a.pinHash, strings.TrimSpace(pin))
}

// CreateOperator registers a counter operator, optionally confined to retail
// or wholesale.
func (a *AuthManager) CreateOperator(ctx context.Context, req domain.OperatorCreateRequest) (domain.Operator, error) {
	a.refresh(ctx)

	username := normalizeUsername(req.Username)
	switch {
	case len(username) < minUsernameLength:
		return domain.Operator{}, fmt.Errorf("username must be at least %d characters", minUsernameLength)
	case strings.ContainsAny(username, " \t\r\n"):
		return domain.Operator{}, errors.New("username must not contain spaces")
	case len(strings.TrimSpace(req.Password)) < minPasswordLength:
		return domain.Operator{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	scopes, ok := domain.NormalizeScopes(req.Scopes)
	if !ok {
		return domain.Operator{}, errors.New("scopes must be retail or wholesale")
	}

	a.mu.RLock()
	_, taken := a.accounts[username]
	a.mu.RUnlock()
	if taken {
		return domain.Operator{}, errors.New("username already exists")
	}

	hashed, err := hashSecret(req.Password)
	if err != nil {
		return domain.Operator{}, errors.New("failed to hash password")
	}
	account := operatorAccount{
		passwordHash: hashed,
		role:         roleOperator,
		scopes:       scopes,
		active:       true,
		createdAt:    time.Now().UTC(),
	}
	if a.users != nil {
		if err := a.users.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			Password:  account.passwordHash,
			Role:      account.role,
			Scopes:    account.scopes,
			Active:    account.active,
			CreatedAt: account.createdAt,
		}); err != nil {
			return domain.Operator{}, err
		}
	}

	a.mu.Lock()
	a.accounts[username] = account
	a.mu.Unlock()

	logger.FromContext(ctx).Info("[auth] operator registered",
		zap.String("username", username), zap.String("scopes", domain.JoinScopes(scopes)))
	return account.view(username), nil
}

// ListOperators returns every non-admin account ordered by username.
func (a *AuthManager) ListOperators(ctx context.Context) []domain.Operator {
	a.refresh(ctx)

	a.mu.RLock()
	defer a.mu.RUnlock()
	result := make([]domain.Operator, 0, len(a.accounts))
	for username, account := range a.accounts {
		if account.role == roleAdmin {
			continue
		}
		result = append(result, account.view(username))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// refresh reloads the account cache. Passwords still stored in plain text
// are replaced with bcrypt hashes on the way through.
func (a *AuthManager) refresh(ctx context.Context) {
	if a.users == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, userStoreTimeout)
	defer cancel()

	stored, err := a.users.ListUsers(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("[auth] failed to load users", zap.Error(err))
		return
	}

	loaded := make(map[string]operatorAccount, len(stored))
	for _, user := range stored {
		username := normalizeUsername(user.Username)
		if username == "" {
			continue
		}
		hashed := user.Password
		if !isBcryptHash(hashed) {
			upgraded, err := hashSecret(hashed)
			if err != nil {
				continue
			}
			hashed = upgraded
			if err := a.users.UpdateUserPassword(ctx, username, hashed); err != nil {
				logger.FromContext(ctx).Warn("[auth] failed to upgrade password hash", zap.String("username", username), zap.Error(err))
			}
		}
		scopes, ok := domain.NormalizeScopes(user.Scopes)
		if !ok {
			logger.FromContext(ctx).Warn("[auth] skipping account with unknown scope grant", zap.String("username", username))
			continue
		}
		loaded[username] = operatorAccount{
			passwordHash: hashed,
			role:         user.Role,
			scopes:       scopes,
			active:       user.Active,
			createdAt:    user.CreatedAt,
		}
	}

	a.mu.Lock()
	for username, account := range loaded {
		a.accounts[username] = account
	}
	a.mu.Unlock()
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func matchesHash(hash string, input string) bool {
	if input == "" || !isBcryptHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func hashSecret(secret string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	return string(hashed), err
}

func isBcryptHash(value string) bool {
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}
