package tokens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"merchant-guard/core/guard"
	"merchant-guard/core/store"
	"merchant-guard/core/utils"
)

var (
	ErrQuotaExceeded = errors.New("token quota exceeded")
	ErrNotTokenGuard = errors.New("guard does not issue tokens")
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenRevoked  = errors.New("token revoked or expired")
	ErrTokenNotFound = errors.New("token not found")
)

type Options struct {
	SigningKey     string
	Issuer         string
	ReservationTTL time.Duration
}

// Issued is a freshly minted token together with its bearer string.
type Issued struct {
	Token  store.AccessToken
	Bearer string
}

// Manager enforces max_tokens per (principal, guard). Counting and reserving
// happen under one per-key lock, so concurrent issuers at the boundary cannot
// both win.
type Manager struct {
	store    store.TokensStore
	registry *guard.Registry
	codec    *codec
	ttl      time.Duration
	logger   *utils.Logger
	now      func() time.Time

	locks *keyedMutex
	resMu sync.Mutex
	held  map[string][]time.Time
}

func NewManager(ts store.TokensStore, registry *guard.Registry, opts Options, logger *utils.Logger) (*Manager, error) {
	if ts == nil || registry == nil {
		return nil, errors.New("tokens: store and registry are required")
	}
	c, err := newCodec(opts.SigningKey, opts.Issuer)
	if err != nil {
		return nil, err
	}
	ttl := opts.ReservationTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Manager{
		store:    ts,
		registry: registry,
		codec:    c,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		locks:    newKeyedMutex(),
		held:     map[string][]time.Time{},
	}, nil
}

func quotaKey(principalID, guardName string) string {
	return guardName + "\x00" + principalID
}

func (m *Manager) tokenGuard(name string) (guard.Definition, error) {
	def, err := m.registry.Get(name)
	if err != nil {
		return def, err
	}
	if !def.TokenBearing() {
		return def, fmt.Errorf("%w: %s", ErrNotTokenGuard, name)
	}
	return def, nil
}

// CountLive returns stored live tokens plus outstanding reservations.
func (m *Manager) CountLive(ctx context.Context, principalID, guardName string) (int, error) {
	if _, err := m.tokenGuard(guardName); err != nil {
		return 0, err
	}
	n, err := m.store.CountLive(ctx, principalID, guardName, m.now())
	if err != nil {
		return 0, fmt.Errorf("count live tokens: %w", err)
	}
	return n + m.reservations(quotaKey(principalID, guardName)), nil
}

// CanIssue reserves a slot when one is free. The reservation is held until
// Issue consumes it, Release drops it, or it expires.
func (m *Manager) CanIssue(ctx context.Context, principalID, guardName string) (bool, error) {
	def, err := m.tokenGuard(guardName)
	if err != nil {
		return false, err
	}
	if def.MaxTokens == 0 {
		return true, nil
	}
	key := quotaKey(principalID, guardName)
	unlock := m.locks.Lock(key)
	defer unlock()
	stored, err := m.store.CountLive(ctx, principalID, guardName, m.now())
	if err != nil {
		return false, fmt.Errorf("count live tokens: %w", err)
	}
	if stored+m.reservations(key) >= def.MaxTokens {
		return false, nil
	}
	m.reserve(key)
	return true, nil
}

// Release drops one outstanding reservation, if any.
func (m *Manager) Release(principalID, guardName string) {
	m.consumeReservation(quotaKey(principalID, guardName))
}

// Issue mints a token. A reservation from CanIssue is consumed when present;
// otherwise the quota is checked again under the same lock.
func (m *Manager) Issue(ctx context.Context, principalID, guardName, name string, abilities []string) (*Issued, error) {
	def, err := m.tokenGuard(guardName)
	if err != nil {
		return nil, err
	}
	key := quotaKey(principalID, guardName)
	unlock := m.locks.Lock(key)
	defer unlock()
	now := m.now()
	if def.MaxTokens > 0 && !m.consumeReservation(key) {
		stored, err := m.store.CountLive(ctx, principalID, guardName, now)
		if err != nil {
			return nil, fmt.Errorf("count live tokens: %w", err)
		}
		if stored+m.reservations(key) >= def.MaxTokens {
			return nil, ErrQuotaExceeded
		}
	}
	id, err := store.NewID()
	if err != nil {
		return nil, err
	}
	if len(abilities) == 0 {
		abilities = []string{"*"}
	}
	tok := store.AccessToken{
		ID:        id,
		AccountID: principalID,
		Guard:     guardName,
		Name:      name,
		Abilities: abilities,
		IssuedAt:  now.UTC(),
		ExpiresAt: now.Add(def.Lifetime).UTC(),
	}
	if err := m.store.Create(ctx, &tok); err != nil {
		return nil, fmt.Errorf("store token: %w", err)
	}
	bearer, err := m.codec.sign(tok)
	if err != nil {
		return nil, err
	}
	m.logger.Printf("TOKEN issue guard=%s principal=%s id=%s", guardName, principalID, id)
	return &Issued{Token: tok, Bearer: bearer}, nil
}

// Authenticate validates the bearer signature and the backing row.
func (m *Manager) Authenticate(ctx context.Context, bearer string) (*store.AccessToken, error) {
	claims, err := m.codec.parse(bearer)
	if err != nil {
		return nil, err
	}
	tok, err := m.store.Get(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if tok == nil || tok.AccountID != claims.Subject || !claims.hasAudience(tok.Guard) {
		return nil, ErrInvalidToken
	}
	now := m.now()
	if !tok.Live(now) {
		return nil, ErrTokenRevoked
	}
	if err := m.store.Touch(ctx, tok.ID, now); err != nil {
		m.logger.Warnf("TOKEN touch failed id=%s: %v", tok.ID, err)
	}
	return tok, nil
}

func (m *Manager) ListLive(ctx context.Context, principalID, guardName string) ([]store.AccessToken, error) {
	return m.store.ListLive(ctx, principalID, guardName, m.now())
}

// Revoke revokes a token owned by principalID under guardName.
func (m *Manager) Revoke(ctx context.Context, principalID, guardName, tokenID string) error {
	tok, err := m.store.Get(ctx, tokenID)
	if err != nil {
		return err
	}
	if tok == nil || tok.AccountID != principalID || tok.Guard != guardName {
		return ErrTokenNotFound
	}
	ok, err := m.store.Revoke(ctx, tokenID, m.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrTokenNotFound
	}
	m.logger.Printf("TOKEN revoke guard=%s principal=%s id=%s", guardName, principalID, tokenID)
	return nil
}

func (m *Manager) RevokeAllForGuard(ctx context.Context, principalID, guardName string) (int64, error) {
	return m.store.RevokeAll(ctx, principalID, guardName, m.now())
}

func (m *Manager) reservations(key string) int {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	return len(m.pruneLocked(key))
}

func (m *Manager) reserve(key string) {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	m.held[key] = append(m.pruneLocked(key), m.now().Add(m.ttl))
}

func (m *Manager) consumeReservation(key string) bool {
	m.resMu.Lock()
	defer m.resMu.Unlock()
	live := m.pruneLocked(key)
	if len(live) == 0 {
		return false
	}
	live = live[1:]
	if len(live) == 0 {
		delete(m.held, key)
	} else {
		m.held[key] = live
	}
	return true
}

func (m *Manager) pruneLocked(key string) []time.Time {
	list := m.held[key]
	now := m.now()
	kept := list[:0]
	for _, exp := range list {
		if exp.After(now) {
			kept = append(kept, exp)
		}
	}
	if len(kept) == 0 {
		delete(m.held, key)
		return nil
	}
	m.held[key] = kept
	return kept
}
