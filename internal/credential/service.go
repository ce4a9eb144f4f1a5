package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"kenmesh.org/internal/obs"
	"kenmesh.org/internal/secevent"
)

const (
	// TokenPrefix marks every issued token so leaked keys are greppable.
	TokenPrefix = "kp_"

	tokenEntropyBytes = 32
	defaultTTL        = 90 * 24 * time.Hour
)

// Service owns the credential lifecycle: issuance, validation with
// capability checks and lazy expiry.
type Service struct {
	store  Store
	events *secevent.Log
	ttl    time.Duration
	now    func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithTTL overrides the credential lifetime (default 90 days).
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a credential service backed by store. Every
// issuance and every denial is appended to events.
func NewService(store Store, events *secevent.Log, opts ...Option) *Service {
	s := &Service{
		store:  store,
		events: events,
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue generates a fresh high-entropy token for ownerID. An empty
// capability list defaults to basic_access.
func (s *Service) Issue(ctx context.Context, ownerID string, capabilities []string) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", errors.New("credential: owner id is required")
	}
	caps := normalizeCapabilities(capabilities)
	if len(caps) == 0 {
		caps = []string{CapBasicAccess}
	}

	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("credential: generate token: %w", err)
	}

	now := s.now().UTC()
	cred := &Credential{
		Token:        token,
		OwnerID:      ownerID,
		Capabilities: caps,
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.ttl),
	}
	if err := s.store.Insert(ctx, cred); err != nil {
		return "", fmt.Errorf("credential: store token: %w", err)
	}

	s.events.Append("credential_issued", map[string]any{
		"owner_id":     ownerID,
		"key_prefix":   keyPrefix(token),
		"capabilities": caps,
	})
	return token, nil
}

// Validate checks the token and, when requiredCapability is non-empty,
// its capability set. On success the credential's last_used_at/use_count
// are updated atomically; concurrent validations of the same token never
// lose an increment.
func (s *Service) Validate(ctx context.Context, token, requiredCapability string) (Identity, error) {
	cred, err := s.store.Get(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidCredential) {
			s.deny("invalid_credential", map[string]any{"key_prefix": keyPrefix(token)})
			return Identity{}, ErrInvalidCredential
		}
		return Identity{}, fmt.Errorf("credential: lookup: %w", err)
	}

	now := s.now().UTC()
	if now.After(cred.ExpiresAt) {
		s.deny("expired_credential", map[string]any{"owner_id": cred.OwnerID})
		return Identity{}, ErrExpiredCredential
	}
	if requiredCapability != "" && !cred.HasCapability(requiredCapability) {
		s.deny("insufficient_capability", map[string]any{
			"owner_id":  cred.OwnerID,
			"required":  requiredCapability,
			"available": cred.Capabilities,
		})
		return Identity{}, ErrInsufficientCapability
	}

	if err := s.store.Touch(ctx, token, now); err != nil {
		return Identity{}, fmt.Errorf("credential: record use: %w", err)
	}
	obs.CredentialValidations.WithLabelValues("ok").Inc()
	return Identity{OwnerID: cred.OwnerID, Capabilities: cred.Capabilities}, nil
}

// ActiveCount reports how many credentials have not yet expired.
func (s *Service) ActiveCount(ctx context.Context) (int, error) {
	return s.store.CountActive(ctx, s.now().UTC())
}

func (s *Service) deny(event string, fields map[string]any) {
	obs.CredentialValidations.WithLabelValues(event).Inc()
	s.events.Append(event, fields)
}

func newToken() (string, error) {
	raw := make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return TokenPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// keyPrefix truncates a token for logging; full tokens never reach the log.
func keyPrefix(token string) string {
	if len(token) <= 15 {
		return token
	}
	return token[:15] + "..."
}

func normalizeCapabilities(caps []string) []string {
	if len(caps) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(caps))
	var out []string
	for _, c := range caps {
		c = strings.TrimSpace(strings.ToLower(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
