// Package apikey issues and revokes the bearer keys checked by the HTTP auth
// middleware. Raw keys leave this package once; only bcrypt hashes are stored.
package apikey

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/pmengine/internal/apperr"
	"github.com/kiranshivaraju/pmengine/internal/store"
	"github.com/kiranshivaraju/pmengine/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	rawPrefix = "pm_"
	// PrefixLen is the number of leading characters stored in clear for lookup.
	PrefixLen = 8
	secretLen = 24
)

var validScopes = map[string]bool{
	models.ScopeRead:  true,
	models.ScopeWrite: true,
	models.ScopeAdmin: true,
}

type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(st store.Store, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{store: st, now: now}
}

// Create stores a new key and returns the raw key alongside the record.
// Empty scopes default to read.
func (s *Service) Create(ctx context.Context, name string, scopes []string) (string, *models.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, apperr.New(apperr.KindInvalidInput, "name is required")
	}
	if len(scopes) == 0 {
		scopes = []string{models.ScopeRead}
	}
	for _, sc := range scopes {
		if !validScopes[sc] {
			return "", nil, apperr.New(apperr.KindInvalidInput, "unknown scope %q: must be read, write or admin", sc)
		}
	}

	raw, err := generate()
	if err != nil {
		return "", nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("hashing key: %w", err)
	}

	now := s.now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:PrefixLen],
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return "", nil, apperr.Wrap(apperr.KindConflict, err, "api key %q already exists", name)
		}
		return "", nil, fmt.Errorf("creating api key: %w", err)
	}
	return raw, key, nil
}

func (s *Service) List(ctx context.Context) ([]*models.APIKey, error) {
	keys, err := s.store.ListAPIKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing api keys: %w", err)
	}
	return keys, nil
}

func (s *Service) Revoke(ctx context.Context, id uuid.UUID) error {
	err := s.store.RevokeAPIKey(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.New(apperr.KindNotFound, "api key %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("revoking api key: %w", err)
	}
	return nil
}

// HasScope reports whether scopes grants want. Admin implies every scope.
func HasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want || s == models.ScopeAdmin {
			return true
		}
	}
	return false
}

func generate() (string, error) {
	b := make([]byte, secretLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return rawPrefix + hex.EncodeToString(b), nil
}
