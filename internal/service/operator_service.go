package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/google/uuid"

	"github.com/wiretap-mcp/wiretap/internal/adapter/outbound/state"
)

// OperatorService errors.
var (
	ErrOperatorNotFound = errors.New("operator not found")
	ErrAPIKeyNotFound   = errors.New("api key not found")
	ErrDuplicateName    = errors.New("operator name already exists")
	ErrReadOnly         = errors.New("cannot modify read-only resource")
)

// OperatorService provides CRUD operations on operators and their API
// keys, with Argon2id key hashing and persistence to operators.json.
type OperatorService struct {
	stateStore *state.FileStateStore
	logger     *slog.Logger
	mu         sync.Mutex // serializes state reads and writes

	cachedOperators []state.OperatorEntry
	cachedAPIKeys   []state.APIKeyEntry
}

// NewOperatorService creates a new OperatorService.
func NewOperatorService(stateStore *state.FileStateStore, logger *slog.Logger) *OperatorService {
	return &OperatorService{
		stateStore: stateStore,
		logger:     logger,
	}
}

// Init loads operators and API keys from operators.json into memory.
// Must be called once after construction, before serving requests.
func (s *OperatorService) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCache()
}

func (s *OperatorService) refreshCache() error {
	st, err := s.stateStore.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	s.cachedOperators = make([]state.OperatorEntry, len(st.Operators))
	copy(s.cachedOperators, st.Operators)
	s.cachedAPIKeys = make([]state.APIKeyEntry, len(st.APIKeys))
	copy(s.cachedAPIKeys, st.APIKeys)
	return nil
}

// ListOperators returns all operators.
func (s *OperatorService) ListOperators(_ context.Context) ([]state.OperatorEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]state.OperatorEntry, len(s.cachedOperators))
	copy(result, s.cachedOperators)
	return result, nil
}

// GetOperator returns a single operator by ID.
func (s *OperatorService) GetOperator(_ context.Context, id string) (*state.OperatorEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.cachedOperators {
		if s.cachedOperators[i].ID == id {
			entry := s.cachedOperators[i]
			return &entry, nil
		}
	}
	return nil, ErrOperatorNotFound
}

// CreateOperatorInput holds the input for creating an operator.
type CreateOperatorInput struct {
	Name string `json:"name"`
}

// CreateOperator creates a new operator and persists it.
func (s *OperatorService) CreateOperator(_ context.Context, input CreateOperatorInput) (*state.OperatorEntry, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stateStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	for _, existing := range st.Operators {
		if existing.Name == input.Name {
			return nil, ErrDuplicateName
		}
	}

	entry := state.OperatorEntry{
		ID:        uuid.New().String(),
		Name:      input.Name,
		CreatedAt: time.Now().UTC(),
	}

	st.Operators = append(st.Operators, entry)

	if err := s.stateStore.Save(st); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	s.syncCache(st)

	s.logger.Info("operator created", "id", entry.ID, "name", entry.Name)
	return &entry, nil
}

// DeleteOperator removes an operator and all its API keys.
func (s *OperatorService) DeleteOperator(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stateStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	idx := -1
	for i := range st.Operators {
		if st.Operators[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil, ErrOperatorNotFound
	}
	if st.Operators[idx].ReadOnly {
		return nil, ErrReadOnly
	}

	st.Operators = append(st.Operators[:idx], st.Operators[idx+1:]...)

	var deletedKeyHashes []string
	filtered := make([]state.APIKeyEntry, 0, len(st.APIKeys))
	for _, key := range st.APIKeys {
		if key.OperatorID != id {
			filtered = append(filtered, key)
		} else {
			deletedKeyHashes = append(deletedKeyHashes, key.KeyHash)
		}
	}
	st.APIKeys = filtered

	if err := s.stateStore.Save(st); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	s.syncCache(st)

	s.logger.Info("operator deleted (cascade)", "id", id, "keys_removed", len(deletedKeyHashes))
	return deletedKeyHashes, nil
}

// GenerateKeyInput holds the input for generating an API key.
type GenerateKeyInput struct {
	OperatorID string `json:"operator_id"`
	Name       string `json:"name"`
}

// GenerateKeyResult holds the result of key generation. The cleartext
// key is returned exactly once and never stored.
type GenerateKeyResult struct {
	KeyEntry     state.APIKeyEntry `json:"key_entry"`
	CleartextKey string            `json:"cleartext_key"`
}

// GenerateKey creates a new API key for the given operator. Only the
// Argon2id hash is persisted.
func (s *OperatorService) GenerateKey(_ context.Context, input GenerateKeyInput) (*GenerateKeyResult, error) {
	if input.OperatorID == "" {
		return nil, fmt.Errorf("operator_id is required")
	}
	if input.Name == "" {
		return nil, fmt.Errorf("name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stateStore.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	found := false
	for _, op := range st.Operators {
		if op.ID == input.OperatorID {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrOperatorNotFound
	}

	rawKey := make([]byte, 32)
	if _, err := rand.Read(rawKey); err != nil {
		return nil, fmt.Errorf("generate random key: %w", err)
	}
	cleartextKey := "wtap_" + hex.EncodeToString(rawKey)

	hash, err := argon2id.CreateHash(cleartextKey, argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}

	entry := state.APIKeyEntry{
		ID:         uuid.New().String(),
		KeyHash:    hash,
		OperatorID: input.OperatorID,
		Name:       input.Name,
		CreatedAt:  time.Now().UTC(),
	}

	st.APIKeys = append(st.APIKeys, entry)

	if err := s.stateStore.Save(st); err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}
	s.syncCache(st)

	s.logger.Info("api key generated", "key_id", entry.ID, "operator_id", input.OperatorID, "name", input.Name)

	return &GenerateKeyResult{KeyEntry: entry, CleartextKey: cleartextKey}, nil
}

// RevokeKey marks an API key as revoked. It does not delete it. Returns
// the key hash of the revoked key so callers can sync in-memory auth
// caches.
func (s *OperatorService) RevokeKey(_ context.Context, keyID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stateStore.Load()
	if err != nil {
		return "", fmt.Errorf("load state: %w", err)
	}

	idx := -1
	for i := range st.APIKeys {
		if st.APIKeys[i].ID == keyID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "", ErrAPIKeyNotFound
	}
	if st.APIKeys[idx].ReadOnly {
		return "", ErrReadOnly
	}

	keyHash := st.APIKeys[idx].KeyHash
	st.APIKeys[idx].Revoked = true

	if err := s.stateStore.Save(st); err != nil {
		return "", fmt.Errorf("save state: %w", err)
	}
	s.syncCache(st)

	s.logger.Info("api key revoked", "key_id", keyID)
	return keyHash, nil
}

// ListKeys returns all API keys for a given operator.
func (s *OperatorService) ListKeys(_ context.Context, operatorID string) ([]state.APIKeyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []state.APIKeyEntry
	for _, key := range s.cachedAPIKeys {
		if key.OperatorID == operatorID {
			result = append(result, key)
		}
	}
	if result == nil {
		result = []state.APIKeyEntry{}
	}
	return result, nil
}

// ListAllKeys returns all API keys across all operators.
func (s *OperatorService) ListAllKeys(_ context.Context) ([]state.APIKeyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]state.APIKeyEntry, len(s.cachedAPIKeys))
	copy(result, s.cachedAPIKeys)
	return result, nil
}

// VerifyKey checks if a cleartext key matches any non-revoked,
// non-expired API key. Returns the matching key entry or
// ErrAPIKeyNotFound.
func (s *OperatorService) VerifyKey(_ context.Context, cleartextKey string) (*state.APIKeyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for i := range s.cachedAPIKeys {
		key := &s.cachedAPIKeys[i]
		if key.Revoked {
			continue
		}
		if key.ExpiresAt != nil && now.After(*key.ExpiresAt) {
			continue
		}

		match, err := argon2id.ComparePasswordAndHash(cleartextKey, key.KeyHash)
		if err != nil {
			s.logger.Warn("failed to compare key hash", "key_id", key.ID, "error", err)
			continue
		}
		if match {
			entry := *key
			return &entry, nil
		}
	}

	return nil, ErrAPIKeyNotFound
}

// syncCache refreshes the in-memory cache from a state snapshot that was
// just persisted. Caller must hold s.mu.
func (s *OperatorService) syncCache(st *state.OperatorState) {
	s.cachedOperators = make([]state.OperatorEntry, len(st.Operators))
	copy(s.cachedOperators, st.Operators)
	s.cachedAPIKeys = make([]state.APIKeyEntry, len(st.APIKeys))
	copy(s.cachedAPIKeys, st.APIKeys)
}
