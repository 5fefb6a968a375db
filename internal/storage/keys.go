package storage

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// API key format constants. Keys look like "qawatch_ak_" + 64 hex chars.
	keyPrefix       = "qawatch_ak_"
	randomBytesSize = 32
	apiKeyLength    = len(keyPrefix) + randomBytesSize*2
	maskPrefixLen   = len(keyPrefix) + 4 // show "qawatch_ak_1234"
	maskSuffixLen   = 4
)

var (
	// ErrKeyAlreadyExists is returned when attempting to add a key that already exists.
	ErrKeyAlreadyExists = errors.New("API key already exists")
	// ErrKeyNotFound is returned when attempting to operate on a non-existent key.
	ErrKeyNotFound = errors.New("API key not found")
	// ErrKeyNil is returned when a nil or empty API key is provided.
	ErrKeyNil = errors.New("API key cannot be nil")
	// ErrConsumerIDEmpty is returned when the consumer ID is empty during key generation.
	ErrConsumerIDEmpty = errors.New("consumer ID cannot be empty")
	// ErrInvalidKeyFormat is returned when an API key doesn't match the expected format.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
)

// Key represents an API key with consumer identification and permissions.
// Consumers are the producing systems that push events: the workflow tracker,
// the test-management sync job, the log shipper.
type Key struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"` // bcrypt hash at rest, masked on read
	ConsumerID  string     `json:"consumerId"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Active      bool       `json:"active"`
}

// APIKeyStore defines the interface for API key storage and retrieval.
type APIKeyStore interface {
	// FindByKey retrieves an API key by its plaintext key value.
	FindByKey(ctx context.Context, key string) (*Key, bool)
	// Add stores a new API key.
	Add(ctx context.Context, apiKey *Key) error
	// Deactivate soft-deletes an API key by id.
	Deactivate(ctx context.Context, keyID string) error
}

// IsUsable reports whether the key is active and unexpired.
func (k *Key) IsUsable(now time.Time) bool {
	if !k.Active {
		return false
	}

	if k.ExpiresAt != nil && now.After(*k.ExpiresAt) {
		return false
	}

	return true
}

// HasPermission checks if the API key has a specific permission.
func (k *Key) HasPermission(permission string) bool {
	for _, p := range k.Permissions {
		if p == permission {
			return true
		}
	}

	return false
}

// SecureCompare performs constant-time comparison of two strings to prevent
// timing attacks.
func SecureCompare(a, b string) bool {
	if len(a) != len(b) {
		// Burn comparable time against a dummy before rejecting.
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskKey masks an API key for secure logging, showing only prefix and suffix.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	keyLen := len(key)

	if keyLen == apiKeyLength {
		maskedLen := keyLen - maskPrefixLen - maskSuffixLen

		return key[:maskPrefixLen] + strings.Repeat("*", maskedLen) + key[keyLen-maskSuffixLen:]
	}

	// Unknown format, mask completely.
	return strings.Repeat("*", keyLen)
}

// GenerateAPIKey creates a new secure API key for a consumer.
func GenerateAPIKey(consumerID string) (string, error) {
	if consumerID == "" {
		return "", ErrConsumerIDEmpty
	}

	randomBytes := make([]byte, randomBytesSize)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return keyPrefix + hex.EncodeToString(randomBytes), nil
}

// ParseAPIKey validates the format of a presented API key and returns the
// cleaned value. Format failures return a generic error to prevent
// enumeration.
func ParseAPIKey(key string) (string, error) {
	key = strings.TrimSpace(key)

	if key == "" {
		return "", ErrKeyNil
	}

	if !strings.HasPrefix(key, keyPrefix) || len(key) != apiKeyLength {
		return "", ErrInvalidKeyFormat
	}

	if _, err := hex.DecodeString(key[len(keyPrefix):]); err != nil {
		return "", ErrInvalidKeyFormat
	}

	return key, nil
}
