package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

var _ APIKeyStore = (*PersistentKeyStore)(nil)

// PersistentKeyStore implements APIKeyStore with a PostgreSQL backend.
//
// Lookup scans all active keys and compares bcrypt hashes in memory. With
// bcrypt every hash of the same key differs, so there is no indexable lookup
// column; the scan is acceptable for the expected key population (<1000).
type PersistentKeyStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentKeyStore creates a PostgreSQL-backed key store.
func NewPersistentKeyStore(conn *Connection, logger *slog.Logger) (*PersistentKeyStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentKeyStore{conn: conn, logger: logger}, nil
}

// FindByKey retrieves an API key by its plaintext key value using bcrypt hash
// comparison. Returns (nil, false) when the key is unknown, inactive or
// expired.
func (s *PersistentKeyStore) FindByKey(ctx context.Context, key string) (*Key, bool) {
	if key == "" {
		return nil, false
	}

	query := `
		SELECT id, key_hash, consumer_id, name, permissions, created_at, expires_at, active
		FROM api_keys
		WHERE active = TRUE
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		s.logger.Error("Failed to query API keys", slog.String("error", err.Error()))

		return nil, false
	}

	defer func() {
		_ = rows.Close()
	}()

	var found *Key

	for rows.Next() {
		var (
			apiKey          Key
			permissionsJSON []byte
		)

		if err := rows.Scan(&apiKey.ID, &apiKey.Key, &apiKey.ConsumerID, &apiKey.Name,
			&permissionsJSON, &apiKey.CreatedAt, &apiKey.ExpiresAt, &apiKey.Active); err != nil {
			continue
		}

		if err := json.Unmarshal(permissionsJSON, &apiKey.Permissions); err != nil {
			continue
		}

		if CompareAPIKeyHash(apiKey.Key, key) {
			apiKey.Key = MaskKey(key)
			found = &apiKey

			break
		}
	}

	if err := rows.Err(); err != nil {
		s.logger.Error("Failed to iterate API keys", slog.String("error", err.Error()))

		return nil, false
	}

	if found == nil || !found.IsUsable(time.Now()) {
		return nil, false
	}

	return found, true
}

// Add stores a new API key. The plaintext key is bcrypt-hashed before storage.
func (s *PersistentKeyStore) Add(ctx context.Context, apiKey *Key) error {
	if apiKey == nil || apiKey.Key == "" {
		return ErrKeyNil
	}

	// Hash comparison is the only duplicate check possible: bcrypt hashes of
	// the same key differ, so a unique constraint cannot catch this.
	if existing, found := s.FindByKey(ctx, apiKey.Key); found && existing != nil {
		return ErrKeyAlreadyExists
	}

	keyHash, err := HashAPIKey(apiKey.Key)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	permissionsJSON, err := json.Marshal(apiKey.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		INSERT INTO api_keys (id, key_hash, consumer_id, name, permissions, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = s.conn.ExecContext(ctx, query,
		apiKey.ID, keyHash, apiKey.ConsumerID, apiKey.Name,
		permissionsJSON, apiKey.CreatedAt.UTC(), apiKey.ExpiresAt, apiKey.Active)
	if err != nil {
		return fmt.Errorf("failed to store API key: %w", err)
	}

	s.logger.Info("API key created",
		slog.String("key_id", apiKey.ID),
		slog.String("consumer_id", apiKey.ConsumerID),
	)

	return nil
}

// Deactivate soft-deletes an API key by id.
func (s *PersistentKeyStore) Deactivate(ctx context.Context, keyID string) error {
	result, err := s.conn.ExecContext(ctx,
		`UPDATE api_keys SET active = FALSE WHERE id = $1`, keyID)
	if err != nil {
		return fmt.Errorf("failed to deactivate API key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return ErrKeyNotFound
	}

	s.logger.Info("API key deactivated", slog.String("key_id", keyID))

	return nil
}
