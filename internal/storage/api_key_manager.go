package storage

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// APIKeyManager manages API key rotation and tracks bad keys. When a database
// is configured the bad-key ledger survives restarts; without one it degrades
// to an in-memory set so key rotation still works.
type APIKeyManager struct {
	db               *sql.DB
	mu               sync.RWMutex
	keyRotationIndex map[string]int            // provider -> current key index
	memoryBadKeys    map[string]map[string]bool // provider -> bad key set, used when db == nil
}

// NewAPIKeyManager creates a new API key manager using the shared database
// connection, or an in-memory fallback when dbURL is empty.
func NewAPIKeyManager(dbURL string) *APIKeyManager {
	manager := &APIKeyManager{
		keyRotationIndex: make(map[string]int),
		memoryBadKeys:    make(map[string]map[string]bool),
	}

	if dbURL == "" {
		log.Printf("No database configured; bad API keys will not persist across restarts")
		return manager
	}

	db, err := GetDatabase(dbURL)
	if err != nil {
		log.Printf("Failed to get database connection, falling back to in-memory bad keys: %v", err)
		return manager
	}
	manager.db = db
	return manager
}

// GetNextAPIKey returns the next available API key for a provider, rotating
// round-robin across keys not marked as bad.
func (akm *APIKeyManager) GetNextAPIKey(provider string, availableKeys []string) (string, error) {
	if len(availableKeys) == 0 {
		return "", fmt.Errorf("no API keys available for provider %s", provider)
	}

	akm.mu.Lock()
	defer akm.mu.Unlock()

	badKeys, err := akm.getBadKeys(provider)
	if err != nil {
		return "", fmt.Errorf("failed to get bad keys: %w", err)
	}

	var goodKeys []string
	for _, key := range availableKeys {
		if !badKeys[key] {
			goodKeys = append(goodKeys, key)
		}
	}

	// If all keys are bad, reset the bad keys and try again
	if len(goodKeys) == 0 {
		log.Printf("All API keys for provider %s are marked as bad, resetting...", provider)
		if err := akm.resetBadKeys(provider); err != nil {
			return "", fmt.Errorf("failed to reset bad keys: %w", err)
		}
		goodKeys = availableKeys
		akm.keyRotationIndex[provider] = 0
	}

	currentIndex, exists := akm.keyRotationIndex[provider]
	if !exists || currentIndex >= len(goodKeys) {
		currentIndex = 0
	}

	selectedKey := goodKeys[currentIndex]
	akm.keyRotationIndex[provider] = (currentIndex + 1) % len(goodKeys)

	return selectedKey, nil
}

// MarkKeyAsBad marks an API key as bad so it won't be used again.
func (akm *APIKeyManager) MarkKeyAsBad(provider, apiKey string, reason string) error {
	akm.mu.Lock()
	defer akm.mu.Unlock()

	if akm.db == nil {
		if akm.memoryBadKeys[provider] == nil {
			akm.memoryBadKeys[provider] = make(map[string]bool)
		}
		akm.memoryBadKeys[provider][apiKey] = true
		log.Printf("Marked API key as bad for provider %s: %s", provider, reason)
		return nil
	}

	_, err := akm.db.Exec(`
		INSERT INTO bad_api_keys
		(provider, api_key, reason, marked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, api_key) DO UPDATE SET
			reason = EXCLUDED.reason,
			marked_at = EXCLUDED.marked_at
	`, provider, apiKey, reason, time.Now().Unix())

	if err != nil {
		return fmt.Errorf("failed to mark API key as bad: %w", err)
	}

	log.Printf("Marked API key as bad for provider %s: %s", provider, reason)
	return nil
}

// getBadKeys returns the bad key set for a provider.
func (akm *APIKeyManager) getBadKeys(provider string) (map[string]bool, error) {
	if akm.db == nil {
		bad := make(map[string]bool, len(akm.memoryBadKeys[provider]))
		for key := range akm.memoryBadKeys[provider] {
			bad[key] = true
		}
		return bad, nil
	}

	rows, err := akm.db.Query(`
		SELECT api_key FROM bad_api_keys
		WHERE provider = $1
	`, provider)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Failed to close rows: %v", err)
		}
	}()

	badKeys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		badKeys[key] = true
	}

	return badKeys, rows.Err()
}

// resetBadKeys removes all bad key entries for a provider.
func (akm *APIKeyManager) resetBadKeys(provider string) error {
	if akm.db == nil {
		delete(akm.memoryBadKeys, provider)
		return nil
	}
	_, err := akm.db.Exec(`
		DELETE FROM bad_api_keys WHERE provider = $1
	`, provider)
	return err
}

// ResetBadKeys is a public method to reset bad keys for a provider.
func (akm *APIKeyManager) ResetBadKeys(provider string) error {
	akm.mu.Lock()
	defer akm.mu.Unlock()

	if err := akm.resetBadKeys(provider); err != nil {
		return fmt.Errorf("failed to reset bad keys for provider %s: %w", provider, err)
	}

	akm.keyRotationIndex[provider] = 0
	log.Printf("Reset bad API keys for provider: %s", provider)
	return nil
}

// GetBadKeyStats returns statistics about bad keys for monitoring.
func (akm *APIKeyManager) GetBadKeyStats() (map[string]int, error) {
	akm.mu.RLock()
	defer akm.mu.RUnlock()

	if akm.db == nil {
		stats := make(map[string]int)
		for provider, keys := range akm.memoryBadKeys {
			stats[provider] = len(keys)
		}
		return stats, nil
	}

	rows, err := akm.db.Query(`
		SELECT provider, COUNT(*) as count
		FROM bad_api_keys
		GROUP BY provider
	`)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Failed to close rows: %v", err)
		}
	}()

	stats := make(map[string]int)
	for rows.Next() {
		var provider string
		var count int
		if err := rows.Scan(&provider, &count); err != nil {
			return nil, err
		}
		stats[provider] = count
	}

	return stats, rows.Err()
}

// Close does nothing since we use a shared database connection.
func (akm *APIKeyManager) Close() error {
	return nil
}
