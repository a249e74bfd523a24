package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dexbot/internal/domain"
)

const activeConfig = "active"

// ConfigStore implements domain.ConfigStore using PostgreSQL. The session
// config is stored as JSONB under a single name.
type ConfigStore struct {
	pool *pgxpool.Pool
}

// NewConfigStore creates a new ConfigStore backed by the given connection pool.
func NewConfigStore(pool *pgxpool.Pool) *ConfigStore {
	return &ConfigStore{pool: pool}
}

// Save replaces the stored session config.
func (s *ConfigStore) Save(ctx context.Context, cfg domain.SessionConfig) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("postgres: marshal session config: %w", err)
	}

	const query = `
		INSERT INTO session_configs (name, config_json, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			config_json = EXCLUDED.config_json,
			updated_at  = NOW()`

	if _, err := s.pool.Exec(ctx, query, activeConfig, configJSON); err != nil {
		return fmt.Errorf("postgres: save session config: %w", err)
	}
	return nil
}

// Load returns the stored session config, or domain.ErrNotFound.
func (s *ConfigStore) Load(ctx context.Context) (domain.SessionConfig, error) {
	var configJSON []byte
	err := s.pool.QueryRow(ctx, `SELECT config_json FROM session_configs WHERE name = $1`, activeConfig).Scan(&configJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SessionConfig{}, domain.ErrNotFound
		}
		return domain.SessionConfig{}, fmt.Errorf("postgres: load session config: %w", err)
	}

	var cfg domain.SessionConfig
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return domain.SessionConfig{}, fmt.Errorf("postgres: unmarshal session config: %w", err)
	}
	return cfg, nil
}

var _ domain.ConfigStore = (*ConfigStore)(nil)
