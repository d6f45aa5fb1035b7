// Package secrets resolves runtime credentials from HashiCorp Vault, falling
// back to configuration/environment values when Vault is disabled or a read
// fails.
package secrets

import (
	"context"
	"fmt"
	"sync"

	"futures-signal-bot/config"
	"futures-signal-bot/internal/logging"

	"github.com/hashicorp/vault/api"
)

// Secret keys resolved by the engine
const (
	KeyTelegramBotToken = "telegram_bot_token"
	KeyDatabasePassword = "database_password"
)

// Resolver reads secrets from a KV-v2 mount with an in-process cache.
type Resolver struct {
	client *api.Client
	config config.VaultConfig
	logger *logging.Logger

	mu    sync.RWMutex
	cache map[string]string
}

// NewResolver creates a secret resolver. When Vault is disabled the resolver
// only serves fallback values.
func NewResolver(cfg config.VaultConfig) (*Resolver, error) {
	r := &Resolver{
		config: cfg,
		logger: logging.WithComponent("secrets"),
		cache:  make(map[string]string),
	}

	if !cfg.Enabled {
		r.logger.Info("Vault disabled, secrets resolved from config/env")
		return r, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	r.client = client
	r.logger.Info("Vault client initialized", "address", cfg.Address)
	return r, nil
}

// secretPath builds the KV-v2 data path for a secret key.
func (r *Resolver) secretPath(key string) string {
	return fmt.Sprintf("%s/data/%s/%s", r.config.MountPath, r.config.SecretPath, key)
}

// Resolve returns the secret value for key. Lookup order: cache, Vault,
// fallback. A Vault failure is logged and degrades to the fallback rather
// than erroring out.
func (r *Resolver) Resolve(ctx context.Context, key, fallback string) string {
	r.mu.RLock()
	if cached, ok := r.cache[key]; ok {
		r.mu.RUnlock()
		return cached
	}
	r.mu.RUnlock()

	if !r.config.Enabled || r.client == nil {
		return fallback
	}

	secret, err := r.client.Logical().ReadWithContext(ctx, r.secretPath(key))
	if err != nil {
		r.logger.WithError(err).Warn("Vault read failed, using fallback", "key", key)
		return fallback
	}
	if secret == nil || secret.Data == nil {
		r.logger.Warn("Secret not found in Vault, using fallback", "key", key)
		return fallback
	}

	// KV-v2 wraps the payload in a nested "data" map
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		r.logger.Warn("Unexpected Vault secret shape, using fallback", "key", key)
		return fallback
	}

	value, ok := data["value"].(string)
	if !ok || value == "" {
		r.logger.Warn("Vault secret missing value field, using fallback", "key", key)
		return fallback
	}

	r.mu.Lock()
	r.cache[key] = value
	r.mu.Unlock()

	return value
}
