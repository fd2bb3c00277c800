package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// DefaultAccountID names the account created by env-only configuration.
const DefaultAccountID = "default"

// DefaultStatusPort is the loopback port the status endpoint binds when the
// config leaves it at zero.
const DefaultStatusPort = 18791

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Accounts: map[string]*AccountConfig{},
		Agent: AgentConfig{
			TimeoutSec: 120,
		},
		Pairing: PairingConfig{
			Storage: "~/.larkbridge/pairing.db",
		},
		Status: StatusConfig{
			Host: "127.0.0.1",
			Port: DefaultStatusPort,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: env-only configuration is supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	acct := c.Accounts[DefaultAccountID]
	if acct == nil {
		acct = &AccountConfig{}
	}

	envStr("LARKBRIDGE_APP_ID", &acct.AppID)
	envStr("LARKBRIDGE_APP_SECRET", &acct.AppSecret)
	envStr("LARKBRIDGE_ENCRYPT_KEY", &acct.EncryptKey)
	envStr("LARKBRIDGE_VERIFICATION_TOKEN", &acct.VerificationToken)
	envStr("LARKBRIDGE_DOMAIN", &acct.Domain)

	// Auto-enable the default account when credentials arrive via env.
	if acct.Configured() {
		acct.Enabled = true
		if c.Accounts == nil {
			c.Accounts = map[string]*AccountConfig{}
		}
		c.Accounts[DefaultAccountID] = acct
	}

	envStr("LARKBRIDGE_AGENT_URL", &c.Agent.BridgeURL)
	envStr("LARKBRIDGE_PAIRING_STORAGE", &c.Pairing.Storage)
	envStr("LARKBRIDGE_STATUS_HOST", &c.Status.Host)
	if v := os.Getenv("LARKBRIDGE_STATUS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Status.Port = port
		}
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config, used to detect whether a
// reload actually changed anything.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// PairingStoragePath returns the expanded pairing store path.
func (c *Config) PairingStoragePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Pairing.Storage)
}

// EnabledAccounts returns the IDs of accounts that are enabled and configured.
func (c *Config) EnabledAccounts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var ids []string
	for id, acct := range c.Accounts {
		if acct != nil && acct.Enabled && acct.Configured() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Account returns the named account config, or nil.
func (c *Config) Account(id string) *AccountConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Accounts[id]
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
