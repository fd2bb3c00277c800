package config

import (
	"fmt"
	"sync"
)

// Account is a resolved credential set plus its policy configuration.
// Immutable once resolved for a given config snapshot; the resolver cache is
// dropped on config reload so accounts are re-resolved lazily.
type Account struct {
	ID                string
	Enabled           bool
	AppID             string
	AppSecret         string
	BotOpenID         string
	VerificationToken string
	EncryptKey        string
	Policy            *AccountConfig
}

// Configured reports whether the account carries usable credentials.
func (a *Account) Configured() bool {
	return a != nil && a.AppID != "" && a.AppSecret != ""
}

// Resolver resolves account IDs to credential sets, caching by the
// (app_id, app_secret) identity tuple.
type Resolver struct {
	mu    sync.Mutex
	cfg   *Config
	cache map[string]*Account
}

// NewResolver creates a resolver over the given config snapshot.
func NewResolver(cfg *Config) *Resolver {
	return &Resolver{cfg: cfg, cache: make(map[string]*Account)}
}

// Resolve returns the account for id, or an error when the account is
// missing or unconfigured. Resolved accounts are cached by identity tuple.
func (r *Resolver) Resolve(id string) (*Account, error) {
	acct := r.cfg.Account(id)
	if acct == nil {
		return nil, fmt.Errorf("account %q not configured", id)
	}
	if !acct.Configured() {
		return nil, fmt.Errorf("account %q missing app_id/app_secret", id)
	}

	key := acct.AppID + "\x00" + acct.AppSecret

	r.mu.Lock()
	defer r.mu.Unlock()
	if cached, ok := r.cache[key]; ok {
		return cached, nil
	}

	resolved := &Account{
		ID:                id,
		Enabled:           acct.Enabled,
		AppID:             acct.AppID,
		AppSecret:         acct.AppSecret,
		VerificationToken: acct.VerificationToken,
		EncryptKey:        acct.EncryptKey,
		Policy:            acct,
	}
	r.cache[key] = resolved
	return resolved, nil
}

// Invalidate drops the resolution cache and swaps in a new config snapshot.
// Called from the config watcher on reload.
func (r *Resolver) Invalidate(cfg *Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	r.cache = make(map[string]*Account)
}
