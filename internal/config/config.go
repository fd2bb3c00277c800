// Package config defines the larkbridge configuration schema and loading.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the larkbridge adapter.
type Config struct {
	Accounts map[string]*AccountConfig `json:"accounts"`
	Agent    AgentConfig               `json:"agent"`
	Pairing  PairingConfig             `json:"pairing,omitempty"`
	Status   StatusConfig              `json:"status,omitempty"`
	mu       sync.RWMutex
}

// AccountConfig is the per-account channel configuration.
type AccountConfig struct {
	Enabled           bool                  `json:"enabled"`
	AppID             string                `json:"app_id"`
	AppSecret         string                `json:"app_secret"`
	EncryptKey        string                `json:"encrypt_key,omitempty"`
	VerificationToken string                `json:"verification_token,omitempty"`
	Domain            string                `json:"domain,omitempty"`   // "lark" (default/global), "feishu" (China), or custom URL
	AgentID           string                `json:"agent_id,omitempty"` // agent route bound on first contact, default: account id

	AllowFrom       FlexibleStringSlice    `json:"allow_from"`
	DMPolicy        string                 `json:"dm_policy,omitempty"`        // "pairing" (default), "allowlist", "open", "disabled"
	GroupPolicy     string                 `json:"group_policy,omitempty"`     // "allowlist" (default), "open", "disabled"
	GroupAllowFrom  FlexibleStringSlice    `json:"group_allow_from,omitempty"`
	Chats           map[string]*RoomPolicy `json:"chats,omitempty"`            // keyed by chat id, chat name, or "*"
	RequireMention  *bool                  `json:"require_mention,omitempty"`  // default true (groups)
	MentionPatterns []string               `json:"mention_patterns,omitempty"` // extra regexes counting as a mention
	RouteBySenderID bool                   `json:"route_by_sender_id,omitempty"`

	IdleTimeoutSeconds      *int `json:"idle_timeout_seconds,omitempty"`      // default 1200, <=0 disables the watchdog
	WatchdogIntervalSeconds int  `json:"watchdog_interval_seconds,omitempty"` // default derived from idle timeout

	TextChunkLimit    int    `json:"text_chunk_limit,omitempty"`     // default 4000
	RenderMode        string `json:"render_mode,omitempty"`          // "auto" (default), "raw", "card"
	SendRatePerMinute int    `json:"send_rate_per_minute,omitempty"` // outbound rate limit, default 50
}

// RoomPolicy overrides account-level policy for one group chat. Entries are
// looked up by chat id first, then normalized chat name, then "*".
type RoomPolicy struct {
	Enabled        *bool               `json:"enabled,omitempty"`         // explicit false drops all messages in the room
	RequireMention *bool               `json:"require_mention,omitempty"`
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`      // room-level inner allowlist
	SystemPrompt   string              `json:"system_prompt,omitempty"`
	ToolPolicy     string              `json:"tool_policy,omitempty"`
	SkillFilter    []string            `json:"skill_filter,omitempty"`
}

// IsEnabled reports whether this room entry is enabled (default true).
func (r *RoomPolicy) IsEnabled() bool {
	return r == nil || r.Enabled == nil || *r.Enabled
}

// AgentConfig locates the agent runtime the adapter bridges to.
type AgentConfig struct {
	BridgeURL  string `json:"bridge_url"`            // agent runtime HTTP endpoint
	TimeoutSec int    `json:"timeout_sec,omitempty"` // per-request timeout (default 120)
	AckEmoji   string `json:"ack_emoji,omitempty"`   // receipt reaction emoji type (e.g. "OnIt"), "" disables
}

// PairingConfig controls the pairing store.
type PairingConfig struct {
	Storage string `json:"storage,omitempty"` // sqlite path (default ~/.larkbridge/pairing.db)
}

// StatusConfig controls the local status endpoint polled by the CLI.
type StatusConfig struct {
	Host string `json:"host,omitempty"` // default 127.0.0.1
	Port int    `json:"port,omitempty"` // default 18791, 0 uses default, <0 disables
}

// EffectiveDMPolicy returns the DM policy with the default applied.
func (a *AccountConfig) EffectiveDMPolicy() string {
	if a.DMPolicy == "" {
		return "pairing"
	}
	return a.DMPolicy
}

// EffectiveGroupPolicy returns the group policy with the default applied.
func (a *AccountConfig) EffectiveGroupPolicy() string {
	if a.GroupPolicy == "" {
		return "allowlist"
	}
	return a.GroupPolicy
}

// Configured reports whether the account carries usable credentials.
func (a *AccountConfig) Configured() bool {
	return a.AppID != "" && a.AppSecret != ""
}

// IdleTimeout returns the idle timeout in seconds (default 20 minutes).
// Zero or negative disables idle detection.
func (a *AccountConfig) IdleTimeout() int {
	if a.IdleTimeoutSeconds == nil {
		return 1200
	}
	return *a.IdleTimeoutSeconds
}
