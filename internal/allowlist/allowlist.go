// Package allowlist normalizes and matches identity strings against
// allow-lists. Matching is transport-independent: entries may be open ids,
// union ids, display names, or the wildcard "*".
package allowlist

import "strings"

// Source identifies which rule admitted a sender.
type Source string

const (
	SourceWildcard Source = "wildcard"
	SourceID       Source = "id"
	SourceName     Source = "name"
	SourceNone     Source = "none"
)

// Decision is the atomic result of one allowlist check. Never carries side
// effects.
type Decision struct {
	Allowed bool
	Source  Source
}

// Sender carries the identity aliases of one message author. A sender may be
// known under a stable open id and a per-tenant union id; matching tries both
// plus the display name, in that priority order.
type Sender struct {
	OpenID  string
	UnionID string
	Name    string
}

var (
	platformPrefixes = []string{"feishu:", "lark:", "alias:"}
	kindPrefixes     = []string{"user:", "chat:", "open:"}
)

// Normalize lowercases an entry and strips the platform and kind prefixes.
// Idempotent: Normalize(Normalize(x)) == Normalize(x).
func Normalize(entry string) string {
	s := strings.ToLower(strings.TrimSpace(entry))
	for _, p := range platformPrefixes {
		if strings.HasPrefix(s, p) {
			s = s[len(p):]
			break
		}
	}
	for _, p := range kindPrefixes {
		if strings.HasPrefix(s, p) {
			s = s[len(p):]
			break
		}
	}
	return strings.TrimSpace(s)
}

// Match checks a sender against an allow-list. Entries are normalized before
// comparison; "*" admits any sender. Ids match exactly (case-insensitive),
// the display name as a last resort.
func Match(entries []string, sender Sender) Decision {
	openID := strings.ToLower(sender.OpenID)
	unionID := strings.ToLower(sender.UnionID)
	name := strings.ToLower(strings.TrimSpace(sender.Name))

	for _, raw := range entries {
		entry := Normalize(raw)
		if entry == "" {
			continue
		}
		if entry == "*" {
			return Decision{Allowed: true, Source: SourceWildcard}
		}
		if openID != "" && entry == openID {
			return Decision{Allowed: true, Source: SourceID}
		}
		if unionID != "" && entry == unionID {
			return Decision{Allowed: true, Source: SourceID}
		}
	}

	// Name matching runs after all id entries failed so an id entry always
	// wins over a colliding name entry.
	if name != "" {
		for _, raw := range entries {
			entry := Normalize(raw)
			if entry != "" && entry != "*" && entry == name {
				return Decision{Allowed: true, Source: SourceName}
			}
		}
	}

	return Decision{Allowed: false, Source: SourceNone}
}

// MatchID checks a bare identity string (room id or name) against an
// allow-list, with the same normalization rules as Match.
func MatchID(entries []string, id string) Decision {
	return Match(entries, Sender{OpenID: id})
}
