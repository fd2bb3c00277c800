// Package policy implements the admission decision for inbound events.
//
// The engine is a pure function of its inputs (account config + event
// identity); it never performs side effects. Pairing-code replies and drops
// are acted on by the caller based on the returned verdict.
package policy

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/larkbridge/internal/allowlist"
	"github.com/nextlevelbuilder/larkbridge/internal/config"
)

// Verdict is the admission outcome for one inbound event.
type Verdict int

const (
	// Deliver forwards the event to the agent runtime.
	Deliver Verdict = iota
	// Drop discards the event; Result.Reason names why.
	Drop
	// Pair discards the event but instructs the caller to run the pairing
	// handshake for the sender.
	Pair
)

// Drop reason tags. Logged verbatim so operators can grep a single reason.
const (
	ReasonRoomNotAllowed = "room not allowlisted"
	ReasonRoomDisabled   = "room disabled"
	ReasonNotAllowed     = "not allowlisted"
	ReasonNoMention      = "no mention"
	ReasonCommandUnauth  = "control command unauthorized"
	ReasonGroupDisabled  = "groupPolicy=disabled"
	ReasonDMDisabled     = "dmPolicy=disabled"
	ReasonDMNotAllowed   = "dmPolicy=allowlist"
)

// Mention is a platform-native mention attached to a message.
type Mention struct {
	OpenID string
}

// Event carries the identity and message facts of one inbound event.
type Event struct {
	Sender   allowlist.Sender
	ChatID   string
	ChatName string
	ChatType string // "p2p" or "group"
	Body     string
	Mentions []Mention

	// BotOpenID is the bot's own identity, probed at connect time. Empty
	// means unknown: any native mention then counts as a bot mention.
	BotOpenID string

	// StoreAllow is the persisted pairing allow-list for this account,
	// unioned with the configured account allow-lists.
	StoreAllow []string
}

// Result is the admission decision plus its sub-decisions.
type Result struct {
	Verdict           Verdict
	Reason            string
	WasMentioned      bool
	CommandAuthorized bool
	Room              *config.RoomPolicy
}

// Engine evaluates admission for one account's configuration.
type Engine struct {
	cfg       *config.AccountConfig
	mentionRe []*regexp.Regexp
}

// New creates an engine for an account. Invalid mention patterns are logged
// and skipped.
func New(cfg *config.AccountConfig) *Engine {
	e := &Engine{cfg: cfg}
	for _, pat := range cfg.MentionPatterns {
		re, err := regexp.Compile("(?i)" + pat)
		if err != nil {
			slog.Warn("invalid mention pattern, skipping", "pattern", pat, "error", err)
			continue
		}
		e.mentionRe = append(e.mentionRe, re)
	}
	return e
}

// Evaluate produces the admission decision for one inbound event. Checks
// short-circuit: the first failing check drops the event with its reason.
func (e *Engine) Evaluate(ev Event) Result {
	isGroup := ev.ChatType == "group"

	var room *config.RoomPolicy
	if isGroup {
		var matched bool
		room, matched = e.resolveRoom(ev.ChatID, ev.ChatName)
		if len(e.cfg.Chats) > 0 && !matched {
			return Result{Verdict: Drop, Reason: ReasonRoomNotAllowed}
		}
		if matched && !room.IsEnabled() {
			return Result{Verdict: Drop, Reason: ReasonRoomDisabled, Room: room}
		}
	}

	isCommand := IsControlCommand(ev.Body)
	cmdAuthorized := e.commandAuthorized(ev, room, isGroup)

	// Unauthorized control commands in groups are dropped outright, even
	// when the general message would have been admitted.
	if isGroup && isCommand && !cmdAuthorized {
		return Result{Verdict: Drop, Reason: ReasonCommandUnauth, Room: room}
	}

	if isGroup {
		if res, ok := e.groupAdmission(ev, room); !ok {
			res.CommandAuthorized = cmdAuthorized
			return res
		}
	} else {
		if res, ok := e.dmAdmission(ev); !ok {
			res.CommandAuthorized = cmdAuthorized
			return res
		}
	}

	mentioned := e.wasMentioned(ev)
	if isGroup && e.requireMention(room) && !mentioned {
		// Authorized control commands bypass mention gating so operators
		// can always reach the bot.
		if !(isCommand && cmdAuthorized) {
			return Result{Verdict: Drop, Reason: ReasonNoMention, Room: room, CommandAuthorized: cmdAuthorized}
		}
	}

	return Result{
		Verdict:           Deliver,
		WasMentioned:      mentioned,
		CommandAuthorized: cmdAuthorized,
		Room:              room,
	}
}

// resolveRoom looks up the room entry by the ordered candidate list:
// chat id, normalized chat name, wildcard. First match wins; the wildcard is
// only reached when no room-specific entry matched.
func (e *Engine) resolveRoom(chatID, chatName string) (*config.RoomPolicy, bool) {
	if len(e.cfg.Chats) == 0 {
		return nil, false
	}
	candidates := []string{chatID, allowlist.Normalize(chatName), "*"}
	for _, key := range candidates {
		if key == "" {
			continue
		}
		if room, ok := e.cfg.Chats[key]; ok {
			return room, true
		}
		// Configured keys are matched under the same normalization as the
		// candidate, so "Ops Room" and "ops room" resolve identically.
		for cfgKey, room := range e.cfg.Chats {
			if cfgKey != "*" && allowlist.Normalize(cfgKey) == key {
				return room, true
			}
		}
	}
	return nil, false
}

// wildcardRoom returns the "*" entry, used as a fallback for per-room
// settings such as require_mention.
func (e *Engine) wildcardRoom() *config.RoomPolicy {
	return e.cfg.Chats["*"]
}

// IsControlCommand reports whether the body is a recognized control command.
func IsControlCommand(body string) bool {
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "/") && len(trimmed) > 1
}

// commandAuthorized decides whether the sender may issue control commands.
// Authorized when any relevant allow-list (room-level or account-level)
// contains the sender. When no allow-list exists at that scope, anyone may
// send commands only if access gating is disabled ("open" policy).
func (e *Engine) commandAuthorized(ev Event, room *config.RoomPolicy, isGroup bool) bool {
	var scoped [][]string
	var policy string
	if isGroup {
		policy = e.cfg.EffectiveGroupPolicy()
		if room != nil && len(room.AllowFrom) > 0 {
			scoped = append(scoped, room.AllowFrom)
		}
		if len(e.cfg.GroupAllowFrom) > 0 {
			scoped = append(scoped, e.cfg.GroupAllowFrom)
		}
	} else {
		policy = e.cfg.EffectiveDMPolicy()
		if len(e.cfg.AllowFrom) > 0 {
			scoped = append(scoped, e.cfg.AllowFrom)
		}
	}
	if len(ev.StoreAllow) > 0 {
		scoped = append(scoped, ev.StoreAllow)
	}

	if len(scoped) == 0 {
		return policy == "open"
	}
	for _, entries := range scoped {
		if allowlist.Match(entries, ev.Sender).Allowed {
			return true
		}
	}
	return false
}

// groupAdmission applies the group policy. The effective outer allow-list is
// the configured group_allow_from unioned with persisted pairing allows; the
// room-level allow_from acts as a nested inner list.
func (e *Engine) groupAdmission(ev Event, room *config.RoomPolicy) (Result, bool) {
	switch e.cfg.EffectiveGroupPolicy() {
	case "disabled":
		return Result{Verdict: Drop, Reason: ReasonGroupDisabled, Room: room}, false
	case "open":
		return Result{}, true
	default: // "allowlist"
		outer := make([]string, 0, len(e.cfg.GroupAllowFrom)+len(ev.StoreAllow))
		outer = append(outer, e.cfg.GroupAllowFrom...)
		outer = append(outer, ev.StoreAllow...)

		var inner []string
		if room != nil {
			inner = room.AllowFrom
		}

		if len(outer) == 0 && len(inner) == 0 {
			return Result{Verdict: Drop, Reason: ReasonNotAllowed, Room: room}, false
		}

		if len(outer) > 0 {
			if allowlist.Match(outer, ev.Sender).Allowed {
				return Result{}, true
			}
			if len(inner) > 0 && allowlist.Match(inner, ev.Sender).Allowed {
				return Result{}, true
			}
			return Result{Verdict: Drop, Reason: ReasonNotAllowed, Room: room}, false
		}

		// Only the inner list is configured.
		if allowlist.Match(inner, ev.Sender).Allowed {
			return Result{}, true
		}
		return Result{Verdict: Drop, Reason: ReasonNotAllowed, Room: room}, false
	}
}

// dmAdmission applies the DM policy. Under "pairing" an unknown sender gets
// the Pair verdict: the caller creates-or-fetches the pairing request and
// replies with the code; the original message is never forwarded.
func (e *Engine) dmAdmission(ev Event) (Result, bool) {
	combined := make([]string, 0, len(e.cfg.AllowFrom)+len(ev.StoreAllow))
	combined = append(combined, e.cfg.AllowFrom...)
	combined = append(combined, ev.StoreAllow...)

	switch e.cfg.EffectiveDMPolicy() {
	case "disabled":
		return Result{Verdict: Drop, Reason: ReasonDMDisabled}, false
	case "open":
		return Result{}, true
	case "allowlist":
		if allowlist.Match(combined, ev.Sender).Allowed {
			return Result{}, true
		}
		return Result{Verdict: Drop, Reason: ReasonDMNotAllowed}, false
	default: // "pairing"
		if len(combined) > 0 && allowlist.Match(combined, ev.Sender).Allowed {
			return Result{}, true
		}
		return Result{Verdict: Pair}, false
	}
}

// requireMention resolves the mention requirement: room entry, wildcard room
// entry, account default, in that order. Default true.
func (e *Engine) requireMention(room *config.RoomPolicy) bool {
	if room != nil && room.RequireMention != nil {
		return *room.RequireMention
	}
	if wc := e.wildcardRoom(); wc != nil && wc != room && wc.RequireMention != nil {
		return *wc.RequireMention
	}
	if e.cfg.RequireMention != nil {
		return *e.cfg.RequireMention
	}
	return true
}

// wasMentioned reports whether the event counts as directed at the bot:
// either the body matches a configured mention pattern, or a native mention
// references the bot's open id. With no known bot id, any native mention
// counts.
func (e *Engine) wasMentioned(ev Event) bool {
	for _, re := range e.mentionRe {
		if re.MatchString(ev.Body) {
			return true
		}
	}
	for _, m := range ev.Mentions {
		if ev.BotOpenID == "" || m.OpenID == ev.BotOpenID {
			return true
		}
	}
	return false
}
