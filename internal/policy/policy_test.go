package policy

import (
	"testing"

	"github.com/nextlevelbuilder/larkbridge/internal/allowlist"
	"github.com/nextlevelbuilder/larkbridge/internal/config"
)

func boolPtr(b bool) *bool { return &b }

func dmEvent(senderID, body string) Event {
	return Event{
		Sender:   allowlist.Sender{OpenID: senderID},
		ChatID:   "ou_" + senderID,
		ChatType: "p2p",
		Body:     body,
	}
}

func groupEvent(senderID, chatID, body string, mentioned bool) Event {
	ev := Event{
		Sender:    allowlist.Sender{OpenID: senderID},
		ChatID:    chatID,
		ChatType:  "group",
		Body:      body,
		BotOpenID: "ou_bot",
	}
	if mentioned {
		ev.Mentions = []Mention{{OpenID: "ou_bot"}}
	}
	return ev
}

func TestDMAdmission(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.AccountConfig
		storeAllow []string
		sender     string
		want       Verdict
		reason     string
	}{
		{
			name:   "disabled drops everyone",
			cfg:    config.AccountConfig{DMPolicy: "disabled", AllowFrom: config.FlexibleStringSlice{"ou_alice"}},
			sender: "ou_alice",
			want:   Drop,
			reason: ReasonDMDisabled,
		},
		{
			name:   "open admits anyone",
			cfg:    config.AccountConfig{DMPolicy: "open"},
			sender: "ou_stranger",
			want:   Deliver,
		},
		{
			name:   "allowlist admits listed sender",
			cfg:    config.AccountConfig{DMPolicy: "allowlist", AllowFrom: config.FlexibleStringSlice{"ou_alice"}},
			sender: "ou_alice",
			want:   Deliver,
		},
		{
			name:   "allowlist drops unlisted sender",
			cfg:    config.AccountConfig{DMPolicy: "allowlist", AllowFrom: config.FlexibleStringSlice{"ou_alice"}},
			sender: "ou_stranger",
			want:   Drop,
			reason: ReasonDMNotAllowed,
		},
		{
			name:       "allowlist honors persisted pairing approvals",
			cfg:        config.AccountConfig{DMPolicy: "allowlist"},
			storeAllow: []string{"ou_paired"},
			sender:     "ou_paired",
			want:       Deliver,
		},
		{
			name:   "pairing verdict for unknown sender",
			cfg:    config.AccountConfig{},
			sender: "ou_stranger",
			want:   Pair,
		},
		{
			name:       "pairing admits approved sender",
			cfg:        config.AccountConfig{},
			storeAllow: []string{"ou_paired"},
			sender:     "ou_paired",
			want:       Deliver,
		},
		{
			name:   "pairing admits allowlisted sender without handshake",
			cfg:    config.AccountConfig{AllowFrom: config.FlexibleStringSlice{"ou_alice"}},
			sender: "ou_alice",
			want:   Deliver,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(&tt.cfg)
			ev := dmEvent(tt.sender, "hello")
			ev.StoreAllow = tt.storeAllow
			res := e.Evaluate(ev)
			if res.Verdict != tt.want {
				t.Fatalf("verdict = %v, want %v (reason %q)", res.Verdict, tt.want, res.Reason)
			}
			if tt.reason != "" && res.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.reason)
			}
		})
	}
}

func TestGroupAdmission(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.AccountConfig
		storeAllow []string
		sender     string
		chatID     string
		mentioned  bool
		want       Verdict
		reason     string
	}{
		{
			name:      "disabled drops all group traffic",
			cfg:       config.AccountConfig{GroupPolicy: "disabled"},
			sender:    "ou_alice",
			chatID:    "oc_room",
			mentioned: true,
			want:      Drop,
			reason:    ReasonGroupDisabled,
		},
		{
			name:      "open admits with mention",
			cfg:       config.AccountConfig{GroupPolicy: "open"},
			sender:    "ou_anyone",
			chatID:    "oc_room",
			mentioned: true,
			want:      Deliver,
		},
		{
			name:      "allowlist with no lists drops",
			cfg:       config.AccountConfig{},
			sender:    "ou_alice",
			chatID:    "oc_room",
			mentioned: true,
			want:      Drop,
			reason:    ReasonNotAllowed,
		},
		{
			name:      "outer group allowlist admits",
			cfg:       config.AccountConfig{GroupAllowFrom: config.FlexibleStringSlice{"ou_alice"}},
			sender:    "ou_alice",
			chatID:    "oc_room",
			mentioned: true,
			want:      Deliver,
		},
		{
			name:       "persisted pairing approval extends outer list",
			cfg:        config.AccountConfig{GroupAllowFrom: config.FlexibleStringSlice{"ou_other"}},
			storeAllow: []string{"ou_paired"},
			sender:     "ou_paired",
			chatID:     "oc_room",
			mentioned:  true,
			want:       Deliver,
		},
		{
			name: "room allow_from admits sender missing from outer list",
			cfg: config.AccountConfig{
				GroupAllowFrom: config.FlexibleStringSlice{"ou_other"},
				Chats: map[string]*config.RoomPolicy{
					"oc_room": {AllowFrom: config.FlexibleStringSlice{"ou_alice"}},
				},
			},
			sender:    "ou_alice",
			chatID:    "oc_room",
			mentioned: true,
			want:      Deliver,
		},
		{
			name: "room-only allowlist admits",
			cfg: config.AccountConfig{
				Chats: map[string]*config.RoomPolicy{
					"oc_room": {AllowFrom: config.FlexibleStringSlice{"ou_alice"}},
				},
			},
			sender:    "ou_alice",
			chatID:    "oc_room",
			mentioned: true,
			want:      Deliver,
		},
		{
			name: "sender in neither list drops",
			cfg: config.AccountConfig{
				GroupAllowFrom: config.FlexibleStringSlice{"ou_other"},
				Chats: map[string]*config.RoomPolicy{
					"oc_room": {AllowFrom: config.FlexibleStringSlice{"ou_third"}},
				},
			},
			sender:    "ou_alice",
			chatID:    "oc_room",
			mentioned: true,
			want:      Drop,
			reason:    ReasonNotAllowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(&tt.cfg)
			ev := groupEvent(tt.sender, tt.chatID, "hello", tt.mentioned)
			ev.StoreAllow = tt.storeAllow
			res := e.Evaluate(ev)
			if res.Verdict != tt.want {
				t.Fatalf("verdict = %v, want %v (reason %q)", res.Verdict, tt.want, res.Reason)
			}
			if tt.reason != "" && res.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.reason)
			}
		})
	}
}

func TestRoomResolution(t *testing.T) {
	cfg := config.AccountConfig{
		GroupPolicy: "open",
		Chats: map[string]*config.RoomPolicy{
			"oc_known": {RequireMention: boolPtr(false)},
			"Ops Room": {Enabled: boolPtr(false)},
			"*":        {RequireMention: boolPtr(true)},
		},
	}
	e := New(&cfg)

	t.Run("room matched by id", func(t *testing.T) {
		res := e.Evaluate(groupEvent("ou_alice", "oc_known", "hello", false))
		if res.Verdict != Deliver {
			t.Fatalf("verdict = %v, want Deliver (reason %q)", res.Verdict, res.Reason)
		}
	})

	t.Run("room matched by normalized name", func(t *testing.T) {
		ev := groupEvent("ou_alice", "oc_opsroom", "hello", true)
		ev.ChatName = "OPS ROOM"
		res := e.Evaluate(ev)
		if res.Verdict != Drop || res.Reason != ReasonRoomDisabled {
			t.Fatalf("verdict = %v reason %q, want Drop/%q", res.Verdict, res.Reason, ReasonRoomDisabled)
		}
	})

	t.Run("unknown room falls back to wildcard", func(t *testing.T) {
		res := e.Evaluate(groupEvent("ou_alice", "oc_unknown", "hello", false))
		if res.Verdict != Drop || res.Reason != ReasonNoMention {
			t.Fatalf("verdict = %v reason %q, want Drop/%q", res.Verdict, res.Reason, ReasonNoMention)
		}
	})

	t.Run("unknown room without wildcard is dropped", func(t *testing.T) {
		noWildcard := config.AccountConfig{
			GroupPolicy: "open",
			Chats: map[string]*config.RoomPolicy{
				"oc_known": {},
			},
		}
		res := New(&noWildcard).Evaluate(groupEvent("ou_alice", "oc_unknown", "hello", true))
		if res.Verdict != Drop || res.Reason != ReasonRoomNotAllowed {
			t.Fatalf("verdict = %v reason %q, want Drop/%q", res.Verdict, res.Reason, ReasonRoomNotAllowed)
		}
	})
}

func TestMentionGating(t *testing.T) {
	t.Run("default requires mention", func(t *testing.T) {
		e := New(&config.AccountConfig{GroupPolicy: "open"})
		res := e.Evaluate(groupEvent("ou_alice", "oc_room", "hello", false))
		if res.Verdict != Drop || res.Reason != ReasonNoMention {
			t.Fatalf("verdict = %v reason %q, want Drop/%q", res.Verdict, res.Reason, ReasonNoMention)
		}
	})

	t.Run("native mention admits", func(t *testing.T) {
		e := New(&config.AccountConfig{GroupPolicy: "open"})
		res := e.Evaluate(groupEvent("ou_alice", "oc_room", "hello", true))
		if res.Verdict != Deliver || !res.WasMentioned {
			t.Fatalf("verdict = %v mentioned = %v, want Deliver/true", res.Verdict, res.WasMentioned)
		}
	})

	t.Run("mention of someone else does not count", func(t *testing.T) {
		e := New(&config.AccountConfig{GroupPolicy: "open"})
		ev := groupEvent("ou_alice", "oc_room", "hello", false)
		ev.Mentions = []Mention{{OpenID: "ou_colleague"}}
		res := e.Evaluate(ev)
		if res.Verdict != Drop || res.Reason != ReasonNoMention {
			t.Fatalf("verdict = %v reason %q, want Drop/%q", res.Verdict, res.Reason, ReasonNoMention)
		}
	})

	t.Run("any mention counts when bot id unknown", func(t *testing.T) {
		e := New(&config.AccountConfig{GroupPolicy: "open"})
		ev := groupEvent("ou_alice", "oc_room", "hello", false)
		ev.BotOpenID = ""
		ev.Mentions = []Mention{{OpenID: "ou_colleague"}}
		if res := e.Evaluate(ev); res.Verdict != Deliver {
			t.Fatalf("verdict = %v, want Deliver (reason %q)", res.Verdict, res.Reason)
		}
	})

	t.Run("room override disables gating", func(t *testing.T) {
		e := New(&config.AccountConfig{
			GroupPolicy: "open",
			Chats: map[string]*config.RoomPolicy{
				"oc_room": {RequireMention: boolPtr(false)},
			},
		})
		if res := e.Evaluate(groupEvent("ou_alice", "oc_room", "hello", false)); res.Verdict != Deliver {
			t.Fatalf("verdict = %v, want Deliver (reason %q)", res.Verdict, res.Reason)
		}
	})

	t.Run("account default disables gating", func(t *testing.T) {
		e := New(&config.AccountConfig{GroupPolicy: "open", RequireMention: boolPtr(false)})
		if res := e.Evaluate(groupEvent("ou_alice", "oc_room", "hello", false)); res.Verdict != Deliver {
			t.Fatalf("verdict = %v, want Deliver (reason %q)", res.Verdict, res.Reason)
		}
	})

	t.Run("mention pattern matches body", func(t *testing.T) {
		e := New(&config.AccountConfig{GroupPolicy: "open", MentionPatterns: []string{`\bbridge\b`}})
		res := e.Evaluate(groupEvent("ou_alice", "oc_room", "hey Bridge, status?", false))
		if res.Verdict != Deliver || !res.WasMentioned {
			t.Fatalf("verdict = %v mentioned = %v, want Deliver/true", res.Verdict, res.WasMentioned)
		}
	})
}

func TestControlCommands(t *testing.T) {
	t.Run("is control command", func(t *testing.T) {
		cases := map[string]bool{
			"/restart":      true,
			"  /status  ":   true,
			"/":             false,
			"hello":         false,
			"see /etc/motd": false,
		}
		for body, want := range cases {
			if got := IsControlCommand(body); got != want {
				t.Errorf("IsControlCommand(%q) = %v, want %v", body, got, want)
			}
		}
	})

	t.Run("unauthorized group command dropped", func(t *testing.T) {
		e := New(&config.AccountConfig{GroupPolicy: "open", GroupAllowFrom: config.FlexibleStringSlice{"ou_admin"}})
		res := e.Evaluate(groupEvent("ou_alice", "oc_room", "/restart", true))
		if res.Verdict != Drop || res.Reason != ReasonCommandUnauth {
			t.Fatalf("verdict = %v reason %q, want Drop/%q", res.Verdict, res.Reason, ReasonCommandUnauth)
		}
	})

	t.Run("authorized command bypasses mention gating", func(t *testing.T) {
		e := New(&config.AccountConfig{
			GroupPolicy:    "allowlist",
			GroupAllowFrom: config.FlexibleStringSlice{"ou_admin"},
		})
		res := e.Evaluate(groupEvent("ou_admin", "oc_room", "/restart", false))
		if res.Verdict != Deliver {
			t.Fatalf("verdict = %v, want Deliver (reason %q)", res.Verdict, res.Reason)
		}
		if !res.CommandAuthorized {
			t.Error("expected CommandAuthorized")
		}
	})

	t.Run("open policy authorizes commands without allowlists", func(t *testing.T) {
		e := New(&config.AccountConfig{DMPolicy: "open"})
		res := e.Evaluate(dmEvent("ou_anyone", "/status"))
		if res.Verdict != Deliver || !res.CommandAuthorized {
			t.Fatalf("verdict = %v authorized = %v, want Deliver/true", res.Verdict, res.CommandAuthorized)
		}
	})
}
