package allowlist

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		entry string
		want  string
	}{
		{"plain id untouched", "ou_abc123", "ou_abc123"},
		{"lowercased", "OU_ABC123", "ou_abc123"},
		{"whitespace trimmed", "  ou_abc123  ", "ou_abc123"},
		{"platform prefix stripped", "feishu:ou_abc123", "ou_abc123"},
		{"lark prefix stripped", "lark:ou_abc123", "ou_abc123"},
		{"alias prefix stripped", "alias:Dev Room", "dev room"},
		{"kind prefix stripped", "user:ou_abc123", "ou_abc123"},
		{"chat prefix stripped", "chat:oc_deadbeef", "oc_deadbeef"},
		{"both prefixes stripped", "feishu:user:ou_abc123", "ou_abc123"},
		{"wildcard untouched", "*", "*"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.entry); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.entry, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"feishu:user:OU_ABC", "  Alias:Dev Room ", "chat:oc_x", "ou_plain", "*"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize not idempotent for %q: %q != %q", in, once, twice)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name       string
		entries    []string
		sender     Sender
		want       bool
		wantSource Source
	}{
		{
			name:       "open id match",
			entries:    []string{"ou_abc"},
			sender:     Sender{OpenID: "ou_abc"},
			want:       true,
			wantSource: SourceID,
		},
		{
			name:       "union id fallback",
			entries:    []string{"on_xyz"},
			sender:     Sender{OpenID: "ou_abc", UnionID: "on_xyz"},
			want:       true,
			wantSource: SourceID,
		},
		{
			name:       "name match",
			entries:    []string{"Alice Chen"},
			sender:     Sender{OpenID: "ou_abc", Name: "alice chen"},
			want:       true,
			wantSource: SourceName,
		},
		{
			name:       "id entry beats name entry",
			entries:    []string{"bob", "ou_abc"},
			sender:     Sender{OpenID: "ou_abc", Name: "bob"},
			want:       true,
			wantSource: SourceID,
		},
		{
			name:       "wildcard admits anyone",
			entries:    []string{"*"},
			sender:     Sender{OpenID: "ou_whoever"},
			want:       true,
			wantSource: SourceWildcard,
		},
		{
			name:       "prefixed entry matches",
			entries:    []string{"feishu:user:OU_ABC"},
			sender:     Sender{OpenID: "ou_abc"},
			want:       true,
			wantSource: SourceID,
		},
		{
			name:       "no match",
			entries:    []string{"ou_other"},
			sender:     Sender{OpenID: "ou_abc", Name: "alice"},
			want:       false,
			wantSource: SourceNone,
		},
		{
			name:       "empty list denies",
			entries:    nil,
			sender:     Sender{OpenID: "ou_abc"},
			want:       false,
			wantSource: SourceNone,
		},
		{
			name:       "empty entries skipped",
			entries:    []string{"", "  ", "ou_abc"},
			sender:     Sender{OpenID: "ou_abc"},
			want:       true,
			wantSource: SourceID,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tt.entries, tt.sender)
			if got.Allowed != tt.want {
				t.Errorf("Match() allowed = %v, want %v", got.Allowed, tt.want)
			}
			if got.Source != tt.wantSource {
				t.Errorf("Match() source = %q, want %q", got.Source, tt.wantSource)
			}
		})
	}
}

func TestMatchID(t *testing.T) {
	entries := []string{"oc_room1", "Dev Room"}
	if !MatchID(entries, "oc_room1").Allowed {
		t.Error("expected room id to match")
	}
	if MatchID(entries, "oc_other").Allowed {
		t.Error("expected unknown room id to be denied")
	}
}
