// Package sessions builds the canonical session keys the agent runtime
// groups conversations by.
//
// Keys follow the format:
//
//	agent:{agentId}:{channel}:direct:{peerId}
//	agent:{agentId}:{channel}:group:{chatId}
//
// Examples:
//
//	agent:default:feishu:direct:ou_7d8a6e6df7621556ce0d21922b676706ccs
//	agent:default:feishu:group:oc_a0553eda9014c201e6969b478895c230
package sessions

import (
	"fmt"
	"strings"
)

// PeerKind distinguishes DM from group conversations.
type PeerKind string

const (
	PeerDirect PeerKind = "direct"
	PeerGroup  PeerKind = "group"
)

// BuildSessionKey builds the canonical agent session key for a conversation.
// For DMs the peer is normally the sender; group chats key on the chat id so
// everyone in the room shares one session.
func BuildSessionKey(agentID, channel string, kind PeerKind, peerID string) string {
	return fmt.Sprintf("agent:%s:%s:%s:%s", agentID, channel, kind, peerID)
}

// KeyFor picks the peer for a conversation. routeBySender forces group
// messages into per-sender sessions instead of one shared room session.
func KeyFor(agentID, channel, chatType, chatID, senderID string, routeBySender bool) string {
	if chatType == "group" && !routeBySender {
		return BuildSessionKey(agentID, channel, PeerGroup, chatID)
	}
	if chatType == "group" {
		return BuildSessionKey(agentID, channel, PeerGroup, chatID+":"+senderID)
	}
	return BuildSessionKey(agentID, channel, PeerDirect, senderID)
}

// ParseSessionKey splits a canonical key into agent id and the remainder.
// Returns ("", "") when the key is not canonical.
func ParseSessionKey(key string) (agentID, rest string) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "agent" {
		return "", ""
	}
	return parts[1], parts[2]
}
