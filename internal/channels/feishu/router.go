package feishu

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/larkbridge/internal/allowlist"
	"github.com/nextlevelbuilder/larkbridge/internal/bus"
	"github.com/nextlevelbuilder/larkbridge/internal/channels"
	"github.com/nextlevelbuilder/larkbridge/internal/lark"
	"github.com/nextlevelbuilder/larkbridge/internal/policy"
	"github.com/nextlevelbuilder/larkbridge/internal/sessions"
)

// handleEvent is the transport callback for one pushed event. Any readable
// frame counts as session activity, admitted or not.
func (c *Channel) handleEvent(ctx context.Context, payload []byte) {
	c.sup.NoteInbound()

	event, err := lark.UnwrapEvent(payload)
	if err != nil {
		slog.Debug("Unparseable event payload", "account", c.Name(), "error", err)
		return
	}
	if event.Header.EventType != lark.EventTypeMessage {
		slog.Debug("Ignoring event", "account", c.Name(), "event_type", event.Header.EventType)
		return
	}

	// Process on the channel's lifetime context, not the session's: ctx here
	// is the read-loop's, which a reconnect cancels, and that must not abort
	// name lookups, acks, or pairing replies already in flight.
	runCtx := c.runCtx
	if runCtx == nil {
		runCtx = ctx
	}
	go c.handleMessageEvent(runCtx, event)
}

// handleMessageEvent runs the full admission pipeline for one message.
func (c *Channel) handleMessageEvent(ctx context.Context, event *lark.MessageEvent) {
	msg := &event.Message

	messageID := msg.MessageID
	if messageID == "" {
		return
	}
	if c.isDuplicate(messageID) {
		slog.Debug("Message deduplicated", "account", c.Name(), "message_id", messageID)
		return
	}

	content := lark.ParseContent(msg.Content, msg.MessageType)
	senderID := event.SenderOpenID()
	if senderID == "" || msg.ChatID == "" || content == "" {
		slog.Debug("Rejecting malformed message event",
			"account", c.Name(), "message_id", messageID, "chat_id", msg.ChatID)
		return
	}
	senderName := c.resolveSenderName(ctx, senderID)

	chatName := ""
	if msg.ChatType == "group" {
		chatName = c.resolveChatName(ctx, msg.ChatID)
	}

	ev := policy.Event{
		Sender: allowlist.Sender{
			OpenID:  event.Sender.SenderID.OpenID,
			UnionID: event.Sender.SenderID.UnionID,
			Name:    senderName,
		},
		ChatID:     msg.ChatID,
		ChatName:   chatName,
		ChatType:   msg.ChatType,
		Body:       content,
		BotOpenID:  c.botOpenID,
		StoreAllow: c.pairing.AllowFrom(c.Name()),
	}
	for _, m := range msg.Mentions {
		ev.Mentions = append(ev.Mentions, policy.Mention{OpenID: m.ID.OpenID})
	}

	res := c.engine.Evaluate(ev)
	switch res.Verdict {
	case policy.Drop:
		slog.Debug("Message dropped",
			"account", c.Name(),
			"reason", res.Reason,
			"sender_id", senderID,
			"chat_id", msg.ChatID,
		)
		return
	case policy.Pair:
		c.sendPairingReply(ctx, senderID, msg.ChatID)
		return
	}

	text := lark.StripMentions(content, msg.Mentions, c.botOpenID)
	if text == "" {
		text = "[empty message]"
	}

	slog.Debug("Message admitted",
		"account", c.Name(),
		"sender_id", senderID,
		"sender_name", senderName,
		"chat_id", msg.ChatID,
		"chat_type", msg.ChatType,
		"mentioned", res.WasMentioned,
		"preview", channels.Truncate(text, 50),
	)

	c.acknowledge(ctx, msg.ChatID, messageID)

	agentID := c.ensureRoute(senderID)

	inbound := bus.InboundMessage{
		Account:           c.Name(),
		SenderID:          senderID,
		SenderName:        senderName,
		ChatID:            msg.ChatID,
		ChatType:          msg.ChatType,
		SessionKey:        c.sessionKey(agentID, msg.ChatType, msg.ChatID, senderID),
		Content:           text,
		WasMentioned:      res.WasMentioned,
		CommandAuthorized: res.CommandAuthorized,
		Timestamp:         event.Timestamp(time.Now()),
		Metadata: map[string]string{
			"message_id": messageID,
			"platform":   "feishu",
		},
	}
	if res.Room != nil {
		inbound.GroupSystemPrompt = res.Room.SystemPrompt
	}
	if msg.ChatType == "group" && senderName != "" {
		inbound.Content = fmt.Sprintf("[From: %s]\n%s", senderName, text)
	}

	c.Bus().PublishInbound(inbound)
}

func (c *Channel) sessionKey(agentID, chatType, chatID, senderID string) string {
	return sessions.KeyFor(agentID, "feishu", chatType, chatID, senderID, c.policyCfg.RouteBySenderID)
}

// ensureRoute binds the sender to an agent route on first contact so later
// messages keep the same session prefix. The in-flight set keeps concurrent
// events for a new sender from double-binding; the done set skips the store
// once the binding is known.
func (c *Channel) ensureRoute(senderID string) string {
	key := c.Name() + ":" + senderID
	if v, ok := c.routeDone.Load(key); ok {
		return v.(string)
	}

	agentID := c.policyCfg.AgentID
	if agentID == "" {
		agentID = c.Name()
	}
	if _, inFlight := c.routeInFlight.LoadOrStore(key, struct{}{}); inFlight {
		return agentID
	}
	defer c.routeInFlight.Delete(key)

	if bound, ok := c.routes.AgentFor(c.Name(), senderID); ok {
		c.routeDone.Store(key, bound)
		return bound
	}
	created, err := c.routes.Bind(c.Name(), senderID, agentID)
	if err != nil {
		slog.Warn("Failed to persist agent route", "account", c.Name(), "sender_id", senderID, "error", err)
		return agentID
	}
	if created {
		slog.Info("Bound sender to agent route", "account", c.Name(), "sender_id", senderID, "agent", agentID)
	}
	c.routeDone.Store(key, agentID)
	return agentID
}

// isDuplicate reports whether messageID was already processed. Entries age
// out after dedupTTL to bound memory.
func (c *Channel) isDuplicate(messageID string) bool {
	_, loaded := c.dedup.LoadOrStore(messageID, struct{}{})
	if !loaded {
		time.AfterFunc(dedupTTL, func() { c.dedup.Delete(messageID) })
	}
	return loaded
}

// --- Name resolution ---

func (c *Channel) resolveSenderName(ctx context.Context, openID string) string {
	if openID == "" {
		return ""
	}
	if v, ok := c.senderCache.Load(openID); ok {
		e := v.(*cacheEntry)
		if time.Now().Before(e.expiresAt) {
			return e.value
		}
		c.senderCache.Delete(openID)
	}

	name, err := c.client.GetUser(ctx, openID, "open_id")
	if err != nil {
		slog.Debug("Sender name lookup failed", "account", c.Name(), "open_id", openID, "error", err)
		return ""
	}
	if name != "" {
		c.senderCache.Store(openID, &cacheEntry{value: name, expiresAt: time.Now().Add(senderCacheTTL)})
	}
	return name
}

func (c *Channel) resolveChatName(ctx context.Context, chatID string) string {
	if v, ok := c.chatNameCache.Load(chatID); ok {
		e := v.(*cacheEntry)
		if time.Now().Before(e.expiresAt) {
			return e.value
		}
		c.chatNameCache.Delete(chatID)
	}

	name, err := c.client.GetChatName(ctx, chatID)
	if err != nil {
		slog.Debug("Chat name lookup failed", "account", c.Name(), "chat_id", chatID, "error", err)
		return ""
	}
	if name != "" {
		c.chatNameCache.Store(chatID, &cacheEntry{value: name, expiresAt: time.Now().Add(chatNameCacheTTL)})
	}
	return name
}

// --- Pairing ---

// sendPairingReply issues (or re-issues) the pairing handshake to an unknown
// DM sender, at most once per debounce window.
func (c *Channel) sendPairingReply(ctx context.Context, senderID, chatID string) {
	if lastSent, ok := c.pairingDebounce.Load(senderID); ok {
		if time.Since(lastSent.(time.Time)) < pairingDebounceTime {
			return
		}
	}

	req, _, err := c.pairing.Upsert(c.Name(), senderID, chatID)
	if err != nil {
		slog.Debug("Pairing upsert failed", "account", c.Name(), "sender_id", senderID, "error", err)
		return
	}

	replyText := fmt.Sprintf(
		"Access not configured.\n\nYour open_id: %s\n\nPairing code: %s\n\nAsk the bot owner to approve with:\n  larkbridge pairing approve %s",
		senderID, req.Code, req.Code,
	)
	if err := c.sendText(ctx, chatID, lark.ResolveReceiveIDType(chatID), replyText); err != nil {
		slog.Warn("Failed to send pairing reply", "account", c.Name(), "error", err)
		return
	}
	c.pairingDebounce.Store(senderID, time.Now())
	slog.Info("Pairing reply sent", "account", c.Name(), "sender_id", senderID, "code", req.Code)
}

// --- Receipt acknowledgment ---

// acknowledge marks the admitted message as being worked on: an emoji
// reaction, cleared when the reply lands. A later message in the same chat
// supersedes any pending ack.
func (c *Channel) acknowledge(ctx context.Context, chatID, messageID string) {
	if c.agent.AckEmoji == "" {
		return
	}
	reactionID, err := c.client.AddReaction(ctx, messageID, c.agent.AckEmoji)
	if err != nil {
		slog.Debug("Ack reaction failed", "account", c.Name(), "message_id", messageID, "error", err)
		return
	}
	if prev, loaded := c.pendingAcks.Swap(chatID, ackRef{messageID: messageID, reactionID: reactionID}); loaded {
		ref := prev.(ackRef)
		_ = c.client.DeleteReaction(ctx, ref.messageID, ref.reactionID)
	}
}

// clearAck removes the pending ack reaction for a chat, exactly once.
func (c *Channel) clearAck(ctx context.Context, chatID string) {
	if v, loaded := c.pendingAcks.LoadAndDelete(chatID); loaded {
		ref := v.(ackRef)
		if err := c.client.DeleteReaction(ctx, ref.messageID, ref.reactionID); err != nil {
			slog.Debug("Clear ack reaction failed", "account", c.Name(), "message_id", ref.messageID, "error", err)
		}
	}
}
