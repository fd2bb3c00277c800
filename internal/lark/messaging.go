package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// --- IM API: Messages ---

// SendMessageResp is the send-message API response payload.
type SendMessageResp struct {
	MessageID string `json:"message_id"`
}

// SendMessage delivers one message. Rate limited to the configured outbound
// cap; fails loudly so the caller can record the error in its status.
func (c *Client) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (*SendMessageResp, error) {
	if err := c.sendLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("send rate wait: %w", err)
	}

	path := "/open-apis/im/v1/messages?receive_id_type=" + receiveIDType
	body := map[string]string{
		"receive_id": receiveID,
		"msg_type":   msgType,
		"content":    content,
	}
	resp, err := c.doJSON(ctx, "POST", path, body)
	if err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, fmt.Errorf("send message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var data SendMessageResp
	json.Unmarshal(resp.Data, &data)
	return &data, nil
}

// --- IM API: Reactions ---

// AddReaction attaches an emoji reaction to a message and returns the
// reaction id needed to remove it again.
func (c *Client) AddReaction(ctx context.Context, messageID, emojiType string) (string, error) {
	path := fmt.Sprintf("/open-apis/im/v1/messages/%s/reactions", messageID)
	body := map[string]interface{}{
		"reaction_type": map[string]string{"emoji_type": emojiType},
	}
	resp, err := c.doJSON(ctx, "POST", path, body)
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("add reaction: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var result struct {
		ReactionID string `json:"reaction_id"`
	}
	json.Unmarshal(resp.Data, &result)
	return result.ReactionID, nil
}

// DeleteReaction removes a previously added reaction.
func (c *Client) DeleteReaction(ctx context.Context, messageID, reactionID string) error {
	path := fmt.Sprintf("/open-apis/im/v1/messages/%s/reactions/%s", messageID, reactionID)
	resp, err := c.doJSON(ctx, "DELETE", path, nil)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("delete reaction: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

// --- Bot API ---

// GetBotInfo fetches the bot's identity from /open-apis/bot/v3/info.
// Returns the bot's open_id which is needed for mention detection in groups.
func (c *Client) GetBotInfo(ctx context.Context) (string, error) {
	resp, err := c.doJSON(ctx, "GET", "/open-apis/bot/v3/info", nil)
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("get bot info: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var result struct {
		Bot struct {
			OpenID string `json:"open_id"`
		} `json:"bot"`
	}
	json.Unmarshal(resp.Data, &result)
	return result.Bot.OpenID, nil
}

// --- Contact API ---

// GetUser resolves a user's display name.
func (c *Client) GetUser(ctx context.Context, userID, userIDType string) (string, error) {
	path := fmt.Sprintf("/open-apis/contact/v3/users/%s?user_id_type=%s", userID, userIDType)
	resp, err := c.doJSON(ctx, "GET", path, nil)
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("get user: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var result struct {
		User struct {
			Name string `json:"name"`
		} `json:"user"`
	}
	json.Unmarshal(resp.Data, &result)
	return result.User.Name, nil
}

// --- Chat API ---

// GetChatName resolves a group chat's name, used for room-policy lookup by
// configured chat name.
func (c *Client) GetChatName(ctx context.Context, chatID string) (string, error) {
	path := fmt.Sprintf("/open-apis/im/v1/chats/%s", chatID)
	resp, err := c.doJSON(ctx, "GET", path, nil)
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("get chat: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var result struct {
		Name string `json:"name"`
	}
	json.Unmarshal(resp.Data, &result)
	return result.Name, nil
}

// ResolveReceiveIDType infers the receive_id_type from an id's prefix.
func ResolveReceiveIDType(id string) string {
	if strings.HasPrefix(id, "oc_") {
		return "chat_id"
	}
	if strings.HasPrefix(id, "ou_") {
		return "open_id"
	}
	if strings.HasPrefix(id, "on_") {
		return "union_id"
	}
	return "chat_id"
}
