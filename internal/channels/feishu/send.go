package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/nextlevelbuilder/larkbridge/internal/bus"
	"github.com/nextlevelbuilder/larkbridge/internal/lark"
)

// Send delivers an outbound message to a Lark chat, chunking long text and
// upgrading to a card when the content warrants it.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("feishu channel %s not running", c.Name())
	}
	chatID := msg.ChatID
	if chatID == "" {
		return fmt.Errorf("empty chat ID for feishu send")
	}
	text := msg.Content
	if text == "" {
		return nil
	}

	c.clearAck(ctx, chatID)

	renderMode := c.policyCfg.RenderMode
	if renderMode == "" {
		renderMode = "auto"
	}
	useCard := renderMode == "card" || (renderMode == "auto" && shouldUseCard(text))

	chunkLimit := c.policyCfg.TextChunkLimit
	if chunkLimit <= 0 {
		chunkLimit = defaultTextChunkLimit
	}

	receiveIDType := lark.ResolveReceiveIDType(chatID)

	var err error
	if useCard {
		err = c.sendMarkdownCard(ctx, chatID, receiveIDType, text)
	} else {
		err = c.sendChunkedText(ctx, chatID, receiveIDType, text, chunkLimit)
	}
	c.sup.NoteOutbound(err)
	return err
}

// sendChunkedText splits text into chunks and sends them sequentially to
// preserve ordering.
func (c *Channel) sendChunkedText(ctx context.Context, chatID, receiveIDType, text string, chunkLimit int) error {
	for _, chunk := range splitChunks(text, chunkLimit) {
		if err := c.sendText(ctx, chatID, receiveIDType, chunk); err != nil {
			return err
		}
	}
	return nil
}

// splitChunks cuts text into pieces of at most chunkLimit bytes, preferring
// a newline past the halfway point. A cut that would land inside a multi-byte
// rune backs off to the rune's start so every chunk stays valid UTF-8.
func splitChunks(text string, chunkLimit int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= chunkLimit {
			chunks = append(chunks, text)
			break
		}
		cutAt := chunkLimit
		if idx := strings.LastIndex(text[:chunkLimit], "\n"); idx > chunkLimit/2 {
			cutAt = idx + 1
		} else {
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
			if cutAt == 0 {
				cutAt = chunkLimit
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

func (c *Channel) sendText(ctx context.Context, chatID, receiveIDType, text string) error {
	content := buildPostContent(text)
	if _, err := c.client.SendMessage(ctx, receiveIDType, chatID, "post", content); err != nil {
		return fmt.Errorf("feishu send text: %w", err)
	}
	return nil
}

func (c *Channel) sendMarkdownCard(ctx context.Context, chatID, receiveIDType, text string) error {
	cardJSON, err := json.Marshal(buildMarkdownCard(text))
	if err != nil {
		return fmt.Errorf("marshal card: %w", err)
	}
	if _, err := c.client.SendMessage(ctx, receiveIDType, chatID, "interactive", string(cardJSON)); err != nil {
		return fmt.Errorf("feishu send card: %w", err)
	}
	return nil
}

// --- Content builders ---

func buildPostContent(text string) string {
	content := map[string]interface{}{
		"zh_cn": map[string]interface{}{
			"content": [][]map[string]interface{}{
				{
					{
						"tag":  "md",
						"text": text,
					},
				},
			},
		},
	}
	data, _ := json.Marshal(content)
	return string(data)
}

func buildMarkdownCard(text string) map[string]interface{} {
	return map[string]interface{}{
		"schema": "2.0",
		"config": map[string]interface{}{
			"wide_screen_mode": true,
		},
		"body": map[string]interface{}{
			"elements": []map[string]interface{}{
				{
					"tag":     "markdown",
					"content": text,
				},
			},
		},
	}
}

// shouldUseCard detects content that benefits from card rendering.
func shouldUseCard(text string) bool {
	return strings.Contains(text, "```") ||
		strings.Contains(text, "| --- ") ||
		strings.Contains(text, "|---|")
}
