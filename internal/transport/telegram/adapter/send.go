package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "quotebot/internal/transport"
)

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := a.limiter.Wait(ctx); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, classify(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendPrivate sends a direct message. The user must have started the bot.
func (a *Adapter) SendPrivate(ctx context.Context, userID int64, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: userID}, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

type reactionType struct {
	Type          string `json:"type"`
	Emoji         string `json:"emoji,omitempty"`
	CustomEmojiID string `json:"custom_emoji_id,omitempty"`
}

func (a *Adapter) React(ctx context.Context, ref kit.MessageRef, token kit.ReactionToken) error {
	payload := struct {
		ChatID    int64          `json:"chat_id"`
		MessageID int            `json:"message_id"`
		Reaction  []reactionType `json:"reaction"`
	}{
		ChatID:    ref.ChatID,
		MessageID: ref.MessageID,
		Reaction:  []reactionType{{Type: "emoji", Emoji: string(token)}},
	}
	return a.call(ctx, "setMessageReaction", payload, nil)
}

// AvailableReactions reads available_reactions from getChat. Telegram omits the
// field when every standard emoji reaction is allowed.
func (a *Adapter) AvailableReactions(ctx context.Context, chatID int64) ([]kit.ReactionToken, bool, error) {
	var chat struct {
		AvailableReactions *[]reactionType `json:"available_reactions"`
	}
	if err := a.call(ctx, "getChat", map[string]any{"chat_id": chatID}, &chat); err != nil {
		return nil, false, err
	}
	if chat.AvailableReactions == nil {
		return nil, true, nil
	}
	out := make([]kit.ReactionToken, 0, len(*chat.AvailableReactions))
	for _, r := range *chat.AvailableReactions {
		// Custom emoji need premium sticker ids; only plain emoji are usable.
		if r.Type == "emoji" && r.Emoji != "" {
			out = append(out, kit.ReactionToken(r.Emoji))
		}
	}
	return out, false, nil
}

// call performs a raw Bot API request for methods telebot does not wrap with a context.
func (a *Adapter) call(ctx context.Context, method string, payload any, result any) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := strings.TrimRight(a.cfg.APIURL, "/") + "/bot" + strings.TrimSpace(a.cfg.Token) + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)

	if resp.StatusCode/100 != 2 || !out.OK {
		if out.Description != "" {
			return classify(fmt.Errorf("telegram %s failed: %s (code=%d http=%d)", method, out.Description, out.ErrorCode, resp.StatusCode))
		}
		return fmt.Errorf("telegram %s failed: http=%d", method, resp.StatusCode)
	}
	if result != nil && len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, result); err != nil {
			return fmt.Errorf("telegram %s: decode result: %w", method, err)
		}
	}
	return nil
}

var missingTargetHints = []string{
	"chat not found",
	"user not found",
	"bot was kicked",
	"bot was blocked by the user",
	"bot is not a member",
	"have no rights to send",
	"bot can't initiate conversation",
}

// classify wraps errors meaning the target is gone with kit.ErrChatNotFound.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, h := range missingTargetHints {
		if strings.Contains(msg, h) {
			return fmt.Errorf("%w: %v", kit.ErrChatNotFound, err)
		}
	}
	return err
}
