package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"voicebridge/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
	telegramButtonsPerRow  = 3
)

// Telegram implements domain.Channel and domain.Gateway for a Telegram bot.
// Inline keyboard callback data is limited to 64 bytes, so buttons carry
// PayloadRefs tokens instead of the JSON payload.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)
	parseMode string
	refs      *PayloadRefs
	media     *MediaProxy

	bot     *tgbotapi.BotAPI
	handler domain.EventHandler
	logger  *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	ParseMode string
	Refs      *PayloadRefs
	// Media serves voice files to the transcription service. Telegram file
	// URLs embed the bot token, so audio is ignored without it.
	Media  *MediaProxy
	Logger *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.Refs == nil {
		cfg.Refs = NewPayloadRefs(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		refs:      cfg.Refs,
		media:     cfg.Media,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, handler domain.EventHandler) error {
	t.handler = handler

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(ctx, update.CallbackQuery)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", msg.From.ID,
			"username", msg.From.UserName,
		)
		return
	}

	fileID, name, mimeType := telegramAudio(msg)
	if fileID == "" {
		return
	}
	if t.media == nil {
		t.logger.Warn("telegram: no media proxy configured, ignoring audio", "chat_id", msg.Chat.ID)
		return
	}
	url := t.media.Register(mimeType, telegramFetcher(t.bot, fileID))

	t.logger.Info("telegram audio message received",
		"user_id", msg.From.ID,
		"chat_id", msg.Chat.ID,
	)

	// Prompting runs off the polling loop so a slow send does not stall updates.
	go func() {
		if _, err := t.handler.HandleMessage(ctx, t, domain.InboundMessageEvent{
			Channel:     "telegram",
			MessageID:   strconv.Itoa(msg.MessageID),
			RoomID:      strconv.FormatInt(msg.Chat.ID, 10),
			SenderID:    strconv.FormatInt(msg.From.ID, 10),
			Attachments: []domain.Attachment{{AudioURL: url, Name: name, MimeType: mimeType}},
			Timestamp:   time.Unix(int64(msg.Date), 0),
		}); err != nil {
			t.logger.Error("telegram prompt failed", "chat_id", msg.Chat.ID, "err", err)
		}
	}()
}

func (t *Telegram) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		return
	}
	actionID, value := t.refs.decodeButtonData(cq.Data)

	ack := t.handler.HandleAction(ctx, t, domain.ButtonInteractionEvent{
		Channel:  "telegram",
		UserID:   strconv.FormatInt(cq.From.ID, 10),
		RoomID:   strconv.FormatInt(cq.Message.Chat.ID, 10),
		ActionID: actionID,
		Value:    value,
	})

	if _, err := t.bot.Request(tgbotapi.NewCallback(cq.ID, ack.Text)); err != nil {
		t.logger.Warn("telegram callback ack failed", "err", err)
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// SendMessage posts msg as a reply to msg.ThreadID when set. Blocks are
// rendered as text plus an inline keyboard.
func (t *Telegram) SendMessage(ctx context.Context, msg domain.OutgoingMessage) error {
	chatID, err := strconv.ParseInt(msg.RoomID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram send: chat %q: %w", msg.RoomID, domain.ErrMissingEntity)
	}
	replyTo, _ := strconv.Atoi(msg.ThreadID)
	return t.send(ctx, chatID, replyTo, plainText(msg.Text, msg.Blocks), telegramKeyboard(t.refs, msg.Blocks))
}

// NotifyUser posts the notification in the chat. Telegram has no
// per-user message visibility inside a chat.
func (t *Telegram) NotifyUser(ctx context.Context, n domain.Notification) error {
	chatID, err := strconv.ParseInt(n.RoomID, 10, 64)
	if err != nil {
		chatID, err = strconv.ParseInt(n.UserID, 10, 64)
	}
	if err != nil {
		return fmt.Errorf("telegram notify: room %q user %q: %w", n.RoomID, n.UserID, domain.ErrMissingEntity)
	}
	return t.send(ctx, chatID, 0, plainText(n.Text, n.Blocks), telegramKeyboard(t.refs, n.Blocks))
}

func (t *Telegram) send(ctx context.Context, chatID int64, replyTo int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	chunks := splitMessage(text, telegramMaxMsgLen)
	for i, chunk := range chunks {
		msg := tgbotapi.NewMessage(chatID, chunk)
		msg.ReplyToMessageID = replyTo
		if keyboard != nil && i == len(chunks)-1 {
			msg.ReplyMarkup = *keyboard
		}
		if err := t.sendChunk(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk sends a single message with retry and rate limit handling.
// Markdown is tried first; on a parse error the chunk is resent as plain text.
func (t *Telegram) sendChunk(ctx context.Context, msg tgbotapi.MessageConfig) error {
	var lastErr error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if attempt == 0 {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		errStr := err.Error()

		if strings.Contains(errStr, "chat not found") || strings.Contains(errStr, "user not found") {
			return fmt.Errorf("telegram send: %v: %w", err, domain.ErrMissingEntity)
		}
		if msg.ParseMode != "" && strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
			msg.ParseMode = ""
			continue
		}

		backoff := time.Duration(attempt+1) * time.Second
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			backoff *= 3
		}
		if attempt == telegramMaxSendRetries {
			break
		}
		t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.logger.Error("telegram send failed after retries", "err", lastErr, "attempts", telegramMaxSendRetries+1)
	return fmt.Errorf("telegram send: %w", lastErr)
}

// telegramAudio picks the audio file of a message: a voice note, an audio
// file, or a document with an audio MIME type.
func telegramAudio(msg *tgbotapi.Message) (fileID, name, mimeType string) {
	switch {
	case msg.Voice != nil:
		return msg.Voice.FileID, "voice.ogg", msg.Voice.MimeType
	case msg.Audio != nil:
		return msg.Audio.FileID, msg.Audio.FileName, msg.Audio.MimeType
	case msg.Document != nil && isAudio(msg.Document.MimeType, msg.Document.FileName):
		return msg.Document.FileID, msg.Document.FileName, msg.Document.MimeType
	}
	return "", "", ""
}

// telegramFetcher resolves the file's download link when the proxy is hit.
// The link embeds the bot token and is never stored or logged.
func telegramFetcher(bot *tgbotapi.BotAPI, fileID string) MediaFetcher {
	return func(ctx context.Context) (*http.Request, error) {
		link, err := bot.GetFileDirectURL(fileID)
		if err != nil {
			return nil, fmt.Errorf("telegram get file %s: %w", fileID, stripURL(err))
		}
		return http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	}
}

func telegramKeyboard(refs *PayloadRefs, blocks []domain.Block) *tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, b := range blocks {
		var row []tgbotapi.InlineKeyboardButton
		for _, btn := range b.Buttons {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(btn.Label, refs.encodeButtonData(btn.ActionID, btn.Value)))
			if len(row) == telegramButtonsPerRow {
				rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
				row = nil
			}
		}
		if len(row) > 0 {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(row...))
		}
	}
	if len(rows) == 0 {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}
