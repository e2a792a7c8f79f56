// Package interaction turns host platform events into prompts and
// fulfillment requests.
//
// The flow is stateless between steps: every button carries a JSON payload
// with everything needed to resume.
//
//	message with audio  -> prompt [Transcribe & Translate]     (select_language)
//	select_language     -> prompt [ES] [FR] [DE] [HI] [JA]      (transcribe_translate)
//	transcribe_translate-> ack now, fulfillment in background
package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"voicebridge/internal/domain"
	"voicebridge/internal/metrics"
)

// Starter launches a fulfillment without waiting for it.
type Starter interface {
	Start(ctx context.Context, gw domain.Gateway, req domain.FulfillmentRequest) string
}

// Config configures the Engine.
type Config struct {
	Starter Starter

	// LanguageSelection offers the language prompt. When false the first
	// button fulfills straight away in DefaultLanguage.
	LanguageSelection bool
	DefaultLanguage   string

	// AudioBaseURL prefixes host-relative attachment URLs.
	AudioBaseURL string

	Logger *slog.Logger
}

// Engine implements domain.EventHandler.
type Engine struct {
	starter           Starter
	languageSelection bool
	defaultLanguage   string
	audioBaseURL      string
	logger            *slog.Logger
}

func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = domain.SupportedLanguages[0]
	}
	return &Engine{
		starter:           cfg.Starter,
		languageSelection: cfg.LanguageSelection,
		defaultLanguage:   cfg.DefaultLanguage,
		audioBaseURL:      strings.TrimRight(cfg.AudioBaseURL, "/"),
		logger:            cfg.Logger,
	}
}

var _ domain.EventHandler = (*Engine)(nil)

// HandleMessage posts one prompt per attachment that carries an audio URL.
// Messages without audio are ignored.
func (e *Engine) HandleMessage(ctx context.Context, gw domain.Gateway, ev domain.InboundMessageEvent) (int, error) {
	actionID := domain.ActionSelectLanguage
	if !e.languageSelection {
		actionID = domain.ActionTranscribeTranslate
	}

	var errs []error
	sent := 0
	for _, att := range ev.Attachments {
		audioURL := e.resolveAudioURL(att.AudioURL)
		if audioURL == "" {
			continue
		}

		payload := domain.ButtonPayload{AudioURL: audioURL, OriginalMsgID: ev.MessageID}
		if !e.languageSelection {
			payload.TargetLanguage = e.defaultLanguage
		}

		err := gw.SendMessage(ctx, domain.OutgoingMessage{
			RoomID:   ev.RoomID,
			SenderID: ev.SenderID,
			Blocks:   audioPrompt(actionID, payload),
			ThreadID: ev.MessageID,
		})
		if err != nil {
			e.logger.Error("send audio prompt failed", "msg_id", ev.MessageID, "room", ev.RoomID, "err", err)
			errs = append(errs, err)
			continue
		}
		sent++
		metrics.PromptsSent.Inc()
	}

	if sent > 0 {
		e.logger.Info("audio prompts sent", "msg_id", ev.MessageID, "room", ev.RoomID, "count", sent)
	}
	return sent, errors.Join(errs...)
}

// HandleAction acknowledges every click. Fulfillment is handed to the
// Starter and never awaited.
func (e *Engine) HandleAction(ctx context.Context, gw domain.Gateway, ev domain.ButtonInteractionEvent) domain.Ack {
	metrics.ActionsReceived.Inc()

	switch ev.ActionID {
	case domain.ActionSelectLanguage:
		e.promptLanguage(ctx, gw, ev)
	case domain.ActionTranscribeTranslate:
		e.startFulfillment(ctx, gw, ev)
	default:
		e.logger.Debug("ignoring unknown action", "action", ev.ActionID, "user", ev.UserID)
	}
	return domain.Ack{OK: true}
}

func (e *Engine) promptLanguage(ctx context.Context, gw domain.Gateway, ev domain.ButtonInteractionEvent) {
	payload, err := domain.DecodePayload(ev.Value)
	if err != nil {
		e.rejectPayload(ctx, gw, ev, err)
		return
	}

	err = gw.SendMessage(ctx, domain.OutgoingMessage{
		RoomID:   ev.RoomID,
		SenderID: ev.UserID,
		Blocks:   languagePrompt(payload),
		ThreadID: payload.OriginalMsgID,
	})
	if err != nil {
		e.logger.Error("send language prompt failed", "msg_id", payload.OriginalMsgID, "room", ev.RoomID, "err", err)
	}
}

func (e *Engine) startFulfillment(ctx context.Context, gw domain.Gateway, ev domain.ButtonInteractionEvent) {
	payload, err := domain.DecodePayload(ev.Value)
	if err != nil {
		e.rejectPayload(ctx, gw, ev, err)
		return
	}

	lang := payload.TargetLanguage
	if lang == "" {
		lang = e.defaultLanguage
	}
	if !domain.IsSupportedLanguage(lang) {
		e.logger.Warn("unsupported target language", "lang", lang, "user", ev.UserID)
		e.notify(ctx, gw, ev, fmt.Sprintf(unsupportedLangFmt, lang, strings.Join(domain.SupportedLanguages, ", ")))
		return
	}

	req := domain.FulfillmentRequest{
		AudioURL:          payload.AudioURL,
		OriginalMessageID: payload.OriginalMsgID,
		TargetLanguage:    lang,
		UserID:            ev.UserID,
		RoomID:            ev.RoomID,
		Channel:           ev.Channel,
	}
	// The task outlives the event handler.
	id := e.starter.Start(context.WithoutCancel(ctx), gw, req)
	e.logger.Info("fulfillment started", "task", id, "msg_id", req.OriginalMessageID, "lang", lang)
}

func (e *Engine) rejectPayload(ctx context.Context, gw domain.Gateway, ev domain.ButtonInteractionEvent, err error) {
	e.logger.Warn("rejected button payload", "action", ev.ActionID, "user", ev.UserID, "err", err)
	e.notify(ctx, gw, ev, invalidRequestText)
}

func (e *Engine) notify(ctx context.Context, gw domain.Gateway, ev domain.ButtonInteractionEvent, text string) {
	err := gw.NotifyUser(ctx, domain.Notification{UserID: ev.UserID, RoomID: ev.RoomID, Text: text})
	if err != nil {
		e.logger.Error("notify user failed", "user", ev.UserID, "room", ev.RoomID, "err", err)
	}
}

// resolveAudioURL prefixes host-relative paths with the configured base URL.
func (e *Engine) resolveAudioURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "/") && e.audioBaseURL != "" {
		return e.audioBaseURL + raw
	}
	return raw
}
