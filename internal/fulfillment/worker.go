package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"voicebridge/internal/cache"
	"voicebridge/internal/domain"
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	Transcriber domain.Transcriber
	Translator  domain.Translator
	Resolver    *cache.Resolver
	Logger      *slog.Logger
}

// Worker turns one FulfillmentRequest into exactly one reply.
type Worker struct {
	transcriber domain.Transcriber
	translator  domain.Translator
	resolver    *cache.Resolver
	logger      *slog.Logger
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		transcriber: cfg.Transcriber,
		translator:  cfg.Translator,
		resolver:    cfg.Resolver,
		logger:      cfg.Logger,
	}
}

// Run resolves the transcription, then the translation, and sends exactly
// one reply threaded under the original message. Remote failures become
// failure-framed replies; the returned error only reports that no reply
// could be delivered.
func (w *Worker) Run(ctx context.Context, gw domain.Gateway, req domain.FulfillmentRequest) (err error) {
	logger := w.logger.With("msg_id", req.OriginalMessageID, "lang", req.TargetLanguage)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("fulfillment panic", "panic", r)
			err = fmt.Errorf("fulfillment panic: %v", r)
			w.replyFailure(context.WithoutCancel(ctx), gw, req, internalErrorText, logger)
		}
	}()

	transcription, transcriptionCached, terr := w.resolver.GetOrCompute(ctx,
		domain.TranscriptionKey(req.OriginalMessageID),
		func(ctx context.Context) (string, error) {
			return w.transcriber.Transcribe(ctx, req.AudioURL)
		})
	if terr != nil || transcription == "" {
		logger.Warn("transcription unavailable", "err", terr)
		return w.replyFailure(ctx, gw, req, TranscriptionFailedText, logger)
	}

	translation, translationCached, xerr := w.resolver.GetOrCompute(ctx,
		domain.TranslationKey(req.OriginalMessageID, req.TargetLanguage),
		func(ctx context.Context) (string, error) {
			return w.translator.Translate(ctx, transcription, req.TargetLanguage)
		})
	if xerr != nil {
		logger.Warn("translation unavailable", "err", xerr, "no_candidate", errors.Is(xerr, domain.ErrNoCandidate))
		translation = ""
	}

	reply := domain.OutgoingMessage{
		RoomID:   req.RoomID,
		SenderID: req.UserID,
		Text:     ComposeReply(transcription, translation, req.TargetLanguage, transcriptionCached || translationCached),
		ThreadID: req.OriginalMessageID,
	}
	if err := w.send(ctx, gw, reply, logger); err != nil {
		return err
	}

	logger.Info("reply sent",
		"transcription_cached", transcriptionCached,
		"translation_cached", translationCached,
		"translated", translation != "",
	)
	return nil
}

// replyFailure sends a failure-framed reply in the original thread.
func (w *Worker) replyFailure(ctx context.Context, gw domain.Gateway, req domain.FulfillmentRequest, text string, logger *slog.Logger) error {
	return w.send(ctx, gw, domain.OutgoingMessage{
		RoomID:   req.RoomID,
		SenderID: req.UserID,
		Text:     text,
		ThreadID: req.OriginalMessageID,
	}, logger)
}

func (w *Worker) send(ctx context.Context, gw domain.Gateway, msg domain.OutgoingMessage, logger *slog.Logger) error {
	err := gw.SendMessage(ctx, msg)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrMissingEntity) {
		logger.Error("cannot resolve recipient, dropping reply", "user", msg.SenderID, "room", msg.RoomID, "err", err)
	} else {
		logger.Error("send reply failed", "room", msg.RoomID, "err", err)
	}
	return fmt.Errorf("send reply: %w", err)
}
