package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"voicebridge/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel and domain.Gateway using Socket Mode and
// Block Kit buttons.
type Slack struct {
	botToken string
	appToken string
	media    *MediaProxy
	client   *slack.Client
	handler  domain.EventHandler
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid prompting on its own posts
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	// Media serves file downloads to the transcription service. Slack file
	// URLs need the bot token, so audio is ignored without it.
	Media  *MediaProxy
	Logger *slog.Logger
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		media:    cfg.Media,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects to Slack via Socket Mode and begins listening for events.
func (s *Slack) Start(ctx context.Context, handler domain.EventHandler) error {
	s.handler = handler

	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	authResp, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)
	if s.media == nil {
		s.logger.Warn("slack: no media proxy configured, audio messages will be ignored")
	}

	socketClient := socketmode.New(api)

	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				go s.handleEventsAPI(ctx, eventsAPIEvent)

			case socketmode.EventTypeInteractive:
				callback, ok := evt.Data.(slack.InteractionCallback)
				if !ok {
					continue
				}
				// The click is acknowledged only after the handler has
				// accepted it; fulfillment continues in the background.
				for _, ev := range slackButtonEvents(callback) {
					s.handler.HandleAction(ctx, s, ev)
				}
				socketClient.Ack(*evt.Request)

			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	if ev.User == "" || ev.User == s.botUID || ev.BotID != "" {
		return
	}
	if ev.SubType != "" && ev.SubType != "file_share" {
		return
	}

	if s.media == nil {
		return
	}
	files, err := s.messageFiles(ctx, ev.Channel, ev.TimeStamp)
	if err != nil {
		s.logger.Warn("slack file lookup failed", "channel", ev.Channel, "ts", ev.TimeStamp, "err", err)
		return
	}
	attachments := slackAudioAttachments(files, s.media, s.botToken)
	if len(attachments) == 0 {
		return
	}

	s.logger.Info("slack audio message received",
		"user", ev.User,
		"channel", ev.Channel,
		"attachments", len(attachments),
	)

	if _, err := s.handler.HandleMessage(ctx, s, domain.InboundMessageEvent{
		Channel:     "slack",
		MessageID:   ev.TimeStamp,
		RoomID:      ev.Channel,
		SenderID:    ev.User,
		Attachments: attachments,
		Timestamp:   slackTime(ev.TimeStamp),
	}); err != nil {
		s.logger.Error("slack prompt failed", "channel", ev.Channel, "err", err)
	}
}

// messageFiles loads the files of one message. Message events do not carry
// complete file objects, so the message is fetched from history.
func (s *Slack) messageFiles(ctx context.Context, channelID, ts string) ([]slack.File, error) {
	resp, err := s.client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Latest:    ts,
		Inclusive: true,
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	return resp.Messages[0].Files, nil
}

// SendMessage posts msg, threaded under msg.ThreadID when set.
func (s *Slack) SendMessage(ctx context.Context, msg domain.OutgoingMessage) error {
	if msg.RoomID == "" {
		return fmt.Errorf("slack send: no channel: %w", domain.ErrMissingEntity)
	}
	opts := []slack.MsgOption{}
	if msg.ThreadID != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ThreadID))
	}

	if len(msg.Blocks) > 0 {
		fallback := plainText(msg.Text, msg.Blocks)
		_, _, err := s.client.PostMessageContext(ctx, msg.RoomID, append(opts,
			slack.MsgOptionText(fallback, false),
			slack.MsgOptionBlocks(slackBlocks(msg.Text, msg.Blocks)...),
		)...)
		return s.wrapErr("slack send", err)
	}

	for _, chunk := range splitMessage(msg.Text, slackMaxMsgLen) {
		if _, _, err := s.client.PostMessageContext(ctx, msg.RoomID, append(opts, slack.MsgOptionText(chunk, false))...); err != nil {
			return s.wrapErr("slack send", err)
		}
	}
	return nil
}

// NotifyUser posts an ephemeral message only n.UserID can see.
func (s *Slack) NotifyUser(ctx context.Context, n domain.Notification) error {
	if n.RoomID == "" || n.UserID == "" {
		return fmt.Errorf("slack notify: room %q user %q: %w", n.RoomID, n.UserID, domain.ErrMissingEntity)
	}
	opts := []slack.MsgOption{slack.MsgOptionText(plainText(n.Text, n.Blocks), false)}
	if len(n.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(slackBlocks(n.Text, n.Blocks)...))
	}
	_, err := s.client.PostEphemeralContext(ctx, n.RoomID, n.UserID, opts...)
	return s.wrapErr("slack notify", err)
}

func (s *Slack) wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		switch se.Err {
		case "channel_not_found", "user_not_found", "user_not_in_channel", "not_in_channel":
			return fmt.Errorf("%s: %s: %w", op, se.Err, domain.ErrMissingEntity)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// slackBlocks renders blocks as Block Kit: a section per block followed by
// an actions block holding its buttons.
func slackBlocks(text string, blocks []domain.Block) []slack.Block {
	var out []slack.Block
	if text != "" {
		out = append(out, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil))
	}
	for i, b := range blocks {
		if b.Text != "" {
			out = append(out, slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, b.Text, false, false), nil, nil))
		}
		if len(b.Buttons) == 0 {
			continue
		}
		elems := make([]slack.BlockElement, 0, len(b.Buttons))
		for _, btn := range b.Buttons {
			elems = append(elems, slack.NewButtonBlockElement(
				btn.ActionID,
				btn.Value,
				slack.NewTextBlockObject(slack.PlainTextType, btn.Label, true, false),
			))
		}
		out = append(out, slack.NewActionBlock("actions_"+strconv.Itoa(i), elems...))
	}
	return out
}

// slackAudioAttachments registers the audio files of a message with the
// media proxy; the attachment URL is the proxy's, the bot token stays here.
func slackAudioAttachments(files []slack.File, media *MediaProxy, botToken string) []domain.Attachment {
	var out []domain.Attachment
	for _, f := range files {
		if !isAudio(f.Mimetype, f.Name) {
			continue
		}
		src := f.URLPrivateDownload
		if src == "" {
			src = f.URLPrivate
		}
		if src == "" {
			continue
		}
		out = append(out, domain.Attachment{
			AudioURL: media.Register(f.Mimetype, bearerFetcher(src, botToken)),
			Name:     f.Name,
			MimeType: f.Mimetype,
		})
	}
	return out
}

func slackButtonEvents(cb slack.InteractionCallback) []domain.ButtonInteractionEvent {
	if cb.Type != slack.InteractionTypeBlockActions {
		return nil
	}
	var out []domain.ButtonInteractionEvent
	for _, a := range cb.ActionCallback.BlockActions {
		if a == nil {
			continue
		}
		out = append(out, domain.ButtonInteractionEvent{
			Channel:  "slack",
			UserID:   cb.User.ID,
			RoomID:   cb.Channel.ID,
			ActionID: a.ActionID,
			Value:    a.Value,
		})
	}
	return out
}

// slackTime parses a message timestamp such as "1700000000.000100".
func slackTime(ts string) time.Time {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(n, 0)
}
