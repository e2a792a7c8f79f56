package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"voicebridge/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxMsgLen     = 2000
	discordButtonsPerRow = 5
)

// Discord implements domain.Channel and domain.Gateway for Discord using
// message components. Custom IDs are limited to 100 characters, so buttons
// carry PayloadRefs tokens.
type Discord struct {
	token   string
	guildID string
	refs    *PayloadRefs
	session *discordgo.Session
	handler domain.EventHandler
	logger  *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string
	Refs    *PayloadRefs
	Logger  *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Refs == nil {
		cfg.Refs = NewPayloadRefs(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		refs:    cfg.Refs,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and begins listening.
func (d *Discord) Start(ctx context.Context, handler domain.EventHandler) error {
	d.handler = handler

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	d.session = session

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}
		attachments := discordAudioAttachments(m.Attachments)
		if len(attachments) == 0 {
			return
		}

		d.logger.Info("discord audio message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"attachments", len(attachments),
		)

		if _, err := d.handler.HandleMessage(ctx, d, domain.InboundMessageEvent{
			Channel:     "discord",
			MessageID:   m.ID,
			RoomID:      m.ChannelID,
			SenderID:    m.Author.ID,
			Attachments: attachments,
			Timestamp:   m.Timestamp,
		}); err != nil {
			d.logger.Error("discord prompt failed", "channel_id", m.ChannelID, "err", err)
		}
	})

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionMessageComponent {
			return
		}
		actionID, value := d.refs.decodeButtonData(i.MessageComponentData().CustomID)

		ack := d.handler.HandleAction(ctx, d, domain.ButtonInteractionEvent{
			Channel:  "discord",
			UserID:   interactionUserID(i),
			RoomID:   i.ChannelID,
			ActionID: actionID,
			Value:    value,
		})

		resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
		if ack.Text != "" {
			resp = &discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{Content: ack.Text, Flags: discordgo.MessageFlagsEphemeral},
			}
		}
		if err := s.InteractionRespond(i.Interaction, resp); err != nil {
			d.logger.Warn("discord interaction ack failed", "err", err)
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

// SendMessage posts msg as a reply to msg.ThreadID when set. Buttons are
// attached to the last chunk.
func (d *Discord) SendMessage(ctx context.Context, msg domain.OutgoingMessage) error {
	if msg.RoomID == "" {
		return fmt.Errorf("discord send: no channel: %w", domain.ErrMissingEntity)
	}
	var ref *discordgo.MessageReference
	if msg.ThreadID != "" {
		ref = &discordgo.MessageReference{MessageID: msg.ThreadID, ChannelID: msg.RoomID}
	}
	return d.send(ctx, msg.RoomID, plainText(msg.Text, msg.Blocks), discordComponents(d.refs, msg.Blocks), ref)
}

// NotifyUser mentions the user in the room, or DMs them when the room is
// unknown. Discord only offers ephemeral messages as interaction responses.
func (d *Discord) NotifyUser(ctx context.Context, n domain.Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("discord notify: no user: %w", domain.ErrMissingEntity)
	}
	channelID := n.RoomID
	text := plainText(n.Text, n.Blocks)
	if channelID == "" {
		ch, err := d.session.UserChannelCreate(n.UserID, discordgo.WithContext(ctx))
		if err != nil {
			return discordErr("discord notify", err)
		}
		channelID = ch.ID
	} else {
		text = "<@" + n.UserID + "> " + text
	}
	return d.send(ctx, channelID, text, discordComponents(d.refs, n.Blocks), nil)
}

func (d *Discord) send(ctx context.Context, channelID, text string, components []discordgo.MessageComponent, ref *discordgo.MessageReference) error {
	chunks := splitMessage(text, discordMaxMsgLen)
	for i, chunk := range chunks {
		data := &discordgo.MessageSend{Content: chunk}
		if i == 0 {
			data.Reference = ref
		}
		if i == len(chunks)-1 {
			data.Components = components
		}
		if _, err := d.session.ChannelMessageSendComplex(channelID, data, discordgo.WithContext(ctx)); err != nil {
			return discordErr("discord send", err)
		}
	}
	return nil
}

func discordErr(op string, err error) error {
	var re *discordgo.RESTError
	if errors.As(err, &re) && re.Response != nil && re.Response.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %v: %w", op, err, domain.ErrMissingEntity)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func discordAudioAttachments(atts []*discordgo.MessageAttachment) []domain.Attachment {
	var out []domain.Attachment
	for _, a := range atts {
		if a == nil || a.URL == "" || !isAudio(a.ContentType, a.Filename) {
			continue
		}
		out = append(out, domain.Attachment{AudioURL: a.URL, Name: a.Filename, MimeType: a.ContentType})
	}
	return out
}

// discordComponents renders each block's buttons as action rows of at most
// five buttons.
func discordComponents(refs *PayloadRefs, blocks []domain.Block) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	for _, b := range blocks {
		var row []discordgo.MessageComponent
		for _, btn := range b.Buttons {
			row = append(row, discordgo.Button{
				Label:    btn.Label,
				Style:    discordgo.PrimaryButton,
				CustomID: refs.encodeButtonData(btn.ActionID, btn.Value),
			})
			if len(row) == discordButtonsPerRow {
				rows = append(rows, discordgo.ActionsRow{Components: row})
				row = nil
			}
		}
		if len(row) > 0 {
			rows = append(rows, discordgo.ActionsRow{Components: row})
		}
	}
	return rows
}
