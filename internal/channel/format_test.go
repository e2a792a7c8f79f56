package channel

import (
	"strings"
	"testing"
	"unicode/utf8"

	"voicebridge/internal/domain"

	"github.com/bwmarrin/discordgo"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"
)

func languageBlocks() []domain.Block {
	var buttons []domain.Button
	for _, lang := range domain.SupportedLanguages {
		buttons = append(buttons, domain.Button{ActionID: domain.ActionTranscribeTranslate, Label: strings.ToUpper(lang), Value: `{"lang":"` + lang + `"}`})
	}
	return []domain.Block{{Text: "Choose", Buttons: buttons}}
}

func TestSplitMessage(t *testing.T) {
	if chunks := splitMessage("short message", 100); len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks := splitMessage("", 100); len(chunks) != 1 {
		t.Errorf("expected 1 chunk for empty, got %d", len(chunks))
	}

	long := strings.Repeat("word ", 100)
	chunks := splitMessage(long, 50)
	if len(chunks) < 2 {
		t.Errorf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != long {
		t.Error("chunks must reassemble to the original")
	}
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("こんにちは世界", 40) // 3-byte runes
	chunks := splitMessage(long, 100)
	for i, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d splits a rune: %q", i, c)
		}
	}
	if strings.Join(chunks, "") != long {
		t.Error("chunks must reassemble to the original")
	}
}

func TestPlainText(t *testing.T) {
	got := plainText("head", []domain.Block{{Text: "one"}, {Buttons: []domain.Button{{Label: "x"}}}, {Text: "two"}})
	if got != "head\n\none\n\ntwo" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestIsAudio(t *testing.T) {
	cases := []struct {
		mime, name string
		want       bool
	}{
		{"audio/ogg", "", true},
		{"Audio/MPEG", "x.bin", true},
		{"", "memo.M4A", true},
		{"application/octet-stream", "clip.wav", true},
		{"image/png", "cat.png", false},
		{"", "", false},
	}
	for _, tc := range cases {
		if got := isAudio(tc.mime, tc.name); got != tc.want {
			t.Errorf("isAudio(%q, %q) = %v, want %v", tc.mime, tc.name, got, tc.want)
		}
	}
}

func TestSlackBlocks(t *testing.T) {
	blocks := slackBlocks("", languageBlocks())
	if len(blocks) != 2 {
		t.Fatalf("expected section + actions, got %d", len(blocks))
	}
	actions, ok := blocks[1].(*slack.ActionBlock)
	if !ok {
		t.Fatalf("expected action block, got %T", blocks[1])
	}
	if n := len(actions.Elements.ElementSet); n != len(domain.SupportedLanguages) {
		t.Fatalf("expected %d buttons, got %d", len(domain.SupportedLanguages), n)
	}
	btn := actions.Elements.ElementSet[0].(*slack.ButtonBlockElement)
	if btn.ActionID != domain.ActionTranscribeTranslate || btn.Value != `{"lang":"es"}` {
		t.Errorf("unexpected button %+v", btn)
	}
}

func TestSlackButtonEvents(t *testing.T) {
	cb := slack.InteractionCallback{
		Type: slack.InteractionTypeBlockActions,
		User: slack.User{ID: "U1"},
		ActionCallback: slack.ActionCallbacks{
			BlockActions: []*slack.BlockAction{{ActionID: domain.ActionSelectLanguage, Value: "{}"}},
		},
	}
	cb.Channel.ID = "C1"

	evs := slackButtonEvents(cb)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if evs[0].UserID != "U1" || evs[0].RoomID != "C1" || evs[0].ActionID != domain.ActionSelectLanguage {
		t.Errorf("unexpected event %+v", evs[0])
	}

	cb.Type = slack.InteractionTypeViewSubmission
	if evs := slackButtonEvents(cb); len(evs) != 0 {
		t.Errorf("expected no events for view submission, got %d", len(evs))
	}
}

func TestSlackTime(t *testing.T) {
	if got := slackTime("1700000000.000100").Unix(); got != 1700000000 {
		t.Errorf("unexpected time %d", got)
	}
}

func TestTelegramKeyboard(t *testing.T) {
	refs := NewPayloadRefs(0)
	kb := telegramKeyboard(refs, languageBlocks())
	if kb == nil {
		t.Fatal("expected keyboard")
	}
	if len(kb.InlineKeyboard) != 2 || len(kb.InlineKeyboard[0]) != telegramButtonsPerRow {
		t.Fatalf("unexpected layout: %d rows", len(kb.InlineKeyboard))
	}
	data := *kb.InlineKeyboard[1][1].CallbackData
	if len(data) > 64 {
		t.Fatalf("callback data exceeds 64 bytes: %d", len(data))
	}
	action, value := refs.decodeButtonData(data)
	if action != domain.ActionTranscribeTranslate || value != `{"lang":"ja"}` {
		t.Errorf("unexpected decode %q %q", action, value)
	}

	if telegramKeyboard(refs, []domain.Block{{Text: "no buttons"}}) != nil {
		t.Error("expected nil keyboard without buttons")
	}
}

func TestTelegramAudio(t *testing.T) {
	cases := []struct {
		name string
		msg  *tgbotapi.Message
		want string
	}{
		{"voice", &tgbotapi.Message{Voice: &tgbotapi.Voice{FileID: "v1", MimeType: "audio/ogg"}}, "v1"},
		{"audio", &tgbotapi.Message{Audio: &tgbotapi.Audio{FileID: "a1", FileName: "song.mp3"}}, "a1"},
		{"audio document", &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d1", MimeType: "audio/wav"}}, "d1"},
		{"other document", &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d2", MimeType: "application/pdf"}}, ""},
		{"text", &tgbotapi.Message{Text: "hello"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got, _, _ := telegramAudio(tc.msg); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestDiscordComponents(t *testing.T) {
	refs := NewPayloadRefs(0)
	rows := discordComponents(refs, languageBlocks())
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0].(discordgo.ActionsRow)
	if len(row.Components) != discordButtonsPerRow {
		t.Fatalf("expected %d buttons, got %d", discordButtonsPerRow, len(row.Components))
	}
	btn := row.Components[0].(discordgo.Button)
	if len(btn.CustomID) > 100 {
		t.Fatalf("custom ID too long: %d", len(btn.CustomID))
	}
	if action, value := refs.decodeButtonData(btn.CustomID); action != domain.ActionTranscribeTranslate || value != `{"lang":"es"}` {
		t.Errorf("unexpected decode %q %q", action, value)
	}
}

func TestDiscordAudioAttachments(t *testing.T) {
	atts := discordAudioAttachments([]*discordgo.MessageAttachment{
		{URL: "https://cdn.discordapp.com/a.ogg", Filename: "voice-message.ogg", ContentType: "audio/ogg"},
		{URL: "https://cdn.discordapp.com/b.png", Filename: "b.png", ContentType: "image/png"},
		nil,
	})
	if len(atts) != 1 || atts[0].Name != "voice-message.ogg" {
		t.Fatalf("unexpected attachments %+v", atts)
	}
}
