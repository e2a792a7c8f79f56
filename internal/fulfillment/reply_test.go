package fulfillment

import "testing"

func TestComposeReply(t *testing.T) {
	cases := []struct {
		name          string
		transcription string
		translation   string
		lang          string
		cached        bool
		want          string
	}{
		{
			name: "fresh", transcription: "hello world", translation: "hola mundo", lang: "es",
			want: "*Transcription:* hello world\n*Translation (ES):* hola mundo",
		},
		{
			name: "cached", transcription: "hello", translation: "bonjour", lang: "fr", cached: true,
			want: "♻️ _Served from cache._\n*Transcription:* hello\n*Translation (FR):* bonjour",
		},
		{
			name: "translation failed", transcription: "hello", lang: "ja",
			want: "*Transcription:* hello\n*Translation (JA):* ❌ Translation failed.",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ComposeReply(tc.transcription, tc.translation, tc.lang, tc.cached); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
