package channel

import (
	"fmt"
	"testing"
)

func TestPayloadRefs_RoundTrip(t *testing.T) {
	refs := NewPayloadRefs(10)
	value := `{"audioUrl":"http://localhost:3000/file-upload/a.wav","originalMsgId":"m1","targetLanguage":"es"}`

	data := refs.encodeButtonData("transcribe_translate", value)
	if len(data) > 64 {
		t.Fatalf("callback data too long for telegram: %d bytes", len(data))
	}
	action, got := refs.decodeButtonData(data)
	if action != "transcribe_translate" || got != value {
		t.Fatalf("round trip failed: %q %q", action, got)
	}
}

func TestPayloadRefs_UnknownToken(t *testing.T) {
	refs := NewPayloadRefs(10)
	action, value := refs.decodeButtonData("select_language|deadbeef")
	if action != "select_language" || value != "" {
		t.Fatalf("expected empty value for unknown token, got %q %q", action, value)
	}
	action, value = refs.decodeButtonData("plain")
	if action != "plain" || value != "" {
		t.Fatalf("unexpected decode of plain data: %q %q", action, value)
	}
}

func TestPayloadRefs_EvictsOldest(t *testing.T) {
	refs := NewPayloadRefs(3)
	var tokens []string
	for i := 0; i < 5; i++ {
		tokens = append(tokens, refs.Put(fmt.Sprintf("v%d", i)))
	}
	if refs.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", refs.Len())
	}
	if _, ok := refs.Resolve(tokens[0]); ok {
		t.Error("oldest entry should be evicted")
	}
	if v, ok := refs.Resolve(tokens[4]); !ok || v != "v4" {
		t.Errorf("newest entry missing: %q %v", v, ok)
	}
}
