package adapter

import (
	"strings"
	"testing"

	kit "notifrelay/internal/transport"
	logx "notifrelay/pkg/logx"
)

func TestSplitShortTextIsOneChunk(t *testing.T) {
	got := splitTelegramText("Laptop: 88% (Charging)", 0, "")
	if len(got) != 1 || got[0] != "Laptop: 88% (Charging)" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitPrefersNewlines(t *testing.T) {
	line := strings.Repeat("x", 30)
	text := strings.Join([]string{line, line, line, line}, "\n")
	chunks := splitTelegramText(text, 70, "")
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	for _, c := range chunks {
		if len([]rune(c)) > 70 {
			t.Fatalf("chunk too long: %d", len(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk has edge newline: %q", c)
		}
	}
	if strings.Join(chunks, "\n") != text {
		t.Fatal("chunks do not reassemble the text")
	}
}

func TestSplitAvoidsCuttingHTMLTags(t *testing.T) {
	text := strings.Repeat("a", 15) + "<b>bold</b>" + strings.Repeat("c", 10)
	chunks := splitTelegramText(text, 18, "HTML")
	for _, c := range chunks {
		if strings.Count(c, "<") != strings.Count(c, ">") {
			t.Fatalf("tag split across chunks: %q", chunks)
		}
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestSplitEmptyTextIsOnePart(t *testing.T) {
	if got := splitTelegramText("", 10, ""); len(got) != 1 || got[0] != "" {
		t.Fatalf("got %q", got)
	}
}

func TestDanglingTag(t *testing.T) {
	cases := map[string]int{
		"plain":     -1,
		"a <b>bold": -1,
		"a <b":      2,
		"<b>x</":    4,
	}
	for in, want := range cases {
		if got := danglingTag([]rune(in)); got != want {
			t.Fatalf("danglingTag(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSendOptions(t *testing.T) {
	so := sendOptions(&kit.SendOptions{ParseMode: "HTML", DisablePreview: true}, 9)
	if so.ParseMode != "HTML" || !so.DisableWebPagePreview || so.ThreadID != 9 {
		t.Fatalf("got %+v", so)
	}
	if so := sendOptions(nil, 0); so.ParseMode != "" || so.ThreadID != 0 {
		t.Fatalf("nil options: %+v", so)
	}
}
