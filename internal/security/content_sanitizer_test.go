package security

import (
	"strings"
	"testing"
)

func TestTextSanitizer_Plain(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		in   string
		want string
	}{
		{"Hero", "Hero"},
		{"  spaced  ", "spaced"},
		{"<b>Bold</b> name", "Bold name"},
		{"<script>alert(1)</script>Name", "Name"},
		{"Tom & Jerry", "Tom & Jerry"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := s.Plain(tt.in); got != tt.want {
			t.Errorf("Plain(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTextSanitizer_Rich_RemovesDangerousContent(t *testing.T) {
	s := NewTextSanitizer()

	in := `<p onclick="x()">Hello <strong>world</strong></p><script>alert(1)</script><iframe src="https://evil"></iframe><img src="https://x/y.png">`
	got := s.Rich(in)

	for _, bad := range []string{"<script", "onclick", "<iframe", "<img"} {
		if strings.Contains(got, bad) {
			t.Errorf("Rich output contains %q: %s", bad, got)
		}
	}
	if !strings.Contains(got, "<strong>world</strong>") {
		t.Errorf("Rich output should keep <strong>: %s", got)
	}
}

func TestTextSanitizer_Rich_Links(t *testing.T) {
	s := NewTextSanitizer()

	got := s.Rich(`<a href="https://example.com">ok</a><a href="javascript:alert(1)">bad</a>`)
	if !strings.Contains(got, `href="https://example.com"`) {
		t.Errorf("https link should be kept: %s", got)
	}
	if strings.Contains(got, "javascript:") {
		t.Errorf("javascript link should be removed: %s", got)
	}
	if !strings.Contains(got, "noreferrer") || !strings.Contains(got, `target="_blank"`) {
		t.Errorf("link should get rel/target attributes: %s", got)
	}
}

// TestTextSanitizer_Idempotent は同じ入力に対して同じ出力を返し、再適用しても変わらないことを検証する。
func TestTextSanitizer_Idempotent(t *testing.T) {
	s := NewTextSanitizer()
	in := `<p>Story <em>text</em></p>`

	once := s.Rich(in)
	if s.Rich(in) != once {
		t.Error("Rich is not deterministic")
	}
	if s.Rich(once) != once {
		t.Errorf("Rich is not idempotent: %q -> %q", once, s.Rich(once))
	}
}
