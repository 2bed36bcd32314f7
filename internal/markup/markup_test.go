package markup

import (
	"net/url"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExtractImages(t *testing.T) {
	clean, ids := ExtractImages(`look <img id="3">here<IMG ID="12"> done`)
	if clean != "look here done" {
		t.Errorf("clean = %q", clean)
	}
	if !slices.Equal(ids, []int64{3, 12}) {
		t.Errorf("ids = %v, want [3 12]", ids)
	}

	clean, ids = ExtractImages("plain")
	if clean != "plain" || ids != nil {
		t.Errorf("plain text changed: %q %v", clean, ids)
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"entities", "a &amp; b &lt;c&gt;", "a & b <c>"},
		{"br", "one<br>two<br/>three", "one\ntwo\nthree"},
		{"bold", "<b>bold</b> text", "bold text"},
		{"link with title", `see <a href="https://x.org">site</a>`, "see site (https://x.org)"},
		{"link repeating url", `<a href="https://x.org">https://x.org</a>`, "https://x.org"},
		{"script dropped", "a<script>alert(1)</script>b", "ab"},
		{"paragraphs", "<p>one</p><p>two</p>", "one\ntwo"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAttachments(t *testing.T) {
	text := "pics https://vk.com/photo-1_2 and http://m.vk.com/video5_6?x=1, again https://vk.com/photo-1_2 and https://example.com/photo1_2"
	if got := ParseAttachments(text); got != "photo-1_2,video5_6" {
		t.Errorf("ParseAttachments = %q", got)
	}
	if got := ParseAttachments("nothing"); got != "" {
		t.Errorf("ParseAttachments = %q, want empty", got)
	}
}

func TestJoinAttachments(t *testing.T) {
	if got := JoinAttachments("", "a", "", "b,c"); got != "a,b,c" {
		t.Errorf("JoinAttachments = %q", got)
	}
}

func TestMaxEncodedPrefix(t *testing.T) {
	tests := []struct {
		name  string
		s     string
		limit int
		want  int
	}{
		{"fits", "abc", 10, 3},
		{"ascii cut", "abcdef", 4, 4},
		{"space encodes to one", "a b", 3, 3},
		{"ampersand encodes to three", "a&b", 3, 1},
		{"cyrillic not split", "жж", 8, 2},
		{"always one rune", "ж", 1, 2},
		{"empty", "", 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaxEncodedPrefix(tt.s, tt.limit); got != tt.want {
				t.Errorf("MaxEncodedPrefix(%q, %d) = %d, want %d", tt.s, tt.limit, got, tt.want)
			}
		})
	}
}

func TestChunkRoundTrip(t *testing.T) {
	text := strings.Repeat("Привет, мир & hello world! ", 200)
	const limit = 256

	chunks := Chunk(text, limit)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want several", len(chunks))
	}
	if strings.Join(chunks, "") != text {
		t.Fatal("concatenated chunks differ from input")
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Errorf("chunk %d splits a rune", i)
		}
		if n := len(url.QueryEscape(c)); n > limit {
			t.Errorf("chunk %d encodes to %d bytes, limit %d", i, n, limit)
		}
	}
}
