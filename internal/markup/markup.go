// Package markup converts between the HTML-ish text the conversation view
// works with and the plain text plus attachment references the API expects.
package markup

import (
	"html"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	nethtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var imgTag = regexp.MustCompile(`(?i)<img id="(\d+)">`)

// ExtractImages removes every <img id="N"> tag from raw and returns the cleaned
// text together with the referenced image ids in order of appearance.
func ExtractImages(raw string) (string, []int64) {
	var ids []int64
	for _, m := range imgTag.FindAllStringSubmatch(raw, -1) {
		id, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return raw, nil
	}
	return imgTag.ReplaceAllLiteralString(raw, ""), ids
}

// ImageTag renders the inline reference for a stored image.
func ImageTag(id int64) string {
	return `<img id="` + strconv.FormatInt(id, 10) + `">`
}

// Placeholder renders the token a thumbnail occupies until it is fetched.
func Placeholder(n int) string {
	return "<thumbnail-placeholder-" + strconv.Itoa(n) + ">"
}

// Escape escapes text for inclusion in conversation markup.
func Escape(s string) string {
	return html.EscapeString(s)
}

var blockTags = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Li: true, atom.Tr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Pre: true,
}

// StripHTML turns markup into plain text. Anchors become "title (url)", or
// just the url when the title repeats it. <br> and block ends become newlines,
// script and style bodies are dropped, every other tag is removed and entities
// are unescaped. Trailing newlines are trimmed.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	z := nethtml.NewTokenizer(strings.NewReader(s))
	var (
		out     strings.Builder
		skip    int
		inLink  bool
		href    string
		linkBuf strings.Builder
	)
	write := func(text string) {
		if inLink {
			linkBuf.WriteString(text)
		} else {
			out.WriteString(text)
		}
	}

	for {
		tt := z.Next()
		if tt == nethtml.ErrorToken {
			if z.Err() != io.EOF {
				return s
			}
			break
		}
		tok := z.Token()
		switch tt {
		case nethtml.TextToken:
			if skip == 0 {
				write(tok.Data)
			}
		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			switch tok.DataAtom {
			case atom.Script, atom.Style:
				if tt == nethtml.StartTagToken {
					skip++
				}
			case atom.Br:
				write("\n")
			case atom.A:
				if tt == nethtml.SelfClosingTagToken {
					continue
				}
				inLink = true
				href = attr(tok, "href")
				linkBuf.Reset()
			}
		case nethtml.EndTagToken:
			switch {
			case tok.DataAtom == atom.Script || tok.DataAtom == atom.Style:
				if skip > 0 {
					skip--
				}
			case tok.DataAtom == atom.A && inLink:
				inLink = false
				out.WriteString(renderLink(linkBuf.String(), href))
			case blockTags[tok.DataAtom]:
				write("\n")
			}
		}
	}
	if inLink {
		out.WriteString(renderLink(linkBuf.String(), href))
	}
	return strings.TrimRight(out.String(), "\n")
}

func renderLink(title, href string) string {
	title = strings.TrimSpace(title)
	switch {
	case href == "":
		return title
	case title == "" || title == href:
		return href
	default:
		return title + " (" + href + ")"
	}
}

func attr(tok nethtml.Token, key string) string {
	for _, a := range tok.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

var attachmentLink = regexp.MustCompile(`https?://(?:m\.)?vk\.com/((?:photo|video|audio|doc|wall)-?\d+_\d+)`)

// ParseAttachments finds links to vk.com objects in text and returns them as a
// comma-separated attachment list, each reference once, in order.
func ParseAttachments(text string) string {
	var refs []string
	seen := make(map[string]bool)
	for _, m := range attachmentLink.FindAllStringSubmatch(text, -1) {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		refs = append(refs, m[1])
	}
	return strings.Join(refs, ",")
}

// JoinAttachments joins non-empty attachment lists with commas.
func JoinAttachments(lists ...string) string {
	var parts []string
	for _, l := range lists {
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, ",")
}

// MaxEncodedPrefix returns the byte length of the longest rune-aligned prefix
// of s whose URL-encoded length is at most limit. At least one rune is always
// included so that callers chunking a string make progress.
func MaxEncodedPrefix(s string, limit int) int {
	encoded := 0
	n := 0
	for n < len(s) {
		r, size := utf8.DecodeRuneInString(s[n:])
		w := len(url.QueryEscape(s[n : n+size]))
		if r == utf8.RuneError && size == 1 {
			w = 3
		}
		if encoded+w > limit && n > 0 {
			break
		}
		encoded += w
		n += size
	}
	return n
}

// Chunk splits s into consecutive pieces that each satisfy MaxEncodedPrefix.
func Chunk(s string, limit int) []string {
	if s == "" {
		return []string{""}
	}
	var chunks []string
	for s != "" {
		n := MaxEncodedPrefix(s, limit)
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return chunks
}
