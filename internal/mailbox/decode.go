package mailbox

import (
	"bytes"
	"encoding/base64"
	"errors"
	"html"
	"io"
	"regexp"
	"strings"

	// Registers charset handlers so the mail reader can decode legacy
	// encodings in RFC822 payloads.
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/encoding/charmap"
)

const maxDecodedBody = 256 * 1024

var (
	htmlStripPolicy = bluemonday.StrictPolicy()
	htmlBreaks      = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</tr>`)
)

// DecodeBody applies the body decoding policy: when a message carries several
// parts only the first is considered, decoded from its transfer encoding and
// charset to plain text. Raw RFC822 payloads are unwrapped to their first
// text part. Malformed encodings yield an empty string, never an error.
func DecodeBody(env *Envelope) string {
	if env == nil || len(env.Parts) == 0 {
		return ""
	}
	part := env.Parts[0]

	if strings.EqualFold(part.MIMEType, "message/rfc822") {
		return decodeRFC822(part.Data)
	}

	data := part.Data
	if part.Base64 {
		decoded, err := decodeBase64(data)
		if err != nil {
			return ""
		}
		data = decoded
	}
	data = decodeCharset(data, part.Charset)
	if len(data) > maxDecodedBody {
		data = data[:maxDecodedBody]
	}

	text := string(data)
	if strings.Contains(strings.ToLower(part.MIMEType), "html") {
		text = stripHTML(text)
	}
	return text
}

// decodeBase64 accepts both the URL-safe alphabet the Gmail API uses and
// standard base64, with or without padding.
func decodeBase64(data []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(data)
	for _, enc := range []*base64.Encoding{
		base64.URLEncoding,
		base64.RawURLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	} {
		if decoded, err := enc.DecodeString(string(trimmed)); err == nil {
			return decoded, nil
		}
	}
	return nil, errors.New("mailbox: malformed base64 body")
}

// decodeRFC822 unwraps a raw message to its first text/plain part, falling
// back to stripped text/html. The mail reader undoes transfer encodings and
// registered charsets on the way out.
func decodeRFC822(raw []byte) string {
	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	defer reader.Close()

	var plain, htmlBody string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}
		inline, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		mimeType, _, ctErr := inline.ContentType()
		if ctErr != nil {
			mimeType = "text/plain"
		}
		body, readErr := io.ReadAll(io.LimitReader(part.Body, maxDecodedBody))
		if readErr != nil {
			continue
		}
		switch {
		case strings.HasPrefix(mimeType, "text/plain") && plain == "":
			plain = string(body)
		case strings.HasPrefix(mimeType, "text/html") && htmlBody == "":
			htmlBody = stripHTML(string(body))
		}
		if plain != "" {
			break
		}
	}
	if plain != "" {
		return plain
	}
	return htmlBody
}

// stripHTML reduces an HTML body to plain text, preserving line structure so
// a code sitting on its own line survives for full-line matching.
func stripHTML(input string) string {
	withBreaks := htmlBreaks.ReplaceAllString(input, "\n")
	stripped := htmlStripPolicy.Sanitize(withBreaks)
	unescaped := html.UnescapeString(stripped)

	lines := strings.Split(unescaped, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return strings.Join(out, "\n")
}

// decodeCharset converts legacy single-byte charsets (Arabic mail commonly
// arrives as windows-1256) to UTF-8. Unknown charsets pass through.
func decodeCharset(data []byte, charset string) []byte {
	var cm *charmap.Charmap
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "windows-1256", "cp1256":
		cm = charmap.Windows1256
	case "iso-8859-6":
		cm = charmap.ISO8859_6
	case "windows-1252", "cp1252":
		cm = charmap.Windows1252
	default:
		return data
	}
	decoded, err := cm.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return decoded
}
