package mail

import (
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
)

// formatMessage renders env as an RFC 5322 message. host is used for the Message-ID domain.
func formatMessage(env envelope, host string, now time.Time) string {
	if host = strings.TrimSpace(host); host == "" {
		host = "localhost"
	}

	var b strings.Builder
	writeHeader(&b, "From", env.from)
	writeHeader(&b, "To", strings.Join(env.recipients, ", "))
	writeHeader(&b, "Subject", mime.QEncoding.Encode("utf-8", escapeHeader(env.msg.Subject)))
	writeHeader(&b, "Date", now.UTC().Format(time.RFC1123Z))
	writeHeader(&b, "Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), host))
	writeHeader(&b, "MIME-Version", "1.0")

	text := env.msg.Body
	html := strings.TrimSpace(env.msg.HTML)

	switch {
	case html != "" && strings.TrimSpace(text) != "":
		boundary := "animehub-" + strings.ReplaceAll(uuid.NewString(), "-", "")
		writeHeader(&b, "Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
		b.WriteString("\r\n")
		writePart(&b, boundary, "text/plain", text)
		writePart(&b, boundary, "text/html", env.msg.HTML)
		b.WriteString("--" + boundary + "--\r\n")
	case html != "":
		writeHeader(&b, "Content-Type", "text/html; charset=UTF-8")
		b.WriteString("\r\n")
		b.WriteString(env.msg.HTML)
	default:
		writeHeader(&b, "Content-Type", "text/plain; charset=UTF-8")
		b.WriteString("\r\n")
		b.WriteString(text)
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, value string) {
	b.WriteString(name)
	b.WriteString(": ")
	b.WriteString(value)
	b.WriteString("\r\n")
}

func writePart(b *strings.Builder, boundary, contentType, body string) {
	b.WriteString("--" + boundary + "\r\n")
	writeHeader(b, "Content-Type", contentType+"; charset=UTF-8")
	b.WriteString("\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
}

func escapeHeader(value string) string {
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	return value
}
