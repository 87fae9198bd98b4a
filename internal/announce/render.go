package announce

import (
	"html"
	"strings"

	"quotebot/internal/content"
)

const (
	DefaultTitle    = "Dienos mintis"
	diagnosticTitle = "Debug Information"
)

// Render formats a quote as Telegram HTML: bold title, the quote, "- author" footer.
func Render(title string, q content.Quote) string {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(title))
	b.WriteString("</b>\n\n")
	b.WriteString(html.EscapeString(q.Text))
	if a := strings.TrimSpace(q.Author); a != "" {
		b.WriteString("\n\n<i>- ")
		b.WriteString(html.EscapeString(a))
		b.WriteString("</i>")
	}
	return b.String()
}

// RenderDiagnostic formats an operator-visible error posted in place of a quote.
func RenderDiagnostic(msg string) string {
	return "<b>⚠️ " + diagnosticTitle + "</b>\n\n<code>" + html.EscapeString(msg) + "</code>"
}
