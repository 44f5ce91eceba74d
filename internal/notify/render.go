package notify

import (
	"fmt"
	"html"
	"strings"

	"jobmate/notifier-service/internal/model"
)

// Render formats item as a Telegram HTML message. The summary paragraph is
// included only when showSummary is set and a summary was extracted.
func Render(item model.Item, showSummary bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n\n", html.EscapeString(item.Title))
	if showSummary && item.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", html.EscapeString(item.Summary))
	}
	fmt.Fprintf(&b, "%s\n\n", html.EscapeString(item.URL()))
	fmt.Fprintf(&b, "Budget: %s\n", html.EscapeString(item.Budget.Display))
	fmt.Fprintf(&b, "Type: %s\n", item.Budget.Type())
	fmt.Fprintf(&b, "Published: %s\n", item.Published)
	fmt.Fprintf(&b, "Country: %s\n\n", html.EscapeString(item.Country))
	fmt.Fprintf(&b, "<b>Keyword:</b>\n%s", html.EscapeString(strings.Join(item.Skills, ", ")))
	return b.String()
}

// Message prefixes the rendered item with the name of the source it came from.
func Message(source string, item model.Item, settings model.Settings) string {
	return fmt.Sprintf("[%s]\n\n%s", html.EscapeString(source), Render(item, settings.ShowSummary()))
}
