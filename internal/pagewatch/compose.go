package pagewatch

import (
	"fmt"
	"html"
	"strings"

	"github.com/hay-kot/pagewatch/internal/core/chat"
	"github.com/hay-kot/pagewatch/internal/core/diff"
	"github.com/hay-kot/pagewatch/internal/core/page"
	"github.com/hay-kot/pagewatch/internal/core/reconcile"
)

var categoryEmoji = map[diff.Category]string{
	diff.CategoryTitle:  "📝",
	diff.CategoryState:  "🔖",
	diff.CategoryDate:   "📅",
	diff.CategoryPeople: "👥",
	diff.CategoryLink:   "🔗",
	diff.CategoryOther:  "🔹",
}

const emptyValue = "(empty)"

// Compose renders a reconciliation result as notifications: additions
// first, then removals, then one message per changed page.
func Compose(r reconcile.Result) []chat.Message {
	msgs := make([]chat.Message, 0, len(r.Added)+len(r.Removed)+len(r.Changes))

	for _, p := range r.Added {
		msgs = append(msgs, htmlMessage("🌱 New page added: "+pageLink(p.Name(), p.URL)))
	}
	for _, p := range r.Removed {
		msgs = append(msgs, htmlMessage("🗑️ Page removed: "+pageLink(p.Name(), p.URL)))
	}
	for _, pc := range r.Changes {
		msgs = append(msgs, htmlMessage(composeChange(pc)))
	}

	return msgs
}

func composeChange(pc reconcile.PageChange) string {
	var b strings.Builder
	b.WriteString("📬 Changes in ")
	b.WriteString(pageLink(pc.Name, pc.URL))
	b.WriteString(":")

	for _, c := range pc.Changes {
		emoji, ok := categoryEmoji[c.Category]
		if !ok {
			emoji = categoryEmoji[diff.CategoryOther]
		}
		fmt.Fprintf(&b, "\n%s <b>%s</b>: %s → %s",
			emoji, html.EscapeString(c.Name), value(c.Old), value(c.New))
	}

	return b.String()
}

func pageLink(name, url string) string {
	if name == "" {
		name = page.UnnamedPage
	}
	if url == "" {
		return "<b>" + html.EscapeString(name) + "</b>"
	}
	return fmt.Sprintf("<a href='%s'>%s</a>", html.EscapeString(url), html.EscapeString(name))
}

func value(s string) string {
	if s == "" {
		return emptyValue
	}
	return html.EscapeString(s)
}

func htmlMessage(text string) chat.Message {
	return chat.Message{Text: text, HTML: true, DisablePreview: true}
}
