package suggest

import (
	"fmt"
	"strings"

	"github.com/durgabridge/durga/pkg/durga/events"
)

// Response types the /ask surface reports back to the UI.
const (
	ResponseInbox    = "inbox"
	ResponseSummary  = "summary"
	ResponseTaskList = "task_list"
	ResponsePayments = "payment_status"
	ResponseLeads    = "leads"
	ResponseEvents   = "events"
	ResponseGeneral  = "general"
)

// Classify maps a free-text query to a coarse response type. Substring
// matching, same register as the command parser.
func Classify(query string) string {
	q := strings.ToLower(query)
	switch {
	case q == "":
		return ResponseGeneral
	case containsAny(q, "inbox", "email", "mail"):
		return ResponseInbox
	case containsAny(q, "today", "status", "summary"):
		return ResponseSummary
	case containsAny(q, "follow", "remind", "task"):
		return ResponseTaskList
	case containsAny(q, "payment", "pending", "money"):
		return ResponsePayments
	case containsAny(q, "lead", "customer", "client"):
		return ResponseLeads
	case containsAny(q, "event", "queue", "trigger"):
		return ResponseEvents
	default:
		return ResponseGeneral
	}
}

// IsInboxQuery reports whether the query asks about mail, meaning the
// prompt context should be enriched with recent messages.
func IsInboxQuery(query string) bool {
	q := strings.ToLower(query)
	return containsAny(q, "inbox", "email", "mail", "message", "unread")
}

// FormatEmails renders fetched mail items as numbered prompt context.
func FormatEmails(emails []map[string]any) string {
	if len(emails) == 0 {
		return "No emails found."
	}
	var b strings.Builder
	for i, email := range emails {
		if i > 0 {
			b.WriteString("\n\n")
		}
		snippet := str(email["snippet"])
		if len(snippet) > 150 {
			snippet = snippet[:150]
		}
		fmt.Fprintf(&b, "%d. From: %s\n   Subject: %s\n   Date: %s\n   Preview: %s...",
			i+1,
			strOr(email["from"], "Unknown"),
			strOr(email["subject"], "No Subject"),
			strOr(email["date"], "Unknown date"),
			snippet)
	}
	return b.String()
}

// FormatPendingEvents renders the pending queue as prompt context.
func FormatPendingEvents(pending []events.Event) string {
	if len(pending) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "\n\nPENDING EVENTS (%d):\n", len(pending))
	for i, e := range pending {
		summary := fmt.Sprintf("%v", e.Data)
		if len(summary) > 100 {
			summary = summary[:100]
		}
		fmt.Fprintf(&b, "%d. [%s] %s - %s...\n", i+1, e.Type, e.Source, summary)
	}
	return b.String()
}

// BuildAskPrompt assembles the assistant prompt for the /ask path.
func BuildAskPrompt(query, context string) string {
	return fmt.Sprintf(`You are Durga, an AI chief-of-staff for business owners.

IMPORTANT RULES:
- Never auto-send messages or take actions without explicit user approval
- Always suggest actions, never execute them
- Keep responses brief and actionable
- When showing inbox, summarize each email briefly

Context: %s

User query: %s

Respond concisely as Durga.`, context, query)
}

func containsAny(q string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(q, s) {
			return true
		}
	}
	return false
}

func str(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func strOr(v any, fallback string) string {
	s := str(v)
	if s == "" {
		return fallback
	}
	return s
}
