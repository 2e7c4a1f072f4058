package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/durgabridge/durga/pkg/durga/budget"
	"github.com/durgabridge/durga/pkg/durga/events"
)

// Suggester renders an event into a prompt, runs it through the
// completion worker and accounts the usage. Callers must check the
// budget gate before invoking; the suggester only does the accounting.
type Suggester struct {
	runner Runner
	gate   *budget.Gate
	logger *slog.Logger
}

// New creates a suggester.
func New(runner Runner, gate *budget.Gate, logger *slog.Logger) *Suggester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Suggester{
		runner: runner,
		gate:   gate,
		logger: logger.With("component", "suggest"),
	}
}

// Suggest produces a suggested action for an event. A worker that could
// not be spawned at all yields an empty suggestion and no error — the
// event is still enqueued, just without a suggestion. Nonzero worker
// exits return whatever text was produced.
func (s *Suggester) Suggest(ctx context.Context, e events.Event) string {
	prompt := renderPrompt(e)

	out, _, err := s.runner.Complete(ctx, prompt)
	if err != nil {
		s.logger.Warn("suggestion unavailable", "event", e.ID, "error", err)
		return ""
	}

	s.gate.Track(prompt, out)
	return strings.TrimSpace(out)
}

// renderPrompt picks the fixed template for the event type and embeds
// the normalized fields.
func renderPrompt(e events.Event) string {
	switch e.Type {
	case events.TypeNewEmail:
		return fmt.Sprintf(`You are Durga AI. A new email arrived:
From: %v
Subject: %v
Preview: %v

Suggest a brief action (1-2 sentences). Options: reply, follow-up later, archive, mark important.`,
			e.Data["from"], e.Data["subject"], e.Data["snippet"])

	case events.TypeNewWhatsApp:
		return fmt.Sprintf(`You are Durga AI. A new WhatsApp message:
From: %v
Message: %v

Suggest a brief response or action (1-2 sentences).`,
			e.Data["from"], e.Data["body"])

	case events.TypeNewSubmission:
		data, _ := json.MarshalIndent(e.Data, "", "  ")
		return fmt.Sprintf(`You are Durga AI. A new form submission:
%s

Suggest next steps (1-2 sentences). Consider: follow-up call, send info, add to CRM.`, data)

	default:
		return "Analyze this event and suggest an action."
	}
}
