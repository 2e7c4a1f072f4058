package browser

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  *Command
	}{
		{"show inbox", "show my inbox", &Command{Action: ActionList, EmailNum: 0}},
		{"open gmail", "open gmail", &Command{Action: ActionList, EmailNum: 0}},
		{"check mail", "can you check mail for me", &Command{Action: ActionList, EmailNum: 0}},
		{"list emails", "list emails please", &Command{Action: ActionList, EmailNum: 0}},

		{"view with hash", "view email #4", &Command{Action: ActionView, EmailNum: 4}},
		{"view ordinal", "view 2nd email", &Command{Action: ActionView, EmailNum: 2}},
		{"read default num", "read email", &Command{Action: ActionView, EmailNum: 1}},
		{"open email is view", "open email #3", &Command{Action: ActionView, EmailNum: 3}},

		{"reply job application", "reply to email #3 with job application template",
			&Command{Action: ActionReply, EmailNum: 3, Template: TemplateJobApplication}},
		{"reply interview", "reply to 2nd email with interview invite",
			&Command{Action: ActionReply, EmailNum: 2, Template: TemplateInterviewInvite}},
		{"reply internship", "reply with internship completion report",
			&Command{Action: ActionReply, EmailNum: 1, Template: TemplateInternshipCompletion}},
		{"reply acknowledgment", "reply that we received it",
			&Command{Action: ActionReply, EmailNum: 1, Template: TemplateJobAcknowledgment}},
		{"reply no template", "reply to email #5",
			&Command{Action: ActionReply, EmailNum: 5}},

		{"close session", "close the browser session", &Command{Action: ActionClose}},
		{"close inbox", "please close inbox", &Command{Action: ActionClose}},

		{"no match weather", "what's the weather", nil},
		{"no match empty", "", nil},
		{"no match generic", "summarize today's leads", nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tt.query)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.query, got, tt.want)
			}
		})
	}
}

// A reply request phrased with inbox vocabulary must not be shadowed by
// the list rule.
func TestParse_ReplyNotShadowedByList(t *testing.T) {
	t.Parallel()
	got := Parse("reply to the first email in my gmail")
	if got == nil || got.Action != ActionReply {
		t.Fatalf("Parse() = %+v, want reply action", got)
	}
}

func TestExtractEmailNum(t *testing.T) {
	t.Parallel()

	tests := []struct {
		query string
		want  int
	}{
		{"email #7", 7},
		{"email 12", 12},
		{"3rd email", 3},
		{"21st email", 21},
		{"#9", 9},
		{"no number here", 1},
	}
	for _, tt := range tests {
		if got := extractEmailNum(tt.query); got != tt.want {
			t.Errorf("extractEmailNum(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
