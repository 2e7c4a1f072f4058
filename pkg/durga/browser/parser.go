// Package browser interprets free-text commands into browser-automation
// intents and supervises the detached worker process that performs them.
package browser

import (
	"regexp"
	"strconv"
	"strings"
)

// Automation actions the worker understands.
const (
	ActionList  = "list"
	ActionView  = "view"
	ActionReply = "reply"
	ActionClose = "close"
)

// Reply templates selected by keyword co-occurrence.
const (
	TemplateInternshipCompletion = "internship_completion"
	TemplateJobApplication       = "job_application"
	TemplateInterviewInvite      = "interview_invite"
	TemplateJobAcknowledgment    = "job_acknowledgment"
)

// Command is a parsed browser-automation intent.
type Command struct {
	Action   string `json:"action"`
	EmailNum int    `json:"email_num"`
	Template string `json:"template,omitempty"`
}

// emailNumPattern extracts the target email index from phrasings like
// "email #3", "3rd email" or a bare "#3". First matching group wins.
var emailNumPattern = regexp.MustCompile(`email\s*#?(\d+)|(\d+)(?:st|nd|rd|th)\s*email|#(\d+)`)

// rule pairs a predicate with a builder. Rules are evaluated top to
// bottom and the first match wins, so ordering is part of the contract:
// the list rule's verbs are deliberately narrow so it cannot shadow a
// genuine reply request, and "open email" belongs to view, not list.
type rule struct {
	match func(q string) bool
	build func(q string) *Command
}

var rules = []rule{
	{matchList, func(string) *Command {
		return &Command{Action: ActionList, EmailNum: 0}
	}},
	{matchView, func(q string) *Command {
		return &Command{Action: ActionView, EmailNum: extractEmailNum(q)}
	}},
	{func(q string) bool { return strings.Contains(q, "reply") }, func(q string) *Command {
		return &Command{Action: ActionReply, EmailNum: extractEmailNum(q), Template: selectTemplate(q)}
	}},
	{matchClose, func(string) *Command {
		return &Command{Action: ActionClose}
	}},
}

// Parse classifies a free-text query into an automation intent. It is
// case-insensitive substring matching, not tokenized NLP. A nil result
// means the query is not an automation command and falls through to the
// language-model path.
func Parse(query string) *Command {
	if query == "" {
		return nil
	}
	q := strings.ToLower(query)
	for _, r := range rules {
		if r.match(q) {
			return r.build(q)
		}
	}
	return nil
}

func matchList(q string) bool {
	if containsAny(q, "list", "show", "check") && containsAny(q, "inbox", "email", "mail", "gmail") {
		return true
	}
	// "open" pairs only with inbox/mail/gmail here; "open email" means view.
	return strings.Contains(q, "open") && containsAny(q, "inbox", "gmail") ||
		strings.Contains(q, "open mail")
}

func matchView(q string) bool {
	return containsAny(q, "view", "read") && strings.Contains(q, "email") ||
		strings.Contains(q, "open email")
}

func matchClose(q string) bool {
	return strings.Contains(q, "close") && containsAny(q, "inbox", "browser", "session")
}

func containsAny(q string, subs ...string) bool {
	for _, s := range subs {
		if strings.Contains(q, s) {
			return true
		}
	}
	return false
}

// extractEmailNum returns the referenced email index, defaulting to 1
// when the query names no number.
func extractEmailNum(q string) int {
	m := emailNumPattern.FindStringSubmatch(q)
	if m == nil {
		return 1
	}
	for _, group := range m[1:] {
		if group != "" {
			n, err := strconv.Atoi(group)
			if err == nil {
				return n
			}
		}
	}
	return 1
}

// selectTemplate picks a reply template from keyword co-occurrence.
// Empty means no template: the worker composes a generic reply.
func selectTemplate(q string) string {
	switch {
	case strings.Contains(q, "internship") && containsAny(q, "completion", "report", "final"):
		return TemplateInternshipCompletion
	case containsAny(q, "job", "application", "resume"):
		return TemplateJobApplication
	case containsAny(q, "interview", "invite"):
		return TemplateInterviewInvite
	case containsAny(q, "acknowledge", "received"):
		return TemplateJobAcknowledgment
	default:
		return ""
	}
}
