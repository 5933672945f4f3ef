package domain

import "strings"

type Decision string

const (
	DecisionNone        Decision = ""
	DecisionAllowOnce   Decision = "allow_once"
	DecisionAllowAlways Decision = "allow_always"
	DecisionDeny        Decision = "deny"
)

func (d Decision) Allows() bool {
	return d == DecisionAllowOnce || d == DecisionAllowAlways
}

type PermissionOption struct {
	ID   string
	Name string
	Kind string
}

type PermissionRequest struct {
	SessionID  string
	ToolCallID string
	Title      string
	Options    []PermissionOption
}

var decisionReplies = map[string]Decision{
	"y":      DecisionAllowOnce,
	"yes":    DecisionAllowOnce,
	"ok":     DecisionAllowOnce,
	"n":      DecisionDeny,
	"no":     DecisionDeny,
	"t":      DecisionAllowAlways,
	"trust":  DecisionAllowAlways,
	"always": DecisionAllowAlways,
}

// ParseDecisionReply maps a chat reply to a permission decision, ignoring case
// and surrounding whitespace.
func ParseDecisionReply(text string) (Decision, bool) {
	decision, ok := decisionReplies[strings.ToLower(strings.TrimSpace(text))]
	return decision, ok
}
