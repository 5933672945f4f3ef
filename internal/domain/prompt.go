package domain

type ToolKind string
type ToolCallStatus string
type StopReason string

const (
	ToolKindFS       ToolKind = "fs"
	ToolKindEdit     ToolKind = "edit"
	ToolKindTerminal ToolKind = "terminal"
	ToolKindOther    ToolKind = "other"

	ToolCallPending    ToolCallStatus = "pending"
	ToolCallInProgress ToolCallStatus = "in_progress"
	ToolCallCompleted  ToolCallStatus = "completed"
	ToolCallFailed     ToolCallStatus = "failed"

	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonRefusal   StopReason = "refusal"
	StopReasonCancelled StopReason = "cancelled"
)

type ToolCall struct {
	ID      string
	Title   string
	Kind    ToolKind
	Status  ToolCallStatus
	Content string
}

// PromptResult is the folded outcome of one prompt call: text fragments in
// arrival order and one record per tool call reflecting its final status.
type PromptResult struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
}

func (r PromptResult) Refused() bool {
	return r.StopReason == StopReasonRefusal
}

func (r PromptResult) Empty() bool {
	return r.Text == "" && len(r.ToolCalls) == 0
}
