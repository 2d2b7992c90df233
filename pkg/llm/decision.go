package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decision is one parsed model response: what the model was thinking and the
// action it chose, expressed in the call-style action grammar
// ("tap(3)", "input_text(5, hello)", "finish(done)").
type Decision struct {
	Thought string `json:"thought"`
	Action  string `json:"action"`
}

// Usage is the token accounting for one model call. Zero when the provider
// response carries no usage block.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another call's usage.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ParseDecision parses a raw model response into a Decision. With repair
// enabled, one layer of markdown code fencing is stripped first; the first
// fenced block wins. Both keys must be present and non-empty strings.
func ParseDecision(raw string, repair bool) (Decision, error) {
	text := strings.TrimSpace(raw)
	if repair {
		text = stripFence(text)
	}

	var d Decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return Decision{}, fmt.Errorf("parse model response: %w", err)
	}
	if d.Thought == "" || d.Action == "" {
		return Decision{}, fmt.Errorf("model response missing thought or action: %q", text)
	}
	return d, nil
}

// stripFence removes a single ``` or ```json fence wrapper. Unfenced input
// passes through untouched.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := s[3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		// Drop the language tag line ("json" or empty).
		body = body[nl+1:]
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// ParseAction splits an action string into its name and raw argument text.
// "tap(3)" yields ("tap", "3"); "back()" yields ("back", ""); a bare name
// yields itself with empty args.
func ParseAction(s string) (name, args string) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return s, ""
	}
	name = s[:open]
	args = s[open+1:]
	if strings.HasSuffix(args, ")") {
		args = args[:len(args)-1]
	}
	return name, args
}

// IsFinish reports whether the action terminates the task.
func IsFinish(action string) bool {
	return strings.HasPrefix(strings.TrimSpace(action), "finish")
}

// FinishSummary extracts the summary text from a finish(...) action,
// stripping one layer of surrounding quotes.
func FinishSummary(action string) string {
	_, args := ParseAction(action)
	return strings.Trim(strings.TrimSpace(args), `'"`)
}

// ErrorAction renders a synthetic action for a failed model call, in the same
// grammar the model uses.
func ErrorAction(details string) string {
	return fmt.Sprintf("error(details='%s')", details)
}
