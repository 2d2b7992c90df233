package llm_test

import (
	"testing"

	"droidpilot/pkg/llm"
)

func TestParseDecision(t *testing.T) {
	d, err := llm.ParseDecision(`{"thought": "tap the button", "action": "tap(3)"}`, false)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Thought != "tap the button" || d.Action != "tap(3)" {
		t.Fatalf("decision = %+v", d)
	}
}

func TestParseDecisionFenceRepair(t *testing.T) {
	fenced := "```json\n{\"thought\": \"t\", \"action\": \"back()\"}\n```"

	d, err := llm.ParseDecision(fenced, true)
	if err != nil {
		t.Fatalf("repair should strip the fence: %v", err)
	}
	if d.Action != "back()" {
		t.Fatalf("action = %q", d.Action)
	}

	if _, err := llm.ParseDecision(fenced, false); err == nil {
		t.Fatal("without repair the fenced response must fail to parse")
	}
}

func TestParseDecisionFirstFencedBlockWins(t *testing.T) {
	raw := "```\n{\"thought\": \"first\", \"action\": \"home()\"}\n```\nextra prose\n```\ngarbage\n```"

	d, err := llm.ParseDecision(raw, true)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if d.Thought != "first" {
		t.Fatalf("expected the first fenced block, got %+v", d)
	}
}

func TestParseDecisionMissingKeys(t *testing.T) {
	if _, err := llm.ParseDecision(`{"thought": "only thinking"}`, true); err == nil {
		t.Fatal("missing action must be rejected")
	}
	if _, err := llm.ParseDecision(`not json at all`, true); err == nil {
		t.Fatal("non-JSON must be rejected")
	}
}

func TestParseAction(t *testing.T) {
	cases := []struct {
		in       string
		name     string
		args     string
	}{
		{"tap(3)", "tap", "3"},
		{"input_text(5, hello world)", "input_text", "5, hello world"},
		{"swipe(1, 2)", "swipe", "1, 2"},
		{"back()", "back", ""},
		{"home", "home", ""},
		{"  wait(2.5)  ", "wait", "2.5"},
	}
	for _, tc := range cases {
		name, args := llm.ParseAction(tc.in)
		if name != tc.name || args != tc.args {
			t.Errorf("ParseAction(%q) = (%q, %q), want (%q, %q)", tc.in, name, args, tc.name, tc.args)
		}
	}
}

func TestFinishHelpers(t *testing.T) {
	if !llm.IsFinish("finish('all done')") {
		t.Fatal("finish action not recognized")
	}
	if llm.IsFinish("tap(1)") {
		t.Fatal("tap is not a finish action")
	}
	if got := llm.FinishSummary("finish('all done')"); got != "all done" {
		t.Fatalf("summary = %q", got)
	}
	if got := llm.FinishSummary(`finish("quoted")`); got != "quoted" {
		t.Fatalf("summary = %q", got)
	}
}

func TestUsageAdd(t *testing.T) {
	total := llm.Usage{}
	total.Add(llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15})
	total.Add(llm.Usage{PromptTokens: 20, CompletionTokens: 10, TotalTokens: 30})
	if total.PromptTokens != 30 || total.CompletionTokens != 15 || total.TotalTokens != 45 {
		t.Fatalf("usage = %+v", total)
	}
}
