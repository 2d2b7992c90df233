package trace_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"droidpilot/pkg/trace"
)

func startTime(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2026-03-01T10:00:00+08:00")
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestRecorderRunDirectoryName(t *testing.T) {
	root := t.TempDir()
	r, err := trace.NewRecorder(root, "Open settings & toggle wifi!", "emulator-5554", startTime(t))
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	base := filepath.Base(r.RunDir())
	if !strings.HasPrefix(base, "20260301_100000_") {
		t.Fatalf("run dir should start with the timestamp: %s", base)
	}
	if strings.ContainsAny(base, "&!") {
		t.Fatalf("punctuation must be stripped from the task name: %s", base)
	}
	if !strings.HasSuffix(base, "_emulator-5554") {
		t.Fatalf("run dir should end with the device serial: %s", base)
	}
}

func TestRecorderTruncatesLongTaskName(t *testing.T) {
	root := t.TempDir()
	long := strings.Repeat("abcde ", 30)
	r, err := trace.NewRecorder(root, long, "dev1", startTime(t))
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	base := filepath.Base(r.RunDir())
	// timestamp(15) + "_" + task(<=50) + "_dev1"
	taskPart := strings.TrimSuffix(strings.TrimPrefix(base, "20260301_100000_"), "_dev1")
	if len(taskPart) > 50 {
		t.Fatalf("task fragment too long (%d): %s", len(taskPart), taskPart)
	}
}

func TestRecordStepWritesArtifacts(t *testing.T) {
	r, err := trace.NewRecorder(t.TempDir(), "task", "dev1", startTime(t))
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	rec := trace.StepRecord{
		StepID:      1,
		OverallTask: "task",
		Observation: trace.StepObservation{SimplifiedElements: "[1] Button {clickable}"},
		Prompt:      "prompt text",
		RawResponse: `{"thought":"t","action":"tap(1)"}`,
		Thought:     "t",
		Action:      "tap(1)",
		Execution:   trace.StepExecution{ValidatedAction: "tap(1)", Status: "SUCCESS"},
		Screenshot:  []byte{0x89, 'P', 'N', 'G'},
		UITree:      "<hierarchy/>",
	}
	if err := r.RecordStep(rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	stepDir := filepath.Join(r.RunDir(), "step_001")
	for _, name := range []string{"screenshot.png", "layout.xml", "simplified_layout.txt", "step_details.json"} {
		if _, err := os.Stat(filepath.Join(stepDir, name)); err != nil {
			t.Errorf("missing artifact %s: %v", name, err)
		}
	}

	// The details JSON must reference artifacts by path, not embed them.
	data, err := os.ReadFile(filepath.Join(stepDir, "step_details.json"))
	if err != nil {
		t.Fatal(err)
	}
	var details map[string]any
	if err := json.Unmarshal(data, &details); err != nil {
		t.Fatalf("step details not valid JSON: %v", err)
	}
	obs := details["observation"].(map[string]any)
	if obs["screenshot_path"] != filepath.Join("step_001", "screenshot.png") {
		t.Fatalf("screenshot path = %v", obs["screenshot_path"])
	}
	if strings.Contains(string(data), "hierarchy") {
		t.Fatal("raw xml must not be embedded in step_details.json")
	}
}

func TestRecordStepSkipsMissingArtifacts(t *testing.T) {
	r, err := trace.NewRecorder(t.TempDir(), "task", "dev1", startTime(t))
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	if err := r.RecordStep(trace.StepRecord{StepID: 1}); err != nil {
		t.Fatalf("record: %v", err)
	}

	stepDir := filepath.Join(r.RunDir(), "step_001")
	if _, err := os.Stat(filepath.Join(stepDir, "screenshot.png")); !os.IsNotExist(err) {
		t.Fatal("empty screenshot must not produce a file")
	}
	if _, err := os.Stat(filepath.Join(stepDir, "step_details.json")); err != nil {
		t.Fatalf("step details should always be written: %v", err)
	}
}

func TestFinalizeRunAfterSteps(t *testing.T) {
	start := startTime(t)
	r, err := trace.NewRecorder(t.TempDir(), "check email", "dev1", start)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	r.SetNowFunc(func() time.Time { return start.Add(95 * time.Second) })

	for i := 1; i <= 3; i++ {
		if err := r.RecordStep(trace.StepRecord{StepID: i}); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	usage := trace.TokenUsage{PromptTokens: 300, CompletionTokens: 90, TotalTokens: 390}
	if err := r.FinalizeRun("SUCCESS", "inbox checked", usage); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(r.RunDir(), "summary.json"))
	if err != nil {
		t.Fatal(err)
	}
	var summary trace.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatal(err)
	}
	if summary.FinalStatus != "SUCCESS" || summary.TotalSteps != 3 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.DurationSeconds != 95 {
		t.Fatalf("duration = %v", summary.DurationSeconds)
	}
	if summary.TokenUsage.TotalTokens != 390 {
		t.Fatalf("token usage = %+v", summary.TokenUsage)
	}
	// Both stamps carry the start time's zone.
	if !strings.HasSuffix(summary.RunStartTime, "+08:00") || !strings.HasSuffix(summary.RunEndTime, "+08:00") {
		t.Fatalf("timestamps should share the start zone: %s / %s", summary.RunStartTime, summary.RunEndTime)
	}

	data, err = os.ReadFile(filepath.Join(r.RunDir(), "execution_trace.json"))
	if err != nil {
		t.Fatal(err)
	}
	var full struct {
		Metadata trace.RunSummary   `json:"metadata"`
		Trace    []trace.StepRecord `json:"trace"`
	}
	if err := json.Unmarshal(data, &full); err != nil {
		t.Fatal(err)
	}
	if len(full.Trace) != 3 || full.Metadata.FinalStatus != "SUCCESS" {
		t.Fatalf("trace = %d steps, metadata = %+v", len(full.Trace), full.Metadata)
	}
}
