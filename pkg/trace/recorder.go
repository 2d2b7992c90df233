// Package trace persists a task run: per-step artifact directories plus the
// run-level summary and execution trace files.
package trace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// maxTaskNameLen bounds the sanitized task fragment of the run directory.
const maxTaskNameLen = 50

// StepObservation is the observation portion of a step record. The path
// fields are filled in by the recorder once the artifacts are written,
// relative to the run directory.
type StepObservation struct {
	SimplifiedElements   string `json:"simplified_elements_str"`
	ScreenshotPath       string `json:"screenshot_path,omitempty"`
	XMLPath              string `json:"xml_path,omitempty"`
	SimplifiedLayoutPath string `json:"simplified_layout_path,omitempty"`
}

// StepExecution records what was actually dispatched and how it went.
type StepExecution struct {
	ValidatedAction string `json:"validated_action"`
	Status          string `json:"status"`
}

// StepRecord is everything one control-loop step produced. Screenshot and
// UITree are written as files, never embedded in JSON.
type StepRecord struct {
	StepID          int             `json:"step_id"`
	Timestamp       string          `json:"timestamp"`
	OverallTask     string          `json:"overall_task"`
	Observation     StepObservation `json:"observation"`
	Prompt          string          `json:"llm_prompt"`
	RawResponse     string          `json:"raw_llm_response"`
	Thought         string          `json:"llm_thought"`
	Action          string          `json:"llm_action"`
	Execution       StepExecution   `json:"execution"`
	CycleDurationMS int64           `json:"cycle_duration_ms"`

	Screenshot []byte `json:"-"`
	UITree     string `json:"-"`
}

// TokenUsage is the run's accumulated model token accounting.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// RunSummary is the metadata written to summary.json and embedded in the
// execution trace.
type RunSummary struct {
	RunStartTime    string     `json:"run_start_time"`
	RunEndTime      string     `json:"run_end_time"`
	DurationSeconds float64    `json:"duration_seconds"`
	TaskDescription string     `json:"task_description"`
	FinalStatus     string     `json:"final_status"`
	TotalSteps      int        `json:"total_steps"`
	SummaryText     string     `json:"summary_text"`
	TokenUsage      TokenUsage `json:"token_usage"`
}

// Recorder owns one run directory and accumulates the in-memory trace until
// FinalizeRun. Not safe for concurrent use; one control loop owns it.
type Recorder struct {
	runDir    string
	task      string
	startTime time.Time
	steps     []StepRecord
	stepCount int

	now func() time.Time
}

// NewRecorder creates the run directory under root, named
// <timestamp>_<sanitized-task>_<device>, and returns a recorder bound to it.
func NewRecorder(root, task, device string, startTime time.Time) (*Recorder, error) {
	name := fmt.Sprintf("%s_%s_%s",
		startTime.Format("20060102_150405"), sanitizeTaskName(task), device)
	runDir := filepath.Join(root, name)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run directory %s: %w", runDir, err)
	}
	return &Recorder{
		runDir:    runDir,
		task:      task,
		startTime: startTime,
		now:       time.Now,
	}, nil
}

// RunDir returns the absolute or root-relative run directory path.
func (r *Recorder) RunDir() string { return r.runDir }

// StepCount returns the number of recorded steps so far.
func (r *Recorder) StepCount() int { return r.stepCount }

// SetNowFunc overrides the clock (for testing).
func (r *Recorder) SetNowFunc(f func() time.Time) { r.now = f }

// RecordStep writes one step's artifacts into a fresh step_NNN directory and
// appends the record to the in-memory trace. Artifact write failures are
// logged, not fatal; the run continues.
func (r *Recorder) RecordStep(rec StepRecord) error {
	r.stepCount++
	folder := fmt.Sprintf("step_%03d", r.stepCount)
	stepDir := filepath.Join(r.runDir, folder)
	if err := os.MkdirAll(stepDir, 0o755); err != nil {
		return fmt.Errorf("create step directory %s: %w", stepDir, err)
	}

	if len(rec.Screenshot) > 0 {
		if err := os.WriteFile(filepath.Join(stepDir, "screenshot.png"), rec.Screenshot, 0o644); err != nil {
			slog.Error("write screenshot failed", "step", r.stepCount, "err", err)
		} else {
			rec.Observation.ScreenshotPath = filepath.Join(folder, "screenshot.png")
		}
	}
	if rec.UITree != "" {
		if err := os.WriteFile(filepath.Join(stepDir, "layout.xml"), []byte(rec.UITree), 0o644); err != nil {
			slog.Error("write ui tree failed", "step", r.stepCount, "err", err)
		} else {
			rec.Observation.XMLPath = filepath.Join(folder, "layout.xml")
		}
	}
	if rec.Observation.SimplifiedElements != "" {
		path := filepath.Join(stepDir, "simplified_layout.txt")
		if err := os.WriteFile(path, []byte(rec.Observation.SimplifiedElements), 0o644); err != nil {
			slog.Error("write simplified layout failed", "step", r.stepCount, "err", err)
		} else {
			rec.Observation.SimplifiedLayoutPath = filepath.Join(folder, "simplified_layout.txt")
		}
	}

	// The binary payloads never reach JSON; the record carries paths instead.
	rec.Screenshot = nil
	rec.UITree = ""

	if err := writeJSON(filepath.Join(stepDir, "step_details.json"), rec); err != nil {
		slog.Error("write step details failed", "step", r.stepCount, "err", err)
	}

	r.steps = append(r.steps, rec)
	slog.Info("step recorded", "step", r.stepCount, "dir", stepDir)
	return nil
}

// FinalizeRun writes summary.json and execution_trace.json. The end time is
// taken in the start time's location so both stamps share a zone.
func (r *Recorder) FinalizeRun(status, summary string, usage TokenUsage) error {
	end := r.now().In(r.startTime.Location())
	duration := end.Sub(r.startTime)

	meta := RunSummary{
		RunStartTime:    r.startTime.Format(time.RFC3339),
		RunEndTime:      end.Format(time.RFC3339),
		DurationSeconds: math.Round(duration.Seconds()*100) / 100,
		TaskDescription: r.task,
		FinalStatus:     status,
		TotalSteps:      r.stepCount,
		SummaryText:     summary,
		TokenUsage:      usage,
	}

	if err := writeJSON(filepath.Join(r.runDir, "summary.json"), meta); err != nil {
		return fmt.Errorf("write run summary: %w", err)
	}

	full := struct {
		Metadata RunSummary   `json:"metadata"`
		Trace    []StepRecord `json:"trace"`
	}{Metadata: meta, Trace: r.steps}
	if err := writeJSON(filepath.Join(r.runDir, "execution_trace.json"), full); err != nil {
		return fmt.Errorf("write execution trace: %w", err)
	}

	slog.Info("run finalized", "dir", r.runDir, "status", status, "steps", r.stepCount)
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// sanitizeTaskName keeps letters, digits, spaces, underscores, and hyphens,
// trims trailing spaces, and truncates for use in a directory name.
func sanitizeTaskName(task string) string {
	var b strings.Builder
	for _, r := range task {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == ' ', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	name := strings.TrimRight(b.String(), " ")
	if len(name) > maxTaskNameLen {
		name = name[:maxTaskNameLen]
	}
	return name
}
