// Package agent runs the per-device control loop: observe the screen, ask
// the model for the next action, execute it, record the step.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"droidpilot/pkg/actuator"
	"droidpilot/pkg/config"
	"droidpilot/pkg/llm"
	"droidpilot/pkg/observer"
	"droidpilot/pkg/trace"
)

// Terminal statuses of a task run.
const (
	StatusSuccess         = "SUCCESS"
	StatusStepLimit       = "MAX_STEPS_REACHED"
	StatusCriticalFailure = "CRITICAL_FAILURE"
)

const (
	retryDelay = 2 * time.Second
	stepPause  = time.Second
)

// ObservationSource yields the current device state; *observer.Observer in
// production.
type ObservationSource interface {
	GetCurrentObservation(ctx context.Context) observer.Observation
}

// Decider asks the model for the next action; *llm.Client in production.
type Decider interface {
	Query(ctx context.Context, prompt string, images [][]byte) (llm.Decision, string, llm.Usage, error)
}

// Agent drives one device through one task.
type Agent struct {
	device   string
	observer ObservationSource
	actuator *actuator.Actuator
	decider  Decider
	recorder *trace.Recorder

	cfg   config.AgentConfig
	isVLM bool

	// swapped out in tests
	sleep func(time.Duration)
	now   func() time.Time
}

// New assembles an Agent. isVLM controls whether screenshots accompany the
// prompt.
func New(device string, obs ObservationSource, act *actuator.Actuator, decider Decider,
	rec *trace.Recorder, cfg config.AgentConfig, isVLM bool) *Agent {
	return &Agent{
		device:   device,
		observer: obs,
		actuator: act,
		decider:  decider,
		recorder: rec,
		cfg:      cfg,
		isVLM:    isVLM,
		sleep:    time.Sleep,
		now:      time.Now,
	}
}

// SetSleepFunc overrides the retry and inter-step delays (for testing).
func (a *Agent) SetSleepFunc(f func(time.Duration)) { a.sleep = f }

// Run executes the control loop until the task finishes, the step limit is
// hit, or a critical failure ends the run. It always finalizes the recorder
// and returns the terminal status with its summary.
func (a *Agent) Run(ctx context.Context, task string) (string, string) {
	slog.Info("starting task", "device", a.device, "task", task, "max_steps", a.cfg.MaxSteps)

	attempts := 1
	if a.cfg.RetryOnError.Enabled {
		attempts = a.cfg.RetryOnError.Attempts
	}

	maxSteps := a.cfg.MaxSteps
	finalStatus := StatusStepLimit
	finalSummary := fmt.Sprintf("Task stopped after reaching %d steps.", maxSteps)

	var prevThought, prevAction string
	var prevScreenshot []byte
	var totalUsage llm.Usage

loop:
	for step := 1; step <= maxSteps; step++ {
		if ctx.Err() != nil {
			finalStatus = StatusCriticalFailure
			finalSummary = fmt.Sprintf("Run interrupted: %v", ctx.Err())
			break
		}
		slog.Info("step start", "device", a.device, "step", step)
		stepStart := a.now()

		var (
			obs        observer.Observation
			screenshot []byte
			prompt     string
			decision   llm.Decision
			raw        string
			usage      llm.Usage
			lastErr    error
		)

		for attempt := 0; attempt < attempts; attempt++ {
			obs = a.observer.GetCurrentObservation(ctx)
			screenshot = obs.Screenshot
			if a.cfg.ImageCompression.Enabled {
				screenshot = compressScreenshot(screenshot, a.cfg.ImageCompression.ScaleFactor)
			}

			if len(screenshot) == 0 || obs.Summary == "" {
				finalStatus = StatusCriticalFailure
				finalSummary = "Failed to get complete observation."
				slog.Error(finalSummary, "device", a.device, "step", step)
				break loop
			}

			var images [][]byte
			if a.isVLM {
				if step > 1 && prevScreenshot != nil {
					images = append(images, prevScreenshot)
				}
				images = append(images, screenshot)
			}

			if step == 1 && attempt == 0 {
				prompt = llm.Step1Prompt(task, obs.Summary)
			} else {
				prompt = llm.IntermediatePrompt(task, prevThought, prevAction, obs.Summary)
			}

			decision, raw, usage, lastErr = a.decider.Query(ctx, prompt, images)
			if lastErr == nil {
				break
			}
			slog.Warn("decision attempt failed",
				"device", a.device, "step", step,
				"attempt", attempt+1, "attempts", attempts, "err", lastErr)
			a.sleep(retryDelay)
		}

		if lastErr != nil {
			finalStatus = StatusCriticalFailure
			finalSummary = fmt.Sprintf("Failed after %d attempts. Last error: %v", attempts, lastErr)
			slog.Error(finalSummary, "device", a.device)
			break
		}

		totalUsage.Add(usage)
		slog.Info("decision", "device", a.device, "thought", decision.Thought, "action", decision.Action)

		var execStatus string
		if llm.IsFinish(decision.Action) {
			finalStatus = StatusSuccess
			finalSummary = llm.FinishSummary(decision.Action)
			execStatus = OutcomeTaskCompleted
			slog.Info("task completed", "device", a.device, "summary", finalSummary)
		} else {
			execStatus = dispatchAction(ctx, a.actuator, decision.Action, obs.Elements)
		}

		rec := trace.StepRecord{
			StepID:      step,
			Timestamp:   a.now().Format(time.RFC3339),
			OverallTask: task,
			Observation: trace.StepObservation{SimplifiedElements: obs.Summary},
			Prompt:      prompt,
			RawResponse: raw,
			Thought:     decision.Thought,
			Action:      decision.Action,
			Execution: trace.StepExecution{
				ValidatedAction: decision.Action,
				Status:          execStatus,
			},
			CycleDurationMS: a.now().Sub(stepStart).Milliseconds(),
			Screenshot:      screenshot,
			UITree:          obs.UITree,
		}
		if err := a.recorder.RecordStep(rec); err != nil {
			slog.Error("step recording failed", "device", a.device, "step", step, "err", err)
		}

		if execStatus == OutcomeTaskCompleted {
			break
		}

		prevThought, prevAction, prevScreenshot = decision.Thought, decision.Action, screenshot
		a.sleep(stepPause)
	}

	usage := trace.TokenUsage{
		PromptTokens:     totalUsage.PromptTokens,
		CompletionTokens: totalUsage.CompletionTokens,
		TotalTokens:      totalUsage.TotalTokens,
	}
	if err := a.recorder.FinalizeRun(finalStatus, finalSummary, usage); err != nil {
		slog.Error("run finalization failed", "device", a.device, "err", err)
	}
	return finalStatus, finalSummary
}
