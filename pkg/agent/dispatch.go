package agent

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"droidpilot/pkg/actuator"
	"droidpilot/pkg/llm"
	"droidpilot/pkg/observer"
)

// Dispatch outcomes, recorded per step.
const (
	OutcomeSuccess       = "SUCCESS"
	OutcomeFailure       = "FAILURE"
	OutcomeNoElements    = "FAILURE_NO_ELEMENTS"
	OutcomeUnknownAction = "UNKNOWN_ACTION"
	OutcomeExecError     = "EXECUTION_ERROR"
	OutcomeTaskCompleted = "TASK_COMPLETED"
)

// dispatchAction parses a model action string and drives the actuator.
// Whatever happens, it returns an outcome; the control loop continues.
func dispatchAction(ctx context.Context, act *actuator.Actuator, action string, elements []observer.Element) string {
	name, args := llm.ParseAction(action)

	switch name {
	case "tap", "input_text", "swipe":
		if len(elements) == 0 {
			slog.Error("cannot act: element list is empty", "action", action)
			return OutcomeNoElements
		}
	}

	var err error
	switch name {
	case "tap":
		uid, convErr := strconv.Atoi(strings.TrimSpace(args))
		if convErr != nil {
			slog.Error("malformed tap arguments", "action", action, "err", convErr)
			return OutcomeExecError
		}
		err = act.Tap(ctx, uid, elements)

	case "input_text":
		uidStr, text, ok := strings.Cut(args, ",")
		if !ok {
			slog.Error("malformed input_text arguments", "action", action)
			return OutcomeExecError
		}
		uid, convErr := strconv.Atoi(strings.TrimSpace(uidStr))
		if convErr != nil {
			slog.Error("malformed input_text uid", "action", action, "err", convErr)
			return OutcomeExecError
		}
		text = strings.Trim(strings.TrimSpace(text), `'"`)
		err = act.InputText(ctx, uid, text, elements)

	case "swipe":
		startStr, endStr, ok := strings.Cut(args, ",")
		if !ok {
			slog.Error("malformed swipe arguments", "action", action)
			return OutcomeExecError
		}
		startUID, err1 := strconv.Atoi(strings.TrimSpace(startStr))
		endUID, err2 := strconv.Atoi(strings.TrimSpace(endStr))
		if err1 != nil || err2 != nil {
			slog.Error("malformed swipe uids", "action", action)
			return OutcomeExecError
		}
		err = act.Swipe(ctx, startUID, endUID, elements)

	case "back":
		err = act.Back(ctx)

	case "home":
		err = act.Home(ctx)

	case "wait":
		seconds, convErr := strconv.ParseFloat(strings.TrimSpace(args), 64)
		if convErr != nil {
			slog.Error("malformed wait arguments", "action", action, "err", convErr)
			return OutcomeExecError
		}
		err = act.Wait(seconds)

	default:
		slog.Error("unknown action", "action", action)
		return OutcomeUnknownAction
	}

	if err != nil {
		slog.Error("action failed", "action", action, "err", err)
		return OutcomeFailure
	}
	return OutcomeSuccess
}
