package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/jobflow/internal/logging"
	"github.com/rendis/jobflow/internal/store"
	"github.com/rendis/jobflow/pkg/schema"
)

// CoreActions returns the actions the sample jobs are built from.
func CoreActions(cfg BuiltinConfig) []Action {
	return []Action{
		&logAction{cfg: cfg},
		&failAction{},
		&exitAction{},
		&sleepAction{},
		&putAction{},
	}
}

func stringParam(params map[string]any, action, key string) (string, error) {
	v, ok := params[key].(string)
	if !ok || v == "" {
		return "", schema.NewErrorf(schema.ErrCodeValidation,
			"%s requires non-empty '%s' string parameter", action, key)
	}
	return v, nil
}

// --- log ---

type logAction struct {
	cfg BuiltinConfig
}

func (a *logAction) Name() string { return "log" }

func (a *logAction) Schema() ActionSchema {
	return ActionSchema{Description: "Print a message and record it in the execution log"}
}

func (a *logAction) Validate(params map[string]any) error {
	if _, ok := params["message"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "log requires 'message' parameter")
	}
	if lvl, ok := params["level"]; ok {
		if _, isStr := lvl.(string); !isStr {
			return schema.NewError(schema.ErrCodeValidation, "log 'level' must be a string")
		}
	}
	return nil
}

func (a *logAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	message := fmt.Sprint(input.Params["message"])
	level := slog.LevelInfo
	if name, ok := input.Params["level"].(string); ok {
		level = logging.ParseLevel(name)
	}

	if _, err := fmt.Fprintln(a.cfg.Output, message); err != nil {
		return nil, fmt.Errorf("log: write message: %w", err)
	}
	logging.LogWith(ctx, a.cfg.Logger).Log(ctx, level, message)

	return &ActionOutput{Data: map[string]any{"message": message}}, nil
}

// --- fail ---

type failAction struct{}

func (a *failAction) Name() string { return "fail" }

func (a *failAction) Schema() ActionSchema {
	return ActionSchema{Description: "Raise a step fault with the given message"}
}

func (a *failAction) Validate(_ map[string]any) error { return nil }

func (a *failAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	msg := "step failed"
	if m, ok := input.Params["message"].(string); ok && m != "" {
		msg = m
	}
	return nil, schema.NewError(schema.ErrCodeStepFault, msg)
}

// --- exit ---

type exitAction struct{}

func (a *exitAction) Name() string { return "exit" }

func (a *exitAction) Schema() ActionSchema {
	return ActionSchema{Description: "Finish the step with the given exit status"}
}

func (a *exitAction) Validate(params map[string]any) error {
	_, err := stringParam(params, "exit", "status")
	return err
}

func (a *exitAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	status, _ := input.Params["status"].(string)
	return &ActionOutput{
		Data:   map[string]any{"status": status},
		Status: schema.ExitStatus(status),
	}, nil
}

// --- sleep ---

type sleepAction struct{}

func (a *sleepAction) Name() string { return "sleep" }

func (a *sleepAction) Schema() ActionSchema {
	return ActionSchema{Description: "Wait for a duration such as \"250ms\" or \"2s\""}
}

func (a *sleepAction) Validate(params map[string]any) error {
	d, err := stringParam(params, "sleep", "duration")
	if err != nil {
		return err
	}
	if _, err := time.ParseDuration(d); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "sleep: invalid duration %q", d).WithCause(err)
	}
	return nil
}

func (a *sleepAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	raw, _ := input.Params["duration"].(string)
	d, _ := time.ParseDuration(raw)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCancelled, "sleep interrupted").WithCause(ctx.Err())
	case <-timer.C:
	}
	return &ActionOutput{Data: map[string]any{"slept": d.String()}}, nil
}

// --- put ---

// putAction writes a JSON value under a key in the repository transaction of
// the step, so the write and the step's COMPLETED record land together.
type putAction struct{}

func (a *putAction) Name() string { return "put" }

func (a *putAction) Schema() ActionSchema {
	return ActionSchema{Description: "Durably store a value under a key, atomically with the step result"}
}

func (a *putAction) Validate(params map[string]any) error {
	if _, err := stringParam(params, "put", "key"); err != nil {
		return err
	}
	if _, ok := params["value"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "put requires 'value' parameter")
	}
	return nil
}

func (a *putAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	key, _ := input.Params["key"].(string)
	value, err := json.Marshal(input.Params["value"])
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "put: value is not JSON-encodable: %v", err)
	}
	return &ActionOutput{
		Data: map[string]any{"key": key},
		Effect: func(tx store.Tx) error {
			return tx.Put(key, value)
		},
	}, nil
}
