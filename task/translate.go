package task

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flashpoint493/NodeToCode-sub001/protocol"
	"github.com/flashpoint493/NodeToCode-sub001/tools"
)

const (
	// ToolTranslateBlueprint is the long-running translation tool name.
	ToolTranslateBlueprint = "translate-focused-blueprint"

	defaultPollInterval = 200 * time.Millisecond
	defaultTaskTimeout  = time.Hour

	// Polling creeps the reported progress toward this cap while the LLM
	// call is in flight; the jump to 1.0 is reserved for the real result.
	progressCap = 0.95
)

// TranslateRequest carries the collected Blueprint graph and translation
// settings to the LLM backend.
type TranslateRequest struct {
	TargetLanguage string          `json:"target_language"`
	Blueprint      json.RawMessage `json:"blueprint"`
}

// Translator submits a translation request and blocks until the backend
// answers or ctx is cancelled. Implemented by llm.Client.
type Translator interface {
	TranslateBlueprint(ctx context.Context, req TranslateRequest) (string, error)
}

// BlueprintSource serializes the currently focused Blueprint graph.
// Implemented by the editor bridge.
type BlueprintSource interface {
	FocusedBlueprintJSON() (json.RawMessage, error)
}

type translateArgs struct {
	TargetLanguage string `json:"target_language"`
}

// TranslateTask runs one Blueprint-to-code translation against the LLM
// backend while reporting progress and honoring cooperative cancellation.
type TranslateTask struct {
	Base

	source     BlueprintSource
	translator Translator

	pollInterval time.Duration
	timeout      time.Duration
}

// NewTranslateFactory returns the Factory the manager uses to instantiate
// translation tasks. Poll interval and timeout fall back to defaults when
// non-positive.
func NewTranslateFactory(source BlueprintSource, translator Translator,
	pollInterval, timeout time.Duration) Factory {

	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	return func(taskID uuid.UUID, progressToken string, args json.RawMessage, logger *slog.Logger) AsyncTask {
		return &TranslateTask{
			Base:         NewBase(taskID, progressToken, ToolTranslateBlueprint, args, logger),
			source:       source,
			translator:   translator,
			pollInterval: pollInterval,
			timeout:      timeout,
		}
	}
}

type translateOutcome struct {
	code string
	err  error
}

// Execute runs on a manager worker goroutine.
func (t *TranslateTask) Execute() {
	if t.CheckCancellationAndReport() {
		return
	}

	t.ReportProgress(0.05, "Preparing Blueprint data...")

	var args translateArgs
	if raw := t.Arguments(); len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			t.failf("invalid arguments: %v", err)
			return
		}
	}
	args.TargetLanguage = strings.ToLower(args.TargetLanguage)
	if args.TargetLanguage == "" {
		args.TargetLanguage = tools.DefaultTargetLanguage
	}
	if !tools.IsKnownTargetLanguage(args.TargetLanguage) {
		t.failf("unknown target language: %s", args.TargetLanguage)
		return
	}

	blueprint, err := t.source.FocusedBlueprintJSON()
	if err != nil {
		t.failf("failed to collect Blueprint data: %v", err)
		return
	}

	if t.CheckCancellationAndReport() {
		return
	}

	t.ReportProgress(0.1, "Sending translation request to LLM...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outcome := make(chan translateOutcome, 1)
	go func() {
		code, err := t.translator.TranslateBlueprint(ctx, TranslateRequest{
			TargetLanguage: args.TargetLanguage,
			Blueprint:      blueprint,
		})
		outcome <- translateOutcome{code: code, err: err}
	}()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(t.timeout)
	defer deadline.Stop()

	progress := 0.1
	for {
		select {
		case out := <-outcome:
			if t.CheckCancellationAndReport() {
				return
			}
			if out.err != nil {
				t.failf("translation failed: %v", out.err)
				return
			}
			t.ReportProgress(1.0, "Translation received.")
			t.ReportComplete(protocol.NewToolResultText(out.code))
			return

		case <-deadline.C:
			cancel()
			t.ReportComplete(protocol.NewToolResultError("LLM request timed out."))
			return

		case <-ticker.C:
			if t.IsCancellationRequested() {
				cancel()
				t.CheckCancellationAndReport()
				return
			}
			if progress < progressCap {
				progress += 0.001
				if progress > progressCap {
					progress = progressCap
				}
				t.ReportProgress(progress, "Waiting for LLM response...")
			}
		}
	}
}
