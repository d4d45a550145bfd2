// Package harness runs scripted signal scenarios against a fully wired
// engine with deterministic clocks and IDs, capturing a decision trace that
// can be asserted on directly or compared against golden files.
package harness

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ragaeeb/blackiya-sub001/internal/attempt"
	"github.com/ragaeeb/blackiya-sub001/internal/capture"
	"github.com/ragaeeb/blackiya-sub001/internal/decision"
	"github.com/ragaeeb/blackiya-sub001/internal/eventlog"
	"github.com/ragaeeb/blackiya-sub001/internal/fusion"
	"github.com/ragaeeb/blackiya-sub001/internal/testutil"
)

// Scenario is a scripted signal sequence.
type Scenario struct {
	// Name uniquely identifies the scenario; golden files use it.
	Name string `yaml:"name"`

	// Description explains what the scenario exercises.
	Description string `yaml:"description"`

	// Platform tags created attempts.
	Platform string `yaml:"platform,omitempty"`

	// GeneratedIDs feed the fixed ID generator for attempts the engine
	// creates lazily. Scenarios that always name attempts may omit it.
	GeneratedIDs []string `yaml:"generated_ids,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`
}

// Step is one scripted action. Exactly one of the action fields
// (Signal/Sample/Push/Bind/AdvanceMs/Decide) should be set.
type Step struct {
	// Signal dispatches a lifecycle or dispose signal:
	// prompt_sent | streaming | completed_hint | terminated_partial | dispose.
	Signal       string `yaml:"signal,omitempty"`
	Attempt      string `yaml:"attempt,omitempty"`
	Conversation string `yaml:"conversation,omitempty"`
	Reason       string `yaml:"reason,omitempty"`

	// Sample dispatches a captured sample signal.
	Sample *SampleStep `yaml:"sample,omitempty"`

	// Push preloads the canonical source with a fetch result for a later
	// stabilization tick.
	Push *SampleStep `yaml:"push,omitempty"`

	// Bind registers Attempt as canonical for Conversation.
	Bind bool `yaml:"bind,omitempty"`

	// AdvanceMs moves the fake clock, firing due stabilization timers.
	AdvanceMs int64 `yaml:"advance_ms,omitempty"`

	// Decide records the readiness decision for Conversation in the trace.
	Decide bool `yaml:"decide,omitempty"`
}

// SampleStep describes a sample and its scripted verdict.
type SampleStep struct {
	Payload  string `yaml:"payload"`
	Fidelity string `yaml:"fidelity,omitempty"` // canonical (default) | degraded
	Ready    bool   `yaml:"ready"`
	Terminal bool   `yaml:"terminal"`
	Hash     string `yaml:"hash"`
}

// Result is the captured trace of a scenario run.
type Result struct {
	ScenarioName string           `json:"scenario_name"`
	Trace        []map[string]any `json:"trace"`
}

// LoadScenario reads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s: name is required", path)
	}
	return &sc, nil
}

// Run executes the scenario against a fresh engine wired with deterministic
// fakes: a manual clock/timer service, a fixed ID generator, a scripted
// evaluator, and a queue-backed canonical source.
func Run(sc *Scenario) (*Result, error) {
	ctx := context.Background()

	sched := testutil.NewFakeScheduler(1_700_000_000_000)
	sink := eventlog.NewMemorySink()
	source := testutil.NewQueueSource()
	eval := &testutil.ScriptedEvaluator{Verdicts: make(map[string]capture.Verdict)}
	for _, step := range sc.Steps {
		for _, ss := range []*SampleStep{step.Sample, step.Push} {
			if ss != nil {
				eval.Verdicts[ss.Payload] = capture.Verdict{
					Ready:       ss.Ready,
					Terminal:    ss.Terminal,
					ContentHash: ss.Hash,
				}
			}
		}
	}

	opts := []fusion.Option{}
	if len(sc.GeneratedIDs) > 0 {
		opts = append(opts, fusion.WithIDGenerator(attempt.NewFixedGenerator(sc.GeneratedIDs...)))
	}
	engine := fusion.New(eval, source, sink, sched, sched, opts...)
	resolver := decision.NewResolver(engine, sink, nil)

	result := &Result{ScenarioName: sc.Name}
	seen := 0

	for i, step := range sc.Steps {
		entry := map[string]any{"step": i}

		switch {
		case step.Signal != "":
			kind, err := parseKind(step.Signal)
			if err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			entry["action"] = step.Signal
			sig := fusion.Signal{
				Kind:           kind,
				AttemptID:      step.Attempt,
				ConversationID: step.Conversation,
				Platform:       sc.Platform,
				Reason:         step.Reason,
			}
			if err := engine.Dispatch(ctx, sig); err != nil {
				return nil, fmt.Errorf("step %d (%s): %w", i, step.Signal, err)
			}

		case step.Sample != nil:
			entry["action"] = "sample"
			sig := fusion.Signal{
				Kind:           fusion.KindSample,
				AttemptID:      step.Attempt,
				ConversationID: step.Conversation,
				Platform:       sc.Platform,
				Sample:         buildSample(step.Sample, step.Conversation, sc.Platform),
			}
			if err := engine.Dispatch(ctx, sig); err != nil {
				return nil, fmt.Errorf("step %d (sample): %w", i, err)
			}

		case step.Push != nil:
			entry["action"] = "push"
			source.Push(buildSample(step.Push, step.Conversation, sc.Platform))

		case step.Bind:
			entry["action"] = "bind"
			engine.Bind(step.Conversation, step.Attempt)

		case step.AdvanceMs > 0:
			entry["action"] = fmt.Sprintf("advance %dms", step.AdvanceMs)
			sched.Advance(time.Duration(step.AdvanceMs) * time.Millisecond)

		case step.Decide:
			entry["action"] = "decide"

		default:
			return nil, fmt.Errorf("step %d: no action set", i)
		}

		engine.Drain(ctx)

		if step.Decide {
			d := resolver.DecideByConversation(step.Conversation)
			entry["decision"] = map[string]any{
				"outcome": string(d.Outcome),
				"reason":  d.Reason,
				"attempt": d.AttemptID,
			}
		}

		events := sink.Events()
		entry["events"] = flattenEvents(events[seen:])
		seen = len(events)

		result.Trace = append(result.Trace, entry)
	}

	return result, nil
}

func parseKind(name string) (fusion.Kind, error) {
	switch name {
	case "prompt_sent":
		return fusion.KindPromptSent, nil
	case "streaming":
		return fusion.KindStreaming, nil
	case "completed_hint":
		return fusion.KindCompletedHint, nil
	case "terminated_partial":
		return fusion.KindTerminatedPartial, nil
	case "dispose":
		return fusion.KindDispose, nil
	default:
		return 0, fmt.Errorf("unknown signal %q", name)
	}
}

func buildSample(ss *SampleStep, conversationID, platform string) *capture.Sample {
	fid := capture.FidelityCanonical
	if ss.Fidelity == "degraded" {
		fid = capture.FidelityDegraded
	}
	return &capture.Sample{
		ConversationID: conversationID,
		Platform:       platform,
		Fidelity:       fid,
		Payload:        []byte(ss.Payload),
	}
}

func flattenEvents(events []eventlog.Event) []map[string]any {
	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		m := map[string]any{
			"attempt": e.AttemptID,
			"level":   e.Level.String(),
			"event":   e.Event,
		}
		if len(e.Payload) > 0 {
			m["payload"] = e.Payload
		}
		out = append(out, m)
	}
	return out
}
