package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragaeeb/blackiya-sub001/internal/harness"
)

// ReplayOptions holds options for the replay command.
type ReplayOptions struct {
	*RootOptions
	ScenarioPath string
}

// NewReplayCommand creates the replay command. It loads a scripted signal
// scenario, runs it through a deterministically wired engine, and prints
// the resulting decision trace.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a recorded signal scenario through the fusion engine",
		Long:  "Replay loads a scenario file, dispatches its signals through a freshly wired engine with a manual clock, and prints the per-step event and decision trace.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ScenarioPath = args[0]
			return runReplay(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	return cmd
}

func runReplay(cmd *cobra.Command, opts *ReplayOptions) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	if _, err := os.Stat(opts.ScenarioPath); err != nil {
		formatter.Error("scenario_not_found", fmt.Sprintf("scenario file %s not found", opts.ScenarioPath))
		return WrapExitError(ExitCommandError, "scenario not found", err)
	}

	sc, err := harness.LoadScenario(opts.ScenarioPath)
	if err != nil {
		formatter.Error("scenario_invalid", err.Error())
		return WrapExitError(ExitCommandError, "invalid scenario", err)
	}

	result, err := harness.Run(sc)
	if err != nil {
		formatter.Error("replay_failed", err.Error())
		return WrapExitError(ExitFailure, "replay failed", err)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "scenario: %s\n", result.ScenarioName)
	if sc.Description != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n", sc.Description)
	}
	for _, entry := range result.Trace {
		printTraceEntry(cmd, entry, opts.Verbose)
	}
	return nil
}

func printTraceEntry(cmd *cobra.Command, entry map[string]any, verbose bool) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "[%v] %v\n", entry["step"], entry["action"])

	if d, ok := entry["decision"].(map[string]any); ok {
		fmt.Fprintf(out, "  decision: %v", d["outcome"])
		if reason, _ := d["reason"].(string); reason != "" {
			fmt.Fprintf(out, " (%s)", reason)
		}
		fmt.Fprintln(out)
	}

	if !verbose {
		return
	}
	if events, ok := entry["events"].([]map[string]any); ok {
		for _, e := range events {
			line, err := json.Marshal(e)
			if err != nil {
				continue
			}
			fmt.Fprintf(out, "  event: %s\n", line)
		}
	}
}
