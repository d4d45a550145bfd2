package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragaeeb/blackiya-sub001/internal/profile"
)

// ValidateOptions holds options for the validate command.
type ValidateOptions struct {
	*RootOptions
	ProfilePaths []string
}

// NewValidateCommand creates the validate command, which checks platform
// capture profiles against the profile schema.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <profile.yaml>...",
		Short: "Validate platform capture profiles",
		Long:  "Validate parses each profile file and checks it against the profile schema, reporting the first violation per file.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ProfilePaths = args
			return runValidate(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	return cmd
}

type validationResult struct {
	Path     string `json:"path"`
	Platform string `json:"platform,omitempty"`
	Valid    bool   `json:"valid"`
	Error    string `json:"error,omitempty"`
}

func runValidate(cmd *cobra.Command, opts *ValidateOptions) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	results := make([]validationResult, 0, len(opts.ProfilePaths))
	failed := 0

	for _, path := range opts.ProfilePaths {
		res := validationResult{Path: path}
		if _, err := os.Stat(path); err != nil {
			formatter.Error("profile_not_found", fmt.Sprintf("profile file %s not found", path))
			return WrapExitError(ExitCommandError, "profile not found", err)
		}
		p, err := profile.LoadFile(path)
		if err != nil {
			res.Valid = false
			res.Error = err.Error()
			failed++
		} else {
			res.Valid = true
			res.Platform = p.Platform
		}
		results = append(results, res)
	}

	if opts.Format == "json" {
		if err := formatter.Success(results); err != nil {
			return err
		}
	} else {
		for _, res := range results {
			if res.Valid {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (platform %s)\n", res.Path, res.Platform)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: invalid\n  %s\n", res.Path, res.Error)
			}
		}
	}

	if failed > 0 {
		return WrapExitError(ExitFailure, fmt.Sprintf("%d profile(s) failed validation", failed), nil)
	}
	return nil
}
