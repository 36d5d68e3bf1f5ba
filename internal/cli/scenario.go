package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/edgesync/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Filter   string // scenario name glob
	TraceDir string // write <name>.trace files here
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name" yaml:"name"`
	File   string   `json:"file" yaml:"file"`
	Pass   bool     `json:"pass" yaml:"pass"`
	Errors []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// ScenarioReport holds the overall scenario run result.
type ScenarioReport struct {
	Scenarios []ScenarioResult `json:"scenarios" yaml:"scenarios"`
	Passed    int              `json:"passed" yaml:"passed"`
	Failed    int              `json:"failed" yaml:"failed"`
	Total     int              `json:"total" yaml:"total"`
}

// WriteText prints one line per scenario and a summary.
func (r ScenarioReport) WriteText(w io.Writer) {
	for _, s := range r.Scenarios {
		if s.Pass {
			fmt.Fprintf(w, "✓ %s\n", s.Name)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", s.Name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total\n", r.Passed, r.Failed, r.Total)
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>...",
		Short: "Run deterministic sync scenarios",
		Long: `Run scenario files against an in-memory engine and remote, checking
step expectations and final assertions.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  edgesync scenario ./scenarios
  edgesync scenario ./scenarios --filter "conflict_*"
  edgesync scenario ./scenarios/offline_first.yaml --trace-dir ./traces`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only scenarios whose file name matches this glob")
	cmd.Flags().StringVar(&opts.TraceDir, "trace-dir", "", "write each trace to <dir>/<name>.trace")

	return cmd
}

func runScenarios(cmd *cobra.Command, opts *ScenarioOptions, paths []string) error {
	f := opts.formatter(cmd)

	files, err := harness.Discover(paths...)
	if err != nil {
		return fail(f, ExitCommandError, "failed to find scenarios", err)
	}
	files, err = filterScenarios(files, opts.Filter)
	if err != nil {
		return fail(f, ExitCommandError, "invalid --filter", err)
	}
	if opts.TraceDir != "" {
		if err := os.MkdirAll(opts.TraceDir, 0o755); err != nil {
			return fail(f, ExitCommandError, "failed to create trace dir", err)
		}
	}

	var runOpts []harness.RunOption
	if opts.Verbose {
		logger, err := zap.NewDevelopment()
		if err == nil {
			defer logger.Sync()
			runOpts = append(runOpts, harness.WithLogger(logger))
		}
	}

	report := ScenarioReport{Scenarios: make([]ScenarioResult, 0, len(files))}
	for _, file := range files {
		res := runScenarioFile(cmd, opts, file, runOpts)
		report.Scenarios = append(report.Scenarios, res)
		if res.Pass {
			report.Passed++
		} else {
			report.Failed++
		}
	}
	report.Total = len(report.Scenarios)

	if err := f.Success(report); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", report.Failed, report.Total))
	}
	return nil
}

func runScenarioFile(cmd *cobra.Command, opts *ScenarioOptions, file string, runOpts []harness.RunOption) ScenarioResult {
	res := ScenarioResult{Name: filepath.Base(file), File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return res
	}
	res.Name = scenario.Name

	out, err := harness.Run(commandContext(cmd.Context()), scenario, runOpts...)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return res
	}
	res.Pass = out.Pass
	res.Errors = out.Errors

	if opts.TraceDir != "" {
		if err := writeTrace(opts.TraceDir, scenario.Name, out); err != nil {
			res.Pass = false
			res.Errors = append(res.Errors, err.Error())
		}
	}
	return res
}

func writeTrace(dir, name string, out *harness.Result) error {
	data, err := harness.MarshalTrace(name, out.Trace)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}
	path := filepath.Join(dir, name+".trace")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write trace: %w", err)
	}
	return nil
}

// filterScenarios keeps files whose base name, without extension,
// matches pattern.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var kept []string
	for _, file := range files {
		base := filepath.Base(file)
		matched, err := filepath.Match(pattern, strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			return nil, err
		}
		if matched {
			kept = append(kept, file)
		}
	}
	return kept, nil
}
