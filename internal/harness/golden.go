package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir holds the golden traces, relative to the test's package.
const GoldenDir = "testdata/golden"

// RunWithGolden runs scenario and compares its trace with
// testdata/golden/<name>.golden. Regenerate with `go test -update`.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	trace, err := MarshalTrace(scenarioName, result.Trace)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, trace)
	return nil
}
