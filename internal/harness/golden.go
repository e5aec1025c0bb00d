package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario and compares its deterministic
// trace against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, s *Scenario) *Result {
	t.Helper()

	result, err := Run(s)
	if err != nil {
		t.Fatalf("scenario %s failed: %v", s.Name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, s.Name, result.Snapshot())
	return result
}
