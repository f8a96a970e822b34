// Package harness provides fixture-driven tests for the rpcoracle analyzer.
//
// Each test case is a directory under testdata holding an expected.yaml and
// either a model.yaml type model or Go sources marked with rpc directives.
package harness

import (
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/rpcoracle/pkg/modelfile"
	"github.com/715d/rpcoracle/pkg/rpcoracle"
	"github.com/715d/rpcoracle/pkg/typemodel"
)

// TestCase represents a single test scenario.
type TestCase struct {
	// Dir is the directory containing the test sources.
	Dir string `yaml:"-"`

	// Config holds the analysis settings for the case.
	Config rpcoracle.Config `yaml:"config"`

	// Services are the expected per-service results. Services of the
	// universe that are not listed are still analyzed.
	Services []ExpectedService `yaml:"services"`

	// ExpectedErrors lists error messages that the analysis may fail with.
	ExpectedErrors []string `yaml:"expected_errors"`
}

// ExpectedService is the expected analysis of one service.
type ExpectedService struct {
	Name       string            `yaml:"name"`
	Fatal      bool              `yaml:"fatal"`
	FromClient ExpectedDirection `yaml:"from_client"`
	ToClient   ExpectedDirection `yaml:"to_client"`
}

// ExpectedDirection lists type expressions that must, or must not, be
// serializable and instantiable. Types not mentioned are not checked.
type ExpectedDirection struct {
	Fatal           bool     `yaml:"fatal"`
	Serializable    []string `yaml:"serializable"`
	Instantiable    []string `yaml:"instantiable"`
	NotSerializable []string `yaml:"not_serializable"`
	NotInstantiable []string `yaml:"not_instantiable"`
}

// TestHarness manages test execution.
type TestHarness struct {
	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root}
}

// TestResult represents the result of running a test case.
type TestResult struct {
	TestCase *TestCase

	// Results is the raw analyzer output.
	Results []*rpcoracle.ServiceResult

	// Success indicates if the test passed.
	Success bool

	// Message provides a summary of the result.
	Message string

	// Details lists every mismatch.
	Details []string
}

// Run analyzes every service of the case and compares the results with
// the expectations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Services, "test case has no expected services")

	cfg := tc.Config
	u, services := LoadUniverse(t, h.root, tc, &cfg)

	analyzer, err := rpcoracle.NewAnalyzer(u, rpcoracle.AnalyzerOptions{Config: cfg})
	require.NoError(t, err)

	results, err := analyzer.Analyze(t.Context(), services)
	if err != nil {
		for _, expectedErr := range tc.ExpectedErrors {
			if strings.Contains(err.Error(), expectedErr) {
				return &TestResult{
					TestCase: tc,
					Success:  true,
					Message:  fmt.Sprintf("Got expected error: %v", err),
				}
			}
		}
		require.NoError(t, err)
	}
	return validateResults(t, u, tc, results)
}

func validateResults(t *testing.T, u *typemodel.Universe, tc *TestCase, results []*rpcoracle.ServiceResult) *TestResult {
	t.Helper()
	byName := make(map[string]*rpcoracle.ServiceResult, len(results))
	for _, r := range results {
		byName[r.Service.Name()] = r
	}

	var details []string
	for _, exp := range tc.Services {
		r, ok := byName[exp.Name]
		if !ok {
			details = append(details, "Service not analyzed: "+exp.Name)
			continue
		}
		if r.Fatal() != exp.Fatal {
			details = append(details, fmt.Sprintf("%s: fatal is %t, expected %t", exp.Name, r.Fatal(), exp.Fatal))
		}
		details = append(details, compareDirection(t, u, exp.Name+" from client", exp.FromClient, r.FromClient)...)
		details = append(details, compareDirection(t, u, exp.Name+" to client", exp.ToClient, r.ToClient)...)
	}

	result := &TestResult{TestCase: tc, Results: results, Success: len(details) == 0, Details: details}
	if result.Success {
		result.Message = fmt.Sprintf("All %d expected services matched", len(tc.Services))
	} else {
		result.Message = fmt.Sprintf("Test failed with %d mismatches:\n  %s", len(details), strings.Join(details, "\n  "))
	}
	return result
}

func compareDirection(t *testing.T, u *typemodel.Universe, label string, exp ExpectedDirection, d *rpcoracle.Direction) []string {
	t.Helper()
	var details []string
	if d.Fatal() != exp.Fatal {
		details = append(details, fmt.Sprintf("%s: fatal is %t, expected %t (%v)", label, d.Fatal(), exp.Fatal, d.Err))
	}
	if d.Oracle == nil {
		if len(exp.Serializable)+len(exp.Instantiable) > 0 {
			details = append(details, label+": no oracle was built")
		}
		return details
	}

	check := func(names []string, want bool, what string, pred func(typemodel.Type) bool) {
		for _, name := range names {
			typ, err := modelfile.ParseType(u, name)
			require.NoError(t, err, "%s: type %s", label, name)
			if pred(typ) != want {
				details = append(details, fmt.Sprintf("%s: %s should be %s", label, name, negate(what, want)))
			}
		}
	}
	check(exp.Serializable, true, "serializable", d.Oracle.IsSerializable)
	check(exp.NotSerializable, false, "serializable", d.Oracle.IsSerializable)
	check(exp.Instantiable, true, "instantiable", d.Oracle.MaybeInstantiated)
	check(exp.NotInstantiable, false, "instantiable", d.Oracle.MaybeInstantiated)

	slices.Sort(details)
	return details
}

func negate(what string, want bool) string {
	if want {
		return what
	}
	return "not " + what
}
