package types

import (
	"strings"
	"time"
)

// TestStatus represents the reported outcome of a single test
type TestStatus string

const (
	TestStatusPass  TestStatus = "pass"
	TestStatusFail  TestStatus = "fail"
	TestStatusSkip  TestStatus = "skip"
	TestStatusError TestStatus = "error"
	TestStatusXFail TestStatus = "xfail" // expected failure
)

// TestResult captures what was reported for one test identity
type TestResult struct {
	ID       string
	Package  string
	Status   TestStatus
	Message  string        // Outcome message, e.g. "Failure" or "Skipped: flaky"
	Details  string        // Formatted error details for failures
	Duration time.Duration // Time between testStarted and testFinished
	Finished bool          // Whether testFinished was seen

	// Hierarchy tracking
	Depth         int      // Nesting depth (0=top-level, 1=first subtest, etc.)
	HierarchyPath []string // Full path from root to this test (e.g., ["TestParent", "SubTest1"])
}

// NewTestResult creates a passing result for the given identity, with hierarchy
// information derived from the test name following the package prefix.
func NewTestResult(pkg, id string) *TestResult {
	tr := &TestResult{ID: id, Package: pkg, Status: TestStatusPass}
	name := id
	if pkg != "" {
		name = strings.TrimPrefix(id, pkg+".")
	}
	tr.Depth, tr.HierarchyPath = ParseTestNameHierarchy(name)
	return tr
}

// IsSubTest reports whether the result belongs to a subtest
func (tr *TestResult) IsSubTest() bool {
	return tr.Depth > 0
}

// GetParentName returns the name of the immediate parent test
func (tr *TestResult) GetParentName() string {
	if len(tr.HierarchyPath) <= 1 {
		return ""
	}
	return tr.HierarchyPath[len(tr.HierarchyPath)-2]
}

// GetFullTestPath returns the full hierarchical path as a string
func (tr *TestResult) GetFullTestPath() string {
	return strings.Join(tr.HierarchyPath, "/")
}

// ParseTestNameHierarchy parses a Go test name and extracts hierarchy information
// Handles names like "TestParent/SubTest1/SubSubTest2"
// Returns depth (0=top-level, 1=first subtest, etc.) and the full hierarchy path
func ParseTestNameHierarchy(testName string) (depth int, path []string) {
	if testName == "" {
		return 0, []string{}
	}

	path = strings.Split(testName, "/")
	cleanPath := make([]string, 0, len(path))
	for _, element := range path {
		if element != "" {
			cleanPath = append(cleanPath, element)
		}
	}

	if len(cleanPath) == 0 {
		return 0, []string{}
	}

	depth = len(cleanPath) - 1
	return depth, cleanPath
}
