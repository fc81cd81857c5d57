// Package types contains shared types used across the op-teamcity reporter
package types

// Kind tags a Handle with the category of test it refers to.
type Kind int

const (
	// KindRegular is an ordinary test function.
	KindRegular Kind = iota
	// KindDocumentationTest is a documentation test (a Go Example function).
	// Its identity never includes a description.
	KindDocumentationTest
	// KindCollectionError is a synthetic placeholder for a failure that happened
	// outside any test body, such as a build failure or a failing TestMain.
	KindCollectionError
)

// String implements the Stringer interface for Kind
func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindDocumentationTest:
		return "doctest"
	case KindCollectionError:
		return "collection-error"
	default:
		return "unknown"
	}
}

// Handle is a read-only reference to a single test, as supplied by the host
// test framework.
type Handle struct {
	ID          string // Stable identifier, e.g. "github.com/org/pkg.TestFoo/sub"
	Description string // Optional human-readable description, empty when absent
	Kind        Kind
}

// NewHandle creates a regular test handle
func NewHandle(id string) Handle {
	return Handle{ID: id, Kind: KindRegular}
}

// WithDescription returns a copy of the handle carrying the given description
func (h Handle) WithDescription(desc string) Handle {
	h.Description = desc
	return h
}

// ShortDescription returns the description and whether one is present
func (h Handle) ShortDescription() (string, bool) {
	return h.Description, h.Description != ""
}
