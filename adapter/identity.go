package adapter

import (
	"fmt"

	"github.com/ethereum-optimism/infra/op-teamcity/types"
)

// Identity returns the string correlating all events of one test. It depends
// only on the handle, so start and finish callbacks compute the same value.
func Identity(h types.Handle) string {
	if h.Kind == types.KindDocumentationTest {
		return h.ID
	}
	if desc, ok := h.ShortDescription(); ok && desc != h.ID {
		return fmt.Sprintf("%s (%s)", h.ID, desc)
	}
	return h.ID
}
